package registry

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hongjun500/im-go/internal/protocol"
)

// Link 底层连接的最小写口，TCP 和 WebSocket 隧道都实现它
type Link interface {
	WritePacket(p *protocol.Packet) error
	Close() error
	RemoteAddr() string
}

// ClientKey 一个客户端连接的唯一标识
type ClientKey struct {
	TenantID    int32
	UserID      string
	DeviceClass int32
	DeviceID    string
}

// Conn 一条已认证连接的句柄。属性在登录时绑定；
// 句柄由持有它的注册表条目独占，关闭恰好一次。
type Conn struct {
	ID   string
	link Link

	TenantID    int32
	UserID      string
	DeviceClass int32
	DeviceID    string

	lastBeat  atomic.Int64 // UnixMilli
	closeOnce sync.Once
	closed    atomic.Bool
}

func NewConn(id string, link Link) *Conn {
	c := &Conn{ID: id, link: link}
	c.Touch()
	return c
}

// Bind 登录成功后绑定身份属性
func (c *Conn) Bind(tenantID int32, userID string, deviceClass int32, deviceID string) {
	c.TenantID = tenantID
	c.UserID = userID
	c.DeviceClass = deviceClass
	c.DeviceID = deviceID
}

func (c *Conn) Key() ClientKey {
	return ClientKey{TenantID: c.TenantID, UserID: c.UserID, DeviceClass: c.DeviceClass, DeviceID: c.DeviceID}
}

// Touch 刷新心跳时间
func (c *Conn) Touch() { c.lastBeat.Store(time.Now().UnixMilli()) }

// LastBeat 最近一次心跳时间
func (c *Conn) LastBeat() time.Time { return time.UnixMilli(c.lastBeat.Load()) }

func (c *Conn) RemoteAddr() string { return c.link.RemoteAddr() }

func (c *Conn) IsClosed() bool { return c.closed.Load() }

// Close 关闭底层连接，幂等
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.link.Close()
	})
	return err
}

// SendPack 把下行数据包编码成帧写给客户端。
// 连接关闭后写失败由调用方容忍（GetAll 的快照允许和并发移除竞争）。
func (c *Conn) SendPack(command int32, data any) error {
	pack := protocol.MessagePack{
		Command:     command,
		UserID:      c.UserID,
		ToID:        c.UserID,
		TenantID:    c.TenantID,
		DeviceClass: c.DeviceClass,
		DeviceID:    c.DeviceID,
		Data:        data,
	}
	body, err := json.Marshal(pack)
	if err != nil {
		return err
	}
	return c.link.WritePacket(&protocol.Packet{
		Command:      command,
		Version:      1,
		DeviceClass:  c.DeviceClass,
		EncodingType: protocol.EncodingJSON,
		TenantID:     c.TenantID,
		DeviceID:     c.DeviceID,
		Body:         body,
	})
}
