// Package registry 维护本节点 (租户,用户,设备) 到在线连接句柄的映射，
// 是唯一允许向连接写数据的组件。
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/hongjun500/im-go/internal/observe"
)

// Registry 本节点连接注册表
type Registry struct {
	conns sync.Map // ClientKey -> *Conn
	count int64
}

func New() *Registry { return &Registry{} }

// Put 写入映射，同 key 的旧连接（如有）被覆盖，由调用方负责关闭
func (r *Registry) Put(c *Conn) {
	if _, loaded := r.conns.Swap(c.Key(), c); !loaded {
		atomic.AddInt64(&r.count, 1)
		observe.AddOnline(1)
	}
}

// Get 精确查找
func (r *Registry) Get(key ClientKey) (*Conn, bool) {
	v, ok := r.conns.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*Conn), true
}

// GetAll 返回该用户在本节点的全部连接快照。
// 快照允许与并发移除竞争，调用方必须容忍对刚关闭的句柄写失败。
func (r *Registry) GetAll(tenantID int32, userID string) []*Conn {
	out := make([]*Conn, 0, 2)
	r.conns.Range(func(k, v any) bool {
		key := k.(ClientKey)
		if key.TenantID == tenantID && key.UserID == userID {
			out = append(out, v.(*Conn))
		}
		return true
	})
	return out
}

// Remove 精确移除，返回被移除的连接
func (r *Registry) Remove(key ClientKey) (*Conn, bool) {
	v, loaded := r.conns.LoadAndDelete(key)
	if !loaded {
		return nil, false
	}
	atomic.AddInt64(&r.count, -1)
	observe.AddOnline(-1)
	return v.(*Conn), true
}

// RemoveConn 按句柄反查移除，传输层断开时使用。
// 只删指向同一句柄的条目，避免误删同 key 的新连接。
func (r *Registry) RemoveConn(c *Conn) bool {
	removed := false
	r.conns.Range(func(k, v any) bool {
		if v.(*Conn) == c {
			if _, loaded := r.conns.LoadAndDelete(k); loaded {
				atomic.AddInt64(&r.count, -1)
				observe.AddOnline(-1)
				removed = true
			}
			return false
		}
		return true
	})
	return removed
}

// Count 当前在线连接数
func (r *Registry) Count() int64 { return atomic.LoadInt64(&r.count) }
