package pipeline

import (
	"context"
	"encoding/json"

	"github.com/hongjun500/im-go/internal/broker"
	"github.com/hongjun500/im-go/internal/model"
	"github.com/hongjun500/im-go/internal/protocol"
	"github.com/hongjun500/im-go/internal/registry"
	"github.com/hongjun500/im-go/internal/session"
	"github.com/hongjun500/im-go/pkg/logger"
)

// nodeDeliveryPack 节点下行队列里的投递指令。
// DeviceClass 为 0 表示投递给该用户的全部设备；Except* 指定要跳过的设备。
type nodeDeliveryPack struct {
	TenantID    int32           `json:"tenantId"`
	UserID      string          `json:"userId"`
	DeviceClass int32           `json:"deviceClass,omitempty"`
	DeviceID    string          `json:"deviceId,omitempty"`
	ExceptClass int32           `json:"exceptClass,omitempty"`
	ExceptID    string          `json:"exceptId,omitempty"`
	Command     int32           `json:"command"`
	Data        json.RawMessage `json:"data"`
}

// Deliverer 下行投递器：本节点连接直写，其他节点经各自的下行队列转投。
// 投递是否算数以共享会话记录的在线状态为准——跨节点写失败由对端节点
// 自行记日志，发送侧不回滚。
type Deliverer struct {
	nodeID   string
	reg      *registry.Registry
	sessions session.Store
	broker   broker.Broker
}

func NewDeliverer(nodeID string, reg *registry.Registry, sessions session.Store, b broker.Broker) *Deliverer {
	return &Deliverer{nodeID: nodeID, reg: reg, sessions: sessions, broker: b}
}

// SendToUser 投递给用户的全部在线设备，返回投递到的设备数
func (d *Deliverer) SendToUser(ctx context.Context, tenantID int32, userID string, command int32, data any) int {
	return d.fanOut(ctx, tenantID, userID, command, data, 0, "")
}

// SendToUserExcept 同 SendToUser，但跳过指定设备（同步给发送方其他端时排除来源端）
func (d *Deliverer) SendToUserExcept(ctx context.Context, tenantID int32, userID string, command int32, data any, exceptClass int32, exceptID string) int {
	return d.fanOut(ctx, tenantID, userID, command, data, exceptClass, exceptID)
}

// SendToDevice 投递给指定设备，设备在线且投出去返回 true
func (d *Deliverer) SendToDevice(ctx context.Context, tenantID int32, userID string, deviceClass int32, deviceID string, command int32, data any) bool {
	if c, ok := d.reg.Get(registry.ClientKey{TenantID: tenantID, UserID: userID, DeviceClass: deviceClass, DeviceID: deviceID}); ok {
		if err := c.SendPack(command, data); err != nil {
			logger.L().Sugar().Warnw("deliver_write_failed",
				"user", userID, "deviceClass", deviceClass, "err", err)
			return false
		}
		return true
	}
	recs, err := d.sessions.List(ctx, tenantID, userID)
	if err != nil {
		logger.L().Sugar().Warnw("deliver_session_list_failed", "user", userID, "err", err)
		return false
	}
	for _, rec := range recs {
		if rec.DeviceClass != deviceClass || rec.DeviceID != deviceID {
			continue
		}
		if rec.ConnectState != model.StateOnline || rec.NodeID == d.nodeID {
			return false
		}
		return d.forward(ctx, rec.NodeID, &nodeDeliveryPack{
			TenantID:    tenantID,
			UserID:      userID,
			DeviceClass: deviceClass,
			DeviceID:    deviceID,
			Command:     command,
			Data:        marshalData(data),
		})
	}
	return false
}

func (d *Deliverer) fanOut(ctx context.Context, tenantID int32, userID string, command int32, data any, exceptClass int32, exceptID string) int {
	recs, err := d.sessions.List(ctx, tenantID, userID)
	if err != nil {
		// 共享存储不可达时退化为本节点直投
		logger.L().Sugar().Warnw("deliver_session_list_failed", "user", userID, "err", err)
		return d.fanOutLocal(tenantID, userID, command, data, exceptClass, exceptID)
	}
	delivered := 0
	remoteNodes := make(map[string]bool)
	for _, rec := range recs {
		if rec.ConnectState != model.StateOnline {
			continue
		}
		if rec.DeviceClass == exceptClass && rec.DeviceID == exceptID {
			continue
		}
		if rec.NodeID == d.nodeID {
			key := registry.ClientKey{TenantID: tenantID, UserID: userID, DeviceClass: rec.DeviceClass, DeviceID: rec.DeviceID}
			c, ok := d.reg.Get(key)
			if !ok {
				continue
			}
			if err := c.SendPack(command, data); err != nil {
				logger.L().Sugar().Warnw("deliver_write_failed",
					"user", userID, "deviceClass", rec.DeviceClass, "err", err)
				continue
			}
			delivered++
			continue
		}
		// 同一远端节点只转投一次，由对端按会话记录再扇出
		if remoteNodes[rec.NodeID] {
			delivered++
			continue
		}
		remoteNodes[rec.NodeID] = true
		if d.forward(ctx, rec.NodeID, &nodeDeliveryPack{
			TenantID:    tenantID,
			UserID:      userID,
			ExceptClass: exceptClass,
			ExceptID:    exceptID,
			Command:     command,
			Data:        marshalData(data),
		}) {
			delivered++
		}
	}
	return delivered
}

func (d *Deliverer) fanOutLocal(tenantID int32, userID string, command int32, data any, exceptClass int32, exceptID string) int {
	delivered := 0
	for _, c := range d.reg.GetAll(tenantID, userID) {
		if c.DeviceClass == exceptClass && c.DeviceID == exceptID {
			continue
		}
		if err := c.SendPack(command, data); err != nil {
			continue
		}
		delivered++
	}
	return delivered
}

func (d *Deliverer) forward(ctx context.Context, nodeID string, pack *nodeDeliveryPack) bool {
	body, err := json.Marshal(pack)
	if err != nil {
		return false
	}
	env := &protocol.CommandEnvelope{
		Command:  pack.Command,
		Version:  1,
		TenantID: pack.TenantID,
		Body:     body,
	}
	if err := d.broker.Publish(ctx, broker.NodeQueue(nodeID), env); err != nil {
		logger.L().Sugar().Warnw("deliver_forward_failed", "node", nodeID, "err", err)
		return false
	}
	return true
}

// HandleNodeEnvelope 消费本节点下行队列，把别的节点转投来的包写给本地连接
func (d *Deliverer) HandleNodeEnvelope(_ context.Context, env *protocol.CommandEnvelope) error {
	var pack nodeDeliveryPack
	if err := json.Unmarshal(env.Body, &pack); err != nil {
		return err
	}
	data := json.RawMessage(pack.Data)
	if pack.DeviceClass != 0 {
		key := registry.ClientKey{TenantID: pack.TenantID, UserID: pack.UserID, DeviceClass: pack.DeviceClass, DeviceID: pack.DeviceID}
		if c, ok := d.reg.Get(key); ok {
			if err := c.SendPack(pack.Command, data); err != nil {
				logger.L().Sugar().Warnw("deliver_write_failed",
					"user", pack.UserID, "deviceClass", pack.DeviceClass, "err", err)
			}
		}
		return nil
	}
	for _, c := range d.reg.GetAll(pack.TenantID, pack.UserID) {
		if c.DeviceClass == pack.ExceptClass && c.DeviceID == pack.ExceptID {
			continue
		}
		if err := c.SendPack(pack.Command, data); err != nil {
			logger.L().Sugar().Warnw("deliver_write_failed",
				"user", pack.UserID, "deviceClass", c.DeviceClass, "err", err)
		}
	}
	return nil
}

func marshalData(data any) json.RawMessage {
	raw, err := json.Marshal(data)
	if err != nil {
		return json.RawMessage("null")
	}
	return raw
}
