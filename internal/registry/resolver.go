package registry

import (
	"context"

	"github.com/hongjun500/im-go/internal/broker"
	"github.com/hongjun500/im-go/internal/observe"
	"github.com/hongjun500/im-go/internal/protocol"
	"github.com/hongjun500/im-go/pkg/logger"
)

// 多端登录策略
const (
	ModeSingle       = 1 // 单端：只留最新登录的设备
	ModeDual         = 2 // 双端：web 之外只留一端，web 双向豁免
	ModeTriple       = 3 // 三端：移动端/桌面端各留一端，web 豁免
	ModeUnrestricted = 4 // 不限制
)

// Resolver 消费登录广播，按策略把本节点上被顶掉的连接踢下线。
// 每个节点只处理自己持有的连接，靠所有节点都收到同一条广播兜底；
// 对重复广播天然幂等：第一次处理后连接已不在注册表里。
type Resolver struct {
	mode int
	reg  *Registry

	// kick 先推互踢指令再走注册表的正常关闭路径，由装配方注入
	kick func(c *Conn)
}

func NewResolver(mode int, reg *Registry, kick func(c *Conn)) *Resolver {
	if kick == nil {
		kick = func(c *Conn) {
			_ = c.SendPack(protocol.CmdForcedOffline, nil)
			_ = c.Close()
		}
	}
	return &Resolver{mode: mode, reg: reg, kick: kick}
}

// HandleLogin 处理一条登录广播
func (r *Resolver) HandleLogin(_ context.Context, evt *broker.LoginEvent) {
	if r.mode == ModeUnrestricted {
		return
	}
	for _, c := range r.reg.GetAll(evt.TenantID, evt.UserID) {
		if !r.shouldKick(c, evt) {
			continue
		}
		logger.L().Sugar().Infow("forced_logout",
			"tenant", evt.TenantID, "user", evt.UserID,
			"kicked_device", c.DeviceID, "new_device", evt.DeviceID)
		observe.IncForcedLogout()
		r.kick(c)
	}
}

func (r *Resolver) shouldKick(c *Conn, evt *broker.LoginEvent) bool {
	// 新登录设备自己不踢
	if c.DeviceClass == evt.DeviceClass && c.DeviceID == evt.DeviceID {
		return false
	}
	switch r.mode {
	case ModeSingle:
		return true
	case ModeDual:
		// web 登录不触发互踢，web 连接也不被踢
		if protocol.IsWebDevice(evt.DeviceClass) || protocol.IsWebDevice(c.DeviceClass) {
			return false
		}
		return true
	case ModeTriple:
		if protocol.IsWebDevice(evt.DeviceClass) || protocol.IsWebDevice(c.DeviceClass) {
			return false
		}
		// 仅同设备组互斥
		if protocol.IsMobileDevice(c.DeviceClass) && protocol.IsMobileDevice(evt.DeviceClass) {
			return true
		}
		if protocol.IsDesktopDevice(c.DeviceClass) && protocol.IsDesktopDevice(evt.DeviceClass) {
			return true
		}
		return false
	default:
		return false
	}
}
