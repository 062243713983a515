// Package server 提供 TCP 与 websocket 两个接入面，
// 共享同一套帧协议和连接生命周期：登录、登出、心跳在这里就地处理，
// 聊天类指令过权限校验后进路由。
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hongjun500/im-go/internal/broker"
	"github.com/hongjun500/im-go/internal/config"
	"github.com/hongjun500/im-go/internal/hooks"
	"github.com/hongjun500/im-go/internal/model"
	"github.com/hongjun500/im-go/internal/observe"
	"github.com/hongjun500/im-go/internal/protocol"
	"github.com/hongjun500/im-go/internal/registry"
	"github.com/hongjun500/im-go/internal/router"
	"github.com/hongjun500/im-go/internal/session"
	"github.com/hongjun500/im-go/pkg/logger"
)

// Server IM 接入节点
type Server struct {
	cfg      *config.Config
	reg      *registry.Registry
	sessions session.Store
	broker   broker.Broker
	router   *router.Router
	auth     hooks.Authorizer

	ln    net.Listener
	wsSrv *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg *config.Config, reg *registry.Registry, sessions session.Store, b broker.Broker, rt *router.Router, auth hooks.Authorizer) *Server {
	if auth == nil {
		auth = hooks.AllowAll{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		reg:      reg,
		sessions: sessions,
		broker:   b,
		router:   rt,
		auth:     auth,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start 同时拉起 TCP 与 websocket 监听，立即返回
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.TCPAddr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.wg.Add(1)
	go s.acceptLoop()

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.L().Sugar().Warnw("ws_upgrade_failed", "remote", r.RemoteAddr, "err", err)
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveWS(ws)
		}()
	})
	s.wsSrv = &http.Server{Addr: s.cfg.WSAddr, Handler: mux}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.wsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L().Sugar().Errorw("ws_listen_failed", "addr", s.cfg.WSAddr, "err", err)
		}
	}()

	logger.L().Sugar().Infow("server_started",
		"node", s.cfg.NodeID, "tcp", s.cfg.TCPAddr, "ws", s.cfg.WSAddr)
	return nil
}

// Shutdown 停止监听并关闭全部在线连接
func (s *Server) Shutdown(ctx context.Context) {
	s.cancel()
	if s.ln != nil {
		_ = s.ln.Close()
	}
	if s.wsSrv != nil {
		_ = s.wsSrv.Shutdown(ctx)
	}
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			logger.L().Sugar().Warnw("accept_failed", "err", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveTCP(conn)
		}()
	}
}

func (s *Server) serveTCP(raw net.Conn) {
	link := newTCPLink(raw, s.cfg.WriteTimeout)
	c := registry.NewConn(uuid.NewString(), link)
	defer s.teardown(c)

	stopBeat := s.watchHeartbeat(c)
	defer stopBeat()

	dec := protocol.NewDecoder(s.cfg.MaxFrameSize)
	buf := make([]byte, 4096)
	for {
		n, err := raw.Read(buf)
		if n > 0 {
			_, _ = dec.Write(buf[:n])
			if !s.drain(c, dec) {
				return
			}
		}
		if err != nil {
			if err != io.EOF && !c.IsClosed() {
				logger.L().Sugar().Debugw("conn_read_failed", "remote", c.RemoteAddr(), "err", err)
			}
			return
		}
	}
}

func (s *Server) serveWS(ws *websocket.Conn) {
	link := newWSLink(ws, s.cfg.WriteTimeout)
	c := registry.NewConn(uuid.NewString(), link)
	defer s.teardown(c)

	stopBeat := s.watchHeartbeat(c)
	defer stopBeat()

	dec := protocol.NewDecoder(s.cfg.MaxFrameSize)
	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		_, _ = dec.Write(data)
		if !s.drain(c, dec) {
			return
		}
	}
}

// drain 消费解码器里已凑齐的帧，协议错误直接断开
func (s *Server) drain(c *registry.Conn, dec *protocol.Decoder) bool {
	for {
		p, err := dec.Next()
		if err != nil {
			logger.L().Sugar().Warnw("frame_decode_failed", "remote", c.RemoteAddr(), "err", err)
			return false
		}
		if p == nil {
			return true
		}
		s.handlePacket(c, p)
	}
}

// teardown 连接退出的统一出口：没走显式登出的连接只把会话翻成离线，
// 记录保留给重连和寻址判断用
func (s *Server) teardown(c *registry.Conn) {
	s.reg.RemoveConn(c)
	_ = c.Close()
	if c.UserID == "" {
		return
	}
	// 同设备已经重连上来时不翻状态，避免把新会话误标离线
	if _, ok := s.reg.Get(c.Key()); ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.sessions.SetState(ctx, c.TenantID, c.UserID, c.DeviceClass, c.DeviceID, model.StateOffline); err != nil && err != session.ErrSessionNotFound {
		logger.L().Sugar().Warnw("session_offline_failed", "user", c.UserID, "err", err)
	}
	s.publishOfflineIfLastDevice(ctx, c.TenantID, c.UserID)
}

// publishOfflineIfLastDevice 用户级离线事件只在最后一个在线设备掉线时发
func (s *Server) publishOfflineIfLastDevice(ctx context.Context, tenantID int32, userID string) {
	online, err := s.sessions.IsOnline(ctx, tenantID, userID)
	if err != nil {
		logger.L().Sugar().Warnw("session_online_check_failed", "user", userID, "err", err)
		return
	}
	if online {
		return
	}
	s.publishUserStatus(ctx, tenantID, userID, model.StateOffline)
}

// watchHeartbeat 心跳超时巡检，超时连接按掉线处理
func (s *Server) watchHeartbeat(c *registry.Conn) func() {
	timeout := s.cfg.HeartbeatTimeout
	if timeout <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(timeout / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				if time.Since(c.LastBeat()) > timeout {
					logger.L().Sugar().Infow("heartbeat_timeout",
						"user", c.UserID, "remote", c.RemoteAddr())
					_ = c.Close()
					return
				}
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

func (s *Server) handlePacket(c *registry.Conn, p *protocol.Packet) {
	c.Touch()
	switch p.Command {
	case protocol.CmdPing:
		observe.IncHeartbeat()
		return
	case protocol.CmdLogin:
		s.handleLogin(c, p)
		return
	case protocol.CmdLogout:
		s.handleLogout(c)
		return
	}
	if protocol.IsSystemCommand(p.Command) {
		logger.L().Sugar().Debugw("system_command_ignored", "command", p.Command)
		return
	}
	// 未登录的连接只能发系统指令
	if c.UserID == "" {
		logger.L().Sugar().Warnw("packet_before_login", "command", p.Command, "remote", c.RemoteAddr())
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, 3*time.Second)
	defer cancel()
	if p.Command == protocol.CmdMsgP2P {
		// 发送校验前移到接入层，拒绝的消息不进队列
		var head struct {
			FromID string `json:"fromId"`
			ToID   string `json:"toId"`
		}
		if err := p.BindJSON(&head); err != nil {
			logger.L().Sugar().Warnw("message_body_malformed", "user", c.UserID, "err", err)
			return
		}
		if err := s.auth.CheckSend(ctx, p.TenantID, head.FromID, head.ToID); err != nil {
			_ = c.SendPack(protocol.CmdMsgAck, protocol.ErrResult(protocol.CodeSendDenied, err.Error()))
			return
		}
	}
	s.router.Dispatch(ctx, p)
}

func (s *Server) handleLogin(c *registry.Conn, p *protocol.Packet) {
	var pack protocol.LoginPack
	if err := p.BindJSON(&pack); err != nil || pack.UserID == "" {
		logger.L().Sugar().Warnw("login_malformed", "remote", c.RemoteAddr(), "err", err)
		_ = c.Close()
		return
	}
	c.Bind(p.TenantID, pack.UserID, p.DeviceClass, p.DeviceID)

	// 同设备重连：旧连接直接关掉，不走互踢
	if old, ok := s.reg.Get(c.Key()); ok && old != c {
		_ = old.Close()
	}
	s.reg.Put(c)

	ctx, cancel := context.WithTimeout(s.ctx, 3*time.Second)
	defer cancel()
	rec := &model.SessionRecord{
		TenantID:     p.TenantID,
		UserID:       pack.UserID,
		DeviceClass:  p.DeviceClass,
		DeviceID:     p.DeviceID,
		NodeID:       s.cfg.NodeID,
		NodeAddr:     s.cfg.TCPAddr,
		ConnectState: model.StateOnline,
	}
	if err := s.sessions.Upsert(ctx, rec); err != nil {
		logger.L().Sugar().Errorw("session_upsert_failed", "user", pack.UserID, "err", err)
	}
	if err := s.broker.PublishLogin(ctx, &broker.LoginEvent{
		TenantID:    p.TenantID,
		UserID:      pack.UserID,
		DeviceClass: p.DeviceClass,
		DeviceID:    p.DeviceID,
		NodeID:      s.cfg.NodeID,
	}); err != nil {
		logger.L().Sugar().Warnw("login_broadcast_failed", "user", pack.UserID, "err", err)
	}
	s.publishUserStatus(ctx, p.TenantID, pack.UserID, model.StateOnline)

	logger.L().Sugar().Infow("user_login",
		"tenant", p.TenantID, "user", pack.UserID,
		"deviceClass", p.DeviceClass, "device", p.DeviceID, "remote", c.RemoteAddr())
	_ = c.SendPack(protocol.CmdLoginAck, protocol.OKResult(protocol.LoginAckPack{UserID: pack.UserID}))
}

func (s *Server) handleLogout(c *registry.Conn) {
	if c.UserID == "" {
		_ = c.Close()
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, 3*time.Second)
	defer cancel()
	s.reg.Remove(c.Key())
	if err := s.sessions.Delete(ctx, c.TenantID, c.UserID, c.DeviceClass, c.DeviceID); err != nil {
		logger.L().Sugar().Warnw("session_delete_failed", "user", c.UserID, "err", err)
	}
	s.publishOfflineIfLastDevice(ctx, c.TenantID, c.UserID)
	logger.L().Sugar().Infow("user_logout", "tenant", c.TenantID, "user", c.UserID, "device", c.DeviceID)
	_ = c.SendPack(protocol.CmdLogoutAck, protocol.OKResult(nil))
	_ = c.Close()
}

// publishUserStatus 把在线状态变更投给用户事件队列，由状态订阅方消费
func (s *Server) publishUserStatus(ctx context.Context, tenantID int32, userID string, state int) {
	body, err := json.Marshal(protocol.UserStatusPack{UserID: userID, Status: state})
	if err != nil {
		return
	}
	env := &protocol.CommandEnvelope{
		Command:  protocol.CmdUserStatusChange,
		Version:  1,
		TenantID: tenantID,
		Body:     body,
	}
	if err := s.broker.Publish(ctx, broker.QueueUser, env); err != nil {
		logger.L().Sugar().Debugw("user_status_publish_failed", "user", userID, "err", err)
	}
}
