package server

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/hongjun500/im-go/internal/broker"
	"github.com/hongjun500/im-go/internal/config"
	"github.com/hongjun500/im-go/internal/model"
	"github.com/hongjun500/im-go/internal/protocol"
	"github.com/hongjun500/im-go/internal/registry"
	"github.com/hongjun500/im-go/internal/router"
	"github.com/hongjun500/im-go/internal/session"
)

type captureLink struct {
	mu      sync.Mutex
	packets []*protocol.Packet
	closed  bool
}

func (l *captureLink) WritePacket(p *protocol.Packet) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.packets = append(l.packets, p)
	return nil
}

func (l *captureLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *captureLink) RemoteAddr() string { return "test:0" }

func (l *captureLink) last(t *testing.T) *protocol.Packet {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.packets) == 0 {
		t.Fatal("no packet written")
	}
	return l.packets[len(l.packets)-1]
}

type serverEnv struct {
	srv      *Server
	reg      *registry.Registry
	sessions *session.MemoryStore
	broker   *broker.MemoryBroker
}

func newServerEnv(t *testing.T) *serverEnv {
	t.Helper()
	cfg := &config.Config{
		NodeID:           "n1",
		TCPAddr:          ":0",
		HeartbeatTimeout: time.Minute,
	}
	reg := registry.New()
	sessions := session.NewMemoryStore()
	b := broker.NewMemoryBroker()
	srv := New(cfg, reg, sessions, b, router.New(b), nil)
	t.Cleanup(srv.cancel)
	return &serverEnv{srv: srv, reg: reg, sessions: sessions, broker: b}
}

func loginPacket(userID string, deviceClass int32, deviceID string) *protocol.Packet {
	body, _ := json.Marshal(protocol.LoginPack{UserID: userID})
	return &protocol.Packet{
		Command:      protocol.CmdLogin,
		Version:      1,
		DeviceClass:  deviceClass,
		EncodingType: protocol.EncodingJSON,
		TenantID:     10000,
		DeviceID:     deviceID,
		Body:         body,
	}
}

func TestHandleLoginRegistersAndAcks(t *testing.T) {
	e := newServerEnv(t)
	link := &captureLink{}
	c := registry.NewConn("c1", link)

	e.srv.handlePacket(c, loginPacket("alice", protocol.DeviceIOS, "phone"))

	key := registry.ClientKey{TenantID: 10000, UserID: "alice", DeviceClass: protocol.DeviceIOS, DeviceID: "phone"}
	if _, ok := e.reg.Get(key); !ok {
		t.Fatal("conn not registered after login")
	}
	recs, err := e.sessions.List(context.Background(), 10000, "alice")
	if err != nil || len(recs) != 1 {
		t.Fatalf("session records: %v %v", recs, err)
	}
	if recs[0].ConnectState != model.StateOnline || recs[0].NodeID != "n1" {
		t.Fatalf("session record wrong: %+v", recs[0])
	}
	if p := link.last(t); p.Command != protocol.CmdLoginAck {
		t.Fatalf("last packet = %d, want login ack", p.Command)
	}
}

func TestHandleLogoutDeletesSession(t *testing.T) {
	e := newServerEnv(t)
	link := &captureLink{}
	c := registry.NewConn("c1", link)
	e.srv.handlePacket(c, loginPacket("alice", protocol.DeviceIOS, "phone"))

	e.srv.handlePacket(c, &protocol.Packet{Command: protocol.CmdLogout, TenantID: 10000})

	if _, ok := e.reg.Get(c.Key()); ok {
		t.Fatal("conn still registered after logout")
	}
	recs, _ := e.sessions.List(context.Background(), 10000, "alice")
	if len(recs) != 0 {
		t.Fatalf("session record survived logout: %+v", recs)
	}
	if !link.closed {
		t.Fatal("link not closed after logout")
	}
	found := false
	link.mu.Lock()
	for _, p := range link.packets {
		if p.Command == protocol.CmdLogoutAck {
			found = true
		}
	}
	link.mu.Unlock()
	if !found {
		t.Fatal("logout ack never sent")
	}
}

func TestTeardownFlipsSessionOffline(t *testing.T) {
	e := newServerEnv(t)
	link := &captureLink{}
	c := registry.NewConn("c1", link)
	e.srv.handlePacket(c, loginPacket("alice", protocol.DeviceIOS, "phone"))

	// 连接异常断开：记录保留，状态翻离线
	e.srv.teardown(c)

	recs, _ := e.sessions.List(context.Background(), 10000, "alice")
	if len(recs) != 1 {
		t.Fatalf("session record must survive a dropped conn: %+v", recs)
	}
	if recs[0].ConnectState != model.StateOffline {
		t.Fatalf("state = %d, want offline", recs[0].ConnectState)
	}
}

func TestOfflineEventOnlyAfterLastDevice(t *testing.T) {
	e := newServerEnv(t)

	offline := make(chan protocol.UserStatusPack, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = e.broker.Consume(ctx, broker.QueueUser, "g", "c", func(_ context.Context, env *protocol.CommandEnvelope) error {
			var pack protocol.UserStatusPack
			if err := json.Unmarshal(env.Body, &pack); err != nil {
				return err
			}
			if pack.Status == model.StateOffline {
				offline <- pack
			}
			return nil
		})
	}()

	phoneLink := &captureLink{}
	phone := registry.NewConn("c1", phoneLink)
	e.srv.handlePacket(phone, loginPacket("alice", protocol.DeviceIOS, "phone"))
	laptopLink := &captureLink{}
	laptop := registry.NewConn("c2", laptopLink)
	e.srv.handlePacket(laptop, loginPacket("alice", protocol.DeviceMac, "laptop"))

	// 还有别的设备在线，不发用户级离线事件
	e.srv.teardown(phone)
	select {
	case evt := <-offline:
		t.Fatalf("offline event with a device still online: %+v", evt)
	case <-time.After(100 * time.Millisecond):
	}

	// 最后一个设备掉线才发
	e.srv.teardown(laptop)
	select {
	case evt := <-offline:
		if evt.UserID != "alice" {
			t.Fatalf("event for wrong user: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("offline event never published after last device dropped")
	}
}

func TestPingRefreshesHeartbeat(t *testing.T) {
	e := newServerEnv(t)
	link := &captureLink{}
	c := registry.NewConn("c1", link)
	c.Bind(10000, "alice", protocol.DeviceIOS, "phone")

	before := c.LastBeat()
	time.Sleep(5 * time.Millisecond)
	e.srv.handlePacket(c, &protocol.Packet{Command: protocol.CmdPing, TenantID: 10000})
	if !c.LastBeat().After(before) {
		t.Fatal("ping did not refresh the heartbeat")
	}
}

func TestChatBeforeLoginDropped(t *testing.T) {
	e := newServerEnv(t)

	got := make(chan *protocol.CommandEnvelope, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = e.broker.Consume(ctx, broker.QueueMessage, "g", "c", func(_ context.Context, env *protocol.CommandEnvelope) error {
			got <- env
			return nil
		})
	}()

	link := &captureLink{}
	c := registry.NewConn("c1", link)
	e.srv.handlePacket(c, &protocol.Packet{
		Command:  protocol.CmdMsgP2P,
		TenantID: 10000,
		Body:     []byte(`{"fromId":"alice","toId":"bob"}`),
	})

	select {
	case env := <-got:
		t.Fatalf("unauthenticated packet reached the queue: %+v", env)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestChatAfterLoginRouted(t *testing.T) {
	e := newServerEnv(t)

	got := make(chan *protocol.CommandEnvelope, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = e.broker.Consume(ctx, broker.QueueMessage, "g", "c", func(_ context.Context, env *protocol.CommandEnvelope) error {
			got <- env
			return nil
		})
	}()

	link := &captureLink{}
	c := registry.NewConn("c1", link)
	e.srv.handlePacket(c, loginPacket("alice", protocol.DeviceIOS, "phone"))
	e.srv.handlePacket(c, &protocol.Packet{
		Command:     protocol.CmdMsgP2P,
		DeviceClass: protocol.DeviceIOS,
		TenantID:    10000,
		DeviceID:    "phone",
		Body:        []byte(`{"messageId":"m1","fromId":"alice","toId":"bob"}`),
	})

	select {
	case env := <-got:
		if env.Command != protocol.CmdMsgP2P || env.DeviceID != "phone" {
			t.Fatalf("envelope wrong: %+v", env)
		}
	case <-time.After(time.Second):
		t.Fatal("chat packet never routed")
	}
}
