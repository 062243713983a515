package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/hongjun500/im-go/internal/broker"
	"github.com/hongjun500/im-go/internal/protocol"
)

type kickRecorder struct {
	mu     sync.Mutex
	kicked []string
}

func (k *kickRecorder) kick(c *Conn) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.kicked = append(k.kicked, c.DeviceID)
}

func (k *kickRecorder) devices() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]string(nil), k.kicked...)
}

func loginEvent(deviceClass int32, deviceID string) *broker.LoginEvent {
	return &broker.LoginEvent{
		TenantID:    10000,
		UserID:      "alice",
		DeviceClass: deviceClass,
		DeviceID:    deviceID,
		NodeID:      "n1",
	}
}

func TestResolverSingleModeKicksEverythingElse(t *testing.T) {
	reg := New()
	ios, _ := newTestConn("alice", protocol.DeviceIOS, "old-phone")
	web, _ := newTestConn("alice", protocol.DeviceWeb, "browser")
	reg.Put(ios)
	reg.Put(web)

	rec := &kickRecorder{}
	r := NewResolver(ModeSingle, reg, rec.kick)
	r.HandleLogin(context.Background(), loginEvent(protocol.DeviceAndroid, "new-phone"))

	if got := rec.devices(); len(got) != 2 {
		t.Fatalf("kicked %v, want both existing devices", got)
	}
}

func TestResolverSingleModeSpareSameDevice(t *testing.T) {
	reg := New()
	ios, _ := newTestConn("alice", protocol.DeviceIOS, "phone")
	reg.Put(ios)

	rec := &kickRecorder{}
	r := NewResolver(ModeSingle, reg, rec.kick)
	// 同设备重复广播不互踢
	r.HandleLogin(context.Background(), loginEvent(protocol.DeviceIOS, "phone"))

	if got := rec.devices(); len(got) != 0 {
		t.Fatalf("kicked %v, same device must survive", got)
	}
}

func TestResolverDualModeWebExempt(t *testing.T) {
	reg := New()
	ios, _ := newTestConn("alice", protocol.DeviceIOS, "phone")
	web, _ := newTestConn("alice", protocol.DeviceWeb, "browser")
	reg.Put(ios)
	reg.Put(web)

	rec := &kickRecorder{}
	r := NewResolver(ModeDual, reg, rec.kick)

	// web 新登录不踢任何人
	r.HandleLogin(context.Background(), loginEvent(protocol.DeviceWeb, "browser-2"))
	if got := rec.devices(); len(got) != 0 {
		t.Fatalf("web login kicked %v", got)
	}

	// 非 web 新登录只踢非 web 的旧连接
	r.HandleLogin(context.Background(), loginEvent(protocol.DeviceMac, "laptop"))
	got := rec.devices()
	if len(got) != 1 || got[0] != "phone" {
		t.Fatalf("kicked %v, want only the phone", got)
	}
}

func TestResolverTripleModeGroupExclusive(t *testing.T) {
	reg := New()
	ios, _ := newTestConn("alice", protocol.DeviceIOS, "phone")
	mac, _ := newTestConn("alice", protocol.DeviceMac, "laptop")
	web, _ := newTestConn("alice", protocol.DeviceWeb, "browser")
	reg.Put(ios)
	reg.Put(mac)
	reg.Put(web)

	rec := &kickRecorder{}
	r := NewResolver(ModeTriple, reg, rec.kick)

	// 新安卓只顶掉同组的 iOS，桌面端和 web 不动
	r.HandleLogin(context.Background(), loginEvent(protocol.DeviceAndroid, "droid"))
	got := rec.devices()
	if len(got) != 1 || got[0] != "phone" {
		t.Fatalf("kicked %v, want only the mobile peer", got)
	}

	// 新 Windows 只顶掉 Mac
	r.HandleLogin(context.Background(), loginEvent(protocol.DeviceWindows, "desktop"))
	got = rec.devices()
	if len(got) != 2 || got[1] != "laptop" {
		t.Fatalf("kicked %v, want the desktop peer next", got)
	}
}

func TestResolverUnrestrictedModeKeepsAll(t *testing.T) {
	reg := New()
	ios, _ := newTestConn("alice", protocol.DeviceIOS, "phone")
	mac, _ := newTestConn("alice", protocol.DeviceMac, "laptop")
	reg.Put(ios)
	reg.Put(mac)

	rec := &kickRecorder{}
	r := NewResolver(ModeUnrestricted, reg, rec.kick)
	r.HandleLogin(context.Background(), loginEvent(protocol.DeviceAndroid, "droid"))

	if got := rec.devices(); len(got) != 0 {
		t.Fatalf("unrestricted mode kicked %v", got)
	}
}

func TestResolverDefaultKickSendsForcedOffline(t *testing.T) {
	reg := New()
	ios, link := newTestConn("alice", protocol.DeviceIOS, "phone")
	reg.Put(ios)

	r := NewResolver(ModeSingle, reg, nil)
	r.HandleLogin(context.Background(), loginEvent(protocol.DeviceAndroid, "droid"))

	sent := link.sent()
	if len(sent) != 1 || sent[0].Command != protocol.CmdForcedOffline {
		t.Fatalf("expected forced offline push, got %+v", sent)
	}
	if !ios.IsClosed() {
		t.Fatal("kicked conn should be closed")
	}
}
