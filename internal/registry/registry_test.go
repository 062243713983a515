package registry

import (
	"sync"
	"testing"

	"github.com/hongjun500/im-go/internal/protocol"
)

// fakeLink 捕获写出的包
type fakeLink struct {
	mu      sync.Mutex
	packets []*protocol.Packet
	closed  bool
}

func (l *fakeLink) WritePacket(p *protocol.Packet) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.packets = append(l.packets, p)
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLink) RemoteAddr() string { return "test:0" }

func (l *fakeLink) sent() []*protocol.Packet {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*protocol.Packet(nil), l.packets...)
}

func newTestConn(userID string, deviceClass int32, deviceID string) (*Conn, *fakeLink) {
	link := &fakeLink{}
	c := NewConn("conn-"+userID+deviceID, link)
	c.Bind(10000, userID, deviceClass, deviceID)
	return c, link
}

func TestRegistryPutGetRemove(t *testing.T) {
	reg := New()
	c, _ := newTestConn("alice", protocol.DeviceIOS, "d1")
	reg.Put(c)

	got, ok := reg.Get(c.Key())
	if !ok || got != c {
		t.Fatal("expected to find the registered conn")
	}
	if reg.Count() != 1 {
		t.Fatalf("count = %d, want 1", reg.Count())
	}

	removed, ok := reg.Remove(c.Key())
	if !ok || removed != c {
		t.Fatal("remove should return the conn")
	}
	if _, ok := reg.Get(c.Key()); ok {
		t.Fatal("conn still present after remove")
	}
	if reg.Count() != 0 {
		t.Fatalf("count = %d, want 0", reg.Count())
	}
}

func TestRegistryGetAllFiltersByUser(t *testing.T) {
	reg := New()
	a1, _ := newTestConn("alice", protocol.DeviceIOS, "d1")
	a2, _ := newTestConn("alice", protocol.DeviceWeb, "d2")
	b1, _ := newTestConn("bob", protocol.DeviceIOS, "d3")
	reg.Put(a1)
	reg.Put(a2)
	reg.Put(b1)

	conns := reg.GetAll(10000, "alice")
	if len(conns) != 2 {
		t.Fatalf("got %d conns, want 2", len(conns))
	}
	for _, c := range conns {
		if c.UserID != "alice" {
			t.Fatalf("got conn of user %q", c.UserID)
		}
	}
}

func TestRegistryPutSameKeyKeepsCount(t *testing.T) {
	reg := New()
	old, _ := newTestConn("alice", protocol.DeviceIOS, "d1")
	neu, _ := newTestConn("alice", protocol.DeviceIOS, "d1")
	reg.Put(old)
	reg.Put(neu)

	if reg.Count() != 1 {
		t.Fatalf("count = %d, want 1 after same-key overwrite", reg.Count())
	}
	got, _ := reg.Get(neu.Key())
	if got != neu {
		t.Fatal("overwrite should keep the newer conn")
	}
}

func TestRemoveConnOnlyMatchesSameHandle(t *testing.T) {
	reg := New()
	old, _ := newTestConn("alice", protocol.DeviceIOS, "d1")
	reg.Put(old)
	// 同 key 新连接顶掉旧句柄后，旧句柄的延迟清理不能误删新条目
	neu, _ := newTestConn("alice", protocol.DeviceIOS, "d1")
	reg.Put(neu)

	if reg.RemoveConn(old) {
		t.Fatal("stale handle must not remove the new entry")
	}
	if _, ok := reg.Get(neu.Key()); !ok {
		t.Fatal("new conn was lost")
	}
	if !reg.RemoveConn(neu) {
		t.Fatal("live handle should be removable")
	}
	if reg.Count() != 0 {
		t.Fatalf("count = %d, want 0", reg.Count())
	}
}

func TestConnCloseIdempotent(t *testing.T) {
	c, link := newTestConn("alice", protocol.DeviceIOS, "d1")
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !link.closed {
		t.Fatal("underlying link not closed")
	}
	if !c.IsClosed() {
		t.Fatal("conn should report closed")
	}
}

func TestSendPackWrapsBody(t *testing.T) {
	c, link := newTestConn("alice", protocol.DeviceIOS, "d1")
	if err := c.SendPack(protocol.CmdMsgAck, protocol.OKResult(nil)); err != nil {
		t.Fatalf("send: %v", err)
	}
	sent := link.sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d packets, want 1", len(sent))
	}
	p := sent[0]
	if p.Command != protocol.CmdMsgAck || p.TenantID != 10000 || p.EncodingType != protocol.EncodingJSON {
		t.Fatalf("packet header wrong: %+v", p)
	}
}
