package router

import (
	"context"
	"testing"
	"time"

	"github.com/hongjun500/im-go/internal/broker"
	"github.com/hongjun500/im-go/internal/protocol"
)

func TestQueueFor(t *testing.T) {
	cases := []struct {
		command int32
		want    string
	}{
		{protocol.CmdMsgP2P, broker.QueueMessage},
		{protocol.CmdMsgRecall, broker.QueueMessage},
		{protocol.CmdMsgGroup, broker.QueueGroup},
		{3001, broker.QueueFriend},
		{protocol.CmdUserStatusChange, broker.QueueUser},
		{protocol.CmdLogin, ""},
		{5000, ""},
	}
	for _, c := range cases {
		if got := QueueFor(c.command); got != c.want {
			t.Errorf("command %d: got %q want %q", c.command, got, c.want)
		}
	}
}

func TestDispatchRoutesToQueue(t *testing.T) {
	b := broker.NewMemoryBroker()
	r := New(b)

	got := make(chan *protocol.CommandEnvelope, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = b.Consume(ctx, broker.QueueMessage, "g", "c", func(_ context.Context, env *protocol.CommandEnvelope) error {
			got <- env
			return nil
		})
	}()

	r.Dispatch(ctx, &protocol.Packet{
		Command:  protocol.CmdMsgP2P,
		TenantID: 10000,
		DeviceID: "d1",
		Body:     []byte(`{"fromId":"alice","toId":"bob"}`),
	})

	select {
	case env := <-got:
		if env.Command != protocol.CmdMsgP2P || env.TenantID != 10000 || env.DeviceID != "d1" {
			t.Fatalf("envelope lost metadata: %+v", env)
		}
	case <-time.After(time.Second):
		t.Fatal("envelope never reached the message queue")
	}
}

func TestDispatchDropsUnroutable(t *testing.T) {
	b := broker.NewMemoryBroker()
	r := New(b)

	got := make(chan *protocol.CommandEnvelope, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, q := range []string{broker.QueueMessage, broker.QueueGroup, broker.QueueFriend, broker.QueueUser} {
		queue := q
		go func() {
			_ = b.Consume(ctx, queue, "g", "c", func(_ context.Context, env *protocol.CommandEnvelope) error {
				got <- env
				return nil
			})
		}()
	}

	r.Dispatch(ctx, &protocol.Packet{Command: 5000})

	select {
	case env := <-got:
		t.Fatalf("unroutable command reached queue: %+v", env)
	case <-time.After(100 * time.Millisecond):
	}
}
