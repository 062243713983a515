package pipeline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hongjun500/im-go/internal/protocol"
)

func TestReadMarkNotifiesBothSides(t *testing.T) {
	e := newTestEnv(t, nil, nil, nil)
	phone := e.connect(t, "bob", protocol.DeviceIOS, "d-bob")
	laptop := e.connect(t, "bob", protocol.DeviceMac, "d-bob-mac")
	alice := e.connect(t, "alice", protocol.DeviceIOS, "d-alice")

	body, _ := json.Marshal(protocol.ReadPack{FromID: "bob", ToID: "alice", Sequence: 7})
	env := &protocol.CommandEnvelope{
		Command:     protocol.CmdMsgRead,
		DeviceClass: protocol.DeviceIOS,
		DeviceID:    "d-bob",
		TenantID:    testTenant,
		Body:        body,
	}
	if err := e.svc.ReadMark(context.Background(), env); err != nil {
		t.Fatalf("read mark: %v", err)
	}

	// 上报端自己不收同步，其他端对齐未读数，原发送方收回执
	laptop.waitFor(t, protocol.CmdMsgReadNotify)
	alice.waitFor(t, protocol.CmdMsgReadReceipt)
	phone.expectNone(t, protocol.CmdMsgReadNotify)
}

func TestReceiveMarkForwardsToSender(t *testing.T) {
	e := newTestEnv(t, nil, nil, nil)
	alice := e.connect(t, "alice", protocol.DeviceIOS, "d-alice")
	e.connect(t, "bob", protocol.DeviceAndroid, "d-bob")

	body, _ := json.Marshal(protocol.ReceiveAckPack{
		FromID:     "alice",
		ToID:       "bob",
		MessageKey: "k1",
		Sequence:   3,
	})
	env := &protocol.CommandEnvelope{
		Command:     protocol.CmdMsgReceiveAck,
		DeviceClass: protocol.DeviceAndroid,
		DeviceID:    "d-bob",
		TenantID:    testTenant,
		Body:        body,
	}
	if err := e.svc.ReceiveMark(context.Background(), env); err != nil {
		t.Fatalf("receive mark: %v", err)
	}

	p := alice.waitFor(t, protocol.CmdMsgReceiveAck)
	var pack struct {
		Data struct {
			Data protocol.ReceiveAckPack `json:"data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(p.Body, &pack); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if pack.Data.Data.ServerSend {
		t.Fatal("peer-reported ack must keep serverSend false")
	}
	if pack.Data.Data.MessageKey != "k1" {
		t.Fatalf("ack payload wrong: %+v", pack.Data.Data)
	}
}
