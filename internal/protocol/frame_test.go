package protocol

import (
	"bytes"
	"testing"
)

func samplePacket() *Packet {
	return &Packet{
		Command:      CmdMsgP2P,
		Version:      1,
		DeviceClass:  DeviceIOS,
		EncodingType: EncodingJSON,
		TenantID:     10000,
		DeviceID:     "iphone-15",
		Body:         []byte(`{"fromId":"alice","toId":"bob","messageBody":"hi"}`),
	}
}

func TestDecoderSplitReads(t *testing.T) {
	raw := Marshal(samplePacket())

	dec := NewDecoder(0)
	// 一个字节一个字节喂，凑不满一帧绝不能吐包，也不能丢字节
	for i := 0; i < len(raw)-1; i++ {
		if _, err := dec.Write(raw[i : i+1]); err != nil {
			t.Fatalf("write: %v", err)
		}
		p, err := dec.Next()
		if err != nil {
			t.Fatalf("next at byte %d: %v", i, err)
		}
		if p != nil {
			t.Fatalf("got packet before frame complete at byte %d", i)
		}
	}
	_, _ = dec.Write(raw[len(raw)-1:])
	p, err := dec.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if p == nil {
		t.Fatal("expected a complete packet")
	}
	want := samplePacket()
	if p.Command != want.Command || p.TenantID != want.TenantID || p.DeviceID != want.DeviceID {
		t.Fatalf("decoded header mismatch: %+v", p)
	}
	if !bytes.Equal(p.Body, want.Body) {
		t.Fatalf("decoded body mismatch: %s", p.Body)
	}
	if dec.Buffered() != 0 {
		t.Fatalf("expected empty buffer, got %d bytes", dec.Buffered())
	}
}

func TestDecoderBackToBackFrames(t *testing.T) {
	first := samplePacket()
	second := samplePacket()
	second.Command = CmdPing
	second.Body = nil

	dec := NewDecoder(0)
	_, _ = dec.Write(Marshal(first))
	_, _ = dec.Write(Marshal(second))

	p1, err := dec.Next()
	if err != nil || p1 == nil {
		t.Fatalf("first frame: %v %v", p1, err)
	}
	p2, err := dec.Next()
	if err != nil || p2 == nil {
		t.Fatalf("second frame: %v %v", p2, err)
	}
	if p1.Command != CmdMsgP2P || p2.Command != CmdPing {
		t.Fatalf("frame order broken: %d %d", p1.Command, p2.Command)
	}
	if p3, _ := dec.Next(); p3 != nil {
		t.Fatalf("unexpected third frame: %+v", p3)
	}
}

func TestDecoderFrameTooLarge(t *testing.T) {
	p := samplePacket()
	p.Body = bytes.Repeat([]byte("a"), 2048)
	dec := NewDecoder(1024)
	_, _ = dec.Write(Marshal(p))
	if _, err := dec.Next(); err == nil {
		t.Fatal("expected frame too large error")
	}
}

func TestDecoderRejectsInvalidJSONBody(t *testing.T) {
	p := samplePacket()
	p.Body = []byte("{not json")
	dec := NewDecoder(0)
	// Marshal 不校验，坏 body 要在解码侧被拦下
	_, _ = dec.Write(Marshal(p))
	if _, err := dec.Next(); err == nil {
		t.Fatal("expected bad body error")
	}
}

func TestPacketBindJSON(t *testing.T) {
	p := samplePacket()
	var body struct {
		FromID string `json:"fromId"`
		ToID   string `json:"toId"`
	}
	if err := p.BindJSON(&body); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if body.FromID != "alice" || body.ToID != "bob" {
		t.Fatalf("bound body wrong: %+v", body)
	}
}

func TestEncoderDecoderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	if err := enc.Encode(samplePacket()); err != nil {
		t.Fatalf("encode: %v", err)
	}
	dec := NewDecoder(0)
	_, _ = dec.Write(buf.Bytes())
	p, err := dec.Next()
	if err != nil || p == nil {
		t.Fatalf("decode: %v %v", p, err)
	}
	if p.DeviceID != "iphone-15" {
		t.Fatalf("device id lost: %q", p.DeviceID)
	}
}
