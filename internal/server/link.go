package server

import (
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hongjun500/im-go/internal/protocol"
)

// tcpLink 裸 TCP 连接上的帧写口
type tcpLink struct {
	conn         net.Conn
	enc          *protocol.Encoder
	writeTimeout time.Duration
}

func newTCPLink(conn net.Conn, writeTimeout time.Duration) *tcpLink {
	return &tcpLink{conn: conn, enc: protocol.NewEncoder(conn), writeTimeout: writeTimeout}
}

func (l *tcpLink) WritePacket(p *protocol.Packet) error {
	if l.writeTimeout > 0 {
		_ = l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout))
	}
	return l.enc.Encode(p)
}

func (l *tcpLink) Close() error { return l.conn.Close() }

func (l *tcpLink) RemoteAddr() string { return l.conn.RemoteAddr().String() }

// wsLink websocket 隧道：帧整体作为一条二进制消息收发，
// 帧结构与 TCP 完全一致
type wsLink struct {
	conn         *websocket.Conn
	mu           sync.Mutex
	writeTimeout time.Duration
}

func newWSLink(conn *websocket.Conn, writeTimeout time.Duration) *wsLink {
	return &wsLink{conn: conn, writeTimeout: writeTimeout}
}

func (l *wsLink) WritePacket(p *protocol.Packet) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writeTimeout > 0 {
		_ = l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout))
	}
	return l.conn.WriteMessage(websocket.BinaryMessage, protocol.Marshal(p))
}

func (l *wsLink) Close() error { return l.conn.Close() }

func (l *wsLink) RemoteAddr() string { return l.conn.RemoteAddr().String() }
