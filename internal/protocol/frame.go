package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// HeaderSize 固定请求头长度：7 个 int32
const HeaderSize = 7 * 4

var (
	ErrFrameTooLarge = fmt.Errorf("protocol: frame exceeds max size")
	ErrBadHeader     = fmt.Errorf("protocol: malformed frame header")
	ErrBadBody       = fmt.Errorf("protocol: body is not valid json")
)

// Decoder 把连续的字节流切分成完整的 Packet，自己持有半包缓冲。
// 半包不是错误：Next 在凑不满一帧时不消费任何字节，等下次喂入更多数据后
// 对同一帧重新解析，保证同一帧只被完整解析一次。
type Decoder struct {
	maxFrame int
	buf      []byte
}

func NewDecoder(maxFrame int) *Decoder {
	if maxFrame <= 0 {
		maxFrame = 1 << 20
	}
	return &Decoder{maxFrame: maxFrame}
}

// Write 追加收到的原始字节，实现 io.Writer
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Buffered 当前缓冲的未消费字节数
func (d *Decoder) Buffered() int { return len(d.buf) }

// Next 尝试从缓冲中解出一个完整的 Packet。
// 返回 (nil, nil) 表示数据还不够一帧；此时缓冲原样保留（包括请求头）。
func (d *Decoder) Next() (*Packet, error) {
	if len(d.buf) < HeaderSize {
		return nil, nil
	}

	command := int32(binary.BigEndian.Uint32(d.buf[0:4]))
	version := int32(binary.BigEndian.Uint32(d.buf[4:8]))
	deviceClass := int32(binary.BigEndian.Uint32(d.buf[8:12]))
	encodingType := int32(binary.BigEndian.Uint32(d.buf[12:16]))
	tenantID := int32(binary.BigEndian.Uint32(d.buf[16:20]))
	deviceIDLen := int32(binary.BigEndian.Uint32(d.buf[20:24]))
	bodyLen := int32(binary.BigEndian.Uint32(d.buf[24:28]))

	if deviceIDLen < 0 || bodyLen < 0 {
		return nil, ErrBadHeader
	}
	total := HeaderSize + int(deviceIDLen) + int(bodyLen)
	if total > d.maxFrame {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, total, d.maxFrame)
	}
	if len(d.buf) < total {
		// 设备号或消息体未到齐，回退到帧起点等待更多数据
		return nil, nil
	}

	deviceID := string(d.buf[HeaderSize : HeaderSize+int(deviceIDLen)])
	body := make([]byte, bodyLen)
	copy(body, d.buf[HeaderSize+int(deviceIDLen):total])
	d.buf = d.buf[total:]

	if encodingType == EncodingJSON && len(body) > 0 && !json.Valid(body) {
		return nil, ErrBadBody
	}

	return &Packet{
		Command:      command,
		Version:      version,
		DeviceClass:  deviceClass,
		EncodingType: encodingType,
		TenantID:     tenantID,
		DeviceID:     deviceID,
		Body:         body,
	}, nil
}

// Encoder 把 Packet 写成帧，写操作串行化，允许多个 goroutine 共用一个连接
type Encoder struct {
	w  io.Writer
	mu sync.Mutex
}

func NewEncoder(w io.Writer) *Encoder { return &Encoder{w: w} }

// Encode 写出一个完整帧，结构与 Decoder 完全互逆
func (e *Encoder) Encode(p *Packet) error {
	header := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(header[0:4], uint32(p.Command))
	binary.BigEndian.PutUint32(header[4:8], uint32(p.Version))
	binary.BigEndian.PutUint32(header[8:12], uint32(p.DeviceClass))
	binary.BigEndian.PutUint32(header[12:16], uint32(p.EncodingType))
	binary.BigEndian.PutUint32(header[16:20], uint32(p.TenantID))
	binary.BigEndian.PutUint32(header[20:24], uint32(len(p.DeviceID)))
	binary.BigEndian.PutUint32(header[24:28], uint32(len(p.Body)))

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(header); err != nil {
		return err
	}
	if len(p.DeviceID) > 0 {
		if _, err := io.WriteString(e.w, p.DeviceID); err != nil {
			return err
		}
	}
	if len(p.Body) > 0 {
		if _, err := e.w.Write(p.Body); err != nil {
			return err
		}
	}
	return nil
}

// Marshal 编码到内存，websocket 隧道按消息发送时使用
func Marshal(p *Packet) []byte {
	out := make([]byte, 0, HeaderSize+len(p.DeviceID)+len(p.Body))
	header := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(header[0:4], uint32(p.Command))
	binary.BigEndian.PutUint32(header[4:8], uint32(p.Version))
	binary.BigEndian.PutUint32(header[8:12], uint32(p.DeviceClass))
	binary.BigEndian.PutUint32(header[12:16], uint32(p.EncodingType))
	binary.BigEndian.PutUint32(header[16:20], uint32(p.TenantID))
	binary.BigEndian.PutUint32(header[20:24], uint32(len(p.DeviceID)))
	binary.BigEndian.PutUint32(header[24:28], uint32(len(p.Body)))
	out = append(out, header...)
	out = append(out, p.DeviceID...)
	out = append(out, p.Body...)
	return out
}
