package protocol

import "encoding/json"

// 消息体编码方式，见 Packet.EncodingType
const (
	// EncodingJSON 消息体为 JSON 结构化数据，解码时校验合法性
	EncodingJSON int32 = 1
)

// 设备端类型
const (
	DeviceIOS     int32 = 1
	DeviceAndroid int32 = 2
	DeviceWindows int32 = 3
	DeviceMac     int32 = 4
	DeviceWeb     int32 = 5
)

// Packet 一个完整的网络数据包，仅在一帧的编解码期间存在。
// 帧结构：7 个 int32 大端请求头（指令、版本、设备类型、消息体编码、租户ID、
// 设备号长度、消息体长度）+ 设备号 + 消息体
type Packet struct {
	Command      int32
	Version      int32
	DeviceClass  int32
	EncodingType int32
	TenantID     int32
	DeviceID     string
	Body         []byte
}

// BindJSON 将消息体解析到 v，仅对 EncodingJSON 的包有意义
func (p *Packet) BindJSON(v any) error {
	return json.Unmarshal(p.Body, v)
}

// IsWebDevice web 端在多端登录互踢策略里双向豁免
func IsWebDevice(class int32) bool { return class == DeviceWeb }

// IsMobileDevice 移动端设备组（iOS/Android 互斥）
func IsMobileDevice(class int32) bool {
	return class == DeviceIOS || class == DeviceAndroid
}

// IsDesktopDevice 桌面端设备组（Mac/Windows 互斥）
func IsDesktopDevice(class int32) bool {
	return class == DeviceWindows || class == DeviceMac
}
