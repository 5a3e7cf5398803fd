// Package protocol 定义 WebSocket 桥接的消息格式与错误码
package protocol

// 消息类型
const (
	// 客户端 → 桥接
	MsgTypeData  uint8 = 0x01 // 转发到上游的原始字节
	MsgTypeClose uint8 = 0x02 // 请求关闭上游连接

	// 桥接 → 客户端
	MsgTypeConnected uint8 = 0x11 // 上游连接已建立
	MsgTypeClosed    uint8 = 0x12 // 上游连接已关闭
	MsgTypeError     uint8 = 0x13 // 错误通知
)

// Envelope 桥接消息，msgpack 编码后作为一条 WebSocket 二进制消息传输
type Envelope struct {
	Type    uint8  `msgpack:"t"`
	Code    int    `msgpack:"c,omitempty"`
	Data    []byte `msgpack:"d,omitempty"`
	Message string `msgpack:"m,omitempty"`
}

// NewData 创建数据消息
func NewData(data []byte) *Envelope {
	return &Envelope{Type: MsgTypeData, Data: data}
}

// NewConnected 创建连接建立通知，Message 为上游地址
func NewConnected(upstream string) *Envelope {
	return &Envelope{Type: MsgTypeConnected, Message: upstream}
}

// NewClosed 创建连接关闭通知
func NewClosed(reason string) *Envelope {
	return &Envelope{Type: MsgTypeClosed, Message: reason}
}

// NewError 创建错误通知，detail 为空时使用错误码对应的消息
func NewError(code int, detail string) *Envelope {
	if detail == "" {
		detail = ErrCodeMessage[code]
	}
	return &Envelope{Type: MsgTypeError, Code: code, Message: detail}
}
