package protocol

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

var ErrUnknownType = errors.New("unknown message type")

// Encode 使用 msgpack 编码
func Encode(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Decode 使用 msgpack 解码
func Decode(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

// DecodeEnvelope 解码并校验客户端发来的消息
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := Decode(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Type {
	case MsgTypeData, MsgTypeClose, MsgTypeConnected, MsgTypeClosed, MsgTypeError:
		return &env, nil
	}
	return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownType, env.Type)
}
