package socket

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"

	"github.com/qiminjie89/sockio/pkg/transport"
)

var (
	// ErrAddressResolution 主机无法解析为可用地址
	ErrAddressResolution = errors.New("address resolution failed")
	// ErrNotConnected 连接未建立
	ErrNotConnected = errors.New("socket not connected")
	// ErrConnectTimeout 连接在 Timeout 内未完成
	ErrConnectTimeout = errors.New("connect timed out")
	// ErrUnsupportedProtocol 当前角色不支持该协议
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	// ErrAlreadyListening 监听器已在监听
	ErrAlreadyListening = errors.New("listener already active")
)

// ErrorKind 错误分类
type ErrorKind int

const (
	KindNone ErrorKind = iota
	// KindAddress 地址解析失败
	KindAddress
	// KindTransient 对端重置或中止连接
	KindTransient
	// KindRefused 连接被拒绝、不可达或超时
	KindRefused
	// KindClosed 操作与 Close 竞争，以 Close 为准，静默忽略
	KindClosed
	// KindUnknown 其他错误
	KindUnknown
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindAddress:
		return "address"
	case KindTransient:
		return "transient"
	case KindRefused:
		return "refused"
	case KindClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Classify 将平台错误映射为错误分类
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	switch {
	case errors.Is(err, ErrAddressResolution), errors.Is(err, transport.ErrNoAddress):
		return KindAddress
	case errors.Is(err, net.ErrClosed), errors.Is(err, context.Canceled):
		return KindClosed
	case errors.Is(err, ErrConnectTimeout),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ETIMEDOUT),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, context.DeadlineExceeded):
		return KindRefused
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return KindTransient
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindAddress
	}
	return KindUnknown
}
