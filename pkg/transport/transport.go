// Package transport 提供 socket 层的外部协作者：地址解析、socket 参数调优，
// 以及桥接服务使用的 WebSocket 传输
package transport

import (
	"context"
	"io"
	"net"
	"net/netip"
	"time"
)

// AddressResolver 地址解析接口
type AddressResolver interface {
	// ResolveAddress 将主机名解析为指定地址族的可连接 IP
	ResolveAddress(ctx context.Context, host string, family Family) (netip.Addr, error)
}

// SocketTuner socket 参数调优接口
type SocketTuner interface {
	// Dialer 返回应用了预连接参数的拨号器
	Dialer(timeout time.Duration) *net.Dialer
	// ListenConfig 返回应用了预绑定参数的监听配置
	ListenConfig() *net.ListenConfig
	// Configure 对已建立的连接应用参数
	Configure(conn net.Conn) error
}

// Conn 消息连接接口
type Conn interface {
	io.Closer
	// ReadMessage 读取一条完整消息
	ReadMessage() ([]byte, error)
	// WriteMessage 写入一条完整消息
	WriteMessage(data []byte) error
	// RemoteAddr 返回远程地址
	RemoteAddr() string
	// SetReadDeadline 设置读超时
	SetReadDeadline(t time.Time) error
	// SetWriteDeadline 设置写超时
	SetWriteDeadline(t time.Time) error
}

var (
	_ AddressResolver = (*Resolver)(nil)
	_ SocketTuner     = Tuning{}
	_ Conn            = (*WebSocketConn)(nil)
)
