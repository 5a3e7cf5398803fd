package transport

import (
	"net"
	"syscall"
	"time"

	"github.com/qiminjie89/sockio/pkg/config"
	"go.uber.org/multierr"
)

// Tuning socket 调优参数
type Tuning struct {
	SendBufferSize    int
	ReceiveBufferSize int
	ReadTimeout       time.Duration // 每次读操作的截止时间，0 表示不限
	WriteTimeout      time.Duration // 每次写操作的截止时间，0 表示不限
	Linger            *int          // nil 使用系统默认
	TTL               int
	Exclusive         bool // 监听地址独占（不设置 SO_REUSEADDR）
	NoDelay           *bool
	KeepAlive         time.Duration // 0 使用默认值，负数关闭
}

// TuningFromConfig 从配置构造调优参数
func TuningFromConfig(cfg config.TuningConfig) Tuning {
	return Tuning{
		SendBufferSize:    cfg.SendBufferSize,
		ReceiveBufferSize: cfg.ReceiveBufferSize,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		Linger:            cfg.Linger,
		TTL:               cfg.TTL,
		Exclusive:         cfg.Exclusive,
		NoDelay:           cfg.NoDelay,
		KeepAlive:         cfg.KeepAlive,
	}
}

// Dialer 返回出站拨号器
func (t Tuning) Dialer(timeout time.Duration) *net.Dialer {
	return &net.Dialer{
		Timeout:   timeout,
		KeepAlive: t.KeepAlive,
		Control: func(network, _ string, c syscall.RawConn) error {
			return control(network, c, t, false)
		},
	}
}

// ListenConfig 返回监听配置
func (t Tuning) ListenConfig() *net.ListenConfig {
	return &net.ListenConfig{
		KeepAlive: t.KeepAlive,
		Control: func(network, _ string, c syscall.RawConn) error {
			return control(network, c, t, true)
		},
	}
}

type bufferedConn interface {
	SetReadBuffer(bytes int) error
	SetWriteBuffer(bytes int) error
}

// Configure 对已建立的连接应用参数
func (t Tuning) Configure(conn net.Conn) error {
	var err error

	if bc, ok := conn.(bufferedConn); ok {
		if t.ReceiveBufferSize > 0 {
			err = multierr.Append(err, bc.SetReadBuffer(t.ReceiveBufferSize))
		}
		if t.SendBufferSize > 0 {
			err = multierr.Append(err, bc.SetWriteBuffer(t.SendBufferSize))
		}
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		if t.NoDelay != nil {
			err = multierr.Append(err, tc.SetNoDelay(*t.NoDelay))
		}
		if t.Linger != nil {
			err = multierr.Append(err, tc.SetLinger(*t.Linger))
		}
	}

	return err
}

// SetBacklog 调整监听队列长度
func SetBacklog(ln net.Listener, backlog int) error {
	if backlog <= 0 {
		return nil
	}
	sc, ok := ln.(syscall.Conn)
	if !ok {
		return nil
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return err
	}
	return setBacklog(rc, backlog)
}

// Available 返回连接上可立即读取的字节数，无法获取时返回 0
func Available(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return 0
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return 0
	}
	return available(rc)
}
