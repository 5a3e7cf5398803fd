// Package socket 异步 socket 连接层：客户端连接、监听器与连接生命周期管理
package socket

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/qiminjie89/sockio/pkg/transport"
	"go.uber.org/zap"
)

const (
	// DefaultCapacity 默认接收块大小
	DefaultCapacity = 8192
	// DefaultBacklog 默认监听队列长度
	DefaultBacklog = 100
	// DefaultQueueLimit 默认接收队列上限
	DefaultQueueLimit = 1024

	// resolveTimeout Timeout 未设置时地址解析的上限
	resolveTimeout = 10 * time.Second
)

// Protocol 传输协议
type Protocol int

const (
	ProtocolTCP Protocol = iota
	ProtocolUDP
)

func (p Protocol) String() string {
	if p == ProtocolUDP {
		return "udp"
	}
	return "tcp"
}

// ParseProtocol 解析配置中的协议名
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tcp":
		return ProtocolTCP, nil
	case "udp":
		return ProtocolUDP, nil
	}
	return ProtocolTCP, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, s)
}

// Connection 客户端与监听器共享的连接状态
//
// 配置字段须在 Connect/Listen 之前设置，之后只读。
type Connection struct {
	Host     string
	Port     int
	Family   transport.Family
	Protocol Protocol
	Timeout  time.Duration // 连接超时，0 表示不限
	Capacity int           // 接收块大小
	Tuning   transport.Tuning
	Resolver transport.AddressResolver // nil 使用 transport.DefaultResolver

	id     string
	idOnce sync.Once

	mu    sync.Mutex
	state stateBox

	activityStamp atomic.Int64

	errMu   sync.Mutex
	lastErr error
}

// endpoint 解析后的网络端点
type endpoint struct {
	network string
	address string
	family  transport.Family
}

// ID 返回连接 ID
func (c *Connection) ID() string {
	c.idOnce.Do(func() {
		if c.id == "" {
			c.id = uuid.New().String()
		}
	})
	return c.id
}

// State 返回当前状态
func (c *Connection) State() State {
	return c.state.load()
}

// Active 连接是否在使用中
func (c *Connection) Active() bool {
	return c.state.load().active()
}

// Connected 连接是否已建立
func (c *Connection) Connected() bool {
	return c.state.load() == StateConnected
}

// ActivityStamp 最近一次活动时间
func (c *Connection) ActivityStamp() time.Time {
	return loadStamp(&c.activityStamp)
}

// LastError 最近一次未被处理的错误
func (c *Connection) LastError() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastErr
}

func (c *Connection) setLastError(err error) {
	c.errMu.Lock()
	c.lastErr = err
	c.errMu.Unlock()
}

func (c *Connection) capacity() int {
	if c.Capacity <= 0 {
		return DefaultCapacity
	}
	return c.Capacity
}

func (c *Connection) resolver() transport.AddressResolver {
	if c.Resolver == nil {
		return transport.DefaultResolver
	}
	return c.Resolver
}

// clear 将已关闭的连接复位为 Idle，调用方持有 mu
func (c *Connection) clear() {
	c.state.cas(StateClosed, StateIdle)
	if c.state.load() != StateIdle {
		return
	}
	c.activityStamp.Store(0)
	c.setLastError(nil)
}

// resolve 解析 Host/Port 为网络端点
//
// listening 为 true 且 Host 为空时使用通配地址，否则空 Host 解析为本机地址。
func (c *Connection) resolve(listening bool) (endpoint, error) {
	if c.Port < 0 || c.Port > 65535 {
		return endpoint{}, fmt.Errorf("%w: invalid port %d", ErrAddressResolution, c.Port)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = resolveTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var addr netip.Addr
	if listening && strings.TrimSpace(c.Host) == "" {
		if c.Family == transport.FamilyUnspecified {
			// 未指定地址族时双栈监听
			return endpoint{
				network: c.Protocol.String(),
				address: ":" + strconv.Itoa(c.Port),
			}, nil
		}
		addr = transport.WildcardAddress(c.Family)
	} else {
		var err error
		addr, err = c.resolver().ResolveAddress(ctx, c.Host, c.Family)
		if err != nil {
			return endpoint{}, fmt.Errorf("%w: %w", ErrAddressResolution, err)
		}
	}

	family := transport.DetectFamily(addr)
	return endpoint{
		network: family.Network(c.Protocol.String()),
		address: netip.AddrPortFrom(addr, uint16(c.Port)).String(),
		family:  family,
	}, nil
}

// logFields 日志公共字段
func (c *Connection) logFields(fields ...zap.Field) []zap.Field {
	return append([]zap.Field{
		zap.String("conn_id", c.ID()),
		zap.String("endpoint", net.JoinHostPort(c.Host, strconv.Itoa(c.Port))),
	}, fields...)
}

type halfCloser interface {
	CloseRead() error
	CloseWrite() error
}

// release 双向关闭后释放连接，关闭过程中的错误被忽略
func release(conn net.Conn) {
	if conn == nil {
		return
	}
	if hc, ok := conn.(halfCloser); ok {
		_ = hc.CloseWrite()
		_ = hc.CloseRead()
	}
	_ = conn.Close()
}

func stamp(v *atomic.Int64) {
	v.Store(time.Now().UnixNano())
}

func loadStamp(v *atomic.Int64) time.Time {
	n := v.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
