package socket

import (
	"context"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	tec "github.com/jbenet/go-temp-err-catcher"
	"github.com/qiminjie89/sockio/pkg/logger"
	"github.com/qiminjie89/sockio/pkg/metrics"
	"github.com/qiminjie89/sockio/pkg/transport"
	"go.uber.org/zap"
)

const (
	roleListener = "listener"

	acceptRetryDelay = 50 * time.Millisecond
)

// Listener 监听并接受入站连接，每个对端对应一个 Client
//
// OnReceive/OnSend/OnException 会镜像到每个接受的对端连接上。
// 关闭监听器不会关闭已接受的对端连接。
type Listener struct {
	Connection

	Backlog       int
	AlwaysReceive bool // 以下三项传递给接受的对端连接
	CloseOnEOF    bool
	QueueLimit    int

	OnListen      func(l *Listener)
	OnAccept      func(peer *Client)
	OnClose       func(l *Listener)
	OnAcceptError func(l *Listener, err error) bool // 返回 true 继续接受

	OnReceive   func(peer *Client, frame []byte)
	OnSend      func(peer *Client, frame []byte)
	OnException func(peer *Client, err error) bool

	ln  net.Listener
	gen uint64

	listenStamp atomic.Int64
	acceptStamp atomic.Int64
}

// NewListener 创建监听器，host 为空时监听通配地址
func NewListener(host string, port int) *Listener {
	return &Listener{
		Connection: Connection{
			Host:     host,
			Port:     port,
			Capacity: DefaultCapacity,
		},
		Backlog: DefaultBacklog,
	}
}

// Listen 绑定并开始接受连接
//
// 失败时返回 false，状态保持不变，错误通过 LastError 获取。
func (l *Listener) Listen() bool {
	if l.Protocol != ProtocolTCP {
		l.listenFailed(ErrUnsupportedProtocol)
		return false
	}
	if l.Active() {
		l.listenFailed(ErrAlreadyListening)
		return false
	}
	l.Clear()

	ep, err := l.resolve(true)
	if err != nil {
		l.listenFailed(err)
		return false
	}

	ln, err := l.Tuning.ListenConfig().Listen(context.Background(), ep.network, ep.address)
	if err != nil {
		l.listenFailed(err)
		return false
	}
	if err := transport.SetBacklog(ln, l.backlog()); err != nil {
		logger.Warn("listener backlog not applied", l.logFields(zap.Error(err))...)
	}

	l.mu.Lock()
	if !l.state.cas(StateIdle, StateListening) {
		l.mu.Unlock()
		_ = ln.Close()
		return false
	}
	l.ln = ln
	l.gen++
	gen := l.gen
	l.mu.Unlock()

	stamp(&l.listenStamp)
	stamp(&l.activityStamp)
	metrics.SocketConnections.WithLabelValues(roleListener).Inc()
	logger.Info("listener started", l.logFields(
		zap.String("addr", ln.Addr().String()),
		zap.Int("backlog", l.backlog()),
	)...)

	if h := l.OnListen; h != nil {
		h(l)
	}
	go l.acceptLoop(ln, gen)
	return true
}

func (l *Listener) listenFailed(err error) {
	l.setLastError(err)
	metrics.SocketExceptions.WithLabelValues(Classify(err).String()).Inc()
	logger.Error("listen failed", l.logFields(zap.Error(err))...)
}

// acceptLoop 持续接受连接直到监听器关闭
func (l *Listener) acceptLoop(ln net.Listener, gen uint64) {
	var catcher tec.TempErrCatcher

	for {
		conn, err := ln.Accept()
		if err != nil {
			if !l.current(gen) || Classify(err) == KindClosed {
				return
			}
			metrics.SocketAcceptErrors.Inc()
			if catcher.IsTemporary(err) {
				continue
			}
			l.setLastError(err)
			if h := l.OnAcceptError; h != nil {
				if !h(l, err) {
					l.Close()
					return
				}
				continue
			}
			logger.Warn("accept failed", l.logFields(zap.Error(err))...)
			time.Sleep(acceptRetryDelay)
			continue
		}
		catcher.Reset()

		if !l.current(gen) {
			_ = conn.Close()
			return
		}
		l.accept(conn)
	}
}

// accept 为新连接创建对端 Client 并镜像监听器的回调
func (l *Listener) accept(conn net.Conn) {
	stamp(&l.acceptStamp)
	stamp(&l.activityStamp)
	metrics.SocketAccepts.Inc()

	if err := l.Tuning.Configure(conn); err != nil {
		logger.Warn("socket tuning failed", l.logFields(zap.Error(err))...)
	}

	peer := l.newPeer(conn)
	peer.attach(conn)

	logger.Debug("connection accepted", l.logFields(
		zap.String("peer_id", peer.ID()),
		zap.String("remote", conn.RemoteAddr().String()),
	)...)

	if h := l.OnAccept; h != nil {
		h(peer)
	}
	if l.AlwaysReceive {
		peer.Receive()
	}
}

func (l *Listener) newPeer(conn net.Conn) *Client {
	peer := &Client{
		Connection: Connection{
			Protocol: l.Protocol,
			Timeout:  l.Timeout,
			Capacity: l.capacity(),
			Tuning:   l.Tuning,
		},
		AlwaysReceive: l.AlwaysReceive,
		CloseOnEOF:    l.CloseOnEOF,
		QueueLimit:    l.QueueLimit,
		role:          rolePeer,
	}

	if ap, err := netip.ParseAddrPort(conn.RemoteAddr().String()); err == nil {
		addr := ap.Addr().Unmap()
		peer.Host = addr.String()
		peer.Port = int(ap.Port())
		peer.Family = transport.DetectFamily(addr)
	}

	peer.OnReceive = func(c *Client, frame []byte) {
		if h := l.OnReceive; h != nil {
			h(c, frame)
		}
	}
	peer.OnSend = func(c *Client, frame []byte) {
		if h := l.OnSend; h != nil {
			h(c, frame)
		}
	}
	if l.OnException != nil {
		peer.OnException = func(c *Client, err error) bool {
			return l.OnException(c, err)
		}
	}
	return peer
}

// Close 停止接受连接并释放监听 socket，幂等
func (l *Listener) Close() {
	l.mu.Lock()
	if l.state.load() != StateListening {
		l.mu.Unlock()
		return
	}
	l.state.store(StateClosing)
	ln := l.ln
	l.ln = nil
	l.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	l.state.store(StateClosed)

	metrics.SocketConnections.WithLabelValues(roleListener).Dec()
	metrics.SocketCloses.WithLabelValues(roleListener).Inc()
	logger.Info("listener closed", l.logFields()...)

	if h := l.OnClose; h != nil {
		h(l)
	}
}

// Clear 将已关闭的监听器复位为初始状态
func (l *Listener) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.clear()
	if l.state.load() != StateIdle {
		return
	}
	l.listenStamp.Store(0)
	l.acceptStamp.Store(0)
}

// Addr 返回实际监听地址，未监听时返回 nil
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

func (l *Listener) current(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen == gen && l.state.load() == StateListening
}

func (l *Listener) backlog() int {
	if l.Backlog <= 0 {
		return DefaultBacklog
	}
	return l.Backlog
}

func (l *Listener) ListenStamp() time.Time { return loadStamp(&l.listenStamp) }
func (l *Listener) AcceptStamp() time.Time { return loadStamp(&l.acceptStamp) }
