package socket

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/qiminjie89/sockio/pkg/logger"
	"github.com/qiminjie89/sockio/pkg/metrics"
	"go.uber.org/zap"
)

const (
	roleClient = "client"
	rolePeer   = "peer"
)

// Client 出站连接，也用于表示监听器接受的对端连接
//
// Connect/Send/Receive 只负责发起操作，完成结果通过回调异步通知。
// 回调在内部 goroutine 中执行，不可阻塞过久。
type Client struct {
	Connection

	AlwaysReceive bool // 每次读完成后自动继续读
	CloseOnEOF    bool // 对端关闭写方向后自动 Close，默认保持连接
	QueueLimit    int  // 接收队列上限，0 使用默认值，负数不限

	OnConnect   func(c *Client)
	OnClose     func(c *Client)
	OnReceive   func(c *Client, frame []byte)
	OnSend      func(c *Client, frame []byte)
	OnException func(c *Client, err error) bool // 返回 true 表示已处理，连接继续

	// 以下字段由 mu 保护
	raw         net.Conn
	gen         uint64 // 每次连接递增，用于识别过期的异步完成
	cancelDial  context.CancelFunc
	connectDone chan struct{}
	sendQ       frameQueue
	sending     bool
	recvQ       frameQueue
	receiving   bool

	role string

	connectStamp atomic.Int64
	sendStamp    atomic.Int64
	receiveStamp atomic.Int64
}

// NewClient 创建客户端连接
func NewClient(host string, port int) *Client {
	return &Client{
		Connection: Connection{
			Host:     host,
			Port:     port,
			Capacity: DefaultCapacity,
		},
	}
}

// Connect 发起异步连接
//
// 已连接时先关闭再重连；已有连接尝试进行中时返回 false。
// 地址解析失败同步报告并返回 false。
func (c *Client) Connect() bool {
	switch c.state.load() {
	case StateConnecting:
		return false
	case StateConnected:
		c.Close()
	}
	c.Clear()

	ep, err := c.resolve(false)
	if err != nil {
		metrics.SocketConnects.WithLabelValues("error").Inc()
		c.raise(err)
		return false
	}

	c.mu.Lock()
	if !c.state.cas(StateIdle, StateConnecting) {
		c.mu.Unlock()
		return false
	}
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancelDial = cancel
	c.connectDone = done
	c.mu.Unlock()

	logger.Debug("socket connecting", c.logFields(
		zap.String("network", ep.network),
		zap.String("address", ep.address),
	)...)

	go c.dial(ctx, cancel, gen, ep, done)
	if c.Timeout > 0 {
		go c.watchConnect(gen, done)
	}
	return true
}

func (c *Client) dial(ctx context.Context, cancel context.CancelFunc, gen uint64, ep endpoint, done chan struct{}) {
	defer cancel()
	started := time.Now()

	conn, err := c.Tuning.Dialer(0).DialContext(ctx, ep.network, ep.address)
	if err != nil {
		c.connectFailed(gen, err, done)
		return
	}

	c.mu.Lock()
	if c.gen != gen || c.state.load() != StateConnecting {
		// 连接已被 Close 或超时放弃
		c.mu.Unlock()
		close(done)
		release(conn)
		return
	}
	if err := c.Tuning.Configure(conn); err != nil {
		logger.Warn("socket tuning failed", c.logFields(zap.Error(err))...)
	}
	c.raw = conn
	c.cancelDial = nil
	c.state.store(StateConnected)
	c.mu.Unlock()
	close(done)

	stamp(&c.connectStamp)
	stamp(&c.activityStamp)
	metrics.SocketConnects.WithLabelValues("ok").Inc()
	metrics.SocketConnectDuration.Observe(time.Since(started).Seconds())
	metrics.SocketConnections.WithLabelValues(c.roleName()).Inc()

	logger.Info("socket connected", c.logFields(
		zap.String("local", conn.LocalAddr().String()),
		zap.String("remote", conn.RemoteAddr().String()),
	)...)

	if h := c.OnConnect; h != nil {
		h(c)
	}
	if c.AlwaysReceive {
		c.Receive()
	}
}

// connectFailed 连接失败，Active 清除，不自动重试
func (c *Client) connectFailed(gen uint64, err error, done chan struct{}) {
	c.mu.Lock()
	if c.gen != gen || c.state.load() != StateConnecting {
		// 已被 Close，以 Close 为准
		c.mu.Unlock()
		close(done)
		return
	}
	c.cancelDial = nil
	c.state.store(StateClosed)
	c.mu.Unlock()

	kind := Classify(err)
	if kind == KindRefused {
		metrics.SocketConnects.WithLabelValues("refused").Inc()
	} else {
		metrics.SocketConnects.WithLabelValues("error").Inc()
	}
	logger.Debug("socket connect failed", c.logFields(zap.Error(err), zap.Stringer("kind", kind))...)

	// 先记录错误再唤醒等待者
	c.setLastError(err)
	close(done)
	c.raise(err)
}

// watchConnect 超时未完成的连接通过 Close 放弃
func (c *Client) watchConnect(gen uint64, done chan struct{}) {
	t := timerPool.acquire(c.Timeout)
	defer timerPool.release(t)

	select {
	case <-done:
		return
	case <-t.C:
	}

	closed := c.closeWhen(func() bool {
		if c.gen != gen || c.state.load() != StateConnecting {
			return false
		}
		c.setLastError(ErrConnectTimeout)
		return true
	})
	if closed {
		metrics.SocketConnects.WithLabelValues("timeout").Inc()
		logger.Info("socket connect timed out", c.logFields(zap.Duration("timeout", c.Timeout))...)
	}
}

// WaitConnected 等待进行中的连接尝试完成
func (c *Client) WaitConnected(ctx context.Context) error {
	c.mu.Lock()
	done := c.connectDone
	c.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if c.Connected() {
		return nil
	}
	if err := c.LastError(); err != nil {
		return err
	}
	return ErrNotConnected
}

// Close 关闭连接，幂等
//
// 仅从活动状态离开时触发一次 OnClose。已接受的对端连接需单独关闭。
func (c *Client) Close() {
	c.closeWhen(nil)
}

// closeWhen 在持锁状态下检查 cond，满足时关闭连接并返回 true
func (c *Client) closeWhen(cond func() bool) bool {
	c.mu.Lock()
	st := c.state.load()
	if !st.active() || (cond != nil && !cond()) {
		c.mu.Unlock()
		return false
	}
	c.state.store(StateClosing)
	raw := c.raw
	cancel := c.cancelDial
	c.raw = nil
	c.cancelDial = nil
	c.sending = false
	c.receiving = false
	if n := c.sendQ.Len(); n > 0 {
		metrics.SocketFramesDropped.WithLabelValues("send").Add(float64(n))
	}
	c.sendQ.Reset()
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	release(raw)
	c.state.store(StateClosed)

	if st == StateConnected {
		metrics.SocketConnections.WithLabelValues(c.roleName()).Dec()
	}
	metrics.SocketCloses.WithLabelValues(c.roleName()).Inc()
	logger.Info("socket closed", c.logFields(zap.Stringer("from", st))...)

	if h := c.OnClose; h != nil {
		h(c)
	}
	return true
}

// Clear 将已关闭的连接复位为初始状态
//
// 活动中的连接不受影响；接收队列中未取走的帧被丢弃。
func (c *Client) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clear()
	if c.state.load() != StateIdle {
		return
	}
	c.connectStamp.Store(0)
	c.sendStamp.Store(0)
	c.receiveStamp.Store(0)
	c.connectDone = nil
	c.sendQ.Reset()
	c.recvQ.Reset()
}

// raise 分发异常，返回 true 表示已被 OnException 处理
//
// 没有注册处理函数时记录错误日志并保存为 LastError。
func (c *Client) raise(err error) bool {
	kind := Classify(err)
	if kind == KindClosed {
		return true
	}
	metrics.SocketExceptions.WithLabelValues(kind.String()).Inc()

	if h := c.OnException; h != nil {
		if h(c, err) {
			return true
		}
		c.setLastError(err)
		return false
	}

	c.setLastError(err)
	logger.Error("socket error", c.logFields(zap.Error(err), zap.Stringer("kind", kind))...)
	return false
}

// fail 处理异步 I/O 错误：瞬时/拒绝类错误或未被处理的错误关闭连接
func (c *Client) fail(gen uint64, err error) {
	kind := Classify(err)
	if kind == KindClosed || !c.current(gen) {
		return
	}
	suppressed := c.raise(err)
	if kind == KindTransient || kind == KindRefused || !suppressed {
		c.closeWhen(func() bool { return c.gen == gen })
	}
}

// current 判断 gen 对应的连接是否仍然有效
func (c *Client) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen && c.state.load() == StateConnected
}

// attach 将已接受的连接交给客户端，直接进入 Connected
func (c *Client) attach(conn net.Conn) {
	c.mu.Lock()
	c.raw = conn
	c.gen++
	c.state.store(StateConnected)
	c.mu.Unlock()

	stamp(&c.connectStamp)
	stamp(&c.activityStamp)
	metrics.SocketConnections.WithLabelValues(c.roleName()).Inc()
}

func (c *Client) roleName() string {
	if c.role == "" {
		return roleClient
	}
	return c.role
}

func (c *Client) queueLimit() int {
	if c.QueueLimit == 0 {
		return DefaultQueueLimit
	}
	return c.QueueLimit
}

// Dequeue 取出接收队列中最早的帧
func (c *Client) Dequeue() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recvQ.Pop()
}

// Pending 接收队列中的帧数
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recvQ.Len()
}

// SendPending 发送队列中尚未完成的帧数
func (c *Client) SendPending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendQ.Len()
}

// LocalAddr 本地地址，未连接时返回 nil
func (c *Client) LocalAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.raw == nil {
		return nil
	}
	return c.raw.LocalAddr()
}

// RemoteAddr 远端地址，未连接时返回 nil
func (c *Client) RemoteAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.raw == nil {
		return nil
	}
	return c.raw.RemoteAddr()
}

func (c *Client) ConnectStamp() time.Time { return loadStamp(&c.connectStamp) }
func (c *Client) SendStamp() time.Time    { return loadStamp(&c.sendStamp) }
func (c *Client) ReceiveStamp() time.Time { return loadStamp(&c.receiveStamp) }
