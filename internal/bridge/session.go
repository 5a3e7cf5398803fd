package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/qiminjie89/sockio/internal/protocol"
	"github.com/qiminjie89/sockio/pkg/config"
	"github.com/qiminjie89/sockio/pkg/logger"
	"github.com/qiminjie89/sockio/pkg/metrics"
	"github.com/qiminjie89/sockio/pkg/socket"
	"github.com/qiminjie89/sockio/pkg/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const outQueueSize = 256

var (
	errClientClosed   = errors.New("client closed")
	errUpstreamClosed = errors.New("upstream closed")
)

// Session 一个 WebSocket 客户端与一条上游 socket 连接的配对
type Session struct {
	ID      string
	Subject string

	cfg      *config.BridgeConfig
	ws       *transport.WebSocketConn
	upstream *socket.Client

	out  chan *protocol.Envelope
	done chan struct{}

	established    atomic.Bool
	upstreamClosed chan struct{}
	closedOnce     sync.Once
}

func newSession(cfg *config.BridgeConfig, ws *transport.WebSocketConn) (*Session, error) {
	upstream, err := socket.NewClientFromConfig(cfg.Upstream)
	if err != nil {
		return nil, err
	}
	upstream.AlwaysReceive = true
	upstream.CloseOnEOF = true

	s := &Session{
		ID:             uuid.New().String(),
		Subject:        ws.Subject,
		cfg:            cfg,
		ws:             ws,
		upstream:       upstream,
		out:            make(chan *protocol.Envelope, outQueueSize),
		done:           make(chan struct{}),
		upstreamClosed: make(chan struct{}),
	}

	upstream.OnReceive = s.onUpstreamReceive
	upstream.OnClose = s.onUpstreamClose
	upstream.OnException = s.onUpstreamException
	return s, nil
}

// Run 连接上游并转发消息，直到任一方关闭
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)

	logger.Info("bridge session started",
		zap.String("session_id", s.ID),
		zap.String("subject", s.Subject),
		zap.String("remote_addr", s.ws.RemoteAddr()),
	)

	if err := s.connectUpstream(ctx); err != nil {
		s.fail(protocol.ErrCodeUpstreamUnavailable, err)
		return err
	}

	s.established.Store(true)
	// 建立期间上游已关闭
	if !s.upstream.Connected() {
		s.signalUpstreamClosed()
	}
	upstreamAddr := ""
	if addr := s.upstream.RemoteAddr(); addr != nil {
		upstreamAddr = addr.String()
	}
	s.enqueue(protocol.NewConnected(upstreamAddr))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readPump() })
	g.Go(func() error { return s.writePump(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		s.upstream.Close()
		s.ws.Close()
		return nil
	})

	err := g.Wait()
	s.recordClose(err)
	if errors.Is(err, errClientClosed) || errors.Is(err, errUpstreamClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// connectUpstream 按退避策略重试连接上游
func (s *Session) connectUpstream(ctx context.Context) error {
	b := &backoff.Backoff{
		Factor: 2,
		Jitter: true,
		Min:    s.cfg.Reconnect.MinInterval,
		Max:    s.cfg.Reconnect.MaxInterval,
	}

	for attempt := 1; ; attempt++ {
		err := s.connectOnce(ctx)
		if err == nil {
			return nil
		}
		if attempt >= s.cfg.Reconnect.Attempts || ctx.Err() != nil {
			return fmt.Errorf("upstream connect failed after %d attempts: %w", attempt, err)
		}

		d := b.Duration()
		metrics.BridgeUpstreamRetries.Inc()
		logger.Debug("retrying upstream connect",
			zap.String("session_id", s.ID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", d),
			zap.Error(err),
		)

		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) connectOnce(ctx context.Context) error {
	if !s.upstream.Connect() {
		if err := s.upstream.LastError(); err != nil {
			return err
		}
		return socket.ErrNotConnected
	}
	if err := s.upstream.WaitConnected(ctx); err != nil {
		s.upstream.Close()
		return err
	}
	return nil
}

// readPump WebSocket → 上游
func (s *Session) readPump() error {
	for {
		data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errClientClosed
			}
			return fmt.Errorf("websocket read: %w", err)
		}

		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			s.enqueue(protocol.NewError(protocol.ErrCodeInvalidRequest, err.Error()))
			continue
		}

		switch env.Type {
		case protocol.MsgTypeData:
			if len(env.Data) == 0 {
				continue
			}
			if !s.upstream.Send(env.Data) {
				s.enqueue(protocol.NewError(protocol.ErrCodeNotConnected, ""))
			}
		case protocol.MsgTypeClose:
			return errClientClosed
		default:
			s.enqueue(protocol.NewError(protocol.ErrCodeInvalidRequest, "unexpected message type"))
		}
	}
}

// writePump 发送队列 → WebSocket
func (s *Session) writePump(ctx context.Context) error {
	for {
		select {
		case env := <-s.out:
			if err := s.write(env); err != nil {
				return err
			}

		case <-s.upstreamClosed:
			// 先发出关闭前已收到的数据
			for {
				select {
				case env := <-s.out:
					if err := s.write(env); err != nil {
						return err
					}
					continue
				default:
				}
				break
			}
			_ = s.write(protocol.NewClosed("upstream closed"))
			_ = s.ws.CloseWithReason(websocket.CloseNormalClosure, "upstream closed")
			return errUpstreamClosed

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) write(env *protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if s.cfg.WebSocket.WriteTimeout > 0 {
		_ = s.ws.SetWriteDeadline(time.Now().Add(s.cfg.WebSocket.WriteTimeout))
	}
	if err := s.ws.WriteMessage(data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// enqueue 投递到写队列，会话结束后丢弃
func (s *Session) enqueue(env *protocol.Envelope) {
	select {
	case s.out <- env:
	case <-s.done:
	}
}

// fail 在写循环启动前直接通知客户端并关闭
func (s *Session) fail(code int, err error) {
	logger.Warn("bridge session failed",
		zap.String("session_id", s.ID),
		zap.Int("code", code),
		zap.Error(err),
	)
	metrics.BridgeSessionCloseReason.WithLabelValues(protocol.ErrCodeMessage[code]).Inc()

	_ = s.write(protocol.NewError(code, err.Error()))
	_ = s.ws.CloseWithReason(websocket.CloseTryAgainLater, protocol.ErrCodeMessage[code])
	s.upstream.Close()
}

func (s *Session) recordClose(err error) {
	reason := "error"
	switch {
	case errors.Is(err, errClientClosed):
		reason = "client_closed"
	case errors.Is(err, errUpstreamClosed):
		reason = "upstream_closed"
	case errors.Is(err, context.Canceled):
		reason = "shutdown"
	}
	metrics.BridgeSessionCloseReason.WithLabelValues(reason).Inc()

	logger.Info("bridge session closed",
		zap.String("session_id", s.ID),
		zap.String("reason", reason),
		zap.Error(err),
	)
}

func (s *Session) signalUpstreamClosed() {
	s.closedOnce.Do(func() { close(s.upstreamClosed) })
}

func (s *Session) onUpstreamReceive(_ *socket.Client, frame []byte) {
	s.enqueue(protocol.NewData(frame))
}

func (s *Session) onUpstreamClose(*socket.Client) {
	// 连接阶段的失败由 connectUpstream 处理
	if !s.established.Load() {
		return
	}
	s.signalUpstreamClosed()
}

func (s *Session) onUpstreamException(_ *socket.Client, err error) bool {
	if !s.established.Load() {
		return true
	}
	s.enqueue(protocol.NewError(protocol.ErrCodeUpstreamError, err.Error()))
	// 上游出错即关闭，由 OnClose 结束会话
	return false
}

// Close 结束会话
func (s *Session) Close() {
	s.upstream.Close()
	s.ws.Close()
}
