// Package bridge 实现 WebSocket 到原始 socket 的桥接服务
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/qiminjie89/sockio/pkg/auth"
	"github.com/qiminjie89/sockio/pkg/config"
	"github.com/qiminjie89/sockio/pkg/logger"
	"github.com/qiminjie89/sockio/pkg/metrics"
	"github.com/qiminjie89/sockio/pkg/transport"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const anonymousSubject = "anonymous"

// Server 桥接服务器
type Server struct {
	cfg *config.BridgeConfig

	transport *transport.WebSocketTransport
	validator *auth.Validator // nil 表示不鉴权

	sessions  map[string]*Session
	sessionMu sync.RWMutex

	health    *http.Server
	healthLn  net.Listener
	startTime time.Time

	// 生命周期
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer 创建桥接服务器
func NewServer(cfg *config.BridgeConfig) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		ctx:      ctx,
		cancel:   cancel,
	}
	if cfg.Auth.Secret != "" || cfg.Auth.AllowDev {
		s.validator = auth.NewValidator(cfg.Auth.Secret, cfg.Auth.AllowDev)
	}
	s.transport = transport.NewWebSocketTransport(cfg.WebSocket, s.authorize)
	return s
}

// Start 启动服务
func (s *Server) Start() error {
	logger.Info("starting bridge server",
		zap.String("id", s.cfg.Server.ID),
		zap.String("addr", s.cfg.Server.Addr),
		zap.String("upstream", net.JoinHostPort(s.cfg.Upstream.Host, fmt.Sprint(s.cfg.Upstream.Port))),
	)

	s.startTime = time.Now()
	if err := s.transport.Listen(s.cfg.Server.Addr); err != nil {
		return fmt.Errorf("websocket listen: %w", err)
	}

	if s.cfg.Server.HealthAddr != "" {
		if err := s.startHealthServer(); err != nil {
			s.transport.Close()
			return err
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()

	logger.Info("bridge server started", zap.String("addr", s.Addr().String()))
	return nil
}

// Stop 停止服务并关闭所有会话
func (s *Server) Stop() error {
	logger.Info("stopping bridge server")
	s.cancel()

	err := s.transport.Close()

	s.sessionMu.RLock()
	for _, sess := range s.sessions {
		sess.Close()
	}
	s.sessionMu.RUnlock()

	if s.health != nil {
		err = multierr.Append(err, s.health.Close())
	}
	s.wg.Wait()

	logger.Info("bridge server stopped")
	return err
}

// Addr 返回 WebSocket 监听地址
func (s *Server) Addr() net.Addr {
	return s.transport.Addr()
}

// HealthAddr 返回健康检查服务地址
func (s *Server) HealthAddr() net.Addr {
	if s.healthLn == nil {
		return nil
	}
	return s.healthLn.Addr()
}

// SessionCount 当前会话数
func (s *Server) SessionCount() int {
	s.sessionMu.RLock()
	defer s.sessionMu.RUnlock()
	return len(s.sessions)
}

func (s *Server) acceptLoop() {
	for {
		ws, err := s.transport.Accept()
		if err != nil {
			if !errors.Is(err, transport.ErrTransportClosed) {
				logger.Error("bridge accept failed", zap.Error(err))
			}
			return
		}

		sess, err := newSession(s.cfg, ws)
		if err != nil {
			logger.Error("create session failed", zap.Error(err))
			ws.Close()
			continue
		}

		s.addSession(sess)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.removeSession(sess.ID)
			if err := sess.Run(s.ctx); err != nil {
				logger.Debug("session ended with error",
					zap.String("session_id", sess.ID),
					zap.Error(err),
				)
			}
		}()
	}
}

func (s *Server) addSession(sess *Session) {
	s.sessionMu.Lock()
	s.sessions[sess.ID] = sess
	s.sessionMu.Unlock()
	metrics.BridgeSessions.Inc()
}

func (s *Server) removeSession(id string) {
	s.sessionMu.Lock()
	delete(s.sessions, id)
	s.sessionMu.Unlock()
	metrics.BridgeSessions.Dec()
}

// authorize 校验 ?token= 参数
func (s *Server) authorize(r *http.Request) (string, error) {
	if s.validator == nil {
		return anonymousSubject, nil
	}

	claims, err := s.validator.Validate(r.URL.Query().Get("token"))
	if err != nil {
		metrics.BridgeAuthFailures.Inc()
		return "", err
	}
	return claims.Subject, nil
}
