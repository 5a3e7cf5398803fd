// Package echo 实现基于 socket.Listener 的回显服务
package echo

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/qiminjie89/sockio/pkg/config"
	"github.com/qiminjie89/sockio/pkg/logger"
	"github.com/qiminjie89/sockio/pkg/socket"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Server 回显服务器
type Server struct {
	cfg *config.EchoServerConfig

	listener *socket.Listener

	// 已接受的对端连接
	peers   map[string]*socket.Client // conn_id → peer
	stopped bool                      // Stop 之后接受的对端直接关闭
	peerMu  sync.RWMutex

	health    *http.Server
	healthLn  net.Listener
	startTime time.Time
	wg        sync.WaitGroup
}

// NewServer 创建回显服务器
func NewServer(cfg *config.EchoServerConfig) (*Server, error) {
	l, err := socket.NewListenerFromConfig(cfg.Listener)
	if err != nil {
		return nil, fmt.Errorf("listener config: %w", err)
	}
	// 每个对端都持续接收，对端关闭写方向即结束
	l.AlwaysReceive = true
	l.CloseOnEOF = true

	s := &Server{
		cfg:      cfg,
		listener: l,
		peers:    make(map[string]*socket.Client),
	}

	l.OnAccept = s.onAccept
	l.OnReceive = s.onReceive
	l.OnException = s.onException
	return s, nil
}

// Start 启动服务
func (s *Server) Start() error {
	logger.Info("starting echo server",
		zap.String("id", s.cfg.Server.ID),
		zap.String("host", s.cfg.Listener.Host),
		zap.Int("port", s.cfg.Listener.Port),
	)

	s.startTime = time.Now()
	if !s.listener.Listen() {
		return fmt.Errorf("listen: %w", s.listener.LastError())
	}

	if s.cfg.Server.HealthAddr != "" {
		if err := s.startHealthServer(); err != nil {
			s.listener.Close()
			return err
		}
	}

	logger.Info("echo server started", zap.String("addr", s.Addr().String()))
	return nil
}

// Stop 停止服务：先停止接受新连接，再关闭所有对端
func (s *Server) Stop() error {
	logger.Info("stopping echo server")

	s.listener.Close()

	s.peerMu.Lock()
	s.stopped = true
	peers := make([]*socket.Client, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.peerMu.Unlock()

	for _, p := range peers {
		p.Close()
	}

	var err error
	if s.health != nil {
		err = multierr.Append(err, s.health.Close())
	}
	s.wg.Wait()

	logger.Info("echo server stopped", zap.Int("peers_closed", len(peers)))
	return err
}

// Addr 返回监听地址
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// HealthAddr 返回健康检查服务地址
func (s *Server) HealthAddr() net.Addr {
	if s.healthLn == nil {
		return nil
	}
	return s.healthLn.Addr()
}

// PeerCount 当前对端连接数
func (s *Server) PeerCount() int {
	s.peerMu.RLock()
	defer s.peerMu.RUnlock()
	return len(s.peers)
}

func (s *Server) onAccept(peer *socket.Client) {
	peer.OnClose = s.onPeerClose

	s.peerMu.Lock()
	if s.stopped {
		s.peerMu.Unlock()
		peer.Close()
		return
	}
	s.peers[peer.ID()] = peer
	s.peerMu.Unlock()

	logger.Debug("peer accepted",
		zap.String("conn_id", peer.ID()),
		zap.String("host", peer.Host),
		zap.Int("port", peer.Port),
	)
}

func (s *Server) onPeerClose(peer *socket.Client) {
	s.peerMu.Lock()
	delete(s.peers, peer.ID())
	s.peerMu.Unlock()

	logger.Debug("peer closed", zap.String("conn_id", peer.ID()))
}

func (s *Server) onReceive(peer *socket.Client, frame []byte) {
	if !peer.Send(frame) {
		logger.Debug("echo dropped, peer not connected", zap.String("conn_id", peer.ID()))
	}
}

func (s *Server) onException(peer *socket.Client, err error) bool {
	logger.Warn("peer error",
		zap.String("conn_id", peer.ID()),
		zap.Stringer("kind", socket.Classify(err)),
		zap.Error(err),
	)
	// 未知错误同样关闭对端
	return false
}
