package echo

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/qiminjie89/sockio/pkg/logger"
	"go.uber.org/zap"
)

// HealthStatus 健康状态
type HealthStatus struct {
	Status        string  `json:"status"`
	Reason        string  `json:"reason,omitempty"`
	Listening     bool    `json:"listening"`
	Peers         int     `json:"peers"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// startHealthServer 启动健康检查与监控服务
func (s *Server) startHealthServer() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	if s.cfg.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	ln, err := net.Listen("tcp", s.cfg.Server.HealthAddr)
	if err != nil {
		return err
	}
	s.healthLn = ln
	s.health = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting health server", zap.String("addr", ln.Addr().String()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.health.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("health server error", zap.Error(err))
		}
	}()
	return nil
}

// healthHandler 健康检查处理
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := &HealthStatus{
		Listening:     s.listener.Active(),
		Peers:         s.PeerCount(),
		UptimeSeconds: time.Since(s.startTime).Seconds(),
	}

	w.Header().Set("Content-Type", "application/json")
	if health.Listening {
		health.Status = "healthy"
		w.WriteHeader(http.StatusOK)
	} else {
		health.Status = "unhealthy"
		health.Reason = "listener_closed"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(health)
}
