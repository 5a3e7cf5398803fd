// Package metrics 提供 Prometheus 监控指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Socket 指标
var (
	// 连接指标（role: client, peer, listener）
	SocketConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sockio_connections",
		Help: "Number of open sockets by role",
	}, []string{"role"})

	SocketConnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sockio_connects_total",
		Help: "Outbound connect attempts by result",
	}, []string{"result"}) // ok, refused, timeout, error

	SocketConnectDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sockio_connect_duration_seconds",
		Help:    "Time from Connect to handshake completion",
		Buckets: prometheus.DefBuckets,
	})

	SocketAccepts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sockio_accepts_total",
		Help: "Total inbound connections accepted",
	})

	SocketAcceptErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sockio_accept_errors_total",
		Help: "Total failed accepts",
	})

	// 流量指标
	SocketBytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sockio_bytes_sent_total",
		Help: "Total bytes written to sockets",
	})

	SocketBytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sockio_bytes_received_total",
		Help: "Total bytes read from sockets",
	})

	SocketFramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sockio_frames_sent_total",
		Help: "Total frames completed by the send loop",
	})

	SocketFramesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sockio_frames_received_total",
		Help: "Total frames flushed by the receive loop",
	})

	SocketFramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sockio_frames_dropped_total",
		Help: "Frames dropped because a queue limit was reached",
	}, []string{"queue"}) // send, receive

	SocketPartialWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sockio_partial_writes_total",
		Help: "Writes whose confirmed byte count differed from the frame length",
	})

	// 异常与关闭
	SocketExceptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sockio_exceptions_total",
		Help: "Errors surfaced by asynchronous socket operations",
	}, []string{"kind"})

	SocketCloses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sockio_close_total",
		Help: "Socket close count by role",
	}, []string{"role"})
)

// Bridge 指标
var (
	BridgeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sockio_bridge_sessions",
		Help: "Number of active websocket bridge sessions",
	})

	BridgeSessionCloseReason = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sockio_bridge_session_close_total",
		Help: "Bridge session close count by reason",
	}, []string{"reason"})

	BridgeAuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sockio_bridge_auth_failures_total",
		Help: "Websocket sessions rejected during authentication",
	})

	BridgeUpstreamRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sockio_bridge_upstream_retries_total",
		Help: "Upstream connect retries performed by the bridge",
	})
)
