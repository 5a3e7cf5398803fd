package echo

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/qiminjie89/sockio/pkg/config"
	"github.com/qiminjie89/sockio/pkg/socket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := &config.EchoServerConfig{
		Server: config.ServerConfig{
			ID:         "echo-test",
			HealthAddr: "127.0.0.1:0",
		},
		Listener: config.ListenerConfig{
			Host:   "127.0.0.1",
			Family: "ipv4",
		},
		Metrics: config.MetricsConfig{Enabled: true},
	}
	cfg.ApplyDefaults()

	s, err := NewServer(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	return s
}

func dialEcho(t *testing.T, s *Server) (*socket.Client, chan []byte, chan struct{}) {
	t.Helper()

	frames := make(chan []byte, 16)
	closed := make(chan struct{}, 1)

	c := socket.NewClient("127.0.0.1", s.Addr().(*net.TCPAddr).Port)
	c.AlwaysReceive = true
	c.CloseOnEOF = true
	c.OnReceive = func(_ *socket.Client, frame []byte) { frames <- frame }
	c.OnClose = func(*socket.Client) { closed <- struct{}{} }

	require.True(t, c.Connect())
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, c.WaitConnected(ctx))
	return c, frames, closed
}

func TestEchoRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestServer(t)
	defer s.Stop()

	c, frames, _ := dialEcho(t, s)
	defer c.Close()

	require.Eventually(t, func() bool { return s.PeerCount() == 1 }, 3*time.Second, 5*time.Millisecond)

	require.True(t, c.Send([]byte("hello")))
	select {
	case f := <-frames:
		assert.Equal(t, "hello", string(f))
	case <-time.After(3 * time.Second):
		t.Fatal("no echo")
	}

	c.Close()
	require.Eventually(t, func() bool { return s.PeerCount() == 0 }, 3*time.Second, 5*time.Millisecond)
}

func TestEchoStopClosesPeers(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestServer(t)
	c, _, closed := dialEcho(t, s)
	defer c.Close()

	require.Eventually(t, func() bool { return s.PeerCount() == 1 }, 3*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("client not closed after server stop")
	}
	assert.Equal(t, 0, s.PeerCount())
}

func TestEchoAcceptAfterStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestServer(t)
	require.NoError(t, s.Stop())

	// 监听器关闭前已接受、回调晚于 Stop 到达的对端
	accepted := make(chan *socket.Client, 1)
	l := socket.NewListener("127.0.0.1", 0)
	l.OnAccept = func(peer *socket.Client) { accepted <- peer }
	require.True(t, l.Listen())
	defer l.Close()

	c := socket.NewClient("127.0.0.1", l.Addr().(*net.TCPAddr).Port)
	require.True(t, c.Connect())
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, c.WaitConnected(ctx))
	defer c.Close()

	var peer *socket.Client
	select {
	case peer = <-accepted:
	case <-time.After(3 * time.Second):
		t.Fatal("no peer accepted")
	}
	defer peer.Close()

	s.onAccept(peer)
	assert.False(t, peer.Active())
	assert.Equal(t, 0, s.PeerCount())
}

func TestEchoHealth(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestServer(t)
	defer s.Stop()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}

	resp, err := client.Get("http://" + s.HealthAddr().String() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health HealthStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.True(t, health.Listening)

	metricsResp, err := client.Get("http://" + s.HealthAddr().String() + "/metrics")
	require.NoError(t, err)
	metricsResp.Body.Close()
	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)
}

func TestEchoStartFailsOnBusyPort(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestServer(t)
	defer s.Stop()

	cfg := &config.EchoServerConfig{
		Listener: config.ListenerConfig{
			Host:   "127.0.0.1",
			Port:   s.Addr().(*net.TCPAddr).Port,
			Family: "ipv4",
		},
	}
	cfg.ApplyDefaults()

	other, err := NewServer(cfg)
	require.NoError(t, err)
	assert.Error(t, other.Start())
}
