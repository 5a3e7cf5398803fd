package socket

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestListenerAcceptsConcurrentClients(t *testing.T) {
	defer goleak.VerifyNone(t)

	accepted := make(chan *Client, 2)
	l := newLoopbackListener()
	l.Backlog = 1
	l.OnAccept = func(peer *Client) { accepted <- peer }
	port := startListener(t, l)
	defer l.Close()

	clients := []*Client{newLoopbackClient(port), newLoopbackClient(port)}
	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			c.Connect()
		}(c)
	}
	wg.Wait()
	for _, c := range clients {
		defer c.Close()
	}

	first := waitPeer(t, accepted)
	defer first.Close()
	second := waitPeer(t, accepted)
	defer second.Close()

	assert.NotEqual(t, first.ID(), second.ID())
	assert.NotEqual(t, first.Port, second.Port)
	assert.Equal(t, "127.0.0.1", first.Host)
	assert.True(t, first.Connected())
	assert.True(t, second.Connected())
	assert.False(t, l.AcceptStamp().IsZero())
}

func TestListenerCloseKeepsPeers(t *testing.T) {
	defer goleak.VerifyNone(t)

	accepted := make(chan *Client, 1)
	serverFrames := make(chan string, 4)

	var listenerCloses atomic.Int32
	l := newLoopbackListener()
	l.AlwaysReceive = true
	l.OnAccept = func(peer *Client) { accepted <- peer }
	l.OnReceive = func(peer *Client, frame []byte) {
		serverFrames <- string(frame)
		peer.Send(frame)
	}
	l.OnClose = func(*Listener) { listenerCloses.Add(1) }
	port := startListener(t, l)

	clientFrames := make(chan string, 4)
	c := newLoopbackClient(port)
	c.AlwaysReceive = true
	c.OnReceive = func(_ *Client, frame []byte) { clientFrames <- string(frame) }
	connectClient(t, c)
	defer c.Close()
	peer := waitPeer(t, accepted)
	defer peer.Close()

	l.Close()
	l.Close()
	assert.Equal(t, int32(1), listenerCloses.Load())
	assert.False(t, l.Active())
	assert.Nil(t, l.Addr())

	// 已接受的连接不受监听器关闭影响
	assert.True(t, peer.Connected())
	require.True(t, c.Send([]byte("still here")))
	assert.Equal(t, "still here", waitString(t, serverFrames))
	assert.Equal(t, "still here", waitString(t, clientFrames))
}

func TestListenerAddressInUse(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := newLoopbackListener()
	port := startListener(t, l)
	defer l.Close()

	var listens atomic.Int32
	other := newLoopbackListener()
	other.Port = port
	other.OnListen = func(*Listener) { listens.Add(1) }

	assert.False(t, other.Listen())
	assert.Equal(t, StateIdle, other.State())
	assert.Error(t, other.LastError())
	assert.Equal(t, int32(0), listens.Load())
}

func TestListenerRejectsUDP(t *testing.T) {
	l := newLoopbackListener()
	l.Protocol = ProtocolUDP

	assert.False(t, l.Listen())
	assert.ErrorIs(t, l.LastError(), ErrUnsupportedProtocol)
	assert.Equal(t, StateIdle, l.State())
}

func TestListenerRelisten(t *testing.T) {
	defer goleak.VerifyNone(t)

	var listens atomic.Int32
	l := newLoopbackListener()
	l.OnListen = func(*Listener) { listens.Add(1) }
	startListener(t, l)

	assert.False(t, l.Listen())
	assert.ErrorIs(t, l.LastError(), ErrAlreadyListening)

	l.Close()
	assert.Equal(t, StateClosed, l.State())

	port := startListener(t, l)
	defer l.Close()
	assert.Equal(t, int32(2), listens.Load())
	assert.Nil(t, l.LastError())
	assert.False(t, l.ListenStamp().IsZero())

	conn, err := net.DialTimeout("tcp4", l.Addr().String(), time.Second)
	require.NoError(t, err)
	conn.Close()
	assert.NotZero(t, port)
}

func TestListenerMirrorsException(t *testing.T) {
	defer goleak.VerifyNone(t)

	accepted := make(chan *Client, 1)
	errs := make(chan error, 1)

	l := newLoopbackListener()
	l.CloseOnEOF = true
	l.OnAccept = func(peer *Client) { accepted <- peer }
	l.OnException = func(_ *Client, err error) bool {
		errs <- err
		return true
	}
	port := startListener(t, l)
	defer l.Close()

	c := newLoopbackClient(port)
	connectClient(t, c)
	peer := waitPeer(t, accepted)
	defer peer.Close()
	require.NotNil(t, peer.OnException)

	// 关闭客户端后对端读到 EOF 并自动关闭，不会产生异常
	c.Close()
	require.True(t, peer.Receive())
	require.Eventually(t, func() bool { return !peer.Active() }, waitTimeout, 5*time.Millisecond)
	assert.Len(t, errs, 0)

	assert.True(t, peer.OnException(peer, net.ErrClosed))
	assert.Len(t, errs, 1)
}
