package socket

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/qiminjie89/sockio/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const waitTimeout = 3 * time.Second

// startListener 在回环地址的临时端口上启动监听器
func startListener(t *testing.T, l *Listener) int {
	t.Helper()
	require.True(t, l.Listen(), "listen: %v", l.LastError())
	addr, ok := l.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return addr.Port
}

func newLoopbackListener() *Listener {
	l := NewListener("127.0.0.1", 0)
	l.Family = transport.FamilyIPv4
	return l
}

func newLoopbackClient(port int) *Client {
	c := NewClient("127.0.0.1", port)
	c.Family = transport.FamilyIPv4
	return c
}

func connectClient(t *testing.T, c *Client) {
	t.Helper()
	require.True(t, c.Connect())
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, c.WaitConnected(ctx))
}

func waitPeer(t *testing.T, ch <-chan *Client) *Client {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for accept")
		return nil
	}
}

func waitString(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for frame")
		return ""
	}
}

// collector 并发安全地拼接收到的帧
type collector struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	frames int
}

func (c *collector) add(frame []byte) {
	c.mu.Lock()
	c.buf.Write(frame)
	c.frames++
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Len()
}

func (c *collector) bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.buf.Bytes()...)
}

type failingResolver struct{}

func (failingResolver) ResolveAddress(context.Context, string, transport.Family) (netip.Addr, error) {
	return netip.Addr{}, transport.ErrNoAddress
}

func TestClientPingPong(t *testing.T) {
	defer goleak.VerifyNone(t)

	serverFrames := make(chan string, 4)
	accepted := make(chan *Client, 1)

	l := newLoopbackListener()
	l.AlwaysReceive = true
	l.OnAccept = func(peer *Client) { accepted <- peer }
	l.OnReceive = func(peer *Client, frame []byte) {
		serverFrames <- string(frame)
		peer.Send([]byte("PONG"))
	}
	port := startListener(t, l)
	defer l.Close()

	clientFrames := make(chan string, 4)
	c := newLoopbackClient(port)
	c.AlwaysReceive = true
	c.OnReceive = func(_ *Client, frame []byte) { clientFrames <- string(frame) }
	connectClient(t, c)
	defer c.Close()

	peer := waitPeer(t, accepted)
	defer peer.Close()

	require.True(t, c.Send([]byte("PING")))
	assert.Equal(t, "PING", waitString(t, serverFrames))
	assert.Equal(t, "PONG", waitString(t, clientFrames))

	assert.False(t, c.ConnectStamp().IsZero())
	assert.False(t, c.SendStamp().IsZero())
	assert.False(t, c.ReceiveStamp().IsZero())
	assert.NotNil(t, c.LocalAddr())
	assert.Equal(t, peer.Port, c.LocalAddr().(*net.TCPAddr).Port)
}

func TestClientSendFIFO(t *testing.T) {
	defer goleak.VerifyNone(t)

	accepted := make(chan *Client, 1)
	var received collector

	l := newLoopbackListener()
	l.AlwaysReceive = true
	l.OnAccept = func(peer *Client) { accepted <- peer }
	l.OnReceive = func(_ *Client, frame []byte) { received.add(frame) }
	port := startListener(t, l)
	defer l.Close()

	var (
		mu   sync.Mutex
		sent []string
	)
	c := newLoopbackClient(port)
	c.OnSend = func(_ *Client, frame []byte) {
		mu.Lock()
		sent = append(sent, string(frame))
		mu.Unlock()
	}
	connectClient(t, c)
	defer c.Close()
	peer := waitPeer(t, accepted)
	defer peer.Close()

	frames := []string{"f1-", "f2--", "f3---"}
	for _, f := range frames {
		require.True(t, c.Send([]byte(f)))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sent) == len(frames)
	}, waitTimeout, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, frames, sent)
	mu.Unlock()

	want := "f1-f2--f3---"
	require.Eventually(t, func() bool { return received.len() == len(want) }, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, want, string(received.bytes()))
	assert.Equal(t, 0, c.SendPending())
}

func TestClientSingleOutstandingReceive(t *testing.T) {
	defer goleak.VerifyNone(t)

	accepted := make(chan *Client, 1)
	l := newLoopbackListener()
	l.OnAccept = func(peer *Client) { accepted <- peer }
	port := startListener(t, l)
	defer l.Close()

	frames := make(chan string, 4)
	c := newLoopbackClient(port)
	c.OnReceive = func(_ *Client, frame []byte) { frames <- string(frame) }
	connectClient(t, c)
	defer c.Close()
	peer := waitPeer(t, accepted)
	defer peer.Close()

	require.True(t, c.Receive())
	c.mu.Lock()
	inFlight := c.receiving
	c.mu.Unlock()
	require.True(t, inFlight)

	// 读操作进行中再次调用不产生副作用
	require.True(t, c.Receive())
	require.True(t, c.Receive())

	require.True(t, peer.Send([]byte("abc")))
	assert.Equal(t, "abc", waitString(t, frames))

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return !c.receiving
	}, waitTimeout, 5*time.Millisecond)

	assert.Equal(t, 1, c.Pending())
	frame, ok := c.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "abc", string(frame))
	assert.Equal(t, 0, c.Pending())
}

func TestClientCloseIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	accepted := make(chan *Client, 1)
	l := newLoopbackListener()
	l.OnAccept = func(peer *Client) { accepted <- peer }
	port := startListener(t, l)
	defer l.Close()

	var closes atomic.Int32
	c := newLoopbackClient(port)
	c.OnClose = func(*Client) { closes.Add(1) }
	connectClient(t, c)
	peer := waitPeer(t, accepted)
	defer peer.Close()

	c.Close()
	assert.False(t, c.Active())
	assert.False(t, c.Connected())
	c.Close()
	assert.False(t, c.Active())
	assert.False(t, c.Connected())

	assert.Equal(t, int32(1), closes.Load())
	assert.Nil(t, c.RemoteAddr())
	assert.False(t, c.Send([]byte("late")))
	assert.False(t, c.Receive())
}

func TestClientCloseIdle(t *testing.T) {
	var closes atomic.Int32
	c := NewClient("127.0.0.1", 1)
	c.OnClose = func(*Client) { closes.Add(1) }

	c.Close()
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, int32(0), closes.Load())
	assert.False(t, c.Send([]byte("x")))
	assert.False(t, c.Send(nil))
	assert.False(t, c.Receive())
}

func TestClientConnectPending(t *testing.T) {
	c := NewClient("127.0.0.1", 1)
	c.state.store(StateConnecting)
	assert.False(t, c.Connect())
	assert.Equal(t, StateConnecting, c.State())
}

func TestClientConnectTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	var connects atomic.Int32
	// TEST-NET-1，握手不会完成
	c := NewClient("192.0.2.1", 9)
	c.Family = transport.FamilyIPv4
	c.Timeout = 200 * time.Millisecond
	c.OnConnect = func(*Client) { connects.Add(1) }
	c.OnException = func(*Client, error) bool { return true }

	started := time.Now()
	require.True(t, c.Connect())

	require.Eventually(t, func() bool { return !c.Active() }, c.Timeout+time.Second, 5*time.Millisecond)
	assert.Less(t, time.Since(started), c.Timeout+time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	assert.Error(t, c.WaitConnected(ctx))
	assert.Equal(t, int32(0), connects.Load())
	assert.False(t, c.Connected())
}

func TestClientConnectRefused(t *testing.T) {
	defer goleak.VerifyNone(t)

	// 取得一个当前没有监听的端口
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	errs := make(chan error, 1)
	c := newLoopbackClient(port)
	c.Timeout = time.Second
	c.OnException = func(_ *Client, err error) bool {
		errs <- err
		return true
	}

	require.True(t, c.Connect())
	select {
	case err := <-errs:
		assert.Equal(t, KindRefused, Classify(err))
	case <-time.After(waitTimeout):
		t.Fatal("no exception for refused connect")
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	err = c.WaitConnected(ctx)
	require.Error(t, err)
	assert.Equal(t, KindRefused, Classify(err))
	assert.Equal(t, StateClosed, c.State())
}

func TestClientResolutionFailure(t *testing.T) {
	var exceptions atomic.Int32
	c := NewClient("unresolvable.invalid", 80)
	c.Resolver = failingResolver{}
	c.OnException = func(_ *Client, err error) bool {
		exceptions.Add(1)
		return true
	}

	assert.False(t, c.Connect())
	assert.Equal(t, int32(1), exceptions.Load())
	assert.Equal(t, StateIdle, c.State())

	c.OnException = nil
	assert.False(t, c.Connect())
	assert.True(t, errors.Is(c.LastError(), ErrAddressResolution))
}

func TestClientReconnect(t *testing.T) {
	defer goleak.VerifyNone(t)

	accepted := make(chan *Client, 2)
	l := newLoopbackListener()
	l.OnAccept = func(peer *Client) { accepted <- peer }
	port := startListener(t, l)
	defer l.Close()

	var closes atomic.Int32
	c := newLoopbackClient(port)
	c.OnClose = func(*Client) { closes.Add(1) }
	connectClient(t, c)
	first := waitPeer(t, accepted)
	defer first.Close()

	// 已连接时 Connect 先关闭再重连
	connectClient(t, c)
	second := waitPeer(t, accepted)
	defer second.Close()
	defer c.Close()

	assert.Equal(t, int32(1), closes.Load())
	assert.True(t, c.Connected())
	assert.NotEqual(t, first.Port, second.Port)
}

func TestClientLargePayload(t *testing.T) {
	defer goleak.VerifyNone(t)

	accepted := make(chan *Client, 1)
	var received collector

	l := newLoopbackListener()
	l.AlwaysReceive = true
	l.Capacity = 8192
	l.OnAccept = func(peer *Client) { accepted <- peer }
	l.OnReceive = func(_ *Client, frame []byte) { received.add(frame) }
	port := startListener(t, l)
	defer l.Close()

	c := newLoopbackClient(port)
	c.Capacity = 8192
	connectClient(t, c)
	defer c.Close()
	peer := waitPeer(t, accepted)
	defer peer.Close()

	payload := make([]byte, 20000)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	require.True(t, c.Send(payload))

	require.Eventually(t, func() bool { return received.len() == len(payload) }, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, payload, received.bytes())
}

func TestClientSmallCapacityIntegrity(t *testing.T) {
	defer goleak.VerifyNone(t)

	accepted := make(chan *Client, 1)
	var received collector

	l := newLoopbackListener()
	l.AlwaysReceive = true
	l.Capacity = 8
	l.QueueLimit = -1
	l.OnAccept = func(peer *Client) { accepted <- peer }
	l.OnReceive = func(_ *Client, frame []byte) { received.add(frame) }
	port := startListener(t, l)
	defer l.Close()

	c := newLoopbackClient(port)
	connectClient(t, c)
	defer c.Close()
	peer := waitPeer(t, accepted)
	defer peer.Close()

	var want bytes.Buffer
	for i := 0; i < 50; i++ {
		frame := bytes.Repeat([]byte{byte('a' + i%26)}, 1+i%17)
		want.Write(frame)
		require.True(t, c.Send(frame))
	}

	require.Eventually(t, func() bool { return received.len() == want.Len() }, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, want.Bytes(), received.bytes())
}

func TestClientPeerCloseOnEOF(t *testing.T) {
	defer goleak.VerifyNone(t)

	accepted := make(chan *Client, 1)
	l := newLoopbackListener()
	l.OnAccept = func(peer *Client) { accepted <- peer }
	port := startListener(t, l)
	defer l.Close()

	closed := make(chan struct{}, 2)
	c := newLoopbackClient(port)
	c.AlwaysReceive = true
	c.CloseOnEOF = true
	c.OnClose = func(*Client) { closed <- struct{}{} }
	connectClient(t, c)
	defer c.Close()

	peer := waitPeer(t, accepted)
	peer.Close()

	select {
	case <-closed:
	case <-time.After(waitTimeout):
		t.Fatal("client not closed after peer close")
	}
	assert.False(t, c.Active())
	assert.Len(t, closed, 0)
}

func TestClientHalfCloseKeepsConnection(t *testing.T) {
	defer goleak.VerifyNone(t)

	accepted := make(chan *Client, 1)
	l := newLoopbackListener()
	l.OnAccept = func(peer *Client) { accepted <- peer }
	port := startListener(t, l)
	defer l.Close()

	var closes atomic.Int32
	frames := make(chan string, 4)
	c := newLoopbackClient(port)
	c.AlwaysReceive = true
	c.OnReceive = func(_ *Client, frame []byte) { frames <- string(frame) }
	c.OnClose = func(*Client) { closes.Add(1) }
	connectClient(t, c)
	defer c.Close()

	peer := waitPeer(t, accepted)
	defer peer.Close()
	serverFrames := make(chan string, 4)
	peer.OnReceive = func(_ *Client, frame []byte) { serverFrames <- string(frame) }

	// 对端只关闭写方向
	peer.mu.Lock()
	raw := peer.raw.(*net.TCPConn)
	peer.mu.Unlock()
	_, err := raw.Write([]byte("tail"))
	require.NoError(t, err)
	require.NoError(t, raw.CloseWrite())

	assert.Equal(t, "tail", waitString(t, frames))
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return !c.receiving
	}, waitTimeout, 5*time.Millisecond)

	assert.True(t, c.Connected())
	assert.Equal(t, int32(0), closes.Load())

	// 读结束后仍可发送
	require.True(t, peer.Receive())
	require.True(t, c.Send([]byte("after eof")))
	assert.Equal(t, "after eof", waitString(t, serverFrames))
}

func TestClientPeerReset(t *testing.T) {
	defer goleak.VerifyNone(t)

	accepted := make(chan *Client, 1)
	l := newLoopbackListener()
	l.OnAccept = func(peer *Client) { accepted <- peer }
	port := startListener(t, l)
	defer l.Close()

	var (
		closes atomic.Int32
		frames atomic.Int32
		errsMu sync.Mutex
		errs   []error
	)
	c := newLoopbackClient(port)
	c.AlwaysReceive = true
	c.OnReceive = func(*Client, []byte) { frames.Add(1) }
	c.OnClose = func(*Client) { closes.Add(1) }
	c.OnException = func(_ *Client, err error) bool {
		errsMu.Lock()
		errs = append(errs, err)
		errsMu.Unlock()
		return true
	}
	connectClient(t, c)
	defer c.Close()

	peer := waitPeer(t, accepted)
	defer peer.Close()

	// SO_LINGER=0 后关闭，对端发送 RST
	peer.mu.Lock()
	raw := peer.raw.(*net.TCPConn)
	peer.mu.Unlock()
	require.NoError(t, raw.SetLinger(0))
	require.NoError(t, raw.Close())

	require.Eventually(t, func() bool { return closes.Load() == 1 }, waitTimeout, 5*time.Millisecond)
	assert.Never(t, func() bool { return closes.Load() > 1 }, 100*time.Millisecond, 10*time.Millisecond)

	assert.Equal(t, int32(1), closes.Load())
	assert.Equal(t, int32(0), frames.Load())
	errsMu.Lock()
	defer errsMu.Unlock()
	require.Len(t, errs, 1)
	assert.Equal(t, KindTransient, Classify(errs[0]))
	assert.Equal(t, StateClosed, c.State())
}

func TestClientUDPRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)

	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	echoDone := make(chan struct{})
	go func() {
		defer close(echoDone)
		buf := make([]byte, 2048)
		for {
			n, addr, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			_, _ = pc.WriteTo(buf[:n], addr)
		}
	}()
	defer func() {
		pc.Close()
		<-echoDone
	}()

	frames := make(chan string, 1)
	c := newLoopbackClient(pc.LocalAddr().(*net.UDPAddr).Port)
	c.Protocol = ProtocolUDP
	c.AlwaysReceive = true
	c.OnReceive = func(_ *Client, frame []byte) { frames <- string(frame) }
	connectClient(t, c)
	defer c.Close()

	require.True(t, c.Send([]byte("datagram")))
	assert.Equal(t, "datagram", waitString(t, frames))
	_, ok := c.RemoteAddr().(*net.UDPAddr)
	assert.True(t, ok)
}
