package socket

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/qiminjie89/sockio/pkg/logger"
	"github.com/qiminjie89/sockio/pkg/metrics"
	"github.com/qiminjie89/sockio/pkg/transport"
	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"
)

// Send 将帧加入发送队列，未连接时返回 false
//
// 帧按入队顺序逐个发送，同一时刻只有一个写操作。
// 在 OnSend 回调之前调用方不可修改 frame。
func (c *Client) Send(frame []byte) bool {
	if frame == nil {
		return false
	}

	c.mu.Lock()
	if c.state.load() != StateConnected || c.raw == nil {
		c.mu.Unlock()
		return false
	}
	c.sendQ.Push(frame)
	if c.sending {
		c.mu.Unlock()
		return true
	}
	c.sending = true
	conn, gen := c.raw, c.gen
	c.mu.Unlock()

	go c.sendLoop(conn, gen)
	return true
}

func (c *Client) sendLoop(conn net.Conn, gen uint64) {
	for {
		c.mu.Lock()
		if c.gen != gen || c.state.load() != StateConnected {
			if c.gen == gen {
				c.sending = false
			}
			c.mu.Unlock()
			return
		}
		frame, ok := c.sendQ.Peek()
		if !ok {
			c.sending = false
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		if c.Tuning.WriteTimeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(c.Tuning.WriteTimeout))
		}
		n, err := conn.Write(frame)

		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			return
		}
		// 失败的帧同样出队，发送不自动重试
		c.sendQ.Pop()
		c.mu.Unlock()

		if err != nil {
			// 错误被 OnException 处理时继续发送后续帧
			c.fail(gen, err)
			continue
		}

		if n != len(frame) {
			metrics.SocketPartialWrites.Inc()
			logger.Warn("socket partial write", c.logFields(
				zap.Int("written", n),
				zap.Int("frame", len(frame)),
			)...)
		}

		if !c.current(gen) {
			continue
		}
		stamp(&c.sendStamp)
		stamp(&c.activityStamp)
		metrics.SocketBytesSent.Add(float64(n))
		metrics.SocketFramesSent.Inc()

		if h := c.OnSend; h != nil {
			h(c, frame)
		}
	}
}

// Receive 发起异步读，已有读操作进行中时直接返回 true
func (c *Client) Receive() bool {
	c.mu.Lock()
	if c.state.load() != StateConnected || c.raw == nil {
		c.mu.Unlock()
		return false
	}
	if c.receiving {
		c.mu.Unlock()
		return true
	}
	c.receiving = true
	conn, gen := c.raw, c.gen
	c.mu.Unlock()

	go c.receiveLoop(conn, gen)
	return true
}

// receiveLoop 读取并在流暂时读空时输出一帧
//
// 读到的长度小于块大小，或 socket 上已无可读数据时，累积的数据作为一帧输出。
// 退出循环时累积缓冲区总是为空。
func (c *Client) receiveLoop(conn net.Conn, gen uint64) {
	acc := bytebufferpool.Get()
	defer bytebufferpool.Put(acc)
	scratch := make([]byte, c.capacity())

	for {
		if c.Tuning.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.Tuning.ReadTimeout))
		}
		n, err := conn.Read(scratch)
		if n > 0 {
			_, _ = acc.Write(scratch[:n])
			metrics.SocketBytesReceived.Add(float64(n))
			stamp(&c.activityStamp)
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				c.peerClosed(gen, acc)
				return
			}
			// 中断的读不输出不完整的数据
			c.stopReceiving(gen)
			c.fail(gen, err)
			return
		}

		avail := transport.Available(conn)
		if n < len(scratch) || avail == 0 {
			if !c.flush(gen, acc) {
				c.stopReceiving(gen)
				return
			}
		}

		if (avail > 0 || c.AlwaysReceive) && c.current(gen) {
			continue
		}
		c.stopReceiving(gen)
		return
	}
}

// peerClosed 对端关闭写方向：输出剩余数据，不再继续读，连接仍可发送
func (c *Client) peerClosed(gen uint64, acc *bytebufferpool.ByteBuffer) {
	c.flush(gen, acc)
	c.stopReceiving(gen)

	logger.Debug("socket peer closed", c.logFields(zap.Bool("close_on_eof", c.CloseOnEOF))...)
	if !c.CloseOnEOF {
		return
	}
	c.closeWhen(func() bool { return c.gen == gen })
}

func (c *Client) stopReceiving(gen uint64) {
	c.mu.Lock()
	if c.gen == gen {
		c.receiving = false
	}
	c.mu.Unlock()
}

// flush 将累积数据作为一帧输出，连接已失效时丢弃并返回 false
func (c *Client) flush(gen uint64, acc *bytebufferpool.ByteBuffer) bool {
	c.mu.Lock()
	if c.gen != gen || c.state.load() != StateConnected {
		c.mu.Unlock()
		acc.Reset()
		return false
	}
	if acc.Len() == 0 {
		c.mu.Unlock()
		return true
	}
	frame := make([]byte, acc.Len())
	copy(frame, acc.B)
	acc.Reset()
	dropped := c.recvQ.PushBounded(frame, c.queueLimit())
	c.mu.Unlock()

	if dropped {
		metrics.SocketFramesDropped.WithLabelValues("receive").Inc()
	}
	stamp(&c.receiveStamp)
	metrics.SocketFramesReceived.Inc()

	if h := c.OnReceive; h != nil {
		h(c, frame)
	}
	return true
}
