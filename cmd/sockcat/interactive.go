package main

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/qiminjie89/sockio/internal/protocol"
	"github.com/qiminjie89/sockio/pkg/logger"
	"github.com/qiminjie89/sockio/pkg/socket"
	"github.com/qiminjie89/sockio/pkg/transport"
	"go.uber.org/zap"
)

// newClient 按命令行参数创建客户端
func newClient() (*socket.Client, error) {
	fam, err := transport.ParseFamily(*family)
	if err != nil {
		return nil, err
	}
	c := socket.NewClient(*host, *port)
	c.Family = fam
	c.Timeout = *timeout
	c.Capacity = *capacity
	return c, nil
}

// runInteractive 标准输入的每一行发送到服务器，收到的数据写到标准输出
func runInteractive() error {
	c, err := newClient()
	if err != nil {
		return err
	}

	closed := make(chan struct{})
	c.AlwaysReceive = true
	c.CloseOnEOF = true
	c.OnReceive = func(_ *socket.Client, frame []byte) {
		os.Stdout.Write(frame)
	}
	c.OnClose = func(*socket.Client) {
		close(closed)
	}

	if !c.Connect() {
		return fmt.Errorf("connect: %w", c.LastError())
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout+time.Second)
	defer cancel()
	if err := c.WaitConnected(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer c.Close()

	logger.Info("connected",
		zap.String("local", c.LocalAddr().String()),
		zap.String("remote", c.RemoteAddr().String()),
	)

	lines := make(chan []byte)
	go readLines(lines)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", zap.Stringer("signal", sig))
			return nil
		case <-closed:
			logger.Info("connection closed by server")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if !c.Send(line) {
				return fmt.Errorf("send failed: %w", socket.ErrNotConnected)
			}
		}
	}
}

// runBridgeInteractive 通过 wsbridge 交互
func runBridgeInteractive() error {
	u, err := url.Parse(*wsURL)
	if err != nil {
		return err
	}
	if *token != "" {
		q := u.Query()
		q.Set("token", *token)
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial bridge: %w", err)
	}
	ws := transport.NewWebSocketConn(conn)
	defer ws.Close()

	logger.Info("connected to bridge", zap.String("url", *wsURL))

	recvDone := make(chan struct{})
	go func() {
		defer close(recvDone)
		for {
			data, err := ws.ReadMessage()
			if err != nil {
				logger.Info("bridge connection closed", zap.Error(err))
				return
			}
			env, err := protocol.DecodeEnvelope(data)
			if err != nil {
				logger.Warn("bad envelope", zap.Error(err))
				continue
			}
			printEnvelope(env)
		}
	}()

	lines := make(chan []byte)
	go readLines(lines)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sigCh:
			sendEnvelope(ws, &protocol.Envelope{Type: protocol.MsgTypeClose})
			return nil
		case <-recvDone:
			return nil
		case line, ok := <-lines:
			if !ok {
				sendEnvelope(ws, &protocol.Envelope{Type: protocol.MsgTypeClose})
				return nil
			}
			if err := sendEnvelope(ws, protocol.NewData(line)); err != nil {
				return err
			}
		}
	}
}

func sendEnvelope(ws transport.Conn, env *protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	return ws.WriteMessage(data)
}

func printEnvelope(env *protocol.Envelope) {
	switch env.Type {
	case protocol.MsgTypeData:
		os.Stdout.Write(env.Data)
	case protocol.MsgTypeConnected:
		logger.Info("upstream connected", zap.String("upstream", env.Message))
	case protocol.MsgTypeClosed:
		logger.Info("upstream closed", zap.String("reason", env.Message))
	case protocol.MsgTypeError:
		logger.Warn("bridge error", zap.Int("code", env.Code), zap.String("message", env.Message))
	}
}

// readLines 逐行读取标准输入，保留换行符
func readLines(out chan<- []byte) {
	defer close(out)
	r := bufio.NewReader(os.Stdin)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			out <- line
		}
		if err != nil {
			return
		}
	}
}
