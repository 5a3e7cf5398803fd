package main

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/qiminjie89/sockio/pkg/logger"
	"github.com/qiminjie89/sockio/pkg/socket"
	"go.uber.org/zap"
)

// Stats 压测统计
type Stats struct {
	connected  int64
	failed     int64
	framesSent int64
	bytesSent  int64
	bytesRecv  int64
	mismatched int64
	completed  int64
}

var stats Stats

// runLoadTest 多个客户端向回显服务发送帧并校验回显字节
func runLoadTest() error {
	logger.Info("starting load test",
		zap.String("host", *host),
		zap.Int("port", *port),
		zap.Int("clients", *numClients),
		zap.Int("frames", *numFrames),
		zap.Int("size", *frameSize),
	)

	ctx, cancel := context.WithTimeout(context.Background(), *rampUp+*duration)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Info("shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	go statsLoop(ctx)

	interval := *rampUp / time.Duration(max(*numClients, 1))
	started := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < *numClients; i++ {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runLoadClient(ctx, id)
		}(i)
		time.Sleep(interval)
	}
	wg.Wait()

	elapsed := time.Since(started)
	printStats(elapsed)
	if n := atomic.LoadInt64(&stats.mismatched) + atomic.LoadInt64(&stats.failed); n > 0 {
		return fmt.Errorf("%d clients failed", n)
	}
	return nil
}

func runLoadClient(ctx context.Context, id int) {
	c, err := newClient()
	if err != nil {
		atomic.AddInt64(&stats.failed, 1)
		return
	}

	var (
		mu       sync.Mutex
		received bytes.Buffer
	)
	expected := *numFrames * *frameSize
	done := make(chan struct{})
	var doneOnce sync.Once

	c.AlwaysReceive = true
	c.CloseOnEOF = true
	c.OnReceive = func(_ *socket.Client, frame []byte) {
		atomic.AddInt64(&stats.bytesRecv, int64(len(frame)))
		mu.Lock()
		received.Write(frame)
		n := received.Len()
		mu.Unlock()
		if n >= expected {
			doneOnce.Do(func() { close(done) })
		}
	}
	c.OnClose = func(*socket.Client) {
		doneOnce.Do(func() { close(done) })
	}
	c.OnException = func(_ *socket.Client, err error) bool {
		logger.Debug("client error", zap.Int("client", id), zap.Error(err))
		return false
	}

	if !c.Connect() || c.WaitConnected(ctx) != nil {
		atomic.AddInt64(&stats.failed, 1)
		c.Close()
		return
	}
	defer c.Close()
	atomic.AddInt64(&stats.connected, 1)

	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))
	var sent bytes.Buffer
	for i := 0; i < *numFrames; i++ {
		frame := make([]byte, *frameSize)
		rng.Read(frame)
		sent.Write(frame)
		if !c.Send(frame) {
			break
		}
		atomic.AddInt64(&stats.framesSent, 1)
		atomic.AddInt64(&stats.bytesSent, int64(len(frame)))
	}

	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	ok := bytes.Equal(sent.Bytes(), received.Bytes())
	mu.Unlock()
	if !ok {
		atomic.AddInt64(&stats.mismatched, 1)
		logger.Warn("echo mismatch", zap.Int("client", id))
		return
	}
	atomic.AddInt64(&stats.completed, 1)
}

// statsLoop 定期输出统计
func statsLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("progress",
				zap.Int64("connected", atomic.LoadInt64(&stats.connected)),
				zap.Int64("completed", atomic.LoadInt64(&stats.completed)),
				zap.Int64("bytes_sent", atomic.LoadInt64(&stats.bytesSent)),
				zap.Int64("bytes_recv", atomic.LoadInt64(&stats.bytesRecv)),
			)
		}
	}
}

func printStats(elapsed time.Duration) {
	fmt.Println("========== Load Test Result ==========")
	fmt.Printf("Duration:     %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Connected:    %d\n", atomic.LoadInt64(&stats.connected))
	fmt.Printf("Failed:       %d\n", atomic.LoadInt64(&stats.failed))
	fmt.Printf("Completed:    %d\n", atomic.LoadInt64(&stats.completed))
	fmt.Printf("Mismatched:   %d\n", atomic.LoadInt64(&stats.mismatched))
	fmt.Printf("Frames sent:  %d\n", atomic.LoadInt64(&stats.framesSent))
	fmt.Printf("Bytes sent:   %d\n", atomic.LoadInt64(&stats.bytesSent))
	fmt.Printf("Bytes recv:   %d\n", atomic.LoadInt64(&stats.bytesRecv))
	if secs := elapsed.Seconds(); secs > 0 {
		fmt.Printf("Throughput:   %.1f KB/s\n", float64(atomic.LoadInt64(&stats.bytesRecv))/1024/secs)
	}
}
