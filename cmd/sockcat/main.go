// Package main 提供 socket 测试客户端：交互模式与压测模式
package main

import (
	"flag"
	"os"
	"time"

	"github.com/qiminjie89/sockio/pkg/logger"
	"go.uber.org/zap"
)

// 配置
var (
	mode     = flag.String("mode", "interactive", "Mode: interactive or load")
	host     = flag.String("host", "127.0.0.1", "Server host")
	port     = flag.Int("port", 9000, "Server port")
	family   = flag.String("family", "", "Address family: ipv4, ipv6 or empty")
	wsURL    = flag.String("ws", "", "Bridge WebSocket URL (interactive mode through wsbridge)")
	token    = flag.String("token", "dev_sockcat", "Bridge auth token (dev_xxx for dev mode)")
	timeout  = flag.Duration("timeout", 5*time.Second, "Connect timeout")
	capacity = flag.Int("capacity", 8192, "Receive chunk size")
	verbose  = flag.Bool("v", false, "Verbose output")

	numClients = flag.Int("clients", 10, "Number of concurrent clients (load mode)")
	numFrames  = flag.Int("frames", 100, "Frames sent per client (load mode)")
	frameSize  = flag.Int("size", 512, "Frame size in bytes (load mode)")
	rampUp     = flag.Duration("rampup", time.Second, "Ramp-up duration (load mode)")
	duration   = flag.Duration("duration", 30*time.Second, "Max wait for echoes (load mode)")
)

func main() {
	flag.Parse()

	level := "info"
	if *verbose {
		level = "debug"
	}
	if err := logger.Init(logger.Config{Level: level, Format: "console", Output: "stderr"}); err != nil {
		panic("init logger failed: " + err.Error())
	}
	defer logger.Sync()

	var err error
	switch *mode {
	case "interactive":
		if *wsURL != "" {
			err = runBridgeInteractive()
		} else {
			err = runInteractive()
		}
	case "load":
		err = runLoadTest()
	default:
		logger.Error("unknown mode", zap.String("mode", *mode))
		os.Exit(2)
	}

	if err != nil {
		logger.Error("sockcat failed", zap.Error(err))
		os.Exit(1)
	}
}
