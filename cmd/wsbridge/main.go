package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/qiminjie89/sockio/internal/bridge"
	"github.com/qiminjie89/sockio/pkg/config"
	"github.com/qiminjie89/sockio/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/wsbridge.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadBridgeConfig(*configPath)
	if err != nil {
		panic("load config failed: " + err.Error())
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}); err != nil {
		panic("init logger failed: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("starting wsbridge",
		zap.String("config", *configPath),
		zap.String("upstream", cfg.Upstream.Host),
		zap.Int("upstream_port", cfg.Upstream.Port),
	)

	server := bridge.NewServer(cfg)
	if err := server.Start(); err != nil {
		logger.Error("start server failed", zap.Error(err))
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")
	if err := server.Stop(); err != nil {
		logger.Warn("stop server", zap.Error(err))
	}
}
