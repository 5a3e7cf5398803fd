// Package config 提供配置加载功能
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// 默认值
const (
	DefaultCapacity   = 8192
	DefaultBacklog    = 100
	DefaultQueueLimit = 1024
	DefaultTimeout    = 10 * time.Second
)

// EchoServerConfig Echo 服务配置
type EchoServerConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Listener ListenerConfig `yaml:"listener"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// BridgeConfig WebSocket 桥接服务配置
type BridgeConfig struct {
	Server    ServerConfig    `yaml:"server"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Upstream  ClientConfig    `yaml:"upstream"`
	Auth      AuthConfig      `yaml:"auth"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig 服务器基础配置
type ServerConfig struct {
	ID         string `yaml:"id"`
	Addr       string `yaml:"addr"`
	HealthAddr string `yaml:"health_addr"`
}

// ClientConfig 出站连接配置
type ClientConfig struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	Family        string        `yaml:"family"`   // ipv4, ipv6, 空为不限
	Protocol      string        `yaml:"protocol"` // tcp, udp
	Timeout       time.Duration `yaml:"timeout"`
	Capacity      int           `yaml:"capacity"`
	QueueLimit    int           `yaml:"queue_limit"`
	AlwaysReceive bool          `yaml:"always_receive"`
	CloseOnEOF    bool          `yaml:"close_on_eof"`
	Tuning        TuningConfig  `yaml:"tuning"`
}

// ListenerConfig 监听配置
type ListenerConfig struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	Family        string        `yaml:"family"`
	Protocol      string        `yaml:"protocol"`
	Backlog       int           `yaml:"backlog"`
	Timeout       time.Duration `yaml:"timeout"`
	Capacity      int           `yaml:"capacity"`
	QueueLimit    int           `yaml:"queue_limit"`
	AlwaysReceive bool          `yaml:"always_receive"`
	CloseOnEOF    bool          `yaml:"close_on_eof"`
	Tuning        TuningConfig  `yaml:"tuning"`
}

// TuningConfig socket 参数
type TuningConfig struct {
	SendBufferSize    int           `yaml:"send_buffer_size"`
	ReceiveBufferSize int           `yaml:"receive_buffer_size"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	Linger            *int          `yaml:"linger,omitempty"` // 秒，未设置时使用系统默认
	TTL               int           `yaml:"ttl"`
	Exclusive         bool          `yaml:"exclusive"`
	NoDelay           *bool         `yaml:"no_delay,omitempty"`
	KeepAlive         time.Duration `yaml:"keep_alive"`
}

// WebSocketConfig WebSocket 配置
type WebSocketConfig struct {
	Path             string        `yaml:"path"`
	ReadBufferSize   int           `yaml:"read_buffer_size"`
	WriteBufferSize  int           `yaml:"write_buffer_size"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
}

// AuthConfig 桥接认证配置
type AuthConfig struct {
	Secret   string `yaml:"secret"`
	AllowDev bool   `yaml:"allow_dev"`
}

// ReconnectConfig 上游连接重试配置
type ReconnectConfig struct {
	Attempts    int           `yaml:"attempts"`
	MinInterval time.Duration `yaml:"min_interval"`
	MaxInterval time.Duration `yaml:"max_interval"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ApplyDefaults 填充客户端默认值
func (c *ClientConfig) ApplyDefaults() {
	if c.Protocol == "" {
		c.Protocol = "tcp"
	}
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.QueueLimit <= 0 {
		c.QueueLimit = DefaultQueueLimit
	}
}

// ApplyDefaults 填充监听默认值
func (c *ListenerConfig) ApplyDefaults() {
	if c.Protocol == "" {
		c.Protocol = "tcp"
	}
	if c.Backlog <= 0 {
		c.Backlog = DefaultBacklog
	}
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.QueueLimit <= 0 {
		c.QueueLimit = DefaultQueueLimit
	}
}

// ApplyDefaults 填充 Echo 服务默认值
func (c *EchoServerConfig) ApplyDefaults() {
	c.Listener.ApplyDefaults()
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// ApplyDefaults 填充桥接服务默认值
func (c *BridgeConfig) ApplyDefaults() {
	c.Upstream.ApplyDefaults()
	if c.Upstream.Timeout <= 0 {
		c.Upstream.Timeout = DefaultTimeout
	}
	if c.WebSocket.Path == "" {
		c.WebSocket.Path = "/ws"
	}
	if c.WebSocket.ReadBufferSize <= 0 {
		c.WebSocket.ReadBufferSize = 4096
	}
	if c.WebSocket.WriteBufferSize <= 0 {
		c.WebSocket.WriteBufferSize = 4096
	}
	if c.WebSocket.HandshakeTimeout <= 0 {
		c.WebSocket.HandshakeTimeout = 5 * time.Second
	}
	if c.WebSocket.WriteTimeout <= 0 {
		c.WebSocket.WriteTimeout = 10 * time.Second
	}
	if c.Reconnect.Attempts <= 0 {
		c.Reconnect.Attempts = 1
	}
	if c.Reconnect.MinInterval <= 0 {
		c.Reconnect.MinInterval = 100 * time.Millisecond
	}
	if c.Reconnect.MaxInterval <= 0 {
		c.Reconnect.MaxInterval = 5 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate 校验桥接配置
func (c *BridgeConfig) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Upstream.Port <= 0 || c.Upstream.Port > 65535 {
		return fmt.Errorf("upstream.port %d out of range", c.Upstream.Port)
	}
	return nil
}

// LoadEchoServerConfig 加载 Echo 服务配置
func LoadEchoServerConfig(path string) (*EchoServerConfig, error) {
	var cfg EchoServerConfig
	if err := load(path, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// LoadBridgeConfig 加载桥接服务配置
func LoadBridgeConfig(path string) (*BridgeConfig, error) {
	var cfg BridgeConfig
	if err := load(path, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func load(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
