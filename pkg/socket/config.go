package socket

import (
	"github.com/qiminjie89/sockio/pkg/config"
	"github.com/qiminjie89/sockio/pkg/transport"
)

// NewClientFromConfig 从配置创建客户端连接
func NewClientFromConfig(cfg config.ClientConfig) (*Client, error) {
	cfg.ApplyDefaults()

	family, err := transport.ParseFamily(cfg.Family)
	if err != nil {
		return nil, err
	}
	protocol, err := ParseProtocol(cfg.Protocol)
	if err != nil {
		return nil, err
	}

	return &Client{
		Connection: Connection{
			Host:     cfg.Host,
			Port:     cfg.Port,
			Family:   family,
			Protocol: protocol,
			Timeout:  cfg.Timeout,
			Capacity: cfg.Capacity,
			Tuning:   transport.TuningFromConfig(cfg.Tuning),
		},
		AlwaysReceive: cfg.AlwaysReceive,
		CloseOnEOF:    cfg.CloseOnEOF,
		QueueLimit:    cfg.QueueLimit,
	}, nil
}

// NewListenerFromConfig 从配置创建监听器
func NewListenerFromConfig(cfg config.ListenerConfig) (*Listener, error) {
	cfg.ApplyDefaults()

	family, err := transport.ParseFamily(cfg.Family)
	if err != nil {
		return nil, err
	}
	protocol, err := ParseProtocol(cfg.Protocol)
	if err != nil {
		return nil, err
	}

	return &Listener{
		Connection: Connection{
			Host:     cfg.Host,
			Port:     cfg.Port,
			Family:   family,
			Protocol: protocol,
			Timeout:  cfg.Timeout,
			Capacity: cfg.Capacity,
			Tuning:   transport.TuningFromConfig(cfg.Tuning),
		},
		Backlog:       cfg.Backlog,
		AlwaysReceive: cfg.AlwaysReceive,
		CloseOnEOF:    cfg.CloseOnEOF,
		QueueLimit:    cfg.QueueLimit,
	}, nil
}
