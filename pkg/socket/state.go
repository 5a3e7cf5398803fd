package socket

import "sync/atomic"

// State 连接状态
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateListening
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateListening:
		return "listening"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// active 连接处于使用中，应继续尝试 I/O
func (s State) active() bool {
	return s == StateConnecting || s == StateConnected || s == StateListening
}

// stateBox 原子状态，所有迁移通过 CAS 完成
type stateBox struct {
	v atomic.Int32
}

func (b *stateBox) load() State {
	return State(b.v.Load())
}

func (b *stateBox) store(s State) {
	b.v.Store(int32(s))
}

func (b *stateBox) cas(from, to State) bool {
	return b.v.CompareAndSwap(int32(from), int32(to))
}
