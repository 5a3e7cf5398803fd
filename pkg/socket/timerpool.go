package socket

import (
	"sync"
	"time"
)

var timerPool = &TimerPool{}

// TimerPool 复用连接超时监视使用的定时器
type TimerPool struct {
	sp sync.Pool
}

func (p *TimerPool) acquire(timeout time.Duration) *time.Timer {
	v := p.sp.Get()
	if v == nil {
		return time.NewTimer(timeout)
	}
	t := v.(*time.Timer)
	t.Reset(timeout)
	return t
}

func (p *TimerPool) release(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	p.sp.Put(t)
}
