// Package clock 提供统一的时钟抽象，回测模式下由行情时间驱动，保证可重现性
package clock

import (
	"sync"
	"time"
)

// Clock 时钟接口
type Clock interface {
	Now() time.Time
}

// System 系统时钟（实盘模式）
type System struct{}

func NewSystem() *System { return &System{} }

func (System) Now() time.Time { return time.Now() }

// Simulated 模拟时钟（回测模式），由回测引擎在每个行情点推进
type Simulated struct {
	mu  sync.RWMutex
	now time.Time
}

func NewSimulated(start time.Time) *Simulated {
	return &Simulated{now: start}
}

func (c *Simulated) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Advance 推进模拟时间，时间只能向前
func (c *Simulated) Advance(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
}
