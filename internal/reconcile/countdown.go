package reconcile

import (
	"context"
	"time"
)

// Countdown ticks a seconds-remaining counter for one contract and fires a
// single expiry signal at zero. 只是调度/展示用途, 不决定结算真相;
// 到期只表示客户端开始等待结果. 不可暂停, 只能随新合约重建.
type Countdown struct {
	remaining int
	interval  time.Duration

	ticks   chan int
	expired chan struct{}
}

// NewCountdown creates a countdown for the given number of seconds.
// interval is the real duration of one logical second (1s in production,
// shortened in tests).
func NewCountdown(seconds int, interval time.Duration) *Countdown {
	if interval <= 0 {
		interval = time.Second
	}
	return &Countdown{
		remaining: seconds,
		interval:  interval,
		ticks:     make(chan int, 1),
		expired:   make(chan struct{}),
	}
}

// Ticks emits the remaining-seconds values while counting down. The channel
// is closed when the countdown reaches zero.
func (c *Countdown) Ticks() <-chan int {
	return c.ticks
}

// Expired is closed exactly once when the countdown reaches zero. If the
// countdown is cancelled first it never closes.
func (c *Countdown) Expired() <-chan struct{} {
	return c.expired
}

// Run drives the countdown until zero or cancellation. Call in a goroutine.
func (c *Countdown) Run(ctx context.Context) {
	// 已过期的合约 (如重启恢复) 立即触发
	if c.remaining <= 0 {
		close(c.ticks)
		close(c.expired)
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.remaining--
			if c.remaining <= 0 {
				close(c.ticks)
				close(c.expired)
				return
			}
			select {
			case c.ticks <- c.remaining:
			default:
				// 消费方落后时丢弃当前读数, 不阻塞计时
			}
		}
	}
}
