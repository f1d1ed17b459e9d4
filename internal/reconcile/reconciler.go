// Package reconcile owns the client side of the settlement handshake: it
// watches one pending contract from placement through expiry until exactly
// one settlement outcome has been delivered to the presentation layer.
//
// 三条交付路径竞速: 推送通道、兜底回读、到期时的主动触发.
// 先到者生效, 后到者一律 no-op (结算写入本身由结算方 CAS 保证只发生一次).
package reconcile

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"updowntrade.com/internal/model"
)

// State of one contract's reconciliation lifecycle.
type State int32

const (
	StateIdle State = iota
	StateArmed
	StateAwaitingSettlement
	StateResolved
)

// Store reads the contract record directly; used by the fallback poll.
type Store interface {
	ReadContract(ctx context.Context, id uuid.UUID) (*model.Contract, error)
}

// Trigger asks the settlement authority to settle due contracts now.
// Fire-and-forget: the authority also settles on its own schedule, so a
// failed trigger is never fatal.
type Trigger interface {
	TriggerSettleNow()
}

// Sink receives the presentation-facing events. OnSettled fires at most once
// per contract and always after OnExpired for that contract.
type Sink interface {
	OnCountdown(c *model.Contract, remaining int)
	OnExpired(c *model.Contract)
	OnSettled(c *model.Contract)
}

// Config tunes the reconciler's timers.
type Config struct {
	// TickInterval 倒计时一个逻辑秒的真实时长 (生产为 1s, 测试缩短)
	TickInterval time.Duration
	// FallbackDelay 到期后首次直接回读的延迟
	FallbackDelay time.Duration
	// FallbackMax 回读指数退避的上限
	FallbackMax time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.FallbackDelay <= 0 {
		c.FallbackDelay = 3 * time.Second
	}
	if c.FallbackMax < c.FallbackDelay {
		c.FallbackMax = 10 * c.FallbackDelay
	}
	return c
}

// Reconciler drives one contract: Idle → Armed → AwaitingSettlement → Resolved.
type Reconciler struct {
	contract model.Contract
	store    Store
	trigger  Trigger
	sink     Sink
	cfg      Config

	// push carries contract updates delivered by the push channel
	push chan model.Contract

	// state is owned by the Run loop; no lock needed
	state State

	done chan struct{}
}

func New(c model.Contract, store Store, trigger Trigger, sink Sink, cfg Config) *Reconciler {
	return &Reconciler{
		contract: c,
		store:    store,
		trigger:  trigger,
		sink:     sink,
		cfg:      cfg.withDefaults(),
		push:     make(chan model.Contract, 8),
		done:     make(chan struct{}),
	}
}

// Deliver hands a push-channel update to the reconciler. Non-blocking; once
// the contract is resolved the update is silently discarded.
func (r *Reconciler) Deliver(c model.Contract) {
	select {
	case r.push <- c:
	default:
		log.Printf("Reconciler: push buffer full for contract %s, dropping update", r.contract.ID)
	}
}

// Done is closed when the reconciler has finished (resolved or cancelled).
func (r *Reconciler) Done() <-chan struct{} {
	return r.done
}

// Run blocks until the contract is resolved or ctx is cancelled. All timers
// and the countdown are released on every exit path; cancellation never
// mutates contract or balance state.
func (r *Reconciler) Run(ctx context.Context) {
	defer close(r.done)

	r.state = StateArmed

	remaining := secondsUntil(r.contract.DueAt)
	countdown := NewCountdown(remaining, r.cfg.TickInterval)

	cdCtx, cancelCountdown := context.WithCancel(ctx)
	defer cancelCountdown()
	go countdown.Run(cdCtx)

	ticks := countdown.Ticks()
	expired := countdown.Expired()

	// fallback timer armed on expiry, nil until then
	var fallback *time.Timer
	var fallbackC <-chan time.Time
	delay := r.cfg.FallbackDelay
	defer func() {
		if fallback != nil {
			fallback.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case rem, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			r.sink.OnCountdown(&r.contract, rem)

		case <-expired:
			expired = nil
			r.expire()
			fallback = time.NewTimer(delay)
			fallbackC = fallback.C

		case c := <-r.push:
			if c.ID != r.contract.ID {
				continue
			}
			if !c.Settled() {
				r.contract = c
				continue
			}
			r.resolve(c)
			return

		case <-fallbackC:
			got, err := r.store.ReadContract(ctx, r.contract.ID)
			if err != nil {
				// 瞬时读失败: 静默吸收, 退避后再试
				log.Printf("Reconciler: fallback read failed for %s: %v", r.contract.ID, err)
			} else if got.Settled() {
				r.resolve(*got)
				return
			}
			delay *= 2
			if delay > r.cfg.FallbackMax {
				delay = r.cfg.FallbackMax
			}
			fallback.Reset(delay)
		}
	}
}

// secondsUntil 到期前剩余的整逻辑秒数, 向上取整
// 向下截断会让倒计时早于 due_at 走完, 到期触发的扫描扑空
func secondsUntil(due time.Time) int {
	d := time.Until(due)
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

// expire moves Armed → AwaitingSettlement: emit Expired once and nudge the
// settlement authority.
func (r *Reconciler) expire() {
	if r.state >= StateAwaitingSettlement {
		return
	}
	r.state = StateAwaitingSettlement
	r.sink.OnExpired(&r.contract)
	go r.trigger.TriggerSettleNow()
}

// resolve consumes the settled outcome exactly once. A settled update that
// arrives while still Armed (operator settled early) first emits Expired so
// the client never sees a settlement before the expiry.
func (r *Reconciler) resolve(c model.Contract) {
	if r.state == StateResolved {
		return
	}
	r.expire()
	r.state = StateResolved
	r.contract = c
	r.sink.OnSettled(&c)
}
