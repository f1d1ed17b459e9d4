package reconcile

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"updowntrade.com/internal/model"
)

var testCfg = Config{
	TickInterval:  10 * time.Millisecond,
	FallbackDelay: 30 * time.Millisecond,
	FallbackMax:   120 * time.Millisecond,
}

// fakeStore is the contract record as the settlement authority sees it.
type fakeStore struct {
	mu    sync.Mutex
	c     model.Contract
	reads int32
}

func (s *fakeStore) ReadContract(ctx context.Context, id uuid.UUID) (*model.Contract, error) {
	atomic.AddInt32(&s.reads, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.c
	return &c, nil
}

func (s *fakeStore) settle() model.Contract {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.c.Status = model.StatusSettled
	s.c.Result = model.ResultWin
	s.c.Profit = decimal.NewFromInt(20)
	s.c.SettledAt = &now
	return s.c
}

type fakeTrigger struct {
	calls int32
}

func (t *fakeTrigger) TriggerSettleNow() {
	atomic.AddInt32(&t.calls, 1)
}

// recorder captures the presentation-facing event stream.
type recorder struct {
	mu      sync.Mutex
	events  []string
	settled []model.Contract
}

func (r *recorder) OnCountdown(c *model.Contract, remaining int) {}

func (r *recorder) OnExpired(c *model.Contract) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "expired")
}

func (r *recorder) OnSettled(c *model.Contract) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "settled")
	r.settled = append(r.settled, *c)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) settledCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.settled)
}

func pendingContract(due time.Duration) model.Contract {
	now := time.Now()
	return model.Contract{
		ID:         uuid.New(),
		OwnerID:    1,
		Symbol:     "BTCUSDT",
		Direction:  model.DirectionUp,
		Amount:     decimal.NewFromInt(100),
		Currency:   "USDT",
		EntryPrice: decimal.NewFromInt(50000),
		YieldRate:  decimal.NewFromFloat(0.20),
		Status:     model.StatusPending,
		CreatedAt:  now,
		DueAt:      now.Add(due),
	}
}

func TestReconciler_PushWins(t *testing.T) {
	c := pendingContract(-time.Second) // already due: expires immediately
	store := &fakeStore{c: c}
	trigger := &fakeTrigger{}
	rec := &recorder{}

	r := New(c, store, trigger, rec, testCfg)
	go r.Run(context.Background())

	// Wait for expiry, then deliver the settled record over the push path.
	require.Eventually(t, func() bool {
		return len(rec.snapshot()) > 0
	}, time.Second, 5*time.Millisecond)

	settled := store.settle()
	r.Deliver(settled)

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("reconciler did not resolve")
	}

	assert.Equal(t, []string{"expired", "settled"}, rec.snapshot())
	assert.GreaterOrEqual(t, atomic.LoadInt32(&trigger.calls), int32(1), "expiry must trigger settle-now")

	// A duplicate delivery after resolution is a no-op.
	r.Deliver(settled)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.settledCount())
}

func TestReconciler_FallbackWins(t *testing.T) {
	// Scenario C: push never fires; the delayed direct read recovers.
	c := pendingContract(-time.Second)
	store := &fakeStore{c: c}
	trigger := &fakeTrigger{}
	rec := &recorder{}

	r := New(c, store, trigger, rec, testCfg)
	go r.Run(context.Background())

	// Settle in the store shortly after expiry; no push delivery at all.
	time.Sleep(10 * time.Millisecond)
	settled := store.settle()

	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("fallback did not resolve the contract")
	}

	assert.Equal(t, []string{"expired", "settled"}, rec.snapshot())
	assert.GreaterOrEqual(t, atomic.LoadInt32(&store.reads), int32(1))

	// A delayed push event for the same contract must not re-emit.
	r.Deliver(settled)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.settledCount())
}

func TestReconciler_FallbackKeepsPolling(t *testing.T) {
	// Settlement is observed only after several fallback reads; the poll
	// backs off but never gives up while the process lives.
	c := pendingContract(-time.Second)
	store := &fakeStore{c: c}
	rec := &recorder{}

	r := New(c, store, &fakeTrigger{}, rec, testCfg)
	go r.Run(context.Background())

	time.Sleep(200 * time.Millisecond) // let a few polls find it still pending
	store.settle()

	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("reconciler stopped polling")
	}

	assert.Greater(t, atomic.LoadInt32(&store.reads), int32(1))
	assert.Equal(t, 1, rec.settledCount())
}

func TestReconciler_ExpiredBeforeSettled_EarlyPush(t *testing.T) {
	// A settled push while still counting down must still deliver expired
	// strictly before settled.
	c := pendingContract(10 * time.Second)
	store := &fakeStore{c: c}
	rec := &recorder{}

	r := New(c, store, &fakeTrigger{}, rec, testCfg)
	go r.Run(context.Background())

	time.Sleep(20 * time.Millisecond)
	r.Deliver(store.settle())

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("reconciler did not resolve")
	}

	assert.Equal(t, []string{"expired", "settled"}, rec.snapshot())
}

func TestReconciler_PendingPushUpdatesSnapshot(t *testing.T) {
	// 非结算推送 (如覆盖变更) 只刷新快照, 不产生事件
	c := pendingContract(10 * time.Second)
	store := &fakeStore{c: c}
	rec := &recorder{}

	r := New(c, store, &fakeTrigger{}, rec, testCfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	updated := c
	updated.Override = model.OverrideWin
	r.Deliver(updated)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, rec.settledCount())
}

func TestReconciler_CancelReleasesCleanly(t *testing.T) {
	c := pendingContract(10 * time.Second)
	store := &fakeStore{c: c}
	rec := &recorder{}

	r := New(c, store, &fakeTrigger{}, rec, testCfg)
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("reconciler did not release on cancellation")
	}

	// Teardown must not fabricate events.
	assert.Empty(t, rec.snapshot())
}

func TestManager_RoutesAndDeduplicates(t *testing.T) {
	c := pendingContract(-time.Second)
	store := &fakeStore{c: c}
	rec := &recorder{}

	m := NewManager(store, &fakeTrigger{}, rec, testCfg)
	defer m.Stop()

	m.Watch(c)
	m.Watch(c) // second watch is a no-op
	assert.Equal(t, 1, m.ActiveCount())

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) > 0 // expired observed
	}, time.Second, 5*time.Millisecond)

	settled := store.settle()
	m.Deliver(settled)

	require.Eventually(t, func() bool {
		return m.ActiveCount() == 0
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, rec.settledCount())

	// Delivery for a contract nobody watches is a no-op.
	m.Deliver(settled)
	assert.Equal(t, 1, rec.settledCount())
}

func TestManager_IgnoresSettledContract(t *testing.T) {
	c := pendingContract(time.Minute)
	c.Status = model.StatusSettled

	m := NewManager(&fakeStore{c: c}, &fakeTrigger{}, &recorder{}, testCfg)
	defer m.Stop()

	m.Watch(c)
	assert.Equal(t, 0, m.ActiveCount())
}

func TestSecondsUntil_RoundsUp(t *testing.T) {
	// 截断会让倒计时早于 due_at 走完: now+2s 的剩余时长略小于 2s,
	// 向下取整只剩 1 个逻辑秒, 到期触发的扫描会在 due_at 之前扑空
	assert.Equal(t, 2, secondsUntil(time.Now().Add(2*time.Second)))
	assert.Equal(t, 1, secondsUntil(time.Now().Add(300*time.Millisecond)))
	assert.Equal(t, 5, secondsUntil(time.Now().Add(4200*time.Millisecond)))
	assert.Equal(t, 0, secondsUntil(time.Now().Add(-5*time.Second)))
	assert.Equal(t, 0, secondsUntil(time.Now()))
}
