package reconcile

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"
	"updowntrade.com/internal/model"
)

// Manager runs one Reconciler per pending contract and routes push-channel
// deliveries to the right one. A delivery for an unknown contract id (already
// resolved, or not watched by this process) is a no-op.
type Manager struct {
	store   Store
	trigger Trigger
	sink    Sink
	cfg     Config

	mu     sync.Mutex
	active map[uuid.UUID]*Reconciler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(store Store, trigger Trigger, sink Sink, cfg Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:   store,
		trigger: trigger,
		sink:    sink,
		cfg:     cfg,
		active:  make(map[uuid.UUID]*Reconciler),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Watch starts reconciling a pending contract. Watching the same contract
// twice is a no-op.
func (m *Manager) Watch(c model.Contract) {
	if c.Settled() {
		return
	}

	m.mu.Lock()
	if _, ok := m.active[c.ID]; ok {
		m.mu.Unlock()
		return
	}
	r := New(c, m.store, m.trigger, m.sink, m.cfg)
	m.active[c.ID] = r
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		r.Run(m.ctx)

		m.mu.Lock()
		delete(m.active, c.ID)
		m.mu.Unlock()
	}()

	log.Printf("Reconcile: watching contract %s (due %s)", c.ID, c.DueAt.Format("15:04:05"))
}

// Deliver routes a push-channel update to the watching reconciler, if any.
func (m *Manager) Deliver(c model.Contract) {
	m.mu.Lock()
	r, ok := m.active[c.ID]
	m.mu.Unlock()

	if ok {
		r.Deliver(c)
	}
}

// ActiveCount returns the number of contracts currently being reconciled.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Stop cancels all reconcilers and waits for them to release their timers
// and subscriptions.
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}
