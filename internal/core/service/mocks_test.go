package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rl1809/stock-sync/internal/core/domain"
)

// Mock ProductStore
type mockProductStore struct {
	mu          sync.Mutex
	products    map[string]domain.Product
	adjustments []domain.InventoryAdjustment
	moves       []domain.LocationHistory
	updateErr   error

	// hold, when set, stalls Update until it is closed or ctx is done
	hold chan struct{}
}

func newMockProductStore(products ...domain.Product) *mockProductStore {
	m := &mockProductStore{products: make(map[string]domain.Product)}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

func (m *mockProductStore) FindByID(ctx context.Context, id string) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *mockProductStore) Update(ctx context.Context, id string, fn domain.ChangeFunc) (*domain.Product, error) {
	if m.hold != nil {
		select {
		case <-m.hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updateErr != nil {
		return nil, m.updateErr
	}
	p, ok := m.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}

	change, err := fn(p)
	if err != nil {
		return nil, err
	}
	if change.Quantity != nil {
		p.Quantity = *change.Quantity
	}
	if change.Location != nil {
		p.Location = *change.Location
	}
	if change.Adjustment != nil {
		m.adjustments = append(m.adjustments, *change.Adjustment)
	}
	if change.Move != nil {
		m.moves = append(m.moves, *change.Move)
	}
	m.products[id] = p
	return &p, nil
}

func (m *mockProductStore) ListLowStock(ctx context.Context) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Product
	for _, p := range m.products {
		if p.LowStock() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockProductStore) product(id string) domain.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id]
}

func (m *mockProductStore) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.products, id)
}

// Mock Notifier
type mockNotifier struct {
	mu     sync.Mutex
	alerts []domain.LowStockAlert
	err    error
}

func (m *mockNotifier) NotifyLowStock(ctx context.Context, alert domain.LowStockAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alert)
	return m.err
}

func (m *mockNotifier) sent() []domain.LowStockAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.LowStockAlert(nil), m.alerts...)
}

// Mock ReplayGuard
type mockGuard struct {
	mu     sync.Mutex
	claims map[string]string
}

func newMockGuard() *mockGuard {
	return &mockGuard{claims: make(map[string]string)}
}

func (m *mockGuard) Claim(ctx context.Context, actionID string) (domain.ClaimResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.claims[actionID] {
	case "applied":
		return domain.ClaimApplied, nil
	case "pending":
		return domain.ClaimInProgress, nil
	}
	m.claims[actionID] = "pending"
	return domain.ClaimAcquired, nil
}

func (m *mockGuard) Confirm(ctx context.Context, actionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claims[actionID] = "applied"
	return nil
}

func (m *mockGuard) state(actionID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claims[actionID]
}

func (m *mockGuard) Release(ctx context.Context, actionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, actionID)
	return nil
}

// Mock ActionStore keeping insertion order
type mockActionStore struct {
	mu      sync.Mutex
	order   []string
	entries map[string]domain.QueuedAction
	putErr  error
}

func newMockActionStore() *mockActionStore {
	return &mockActionStore{entries: make(map[string]domain.QueuedAction)}
}

func (m *mockActionStore) Put(ctx context.Context, action domain.QueuedAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.putErr != nil {
		return m.putErr
	}
	if _, ok := m.entries[action.ID]; !ok {
		m.order = append(m.order, action.ID)
	}
	m.entries[action.ID] = action
	return nil
}

func (m *mockActionStore) Get(ctx context.Context, id string) (*domain.QueuedAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.entries[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *mockActionStore) ListBySynced(ctx context.Context, synced bool) ([]domain.QueuedAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.QueuedAction
	for _, id := range m.order {
		if a := m.entries[id]; a.Synced == synced {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockActionStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *mockActionStore) MarkSynced(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.entries[id]; ok {
		a.Synced = true
		m.entries[id] = a
	}
	return nil
}

func (m *mockActionStore) RecordFailure(ctx context.Context, id, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.entries[id]; ok && !a.Synced {
		a.Attempts++
		a.LastError = message
		m.entries[id] = a
	}
	return nil
}

func (m *mockActionStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Mock SyncLease with a single holder and no expiry
type mockLease struct {
	mu       sync.Mutex
	holder   string
	acquired int
	err      error
}

func (m *mockLease) AcquireLease(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return false, m.err
	}
	if m.holder != "" && m.holder != owner {
		return false, nil
	}
	m.holder = owner
	m.acquired++
	return true, nil
}

func (m *mockLease) ReleaseLease(ctx context.Context, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.holder == owner {
		m.holder = ""
	}
	return nil
}

func (m *mockLease) held() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holder
}

// engineGateway submits batches straight to an in-process engine
type engineGateway struct {
	engine  *ReconciliationEngine
	calls   atomic.Int32
	block   chan struct{}
	entered chan struct{}
}

func (g *engineGateway) SubmitBatch(ctx context.Context, batch domain.SyncBatch) (domain.BatchResult, error) {
	g.calls.Add(1)
	if g.entered != nil {
		g.entered <- struct{}{}
	}
	if g.block != nil {
		<-g.block
	}
	return domain.BatchResult{Outcomes: g.engine.ApplyBatch(ctx, batch.Actions, batch.ActorID)}, nil
}

// failingGateway waits for the batch deadline like an unresponsive server
type failingGateway struct{}

func (failingGateway) SubmitBatch(ctx context.Context, batch domain.SyncBatch) (domain.BatchResult, error) {
	<-ctx.Done()
	return domain.BatchResult{}, ctx.Err()
}

type staticConn bool

func (c staticConn) Online() bool { return bool(c) }

// Mock Prober driven by a script of results
type mockProber struct {
	mu      sync.Mutex
	results []bool
	calls   int
}

func (m *mockProber) Probe(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	up := false
	if m.calls < len(m.results) {
		up = m.results[m.calls]
	} else if len(m.results) > 0 {
		up = m.results[len(m.results)-1]
	}
	m.calls++
	if !up {
		return errors.New("unreachable")
	}
	return nil
}
