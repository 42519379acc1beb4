package application

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	taxreport "compliance-cloud/internal/taxreport/domain"
	"compliance-cloud/internal/taxreport/infrastructure/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeBackend struct {
	mu           sync.Mutex
	cycles       []PayrollCycle
	payments     []TaxPayment
	paymentErr   error
	listCalls    int
	detailSizes  []int
	paymentSizes []int
}

func (b *fakeBackend) ListPayrollCycles(_ context.Context, _ time.Time) ([]PayrollCycle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listCalls++
	return append([]PayrollCycle(nil), b.cycles...), nil
}

func (b *fakeBackend) GetPayrollCycles(_ context.Context, ids []string) ([]PayrollCycle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.detailSizes = append(b.detailSizes, len(ids))
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	var out []PayrollCycle
	for _, cycle := range b.cycles {
		if _, ok := wanted[cycle.ID]; ok {
			out = append(out, cycle)
		}
	}
	return out, nil
}

func (b *fakeBackend) ListTaxPayments(_ context.Context, companyID string, cycleIDs []string) ([]TaxPayment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paymentSizes = append(b.paymentSizes, len(cycleIDs))
	if b.paymentErr != nil {
		return nil, b.paymentErr
	}
	wanted := make(map[string]struct{}, len(cycleIDs))
	for _, id := range cycleIDs {
		wanted[id] = struct{}{}
	}
	var out []TaxPayment
	for _, p := range b.payments {
		if p.CompanyID != companyID {
			continue
		}
		if _, ok := wanted[p.CycleID]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// recordingStore wraps the memory store, counting successful saves. Saves can
// be made to fail, or to block until released.
type recordingStore struct {
	*memory.KVStore

	mu      sync.Mutex
	saves   int
	failOn  error
	entered chan struct{}
	release chan struct{}
}

func newRecordingStore() *recordingStore {
	return &recordingStore{KVStore: memory.NewKVStore()}
}

func (s *recordingStore) Save(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	failOn, entered, release := s.failOn, s.entered, s.release
	s.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		<-release
	}
	if failOn != nil {
		return failOn
	}
	if err := s.KVStore.Save(ctx, key, value); err != nil {
		return err
	}
	s.mu.Lock()
	s.saves++
	s.mu.Unlock()
	return nil
}

func (s *recordingStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *recordingStore) FailSaves(err error) {
	s.mu.Lock()
	s.failOn = err
	s.mu.Unlock()
}

// BlockSaves makes the next saves signal entered and wait on release.
func (s *recordingStore) BlockSaves() (entered chan struct{}, release chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entered = make(chan struct{}, 1)
	s.release = make(chan struct{})
	return s.entered, s.release
}

// fakePopulator counts populations per company and can hold them on a gate.
type fakePopulator struct {
	mu    sync.Mutex
	calls map[string]int
	gate  chan struct{}
	errs  map[string]error
}

func newFakePopulator() *fakePopulator {
	return &fakePopulator{calls: make(map[string]int), errs: make(map[string]error)}
}

func (p *fakePopulator) Load(_ context.Context, companyID string) (taxreport.Report, error) {
	p.mu.Lock()
	p.calls[companyID]++
	n := p.calls[companyID]
	gate := p.gate
	err := p.errs[companyID]
	p.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	report := taxreport.Report{}
	entries := report.Ensure("2025")
	entries[0].PAYE.Amount = decimal.NewFromInt(int64(100 * n))
	entries[0].PAYE.Status = companyID
	return report, nil
}

func (p *fakePopulator) Calls(companyID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[companyID]
}

func (p *fakePopulator) FailFor(companyID string, err error) {
	p.mu.Lock()
	p.errs[companyID] = err
	p.mu.Unlock()
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}
