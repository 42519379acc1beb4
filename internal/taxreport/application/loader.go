package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	taxreport "compliance-cloud/internal/taxreport/domain"
)

const (
	// DefaultLookbackYears bounds the payroll cycle query window.
	DefaultLookbackYears = 2
	// DefaultBatchSize caps ids per in-clause query.
	DefaultBatchSize = 50
)

// Populator builds a full tax report for one company.
type Populator interface {
	Load(ctx context.Context, companyID string) (taxreport.Report, error)
}

// Loader populates tax reports from the backend.
type Loader struct {
	backend       Backend
	clock         Clock
	logger        *log.Logger
	lookbackYears int
	batchSize     int

	cycles singleflight.Group
}

// LoaderOption configures the loader.
type LoaderOption func(*Loader)

// WithLookbackYears overrides the payroll cycle lookback window.
func WithLookbackYears(years int) LoaderOption {
	return func(l *Loader) {
		if l != nil && years > 0 {
			l.lookbackYears = years
		}
	}
}

// WithBatchSize overrides the in-clause batch size.
func WithBatchSize(size int) LoaderOption {
	return func(l *Loader) {
		if l != nil && size > 0 {
			l.batchSize = size
		}
	}
}

// WithLoaderClock overrides the loader clock.
func WithLoaderClock(clock Clock) LoaderOption {
	return func(l *Loader) {
		if l != nil && clock != nil {
			l.clock = clock
		}
	}
}

// WithLoaderLogger sets the loader logger.
func WithLoaderLogger(logger *log.Logger) LoaderOption {
	return func(l *Loader) {
		if l != nil {
			l.logger = logger
		}
	}
}

// NewLoader constructs a loader.
func NewLoader(backend Backend, opts ...LoaderOption) (*Loader, error) {
	if backend == nil {
		return nil, errors.New("tax report loader: nil backend")
	}
	loader := &Loader{
		backend:       backend,
		clock:         SystemClock{},
		lookbackYears: DefaultLookbackYears,
		batchSize:     DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(loader)
	}
	return loader, nil
}

// Load fetches every payroll cycle in the lookback window and folds the
// company's tax rows into twelve monthly entries per year. Years are loaded
// in parallel; when one fails the years that finished are still returned
// together with the error.
func (l *Loader) Load(ctx context.Context, companyID string) (taxreport.Report, error) {
	if companyID == "" {
		return nil, taxreport.ErrEmptyCompanyID
	}
	now := l.clock.Now()
	since := now.AddDate(-l.lookbackYears, 0, 0)

	cycles, err := l.listCycles(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("list payroll cycles: %w", err)
	}

	byYear := make(map[int][]string)
	for _, cycle := range cycles {
		year, _, err := taxreport.ParseMonthYear(cycle.MonthYear)
		if err != nil {
			l.logf("tax report loader: skip cycle=%s: %v", cycle.ID, err)
			continue
		}
		byYear[year] = append(byYear[year], cycle.ID)
	}

	report := taxreport.Report{}
	var mu sync.Mutex
	var g errgroup.Group
	for year, ids := range byYear {
		g.Go(func() error {
			entries, err := l.loadYear(ctx, companyID, year, ids)
			if err != nil {
				return fmt.Errorf("load year %d: %w", year, err)
			}
			mu.Lock()
			report[taxreport.YearKey(year)] = entries
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()

	report.Ensure(taxreport.YearKey(now.Year()))
	report.Ensure(taxreport.YearKey(now.Year() - 1))
	return report, err
}

// listCycles shares one backend round-trip between concurrent populations
// asking for the same window.
func (l *Loader) listCycles(ctx context.Context, since time.Time) ([]PayrollCycle, error) {
	key := since.Format("2006-01-02")
	value, err, _ := l.cycles.Do(key, func() (any, error) {
		return l.backend.ListPayrollCycles(ctx, since)
	})
	if err != nil {
		return nil, err
	}
	cycles, _ := value.([]PayrollCycle)
	return cycles, nil
}

func (l *Loader) loadYear(ctx context.Context, companyID string, year int, cycleIDs []string) ([]taxreport.TaxEntry, error) {
	entries := taxreport.NewYear()

	var mu sync.Mutex
	monthYears := make(map[string]string, len(cycleIDs))
	var payments []TaxPayment

	g, gctx := errgroup.WithContext(ctx)
	for _, batch := range chunk(cycleIDs, l.batchSize) {
		g.Go(func() error {
			details, err := l.backend.GetPayrollCycles(gctx, batch)
			if err != nil {
				return fmt.Errorf("get payroll cycles: %w", err)
			}
			mu.Lock()
			for _, cycle := range details {
				monthYears[cycle.ID] = cycle.MonthYear
			}
			mu.Unlock()
			return nil
		})
		g.Go(func() error {
			rows, err := l.backend.ListTaxPayments(gctx, companyID, batch)
			if err != nil {
				return fmt.Errorf("list tax payments: %w", err)
			}
			mu.Lock()
			payments = append(payments, rows...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, payment := range payments {
		monthYear, ok := monthYears[payment.CycleID]
		if !ok {
			continue
		}
		paymentYear, month, err := taxreport.ParseMonthYear(monthYear)
		if err != nil || paymentYear != year {
			continue
		}
		kind, ok := taxreport.KindForField(payment.TaxType)
		if !ok {
			continue
		}
		record, err := entries[month-1].Record(kind)
		if err != nil {
			continue
		}
		applyPayment(record, payment)
	}
	return entries, nil
}

// applyPayment sums amounts landing in the same slot; non-empty metadata
// from later rows replaces earlier values.
func applyPayment(record *taxreport.TaxRecord, payment TaxPayment) {
	record.Amount = record.Amount.Add(taxreport.ParseAmount(payment.Amount))
	if date := taxreport.ParseDate(payment.PaymentDate); date != nil {
		record.Date = date
	}
	if payment.Status != "" {
		record.Status = payment.Status
	}
	if payment.Bank != "" {
		record.Bank = payment.Bank
	}
	if payment.PayMode != "" {
		record.PayMode = payment.PayMode
	}
}

func chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var batches [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[start:end])
	}
	return batches
}

func (l *Loader) logf(format string, args ...any) {
	if l.logger != nil {
		l.logger.Printf(format, args...)
	}
}
