package application

import (
	"context"
	"time"
)

// PayrollCycle is a payroll run tagged with its month_year label.
type PayrollCycle struct {
	ID        string
	MonthYear string
}

// TaxPayment is one raw per-company tax row as stored by the backend.
type TaxPayment struct {
	CompanyID   string
	CycleID     string
	TaxType     string
	Amount      string
	PaymentDate string
	Status      string
	Bank        string
	PayMode     string
}

// Backend is the relational backend the population loader reads from.
type Backend interface {
	// ListPayrollCycles returns cycles created at or after since.
	ListPayrollCycles(ctx context.Context, since time.Time) ([]PayrollCycle, error)
	// GetPayrollCycles returns the cycles with the given ids.
	GetPayrollCycles(ctx context.Context, ids []string) ([]PayrollCycle, error)
	// ListTaxPayments returns a company's tax rows for the given cycles.
	ListTaxPayments(ctx context.Context, companyID string, cycleIDs []string) ([]TaxPayment, error)
}

// Store is a synchronous key/value store used as the durable cache mirror.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
