package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"compliance-cloud/internal/taxreport/application"
)

const (
	defaultCyclesTable   = "payroll_cycles"
	defaultPaymentsTable = "company_tax_payments"
)

// DBTX is the subset of *sql.DB and *sql.Tx used by the repositories.
type DBTX interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PayrollRepository reads payroll cycles and tax payments from Postgres.
type PayrollRepository struct {
	db            DBTX
	cyclesTable   string
	paymentsTable string
}

// PayrollOption configures the repository.
type PayrollOption func(*PayrollRepository)

// WithCyclesTable overrides the payroll cycles table name.
func WithCyclesTable(table string) PayrollOption {
	return func(repo *PayrollRepository) {
		if table != "" {
			repo.cyclesTable = table
		}
	}
}

// WithPaymentsTable overrides the tax payments table name.
func WithPaymentsTable(table string) PayrollOption {
	return func(repo *PayrollRepository) {
		if table != "" {
			repo.paymentsTable = table
		}
	}
}

// NewPayrollRepository constructs a repository.
func NewPayrollRepository(db DBTX, opts ...PayrollOption) *PayrollRepository {
	repo := &PayrollRepository{db: db, cyclesTable: defaultCyclesTable, paymentsTable: defaultPaymentsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

var _ application.Backend = (*PayrollRepository)(nil)

// ListPayrollCycles returns cycles created on or after since.
func (r *PayrollRepository) ListPayrollCycles(ctx context.Context, since time.Time) ([]application.PayrollCycle, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("payroll repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, month_year
FROM %s
WHERE created_at >= $1
ORDER BY created_at`, r.cyclesTable)
	return r.queryCycles(ctx, query, since.UTC())
}

// GetPayrollCycles returns the cycles with the given ids.
func (r *PayrollRepository) GetPayrollCycles(ctx context.Context, ids []string) ([]application.PayrollCycle, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("payroll repo: nil db")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
SELECT id, month_year
FROM %s
WHERE id = ANY($1)`, r.cyclesTable)
	return r.queryCycles(ctx, query, ids)
}

// ListTaxPayments returns the company's tax rows for the given cycles.
func (r *PayrollRepository) ListTaxPayments(ctx context.Context, companyID string, cycleIDs []string) ([]application.TaxPayment, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("payroll repo: nil db")
	}
	if companyID == "" {
		return nil, errors.New("payroll repo: empty company id")
	}
	if len(cycleIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
SELECT company_id, payroll_cycle_id, tax_type,
	COALESCE(amount, ''), COALESCE(payment_date, ''),
	COALESCE(status, ''), COALESCE(bank, ''), COALESCE(pay_mode, '')
FROM %s
WHERE company_id = $1 AND payroll_cycle_id = ANY($2)`, r.paymentsTable)

	rows, err := r.db.QueryContext(ctx, query, companyID, cycleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []application.TaxPayment
	for rows.Next() {
		var p application.TaxPayment
		if err := rows.Scan(&p.CompanyID, &p.CycleID, &p.TaxType, &p.Amount, &p.PaymentDate, &p.Status, &p.Bank, &p.PayMode); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r *PayrollRepository) queryCycles(ctx context.Context, query string, args ...any) ([]application.PayrollCycle, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cycles []application.PayrollCycle
	for rows.Next() {
		var cycle application.PayrollCycle
		var monthYear sql.NullString
		if err := rows.Scan(&cycle.ID, &monthYear); err != nil {
			return nil, err
		}
		cycle.MonthYear = monthYear.String
		cycles = append(cycles, cycle)
	}
	return cycles, rows.Err()
}
