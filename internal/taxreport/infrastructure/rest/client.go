package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"compliance-cloud/internal/taxreport/application"
)

const (
	cyclesTable   = "payroll_cycles"
	paymentsTable = "company_tax_payments"
)

// Client reads payroll data from a PostgREST-style hosted API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithRequestRate caps outgoing requests per second, allowing short bursts.
// A non-positive rps leaves requests unpaced.
func WithRequestRate(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient constructs a REST backend client.
func NewClient(baseURL, apiKey string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("rest backend: empty base url")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

var _ application.Backend = (*Client)(nil)

type cycleRow struct {
	ID        string  `json:"id"`
	MonthYear *string `json:"month_year"`
}

type paymentRow struct {
	CompanyID      string          `json:"company_id"`
	PayrollCycleID string          `json:"payroll_cycle_id"`
	TaxType        string          `json:"tax_type"`
	Amount         json.RawMessage `json:"amount"`
	PaymentDate    *string         `json:"payment_date"`
	Status         *string         `json:"status"`
	Bank           *string         `json:"bank"`
	PayMode        *string         `json:"pay_mode"`
}

// ListPayrollCycles returns cycles created on or after since.
func (c *Client) ListPayrollCycles(ctx context.Context, since time.Time) ([]application.PayrollCycle, error) {
	query := url.Values{}
	query.Set("select", "id,month_year")
	query.Set("created_at", "gte."+since.UTC().Format(time.RFC3339))
	query.Set("order", "created_at.asc")

	var rows []cycleRow
	if err := c.get(ctx, cyclesTable, query, &rows); err != nil {
		return nil, err
	}
	return toCycles(rows), nil
}

// GetPayrollCycles returns the cycles with the given ids.
func (c *Client) GetPayrollCycles(ctx context.Context, ids []string) ([]application.PayrollCycle, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := url.Values{}
	query.Set("select", "id,month_year")
	query.Set("id", inFilter(ids))

	var rows []cycleRow
	if err := c.get(ctx, cyclesTable, query, &rows); err != nil {
		return nil, err
	}
	return toCycles(rows), nil
}

// ListTaxPayments returns the company's tax rows for the given cycles.
func (c *Client) ListTaxPayments(ctx context.Context, companyID string, cycleIDs []string) ([]application.TaxPayment, error) {
	if companyID == "" {
		return nil, errors.New("rest backend: empty company id")
	}
	if len(cycleIDs) == 0 {
		return nil, nil
	}
	query := url.Values{}
	query.Set("select", "company_id,payroll_cycle_id,tax_type,amount,payment_date,status,bank,pay_mode")
	query.Set("company_id", "eq."+companyID)
	query.Set("payroll_cycle_id", inFilter(cycleIDs))

	var rows []paymentRow
	if err := c.get(ctx, paymentsTable, query, &rows); err != nil {
		return nil, err
	}
	payments := make([]application.TaxPayment, 0, len(rows))
	for _, row := range rows {
		payments = append(payments, application.TaxPayment{
			CompanyID:   row.CompanyID,
			CycleID:     row.PayrollCycleID,
			TaxType:     row.TaxType,
			Amount:      rawText(row.Amount),
			PaymentDate: deref(row.PaymentDate),
			Status:      deref(row.Status),
			Bank:        deref(row.Bank),
			PayMode:     deref(row.PayMode),
		})
	}
	return payments, nil
}

func (c *Client) get(ctx context.Context, table string, query url.Values, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rest backend: %s rate wait: %w", table, err)
		}
	}
	endpoint := fmt.Sprintf("%s/rest/v1/%s?%s", c.baseURL, table, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("rest backend: %s http %d", table, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// inFilter renders a PostgREST in.(...) filter, quoting every id.
func inFilter(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = `"` + strings.ReplaceAll(id, `"`, `\"`) + `"`
	}
	return "in.(" + strings.Join(quoted, ",") + ")"
}

func toCycles(rows []cycleRow) []application.PayrollCycle {
	cycles := make([]application.PayrollCycle, 0, len(rows))
	for _, row := range rows {
		cycles = append(cycles, application.PayrollCycle{ID: row.ID, MonthYear: deref(row.MonthYear)})
	}
	return cycles
}

// rawText accepts amount as a JSON string or number.
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return string(raw)
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
