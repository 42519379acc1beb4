package application

import (
	"context"
	"time"

	taxreport "compliance-cloud/internal/taxreport/domain"
)

// LoadTask is the in-flight population of one company's report. Every
// caller asking for the same company while it runs receives the same task.
type LoadTask struct {
	companyID   string
	placeholder taxreport.Report
	done        chan struct{}

	report    taxreport.Report
	fetchedAt time.Time
	err       error
}

func newLoadTask(companyID string, placeholder taxreport.Report) *LoadTask {
	return &LoadTask{
		companyID:   companyID,
		placeholder: placeholder,
		done:        make(chan struct{}),
	}
}

// CompanyID returns the company being populated.
func (t *LoadTask) CompanyID() string { return t.companyID }

// Placeholder returns the zero-filled report served while loading.
func (t *LoadTask) Placeholder() taxreport.Report { return t.placeholder.Clone() }

// Done is closed once population finishes.
func (t *LoadTask) Done() <-chan struct{} { return t.done }

// Wait blocks until population finishes or ctx ends. Ending ctx only stops
// the wait; the population itself keeps running. On failure the years that
// did load are returned together with the error.
func (t *LoadTask) Wait(ctx context.Context) (taxreport.Report, error) {
	select {
	case <-t.done:
		return t.report.Clone(), t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FetchedAt returns when the populated report was stored. It is zero until
// Done is closed, and stays zero when population failed.
func (t *LoadTask) FetchedAt() time.Time {
	select {
	case <-t.done:
		return t.fetchedAt
	default:
		return time.Time{}
	}
}

func (t *LoadTask) finish(report taxreport.Report, fetchedAt time.Time, err error) {
	t.report = report
	t.fetchedAt = fetchedAt
	t.err = err
	close(t.done)
}
