package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"compliance-cloud/internal/audit"
	"compliance-cloud/internal/auth"
	"compliance-cloud/internal/taxreport/application"
	"compliance-cloud/internal/taxreport/infrastructure/memory"
)

type stubBackend struct {
	gate chan struct{}
	err  error
}

func (b *stubBackend) ListPayrollCycles(context.Context, time.Time) ([]application.PayrollCycle, error) {
	if b.gate != nil {
		<-b.gate
	}
	if b.err != nil {
		return nil, b.err
	}
	return []application.PayrollCycle{{ID: "c1", MonthYear: "2025-01"}}, nil
}

func (b *stubBackend) GetPayrollCycles(_ context.Context, ids []string) ([]application.PayrollCycle, error) {
	return []application.PayrollCycle{{ID: "c1", MonthYear: "2025-01"}}, nil
}

func (b *stubBackend) ListTaxPayments(_ context.Context, companyID string, _ []string) ([]application.TaxPayment, error) {
	return []application.TaxPayment{{CompanyID: companyID, CycleID: "c1", TaxType: "paye", Amount: "1500"}}, nil
}

type stubChecker map[string]string

func (s stubChecker) EnsureCompanyTenant(_ context.Context, tenantID, companyID string) error {
	owner, ok := s[companyID]
	if !ok {
		return auth.ErrCompanyNotFound
	}
	if owner != tenantID {
		return auth.ErrCompanyMismatch
	}
	return nil
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *recordingAudit) Log(_ context.Context, entry audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *recordingAudit) Actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var actions []string
	for _, e := range a.entries {
		actions = append(actions, e.Action)
	}
	return actions
}

func newTestHandler(t *testing.T, backend application.Backend, opts ...Option) (*Handler, *application.Cache) {
	t.Helper()
	loader, err := application.NewLoader(backend)
	if err != nil {
		t.Fatalf("new loader: %v", err)
	}
	cache, err := application.NewCache(loader, memory.NewKVStore(), application.WithPrefetch(3, time.Millisecond))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	handler, err := NewHandler(cache, opts...)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return handler, cache
}

func asTenant(req *http.Request, tenantID string) *http.Request {
	ctx := auth.WithIdentity(req.Context(), tenantID, auth.RoleAdmin, "user-1")
	return req.WithContext(ctx)
}

func decodeReport(t *testing.T, resp *httptest.ResponseRecorder) reportResponse {
	t.Helper()
	var body reportResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v (%s)", err, resp.Body.String())
	}
	return body
}

func TestHandler_LoadingThenReady(t *testing.T) {
	backend := &stubBackend{gate: make(chan struct{})}
	handler, _ := newTestHandler(t, backend)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/tax-reports/co-1", nil))
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202 while loading, got %d", resp.Code)
	}
	body := decodeReport(t, resp)
	if body.Complete || len(body.Data) != 2 {
		t.Fatalf("expected zero-filled placeholder, got %+v", body)
	}

	close(backend.gate)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/tax-reports/co-1?wait=true", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 after wait, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/tax-reports/co-1", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 when ready, got %d", resp.Code)
	}
	body = decodeReport(t, resp)
	if !body.Complete || body.FetchedAt == nil {
		t.Fatalf("expected complete response, got %+v", body)
	}
	if got := body.Data["2025"][0].PAYE.Amount.String(); got != "1500" {
		t.Fatalf("unexpected paye amount %s", got)
	}
}

func TestHandler_WaitReportsPopulationFailure(t *testing.T) {
	handler, _ := newTestHandler(t, &stubBackend{err: errors.New("backend down")})
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/tax-reports/co-1?wait=true", nil))
	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.Code)
	}
}

func TestHandler_CompanyOwnership(t *testing.T) {
	handler, _ := newTestHandler(t, &stubBackend{}, WithCompanyChecker(stubChecker{"co-1": "tenant-a"}))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, asTenant(httptest.NewRequest(http.MethodGet, "/api/v1/tax-reports/co-1", nil), "tenant-b"))
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, asTenant(httptest.NewRequest(http.MethodGet, "/api/v1/tax-reports/co-9", nil), "tenant-a"))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestHandler_PrefetchRunsInBackground(t *testing.T) {
	recorder := &recordingAudit{}
	handler, cache := newTestHandler(t, &stubBackend{}, WithAuditLogger(recorder))

	body := bytes.NewBufferString(`{"company_ids":["co-1"," co-2 ",""]}`)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, asTenant(httptest.NewRequest(http.MethodPost, "/api/v1/tax-report-cache/prefetch", body), "tenant-a"))
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.Code)
	}
	handler.Wait()
	if !cache.Valid("co-1") || !cache.Valid("co-2") {
		t.Fatalf("expected prefetched companies to be cached")
	}
	if actions := recorder.Actions(); len(actions) != 1 || actions[0] != audit.ActionTaxReportPrefetch {
		t.Fatalf("unexpected audit actions %v", actions)
	}
}

func TestHandler_PrefetchRejectsEmptyList(t *testing.T) {
	handler, _ := newTestHandler(t, &stubBackend{})
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/tax-report-cache/prefetch", strings.NewReader(`{"company_ids":[]}`)))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestHandler_ClearCache(t *testing.T) {
	recorder := &recordingAudit{}
	handler, cache := newTestHandler(t, &stubBackend{}, WithAuditLogger(recorder))
	if _, err := cache.Fetch(context.Background(), "co-1"); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, asTenant(httptest.NewRequest(http.MethodDelete, "/api/v1/tax-report-cache", nil), "tenant-a"))
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if cache.Len() != 0 {
		t.Fatalf("expected empty cache after clear")
	}
	if actions := recorder.Actions(); len(actions) != 1 || actions[0] != audit.ActionTaxReportClear {
		t.Fatalf("unexpected audit actions %v", actions)
	}
}

func TestHandler_ExportXLSX(t *testing.T) {
	handler, _ := newTestHandler(t, &stubBackend{})
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/tax-reports/co-1/export.xlsx", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if !strings.Contains(resp.Header().Get("Content-Type"), "spreadsheetml") {
		t.Fatalf("unexpected content type %s", resp.Header().Get("Content-Type"))
	}
	if resp.Body.Len() == 0 {
		t.Fatalf("expected export body")
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/tax-reports/co-1/export.csv", nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown format, got %d", resp.Code)
	}
}

func TestHandler_RequiresTokenBehindMiddleware(t *testing.T) {
	handler, _ := newTestHandler(t, &stubBackend{})
	secret := []byte("test-secret")
	wrapped := auth.NewMiddleware(secret, auth.NewDefaultPolicy(nil, nil)).Wrap(handler)

	resp := httptest.NewRecorder()
	wrapped.ServeHTTP(resp, httptest.NewRequest(http.MethodDelete, "/api/v1/tax-report-cache", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}

	token, err := auth.SignJWT(secret, "tenant-a", auth.RoleAdmin, "user-1", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/tax-report-cache", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp = httptest.NewRecorder()
	wrapped.ServeHTTP(resp, req)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestHandler_WaitReportsStoredFetchedAt(t *testing.T) {
	populatedAt := time.Date(2025, time.March, 1, 8, 0, 0, 0, time.UTC)
	loader, err := application.NewLoader(&stubBackend{})
	if err != nil {
		t.Fatalf("new loader: %v", err)
	}
	cache, err := application.NewCache(loader, nil, application.WithClock(fixedClock{now: populatedAt}))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	handler, err := NewHandler(cache)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	for _, target := range []string{"/api/v1/tax-reports/co-1?wait=true", "/api/v1/tax-reports/co-1"} {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, target, nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", target, resp.Code)
		}
		body := decodeReport(t, resp)
		if body.FetchedAt == nil || !body.FetchedAt.Equal(populatedAt) {
			t.Fatalf("%s: expected fetched_at %v, got %v", target, populatedAt, body.FetchedAt)
		}
	}
}

func TestHandler_CacheRoutesDoNotShadowCompanies(t *testing.T) {
	handler, _ := newTestHandler(t, &stubBackend{})
	for _, companyID := range []string{"cache", "prefetch"} {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/tax-reports/"+companyID+"?wait=true", nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("company %q: expected 200, got %d", companyID, resp.Code)
		}
		if body := decodeReport(t, resp); body.CompanyID != companyID || !body.Complete {
			t.Fatalf("company %q: unexpected body %+v", companyID, body)
		}
	}
}

func TestHandler_PrefetchStopsWithBaseContext(t *testing.T) {
	loader, err := application.NewLoader(&stubBackend{})
	if err != nil {
		t.Fatalf("new loader: %v", err)
	}
	cache, err := application.NewCache(loader, nil, application.WithPrefetch(1, time.Hour))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	handler, err := NewHandler(cache, WithBaseContext(baseCtx))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	resp := httptest.NewRecorder()
	body := strings.NewReader(`{"company_ids":["co-1","co-2","co-3"]}`)
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/tax-report-cache/prefetch", body))
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.Code)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		handler.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("background prefetch ignored shutdown")
	}
	if cache.Valid("co-3") {
		t.Fatalf("prefetch continued past shutdown")
	}
}
