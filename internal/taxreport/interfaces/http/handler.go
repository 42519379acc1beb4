package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"compliance-cloud/internal/audit"
	"compliance-cloud/internal/auth"
	"compliance-cloud/internal/observability/metrics"
	"compliance-cloud/internal/taxreport/application"
	taxreport "compliance-cloud/internal/taxreport/domain"
	"compliance-cloud/internal/taxreport/interfaces"
)

const (
	routePrefix   = "/api/v1/tax-reports/"
	routeCache    = "/api/v1/tax-report-cache"
	routePrefetch = "/api/v1/tax-report-cache/prefetch"

	defaultWaitTimeout = 60 * time.Second
	maxPrefetchIDs     = 500
)

// Handler serves tax report endpoints.
type Handler struct {
	cache          *application.Cache
	companyChecker auth.CompanyTenantChecker
	auditLogger    audit.Logger
	logger         *log.Logger
	waitTimeout    time.Duration

	baseCtx    context.Context
	background sync.WaitGroup
}

// Option configures the handler.
type Option func(*Handler)

// WithCompanyChecker enables company ownership checks.
func WithCompanyChecker(checker auth.CompanyTenantChecker) Option {
	return func(h *Handler) {
		h.companyChecker = checker
	}
}

// WithAuditLogger enables audit logging.
func WithAuditLogger(logger audit.Logger) Option {
	return func(h *Handler) {
		h.auditLogger = logger
	}
}

// WithLogger sets the handler logger.
func WithLogger(logger *log.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithWaitTimeout bounds how long a request waits for population.
func WithWaitTimeout(timeout time.Duration) Option {
	return func(h *Handler) {
		if timeout > 0 {
			h.waitTimeout = timeout
		}
	}
}

// WithBaseContext bounds background prefetches; they stop once ctx ends.
func WithBaseContext(ctx context.Context) Option {
	return func(h *Handler) {
		if ctx != nil {
			h.baseCtx = ctx
		}
	}
}

// NewHandler constructs a handler.
func NewHandler(cache *application.Cache, opts ...Option) (*Handler, error) {
	if cache == nil {
		return nil, errors.New("taxreport handler: nil cache")
	}
	h := &Handler{cache: cache, waitTimeout: defaultWaitTimeout, baseCtx: context.Background()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type reportResponse struct {
	CompanyID string           `json:"company_id"`
	Complete  bool             `json:"complete"`
	FetchedAt *time.Time       `json:"fetched_at,omitempty"`
	Data      taxreport.Report `json:"data"`
}

type prefetchRequest struct {
	CompanyIDs []string `json:"company_ids"`
}

type prefetchResponse struct {
	Accepted int `json:"accepted"`
}

// ServeHTTP handles /api/v1/tax-reports/* and /api/v1/tax-report-cache/*.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == routeCache:
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleClear(w, r)
	case r.URL.Path == routePrefetch:
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handlePrefetch(w, r)
	case strings.HasPrefix(r.URL.Path, routePrefix):
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, routePrefix), "/")
		switch {
		case len(parts) == 1 && parts[0] != "":
			h.handleGet(w, r, parts[0])
		case len(parts) == 2 && parts[0] != "" && strings.HasPrefix(parts[1], "export."):
			h.handleExport(w, r, parts[0], strings.TrimPrefix(parts[1], "export."))
		default:
			http.NotFound(w, r)
		}
	default:
		http.NotFound(w, r)
	}
}

// Wait blocks until background prefetches started by the handler finish.
func (h *Handler) Wait() {
	h.background.Wait()
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, companyID string) {
	if err := h.ensureCompany(r, companyID); err != nil {
		respondCompanyError(w, err)
		return
	}
	lookup, err := h.cache.Get(companyID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if lookup.Complete() {
		writeJSON(w, http.StatusOK, readyResponse(companyID, lookup.Report, lookup.FetchedAt))
		return
	}
	if r.URL.Query().Get("wait") != "true" {
		writeJSON(w, http.StatusAccepted, reportResponse{CompanyID: companyID, Data: lookup.Report})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.waitTimeout)
	defer cancel()
	report, err := lookup.Task.Wait(ctx)
	if err != nil {
		respondWaitError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, readyResponse(companyID, report, lookup.Task.FetchedAt()))
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request, companyID, format string) {
	if format != "xlsx" && format != "pdf" {
		http.Error(w, "unsupported export format", http.StatusBadRequest)
		return
	}
	if err := h.ensureCompany(r, companyID); err != nil {
		respondCompanyError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.waitTimeout)
	defer cancel()
	report, fetchedAt, err := h.await(ctx, companyID)
	if err != nil {
		respondWaitError(w, err)
		return
	}

	start := time.Now()
	var (
		data        []byte
		contentType string
	)
	switch format {
	case "xlsx":
		data, err = interfaces.BuildReportXLSX(companyID, report)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pdf":
		data, err = interfaces.BuildReportPDF(companyID, report, fetchedAt)
		contentType = "application/pdf"
	}
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(start))
		h.logf("tax report export error: company=%s format=%s err=%v", companyID, format, err)
		http.Error(w, "export error", http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport(format, metrics.ResultSuccess, time.Since(start))
	h.logAudit(r, audit.ActionTaxReportExport, companyID, map[string]any{"format": format})

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename=\"tax-report-"+companyID+"."+format+"\"")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) handlePrefetch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req prefetchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	ids := make([]string, 0, len(req.CompanyIDs))
	for _, id := range req.CompanyIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		http.Error(w, "company_ids is required", http.StatusBadRequest)
		return
	}
	if len(ids) > maxPrefetchIDs {
		http.Error(w, "too many company_ids", http.StatusBadRequest)
		return
	}
	for _, id := range ids {
		if err := h.ensureCompany(r, id); err != nil {
			respondCompanyError(w, err)
			return
		}
	}

	h.logAudit(r, audit.ActionTaxReportPrefetch, "", map[string]any{"company_ids": ids})

	ctx := h.baseCtx
	h.background.Add(1)
	go func() {
		defer h.background.Done()
		result := h.cache.PrefetchMany(ctx, ids)
		h.logf("tax report prefetch done: requested=%d skipped=%d fetched=%d failed=%d",
			result.Requested, result.Skipped, result.Fetched, result.Failed)
	}()

	writeJSON(w, http.StatusAccepted, prefetchResponse{Accepted: len(ids)})
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.Clear(r.Context()); err != nil {
		http.Error(w, "clear cache error", http.StatusInternalServerError)
		return
	}
	h.logAudit(r, audit.ActionTaxReportClear, "", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) await(ctx context.Context, companyID string) (taxreport.Report, time.Time, error) {
	lookup, err := h.cache.Get(companyID)
	if err != nil {
		return nil, time.Time{}, err
	}
	if lookup.Complete() {
		return lookup.Report, lookup.FetchedAt, nil
	}
	report, err := lookup.Task.Wait(ctx)
	return report, lookup.Task.FetchedAt(), err
}

func (h *Handler) ensureCompany(r *http.Request, companyID string) error {
	if h.companyChecker == nil {
		return nil
	}
	return h.companyChecker.EnsureCompanyTenant(r.Context(), auth.TenantIDFromContext(r.Context()), companyID)
}

func (h *Handler) logAudit(r *http.Request, action, companyID string, meta map[string]any) {
	tenantID := auth.TenantIDFromContext(r.Context())
	if h.auditLogger == nil || tenantID == "" {
		return
	}
	var payload json.RawMessage
	if meta != nil {
		payload, _ = json.Marshal(meta)
	}
	if err := h.auditLogger.Log(r.Context(), audit.Entry{
		TenantID:     tenantID,
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "tax_report",
		ResourceID:   companyID,
		CompanyID:    companyID,
		Metadata:     payload,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	}); err != nil {
		h.logf("audit log error: action=%s err=%v", action, err)
	}
}

func (h *Handler) logf(format string, args ...any) {
	if h.logger != nil {
		h.logger.Printf(format, args...)
	}
}

func readyResponse(companyID string, report taxreport.Report, fetchedAt time.Time) reportResponse {
	resp := reportResponse{CompanyID: companyID, Complete: true, Data: report}
	if !fetchedAt.IsZero() {
		resp.FetchedAt = &fetchedAt
	}
	return resp
}

func respondCompanyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrCompanyMismatch):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, auth.ErrCompanyNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		http.Error(w, "company check failed", http.StatusInternalServerError)
	}
}

func respondWaitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "population still running", http.StatusGatewayTimeout)
	case errors.Is(err, context.Canceled):
		http.Error(w, "request cancelled", http.StatusServiceUnavailable)
	case errors.Is(err, taxreport.ErrEmptyCompanyID):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "tax report population failed", http.StatusBadGateway)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
