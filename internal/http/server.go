// Package http is the thin JSON surface over the budgeting service. It
// parses requests, establishes the tenant scope from proxy-injected headers,
// maps typed errors onto status codes and converts decimals to plain numbers
// at the boundary. No business logic lives here.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bilancio/internal/cache"
	"bilancio/internal/core"
	applog "bilancio/internal/log"
	"bilancio/internal/middleware/ratelimit"
	"bilancio/internal/middleware/trace"
	"bilancio/internal/services"
	"bilancio/internal/tenant"
)

// BudgetService is the service surface the handlers need. Implemented by
// *services.Service; tests inject a stub.
type BudgetService interface {
	AccountBalances(ctx context.Context, year int) (core.AccountsReport, error)
	BudgetData(ctx context.Context, year int) (core.BudgetData, error)
	Summary(ctx context.Context, year int) (core.Summary, error)
	OpenYear(ctx context.Context, year int) (core.BudgetYear, error)
	CreateYear(ctx context.Context, year int, initial decimal.Decimal) (core.BudgetYear, error)
	RecordTransaction(ctx context.Context, in services.TransactionInput) (core.Transaction, error)
	AmendTransaction(ctx context.Context, id int64, in services.TransactionInput, recalculate bool) (core.Transaction, error)
	RecordTransfer(ctx context.Context, in services.TransferInput) (core.Transfer, error)
	SetAccountBalance(ctx context.Context, year int, account core.AccountRef, balance decimal.Decimal) error
	SetMonthlyBudget(ctx context.Context, itemID int64, month int, budget decimal.Decimal) error
	ReorderItems(ctx context.Context, yearID int64, orderedIDs []int64) error
}

// Options tunes the server's caches and request limiter. Zero limiter values
// fall back to the ratelimit defaults.
type Options struct {
	CacheSize         int
	CacheTTL          time.Duration
	RequestsPerMinute int
}

type Server struct {
	*http.Server
	svc          BudgetService
	logger       *applog.Logger
	limiter      *ratelimit.Limiter
	summaryCache *cache.LRUCache[[]byte]
	dataCache    *cache.LRUCache[[]byte]
}

func NewServer(addr string, svc BudgetService, opts Options) *Server {
	s := &Server{
		svc:    svc,
		logger: applog.New(applog.DefaultConfig()).WithComponent("http"),
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerWindow: opts.RequestsPerMinute,
			Window:            time.Minute,
		}),
		summaryCache: cache.NewLRUCache[[]byte](opts.CacheSize, opts.CacheTTL),
		dataCache:    cache.NewLRUCache[[]byte](opts.CacheSize, opts.CacheTTL),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/years/{year}/budget", s.handleBudgetData)
	mux.HandleFunc("GET /api/years/{year}/summary", s.handleSummary)
	mux.HandleFunc("GET /api/years/{year}/accounts", s.handleAccountBalances)
	mux.HandleFunc("POST /api/years", s.handleCreateYear)
	mux.HandleFunc("POST /api/years/{year}/balances", s.handleSetAccountBalance)
	mux.HandleFunc("POST /api/transactions", s.handleRecordTransaction)
	mux.HandleFunc("PUT /api/transactions/{id}", s.handleAmendTransaction)
	mux.HandleFunc("POST /api/transfers", s.handleRecordTransfer)
	mux.HandleFunc("POST /api/items/{id}/monthly", s.handleSetMonthlyBudget)
	mux.HandleFunc("POST /api/years/{yearID}/items/reorder", s.handleReorderItems)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	// trace outermost so rejected requests are logged too
	handler := withTenant(mux)
	handler = s.limiter.Handler(clientIP, s.handleRateLimited)(handler)
	handler = trace.NewMiddleware(clientIP).Handler(handler)
	handler = withSecurityHeaders(handler)

	s.Server = &http.Server{
		Addr:    addr,
		Handler: handler,
	}
	return s
}

// Stop releases the server's background resources. Call after the listener
// has shut down.
func (s *Server) Stop() {
	s.limiter.Stop()
}

// clientIP resolves the caller's address, preferring the proxy headers the
// deployment injects over the raw peer address.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		if i := strings.IndexByte(ip, ','); i >= 0 {
			ip = ip[:i]
		}
		return strings.TrimSpace(ip)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

func (s *Server) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Retry-After", "60")
	writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
}

// withSecurityHeaders applies the response headers a JSON API wants. The
// browser-UI set (CSP, HSTS) is the reverse proxy's job.
func withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// withTenant lifts the proxy-injected identity headers into a tenant scope.
// Requests without them keep an unscoped context; the guard in the storage
// layer rejects any data access they attempt.
func withTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err1 := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
		budgetID, err2 := strconv.ParseInt(r.Header.Get("X-Budget-ID"), 10, 64)
		if err1 == nil && err2 == nil {
			ctx := tenant.NewContext(r.Context(), tenant.Scope{UserID: userID, BudgetID: budgetID})
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// writeError maps the engine's error taxonomy onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch {
	case errors.Is(err, tenant.ErrNoScope):
		status = http.StatusForbidden
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidMonth),
		errors.Is(err, core.ErrInvalidDay),
		errors.Is(err, core.ErrInvalidDirection),
		errors.Is(err, core.ErrInvalidSettlementDay),
		errors.Is(err, core.ErrInvalidGroupType),
		errors.Is(err, core.ErrLinkCycle),
		errors.Is(err, core.ErrEmptyName):
		status = http.StatusUnprocessableEntity
	default:
		status = http.StatusInternalServerError
	}
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "Request failed",
			applog.FieldError, err, "method", r.Method, "path", r.URL.Path)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func yearFromPath(r *http.Request) (int, error) {
	year, err := strconv.Atoi(r.PathValue("year"))
	if err != nil || year < 1900 || year > 9999 {
		return 0, fmt.Errorf("invalid year %q", r.PathValue("year"))
	}
	return year, nil
}

func idFromPath(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", r.PathValue(name))
	}
	return id, nil
}

func (s *Server) cacheKey(r *http.Request, year int) (string, bool) {
	scope, err := tenant.FromContext(r.Context())
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("%d:%d", scope.BudgetID, year), true
}

func (s *Server) invalidateYear(r *http.Request, year int) {
	if key, ok := s.cacheKey(r, year); ok {
		s.summaryCache.Delete(key)
		s.dataCache.Delete(key)
	}
}
