package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"fuelstation/backend/internal/domain"
	"fuelstation/backend/internal/service"
	"fuelstation/backend/internal/store"
)

// API wires the HTTP surface: the report endpoints, the lubricant catalog
// endpoints and optional token auth. When auth is nil every endpoint is open,
// matching deployments that sit behind a trusted frontend.
type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string) *API {
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/auth/login", a.handleLogin)

	mux.HandleFunc("/api/daily-sales", a.maybeAuth(a.handleDailySales))
	mux.HandleFunc("/api/lubricant-products", a.maybeAuth(a.handleLubricantProducts))

	return a.withMiddleware(mux)
}

// maybeAuth enforces bearer-token auth only when an AuthManager is configured.
func (a *API) maybeAuth(next http.HandlerFunc) http.HandlerFunc {
	if a.auth == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeFailure(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeFailure(w, http.StatusUnauthorized, err)
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if a.auth == nil {
		writeFailure(w, http.StatusNotFound, errors.New("authentication is not enabled"))
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeFailure(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(req)
	if err != nil {
		writeFailure(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleDailySales(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		date := strings.TrimSpace(r.URL.Query().Get("date"))
		shift := strings.TrimSpace(r.URL.Query().Get("shift"))

		report, err := a.service.FetchReport(r.Context(), date, shift)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeFailure(w, http.StatusNotFound, errors.New("No data found for this date and shift"))
				return
			}
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    report,
		})
	case http.MethodPost:
		var req domain.SaveReportRequest
		if err := decodeJSON(r, &req); err != nil {
			writeFailure(w, http.StatusBadRequest, err)
			return
		}

		id, err := a.service.SaveReport(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"id":      id,
		})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleLubricantProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		products, err := a.service.ListLubricantProducts(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"products": products,
		})
	case http.MethodPost:
		var req struct {
			Products []domain.LubricantProductUpload `json:"products"`
		}
		if err := decodeJSON(r, &req); err != nil || req.Products == nil {
			writeFailure(w, http.StatusBadRequest, errors.New("Invalid products data"))
			return
		}

		count, err := a.service.ReplaceLubricantProducts(r.Context(), req.Products)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Products uploaded successfully",
			"count":   count,
		})
	case http.MethodDelete:
		var req struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeFailure(w, http.StatusBadRequest, errors.New("Product ID is required"))
			return
		}
		if err := a.service.DeleteLubricantProduct(r.Context(), req.ID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
		})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

// writeServiceError maps service-layer errors onto the response contract:
// validation errors are user-facing 400s, everything else is a masked 500.
func writeServiceError(w http.ResponseWriter, err error) {
	if store.IsValidation(err) {
		writeFailure(w, http.StatusBadRequest, err)
		return
	}
	writeFailure(w, http.StatusInternalServerError, err)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeFailure(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeFailure(w http.ResponseWriter, status int, err error) {
	// For 5xx responses, return a generic message to avoid leaking internal
	// implementation details (SQL errors, file paths, etc.). 4xx responses
	// are user-facing so the original message is returned.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
