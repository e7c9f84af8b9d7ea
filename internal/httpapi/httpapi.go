package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dairyflow/backend/internal/domain"
	"dairyflow/backend/internal/fulfillment"
	"dairyflow/backend/internal/service"
	"dairyflow/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	logger        zerolog.Logger
	authLimiter   *attemptLimiter
	runLimiter    *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger zerolog.Logger) *API {
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		logger:        logger.With().Str("component", "http").Logger(),
		authLimiter:   newAttemptLimiter(10, time.Minute),
		runLimiter:    newAttemptLimiter(6, time.Minute),
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

// Allow records an attempt for key and reports whether it is within the
// window budget.
func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.recent(key, cutoff)
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

// Blocked reports whether key has used its budget without recording a new
// attempt.
func (l *attemptLimiter) Blocked(key string) bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.recent(key, time.Now().Add(-l.window))
	l.entries[key] = kept
	return len(kept) >= l.max
}

func (l *attemptLimiter) recent(key string, cutoff time.Time) []time.Time {
	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
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

	customer := string(domain.RoleCustomer)
	partner := string(domain.RoleDeliveryPartner)
	admin := string(domain.RoleAdmin)

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("GET /api/v1/support", a.requireAuth(a.handleSupport))
	mux.HandleFunc("GET /api/v1/products", a.requireAuth(a.handleProducts))

	mux.HandleFunc("POST /api/v1/subscriptions", a.requireAuth(a.handleCreateSubscription, customer, admin))
	mux.HandleFunc("GET /api/v1/subscriptions/{id}", a.requireAuth(a.handleGetSubscription, customer, admin))
	mux.HandleFunc("POST /api/v1/subscriptions/{id}/status", a.requireAuth(a.handleSubscriptionStatus, customer, admin))

	mux.HandleFunc("GET /api/v1/users/{id}/subscriptions", a.requireAuth(a.handleUserSubscriptions, customer, admin))
	mux.HandleFunc("GET /api/v1/users/{id}/orders", a.requireAuth(a.handleUserOrders, customer, admin))

	mux.HandleFunc("GET /api/v1/orders/{id}", a.requireAuth(a.handleGetOrder))
	mux.HandleFunc("GET /api/v1/orders/{id}/events", a.requireAuth(a.handleOrderEvents))
	mux.HandleFunc("POST /api/v1/orders/{id}/status", a.requireAuth(a.handleOrderStatus))

	mux.HandleFunc("GET /api/v1/stats/customers/{id}", a.requireAuth(a.handleCustomerStats, customer, admin))
	mux.HandleFunc("GET /api/v1/stats/partners/{id}", a.requireAuth(a.handlePartnerStats, partner, admin))

	mux.HandleFunc("POST /api/v1/fulfillment/runs", a.requireAuth(a.handleFulfillmentRun, admin))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client := "auth:" + clientKey(r)
		if a.authLimiter.Blocked(client) {
			a.writeError(w, http.StatusTooManyRequests, errors.New("too many invalid tokens"))
			return
		}

		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			a.authLimiter.Allow(client)
			a.writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(string(actor.Role), roles) {
			a.writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleSupport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.service.Support())
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": products})
}

func (a *API) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	sub, err := a.service.CreateSubscription(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (a *API) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := a.service.GetSubscription(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (a *API) handleSubscriptionStatus(w http.ResponseWriter, r *http.Request) {
	var req domain.SubscriptionStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	sub, err := a.service.ChangeSubscriptionStatus(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (a *API) handleUserSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := a.service.ListUserSubscriptions(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": subs})
}

func (a *API) handleUserOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := a.service.ListUserOrders(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": orders})
}

func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := a.service.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleOrderEvents(w http.ResponseWriter, r *http.Request) {
	trail, err := a.service.ListOrderEvents(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": trail})
}

func (a *API) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req domain.OrderStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	order, err := a.service.ChangeOrderStatus(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleCustomerStats(w http.ResponseWriter, r *http.Request) {
	out, err := a.service.CustomerStats(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handlePartnerStats(w http.ResponseWriter, r *http.Request) {
	out, err := a.service.PartnerStats(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleFulfillmentRun(w http.ResponseWriter, r *http.Request) {
	var req domain.FulfillmentRunRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if !a.runLimiter.Allow("run:" + clientKey(r)) {
		a.writeError(w, http.StatusTooManyRequests, errors.New("too many fulfillment runs"))
		return
	}

	summary, err := a.service.RunFulfillment(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(startedAt)).
			Msg("request")
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

// statusFor maps service errors onto HTTP statuses. Conflicts from a lost
// compare-and-swap or an overlapping run are worth retrying; invalid
// transitions are not.
func statusFor(err error) (int, bool) {
	if errors.Is(err, service.ErrForbidden) {
		return http.StatusForbidden, false
	}
	switch store.Classify(err) {
	case store.KindValidation:
		return http.StatusBadRequest, false
	case store.KindNotFound:
		return http.StatusNotFound, false
	case store.KindInvalidTransition:
		return http.StatusConflict, false
	case store.KindConflict:
		retryable := errors.Is(err, fulfillment.ErrRunInProgress) ||
			!errors.Is(err, store.ErrAlreadyGenerated) && !errors.Is(err, store.ErrSubscriptionNotActive) && !errors.Is(err, store.ErrNotDue)
		return http.StatusConflict, retryable
	default:
		return http.StatusInternalServerError, false
	}
}

func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	status, retryable := statusFor(err)
	msg := err.Error()
	kind := store.Classify(err)
	if status == http.StatusForbidden {
		kind = "forbidden"
	}
	if status >= 500 {
		a.logger.Error().Err(err).Int("status", status).Msg("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error":     msg,
		"kind":      kind,
		"retryable": retryable,
	})
}

func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; 4xx messages are user-facing.
	msg := err.Error()
	if status >= 500 {
		a.logger.Error().Err(err).Int("status", status).Msg("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
