package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"tollgate.dev/internal/audit"
	"tollgate.dev/internal/auth"
	"tollgate.dev/internal/obs"
)

// Pinger is anything the readiness endpoint can check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe pings every backing store.
type ReadyProbe struct {
	Checks map[string]Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	var errs []error
	for name, p := range rp.Checks {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// API is the HTTP layer over the authentication and RBAC services.
type API struct {
	router     *mux.Router
	auth       *auth.Service
	rbac       *auth.RBACService
	readyProbe ReadyProbe
	version    string

	maxBody    int64
	rateBurst  int
	ratePerSec int
}

// Option configures an API.
type Option func(*API)

func WithReadyProbe(rp ReadyProbe) Option {
	return func(a *API) { a.readyProbe = rp }
}

func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

// WithRateLimit sets the per-client token bucket. Zero values keep defaults.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 {
			a.rateBurst = burst
		}
		if perSecond > 0 {
			a.ratePerSec = perSecond
		}
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBody = n
		}
	}
}

func New(svc *auth.Service, rbac *auth.RBACService, opts ...Option) (*API, error) {
	if svc == nil || rbac == nil {
		return nil, errors.New("httpapi: auth and rbac services are required")
	}
	a := &API{
		router:     mux.NewRouter(),
		auth:       svc,
		rbac:       rbac,
		version:    "dev",
		maxBody:    1 << 20,
		rateBurst:  20,
		ratePerSec: 10,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.routes()
	return a, nil
}

func (a *API) routes() {
	r := a.router
	r.NotFoundHandler = http.HandlerFunc(notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	r.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	r.HandleFunc("/v1/info", a.Info).Methods(http.MethodGet)
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/v1/auth/register", a.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/v1/auth/login", a.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/v1/auth/validate", a.handleValidate).Methods(http.MethodGet)

	protected := r.NewRoute().Subrouter()
	protected.Use(a.authenticate)
	protected.HandleFunc("/v1/auth/logout", a.handleLogout).Methods(http.MethodPost)
	protected.HandleFunc("/v1/auth/sessions", a.handleSessions).Methods(http.MethodGet)
	a.rbacRoutes(protected)
}

// Handler returns the router wrapped in the full middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = obs.Instrument(a.router)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, a.maxBody)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "tollgate-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "tollgate-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) audit(ctx context.Context, event, resourceType, resourceID string, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any, 2)
	}
	fields["resource_type"] = resourceType
	if resourceID != "" {
		fields["resource_id"] = resourceID
	}
	if err := audit.LogEvent(ctx, event, fields); err != nil {
		obs.Logger().WarnContext(ctx, "audit log failed", "event", event, "error", err)
	}
}
