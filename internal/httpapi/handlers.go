package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"orgauth.dev/internal/auth"
	"orgauth.dev/internal/obs"
)

const serviceName = "orgauth"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe reports readiness of the record store.
type ReadyProbe struct {
	Ping func(ctx context.Context) error
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Ping == nil {
		return nil
	}
	return rp.Ping(ctx)
}

// Config carries the collaborators of the HTTP layer.
type Config struct {
	Service        *auth.Service
	Authenticator  *auth.Authenticator
	Guard          *auth.Guard
	Ready          readinessChecker
	Version        string
	RateBurst      int
	RatePerSecond  int
	AllowedOrigins []string
	Logger         *zap.Logger
}

// API is the HTTP surface of the identity service.
type API struct {
	svc     *auth.Service
	authn   *auth.Authenticator
	guard   *auth.Guard
	ready   readinessChecker
	version string
	log     *zap.Logger

	rateBurst  int
	ratePerSec int
	origins    []string
}

func New(cfg Config) *API {
	a := &API{
		svc:        cfg.Service,
		authn:      cfg.Authenticator,
		guard:      cfg.Guard,
		ready:      cfg.Ready,
		version:    cfg.Version,
		log:        cfg.Logger,
		rateBurst:  cfg.RateBurst,
		ratePerSec: cfg.RatePerSecond,
		origins:    cfg.AllowedOrigins,
	}
	if a.ready == nil {
		a.ready = ReadyProbe{}
	}
	if a.log == nil {
		a.log = obs.Logger()
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 10
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 5
	}
	if len(a.origins) == 0 {
		a.origins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	return a
}

// Handler builds the router.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID, LoggingJSON, SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         600,
	}))
	r.Use(func(next http.Handler) http.Handler {
		return obs.Instrument(next, routePattern)
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	limited := RateLimit(a.rateBurst, a.ratePerSec)

	r.Route("/auth", func(r chi.Router) {
		r.With(limited).Post("/login", a.handleLogin)
		r.Post("/logout", a.handleLogout)
		r.With(a.withAuth, a.requireKind(auth.KindUser)).Post("/change-password", a.handleChangePassword)
	})
	r.With(limited).Post("/invites/{inviteID}/accept", a.handleAcceptInvite)

	r.Route("/me", func(r chi.Router) {
		r.Use(a.withAuth, a.requireKind(auth.KindUser))
		r.Get("/profile", a.handleProfile)
		r.Get("/memberships", a.handleMemberships)
	})

	r.With(a.withAuth, a.requireKind(auth.KindUser)).Post("/orgs/{orgID}/invites", a.handleCreateInvite)

	r.Route("/platform", func(r chi.Router) {
		r.With(limited).Post("/auth/login", a.handleOperatorLogin)
		r.Post("/auth/logout", a.handleLogout)
		r.Group(func(r chi.Router) {
			r.Use(a.withAuth, a.requireKind(auth.KindPlatform))
			r.Post("/orgs", a.handleCreateOrg)
			r.Post("/orgs/{orgID}/owner", a.handleCreateOwner)
			r.Post("/orgs/{orgID}/invites", a.handleOperatorInvite)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		a.log.Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleAuthError maps service outcomes to status codes. Internal causes of
// forbidden outcomes and storage failures never reach the client.
func (a *API) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvitationExpired):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		a.log.Error("request failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
