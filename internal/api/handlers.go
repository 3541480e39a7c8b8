// Package api exposes the sync engine over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/healthsync/internal/auth"
	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/logging"
)

// SyncService is the orchestrator surface the handlers call.
type SyncService interface {
	TriggerSync(ctx context.Context, userID string, p domain.Provider) domain.SyncOutcome
	SyncAll(ctx context.Context, userID string) []domain.SyncOutcome
	Connect(ctx context.Context, cred domain.Credential) error
	Disconnect(ctx context.Context, userID string, p domain.Provider) error
	Status(ctx context.Context, userID string, p domain.Provider) (domain.ConnectionStatus, error)
	StatusAll(ctx context.Context, userID string) ([]domain.ConnectionStatus, error)
}

// Handler serves the /v1 API. The authenticated subject is the user every
// request acts on.
type Handler struct {
	sync       SyncService
	entries    domain.EntryStore
	activities domain.ActivityStore
	loc        *time.Location
	validate   *validator.Validate
	now        func() time.Time

	oauth    OAuthFlow
	stateKey []byte
}

func NewHandler(sync SyncService, entries domain.EntryStore, activities domain.ActivityStore, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		sync:       sync,
		entries:    entries,
		activities: activities,
		loc:        loc,
		validate:   validate,
		now:        time.Now,
	}
}

// Routes builds the router. Probes and metrics bypass authentication.
func (h *Handler) Routes(authn auth.Middleware) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(authn.Wrap)

		r.With(requireScope(auth.ScopeSyncWrite)).Post("/sync/{provider}", h.triggerSync)

		r.Route("/connections", func(r chi.Router) {
			r.With(requireScope(auth.ScopeSyncRead)).Get("/", h.listConnections)
			r.With(requireScope(auth.ScopeSyncRead)).Get("/{provider}", h.getConnection)
			r.With(requireScope(auth.ScopeSyncWrite)).Put("/{provider}", h.putConnection)
			r.With(requireScope(auth.ScopeSyncWrite)).Delete("/{provider}", h.deleteConnection)
			r.With(requireScope(auth.ScopeSyncWrite)).Get("/{provider}/authorize", h.authorize)
			r.With(requireScope(auth.ScopeSyncWrite)).Post("/{provider}/callback", h.callback)
		})

		r.With(requireScope(auth.ScopeSyncRead)).Get("/entries/{date}", h.getEntry)
		r.With(requireScope(auth.ScopeSyncWrite)).Put("/entries/{date}", h.putEntry)

		r.With(requireScope(auth.ScopeSyncRead)).Get("/external-activities", h.listExternalActivities)
	})
	return r
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// requireScope rejects requests whose token lacks scope. sync:write implies sync:read.
func requireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.FromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			if !claims.HasScope(scope) && !(scope == auth.ScopeSyncRead && claims.HasScope(auth.ScopeSyncWrite)) {
				writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger logs one line per request and carries the request id into
// the context logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logging.ContextWithRequestID(r.Context(), chimiddleware.GetReqID(r.Context()))
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			return
		}
		logging.Ctx(ctx).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func subject(r *http.Request) string {
	claims, _ := auth.FromContext(r.Context())
	if claims == nil {
		return ""
	}
	return claims.Subject
}

func providerParam(w http.ResponseWriter, r *http.Request) (domain.Provider, bool) {
	p, err := domain.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_provider", err.Error())
		return "", false
	}
	return p, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", validationDetail(err))
		return false
	}
	return true
}

func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Field()+" failed "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{
		"type":   code,
		"detail": detail,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
