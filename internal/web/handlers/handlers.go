// Package handlers is the JSON HTTP surface over the lifecycle engine.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jredh-dev/goodwill/internal/auth"
	"github.com/jredh-dev/goodwill/internal/database"
	"github.com/jredh-dev/goodwill/internal/lifecycle"
	"github.com/jredh-dev/goodwill/pkg/models"
)

// maxUploadBytes bounds a createDonation multipart body.
const maxUploadBytes = 32 << 20

// maxJSONBytes bounds JSON bodies; delivery evidence carries base64 images.
const maxJSONBytes = 16 << 20

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	db     *database.DB
	engine *lifecycle.Engine
	guard  *auth.Guard
	logger *zap.Logger
}

// New creates a new handler.
func New(db *database.DB, engine *lifecycle.Engine, guard *auth.Guard, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{db: db, engine: engine, guard: guard, logger: logger}
}

// Routes mounts the API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(AuthMiddleware(h.guard))

		r.Route("/donations", func(r chi.Router) {
			r.With(RequireRole(models.RoleDonor)).Post("/", h.CreateDonation)
			r.With(RequireRole(models.RoleRecipient, models.RoleAdmin)).Get("/browse", h.BrowseDonations)
			r.With(RequireRole(models.RoleDonor)).Get("/mine", h.MyDonations)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetDonation)
				r.Get("/history", h.DonationHistory)
				r.With(RequireRole(models.RoleRecipient)).Post("/request", h.SubmitRequest)
				r.With(RequireRole(models.RoleDonor)).Post("/accept", h.AcceptRequest)
				r.Patch("/status", h.UpdateStatus)
				r.Post("/delivery", h.ConfirmDelivery)
			})
		})

		r.Get("/requests/{id}/history", h.RequestHistory)

		r.Get("/notifications", h.ListNotifications)
		r.Post("/notifications/{id}/read", h.MarkNotificationRead)
		r.Get("/dashboard/stats", h.DashboardStats)

		r.With(RequireRole(models.RoleAdmin)).Get("/admin/audit", h.AuditTrail)
	})
}

// Health reports whether the database answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		jsonError(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// --- helpers ---

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable,omitempty"`
}

// statusFor maps an error kind to an HTTP status. RequestMismatch is a 404:
// the request does not exist for that donation.
func statusFor(kind lifecycle.Kind) int {
	switch kind {
	case lifecycle.KindUnauthenticated:
		return http.StatusUnauthorized
	case lifecycle.KindForbidden:
		return http.StatusForbidden
	case lifecycle.KindNotFound, lifecycle.KindRequestMismatch:
		return http.StatusNotFound
	case lifecycle.KindInvalidTransition:
		return http.StatusUnprocessableEntity
	case lifecycle.KindDonationUnavailable, lifecycle.KindDuplicateRequest:
		return http.StatusConflict
	case lifecycle.KindStorage:
		return http.StatusServiceUnavailable
	case lifecycle.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as JSON. Internal details of storage failures are
// logged, not returned.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := lifecycle.KindOf(err)
	body := errorBody{Error: err.Error(), Code: kind.String()}

	var le *lifecycle.Error
	if errors.As(err, &le) {
		body.Error = le.Message
		body.Retryable = le.Retryable
		if kind == lifecycle.KindValidation {
			body.Error = le.Error()
		}
	}
	if kind == lifecycle.KindInternal {
		body.Error = "internal error"
	}
	if kind == lifecycle.KindStorage || kind == lifecycle.KindInternal {
		zap.L().Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("code", body.Code),
			zap.Error(err),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	if body.Retryable {
		w.Header().Set("Retry-After", "1")
	}
	w.WriteHeader(statusFor(kind))
	_ = json.NewEncoder(w).Encode(body)
}

func jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("encoding JSON response", zap.Error(err))
	}
}

func jsonCreated(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// decodeJSON reads a bounded JSON body into dst. Unknown fields are
// ignored so older clients keep working.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return lifecycle.Validation("invalid request body: %v", err)
	}
	return nil
}

// intParam parses an optional non-negative integer query parameter.
func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, lifecycle.Validation("invalid number %q", raw)
	}
	return n, nil
}

// mustActor returns the actor placed by AuthMiddleware.
func mustActor(r *http.Request) models.Actor {
	actor, _ := ActorFromContext(r.Context())
	return actor
}
