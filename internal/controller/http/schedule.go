package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vadim/neo-autopost/internal/domain/post/entity"
	"github.com/vadim/neo-autopost/internal/domain/post/planner"
	"github.com/vadim/neo-autopost/internal/httpx/response"
)

// SchedulePolicy defines the schedule and status operations
type SchedulePolicy interface {
	GetConfig(ctx context.Context) entity.ScheduleConfig
	SetConfig(ctx context.Context, cfg entity.ScheduleConfig) (entity.ScheduleConfig, error)
	Preview(ctx context.Context, from time.Time, count int) []time.Time
	Snapshot(ctx context.Context, n int) entity.Snapshot
	SetAutorun(on bool)
	Autorun() bool
}

// ScheduleHandler handles schedule configuration, preview and status requests
type ScheduleHandler struct {
	policy SchedulePolicy
}

// NewScheduleHandler creates a new schedule handler
func NewScheduleHandler(p SchedulePolicy) *ScheduleHandler {
	return &ScheduleHandler{policy: p}
}

// RegisterRoutes registers schedule routes
func (h *ScheduleHandler) RegisterRoutes(r chi.Router) {
	r.Get("/schedule/config", h.GetConfig())
	r.Put("/schedule/config", h.SetConfig())
	r.Get("/schedule/preview", h.Preview())
	r.Get("/status", h.Status())
	r.Put("/autorun", h.SetAutorun())
}

// GetConfig handles GET /schedule/config
func (h *ScheduleHandler) GetConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, h.policy.GetConfig(r.Context()))
	}
}

// SetConfig handles PUT /schedule/config
func (h *ScheduleHandler) SetConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cfg entity.ScheduleConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			handleDomainError(w, decodeError(err))
			return
		}

		out, err := h.policy.SetConfig(r.Context(), cfg)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		response.OK(w, out)
	}
}

// PreviewResponse represents the upcoming publish slots
type PreviewResponse struct {
	From  time.Time   `json:"from"`
	Slots []time.Time `json:"slots"`
}

// Preview handles GET /schedule/preview?from=&count=
func (h *ScheduleHandler) Preview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		var from time.Time
		if f := q.Get("from"); f != "" {
			t, err := time.Parse(time.RFC3339, f)
			if err != nil {
				response.BadRequest(w, "invalid from format, use RFC3339")
				return
			}
			from = t
		}

		count := 10
		if c := q.Get("count"); c != "" {
			ci, err := strconv.Atoi(c)
			if err != nil {
				response.BadRequest(w, "invalid count")
				return
			}
			count = planner.ClampCount(ci)
		}

		response.OK(w, PreviewResponse{From: from, Slots: h.policy.Preview(r.Context(), from, count)})
	}
}

// Status handles GET /status?limit=
func (h *ScheduleHandler) Status() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := 0
		if l := r.URL.Query().Get("limit"); l != "" {
			li, err := strconv.Atoi(l)
			if err != nil || li < 1 {
				response.BadRequest(w, "invalid limit")
				return
			}
			n = li
		}

		response.OK(w, h.policy.Snapshot(r.Context(), n))
	}
}

// AutorunRequest represents the request body for switching autorun
type AutorunRequest struct {
	Enabled *bool `json:"enabled"`
}

// SetAutorun handles PUT /autorun
func (h *ScheduleHandler) SetAutorun() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AutorunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}
		if req.Enabled == nil {
			response.BadRequest(w, "enabled is required")
			return
		}

		h.policy.SetAutorun(*req.Enabled)
		response.OK(w, map[string]bool{"autorun": h.policy.Autorun()})
	}
}

var errInvalidJSON = fmt.Errorf("%w: invalid JSON", entity.ErrValidation)

var errInvalidDraftStatus = fmt.Errorf("%w: invalid draft status", entity.ErrValidation)

// decodeError keeps domain validation errors raised while decoding a body
func decodeError(err error) error {
	if errors.Is(err, entity.ErrValidation) {
		return err
	}
	return errInvalidJSON
}
