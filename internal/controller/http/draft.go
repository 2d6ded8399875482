package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vadim/neo-autopost/internal/domain/draft/entity"
	"github.com/vadim/neo-autopost/internal/domain/draft/service"
	"github.com/vadim/neo-autopost/internal/httpx/response"
)

// DraftService defines the draft operations exposed over HTTP
type DraftService interface {
	Create(ctx context.Context, in service.CreateInput) (*entity.Draft, error)
	List(ctx context.Context, status *entity.Status) []entity.Draft
	Delete(ctx context.Context, id string) error
}

// DraftHandler handles HTTP requests for caption drafts
type DraftHandler struct {
	service DraftService
}

// NewDraftHandler creates a new draft handler
func NewDraftHandler(s DraftService) *DraftHandler {
	return &DraftHandler{service: s}
}

// RegisterRoutes registers draft routes
func (h *DraftHandler) RegisterRoutes(r chi.Router) {
	r.Route("/drafts", func(r chi.Router) {
		r.Get("/", h.List())
		r.Post("/", h.Create())
		r.Delete("/{id}", h.Delete())
	})
}

// CreateDraftRequest represents the request body for creating a draft
type CreateDraftRequest struct {
	Filename string   `json:"filename,omitempty"` // bind the draft to one media file
	Caption  string   `json:"caption"`
	Hashtags []string `json:"hashtags,omitempty"`
}

// Create handles POST /drafts
func (h *DraftHandler) Create() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateDraftRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}

		d, err := h.service.Create(r.Context(), service.CreateInput{
			Filename: req.Filename,
			Caption:  req.Caption,
			Hashtags: req.Hashtags,
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}

		response.Created(w, d)
	}
}

// List handles GET /drafts?status=
func (h *DraftHandler) List() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var status *entity.Status
		if s := r.URL.Query().Get("status"); s != "" {
			st, err := parseDraftStatus(s)
			if err != nil {
				response.BadRequest(w, err.Error())
				return
			}
			status = &st
		}

		drafts := h.service.List(r.Context(), status)
		response.OK(w, map[string]any{"drafts": drafts, "total": len(drafts)})
	}
}

// Delete handles DELETE /drafts/{id}
func (h *DraftHandler) Delete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			handleDomainError(w, err)
			return
		}

		response.NoContent(w)
	}
}

func parseDraftStatus(s string) (entity.Status, error) {
	switch entity.Status(s) {
	case entity.StatusAvailable, entity.StatusReserved, entity.StatusUsed:
		return entity.Status(s), nil
	}
	return "", errInvalidDraftStatus
}
