package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vadim/neo-autopost/internal/domain/post/entity"
	"github.com/vadim/neo-autopost/internal/domain/post/planner"
	"github.com/vadim/neo-autopost/internal/domain/post/policy"
	"github.com/vadim/neo-autopost/internal/domain/post/repost"
	"github.com/vadim/neo-autopost/internal/httpx/response"
)

// PostPolicy defines the interface for post operations
// Interface is defined by consumer (handler), not provider (policy)
type PostPolicy interface {
	QueueFile(ctx context.Context, in policy.QueueInput) (*entity.Post, bool, error)
	PostNow(ctx context.Context, in policy.QueueInput) (*entity.Post, error)
	ScheduleAt(ctx context.Context, in policy.QueueInput, at time.Time) (*entity.Post, error)
	Reschedule(ctx context.Context, id string, at time.Time) (*entity.Post, error)
	RescheduleBatch(ctx context.Context, items []policy.RescheduleItem) ([]policy.RescheduleResult, error)
	DeletePost(ctx context.Context, id string) (*entity.Post, error)
	GetPost(ctx context.Context, id string) (*entity.Post, error)
	ListPosts(ctx context.Context, in policy.ListPostsInput) []entity.Post
	PlanNow(ctx context.Context) (*planner.PlanResult, error)
}

// Reposter schedules recycle posts
type Reposter interface {
	ScheduleRepost(ctx context.Context, postID string, reason repost.Reason) (*entity.Post, error)
}

// PostHandler handles HTTP requests for posts
type PostHandler struct {
	policy   PostPolicy
	reposter Reposter
}

// NewPostHandler creates a new post handler
func NewPostHandler(p PostPolicy, reposter Reposter) *PostHandler {
	return &PostHandler{policy: p, reposter: reposter}
}

// RegisterRoutes registers post routes
func (h *PostHandler) RegisterRoutes(r chi.Router) {
	r.Route("/posts", func(r chi.Router) {
		r.Get("/", h.List())
		r.Post("/", h.Queue())
		r.Post("/publish-now", h.PublishNow())
		r.Post("/schedule", h.ScheduleAt())
		r.Post("/reschedule", h.RescheduleBatch())
		r.Get("/{id}", h.Get())
		r.Delete("/{id}", h.Delete())
		r.Post("/{id}/reschedule", h.Reschedule())
		r.Post("/{id}/repost", h.Repost())
	})
	r.Post("/plan", h.Plan())
}

// QueueRequest represents the request body for queueing a media file
type QueueRequest struct {
	Filename    string  `json:"filename"`
	MediaRef    string  `json:"media_ref"`
	MediaType   string  `json:"media_type,omitempty"` // image, video
	Caption     *string `json:"caption,omitempty"`
	ScheduledAt string  `json:"scheduled_at,omitempty"` // RFC3339, only for /posts/schedule
}

func (req QueueRequest) input() (policy.QueueInput, error) {
	in := policy.QueueInput{
		Filename: req.Filename,
		MediaRef: req.MediaRef,
		Caption:  req.Caption,
		Source:   "api",
	}
	if req.MediaType != "" {
		mt, err := parseMediaType(req.MediaType)
		if err != nil {
			return in, err
		}
		in.MediaType = mt
	}
	return in, nil
}

func decodeQueueRequest(w http.ResponseWriter, r *http.Request) (QueueRequest, policy.QueueInput, bool) {
	var req QueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON")
		return req, policy.QueueInput{}, false
	}
	in, err := req.input()
	if err != nil {
		handleDomainError(w, err)
		return req, in, false
	}
	return req, in, true
}

// Queue handles POST /posts
func (h *PostHandler) Queue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, in, ok := decodeQueueRequest(w, r)
		if !ok {
			return
		}

		post, created, err := h.policy.QueueFile(r.Context(), in)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		if created {
			response.Created(w, post)
			return
		}
		response.OK(w, post)
	}
}

// PublishNow handles POST /posts/publish-now
func (h *PostHandler) PublishNow() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, in, ok := decodeQueueRequest(w, r)
		if !ok {
			return
		}

		post, err := h.policy.PostNow(r.Context(), in)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		response.OK(w, post)
	}
}

// ScheduleAt handles POST /posts/schedule
func (h *PostHandler) ScheduleAt() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, in, ok := decodeQueueRequest(w, r)
		if !ok {
			return
		}

		at, err := time.Parse(time.RFC3339, req.ScheduledAt)
		if err != nil {
			response.BadRequest(w, "invalid scheduled_at format, use RFC3339")
			return
		}

		post, err := h.policy.ScheduleAt(r.Context(), in, at)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		response.OK(w, post)
	}
}

// ScheduleRequest represents the request body for rescheduling a post
type ScheduleRequest struct {
	ScheduledAt string `json:"scheduled_at"` // RFC3339 format
}

// Reschedule handles POST /posts/{id}/reschedule
func (h *PostHandler) Reschedule() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req ScheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}

		at, err := time.Parse(time.RFC3339, req.ScheduledAt)
		if err != nil {
			response.BadRequest(w, "invalid scheduled_at format, use RFC3339")
			return
		}

		post, err := h.policy.Reschedule(r.Context(), id, at)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		response.OK(w, post)
	}
}

// RescheduleBatchRequest represents the request body for a batch reschedule
type RescheduleBatchRequest struct {
	Items []struct {
		ID          string `json:"id"`
		ScheduledAt string `json:"scheduled_at"`
	} `json:"items"`
}

// RescheduleBatch handles POST /posts/reschedule
func (h *PostHandler) RescheduleBatch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RescheduleBatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}

		items := make([]policy.RescheduleItem, len(req.Items))
		for i, it := range req.Items {
			at, err := time.Parse(time.RFC3339, it.ScheduledAt)
			if err != nil {
				response.BadRequest(w, "item "+strconv.Itoa(i)+": invalid scheduled_at format, use RFC3339")
				return
			}
			items[i] = policy.RescheduleItem{ID: it.ID, At: at}
		}

		results, err := h.policy.RescheduleBatch(r.Context(), items)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		response.OK(w, map[string]any{"results": results})
	}
}

// Get handles GET /posts/{id}
func (h *PostHandler) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		post, err := h.policy.GetPost(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			handleDomainError(w, err)
			return
		}

		response.OK(w, post)
	}
}

// Delete handles DELETE /posts/{id}
func (h *PostHandler) Delete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := h.policy.DeletePost(r.Context(), chi.URLParam(r, "id")); err != nil {
			handleDomainError(w, err)
			return
		}

		response.NoContent(w)
	}
}

// ListResponse represents the response for listing posts
type ListResponse struct {
	Posts []entity.Post `json:"posts"`
	Total int           `json:"total"`
}

// List handles GET /posts
func (h *PostHandler) List() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		var status *entity.Status
		if s := q.Get("status"); s != "" {
			st, err := entity.ParseStatus(s)
			if err != nil {
				handleDomainError(w, err)
				return
			}
			status = &st
		}

		limit := 0
		if l := q.Get("limit"); l != "" {
			li, err := strconv.Atoi(l)
			if err != nil || li < 1 {
				response.BadRequest(w, "invalid limit")
				return
			}
			limit = li
		}

		posts := h.policy.ListPosts(r.Context(), policy.ListPostsInput{
			Status:    status,
			RootsOnly: q.Get("roots") == "true",
			Limit:     limit,
		})

		response.OK(w, ListResponse{Posts: posts, Total: len(posts)})
	}
}

// RepostRequest represents the optional body of a repost request
type RepostRequest struct {
	Reason string `json:"reason,omitempty"` // manual (default), auto
}

// Repost handles POST /posts/{id}/repost
func (h *PostHandler) Repost() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		reason := repost.ReasonManual
		if r.ContentLength != 0 {
			var req RepostRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				response.BadRequest(w, "invalid JSON")
				return
			}
			if req.Reason != "" {
				parsed, err := repost.ParseReason(req.Reason)
				if err != nil {
					handleDomainError(w, err)
					return
				}
				reason = parsed
			}
		}

		child, err := h.reposter.ScheduleRepost(r.Context(), id, reason)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		response.Created(w, child)
	}
}

// Plan handles POST /plan
func (h *PostHandler) Plan() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := h.policy.PlanNow(r.Context())
		if err != nil {
			handleDomainError(w, err)
			return
		}

		response.OK(w, res)
	}
}

// Helper functions

func parseMediaType(s string) (entity.MediaType, error) {
	switch s {
	case "image":
		return entity.MediaTypeImage, nil
	case "video":
		return entity.MediaTypeVideo, nil
	default:
		return "", entity.ErrInvalidMediaType
	}
}

func handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entity.ErrValidation):
		response.BadRequest(w, err.Error())
	case errors.Is(err, entity.ErrNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, entity.ErrConflict):
		response.Conflict(w, err.Error())
	default:
		response.InternalError(w, "internal server error")
	}
}
