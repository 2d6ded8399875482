package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vadim/neo-autopost/internal/domain/post/entity"
	"github.com/vadim/neo-autopost/internal/httpx/response"
	"github.com/vadim/neo-autopost/internal/ingest"
)

// MaxUploadSize is the maximum allowed upload size (100MB)
const MaxUploadSize = 100 << 20

// MediaIngester stores an uploaded file and queues a post for it
type MediaIngester interface {
	Ingest(ctx context.Context, f ingest.File) (*entity.Post, bool, error)
}

// MediaHandler handles media upload HTTP requests
type MediaHandler struct {
	ingester MediaIngester
}

// NewMediaHandler creates a new media handler
func NewMediaHandler(ingester MediaIngester) *MediaHandler {
	return &MediaHandler{ingester: ingester}
}

// RegisterRoutes registers media routes
func (h *MediaHandler) RegisterRoutes(r chi.Router) {
	r.Post("/media/upload", h.Upload())
}

// Upload handles POST /media/upload.
// The file kind is sniffed from its content; the client Content-Type is ignored.
func (h *MediaHandler) Upload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Limit request body size
		r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)

		// Parse multipart form
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			response.BadRequest(w, "file too large or invalid multipart form")
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			response.BadRequest(w, "missing file in request")
			return
		}
		defer file.Close()

		post, created, err := h.ingester.Ingest(r.Context(), ingest.File{
			Name:   header.Filename,
			Body:   file,
			Size:   header.Size,
			Source: "upload",
		})
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
