package service

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/vadim/neo-autopost/internal/domain/draft/entity"
	"github.com/vadim/neo-autopost/internal/eventbus"
)

// Subscriber is the part of the event bus the service listens on
type Subscriber interface {
	Subscribe(buffer int, types ...string) (<-chan eventbus.Event, func())
}

// Service keeps caption drafts and hands them out to newly queued posts
type Service struct {
	mu     sync.Mutex
	drafts map[string]*entity.Draft
	order  []string // creation order

	hashtags []string
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures the Service
type Option func(*Service)

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithDefaultHashtags sets the tags appended to generated captions
func WithDefaultHashtags(tags []string) Option {
	return func(s *Service) {
		s.hashtags = entity.NormalizeHashtags(tags)
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a new draft service
func New(opts ...Option) *Service {
	s := &Service{
		drafts: make(map[string]*entity.Draft),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput represents input for creating a draft
type CreateInput struct {
	Filename string
	Caption  string
	Hashtags []string
}

// Create adds an available draft
func (s *Service) Create(ctx context.Context, in CreateInput) (*entity.Draft, error) {
	d := &entity.Draft{
		ID:        uuid.New().String(),
		Filename:  strings.TrimSpace(in.Filename),
		Caption:   strings.TrimSpace(in.Caption),
		Hashtags:  entity.NormalizeHashtags(in.Hashtags),
		Status:    entity.StatusAvailable,
		CreatedAt: s.now(),
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.drafts[d.ID] = d
	s.order = append(s.order, d.ID)
	s.mu.Unlock()

	s.logger.Info("draft created", "draft_id", d.ID, "filename", d.Filename)
	return d.Clone(), nil
}

// Get retrieves a draft by ID
func (s *Service) Get(ctx context.Context, id string) (*entity.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.drafts[id]
	if !ok {
		return nil, entity.ErrDraftNotFound
	}
	return d.Clone(), nil
}

// List returns drafts in creation order, optionally filtered by status
func (s *Service) List(ctx context.Context, status *entity.Status) []entity.Draft {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]entity.Draft, 0, len(s.order))
	for _, id := range s.order {
		d := s.drafts[id]
		if status != nil && d.Status != *status {
			continue
		}
		out = append(out, *d.Clone())
	}
	return out
}

// Delete removes a draft that is not attached to a pending post
func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.drafts[id]
	if !ok {
		return entity.ErrDraftNotFound
	}
	if d.Status == entity.StatusReserved {
		return entity.ErrDraftInUse
	}

	delete(s.drafts, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.logger.Info("draft deleted", "draft_id", id)
	return nil
}

// CaptionFor picks the caption of a new post: a draft bound to filename first, then
// the oldest generic draft, then a caption generated from the filename. A picked
// draft is reserved and its id returned.
func (s *Service) CaptionFor(filename string) (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var generic *entity.Draft
	for _, id := range s.order {
		d := s.drafts[id]
		if d.Status != entity.StatusAvailable {
			continue
		}
		if d.Filename != "" && strings.EqualFold(d.Filename, filename) {
			return s.reserveLocked(d, filename), d.ID
		}
		if d.Filename == "" && generic == nil {
			generic = d
		}
	}
	if generic != nil {
		return s.reserveLocked(generic, filename), generic.ID
	}

	return GenerateCaption(filename, s.hashtags), ""
}

func (s *Service) reserveLocked(d *entity.Draft, filename string) string {
	d.Status = entity.StatusReserved
	s.logger.Info("draft reserved", "draft_id", d.ID, "filename", filename)
	return d.Text()
}

// MarkUsed records that the post carrying the draft went live. A draft is used once.
func (s *Service) MarkUsed(ctx context.Context, draftID, postID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.drafts[draftID]
	if !ok {
		return entity.ErrDraftNotFound
	}
	if d.Status == entity.StatusUsed {
		return entity.ErrDraftConsumed
	}

	now := s.now()
	d.Status = entity.StatusUsed
	d.PostID = postID
	d.UsedAt = &now
	s.logger.Info("draft used", "draft_id", draftID, "post_id", postID)
	return nil
}

// Release makes a reserved draft available again
func (s *Service) Release(ctx context.Context, draftID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.drafts[draftID]
	if !ok {
		return entity.ErrDraftNotFound
	}
	if d.Status != entity.StatusReserved {
		return nil
	}
	d.Status = entity.StatusAvailable
	s.logger.Info("draft released", "draft_id", draftID)
	return nil
}

// Run consumes post lifecycle events until ctx is done.
// Published posts consume their draft; deleted or failed posts give it back.
func (s *Service) Run(ctx context.Context, bus Subscriber) {
	events, unsubscribe := bus.Subscribe(256,
		eventbus.TypePostPublished,
		eventbus.TypePostFailed,
		eventbus.TypePostDeleted,
	)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			s.handle(ctx, e)
		}
	}
}

func (s *Service) handle(ctx context.Context, e eventbus.Event) {
	pe, ok := e.Data.(eventbus.PostEvent)
	if !ok || pe.DraftID == "" {
		return
	}

	var err error
	switch e.Type {
	case eventbus.TypePostPublished:
		err = s.MarkUsed(ctx, pe.DraftID, pe.PostID)
	case eventbus.TypePostFailed, eventbus.TypePostDeleted:
		err = s.Release(ctx, pe.DraftID)
	}
	if err != nil {
		s.logger.Warn("draft event not applied", "event", e.Type, "draft_id", pe.DraftID, "post_id", pe.PostID, "error", err)
	}
}

// GenerateCaption builds "<Title>\n\n#tag #tag" from a media filename
func GenerateCaption(filename string, hashtags []string) string {
	title := titleFromFilename(filename)
	if len(hashtags) == 0 {
		return title
	}
	return title + "\n\n" + entity.FormatHashtags(hashtags)
}

func titleFromFilename(filename string) string {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	words := strings.FieldsFunc(base, func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || unicode.IsSpace(r)
	})
	if len(words) == 0 {
		return "New post"
	}
	words[0] = capitalize(words[0])
	return strings.Join(words, " ")
}

func capitalize(s string) string {
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
