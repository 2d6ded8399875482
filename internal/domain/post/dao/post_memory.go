package dao

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vadim/neo-autopost/internal/domain/post/entity"
)

// MaxCaptionLength is the platform caption limit
const MaxCaptionLength = 2200

var _ PostRepository = (*PostMemory)(nil)

// PostMemory is the volatile post store. State resets on restart.
type PostMemory struct {
	mu          sync.RWMutex
	posts       map[string]*entity.Post
	order       []string // creation order
	config      entity.ScheduleConfig
	lastPlanRun *time.Time

	captions CaptionProvider
	targets  []entity.PlatformTarget
	now      func() time.Time
}

// Option configures the PostMemory store
type Option func(*PostMemory)

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(s *PostMemory) {
		s.now = now
	}
}

// WithCaptionProvider sets the default caption source
func WithCaptionProvider(p CaptionProvider) Option {
	return func(s *PostMemory) {
		s.captions = p
	}
}

// WithDefaultTargets sets the platform targets given to new posts
func WithDefaultTargets(targets []entity.PlatformTarget) Option {
	return func(s *PostMemory) {
		s.targets = append([]entity.PlatformTarget(nil), targets...)
	}
}

// WithScheduleConfig seeds the schedule configuration
func WithScheduleConfig(cfg entity.ScheduleConfig) Option {
	return func(s *PostMemory) {
		s.config = cfg.Normalize()
	}
}

// NewPostMemory creates an empty in-memory post store
func NewPostMemory(opts ...Option) *PostMemory {
	s := &PostMemory{
		posts:  make(map[string]*entity.Post),
		config: entity.DefaultScheduleConfig().Normalize(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// QueueFile creates a queued post. If a post with the same filename is queued or
// scheduled, that post is returned unchanged and created is false.
func (s *PostMemory) QueueFile(ctx context.Context, in QueueInput) (*entity.Post, bool, error) {
	filename := strings.TrimSpace(in.Filename)
	if filename == "" {
		return nil, false, entity.ErrEmptyFilename
	}
	if strings.TrimSpace(in.MediaRef) == "" {
		return nil, false, entity.ErrEmptyMediaRef
	}
	if in.Caption != nil && len([]rune(*in.Caption)) > MaxCaptionLength {
		return nil, false, entity.ErrCaptionTooLong
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		p := s.posts[id]
		if p.Filename == filename && (p.Status == entity.StatusQueued || p.Status == entity.StatusScheduled) {
			return p.Clone(), false, nil
		}
	}

	var caption, draftID string
	switch {
	case in.Caption != nil:
		caption = *in.Caption
	case s.captions != nil:
		caption, draftID = s.captions.CaptionFor(filename)
	}

	targets := in.Targets
	if len(targets) == 0 {
		targets = s.targets
	}

	mediaType := in.MediaType
	if mediaType == "" {
		mediaType = entity.MediaTypeImage
	}

	now := s.now()
	p := &entity.Post{
		ID:              uuid.New().String(),
		Filename:        filename,
		MediaRef:        in.MediaRef,
		MediaType:       mediaType,
		Caption:         caption,
		DraftID:         draftID,
		Status:          entity.StatusQueued,
		ScheduledAt:     now,
		CreatedAt:       now,
		UpdatedAt:       now,
		PlatformTargets: append([]entity.PlatformTarget(nil), targets...),
	}
	s.insertLocked(p)

	return p.Clone(), true, nil
}

// Get retrieves a post by ID
func (s *PostMemory) Get(ctx context.Context, id string) (*entity.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.posts[id]
	if !ok {
		return nil, entity.ErrPostNotFound
	}
	return p.Clone(), nil
}

// List retrieves posts in creation order
func (s *PostMemory) List(ctx context.Context, filter PostFilter) []entity.Post {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]entity.Post, 0, len(s.order))
	for _, id := range s.order {
		p := s.posts[id]
		if filter.Status != nil && p.Status != *filter.Status {
			continue
		}
		if filter.RootsOnly && p.IsRepost {
			continue
		}
		out = append(out, *p.Clone())
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// Queued returns all queued posts, oldest first
func (s *PostMemory) Queued(ctx context.Context) []entity.Post {
	status := entity.StatusQueued
	return s.List(ctx, PostFilter{Status: &status})
}

// ReadyPosts returns scheduled posts with scheduled_at <= now, sorted by scheduled_at.
// Ties keep creation order.
func (s *PostMemory) ReadyPosts(ctx context.Context, now time.Time) []entity.Post {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []entity.Post
	for _, id := range s.order {
		p := s.posts[id]
		if p.Status == entity.StatusScheduled && !p.ScheduledAt.After(now) {
			out = append(out, *p.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
	return out
}

// Apply runs a lifecycle transition against a post
func (s *PostMemory) Apply(ctx context.Context, id string, t entity.Transition) (*entity.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[id]
	if !ok {
		return nil, entity.ErrPostNotFound
	}

	// apply on a copy so a rejected transition leaves no trace
	next := p.Clone()
	if err := entity.Apply(next, t, s.now()); err != nil {
		return nil, fmt.Errorf("post %s: %w", id, err)
	}
	s.posts[id] = next

	return next.Clone(), nil
}

// Remove detaches a post from the store
func (s *PostMemory) Remove(ctx context.Context, id string) (*entity.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[id]
	if !ok {
		return nil, entity.ErrPostNotFound
	}
	if !p.IsDeletable() {
		return nil, entity.ErrPostNotDeletable
	}

	delete(s.posts, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return p, nil
}

// Chain returns the root followed by its reposts in creation order
func (s *PostMemory) Chain(ctx context.Context, rootID string) []entity.Post {
	s.mu.RLock()
	defer s.mu.RUnlock()

	root, ok := s.posts[rootID]
	if !ok {
		return nil
	}
	out := []entity.Post{*root.Clone()}
	for _, id := range s.order {
		p := s.posts[id]
		if p.IsRepost && p.OriginalPostID == rootID {
			out = append(out, *p.Clone())
		}
	}
	return out
}

// AddRepost creates a queued copy of the root and increments its repost counter
func (s *PostMemory) AddRepost(ctx context.Context, rootID string) (*entity.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	root, ok := s.posts[rootID]
	if !ok || root.IsRepost {
		return nil, entity.ErrPostNotFound
	}
	if root.RepostCount >= entity.MaxReposts {
		return nil, entity.ErrRepostLimit
	}

	now := s.now()
	child := &entity.Post{
		ID:              uuid.New().String(),
		Filename:        root.Filename,
		MediaRef:        root.MediaRef,
		MediaType:       root.MediaType,
		Caption:         root.Caption,
		Status:          entity.StatusQueued,
		ScheduledAt:     now,
		CreatedAt:       now,
		UpdatedAt:       now,
		IsRepost:        true,
		OriginalPostID:  root.ID,
		PlatformTargets: append([]entity.PlatformTarget(nil), root.PlatformTargets...),
	}

	updated := root.Clone()
	updated.RepostCount++
	updated.UpdatedAt = now
	s.posts[rootID] = updated
	s.insertLocked(child)

	return child.Clone(), nil
}

// Counts returns the number of posts per status
func (s *PostMemory) Counts(ctx context.Context) entity.StatusCounts {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c entity.StatusCounts
	for _, p := range s.posts {
		c.Add(p.Status)
	}
	return c
}

// NextScheduled returns the next n scheduled posts by time
func (s *PostMemory) NextScheduled(ctx context.Context, n int) []entity.UpcomingPost {
	status := entity.StatusScheduled
	posts := s.List(ctx, PostFilter{Status: &status})
	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].ScheduledAt.Before(posts[j].ScheduledAt)
	})
	if n > 0 && len(posts) > n {
		posts = posts[:n]
	}

	out := make([]entity.UpcomingPost, len(posts))
	for i, p := range posts {
		out[i] = entity.UpcomingPost{
			ID:          p.ID,
			Filename:    p.Filename,
			ScheduledAt: p.ScheduledAt,
			IsRepost:    p.IsRepost,
		}
	}
	return out
}

// Config returns the current schedule configuration
func (s *PostMemory) Config(ctx context.Context) entity.ScheduleConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Clone()
}

// SetConfig validates, sanitizes and stores a schedule configuration
func (s *PostMemory) SetConfig(ctx context.Context, cfg entity.ScheduleConfig) (entity.ScheduleConfig, error) {
	if err := cfg.Validate(); err != nil {
		return entity.ScheduleConfig{}, err
	}
	normalized := cfg.Normalize()

	s.mu.Lock()
	s.config = normalized
	s.mu.Unlock()

	return normalized.Clone(), nil
}

// RecordPlanRun stores the time of the last planning run
func (s *PostMemory) RecordPlanRun(ctx context.Context, at time.Time) {
	s.mu.Lock()
	s.lastPlanRun = &at
	s.mu.Unlock()
}

// LastPlanRun returns the time of the last planning run, if any
func (s *PostMemory) LastPlanRun(ctx context.Context) *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastPlanRun == nil {
		return nil
	}
	t := *s.lastPlanRun
	return &t
}

func (s *PostMemory) insertLocked(p *entity.Post) {
	s.posts[p.ID] = p
	s.order = append(s.order, p.ID)
}
