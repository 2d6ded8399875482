package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vadim/neo-autopost/internal/domain/post/dao"
	"github.com/vadim/neo-autopost/internal/domain/post/entity"
	"github.com/vadim/neo-autopost/internal/domain/post/planner"
	"github.com/vadim/neo-autopost/internal/eventbus"
	"github.com/vadim/neo-autopost/internal/httpx/upstream/graph"
	"github.com/vadim/neo-autopost/internal/metrics"
)

// Publisher publishes one post to one platform account.
// This interface is defined here (consumer) not in the upstream package (provider).
type Publisher interface {
	Publish(ctx context.Context, in graph.PublishInput) (string, error)
}

// Planner assigns and previews publish slots
type Planner interface {
	PlanPosts(ctx context.Context) (*planner.PlanResult, error)
	Preview(ctx context.Context, from time.Time, count int) []time.Time
}

// EventPublisher receives lifecycle notifications
type EventPublisher interface {
	Publish(e eventbus.Event)
}

// Policy orchestrates publishing and the administrative post use-cases
type Policy struct {
	store      dao.PostRepository
	planner    Planner
	publishers map[entity.Platform]Publisher
	events     EventPublisher
	logger     *slog.Logger
	now        func() time.Time

	onConfig func(entity.ScheduleConfig)

	autorun atomic.Bool
	runMu   sync.Mutex // one publish pass at a time
	kickCh  chan struct{}
}

// Option configures the Policy
type Option func(*Policy)

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(p *Policy) {
		p.now = now
	}
}

// WithAutorun sets the initial autorun flag
func WithAutorun(on bool) Option {
	return func(p *Policy) {
		p.autorun.Store(on)
	}
}

// WithConfigListener registers fn to run after every accepted schedule config change
func WithConfigListener(fn func(entity.ScheduleConfig)) Option {
	return func(p *Policy) {
		p.onConfig = fn
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(p *Policy) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a new post policy
func New(store dao.PostRepository, pl Planner, publishers map[entity.Platform]Publisher, events EventPublisher, opts ...Option) *Policy {
	p := &Policy{
		store:      store,
		planner:    pl,
		publishers: publishers,
		events:     events,
		logger:     slog.Default(),
		now:        time.Now,
		kickCh:     make(chan struct{}, 1),
	}
	p.autorun.Store(true)

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// ProcessResult summarizes one publish pass
type ProcessResult struct {
	Skipped   bool
	Ready     int
	Published int
	Failed    int
}

// ProcessReadyPosts publishes every due post, one after another, in scheduled order.
// It does nothing while autorun is off.
func (p *Policy) ProcessReadyPosts(ctx context.Context) (*ProcessResult, error) {
	if !p.autorun.Load() {
		p.logger.Debug("publish pass skipped: autorun is off")
		return &ProcessResult{Skipped: true}, nil
	}

	p.runMu.Lock()
	defer p.runMu.Unlock()

	start := p.now()
	defer metrics.ObserveLoop("publish", time.Now())

	ready := p.store.ReadyPosts(ctx, start)
	res := &ProcessResult{Ready: len(ready)}

	for _, post := range ready {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		out, err := p.PublishPost(ctx, post.ID)
		if err != nil {
			p.logger.Warn("post skipped", "post_id", post.ID, "error", err)
			continue
		}
		switch out.Status {
		case entity.StatusPublished:
			res.Published++
		case entity.StatusError:
			res.Failed++
		}
	}

	if res.Ready > 0 {
		p.logger.Info("publish pass finished",
			"ready", res.Ready,
			"published", res.Published,
			"failed", res.Failed,
		)
	}
	return res, nil
}

// PublishPost claims a scheduled post and publishes it to every enabled platform.
// The post always ends in PUBLISHED or ERROR once claimed; err is only set when the
// claim itself fails.
func (p *Policy) PublishPost(ctx context.Context, id string) (post *entity.Post, err error) {
	claimed, err := p.store.Apply(ctx, id, entity.MarkPublishing{})
	if err != nil {
		return nil, err
	}
	p.logger.Info("post publishing", "post_id", id, "filename", claimed.Filename, "is_repost", claimed.IsRepost)

	defer func() {
		if r := recover(); r != nil {
			cause := fmt.Errorf("%w: panic while publishing: %v", entity.ErrInternal, r)
			p.logger.Error("post publishing panicked", "post_id", id, "panic", r)
			post, err = p.finish(ctx, claimed, nil, cause.Error())
		}
	}()

	results, lastErr := p.fanOut(ctx, claimed)
	return p.finish(ctx, claimed, results, lastErr)
}

// fanOut tries each enabled target in platform order and returns per-platform results
// plus the most recent failure message.
func (p *Policy) fanOut(ctx context.Context, post *entity.Post) ([]entity.PlatformResult, string) {
	targets := post.EnabledTargets()
	if len(targets) == 0 {
		return nil, entity.ErrNoTargets.Error()
	}

	results := make([]entity.PlatformResult, 0, len(targets))
	var lastErr string
	for _, target := range targets {
		res := entity.PlatformResult{Platform: target.Platform}

		mediaID, err := p.publishTo(ctx, post, target)
		res.At = p.now()
		metrics.ObservePlatformPublish(string(target.Platform), err)
		if err != nil {
			res.Error = err.Error()
			lastErr = fmt.Sprintf("%s: %s", target.Platform, err.Error())
			p.logger.Warn("platform publish failed", "post_id", post.ID, "platform", target.Platform, "error", err)
		} else {
			res.RemoteMediaID = mediaID
			p.logger.Info("platform publish succeeded", "post_id", post.ID, "platform", target.Platform, "media_id", mediaID)
		}
		results = append(results, res)
	}
	return results, lastErr
}

func (p *Policy) publishTo(ctx context.Context, post *entity.Post, target entity.PlatformTarget) (string, error) {
	pub, ok := p.publishers[target.Platform]
	if !ok || pub == nil {
		return "", fmt.Errorf("%w: %s", entity.ErrUnknownPlatform, target.Platform)
	}
	return pub.Publish(ctx, graph.PublishInput{
		PostID:      post.ID,
		UserID:      target.UserID,
		AccessToken: target.AccessToken,
		MediaURL:    post.MediaRef,
		MediaType:   post.MediaType,
		Caption:     post.Caption,
	})
}

// finish applies the terminal transition: PUBLISHED if any platform succeeded, ERROR otherwise
func (p *Policy) finish(ctx context.Context, post *entity.Post, results []entity.PlatformResult, lastErr string) (*entity.Post, error) {
	var mediaID string
	for _, r := range results {
		if r.Succeeded() {
			mediaID = r.RemoteMediaID
			break
		}
	}

	// terminal transitions must land even if the caller's context is already done
	storeCtx := context.WithoutCancel(ctx)
	now := p.now()

	if mediaID != "" {
		out, err := p.store.Apply(storeCtx, post.ID, entity.MarkPublished{RemoteMediaID: mediaID, At: now, Results: results})
		if err != nil {
			return nil, fmt.Errorf("%w: marking post published: %w", entity.ErrInternal, err)
		}
		metrics.PostOutcomesTotal.WithLabelValues(string(entity.StatusPublished)).Inc()
		p.logger.Info("post published", "post_id", out.ID, "media_id", mediaID, "platforms", len(results))
		p.emit(eventbus.TypePostPublished, out, "")
		return out, nil
	}

	if lastErr == "" {
		lastErr = "all platforms failed"
	}
	out, err := p.store.Apply(storeCtx, post.ID, entity.MarkError{Message: lastErr, Results: results})
	if err != nil {
		return nil, fmt.Errorf("%w: marking post failed: %w", entity.ErrInternal, err)
	}
	metrics.PostOutcomesTotal.WithLabelValues(string(entity.StatusError)).Inc()
	p.logger.Error("post failed", "post_id", out.ID, "error", lastErr)
	p.emit(eventbus.TypePostFailed, out, lastErr)
	return out, nil
}

func (p *Policy) emit(eventType string, post *entity.Post, errMsg string) {
	if p.events == nil {
		return
	}
	p.events.Publish(eventbus.Event{
		Type: eventType,
		Time: p.now(),
		Data: eventbus.PostEvent{
			PostID:   post.ID,
			RootID:   post.RootID(),
			DraftID:  post.DraftID,
			Filename: post.Filename,
			MediaID:  post.RemoteMediaID,
			Error:    errMsg,
			At:       p.now(),
		},
	})
}

// SetAutorun switches automatic publishing on or off. Switching on triggers a pass.
func (p *Policy) SetAutorun(on bool) {
	prev := p.autorun.Swap(on)
	if prev != on {
		p.logger.Info("autorun changed", "autorun", on)
	}
	if on {
		p.kick()
	}
}

// Autorun reports whether automatic publishing is on
func (p *Policy) Autorun() bool {
	return p.autorun.Load()
}

// Kicks delivers on-demand publish requests to the publish loop
func (p *Policy) Kicks() <-chan struct{} {
	return p.kickCh
}

func (p *Policy) kick() {
	select {
	case p.kickCh <- struct{}{}:
	default:
	}
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// classOf names the error class for logs
func classOf(err error) string {
	for _, c := range []struct {
		err  error
		name string
	}{
		{entity.ErrValidation, "validation"},
		{entity.ErrNotFound, "not_found"},
		{entity.ErrConflict, "conflict"},
		{entity.ErrRemoteTerminal, "remote_terminal"},
		{entity.ErrRemoteTransient, "remote_transient"},
	} {
		if errors.Is(err, c.err) {
			return c.name
		}
	}
	return "internal"
}
