package repost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vadim/neo-autopost/internal/domain/post/dao"
	"github.com/vadim/neo-autopost/internal/domain/post/entity"
	"github.com/vadim/neo-autopost/internal/domain/post/planner"
	"github.com/vadim/neo-autopost/internal/eventbus"
	"github.com/vadim/neo-autopost/internal/metrics"
)

// Reason tells why a repost is requested
type Reason string

const (
	ReasonManual Reason = "manual"
	ReasonAuto   Reason = "auto"
)

// ParseReason parses a string into a Reason
func ParseReason(s string) (Reason, error) {
	switch Reason(s) {
	case ReasonManual, ReasonAuto:
		return Reason(s), nil
	}
	return "", fmt.Errorf("%w: unknown repost reason %q", entity.ErrValidation, s)
}

// PostStore defines the store operations the repost engine needs
type PostStore interface {
	Get(ctx context.Context, id string) (*entity.Post, error)
	List(ctx context.Context, filter dao.PostFilter) []entity.Post
	Chain(ctx context.Context, rootID string) []entity.Post
	AddRepost(ctx context.Context, rootID string) (*entity.Post, error)
	Config(ctx context.Context) entity.ScheduleConfig
}

// Planner assigns slots to queued posts
type Planner interface {
	PlanPosts(ctx context.Context) (*planner.PlanResult, error)
}

// EventPublisher receives repost notifications
type EventPublisher interface {
	Publish(e eventbus.Event)
}

// Engine creates bounded, cooldown gated repost children of published root posts
type Engine struct {
	store   PostStore
	planner Planner
	events  EventPublisher
	logger  *slog.Logger
	now     func() time.Time

	mu sync.Mutex // serializes check-then-create per engine
}

// New creates a new repost engine
func New(store PostStore, pl Planner, events EventPublisher, logger *slog.Logger, now func() time.Time) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:   store,
		planner: pl,
		events:  events,
		logger:  logger,
		now:     now,
	}
}

// ScheduleRepost queues a new child of the post's root.
// Both reasons require a published root, a free repost slot and no pending child;
// auto reposts also wait out the cooldown since the chain's last publish.
func (e *Engine) ScheduleRepost(ctx context.Context, postID string, reason Reason) (*entity.Post, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	post, err := e.store.Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	rootID := post.RootID()
	root, err := e.store.Get(ctx, rootID)
	if err != nil {
		return nil, err
	}

	if err := e.check(ctx, root, reason); err != nil {
		e.logger.Info("repost rejected",
			"post_id", postID,
			"root_id", rootID,
			"reason", reason,
			"repost_count", root.RepostCount,
			"error", err,
		)
		return nil, err
	}

	child, err := e.store.AddRepost(ctx, rootID)
	if err != nil {
		return nil, err
	}

	metrics.RepostsCreatedTotal.WithLabelValues(string(reason)).Inc()
	e.logger.Info("repost created",
		"post_id", child.ID,
		"root_id", rootID,
		"reason", reason,
		"repost_count", root.RepostCount+1,
	)
	if e.events != nil {
		e.events.Publish(eventbus.Event{
			Type: eventbus.TypeRepostCreated,
			Time: e.now(),
			Data: eventbus.PostEvent{PostID: child.ID, RootID: rootID, Filename: child.Filename, At: e.now()},
		})
	}
	return child, nil
}

func (e *Engine) check(ctx context.Context, root *entity.Post, reason Reason) error {
	if root.Status != entity.StatusPublished {
		return entity.ErrRootNotPublished
	}
	if root.RepostCount >= entity.MaxReposts {
		return entity.ErrRepostLimit
	}

	chain := e.store.Chain(ctx, root.ID)
	var lastPublish time.Time
	for _, p := range chain {
		if p.IsRepost && p.Status.IsPending() {
			return entity.ErrRepostPending
		}
		if p.PublishedAt != nil && p.PublishedAt.After(lastPublish) {
			lastPublish = *p.PublishedAt
		}
	}

	if reason == ReasonAuto && e.now().Sub(lastPublish) < entity.RepostCooldown {
		return entity.ErrRepostCooldown
	}
	return nil
}

// TickResult summarizes one auto repost pass
type TickResult struct {
	Checked int
	Created int
	Planned int
}

// AutoRepostTick tries an auto repost for every published root when auto reposting is on,
// then plans the new children so they get real slots.
func (e *Engine) AutoRepostTick(ctx context.Context) (*TickResult, error) {
	res := &TickResult{}
	if !e.store.Config(ctx).AutoRepostEnabled {
		e.logger.Debug("auto repost disabled")
		return res, nil
	}
	defer metrics.ObserveLoop("repost", time.Now())

	published := entity.StatusPublished
	roots := e.store.List(ctx, dao.PostFilter{Status: &published, RootsOnly: true})
	res.Checked = len(roots)

	for _, root := range roots {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, err := e.ScheduleRepost(ctx, root.ID, ReasonAuto); err != nil {
			if !errors.Is(err, entity.ErrConflict) {
				e.logger.Warn("auto repost failed", "root_id", root.ID, "error", err)
			}
			continue
		}
		res.Created++
	}

	if res.Created > 0 {
		plan, err := e.planner.PlanPosts(ctx)
		if err != nil {
			return res, fmt.Errorf("planning reposts: %w", err)
		}
		res.Planned = plan.Planned
	}

	e.logger.Info("auto repost tick finished", "checked", res.Checked, "created", res.Created, "planned", res.Planned)
	return res, nil
}
