package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/vadim/neo-autopost/internal/domain/post/dao"
	"github.com/vadim/neo-autopost/internal/domain/post/entity"
	"github.com/vadim/neo-autopost/internal/domain/post/planner"
	"github.com/vadim/neo-autopost/internal/eventbus"
	"github.com/vadim/neo-autopost/internal/metrics"
)

const (
	DefaultSnapshotSize = 5
	MaxSnapshotSize     = 100
)

// QueueInput represents input for queueing a media file
type QueueInput struct {
	Filename  string
	MediaRef  string
	MediaType entity.MediaType
	Caption   *string
	Source    string // ingest, api, upload
}

func (in QueueInput) toDAO() dao.QueueInput {
	return dao.QueueInput{
		Filename:  in.Filename,
		MediaRef:  in.MediaRef,
		MediaType: in.MediaType,
		Caption:   in.Caption,
	}
}

// QueueFile queues a media file. created is false when the file was already pending.
func (p *Policy) QueueFile(ctx context.Context, in QueueInput) (post *entity.Post, created bool, err error) {
	if in.MediaType != "" && in.MediaType != entity.MediaTypeImage && in.MediaType != entity.MediaTypeVideo {
		return nil, false, entity.ErrInvalidMediaType
	}

	post, created, err = p.store.QueueFile(ctx, in.toDAO())
	if err != nil {
		return nil, false, err
	}

	source := in.Source
	if source == "" {
		source = "api"
	}
	if created {
		metrics.PostsQueuedTotal.WithLabelValues(source).Inc()
		p.logger.Info("post queued", "post_id", post.ID, "filename", post.Filename, "source", source)
	} else {
		p.logger.Debug("file already pending", "post_id", post.ID, "filename", post.Filename, "status", post.Status)
	}
	return post, created, nil
}

// PostNow queues the file if needed and makes it due immediately
func (p *Policy) PostNow(ctx context.Context, in QueueInput) (*entity.Post, error) {
	post, _, err := p.QueueFile(ctx, in)
	if err != nil {
		return nil, err
	}

	post, err = p.store.Apply(ctx, post.ID, entity.Schedule{At: p.now()})
	if err != nil {
		return nil, err
	}

	p.logger.Info("post scheduled for immediate publishing", "post_id", post.ID)
	p.kick()
	return post, nil
}

// ScheduleAt queues the file if needed and pins it to at
func (p *Policy) ScheduleAt(ctx context.Context, in QueueInput, at time.Time) (*entity.Post, error) {
	if at.IsZero() {
		return nil, entity.ErrInvalidScheduledAt
	}

	post, _, err := p.QueueFile(ctx, in)
	if err != nil {
		return nil, err
	}
	return p.Reschedule(ctx, post.ID, at)
}

// Reschedule moves a queued or scheduled post to at
func (p *Policy) Reschedule(ctx context.Context, id string, at time.Time) (*entity.Post, error) {
	if isBlank(id) {
		return nil, entity.ErrPostNotFound
	}
	if at.IsZero() {
		return nil, entity.ErrInvalidScheduledAt
	}

	post, err := p.store.Apply(ctx, id, entity.Schedule{At: at})
	if err != nil {
		p.logger.Info("reschedule rejected", "post_id", id, "class", classOf(err), "error", err)
		return nil, err
	}

	p.logger.Info("post rescheduled", "post_id", id, "scheduled_at", at)
	if !at.After(p.now()) {
		p.kick()
	}
	return post, nil
}

// RescheduleItem is one entry of a batch reschedule
type RescheduleItem struct {
	ID string
	At time.Time
}

// RescheduleResult is the outcome of one batch entry
type RescheduleResult struct {
	ID    string       `json:"id"`
	Post  *entity.Post `json:"post,omitempty"`
	Error string       `json:"error,omitempty"`
}

// RescheduleBatch validates every item first, then applies them one by one.
// A malformed batch mutates nothing; per-post conflicts are reported per item.
func (p *Policy) RescheduleBatch(ctx context.Context, items []RescheduleItem) ([]RescheduleResult, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no posts to reschedule", entity.ErrValidation)
	}
	for i, it := range items {
		if isBlank(it.ID) {
			return nil, fmt.Errorf("%w: item %d has no post id", entity.ErrValidation, i)
		}
		if it.At.IsZero() {
			return nil, fmt.Errorf("%w: item %d", entity.ErrInvalidScheduledAt, i)
		}
	}

	out := make([]RescheduleResult, len(items))
	for i, it := range items {
		out[i].ID = it.ID
		post, err := p.Reschedule(ctx, it.ID, it.At)
		if err != nil {
			out[i].Error = err.Error()
			continue
		}
		out[i].Post = post
	}
	return out, nil
}

// DeletePost removes a queued, scheduled or failed post
func (p *Policy) DeletePost(ctx context.Context, id string) (*entity.Post, error) {
	post, err := p.store.Remove(ctx, id)
	if err != nil {
		return nil, err
	}

	p.logger.Info("post deleted", "post_id", id, "status", post.Status)
	p.emit(eventbus.TypePostDeleted, post, "")
	return post, nil
}

// GetPost retrieves a post by ID
func (p *Policy) GetPost(ctx context.Context, id string) (*entity.Post, error) {
	return p.store.Get(ctx, id)
}

// ListPostsInput represents input for listing posts
type ListPostsInput struct {
	Status    *entity.Status
	RootsOnly bool
	Limit     int
}

// ListPosts retrieves posts in creation order
func (p *Policy) ListPosts(ctx context.Context, in ListPostsInput) []entity.Post {
	return p.store.List(ctx, dao.PostFilter{
		Status:    in.Status,
		RootsOnly: in.RootsOnly,
		Limit:     in.Limit,
	})
}

// Snapshot returns the status overview with the next n scheduled posts
func (p *Policy) Snapshot(ctx context.Context, n int) entity.Snapshot {
	if n <= 0 {
		n = DefaultSnapshotSize
	}
	if n > MaxSnapshotSize {
		n = MaxSnapshotSize
	}

	return entity.Snapshot{
		Counts:      p.store.Counts(ctx),
		Upcoming:    p.store.NextScheduled(ctx, n),
		LastPlanRun: p.store.LastPlanRun(ctx),
		Autorun:     p.Autorun(),
	}
}

// GetConfig returns the current schedule configuration
func (p *Policy) GetConfig(ctx context.Context) entity.ScheduleConfig {
	return p.store.Config(ctx)
}

// SetConfig validates and stores a schedule configuration. Already scheduled posts keep their slots.
func (p *Policy) SetConfig(ctx context.Context, cfg entity.ScheduleConfig) (entity.ScheduleConfig, error) {
	out, err := p.store.SetConfig(ctx, cfg)
	if err != nil {
		return entity.ScheduleConfig{}, err
	}
	p.logger.Info("schedule config updated",
		"mode", out.Mode,
		"interval_hours", out.IntervalHours,
		"times", len(out.Times),
		"weekdays", len(out.AllowedWeekdays),
		"auto_repost", out.AutoRepostEnabled,
	)
	if p.onConfig != nil {
		p.onConfig(out)
	}
	return out, nil
}

// Preview returns upcoming slots for display
func (p *Policy) Preview(ctx context.Context, from time.Time, count int) []time.Time {
	return p.planner.Preview(ctx, from, count)
}

// PlanNow assigns slots to every queued post and triggers a publish pass
func (p *Policy) PlanNow(ctx context.Context) (*planner.PlanResult, error) {
	res, err := p.planner.PlanPosts(ctx)
	if err != nil {
		return nil, err
	}
	if res.Planned > 0 {
		p.kick()
	}
	return res, nil
}
