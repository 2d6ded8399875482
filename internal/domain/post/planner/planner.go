package planner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vadim/neo-autopost/internal/domain/post/entity"
)

const (
	MinPreviewCount = 1
	MaxPreviewCount = 365
)

// PostStore defines the store operations the planner needs
type PostStore interface {
	Queued(ctx context.Context) []entity.Post
	Apply(ctx context.Context, id string, t entity.Transition) (*entity.Post, error)
	Config(ctx context.Context) entity.ScheduleConfig
	RecordPlanRun(ctx context.Context, at time.Time)
}

// PlanResult summarizes one planning run
type PlanResult struct {
	Planned int         `json:"planned"`
	Slots   []time.Time `json:"slots"`
	RanAt   time.Time   `json:"ran_at"`
}

// Planner assigns publish times to queued posts
type Planner struct {
	store  PostStore
	logger *slog.Logger
	now    func() time.Time
	mu     sync.Mutex
}

// New creates a new planner
func New(store PostStore, logger *slog.Logger, now func() time.Time) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Planner{
		store:  store,
		logger: logger,
		now:    now,
	}
}

// PlanPosts schedules every queued post, oldest first, on the next slots from now.
// The run is recorded even when nothing is queued.
func (p *Planner) PlanPosts(ctx context.Context) (*PlanResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	defer p.store.RecordPlanRun(ctx, now)

	queued := p.store.Queued(ctx)
	result := &PlanResult{RanAt: now}
	if len(queued) == 0 {
		p.logger.Debug("plan run: nothing queued")
		return result, nil
	}

	slots := Preview(p.store.Config(ctx), now, len(queued))
	for i, post := range queued {
		if _, err := p.store.Apply(ctx, post.ID, entity.Schedule{At: slots[i]}); err != nil {
			// the post left the queue concurrently (deleted or rescheduled)
			p.logger.Warn("plan run: skipping post", "post_id", post.ID, "error", err)
			continue
		}
		result.Planned++
		result.Slots = append(result.Slots, slots[i])
		p.logger.Info("post scheduled",
			"post_id", post.ID,
			"filename", post.Filename,
			"scheduled_at", slots[i],
		)
	}

	p.logger.Info("plan run finished", "queued", len(queued), "planned", result.Planned)
	return result, nil
}

// Preview returns upcoming slots for display. Count is clamped to [1, 365].
func (p *Planner) Preview(ctx context.Context, from time.Time, count int) []time.Time {
	if from.IsZero() {
		from = p.now()
	}
	return Preview(p.store.Config(ctx), from, ClampCount(count))
}

// ClampCount clamps a requested preview count to the supported range
func ClampCount(count int) int {
	if count < MinPreviewCount {
		return MinPreviewCount
	}
	if count > MaxPreviewCount {
		return MaxPreviewCount
	}
	return count
}

func (r *PlanResult) String() string {
	return fmt.Sprintf("planned %d posts at %s", r.Planned, r.RanAt.Format(time.RFC3339))
}
