package dao

import (
	"context"
	"time"

	"github.com/vadim/neo-autopost/internal/domain/post/entity"
)

// PostFilter contains filters for listing posts
type PostFilter struct {
	Status    *entity.Status
	RootsOnly bool
	Limit     int
}

// QueueInput represents input for queueing a media file
type QueueInput struct {
	Filename  string
	MediaRef  string
	MediaType entity.MediaType
	Caption   *string // nil means the caption provider chooses
	Targets   []entity.PlatformTarget
}

// CaptionProvider supplies default caption text when a file is queued.
// The returned draft id is empty when no draft was consumed.
type CaptionProvider interface {
	CaptionFor(filename string) (caption string, draftID string)
}

// PostRepository is the store contract shared by the in-memory store and its callers
type PostRepository interface {
	// QueueFile creates a queued post, or returns the queued/scheduled post with the same filename
	QueueFile(ctx context.Context, in QueueInput) (*entity.Post, bool, error)

	// Get retrieves a post by its ID
	Get(ctx context.Context, id string) (*entity.Post, error)

	// List retrieves posts in creation order
	List(ctx context.Context, filter PostFilter) []entity.Post

	// Queued returns all queued posts, oldest first
	Queued(ctx context.Context) []entity.Post

	// ReadyPosts returns scheduled posts due at now, sorted by scheduled time
	ReadyPosts(ctx context.Context, now time.Time) []entity.Post

	// Apply runs a lifecycle transition against a post
	Apply(ctx context.Context, id string, t entity.Transition) (*entity.Post, error)

	// Remove detaches a post that is queued, scheduled or failed
	Remove(ctx context.Context, id string) (*entity.Post, error)

	// Chain returns the root and all its reposts
	Chain(ctx context.Context, rootID string) []entity.Post

	// AddRepost creates a queued repost child and increments the root counter
	AddRepost(ctx context.Context, rootID string) (*entity.Post, error)

	// Counts returns the number of posts per status
	Counts(ctx context.Context) entity.StatusCounts

	// NextScheduled returns the next n scheduled posts
	NextScheduled(ctx context.Context, n int) []entity.UpcomingPost

	Config(ctx context.Context) entity.ScheduleConfig
	SetConfig(ctx context.Context, cfg entity.ScheduleConfig) (entity.ScheduleConfig, error)

	RecordPlanRun(ctx context.Context, at time.Time)
	LastPlanRun(ctx context.Context) *time.Time
}
