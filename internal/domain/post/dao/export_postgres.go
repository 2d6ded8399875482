package dao

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vadim/neo-autopost/internal/domain/post/entity"
)

// DB is the subset of pgxpool.Pool the exporter uses
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostLister lists every post of the store
type PostLister interface {
	List(ctx context.Context, filter PostFilter) []entity.Post
}

const snapshotSchema = `
	CREATE TABLE IF NOT EXISTS post_snapshots (
		id               TEXT PRIMARY KEY,
		filename         TEXT NOT NULL,
		media_ref        TEXT NOT NULL,
		media_type       TEXT NOT NULL,
		caption          TEXT NOT NULL,
		status           TEXT NOT NULL,
		scheduled_at     TIMESTAMPTZ NOT NULL,
		published_at     TIMESTAMPTZ,
		error_message    TEXT,
		remote_media_id  TEXT,
		is_repost        BOOLEAN NOT NULL,
		original_post_id TEXT,
		repost_count     INT NOT NULL,
		results          JSONB,
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL,
		exported_at      TIMESTAMPTZ NOT NULL,
		removed_at       TIMESTAMPTZ
	)
`

// ExportPostgres copies the in-memory store into post_snapshots.
// The table is write-only: nothing is ever loaded back from it.
type ExportPostgres struct {
	db     DB
	source PostLister
	now    func() time.Time
}

// NewExportPostgres creates a new snapshot exporter
func NewExportPostgres(db DB, source PostLister) *ExportPostgres {
	return &ExportPostgres{db: db, source: source, now: time.Now}
}

// EnsureSchema creates the snapshot table if it does not exist
func (r *ExportPostgres) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, snapshotSchema); err != nil {
		return fmt.Errorf("creating post_snapshots: %w", err)
	}
	return nil
}

// Export upserts every post and marks rows of removed posts
func (r *ExportPostgres) Export(ctx context.Context) (int, error) {
	posts := r.source.List(ctx, PostFilter{})
	now := r.now()

	batch := &pgx.Batch{}
	query := `
		INSERT INTO post_snapshots (
			id, filename, media_ref, media_type, caption, status, scheduled_at,
			published_at, error_message, remote_media_id, is_repost, original_post_id,
			repost_count, results, created_at, updated_at, exported_at, removed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NULL)
		ON CONFLICT (id) DO UPDATE SET
			caption = EXCLUDED.caption,
			status = EXCLUDED.status,
			scheduled_at = EXCLUDED.scheduled_at,
			published_at = EXCLUDED.published_at,
			error_message = EXCLUDED.error_message,
			remote_media_id = EXCLUDED.remote_media_id,
			repost_count = EXCLUDED.repost_count,
			results = EXCLUDED.results,
			updated_at = EXCLUDED.updated_at,
			exported_at = EXCLUDED.exported_at,
			removed_at = NULL
	`

	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		results, err := json.Marshal(p.Results)
		if err != nil {
			return 0, fmt.Errorf("encoding results of %s: %w", p.ID, err)
		}
		batch.Queue(query,
			p.ID,
			p.Filename,
			p.MediaRef,
			string(p.MediaType),
			p.Caption,
			string(p.Status),
			p.ScheduledAt,
			p.PublishedAt,
			nullable(p.ErrorMessage),
			nullable(p.RemoteMediaID),
			p.IsRepost,
			nullable(p.OriginalPostID),
			p.RepostCount,
			results,
			p.CreatedAt,
			p.UpdatedAt,
			now,
		)
		ids = append(ids, p.ID)
	}

	batch.Queue(`
		UPDATE post_snapshots
		SET removed_at = $2
		WHERE removed_at IS NULL AND NOT (id = ANY($1))
	`, ids, now)

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return 0, fmt.Errorf("executing snapshot export: %w", err)
		}
	}

	return len(posts), nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
