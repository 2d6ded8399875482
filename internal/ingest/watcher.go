package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vadim/neo-autopost/internal/domain/post/entity"
)

const DefaultDebounce = 2 * time.Second

// Watcher queues media files dropped into an inbox directory.
// Events are collected until the directory has been quiet for the debounce window,
// then the batch is queued and planned once.
type Watcher struct {
	dir      string
	ingester *Ingester
	queue    Queue
	debounce time.Duration
	logger   *slog.Logger

	// name -> modification time of the last ingested version
	seen map[string]time.Time
}

// WatcherOption configures the Watcher
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet window before a batch is processed
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets the logger
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWatcher creates a watcher over dir
func NewWatcher(dir string, ingester *Ingester, queue Queue, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		dir:      dir,
		ingester: ingester,
		queue:    queue,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
		seen:     make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// BatchResult summarizes one processed batch
type BatchResult struct {
	Files   int
	Queued  int
	Skipped int
	Planned int
}

// Run scans the inbox once, then watches it until ctx is done
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating inbox %s: %w", w.dir, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating inbox watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watching inbox %s: %w", w.dir, err)
	}
	w.logger.Info("inbox watcher started", "dir", w.dir, "debounce", w.debounce)

	if _, err := w.Scan(ctx); err != nil {
		w.logger.Error("initial inbox scan failed", "dir", w.dir, "error", err)
	}

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("inbox watcher stopped", "dir", w.dir)
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return errors.New("inbox watcher closed")
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
				continue
			}
			name := filepath.Base(ev.Name)
			if ignored(name) {
				continue
			}
			pending[name] = struct{}{}
			timer.Reset(w.debounce)

		case <-timer.C:
			names := make([]string, 0, len(pending))
			for name := range pending {
				names = append(names, name)
			}
			clear(pending)
			w.process(ctx, names)

		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("inbox watcher closed")
			}
			// an overflow may have dropped events
			w.logger.Warn("inbox watch error, rescanning", "dir", w.dir, "error", err)
			if _, err := w.Scan(ctx); err != nil {
				w.logger.Error("inbox rescan failed", "dir", w.dir, "error", err)
			}
		}
	}
}

// Scan processes every file currently in the inbox as one batch
func (w *Watcher) Scan(ctx context.Context) (*BatchResult, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("reading inbox %s: %w", w.dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || ignored(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	return w.process(ctx, names), nil
}

func (w *Watcher) process(ctx context.Context, names []string) *BatchResult {
	sort.Strings(names)
	res := &BatchResult{Files: len(names)}

	for _, name := range names {
		created, err := w.ingestFile(ctx, name)
		switch {
		case err != nil:
			res.Skipped++
			level := slog.LevelError
			if errors.Is(err, entity.ErrValidation) || errors.Is(err, os.ErrNotExist) {
				level = slog.LevelWarn
			}
			w.logger.Log(ctx, level, "inbox file skipped", "filename", name, "error", err)
		case created:
			res.Queued++
		}
	}

	if res.Queued > 0 {
		plan, err := w.queue.PlanNow(ctx)
		if err != nil {
			w.logger.Error("planning after ingest failed", "error", err)
		} else {
			res.Planned = plan.Planned
		}
	}

	if res.Files > 0 {
		w.logger.Info("inbox batch processed",
			"files", res.Files,
			"queued", res.Queued,
			"skipped", res.Skipped,
			"planned", res.Planned,
		)
	}
	return res
}

// ingestFile queues one inbox file unless this version of it was already ingested
func (w *Watcher) ingestFile(ctx context.Context, name string) (bool, error) {
	path := filepath.Join(w.dir, name)
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	if !info.Mode().IsRegular() {
		return false, nil
	}
	if mod, ok := w.seen[name]; ok && mod.Equal(info.ModTime()) {
		return false, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	post, created, err := w.ingester.Ingest(ctx, File{Name: name, Body: f, Size: info.Size(), Source: "ingest"})
	if err != nil {
		return false, err
	}
	w.seen[name] = info.ModTime()

	if created {
		w.logger.Info("inbox file queued", "filename", name, "post_id", post.ID, "media_type", post.MediaType)
	}
	return created, nil
}

// ignored filters hidden and partial files
func ignored(name string) bool {
	return strings.HasPrefix(name, ".") ||
		strings.HasSuffix(name, ".part") ||
		strings.HasSuffix(name, ".tmp") ||
		strings.HasSuffix(name, "~")
}
