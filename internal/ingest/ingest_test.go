package ingest

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/vadim/neo-autopost/internal/domain/post/entity"
	"github.com/vadim/neo-autopost/internal/domain/post/planner"
	"github.com/vadim/neo-autopost/internal/domain/post/policy"
	"github.com/vadim/neo-autopost/internal/storage"
)

var (
	jpegHead = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}
	pngHead  = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D, 'I', 'H', 'D', 'R'}
	mp4Head  = append([]byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm'}, make([]byte, 20)...)
)

type fakeQueue struct {
	mu      sync.Mutex
	inputs  []policy.QueueInput
	pending map[string]bool
	plans   int
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{pending: map[string]bool{}}
}

func (q *fakeQueue) QueueFile(ctx context.Context, in policy.QueueInput) (*entity.Post, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	post := &entity.Post{ID: "post-" + in.Filename, Filename: in.Filename, MediaRef: in.MediaRef, MediaType: in.MediaType}
	if q.pending[in.Filename] {
		return post, false, nil
	}
	q.pending[in.Filename] = true
	q.inputs = append(q.inputs, in)
	return post, true, nil
}

func (q *fakeQueue) PlanNow(ctx context.Context) (*planner.PlanResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.plans++
	return &planner.PlanResult{Planned: len(q.inputs)}, nil
}

func (q *fakeQueue) snapshot() ([]policy.QueueInput, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]policy.QueueInput(nil), q.inputs...), q.plans
}

type fakeUploader struct {
	got storage.UploadInput
	n   int
	err error
}

func (u *fakeUploader) Upload(ctx context.Context, in storage.UploadInput) (*storage.UploadOutput, error) {
	if u.err != nil {
		return nil, u.err
	}
	u.got = in
	data, _ := io.ReadAll(in.Reader)
	u.n = len(data)
	return &storage.UploadOutput{Key: "k/" + in.Filename, URL: "https://cdn.example/k/" + in.Filename, Size: int64(len(data))}, nil
}

func TestSniff(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		head []byte
		want entity.MediaType
		err  bool
	}{
		{"jpeg", jpegHead, entity.MediaTypeImage, false},
		{"png", pngHead, entity.MediaTypeImage, false},
		{"mp4", mp4Head, entity.MediaTypeVideo, false},
		{"text", []byte("just some notes"), "", true},
		{"pdf", []byte("%PDF-1.7\n"), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Sniff(tt.head)
			if tt.err {
				if !errors.Is(err, entity.ErrInvalidMediaType) {
					t.Fatalf("Sniff error = %v, want invalid media type", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Sniff error: %v", err)
			}
			if m.Kind != tt.want {
				t.Fatalf("kind = %q, want %q", m.Kind, tt.want)
			}
		})
	}
}

func TestIngestWithoutUploaderUsesBaseURL(t *testing.T) {
	t.Parallel()
	q := newFakeQueue()
	ing := NewIngester(q, "https://media.example/inbox/")

	post, created, err := ing.IngestBytes(context.Background(), "my photo.jpg", jpegHead, "upload")
	if err != nil || !created {
		t.Fatalf("IngestBytes = %v, %v", created, err)
	}
	if post.MediaRef != "https://media.example/inbox/my%20photo.jpg" {
		t.Fatalf("media ref = %q", post.MediaRef)
	}
	inputs, _ := q.snapshot()
	if inputs[0].Source != "upload" || inputs[0].MediaType != entity.MediaTypeImage {
		t.Fatalf("input = %+v", inputs[0])
	}
}

func TestIngestUploadsFullBody(t *testing.T) {
	t.Parallel()
	q := newFakeQueue()
	up := &fakeUploader{}
	ing := NewIngester(q, "", WithUploader(up))

	post, _, err := ing.IngestBytes(context.Background(), "clip.mp4", mp4Head, "ingest")
	if err != nil {
		t.Fatalf("IngestBytes error: %v", err)
	}
	if up.n != len(mp4Head) {
		t.Fatalf("uploaded %d bytes, want %d", up.n, len(mp4Head))
	}
	if up.got.ContentType != "video/mp4" {
		t.Fatalf("content type = %q", up.got.ContentType)
	}
	if post.MediaRef != "https://cdn.example/k/clip.mp4" || post.MediaType != entity.MediaTypeVideo {
		t.Fatalf("post = %+v", post)
	}
}

func TestIngestRejectsUnsupported(t *testing.T) {
	t.Parallel()
	q := newFakeQueue()
	_, _, err := NewIngester(q, "http://x").IngestBytes(context.Background(), "notes.txt", []byte("hello"), "upload")
	if !errors.Is(err, entity.ErrValidation) {
		t.Fatalf("error = %v, want validation", err)
	}
	if inputs, _ := q.snapshot(); len(inputs) != 0 {
		t.Fatal("nothing should be queued")
	}
}

func TestIngestUploadFailureIsInternal(t *testing.T) {
	t.Parallel()
	ing := NewIngester(newFakeQueue(), "", WithUploader(&fakeUploader{err: errors.New("s3 down")}))
	_, _, err := ing.IngestBytes(context.Background(), "a.png", pngHead, "upload")
	if !errors.Is(err, entity.ErrInternal) {
		t.Fatalf("error = %v, want internal", err)
	}
}

func writeFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScanQueuesBatchAndPlansOnce(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "b.jpg", jpegHead)
	writeFile(t, dir, "a.png", pngHead)
	writeFile(t, dir, "readme.txt", []byte("not media"))
	writeFile(t, dir, ".hidden.jpg", jpegHead)

	q := newFakeQueue()
	w := NewWatcher(dir, NewIngester(q, "http://media"), q)

	res, err := w.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if res.Files != 3 || res.Queued != 2 || res.Skipped != 1 {
		t.Fatalf("result = %+v", res)
	}
	inputs, plans := q.snapshot()
	if plans != 1 {
		t.Fatalf("planned %d times, want 1", plans)
	}
	if inputs[0].Filename != "a.png" || inputs[1].Filename != "b.jpg" {
		t.Fatalf("order = %s, %s", inputs[0].Filename, inputs[1].Filename)
	}

	// unchanged files are not ingested again
	res, _ = w.Scan(context.Background())
	if res.Queued != 0 {
		t.Fatalf("rescan queued %d", res.Queued)
	}
	if _, plans := q.snapshot(); plans != 1 {
		t.Fatal("an empty batch must not plan")
	}
}

func TestRunPicksUpNewFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	q := newFakeQueue()
	w := NewWatcher(dir, NewIngester(q, "http://media"), q, WithDebounce(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		// rewrite until the watcher is up and has seen it
		writeFile(t, dir, "new.jpg", jpegHead)
		time.Sleep(50 * time.Millisecond)
		if inputs, _ := q.snapshot(); len(inputs) == 1 {
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("Run error: %v", err)
			}
			return
		}
	}
	cancel()
	<-done
	t.Fatal("watcher did not queue the new file")
}
