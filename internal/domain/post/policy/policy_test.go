package policy

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vadim/neo-autopost/internal/domain/post/dao"
	"github.com/vadim/neo-autopost/internal/domain/post/entity"
	"github.com/vadim/neo-autopost/internal/domain/post/planner"
	"github.com/vadim/neo-autopost/internal/eventbus"
	"github.com/vadim/neo-autopost/internal/httpx/upstream/graph"
	"github.com/vadim/neo-autopost/internal/httpx/upstream/retry"
)

var t0 = time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)

type stubPublisher struct {
	mu    sync.Mutex
	err   error
	panic bool
	delay time.Duration
	calls []string // post ids in call order
}

func (s *stubPublisher) Publish(ctx context.Context, in graph.PublishInput) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, in.PostID)
	s.mu.Unlock()
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.panic {
		panic("boom")
	}
	if s.err != nil {
		return "", s.err
	}
	return "media-" + in.PostID, nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (b *recordingBus) Publish(e eventbus.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) ofType(t string) []eventbus.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []eventbus.Event
	for _, e := range b.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type captionStub struct{}

func (captionStub) CaptionFor(filename string) (string, string) { return "cap", "draft-" + filename }

var bothTargets = []entity.PlatformTarget{
	{Platform: entity.PlatformThreads, UserID: "t", AccessToken: "tt", Enabled: true},
	{Platform: entity.PlatformInstagram, UserID: "i", AccessToken: "it", Enabled: true},
}

type fixture struct {
	store  *dao.PostMemory
	policy *Policy
	bus    *recordingBus
	now    time.Time
}

func newFixture(t *testing.T, targets []entity.PlatformTarget, publishers map[entity.Platform]Publisher) *fixture {
	t.Helper()
	f := &fixture{now: t0, bus: &recordingBus{}}
	clock := func() time.Time { return f.now }
	f.store = dao.NewPostMemory(
		dao.WithClock(clock),
		dao.WithDefaultTargets(targets),
		dao.WithCaptionProvider(captionStub{}),
	)
	pl := planner.New(f.store, nil, clock)
	f.policy = New(f.store, pl, publishers, f.bus, WithClock(clock))
	return f
}

// scheduled queues a file and schedules it offset from now
func (f *fixture) scheduled(t *testing.T, filename string, offset time.Duration) *entity.Post {
	t.Helper()
	ctx := context.Background()
	p, _, err := f.policy.QueueFile(ctx, QueueInput{Filename: filename, MediaRef: "https://cdn/" + filename})
	if err != nil {
		t.Fatalf("QueueFile error: %v", err)
	}
	p, err = f.store.Apply(ctx, p.ID, entity.Schedule{At: f.now.Add(offset)})
	if err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	return p
}

func TestOnePlatformFailingStillPublishes(t *testing.T) {
	t.Parallel()
	ig := &stubPublisher{}
	th := &stubPublisher{err: errors.New("threads down")}
	f := newFixture(t, bothTargets, map[entity.Platform]Publisher{
		entity.PlatformInstagram: ig,
		entity.PlatformThreads:   th,
	})
	post := f.scheduled(t, "a.jpg", 0)

	res, err := f.policy.ProcessReadyPosts(context.Background())
	if err != nil {
		t.Fatalf("ProcessReadyPosts error: %v", err)
	}
	if res.Published != 1 || res.Failed != 0 {
		t.Fatalf("result = %+v", res)
	}

	got, _ := f.store.Get(context.Background(), post.ID)
	if got.Status != entity.StatusPublished || got.RemoteMediaID != "media-"+post.ID || got.PublishedAt == nil {
		t.Fatalf("post = %+v", got)
	}
	if len(got.Results) != 2 || got.Results[0].Platform != entity.PlatformInstagram || got.Results[1].Error == "" {
		t.Fatalf("results = %+v", got.Results)
	}

	events := f.bus.ofType(eventbus.TypePostPublished)
	if len(events) != 1 {
		t.Fatalf("published events = %d, want 1", len(events))
	}
	if ev := events[0].Data.(eventbus.PostEvent); ev.DraftID != "draft-a.jpg" || ev.PostID != post.ID {
		t.Fatalf("event = %+v", ev)
	}
}

func TestAllPlatformsFailingMarksError(t *testing.T) {
	t.Parallel()
	f := newFixture(t, bothTargets, map[entity.Platform]Publisher{
		entity.PlatformInstagram: &stubPublisher{err: errors.New("ig down")},
		entity.PlatformThreads:   &stubPublisher{err: errors.New("threads down")},
	})
	post := f.scheduled(t, "a.jpg", 0)

	res, _ := f.policy.ProcessReadyPosts(context.Background())
	if res.Failed != 1 {
		t.Fatalf("result = %+v", res)
	}
	got, _ := f.store.Get(context.Background(), post.ID)
	if got.Status != entity.StatusError {
		t.Fatalf("status = %s", got.Status)
	}
	// threads is attempted last, so its failure is the most recent
	if !strings.Contains(got.ErrorMessage, "threads down") {
		t.Fatalf("error message = %q", got.ErrorMessage)
	}
	if got.PublishedAt != nil {
		t.Fatal("failed post must not have published_at")
	}
	if len(f.bus.ofType(eventbus.TypePostPublished)) != 0 {
		t.Fatal("failed post emitted a published event")
	}
}

func TestNoTargetsMarksError(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, map[entity.Platform]Publisher{})
	post := f.scheduled(t, "a.jpg", 0)

	f.policy.ProcessReadyPosts(context.Background())
	got, _ := f.store.Get(context.Background(), post.ID)
	if got.Status != entity.StatusError || !strings.Contains(got.ErrorMessage, "no enabled platform targets") {
		t.Fatalf("post = %+v", got)
	}
}

func TestUnknownPlatformCountsAsFailure(t *testing.T) {
	t.Parallel()
	ig := &stubPublisher{}
	f := newFixture(t, bothTargets, map[entity.Platform]Publisher{entity.PlatformInstagram: ig})
	post := f.scheduled(t, "a.jpg", 0)

	f.policy.ProcessReadyPosts(context.Background())
	got, _ := f.store.Get(context.Background(), post.ID)
	if got.Status != entity.StatusPublished {
		t.Fatalf("status = %s", got.Status)
	}
	if got.Results[1].Platform != entity.PlatformThreads || got.Results[1].Error == "" {
		t.Fatalf("results = %+v", got.Results)
	}
}

func TestPanicIsolatedToPost(t *testing.T) {
	t.Parallel()
	ig := &stubPublisher{panic: true}
	f := newFixture(t, bothTargets[1:], map[entity.Platform]Publisher{entity.PlatformInstagram: ig})
	first := f.scheduled(t, "a.jpg", -time.Minute)

	res, err := f.policy.ProcessReadyPosts(context.Background())
	if err != nil {
		t.Fatalf("ProcessReadyPosts error: %v", err)
	}
	if res.Failed != 1 {
		t.Fatalf("result = %+v", res)
	}
	got, _ := f.store.Get(context.Background(), first.ID)
	if got.Status != entity.StatusError || !strings.Contains(got.ErrorMessage, "panic") {
		t.Fatalf("post = %+v", got)
	}
}

func TestReadyPostsProcessedInScheduledOrder(t *testing.T) {
	t.Parallel()
	ig := &stubPublisher{}
	f := newFixture(t, bothTargets[1:], map[entity.Platform]Publisher{entity.PlatformInstagram: ig})
	late := f.scheduled(t, "late.jpg", -time.Minute)
	early := f.scheduled(t, "early.jpg", -time.Hour)
	future := f.scheduled(t, "future.jpg", time.Hour)

	res, _ := f.policy.ProcessReadyPosts(context.Background())
	if res.Ready != 2 {
		t.Fatalf("ready = %d, want 2", res.Ready)
	}
	if len(ig.calls) != 2 || ig.calls[0] != early.ID || ig.calls[1] != late.ID {
		t.Fatalf("calls = %v", ig.calls)
	}
	got, _ := f.store.Get(context.Background(), future.ID)
	if got.Status != entity.StatusScheduled {
		t.Fatalf("future post status = %s", got.Status)
	}
}

func TestOverlappingPassesPublishEachPostOnce(t *testing.T) {
	t.Parallel()
	ig := &stubPublisher{delay: 20 * time.Millisecond}
	f := newFixture(t, bothTargets[1:], map[entity.Platform]Publisher{entity.PlatformInstagram: ig})
	posts := []*entity.Post{
		f.scheduled(t, "a.jpg", -3*time.Minute),
		f.scheduled(t, "b.jpg", -2*time.Minute),
		f.scheduled(t, "c.jpg", -time.Minute),
	}

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.policy.ProcessReadyPosts(ctx)
		}()
		go func(id string) {
			defer wg.Done()
			// losing the claim race is a conflict, not a second publish
			if _, err := f.policy.PublishPost(ctx, id); err != nil && !errors.Is(err, entity.ErrConflict) {
				t.Errorf("PublishPost(%s) error: %v", id, err)
			}
		}(posts[i%len(posts)].ID)
	}
	wg.Wait()

	ig.mu.Lock()
	perPost := make(map[string]int)
	for _, id := range ig.calls {
		perPost[id]++
	}
	ig.mu.Unlock()

	for _, p := range posts {
		if perPost[p.ID] != 1 {
			t.Errorf("post %s published %d times, want 1", p.Filename, perPost[p.ID])
		}
		got, _ := f.store.Get(ctx, p.ID)
		if got.Status != entity.StatusPublished {
			t.Errorf("post %s status = %s, want published", p.Filename, got.Status)
		}
	}
	if n := len(f.bus.ofType(eventbus.TypePostPublished)); n != len(posts) {
		t.Errorf("published events = %d, want %d", n, len(posts))
	}
}

func TestAutorunOff(t *testing.T) {
	t.Parallel()
	ig := &stubPublisher{}
	f := newFixture(t, bothTargets[1:], map[entity.Platform]Publisher{entity.PlatformInstagram: ig})
	post := f.scheduled(t, "a.jpg", 0)

	f.policy.SetAutorun(false)
	res, _ := f.policy.ProcessReadyPosts(context.Background())
	if !res.Skipped || len(ig.calls) != 0 {
		t.Fatalf("pass ran with autorun off: %+v", res)
	}
	got, _ := f.store.Get(context.Background(), post.ID)
	if got.Status != entity.StatusScheduled {
		t.Fatalf("status = %s", got.Status)
	}

	f.policy.SetAutorun(true)
	select {
	case <-f.policy.Kicks():
	default:
		t.Fatal("enabling autorun did not kick the publish loop")
	}
}

func TestPublishPostRejectsUnscheduled(t *testing.T) {
	t.Parallel()
	f := newFixture(t, bothTargets[1:], map[entity.Platform]Publisher{entity.PlatformInstagram: &stubPublisher{}})
	p, _, _ := f.policy.QueueFile(context.Background(), QueueInput{Filename: "a.jpg", MediaRef: "x"})

	if _, err := f.policy.PublishPost(context.Background(), p.ID); !errors.Is(err, entity.ErrConflict) {
		t.Fatalf("error = %v, want conflict", err)
	}
}

func TestPostNow(t *testing.T) {
	t.Parallel()
	f := newFixture(t, bothTargets[1:], map[entity.Platform]Publisher{entity.PlatformInstagram: &stubPublisher{}})

	post, err := f.policy.PostNow(context.Background(), QueueInput{Filename: "a.jpg", MediaRef: "x"})
	if err != nil {
		t.Fatalf("PostNow error: %v", err)
	}
	if post.Status != entity.StatusScheduled || !post.ScheduledAt.Equal(f.now) {
		t.Fatalf("post = %+v", post)
	}
	select {
	case <-f.policy.Kicks():
	default:
		t.Fatal("PostNow did not kick")
	}

	// a second call reuses the pending post
	again, _ := f.policy.PostNow(context.Background(), QueueInput{Filename: "a.jpg", MediaRef: "x"})
	if again.ID != post.ID {
		t.Fatal("PostNow duplicated a pending post")
	}
}

func TestErrorPostRecoveredByPostNow(t *testing.T) {
	t.Parallel()
	ig := &stubPublisher{err: errors.New("down")}
	f := newFixture(t, bothTargets[1:], map[entity.Platform]Publisher{entity.PlatformInstagram: ig})
	failed := f.scheduled(t, "a.jpg", 0)
	f.policy.ProcessReadyPosts(context.Background())

	ig.err = nil
	retried, err := f.policy.PostNow(context.Background(), QueueInput{Filename: "a.jpg", MediaRef: "x"})
	if err != nil {
		t.Fatalf("PostNow error: %v", err)
	}
	if retried.ID == failed.ID {
		t.Fatal("failed post must not be reused")
	}
	f.policy.ProcessReadyPosts(context.Background())
	got, _ := f.store.Get(context.Background(), retried.ID)
	if got.Status != entity.StatusPublished {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestRescheduleBatchValidatesFirst(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil)
	a := f.scheduled(t, "a.jpg", time.Hour)

	_, err := f.policy.RescheduleBatch(context.Background(), []RescheduleItem{
		{ID: a.ID, At: t0.Add(5 * time.Hour)},
		{ID: "", At: t0},
	})
	if !errors.Is(err, entity.ErrValidation) {
		t.Fatalf("error = %v, want validation", err)
	}
	got, _ := f.store.Get(context.Background(), a.ID)
	if !got.ScheduledAt.Equal(a.ScheduledAt) {
		t.Fatal("invalid batch mutated a post")
	}

	results, err := f.policy.RescheduleBatch(context.Background(), []RescheduleItem{
		{ID: a.ID, At: t0.Add(5 * time.Hour)},
		{ID: "missing", At: t0},
	})
	if err != nil {
		t.Fatalf("RescheduleBatch error: %v", err)
	}
	if results[0].Post == nil || results[1].Error == "" {
		t.Fatalf("results = %+v", results)
	}
}

func TestDeletePost(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil)
	p := f.scheduled(t, "a.jpg", time.Hour)

	if _, err := f.policy.DeletePost(context.Background(), p.ID); err != nil {
		t.Fatalf("DeletePost error: %v", err)
	}
	if len(f.bus.ofType(eventbus.TypePostDeleted)) != 1 {
		t.Fatal("delete event not emitted")
	}
	if _, err := f.policy.DeletePost(context.Background(), p.ID); !errors.Is(err, entity.ErrNotFound) {
		t.Fatalf("second delete error = %v", err)
	}
}

func TestSetConfigNotifiesListener(t *testing.T) {
	t.Parallel()
	store := dao.NewPostMemory()
	var got []entity.ScheduleConfig
	p := New(store, planner.New(store, nil, nil), nil, nil, WithConfigListener(func(cfg entity.ScheduleConfig) {
		got = append(got, cfg)
	}))

	ctx := context.Background()
	if _, err := p.SetConfig(ctx, entity.ScheduleConfig{Mode: entity.ModeInterval, IntervalHours: 6, Timezone: "Mars/Olympus"}); err == nil {
		t.Fatal("expected an invalid timezone error")
	}
	if len(got) != 0 {
		t.Fatalf("listener called for a rejected config: %v", got)
	}

	if _, err := p.SetConfig(ctx, entity.ScheduleConfig{Mode: entity.ModeInterval, IntervalHours: 6, Timezone: "UTC"}); err != nil {
		t.Fatalf("SetConfig error: %v", err)
	}
	if len(got) != 1 || got[0].Timezone != "UTC" || got[0].IntervalHours != 6 {
		t.Fatalf("listener got %+v", got)
	}
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil)
	f.scheduled(t, "a.jpg", 2*time.Hour)
	f.scheduled(t, "b.jpg", time.Hour)
	f.policy.QueueFile(context.Background(), QueueInput{Filename: "c.jpg", MediaRef: "x"})
	f.policy.PlanNow(context.Background())

	snap := f.policy.Snapshot(context.Background(), 2)
	if snap.Counts.ScheduledCount != 3 || len(snap.Upcoming) != 2 || snap.LastPlanRun == nil || !snap.Autorun {
		t.Fatalf("snapshot = %+v", snap)
	}
	// c.jpg got the first interval slot (now), so it leads
	if snap.Upcoming[0].Filename != "c.jpg" {
		t.Fatalf("upcoming = %+v", snap.Upcoming)
	}
}

// scriptedAPI drives a real graph.Publisher from the orchestrator
type scriptedAPI struct {
	statuses []graph.ContainerStatus
	polls    int
}

func (s *scriptedAPI) CreateContainer(ctx context.Context, in graph.CreateContainerInput) (string, error) {
	return "c1", nil
}

func (s *scriptedAPI) ContainerStatus(ctx context.Context, id, token string) (*graph.ContainerStatusOutput, error) {
	st := s.statuses[s.polls]
	s.polls++
	return &graph.ContainerStatusOutput{ID: id, Status: st}, nil
}

func (s *scriptedAPI) PublishContainer(ctx context.Context, userID, token, id string) (string, error) {
	return "m1", nil
}

func TestAwaitReadyOutcomes(t *testing.T) {
	t.Parallel()
	fast := retry.Policy{MaxAttempts: 4, Backoff: retry.Constant(0)}
	policies := graph.Policies{Create: fast, AwaitReady: fast, Finalize: fast}

	tests := []struct {
		name      string
		statuses  []graph.ContainerStatus
		want      entity.Status
		wantPolls int
	}{
		{
			name:      "transient below bound",
			statuses:  []graph.ContainerStatus{graph.ContainerStatusInProgress, graph.ContainerStatusInProgress, graph.ContainerStatusFinished},
			want:      entity.StatusPublished,
			wantPolls: 3,
		},
		{
			name:      "terminal on first poll",
			statuses:  []graph.ContainerStatus{graph.ContainerStatusError},
			want:      entity.StatusError,
			wantPolls: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &scriptedAPI{statuses: tt.statuses}
			pub := graph.NewPublisher(entity.PlatformInstagram, api, graph.WithPolicies(policies))
			f := newFixture(t, bothTargets[1:], map[entity.Platform]Publisher{entity.PlatformInstagram: pub})
			post := f.scheduled(t, "a.jpg", 0)

			f.policy.ProcessReadyPosts(context.Background())
			got, _ := f.store.Get(context.Background(), post.ID)
			if got.Status != tt.want {
				t.Fatalf("status = %s, want %s (%s)", got.Status, tt.want, got.ErrorMessage)
			}
			if api.polls != tt.wantPolls {
				t.Fatalf("polls = %d, want %d", api.polls, tt.wantPolls)
			}
		})
	}
}
