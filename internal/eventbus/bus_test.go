package eventbus

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vadim/neo-autopost/internal/metrics"
)

func TestPublishFiltersByType(t *testing.T) {
	b := New()
	published, unsub := b.Subscribe(4, TypePostPublished)
	defer unsub()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()

	b.Publish(Event{Type: TypePostDeleted, Data: PostEvent{PostID: "a"}})
	b.Publish(Event{Type: TypePostPublished, Data: PostEvent{PostID: "b"}})

	if len(published) != 1 {
		t.Fatalf("filtered subscriber got %d events, want 1", len(published))
	}
	e := <-published
	if e.Data.(PostEvent).PostID != "b" || e.Time.IsZero() {
		t.Fatalf("unexpected event %+v", e)
	}
	if len(all) != 2 {
		t.Fatalf("unfiltered subscriber got %d events, want 2", len(all))
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: TypePostPublished})
	b.Publish(Event{Type: TypePostPublished})

	if len(ch) != 1 {
		t.Fatalf("buffered %d events, want 1", len(ch))
	}
	if b.Dropped() != 1 {
		t.Fatalf("Dropped = %d, want 1", b.Dropped())
	}
}

func TestDroppedEventIsLoggedAndCounted(t *testing.T) {
	var buf bytes.Buffer
	b := New(WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	ch, unsub := b.Subscribe(1, TypePostFailed)
	defer unsub()

	before := testutil.ToFloat64(metrics.EventsDroppedTotal.WithLabelValues(TypePostFailed))
	b.Publish(Event{Type: TypePostFailed})
	b.Publish(Event{Type: TypePostFailed})

	if len(ch) != 1 {
		t.Fatalf("buffered %d events, want 1", len(ch))
	}
	if got := testutil.ToFloat64(metrics.EventsDroppedTotal.WithLabelValues(TypePostFailed)) - before; got != 1 {
		t.Fatalf("dropped counter delta = %v, want 1", got)
	}
	if !strings.Contains(buf.String(), "event dropped") || !strings.Contains(buf.String(), TypePostFailed) {
		t.Fatalf("drop not logged with its type: %q", buf.String())
	}
}

func TestDeliveryTimeoutWaitsForSlowSubscriber(t *testing.T) {
	b := New(WithDeliveryTimeout(time.Second))
	ch, unsub := b.Subscribe(1, TypePostPublished)
	defer unsub()

	got := make(chan string, 2)
	go func() {
		for e := range ch {
			time.Sleep(20 * time.Millisecond)
			got <- e.Data.(PostEvent).PostID
		}
	}()

	for _, id := range []string{"a", "b", "c"} {
		b.Publish(Event{Type: TypePostPublished, Data: PostEvent{PostID: id}})
	}

	for _, want := range []string{"a", "b", "c"} {
		select {
		case id := <-got:
			if id != want {
				t.Fatalf("got %s, want %s", id, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("event %s never delivered", want)
		}
	}
	if b.Dropped() != 0 {
		t.Fatalf("Dropped = %d, want 0", b.Dropped())
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	if _, ok := <-ch; ok {
		t.Fatal("channel still open after unsubscribe")
	}
	// must not panic
	b.Publish(Event{Type: TypePostPublished})
}
