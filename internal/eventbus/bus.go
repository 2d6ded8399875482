package eventbus

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vadim/neo-autopost/internal/metrics"
)

// Event types emitted by the publishing pipeline
const (
	TypePostPublished = "post.published"
	TypePostFailed    = "post.failed"
	TypePostDeleted   = "post.deleted"
	TypeRepostCreated = "repost.created"
)

// Event is an in-memory notification between components.
// A subscriber whose buffer stays full past the delivery timeout misses the event.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// PostEvent is the payload of every post.* event
type PostEvent struct {
	PostID   string    `json:"post_id"`
	RootID   string    `json:"root_id"`
	DraftID  string    `json:"draft_id,omitempty"`
	Filename string    `json:"filename"`
	MediaID  string    `json:"media_id,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
}

// Option configures a MemBus
type Option func(*MemBus)

// WithLogger sets the logger used to report dropped events
func WithLogger(l *slog.Logger) Option {
	return func(b *MemBus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithDeliveryTimeout makes Publish wait up to d for a full subscriber before dropping
func WithDeliveryTimeout(d time.Duration) Option {
	return func(b *MemBus) {
		b.timeout = d
	}
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New(opts ...Option) *MemBus {
	b := &MemBus{
		subs:   map[uint64]*subscriber{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type subscriber struct {
	id    uint64
	ch    chan Event
	types map[string]bool // nil means every type
}

func (s *subscriber) wants(t string) bool {
	return s.types == nil || s.types[t]
}

// MemBus is the default Bus implementation
type MemBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	seq     atomic.Uint64
	dropped atomic.Uint64
	timeout time.Duration
	logger  *slog.Logger
}

var _ Bus = (*MemBus)(nil)

func (b *MemBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(e.Type) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		if !b.deliver(s, e) {
			b.dropped.Add(1)
			metrics.EventsDroppedTotal.WithLabelValues(e.Type).Inc()
			b.logger.Warn("event dropped: subscriber buffer full",
				"type", e.Type,
				"subscriber", s.id,
				"buffer", cap(s.ch),
			)
		}
	}
}

// deliver reports whether e reached s. A closed channel counts as delivered.
func (b *MemBus) deliver(s *subscriber, e Event) (ok bool) {
	// the channel may be closed by a concurrent unsubscribe
	defer func() {
		if recover() != nil {
			ok = true
		}
	}()

	select {
	case s.ch <- e:
		return true
	default:
	}
	if b.timeout <= 0 {
		return false
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case s.ch <- e:
		return true
	case <-timer.C:
		return false
	}
}

// Subscribe registers a buffered subscriber. With no types it receives every event.
func (b *MemBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	id := b.seq.Add(1)
	s := &subscriber{id: id, ch: make(chan Event, buffer)}
	if len(types) > 0 {
		s.types = make(map[string]bool, len(types))
		for _, t := range types {
			s.types[t] = true
		}
	}

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, unsub
}

// Dropped returns how many deliveries were skipped because a subscriber was full
func (b *MemBus) Dropped() uint64 {
	return b.dropped.Load()
}
