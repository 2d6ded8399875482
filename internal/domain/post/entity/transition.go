package entity

import (
	"fmt"
	"time"
)

// Transition is a lifecycle command applied to a post.
// The set is closed: Schedule, MarkPublishing, MarkPublished and MarkError.
type Transition interface {
	// Name is used in logs and errors
	Name() string
	apply(p *Post, now time.Time) error
}

// Apply validates the transition against the post's current state and applies it
func Apply(p *Post, t Transition, now time.Time) error {
	if err := t.apply(p, now); err != nil {
		return err
	}
	p.UpdatedAt = now
	return nil
}

// Schedule assigns a publish time. Allowed from queued, and from scheduled as a reschedule.
type Schedule struct {
	At time.Time
}

func (Schedule) Name() string { return "schedule" }

func (t Schedule) apply(p *Post, _ time.Time) error {
	if t.At.IsZero() {
		return ErrInvalidScheduledAt
	}
	if p.Status != StatusQueued && p.Status != StatusScheduled {
		return invalidTransition(p, t)
	}
	p.Status = StatusScheduled
	p.ScheduledAt = t.At
	return nil
}

// MarkPublishing claims a scheduled post for the publish orchestrator
type MarkPublishing struct{}

func (MarkPublishing) Name() string { return "mark_publishing" }

func (t MarkPublishing) apply(p *Post, _ time.Time) error {
	if p.Status != StatusScheduled {
		return invalidTransition(p, t)
	}
	p.Status = StatusPublishing
	return nil
}

// MarkPublished finishes a publishing post successfully
type MarkPublished struct {
	RemoteMediaID string
	At            time.Time
	Results       []PlatformResult
}

func (MarkPublished) Name() string { return "mark_published" }

func (t MarkPublished) apply(p *Post, now time.Time) error {
	if p.Status != StatusPublishing {
		return invalidTransition(p, t)
	}
	if t.RemoteMediaID == "" {
		return fmt.Errorf("%w: remote media id is required", ErrValidation)
	}
	at := t.At
	if at.IsZero() {
		at = now
	}
	p.Status = StatusPublished
	p.RemoteMediaID = t.RemoteMediaID
	p.PublishedAt = &at
	p.ErrorMessage = ""
	p.Results = append([]PlatformResult(nil), t.Results...)
	return nil
}

// MarkError finishes a publishing post with a failure
type MarkError struct {
	Message string
	Results []PlatformResult
}

func (MarkError) Name() string { return "mark_error" }

func (t MarkError) apply(p *Post, _ time.Time) error {
	if p.Status != StatusPublishing {
		return invalidTransition(p, t)
	}
	msg := t.Message
	if msg == "" {
		msg = "unknown error"
	}
	p.Status = StatusError
	p.ErrorMessage = msg
	p.PublishedAt = nil
	p.Results = append([]PlatformResult(nil), t.Results...)
	return nil
}

func invalidTransition(p *Post, t Transition) error {
	return fmt.Errorf("%w: %s not allowed from %s", ErrInvalidTransition, t.Name(), p.Status)
}
