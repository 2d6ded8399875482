package entity

import "time"

// StatusCounts holds the number of posts per status
type StatusCounts struct {
	QueuedCount     int `json:"queued_count"`
	ScheduledCount  int `json:"scheduled_count"`
	PublishingCount int `json:"publishing_count"`
	PublishedCount  int `json:"published_count"`
	ErrorCount      int `json:"error_count"`
}

// Add increments the counter for status s
func (c *StatusCounts) Add(s Status) {
	switch s {
	case StatusQueued:
		c.QueuedCount++
	case StatusScheduled:
		c.ScheduledCount++
	case StatusPublishing:
		c.PublishingCount++
	case StatusPublished:
		c.PublishedCount++
	case StatusError:
		c.ErrorCount++
	}
}

// UpcomingPost is a short view of a scheduled post
type UpcomingPost struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ScheduledAt time.Time `json:"scheduled_at"`
	IsRepost    bool      `json:"is_repost"`
}

// Snapshot is the status overview exposed to the administrative layer
type Snapshot struct {
	Counts      StatusCounts   `json:"counts"`
	Upcoming    []UpcomingPost `json:"upcoming"`
	LastPlanRun *time.Time     `json:"last_plan_run,omitempty"`
	Autorun     bool           `json:"autorun"`
}
