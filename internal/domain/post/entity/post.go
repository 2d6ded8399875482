package entity

import (
	"sort"
	"time"
)

// Status represents the lifecycle state of a post
type Status string

const (
	StatusQueued     Status = "queued"
	StatusScheduled  Status = "scheduled"
	StatusPublishing Status = "publishing"
	StatusPublished  Status = "published"
	StatusError      Status = "error"
)

// Statuses lists every status in lifecycle order
var Statuses = []Status{StatusQueued, StatusScheduled, StatusPublishing, StatusPublished, StatusError}

// ParseStatus parses a string into a Status
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", ErrInvalidStatus
}

// IsPending reports whether the post still waits to be published
func (s Status) IsPending() bool {
	return s == StatusQueued || s == StatusScheduled || s == StatusPublishing
}

// MediaType represents the type of media file
type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

// Platform identifies a remote social-feed platform
type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformThreads   Platform = "threads"
)

// PlatformTarget is one platform a post is published to, with its credentials
type PlatformTarget struct {
	Platform    Platform `json:"platform"`
	UserID      string   `json:"user_id"`
	AccessToken string   `json:"-"`
	Enabled     bool     `json:"enabled"`
}

// PlatformResult records the outcome of publishing a post to one platform
type PlatformResult struct {
	Platform      Platform  `json:"platform"`
	RemoteMediaID string    `json:"remote_media_id,omitempty"`
	Error         string    `json:"error,omitempty"`
	At            time.Time `json:"at"`
}

// Succeeded reports whether the platform attempt produced a remote media id
func (r PlatformResult) Succeeded() bool {
	return r.Error == "" && r.RemoteMediaID != ""
}

// MaxReposts bounds how many recycle children a root post may ever get
const MaxReposts = 3

// RepostCooldown is the minimum time since the last publish in a chain before an auto repost
const RepostCooldown = 60 * 24 * time.Hour

// Post is a unit of content moving through the publishing pipeline.
// Fields are only changed by the store through Transition values.
type Post struct {
	ID              string           `json:"id"`
	Filename        string           `json:"filename"`
	MediaRef        string           `json:"media_ref"`
	MediaType       MediaType        `json:"media_type"`
	Caption         string           `json:"caption"`
	DraftID         string           `json:"draft_id,omitempty"`
	Status          Status           `json:"status"`
	ScheduledAt     time.Time        `json:"scheduled_at"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	PublishedAt     *time.Time       `json:"published_at,omitempty"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	RemoteMediaID   string           `json:"remote_media_id,omitempty"`
	IsRepost        bool             `json:"is_repost"`
	OriginalPostID  string           `json:"original_post_id,omitempty"`
	RepostCount     int              `json:"repost_count"`
	PlatformTargets []PlatformTarget `json:"platform_targets"`
	Results         []PlatformResult `json:"results,omitempty"`
}

// RootID returns the id of the chain root this post belongs to
func (p *Post) RootID() string {
	if p.IsRepost {
		return p.OriginalPostID
	}
	return p.ID
}

// IsDeletable returns true if the post can be removed from the store
func (p *Post) IsDeletable() bool {
	switch p.Status {
	case StatusQueued, StatusScheduled, StatusError:
		return true
	}
	return false
}

// EnabledTargets returns enabled targets ordered by platform name
func (p *Post) EnabledTargets() []PlatformTarget {
	out := make([]PlatformTarget, 0, len(p.PlatformTargets))
	for _, t := range p.PlatformTargets {
		if t.Enabled {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out
}

// Clone returns a deep copy of the post
func (p *Post) Clone() *Post {
	c := *p
	if p.PublishedAt != nil {
		t := *p.PublishedAt
		c.PublishedAt = &t
	}
	c.PlatformTargets = append([]PlatformTarget(nil), p.PlatformTargets...)
	c.Results = append([]PlatformResult(nil), p.Results...)
	return &c
}
