package entity

import (
	"fmt"
	"strings"
	"time"

	post "github.com/vadim/neo-autopost/internal/domain/post/entity"
)

// Status represents the state of a caption draft
type Status string

const (
	StatusAvailable Status = "available"
	StatusReserved  Status = "reserved" // attached to a pending post
	StatusUsed      Status = "used"     // the post went live
)

// Draft is a prepared caption, optionally bound to one media filename
type Draft struct {
	ID        string     `json:"id"`
	Filename  string     `json:"filename,omitempty"`
	Caption   string     `json:"caption"`
	Hashtags  []string   `json:"hashtags,omitempty"`
	Status    Status     `json:"status"`
	PostID    string     `json:"post_id,omitempty"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Domain errors for drafts
var (
	ErrDraftNotFound   = fmt.Errorf("%w: draft not found", post.ErrNotFound)
	ErrEmptyCaption    = fmt.Errorf("%w: draft caption cannot be empty", post.ErrValidation)
	ErrCaptionTooLong  = fmt.Errorf("%w: draft caption exceeds maximum length", post.ErrValidation)
	ErrTooManyHashtags = fmt.Errorf("%w: too many hashtags in draft", post.ErrValidation)
	ErrDraftConsumed   = fmt.Errorf("%w: draft was already used", post.ErrConflict)
	ErrDraftInUse      = fmt.Errorf("%w: draft is reserved by a pending post", post.ErrConflict)
)

// MaxCaptionLength is the platform caption limit, hashtags included
const MaxCaptionLength = 2200

// MaxHashtags is the Instagram per-post hashtag limit
const MaxHashtags = 30

// Text renders the caption followed by its hashtags
func (d *Draft) Text() string {
	if len(d.Hashtags) == 0 {
		return d.Caption
	}
	return d.Caption + "\n\n" + FormatHashtags(d.Hashtags)
}

// Validate validates draft fields
func (d *Draft) Validate() error {
	if strings.TrimSpace(d.Caption) == "" {
		return ErrEmptyCaption
	}
	if len(d.Hashtags) > MaxHashtags {
		return ErrTooManyHashtags
	}
	if len([]rune(d.Text())) > MaxCaptionLength {
		return ErrCaptionTooLong
	}
	return nil
}

// Clone returns a deep copy
func (d *Draft) Clone() *Draft {
	out := *d
	out.Hashtags = append([]string(nil), d.Hashtags...)
	if d.UsedAt != nil {
		t := *d.UsedAt
		out.UsedAt = &t
	}
	return &out
}

// NormalizeHashtags trims, strips leading '#', lowercases and dedupes tags
func NormalizeHashtags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimLeft(strings.TrimSpace(t), "#"))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// FormatHashtags joins tags as "#a #b"
func FormatHashtags(tags []string) string {
	parts := make([]string, 0, len(tags))
	for _, t := range tags {
		parts = append(parts, "#"+t)
	}
	return strings.Join(parts, " ")
}
