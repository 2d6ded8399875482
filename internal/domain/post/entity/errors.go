package entity

import (
	"errors"
	"fmt"
)

// Error classes. Every domain error wraps exactly one of them.
var (
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrRemoteTransient = errors.New("remote transient error")
	ErrRemoteTerminal  = errors.New("remote terminal error")
	ErrInternal        = errors.New("internal error")
)

// Domain errors for posts
var (
	// Validation errors
	ErrEmptyFilename      = fmt.Errorf("%w: filename is required", ErrValidation)
	ErrEmptyMediaRef      = fmt.Errorf("%w: media reference is required", ErrValidation)
	ErrInvalidStatus      = fmt.Errorf("%w: invalid post status", ErrValidation)
	ErrInvalidMediaType   = fmt.Errorf("%w: unsupported media type", ErrValidation)
	ErrInvalidScheduledAt = fmt.Errorf("%w: scheduled time is required", ErrValidation)
	ErrCaptionTooLong     = fmt.Errorf("%w: caption exceeds maximum length of 2200 characters", ErrValidation)
	ErrInvalidMode        = fmt.Errorf("%w: invalid schedule mode", ErrValidation)
	ErrInvalidWeekday     = fmt.Errorf("%w: weekday must be between 0 and 6", ErrValidation)
	ErrInvalidTimeOfDay   = fmt.Errorf("%w: time must be HH:MM", ErrValidation)
	ErrInvalidTimezone    = fmt.Errorf("%w: unknown timezone", ErrValidation)

	// Lookup errors
	ErrPostNotFound = fmt.Errorf("%w: post not found", ErrNotFound)

	// Business logic errors
	ErrInvalidTransition = fmt.Errorf("%w: invalid status transition", ErrConflict)
	ErrPostNotDeletable  = fmt.Errorf("%w: post cannot be deleted in current status", ErrConflict)
	ErrRootNotPublished  = fmt.Errorf("%w: root post is not published", ErrConflict)
	ErrRepostPending     = fmt.Errorf("%w: a repost is already pending for this post", ErrConflict)
	ErrRepostLimit       = fmt.Errorf("%w: repost limit reached", ErrConflict)
	ErrRepostCooldown    = fmt.Errorf("%w: repost cooldown has not elapsed", ErrConflict)

	// Remote platform errors
	ErrNoTargets         = fmt.Errorf("%w: no enabled platform targets", ErrRemoteTerminal)
	ErrContainerNotReady = fmt.Errorf("%w: media container is not ready for publishing", ErrRemoteTransient)
	ErrUnknownPlatform   = fmt.Errorf("%w: no client configured for platform", ErrRemoteTerminal)
)
