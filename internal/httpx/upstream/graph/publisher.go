package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vadim/neo-autopost/internal/domain/post/entity"
	"github.com/vadim/neo-autopost/internal/httpx/upstream/retry"
)

// Step names one stage of the publishing protocol
type Step string

const (
	StepCreate     Step = "create"
	StepAwaitReady Step = "await_ready"
	StepFinalize   Step = "finalize"
)

// API is the container protocol a Publisher drives. Client and Mock implement it.
type API interface {
	CreateContainer(ctx context.Context, in CreateContainerInput) (string, error)
	ContainerStatus(ctx context.Context, containerID, accessToken string) (*ContainerStatusOutput, error)
	PublishContainer(ctx context.Context, userID, accessToken, containerID string) (string, error)
}

// Policies holds the retry policy of each protocol step
type Policies struct {
	Create     retry.Policy
	AwaitReady retry.Policy
	Finalize   retry.Policy
}

// DefaultPolicies returns the production retry budgets
func DefaultPolicies() Policies {
	return Policies{
		Create:     retry.Policy{MaxAttempts: 3, Backoff: retry.Exponential{Base: 2 * time.Second, Max: 30 * time.Second}},
		AwaitReady: retry.Policy{MaxAttempts: 30, Backoff: retry.Constant(5 * time.Second)},
		Finalize:   retry.Policy{MaxAttempts: 3, Backoff: retry.Exponential{Base: 2 * time.Second, Max: 30 * time.Second}},
	}
}

// AttemptObserver is notified about every failed attempt of a step
type AttemptObserver func(platform entity.Platform, step Step, attempt int, err error)

// Publisher runs the three-step publishing workflow against one platform
type Publisher struct {
	api         API
	platform    entity.Platform
	policies    Policies
	stepTimeout time.Duration
	logger      *slog.Logger
	observer    AttemptObserver
}

// PublisherOption configures a Publisher
type PublisherOption func(*Publisher)

// WithPolicies overrides the per-step retry policies
func WithPolicies(p Policies) PublisherOption {
	return func(pub *Publisher) {
		pub.policies = p
	}
}

// WithStepTimeout bounds every single remote call of a step
func WithStepTimeout(d time.Duration) PublisherOption {
	return func(pub *Publisher) {
		pub.stepTimeout = d
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) PublisherOption {
	return func(pub *Publisher) {
		if l != nil {
			pub.logger = l
		}
	}
}

// WithAttemptObserver registers a hook for failed attempts
func WithAttemptObserver(o AttemptObserver) PublisherOption {
	return func(pub *Publisher) {
		pub.observer = o
	}
}

// NewPublisher creates a new publisher for platform on top of api
func NewPublisher(platform entity.Platform, api API, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		api:         api,
		platform:    platform,
		policies:    DefaultPolicies(),
		stepTimeout: 30 * time.Second,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// PublishInput represents input for publishing one post to one account
type PublishInput struct {
	PostID      string
	UserID      string
	AccessToken string
	MediaURL    string
	MediaType   entity.MediaType
	Caption     string
}

// Platform returns the platform this publisher targets
func (p *Publisher) Platform() entity.Platform {
	return p.platform
}

// Publish runs create, await-ready and finalize and returns the remote media id.
// Every failure wraps entity.ErrRemoteTerminal.
func (p *Publisher) Publish(ctx context.Context, in PublishInput) (string, error) {
	handle, err := p.Create(ctx, in)
	if err != nil {
		return "", err
	}
	if err := p.AwaitReady(ctx, in, handle); err != nil {
		return "", err
	}
	return p.Finalize(ctx, in, handle)
}

// Create submits the media and returns the processing handle
func (p *Publisher) Create(ctx context.Context, in PublishInput) (string, error) {
	var handle string
	err := p.run(ctx, StepCreate, in.PostID, func(ctx context.Context) error {
		id, err := p.api.CreateContainer(ctx, CreateContainerInput{
			UserID:      in.UserID,
			AccessToken: in.AccessToken,
			MediaURL:    in.MediaURL,
			MediaType:   in.MediaType,
			Caption:     in.Caption,
		})
		if err != nil {
			return err
		}
		handle = id
		return nil
	})
	if err != nil {
		return "", err
	}
	return handle, nil
}

// AwaitReady polls the handle until the platform finished processing it.
// An ERROR or EXPIRED container aborts without spending the remaining budget.
func (p *Publisher) AwaitReady(ctx context.Context, in PublishInput, handle string) error {
	return p.run(ctx, StepAwaitReady, in.PostID, func(ctx context.Context) error {
		status, err := p.api.ContainerStatus(ctx, handle, in.AccessToken)
		if err != nil {
			return err
		}

		switch status.Status {
		case ContainerStatusFinished, ContainerStatusPublished:
			return nil
		case ContainerStatusError, ContainerStatusExpired:
			msg := status.ErrorMessage
			if msg == "" {
				msg = "no details"
			}
			return retry.Permanent(fmt.Errorf("container %s is %s: %s", handle, status.Status, msg))
		default:
			return entity.ErrContainerNotReady
		}
	})
}

// Finalize converts a ready handle into the permanent media id
func (p *Publisher) Finalize(ctx context.Context, in PublishInput, handle string) (string, error) {
	var mediaID string
	err := p.run(ctx, StepFinalize, in.PostID, func(ctx context.Context) error {
		id, err := p.api.PublishContainer(ctx, in.UserID, in.AccessToken, handle)
		if err != nil {
			return err
		}
		mediaID = id
		return nil
	})
	if err != nil {
		return "", err
	}
	return mediaID, nil
}

// run applies the step's policy to call. Non-transient errors stop the step immediately.
func (p *Publisher) run(ctx context.Context, step Step, postID string, call func(ctx context.Context) error) error {
	policy := p.policy(step)

	err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		callCtx := ctx
		if p.stepTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, p.stepTimeout)
			defer cancel()
		}

		err := call(callCtx)
		if err == nil || retry.IsPermanent(err) {
			return err
		}
		if !IsTransient(err) {
			return retry.Permanent(err)
		}
		return fmt.Errorf("%w: %w", entity.ErrRemoteTransient, err)
	}, func(attempt int, err error, next time.Duration) {
		p.logger.Warn("remote step attempt failed",
			"post_id", postID,
			"platform", p.platform,
			"step", step,
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"retry_in", next,
			"error", err,
		)
		if p.observer != nil {
			p.observer(p.platform, step, attempt, err)
		}
	})
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", entity.ErrRemoteTerminal, p.platform, step, err)
	}

	p.logger.Debug("remote step finished", "post_id", postID, "platform", p.platform, "step", step)
	return nil
}

func (p *Publisher) policy(step Step) retry.Policy {
	switch step {
	case StepCreate:
		return p.policies.Create
	case StepAwaitReady:
		return p.policies.AwaitReady
	default:
		return p.policies.Finalize
	}
}
