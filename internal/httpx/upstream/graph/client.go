package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/vadim/neo-autopost/internal/domain/post/entity"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultRateLimit = 5 // requests per second
)

// Product describes the endpoints of one Graph-style publishing API
type Product struct {
	Platform    entity.Platform
	BaseURL     string
	APIVersion  string
	CreatePath  string
	PublishPath string
	StatusField string
	CaptionKey  string
}

// Instagram is the Instagram Graph API content publishing product
var Instagram = Product{
	Platform:    entity.PlatformInstagram,
	BaseURL:     "https://graph.instagram.com",
	APIVersion:  "v21.0",
	CreatePath:  "media",
	PublishPath: "media_publish",
	StatusField: "status_code",
	CaptionKey:  "caption",
}

// Threads is the Threads API publishing product
var Threads = Product{
	Platform:    entity.PlatformThreads,
	BaseURL:     "https://graph.threads.net",
	APIVersion:  "v1.0",
	CreatePath:  "threads",
	PublishPath: "threads_publish",
	StatusField: "status",
	CaptionKey:  "text",
}

// Client is a Graph API client for the container based publishing flow
type Client struct {
	product    Product
	httpClient *http.Client
	limiter    *rate.Limiter
}

// ClientOption is a function that configures the Client
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		if url != "" {
			c.product.BaseURL = url
		}
	}
}

// WithAPIVersion sets the API version
func WithAPIVersion(version string) ClientOption {
	return func(c *Client) {
		if version != "" {
			c.product.APIVersion = version
		}
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithRateLimit caps outgoing requests. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// New creates a new Graph API client for product
func New(product Product, opts ...ClientOption) *Client {
	c := &Client{
		product: product,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(defaultRateLimit), defaultRateLimit),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Platform returns the platform this client publishes to
func (c *Client) Platform() entity.Platform {
	return c.product.Platform
}

// APIError represents an error from the Graph API
type APIError struct {
	StatusCode   int    `json:"-"`
	Message      string `json:"message"`
	Type         string `json:"type"`
	Code         int    `json:"code"`
	ErrorSubcode int    `json:"error_subcode"`
	IsTransient  bool   `json:"is_transient"`
	FBTraceID    string `json:"fbtrace_id"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph API error: %s (status: %d, code: %d, subcode: %d)", e.Message, e.StatusCode, e.Code, e.ErrorSubcode)
}

// Temporary reports whether repeating the same request may succeed
func (e *APIError) Temporary() bool {
	if e.IsTransient || e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	switch e.Code {
	case 1, 2, 4, 17, 32, 613: // unknown, service, app/user/page rate limits
		return true
	}
	return false
}

// ErrorResponse represents an error response from the API
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// IsTransient reports whether err is worth retrying: rate limits, 5xx, timeouts and network failures
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, entity.ErrRemoteTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// ContainerStatus represents the processing state of a media container
type ContainerStatus string

const (
	ContainerStatusExpired    ContainerStatus = "EXPIRED"
	ContainerStatusError      ContainerStatus = "ERROR"
	ContainerStatusFinished   ContainerStatus = "FINISHED"
	ContainerStatusInProgress ContainerStatus = "IN_PROGRESS"
	ContainerStatusPublished  ContainerStatus = "PUBLISHED"
)

// CreateContainerInput represents input for creating a media container
type CreateContainerInput struct {
	UserID      string
	AccessToken string
	MediaURL    string
	MediaType   entity.MediaType
	Caption     string
}

type idOutput struct {
	ID string `json:"id"`
}

// CreateContainer creates a media container and returns its id.
// Step 1 of the publishing process.
func (c *Client) CreateContainer(ctx context.Context, in CreateContainerInput) (string, error) {
	params := url.Values{}
	params.Set("access_token", in.AccessToken)

	switch c.product.Platform {
	case entity.PlatformThreads:
		if in.MediaType == entity.MediaTypeVideo {
			params.Set("media_type", "VIDEO")
			params.Set("video_url", in.MediaURL)
		} else {
			params.Set("media_type", "IMAGE")
			params.Set("image_url", in.MediaURL)
		}
	default:
		if in.MediaType == entity.MediaTypeVideo {
			params.Set("media_type", "REELS")
			params.Set("video_url", in.MediaURL)
		} else {
			params.Set("image_url", in.MediaURL)
		}
	}

	if in.Caption != "" {
		params.Set(c.product.CaptionKey, in.Caption)
	}

	var out idOutput
	if err := c.call(ctx, http.MethodPost, c.endpoint(in.UserID, c.product.CreatePath), params, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("graph API returned an empty container id")
	}
	return out.ID, nil
}

// ContainerStatusOutput represents output from checking container status
type ContainerStatusOutput struct {
	ID           string          `json:"id"`
	Status       ContainerStatus `json:"-"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// ContainerStatus checks the processing status of a media container.
// Step 2 of the publishing process.
func (c *Client) ContainerStatus(ctx context.Context, containerID, accessToken string) (*ContainerStatusOutput, error) {
	params := url.Values{}
	params.Set("access_token", accessToken)
	params.Set("fields", c.product.StatusField+",error_message")

	var raw map[string]any
	if err := c.call(ctx, http.MethodGet, c.endpoint(containerID), params, &raw); err != nil {
		return nil, err
	}

	out := &ContainerStatusOutput{ID: containerID}
	if v, ok := raw[c.product.StatusField].(string); ok {
		out.Status = ContainerStatus(v)
	}
	if v, ok := raw["error_message"].(string); ok {
		out.ErrorMessage = v
	}
	return out, nil
}

// PublishContainer publishes a ready container and returns the permanent media id.
// Step 3 of the publishing process.
func (c *Client) PublishContainer(ctx context.Context, userID, accessToken, containerID string) (string, error) {
	params := url.Values{}
	params.Set("access_token", accessToken)
	params.Set("creation_id", containerID)

	var out idOutput
	if err := c.call(ctx, http.MethodPost, c.endpoint(userID, c.product.PublishPath), params, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("graph API returned an empty media id")
	}
	return out.ID, nil
}

func (c *Client) endpoint(parts ...string) string {
	u := c.product.BaseURL + "/" + c.product.APIVersion
	for _, p := range parts {
		u += "/" + url.PathEscape(p)
	}
	return u
}

func (c *Client) call(ctx context.Context, method, endpoint string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		var ue *url.Error
		if errors.As(err, &ue) {
			ue.URL = redactURL(ue.URL)
		}
		return fmt.Errorf("creating request: %w", err)
	}
	return c.do(req, out)
}

// redactURL drops the query string, which carries the access token
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<redacted>"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// do executes an HTTP request and decodes the response
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		var ue *url.Error
		if errors.As(err, &ue) {
			ue.URL = redactURL(ue.URL)
		}
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
			return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
		}
		errResp.Error.StatusCode = resp.StatusCode
		return &errResp.Error
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
