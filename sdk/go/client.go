package kipdesksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultCacheTTL = 5 * time.Second
)

// Client is a minimal kipdesk HTTP API client acting as one user.
type Client struct {
	BaseURL    string
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
	// CacheTTL bounds how long notification counts are reused. Zero uses
	// the default; negative disables caching.
	CacheTTL time.Duration

	polls   singleflight.Group
	mu      sync.Mutex
	counts  NotificationCounts
	fetched time.Time
}

// New creates a client with sane defaults.
func New(baseURL, actorID string) *Client {
	return &Client{
		BaseURL: baseURL,
		ActorID: actorID,
		Timeout: defaultTimeout,
	}
}

// Case is a request or objection.
type Case struct {
	ID                   int64      `json:"id"`
	Kind                 string     `json:"kind"`
	RequesterID          string     `json:"requester_id"`
	Status               string     `json:"status"`
	AssignedCaseWorkerID *string    `json:"assigned_case_worker_id,omitempty"`
	Information          string     `json:"information,omitempty"`
	Purpose              string     `json:"purpose,omitempty"`
	DeliveryMethod       string     `json:"delivery_method,omitempty"`
	ParentRequestID      *int64     `json:"parent_request_id,omitempty"`
	Reason               string     `json:"reason,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	EvidenceDueAt        *time.Time `json:"evidence_due_at,omitempty"`
}

// CaseView is a case with the actions open to the caller.
type CaseView struct {
	Case           Case     `json:"case"`
	Visibility     string   `json:"visibility"`
	AllowedTargets []string `json:"allowed_targets"`
	CanPost        bool     `json:"can_post"`
}

// Message is one entry of a case thread.
type Message struct {
	ID         int64     `json:"id"`
	CaseID     int64     `json:"case_id"`
	AuthorID   string    `json:"author_id"`
	AuthorRole string    `json:"author_role"`
	Body       string    `json:"body"`
	Kind       string    `json:"kind"`
	CreatedAt  time.Time `json:"created_at"`
}

// Eligibility is the escalation verdict for a request.
type Eligibility struct {
	Eligible           bool   `json:"eligible"`
	ElapsedWorkingDays int    `json:"elapsed_working_days"`
	Threshold          int    `json:"threshold"`
	DaysRemaining      int    `json:"days_remaining"`
	Resolved           bool   `json:"resolved"`
	ActiveObjectionID  *int64 `json:"active_objection_id,omitempty"`
}

// NotificationCounts is the number of cases awaiting the user.
type NotificationCounts struct {
	RequestsPending   int `json:"requests_pending"`
	ObjectionsPending int `json:"objections_pending"`
}

// AttentionItem is a case behind the notification counts.
type AttentionItem struct {
	Case         Case   `json:"case"`
	ThreadState  string `json:"thread_state"`
	MessageCount int    `json:"message_count"`
}

// Inbox combines the counts and the cases behind them.
type Inbox struct {
	Counts NotificationCounts
	Items  []AttentionItem
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsCode reports whether err is an APIError with the given code, for
// example "already_assigned" or "not_eligible".
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// CreateRequest files an information request.
func (c *Client) CreateRequest(ctx context.Context, information, purpose, deliveryMethod string) (Case, error) {
	body := map[string]any{
		"information": information,
		"purpose":     purpose,
	}
	if deliveryMethod != "" {
		body["delivery_method"] = deliveryMethod
	}
	var resp Case
	err := c.write(ctx, http.MethodPost, "requests", body, &resp)
	return resp, err
}

// ListRequests returns visible requests, optionally filtered by status.
func (c *Client) ListRequests(ctx context.Context, status string) ([]Case, error) {
	return c.listCases(ctx, "requests", status)
}

// ListObjections returns visible objections, optionally filtered by status.
func (c *Client) ListObjections(ctx context.Context, status string) ([]Case, error) {
	return c.listCases(ctx, "objections", status)
}

func (c *Client) listCases(ctx context.Context, endpoint, status string) ([]Case, error) {
	if status != "" {
		endpoint = fmt.Sprintf("%s?status=%s", endpoint, url.QueryEscape(status))
	}
	var resp struct {
		Items []Case `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// GetCase returns a case with the actions open to the caller.
func (c *Client) GetCase(ctx context.Context, id int64) (CaseView, error) {
	var resp CaseView
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("cases/%d", id), nil, &resp)
	return resp, err
}

// Transition moves a case to status. assigneeID names a case worker when
// forwarding.
func (c *Client) Transition(ctx context.Context, id int64, status, assigneeID, note string) (Case, error) {
	body := map[string]any{"status": status}
	if assigneeID != "" {
		body["assignee_id"] = assigneeID
	}
	if note != "" {
		body["note"] = note
	}
	var resp Case
	err := c.write(ctx, http.MethodPost, fmt.Sprintf("cases/%d/status", id), body, &resp)
	return resp, err
}

// Claim assigns a forwarded case to the calling case worker.
func (c *Client) Claim(ctx context.Context, id int64) (Case, error) {
	var resp Case
	err := c.write(ctx, http.MethodPost, fmt.Sprintf("cases/%d/claim", id), nil, &resp)
	return resp, err
}

// PostMessage appends to a case thread. kind is "ordinary" or "evidence".
func (c *Client) PostMessage(ctx context.Context, id int64, body, kind string) (Message, error) {
	payload := map[string]any{"body": body}
	if kind != "" {
		payload["kind"] = kind
	}
	var resp Message
	err := c.write(ctx, http.MethodPost, fmt.Sprintf("cases/%d/messages", id), payload, &resp)
	return resp, err
}

// Messages returns a case thread, oldest first.
func (c *Client) Messages(ctx context.Context, id int64) ([]Message, error) {
	var resp struct {
		Items []Message `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("cases/%d/messages", id), nil, &resp)
	return resp.Items, err
}

// CheckEscalation reports whether the request may be escalated now.
func (c *Client) CheckEscalation(ctx context.Context, requestID int64) (Eligibility, error) {
	var resp Eligibility
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("requests/%d/escalation", requestID), nil, &resp)
	return resp, err
}

// Escalate files an objection against the request.
func (c *Client) Escalate(ctx context.Context, requestID int64, reason string) (Case, error) {
	var resp Case
	err := c.write(ctx, http.MethodPost, fmt.Sprintf("requests/%d/objection", requestID), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// NotificationCounts returns the caller's badge counts. Concurrent callers
// share one request and results are reused for CacheTTL.
func (c *Client) NotificationCounts(ctx context.Context) (NotificationCounts, error) {
	if counts, ok := c.cachedCounts(); ok {
		return counts, nil
	}
	v, err, _ := c.polls.Do("notifications", func() (any, error) {
		if counts, ok := c.cachedCounts(); ok {
			return counts, nil
		}
		var resp NotificationCounts
		if err := c.do(ctx, http.MethodGet, "me/notifications", nil, &resp); err != nil {
			return NotificationCounts{}, err
		}
		c.storeCounts(resp)
		return resp, nil
	})
	if err != nil {
		return NotificationCounts{}, err
	}
	return v.(NotificationCounts), nil
}

// Attention lists the cases behind the notification counts.
func (c *Client) Attention(ctx context.Context) ([]AttentionItem, error) {
	var resp []AttentionItem
	err := c.do(ctx, http.MethodGet, "me/attention", nil, &resp)
	return resp, err
}

// Inbox fetches counts and attention items in parallel.
func (c *Client) Inbox(ctx context.Context) (Inbox, error) {
	g, ctx := errgroup.WithContext(ctx)
	var inbox Inbox
	g.Go(func() error {
		counts, err := c.NotificationCounts(ctx)
		inbox.Counts = counts
		return err
	})
	g.Go(func() error {
		items, err := c.Attention(ctx)
		inbox.Items = items
		return err
	})
	if err := g.Wait(); err != nil {
		return Inbox{}, err
	}
	return inbox, nil
}

func (c *Client) ttl() time.Duration {
	if c.CacheTTL == 0 {
		return defaultCacheTTL
	}
	return c.CacheTTL
}

func (c *Client) cachedCounts() (NotificationCounts, bool) {
	ttl := c.ttl()
	if ttl < 0 {
		return NotificationCounts{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fetched.IsZero() || time.Since(c.fetched) > ttl {
		return NotificationCounts{}, false
	}
	return c.counts, true
}

func (c *Client) storeCounts(counts NotificationCounts) {
	c.mu.Lock()
	c.counts = counts
	c.fetched = time.Now()
	c.mu.Unlock()
}

// Invalidate drops cached notification counts.
func (c *Client) Invalidate() {
	c.mu.Lock()
	c.fetched = time.Time{}
	c.mu.Unlock()
}

// write performs a mutating call; any write may change what awaits the
// caller, so the cached counts are dropped.
func (c *Client) write(ctx context.Context, method, endpoint string, body any, out any) error {
	defer c.Invalidate()
	return c.do(ctx, method, endpoint, body, out)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	client := c.HTTPClient
	if client == nil {
		timeout := c.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	u := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return decodeAPIError(resp.StatusCode, b)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	}
	return apiErr
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
