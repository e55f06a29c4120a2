package scenario

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/okian/bet/internal/domain/model"
	"github.com/okian/bet/internal/domain/types"
	"github.com/okian/bet/pkg/logger"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
)

// APIError is a non-success envelope returned by the service.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// response is the union of every envelope the service returns.
type response struct {
	Success     bool             `json:"success"`
	Error       string           `json:"error"`
	Code        string           `json:"code"`
	Event       *model.Event     `json:"event"`
	Events      []model.Event    `json:"events"`
	Group       *model.Group     `json:"group"`
	Leaderboard []types.Entry    `json:"leaderboard"`
	Consistent  bool             `json:"consistent"`
	Mismatches  []types.Mismatch `json:"mismatches"`
}

// Client wraps http.Client with the service's envelope handling.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client with the given request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Health checks GET /healthz.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer closeBody(resp)
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service health check failed with status: %d", resp.StatusCode)
	}
	return nil
}

// PutUser registers a directory entry.
func (c *Client) PutUser(ctx context.Context, u model.User) error {
	_, _, err := c.do(ctx, http.MethodPost, "/users", u, nil)
	return err
}

// RegisterRule adds a rule to the catalog.
func (c *Client) RegisterRule(ctx context.Context, r model.Rule) error {
	_, _, err := c.do(ctx, http.MethodPost, "/rules", r, nil)
	return err
}

// CreateGroup creates a group and returns it with its assigned id.
func (c *Client) CreateGroup(ctx context.Context, name string, members, rules []string) (model.Group, error) {
	body := map[string]any{"name": name, "members": members, "rules": rules}
	out, _, err := c.do(ctx, http.MethodPost, "/groups/create", body, nil)
	if err != nil {
		return model.Group{}, err
	}
	if out.Group == nil {
		return model.Group{}, errors.New("response has no group")
	}
	return *out.Group, nil
}

// Submit posts an event claim. replayed reports whether the service
// answered from its idempotency cache.
func (c *Client) Submit(ctx context.Context, s Submission, groupID string) (ev model.Event, replayed bool, err error) {
	body := map[string]string{"userId": s.UserID, "ruleId": s.RuleID, "groupId": groupID}
	headers := map[string]string{idempotencyHeader: s.Key}
	out, h, err := c.do(ctx, http.MethodPost, "/events/submit", body, headers)
	if err != nil {
		return model.Event{}, false, err
	}
	if out.Event == nil {
		return model.Event{}, false, errors.New("response has no event")
	}
	return *out.Event, h.Get(replayedHeader) == "true", nil
}

// Veto casts a veto.
func (c *Client) Veto(ctx context.Context, v Veto) (model.Event, error) {
	body := map[string]string{"eventId": v.EventID, "userId": v.UserID}
	out, _, err := c.do(ctx, http.MethodPost, "/events/veto", body, nil)
	if err != nil {
		return model.Event{}, err
	}
	if out.Event == nil {
		return model.Event{}, errors.New("response has no event")
	}
	return *out.Event, nil
}

// Events lists every event of a group, newest first.
func (c *Client) Events(ctx context.Context, groupID string) ([]model.Event, error) {
	out, _, err := c.do(ctx, http.MethodGet, "/events/group/"+url.PathEscape(groupID), nil, nil)
	if err != nil {
		return nil, err
	}
	return out.Events, nil
}

// Recent lists up to limit approved events of a group, newest first.
func (c *Client) Recent(ctx context.Context, groupID string, limit int) ([]model.Event, error) {
	path := "/events/recent/" + url.PathEscape(groupID) + "?limit=" + strconv.Itoa(limit)
	out, _, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	return out.Events, nil
}

// Leaderboard returns a group's ranked entries.
func (c *Client) Leaderboard(ctx context.Context, groupID string) ([]types.Entry, error) {
	out, _, err := c.do(ctx, http.MethodGet, "/leaderboard/"+url.PathEscape(groupID), nil, nil)
	if err != nil {
		return nil, err
	}
	return out.Leaderboard, nil
}

// Audit runs the service-side consistency check for a group.
func (c *Client) Audit(ctx context.Context, groupID string) (types.Audit, error) {
	out, _, err := c.do(ctx, http.MethodGet, "/leaderboard/"+url.PathEscape(groupID)+"/audit", nil, nil)
	if err != nil {
		return types.Audit{}, err
	}
	return types.Audit{GroupID: groupID, Consistent: out.Consistent, Mismatches: out.Mismatches}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, headers map[string]string) (*response, http.Header, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer closeBody(resp)

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, nil, fmt.Errorf("%s %s: failed to decode response (status %d): %w", method, path, resp.StatusCode, err)
	}
	if !out.Success {
		return nil, resp.Header, &APIError{Status: resp.StatusCode, Code: out.Code, Message: out.Error}
	}
	return &out, resp.Header, nil
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		logger.Get().Error(context.Background(), "failed to close response body", logger.Error(err))
	}
}
