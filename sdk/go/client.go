package tracerlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Tracerline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	UserID      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// TeamStatus is one team's record as returned by the API.
type TeamStatus struct {
	Team             string   `json:"team"`
	Status           string   `json:"status"`
	Feedback         string   `json:"feedback,omitempty"`
	RequiresFeedback bool     `json:"requires_feedback"`
	Vocabulary       []string `json:"vocabulary"`
}

// TeamStatusSet holds the four team records of a product order.
type TeamStatusSet struct {
	ProductOrder string       `json:"product_order"`
	Records      []TeamStatus `json:"records"`
	UpdatedAt    string       `json:"updated_at,omitempty"`
}

// Record returns the record of team, matched case-insensitively.
func (s TeamStatusSet) Record(team string) (TeamStatus, bool) {
	for _, r := range s.Records {
		if strings.EqualFold(r.Team, team) {
			return r, true
		}
	}
	return TeamStatus{}, false
}

// Activity is an audit log entry.
type Activity struct {
	ID                 int64  `json:"id"`
	UserID             string `json:"user_id"`
	ActivityType       string `json:"activity_type"`
	ProductOrder       string `json:"product_order"`
	Timestamp          string `json:"timestamp"`
	Team               string `json:"team,omitempty"`
	TeamStatus         string `json:"team_status,omitempty"`
	PreviousStatus     string `json:"previous_status,omitempty"`
	Feedback           string `json:"feedback,omitempty"`
	TraceabilityStream string `json:"traceability_stream,omitempty"`
	Section            *int   `json:"section,omitempty"`
}

// StatusChange is the result of a status, feedback or normalize call.
type StatusChange struct {
	TeamStatusSet
	Activity []Activity `json:"activity"`
	// AuditWarning is set when the change was stored but not recorded.
	AuditWarning string `json:"-"`
}

type File struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name"`
	URL        string `json:"url,omitempty"`
	UploadedAt string `json:"uploaded_at,omitempty"`
}

type Section struct {
	Position     int      `json:"position"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Files        []File   `json:"files,omitempty"`
	AssignedUser *string  `json:"assigned_user,omitempty"`
	Notes        *string  `json:"notes,omitempty"`
	Required     bool     `json:"required"`
	Teams        []string `json:"teams,omitempty"`
}

// Stream represents a traceability stream.
type Stream struct {
	ID           string    `json:"id,omitempty"`
	ProductOrder string    `json:"product_order,omitempty"`
	Name         string    `json:"name"`
	Sections     []Section `json:"sections"`
	CreatedAt    string    `json:"created_at,omitempty"`
}

type StreamChange struct {
	Stream       Stream     `json:"stream"`
	Activity     []Activity `json:"activity"`
	AuditWarning string     `json:"-"`
}

// Progress reports per-team and overall completion of a stream.
type Progress struct {
	StreamID string `json:"stream_id"`
	Teams    struct {
		Planning int `json:"planning"`
		SAC      int `json:"sac"`
		NT       int `json:"nt"`
	} `json:"teams"`
	Overall        float64 `json:"overall"`
	OverallRounded bool    `json:"overall_rounded"`
}

// PaginatedActivity wraps list responses with cursors.
type PaginatedActivity struct {
	Items      []Activity `json:"items"`
	NextCursor string     `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// TeamStatuses returns the team statuses of a product order.
func (c *Client) TeamStatuses(ctx context.Context, productOrder string) (TeamStatusSet, error) {
	var resp TeamStatusSet
	_, err := c.do(ctx, http.MethodGet, c.orderPath(productOrder, "team-statuses"), nil, &resp)
	return resp, err
}

// SetTeamStatus sets a team's status; feedback is optional.
func (c *Client) SetTeamStatus(ctx context.Context, productOrder, team, status string, feedback *string) (StatusChange, error) {
	body := map[string]any{"status": status}
	if feedback != nil {
		body["feedback"] = *feedback
	}
	var resp StatusChange
	h, err := c.do(ctx, http.MethodPut, c.orderPath(productOrder, "team-statuses/"+url.PathEscape(team)), body, &resp)
	resp.AuditWarning = h.Get("X-Audit-Warning")
	return resp, err
}

// SetFeedback replaces a team's feedback.
func (c *Client) SetFeedback(ctx context.Context, productOrder, team, feedback string) (StatusChange, error) {
	var resp StatusChange
	h, err := c.do(ctx, http.MethodPut, c.orderPath(productOrder, "team-statuses/"+url.PathEscape(team)+"/feedback"), map[string]any{"feedback": feedback}, &resp)
	resp.AuditWarning = h.Get("X-Audit-Warning")
	return resp, err
}

// Normalize repairs and persists illegal statuses of a product order.
func (c *Client) Normalize(ctx context.Context, productOrder string) (StatusChange, error) {
	var resp StatusChange
	h, err := c.do(ctx, http.MethodPost, c.orderPath(productOrder, "team-statuses/normalize"), nil, &resp)
	resp.AuditWarning = h.Get("X-Audit-Warning")
	return resp, err
}

// CreateStream creates a stream under a product order.
func (c *Client) CreateStream(ctx context.Context, productOrder string, s Stream) (StreamChange, error) {
	var resp StreamChange
	h, err := c.do(ctx, http.MethodPost, c.orderPath(productOrder, "streams"), s, &resp)
	resp.AuditWarning = h.Get("X-Audit-Warning")
	return resp, err
}

// Streams lists the streams of a product order.
func (c *Client) Streams(ctx context.Context, productOrder string) ([]Stream, error) {
	var resp []Stream
	_, err := c.do(ctx, http.MethodGet, c.orderPath(productOrder, "streams"), nil, &resp)
	return resp, err
}

// Progress computes stream completion. round nil uses the server default.
func (c *Client) Progress(ctx context.Context, streamID string, round *bool) (Progress, error) {
	endpoint := fmt.Sprintf("streams/%s/progress", url.PathEscape(streamID))
	if round != nil {
		endpoint = fmt.Sprintf("%s?round=%t", endpoint, *round)
	}
	var resp Progress
	_, err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AttachFile adds a file reference to a section.
func (c *Client) AttachFile(ctx context.Context, streamID string, position int, f File) (StreamChange, error) {
	var resp StreamChange
	endpoint := fmt.Sprintf("streams/%s/sections/%d/files", url.PathEscape(streamID), position)
	h, err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"name": f.Name, "url": f.URL}, &resp)
	resp.AuditWarning = h.Get("X-Audit-Warning")
	return resp, err
}

// DetachFile removes a file reference from a section.
func (c *Client) DetachFile(ctx context.Context, streamID string, position int, fileID string) (StreamChange, error) {
	var resp StreamChange
	endpoint := fmt.Sprintf("streams/%s/sections/%d/files/%s", url.PathEscape(streamID), position, url.PathEscape(fileID))
	h, err := c.do(ctx, http.MethodDelete, endpoint, nil, &resp)
	resp.AuditWarning = h.Get("X-Audit-Warning")
	return resp, err
}

// ActivityPage returns a page of a product order's activity, newest first.
func (c *Client) ActivityPage(ctx context.Context, productOrder string, limit int, cursor string) (PaginatedActivity, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.orderPath(productOrder, "activity")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedActivity
	_, err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) (http.Header, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.UserID != "":
		req.Header.Set("X-User-Id", c.UserID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return resp.Header, apiErr
	}
	if out != nil {
		return resp.Header, json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.Header, nil
}

func (c *Client) orderPath(productOrder, p string) string {
	return fmt.Sprintf("product-orders/%s/%s", url.PathEscape(productOrder), strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if c.BasePath != "" {
		base += "/" + strings.Trim(c.BasePath, "/")
	}
	return base
}
