package missionlinesdk

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

// Client is a minimal Missionline operator API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Carrier represents a registered fleet carrier.
type Carrier struct {
	ID          int64  `json:"id"`
	LongName    string `json:"long_name"`
	ShortName   string `json:"short_name"`
	Code        string `json:"code"`
	OwnerID     string `json:"owner_id"`
	ChannelName string `json:"channel_name"`
	LastTrade   int64  `json:"last_trade"`
}

// Mission represents the API mission model (partial).
type Mission struct {
	ID          string  `json:"id"`
	CarrierName string  `json:"carrier_name"`
	ChannelID   string  `json:"channel_id"`
	Kind        string  `json:"kind"`
	Commodity   string  `json:"commodity"`
	Station     string  `json:"station"`
	System      string  `json:"system"`
	Profit      float64 `json:"profit"`
	Pads        string  `json:"pads"`
	Demand      int     `json:"demand"`
	CreatedAt   string  `json:"created_at"`
}

// MissionInput holds fields as a user would type them ("15k", "L").
// Empty fields are left unchanged on edit.
type MissionInput struct {
	Kind      string `json:"kind,omitempty"`
	Commodity string `json:"commodity,omitempty"`
	Station   string `json:"station,omitempty"`
	System    string `json:"system,omitempty"`
	Profit    string `json:"profit,omitempty"`
	Pads      string `json:"pads,omitempty"`
	Demand    string `json:"demand,omitempty"`
	RPText    string `json:"rp_text,omitempty"`
}

type Notice struct {
	Adapter string `json:"adapter"`
	Message string `json:"message"`
}

// MissionResult is returned by every lifecycle call.
type MissionResult struct {
	Mission   Mission  `json:"mission"`
	Persisted bool     `json:"persisted"`
	Notices   []Notice `json:"notices"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is taken from the error envelope when present.
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

// Carriers lists every carrier.
func (c *Client) Carriers(ctx context.Context) ([]Carrier, error) {
	var resp []Carrier
	err := c.do(ctx, http.MethodGet, "v1/carriers", nil, &resp)
	return resp, err
}

// AddCarrier registers a carrier. It needs the admin role.
func (c *Client) AddCarrier(ctx context.Context, carrier Carrier) (Carrier, error) {
	body := map[string]any{
		"long_name":    carrier.LongName,
		"short_name":   carrier.ShortName,
		"code":         carrier.Code,
		"owner_id":     carrier.OwnerID,
		"channel_name": carrier.ChannelName,
	}
	var resp Carrier
	err := c.do(ctx, http.MethodPost, "v1/carriers", body, &resp)
	return resp, err
}

// Missions lists active missions.
func (c *Client) Missions(ctx context.Context) ([]Mission, error) {
	var resp []Mission
	err := c.do(ctx, http.MethodGet, "v1/missions", nil, &resp)
	return resp, err
}

// Generate publishes a new mission. targets is a comma separated list such as "chat,webhooks".
func (c *Client) Generate(ctx context.Context, carrier string, in MissionInput, targets string) (MissionResult, error) {
	body := struct {
		MissionInput
		Targets string `json:"targets,omitempty"`
	}{in, targets}
	var resp MissionResult
	err := c.do(ctx, http.MethodPost, c.missionPath(carrier, ""), body, &resp)
	return resp, err
}

// Edit changes the active mission.
func (c *Client) Edit(ctx context.Context, carrier string, in MissionInput) (MissionResult, error) {
	var resp MissionResult
	err := c.do(ctx, http.MethodPatch, c.missionPath(carrier, ""), in, &resp)
	return resp, err
}

// Complete retires the mission as done.
func (c *Client) Complete(ctx context.Context, carrier string) (MissionResult, error) {
	var resp MissionResult
	err := c.do(ctx, http.MethodPost, c.missionPath(carrier, "complete"), map[string]any{}, &resp)
	return resp, err
}

// Fail abandons the mission, showing reason to readers.
func (c *Client) Fail(ctx context.Context, carrier, reason string) (MissionResult, error) {
	var resp MissionResult
	err := c.do(ctx, http.MethodPost, c.missionPath(carrier, "fail"), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// State returns the lifecycle state of a carrier, such as ACTIVE.
func (c *Client) State(ctx context.Context, carrier string) (string, error) {
	var resp struct {
		State string `json:"state"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v1/carriers/%s/state", url.PathEscape(carrier)), nil, &resp)
	return resp.State, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "v1/events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
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
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) missionPath(carrier, action string) string {
	p := fmt.Sprintf("v1/carriers/%s/mission", url.PathEscape(carrier))
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
