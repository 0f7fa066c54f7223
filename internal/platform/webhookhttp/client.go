// Package webhookhttp delivers mission messages to chat-style webhooks over
// HTTP: a POST with ?wait=true to create, a PATCH on /messages/{id} to edit.
package webhookhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"missionline/internal/platform"
)

const defaultTimeout = 5 * time.Second

type Config struct {
	// Timeout bounds each request. Zero means five seconds.
	Timeout time.Duration
	// Guild is used to build jump links to delivered messages.
	Guild string
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	http   *http.Client
	guild  string
	logger *slog.Logger
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{http: hc, guild: cfg.Guild, logger: logger}
}

// StatusError is a non-2xx webhook response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook: status %d: %s", e.Status, e.Body)
}

// Unwrap maps 404 onto platform.ErrNotFound and 401/403 onto platform.ErrForbidden.
func (e *StatusError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return platform.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return platform.ErrForbidden
	}
	return nil
}

type wireField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type wireImage struct {
	URL string `json:"url"`
}

type wireFooter struct {
	Text string `json:"text"`
}

type wireEmbed struct {
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	URL         string      `json:"url,omitempty"`
	Color       int         `json:"color,omitempty"`
	Image       *wireImage  `json:"image,omitempty"`
	Fields      []wireField `json:"fields,omitempty"`
	Footer      *wireFooter `json:"footer,omitempty"`
}

type wireMessage struct {
	Content string      `json:"content,omitempty"`
	Embeds  []wireEmbed `json:"embeds,omitempty"`
}

type wireResponse struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
}

func toWire(msg platform.Message) wireMessage {
	out := wireMessage{Content: msg.Content}
	for _, e := range msg.Embeds {
		we := wireEmbed{Title: e.Title, Description: e.Description, URL: e.URL, Color: e.Color}
		if e.ImageURL != "" {
			we.Image = &wireImage{URL: e.ImageURL}
		}
		if e.Footer != "" {
			we.Footer = &wireFooter{Text: e.Footer}
		}
		for _, f := range e.Fields {
			we.Fields = append(we.Fields, wireField{Name: f.Name, Value: f.Value, Inline: f.Inline})
		}
		out.Embeds = append(out.Embeds, we)
	}
	return out
}

func (c *Client) Post(ctx context.Context, hookURL string, msg platform.Message) (platform.Delivery, error) {
	target, err := withQuery(hookURL, "wait", "true")
	if err != nil {
		return platform.Delivery{}, err
	}
	var resp wireResponse
	if err := c.do(ctx, http.MethodPost, target, msg, &resp); err != nil {
		return platform.Delivery{}, err
	}
	if resp.ID == "" {
		return platform.Delivery{}, errors.New("webhook: response carried no message id")
	}
	d := platform.Delivery{MessageID: resp.ID}
	if c.guild != "" && resp.ChannelID != "" {
		d.JumpURL = fmt.Sprintf("https://discord.com/channels/%s/%s/%s", c.guild, resp.ChannelID, resp.ID)
	}
	return d, nil
}

func (c *Client) Edit(ctx context.Context, hookURL, messageID string, msg platform.Message) error {
	u, err := url.Parse(hookURL)
	if err != nil {
		return fmt.Errorf("webhook url: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/messages/" + url.PathEscape(messageID)
	return c.do(ctx, http.MethodPatch, u.String(), msg, nil)
}

func (c *Client) do(ctx context.Context, method, target string, msg platform.Message, out any) error {
	body, contentType, err := encode(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	delivery := uuid.NewString()
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Missionline-Delivery", delivery)
	res, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("webhook request failed", "method", method, "delivery", delivery, "error", err)
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		c.logger.Warn("webhook rejected", "method", method, "delivery", delivery, "status", res.StatusCode)
		return &StatusError{Status: res.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("webhook: decode response: %w", err)
	}
	return nil
}

// encode sends plain JSON, or multipart with a payload_json part when files are attached.
func encode(msg platform.Message) (io.Reader, string, error) {
	payload, err := json.Marshal(toWire(msg))
	if err != nil {
		return nil, "", err
	}
	if len(msg.Files) == 0 {
		return bytes.NewReader(payload), "application/json", nil
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("payload_json", string(payload)); err != nil {
		return nil, "", err
	}
	for i, path := range msg.Files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("webhook attachment: %w", err)
		}
		part, err := mw.CreateFormFile(fmt.Sprintf("files[%d]", i), filepath.Base(path))
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(data); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func withQuery(raw, key, value string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("webhook url: %w", err)
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
