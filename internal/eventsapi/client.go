// Package eventsapi is a read-only client for the upstream events API.
package eventsapi

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
	"strings"
	"time"

	appLog "schedview/internal/log"
	"schedview/internal/model"
)

const defaultTimeout = 15 * time.Second

// IDRange is the inclusive range of ids accepted by FetchByID.
type IDRange struct {
	Min int
	Max int
}

// Client fetches events from the upstream API.
//
// Requests are independent: there is no retry, no response cache and no
// de-duplication of concurrent calls. Cancel ctx to abandon one.
type Client struct {
	baseURL string
	ids     IDRange
	client  *http.Client
	metrics *Metrics
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// WithMetrics records request outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a Client for baseURL (e.g. "https://api.example.com/v3").
func NewClient(baseURL string, ids IDRange, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		ids:     ids,
		client: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IDs returns the accepted detail id range.
func (c *Client) IDs() IDRange {
	return c.ids
}

// ParseID converts a raw path value into a detail id, rejecting
// non-numeric and out-of-range input with a *ValidationError.
func (c *Client) ParseID(raw string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, &ValidationError{Raw: raw, Min: c.ids.Min, Max: c.ids.Max}
	}
	if err := c.validateID(id); err != nil {
		return 0, err
	}
	return id, nil
}

func (c *Client) validateID(id int) error {
	if id < c.ids.Min || id > c.ids.Max {
		return &ValidationError{Raw: strconv.Itoa(id), Min: c.ids.Min, Max: c.ids.Max}
	}
	return nil
}

// FetchAll returns every event. The upstream may answer with an array or
// with a single bare event; both are accepted.
func (c *Client) FetchAll(ctx context.Context) ([]model.Event, error) {
	body, err := c.get(ctx, "all", "fetch events", "/events")
	if err != nil {
		return nil, err
	}

	events, err := decodeEvents(body)
	if err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return events, nil
}

// FetchByID returns a single event. The id is validated against the
// configured range before any request is issued.
func (c *Client) FetchByID(ctx context.Context, id int) (model.Event, error) {
	if err := c.validateID(id); err != nil {
		return model.Event{}, err
	}

	op := fmt.Sprintf("fetch event %d", id)
	body, err := c.get(ctx, "by_id", op, "/events/"+url.PathEscape(strconv.Itoa(id)))
	if err != nil {
		return model.Event{}, err
	}

	events, err := decodeEvents(body)
	if err != nil {
		return model.Event{}, fmt.Errorf("decode event %d: %w", id, err)
	}
	// An array here is unexpected; take its first element.
	if len(events) == 0 {
		return model.Event{}, fmt.Errorf("decode event %d: empty response", id)
	}
	return events[0], nil
}

func (c *Client) get(ctx context.Context, metricOp, op, path string) ([]byte, error) {
	started := time.Now()
	target := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	appLog.Debug("events api request", "op", op, "url", redactURL(target))

	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.observe(metricOp, "transport_error", started)
		appLog.Error("events api transport error", err, "op", op, "url", redactURL(target))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.metrics.observe(metricOp, "http_error", started)
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		apiErr := &APIError{Op: op, StatusCode: resp.StatusCode, Status: resp.Status}
		appLog.Error("events api non-OK", apiErr, "op", op, "status", resp.StatusCode)
		return nil, apiErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.observe(metricOp, "transport_error", started)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	c.metrics.observe(metricOp, "ok", started)
	appLog.Debug("events api success", "op", op, "bytes", len(body), "elapsed", time.Since(started))
	return body, nil
}

// errNullEvent rejects a JSON null where an event record is expected.
var errNullEvent = errors.New("null event")

// decodeEvents accepts either a JSON array of events or one event object.
// Nulls, at the top level or inside the array, are rejected.
func decodeEvents(body []byte) ([]model.Event, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty body")
	}

	switch trimmed[0] {
	case '[':
		var raw []*model.Event
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, err
		}
		events := make([]model.Event, 0, len(raw))
		for i, ev := range raw {
			if ev == nil {
				return nil, fmt.Errorf("element %d: %w", i, errNullEvent)
			}
			events = append(events, *ev)
		}
		return events, nil
	case '{':
		var single model.Event
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, err
		}
		return []model.Event{single}, nil
	default:
		if bytes.Equal(trimmed, []byte("null")) {
			return nil, errNullEvent
		}
		return nil, fmt.Errorf("unexpected JSON value starting with %q", trimmed[0])
	}
}

// redactURL keeps scheme, host and path but drops the query string, which
// may carry API keys.
func redactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return "events://...(redacted)"
	}
	parsed.RawQuery = ""
	parsed.User = nil
	return parsed.String()
}
