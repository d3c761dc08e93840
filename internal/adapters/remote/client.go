// Package remote is the HTTP client for the church server API.
package remote

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

	"github.com/revolutedigital/igreja-betania/internal/adapters/http/perf"
	"github.com/revolutedigital/igreja-betania/internal/domain/attendance"
	"github.com/revolutedigital/igreja-betania/internal/domain/member"
	"github.com/revolutedigital/igreja-betania/internal/domain/service"
)

// DefaultTimeout bounds every remote call.
const DefaultTimeout = 10 * time.Second

// maxBody caps how much of a response is read.
const maxBody = 8 << 20

// Client talks to the remote API. Every call runs under its own timeout.
type Client struct {
	baseURL   string
	http      *http.Client
	timeout   time.Duration
	collector *perf.Collector
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCollector records the duration of every call.
func WithCollector(collector *perf.Collector) Option {
	return func(c *Client) { c.collector = collector }
}

// New creates a Client for the API rooted at baseURL (scheme://host[:port]).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do sends one request and decodes the normalized payload into out.
// PRE: path starts with "/"; body and out may be nil
// POST: Returns *Error for non-success answers, a wrapped transport error otherwise
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.record(method, path, 0, start)
		return fmt.Errorf("remote %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.record(method, path, resp.StatusCode, start)

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Method: method, Path: path, StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	payload, rejected, message, err := unwrap(respBody)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if rejected {
		return &Error{Method: method, Path: path, StatusCode: resp.StatusCode, Message: message, Rejected: true}
	}
	if out == nil || len(payload) == 0 || string(payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) record(method, path string, status int, start time.Time) {
	if c.collector == nil {
		return
	}
	c.collector.Record(perf.Entry{
		Kind:       perf.KindRemote,
		Path:       method + " " + path,
		StatusCode: status,
		DurationMs: float64(time.Since(start).Microseconds()) / 1000.0,
		Timestamp:  start,
	})
}

// ListMembers fetches every member, bypassing pagination.
func (c *Client) ListMembers(ctx context.Context) ([]member.Member, error) {
	var out []member.Member
	err := c.do(ctx, http.MethodGet, "/api/membros", url.Values{"all": {"true"}}, nil, &out)
	return out, err
}

// CreateMember registers a member and returns the stored record.
func (c *Client) CreateMember(ctx context.Context, m member.Member) (member.Member, error) {
	payload, err := m.Payload()
	if err != nil {
		return member.Member{}, err
	}
	var out member.Member
	err = c.do(ctx, http.MethodPost, "/api/membros", nil, payload, &out)
	return out, err
}

// UpdateMember applies a partial update to member id.
func (c *Client) UpdateMember(ctx context.Context, id string, changes member.Changes) (member.Member, error) {
	var out member.Member
	err := c.do(ctx, http.MethodPut, "/api/membros/"+url.PathEscape(id), nil, changes, &out)
	return out, err
}

// DeleteMember removes member id.
func (c *Client) DeleteMember(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/membros/"+url.PathEscape(id), nil, nil, nil)
}

// ListServices fetches every service.
func (c *Client) ListServices(ctx context.Context) ([]service.Service, error) {
	var out []service.Service
	err := c.do(ctx, http.MethodGet, "/api/cultos", nil, nil, &out)
	return out, err
}

// CreateService creates the service for a date and slot. The remote returns
// the existing record when one already matches.
func (c *Client) CreateService(ctx context.Context, s service.Service) (service.Service, error) {
	body := struct {
		Date string `json:"data"`
		Slot string `json:"horario"`
	}{s.Date, s.Slot}
	var out service.Service
	err := c.do(ctx, http.MethodPost, "/api/cultos", nil, body, &out)
	return out, err
}

// ListAttendance fetches the marks of one service.
func (c *Client) ListAttendance(ctx context.Context, serviceID string) ([]attendance.Mark, error) {
	var out []attendance.Mark
	err := c.do(ctx, http.MethodGet, "/api/presenca", url.Values{"cultoId": {serviceID}}, nil, &out)
	return out, err
}

// UpsertAttendance creates or updates the mark for a (member, service) pair.
func (c *Client) UpsertAttendance(ctx context.Context, u attendance.Upsert) (attendance.Mark, error) {
	var out attendance.Mark
	err := c.do(ctx, http.MethodPost, "/api/presenca", nil, u, &out)
	return out, err
}

// DeleteAttendance removes the mark for a (member, service) pair.
func (c *Client) DeleteAttendance(ctx context.Context, memberID, serviceID string) error {
	q := url.Values{"membroId": {memberID}, "cultoId": {serviceID}}
	return c.do(ctx, http.MethodDelete, "/api/presenca", q, nil, nil)
}
