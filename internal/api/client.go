package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/homeservice-dispatch/internal/models"
)

// GenericFailure is shown when the server gives no message of its own.
const GenericFailure = "Something went wrong. Please try again."

// Error is a rejection returned by the server (4xx/5xx or success=false).
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server rejected request: status %d", e.Status)
	}
	return fmt.Sprintf("server rejected request: status %d: %s", e.Status, e.Message)
}

// UserMessage is the text surfaced to the user for err: the server-supplied
// message when present, else the generic fallback.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && strings.TrimSpace(e.Message) != "" {
		return e.Message
	}
	return GenericFailure
}

// IsRejection reports whether err came from the server rather than the transport.
func IsRejection(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// IsTimeout reports whether err is a transport timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Client talks to the marketplace REST API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Token returns the bearer token of the current session, or "".
	Token func() string
}

func NewClient(baseURL string) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: &http.Client{Timeout: 10 * time.Second}}
}

type SearchRequest struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	ServiceType string  `json:"serviceType"`
}

func (c *Client) SearchTechnicians(ctx context.Context, req SearchRequest) ([]models.Technician, error) {
	var out []models.Technician
	if err := c.do(ctx, http.MethodPost, "/technicians/search", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateJobRequest is the merged draft, confirmation data and user id.
type CreateJobRequest struct {
	models.BookingDraft
	UserID        string `json:"userId"`
	PaymentHoldID string `json:"paymentHoldId,omitempty"`
}

func (c *Client) CreateJob(ctx context.Context, req CreateJobRequest) (models.Job, error) {
	var job models.Job
	err := c.do(ctx, http.MethodPost, "/jobs", req, &job)
	return job, err
}

type statusUpdate struct {
	Status  models.JobStatus `json:"status"`
	Details map[string]any   `json:"details,omitempty"`
}

func (c *Client) UpdateJobStatus(ctx context.Context, id string, status models.JobStatus, details map[string]any) (models.Job, error) {
	var job models.Job
	err := c.do(ctx, http.MethodPut, "/jobs/"+url.PathEscape(id)+"/status", statusUpdate{Status: status, Details: details}, &job)
	return job, err
}

func (c *Client) GetJob(ctx context.Context, id string) (models.Job, error) {
	var job models.Job
	err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), nil, &job)
	return job, err
}

func (c *Client) AdminStats(ctx context.Context) (models.Stats, error) {
	var st models.Stats
	err := c.do(ctx, http.MethodGet, "/admin/stats", nil, &st)
	return st, err
}

// envelope is the {success, data, error} wrapper some endpoints use. Bare
// bodies are accepted as well.
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != nil {
		if tok := c.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	var env envelope
	isEnvelope := len(bytes.TrimSpace(raw)) > 0 && bytes.TrimSpace(raw)[0] == '{' && json.Unmarshal(raw, &env) == nil &&
		(env.Success != nil || env.Data != nil)

	if resp.StatusCode >= 400 || (isEnvelope && env.Success != nil && !*env.Success) {
		msg := env.Error
		if msg == "" {
			msg = env.Message
		}
		return &Error{Status: resp.StatusCode, Message: msg}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if isEnvelope && env.Data != nil {
		raw = env.Data
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}
