// Package rest talks to the workflow engine through its REST job API:
//
//	POST /v2/jobs/activation           claim jobs of one type
//	POST /v2/jobs/{jobKey}/completion  complete a job with variables
//	POST /v2/jobs/{jobKey}/failure     fail a job with retries left
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Jeffail/gabs/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"

	"github.com/BDNK1/sagaworker/runtime"
)

const (
	activationPath = "/v2/jobs/activation"
	completionPath = "/v2/jobs/{jobKey}/completion"
	failurePath    = "/v2/jobs/{jobKey}/failure"
)

var (
	ErrClosed         = errors.New("orchestrator client is closed")
	ErrNotInitialized = errors.New("orchestrator client is not initialized")
	// ErrJobNotFound is returned when the engine no longer knows the job,
	// typically because its lock expired and another worker took it.
	ErrJobNotFound = errors.New("job not found")
)

var (
	_ runtime.Orchestrator = (*Client)(nil)
	_ runtime.Initializer  = (*Client)(nil)
	_ runtime.Shutdowner   = (*Client)(nil)
)

// Config holds the REST client configuration with declarative tags
type Config struct {
	Address        string        `yaml:"address" default:"http://localhost:8080" validate:"required,url_format"`
	RequestTimeout time.Duration `yaml:"request_timeout" default:"10s" validate:"gte=1ms"`
	// ReportRetries bounds the extra attempts of a completion or failure report.
	ReportRetries   int           `yaml:"report_retries" default:"3" validate:"gte=0,lte=10"`
	ReportRetryWait time.Duration `yaml:"report_retry_wait" default:"100ms" validate:"gte=1ms"`
	Debug           bool          `yaml:"debug" default:"false"`
}

type Client struct {
	Config Config
	l      *slog.Logger

	mu     sync.RWMutex
	client *resty.Client
	closed bool
}

func New(config Config, l *slog.Logger) *Client {
	if l == nil {
		l = slog.Default()
	}
	return &Client{Config: config, l: l}
}

// Initialize validates the config and creates the HTTP client.
func (c *Client) Initialize(ctx context.Context) error {
	if err := runtime.InitializeConfig(&c.Config, nil); err != nil {
		return fmt.Errorf("invalid orchestrator config: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.client = resty.New().
		SetBaseURL(c.Config.Address).
		SetTimeout(c.Config.RequestTimeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetDebug(c.Config.Debug)
	c.closed = false

	c.l.InfoContext(ctx, fmt.Sprintf("Connected to orchestrator: %s", c.Config.Address))
	return nil
}

func (c *Client) http() (*resty.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.client == nil {
		return nil, ErrNotInitialized
	}
	return c.client, nil
}

func (c *Client) Activate(ctx context.Context, req runtime.ActivateRequest) ([]runtime.WorkItem, error) {
	client, err := c.http()
	if err != nil {
		return nil, err
	}

	resp, err := client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"type":              req.StepType,
			"worker":            req.Worker,
			"timeout":           req.Timeout.Milliseconds(),
			"maxJobsToActivate": req.MaxJobs,
			"requestTimeout":    req.RequestTimeout.Milliseconds(),
		}).
		Post(activationPath)
	if err != nil {
		return nil, fmt.Errorf("job activation request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("job activation failed: %s: %s", resp.Status(), resp.String())
	}

	items, err := parseActivation(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("invalid job activation response: %w", err)
	}
	return items, nil
}

func (c *Client) Complete(ctx context.Context, itemID string, variables map[string]any) error {
	if variables == nil {
		variables = map[string]any{}
	}
	return c.report(ctx, "complete", completionPath, itemID, map[string]any{
		"variables": variables,
	})
}

func (c *Client) Fail(ctx context.Context, itemID string, retries int, errorMessage string) error {
	return c.report(ctx, "fail", failurePath, itemID, map[string]any{
		"retries":      retries,
		"errorMessage": errorMessage,
	})
}

// report posts a completion or failure, retrying transport errors and 5xx
// responses with exponential backoff. Client errors are not retried.
func (c *Client) report(ctx context.Context, op, path, itemID string, body map[string]any) error {
	client, err := c.http()
	if err != nil {
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.Config.ReportRetryWait
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.Config.ReportRetries)), ctx)

	attempt := func() error {
		resp, err := client.R().
			SetContext(ctx).
			SetPathParam("jobKey", itemID).
			SetBody(body).
			Post(path)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}

		switch code := resp.StatusCode(); {
		case code == http.StatusNotFound || code == http.StatusConflict:
			return backoff.Permanent(fmt.Errorf("%w: %s (%s)", ErrJobNotFound, itemID, resp.Status()))
		case code >= http.StatusInternalServerError:
			return fmt.Errorf("%s: %s", resp.Status(), resp.String())
		case resp.IsError():
			return backoff.Permanent(fmt.Errorf("%s: %s", resp.Status(), resp.String()))
		}
		return nil
	}

	notify := func(err error, next time.Duration) {
		c.l.WarnContext(ctx, fmt.Sprintf("Retrying %s report", op),
			"item_id", itemID,
			"backoff", next,
			"error", err)
	}

	if err := backoff.RetryNotify(attempt, retry, notify); err != nil {
		return fmt.Errorf("failed to %s job %s: %w", op, itemID, err)
	}
	return nil
}

// Shutdown releases idle connections; later calls fail with ErrClosed.
func (c *Client) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.client != nil {
		c.client.GetClient().CloseIdleConnections()
	}
	c.l.InfoContext(ctx, "Orchestrator client closed")
	return nil
}

// parseActivation reads the jobs of an activation response. Keys may be sent
// as strings or numbers; numbers are decoded without float rounding.
func parseActivation(body []byte) ([]runtime.WorkItem, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	parsed, err := gabs.ParseJSONDecoder(dec)
	if err != nil {
		return nil, err
	}

	jobs := parsed.S("jobs").Children()
	items := make([]runtime.WorkItem, 0, len(jobs))
	for i, job := range jobs {
		key, ok := scalarString(job.S("jobKey").Data())
		if !ok || key == "" {
			return nil, fmt.Errorf("job %d has no jobKey", i)
		}

		item := runtime.WorkItem{
			ID:        key,
			StepType:  stringValue(job.S("type").Data()),
			Variables: map[string]any{},
		}
		item.ProcessInstanceKey, _ = scalarString(job.S("processInstanceKey").Data())
		item.ElementInstanceKey, _ = scalarString(job.S("elementInstanceKey").Data())

		if retries, ok := intValue(job.S("retries").Data()); ok {
			item.RemainingRetries = retries
		}
		if deadline, ok := intValue(job.S("deadline").Data()); ok && deadline > 0 {
			item.Deadline = time.UnixMilli(int64(deadline))
		}
		if vars, ok := job.S("variables").Data().(map[string]any); ok {
			item.Variables = normalize(vars).(map[string]any)
		}

		items = append(items, item)
	}
	return items, nil
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	}
	return "", false
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func intValue(v any) (int, bool) {
	switch t := v.(type) {
	case json.Number:
		n, err := t.Int64()
		return int(n), err == nil
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(t)
		return n, err == nil
	}
	return 0, false
}

// normalize turns json.Number leaves into int64 or float64.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			t[k] = normalize(child)
		}
		return t
	case []any:
		for i, child := range t {
			t[i] = normalize(child)
		}
		return t
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	}
	return v
}
