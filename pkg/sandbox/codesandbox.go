// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jllopis/artifacts/pkg/artifact"
	"github.com/jllopis/artifacts/pkg/errors"
	"github.com/jllopis/artifacts/pkg/manifest"
	"github.com/jllopis/artifacts/pkg/resilience"
)

const (
	// DefaultBaseURL is the public CodeSandbox API host.
	DefaultBaseURL = "https://codesandbox.io"

	definePath = "/api/v1/sandboxes/define?json=1"
	maxExcerpt = 600
)

// URLTemplates build the links of a Reference from a sandbox id. Each
// template holds one %s verb.
type URLTemplates struct {
	Sandbox string
	Preview string
	Embed   string
}

// DefaultURLTemplates are the public CodeSandbox links.
var DefaultURLTemplates = URLTemplates{
	Sandbox: "https://codesandbox.io/s/%s",
	Preview: "https://%s.csb.app/",
	Embed:   "https://codesandbox.io/embed/%s?view=preview&hidenavigation=1",
}

// ProbeConfig controls the preview check run after a sandbox is defined.
// The check polls the preview URL until it answers successfully or the
// attempts run out; an error marker in the page is a runtime failure.
type ProbeConfig struct {
	Attempts int
	Interval time.Duration
	Markers  []string
}

// DefaultProbeConfig lists the markers the bundler prints on failure.
func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		Attempts: 5,
		Interval: 2 * time.Second,
		Markers: []string{
			"Failed to compile",
			"Module not found",
			"SyntaxError",
			"ReferenceError",
			"Could not find dependency",
		},
	}
}

// CodeSandbox provisions manifests through the CodeSandbox define API.
type CodeSandbox struct {
	baseURL string
	apiKey  string
	client  *http.Client
	urls    URLTemplates
	probe   *ProbeConfig
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	onState func(name string, from, to resilience.CircuitBreakerState)
	logger  *slog.Logger
}

// Option configures a CodeSandbox.
type Option func(*CodeSandbox)

// WithBaseURL points the adapter at another API host.
func WithBaseURL(u string) Option {
	return func(c *CodeSandbox) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithAPIKey sends the key as a bearer token.
func WithAPIKey(key string) Option {
	return func(c *CodeSandbox) {
		c.apiKey = key
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *CodeSandbox) {
		c.client = hc
	}
}

// WithURLTemplates replaces the link templates.
func WithURLTemplates(t URLTemplates) Option {
	return func(c *CodeSandbox) {
		c.urls = t
	}
}

// WithProbe enables the preview check.
func WithProbe(p ProbeConfig) Option {
	return func(c *CodeSandbox) {
		c.probe = &p
	}
}

// WithRetry replaces the retry policy of the define call.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(c *CodeSandbox) {
		c.retry = rc
	}
}

// WithBreakerListener is called after every transition of the define
// circuit breaker.
func WithBreakerListener(fn func(name string, from, to resilience.CircuitBreakerState)) Option {
	return func(c *CodeSandbox) {
		c.onState = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *CodeSandbox) {
		c.logger = l
	}
}

// NewCodeSandbox creates a CodeSandbox adapter.
func NewCodeSandbox(opts ...Option) *CodeSandbox {
	c := &CodeSandbox{
		baseURL: DefaultBaseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
		urls:    DefaultURLTemplates,
		retry:   resilience.DefaultRetryConfig(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "codesandbox",
		Code:             errors.CodeSandboxError,
		FailureThreshold: 5,
		Timeout:          30 * time.Second,
		IsFailure:        func(err error) bool { return errors.CodeOf(err) == errors.CodeSandboxError },
		OnStateChange: func(name string, from, to resilience.CircuitBreakerState) {
			c.logger.Warn("sandbox circuit breaker state changed",
				"breaker", name, "from", string(from), "to", string(to))
			if c.onState != nil {
				c.onState(name, from, to)
			}
		},
	})
	return c
}

type defineResponse struct {
	SandboxID string `json:"sandbox_id"`
}

// BreakerState returns the state of the service circuit breaker.
func (c *CodeSandbox) BreakerState() resilience.CircuitBreakerState {
	return c.breaker.State()
}

// Provision implements Provisioner.
func (c *CodeSandbox) Provision(ctx context.Context, m *manifest.Manifest) (Reference, error) {
	encoded, err := artifact.Encode(m)
	if err != nil {
		return Reference{}, err
	}

	id, err := resilience.Retry(ctx, c.retry, func(ctx context.Context) (string, error) {
		var id string
		err := c.breaker.Call(ctx, func(ctx context.Context) error {
			var err error
			id, err = c.define(ctx, encoded)
			return err
		})
		return id, err
	})
	if err != nil {
		return Reference{}, c.provisioningError(ctx, err)
	}

	ref := c.reference(id)
	c.logger.Debug("sandbox defined", "sandbox_id", id, "files", m.Len())

	if c.probe != nil {
		if err := c.check(ctx, ref); err != nil {
			return ref, err
		}
	}
	return ref, nil
}

func (c *CodeSandbox) define(ctx context.Context, encoded string) (string, error) {
	body := strings.NewReader("parameters=" + encoded)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+definePath, body)
	if err != nil {
		return "", errors.New(errors.CodeInternal, "build define request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", errors.New(errors.CodeSandboxError, "define request failed", err).WithRecoverable(true)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.New(errors.CodeSandboxError, "read define response", err).WithRecoverable(true)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", errors.New(errors.CodeSandboxError,
			fmt.Sprintf("define returned status %d", resp.StatusCode), nil).
			WithContext("body", excerpt(string(data))).
			WithRecoverable(true)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", errors.New(errors.CodeSandboxError,
			fmt.Sprintf("define rejected credentials with status %d", resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		return "", RuntimeFailure(fmt.Sprintf("the sandbox service refused the project (status %d): %s",
			resp.StatusCode, excerpt(string(data))))
	}

	var out defineResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", errors.New(errors.CodeSandboxError, "decode define response", err)
	}
	if out.SandboxID == "" {
		return "", errors.New(errors.CodeSandboxError, "define response carries no sandbox_id", nil)
	}
	return out.SandboxID, nil
}

func (c *CodeSandbox) provisioningError(ctx context.Context, err error) error {
	var perr *ProvisioningError
	switch {
	case ctx.Err() != nil:
		return errors.New(errors.CodeCanceled, "provisioning canceled", ctx.Err())
	case stderrors.As(err, &perr):
		return perr
	default:
		return ServiceError("codesandbox define failed", err)
	}
}

func (c *CodeSandbox) reference(id string) Reference {
	ref := Reference{ID: id}
	if c.urls.Sandbox != "" {
		ref.URL = fmt.Sprintf(c.urls.Sandbox, id)
	}
	if c.urls.Preview != "" {
		ref.PreviewURL = fmt.Sprintf(c.urls.Preview, id)
	}
	if c.urls.Embed != "" {
		ref.EmbedURL = fmt.Sprintf(c.urls.Embed, id)
	}
	if ref.URL == "" {
		ref.URL = id
	}
	return ref
}

// check polls the preview until it renders cleanly. A preview that never
// answered is a service error, not a fault of the project.
func (c *CodeSandbox) check(ctx context.Context, ref Reference) error {
	if ref.PreviewURL == "" {
		return nil
	}
	attempts := c.probe.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var (
		last    string
		lastErr error
		reached bool
	)
	for i := 0; i < attempts; i++ {
		if i > 0 {
			timer := time.NewTimer(c.probe.Interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.New(errors.CodeCanceled, "preview check canceled", ctx.Err())
			case <-timer.C:
			}
		}

		status, body, err := c.fetch(ctx, ref.PreviewURL)
		if err != nil {
			if ctx.Err() != nil {
				return errors.New(errors.CodeCanceled, "preview check canceled", ctx.Err())
			}
			last = err.Error()
			lastErr = err
			continue
		}
		reached = true
		if status >= 500 {
			last = fmt.Sprintf("preview returned status %d: %s", status, excerpt(body))
			continue
		}

		if marker, at := findMarker(body, c.probe.Markers); at >= 0 {
			c.logger.Info("sandbox preview reports an error", "sandbox_id", ref.ID, "marker", marker)
			perr := RuntimeFailure(excerpt(body[at:]))
			perr.Ref = ref
			return perr
		}
		if status < 400 {
			return nil
		}
		last = fmt.Sprintf("preview returned status %d", status)
	}

	if !reached {
		c.logger.Warn("sandbox preview unreachable", "sandbox_id", ref.ID, "attempts", attempts, "error", lastErr)
		perr := ServiceError("preview unreachable", lastErr)
		perr.Ref = ref
		return perr
	}
	perr := RuntimeFailure(fmt.Sprintf("the preview did not come up: %s", last))
	perr.Ref = ref
	return perr
}

func (c *CodeSandbox) fetch(ctx context.Context, u string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, "", err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(resp.Body, 1<<20)); err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, buf.String(), nil
}

func findMarker(body string, markers []string) (string, int) {
	for _, m := range markers {
		if m == "" {
			continue
		}
		if at := strings.Index(body, m); at >= 0 {
			return m, at
		}
	}
	return "", -1
}

func excerpt(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxExcerpt {
		return s
	}
	cut := maxExcerpt
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

var _ Provisioner = (*CodeSandbox)(nil)
