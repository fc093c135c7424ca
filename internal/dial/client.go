// Package dial is the client for the telephony REST API that places outbound
// calls and tears them down. A placed call is linked to a media stream by the
// account and call SIDs the API returns; terminating the call uses the same
// identifiers.
package dial

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/voicelink/voicelink/internal/observe"
	"github.com/voicelink/voicelink/internal/resilience"
)

// ErrCallNotFound is returned by [Client.Terminate] when the API does not
// know the call SID (already ended or never existed).
var ErrCallNotFound = errors.New("dial: call not found")

// Call identifies one placed telephony call.
type Call struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
	Status     string `json:"status"`
}

// Config holds the REST API settings.
type Config struct {
	// BaseURL is the API root, e.g. "https://telephony.example.com".
	BaseURL string

	// AccountSid identifies the telephony account.
	AccountSid string

	// AuthToken authenticates requests via basic auth (AccountSid as the
	// username).
	AuthToken string

	// Timeout bounds each REST call. Default 10s.
	Timeout time.Duration

	// HTTPClient overrides the underlying client, for tests.
	HTTPClient *http.Client

	// Metrics overrides the default metrics instance, for tests.
	Metrics *observe.Metrics
}

// Client calls the telephony REST API. A circuit breaker fails calls fast
// while the API is down instead of stacking up timeouts. Safe for concurrent
// use.
type Client struct {
	base    string
	account string
	token   string
	http    *http.Client
	breaker *resilience.CircuitBreaker
	metrics *observe.Metrics
}

// New creates a Client. cfg.BaseURL must be non-empty.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("dial: BaseURL must not be empty")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("dial: parse BaseURL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Client{
		base:    cfg.BaseURL,
		account: cfg.AccountSid,
		token:   cfg.AuthToken,
		http:    hc,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "dial"}),
		metrics: m,
	}, nil
}

// dialRequest is the POST body for placing a call.
type dialRequest struct {
	AccountSid string `json:"accountSid"`
	From       string `json:"from"`
	To         string `json:"to"`
	StreamSid  string `json:"streamSid,omitempty"`
}

// Dial places an outbound call from one address to another and links it to
// the given stream. The returned [Call] carries the SIDs needed to terminate
// the call later.
func (c *Client) Dial(ctx context.Context, from, to, streamSid string) (Call, error) {
	var call Call
	body := dialRequest{
		AccountSid: c.account,
		From:       from,
		To:         to,
		StreamSid:  streamSid,
	}
	err := c.do(ctx, http.MethodPost, "/v1/calls", body, &call)
	if err != nil {
		return Call{}, err
	}
	if call.AccountSid == "" {
		call.AccountSid = c.account
	}
	return call, nil
}

// terminateRequest is the POST body for ending a call. It mirrors the stop
// event of the stream protocol so the API can correlate both sides.
type terminateRequest struct {
	Event     string        `json:"event"`
	StreamSid string        `json:"streamSid,omitempty"`
	Stop      terminateStop `json:"stop"`
}

type terminateStop struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

// Terminate ends a placed call. Terminating an unknown call returns
// [ErrCallNotFound].
func (c *Client) Terminate(ctx context.Context, call Call, streamSid string) error {
	body := terminateRequest{
		Event:     "stop",
		StreamSid: streamSid,
		Stop: terminateStop{
			AccountSid: call.AccountSid,
			CallSid:    call.CallSid,
		},
	}
	return c.do(ctx, http.MethodPost, "/v1/calls/"+url.PathEscape(call.CallSid)+"/terminate", body, nil)
}

// do sends one JSON request through the circuit breaker and decodes the
// response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	return c.breaker.Execute(func() error {
		ctx, span := observe.StartSpan(ctx, "dial "+method+" "+path)
		defer span.End()

		began := time.Now()
		err := c.doOnce(ctx, method, path, body, out)
		status := "ok"
		if err != nil {
			status = "error"
		}
		c.metrics.RecordDial(ctx, time.Since(began), status)
		if err != nil {
			observe.Logger(ctx).Warn("dial request failed",
				"method", method, "path", path, "err", err)
		}
		return err
	})
}

func (c *Client) doOnce(ctx context.Context, method, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("dial: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("dial: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.SetBasicAuth(c.account, c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("dial: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrCallNotFound
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("dial: %s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("dial: decode response: %w", err)
		}
	}
	return nil
}

// BaseURL returns the configured API root, for health checks.
func (c *Client) BaseURL() string { return c.base }
