// Package practicum fetches homework statuses from the Practicum user API.
package practicum

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"hwbot/internal/failure"
	logx "hwbot/pkg/logx"
)

const (
	defaultTimeout = 30 * time.Second
	// maxBodyBytes caps a single response body.
	maxBodyBytes = 1 << 20
)

type Config struct {
	Token    string
	Endpoint string
	// Timeout bounds one request, including reading the body. Default 30s.
	Timeout time.Duration
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

type Client struct {
	endpoint *url.URL
	token    string
	timeout  time.Duration
	http     *http.Client
	log      logx.Logger
	now      func() time.Time
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	raw := strings.TrimSpace(cfg.Endpoint)
	if raw == "" {
		return nil, failure.New(failure.ErrConfiguration, "practicum.endpoint is empty")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		if err == nil {
			err = errors.New("absolute URL required")
		}
		return nil, failure.Wrap(failure.ErrConfiguration, err, "practicum.endpoint %q", raw)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		endpoint: u,
		token:    strings.TrimSpace(cfg.Token),
		timeout:  timeout,
		http:     hc,
		log:      log,
		now:      time.Now,
	}, nil
}

// Fetch returns the raw body of the statuses changed since cursor (a unix
// timestamp). A cursor <= 0 asks for changes since now.
//
// Errors are failure.ErrNetwork for transport problems and deadlines,
// failure.ErrServer for a non-200 status and failure.ErrMalformedResponse
// for an oversized body.
func (c *Client) Fetch(ctx context.Context, cursor int64) ([]byte, error) {
	if cursor <= 0 {
		cursor = c.now().Unix()
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := *c.endpoint
	q := u.Query()
	q.Set("from_date", strconv.FormatInt(cursor, 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, failure.Wrap(failure.ErrNetwork, err, "build request")
	}
	req.Header.Set("Authorization", "OAuth "+c.token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, failure.Wrap(failure.ErrNetwork, redact(err), "GET %s", c.endpoint.Redacted())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, failure.Wrap(failure.ErrNetwork, err, "read body")
	}
	c.log.Debug("status request done",
		logx.Int("status", resp.StatusCode),
		logx.Int64("from_date", cursor),
		logx.Int("bytes", len(body)),
		logx.Duration("took", time.Since(start)),
	)

	if resp.StatusCode != http.StatusOK {
		return nil, failure.New(failure.ErrServer, "endpoint %s returned HTTP %d", c.endpoint.Redacted(), resp.StatusCode)
	}
	if len(body) > maxBodyBytes {
		return nil, failure.New(failure.ErrMalformedResponse, "response body exceeds %d bytes", maxBodyBytes)
	}
	return body, nil
}

// redact strips the query string from *url.Error so request URLs never end
// up verbatim in notifications.
func redact(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		if u, perr := url.Parse(ue.URL); perr == nil {
			u.RawQuery = ""
			return &url.Error{Op: ue.Op, URL: u.String(), Err: ue.Err}
		}
	}
	return err
}
