// Package jobclient talks to the Lotus job service REST API. It maps requests
// and responses and classifies failures; it never retries.
package jobclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/bl4ck0w1/lotuswatch/pkg/utils"
)

const apiPrefix = "/api/"

type Options struct {
	Timeout time.Duration
	// RateLimit paces outgoing requests in requests per second. Zero disables pacing.
	RateLimit  float64
	Burst      int
	UserAgent  string
	HTTPClient *http.Client
	Metrics    *utils.MetricsCollector
	Logger     *logrus.Logger
}

type Client struct {
	base      string
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string
	metrics   *utils.MetricsCollector
	logger    *logrus.Logger
}

func New(baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.New("base url must be an http(s) URL with a host, e.g. `http://127.0.0.1:8080`")
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""

	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "lotuswatch"
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	c := &Client{
		base:      u.String(),
		http:      httpClient,
		userAgent: opts.UserAgent,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c, nil
}

func (c *Client) BaseURL() string { return c.base }

func (c *Client) endpoint(p string, query url.Values) string {
	s := c.base + apiPrefix + p
	if len(query) > 0 {
		s += "?" + query.Encode()
	}
	return s
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, body, out any) (err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		c.metrics.ObserveSince(utils.MetricRequestDuration, start, prometheus.Labels{"operation": op, "outcome": outcome})
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &RequestError{Op: op, Err: err}
		}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &RequestError{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return &RequestError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &RequestError{Op: op, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		detail := strings.TrimSpace(string(snippet))
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return &RequestError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(detail)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return &RequestError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	c.logger.Debugf("%s %s -> %d in %s", method, endpoint, resp.StatusCode, time.Since(start))
	return nil
}
