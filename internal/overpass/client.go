package overpass

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	defaultTimeout = 180 * time.Second
	defaultRetries = 3

	// Per-request HTTP deadline is the server-side budget plus slack
	// for transfer of large geometry payloads.
	httpTimeoutSlack = 30 * time.Second

	backoffBase   = time.Second
	backoffMax    = 60 * time.Second
	endpointDelay = 500 * time.Millisecond
	rateCooldown  = 10 * time.Second

	errBodyLimit = 500
)

type Options struct {
	Endpoints  []string
	Timeout    time.Duration
	Retries    int
	UserAgent  string
	HTTPClient *http.Client
	Tracker    *HealthTracker
	Logger     *zerolog.Logger
	Register   prometheus.Registerer
}

// Client runs queries against a mirror rotation. Safe for concurrent
// use; failure bookkeeping is shared through the HealthTracker.
type Client struct {
	http      *http.Client
	tracker   *HealthTracker
	userAgent string
	retries   int
	log       zerolog.Logger
	metrics   *metricSet

	sleep func(context.Context, time.Duration)
	rnd   func() float64
}

func New(opts Options) *Client {
	endpoints := opts.Endpoints
	if len(endpoints) == 0 {
		endpoints = DefaultEndpoints()
	}
	tracker := opts.Tracker
	if tracker == nil {
		tracker = NewHealthTracker(endpoints, TrackerConfig{})
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := opts.Retries
	if retries <= 0 {
		retries = defaultRetries
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = "reservemap/1.0"
	}
	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = newOutbound(timeout + httpTimeoutSlack)
	}
	log := zerolog.New(io.Discard)
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Client{
		http:      httpc,
		tracker:   tracker,
		userAgent: ua,
		retries:   retries,
		log:       log,
		metrics:   newMetricSet(opts.Register),
		sleep:     sleepCtx,
		rnd:       rand.Float64,
	}
}

// Tracker exposes the shared health state, mainly for tests and the
// probe command.
func (c *Client) Tracker() *HealthTracker { return c.tracker }

// Fetch runs the query until one endpoint answers. Each attempt walks
// the current rotation; failed attempts back off exponentially. The
// error is *QueryError when the final endpoint rejected the request
// outright, *ExhaustedError when everything failed retryably, or the
// context error on cancellation.
func (c *Client) Fetch(ctx context.Context, q Query) (*Response, error) {
	query := q.Build()
	tried := make(map[string]struct{})
	var lastErr error

	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			c.sleep(ctx, c.backoff(attempt))
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rotation := c.tracker.Rotation()
		for i, ep := range rotation {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			tried[ep] = struct{}{}

			resp, err := c.tryEndpoint(ctx, ep, query)
			if err == nil {
				return resp, nil
			}
			lastErr = err

			var fe *FetchError
			lastOfAll := attempt == c.retries-1 && i == len(rotation)-1
			if lastOfAll && errors.As(err, &fe) && fe.Kind == FailClient {
				qe := &QueryError{Endpoint: fe.Endpoint, Status: fe.Status, Body: fe.Body}
				if fe.Status >= 400 && fe.Status < 500 {
					qe.Query = query
				}
				return nil, qe
			}
			if i == len(rotation)-1 {
				break
			}
			switch {
			case errors.As(err, &fe) && fe.Kind == FailRateLimited:
				c.sleep(ctx, rateCooldown)
			case errors.As(err, &fe) && fe.Kind == FailOverloaded:
				// rotate immediately
			default:
				c.sleep(ctx, endpointDelay)
			}
		}
	}

	c.metrics.exhausted.Inc()
	c.log.Error().Int("attempts", c.retries).Int("endpoints", len(tried)).
		Msg("overpass fetch exhausted")
	return nil, &ExhaustedError{Attempts: c.retries, Endpoints: len(tried), Last: lastErr}
}

func (c *Client) tryEndpoint(ctx context.Context, endpoint, query string) (*Response, error) {
	form := url.Values{"data": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, c.fail(&FetchError{Endpoint: endpoint, Kind: FailTransient, Err: err})
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	c.metrics.duration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, c.fail(&FetchError{Endpoint: endpoint, Kind: FailTransient, Err: err})
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.log.Warn().Err(cerr).Msg("close response body")
		}
	}()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, c.fail(&FetchError{Endpoint: endpoint, Status: resp.StatusCode, Kind: FailTransient, Err: err})
		}
		parsed, err := Parse(body)
		if err != nil {
			return nil, c.fail(&FetchError{Endpoint: endpoint, Status: resp.StatusCode, Kind: FailMalformed, Err: err})
		}
		c.tracker.Success(endpoint)
		c.metrics.requests.WithLabelValues(endpoint, "success").Inc()
		c.metrics.excluded.Set(float64(c.tracker.Excluded()))
		c.log.Debug().Str("endpoint", endpoint).
			Int("elements", len(parsed.Elements)).
			Dur("took", time.Since(start)).
			Msg("overpass fetch ok")
		return parsed, nil
	case http.StatusGatewayTimeout:
		return nil, c.fail(&FetchError{Endpoint: endpoint, Status: resp.StatusCode, Kind: FailOverloaded})
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return nil, c.fail(&FetchError{Endpoint: endpoint, Status: resp.StatusCode, Kind: FailRateLimited})
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, c.fail(&FetchError{Endpoint: endpoint, Status: resp.StatusCode, Kind: FailClient, Body: snippet(string(b))})
	}
}

func (c *Client) fail(fe *FetchError) error {
	c.tracker.Failure(fe.Endpoint)
	c.metrics.requests.WithLabelValues(fe.Endpoint, fe.Kind.String()).Inc()
	c.metrics.excluded.Set(float64(c.tracker.Excluded()))
	c.log.Warn().Str("endpoint", fe.Endpoint).
		Int("status", fe.Status).
		Str("kind", fe.Kind.String()).
		Err(fe.Err).
		Msg("overpass request failed")
	return fe
}

// backoff returns base*2^attempt capped at backoffMax, plus up to 10%
// random jitter so workers do not retry in lockstep.
func (c *Client) backoff(attempt int) time.Duration {
	d := backoffBase << uint(attempt)
	if d > backoffMax || d <= 0 {
		d = backoffMax
	}
	return d + time.Duration(c.rnd()*0.1*float64(d))
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > errBodyLimit {
		return s[:errBodyLimit]
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// newOutbound mirrors the transport tuning used for upstream calls:
// generous idle pools for repeated requests against few hosts.
func newOutbound(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   128,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
