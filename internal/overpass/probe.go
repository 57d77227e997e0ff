package overpass

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/reservemap/reservemap/internal/geo"
)

// ProbeResult is one mirror's answer to a small test query.
type ProbeResult struct {
	Endpoint  string        `json:"endpoint"`
	OK        bool          `json:"ok"`
	Status    int           `json:"status,omitempty"`
	Duration  time.Duration `json:"duration"`
	Elements  int           `json:"elements"`
	Timestamp string        `json:"timestamp,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Probe checks every configured endpoint with a small bounded query,
// regardless of health state, and reports status, latency, element
// count, and the mirror's data timestamp. It records nothing in the
// health tracker.
func (c *Client) Probe(ctx context.Context) []ProbeResult {
	probe := Query{
		Timeout: 25 * time.Second,
		Filters: []TagFilter{{"leisure", "nature_reserve"}},
		BBox:    &geo.BBox{MinLon: 5.14, MinLat: 52.07, MaxLon: 5.29, MaxLat: 52.17},
	}.Build()

	endpoints := c.tracker.Endpoints()
	out := make([]ProbeResult, 0, len(endpoints))
	for _, ep := range endpoints {
		out = append(out, c.probeOne(ctx, ep, probe))
	}
	return out
}

func (c *Client) probeOne(ctx context.Context, endpoint, query string) ProbeResult {
	res := ProbeResult{Endpoint: endpoint}

	form := url.Values{"data": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		res.Error = err.Error()
		return res
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	res.Duration = time.Since(start)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	res.Status = resp.StatusCode

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		res.Error = snippet(string(b))
		return res
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	parsed, err := Parse(body)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.OK = true
	res.Elements = len(parsed.Elements)
	res.Timestamp = parsed.Meta.TimestampOSMBase
	return res
}
