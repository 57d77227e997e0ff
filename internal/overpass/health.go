package overpass

import "sync"

const (
	defaultMaxFailures = 3
	defaultResetAfter  = 50
)

// TrackerConfig tunes the exclusion policy. Zero values mean defaults.
type TrackerConfig struct {
	// MaxFailures is the consecutive-failure count at which an
	// endpoint drops out of the rotation.
	MaxFailures int
	// ResetAfter is the number of global successes after which all
	// failure counters clear, so a long-dormant exclusion cannot
	// persist indefinitely.
	ResetAfter int
}

// HealthTracker keeps per-endpoint consecutive-failure counts and the
// rotation offset. One instance is shared by all workers of a crawl,
// so every method takes the lock.
type HealthTracker struct {
	mu        sync.Mutex
	endpoints []string
	failures  map[string]int
	successes int
	offset    int

	maxFailures int
	resetAfter  int
}

func NewHealthTracker(endpoints []string, cfg TrackerConfig) *HealthTracker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = defaultMaxFailures
	}
	if cfg.ResetAfter <= 0 {
		cfg.ResetAfter = defaultResetAfter
	}
	eps := make([]string, len(endpoints))
	copy(eps, endpoints)
	return &HealthTracker{
		endpoints:   eps,
		failures:    make(map[string]int, len(eps)),
		maxFailures: cfg.MaxFailures,
		resetAfter:  cfg.ResetAfter,
	}
}

// Rotation returns the endpoints to try for one fetch, starting at an
// offset that advances per call so no single mirror absorbs all first
// attempts. Endpoints at or past the failure threshold are excluded;
// if that excludes everything, all counters clear and the full list
// is returned (self-healing against a transient all-down state).
func (t *HealthTracker) Rotation() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.endpoints) == 0 {
		return nil
	}
	start := t.offset % len(t.endpoints)
	t.offset++

	rotated := make([]string, 0, len(t.endpoints))
	rotated = append(rotated, t.endpoints[start:]...)
	rotated = append(rotated, t.endpoints[:start]...)

	healthy := rotated[:0:0]
	for _, ep := range rotated {
		if t.failures[ep] < t.maxFailures {
			healthy = append(healthy, ep)
		}
	}
	if len(healthy) == 0 {
		clear(t.failures)
		return rotated
	}
	return healthy
}

// Failure records one failed request against an endpoint.
func (t *HealthTracker) Failure(endpoint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[endpoint]++
}

// Success resets the endpoint's failure counter and advances the
// global success counter; reaching the reset threshold clears every
// failure counter.
func (t *HealthTracker) Success(endpoint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[endpoint] = 0
	t.successes++
	if t.successes >= t.resetAfter {
		clear(t.failures)
		t.successes = 0
	}
}

// FailureCount reports the current consecutive-failure count.
func (t *HealthTracker) FailureCount(endpoint string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failures[endpoint]
}

// Excluded reports how many endpoints are currently out of rotation.
func (t *HealthTracker) Excluded() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, ep := range t.endpoints {
		if t.failures[ep] >= t.maxFailures {
			n++
		}
	}
	return n
}

// Endpoints returns a copy of the configured endpoint list.
func (t *HealthTracker) Endpoints() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.endpoints))
	copy(out, t.endpoints)
	return out
}
