package overpass

import "fmt"

// FailureKind classifies one failed endpoint response. It drives the
// rotation policy: rate-limited endpoints get a cooldown, overloaded
// ones are skipped immediately, everything else a short pause.
type FailureKind int

const (
	FailTransient   FailureKind = iota // network error or timeout
	FailRateLimited                    // 429 or 503
	FailOverloaded                     // 504
	FailMalformed                      // 200 with an unusable body
	FailClient                         // any other non-2xx
)

func (k FailureKind) String() string {
	switch k {
	case FailTransient:
		return "transient"
	case FailRateLimited:
		return "rate_limited"
	case FailOverloaded:
		return "overloaded"
	case FailMalformed:
		return "malformed"
	case FailClient:
		return "client_error"
	default:
		return "unknown"
	}
}

// FetchError is one endpoint's failure within a fetch.
type FetchError struct {
	Endpoint string
	Kind     FailureKind
	Status   int
	Body     string
	Err      error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("overpass: %s from %s: %v", e.Kind, e.Endpoint, e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("overpass: HTTP %d from %s: %s", e.Status, e.Endpoint, e.Body)
	}
	return fmt.Sprintf("overpass: HTTP %d from %s (%s)", e.Status, e.Endpoint, e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Err }

// QueryError is fatal: the last endpoint of the last attempt rejected
// the request outright. For 400-class statuses Query carries the
// offending query text for diagnosis.
type QueryError struct {
	Endpoint string
	Status   int
	Body     string
	Query    string
}

func (e *QueryError) Error() string {
	msg := fmt.Sprintf("overpass: HTTP %d from %s: %s", e.Status, e.Endpoint, e.Body)
	if e.Query != "" {
		msg += "\n\nquery that failed:\n" + e.Query
	}
	return msg
}

// ExhaustedError reports that every attempt across every endpoint
// failed without a fatal response. The caller may retry the whole
// fetch later.
type ExhaustedError struct {
	Attempts  int
	Endpoints int
	Last      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("overpass: failed after %d attempts across %d endpoints", e.Attempts, e.Endpoints)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }
