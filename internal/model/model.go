// Package model holds the shared domain records: reserves, operators,
// crawl tiles, and the filter type used by queries and caching.
package model

import (
	"sort"
	"strings"
	"time"

	"github.com/reservemap/reservemap/internal/geo"
)

// Source identifies the pipeline a reserve was ingested by.
type Source string

const (
	SourceOSM  Source = "osm"
	SourceWDPA Source = "wdpa"
)

func (s Source) Valid() bool {
	return s == SourceOSM || s == SourceWDPA
}

// Area type classification, shared by the OSM extractor and the WDPA importer.
const (
	AreaNationalPark       = "national_park"
	AreaNatureReserve      = "nature_reserve"
	AreaProtectedArea      = "protected_area"
	AreaNatureMonument     = "nature_monument"
	AreaHabitatManagement  = "habitat_management"
	AreaProtectedLandscape = "protected_landscape"
	AreaSustainableUse     = "sustainable_use"
)

// Reserve is one protected area. ID is stable across re-imports:
// "way_<n>" or "relation_<n>" for OSM elements, "wdpa_<siteid>" for
// Protected Planet records.
type Reserve struct {
	ID           string            `json:"id"`
	Source       Source            `json:"source"`
	Name         string            `json:"name"`
	AreaType     string            `json:"area_type"`
	ProtectClass string            `json:"protect_class,omitempty"`
	Operators    []string          `json:"operators,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
	BBox         geo.BBox          `json:"bbox"`
	Features     []geo.Feature     `json:"features,omitempty"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Operator is a managing body referenced by one or more reserves.
type Operator struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Reserves int    `json:"reserves"`
}

// OperatorID derives the stable identifier for an operator name:
// lowercased, with runs of non-alphanumerics collapsed to single dashes.
func OperatorID(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
		default:
			dash = true
		}
	}
	return b.String()
}

// GridTile records the crawl state of one grid cell. Tiles are
// identified by their exact bbox, so re-runs over the same area and
// tile size resume where they left off.
type GridTile struct {
	BBox         geo.BBox  `json:"bbox"`
	Success      bool      `json:"success"`
	Created      int       `json:"created"`
	Updated      int       `json:"updated"`
	LastUpdated  time.Time `json:"last_updated"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// Filter narrows reserve listings and point queries.
// Zero-value fields match everything.
type Filter struct {
	Source         Source
	Operator       string
	AreaTypes      []string
	ProtectClasses []string
}

func (f Filter) IsZero() bool {
	return f.Source == "" && f.Operator == "" &&
		len(f.AreaTypes) == 0 && len(f.ProtectClasses) == 0
}

// Match reports whether r passes every populated filter field.
func (f Filter) Match(r Reserve) bool {
	if f.Source != "" && r.Source != f.Source {
		return false
	}
	if f.Operator != "" {
		found := false
		for _, name := range r.Operators {
			if OperatorID(name) == f.Operator {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.AreaTypes) > 0 && !contains(f.AreaTypes, r.AreaType) {
		return false
	}
	if len(f.ProtectClasses) > 0 && !contains(f.ProtectClasses, r.ProtectClass) {
		return false
	}
	return true
}

// Canonical renders the filter as a stable string: fields in fixed
// order, list values sorted. Equal filters always produce equal
// strings, which makes the result safe to hash into cache keys.
func (f Filter) Canonical() string {
	var parts []string
	if f.Source != "" {
		parts = append(parts, "src="+string(f.Source))
	}
	if f.Operator != "" {
		parts = append(parts, "op="+f.Operator)
	}
	if len(f.AreaTypes) > 0 {
		parts = append(parts, "at="+joinSorted(f.AreaTypes))
	}
	if len(f.ProtectClasses) > 0 {
		parts = append(parts, "pc="+joinSorted(f.ProtectClasses))
	}
	return strings.Join(parts, "&")
}

func joinSorted(vals []string) string {
	s := make([]string, len(vals))
	copy(s, vals)
	sort.Strings(s)
	return strings.Join(s, ",")
}

func contains(vals []string, v string) bool {
	for _, x := range vals {
		if x == v {
			return true
		}
	}
	return false
}
