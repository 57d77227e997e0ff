// Package overpass fetches protected-area elements from a rotation of
// Overpass API mirrors, tolerating rate limits, timeouts, and flaky
// servers without stalling a crawl.
package overpass

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Coord is one vertex as the wire format carries it.
type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Member is a relation member. Geometry is only present when the
// server inlined the member's vertices (out geom).
type Member struct {
	Type     string  `json:"type"`
	Ref      int64   `json:"ref"`
	Role     string  `json:"role"`
	Geometry []Coord `json:"geometry,omitempty"`
}

type Bounds struct {
	MinLat float64 `json:"minlat"`
	MinLon float64 `json:"minlon"`
	MaxLat float64 `json:"maxlat"`
	MaxLon float64 `json:"maxlon"`
}

// Element is one node, way, or relation from a query response.
type Element struct {
	Type     string            `json:"type"`
	ID       int64             `json:"id"`
	Tags     map[string]string `json:"tags,omitempty"`
	Bounds   *Bounds           `json:"bounds,omitempty"`
	Geometry []Coord           `json:"geometry,omitempty"`
	Members  []Member          `json:"members,omitempty"`
	Lat      float64           `json:"lat,omitempty"`
	Lon      float64           `json:"lon,omitempty"`
}

// Meta carries the server-reported data timestamp.
type Meta struct {
	TimestampOSMBase string `json:"timestamp_osm_base"`
}

type Response struct {
	Elements []Element `json:"elements"`
	Meta     Meta      `json:"osm3s"`
}

// Parse decodes a response body. A 200 response without the top-level
// elements array counts as malformed, even if it is valid JSON.
func Parse(b []byte) (*Response, error) {
	var probe struct {
		Elements *[]Element `json:"elements"`
		Meta     Meta       `json:"osm3s"`
	}
	if err := json.Unmarshal(b, &probe); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if probe.Elements == nil {
		return nil, errors.New("response missing elements array")
	}
	return &Response{Elements: *probe.Elements, Meta: probe.Meta}, nil
}
