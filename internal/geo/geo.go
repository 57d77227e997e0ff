// Package geo holds the planar geometry model shared by ingestion and queries.
package geo

import (
	"fmt"
	"strconv"
	"strings"
)

// Point is a lon/lat coordinate pair in EPSG:4326 degrees.
type Point struct {
	Lon float64
	Lat float64
}

// Ring is an ordered coordinate sequence bounding a simple area.
// A well-formed ring is closed (first == last) with at least three
// distinct vertices before the closing one.
type Ring []Point

// Closed returns the ring with the closing vertex appended when missing.
func (r Ring) Closed() Ring {
	if len(r) < 3 {
		return r
	}
	if r[0] == r[len(r)-1] {
		return r
	}
	out := make(Ring, len(r)+1)
	copy(out, r)
	out[len(r)] = r[0]
	return out
}

type Polygon struct {
	Outer Ring
	Holes []Ring
}

type MultiPolygon struct {
	Polygons []Polygon

	// HolesMisattributed marks geometries whose inner rings could not be
	// matched to their enclosing outer ring and were attached to the first
	// polygon instead. Containment tests against such geometries may be
	// wrong inside the misplaced holes.
	HolesMisattributed bool
}

// Geometry is a Polygon or MultiPolygon. Only this package implements it,
// so consumers can switch over the two cases exhaustively.
type Geometry interface {
	isGeometry()
}

func (Polygon) isGeometry()      {}
func (MultiPolygon) isGeometry() {}

// BBox is an axis-aligned bounding box, min <= max on both axes.
type BBox struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

func (b BBox) Valid() bool {
	return b.MinLon <= b.MaxLon && b.MinLat <= b.MaxLat
}

func (b BBox) Contains(p Point) bool {
	return p.Lon >= b.MinLon && p.Lon <= b.MaxLon &&
		p.Lat >= b.MinLat && p.Lat <= b.MaxLat
}

func (b BBox) Intersects(o BBox) bool {
	return b.MinLon <= o.MaxLon && b.MaxLon >= o.MinLon &&
		b.MinLat <= o.MaxLat && b.MaxLat >= o.MinLat
}

func (b BBox) Center() Point {
	return Point{
		Lon: (b.MinLon + b.MaxLon) / 2,
		Lat: (b.MinLat + b.MaxLat) / 2,
	}
}

func (b BBox) Union(o BBox) BBox {
	return BBox{
		MinLon: min(b.MinLon, o.MinLon),
		MinLat: min(b.MinLat, o.MinLat),
		MaxLon: max(b.MaxLon, o.MaxLon),
		MaxLat: max(b.MaxLat, o.MaxLat),
	}
}

func (b BBox) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

// ParseBBox parses "minLon,minLat,maxLon,maxLat".
func ParseBBox(s string) (BBox, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 4 {
		return BBox{}, fmt.Errorf("bbox must be 4 comma-separated numbers, got %q", s)
	}
	var vals [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, fmt.Errorf("bbox coordinate %d: %w", i+1, err)
		}
		vals[i] = v
	}
	b := BBox{MinLon: vals[0], MinLat: vals[1], MaxLon: vals[2], MaxLat: vals[3]}
	if !b.Valid() {
		return BBox{}, fmt.Errorf("bbox min exceeds max: %q", s)
	}
	return b, nil
}
