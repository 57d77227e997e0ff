// Package cells maps points and boxes onto H3 cells. The query cache
// and the invalidation pipeline agree on cell strings as partition keys.
package cells

import (
	"errors"
	"fmt"
	"sort"

	h3 "github.com/uber/h3-go/v4"

	"github.com/reservemap/reservemap/internal/geo"
)

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

// For returns the cell containing p at the given resolution.
func For(p geo.Point, res int) (string, error) {
	if err := validateRes(res); err != nil {
		return "", err
	}
	c, err := h3.LatLngToCell(h3.LatLng{Lat: p.Lat, Lng: p.Lon}, res)
	if err != nil {
		return "", fmt.Errorf("h3 cell: %w", err)
	}
	return c.String(), nil
}

// ForBBox returns the cells covering b, sorted and de-duplicated.
// PolygonToCells keeps only cells whose center falls inside the loop,
// so the corner and center cells are merged in to keep small boxes
// from mapping to nothing.
func ForBBox(b geo.BBox, res int) ([]string, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	outer := h3.GeoLoop{
		{Lat: b.MinLat, Lng: b.MinLon},
		{Lat: b.MinLat, Lng: b.MaxLon},
		{Lat: b.MaxLat, Lng: b.MaxLon},
		{Lat: b.MaxLat, Lng: b.MinLon},
	}
	indexes, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: outer}, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}

	seen := make(map[string]struct{}, len(indexes)+5)
	out := make([]string, 0, len(indexes)+5)
	add := func(s string) {
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for _, idx := range indexes {
		add(idx.String())
	}
	center := b.Center()
	for _, p := range []geo.Point{
		{Lon: b.MinLon, Lat: b.MinLat},
		{Lon: b.MaxLon, Lat: b.MinLat},
		{Lon: b.MaxLon, Lat: b.MaxLat},
		{Lon: b.MinLon, Lat: b.MaxLat},
		center,
	} {
		s, err := For(p, res)
		if err != nil {
			return nil, err
		}
		add(s)
	}
	sort.Strings(out)
	return out, nil
}

// BBoxOf returns the bounding box of a cell's boundary.
func BBoxOf(cell string) (geo.BBox, error) {
	var c h3.Cell
	if err := c.UnmarshalText([]byte(cell)); err != nil {
		return geo.BBox{}, fmt.Errorf("parse cell: %w", err)
	}
	if !c.IsValid() {
		return geo.BBox{}, fmt.Errorf("invalid h3 cell %q", cell)
	}
	b, err := c.Boundary()
	if err != nil {
		return geo.BBox{}, fmt.Errorf("boundary: %w", err)
	}
	if len(b) < 3 {
		return geo.BBox{}, errors.New("degenerate cell boundary")
	}
	out := geo.BBox{
		MinLon: b[0].Lng, MinLat: b[0].Lat,
		MaxLon: b[0].Lng, MaxLat: b[0].Lat,
	}
	for _, ll := range b[1:] {
		out = out.Union(geo.BBox{MinLon: ll.Lng, MinLat: ll.Lat, MaxLon: ll.Lng, MaxLat: ll.Lat})
	}
	return out, nil
}
