// Package extract turns raw query elements into reserve records:
// ring and polygon reconstruction, tag classification, and feature
// assembly.
package extract

import (
	"github.com/reservemap/reservemap/internal/geo"
	"github.com/reservemap/reservemap/internal/overpass"
)

// WayIndex resolves relation member references against sibling way
// elements from the same response batch.
type WayIndex map[int64]geo.Ring

func NewWayIndex(elements []overpass.Element) WayIndex {
	idx := make(WayIndex)
	for _, el := range elements {
		if el.Type == "way" && len(el.Geometry) >= 3 {
			idx[el.ID] = ringFromCoords(el.Geometry)
		}
	}
	return idx
}

func ringFromCoords(coords []overpass.Coord) geo.Ring {
	r := make(geo.Ring, 0, len(coords)+1)
	for _, c := range coords {
		r = append(r, geo.Point{Lon: c.Lon, Lat: c.Lat})
	}
	return r.Closed()
}

// Reconstruct builds the geometry for a way or relation element.
// The count reports outer/inner members whose ring could not be
// resolved; those are skipped rather than aborting the element.
// A nil geometry means the element carries nothing usable.
func Reconstruct(el overpass.Element, idx WayIndex) (geo.Geometry, int) {
	switch el.Type {
	case "way":
		if len(el.Geometry) < 3 {
			return nil, 0
		}
		return geo.Polygon{Outer: ringFromCoords(el.Geometry)}, 0
	case "relation":
		return reconstructRelation(el, idx)
	default:
		return nil, 0
	}
}

func reconstructRelation(el overpass.Element, idx WayIndex) (geo.Geometry, int) {
	// Geometry supplied directly on the relation is a single ring.
	if len(el.Geometry) >= 3 {
		return geo.Polygon{Outer: ringFromCoords(el.Geometry)}, 0
	}

	var outers, inners []geo.Ring
	missing := 0
	for _, m := range el.Members {
		if m.Type != "way" {
			continue
		}
		if m.Role != "outer" && m.Role != "inner" {
			continue
		}
		var ring geo.Ring
		switch {
		case len(m.Geometry) >= 3:
			ring = ringFromCoords(m.Geometry)
		default:
			r, ok := idx[m.Ref]
			if !ok {
				missing++
				continue
			}
			ring = r
		}
		if m.Role == "outer" {
			outers = append(outers, ring)
		} else {
			inners = append(inners, ring)
		}
	}

	switch {
	case len(outers) == 0:
		return nil, missing
	case len(outers) == 1:
		return geo.Polygon{Outer: outers[0], Holes: inners}, missing
	default:
		polys := make([]geo.Polygon, len(outers))
		for i, o := range outers {
			polys[i] = geo.Polygon{Outer: o}
		}
		mp := geo.MultiPolygon{Polygons: polys}
		if len(inners) > 0 {
			// Holes are not spatially matched to their enclosing
			// outer ring; they all land on the first polygon and the
			// result is flagged.
			mp.Polygons[0].Holes = inners
			mp.HolesMisattributed = true
		}
		return mp, missing
	}
}
