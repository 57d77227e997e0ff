package wdpa

import (
	shp "github.com/jonas-p/go-shp"

	"github.com/reservemap/reservemap/internal/geo"
)

// rings splits a shape's flat point list on its part offsets and closes
// each ring. Out-of-range offsets drop the affected part only.
func rings(points []shp.Point, parts []int32) []geo.Ring {
	if len(points) == 0 {
		return nil
	}
	if len(parts) == 0 {
		parts = []int32{0}
	}
	out := make([]geo.Ring, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start >= end || end > int32(len(points)) {
			continue
		}
		r := make(geo.Ring, 0, end-start)
		for _, pt := range points[start:end] {
			r = append(r, geo.Point{Lon: pt.X, Lat: pt.Y})
		}
		out = append(out, r.Closed())
	}
	return out
}

// geometry groups rings into polygons by winding order: outer rings
// wind clockwise and each hole follows its outer. A counter-clockwise
// ring with no outer before it is promoted to an outer so the record
// still yields geometry. ok is false when nothing usable remains.
func geometry(rs []geo.Ring) (geo.Geometry, bool) {
	var polys []geo.Polygon
	for _, r := range rs {
		if len(r) < 4 {
			continue
		}
		a := geo.SignedRingArea(r)
		switch {
		case a == 0:
			continue
		case a < 0:
			polys = append(polys, geo.Polygon{Outer: r})
		case len(polys) == 0:
			polys = append(polys, geo.Polygon{Outer: r})
		default:
			last := len(polys) - 1
			polys[last].Holes = append(polys[last].Holes, r)
		}
	}
	switch len(polys) {
	case 0:
		return nil, false
	case 1:
		return polys[0], true
	}
	return geo.MultiPolygon{Polygons: polys}, true
}
