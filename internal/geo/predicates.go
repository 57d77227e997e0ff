package geo

import "math"

// SignedRingArea is the shoelace sum halved, positive for counter-clockwise
// rings. The unit is degree², usable for winding checks and relative
// ordering only.
func SignedRingArea(r Ring) float64 {
	if len(r) < 3 {
		return 0
	}
	n := len(r)
	var sum float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += r[i].Lon*r[j].Lat - r[j].Lon*r[i].Lat
	}
	return sum / 2
}

func RingArea(r Ring) float64 {
	return math.Abs(SignedRingArea(r))
}

// outer minus holes, may go negative for degenerate input
func polygonAreaRaw(p Polygon) float64 {
	a := RingArea(p.Outer)
	for _, h := range p.Holes {
		a -= RingArea(h)
	}
	return a
}

func PolygonArea(p Polygon) float64 {
	return math.Max(0, polygonAreaRaw(p))
}

// Area returns the planar degree² area of a geometry, floored at zero.
// For a MultiPolygon the per-polygon terms are summed before flooring.
func Area(g Geometry) float64 {
	switch t := g.(type) {
	case Polygon:
		return PolygonArea(t)
	case MultiPolygon:
		var total float64
		for _, p := range t.Polygons {
			total += polygonAreaRaw(p)
		}
		return math.Max(0, total)
	}
	return 0
}

// PointInRing reports whether p falls inside the ring using an even-odd
// ray cast: a horizontal ray from p crosses the ring boundary an odd
// number of times. The result does not depend on the ring's starting
// vertex or winding direction.
func PointInRing(p Point, r Ring) bool {
	n := len(r)
	if n < 3 {
		return false
	}
	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		xi, yi := r[i].Lon, r[i].Lat
		xj, yj := r[j].Lon, r[j].Lat
		if (yi > p.Lat) != (yj > p.Lat) &&
			p.Lon < (xj-xi)*(p.Lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
		j = i
	}
	return inside
}

func polygonContains(poly Polygon, p Point) bool {
	if !PointInRing(p, poly.Outer) {
		return false
	}
	for _, h := range poly.Holes {
		if PointInRing(p, h) {
			return false
		}
	}
	return true
}

// Contains reports whether the geometry contains p. A polygon contains a
// point when its outer ring does and none of its holes do; a multipolygon
// when any constituent polygon does.
func Contains(g Geometry, p Point) bool {
	switch t := g.(type) {
	case Polygon:
		return polygonContains(t, p)
	case MultiPolygon:
		for _, poly := range t.Polygons {
			if polygonContains(poly, p) {
				return true
			}
		}
	}
	return false
}

// BBoxOf flattens every vertex of the geometry into a bounding box.
// ok is false when the geometry has no vertices.
func BBoxOf(g Geometry) (BBox, bool) {
	b := BBox{
		MinLon: math.Inf(1), MinLat: math.Inf(1),
		MaxLon: math.Inf(-1), MaxLat: math.Inf(-1),
	}
	found := false
	extend := func(r Ring) {
		for _, p := range r {
			found = true
			b.MinLon = min(b.MinLon, p.Lon)
			b.MinLat = min(b.MinLat, p.Lat)
			b.MaxLon = max(b.MaxLon, p.Lon)
			b.MaxLat = max(b.MaxLat, p.Lat)
		}
	}
	switch t := g.(type) {
	case Polygon:
		extend(t.Outer)
		for _, h := range t.Holes {
			extend(h)
		}
	case MultiPolygon:
		for _, poly := range t.Polygons {
			extend(poly.Outer)
			for _, h := range poly.Holes {
				extend(h)
			}
		}
	}
	if !found {
		return BBox{}, false
	}
	return b, true
}
