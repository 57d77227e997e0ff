package tiler

import (
	"math"
	"testing"

	"github.com/reservemap/reservemap/internal/geo"
)

func TestSizeDegrees(t *testing.T) {
	latDeg, lonDeg := SizeDegrees(0, 111)
	if math.Abs(latDeg-1) > 1e-9 || math.Abs(lonDeg-1) > 1e-9 {
		t.Fatalf("at equator want 1x1 degree, got %v x %v", latDeg, lonDeg)
	}

	latDeg, lonDeg = SizeDegrees(60, 111)
	if math.Abs(latDeg-1) > 1e-9 {
		t.Fatalf("lat span must not depend on latitude, got %v", latDeg)
	}
	if math.Abs(lonDeg-2) > 1e-6 {
		t.Fatalf("at 60N want lon span 2 degrees, got %v", lonDeg)
	}
}

func TestShouldSplit(t *testing.T) {
	utrecht := geo.BBox{MinLon: 4.8, MinLat: 51.9, MaxLon: 5.5, MaxLat: 52.3}
	if !ShouldSplit(utrecht, 40) {
		t.Fatalf("utrecht at 40km tiles should split")
	}
	if ShouldSplit(utrecht, 200) {
		t.Fatalf("utrecht fits in one 200km tile")
	}

	small := geo.BBox{MinLon: 5.14134, MinLat: 52.07195, MaxLon: 5.28734, MaxLat: 52.16195}
	if ShouldSplit(small, 40) {
		t.Fatalf("test area fits in one 40km tile")
	}
	if ShouldSplit(utrecht, 0) {
		t.Fatalf("non-positive tile size never splits")
	}
}

func TestSplitCoversExactly(t *testing.T) {
	b := geo.BBox{MinLon: 3.2, MinLat: 50.75, MaxLon: 7.2, MaxLat: 53.7}
	tiles := Split(b, 40)
	if len(tiles) < 2 {
		t.Fatalf("expected multiple tiles, got %d", len(tiles))
	}

	var area float64
	for i, tl := range tiles {
		if tl.MinLon < b.MinLon || tl.MaxLon > b.MaxLon || tl.MinLat < b.MinLat || tl.MaxLat > b.MaxLat {
			t.Fatalf("tile %d %+v escapes region %+v", i, tl, b)
		}
		if tl.MaxLon <= tl.MinLon || tl.MaxLat <= tl.MinLat {
			t.Fatalf("tile %d %+v is degenerate", i, tl)
		}
		area += (tl.MaxLon - tl.MinLon) * (tl.MaxLat - tl.MinLat)
	}

	want := (b.MaxLon - b.MinLon) * (b.MaxLat - b.MinLat)
	if math.Abs(area-want) > 1e-6 {
		t.Fatalf("tiles cover area %v, region area %v", area, want)
	}
}

func TestSplitRowMajorOrder(t *testing.T) {
	b := geo.BBox{MinLon: 4.8, MinLat: 51.9, MaxLon: 5.5, MaxLat: 52.3}
	tiles := Split(b, 20)

	first, last := tiles[0], tiles[len(tiles)-1]
	if first.MinLon != b.MinLon || first.MinLat != b.MinLat {
		t.Fatalf("first tile %+v must sit at the southwest corner", first)
	}
	if last.MaxLon != b.MaxLon || last.MaxLat != b.MaxLat {
		t.Fatalf("last tile %+v must sit at the northeast corner", last)
	}

	for i := 1; i < len(tiles); i++ {
		prev, cur := tiles[i-1], tiles[i]
		sameRow := cur.MinLat == prev.MinLat
		if sameRow && cur.MinLon != prev.MaxLon {
			t.Fatalf("tiles %d and %d leave a gap within a row", i-1, i)
		}
		if !sameRow && (cur.MinLat != prev.MaxLat || cur.MinLon != b.MinLon) {
			t.Fatalf("row starting at tile %d does not stack on the previous row", i)
		}
	}
}

func TestSplitWidensRowsNorthward(t *testing.T) {
	b := geo.BBox{MinLon: 4.6, MinLat: 57.9, MaxLon: 31.1, MaxLat: 71.2}
	tiles := Split(b, 100)

	first := tiles[0]
	width := first.MaxLon - first.MinLon
	height := first.MaxLat - first.MinLat
	if width <= height {
		t.Fatalf("northern tiles must be wider than tall in degrees, got %v x %v", width, height)
	}

	var lastRow geo.BBox
	for _, tl := range tiles {
		if tl.MinLat > lastRow.MinLat {
			lastRow = tl
		}
	}
	if lastRow.MaxLon-lastRow.MinLon <= width && lastRow.MaxLon != b.MaxLon {
		t.Fatalf("rows further north should use wider tiles")
	}
}

func TestSplitSmallRegionSingleTile(t *testing.T) {
	b := geo.BBox{MinLon: 5.14134, MinLat: 52.07195, MaxLon: 5.28734, MaxLat: 52.16195}
	tiles := Split(b, 40)
	if len(tiles) != 1 {
		t.Fatalf("want 1 tile, got %d", len(tiles))
	}
	if tiles[0] != b {
		t.Fatalf("single tile %+v should equal the region %+v", tiles[0], b)
	}
}

func TestAround(t *testing.T) {
	c := geo.Point{Lon: 5.2, Lat: 52.1}
	b := Around(c, 10)
	got := b.Center()
	if math.Abs(got.Lon-c.Lon) > 1e-9 || math.Abs(got.Lat-c.Lat) > 1e-9 {
		t.Fatalf("bbox center %+v, want %+v", got, c)
	}
	if !ShouldSplit(b, 9.99) {
		t.Fatalf("bbox around a point should span one full tile")
	}
	if ShouldSplit(b, 10.01) {
		t.Fatalf("bbox around a point must not exceed one tile")
	}
}
