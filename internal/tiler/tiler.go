// Package tiler decomposes crawl regions into tiles whose ground
// footprint stays roughly constant across latitudes.
package tiler

import (
	"math"

	"github.com/reservemap/reservemap/internal/geo"
)

const kmPerDegree = 111.0

// SizeDegrees converts a tile size in km to angular spans at the given
// latitude. The longitude span widens by 1/cos(lat) because meridians
// converge toward the poles.
func SizeDegrees(centerLat, kmPerTile float64) (latDeg, lonDeg float64) {
	latDeg = kmPerTile / kmPerDegree
	lonDeg = kmPerTile / (kmPerDegree * math.Cos(centerLat*math.Pi/180))
	return latDeg, lonDeg
}

// ShouldSplit reports whether b spans more than one tile on either axis.
func ShouldSplit(b geo.BBox, kmPerTile float64) bool {
	if kmPerTile <= 0 {
		return false
	}
	latDeg, lonDeg := SizeDegrees(b.Center().Lat, kmPerTile)
	return b.MaxLon-b.MinLon > lonDeg || b.MaxLat-b.MinLat > latDeg
}

// Split tiles b in row-major order, south to north and west to east.
// The longitude step is recomputed from each row's center latitude, so
// rows near the poles hold fewer, wider tiles. Every tile is clipped
// to b: the tiles cover b exactly and overlap only on shared edges.
func Split(b geo.BBox, kmPerTile float64) []geo.BBox {
	if kmPerTile <= 0 || b.MaxLat <= b.MinLat || b.MaxLon <= b.MinLon {
		return []geo.BBox{b}
	}
	latDeg, _ := SizeDegrees(b.Center().Lat, kmPerTile)

	var tiles []geo.BBox
	for lat := b.MinLat; lat < b.MaxLat; lat += latDeg {
		top := math.Min(lat+latDeg, b.MaxLat)
		_, lonDeg := SizeDegrees((lat+top)/2, kmPerTile)
		for lon := b.MinLon; lon < b.MaxLon; lon += lonDeg {
			right := math.Min(lon+lonDeg, b.MaxLon)
			tiles = append(tiles, geo.BBox{MinLon: lon, MinLat: lat, MaxLon: right, MaxLat: top})
		}
	}
	return tiles
}

// Around builds a single tile-sized bbox centered on a point, for
// spot imports of one location.
func Around(center geo.Point, kmPerTile float64) geo.BBox {
	latDeg, lonDeg := SizeDegrees(center.Lat, kmPerTile)
	return geo.BBox{
		MinLon: center.Lon - lonDeg/2,
		MinLat: center.Lat - latDeg/2,
		MaxLon: center.Lon + lonDeg/2,
		MaxLat: center.Lat + latDeg/2,
	}
}
