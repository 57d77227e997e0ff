package crawl

import (
	"sort"

	"github.com/reservemap/reservemap/internal/geo"
)

// Regions maps preset names to crawl bounding boxes: whole countries,
// the two Dutch provinces used for partial imports, and two small test
// areas (one around Utrecht, one around De Deelen in Friesland).
var Regions = map[string]geo.BBox{
	"netherlands": {MinLon: 3.2, MinLat: 50.75, MaxLon: 7.2, MaxLat: 53.7},
	"spain":       {MinLon: -9.3, MinLat: 36.0, MaxLon: 4.3, MaxLat: 43.8},
	"france":      {MinLon: -5.5, MinLat: 41.3, MaxLon: 9.6, MaxLat: 51.1},
	"switzerland": {MinLon: 5.9, MinLat: 45.8, MaxLon: 10.5, MaxLat: 47.8},
	"germany":     {MinLon: 5.9, MinLat: 47.3, MaxLon: 15.0, MaxLat: 55.1},
	"belgium":     {MinLon: 2.5, MinLat: 49.5, MaxLon: 6.4, MaxLat: 51.5},
	"italy":       {MinLon: 6.6, MinLat: 36.6, MaxLon: 18.5, MaxLat: 47.1},
	"norway":      {MinLon: 4.6, MinLat: 57.9, MaxLon: 31.1, MaxLat: 71.2},

	"utrecht":   {MinLon: 4.8, MinLat: 51.9, MaxLon: 5.5, MaxLat: 52.3},
	"friesland": {MinLon: 4.8697, MinLat: 52.8008, MaxLon: 6.4288, MaxLat: 53.5112},

	"test-utrecht":   {MinLon: 5.14134, MinLat: 52.07195, MaxLon: 5.28734, MaxLat: 52.16195},
	"test-de-deelen": {MinLon: 5.8, MinLat: 52.95, MaxLon: 6.0, MaxLat: 53.1},
}

// RegionNames returns the preset names in sorted order for usage text.
func RegionNames() []string {
	names := make([]string, 0, len(Regions))
	for name := range Regions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
