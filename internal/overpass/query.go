package overpass

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/reservemap/reservemap/internal/geo"
)

// The server rejects evaluation budgets it considers excessive, so the
// in-query timeout is capped regardless of the HTTP deadline.
const maxQueryTimeout = 90

// TagFilter selects ways and relations carrying key=value.
type TagFilter struct {
	Key   string
	Value string
}

// DefaultFilters covers the tag combinations that mark protected areas.
func DefaultFilters() []TagFilter {
	return []TagFilter{
		{"leisure", "nature_reserve"},
		{"boundary", "protected_area"},
		{"boundary", "national_park"},
		{"landuse", "conservation"},
	}
}

// DefaultEndpoints are the public mirrors queried in rotation.
func DefaultEndpoints() []string {
	return []string{
		"https://overpass-api.de/api/interpreter",
		"https://overpass.kumi.systems/api/interpreter",
		"https://overpass.openstreetmap.ru/api/interpreter",
	}
}

// Query describes one Overpass request. Scope is either a bbox or a
// named area by ISO 3166-1 code; when both are set the area wins.
type Query struct {
	Timeout time.Duration
	Filters []TagFilter
	BBox    *geo.BBox
	AreaISO string
}

// Build renders the query in Overpass QL: a timeout directive, one
// way+relation pair per tag filter, recursion down to member ways,
// and inline geometry output.
func (q Query) Build() string {
	filters := q.Filters
	if len(filters) == 0 {
		filters = DefaultFilters()
	}
	qt := maxQueryTimeout
	if q.Timeout > 0 {
		if s := int(q.Timeout.Seconds()); s < qt {
			qt = s
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[out:json][timeout:%d];\n", qt)

	scope := ""
	switch {
	case q.AreaISO != "":
		fmt.Fprintf(&b, "area[\"ISO3166-1\"=%q]->.a;\n", strings.ToUpper(q.AreaISO))
		scope = "(area.a)"
	case q.BBox != nil:
		scope = fmt.Sprintf("(%s,%s,%s,%s)",
			coord(q.BBox.MinLat), coord(q.BBox.MinLon),
			coord(q.BBox.MaxLat), coord(q.BBox.MaxLon))
	}

	b.WriteString("(\n")
	for _, f := range filters {
		fmt.Fprintf(&b, "  way[%q=%q]%s;\n", f.Key, f.Value, scope)
		fmt.Fprintf(&b, "  relation[%q=%q]%s;\n", f.Key, f.Value, scope)
	}
	b.WriteString(");\n(._;>;);\nout geom;")
	return b.String()
}

func coord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
