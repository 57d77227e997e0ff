package extract

import (
	"fmt"
	"strings"

	"github.com/reservemap/reservemap/internal/geo"
	"github.com/reservemap/reservemap/internal/model"
	"github.com/reservemap/reservemap/internal/overpass"
)

// Stats counts what happened to each element of a batch. Dropped
// elements are tallied, never fatal.
type Stats struct {
	Elements        int
	Nodes           int
	MissingTags     int
	MissingGeometry int
	MissingMembers  int
	Kept            int
}

func (s Stats) String() string {
	return fmt.Sprintf("%d elements: %d kept, %d nodes, %d missing tags, %d missing geometry, %d unresolved members",
		s.Elements, s.Kept, s.Nodes, s.MissingTags, s.MissingGeometry, s.MissingMembers)
}

// Records converts one response into reserve records.
func Records(resp *overpass.Response) ([]model.Reserve, Stats) {
	stats := Stats{Elements: len(resp.Elements)}
	idx := NewWayIndex(resp.Elements)

	var out []model.Reserve
	for _, el := range resp.Elements {
		if el.Type == "node" {
			stats.Nodes++
			continue
		}
		if !Interesting(el.Tags) {
			stats.MissingTags++
			continue
		}
		g, missing := Reconstruct(el, idx)
		stats.MissingMembers += missing
		if g == nil {
			stats.MissingGeometry++
			continue
		}
		bbox, ok := geo.BBoxOf(g)
		if !ok {
			stats.MissingGeometry++
			continue
		}

		name := el.Tags["name"]
		if name == "" {
			name = el.Tags["name:en"]
		}
		areaType, pc := Classify(el.Tags)
		ops := splitOperators(el.Tags["operator"])
		id := fmt.Sprintf("%s_%d", el.Type, el.ID)

		out = append(out, model.Reserve{
			ID:           id,
			Source:       model.SourceOSM,
			Name:         name,
			AreaType:     areaType,
			ProtectClass: pc,
			Operators:    ops,
			Tags:         el.Tags,
			BBox:         bbox,
			Features:     []geo.Feature{feature(id, el.Type, name, areaType, pc, ops, el.Tags, g)},
		})
		stats.Kept++
	}
	return out, stats
}

// feature mirrors the shape served by the API and exported to tile
// builders: the element's tags plus the derived identity fields.
func feature(id, osmType, name, areaType, pc string, ops []string, tags map[string]string, g geo.Geometry) geo.Feature {
	props := make(map[string]any, len(tags)+6)
	for k, v := range tags {
		props[k] = v
	}
	props["id"] = id
	props["osm_type"] = osmType
	props["name"] = name
	props["area_type"] = areaType
	opIDs := make([]string, len(ops))
	for i, o := range ops {
		opIDs[i] = model.OperatorID(o)
	}
	props["operator_ids"] = strings.Join(opIDs, ",")
	if pc != "" {
		props["protect_class"] = pc
	}
	if mp, ok := g.(geo.MultiPolygon); ok && mp.HolesMisattributed {
		props["holes_misattributed"] = true
	}
	return geo.Feature{ID: id, Geometry: g, Properties: props}
}

func splitOperators(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ";") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
