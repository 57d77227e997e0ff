package geo

import (
	"encoding/json"
	"testing"
)

func TestMarshalGeometryClosesRings(t *testing.T) {
	open := Ring{{0, 0}, {4, 0}, {4, 4}, {0, 4}} // no closing vertex
	b, err := MarshalGeometry(Polygon{Outer: open})
	if err != nil {
		t.Fatalf("MarshalGeometry: %v", err)
	}

	var w struct {
		Type        string        `json:"type"`
		Coordinates [][][]float64 `json:"coordinates"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		t.Fatalf("unmarshal wire: %v", err)
	}
	if w.Type != "Polygon" {
		t.Fatalf("type = %q, want Polygon", w.Type)
	}
	ring := w.Coordinates[0]
	if len(ring) != 5 {
		t.Fatalf("ring length = %d, want 5 (closing vertex appended)", len(ring))
	}
	if ring[0][0] != ring[4][0] || ring[0][1] != ring[4][1] {
		t.Fatalf("ring not closed: first=%v last=%v", ring[0], ring[4])
	}
}

func TestGeometryRoundTrip(t *testing.T) {
	mp := MultiPolygon{Polygons: []Polygon{
		{Outer: square(0, 0, 2, 2), Holes: []Ring{square(0.5, 0.5, 1, 1)}},
		{Outer: square(5, 5, 6, 6)},
	}}
	b, err := MarshalGeometry(mp)
	if err != nil {
		t.Fatalf("MarshalGeometry: %v", err)
	}
	g, err := UnmarshalGeometry(b)
	if err != nil {
		t.Fatalf("UnmarshalGeometry: %v", err)
	}
	got, ok := g.(MultiPolygon)
	if !ok {
		t.Fatalf("decoded %T, want MultiPolygon", g)
	}
	if len(got.Polygons) != 2 || len(got.Polygons[0].Holes) != 1 {
		t.Fatalf("structure lost in round trip: %+v", got)
	}
	// containment must survive the trip
	if !Contains(got, Point{1.5, 1.5}) || Contains(got, Point{0.7, 0.7}) {
		t.Fatalf("containment differs after round trip")
	}
}

func TestUnmarshalGeometryRejectsOtherTypes(t *testing.T) {
	if _, err := UnmarshalGeometry([]byte(`{"type":"LineString","coordinates":[[0,0],[1,1]]}`)); err == nil {
		t.Fatalf("expected error for LineString geometry")
	}
	if _, err := UnmarshalGeometry([]byte(`{"type":"Polygon","coordinates":[]}`)); err == nil {
		t.Fatalf("expected error for empty polygon")
	}
}

func TestFeatureJSON(t *testing.T) {
	f := Feature{
		ID:       "way_42",
		Geometry: Polygon{Outer: square(5.19, 52.09, 5.21, 52.11)},
		Properties: map[string]any{
			"name":      "Amelisweerd",
			"area_type": "nature_reserve",
		},
	}
	b, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal feature: %v", err)
	}

	var back Feature
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal feature: %v", err)
	}
	if back.ID != "way_42" {
		t.Fatalf("id = %q, want way_42", back.ID)
	}
	if back.Properties["name"] != "Amelisweerd" {
		t.Fatalf("properties lost: %+v", back.Properties)
	}
	if !Contains(back.Geometry, Point{5.20, 52.10}) {
		t.Fatalf("geometry lost containment after round trip")
	}

	var bad Feature
	if err := json.Unmarshal([]byte(`{"type":"FeatureCollection"}`), &bad); err == nil {
		t.Fatalf("expected error for non-feature input")
	}
}
