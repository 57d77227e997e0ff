package geo

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Feature is the GeoJSON-shaped unit persisted per reserve record and
// served back by the API.
type Feature struct {
	ID         string
	Geometry   Geometry
	Properties map[string]any
}

type featureWire struct {
	Type       string          `json:"type"`
	ID         string          `json:"id,omitempty"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties,omitempty"`
}

func (f Feature) MarshalJSON() ([]byte, error) {
	g, err := MarshalGeometry(f.Geometry)
	if err != nil {
		return nil, err
	}
	return json.Marshal(featureWire{
		Type:       "Feature",
		ID:         f.ID,
		Geometry:   g,
		Properties: f.Properties,
	})
}

func (f *Feature) UnmarshalJSON(b []byte) error {
	var w featureWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	if w.Type != "Feature" {
		return fmt.Errorf("not a GeoJSON feature: type %q", w.Type)
	}
	g, err := UnmarshalGeometry(w.Geometry)
	if err != nil {
		return err
	}
	f.ID = w.ID
	f.Geometry = g
	f.Properties = w.Properties
	return nil
}

// ring -> [[lon,lat], ...], closing vertex ensured
func ringCoords(r Ring) [][]float64 {
	closed := r.Closed()
	out := make([][]float64, 0, len(closed))
	for _, p := range closed {
		out = append(out, []float64{p.Lon, p.Lat})
	}
	return out
}

func coordsRing(coords [][]float64) Ring {
	r := make(Ring, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			continue
		}
		r = append(r, Point{Lon: c[0], Lat: c[1]})
	}
	return r
}

func polyCoords(p Polygon) [][][]float64 {
	out := make([][][]float64, 0, 1+len(p.Holes))
	out = append(out, ringCoords(p.Outer))
	for _, h := range p.Holes {
		out = append(out, ringCoords(h))
	}
	return out
}

func coordsPoly(coords [][][]float64) Polygon {
	var p Polygon
	if len(coords) > 0 {
		p.Outer = coordsRing(coords[0])
	}
	for i := 1; i < len(coords); i++ {
		p.Holes = append(p.Holes, coordsRing(coords[i]))
	}
	return p
}

// MarshalGeometry encodes a geometry as a GeoJSON Polygon or MultiPolygon
// object. A nil geometry encodes as JSON null.
func MarshalGeometry(g Geometry) ([]byte, error) {
	switch t := g.(type) {
	case Polygon:
		return json.Marshal(struct {
			Type        string        `json:"type"`
			Coordinates [][][]float64 `json:"coordinates"`
		}{"Polygon", polyCoords(t)})
	case MultiPolygon:
		coords := make([][][][]float64, 0, len(t.Polygons))
		for _, p := range t.Polygons {
			coords = append(coords, polyCoords(p))
		}
		return json.Marshal(struct {
			Type        string          `json:"type"`
			Coordinates [][][][]float64 `json:"coordinates"`
		}{"MultiPolygon", coords})
	case nil:
		return []byte("null"), nil
	}
	return nil, fmt.Errorf("unsupported geometry %T", g)
}

// UnmarshalGeometry decodes a GeoJSON Polygon or MultiPolygon object.
func UnmarshalGeometry(b []byte) (Geometry, error) {
	var w struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("parse geometry: %w", err)
	}
	switch w.Type {
	case "Polygon":
		var coords [][][]float64
		if err := json.Unmarshal(w.Coordinates, &coords); err != nil {
			return nil, fmt.Errorf("parse polygon coordinates: %w", err)
		}
		if len(coords) == 0 {
			return nil, errors.New("empty polygon")
		}
		return coordsPoly(coords), nil
	case "MultiPolygon":
		var coords [][][][]float64
		if err := json.Unmarshal(w.Coordinates, &coords); err != nil {
			return nil, fmt.Errorf("parse multipolygon coordinates: %w", err)
		}
		if len(coords) == 0 {
			return nil, errors.New("empty multipolygon")
		}
		mp := MultiPolygon{Polygons: make([]Polygon, 0, len(coords))}
		for _, pc := range coords {
			mp.Polygons = append(mp.Polygons, coordsPoly(pc))
		}
		return mp, nil
	}
	return nil, fmt.Errorf("unsupported GeoJSON type %q", w.Type)
}
