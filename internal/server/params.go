package server

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/reservemap/reservemap/internal/geo"
	"github.com/reservemap/reservemap/internal/model"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

var worldBBox = geo.BBox{MinLon: -180, MinLat: -90, MaxLon: 180, MaxLat: 90}

// parseBBox reads an optional bbox=minLon,minLat,maxLon,maxLat parameter.
// Absent means the whole world.
func parseBBox(q url.Values) (geo.BBox, error) {
	raw := strings.TrimSpace(q.Get("bbox"))
	if raw == "" {
		return worldBBox, nil
	}
	b, err := geo.ParseBBox(raw)
	if err != nil {
		return geo.BBox{}, fmt.Errorf("bbox: %w", err)
	}
	if b.MinLon < -180 || b.MaxLon > 180 || b.MinLat < -90 || b.MaxLat > 90 {
		return geo.BBox{}, fmt.Errorf("bbox %s out of range", raw)
	}
	return b, nil
}

func parsePoint(q url.Values) (geo.Point, error) {
	lon, err := parseFloat(q, "lon", -180, 180)
	if err != nil {
		return geo.Point{}, err
	}
	lat, err := parseFloat(q, "lat", -90, 90)
	if err != nil {
		return geo.Point{}, err
	}
	return geo.Point{Lon: lon, Lat: lat}, nil
}

func parseFloat(q url.Values, name string, min, max float64) (float64, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: not a number", name)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("%s %g out of range [%g, %g]", name, v, min, max)
	}
	return v, nil
}

func parseFilter(q url.Values) (model.Filter, error) {
	var f model.Filter
	if raw := strings.TrimSpace(q.Get("source")); raw != "" {
		src := model.Source(raw)
		if !src.Valid() {
			return model.Filter{}, fmt.Errorf("source %q unknown", raw)
		}
		f.Source = src
	}
	f.Operator = strings.TrimSpace(q.Get("operator"))
	f.AreaTypes = parseList(q.Get("area_type"))
	f.ProtectClasses = parseList(q.Get("protect_class"))
	return f, nil
}

func parseList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func parsePage(q url.Values) (limit, offset int, err error) {
	limit = defaultLimit
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return 0, 0, fmt.Errorf("limit %q invalid", raw)
		}
		if limit > maxLimit {
			limit = maxLimit
		}
	}
	if raw := strings.TrimSpace(q.Get("offset")); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("offset %q invalid", raw)
		}
	}
	return limit, offset, nil
}
