package wdpa

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	shp "github.com/jonas-p/go-shp"

	"github.com/reservemap/reservemap/internal/geo"
	"github.com/reservemap/reservemap/internal/model"
)

// Protected Planet classifies sites by IUCN category. The category
// fixes both the protect class and the area type; anything outside the
// table ("Not Reported", "Not Assigned", "Not Applicable") stays a
// generic protected area without a class.
var iucnProtectClass = map[string]string{
	"Ia":  "1a",
	"Ib":  "1b",
	"II":  "2",
	"III": "3",
	"IV":  "4",
	"V":   "5",
	"VI":  "6",
}

var iucnAreaType = map[string]string{
	"Ia":  model.AreaNatureReserve,
	"Ib":  model.AreaNatureReserve,
	"II":  model.AreaNationalPark,
	"III": model.AreaNatureMonument,
	"IV":  model.AreaHabitatManagement,
	"V":   model.AreaProtectedLandscape,
	"VI":  model.AreaSustainableUse,
}

func classify(iucnCat string) (areaType, protectClass string) {
	if at, ok := iucnAreaType[iucnCat]; ok {
		return at, iucnProtectClass[iucnCat]
	}
	return model.AreaProtectedArea, ""
}

// tagFields maps persisted tag keys to their attribute-table fields.
var tagFields = map[string]string{
	"desig":      "DESIG",
	"desig_eng":  "DESIG_ENG",
	"desig_type": "DESIG_TYPE",
	"iucn_cat":   "IUCN_CAT",
	"iso3":       "ISO3",
	"prnt_iso3":  "PRNT_ISO3",
	"status":     "STATUS",
	"status_yr":  "STATUS_YR",
	"mang_auth":  "MANG_AUTH",
	"mang_plan":  "MANG_PLAN",
	"rep_area":   "REP_AREA",
	"gis_area":   "GIS_AREA",
	"realm":      "REALM",
	"site_type":  "SITE_TYPE",
	"gov_type":   "GOV_TYPE",
	"own_type":   "OWN_TYPE",
	"verif":      "VERIF",
	"int_crit":   "INT_CRIT",
	"no_take":    "NO_TAKE",
	"wdpaid":     "SITE_ID",
}

// attrs is one attribute-table row keyed by field name.
type attrs map[string]string

func rowAttrs(r shp.SequentialReader) attrs {
	fields := r.Fields()
	a := make(attrs, len(fields))
	for i, f := range fields {
		a[f.String()] = strings.TrimSpace(r.Attribute(i))
	}
	return a
}

// normalize strips the decimal tail off integral numerics, which the
// attribute table renders as "2016.0000000000" for year and id fields.
// Everything else passes through unchanged.
func normalize(v string) string {
	if !strings.Contains(v, ".") {
		return v
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return v
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return v
}

// dropValue reports whether an attribute value carries no information.
func dropValue(s string) bool {
	l := strings.ToLower(s)
	return l == "" || l == "not reported" || l == "not applicable"
}

func curatedTags(a attrs) map[string]string {
	tags := make(map[string]string, len(tagFields))
	for key, field := range tagFields {
		v := normalize(a[field])
		if dropValue(v) {
			continue
		}
		tags[key] = v
	}
	return tags
}

// operators splits the managing-authority field on semicolons. Sites
// managed by several bodies list them all in one attribute.
func operators(mangAuth string) []string {
	if mangAuth == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(mangAuth, ";") {
		name := strings.TrimSpace(part)
		if dropValue(name) {
			continue
		}
		out = append(out, name)
	}
	return out
}

// buildRecord maps one row to a reserve. A non-empty reason means the
// row was filtered out or cannot yield a usable record.
func buildRecord(a attrs, shape shp.Shape, cfg Config) (model.Reserve, string) {
	iso3 := a["ISO3"]
	if cfg.Country != "" && !strings.EqualFold(iso3, cfg.Country) {
		return model.Reserve{}, "outside country filter"
	}

	siteID := normalize(a["SITE_ID"])
	if siteID == "" || siteID == "0" {
		return model.Reserve{}, "missing site id"
	}
	id := "wdpa_" + siteID

	name := a["NAME_ENG"]
	if name == "" {
		name = a["NAME"]
	}
	areaType, pc := classify(a["IUCN_CAT"])
	tags := curatedTags(a)
	ops := operators(a["MANG_AUTH"])

	var bbox geo.BBox
	var features []geo.Feature
	switch s := shape.(type) {
	case *shp.Polygon:
		g, ok := geometry(rings(s.Points, s.Parts))
		if !ok {
			return model.Reserve{}, "no usable rings"
		}
		bbox = geo.BBox{MinLon: s.Box.MinX, MinLat: s.Box.MinY, MaxLon: s.Box.MaxX, MaxLat: s.Box.MaxY}
		features = []geo.Feature{feature(id, name, areaType, pc, ops, tags, g)}
	case *shp.Point:
		// Point-only sites carry no renderable area. The degenerate
		// bbox still lets them show up in listings and point queries.
		bbox = geo.BBox{MinLon: s.X, MinLat: s.Y, MaxLon: s.X, MaxLat: s.Y}
	default:
		return model.Reserve{}, fmt.Sprintf("unsupported shape %T", shape)
	}

	return model.Reserve{
		ID:           id,
		Source:       model.SourceWDPA,
		Name:         name,
		AreaType:     areaType,
		ProtectClass: pc,
		Operators:    ops,
		Tags:         tags,
		BBox:         bbox,
		Features:     features,
	}, ""
}

// feature mirrors the shape served by the API: the curated tags plus
// the derived identity fields.
func feature(id, name, areaType, pc string, ops []string, tags map[string]string, g geo.Geometry) geo.Feature {
	props := make(map[string]any, len(tags)+5)
	for k, v := range tags {
		props[k] = v
	}
	props["id"] = id
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
	return geo.Feature{ID: id, Geometry: g, Properties: props}
}
