package extract

import (
	"strings"

	"github.com/reservemap/reservemap/internal/model"
)

var interestKeys = []string{"leisure", "boundary", "landuse", "protect_class", "natural"}

// Interesting reports whether the tag set carries any key that can
// classify the element. Elements without one are member fragments or
// unrelated features and are dropped upstream.
func Interesting(tags map[string]string) bool {
	for _, k := range interestKeys {
		if _, ok := tags[k]; ok {
			return true
		}
	}
	return false
}

// Classify maps a tag set to an area-type label and protect class.
// First match wins.
func Classify(tags map[string]string) (areaType, protectClass string) {
	pc := strings.TrimSpace(tags["protect_class"])
	switch {
	case tags["leisure"] == "nature_reserve":
		return model.AreaNatureReserve, pc
	case tags["boundary"] == "national_park":
		return "national_park_class_" + orUnknown(pc), pc
	case tags["boundary"] == "protected_area":
		return "protected_area_class_" + orUnknown(pc), pc
	case tags["landuse"] == "conservation":
		return "conservation", pc
	default:
		return "other", pc
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
