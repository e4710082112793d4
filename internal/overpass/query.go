package overpass

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tourforge/poi-catalogue/internal/geo"
)

// buildQuery renders one Overpass QL query covering nodes, ways, and
// relations for every tag selector inside the bounding box.
func buildQuery(bounds geo.GeofenceBounds, tags []string, timeoutSeconds int) (string, error) {
	if err := validateQueryBounds(bounds); err != nil {
		return "", err
	}

	// Overpass bounding boxes are (south,west,north,east).
	bbox := fmt.Sprintf("(%s,%s,%s,%s)",
		formatCoord(bounds.MinLat), formatCoord(bounds.MinLng),
		formatCoord(bounds.MaxLat), formatCoord(bounds.MaxLng))

	selectors := []string{""}
	if len(tags) > 0 {
		selectors = selectors[:0]
		for _, tag := range tags {
			selector, err := buildTagSelector(tag)
			if err != nil {
				return "", err
			}
			selectors = append(selectors, selector)
		}
	}

	var lines []string
	for _, selector := range selectors {
		for _, elementType := range []string{"node", "way", "relation"} {
			lines = append(lines, fmt.Sprintf("  %s%s%s;", elementType, selector, bbox))
		}
	}

	return fmt.Sprintf("[out:json][timeout:%d];\n(\n%s\n);\nout center tags;",
		timeoutSeconds, strings.Join(lines, "\n")), nil
}

func validateQueryBounds(bounds geo.GeofenceBounds) error {
	coords := []float64{bounds.MinLng, bounds.MinLat, bounds.MaxLng, bounds.MaxLat}
	for _, c := range coords {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return &Error{Kind: KindInvalidRequest, Message: "bounding box must contain finite coordinates"}
		}
	}
	// A degenerate box would query a line or a point; reject it here rather
	// than letting Overpass return an empty set silently.
	if bounds.MinLng >= bounds.MaxLng || bounds.MinLat >= bounds.MaxLat {
		return &Error{Kind: KindInvalidRequest, Message: "bounding box must be ordered min_lng,min_lat,max_lng,max_lat"}
	}
	if bounds.MinLng < -180 || bounds.MinLng > 180 || bounds.MaxLng < -180 || bounds.MaxLng > 180 {
		return &Error{Kind: KindInvalidRequest, Message: "longitude must be within [-180, 180]"}
	}
	if bounds.MinLat < -90 || bounds.MinLat > 90 || bounds.MaxLat < -90 || bounds.MaxLat > 90 {
		return &Error{Kind: KindInvalidRequest, Message: "latitude must be within [-90, 90]"}
	}
	return nil
}

// buildTagSelector turns "key" or "key=value" into a quoted Overpass filter.
func buildTagSelector(tag string) (string, error) {
	trimmed := strings.TrimSpace(tag)
	if trimmed == "" {
		return "", &Error{Kind: KindInvalidRequest, Message: "tags must not include blank values"}
	}

	key, value, hasValue := strings.Cut(trimmed, "=")
	key = strings.TrimSpace(key)
	if key == "" {
		return "", &Error{Kind: KindInvalidRequest, Message: "tags must provide a non-empty key"}
	}
	if !hasValue {
		return fmt.Sprintf(`["%s"]`, escapeQuoted(key)), nil
	}

	value = strings.TrimSpace(value)
	if value == "" {
		return "", &Error{Kind: KindInvalidRequest, Message: "tags must not include empty values"}
	}
	return fmt.Sprintf(`["%s"="%s"]`, escapeQuoted(key), escapeQuoted(value)), nil
}

func escapeQuoted(raw string) string {
	return strings.ReplaceAll(strings.ReplaceAll(raw, `\`, `\\`), `"`, `\"`)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
