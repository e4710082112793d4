package overpass

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tourforge/poi-catalogue/internal/geo"
)

func testQueryBounds() geo.GeofenceBounds {
	return geo.GeofenceBounds{MinLng: -3.3, MinLat: 55.9, MaxLng: -3.1, MaxLat: 56}
}

func TestBuildQuery_SingleTag(t *testing.T) {
	query, err := buildQuery(testQueryBounds(), []string{"tourism"}, 25)
	require.NoError(t, err)

	expected := "[out:json][timeout:25];\n" +
		"(\n" +
		"  node[\"tourism\"](55.9,-3.3,56,-3.1);\n" +
		"  way[\"tourism\"](55.9,-3.3,56,-3.1);\n" +
		"  relation[\"tourism\"](55.9,-3.3,56,-3.1);\n" +
		");\n" +
		"out center tags;"
	assert.Equal(t, expected, query)
}

func TestBuildQuery_NoTagsQueriesUnscoped(t *testing.T) {
	query, err := buildQuery(testQueryBounds(), nil, 180)
	require.NoError(t, err)
	assert.Contains(t, query, "  node(55.9,-3.3,56,-3.1);")
	assert.Contains(t, query, "  relation(55.9,-3.3,56,-3.1);")
}

func TestBuildQuery_MultipleTagsRepeatElementTypes(t *testing.T) {
	query, err := buildQuery(testQueryBounds(), []string{"tourism", "amenity=cafe"}, 180)
	require.NoError(t, err)
	assert.Contains(t, query, `node["tourism"]`)
	assert.Contains(t, query, `way["amenity"="cafe"]`)
	assert.Contains(t, query, `relation["amenity"="cafe"]`)
}

func TestBuildQuery_DegenerateBoundsRejected(t *testing.T) {
	flat := geo.GeofenceBounds{MinLng: -3.3, MinLat: 55.9, MaxLng: -3.3, MaxLat: 56}
	_, err := buildQuery(flat, []string{"tourism"}, 180)
	require.Error(t, err)

	var opErr *Error
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, KindInvalidRequest, opErr.Kind)
	assert.False(t, opErr.Retryable())
}

func TestBuildTagSelector(t *testing.T) {
	tests := []struct {
		name    string
		tag     string
		want    string
		wantErr bool
	}{
		{"key only", "tourism", `["tourism"]`, false},
		{"key and value", "amenity=cafe", `["amenity"="cafe"]`, false},
		{"trims whitespace", " historic = castle ", `["historic"="castle"]`, false},
		{"escapes quotes", `name="quoted"`, `["name"="\"quoted\""]`, false},
		{"escapes backslashes", `key=a\b`, `["key"="a\\b"]`, false},
		{"blank tag", "   ", "", true},
		{"empty key", "=value", "", true},
		{"empty value", "amenity=", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildTagSelector(tt.tag)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
