// Package osmpbf extracts candidate points of interest from OpenStreetMap
// PBF extracts.
//
// Extraction is a two-pass scan. The first pass emits tagged nodes directly
// and collects the node references of tagged ways and relations; the second
// pass resolves those references to coordinates so each way or relation can
// be placed at the centroid of its member nodes.
package osmpbf

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/paulmach/osm"
	pbf "github.com/paulmach/osm/osmpbf"

	"github.com/tourforge/poi-catalogue/internal/catalog"
	"github.com/tourforge/poi-catalogue/internal/geo"
)

// pendingElement is a tagged way or relation awaiting coordinate resolution.
type pendingElement struct {
	elementType string
	id          int64
	tags        map[string]string
	nodeRefs    []int64
}

type extract struct {
	pois    []catalog.PointOfInterest
	pending []pendingElement
	wanted  map[int64]struct{}
}

// ExtractPOIs scans the PBF extract at path and returns every element that
// passes the catalogue candidate predicate. Nodes carry their own
// coordinates; ways and relations are placed at the centroid of their
// resolvable member nodes and dropped when no member node is present in the
// extract.
func ExtractPOIs(ctx context.Context, path string) ([]catalog.PointOfInterest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open extract %s: %w", path, err)
	}
	defer f.Close()

	ex := &extract{wanted: make(map[int64]struct{})}
	if err := ex.scanTagged(ctx, f); err != nil {
		return nil, err
	}

	locations := map[int64]geo.Point{}
	if len(ex.wanted) > 0 {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("failed to rewind extract %s: %w", path, err)
		}
		locations, err = ex.resolveLocations(ctx, f)
		if err != nil {
			return nil, err
		}
	}

	return append(ex.pois, resolvePending(ex.pending, locations)...), nil
}

func (ex *extract) scanTagged(ctx context.Context, r io.Reader) error {
	scanner := pbf.New(ctx, r, runtime.GOMAXPROCS(0))
	defer scanner.Close()

	for scanner.Scan() {
		switch element := scanner.Object().(type) {
		case *osm.Node:
			if tags, ok := candidateTags(element.Tags); ok {
				ex.pois = append(ex.pois, catalog.PointOfInterest{
					ElementType: "node",
					ElementID:   int64(element.ID),
					Location:    geo.Point{Lng: element.Lon, Lat: element.Lat},
					Tags:        tags,
				})
			}
		case *osm.Way:
			tags, ok := candidateTags(element.Tags)
			if !ok {
				continue
			}
			refs := make([]int64, 0, len(element.Nodes))
			for _, node := range element.Nodes {
				refs = append(refs, int64(node.ID))
			}
			ex.addPending("way", int64(element.ID), tags, refs)
		case *osm.Relation:
			tags, ok := candidateTags(element.Tags)
			if !ok {
				continue
			}
			var refs []int64
			for _, member := range element.Members {
				if member.Type == osm.TypeNode {
					refs = append(refs, member.Ref)
				}
			}
			ex.addPending("relation", int64(element.ID), tags, refs)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to decode extract: %w", err)
	}
	return nil
}

func (ex *extract) addPending(elementType string, id int64, tags map[string]string, refs []int64) {
	if len(refs) == 0 {
		return
	}
	for _, ref := range refs {
		ex.wanted[ref] = struct{}{}
	}
	ex.pending = append(ex.pending, pendingElement{
		elementType: elementType,
		id:          id,
		tags:        tags,
		nodeRefs:    refs,
	})
}

// resolveLocations re-scans only the node blocks, keeping coordinates for
// the node IDs some pending way or relation references.
func (ex *extract) resolveLocations(ctx context.Context, r io.Reader) (map[int64]geo.Point, error) {
	scanner := pbf.New(ctx, r, runtime.GOMAXPROCS(0))
	defer scanner.Close()
	scanner.SkipWays = true
	scanner.SkipRelations = true

	locations := make(map[int64]geo.Point, len(ex.wanted))
	for scanner.Scan() {
		node, ok := scanner.Object().(*osm.Node)
		if !ok {
			continue
		}
		if _, want := ex.wanted[int64(node.ID)]; want {
			locations[int64(node.ID)] = geo.Point{Lng: node.Lon, Lat: node.Lat}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to resolve node locations: %w", err)
	}
	return locations, nil
}

// candidateTags converts element tags to a map when the element qualifies as
// a catalogue candidate. The name lookup runs on the raw tag list first so
// the vast majority of elements never allocate a map.
func candidateTags(tags osm.Tags) (map[string]string, bool) {
	if tags.Find("name") == "" {
		return nil, false
	}
	m := tags.Map()
	if !catalog.IsCandidate(m) {
		return nil, false
	}
	return m, true
}

// resolvePending places each pending way and relation at the centroid of its
// resolved member nodes.
func resolvePending(pending []pendingElement, locations map[int64]geo.Point) []catalog.PointOfInterest {
	pois := make([]catalog.PointOfInterest, 0, len(pending))
	for _, el := range pending {
		location, ok := centroid(el.nodeRefs, locations)
		if !ok {
			continue
		}
		pois = append(pois, catalog.PointOfInterest{
			ElementType: el.elementType,
			ElementID:   el.id,
			Location:    location,
			Tags:        el.tags,
		})
	}
	return pois
}

func centroid(refs []int64, locations map[int64]geo.Point) (geo.Point, bool) {
	var lngSum, latSum float64
	var count int
	for _, ref := range refs {
		p, ok := locations[ref]
		if !ok {
			continue
		}
		lngSum += p.Lng
		latSum += p.Lat
		count++
	}
	if count == 0 {
		return geo.Point{}, false
	}
	return geo.Point{Lng: lngSum / float64(count), Lat: latSum / float64(count)}, true
}
