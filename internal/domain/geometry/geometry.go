// Package geometry turns site points into search polygons and back.
//
// Sites are read from a GeoJSON FeatureCollection of points, buffered by a
// distance in metres and reduced to their bounding box in EPSG:4326. The
// boxes are kept as a FeatureCollection so a site's search geometry can be
// looked up again by id.
package geometry

import (
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"

	"github.com/okian/atlasbatch/internal/domain/model"
)

// IDProperty is the property holding the site id when no uid column is set.
const IDProperty = "site_id"

// Point is one input location.
type Point struct {
	ID    int
	Point orb.Point
}

// ReadPoints loads a GeoJSON FeatureCollection of points from path.
func ReadPoints(path, uidColumn string) ([]Point, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sites %s: %w", path, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse sites %s: %w", path, err)
	}
	return Points(fc, uidColumn)
}

// Points extracts point sites from fc. Features without geometry are dropped.
// With an empty uidColumn the 1-based feature position is the id.
func Points(fc *geojson.FeatureCollection, uidColumn string) ([]Point, error) {
	seen := make(map[int]struct{}, len(fc.Features))
	out := make([]Point, 0, len(fc.Features))
	for i, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		p, ok := f.Geometry.(orb.Point)
		if !ok {
			return nil, model.Invalid("geometry", "feature %d is a %s, want Point", i, f.Geometry.GeoJSONType())
		}

		id := i + 1
		if uidColumn != "" {
			v, err := propertyID(f.Properties, uidColumn)
			if err != nil {
				return nil, model.Invalid(uidColumn, "feature %d: %v", i, err)
			}
			id = v
		}
		if _, dup := seen[id]; dup {
			return nil, model.Invalid(uidColumn, "duplicate site id %d", id)
		}
		seen[id] = struct{}{}
		out = append(out, Point{ID: id, Point: p})
	}
	return out, nil
}

// Buffer returns the bounding box of a circle of radius metres around p.
func Buffer(p orb.Point, metres float64) orb.Polygon {
	return geo.NewBoundAroundPoint(p, metres).ToPolygon()
}

// Sites buffers every point into a search polygon.
func Sites(points []Point, metres float64) []model.Site {
	sites := make([]model.Site, 0, len(points))
	for _, p := range points {
		sites = append(sites, model.Site{ID: p.ID, Geometry: Buffer(p.Point, metres)})
	}
	return sites
}

// InRange keeps sites with start <= id and, when end > 0, id <= end, sorted by id.
func InRange(sites []model.Site, start, end int) []model.Site {
	out := make([]model.Site, 0, len(sites))
	for _, s := range sites {
		if s.ID < start || (end > 0 && s.ID > end) {
			continue
		}
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b model.Site) int { return a.ID - b.ID })
	return out
}

// SearchCollection stores site polygons as features keyed by uidColumn.
func SearchCollection(sites []model.Site, uidColumn string) *geojson.FeatureCollection {
	if uidColumn == "" {
		uidColumn = IDProperty
	}
	fc := geojson.NewFeatureCollection()
	for _, s := range sites {
		f := geojson.NewFeature(s.Geometry)
		f.Properties[uidColumn] = s.ID
		fc.Append(f)
	}
	return fc
}

// FeatureByID returns the geometry of the feature whose uidColumn equals id.
func FeatureByID(fc *geojson.FeatureCollection, uidColumn string, id int) (orb.Geometry, error) {
	if uidColumn == "" {
		uidColumn = IDProperty
	}
	var found orb.Geometry
	for _, f := range fc.Features {
		v, err := propertyID(f.Properties, uidColumn)
		if err != nil || v != id {
			continue
		}
		if found != nil {
			return nil, model.Invalid(uidColumn, "duplicate site id %d", id)
		}
		found = f.Geometry
	}
	if found == nil {
		return nil, model.Invalid(uidColumn, "no feature with id %d", id)
	}
	return found, nil
}

// WriteCollection saves fc as GeoJSON.
func WriteCollection(path string, fc *geojson.FeatureCollection) error {
	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode search collection: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // shared output, not a secret
		return fmt.Errorf("write search collection %s: %w", path, err)
	}
	return nil
}

func propertyID(props geojson.Properties, key string) (int, error) {
	raw, ok := props[key]
	if !ok || raw == nil {
		return 0, fmt.Errorf("missing property %q", key)
	}
	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("property %q is not an integer: %v", key, v)
		}
		return int(v), nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("property %q: %w", key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("property %q has type %T", key, raw)
	}
}
