package geometry_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/atlasbatch/internal/domain/geometry"
	"github.com/okian/atlasbatch/internal/domain/model"
)

const pointsDoc = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [103.8198, 1.3521]}, "properties": {"image_id": 7}},
    {"type": "Feature", "geometry": null, "properties": {"image_id": 8}},
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [103.7, 1.4]}, "properties": {"image_id": "3"}}
  ]
}`

func TestReadPoints(t *testing.T) {
	convey.Convey("Given a GeoJSON file of site points", t, func() {
		path := filepath.Join(t.TempDir(), "sites.geojson")
		convey.So(os.WriteFile(path, []byte(pointsDoc), 0o600), convey.ShouldBeNil)

		convey.Convey("When reading with the uid column", func() {
			points, err := geometry.ReadPoints(path, "image_id")

			convey.Convey("Then empty geometries are dropped and ids parsed", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(points, convey.ShouldHaveLength, 2)
				convey.So(points[0].ID, convey.ShouldEqual, 7)
				convey.So(points[0].Point, convey.ShouldResemble, orb.Point{103.8198, 1.3521})
				convey.So(points[1].ID, convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When reading without a uid column", func() {
			points, err := geometry.ReadPoints(path, "")

			convey.Convey("Then the feature position is the id", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(points[0].ID, convey.ShouldEqual, 1)
				convey.So(points[1].ID, convey.ShouldEqual, 3)
			})
		})
	})

	convey.Convey("Given malformed site collections", t, func() {
		var verr *model.ValidationError

		convey.Convey("When two features share an id", func() {
			fc := geojson.NewFeatureCollection()
			for range 2 {
				f := geojson.NewFeature(orb.Point{1, 1})
				f.Properties["image_id"] = 5
				fc.Append(f)
			}
			_, err := geometry.Points(fc, "image_id")

			convey.Convey("Then it is a validation error", func() {
				convey.So(errors.As(err, &verr), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "duplicate site id 5")
			})
		})

		convey.Convey("When a feature is not a point", func() {
			fc := geojson.NewFeatureCollection()
			fc.Append(geojson.NewFeature(orb.LineString{{0, 0}, {1, 1}}))
			_, err := geometry.Points(fc, "")

			convey.Convey("Then it is a validation error", func() {
				convey.So(errors.As(err, &verr), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "LineString")
			})
		})
	})
}

func TestBuffer(t *testing.T) {
	convey.Convey("Given a point near the equator", t, func() {
		p := orb.Point{103.8198, 1.3521}

		convey.Convey("When buffering by 750 metres", func() {
			poly := geometry.Buffer(p, 750)
			bound := poly.Bound()

			convey.Convey("Then the box is closed and centred on the point", func() {
				convey.So(poly, convey.ShouldHaveLength, 1)
				convey.So(poly[0].Closed(), convey.ShouldBeTrue)
				convey.So(bound.Center()[0], convey.ShouldAlmostEqual, p[0], 1e-9)
				convey.So(bound.Center()[1], convey.ShouldAlmostEqual, p[1], 1e-9)
			})

			convey.Convey("Then the box spans about 1500 metres north to south", func() {
				height := geo.Distance(orb.Point{p[0], bound.Min[1]}, orb.Point{p[0], bound.Max[1]})
				convey.So(height, convey.ShouldAlmostEqual, 1500, 5)
			})
		})
	})
}

func TestInRange(t *testing.T) {
	convey.Convey("Given unordered sites", t, func() {
		sites := []model.Site{{ID: 9}, {ID: 2}, {ID: 5}, {ID: 1}}

		convey.Convey("Then a bounded range is inclusive and sorted", func() {
			got := geometry.InRange(sites, 2, 5)
			convey.So(got, convey.ShouldResemble, []model.Site{{ID: 2}, {ID: 5}})
		})

		convey.Convey("Then a zero end is unbounded", func() {
			got := geometry.InRange(sites, 2, 0)
			convey.So(got, convey.ShouldResemble, []model.Site{{ID: 2}, {ID: 5}, {ID: 9}})
		})
	})
}

func TestSearchCollectionRoundTrip(t *testing.T) {
	convey.Convey("Given buffered sites", t, func() {
		sites := geometry.Sites([]geometry.Point{
			{ID: 7, Point: orb.Point{103.8198, 1.3521}},
			{ID: 11, Point: orb.Point{-0.1276, 51.5072}},
		}, 750)

		convey.Convey("When the search collection is written and read back", func() {
			path := filepath.Join(t.TempDir(), "search.geojson")
			convey.So(geometry.WriteCollection(path, geometry.SearchCollection(sites, "image_id")), convey.ShouldBeNil)

			data, err := os.ReadFile(path)
			convey.So(err, convey.ShouldBeNil)
			fc, err := geojson.UnmarshalFeatureCollection(data)
			convey.So(err, convey.ShouldBeNil)

			got, err := geometry.FeatureByID(fc, "image_id", 7)

			convey.Convey("Then the geometry is byte-identical", func() {
				convey.So(err, convey.ShouldBeNil)
				want, _ := json.Marshal(geojson.NewGeometry(sites[0].Geometry))
				have, _ := json.Marshal(geojson.NewGeometry(got))
				convey.So(string(have), convey.ShouldEqual, string(want))
			})

			convey.Convey("Then an unknown id is a validation error", func() {
				_, err := geometry.FeatureByID(fc, "image_id", 99)
				var verr *model.ValidationError
				convey.So(errors.As(err, &verr), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When no uid column is given", func() {
			fc := geometry.SearchCollection(sites, "")

			convey.Convey("Then the default id property is used", func() {
				convey.So(fc.Features[1].Properties[geometry.IDProperty], convey.ShouldEqual, 11)
				g, err := geometry.FeatureByID(fc, "", 11)
				convey.So(err, convey.ShouldBeNil)
				convey.So(g, convey.ShouldResemble, sites[1].Geometry)
			})
		})
	})
}
