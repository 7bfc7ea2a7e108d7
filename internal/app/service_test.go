package service

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/atlasbatch/internal/adapters/archive"
	"github.com/okian/atlasbatch/internal/adapters/oneatlas"
	"github.com/okian/atlasbatch/internal/adapters/repository"
	"github.com/okian/atlasbatch/internal/config"
	"github.com/okian/atlasbatch/internal/domain/model"
	"github.com/okian/atlasbatch/pkg/logger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.New()
	cfg.APIKey = "key"
	cfg.InputGDB = "sites.geojson"
	cfg.OutputDir = t.TempDir()
	cfg.PollInterval = time.Millisecond
	cfg.PollMaxInterval = 4 * time.Millisecond
	cfg.PollTimeout = 2 * time.Second
	return cfg
}

func newTestService(t *testing.T, cfg *config.Config, fc *fakeClient, opts ...Option) *Service {
	t.Helper()
	if err := logger.Init(); err != nil {
		t.Fatalf("logger init: %v", err)
	}
	unpacker := archive.New(
		archive.WithExtension(cfg.RasterExtension),
		archive.WithDeleteArchive(cfg.DeleteArchive))
	return New(cfg, fc, unpacker, opts...)
}

func TestRunSingleSite(t *testing.T) {
	Convey("Given site 7 with three candidate scenes", t, func() {
		cfg := testConfig(t)
		fc := newFakeClient()
		fc.pendingPolls = 2
		fc.features[7] = []oneatlas.Feature{
			scene("img-jan", "2024-01-01", 10),
			scene("img-mar", "2024-03-01", 40),
			scene("img-feb", "2024-02-01", 5),
		}
		svc := newTestService(t, cfg, fc)

		Convey("When the run completes", func() {
			sum, err := svc.Run(context.Background(), []model.Site{testSite(7)})
			So(err, ShouldBeNil)

			Convey("Then the newest and the clearest remaining scenes are ordered", func() {
				So(fc.createdRefs(), ShouldResemble, []string{"sg_quarry_7_1", "sg_quarry_7_2"})
				So(fc.priced, ShouldResemble, []string{"sg_quarry_7_1", "sg_quarry_7_2"})
				So(sum.OK(), ShouldBeTrue)
				So(sum.Completed, ShouldEqual, 1)
				So(sum.Sites, ShouldHaveLength, 1)

				items := sum.Sites[0].Items
				So(items, ShouldHaveLength, 2)
				So(items[0].ImageID, ShouldEqual, "img-mar")
				So(items[1].ImageID, ShouldEqual, "img-feb")
			})

			Convey("Then both rasters are extracted with the site suffix and archives removed", func() {
				items := sum.Sites[0].Items
				So(filepath.Base(items[0].RasterPath), ShouldEndWith, "_7.TIF")
				So(filepath.Base(items[1].RasterPath), ShouldEndWith, "_7_2.TIF")
				for _, item := range items {
					So(item.Stage, ShouldEqual, model.StageUnpacked)
					So(filepath.Dir(item.RasterPath), ShouldEqual, cfg.ExtractDir())
					st, err := os.Stat(item.RasterPath)
					So(err, ShouldBeNil)
					So(st.Size(), ShouldEqual, int64(4096))
				}
				_, err := os.Stat(filepath.Join(cfg.OutputDir, "sg_quarry_PS_7.zip"))
				So(os.IsNotExist(err), ShouldBeTrue)
			})

			Convey("Then the ledger holds both orders at UNPACKED", func() {
				recs, err := svc.Ledger().List(context.Background())
				So(err, ShouldBeNil)
				So(recs, ShouldHaveLength, 2)
				for _, rec := range recs {
					So(rec.Stage, ShouldEqual, model.StageUnpacked)
					So(rec.SiteID, ShouldEqual, 7)
					So(rec.Status, ShouldEqual, model.StatusDelivered)
					So(rec.OrderID, ShouldNotBeEmpty)
				}
			})
		})
	})
}

func TestRunIdempotence(t *testing.T) {
	Convey("Given an order already placed under the customer reference", t, func() {
		cfg := testConfig(t)
		fc := newFakeClient()
		fc.features[3] = []oneatlas.Feature{scene("only", "2024-05-01", 3)}
		fc.existing("sg_quarry_3_1", model.StatusDelivered)
		svc := newTestService(t, cfg, fc)

		Convey("When the site runs", func() {
			sum, err := svc.Run(context.Background(), []model.Site{testSite(3)})
			So(err, ShouldBeNil)

			Convey("Then the order is adopted and nothing new is placed", func() {
				So(fc.createdRefs(), ShouldBeEmpty)
				So(fc.priced, ShouldBeEmpty)
				So(sum.Completed, ShouldEqual, 1)
				item := sum.Sites[0].Items[0]
				So(item.Adopted, ShouldBeTrue)
				So(item.Stage, ShouldEqual, model.StageUnpacked)
			})
		})
	})

	Convey("Given a ledger that already saw the site unpacked", t, func() {
		cfg := testConfig(t)
		fc := newFakeClient()
		fc.features[4] = []oneatlas.Feature{scene("done", "2024-05-01", 3)}
		ledger := repository.NewMemoryStore()
		So(ledger.Upsert(context.Background(), model.OrderRecord{
			CustomerRef: "sg_quarry_4_1",
			SiteID:      4,
			Rank:        1,
			ImageID:     "done",
			Stage:       model.StageUnpacked,
			RasterPath:  "/data/extracted_images/x_4.TIF",
		}), ShouldBeNil)
		svc := newTestService(t, cfg, fc, WithLedger(ledger))

		Convey("When the site runs again", func() {
			sum, err := svc.Run(context.Background(), []model.Site{testSite(4)})
			So(err, ShouldBeNil)

			Convey("Then it is skipped without touching the API beyond search", func() {
				So(fc.createdRefs(), ShouldBeEmpty)
				So(fc.seen, ShouldBeEmpty)
				So(sum.Skipped, ShouldEqual, 1)
				So(sum.Sites[0].Items[0].RasterPath, ShouldEqual, "/data/extracted_images/x_4.TIF")
			})
		})
	})
}

func TestRunFailures(t *testing.T) {
	Convey("Given three sites where the middle one is rejected by the API", t, func() {
		cfg := testConfig(t)
		fc := newFakeClient()
		for _, id := range []int{1, 2, 3} {
			fc.features[id] = []oneatlas.Feature{scene("img", "2024-05-01", 1)}
		}
		fc.createErr["sg_quarry_2_1"] = &oneatlas.RequestError{Method: http.MethodPost, URL: "/orders", Status: http.StatusBadRequest, Body: "bad aoi"}
		svc := newTestService(t, cfg, fc)

		Convey("When the run completes", func() {
			sum, err := svc.Run(context.Background(), []model.Site{testSite(3), testSite(1), testSite(2)})

			Convey("Then only that site fails and the others complete", func() {
				So(err, ShouldBeNil)
				So(sum.OK(), ShouldBeFalse)
				So(sum.Completed, ShouldEqual, 2)
				So(sum.Failed, ShouldEqual, 1)
				So(sum.Sites[1].SiteID, ShouldEqual, 2)
				So(sum.Sites[1].Outcome, ShouldEqual, model.OutcomeFailed)
				So(sum.Sites[1].Err, ShouldContainSubstring, "bad aoi")
				So(fc.searched, ShouldResemble, []int{1, 2, 3})
			})
		})
	})

	Convey("Given an API key the auth server rejects", t, func() {
		cfg := testConfig(t)
		fc := newFakeClient()
		fc.searchErr[1] = &oneatlas.AuthError{Audience: oneatlas.AudienceData, Status: http.StatusUnauthorized, Body: "invalid key"}
		fc.features[2] = []oneatlas.Feature{scene("img", "2024-05-01", 1)}
		svc := newTestService(t, cfg, fc)

		Convey("When the run starts", func() {
			sum, err := svc.Run(context.Background(), []model.Site{testSite(1), testSite(2)})

			Convey("Then the run aborts with the auth error", func() {
				So(oneatlas.IsAuth(err), ShouldBeTrue)
				So(Fatal(err), ShouldBeTrue)
				So(sum.Failed, ShouldEqual, 1)
				So(fc.searched, ShouldResemble, []int{1})
			})
		})
	})

	Convey("Given an order that is never delivered", t, func() {
		cfg := testConfig(t)
		cfg.PollTimeout = 30 * time.Millisecond
		fc := newFakeClient()
		fc.neverDeliver = true
		fc.features[5] = []oneatlas.Feature{scene("slow", "2024-05-01", 1)}
		svc := newTestService(t, cfg, fc)

		Convey("When the poll timeout passes", func() {
			sum, err := svc.Run(context.Background(), []model.Site{testSite(5)})

			Convey("Then the site fails with a poll timeout and the run goes on", func() {
				So(err, ShouldBeNil)
				So(sum.Failed, ShouldEqual, 1)
				So(sum.Sites[0].Err, ShouldContainSubstring, ErrPollTimeout.Error())
				So(sum.Sites[0].Items[0].Stage, ShouldEqual, model.StagePolling)
			})
		})
	})

	Convey("Given a search that finds nothing", t, func() {
		cfg := testConfig(t)
		fc := newFakeClient()
		svc := newTestService(t, cfg, fc)

		Convey("Then the site is skipped", func() {
			sum, err := svc.Run(context.Background(), []model.Site{testSite(9)})
			So(err, ShouldBeNil)
			So(sum.Skipped, ShouldEqual, 1)
			So(sum.OK(), ShouldBeTrue)
			So(fc.createdRefs(), ShouldBeEmpty)
		})
	})
}

func TestPolling(t *testing.T) {
	Convey("Given a new order that the listing does not show at first", t, func() {
		cfg := testConfig(t)
		fc := newFakeClient()
		fc.hiddenPolls = 3
		fc.pendingPolls = 1
		fc.features[6] = []oneatlas.Feature{scene("late", "2024-05-01", 1)}
		svc := newTestService(t, cfg, fc)

		Convey("Then polling keeps going until it is listed and delivered", func() {
			sum, err := svc.Run(context.Background(), []model.Site{testSite(6)})
			So(err, ShouldBeNil)
			So(sum.Completed, ShouldEqual, 1)
			So(fc.seen["sg_quarry_6_1"], ShouldEqual, 5)
		})
	})

	Convey("Given a listing that omits download links", t, func() {
		cfg := testConfig(t)
		fc := newFakeClient()
		fc.omitLink = true
		fc.features[8] = []oneatlas.Feature{scene("nolink", "2024-05-01", 1)}
		svc := newTestService(t, cfg, fc)

		Convey("Then the order is fetched by id before downloading", func() {
			sum, err := svc.Run(context.Background(), []model.Site{testSite(8)})
			So(err, ShouldBeNil)
			So(sum.Completed, ShouldEqual, 1)
			So(fc.gets, ShouldEqual, 1)
		})
	})

	Convey("Given a delivered archive without a raster", t, func() {
		cfg := testConfig(t)
		fc := newFakeClient()
		fc.raster = 0
		fc.features[2] = []oneatlas.Feature{scene("empty", "2024-05-01", 1)}
		svc := newTestService(t, cfg, fc)

		Convey("Then the item stays downloaded and the archive is kept", func() {
			sum, err := svc.Run(context.Background(), []model.Site{testSite(2)})
			So(err, ShouldBeNil)
			So(sum.Completed, ShouldEqual, 1)
			item := sum.Sites[0].Items[0]
			So(item.Stage, ShouldEqual, model.StageDownloaded)
			So(item.Err, ShouldContainSubstring, archive.ErrNoRaster.Error())
			_, err = os.Stat(filepath.Join(cfg.OutputDir, "sg_quarry_PS_2.zip"))
			So(err, ShouldBeNil)
		})
	})
}

func TestRunRange(t *testing.T) {
	Convey("Given sites 1 to 5 and an id range of 2 to 3", t, func() {
		cfg := testConfig(t)
		cfg.IDStart, cfg.IDEnd = 2, 3
		fc := newFakeClient()
		svc := newTestService(t, cfg, fc)
		sites := []model.Site{testSite(5), testSite(4), testSite(3), testSite(2), testSite(1)}

		Convey("Then only the sites in range are searched, in id order", func() {
			sum, err := svc.Run(context.Background(), sites)
			So(err, ShouldBeNil)
			So(sum.Total, ShouldEqual, 2)
			So(fc.searched, ShouldResemble, []int{2, 3})
			So(sum.RunID, ShouldNotBeEmpty)
		})
	})

	Convey("Given a cancelled context", t, func() {
		cfg := testConfig(t)
		fc := newFakeClient()
		svc := newTestService(t, cfg, fc)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		Convey("Then the run stops with the context error", func() {
			_, err := svc.Run(ctx, []model.Site{testSite(1)})
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		})
	})
}

func TestPreview(t *testing.T) {
	Convey("Given site 7 with three candidate scenes", t, func() {
		cfg := testConfig(t)
		fc := newFakeClient()
		fc.features[7] = []oneatlas.Feature{
			scene("img-jan", "2024-01-01", 10),
			scene("img-mar", "2024-03-01", 40),
			scene("img-feb", "2024-02-01", 5),
		}
		svc := newTestService(t, cfg, fc)
		dir := t.TempDir()

		Convey("Then the selection is returned and quicklooks saved without ordering", func() {
			all, picked, err := svc.Preview(context.Background(), testSite(7), dir)
			So(err, ShouldBeNil)
			So(all, ShouldHaveLength, 3)
			So(picked, ShouldHaveLength, 2)
			So(picked[0].ImageID, ShouldEqual, "img-mar")
			So(fc.createdRefs(), ShouldBeEmpty)
			_, err = os.Stat(filepath.Join(dir, "sg_quarry_7_1_img-mar.jpg"))
			So(err, ShouldBeNil)
		})
	})
}
