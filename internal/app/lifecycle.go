package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/atlasbatch/internal/adapters/archive"
	"github.com/okian/atlasbatch/internal/adapters/repository"
	"github.com/okian/atlasbatch/internal/domain/model"
	"github.com/okian/atlasbatch/internal/domain/selection"
	"github.com/okian/atlasbatch/pkg/logger"
	"github.com/okian/atlasbatch/pkg/metrics"
)

// processSite runs one site start to finish and records its report.
func (s *Service) processSite(ctx context.Context, site model.Site) error {
	ctx = logger.WithContext(ctx, logger.Int("site_id", site.ID))
	rep := model.SiteReport{SiteID: site.ID, Started: s.now()}

	items, skipped, err := s.orderSite(ctx, site, &rep)
	rep.Items = items
	rep.Finished = s.now()
	switch {
	case err != nil:
		rep.Outcome = model.OutcomeFailed
		rep.Err = err.Error()
		s.logger.Error(ctx, "site failed", logger.Error(err))
	case skipped:
		rep.Outcome = model.OutcomeSkipped
	default:
		rep.Outcome = model.OutcomeCompleted
		s.logger.Info(ctx, "site completed", logger.Int("orders", len(items)))
	}
	s.report(rep)
	return err
}

// orderSite searches, selects and orders. skipped is true when there was
// nothing to do: no scenes, or every selected image already unpacked.
func (s *Service) orderSite(ctx context.Context, site model.Site, rep *model.SiteReport) ([]model.ItemReport, bool, error) {
	res, err := s.client.Search(ctx, s.searchRequest(site))
	if err != nil {
		return nil, false, fmt.Errorf("search site %d: %w", site.ID, err)
	}
	scenes := res.Scenes()
	if len(scenes) == 0 {
		s.logger.Info(ctx, "no scenes found, skipping site")
		rep.Err = "no scenes found"
		return nil, true, nil
	}

	picked := selection.Pick(scenes)
	ids := make([]string, 0, len(picked))
	for _, sc := range picked {
		ids = append(ids, sc.ImageID)
	}
	s.logger.Info(ctx, "images selected",
		logger.Int("candidates", len(scenes)),
		logger.Any("image_ids", ids))

	items := make([]model.ItemReport, 0, len(picked))
	allDone := true
	for i, sc := range picked {
		item, done, err := s.orderImage(ctx, site, i+1, sc)
		items = append(items, item)
		if err != nil {
			return items, false, err
		}
		allDone = allDone && done
	}
	return items, allDone, nil
}

// orderImage drives one (site, image) pair through
// INITIATED, PRICED, ORDERED, POLLING, DELIVERED, DOWNLOADED and UNPACKED.
// done is true when the ledger already had it unpacked.
func (s *Service) orderImage(ctx context.Context, site model.Site, rank int, scene model.Scene) (model.ItemReport, bool, error) {
	ref := CustomerRef(s.cfg.Campaign, site.ID, rank)
	ctx = logger.WithContext(ctx,
		logger.Int("rank", rank),
		logger.String("customer_ref", ref),
		logger.String("image_id", scene.ImageID))

	item := model.ItemReport{Rank: rank, ImageID: scene.ImageID, CustomerRef: ref}
	rec := model.OrderRecord{CustomerRef: ref, SiteID: site.ID, Rank: rank, ImageID: scene.ImageID}

	prev, err := s.ledger.Get(ctx, ref)
	switch {
	case err == nil && prev.Stage.Reached(model.StageUnpacked):
		item.Stage = prev.Stage
		item.RasterPath = prev.RasterPath
		s.logger.Info(ctx, "already unpacked, skipping", logger.String("raster", prev.RasterPath))
		return item, true, nil
	case err == nil:
		rec = prev
		rec.ImageID = scene.ImageID
	case !errors.Is(err, repository.ErrNotFound):
		s.logger.Warn(ctx, "ledger lookup failed", logger.Error(err))
	}
	s.advance(ctx, &rec, &item, model.StageInitiated)

	order, found, err := s.findOrder(ctx, ref)
	if err != nil {
		return s.fail(item, err)
	}
	if found {
		item.Adopted = true
		metrics.RecordOrderAdopted()
		s.logger.Info(ctx, "existing order adopted",
			logger.String("order_id", order.ID),
			logger.String("status", order.Status))
	} else {
		req := s.orderRequest(site, scene.ImageID, ref)
		price, err := s.client.GetPrice(ctx, req)
		if err != nil {
			return s.fail(item, fmt.Errorf("price %s: %w", ref, err))
		}
		s.logger.Info(ctx, "order priced", logger.String("price", price.String()))
		s.advance(ctx, &rec, &item, model.StagePriced)

		order, err = s.client.CreateOrder(ctx, req)
		if err != nil {
			return s.fail(item, fmt.Errorf("create order %s: %w", ref, err))
		}
		metrics.RecordOrderPlaced()
		s.logger.Info(ctx, "order placed", logger.String("order_id", order.ID))
	}
	rec.OrderID, rec.Status = order.ID, order.Status
	s.advance(ctx, &rec, &item, model.StageOrdered)

	s.advance(ctx, &rec, &item, model.StagePolling)
	waitStart := time.Now()
	order, err = s.awaitDelivery(ctx, ref, order)
	if err != nil {
		return s.fail(item, err)
	}
	metrics.RecordOrderWait(time.Since(waitStart).Seconds())
	order, err = s.withDownloadLink(ctx, order)
	if err != nil {
		return s.fail(item, err)
	}
	if order.ID != "" {
		rec.OrderID = order.ID
	}
	rec.Status = order.Status
	s.advance(ctx, &rec, &item, model.StageDelivered)

	path := s.archivePath(site.ID, rank)
	n, err := s.client.DownloadOrder(ctx, order, path)
	if err != nil {
		return s.fail(item, fmt.Errorf("download %s: %w", ref, err))
	}
	rec.ArchivePath = path
	s.logger.Info(ctx, "archive downloaded", logger.String("archive", path), logger.Int64("bytes", n))
	s.advance(ctx, &rec, &item, model.StageDownloaded)

	raster, err := s.unpacker.Unpack(ctx, path, s.cfg.ExtractDir(), rasterSuffix(site.ID, rank))
	switch {
	case errors.Is(err, archive.ErrNoRaster):
		metrics.RecordRasterMissing()
		item.Err = err.Error()
		s.logger.Warn(ctx, "no raster in archive, keeping it", logger.String("archive", path))
		return item, false, nil
	case err != nil:
		return s.fail(item, fmt.Errorf("unpack %s: %w", path, err))
	}
	metrics.RecordRasterExtracted()
	rec.RasterPath = raster
	item.RasterPath = raster
	s.advance(ctx, &rec, &item, model.StageUnpacked)
	return item, false, nil
}

func (s *Service) advance(ctx context.Context, rec *model.OrderRecord, item *model.ItemReport, stage model.Stage) {
	rec.Stage = stage
	rec.UpdatedAt = s.now()
	item.Stage = stage
	metrics.RecordStage(string(stage))
	if err := s.ledger.Upsert(ctx, *rec); err != nil {
		s.logger.Warn(ctx, "ledger update failed", logger.String("stage", string(stage)), logger.Error(err))
	}
	s.logger.Debug(ctx, "stage reached", logger.String("stage", string(stage)))
}

func (s *Service) fail(item model.ItemReport, err error) (model.ItemReport, bool, error) {
	item.Err = err.Error()
	return item, false, err
}

// Preview searches one site and returns the scenes that would be ordered,
// without pricing or ordering. With quicklookDir set it also saves their
// quicklooks there.
func (s *Service) Preview(ctx context.Context, site model.Site, quicklookDir string) ([]model.Scene, []model.Scene, error) {
	ctx = logger.WithContext(ctx, logger.Int("site_id", site.ID))
	res, err := s.client.Search(ctx, s.searchRequest(site))
	if err != nil {
		return nil, nil, fmt.Errorf("search site %d: %w", site.ID, err)
	}
	scenes := res.Scenes()
	picked := selection.Pick(scenes)
	if quicklookDir == "" {
		return scenes, picked, nil
	}
	for i, sc := range picked {
		if sc.QuicklookURL == "" {
			s.logger.Warn(ctx, "scene has no quicklook", logger.String("image_id", sc.ImageID))
			continue
		}
		path := quicklookPath(quicklookDir, s.cfg.Campaign, site.ID, i+1, sc.ImageID)
		if _, err := s.client.DownloadQuicklook(ctx, sc.QuicklookURL, path); err != nil {
			return scenes, picked, fmt.Errorf("quicklook %s: %w", sc.ImageID, err)
		}
		s.logger.Info(ctx, "quicklook saved", logger.String("path", path))
	}
	return scenes, picked, nil
}
