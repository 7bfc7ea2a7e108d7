package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/okian/atlasbatch/internal/adapters/archive"
	"github.com/okian/atlasbatch/internal/adapters/http/api"
	"github.com/okian/atlasbatch/internal/adapters/repository"
	service "github.com/okian/atlasbatch/internal/app"
	"github.com/okian/atlasbatch/internal/config"
	"github.com/okian/atlasbatch/internal/domain/geometry"
	"github.com/okian/atlasbatch/internal/domain/model"
	"github.com/okian/atlasbatch/pkg/logger"
)

var errSitesFailed = errors.New("sites failed")

func newRunCommand() *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "order, download and unpack imagery for every site in range",
		Action: runAction,
	}
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(ctx, cmd)
	if err != nil {
		return err
	}
	log := logger.Get()

	sites, err := prepareSites(cfg)
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	ledger, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			log.Warn(ctx, "closing ledger", logger.Error(err))
		}
	}()

	unpacker := archive.New(
		archive.WithExtension(cfg.RasterExtension),
		archive.WithDeleteArchive(cfg.DeleteArchive))
	svc := service.New(cfg, client, unpacker, service.WithLedger(ledger))

	summary, err := runWithStatusServer(ctx, cfg, svc, sites)
	printSummary(cmd, summary)
	if err != nil {
		return err
	}
	if !summary.OK() {
		return fmt.Errorf("%d of %d sites: %w", summary.Failed, summary.Total, errSitesFailed)
	}
	return nil
}

// runWithStatusServer runs the batch and, when metrics_addr is set, serves
// the status API until the batch is over.
func runWithStatusServer(ctx context.Context, cfg *config.Config, svc *service.Service, sites []model.Site) (service.Summary, error) {
	g, gctx := errgroup.WithContext(ctx)
	srvCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return api.Serve(srvCtx, cfg.MetricsAddr, api.NewServer(svc).Routes())
		})
	}

	var summary service.Summary
	g.Go(func() error {
		defer stopServer()
		var err error
		summary, err = svc.Run(gctx, sites)
		return err
	})
	err := g.Wait()
	if summary.RunID == "" {
		summary = svc.Snapshot()
	}
	return summary, err
}

// prepareSites reads the input points, buffers them and saves the search
// polygons next to the outputs.
func prepareSites(cfg *config.Config) ([]model.Site, error) {
	points, err := geometry.ReadPoints(cfg.InputGDB, cfg.UIDColumn)
	if err != nil {
		return nil, err
	}
	sites := geometry.Sites(points, float64(cfg.BufferDistance))
	if err := os.MkdirAll(cfg.ExtractDir(), 0o755); err != nil { //nolint:gosec // shared output dir
		return nil, fmt.Errorf("create output dirs: %w", err)
	}
	fc := geometry.SearchCollection(sites, cfg.UIDColumn)
	if err := geometry.WriteCollection(searchCollectionPath(cfg), fc); err != nil {
		return nil, err
	}
	return sites, nil
}

func searchCollectionPath(cfg *config.Config) string {
	return filepath.Join(cfg.OutputDir, cfg.Campaign+"_search.geojson")
}

func openLedger(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	if cfg.DatabaseURI == "" {
		return repository.NewMemoryStore(), nil
	}
	return repository.NewPostgresStore(ctx, cfg.DatabaseURI)
}

func printSummary(cmd *cli.Command, s service.Summary) {
	w := output(cmd)
	fmt.Fprintf(w, "run %s: %d sites, %d completed, %d skipped, %d failed, %d not started\n",
		s.RunID, s.Total, s.Completed, s.Skipped, s.Failed, s.Total-len(s.Sites))
	for _, site := range s.Sites {
		if site.Outcome != model.OutcomeFailed {
			continue
		}
		fmt.Fprintf(w, "  site %d failed: %s\n", site.SiteID, site.Err)
	}
}
