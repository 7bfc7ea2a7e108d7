package main

import (
	"context"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/urfave/cli/v3"

	"github.com/okian/atlasbatch/internal/adapters/archive"
	service "github.com/okian/atlasbatch/internal/app"
	"github.com/okian/atlasbatch/internal/config"
	"github.com/okian/atlasbatch/internal/domain/geometry"
	"github.com/okian/atlasbatch/internal/domain/model"
)

const (
	siteFlag      = "site"
	quicklookFlag = "quicklooks"
)

func newSearchCommand() *cli.Command {
	return &cli.Command{
		Name:  "search",
		Usage: "search one site and show which scenes would be ordered; places no order",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:     siteFlag,
				Usage:    "site id to search",
				Required: true,
			},
			&cli.StringFlag{
				Name:  quicklookFlag,
				Usage: "directory to save the quicklooks of the selected scenes",
			},
		},
		Action: searchAction,
	}
}

func searchAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(ctx, cmd)
	if err != nil {
		return err
	}
	site, err := lookupSite(cfg, cmd.Int(siteFlag))
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	svc := service.New(cfg, client, archive.New())

	all, picked, err := svc.Preview(ctx, site, cmd.String(quicklookFlag))
	if err != nil {
		return err
	}

	w := output(cmd)
	fmt.Fprintf(w, "site %d: %d scenes\n", site.ID, len(all))
	for _, sc := range all {
		mark := " "
		for _, p := range picked {
			if p.ImageID == sc.ImageID {
				mark = "*"
			}
		}
		fmt.Fprintf(w, "%s %s  %s  cloud %5.1f%%  %s\n",
			mark, sc.AcquiredAt.Format(time.DateOnly), sc.Constellation, sc.CloudCover, sc.ImageID)
	}
	return nil
}

// lookupSite builds the search polygons and finds id among them.
func lookupSite(cfg *config.Config, id int) (model.Site, error) {
	points, err := geometry.ReadPoints(cfg.InputGDB, cfg.UIDColumn)
	if err != nil {
		return model.Site{}, err
	}
	fc := geometry.SearchCollection(geometry.Sites(points, float64(cfg.BufferDistance)), cfg.UIDColumn)
	g, err := geometry.FeatureByID(fc, cfg.UIDColumn, id)
	if err != nil {
		return model.Site{}, err
	}
	poly, ok := g.(orb.Polygon)
	if !ok {
		return model.Site{}, model.Invalid("geometry", "site %d is a %s, not a polygon", id, g.GeoJSONType())
	}
	return model.Site{ID: id, Geometry: poly}, nil
}
