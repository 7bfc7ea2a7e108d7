package service

import (
	"fmt"
	"path/filepath"

	"github.com/paulmach/orb/geojson"

	"github.com/okian/atlasbatch/internal/adapters/oneatlas"
	"github.com/okian/atlasbatch/internal/domain/model"
)

// CustomerRef names the order of the rank-th image (1-based) of a site.
func CustomerRef(campaign string, siteID, rank int) string {
	return fmt.Sprintf("%s_%d_%d", campaign, siteID, rank)
}

func (s *Service) searchRequest(site model.Site) oneatlas.SearchRequest {
	return oneatlas.SearchRequest{
		CloudCover:      s.cfg.SearchCloudCover,
		IncidenceAngle:  s.cfg.SearchIncidenceAngle,
		ProcessingLevel: s.cfg.SearchProcessingLevel,
		Relation:        s.cfg.SearchRelation,
		Geometry:        geojson.NewGeometry(site.Geometry),
		Constellation:   s.cfg.SearchConstellation,
	}
}

func (s *Service) orderRequest(site model.Site, imageID, ref string) oneatlas.OrderRequest {
	return oneatlas.OrderRequest{
		Kind: s.cfg.OrderKind,
		Products: []oneatlas.Product{{
			ProductType:           s.cfg.OrderProductType,
			RadiometricProcessing: s.cfg.OrderRadiometricProcessing,
			ImageFormat:           s.cfg.OrderImageFormat,
			CRSCode:               s.cfg.OrderCRSCode,
			ID:                    imageID,
			AOI:                   geojson.NewGeometry(site.Geometry),
		}},
		CustomerRef: ref,
	}
}

// archivePath is <output_dir>/<tag>_<site>.zip; later ranks get a _<rank>
// suffix so a kept archive is not overwritten.
func (s *Service) archivePath(siteID, rank int) string {
	name := fmt.Sprintf("%s_%d.zip", s.cfg.ArchiveTag(), siteID)
	if rank > 1 {
		name = fmt.Sprintf("%s_%d_%d.zip", s.cfg.ArchiveTag(), siteID, rank)
	}
	return filepath.Join(s.cfg.OutputDir, name)
}

// rasterSuffix follows the archive naming so two images of a site never
// extract to the same file.
func rasterSuffix(siteID, rank int) string {
	if rank > 1 {
		return fmt.Sprintf("%d_%d", siteID, rank)
	}
	return fmt.Sprintf("%d", siteID)
}

func quicklookPath(dir, campaign string, siteID, rank int, imageID string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%d_%d_%s.jpg", campaign, siteID, rank, imageID))
}
