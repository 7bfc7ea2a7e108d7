// Package model contains domain models passed between layers.
package model

import (
	"time"

	"github.com/paulmach/orb"
)

// Site is a location of interest with its search polygon (EPSG:4326).
type Site struct {
	ID       int         // unique within the run
	Geometry orb.Polygon // buffered bounding box around the input point
}

// Scene is a catalog search result for one site.
type Scene struct {
	ImageID       string
	AcquiredAt    time.Time
	CloudCover    float64 // percent, 0-100
	Constellation string  // e.g. "PHR", "SPOT"
	QuicklookURL  string
}

// Stage is the lifecycle position of one (site, image) order.
type Stage string

const (
	StageInitiated  Stage = "INITIATED"
	StagePriced     Stage = "PRICED"
	StageOrdered    Stage = "ORDERED"
	StagePolling    Stage = "POLLING"
	StageDelivered  Stage = "DELIVERED"
	StageDownloaded Stage = "DOWNLOADED"
	StageUnpacked   Stage = "UNPACKED"
)

var stageRank = map[Stage]int{ //nolint:gochecknoglobals // fixed lookup table
	StageInitiated:  0,
	StagePriced:     1,
	StageOrdered:    2,
	StagePolling:    3,
	StageDelivered:  4,
	StageDownloaded: 5,
	StageUnpacked:   6,
}

// Reached reports whether s is at or past other in the lifecycle.
func (s Stage) Reached(other Stage) bool {
	a, okA := stageRank[s]
	b, okB := stageRank[other]
	return okA && okB && a >= b
}

// StatusDelivered is the only terminal order status.
const StatusDelivered = "delivered"

// OrderRecord is the ledger entry for one order, keyed by CustomerRef.
type OrderRecord struct {
	CustomerRef string
	SiteID      int
	Rank        int
	ImageID     string
	OrderID     string
	Status      string // last server status seen
	Stage       Stage
	ArchivePath string
	RasterPath  string
	UpdatedAt   time.Time
}

// Outcome summarises how a site finished.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// ItemReport is the result for one selected image of a site.
type ItemReport struct {
	Rank        int
	ImageID     string
	CustomerRef string
	Stage       Stage
	Adopted     bool   // an existing server order was reused
	RasterPath  string // empty when the archive had no raster
	Err         string
}

// SiteReport is the per-site result of a run.
type SiteReport struct {
	SiteID   int
	Outcome  Outcome
	Items    []ItemReport
	Err      string
	Started  time.Time
	Finished time.Time
}
