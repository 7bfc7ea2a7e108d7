// Package service drives the imagery order lifecycle for a batch of sites:
// search, select, price, order, poll, download and unpack.
package service

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/atlasbatch/internal/adapters/mq/queue"
	"github.com/okian/atlasbatch/internal/adapters/mq/worker"
	"github.com/okian/atlasbatch/internal/adapters/oneatlas"
	"github.com/okian/atlasbatch/internal/adapters/repository"
	"github.com/okian/atlasbatch/internal/config"
	"github.com/okian/atlasbatch/internal/domain/geometry"
	"github.com/okian/atlasbatch/internal/domain/model"
	"github.com/okian/atlasbatch/pkg/logger"
	"github.com/okian/atlasbatch/pkg/metrics"
)

// Client is the part of the imagery API the driver uses.
type Client interface {
	Search(ctx context.Context, req oneatlas.SearchRequest) (oneatlas.SearchResult, error)
	DownloadQuicklook(ctx context.Context, quicklookURL, path string) (int64, error)
	GetPrice(ctx context.Context, req oneatlas.OrderRequest) (oneatlas.Price, error)
	CreateOrder(ctx context.Context, req oneatlas.OrderRequest) (oneatlas.Order, error)
	ListOrders(ctx context.Context, filter oneatlas.OrderFilter) (oneatlas.OrderList, error)
	GetOrder(ctx context.Context, id string) (oneatlas.Order, error)
	DownloadOrder(ctx context.Context, order oneatlas.Order, path string) (int64, error)
}

// Unpacker extracts the raster of a delivered archive.
type Unpacker interface {
	Unpack(ctx context.Context, archivePath, targetDir, suffix string) (string, error)
}

// Service runs batches of sites through the order lifecycle.
type Service struct {
	cfg      *config.Config
	client   Client
	unpacker Unpacker
	ledger   repository.Store
	now      func() time.Time
	logger   logger.Logger

	mu      sync.RWMutex
	runID   string
	started time.Time
	ended   time.Time
	total   int
	reports map[int]model.SiteReport
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLedger replaces the in-memory order ledger.
func WithLedger(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.ledger = store
		}
	}
}

// WithClock replaces time.Now for report and ledger timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a Service. cfg must have passed Validate.
func New(cfg *config.Config, client Client, unpacker Unpacker, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		client:   client,
		unpacker: unpacker,
		ledger:   repository.NewMemoryStore(),
		now:      time.Now,
		logger:   logger.Get().Named("driver"),
		reports:  make(map[int]model.SiteReport),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Summary is the result of one run.
type Summary struct {
	RunID     string
	Started   time.Time
	Finished  time.Time
	Total     int
	Completed int
	Skipped   int
	Failed    int
	Sites     []model.SiteReport
}

// OK reports whether no site failed.
func (s Summary) OK() bool { return s.Failed == 0 }

// Run processes the sites whose id lies in the configured range, in
// ascending id order, with the configured number of workers. A failing site
// is recorded and the run moves on; an auth or validation error stops it and
// is returned with the partial summary.
func (s *Service) Run(ctx context.Context, sites []model.Site) (Summary, error) {
	selected := geometry.InRange(sites, s.cfg.IDStart, s.cfg.IDEnd)

	runID := uuid.NewString()
	ctx = logger.WithContext(ctx, logger.String("run_id", runID))

	s.mu.Lock()
	s.runID = runID
	s.started = s.now()
	s.ended = time.Time{}
	s.total = len(selected)
	s.reports = make(map[int]model.SiteReport, len(selected))
	s.mu.Unlock()

	if len(selected) == 0 {
		s.logger.Warn(ctx, "no sites in range",
			logger.Int("id_start", s.cfg.IDStart),
			logger.Int("id_end", s.cfg.IDEnd),
			logger.Int("sites", len(sites)))
		return s.finish(), nil
	}
	s.logger.Info(ctx, "run started",
		logger.Int("sites", len(selected)),
		logger.Int("first_id", selected[0].ID),
		logger.Int("last_id", selected[len(selected)-1].ID),
		logger.Int("workers", s.cfg.Concurrency))

	q := queue.NewInMemoryQueue(queue.WithCapacity(len(selected)))
	for _, site := range selected {
		if !q.Enqueue(ctx, site) {
			return s.finish(), fmt.Errorf("enqueue site %d: %w", site.ID, ctx.Err())
		}
	}
	_ = q.Close()
	metrics.UpdateSitesInFlight(len(selected))

	pool := worker.NewPool(s.cfg.Concurrency, q, worker.ProcessorFunc(s.processSite),
		worker.WithFatal(Fatal),
		worker.WithLogger(s.logger.Named("worker")))
	err := pool.Run(ctx)
	if err == nil {
		err = ctx.Err()
	}

	summary := s.finish()
	s.logger.Info(ctx, "run finished",
		logger.Int("completed", summary.Completed),
		logger.Int("skipped", summary.Skipped),
		logger.Int("failed", summary.Failed),
		logger.Int("not_started", summary.Total-len(summary.Sites)))
	return summary, err
}

func (s *Service) finish() Summary {
	s.mu.Lock()
	s.ended = s.now()
	s.mu.Unlock()
	return s.Snapshot()
}

// Snapshot returns the progress of the current or last run.
func (s *Service) Snapshot() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := Summary{
		RunID:    s.runID,
		Started:  s.started,
		Finished: s.ended,
		Total:    s.total,
		Sites:    make([]model.SiteReport, 0, len(s.reports)),
	}
	for _, r := range s.reports {
		sum.Sites = append(sum.Sites, r)
		switch r.Outcome {
		case model.OutcomeCompleted:
			sum.Completed++
		case model.OutcomeSkipped:
			sum.Skipped++
		case model.OutcomeFailed:
			sum.Failed++
		}
	}
	slices.SortFunc(sum.Sites, func(a, b model.SiteReport) int { return a.SiteID - b.SiteID })
	return sum
}

// Ledger returns the order ledger.
func (s *Service) Ledger() repository.Store { return s.ledger }

func (s *Service) report(r model.SiteReport) {
	s.mu.Lock()
	s.reports[r.SiteID] = r
	remaining := s.total - len(s.reports)
	s.mu.Unlock()

	metrics.RecordSiteProcessed(string(r.Outcome))
	metrics.UpdateSitesInFlight(remaining)
}
