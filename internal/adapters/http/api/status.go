package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	service "github.com/okian/atlasbatch/internal/app"
	"github.com/okian/atlasbatch/internal/domain/model"
)

// StatusDependencies exposes run progress.
type StatusDependencies interface {
	Snapshot() service.Summary
}

// StatusHandler handles run progress requests.
type StatusHandler struct {
	deps StatusDependencies
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(deps StatusDependencies) *StatusHandler {
	return &StatusHandler{deps: deps}
}

type itemView struct {
	Rank        int    `json:"rank"`
	ImageID     string `json:"image_id"`
	CustomerRef string `json:"customer_ref"`
	Stage       string `json:"stage"`
	Adopted     bool   `json:"adopted,omitempty"`
	RasterPath  string `json:"raster_path,omitempty"`
	Error       string `json:"error,omitempty"`
}

type siteView struct {
	SiteID   int        `json:"site_id"`
	Outcome  string     `json:"outcome"`
	Error    string     `json:"error,omitempty"`
	Started  time.Time  `json:"started"`
	Finished time.Time  `json:"finished"`
	Items    []itemView `json:"items"`
}

type statusResponse struct {
	RunID     string     `json:"run_id"`
	Running   bool       `json:"running"`
	Started   *time.Time `json:"started,omitempty"`
	Finished  *time.Time `json:"finished,omitempty"`
	Total     int        `json:"total"`
	Completed int        `json:"completed"`
	Skipped   int        `json:"skipped"`
	Failed    int        `json:"failed"`
	Pending   int        `json:"pending"`
	Sites     []siteView `json:"sites"`
}

// HandleStatus handles GET /status requests.
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	sum := h.deps.Snapshot()
	resp := statusResponse{
		RunID:     sum.RunID,
		Running:   !sum.Started.IsZero() && sum.Finished.IsZero(),
		Total:     sum.Total,
		Completed: sum.Completed,
		Skipped:   sum.Skipped,
		Failed:    sum.Failed,
		Pending:   sum.Total - len(sum.Sites),
		Sites:     make([]siteView, 0, len(sum.Sites)),
	}
	if !sum.Started.IsZero() {
		resp.Started = &sum.Started
	}
	if !sum.Finished.IsZero() {
		resp.Finished = &sum.Finished
	}
	for _, r := range sum.Sites {
		resp.Sites = append(resp.Sites, toSiteView(r))
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleSite handles GET /status/sites/{siteID} requests.
func (h *StatusHandler) HandleSite(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "siteID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: site id must be an integer", ErrBadRequest))
		return
	}
	for _, rep := range h.deps.Snapshot().Sites {
		if rep.SiteID == id {
			writeJSON(w, http.StatusOK, toSiteView(rep))
			return
		}
	}
	writeError(w, http.StatusNotFound, "not_found", fmt.Errorf("site %d: %w", id, ErrNotFound))
}

func toSiteView(r model.SiteReport) siteView {
	v := siteView{
		SiteID:   r.SiteID,
		Outcome:  string(r.Outcome),
		Error:    r.Err,
		Started:  r.Started,
		Finished: r.Finished,
		Items:    make([]itemView, 0, len(r.Items)),
	}
	for _, it := range r.Items {
		v.Items = append(v.Items, itemView{
			Rank:        it.Rank,
			ImageID:     it.ImageID,
			CustomerRef: it.CustomerRef,
			Stage:       string(it.Stage),
			Adopted:     it.Adopted,
			RasterPath:  it.RasterPath,
			Error:       it.Err,
		})
	}
	return v
}
