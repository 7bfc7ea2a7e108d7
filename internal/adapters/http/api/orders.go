package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/okian/atlasbatch/internal/adapters/repository"
	"github.com/okian/atlasbatch/internal/domain/model"
)

// LedgerDependencies exposes the order ledger.
type LedgerDependencies interface {
	Ledger() repository.Store
}

// OrdersHandler handles order ledger requests.
type OrdersHandler struct {
	deps LedgerDependencies
}

// NewOrdersHandler creates a new orders handler.
func NewOrdersHandler(deps LedgerDependencies) *OrdersHandler {
	return &OrdersHandler{deps: deps}
}

type orderView struct {
	CustomerRef string    `json:"customer_ref"`
	SiteID      int       `json:"site_id"`
	Rank        int       `json:"rank"`
	ImageID     string    `json:"image_id"`
	OrderID     string    `json:"order_id,omitempty"`
	Status      string    `json:"status,omitempty"`
	Stage       string    `json:"stage"`
	ArchivePath string    `json:"archive_path,omitempty"`
	RasterPath  string    `json:"raster_path,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toOrderView(rec model.OrderRecord) orderView {
	return orderView{
		CustomerRef: rec.CustomerRef,
		SiteID:      rec.SiteID,
		Rank:        rec.Rank,
		ImageID:     rec.ImageID,
		OrderID:     rec.OrderID,
		Status:      rec.Status,
		Stage:       string(rec.Stage),
		ArchivePath: rec.ArchivePath,
		RasterPath:  rec.RasterPath,
		UpdatedAt:   rec.UpdatedAt,
	}
}

// HandleList handles GET /orders?site_id=N&stage=S requests.
func (h *OrdersHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_orders"
	siteID := 0
	if raw := r.URL.Query().Get("site_id"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%s: %w: site_id", op, ErrBadRequest))
			return
		}
		siteID = n
	}
	stage := model.Stage(r.URL.Query().Get("stage"))

	recs, err := h.deps.Ledger().List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", fmt.Errorf("%s: %w", op, err))
		return
	}
	out := make([]orderView, 0, len(recs))
	for _, rec := range recs {
		if siteID > 0 && rec.SiteID != siteID {
			continue
		}
		if stage != "" && rec.Stage != stage {
			continue
		}
		out = append(out, toOrderView(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleGet handles GET /orders/{customerRef} requests.
func (h *OrdersHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_order"
	rec, err := h.deps.Ledger().Get(r.Context(), chi.URLParam(r, "customerRef"))
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal_error", fmt.Errorf("%s: %w", op, err))
	default:
		writeJSON(w, http.StatusOK, toOrderView(rec))
	}
}
