package service

import (
	"archive/zip"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"github.com/okian/atlasbatch/internal/adapters/oneatlas"
	"github.com/okian/atlasbatch/internal/domain/geometry"
	"github.com/okian/atlasbatch/internal/domain/model"
)

// fakeClient is an in-memory imagery API. Orders are keyed by customer
// reference; each listing after creation moves an order one step closer to
// delivery.
type fakeClient struct {
	mu sync.Mutex

	features  map[int][]oneatlas.Feature
	searchErr map[int]error
	createErr map[string]error
	listErr   error

	// hiddenPolls listings return nothing after creation, then
	// pendingPolls listings report "processing" before "delivered".
	hiddenPolls  int
	pendingPolls int
	neverDeliver bool
	omitLink     bool

	orders   map[string]*oneatlas.Order
	seen     map[string]int
	priced   []string
	created  []string
	searched []int
	gets     int
	nextID   int
	raster   int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		features:  make(map[int][]oneatlas.Feature),
		searchErr: make(map[int]error),
		createErr: make(map[string]error),
		orders:    make(map[string]*oneatlas.Order),
		seen:      make(map[string]int),
		raster:    4096,
	}
}

func scene(id string, acquired string, cloud float64) oneatlas.Feature {
	at, err := time.Parse(time.DateOnly, acquired)
	if err != nil {
		panic(err)
	}
	return oneatlas.Feature{
		Type: "Feature",
		Properties: oneatlas.SceneProperties{
			ID:              id,
			AcquisitionDate: at,
			CloudCover:      cloud,
			Constellation:   "PHR",
		},
		Links: oneatlas.SceneLinks{Quicklook: &oneatlas.Link{Href: "https://example.test/ql/" + id}},
	}
}

// existing registers an order placed by an earlier run.
func (f *fakeClient) existing(ref, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.orders[ref] = &oneatlas.Order{
		ID:          fmt.Sprintf("prev-%d", f.nextID),
		Status:      status,
		CustomerRef: ref,
		Deliveries:  []oneatlas.Delivery{{Links: oneatlas.DeliveryLinks{Download: &oneatlas.Link{Href: "https://example.test/dl/" + ref}}}},
	}
}

func (f *fakeClient) Search(_ context.Context, req oneatlas.SearchRequest) (oneatlas.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.siteOf(req)
	f.searched = append(f.searched, id)
	if err := f.searchErr[id]; err != nil {
		return oneatlas.SearchResult{}, err
	}
	feats := f.features[id]
	return oneatlas.SearchResult{TotalResults: len(feats), Features: feats}, nil
}

// siteOf recovers the site id from the search polygon centre: test sites sit at (id, id).
func (f *fakeClient) siteOf(req oneatlas.SearchRequest) int {
	if req.Geometry == nil {
		return -1
	}
	c := req.Geometry.Geometry().Bound().Center()
	return int(c.X() + 0.5)
}

func (f *fakeClient) DownloadQuicklook(_ context.Context, quicklookURL, path string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	body := []byte("jpeg:" + quicklookURL)
	return int64(len(body)), os.WriteFile(path, body, 0o644)
}

func (f *fakeClient) GetPrice(_ context.Context, req oneatlas.OrderRequest) (oneatlas.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.priced = append(f.priced, req.CustomerRef)
	return oneatlas.Price{Raw: []byte(`{"price": 12.5, "currency": "EUR"}`)}, nil
}

func (f *fakeClient) CreateOrder(_ context.Context, req oneatlas.OrderRequest) (oneatlas.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.createErr[req.CustomerRef]; err != nil {
		return oneatlas.Order{}, err
	}
	f.nextID++
	o := &oneatlas.Order{
		ID:          fmt.Sprintf("order-%d", f.nextID),
		Status:      "ordered",
		CustomerRef: req.CustomerRef,
		Kind:        req.Kind,
	}
	if !f.omitLink {
		o.Deliveries = []oneatlas.Delivery{{Links: oneatlas.DeliveryLinks{Download: &oneatlas.Link{Href: "https://example.test/dl/" + req.CustomerRef}}}}
	}
	f.orders[req.CustomerRef] = o
	f.created = append(f.created, req.CustomerRef)
	return *o, nil
}

func (f *fakeClient) ListOrders(_ context.Context, filter oneatlas.OrderFilter) (oneatlas.OrderList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return oneatlas.OrderList{}, f.listErr
	}
	o, ok := f.orders[filter.CustomerRef]
	if !ok {
		return oneatlas.OrderList{}, nil
	}
	f.seen[filter.CustomerRef]++
	n := f.seen[filter.CustomerRef]
	// the dedup lookup before creation never sees the new order
	if strings.HasPrefix(o.ID, "order-") {
		switch {
		case n <= f.hiddenPolls:
			return oneatlas.OrderList{}, nil
		case !f.neverDeliver && n > f.hiddenPolls+f.pendingPolls:
			o.Status = model.StatusDelivered
		case o.Status != model.StatusDelivered:
			o.Status = "processing"
		}
	}
	listed := *o
	if f.omitLink {
		listed.Deliveries = nil
	}
	return oneatlas.OrderList{Items: []oneatlas.Order{listed}, Total: 1}, nil
}

func (f *fakeClient) GetOrder(_ context.Context, id string) (oneatlas.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	for _, o := range f.orders {
		if o.ID == id {
			full := *o
			full.Deliveries = []oneatlas.Delivery{{Links: oneatlas.DeliveryLinks{Download: &oneatlas.Link{Href: "https://example.test/dl/" + o.CustomerRef}}}}
			return full, nil
		}
	}
	return oneatlas.Order{}, &oneatlas.RequestError{Method: http.MethodGet, URL: "/orders/" + id, Status: http.StatusNotFound, Body: "not found"}
}

func (f *fakeClient) DownloadOrder(_ context.Context, order oneatlas.Order, path string) (int64, error) {
	if _, err := order.DownloadURL(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	size := f.raster
	f.mu.Unlock()
	files := map[string]int{"DIM_PHR.XML": 300, "PREVIEW.JPG": 500}
	if size > 0 {
		files["IMG_PHR_"+order.CustomerRef+".TIF"] = size
	}
	if err := writeZip(path, files); err != nil {
		return 0, err
	}
	st, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

func (f *fakeClient) createdRefs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.created...)
}

func writeZip(path string, files map[string]int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()
	zw := zip.NewWriter(out)
	for name, size := range files {
		w, err := zw.Create("product/" + name)
		if err != nil {
			return err
		}
		if _, err := w.Write(make([]byte, size)); err != nil {
			return err
		}
	}
	return zw.Close()
}

func testSite(id int) model.Site {
	return model.Site{ID: id, Geometry: geometry.Buffer(orb.Point{float64(id), float64(id)}, 750)}
}
