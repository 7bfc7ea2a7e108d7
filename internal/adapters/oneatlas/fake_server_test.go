package oneatlas_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/okian/atlasbatch/pkg/logger"
)

// /stream/{mode} sends streamChunks chunks streamGap apart; "stall" stops
// sending after the first one.
const (
	streamChunk  = 1024
	streamChunks = 6
	streamGap    = 100 * time.Millisecond
)

// fakeAtlas serves the endpoints of all three hosts from one router.
type fakeAtlas struct {
	*httptest.Server

	tokenCalls atomic.Int32
	expiresIn  float64
	accessTok  string
	denyAuth   bool

	mu         sync.Mutex
	audiences  []string
	requestIDs []string
	lastBody   map[string]any
	lastQuery  map[string]string
	orders     []map[string]any
	archive    []byte
}

func newFakeAtlas(t *testing.T) *fakeAtlas {
	t.Helper()
	require.NoError(t, logger.Init())

	f := &fakeAtlas{expiresIn: 60, accessTok: "tok"}
	r := chi.NewRouter()

	r.Post("/auth/realms/IDP/protocol/openid-connect/token", func(w http.ResponseWriter, req *http.Request) {
		f.tokenCalls.Add(1)
		require.NoError(t, req.ParseForm())
		f.mu.Lock()
		f.audiences = append(f.audiences, req.PostForm.Get("client_id"))
		f.mu.Unlock()
		if f.denyAuth || req.PostForm.Get("apikey") != "secret" || req.PostForm.Get("grant_type") != "api_key" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusUnauthorized)
			return
		}
		body := map[string]any{"access_token": f.accessTok, "token_type": "Bearer"}
		if f.expiresIn > 0 {
			body["expires_in"] = f.expiresIn
		}
		writeJSON(w, body)
	})

	r.Group(func(authed chi.Router) {
		authed.Use(f.requireBearer)
		authed.Post("/api/v2/opensearch", func(w http.ResponseWriter, req *http.Request) {
			f.recordBody(t, req)
			writeJSON(w, map[string]any{
				"totalResults": 2,
				"features": []any{
					map[string]any{
						"type":       "Feature",
						"properties": map[string]any{"id": "img-a", "acquisitionDate": "2024-03-01T10:00:00Z", "constellation": "PHR", "cloudCover": 12.5},
						"_links":     map[string]any{"quicklook": map[string]any{"href": f.URL + "/ql/img-a"}},
					},
					map[string]any{
						"type":       "Feature",
						"properties": map[string]any{"id": "img-b", "acquisitionDate": "2024-01-15T10:00:00.500Z", "constellation": "SPOT", "cloudCover": 3},
						"_links":     map[string]any{},
					},
				},
			})
		})
		authed.Post("/api/v1/prices", func(w http.ResponseWriter, req *http.Request) {
			f.recordBody(t, req)
			writeJSON(w, map[string]any{"price": map[string]any{"amount": 42, "currency": "EUR"}})
		})
		authed.Post("/api/v1/orders", func(w http.ResponseWriter, req *http.Request) {
			f.recordBody(t, req)
			writeJSON(w, map[string]any{"id": "ord-1", "status": "ordered", "customerRef": f.lastBody["customerRef"]})
		})
		authed.Get("/api/v1/orders", func(w http.ResponseWriter, req *http.Request) {
			f.mu.Lock()
			f.lastQuery = map[string]string{}
			for k := range req.URL.Query() {
				f.lastQuery[k] = req.URL.Query().Get(k)
			}
			items := f.orders
			f.mu.Unlock()
			if items == nil {
				items = []map[string]any{}
			}
			writeJSON(w, map[string]any{"items": items})
		})
		authed.Get("/api/v1/orders/{id}", func(w http.ResponseWriter, req *http.Request) {
			if chi.URLParam(req, "id") != "ord-1" {
				http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
				return
			}
			writeJSON(w, map[string]any{"id": "ord-1", "status": "delivered"})
		})
		authed.Get("/download/{name}", func(w http.ResponseWriter, req *http.Request) {
			if chi.URLParam(req, "name") == "gone" {
				http.Error(w, "expired link", http.StatusGone)
				return
			}
			w.Header().Set("Content-Type", "application/zip")
			_, _ = w.Write(f.archive)
		})
		authed.Get("/stream/{mode}", func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Content-Type", "application/zip")
			flusher, _ := w.(http.Flusher)
			chunk := bytes.Repeat([]byte("z"), streamChunk)
			for i := range streamChunks {
				if i == 1 && chi.URLParam(req, "mode") == "stall" {
					select {
					case <-req.Context().Done():
					case <-time.After(5 * time.Second):
					}
					return
				}
				_, _ = w.Write(chunk)
				if flusher != nil {
					flusher.Flush()
				}
				select {
				case <-req.Context().Done():
					return
				case <-time.After(streamGap):
				}
			}
		})
		authed.Get("/ql/{id}", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("png-bytes"))
		})
		authed.Get("/api/v1/apikeys", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, []any{map[string]any{"id": "k1", "description": "batch"}})
		})
		authed.Post("/api/v1/apikeys", func(w http.ResponseWriter, req *http.Request) {
			f.recordBody(t, req)
			writeJSON(w, map[string]any{"id": "k2", "description": f.lastBody["description"], "apikey": "new-secret"})
		})
		authed.Delete("/api/v1/apikeys", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})

	f.Server = httptest.NewServer(r)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeAtlas) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("Authorization") != "Bearer "+f.accessTok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		f.mu.Lock()
		f.requestIDs = append(f.requestIDs, req.Header.Get("X-Request-ID"))
		f.mu.Unlock()
		next.ServeHTTP(w, req)
	})
}

func (f *fakeAtlas) recordBody(t *testing.T, req *http.Request) {
	var body map[string]any
	require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
	f.mu.Lock()
	f.lastBody = body
	f.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
