package oneatlas

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/okian/atlasbatch/internal/domain/model"
)

// Audience selects which token a request carries.
type Audience string

const (
	// AudienceManagement covers API key management.
	AudienceManagement Audience = "AAA"
	// AudienceData covers search, pricing, orders and downloads.
	AudienceData Audience = "IDP"
)

// SearchRequest is the opensearch body. Set either Geometry or BBox.
type SearchRequest struct {
	CloudCover      string            `json:"cloudCover,omitempty"`
	IncidenceAngle  string            `json:"incidenceAngle,omitempty"`
	ProcessingLevel string            `json:"processingLevel,omitempty"`
	Relation        string            `json:"relation,omitempty"`
	Geometry        *geojson.Geometry `json:"geometry,omitempty"`
	BBox            string            `json:"bbox,omitempty"`
	Constellation   string            `json:"constellation,omitempty"`
	ItemsPerPage    int               `json:"itemsPerPage,omitempty"`
}

// SearchResult is the opensearch response.
type SearchResult struct {
	TotalResults int       `json:"totalResults"`
	Features     []Feature `json:"features"`
}

// Feature is one catalog scene as returned by search.
type Feature struct {
	Type       string            `json:"type"`
	Geometry   *geojson.Geometry `json:"geometry,omitempty"`
	Properties SceneProperties   `json:"properties"`
	Links      SceneLinks        `json:"_links"`
}

// SceneProperties holds the scene attributes used for selection.
type SceneProperties struct {
	ID              string    `json:"id"`
	AcquisitionDate time.Time `json:"acquisitionDate"`
	Constellation   string    `json:"constellation"`
	CloudCover      float64   `json:"cloudCover"`
	IncidenceAngle  float64   `json:"incidenceAngle,omitempty"`
	ProcessingLevel string    `json:"processingLevel,omitempty"`
}

// Link is a HAL link.
type Link struct {
	Href string `json:"href"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
}

// SceneLinks are the links of a search feature.
type SceneLinks struct {
	Quicklook *Link `json:"quicklook,omitempty"`
	Thumbnail *Link `json:"thumbnail,omitempty"`
}

// Scenes converts search features to candidate scenes, in response order.
func (r SearchResult) Scenes() []model.Scene {
	scenes := make([]model.Scene, 0, len(r.Features))
	for _, f := range r.Features {
		s := model.Scene{
			ImageID:       f.Properties.ID,
			AcquiredAt:    f.Properties.AcquisitionDate,
			CloudCover:    f.Properties.CloudCover,
			Constellation: f.Properties.Constellation,
		}
		if f.Links.Quicklook != nil {
			s.QuicklookURL = f.Links.Quicklook.Href
		}
		scenes = append(scenes, s)
	}
	return scenes
}

// Product is one item of an order.
type Product struct {
	ProductType           string            `json:"productType"`
	RadiometricProcessing string            `json:"radiometricProcessing"`
	ImageFormat           string            `json:"imageFormat"`
	CRSCode               string            `json:"crsCode"`
	ID                    string            `json:"id"`
	AOI                   *geojson.Geometry `json:"aoi,omitempty"`
}

// OrderRequest is the body of price and order calls.
type OrderRequest struct {
	Kind        string    `json:"kind"`
	Products    []Product `json:"products"`
	CustomerRef string    `json:"customerRef"`
}

// Order is the server side order resource.
type Order struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	CustomerRef string     `json:"customerRef"`
	Kind        string     `json:"kind"`
	CreatedAt   string     `json:"createdAt,omitempty"`
	Deliveries  []Delivery `json:"deliveries,omitempty"`
}

// Delivered reports whether the order reached its terminal status.
func (o Order) Delivered() bool {
	return o.Status == model.StatusDelivered
}

// DownloadURL returns the first delivery's download link.
func (o Order) DownloadURL() (string, error) {
	if len(o.Deliveries) == 0 || o.Deliveries[0].Links.Download == nil || o.Deliveries[0].Links.Download.Href == "" {
		return "", model.Invalid("order", "order %q has no download link", o.ID)
	}
	return o.Deliveries[0].Links.Download.Href, nil
}

// Delivery is one deliverable of an order.
type Delivery struct {
	Status string        `json:"status,omitempty"`
	Links  DeliveryLinks `json:"_links"`
}

// DeliveryLinks are the links of a delivery.
type DeliveryLinks struct {
	Download *Link `json:"download,omitempty"`
}

// OrderList is a page of orders.
type OrderList struct {
	Items        []Order `json:"items"`
	Total        int     `json:"total,omitempty"`
	Page         int     `json:"page,omitempty"`
	ItemsPerPage int     `json:"itemsPerPage,omitempty"`
}

// OrderFilter narrows ListOrders. Zero fields are not sent.
type OrderFilter struct {
	Status       string
	Kind         string
	CustomerRef  string
	Page         int
	ItemsPerPage int
}

// Price is the pricing response. Only logged, so kept verbatim.
type Price struct {
	Raw json.RawMessage
}

// UnmarshalJSON keeps the payload as is.
func (p *Price) UnmarshalJSON(data []byte) error {
	p.Raw = append(p.Raw[:0], data...)
	return nil
}

// String returns the compacted payload.
func (p Price) String() string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, p.Raw); err != nil {
		return string(p.Raw)
	}
	return buf.String()
}

// APIKey is a key of the account.
type APIKey struct {
	ID           string `json:"id"`
	Description  string `json:"description,omitempty"`
	CreationDate string `json:"creationDate,omitempty"`
	APIKey       string `json:"apikey,omitempty"` // only set right after creation
}

type tokenResponse struct {
	AccessToken string  `json:"access_token"`
	ExpiresIn   float64 `json:"expires_in"`
	TokenType   string  `json:"token_type"`
}
