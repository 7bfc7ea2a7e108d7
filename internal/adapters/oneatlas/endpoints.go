package oneatlas

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Endpoints are the base URLs of the three API hosts.
type Endpoints struct {
	AuthURL   string `env:"ONEATLAS_AUTH_URL"   envDefault:"https://authenticate.foundation.api.oneatlas.airbus.com"`
	DataURL   string `env:"ONEATLAS_DATA_URL"   envDefault:"https://data.api.oneatlas.airbus.com"`
	SearchURL string `env:"ONEATLAS_SEARCH_URL" envDefault:"https://search.foundation.api.oneatlas.airbus.com"`
}

// EndpointsFromEnv returns the public hosts unless ONEATLAS_*_URL overrides them.
func EndpointsFromEnv() (Endpoints, error) {
	e, err := env.ParseAs[Endpoints]()
	if err != nil {
		return Endpoints{}, fmt.Errorf("parse endpoints: %w", err)
	}
	return e.trimmed(), nil
}

// Single points every host at base, for tests and proxies.
func Single(base string) Endpoints {
	return Endpoints{AuthURL: base, DataURL: base, SearchURL: base}.trimmed()
}

func (e Endpoints) trimmed() Endpoints {
	e.AuthURL = strings.TrimRight(e.AuthURL, "/")
	e.DataURL = strings.TrimRight(e.DataURL, "/")
	e.SearchURL = strings.TrimRight(e.SearchURL, "/")
	return e
}

func (e Endpoints) tokenURL() string {
	return e.AuthURL + "/auth/realms/IDP/protocol/openid-connect/token"
}

func (e Endpoints) apiKeysURL() string { return e.AuthURL + "/api/v1/apikeys" }
func (e Endpoints) searchURL() string  { return e.SearchURL + "/api/v2/opensearch" }
func (e Endpoints) pricesURL() string  { return e.DataURL + "/api/v1/prices" }
func (e Endpoints) ordersURL() string  { return e.DataURL + "/api/v1/orders" }
