// Package config defines run configuration structures and loading hooks.
//
// Conventions:
// - Keys are flat snake_case, shared by the config file, ATLAS_ env vars and CLI flags.
// - New() returns a Config populated with defaults; Load layers sources on top.
// - External errors are wrapped with this package's sentinel errors.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Config contains run configuration.
type Config struct {
	// APIKey is the imagery API key exchanged for bearer tokens.
	APIKey string `koanf:"api_key"`

	// OutputDir receives delivered archives; rasters go to OutputDir/extracted_images.
	OutputDir string `koanf:"output_dir"`

	// InputGDB points at the site points. Only GeoJSON point collections are read.
	InputGDB string `koanf:"input_gdb"`

	// UIDColumn names the feature property holding site ids. Empty uses the feature index.
	UIDColumn string `koanf:"uid_column"`

	// Campaign prefixes every customer reference: <campaign>_<site>_<rank>.
	Campaign string `koanf:"campaign"`

	// ProductTag is part of the archive name: <campaign>_<tag>_<site>.zip.
	ProductTag string `koanf:"product_tag"`

	// BufferDistance is the half-width in metres of the search box around each point.
	BufferDistance int `koanf:"buffer_distance"`

	// IDStart and IDEnd bound the processed site ids (inclusive). IDEnd <= 0 is unbounded.
	IDStart int `koanf:"id_start"`
	IDEnd   int `koanf:"id_end"`

	// Catalog search parameters.
	SearchCloudCover      string `koanf:"search_cloud_cover"`
	SearchIncidenceAngle  string `koanf:"search_incidence_angle"`
	SearchProcessingLevel string `koanf:"search_processing_level"`
	SearchRelation        string `koanf:"search_relation"`
	SearchConstellation   string `koanf:"search_constellation"`

	// Order product parameters.
	OrderKind                  string `koanf:"order_kind"`
	OrderProductType           string `koanf:"order_product_type"`
	OrderRadiometricProcessing string `koanf:"order_radiometric_processing"`
	OrderImageFormat           string `koanf:"order_image_format"`
	OrderCRSCode               string `koanf:"order_crs_code"`

	// PollInterval is the first wait between status polls; it grows up to PollMaxInterval.
	PollInterval    time.Duration `koanf:"poll_interval"`
	PollMaxInterval time.Duration `koanf:"poll_max_interval"`
	// PollTimeout caps the total time spent waiting for one order.
	PollTimeout time.Duration `koanf:"poll_timeout"`

	// HTTPTimeout bounds a single API request. Downloads may run longer but fail
	// after HTTPTimeout without receiving data.
	HTTPTimeout time.Duration `koanf:"http_timeout"`

	// TokenMargin is subtracted from a token lifetime before it is considered expired.
	TokenMargin time.Duration `koanf:"token_margin"`

	// Concurrency is the number of sites processed at once.
	Concurrency int `koanf:"concurrency"`

	// RasterExtension selects the raster extracted from delivered archives.
	RasterExtension string `koanf:"raster_extension"`

	// DeleteArchive removes the archive after a raster was extracted.
	DeleteArchive bool `koanf:"delete_archive"`

	// DatabaseURI enables the PostgreSQL order ledger. Empty keeps it in memory.
	DatabaseURI string `koanf:"database_uri"`

	// MetricsAddr serves /healthz, /metrics and /status when set, e.g. ":9464".
	MetricsAddr string `koanf:"metrics_addr"`

	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
}

// MinPollInterval is the shortest accepted poll_interval. A bare number in the
// config file decodes as nanoseconds and would otherwise hammer the API.
const MinPollInterval = time.Second

// New creates a Config holding the defaults.
func New() *Config {
	return &Config{
		UIDColumn:                  "image_id",
		Campaign:                   "sg_quarry",
		ProductTag:                 "PS",
		BufferDistance:             750,
		IDStart:                    1,
		SearchCloudCover:           "[0,30]",
		SearchIncidenceAngle:       "[0,40]",
		SearchProcessingLevel:      "SENSOR",
		SearchRelation:             "contains",
		SearchConstellation:        "PHR",
		OrderKind:                  "order.data.product",
		OrderProductType:           "pansharpened",
		OrderRadiometricProcessing: "DISPLAY",
		OrderImageFormat:           "image/geotiff",
		OrderCRSCode:               "urn:ogc:def:crs:EPSG::32630",
		PollInterval:               10 * time.Second,
		PollMaxInterval:            2 * time.Minute,
		PollTimeout:                6 * time.Hour,
		HTTPTimeout:                5 * time.Minute,
		TokenMargin:                10 * time.Second,
		Concurrency:                1,
		RasterExtension:            ".TIF",
		DeleteArchive:              true,
		LogLevel:                   "info",
	}
}

// ExtractDir is where extracted rasters are written.
func (c *Config) ExtractDir() string {
	return filepath.Join(c.OutputDir, "extracted_images")
}

// ArchiveTag is the prefix of archive names, e.g. "sg_quarry_PS".
func (c *Config) ArchiveTag() string {
	if c.ProductTag == "" {
		return c.Campaign
	}
	return c.Campaign + "_" + c.ProductTag
}

// Validate checks required keys and value ranges.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.APIKey) == "" {
		problems = append(problems, "api_key is required")
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		problems = append(problems, "output_dir is required")
	}
	if strings.TrimSpace(c.InputGDB) == "" {
		problems = append(problems, "input_gdb is required")
	}
	if strings.TrimSpace(c.Campaign) == "" {
		problems = append(problems, "campaign must not be empty")
	}
	if c.BufferDistance <= 0 {
		problems = append(problems, "buffer_distance must be positive")
	}
	if c.IDEnd > 0 && c.IDEnd < c.IDStart {
		problems = append(problems, fmt.Sprintf("id_end %d is before id_start %d", c.IDEnd, c.IDStart))
	}
	if c.PollInterval < MinPollInterval {
		problems = append(problems, fmt.Sprintf("poll_interval %s is below %s", c.PollInterval, MinPollInterval))
	}
	if c.PollMaxInterval < c.PollInterval {
		problems = append(problems, "poll_max_interval must not be below poll_interval")
	}
	if c.PollTimeout <= 0 {
		problems = append(problems, "poll_timeout must be positive")
	}
	if c.Concurrency < 1 {
		problems = append(problems, "concurrency must be at least 1")
	}
	if !strings.HasPrefix(c.RasterExtension, ".") {
		problems = append(problems, "raster_extension must start with a dot")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
