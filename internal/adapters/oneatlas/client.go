// Package oneatlas is a client for the OneAtlas imagery API.
//
// One Client implements the three capability sets (AuthAPI, DataAPI and
// SearchAPI) over a shared resty transport and TokenManager. Non-2xx
// responses become *RequestError and are never retried here; token
// failures become *AuthError.
package oneatlas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/okian/atlasbatch/pkg/logger"
	"github.com/okian/atlasbatch/pkg/metrics"
)

const (
	defaultTimeout = 5 * time.Minute
	maxErrorBody   = 4096
	requestIDKey   = "X-Request-ID"
)

// SearchAPI queries the catalog.
type SearchAPI interface {
	Search(ctx context.Context, req SearchRequest) (SearchResult, error)
	DownloadQuicklook(ctx context.Context, quicklookURL, path string) (int64, error)
}

// DataAPI prices, places and fetches orders.
type DataAPI interface {
	GetPrice(ctx context.Context, req OrderRequest) (Price, error)
	CreateOrder(ctx context.Context, req OrderRequest) (Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) (OrderList, error)
	GetOrder(ctx context.Context, id string) (Order, error)
	DownloadOrder(ctx context.Context, order Order, path string) (int64, error)
}

// AuthAPI manages the account's API keys.
type AuthAPI interface {
	ListAPIKeys(ctx context.Context) ([]APIKey, error)
	CreateAPIKey(ctx context.Context, description string) (APIKey, error)
	DeleteAPIKeys(ctx context.Context) error
}

var (
	_ SearchAPI = (*Client)(nil)
	_ DataAPI   = (*Client)(nil)
	_ AuthAPI   = (*Client)(nil)
)

// Client talks to the three API hosts.
type Client struct {
	rc        *resty.Client
	dl        *resty.Client
	tokens    *TokenManager
	endpoints Endpoints
	log       logger.Logger

	timeout    time.Duration
	margin     time.Duration
	now        func() time.Time
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoints overrides the API hosts.
func WithEndpoints(e Endpoints) Option {
	return func(c *Client) {
		c.endpoints = e.trimmed()
	}
}

// WithTimeout bounds each API request. Downloads have no total deadline;
// they fail once d passes without receiving data.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithTokenMargin sets how long before expiry a token is renewed.
func WithTokenMargin(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.margin = d
		}
	}
}

// WithClock replaces time.Now for token expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithHTTPClient uses hc as the underlying transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New returns a Client authenticating with apiKey.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		endpoints: Single(""),
		timeout:   defaultTimeout,
		margin:    DefaultTokenMargin,
		now:       time.Now,
		log:       logger.Get().Named("oneatlas"),
	}
	defaultEndpoints, err := EndpointsFromEnv()
	if err == nil {
		c.endpoints = defaultEndpoints
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient != nil {
		c.rc = resty.NewWithClient(c.httpClient)
	} else {
		c.rc = resty.New()
	}
	c.rc.SetTimeout(c.timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "atlasbatch")

	c.dl = c.newDownloadClient()

	c.tokens = newTokenManager(c.rc, c.endpoints.tokenURL(), apiKey, c.margin, c.now, c.log)
	return c
}

// newDownloadClient copies the transport without its overall timeout. A
// delivery of several GB may stream for far longer than one API call.
func (c *Client) newDownloadClient() *resty.Client {
	hc := &http.Client{}
	if c.httpClient != nil {
		*hc = *c.httpClient
	}
	hc.Timeout = 0
	if hc.Transport == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert // stdlib default
		tr.ResponseHeaderTimeout = c.timeout
		hc.Transport = tr
	}
	return resty.NewWithClient(hc).SetHeader("User-Agent", "atlasbatch")
}

// Tokens exposes the token manager.
func (c *Client) Tokens() *TokenManager { return c.tokens }

type call struct {
	audience Audience
	endpoint string // metrics label
	method   string
	url      string
	query    map[string]string
	body     any
	out      any
}

func (c *Client) do(ctx context.Context, in call) error {
	bearer, err := c.tokens.Token(ctx, in.audience)
	if err != nil {
		return err
	}

	req := c.rc.R().
		SetContext(ctx).
		SetAuthToken(bearer).
		SetHeader(requestIDKey, uuid.NewString())
	for k, v := range in.query {
		if v != "" {
			req.SetQueryParam(k, v)
		}
	}
	if in.body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(in.body)
	}

	start := time.Now()
	resp, err := req.Execute(in.method, in.url)
	if err != nil {
		metrics.RecordAPIRequest(in.endpoint, "error", time.Since(start).Seconds())
		return fmt.Errorf("%s %s: %w", in.method, in.url, err)
	}
	metrics.RecordAPIRequest(in.endpoint, statusLabel(resp.StatusCode()), time.Since(start).Seconds())

	if !success(resp.StatusCode()) {
		return &RequestError{
			Method: in.method,
			URL:    in.url,
			Status: resp.StatusCode(),
			Body:   truncate(resp.String()),
		}
	}
	if in.out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), in.out); err != nil {
		return fmt.Errorf("decode %s %s: %w", in.method, in.url, err)
	}
	return nil
}

// download streams url into path. On a failed status nothing is written;
// a broken stream may leave a partial file behind. The stream is bounded by
// ctx and fails with ErrStalled after c.timeout without data.
func (c *Client) download(ctx context.Context, endpoint, url, path string) (int64, error) {
	bearer, err := c.tokens.Token(ctx, AudienceData)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	watchdog := time.AfterFunc(c.timeout, func() { cancel(ErrStalled) })
	defer watchdog.Stop()

	start := time.Now()
	resp, err := c.dl.R().
		SetContext(ctx).
		SetAuthToken(bearer).
		SetHeader(requestIDKey, uuid.NewString()).
		SetHeader("Accept", "*/*").
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		metrics.RecordAPIRequest(endpoint, "error", time.Since(start).Seconds())
		return 0, fmt.Errorf("GET %s: %w", url, c.stalled(ctx, err))
	}
	raw := resp.RawBody()
	defer func() { _ = raw.Close() }()
	metrics.RecordAPIRequest(endpoint, statusLabel(resp.StatusCode()), time.Since(start).Seconds())

	if !success(resp.StatusCode()) {
		body, _ := io.ReadAll(io.LimitReader(raw, maxErrorBody))
		return 0, &RequestError{Method: http.MethodGet, URL: url, Status: resp.StatusCode(), Body: string(body)}
	}

	f, err := os.Create(path) //nolint:gosec // path is built by the caller from config
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}
	n, copyErr := io.Copy(f, &idleReader{r: raw, watchdog: watchdog, idle: c.timeout})
	closeErr := f.Close()
	metrics.RecordBytesDownloaded(n)
	if copyErr != nil {
		copyErr = c.stalled(ctx, copyErr)
	}
	if err := errors.Join(copyErr, closeErr); err != nil {
		return n, fmt.Errorf("download %s to %s: %w", url, path, err)
	}

	c.log.Debug(ctx, "downloaded",
		logger.String("url", url),
		logger.String("path", path),
		logger.Int64("bytes", n))
	return n, nil
}

// stalled swaps a transport error for ErrStalled when the watchdog fired.
func (c *Client) stalled(ctx context.Context, err error) error {
	if errors.Is(context.Cause(ctx), ErrStalled) {
		return fmt.Errorf("%w: no data for %s", ErrStalled, c.timeout)
	}
	return err
}

// idleReader pushes the watchdog back whenever data arrives.
type idleReader struct {
	r        io.Reader
	watchdog *time.Timer
	idle     time.Duration
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.watchdog.Reset(r.idle)
	}
	return n, err
}

func success(status int) bool {
	return status >= 200 && status < 300
}

func statusLabel(status int) string {
	return strconv.Itoa(status)
}

func truncate(s string) string {
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}
