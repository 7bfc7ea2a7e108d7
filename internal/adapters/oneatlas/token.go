package oneatlas

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v4"

	"github.com/okian/atlasbatch/pkg/logger"
	"github.com/okian/atlasbatch/pkg/metrics"
)

// DefaultTokenMargin is taken off every token lifetime.
const DefaultTokenMargin = 10 * time.Second

type accessToken struct {
	bearer string
	expiry time.Time
}

// TokenManager caches one bearer token per audience and renews it lazily,
// on the first request after it expired. Safe for concurrent use; renewals
// are serialised.
type TokenManager struct {
	mu     sync.Mutex
	tokens map[Audience]accessToken

	rc     *resty.Client
	url    string
	apiKey string
	margin time.Duration
	now    func() time.Time
	log    logger.Logger
}

func newTokenManager(rc *resty.Client, url, apiKey string, margin time.Duration, now func() time.Time, log logger.Logger) *TokenManager {
	return &TokenManager{
		tokens: make(map[Audience]accessToken),
		rc:     rc,
		url:    url,
		apiKey: apiKey,
		margin: margin,
		now:    now,
		log:    log,
	}
}

// Token returns a bearer valid now for audience.
func (m *TokenManager) Token(ctx context.Context, audience Audience) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.tokens[audience]; ok && m.now().Before(t.expiry) {
		return t.bearer, nil
	}

	t, err := m.exchange(ctx, audience)
	if err != nil {
		return "", err
	}
	m.tokens[audience] = t
	return t.bearer, nil
}

// Expiry reports when the cached token of audience expires.
func (m *TokenManager) Expiry(audience Audience) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[audience]
	return t.expiry, ok
}

func (m *TokenManager) exchange(ctx context.Context, audience Audience) (accessToken, error) {
	issued := m.now()
	start := time.Now()
	resp, err := m.rc.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"apikey":     m.apiKey,
			"client_id":  string(audience),
			"grant_type": "api_key",
		}).
		Post(m.url)
	if err != nil {
		metrics.RecordAPIRequest("token", "error", time.Since(start).Seconds())
		return accessToken{}, &AuthError{Audience: audience, Err: err}
	}
	metrics.RecordAPIRequest("token", statusLabel(resp.StatusCode()), time.Since(start).Seconds())
	if !success(resp.StatusCode()) {
		return accessToken{}, &AuthError{Audience: audience, Status: resp.StatusCode(), Body: truncate(resp.String())}
	}

	var body tokenResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return accessToken{}, &AuthError{Audience: audience, Status: resp.StatusCode(), Err: fmt.Errorf("decode token: %w", err)}
	}
	if body.AccessToken == "" {
		return accessToken{}, &AuthError{Audience: audience, Status: resp.StatusCode(), Err: fmt.Errorf("empty access_token")}
	}

	var expiry time.Time
	if body.ExpiresIn > 0 {
		expiry = issued.Add(time.Duration(body.ExpiresIn * float64(time.Second)))
	} else {
		exp, err := claimExpiry(body.AccessToken)
		if err != nil {
			return accessToken{}, &AuthError{Audience: audience, Status: resp.StatusCode(), Err: err}
		}
		expiry = exp
	}
	expiry = expiry.Add(-m.margin)

	metrics.RecordTokenRefresh(string(audience))
	m.log.Debug(ctx, "token renewed",
		logger.String("audience", string(audience)),
		logger.String("expires_at", expiry.Format(time.RFC3339)))
	return accessToken{bearer: body.AccessToken, expiry: expiry}, nil
}

// claimExpiry reads exp from a JWT. The signature is not verified.
func claimExpiry(raw string) (time.Time, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrNoExpiry, err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrNoExpiry
	}
	return claims.ExpiresAt.Time, nil
}
