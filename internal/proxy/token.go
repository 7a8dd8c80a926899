package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/procuredata/console/internal/observability"
	"github.com/procuredata/console/pkg/utils"
)

const (
	// SubjectTokenHeader carries the token in the identity manager's login response.
	SubjectTokenHeader = "X-Subject-Token"

	DefaultTokenTTL     = time.Hour
	DefaultTokenMargin  = 5 * time.Minute
	defaultLoginTimeout = 10 * time.Second
)

// Credentials identify the service account used against the identity manager.
type Credentials struct {
	Host     string
	User     string
	Password string
}

// Complete reports whether all three values are set. Without them no login is attempted.
func (c Credentials) Complete() bool {
	return c.Host != "" && c.User != "" && c.Password != ""
}

type TokenCacheConfig struct {
	// TTL is how long a fetched token is reused.
	TTL time.Duration `yaml:"ttl" mapstructure:"ttl"`
	// Margin is the headroom kept before the token's assumed expiry.
	Margin       time.Duration `yaml:"margin" mapstructure:"margin"`
	LoginTimeout time.Duration `yaml:"login_timeout" mapstructure:"login_timeout"`
}

// TokenSource hands out identity-manager tokens.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenCache holds a single identity-manager token. Concurrent callers that
// find it stale share one login.
type TokenCache struct {
	creds  Credentials
	client *http.Client
	ttl    time.Duration
	margin time.Duration
	now    func() time.Time

	mu        sync.RWMutex
	token     string
	expiresAt time.Time

	logins  singleflight.Group
	metrics *observability.MetricsManager
	logger  zerolog.Logger
}

type TokenCacheOption func(*TokenCache)

func WithTokenClock(now func() time.Time) TokenCacheOption {
	return func(c *TokenCache) {
		if now != nil {
			c.now = now
		}
	}
}

func WithTokenHTTPClient(client *http.Client) TokenCacheOption {
	return func(c *TokenCache) {
		if client != nil {
			c.client = client
		}
	}
}

func WithTokenMetrics(metrics *observability.MetricsManager) TokenCacheOption {
	return func(c *TokenCache) { c.metrics = metrics }
}

func WithTokenLogger(logger zerolog.Logger) TokenCacheOption {
	return func(c *TokenCache) { c.logger = logger }
}

func NewTokenCache(creds Credentials, config TokenCacheConfig, opts ...TokenCacheOption) *TokenCache {
	if config.TTL <= 0 {
		config.TTL = DefaultTokenTTL
	}
	if config.Margin < 0 {
		config.Margin = 0
	} else if config.Margin == 0 {
		config.Margin = DefaultTokenMargin
	}
	if config.LoginTimeout <= 0 {
		config.LoginTimeout = defaultLoginTimeout
	}

	c := &TokenCache{
		creds:  creds,
		client: &http.Client{Timeout: config.LoginTimeout},
		ttl:    config.TTL,
		margin: config.Margin,
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *TokenCache) Enabled() bool {
	return c != nil && c.creds.Complete()
}

func (c *TokenCache) cached() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" {
		return "", false
	}
	return c.token, c.expiresAt.After(c.now().Add(c.margin))
}

// Token returns the cached token while it is outside the safety margin and
// logs in otherwise. A failed login leaves the slot as it was.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	if token, ok := c.cached(); ok {
		c.metrics.RecordTokenCacheHit()
		return token, nil
	}

	ch := c.logins.DoChan("login", func() (any, error) {
		// A caller that queued behind a finished login can use its result.
		if token, ok := c.cached(); ok {
			return token, nil
		}
		return c.login(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// ExpiresAt returns the nominal expiry of the cached token, login time plus
// TTL, or zero when empty.
func (c *TokenCache) ExpiresAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.expiresAt.IsZero() {
		return time.Time{}
	}
	return c.expiresAt.Add(-c.margin)
}

// Invalidate drops the cached token so the next call logs in.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

func (c *TokenCache) login(ctx context.Context) (string, error) {
	if !c.creds.Complete() {
		return "", utils.NewAppError(utils.CodeUnauthorized, "identity manager credentials are not configured", nil)
	}

	payload, err := json.Marshal(map[string]string{"name": c.creds.User, "password": c.creds.Password})
	if err != nil {
		return "", utils.WrapError(err, "encode login body")
	}

	ctx, cancel := context.WithTimeout(ctx, c.client.Timeout+time.Second)
	defer cancel()

	endpoint := strings.TrimRight(c.creds.Host, "/") + "/v1/auth/tokens"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", utils.WrapError(err, "build login request")
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug().Str("host", c.creds.Host).Msg("Requesting identity manager token")

	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.RecordTokenLogin(false)
		return "", utils.NewAppError(utils.CodeUnauthorized, "identity manager login failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.metrics.RecordTokenLogin(false)
		return "", utils.NewAppError(utils.CodeUnauthorized,
			fmt.Sprintf("identity manager login failed: %d", resp.StatusCode), nil).
			WithDetail("status", resp.StatusCode)
	}

	token := resp.Header.Get(SubjectTokenHeader)
	if token == "" {
		c.metrics.RecordTokenLogin(false)
		return "", utils.NewAppError(utils.CodeUnauthorized, "no token received from identity manager", nil)
	}

	// The reuse window ends after ttl: the assumed lifetime is ttl plus the margin.
	expiresAt := c.now().Add(c.ttl + c.margin)

	c.mu.Lock()
	c.token = token
	c.expiresAt = expiresAt
	c.mu.Unlock()

	c.metrics.RecordTokenLogin(true)
	c.logger.Info().Time("expires_at", expiresAt).Msg("Authenticated with identity manager")
	return token, nil
}
