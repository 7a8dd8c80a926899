package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procuredata/console/pkg/utils"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type idmServer struct {
	*httptest.Server
	logins atomic.Int32
	fail   atomic.Bool
	delay  time.Duration
}

func newIDMServer(t *testing.T) *idmServer {
	t.Helper()
	s := &idmServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/auth/tokens" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["name"] != "svc" || body["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		n := s.logins.Add(1)
		if s.delay > 0 {
			time.Sleep(s.delay)
		}
		if s.fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set(SubjectTokenHeader, "token-"+string(rune('0'+n)))
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(s.Close)
	return s
}

func newTestCache(idm *idmServer, clock *fakeClock) *TokenCache {
	return NewTokenCache(
		Credentials{Host: idm.URL, User: "svc", Password: "secret"},
		TokenCacheConfig{},
		WithTokenClock(clock.Now),
	)
}

func TestTokenCache_ExpiryScenario(t *testing.T) {
	idm := newIDMServer(t)
	clock := &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	cache := newTestCache(idm, clock)
	ctx := context.Background()

	first, err := cache.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-1", first)
	assert.EqualValues(t, 1, idm.logins.Load())
	assert.Equal(t, clock.Now().Add(time.Hour), cache.ExpiresAt())

	clock.Advance(59 * time.Minute)
	reused, err := cache.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, reused)
	assert.EqualValues(t, 1, idm.logins.Load())

	clock.Advance(time.Minute + time.Second)
	fresh, err := cache.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-2", fresh)
	assert.EqualValues(t, 2, idm.logins.Load())
}

func TestTokenCache_FailureLeavesSlotUntouched(t *testing.T) {
	idm := newIDMServer(t)
	clock := &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	cache := newTestCache(idm, clock)
	ctx := context.Background()

	_, err := cache.Token(ctx)
	require.NoError(t, err)
	expiresAt := cache.ExpiresAt()

	clock.Advance(2 * time.Hour)
	idm.fail.Store(true)

	_, err = cache.Token(ctx)
	require.Error(t, err)
	assert.Equal(t, utils.CodeUnauthorized, utils.ErrorCode(err))
	assert.Equal(t, expiresAt, cache.ExpiresAt())

	_, err = cache.Token(ctx)
	require.Error(t, err, "a stale token is never reused")
	assert.EqualValues(t, 3, idm.logins.Load(), "each call retries the login")

	idm.fail.Store(false)
	token, err := cache.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-4", token)
}

func TestTokenCache_MissingHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	cache := NewTokenCache(Credentials{Host: srv.URL, User: "svc", Password: "secret"}, TokenCacheConfig{})
	_, err := cache.Token(context.Background())
	require.Error(t, err)
	assert.Equal(t, utils.CodeUnauthorized, utils.ErrorCode(err))
	assert.True(t, cache.ExpiresAt().IsZero())
}

func TestTokenCache_ConcurrentCallersShareOneLogin(t *testing.T) {
	idm := newIDMServer(t)
	idm.delay = 50 * time.Millisecond
	clock := &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	cache := newTestCache(idm, clock)

	var wg sync.WaitGroup
	tokens := make([]string, 16)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := cache.Token(context.Background())
			assert.NoError(t, err)
			tokens[i] = token
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, idm.logins.Load())
	for _, token := range tokens {
		assert.Equal(t, "token-1", token)
	}
}

func TestTokenCache_Invalidate(t *testing.T) {
	idm := newIDMServer(t)
	clock := &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	cache := newTestCache(idm, clock)
	ctx := context.Background()

	_, err := cache.Token(ctx)
	require.NoError(t, err)
	cache.Invalidate()

	token, err := cache.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-2", token)
}

func TestCredentialsComplete(t *testing.T) {
	assert.True(t, Credentials{Host: "h", User: "u", Password: "p"}.Complete())
	assert.False(t, Credentials{Host: "h", User: "u"}.Complete())
	assert.False(t, Credentials{User: "u", Password: "p"}.Complete())
	assert.False(t, NewTokenCache(Credentials{}, TokenCacheConfig{}).Enabled())
}
