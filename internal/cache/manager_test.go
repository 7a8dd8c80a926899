package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procuredata/console/internal/models"
	"github.com/procuredata/console/internal/store/memory"
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

func seedAsset(t *testing.T, s *memory.Store, name string) *models.DataAsset {
	t.Helper()
	asset := models.NewDataAsset(name, "test asset", models.DataTypeIoT, "org-provider", "org-holder")
	require.NoError(t, s.CreateAsset(context.Background(), asset))
	return asset
}

func TestManager_GetAsset(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	asset := seedAsset(t, s, "Fleet telemetry")
	m := NewManager(s, time.Minute)

	first, err := m.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, asset.Name, first.Name)

	second, err := m.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, asset.ID, second.ID)

	stats := m.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.AssetCount)
}

func TestManager_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	asset := seedAsset(t, s, "Energy readings")
	m := NewManager(s, time.Minute)

	got, err := m.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	got.Name = "mutated"

	again, err := m.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, "Energy readings", again.Name)
}

func TestManager_Expiry(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	asset := seedAsset(t, s, "ESG report")
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := NewManager(s, time.Minute, WithClock(clock.Now))

	m.SetAsset(asset)
	clock.Advance(2 * time.Minute)
	m.CleanupExpired()
	assert.Equal(t, 0, m.Stats().AssetCount)

	_, err := m.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m.Stats().Misses)
}

func TestManager_GetAssets(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	a := seedAsset(t, s, "Asset A")
	b := seedAsset(t, s, "Asset B")
	m := NewManager(s, time.Minute)
	m.SetAsset(a)

	got, err := m.GetAssets(ctx, []uuid.UUID{b.ID, uuid.New(), a.ID})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, b.ID, got[0].ID)
	assert.Equal(t, a.ID, got[1].ID)
}

func TestManager_NotFoundIsNotCached(t *testing.T) {
	m := NewManager(memory.NewStore(), time.Minute)

	_, err := m.GetAsset(context.Background(), uuid.New())
	assert.True(t, utils.IsNotFound(err))
	assert.Equal(t, 0, m.Stats().AssetCount)
}

func TestManager_InvalidateAndClear(t *testing.T) {
	s := memory.NewStore()
	asset := seedAsset(t, s, "Machine logs")
	m := NewManager(s, time.Minute)

	require.NoError(t, m.Preload(context.Background(), 10))
	assert.Equal(t, 1, m.Stats().AssetCount)

	m.InvalidateAsset(asset.ID)
	assert.Equal(t, 0, m.Stats().AssetCount)

	m.SetAsset(asset)
	m.Clear()
	stats := m.Stats()
	assert.Equal(t, 0, stats.AssetCount)
	assert.Equal(t, uint64(0), stats.Hits)
}

type countingRecorder struct {
	hits, misses int
}

func (r *countingRecorder) RecordCacheHit(string)  { r.hits++ }
func (r *countingRecorder) RecordCacheMiss(string) { r.misses++ }

func TestManager_Recorder(t *testing.T) {
	s := memory.NewStore()
	asset := seedAsset(t, s, "Vehicle traces")
	rec := &countingRecorder{}
	m := NewManager(s, time.Minute, WithRecorder(rec))

	_, _ = m.GetAsset(context.Background(), asset.ID)
	_, _ = m.GetAsset(context.Background(), asset.ID)

	assert.Equal(t, 1, rec.hits)
	assert.Equal(t, 1, rec.misses)
}
