package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/procuredata/console/internal/models"
	"github.com/procuredata/console/internal/store"
)

// Recorder receives hit and miss notifications; the metrics manager implements it.
type Recorder interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

const assetCacheType = "asset"

// Manager caches catalog assets read on every transaction request and list.
type Manager struct {
	assets sync.Map // uuid.UUID -> *cacheEntry

	ttl   time.Duration
	store store.AssetStore
	now   func() time.Time

	recorder Recorder

	// Statistics
	hits   uint64
	misses uint64
	mu     sync.RWMutex
}

type Option func(*Manager)

func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(assetStore store.AssetStore, ttl time.Duration, opts ...Option) *Manager {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	m := &Manager{
		store: assetStore,
		ttl:   ttl,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type cacheEntry struct {
	value      *models.DataAsset
	expiration time.Time
}

func (m *Manager) load(id uuid.UUID) (*models.DataAsset, bool) {
	cached, ok := m.assets.Load(id)
	if !ok {
		return nil, false
	}
	entry := cached.(*cacheEntry)
	if m.now().After(entry.expiration) {
		m.assets.Delete(id)
		return nil, false
	}
	return entry.value.Clone(), true
}

// GetAsset returns a copy of the asset, loading it from the store on a miss.
func (m *Manager) GetAsset(ctx context.Context, id uuid.UUID) (*models.DataAsset, error) {
	if asset, ok := m.load(id); ok {
		m.recordHit()
		return asset, nil
	}

	m.recordMiss()

	asset, err := m.store.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}

	m.SetAsset(asset)
	return asset, nil
}

// GetAssets resolves ids in order, fetching all misses in one store call.
// Ids unknown to the store are skipped.
func (m *Manager) GetAssets(ctx context.Context, ids []uuid.UUID) ([]*models.DataAsset, error) {
	found := make(map[uuid.UUID]*models.DataAsset, len(ids))
	var missing []uuid.UUID

	for _, id := range ids {
		if asset, ok := m.load(id); ok {
			m.recordHit()
			found[id] = asset
			continue
		}
		m.recordMiss()
		missing = append(missing, id)
	}

	if len(missing) > 0 {
		loaded, err := m.store.GetAssetsByIDs(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, asset := range loaded {
			m.SetAsset(asset)
			found[asset.ID] = asset
		}
	}

	out := make([]*models.DataAsset, 0, len(ids))
	for _, id := range ids {
		if asset, ok := found[id]; ok {
			out = append(out, asset)
		}
	}
	return out, nil
}

func (m *Manager) SetAsset(asset *models.DataAsset) {
	m.assets.Store(asset.ID, &cacheEntry{
		value:      asset.Clone(),
		expiration: m.now().Add(m.ttl),
	})
}

func (m *Manager) InvalidateAsset(id uuid.UUID) {
	m.assets.Delete(id)
}

// Preload warms the cache with the first limit assets of the catalog.
func (m *Manager) Preload(ctx context.Context, limit int) error {
	assets, err := m.store.ListAssets(ctx, models.AssetFilter{Limit: limit})
	if err != nil {
		return fmt.Errorf("failed to preload assets: %w", err)
	}

	for _, asset := range assets {
		m.SetAsset(asset)
	}
	return nil
}

func (m *Manager) Clear() {
	m.assets.Range(func(key, _ any) bool {
		m.assets.Delete(key)
		return true
	})

	m.mu.Lock()
	m.hits = 0
	m.misses = 0
	m.mu.Unlock()
}

func (m *Manager) CleanupExpired() {
	now := m.now()

	m.assets.Range(func(key, value any) bool {
		if now.After(value.(*cacheEntry).expiration) {
			m.assets.Delete(key)
		}
		return true
	})
}

func (m *Manager) StartCleanupRoutine(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.CleanupExpired()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *Manager) Stats() CacheStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	m.assets.Range(func(_, _ any) bool {
		count++
		return true
	})

	total := m.hits + m.misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(m.hits) / float64(total)
	}

	return CacheStats{
		Hits:       m.hits,
		Misses:     m.misses,
		HitRate:    hitRate,
		AssetCount: count,
	}
}

type CacheStats struct {
	Hits       uint64  `json:"hits"`
	Misses     uint64  `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
	AssetCount int     `json:"asset_count"`
}

func (m *Manager) recordHit() {
	m.mu.Lock()
	m.hits++
	m.mu.Unlock()
	if m.recorder != nil {
		m.recorder.RecordCacheHit(assetCacheType)
	}
}

func (m *Manager) recordMiss() {
	m.mu.Lock()
	m.misses++
	m.mu.Unlock()
	if m.recorder != nil {
		m.recorder.RecordCacheMiss(assetCacheType)
	}
}
