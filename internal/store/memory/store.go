package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/procuredata/console/internal/models"
	"github.com/procuredata/console/internal/store"
	"github.com/procuredata/console/pkg/utils"
)

// Store is an in-process store.PrimaryStore used for local runs without
// PostgreSQL and in unit tests. Values are copied on the way in and out.
type Store struct {
	mu           sync.RWMutex
	transactions map[uuid.UUID]*models.Transaction
	assets       map[uuid.UUID]*models.DataAsset
	resources    []*models.IDSResource
}

func NewStore() *Store {
	return &Store{
		transactions: make(map[uuid.UUID]*models.Transaction),
		assets:       make(map[uuid.UUID]*models.DataAsset),
	}
}

func (s *Store) CreateTransaction(_ context.Context, tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createTransactionLocked(tx)
}

func (s *Store) createTransactionLocked(tx *models.Transaction) error {
	if _, exists := s.transactions[tx.ID]; exists {
		return utils.NewAppError(utils.CodeAlreadyExists, "transaction already exists", nil).
			WithDetail("id", tx.ID.String())
	}
	if _, ok := s.assets[tx.AssetID]; !ok {
		return utils.NewAppError(utils.CodeNotFound, "data asset not found", nil).
			WithDetail("asset_id", tx.AssetID.String())
	}
	s.transactions[tx.ID] = tx.Clone()
	return nil
}

func (s *Store) GetTransaction(_ context.Context, id uuid.UUID) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, utils.NewAppError(utils.CodeNotFound, "transaction not found", nil).
			WithDetail("id", id.String())
	}
	return tx.Clone(), nil
}

func (s *Store) UpdateTransaction(_ context.Context, tx *models.Transaction, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateTransactionLocked(tx, expectedVersion)
}

func (s *Store) updateTransactionLocked(tx *models.Transaction, expectedVersion int) error {
	current, ok := s.transactions[tx.ID]
	if !ok || current.Version != expectedVersion {
		return utils.NewAppError(utils.CodeConcurrentModification,
			"transaction was modified by another request or does not exist", nil).
			WithDetail("id", tx.ID.String()).
			WithDetail("expected_version", expectedVersion)
	}
	s.transactions[tx.ID] = tx.Clone()
	return nil
}

func (s *Store) ListTransactions(_ context.Context, filter models.TransactionFilter) ([]*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Transaction
	for _, tx := range s.transactions {
		if org := filter.OrganizationID; org != "" &&
			tx.ConsumerOrgID != org && tx.ProviderOrgID != org && tx.HolderOrgID != org {
			continue
		}
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		out = append(out, tx.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, filter.Limit, filter.Offset), nil
}

func (s *Store) CreateAsset(_ context.Context, asset *models.DataAsset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.assets[asset.ID]; exists {
		return utils.NewAppError(utils.CodeAlreadyExists, "data asset already exists", nil).
			WithDetail("id", asset.ID.String())
	}
	s.assets[asset.ID] = asset.Clone()
	return nil
}

func (s *Store) GetAsset(_ context.Context, id uuid.UUID) (*models.DataAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	asset, ok := s.assets[id]
	if !ok {
		return nil, utils.NewAppError(utils.CodeNotFound, "data asset not found", nil).
			WithDetail("id", id.String())
	}
	return asset.Clone(), nil
}

func (s *Store) GetAssetsByIDs(_ context.Context, ids []uuid.UUID) ([]*models.DataAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.DataAsset, 0, len(ids))
	for _, id := range ids {
		if asset, ok := s.assets[id]; ok {
			out = append(out, asset.Clone())
		}
	}
	return out, nil
}

func (s *Store) ListAssets(_ context.Context, filter models.AssetFilter) ([]*models.DataAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := strings.ToLower(filter.Query)
	var out []*models.DataAsset
	for _, asset := range s.assets {
		if filter.DataType != "" && asset.DataType != filter.DataType {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(asset.Name), query) &&
			!strings.Contains(strings.ToLower(asset.Description), query) {
			continue
		}
		out = append(out, asset.Clone())
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return paginate(out, filter.Limit, filter.Offset), nil
}

func (s *Store) CountAssets(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.assets), nil
}

func (s *Store) CreateResource(_ context.Context, resource *models.IDSResource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := *resource
	r.Keywords = append([]string(nil), resource.Keywords...)
	s.resources = append(s.resources, &r)
	return nil
}

func (s *Store) ListResources(_ context.Context, publishedBy string) ([]*models.IDSResource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.IDSResource
	for i := len(s.resources) - 1; i >= 0; i-- {
		r := s.resources[i]
		if publishedBy != "" && r.PublishedBy != publishedBy {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) BeginTx(_ context.Context) (store.Transaction, error) {
	return &memoryTx{store: s}, nil
}

func (s *Store) Ping(_ context.Context) error { return nil }
func (s *Store) Close() error                { return nil }

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

var _ store.PrimaryStore = (*Store)(nil)
