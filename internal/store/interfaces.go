package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/procuredata/console/internal/models"
)

type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx *models.Transaction) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	// UpdateTransaction writes tx only if the stored version still equals expectedVersion.
	UpdateTransaction(ctx context.Context, tx *models.Transaction, expectedVersion int) error
	ListTransactions(ctx context.Context, filter models.TransactionFilter) ([]*models.Transaction, error)
}

type AssetStore interface {
	CreateAsset(ctx context.Context, asset *models.DataAsset) error
	GetAsset(ctx context.Context, id uuid.UUID) (*models.DataAsset, error)
	GetAssetsByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.DataAsset, error)
	ListAssets(ctx context.Context, filter models.AssetFilter) ([]*models.DataAsset, error)
	CountAssets(ctx context.Context) (int, error)
}

type ResourceStore interface {
	CreateResource(ctx context.Context, resource *models.IDSResource) error
	ListResources(ctx context.Context, publishedBy string) ([]*models.IDSResource, error)
}

type PrimaryStore interface {
	TransactionStore
	AssetStore
	ResourceStore

	BeginTx(ctx context.Context) (Transaction, error)

	Ping(ctx context.Context) error
	Close() error
}

// Transaction groups transaction-record writes that must commit together.
type Transaction interface {
	CreateTransaction(ctx context.Context, tx *models.Transaction) error
	UpdateTransaction(ctx context.Context, tx *models.Transaction, expectedVersion int) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// AssetIndex is the full-text catalog index.
type AssetIndex interface {
	IndexAsset(ctx context.Context, asset *models.DataAsset) error
	DeleteAsset(ctx context.Context, id uuid.UUID) error
	SearchAssets(ctx context.Context, filter models.AssetFilter) ([]uuid.UUID, error)

	Ping(ctx context.Context) error
	Close() error
}
