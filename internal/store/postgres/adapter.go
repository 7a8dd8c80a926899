package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/procuredata/console/internal/models"
	"github.com/procuredata/console/internal/store"
	"github.com/procuredata/console/pkg/utils"
)

const defaultListLimit = 50

// PostgresStore implements store.PrimaryStore on a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

func NewPostgresStore(ctx context.Context, connectionString string, poolCfg PoolConfig) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	if poolCfg.MaxConns > 0 {
		config.MaxConns = poolCfg.MaxConns
	}
	if poolCfg.MinConns > 0 {
		config.MinConns = poolCfg.MinConns
	}
	if poolCfg.MaxConnLifetime > 0 {
		config.MaxConnLifetime = poolCfg.MaxConnLifetime
	}
	if poolCfg.MaxConnIdleTime > 0 {
		config.MaxConnIdleTime = poolCfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Transactions

const transactionColumns = `
	id, asset_id, consumer_org_id, provider_org_id, holder_org_id, requested_by, status, purpose,
	subject_approved_at, subject_approved_by, holder_approved_at, holder_approved_by, completed_at,
	created_at, updated_at, version`

func (s *PostgresStore) CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	return insertTransaction(ctx, s.pool, tx)
}

func (s *PostgresStore) UpdateTransaction(ctx context.Context, tx *models.Transaction, expectedVersion int) error {
	return updateTransaction(ctx, s.pool, tx, expectedVersion)
}

func insertTransaction(ctx context.Context, q querier, tx *models.Transaction) error {
	_, err := q.Exec(ctx, `
		INSERT INTO data_transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		tx.ID, tx.AssetID, tx.ConsumerOrgID, tx.ProviderOrgID, tx.HolderOrgID, tx.RequestedBy,
		string(tx.Status), tx.Purpose,
		tx.SubjectApprovedAt, tx.SubjectApprovedBy, tx.HolderApprovedAt, tx.HolderApprovedBy, tx.CompletedAt,
		tx.CreatedAt, tx.UpdatedAt, tx.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return utils.NewAppError(utils.CodeAlreadyExists, "transaction already exists", err).
				WithDetail("id", tx.ID.String())
		}
		if isForeignKeyViolation(err) {
			return utils.NewAppError(utils.CodeNotFound, "data asset not found", err).
				WithDetail("asset_id", tx.AssetID.String())
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func updateTransaction(ctx context.Context, q querier, tx *models.Transaction, expectedVersion int) error {
	result, err := q.Exec(ctx, `
		UPDATE data_transactions
		SET status = $1,
			subject_approved_at = $2, subject_approved_by = $3,
			holder_approved_at = $4, holder_approved_by = $5,
			completed_at = $6, updated_at = $7, version = $8
		WHERE id = $9 AND version = $10
	`,
		string(tx.Status),
		tx.SubjectApprovedAt, tx.SubjectApprovedBy,
		tx.HolderApprovedAt, tx.HolderApprovedBy,
		tx.CompletedAt, tx.UpdatedAt, tx.Version,
		tx.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}

	if result.RowsAffected() == 0 {
		return utils.NewAppError(utils.CodeConcurrentModification,
			"transaction was modified by another request or does not exist", nil).
			WithDetail("id", tx.ID.String()).
			WithDetail("expected_version", expectedVersion)
	}
	return nil
}

func (s *PostgresStore) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM data_transactions WHERE id = $1`, id)

	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, utils.NewAppError(utils.CodeNotFound, "transaction not found", err).
				WithDetail("id", id.String())
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, filter models.TransactionFilter) ([]*models.Transaction, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM data_transactions
		WHERE ($1 = '' OR consumer_org_id = $1 OR provider_org_id = $1 OR holder_org_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, filter.OrganizationID, string(filter.Status), limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var tx models.Transaction
	var status string
	err := row.Scan(
		&tx.ID, &tx.AssetID, &tx.ConsumerOrgID, &tx.ProviderOrgID, &tx.HolderOrgID, &tx.RequestedBy,
		&status, &tx.Purpose,
		&tx.SubjectApprovedAt, &tx.SubjectApprovedBy, &tx.HolderApprovedAt, &tx.HolderApprovedBy, &tx.CompletedAt,
		&tx.CreatedAt, &tx.UpdatedAt, &tx.Version,
	)
	if err != nil {
		return nil, err
	}
	tx.Status = models.TransactionStatus(status)
	return &tx, nil
}

// Data assets

const assetColumns = `id, name, description, data_type, provider_org_id, holder_org_id, entity_id, metadata, created_at, updated_at`

func (s *PostgresStore) CreateAsset(ctx context.Context, asset *models.DataAsset) error {
	metadataJSON, err := json.Marshal(asset.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO data_assets (`+assetColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		asset.ID, asset.Name, asset.Description, string(asset.DataType),
		asset.ProviderOrgID, asset.HolderOrgID, asset.EntityID, metadataJSON,
		asset.CreatedAt, asset.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return utils.NewAppError(utils.CodeAlreadyExists, "data asset already exists", err).
				WithDetail("id", asset.ID.String())
		}
		return fmt.Errorf("failed to create data asset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAsset(ctx context.Context, id uuid.UUID) (*models.DataAsset, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+assetColumns+` FROM data_assets WHERE id = $1`, id)

	asset, err := scanAsset(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, utils.NewAppError(utils.CodeNotFound, "data asset not found", err).
				WithDetail("id", id.String())
		}
		return nil, fmt.Errorf("failed to get data asset: %w", err)
	}
	return asset, nil
}

func (s *PostgresStore) GetAssetsByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.DataAsset, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}

	rows, err := s.pool.Query(ctx, `SELECT `+assetColumns+` FROM data_assets WHERE id = ANY($1::uuid[])`, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to get data assets: %w", err)
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]*models.DataAsset, len(ids))
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan data asset: %w", err)
		}
		byID[asset.ID] = asset
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// keep the caller's (relevance) order
	assets := make([]*models.DataAsset, 0, len(byID))
	for _, id := range ids {
		if asset, ok := byID[id]; ok {
			assets = append(assets, asset)
		}
	}
	return assets, nil
}

func (s *PostgresStore) ListAssets(ctx context.Context, filter models.AssetFilter) ([]*models.DataAsset, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+assetColumns+`
		FROM data_assets
		WHERE ($1 = '' OR name ILIKE '%' || $1 || '%' OR description ILIKE '%' || $1 || '%')
		  AND ($2 = '' OR data_type = $2)
		ORDER BY name
		LIMIT $3 OFFSET $4
	`, filter.Query, string(filter.DataType), limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list data assets: %w", err)
	}
	defer rows.Close()

	var assets []*models.DataAsset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan data asset: %w", err)
		}
		assets = append(assets, asset)
	}
	return assets, rows.Err()
}

func (s *PostgresStore) CountAssets(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM data_assets`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count data assets: %w", err)
	}
	return count, nil
}

func scanAsset(row pgx.Row) (*models.DataAsset, error) {
	var asset models.DataAsset
	var dataType string
	var metadataJSON []byte
	err := row.Scan(
		&asset.ID, &asset.Name, &asset.Description, &dataType,
		&asset.ProviderOrgID, &asset.HolderOrgID, &asset.EntityID, &metadataJSON,
		&asset.CreatedAt, &asset.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	asset.DataType = models.DataType(dataType)
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &asset.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &asset, nil
}

// IDS resources

func (s *PostgresStore) CreateResource(ctx context.Context, resource *models.IDSResource) error {
	var replyJSON []byte
	if resource.ConnectorReply != nil {
		var err error
		if replyJSON, err = json.Marshal(resource.ConnectorReply); err != nil {
			return fmt.Errorf("failed to marshal connector reply: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO ids_resources (id, source_entity_id, title, description, policy, keywords, status, published_by, connector_reply, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		resource.ID, resource.SourceEntityID, resource.Title, resource.Description,
		string(resource.Policy), resource.Keywords, string(resource.Status), resource.PublishedBy,
		replyJSON, resource.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create IDS resource: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListResources(ctx context.Context, publishedBy string) ([]*models.IDSResource, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source_entity_id, title, description, policy, keywords, status, published_by, connector_reply, created_at
		FROM ids_resources
		WHERE ($1 = '' OR published_by = $1)
		ORDER BY created_at DESC
	`, publishedBy)
	if err != nil {
		return nil, fmt.Errorf("failed to list IDS resources: %w", err)
	}
	defer rows.Close()

	var resources []*models.IDSResource
	for rows.Next() {
		var r models.IDSResource
		var policy, status string
		var replyJSON []byte
		if err := rows.Scan(&r.ID, &r.SourceEntityID, &r.Title, &r.Description, &policy, &r.Keywords,
			&status, &r.PublishedBy, &replyJSON, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan IDS resource: %w", err)
		}
		r.Policy = models.UsagePolicy(policy)
		r.Status = models.ResourceStatus(status)
		if len(replyJSON) > 0 {
			if err := json.Unmarshal(replyJSON, &r.ConnectorReply); err != nil {
				return nil, fmt.Errorf("failed to unmarshal connector reply: %w", err)
			}
		}
		resources = append(resources, &r)
	}
	return resources, rows.Err()
}

func (s *PostgresStore) BeginTx(ctx context.Context) (store.Transaction, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &PostgresTx{tx: tx}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// GetPool exposes the pool for migrations.
func (s *PostgresStore) GetPool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

var _ store.PrimaryStore = (*PostgresStore)(nil)
