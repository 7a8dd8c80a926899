package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/procuredata/console/internal/cache"
	"github.com/procuredata/console/internal/models"
	"github.com/procuredata/console/internal/observability"
	"github.com/procuredata/console/internal/security"
	"github.com/procuredata/console/internal/store"
	"github.com/procuredata/console/internal/validation"
	"github.com/procuredata/console/pkg/utils"
)

// RegisterAsset is the input for adding an asset to the catalog.
type RegisterAsset struct {
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	DataType      models.DataType `json:"data_type"`
	ProviderOrgID string          `json:"provider_org_id"`
	HolderOrgID   string          `json:"holder_org_id"`
	EntityID      string          `json:"entity_id"`
	Metadata      map[string]any  `json:"metadata"`
}

// Service is the catalog: the store is the source of truth, the cache serves
// reads and the optional index answers free-text queries.
type Service struct {
	store     store.AssetStore
	cache     *cache.Manager
	index     store.AssetIndex
	sanitizer *security.InputSanitizer
	tracing   *observability.TracingManager
	logger    zerolog.Logger
}

func NewService(assetStore store.AssetStore, cacheManager *cache.Manager, index store.AssetIndex, sanitizer *security.InputSanitizer, obs *observability.Manager) *Service {
	if obs == nil {
		obs = observability.NewNopManager()
	}
	if sanitizer == nil {
		sanitizer = security.NewInputSanitizer(security.SanitizerConfig{Enabled: true})
	}
	return &Service{
		store:     assetStore,
		cache:     cacheManager,
		index:     index,
		sanitizer: sanitizer,
		tracing:   obs.Tracing(),
		logger:    obs.Logger().GetZerologLogger().With().Str("component", "catalog").Logger(),
	}
}

// Register stores a new asset. providerOrgID is used when the input names no
// provider. Index failures are logged; the asset is still registered.
func (s *Service) Register(ctx context.Context, providerOrgID string, input RegisterAsset) (*models.DataAsset, error) {
	ctx, span := s.tracing.StartSpan(ctx, "catalog.register")
	defer span.End()

	name, err := s.sanitizer.SanitizeString(input.Name)
	if err != nil {
		return nil, utils.NewAppError(utils.CodeValidation, "invalid name", err)
	}
	description, err := s.sanitizer.SanitizeString(input.Description)
	if err != nil {
		return nil, utils.NewAppError(utils.CodeValidation, "invalid description", err)
	}
	if input.ProviderOrgID != "" {
		providerOrgID = input.ProviderOrgID
	}

	asset := models.NewDataAsset(name, description, input.DataType, providerOrgID, input.HolderOrgID)
	asset.EntityID = input.EntityID
	if input.Metadata != nil {
		metadata, err := s.sanitizer.SanitizeValue(input.Metadata)
		if err != nil {
			return nil, utils.NewAppError(utils.CodeValidation, "invalid metadata", err)
		}
		asset.Metadata, _ = metadata.(map[string]any)
	}

	if err := validation.Struct(asset); err != nil {
		return nil, err
	}

	if err := s.store.CreateAsset(ctx, asset); err != nil {
		s.tracing.SetSpanError(span, err)
		return nil, err
	}
	s.cache.SetAsset(asset)

	if s.index != nil {
		if err := s.index.IndexAsset(ctx, asset); err != nil {
			s.logger.Warn().Err(err).Str("asset_id", asset.ID.String()).Msg("Failed to index asset")
		}
	}

	s.logger.Info().
		Str("asset_id", asset.ID.String()).
		Str("provider_org_id", asset.ProviderOrgID).
		Str("holder_org_id", asset.HolderOrgID).
		Msg("Asset registered")
	return asset, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.DataAsset, error) {
	return s.cache.GetAsset(ctx, id)
}

// List answers free-text queries from the index when one is configured and
// falls back to the store otherwise.
func (s *Service) List(ctx context.Context, filter models.AssetFilter) ([]*models.DataAsset, error) {
	ctx, span := s.tracing.StartSpan(ctx, "catalog.list")
	defer span.End()

	if filter.Query != "" {
		query, err := s.sanitizer.SanitizeSearchQuery(filter.Query)
		if err != nil {
			return nil, utils.NewAppError(utils.CodeInvalidInput, "invalid search query", err)
		}
		filter.Query = query
	}
	if filter.DataType != "" && !filter.DataType.IsValid() {
		return nil, utils.NewAppError(utils.CodeInvalidInput, "unknown data type", nil).
			WithDetail("data_type", string(filter.DataType))
	}

	if filter.Query != "" && s.index != nil {
		ids, err := s.index.SearchAssets(ctx, filter)
		if err == nil {
			return s.cache.GetAssets(ctx, ids)
		}
		s.logger.Warn().Err(err).Msg("Index search failed, falling back to store")
	}

	assets, err := s.store.ListAssets(ctx, filter)
	if err != nil {
		s.tracing.SetSpanError(span, err)
		return nil, err
	}
	if assets == nil {
		assets = []*models.DataAsset{}
	}
	return assets, nil
}

// Reindex pushes every stored asset into the index.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	if s.index == nil {
		return 0, nil
	}
	start := time.Now()
	const page = 200
	indexed := 0
	for offset := 0; ; offset += page {
		assets, err := s.store.ListAssets(ctx, models.AssetFilter{Limit: page, Offset: offset})
		if err != nil {
			return indexed, err
		}
		for _, asset := range assets {
			if err := s.index.IndexAsset(ctx, asset); err != nil {
				return indexed, utils.WrapError(err, "index asset %s", asset.ID)
			}
			indexed++
		}
		if len(assets) < page {
			break
		}
	}
	s.logger.Info().Int("assets", indexed).Dur("took", time.Since(start)).Msg("Catalog reindexed")
	return indexed, nil
}
