package typesense

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/typesense/typesense-go/typesense"
	"github.com/typesense/typesense-go/typesense/api"
	"github.com/typesense/typesense-go/typesense/api/pointer"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/procuredata/console/internal/models"
	"github.com/procuredata/console/internal/observability"
)

const (
	defaultSearchLimit = 50
	maxSearchLimit     = 250
)

// AssetIndex keeps the catalog's full-text index in a single Typesense collection.
type AssetIndex struct {
	client     *typesense.Client
	collection string
	tracing    *observability.TracingManager
	logger     zerolog.Logger

	ensureMu sync.Mutex
	ensured  bool
}

func NewAssetIndex(config *Config, obs *observability.Manager) (*AssetIndex, error) {
	client, err := NewClient(config)
	if err != nil {
		return nil, err
	}
	if obs == nil {
		obs = observability.NewNopManager()
	}
	return &AssetIndex{
		client:     client,
		collection: config.Collection,
		tracing:    obs.Tracing(),
		logger:     obs.Logger().GetZerologLogger().With().Str("component", "typesense").Logger(),
	}, nil
}

func (s *AssetIndex) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	ctx, span := s.tracing.StartSpan(ctx, "typesense."+name)
	span.SetAttributes(attribute.String("typesense.collection", s.collection))
	return ctx, span
}

func (s *AssetIndex) schema() *api.CollectionSchema {
	return &api.CollectionSchema{
		Name: s.collection,
		Fields: []api.Field{
			{Name: "name", Type: "string"},
			{Name: "description", Type: "string", Optional: boolPtr(true)},
			{Name: "data_type", Type: "string", Facet: boolPtr(true)},
			{Name: "provider_org_id", Type: "string", Facet: boolPtr(true)},
			{Name: "holder_org_id", Type: "string", Facet: boolPtr(true)},
			{Name: "entity_id", Type: "string", Optional: boolPtr(true)},
			{Name: "created_at", Type: "int64"},
		},
		DefaultSortingField: pointer.String("created_at"),
	}
}

// EnsureCollection creates the collection once. An existing collection is kept as is.
func (s *AssetIndex) EnsureCollection(ctx context.Context) error {
	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()
	if s.ensured {
		return nil
	}

	ctx, span := s.startSpan(ctx, "ensure_collection")
	defer span.End()

	if _, err := s.client.Collection(s.collection).Retrieve(ctx); err == nil {
		s.ensured = true
		return nil
	} else if !isNotFoundError(err) {
		s.tracing.SetSpanError(span, err)
		return fmt.Errorf("failed to retrieve collection: %w", err)
	}

	if _, err := s.client.Collections().Create(ctx, s.schema()); err != nil && !isConflictError(err) {
		s.tracing.SetSpanError(span, err)
		return fmt.Errorf("failed to create collection: %w", err)
	}

	s.logger.Info().Str("collection", s.collection).Msg("Typesense collection ready")
	s.ensured = true
	return nil
}

func assetDocument(asset *models.DataAsset) map[string]any {
	return map[string]any{
		"id":              asset.ID.String(),
		"name":            asset.Name,
		"description":     asset.Description,
		"data_type":       string(asset.DataType),
		"provider_org_id": asset.ProviderOrgID,
		"holder_org_id":   asset.HolderOrgID,
		"entity_id":       asset.EntityID,
		"created_at":      asset.CreatedAt.Unix(),
	}
}

func (s *AssetIndex) IndexAsset(ctx context.Context, asset *models.DataAsset) error {
	if err := s.EnsureCollection(ctx); err != nil {
		return err
	}

	ctx, span := s.startSpan(ctx, "index_asset")
	defer span.End()
	span.SetAttributes(attribute.String("asset.id", asset.ID.String()))

	if _, err := s.client.Collection(s.collection).Documents().Upsert(ctx, assetDocument(asset)); err != nil {
		s.tracing.SetSpanError(span, err)
		return fmt.Errorf("failed to index asset: %w", err)
	}
	return nil
}

func (s *AssetIndex) DeleteAsset(ctx context.Context, id uuid.UUID) error {
	ctx, span := s.startSpan(ctx, "delete_asset")
	defer span.End()

	if _, err := s.client.Collection(s.collection).Document(id.String()).Delete(ctx); err != nil {
		// Not found is not an error for deletion
		if isNotFoundError(err) {
			return nil
		}
		s.tracing.SetSpanError(span, err)
		return fmt.Errorf("failed to delete asset from index: %w", err)
	}
	return nil
}

// SearchAssets returns matching asset ids in relevance order, or newest first
// for an empty query.
func (s *AssetIndex) SearchAssets(ctx context.Context, filter models.AssetFilter) ([]uuid.UUID, error) {
	if err := s.EnsureCollection(ctx); err != nil {
		return nil, err
	}

	ctx, span := s.startSpan(ctx, "search_assets")
	defer span.End()
	span.SetAttributes(attribute.String("search.query", filter.Query))

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	q := strings.TrimSpace(filter.Query)
	if q == "" {
		q = "*"
	}
	params := &api.SearchCollectionParams{
		Q:       q,
		QueryBy: "name,description",
		Page:    pointer.Int(calculatePage(filter.Offset, limit)),
		PerPage: pointer.Int(limit),
	}
	if filter.DataType != "" {
		params.FilterBy = pointer.String("data_type:=" + string(filter.DataType))
	}
	if q == "*" {
		params.SortBy = pointer.String("created_at:desc")
	}

	start := time.Now()
	result, err := s.client.Collection(s.collection).Documents().Search(ctx, params)
	if err != nil {
		s.tracing.SetSpanError(span, err)
		return nil, fmt.Errorf("search failed: %w", err)
	}

	ids := make([]uuid.UUID, 0)
	if result.Hits != nil {
		for _, hit := range *result.Hits {
			if hit.Document == nil {
				continue
			}
			idStr, _ := (*hit.Document)["id"].(string)
			id, err := uuid.Parse(idStr)
			if err != nil {
				continue
			}
			ids = append(ids, id)
		}
	}

	s.logger.Debug().
		Str("query", q).
		Int("hits", len(ids)).
		Dur("took", time.Since(start)).
		Msg("Asset search")
	return ids, nil
}

func (s *AssetIndex) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "ping")
	defer span.End()

	healthy, err := s.client.Health(ctx, 5*time.Second)
	if err != nil {
		s.tracing.SetSpanError(span, err)
		return err
	}
	if !healthy {
		return fmt.Errorf("typesense is not healthy")
	}
	return nil
}

func (s *AssetIndex) Close() error {
	return nil
}

// Typesense pages are 1-based.
func calculatePage(offset, limit int) int {
	if limit <= 0 {
		return 1
	}
	return offset/limit + 1
}

func boolPtr(b bool) *bool {
	return &b
}
