package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/procuredata/console/internal/cache"
	"github.com/procuredata/console/internal/models"
	"github.com/procuredata/console/internal/store"
	"github.com/procuredata/console/internal/store/memory"
	"github.com/procuredata/console/pkg/utils"
)

type mockIndex struct {
	mock.Mock
}

func (m *mockIndex) IndexAsset(ctx context.Context, asset *models.DataAsset) error {
	return m.Called(ctx, asset).Error(0)
}

func (m *mockIndex) DeleteAsset(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockIndex) SearchAssets(ctx context.Context, filter models.AssetFilter) ([]uuid.UUID, error) {
	args := m.Called(ctx, filter)
	ids, _ := args.Get(0).([]uuid.UUID)
	return ids, args.Error(1)
}

func (m *mockIndex) Ping(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *mockIndex) Close() error                   { return nil }

func newService(t *testing.T, index *mockIndex) (*Service, *memory.Store) {
	t.Helper()
	st := memory.NewStore()
	var idx store.AssetIndex
	if index != nil {
		idx = index
	}
	return NewService(st, cache.NewManager(st, time.Minute), idx, nil, nil), st
}

func validInput() RegisterAsset {
	return RegisterAsset{
		Name:        "Line 3 energy readings",
		Description: "Hourly kWh per machine",
		DataType:    models.DataTypeIoT,
		HolderOrgID: "org-holder",
	}
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t, nil)

	asset, err := svc.Register(ctx, "org-provider", validInput())
	require.NoError(t, err)
	assert.Equal(t, "org-provider", asset.ProviderOrgID)
	assert.Equal(t, "org-holder", asset.HolderOrgID)

	stored, err := st.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, asset.Name, stored.Name)

	got, err := svc.Get(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, asset.ID, got.ID)
}

func TestRegister_SanitizesText(t *testing.T) {
	svc, _ := newService(t, nil)
	input := validInput()
	input.Name = "<b>Emissions</b> 2024"
	input.Metadata = map[string]any{"note": "<script>x</script>ok"}

	asset, err := svc.Register(context.Background(), "org-provider", input)
	require.NoError(t, err)
	assert.Equal(t, "Emissions 2024", asset.Name)
	assert.NotContains(t, asset.Metadata["note"], "<script>")
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RegisterAsset)
	}{
		{"short name", func(r *RegisterAsset) { r.Name = "ab" }},
		{"unknown data type", func(r *RegisterAsset) { r.DataType = "video" }},
		{"missing holder", func(r *RegisterAsset) { r.HolderOrgID = "" }},
		{"bad entity id", func(r *RegisterAsset) { r.EntityID = "sensor-1" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, st := newService(t, nil)
			input := validInput()
			tt.mutate(&input)

			_, err := svc.Register(context.Background(), "org-provider", input)
			require.Error(t, err)
			assert.True(t, utils.IsValidation(err), "%v", err)

			n, _ := st.CountAssets(context.Background())
			assert.Zero(t, n)
		})
	}
}

func TestRegister_IndexFailureIsNotFatal(t *testing.T) {
	index := &mockIndex{}
	index.On("IndexAsset", mock.Anything, mock.Anything).Return(errors.New("typesense down"))
	svc, st := newService(t, index)

	asset, err := svc.Register(context.Background(), "org-provider", validInput())
	require.NoError(t, err)

	_, err = st.GetAsset(context.Background(), asset.ID)
	require.NoError(t, err)
	index.AssertExpectations(t)
}

func TestGet_NotFound(t *testing.T) {
	svc, _ := newService(t, nil)
	_, err := svc.Get(context.Background(), uuid.New())
	assert.True(t, utils.IsNotFound(err))
}

func TestList(t *testing.T) {
	ctx := context.Background()

	t.Run("store without index", func(t *testing.T) {
		svc, _ := newService(t, nil)
		for _, name := range []string{"Scope 1 emissions", "Invoice ledger", "Scope 2 emissions"} {
			input := validInput()
			input.Name = name
			_, err := svc.Register(ctx, "org-provider", input)
			require.NoError(t, err)
		}

		assets, err := svc.List(ctx, models.AssetFilter{Query: "scope"})
		require.NoError(t, err)
		require.Len(t, assets, 2)
		assert.Equal(t, "Scope 1 emissions", assets[0].Name)
	})

	t.Run("empty result is not nil", func(t *testing.T) {
		svc, _ := newService(t, nil)
		assets, err := svc.List(ctx, models.AssetFilter{})
		require.NoError(t, err)
		assert.NotNil(t, assets)
		assert.Empty(t, assets)
	})

	t.Run("index answers queries", func(t *testing.T) {
		index := &mockIndex{}
		index.On("IndexAsset", mock.Anything, mock.Anything).Return(nil)
		svc, _ := newService(t, index)

		asset, err := svc.Register(ctx, "org-provider", validInput())
		require.NoError(t, err)
		_, err = svc.Register(ctx, "org-provider", RegisterAsset{Name: "Other data", DataType: models.DataTypeESG, HolderOrgID: "h"})
		require.NoError(t, err)

		index.On("SearchAssets", mock.Anything, mock.MatchedBy(func(f models.AssetFilter) bool {
			return f.Query == "kwh"
		})).Return([]uuid.UUID{asset.ID}, nil)

		assets, err := svc.List(ctx, models.AssetFilter{Query: "kwh"})
		require.NoError(t, err)
		require.Len(t, assets, 1)
		assert.Equal(t, asset.ID, assets[0].ID)
	})

	t.Run("index failure falls back to store", func(t *testing.T) {
		index := &mockIndex{}
		index.On("IndexAsset", mock.Anything, mock.Anything).Return(nil)
		index.On("SearchAssets", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))
		svc, _ := newService(t, index)

		_, err := svc.Register(ctx, "org-provider", validInput())
		require.NoError(t, err)

		assets, err := svc.List(ctx, models.AssetFilter{Query: "energy"})
		require.NoError(t, err)
		assert.Len(t, assets, 1)
	})

	t.Run("unknown data type", func(t *testing.T) {
		svc, _ := newService(t, nil)
		_, err := svc.List(ctx, models.AssetFilter{DataType: "video"})
		assert.Equal(t, utils.CodeInvalidInput, utils.ErrorCode(err))
	})
}

func TestReindex(t *testing.T) {
	ctx := context.Background()
	index := &mockIndex{}
	index.On("IndexAsset", mock.Anything, mock.Anything).Return(nil)
	svc, _ := newService(t, index)

	for i := 0; i < 3; i++ {
		_, err := svc.Register(ctx, "org-provider", validInput())
		require.NoError(t, err)
	}

	n, err := svc.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	index.AssertNumberOfCalls(t, "IndexAsset", 6)

	plain, _ := newService(t, nil)
	n, err = plain.Reindex(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
