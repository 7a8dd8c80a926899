package handlers

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/procuredata/console/internal/api/middleware"
	"github.com/procuredata/console/internal/approval"
	"github.com/procuredata/console/internal/fiware"
	"github.com/procuredata/console/internal/ngsi"
	"github.com/procuredata/console/internal/store"
)

type DashboardStats struct {
	approval.Stats
	AvailableAssets int `json:"available_assets"`
	FiwareEntities  int `json:"fiware_entities"`
}

type DashboardHandler struct {
	approval *approval.Service
	assets   store.AssetStore
	client   *fiware.Client
	logger   zerolog.Logger
}

func NewDashboardHandler(approval *approval.Service, assets store.AssetStore, client *fiware.Client, logger zerolog.Logger) *DashboardHandler {
	return &DashboardHandler{approval: approval, assets: assets, client: client, logger: logger}
}

// Stats gathers the dashboard figures. The broker count is best effort and
// reads 0 while the data space is unreachable.
func (h *DashboardHandler) Stats(w http.ResponseWriter, r *http.Request) {
	actor, err := caller(r)
	if err != nil {
		middleware.SendError(w, r, err)
		return
	}

	var out DashboardStats
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		stats, err := h.approval.Stats(ctx, actor.OrganizationID)
		out.Stats = stats
		return err
	})
	g.Go(func() error {
		n, err := h.assets.CountAssets(ctx)
		out.AvailableAssets = n
		return err
	})
	g.Go(func() error {
		out.FiwareEntities = h.brokerEntities(ctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		middleware.SendError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, out)
}

func (h *DashboardHandler) brokerEntities(ctx context.Context) int {
	total := 0
	for _, entityType := range []string{ngsi.EntityDevice, ngsi.EntityDataAsset} {
		n, err := h.client.CountEntities(ctx, entityType)
		if err != nil {
			h.logger.Debug().Err(err).Str("type", entityType).Msg("Broker count unavailable")
			return 0
		}
		total += n
	}
	return total
}
