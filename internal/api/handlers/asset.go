package handlers

import (
	"net/http"

	"github.com/procuredata/console/internal/api/middleware"
	"github.com/procuredata/console/internal/approval"
	"github.com/procuredata/console/internal/catalog"
	"github.com/procuredata/console/internal/models"
)

const defaultAssetPage = 50

type AssetHandler struct {
	catalog  *catalog.Service
	approval *approval.Service
}

func NewAssetHandler(catalog *catalog.Service, approval *approval.Service) *AssetHandler {
	return &AssetHandler{catalog: catalog, approval: approval}
}

func (h *AssetHandler) ListAssets(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultAssetPage)
	if err != nil {
		middleware.SendError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		middleware.SendError(w, r, err)
		return
	}

	assets, err := h.catalog.List(r.Context(), models.AssetFilter{
		Query:    r.URL.Query().Get("q"),
		DataType: models.DataType(r.URL.Query().Get("data_type")),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		middleware.SendError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"assets": assets, "count": len(assets)})
}

func (h *AssetHandler) GetAsset(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "assetID")
	if err != nil {
		middleware.SendError(w, r, err)
		return
	}
	asset, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		middleware.SendError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, asset)
}

// RegisterAsset adds an asset with the caller's organization as provider
// unless the body names another one.
func (h *AssetHandler) RegisterAsset(w http.ResponseWriter, r *http.Request) {
	actor, err := caller(r)
	if err != nil {
		middleware.SendError(w, r, err)
		return
	}
	var req catalog.RegisterAsset
	if err := decodeJSON(r, &req); err != nil {
		middleware.SendError(w, r, err)
		return
	}

	asset, err := h.catalog.Register(r.Context(), actor.OrganizationID, req)
	if err != nil {
		middleware.SendError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, asset)
}

type AccessRequest struct {
	Purpose string `json:"purpose"`
}

// RequestAccess opens a transaction for the asset on behalf of the caller.
func (h *AssetHandler) RequestAccess(w http.ResponseWriter, r *http.Request) {
	actor, err := caller(r)
	if err != nil {
		middleware.SendError(w, r, err)
		return
	}
	assetID, err := uuidParam(r, "assetID")
	if err != nil {
		middleware.SendError(w, r, err)
		return
	}
	var req AccessRequest
	if err := decodeJSON(r, &req); err != nil {
		middleware.SendError(w, r, err)
		return
	}

	tx, err := h.approval.RequestAccess(r.Context(), actor, assetID, req.Purpose)
	if err != nil {
		middleware.SendError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, tx)
}
