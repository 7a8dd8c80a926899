package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/procuredata/console/internal/api/middleware"
	"github.com/procuredata/console/internal/fiware"
	"github.com/procuredata/console/internal/ngsi"
	"github.com/procuredata/console/internal/security"
	"github.com/procuredata/console/internal/validation"
	"github.com/procuredata/console/pkg/utils"
)

// EntityHandler serves broker entities in their flat form by default.
// ?normalized=false returns the NGSI-LD envelopes unchanged.
type EntityHandler struct {
	client    *fiware.Client
	adapter   *ngsi.Adapter
	sanitizer *security.InputSanitizer
}

func NewEntityHandler(client *fiware.Client, adapter *ngsi.Adapter, sanitizer *security.InputSanitizer) *EntityHandler {
	if sanitizer == nil {
		sanitizer = security.NewInputSanitizer(security.SanitizerConfig{Enabled: true})
	}
	return &EntityHandler{client: client, adapter: adapter, sanitizer: sanitizer}
}

type EntityListResponse struct {
	Entities any `json:"entities"`
	Count    int `json:"count"`
}

func (h *EntityHandler) ListEntities(w http.ResponseWriter, r *http.Request) {
	entityType := r.URL.Query().Get("type")
	if entityType != "" {
		clean, err := h.sanitizer.SanitizeEntityType(entityType)
		if err != nil {
			middleware.SendError(w, r, utils.NewAppError(utils.CodeInvalidInput, "invalid entity type", err))
			return
		}
		entityType = clean
	}
	limit, err := queryInt(r, "limit", fiware.DefaultEntityLimit)
	if err != nil {
		middleware.SendError(w, r, err)
		return
	}

	entities, err := h.client.GetEntities(r.Context(), entityType, limit)
	if err != nil {
		middleware.SendError(w, r, err)
		return
	}

	if !queryBool(r, "normalized", true) {
		middleware.WriteJSON(w, http.StatusOK, EntityListResponse{Entities: entities, Count: len(entities)})
		return
	}
	middleware.WriteJSON(w, http.StatusOK, EntityListResponse{Entities: ngsi.NormalizeAll(entities), Count: len(entities)})
}

func (h *EntityHandler) GetEntity(w http.ResponseWriter, r *http.Request) {
	entity, err := h.client.GetEntity(r.Context(), chi.URLParam(r, "entityID"))
	if err != nil {
		middleware.SendError(w, r, err)
		return
	}
	if !queryBool(r, "normalized", true) {
		middleware.WriteJSON(w, http.StatusOK, entity)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, ngsi.Normalize(entity))
}

// CreateEntity validates a flat body against the schema of its type and
// stores its denormalized form. An id in the body is kept.
func (h *EntityHandler) CreateEntity(w http.ResponseWriter, r *http.Request) {
	entityType, err := h.sanitizer.SanitizeEntityType(chi.URLParam(r, "entityType"))
	if err != nil {
		middleware.SendError(w, r, utils.NewAppError(utils.CodeInvalidInput, "invalid entity type", err))
		return
	}

	flat, err := h.readFlat(r)
	if err != nil {
		middleware.SendError(w, r, err)
		return
	}
	if id := flat.ID(); id != "" && !ngsi.IsURN(id) {
		middleware.SendValidationError(w, r, "id: must be an NGSI-LD URN", map[string]any{"id": "must be an NGSI-LD URN"})
		return
	}
	flat, err = validation.ValidateKind(entityType, flat)
	if err != nil {
		middleware.SendError(w, r, err)
		return
	}

	entity := h.adapter.Denormalize(flat, entityType, flat.ID())
	if err := h.client.CreateEntity(r.Context(), entity); err != nil {
		middleware.SendError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, ngsi.Normalize(entity))
}

// UpdateAttributes applies a partial update. Only the attributes present
// are checked and sent.
func (h *EntityHandler) UpdateAttributes(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "entityID")
	flat, err := h.readFlat(r)
	if err != nil {
		middleware.SendError(w, r, err)
		return
	}
	if len(flat) == 0 {
		middleware.SendValidationError(w, r, "no attributes to update", nil)
		return
	}

	attrs := h.adapter.Attributes(flat)
	if err := h.client.UpdateEntity(r.Context(), id, attrs); err != nil {
		middleware.SendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EntityHandler) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	if err := h.client.DeleteEntity(r.Context(), chi.URLParam(r, "entityID")); err != nil {
		middleware.SendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EntityHandler) readFlat(r *http.Request) (ngsi.Flat, error) {
	var body map[string]any
	if err := decodeJSON(r, &body); err != nil {
		return nil, err
	}
	clean, err := h.sanitizer.SanitizeValue(body)
	if err != nil {
		return nil, utils.NewAppError(utils.CodeValidation, "invalid attribute values", err)
	}
	m, _ := clean.(map[string]any)
	flat := ngsi.Flat(m)
	if flat == nil {
		flat = ngsi.Flat{}
	}
	return flat, nil
}
