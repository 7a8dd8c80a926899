package handlers

import (
	"net/http"

	"github.com/procuredata/console/internal/api/middleware"
	"github.com/procuredata/console/internal/fiware"
	"github.com/procuredata/console/internal/ids"
	"github.com/procuredata/console/internal/models"
	"github.com/procuredata/console/internal/validation"
)

// ConnectorHandler covers the TRUE connector listings and IDS publishing.
type ConnectorHandler struct {
	client    *fiware.Client
	publisher *ids.Publisher
}

func NewConnectorHandler(client *fiware.Client, publisher *ids.Publisher) *ConnectorHandler {
	return &ConnectorHandler{client: client, publisher: publisher}
}

func (h *ConnectorHandler) ListResources(w http.ResponseWriter, r *http.Request) {
	remote, err := h.client.GetIDSResources(r.Context())
	if err != nil {
		middleware.SendError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"resources": remote})
}

func (h *ConnectorHandler) ListOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := h.client.GetContractOffers(r.Context())
	if err != nil {
		middleware.SendError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"offers": offers})
}

// PublishedResources lists what the caller's organization has published,
// including offers still pending on the connector.
func (h *ConnectorHandler) PublishedResources(w http.ResponseWriter, r *http.Request) {
	actor, err := caller(r)
	if err != nil {
		middleware.SendError(w, r, err)
		return
	}
	resources, err := h.publisher.List(r.Context(), actor.OrganizationID)
	if err != nil {
		middleware.SendError(w, r, err)
		return
	}
	if resources == nil {
		resources = []*models.IDSResource{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"resources": resources})
}

func (h *ConnectorHandler) Publish(w http.ResponseWriter, r *http.Request) {
	actor, err := caller(r)
	if err != nil {
		middleware.SendError(w, r, err)
		return
	}
	var req validation.IDSResourcePublish
	if err := decodeJSON(r, &req); err != nil {
		middleware.SendError(w, r, err)
		return
	}

	resource, err := h.publisher.Publish(r.Context(), actor.OrganizationID, req)
	if err != nil {
		middleware.SendError(w, r, err)
		return
	}
	status := http.StatusCreated
	if resource.Status == models.ResourcePending {
		status = http.StatusAccepted
	}
	middleware.WriteJSON(w, status, resource)
}

// PolicyRequest asks for an ODRL policy preview.
type PolicyRequest struct {
	Target       string `json:"target" validate:"required,max=500"`
	Action       string `json:"action" validate:"required,oneof=read write delete execute share use"`
	DurationDays int    `json:"duration_days" validate:"min=0,max=365"`
}

func (h *ConnectorHandler) BuildPolicy(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := decodeJSON(r, &body); err != nil {
		middleware.SendError(w, r, err)
		return
	}
	req, err := validation.Decode[PolicyRequest](body)
	if err != nil {
		middleware.SendError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, ids.BuildUsagePolicy(req.Target, req.Action, req.DurationDays))
}
