package handlers

import (
	"net/http"
	"strings"

	"github.com/procuredata/console/internal/api/middleware"
	"github.com/procuredata/console/internal/fiware"
	"github.com/procuredata/console/internal/proxy"
	"github.com/procuredata/console/pkg/utils"
)

// FiwareHandler exposes the proxy envelope and the component health probe.
type FiwareHandler struct {
	client *fiware.Client
}

func NewFiwareHandler(client *fiware.Client) *FiwareHandler {
	return &FiwareHandler{client: client}
}

// Proxy relays one call to the data space. The reply status follows the
// envelope: 200 on success, otherwise the upstream or proxy status.
func (h *FiwareHandler) Proxy(w http.ResponseWriter, r *http.Request) {
	var req proxy.Request
	if err := decodeJSON(r, &req); err != nil {
		middleware.SendError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		middleware.SendError(w, r, utils.NewAppError(utils.CodeValidation, "path is required", nil).
			WithDetail("path", "is required"))
		return
	}

	resp := h.client.Forward(r.Context(), req)

	status := http.StatusOK
	if !resp.Success {
		status = resp.HTTPStatus
		if status < 400 {
			status = http.StatusBadGateway
		}
	}
	middleware.WriteJSON(w, status, resp)
}

func (h *FiwareHandler) Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, h.client.HealthStatus(r.Context()))
}
