package handlers

import (
	"net/http"

	"github.com/procuredata/console/internal/api/middleware"
	"github.com/procuredata/console/internal/fiware"
	"github.com/procuredata/console/internal/validation"
)

type IdentityHandler struct {
	client *fiware.Client
}

func NewIdentityHandler(client *fiware.Client) *IdentityHandler {
	return &IdentityHandler{client: client}
}

func (h *IdentityHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.client.GetUsers(r.Context())
	if err != nil {
		middleware.SendError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (h *IdentityHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := decodeJSON(r, &body); err != nil {
		middleware.SendError(w, r, err)
		return
	}
	req, err := validation.Decode[fiware.NewUser](body)
	if err != nil {
		middleware.SendError(w, r, err)
		return
	}

	user, err := h.client.CreateUser(r.Context(), req)
	if err != nil {
		middleware.SendError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, user)
}
