package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/procuredata/console/internal/api/middleware"
	"github.com/procuredata/console/internal/approval"
	"github.com/procuredata/console/internal/models"
)

type TransactionHandler struct {
	approval *approval.Service
}

func NewTransactionHandler(approval *approval.Service) *TransactionHandler {
	return &TransactionHandler{approval: approval}
}

// ListTransactions returns the caller organization's transactions grouped
// by the role it plays in each.
func (h *TransactionHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	actor, err := caller(r)
	if err != nil {
		middleware.SendError(w, r, err)
		return
	}
	status := models.TransactionStatus(r.URL.Query().Get("status"))

	buckets, err := h.approval.ListForOrganization(r.Context(), actor.OrganizationID, status)
	if err != nil {
		middleware.SendError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, buckets)
}

func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	actor, err := caller(r)
	if err != nil {
		middleware.SendError(w, r, err)
		return
	}
	id, err := uuidParam(r, "transactionID")
	if err != nil {
		middleware.SendError(w, r, err)
		return
	}

	view, err := h.approval.Get(r.Context(), id, actor)
	if err != nil {
		middleware.SendError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, view)
}

func (h *TransactionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.approval.Submit)
}

func (h *TransactionHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.approval.Approve)
}

func (h *TransactionHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.approval.Reject)
}

type actionFunc func(ctx context.Context, id uuid.UUID, actor approval.Actor) (*models.Transaction, error)

// act runs one workflow action and replies with the caller's updated view.
func (h *TransactionHandler) act(w http.ResponseWriter, r *http.Request, action actionFunc) {
	actor, err := caller(r)
	if err != nil {
		middleware.SendError(w, r, err)
		return
	}
	id, err := uuidParam(r, "transactionID")
	if err != nil {
		middleware.SendError(w, r, err)
		return
	}

	if _, err := action(r.Context(), id, actor); err != nil {
		middleware.SendError(w, r, err)
		return
	}
	view, err := h.approval.Get(r.Context(), id, actor)
	if err != nil {
		middleware.SendError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, view)
}
