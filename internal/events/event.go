package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/procuredata/console/internal/models"
)

type EventType string

const (
	EventTransactionRequested EventType = "transaction.requested"
	EventTransactionSubmitted EventType = "transaction.submitted"
	EventTransactionApproved  EventType = "transaction.approved"
	EventTransactionCompleted EventType = "transaction.completed"
	EventTransactionRejected  EventType = "transaction.rejected"
)

// TransactionEvent describes one applied lifecycle change of a data-access
// transaction. Downstream consumers key on TransactionID.
type TransactionEvent struct {
	ID            uuid.UUID                `json:"id"`
	Type          EventType                `json:"type"`
	TransactionID uuid.UUID                `json:"transaction_id"`
	AssetID       uuid.UUID                `json:"asset_id"`
	FromStatus    models.TransactionStatus `json:"from_status,omitempty"`
	ToStatus      models.TransactionStatus `json:"to_status"`
	ActorUserID   string                   `json:"actor_user_id"`
	ActorOrgID    string                   `json:"actor_org_id"`
	ConsumerOrgID string                   `json:"consumer_org_id"`
	ProviderOrgID string                   `json:"provider_org_id"`
	HolderOrgID   string                   `json:"holder_org_id"`
	Version       int                      `json:"version"`
	OccurredAt    time.Time                `json:"occurred_at"`
	TraceID       string                   `json:"trace_id,omitempty"`
}

// NewTransactionEvent snapshots tx after the change.
func NewTransactionEvent(eventType EventType, from models.TransactionStatus, tx *models.Transaction, actorUserID, actorOrgID string) TransactionEvent {
	return TransactionEvent{
		ID:            uuid.New(),
		Type:          eventType,
		TransactionID: tx.ID,
		AssetID:       tx.AssetID,
		FromStatus:    from,
		ToStatus:      tx.Status,
		ActorUserID:   actorUserID,
		ActorOrgID:    actorOrgID,
		ConsumerOrgID: tx.ConsumerOrgID,
		ProviderOrgID: tx.ProviderOrgID,
		HolderOrgID:   tx.HolderOrgID,
		Version:       tx.Version,
		OccurredAt:    tx.UpdatedAt,
	}
}

func (e TransactionEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
