package models

import (
	"time"

	"github.com/google/uuid"
)

type TransactionStatus string

const (
	StatusInitiated      TransactionStatus = "initiated"
	StatusPendingSubject TransactionStatus = "pending_subject"
	StatusPendingHolder  TransactionStatus = "pending_holder"
	StatusCompleted      TransactionStatus = "completed"
	StatusRejected       TransactionStatus = "rejected"
)

func (s TransactionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

func (s TransactionStatus) IsValid() bool {
	switch s {
	case StatusInitiated, StatusPendingSubject, StatusPendingHolder, StatusCompleted, StatusRejected:
		return true
	}
	return false
}

// Transaction is one data-access request between a consumer, a provider
// (the data subject) and a holder organization.
type Transaction struct {
	ID                uuid.UUID         `json:"id"`
	AssetID           uuid.UUID         `json:"asset_id"`
	ConsumerOrgID     string            `json:"consumer_org_id"`
	ProviderOrgID     string            `json:"provider_org_id"`
	HolderOrgID       string            `json:"holder_org_id"`
	RequestedBy       string            `json:"requested_by"`
	Status            TransactionStatus `json:"status"`
	Purpose           string            `json:"purpose"`
	SubjectApprovedAt *time.Time        `json:"subject_approved_at,omitempty"`
	SubjectApprovedBy string            `json:"subject_approved_by,omitempty"`
	HolderApprovedAt  *time.Time        `json:"holder_approved_at,omitempty"`
	HolderApprovedBy  string            `json:"holder_approved_by,omitempty"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	Version           int               `json:"version"`
}

func NewTransaction(asset *DataAsset, consumerOrgID, requestedBy, purpose string) *Transaction {
	now := time.Now().UTC()
	return &Transaction{
		ID:            uuid.New(),
		AssetID:       asset.ID,
		ConsumerOrgID: consumerOrgID,
		ProviderOrgID: asset.ProviderOrgID,
		HolderOrgID:   asset.HolderOrgID,
		RequestedBy:   requestedBy,
		Status:        StatusInitiated,
		Purpose:       purpose,
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}
}

// Clone returns a deep copy.
func (t *Transaction) Clone() *Transaction {
	c := *t
	c.SubjectApprovedAt = cloneTime(t.SubjectApprovedAt)
	c.HolderApprovedAt = cloneTime(t.HolderApprovedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

type TransactionFilter struct {
	OrganizationID string
	Status         TransactionStatus
	Limit          int
	Offset         int
}
