package sdk

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type DataType string

const (
	DataTypeIoT       DataType = "iot"
	DataTypeESG       DataType = "esg"
	DataTypeFinancial DataType = "financial"
	DataTypeArray     DataType = "array"
)

type Asset struct {
	ID            uuid.UUID      `json:"id"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	DataType      DataType       `json:"data_type"`
	ProviderOrgID string         `json:"provider_org_id"`
	HolderOrgID   string         `json:"holder_org_id"`
	EntityID      string         `json:"entity_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// AssetRequest registers a catalog asset. The provider defaults to the
// caller's organization.
type AssetRequest struct {
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	DataType      DataType       `json:"data_type"`
	ProviderOrgID string         `json:"provider_org_id,omitempty"`
	HolderOrgID   string         `json:"holder_org_id"`
	EntityID      string         `json:"entity_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

type AssetListOptions struct {
	Query    string
	DataType DataType
	Limit    int
	Offset   int
}

type AssetList struct {
	Assets []Asset `json:"assets"`
	Count  int     `json:"count"`
}

type TransactionStatus string

const (
	StatusInitiated      TransactionStatus = "initiated"
	StatusPendingSubject TransactionStatus = "pending_subject"
	StatusPendingHolder  TransactionStatus = "pending_holder"
	StatusCompleted      TransactionStatus = "completed"
	StatusRejected       TransactionStatus = "rejected"
)

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

// TransactionView is a transaction as seen by the calling organization.
type TransactionView struct {
	Transaction
	Roles      []string `json:"roles"`
	CanApprove bool     `json:"can_approve"`
	Actions    []string `json:"actions"`
}

// TransactionBuckets groups the caller's transactions by the role it plays.
// A transaction shows up in every bucket the organization has a role in.
type TransactionBuckets struct {
	Requested []Transaction `json:"requested"`
	Provider  []Transaction `json:"provider"`
	Holder    []Transaction `json:"holder"`
}

type DashboardStats struct {
	PendingApprovals      int `json:"pending_approvals"`
	ActiveTransactions    int `json:"active_transactions"`
	CompletedTransactions int `json:"completed_transactions"`
	AvailableAssets       int `json:"available_assets"`
	FiwareEntities        int `json:"fiware_entities"`
}

// ProxyRequest is one call relayed to the FIWARE gateway.
type ProxyRequest struct {
	Path     string          `json:"path"`
	Method   string          `json:"method,omitempty"`
	Body     json.RawMessage `json:"body,omitempty"`
	SkipAuth bool            `json:"skipAuth,omitempty"`
}

// ProxyResponse is the envelope the proxy answers with, failures included.
type ProxyResponse struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
	Message    string          `json:"message,omitempty"`
	Status     string          `json:"status"`
	HTTPStatus int             `json:"http_status"`
}

// Standby reports that the console has no FIWARE backend configured.
func (r *ProxyResponse) Standby() bool {
	return r.Status == "standby"
}

// Decode unmarshals the upstream payload into v.
func (r *ProxyResponse) Decode(v any) error {
	if len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

type ComponentStatus struct {
	Connected bool   `json:"connected"`
	Version   string `json:"version,omitempty"`
}

type FiwareHealth struct {
	Orion         ComponentStatus `json:"orion"`
	Keyrock       ComponentStatus `json:"keyrock"`
	TrueConnector ComponentStatus `json:"trueConnector"`
}
