package models

import (
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

// DataAsset is a catalog record owned by a provider and a holder organization.
type DataAsset struct {
	ID            uuid.UUID      `json:"id"`
	Name          string         `json:"name" validate:"required,min=3,max=200"`
	Description   string         `json:"description,omitempty" validate:"max=1000"`
	DataType      DataType       `json:"data_type" validate:"required,oneof=iot esg financial array"`
	ProviderOrgID string         `json:"provider_org_id" validate:"required"`
	HolderOrgID   string         `json:"holder_org_id" validate:"required"`
	EntityID      string         `json:"entity_id,omitempty" validate:"omitempty,ngsiurn"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func NewDataAsset(name, description string, dataType DataType, providerOrgID, holderOrgID string) *DataAsset {
	now := time.Now().UTC()
	return &DataAsset{
		ID:            uuid.New(),
		Name:          name,
		Description:   description,
		DataType:      dataType,
		ProviderOrgID: providerOrgID,
		HolderOrgID:   holderOrgID,
		Metadata:      map[string]any{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

type AssetFilter struct {
	Query    string
	DataType DataType
	Limit    int
	Offset   int
}

func (a *DataAsset) Clone() *DataAsset {
	c := *a
	if a.Metadata != nil {
		c.Metadata = make(map[string]any, len(a.Metadata))
		for k, v := range a.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func (t DataType) IsValid() bool {
	switch t {
	case DataTypeIoT, DataTypeESG, DataTypeFinancial, DataTypeArray:
		return true
	}
	return false
}
