package models

import (
	"time"

	"github.com/google/uuid"
)

type UsagePolicy string

const (
	PolicyReadOnly       UsagePolicy = "read-only"
	PolicyTimeRestricted UsagePolicy = "time-restricted"
	PolicyPayment        UsagePolicy = "payment"
)

type ResourceStatus string

const (
	ResourcePublished ResourceStatus = "published"
	ResourcePending   ResourceStatus = "pending"
)

// IDSResource is an offer published into the data space for an NGSI-LD entity.
type IDSResource struct {
	ID             uuid.UUID      `json:"id"`
	SourceEntityID string         `json:"source_entity_id"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Policy         UsagePolicy    `json:"policy"`
	Keywords       []string       `json:"keywords"`
	Status         ResourceStatus `json:"status"`
	PublishedBy    string         `json:"published_by"`
	ConnectorReply map[string]any `json:"connector_reply,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
