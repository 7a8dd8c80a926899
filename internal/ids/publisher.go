package ids

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/procuredata/console/internal/models"
	"github.com/procuredata/console/internal/security"
	"github.com/procuredata/console/internal/store"
	"github.com/procuredata/console/internal/validation"
	"github.com/procuredata/console/pkg/utils"
)

const (
	DefaultParticipant    = "urn:ids:participant:procuredata"
	DefaultRepresentation = "http://pep-proxy:1027"
	useAction             = "idsc:USE"
)

type Config struct {
	Participant string `yaml:"participant" mapstructure:"participant"`
	// RepresentationURL is the PEP proxy base the offer points consumers at.
	RepresentationURL string `yaml:"representation_url" mapstructure:"representation_url"`
}

// Connector publishes offers to the IDS connector.
type Connector interface {
	PublishResource(ctx context.Context, offer any) (map[string]any, error)
}

type Representation struct {
	URL string `json:"url"`
}

type Contract struct {
	Permission []Permission `json:"permission"`
}

// Offer is the resource offer body the connector accepts.
type Offer struct {
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Keywords       []string       `json:"keywords"`
	Publisher      string         `json:"publisher"`
	Representation Representation `json:"representation"`
	Contract       Contract       `json:"contract"`
}

type Publisher struct {
	connector Connector
	resources store.ResourceStore
	sanitizer *security.InputSanitizer
	logger    zerolog.Logger
	config    Config
	now       func() time.Time
}

func NewPublisher(connector Connector, resources store.ResourceStore, sanitizer *security.InputSanitizer, logger zerolog.Logger, config Config) *Publisher {
	if config.Participant == "" {
		config.Participant = DefaultParticipant
	}
	if config.RepresentationURL == "" {
		config.RepresentationURL = DefaultRepresentation
	}
	if sanitizer == nil {
		sanitizer = security.NewInputSanitizer(security.SanitizerConfig{Enabled: true})
	}
	return &Publisher{
		connector: connector,
		resources: resources,
		sanitizer: sanitizer,
		logger:    logger.With().Str("component", "ids").Logger(),
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (p *Publisher) BuildOffer(req validation.IDSResourcePublish) Offer {
	return Offer{
		Title:       req.Title,
		Description: req.Description,
		Keywords:    req.Keywords,
		Publisher:   p.config.Participant,
		Representation: Representation{
			URL: strings.TrimRight(p.config.RepresentationURL, "/") + "/ngsi-ld/v1/entities/" + req.SourceEntityID,
		},
		Contract: Contract{Permission: []Permission{{Action: useAction}}},
	}
}

// Publish validates the request, offers it to the connector and records the
// resource. A connector that is in standby or fails leaves it pending.
func (p *Publisher) Publish(ctx context.Context, organizationID string, req validation.IDSResourcePublish) (*models.IDSResource, error) {
	req, err := p.clean(req)
	if err != nil {
		return nil, err
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	resource := &models.IDSResource{
		ID:             uuid.New(),
		SourceEntityID: req.SourceEntityID,
		Title:          req.Title,
		Description:    req.Description,
		Policy:         models.UsagePolicy(req.Policy),
		Keywords:       req.Keywords,
		Status:         models.ResourcePublished,
		PublishedBy:    organizationID,
		CreatedAt:      p.now(),
	}

	reply, err := p.connector.PublishResource(ctx, p.BuildOffer(req))
	if err != nil {
		p.logger.Warn().Err(err).
			Str("source_entity_id", req.SourceEntityID).
			Str("code", utils.ErrorCode(err)).
			Msg("Connector unavailable, resource left pending")
		resource.Status = models.ResourcePending
	} else {
		resource.ConnectorReply = reply
	}

	if err := p.resources.CreateResource(ctx, resource); err != nil {
		return nil, utils.WrapError(err, "record resource %s", resource.ID)
	}

	p.logger.Info().
		Str("resource_id", resource.ID.String()).
		Str("status", string(resource.Status)).
		Str("organization_id", organizationID).
		Msg("IDS resource recorded")
	return resource, nil
}

func (p *Publisher) List(ctx context.Context, organizationID string) ([]*models.IDSResource, error) {
	return p.resources.ListResources(ctx, organizationID)
}

func (p *Publisher) clean(req validation.IDSResourcePublish) (validation.IDSResourcePublish, error) {
	var err error
	if req.Title, err = p.sanitizer.SanitizeString(req.Title); err != nil {
		return req, utils.NewAppError(utils.CodeValidation, "invalid title", err)
	}
	if req.Description, err = p.sanitizer.SanitizeString(req.Description); err != nil {
		return req, utils.NewAppError(utils.CodeValidation, "invalid description", err)
	}
	keywords := make([]string, 0, len(req.Keywords))
	for _, k := range req.Keywords {
		clean, err := p.sanitizer.SanitizeString(k)
		if err != nil {
			return req, utils.NewAppError(utils.CodeValidation, "invalid keyword", err)
		}
		keywords = append(keywords, clean)
	}
	req.Keywords = keywords
	req.SourceEntityID = strings.TrimSpace(req.SourceEntityID)
	return req, nil
}
