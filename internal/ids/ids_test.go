package ids

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/procuredata/console/internal/models"
	"github.com/procuredata/console/internal/store/memory"
	"github.com/procuredata/console/internal/validation"
	"github.com/procuredata/console/pkg/utils"
)

type mockConnector struct {
	mock.Mock
}

func (m *mockConnector) PublishResource(ctx context.Context, offer any) (map[string]any, error) {
	args := m.Called(offer)
	reply, _ := args.Get(0).(map[string]any)
	return reply, args.Error(1)
}

func validRequest() validation.IDSResourcePublish {
	return validation.IDSResourcePublish{
		SourceEntityID: "urn:ngsi-ld:Vehicle:truck-12",
		Title:          "Fleet north zone",
		Description:    "Positions of the northern logistics fleet",
		Policy:         "read-only",
		Keywords:       []string{"fleet", "logistics"},
	}
}

func TestBuildUsagePolicy(t *testing.T) {
	p := BuildUsagePolicy("urn:ngsi-ld:Device:s1", "read", 7)

	assert.True(t, strings.HasPrefix(p.UID, "urn:ids:policy:"))
	data, err := json.Marshal(p)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "http://www.w3.org/ns/odrl.jsonld", doc["@context"])
	assert.Equal(t, "Set", doc["@type"])
	assert.Equal(t, []any{map[string]any{
		"target": "urn:ngsi-ld:Device:s1",
		"action": "read",
		"constraint": []any{map[string]any{
			"leftOperand":  "elapsedTime",
			"operator":     "lteq",
			"rightOperand": "P7D",
		}},
	}}, doc["permission"])
}

func TestBuildUsagePolicy_NoDuration(t *testing.T) {
	p := BuildUsagePolicy("urn:ngsi-ld:Device:s1", "share", 0)
	assert.Empty(t, p.Permission[0].Constraint)
	assert.NotEqual(t, p.UID, BuildUsagePolicy("urn:ngsi-ld:Device:s1", "share", 0).UID)
}

func TestBuildOffer(t *testing.T) {
	pub := NewPublisher(&mockConnector{}, memory.NewStore(), nil, zerolog.Nop(), Config{RepresentationURL: "https://pep.example.org/"})
	offer := pub.BuildOffer(validRequest())

	data, err := json.Marshal(offer)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"title": "Fleet north zone",
		"description": "Positions of the northern logistics fleet",
		"keywords": ["fleet", "logistics"],
		"publisher": "urn:ids:participant:procuredata",
		"representation": {"url": "https://pep.example.org/ngsi-ld/v1/entities/urn:ngsi-ld:Vehicle:truck-12"},
		"contract": {"permission": [{"action": "idsc:USE"}]}
	}`, string(data))
}

func TestPublish_Published(t *testing.T) {
	conn := &mockConnector{}
	conn.On("PublishResource", mock.AnythingOfType("ids.Offer")).Return(map[string]any{"@id": "https://connector/resources/1"}, nil)
	st := memory.NewStore()
	pub := NewPublisher(conn, st, nil, zerolog.Nop(), Config{})

	res, err := pub.Publish(context.Background(), "org-P", validRequest())
	require.NoError(t, err)
	assert.Equal(t, models.ResourcePublished, res.Status)
	assert.Equal(t, "org-P", res.PublishedBy)
	assert.Equal(t, models.PolicyReadOnly, res.Policy)
	assert.Equal(t, "https://connector/resources/1", res.ConnectorReply["@id"])

	listed, err := pub.List(context.Background(), "org-P")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, res.ID, listed[0].ID)
	conn.AssertExpectations(t)
}

func TestPublish_StandbyLeavesPending(t *testing.T) {
	conn := &mockConnector{}
	conn.On("PublishResource", mock.Anything).
		Return(nil, utils.NewAppError(utils.CodeServiceUnavailable, "FIWARE backend not configured", nil))
	pub := NewPublisher(conn, memory.NewStore(), nil, zerolog.Nop(), Config{})

	res, err := pub.Publish(context.Background(), "org-P", validRequest())
	require.NoError(t, err)
	assert.Equal(t, models.ResourcePending, res.Status)
	assert.Nil(t, res.ConnectorReply)
}

func TestPublish_InvalidRequestNeverReachesConnector(t *testing.T) {
	conn := &mockConnector{}
	pub := NewPublisher(conn, memory.NewStore(), nil, zerolog.Nop(), Config{})

	req := validRequest()
	req.SourceEntityID = "truck-12"
	req.Keywords = nil

	_, err := pub.Publish(context.Background(), "org-P", req)
	require.Error(t, err)
	assert.True(t, utils.IsValidation(err))
	conn.AssertNotCalled(t, "PublishResource", mock.Anything)
}

func TestPublish_SanitizesText(t *testing.T) {
	conn := &mockConnector{}
	conn.On("PublishResource", mock.Anything).Return(map[string]any{}, nil)
	pub := NewPublisher(conn, memory.NewStore(), nil, zerolog.Nop(), Config{})

	req := validRequest()
	req.Title = "<b>Fleet north zone</b>"

	res, err := pub.Publish(context.Background(), "org-P", req)
	require.NoError(t, err)
	assert.Equal(t, "Fleet north zone", res.Title)
}
