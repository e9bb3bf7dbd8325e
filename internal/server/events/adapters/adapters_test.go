package adapters

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/rddm/internal/store"
	"github.com/agentstation/rddm/pkg/envelope"
)

func TestElementUpdated(t *testing.T) {
	e := store.Element{
		ID:          "e1",
		ProjectID:   "p1",
		ElementType: "wall",
		Geometry:    json.RawMessage(`{"x":1}`),
		Properties:  json.RawMessage(`{}`),
		Metadata:    json.RawMessage(`{}`),
		Version:     3,
		CreatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}

	env, err := ElementUpdated(e, "u1")
	require.NoError(t, err)
	require.NoError(t, env.Validate())

	up, ok := env.(envelope.ElementUpdate)
	require.True(t, ok)
	assert.Equal(t, "e1", up.ID)
	assert.Equal(t, "p1", up.Project())
	assert.Equal(t, "u1", up.UserID)

	var decoded store.Element
	require.NoError(t, json.Unmarshal(up.Payload, &decoded))
	assert.Equal(t, int64(3), decoded.Version)
	assert.Equal(t, "wall", decoded.ElementType)
}

func TestElementUpdatedRejectsBrokenDocument(t *testing.T) {
	_, err := ElementUpdated(store.Element{ID: "e1", Geometry: json.RawMessage(`{`)}, "u1")
	assert.Error(t, err)
}

func TestRelationshipUpdated(t *testing.T) {
	env, err := RelationshipUpdated(store.Relationship{
		ID:               "r1",
		ProjectID:        "p1",
		SourceID:         "a",
		TargetID:         "b",
		RelationshipType: "adjacent",
	}, "system")
	require.NoError(t, err)
	require.NoError(t, env.Validate())
	assert.Equal(t, envelope.KindRelationshipUpdate, env.Kind())
	assert.Contains(t, string(env.(envelope.RelationshipUpdate).Payload), `"source_id":"a"`)
}

func TestViewUpdated(t *testing.T) {
	env := ViewUpdated(store.View{ProjectID: "p1", ViewType: "floor", State: json.RawMessage(`{"zoom":2}`)}, "u1")
	require.NoError(t, env.Validate())

	vu := env.(envelope.ViewUpdate)
	assert.Equal(t, "floor", vu.ViewType)
	assert.JSONEq(t, `{"zoom":2}`, string(vu.Payload))
}

func TestElementRemoved(t *testing.T) {
	envs := ElementRemoved(store.ElementDeletion{
		Element: store.Element{ID: "e1", ProjectID: "p1"},
		Relationships: []store.Relationship{
			{ID: "r1", ProjectID: "p1"},
			{ID: "r2", ProjectID: "p1"},
		},
	}, "u1")

	require.Len(t, envs, 3)
	assert.Equal(t, envelope.ElementDelete{ID: "e1", ProjectID: "p1", Timestamp: envs[0].(envelope.ElementDelete).Timestamp, UserID: "u1"}, envs[0])
	assert.Equal(t, envelope.KindRelationshipDelete, envs[1].Kind())
	assert.Equal(t, "r2", envs[2].(envelope.RelationshipDelete).ID)
	for _, env := range envs {
		assert.NoError(t, env.Validate())
	}
}
