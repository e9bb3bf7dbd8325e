package envelope_test

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/rddm/pkg/envelope"
	"github.com/agentstation/rddm/pkg/errors"
)

const ts = "2024-01-01T00:00:00Z"

func samples() []envelope.Envelope {
	return []envelope.Envelope{
		envelope.ElementUpdate{ID: "e1", ProjectID: "p1", Payload: json.RawMessage(`{"x":1}`), Timestamp: ts, UserID: "u1"},
		envelope.ElementDelete{ID: "e1", ProjectID: "p1", Timestamp: ts, UserID: "u1"},
		envelope.RelationshipUpdate{ID: "r1", ProjectID: "p1", Payload: json.RawMessage(`{"source_id":"e1","target_id":"e2"}`), Timestamp: ts, UserID: "u1"},
		envelope.RelationshipDelete{ID: "r1", ProjectID: "p1", Timestamp: ts, UserID: "system"},
		envelope.ViewUpdate{ProjectID: "p1", ViewType: "canvas", Payload: json.RawMessage(`{"zoom":2}`), Timestamp: ts, UserID: "u2"},
	}
}

func TestRoundTrip(t *testing.T) {
	for _, env := range samples() {
		t.Run(string(env.Kind()), func(t *testing.T) {
			data, err := envelope.Encode(env)
			require.NoError(t, err)

			got, err := envelope.Decode(data)
			require.NoError(t, err)
			if diff := cmp.Diff(env, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncodeWireShape(t *testing.T) {
	data, err := envelope.Encode(samples()[0])
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"type": "ElementUpdate",
		"payload": {
			"id": "e1",
			"project_id": "p1",
			"payload": {"x": 1},
			"timestamp": "2024-01-01T00:00:00Z",
			"user_id": "u1"
		}
	}`, string(data))
}

func TestDecodeExactFrame(t *testing.T) {
	frame := `{"type":"ViewUpdate","payload":{"project_id":"p1","view_type":"canvas","payload":{"zoom":2},"timestamp":"2024-01-01T00:00:00Z","user_id":"u2"}}`

	env, err := envelope.Decode([]byte(frame))
	require.NoError(t, err)

	out, err := envelope.Encode(env)
	require.NoError(t, err)
	assert.Equal(t, frame, string(out))
}

// Fields outside the identifying ids are carried through as sent.
func TestDecodePassesThroughLooseFields(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"null entity payload", `{"type":"ElementUpdate","payload":{"id":"e1","project_id":"p1","payload":null,"timestamp":"2024-01-01T00:00:00Z","user_id":"u1"}}`},
		{"zoneless timestamp", `{"type":"ElementDelete","payload":{"id":"e1","project_id":"p1","timestamp":"2024-01-01T00:00:00","user_id":"u1"}}`},
		{"free-form timestamp", `{"type":"RelationshipDelete","payload":{"id":"r1","project_id":"p1","timestamp":"yesterday","user_id":"u1"}}`},
		{"empty user", `{"type":"ViewUpdate","payload":{"project_id":"p1","view_type":"canvas","payload":{"zoom":2},"timestamp":"2024-01-01T00:00:00Z","user_id":""}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := envelope.Decode([]byte(tt.frame))
			require.NoError(t, err)
			assert.Equal(t, "p1", env.Project())

			out, err := envelope.Encode(env)
			require.NoError(t, err)
			assert.Equal(t, tt.frame, string(out))
		})
	}
}

func TestEncodeRejectsInvalidPayload(t *testing.T) {
	_, err := envelope.Encode(envelope.ElementUpdate{
		ID: "e1", ProjectID: "p1", Payload: json.RawMessage(`{not json`), Timestamp: ts, UserID: "u1",
	})
	assert.Error(t, err)

	_, err = envelope.Encode(nil)
	assert.Error(t, err)
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		msg   string
	}{
		{"not json", `hello`, "json parse error"},
		{"missing type", `{"payload":{}}`, "missing message type"},
		{"unknown type", `{"type":"ProjectDelete","payload":{"id":"x"}}`, `unknown message type "ProjectDelete"`},
		{"missing payload", `{"type":"ElementDelete"}`, "missing payload"},
		{"null payload", `{"type":"ElementDelete","payload":null}`, "missing payload"},
		{"wrong field type", `{"type":"ElementDelete","payload":{"id":7}}`, "invalid ElementDelete payload"},
		{"missing id", `{"type":"ElementDelete","payload":{"project_id":"p1","timestamp":"2024-01-01T00:00:00Z","user_id":"u"}}`, "field id"},
		{"missing project", `{"type":"RelationshipUpdate","payload":{"id":"r1","payload":{},"timestamp":"2024-01-01T00:00:00Z","user_id":"u"}}`, "field project_id"},
		{"missing view type", `{"type":"ViewUpdate","payload":{"project_id":"p1","payload":{},"timestamp":"2024-01-01T00:00:00Z","user_id":"u"}}`, "field view_type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := envelope.Decode([]byte(tt.frame))
			require.Error(t, err)
			assert.Nil(t, env)
			assert.Contains(t, err.Error(), tt.msg)
			assert.True(t, errors.IsValidationError(err), "decode errors match ErrInvalidInput")
		})
	}
}

func TestEncodeError(t *testing.T) {
	_, err := envelope.Decode([]byte(`{"type":"Nope","payload":{}}`))
	require.Error(t, err)

	var frame envelope.ErrorFrame
	require.NoError(t, json.Unmarshal(envelope.EncodeError(err), &frame))
	assert.Equal(t, `Invalid message format: json parse error: unknown message type "Nope"`, frame.Error)
}
