package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/agentstation/rddm/pkg/errors"
)

// frame is the outer wire object: a discriminator plus the kind's fields.
type frame struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode serializes an Envelope into a text frame.
// It fails when the opaque payload is not valid JSON.
func Encode(env Envelope) ([]byte, error) {
	if env == nil {
		return nil, errors.New("cannot encode nil envelope")
	}

	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", env.Kind(), err)
	}

	data, err := json.Marshal(frame{Type: env.Kind(), Payload: body})
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", env.Kind(), err)
	}
	return data, nil
}

// Decode parses a text frame into a validated Envelope. Only the kind and
// the identifying ids are checked; payload, timestamp and user_id pass
// through unchanged.
// Malformed JSON and unknown kinds yield a *errors.ParseError; missing ids
// yield a *errors.ValidationError. Both match errors.ErrInvalidInput.
func Decode(data []byte) (Envelope, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.NewParseError("json", "", err.Error(), err)
	}
	if f.Type == "" {
		return nil, errors.NewParseError("json", "", "missing message type", nil)
	}
	if isEmpty(f.Payload) {
		return nil, errors.NewParseError("json", "", fmt.Sprintf("missing payload for %s", f.Type), nil)
	}

	var (
		env Envelope
		err error
	)
	switch f.Type {
	case KindElementUpdate:
		var e ElementUpdate
		err = json.Unmarshal(f.Payload, &e)
		env = e
	case KindElementDelete:
		var e ElementDelete
		err = json.Unmarshal(f.Payload, &e)
		env = e
	case KindRelationshipUpdate:
		var e RelationshipUpdate
		err = json.Unmarshal(f.Payload, &e)
		env = e
	case KindRelationshipDelete:
		var e RelationshipDelete
		err = json.Unmarshal(f.Payload, &e)
		env = e
	case KindViewUpdate:
		var e ViewUpdate
		err = json.Unmarshal(f.Payload, &e)
		env = e
	default:
		return nil, errors.NewParseError("json", "", fmt.Sprintf("unknown message type %q", f.Type), nil)
	}
	if err != nil {
		return nil, errors.NewParseError("json", "", fmt.Sprintf("invalid %s payload: %v", f.Type, err), err)
	}

	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// EncodeError renders the error frame sent back to a client whose input was
// rejected.
func EncodeError(err error) []byte {
	data, mErr := json.Marshal(ErrorFrame{Error: "Invalid message format: " + err.Error()})
	if mErr != nil {
		return []byte(`{"error":"Invalid message format"}`)
	}
	return data
}

func isEmpty(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

type field struct {
	name  string
	value string
}

// requireFields reports the first identifying field that is empty.
func requireFields(kind Kind, fields ...field) error {
	for _, f := range fields {
		if f.value == "" {
			return errors.NewValidationError(f.name, nil, fmt.Sprintf("%s requires %s", kind, f.name))
		}
	}
	return nil
}
