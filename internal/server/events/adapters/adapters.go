// Package adapters turns committed store changes into change envelopes.
//
// The entity's serialized state becomes the envelope payload. Timestamps are
// taken at conversion time, which is when the change is announced.
package adapters

import (
	"encoding/json"
	"fmt"

	"github.com/agentstation/rddm/internal/store"
	"github.com/agentstation/rddm/pkg/envelope"
)

// ElementUpdated announces that e was created or modified by userID.
func ElementUpdated(e store.Element, userID string) (envelope.Envelope, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding element %s: %w", e.ID, err)
	}
	return envelope.ElementUpdate{
		ID:        e.ID,
		ProjectID: e.ProjectID,
		Payload:   payload,
		Timestamp: envelope.Now(),
		UserID:    userID,
	}, nil
}

// ElementDeleted announces that an element was removed.
func ElementDeleted(projectID, id, userID string) envelope.Envelope {
	return envelope.ElementDelete{
		ID:        id,
		ProjectID: projectID,
		Timestamp: envelope.Now(),
		UserID:    userID,
	}
}

// RelationshipUpdated announces that r was created or modified by userID.
func RelationshipUpdated(r store.Relationship, userID string) (envelope.Envelope, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding relationship %s: %w", r.ID, err)
	}
	return envelope.RelationshipUpdate{
		ID:        r.ID,
		ProjectID: r.ProjectID,
		Payload:   payload,
		Timestamp: envelope.Now(),
		UserID:    userID,
	}, nil
}

// RelationshipDeleted announces that a relationship was removed.
func RelationshipDeleted(projectID, id, userID string) envelope.Envelope {
	return envelope.RelationshipDelete{
		ID:        id,
		ProjectID: projectID,
		Timestamp: envelope.Now(),
		UserID:    userID,
	}
}

// ViewUpdated announces the new state of a view. The payload is the view's
// state document.
func ViewUpdated(v store.View, userID string) envelope.Envelope {
	return envelope.ViewUpdate{
		ProjectID: v.ProjectID,
		ViewType:  v.ViewType,
		Payload:   v.State,
		Timestamp: envelope.Now(),
		UserID:    userID,
	}
}

// ElementRemoved announces an element deletion followed by the deletion of
// every relationship that went with it, in that order.
func ElementRemoved(del store.ElementDeletion, userID string) []envelope.Envelope {
	out := make([]envelope.Envelope, 0, 1+len(del.Relationships))
	out = append(out, ElementDeleted(del.Element.ProjectID, del.Element.ID, userID))
	for _, r := range del.Relationships {
		out = append(out, RelationshipDeleted(r.ProjectID, r.ID, userID))
	}
	return out
}
