package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind enumerates the change notification kinds delivered by the backend
// push channel.
type EventKind string

const (
	EventInserted EventKind = "inserted"
	EventUpdated  EventKind = "updated"
	EventDeleted  EventKind = "deleted"
)

// ChangeEvent is one push notification. It always carries the full row for
// exactly one collection, never a partial patch: inserted/updated events carry
// the new row, deleted events the old row.
type ChangeEvent struct {
	Collection Collection `json:"collection"`
	Kind       EventKind  `json:"kind"`
	Idea       *Idea      `json:"idea,omitempty"`
	Comment    *Comment   `json:"comment,omitempty"`
	EmittedAt  time.Time  `json:"emitted_at"`
}

// EntityID returns the id of whichever row the event carries.
func (e ChangeEvent) EntityID() string {
	switch e.Collection {
	case CollectionIdeas:
		if e.Idea != nil {
			return string(e.Idea.ID)
		}
	case CollectionComments:
		if e.Comment != nil {
			return string(e.Comment.ID)
		}
	}
	return ""
}

// Validate checks that the event names a known collection and carries the
// matching row.
func (e ChangeEvent) Validate() error {
	switch e.Kind {
	case EventInserted, EventUpdated, EventDeleted:
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	switch e.Collection {
	case CollectionIdeas:
		if e.Idea == nil {
			return fmt.Errorf("ideas event missing row")
		}
	case CollectionComments:
		if e.Comment == nil {
			return fmt.Errorf("comments event missing row")
		}
	default:
		return fmt.Errorf("unknown collection %q", e.Collection)
	}
	return nil
}

// MarshalBinary serializes the event for transport over Redis pub/sub or the
// websocket gateway.
func (e ChangeEvent) MarshalBinary() ([]byte, error) {
	if e.EmittedAt.IsZero() {
		e.EmittedAt = time.Now().UTC()
	}
	return json.Marshal(e)
}

// UnmarshalBinary decodes an event from its wire representation and validates
// it before handing it to the ingest path.
func (e *ChangeEvent) UnmarshalBinary(data []byte) error {
	if err := json.Unmarshal(data, e); err != nil {
		return fmt.Errorf("decode change event: %w", err)
	}
	return e.Validate()
}
