package domain

// EventType names a broadcast store mutation
type EventType string

const (
	EventInserted EventType = "inserted"
	EventDeleted  EventType = "deleted"
	EventReacted  EventType = "reacted"
)

// Event is one fan-out unit delivered to scope subscribers
type Event struct {
	Type      EventType      `json:"type"`
	ScopeID   string         `json:"scope_id"`
	Message   *Message       `json:"message,omitempty"`
	MessageID string         `json:"message_id,omitempty"`
	Reaction  *ReactionDelta `json:"reaction,omitempty"`
}

// InsertedEvent builds the event published after a message commit
func InsertedEvent(m *Message) *Event {
	return &Event{Type: EventInserted, ScopeID: m.ScopeID, Message: m, MessageID: m.ID}
}

// DeletedEvent builds the event published after a soft delete
func DeletedEvent(scopeID, messageID string) *Event {
	return &Event{Type: EventDeleted, ScopeID: scopeID, MessageID: messageID}
}

// ReactedEvent builds the event published after a membership change
func ReactedEvent(scopeID string, d *ReactionDelta) *Event {
	return &Event{Type: EventReacted, ScopeID: scopeID, MessageID: d.MessageID, Reaction: d}
}
