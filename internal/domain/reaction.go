package domain

import "strings"

// ReactionCount represents the per-kind aggregate (chat_reaction_counts).
// It moves only when a membership row is actually inserted or deleted;
// Version increases with every move so clients can drop stale counts.
// Rows are kept at zero so the version never restarts.
type ReactionCount struct {
	ID        int64  `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	MessageID string `gorm:"column:message_id;size:36;not null;uniqueIndex:ux_chat_reaction_counts,priority:1" json:"message_id"`
	Kind      string `gorm:"column:kind;size:50;not null;uniqueIndex:ux_chat_reaction_counts,priority:2" json:"kind"`
	Count     int    `gorm:"column:reaction_count;not null;default:0" json:"count"`
	Version   int64  `gorm:"column:version;not null;default:0" json:"version"`
}

// TableName returns the table name for reaction counts
func (ReactionCount) TableName() string {
	return "chat_reaction_counts"
}

// ReactionMembership is one user's active reaction on a message
// (chat_reactions). The unique index makes membership a set.
type ReactionMembership struct {
	ID        int64  `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	MessageID string `gorm:"column:message_id;size:36;not null;uniqueIndex:ux_chat_reactions,priority:1" json:"message_id"`
	UserID    string `gorm:"column:user_id;size:64;not null;uniqueIndex:ux_chat_reactions,priority:2" json:"user_id"`
	Kind      string `gorm:"column:kind;size:50;not null;uniqueIndex:ux_chat_reactions,priority:3" json:"kind"`
	CreatedAt int64  `gorm:"column:created_at;autoCreateTime:milli" json:"created_at_ms"`
}

// TableName returns the table name for reaction memberships
func (ReactionMembership) TableName() string {
	return "chat_reactions"
}

// ReactionState is the result of a toggle/set for one (message, user, kind)
type ReactionState struct {
	Active  bool  `json:"active"`
	Count   int   `json:"count"`
	Version int64 `json:"version,omitempty"`
}

// ReactionDelta is broadcast when a membership actually changed
type ReactionDelta struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Kind      string `json:"kind"`
	Active    bool   `json:"active"`
	Count     int    `json:"count"`
	Version   int64  `json:"version"`
}

// ReactionItem represents a single reaction kind with count and the viewer's membership
type ReactionItem struct {
	Kind       string `json:"kind"`
	Category   string `json:"category"`
	ReactionID string `json:"reaction_id"`
	Count      int    `json:"count"`
	Mine       bool   `json:"mine"`
	Version    int64  `json:"version"`
}

// ReactionRequest represents a set/toggle request body
type ReactionRequest struct {
	Kind   string `json:"kind" binding:"required,max=50"`
	Active *bool  `json:"active,omitempty"`
}

// ParseReaction splits "category:name" kinds; bare names have no category
func ParseReaction(kind string, count int) ReactionItem {
	parts := strings.SplitN(kind, ":", 2)
	category := ""
	reactionID := kind
	if len(parts) == 2 {
		category = parts[0]
		reactionID = parts[1]
	}

	return ReactionItem{
		Kind:       kind,
		Category:   category,
		ReactionID: reactionID,
		Count:      count,
	}
}
