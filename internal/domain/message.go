package domain

import (
	"strings"
	"time"
)

// AttachmentKind classifies an uploaded blob for rendering and previews
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentVideo AttachmentKind = "video"
	AttachmentFile  AttachmentKind = "file"
)

// Valid reports whether k is one of the known kinds
func (k AttachmentKind) Valid() bool {
	switch k {
	case AttachmentImage, AttachmentVideo, AttachmentFile:
		return true
	}
	return false
}

// Attachment is immutable once attached to a message
type Attachment struct {
	URL       string         `json:"url"`
	Kind      AttachmentKind `json:"kind"`
	Filename  string         `json:"filename"`
	Size      int64          `json:"size"`
	Duration  *float64       `json:"duration,omitempty"`  // seconds, video only
	Thumbnail string         `json:"thumbnail,omitempty"` // URL
	Key       string         `json:"key,omitempty"`       // storage object key
}

// Message is the durable chat/comment record (chat_messages table).
// CreatedAt is unix microseconds assigned by the store and strictly
// increasing within a scope.
type Message struct {
	ID            string       `gorm:"column:id;primaryKey;size:36" json:"id"`
	ScopeID       string       `gorm:"column:scope_id;size:64;not null;index:idx_chat_messages_order,priority:1;uniqueIndex:ux_chat_messages_submission,priority:1" json:"scope_id"`
	AuthorID      string       `gorm:"column:author_id;size:64;not null;uniqueIndex:ux_chat_messages_submission,priority:2" json:"author_id"`
	SubmissionKey string       `gorm:"column:submission_key;size:64;not null;uniqueIndex:ux_chat_messages_submission,priority:3" json:"submission_key"`
	Body          string       `gorm:"column:body;type:text" json:"body"`
	Attachments   []Attachment `gorm:"column:attachments;type:text;serializer:json" json:"attachments"`
	ReplyToID     *string      `gorm:"column:reply_to_id;size:36;index" json:"reply_to_id,omitempty"`
	CreatedAt     int64        `gorm:"column:created_at;not null;autoCreateTime:false;index:idx_chat_messages_order,priority:2" json:"created_at_us"`
	DeletedAt     *int64       `gorm:"column:deleted_at" json:"deleted_at_us,omitempty"`
}

// TableName returns the table name for messages
func (Message) TableName() string {
	return "chat_messages"
}

// IsDeleted reports whether the message has been tombstoned
func (m *Message) IsDeleted() bool {
	return m.DeletedAt != nil
}

// CreatedTime returns CreatedAt as a time value
func (m *Message) CreatedTime() time.Time {
	return time.UnixMicro(m.CreatedAt).UTC()
}

// Before reports whether m sorts before o in display order (created_at, id)
func (m *Message) Before(o *Message) bool {
	if m.CreatedAt != o.CreatedAt {
		return m.CreatedAt < o.CreatedAt
	}
	return m.ID < o.ID
}

// PrimaryKind is the kind used for previews: text when there is a body,
// otherwise the first attachment's kind
func (m *Message) PrimaryKind() string {
	if strings.TrimSpace(m.Body) != "" || len(m.Attachments) == 0 {
		return "text"
	}
	return string(m.Attachments[0].Kind)
}

// AppendRequest is what a session submits to the store
type AppendRequest struct {
	ScopeID       string       `json:"-"`
	AuthorID      string       `json:"-"`
	SubmissionKey string       `json:"submission_key" binding:"required,max=64"`
	SessionID     string       `json:"session_id" binding:"max=64"`
	Seq           int64        `json:"seq"`
	Body          string       `json:"body"`
	Attachments   []Attachment `json:"attachments"`
	ReplyToID     *string      `json:"reply_to_id,omitempty"`
}

// MessagePage is one keyset page ordered oldest to newest. NextCursor
// continues in the direction of the request (before= older, after= newer).
type MessagePage struct {
	Messages   []*Message                `json:"messages"`
	NextCursor string                    `json:"next_cursor,omitempty"`
	HasMore    bool                      `json:"has_more"`
	Reactions  map[string][]ReactionItem `json:"reactions,omitempty"`
	Previews   map[string]*Preview       `json:"previews,omitempty"` // keyed by the replying message id
}

// MessageResponse represents a message in API responses
type MessageResponse struct {
	*Message
	CreatedAtTime string `json:"created_at"`
}

// ToResponse converts Message to MessageResponse
func (m *Message) ToResponse() *MessageResponse {
	return &MessageResponse{
		Message:       m,
		CreatedAtTime: m.CreatedTime().Format(time.RFC3339Nano),
	}
}

// TempIDPrefix marks client-local ids; the store never issues one
const TempIDPrefix = "tmp:"
