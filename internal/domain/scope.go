package domain

// ScopeKind names the conversational boundary a scope represents
type ScopeKind string

const (
	ScopeCampus ScopeKind = "campus" // shared campus chatroom
	ScopeClass  ScopeKind = "class"  // one class chatroom
	ScopePost   ScopeKind = "post"   // comment thread of a single post
)

// Scope is the conversation space messages belong to (chat_scopes).
// LastMessageAt is the ordering high-water mark in unix microseconds.
type Scope struct {
	ID            string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	Kind          ScopeKind `gorm:"column:kind;size:20;not null" json:"kind"`
	Name          string    `gorm:"column:name;size:255" json:"name"`
	LastMessageAt int64     `gorm:"column:last_message_at;not null;default:0" json:"last_message_at_us"`
	CreatedAt     int64     `gorm:"column:created_at;autoCreateTime:milli" json:"-"`
}

// TableName returns the table name for scopes
func (Scope) TableName() string {
	return "chat_scopes"
}

// ScopeMember grants a user access to a restricted scope (chat_scope_members).
// A scope without member rows is open to every authenticated user.
type ScopeMember struct {
	ScopeID string `gorm:"column:scope_id;primaryKey;size:64" json:"scope_id"`
	UserID  string `gorm:"column:user_id;primaryKey;size:64" json:"user_id"`
}

// TableName returns the table name for scope members
func (ScopeMember) TableName() string {
	return "chat_scope_members"
}

// SessionCursor records the last accepted submission sequence of one
// client session in one scope (chat_session_cursors)
type SessionCursor struct {
	SessionID string `gorm:"column:session_id;primaryKey;size:64"`
	ScopeID   string `gorm:"column:scope_id;primaryKey;size:64"`
	LastSeq   int64  `gorm:"column:last_seq;not null"`
}

// TableName returns the table name for session cursors
func (SessionCursor) TableName() string {
	return "chat_session_cursors"
}

// Action is what an actor asks the authorization collaborator about
type Action string

const (
	ActionRead   Action = "read"
	ActionAppend Action = "append"
	ActionDelete Action = "delete"
	ActionReact  Action = "react"
)
