package repository

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/domain"
)

// Cursor is a keyset position in a scope's (created_at, id) order
type Cursor struct {
	ScopeID   string `json:"s"`
	CreatedAt int64  `json:"t"`
	ID        string `json:"i"`
}

// CursorOf returns the cursor positioned at m
func CursorOf(m *domain.Message) *Cursor {
	return &Cursor{ScopeID: m.ScopeID, CreatedAt: m.CreatedAt, ID: m.ID}
}

// EncodeCursor renders a cursor as an opaque URL-safe token
func EncodeCursor(c *Cursor) string {
	if c == nil {
		return ""
	}
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeCursor parses a token produced by EncodeCursor for scopeID.
// An empty token yields nil (no boundary).
func DecodeCursor(token, scopeID string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, common.Validationf("malformed cursor")
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, common.Validationf("malformed cursor")
	}
	if c.ScopeID != scopeID {
		return nil, fmt.Errorf("%w: cursor belongs to another scope", common.ErrValidation)
	}
	return &c, nil
}
