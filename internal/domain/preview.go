package domain

import (
	"strings"
	"unicode/utf8"
)

// Preview is the denormalized summary of a reply target. It is a cache of
// the referenced message, never the source of truth.
type Preview struct {
	MessageID  string `json:"message_id"`
	Available  bool   `json:"available"`
	AuthorID   string `json:"author_id,omitempty"`
	AuthorName string `json:"author_name,omitempty"`
	Kind       string `json:"kind,omitempty"` // text, image, video, file
	Snippet    string `json:"snippet,omitempty"`
	Filename   string `json:"filename,omitempty"`
}

// UnavailablePreview is the placeholder for a deleted or missing target
func UnavailablePreview(messageID string) *Preview {
	return &Preview{MessageID: messageID, Available: false}
}

var kindLabels = map[AttachmentKind]string{
	AttachmentImage: "Photo",
	AttachmentVideo: "Video",
	AttachmentFile:  "File",
}

// BuildPreview summarizes target for display under a reply. A nil or
// tombstoned target yields the unavailable placeholder for targetID.
func BuildPreview(targetID string, target *Message, authorName string, maxRunes int) *Preview {
	if target == nil || target.IsDeleted() {
		return UnavailablePreview(targetID)
	}
	if authorName == "" {
		authorName = UnknownAuthor
	}

	p := &Preview{
		MessageID:  target.ID,
		Available:  true,
		AuthorID:   target.AuthorID,
		AuthorName: authorName,
		Kind:       target.PrimaryKind(),
	}
	if p.Kind == "text" {
		p.Snippet = TruncateRunes(strings.Join(strings.Fields(target.Body), " "), maxRunes)
		return p
	}

	first := target.Attachments[0]
	p.Filename = first.Filename
	p.Snippet = kindLabels[first.Kind]
	if p.Snippet == "" {
		p.Snippet = kindLabels[AttachmentFile]
	}
	if first.Filename != "" {
		p.Snippet += " " + first.Filename
	}
	return p
}

// TruncateRunes cuts s to at most max runes, appending an ellipsis when cut
func TruncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:max]), " ") + "…"
}
