package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildPreview(t *testing.T) {
	deletedAt := int64(9)
	long := strings.Repeat("가", 100)

	tests := []struct {
		name   string
		target *Message
		author string
		want   Preview
	}{
		{
			name: "missing target",
			want: Preview{MessageID: "m0"},
		},
		{
			name:   "deleted target",
			target: &Message{ID: "m0", Body: "bye", DeletedAt: &deletedAt},
			want:   Preview{MessageID: "m0"},
		},
		{
			name:   "text collapses whitespace",
			target: &Message{ID: "m0", AuthorID: "u1", Body: "hello\n  there"},
			author: "Minji",
			want:   Preview{MessageID: "m0", Available: true, AuthorID: "u1", AuthorName: "Minji", Kind: "text", Snippet: "hello there"},
		},
		{
			name:   "long text truncated",
			target: &Message{ID: "m0", AuthorID: "u1", Body: long},
			want:   Preview{MessageID: "m0", Available: true, AuthorID: "u1", AuthorName: UnknownAuthor, Kind: "text", Snippet: strings.Repeat("가", 80) + "…"},
		},
		{
			name: "photo only",
			target: &Message{ID: "m0", AuthorID: "u2", Attachments: []Attachment{
				{Kind: AttachmentImage, Filename: "cat.png"},
			}},
			author: "Joon",
			want:   Preview{MessageID: "m0", Available: true, AuthorID: "u2", AuthorName: "Joon", Kind: "image", Snippet: "Photo cat.png", Filename: "cat.png"},
		},
		{
			name: "video without filename",
			target: &Message{ID: "m0", AuthorID: "u2", Attachments: []Attachment{
				{Kind: AttachmentVideo},
			}},
			author: "Joon",
			want:   Preview{MessageID: "m0", Available: true, AuthorID: "u2", AuthorName: "Joon", Kind: "video", Snippet: "Video"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildPreview("m0", tt.target, tt.author, 80)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "abc", TruncateRunes("abc", 3))
	assert.Equal(t, "ab…", TruncateRunes("abc", 2))
	assert.Equal(t, "ab…", TruncateRunes("ab cd", 3))
	assert.Equal(t, "abc", TruncateRunes("abc", 0))
}
