package messages

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"short content is kept", "Hello there", "Hello there"},
		{"whitespace is collapsed", "  Hello\n\tthere  ", "Hello there"},
		{"exactly the limit", strings.Repeat("a", 30), strings.Repeat("a", 30)},
		{"long content is truncated", strings.Repeat("a", 31), strings.Repeat("a", 30) + "..."},
		{"counts runes not bytes", strings.Repeat("é", 40), strings.Repeat("é", 30) + "..."},
		{"trailing space before ellipsis is dropped", strings.Repeat("a", 29) + " bcd", strings.Repeat("a", 29) + "..."},
		{"blank content keeps default", "   ", DefaultTitle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveTitle(tt.content))
		})
	}
}

func TestImageRef(t *testing.T) {
	t.Run("data url defaults to jpeg", func(t *testing.T) {
		img := ImageRef{Data: "QUJD"}
		assert.Equal(t, "data:image/jpeg;base64,QUJD", img.DataURL())
	})

	t.Run("encodes raw bytes", func(t *testing.T) {
		img := Image("image/png", []byte("ABC"))
		assert.Equal(t, "QUJD", img.Data)
		assert.Equal(t, "data:image/png;base64,QUJD", img.DataURL())
	})

	t.Run("parses data urls", func(t *testing.T) {
		img := ParseDataURL("data:image/png;base64,QUJD")
		assert.Equal(t, ImageRef{MIMEType: "image/png", Data: "QUJD"}, img)
		assert.Equal(t, ImageRef{Data: "QUJD"}, ParseDataURL("QUJD"))
	})
}

func TestMessage(t *testing.T) {
	t.Run("constructors set role", func(t *testing.T) {
		u := User("hi", ImageRef{Data: "x"})
		assert.Equal(t, RoleUser, u.Role)
		assert.True(t, u.HasImages())
		assert.NotEmpty(t, u.CreatedAt.String())

		a := Assistant("hello", "llama3.2")
		assert.Equal(t, RoleAssistant, a.Role)
		assert.Equal(t, "llama3.2", a.ModelID)
		assert.False(t, a.HasImages())
	})

	t.Run("clone does not share images", func(t *testing.T) {
		u := User("hi", ImageRef{Data: "x"})
		c := u.Clone()
		c.ImageRefs[0].Data = "y"
		assert.Equal(t, "x", u.ImageRefs[0].Data)
	})

	t.Run("roles", func(t *testing.T) {
		assert.True(t, RoleUser.Valid())
		assert.False(t, Role("system").Valid())
	})
}

func TestConversation(t *testing.T) {
	c := Conversation{
		Messages: []Message{
			{ID: "1", Role: RoleAssistant, Content: "greeting"},
			{ID: "2", Role: RoleUser, Content: "first question"},
		},
	}
	last, ok := c.Last()
	require.True(t, ok)
	assert.Equal(t, "2", last.ID)
	assert.Equal(t, 1, c.Index("2"))
	assert.Equal(t, -1, c.Index("3"))
	assert.Equal(t, "first question", c.Preview())

	_, ok = Conversation{}.Last()
	assert.False(t, ok)
}
