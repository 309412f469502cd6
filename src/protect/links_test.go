package protect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMessageLink(t *testing.T) {
	t.Run("bare link", func(t *testing.T) {
		link, err := ParseMessageLink("https://discord.com/channels/1/22/333")
		assert.NoError(t, err)
		assert.Equal(t, MessageLink{GuildID: "1", ChannelID: "22", MessageID: "333"}, link)
	})
	t.Run("link in text", func(t *testing.T) {
		link, err := ParseMessageLink("the new build is here -> https://canary.discord.com/channels/1/22/444 enjoy")
		assert.NoError(t, err)
		assert.Equal(t, "444", link.MessageID)
	})
	t.Run("skips other urls", func(t *testing.T) {
		link, err := ParseMessageLink("see https://example.com/a and https://discord.com/channels/1/22/555")
		assert.NoError(t, err)
		assert.Equal(t, "555", link.MessageID)
	})
	t.Run("invalid", func(t *testing.T) {
		for _, text := range []string{
			"",
			"no links here",
			"https://discord.com/channels/1/22",
			"https://evil.example/channels/1/22/333",
		} {
			_, err := ParseMessageLink(text)
			assert.ErrorIs(t, err, ErrInvalidMessageLink, text)
		}
	})
}

func TestDeriveFilename(t *testing.T) {
	withAttachment := &PlatformMessage{
		Content:     "some text",
		Attachments: []PlatformAttachment{{Filename: "build.zip"}},
	}
	assert.Equal(t, "build.zip", DeriveFilename(withAttachment, "v1"))

	long := &PlatformMessage{Content: "This message is a lot longer than fifty characters, honestly"}
	assert.Equal(t, "This message is a lot longer than fifty characters...", DeriveFilename(long, "v1"))

	short := &PlatformMessage{Content: "  mirror list  "}
	assert.Equal(t, "mirror list", DeriveFilename(short, "v1"))

	assert.Equal(t, "v1", DeriveFilename(&PlatformMessage{}, "v1"))
	assert.Equal(t, "untitled", DeriveFilename(&PlatformMessage{}, " "))
}
