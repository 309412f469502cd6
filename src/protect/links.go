package protect

import (
	"regexp"
	"strings"

	"github.com/odysseia/protect/src/utils"
	"mvdan.cc/xurls/v2"
)

type MessageLink struct {
	GuildID   string
	ChannelID string
	MessageID string
}

var reMessageLink = regexp.MustCompile(`^https://(?:(?:ptb|canary)\.)?discord(?:app)?\.com/channels/(\d+|@me)/(\d+)/(\d+)/?$`)

var reStrictURL = xurls.Strict()

// ParseMessageLink finds the first message link in text. Users tend to paste
// links with surrounding text, so anything around the link is ignored.
func ParseMessageLink(text string) (MessageLink, error) {
	for _, candidate := range reStrictURL.FindAllString(text, -1) {
		if m := reMessageLink.FindStringSubmatch(candidate); m != nil {
			return MessageLink{
				GuildID:   m[1],
				ChannelID: m[2],
				MessageID: m[3],
			}, nil
		}
	}
	return MessageLink{}, ErrInvalidMessageLink
}

const untitled = "untitled"

// DeriveFilename names a normal resource after the message it points to:
// the first attachment's filename, else the start of the message text, else
// the version label.
func DeriveFilename(msg *PlatformMessage, version string) string {
	if len(msg.Attachments) > 0 && msg.Attachments[0].Filename != "" {
		return msg.Attachments[0].Filename
	}
	if content := strings.TrimSpace(msg.Content); content != "" {
		return utils.Truncate(content, 50, "...")
	}
	if version = strings.TrimSpace(version); version != "" {
		return version
	}
	return untitled
}
