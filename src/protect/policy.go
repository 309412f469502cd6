package protect

import (
	"regexp"
	"strings"

	"github.com/forPelevin/gomoji"
	"github.com/odysseia/protect/src/models"
)

// Policy is the reaction-wall configuration of a thread. It is derived from
// the stored thread row on every check and never cached.
type Policy struct {
	ReactionRequired bool
	RequiredEmoji    *string
}

func PolicyOf(thread *models.Thread) Policy {
	return Policy{
		ReactionRequired: thread.ReactionRequired,
		RequiredEmoji:    thread.RequiredEmoji,
	}
}

// SatisfiedBy reports whether userID has a qualifying reaction.
func (p Policy) SatisfiedBy(reactions []Reaction, userID string) bool {
	if !p.ReactionRequired {
		return true
	}
	for _, r := range reactions {
		if r.UserID != userID {
			continue
		}
		if p.RequiredEmoji == nil || EmojiEqual(r.Emoji, *p.RequiredEmoji) {
			return true
		}
	}
	return false
}

// PasswordMatches compares exactly: case, whitespace and all.
func PasswordMatches(resource *models.Resource, submitted string) bool {
	return resource.Password != nil && *resource.Password == submitted
}

func ConsentRequired(user *models.User) bool {
	return user == nil || !user.HasAcceptedPrivacyPolicy
}

var reCustomEmoji = regexp.MustCompile(`^<(a?):([A-Za-z0-9_~]{2,32}):(\d+)>$`)

const variationSelector = "\uFE0F"

// NormalizeEmoji validates that input is exactly one emoji, either a Unicode
// emoji or a custom emoji mention like <:name:id>, and returns it trimmed.
func NormalizeEmoji(input string) (string, error) {
	emoji := strings.TrimSpace(input)
	if reCustomEmoji.MatchString(emoji) {
		return emoji, nil
	}
	bare := strings.ReplaceAll(emoji, variationSelector, "")
	found := gomoji.CollectAll(bare)
	if len(found) != 1 || found[0].Character != bare {
		return "", ErrInvalidEmoji
	}
	return emoji, nil
}

// EmojiEqual compares two emoji the way users perceive them. Custom emoji
// match on id, so animated and static mentions of the same emoji are equal.
// Unicode emoji ignore the presentation selector.
func EmojiEqual(a, b string) bool {
	if ma, mb := reCustomEmoji.FindStringSubmatch(a), reCustomEmoji.FindStringSubmatch(b); ma != nil || mb != nil {
		return ma != nil && mb != nil && ma[3] == mb[3]
	}
	return strings.ReplaceAll(a, variationSelector, "") == strings.ReplaceAll(b, variationSelector, "")
}
