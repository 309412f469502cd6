package discord

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/odysseia/protect/src/models"
	"github.com/odysseia/protect/src/protect"
	"github.com/odysseia/protect/src/store"
	"github.com/odysseia/protect/src/utils"
)

const (
	genericErrorMessage = "Something went wrong. Please try again later."
	notInThreadMessage  = "This command only works inside a forum thread."
	noResourcesMessage  = "No files have been uploaded in this thread yet."

	maxSelectOptions     = 25
	maxSelectLabelLength = 100
	embedColor           = 0x5865F2
)

const manualText = `**Uploading** (thread author only)
• ` + "`/upload mode:Normal message_link:<link>`" + ` lists a message already in this thread.
• ` + "`/upload mode:Protected file:<file>`" + ` stores a copy in the bot's private archive. Add ` + "`password`" + ` to lock it.
• Right-click a message → Apps → **Archive to warehouse** to store its attachment.

**Downloading**
• ` + "`/download`" + ` lists the files. Protected files may ask you to react to the first post or enter a password.
• Download links expire. Run ` + "`/download`" + ` again for a fresh one.

**Managing** (thread author only)
• ` + "`/manage edit`" + `, ` + "`/manage delete`" + `, ` + "`/manage wall`" + `, ` + "`/manage quickmode`" + `.`

// userMessage turns a service error into something to show the user. ok is
// false for unexpected errors, which the caller should log.
func userMessage(err error, maxUploadBytes int64) (msg string, ok bool) {
	var denied *protect.GateDenied
	var unavailable *protect.Unavailable
	var partial *protect.PartialFailure

	switch {
	case errors.As(err, &denied):
		switch denied.Reason {
		case protect.ReasonReactionMissing:
			if denied.RequiredEmoji != nil {
				return fmt.Sprintf("React to the first post of this thread with %s to unlock this file.", *denied.RequiredEmoji), true
			}
			return "React to the first post of this thread to unlock this file.", true
		case protect.ReasonPasswordRequired:
			return "This file needs a password.", true
		case protect.ReasonPasswordMismatch:
			return "That password is not correct.", true
		}
	case errors.As(err, &unavailable):
		switch unavailable.Reason {
		case protect.ReasonMessageNotFound:
			return "The message behind this file is gone. Ask the thread author to upload it again.", true
		case protect.ReasonAttachmentMissing:
			return "That message has no attached file.", true
		}
	case errors.As(err, &partial):
		ref := ""
		if partial.ReconciliationID != uuid.Nil {
			ref = fmt.Sprintf(" (reference `%s`)", partial.ReconciliationID)
		}
		if partial.Stage == models.StageArchiveDelete {
			return "The file was removed from the list, but its archived copy could not be deleted. A moderator will clean it up" + ref + ".", true
		}
		return "The file was archived but could not be added to the list. A moderator will look into it" + ref + ".", true
	case errors.Is(err, protect.ErrNotAuthor):
		return "Only the author of this thread can do that.", true
	case errors.Is(err, protect.ErrWarehouseNotConfigured):
		return "Protected uploads are not set up on this server.", true
	case errors.Is(err, protect.ErrInvalidMessageLink):
		return "That is not a valid message link.", true
	case errors.Is(err, protect.ErrMessageOutsideThread):
		return "The linked message must be in this thread.", true
	case errors.Is(err, protect.ErrInvalidEmoji):
		return "Please give exactly one emoji.", true
	case errors.Is(err, protect.ErrFileTooLarge):
		return fmt.Sprintf("That file is too large. The limit is %s.", formatBytes(maxUploadBytes)), true
	case errors.Is(err, protect.ErrPasswordOnNormal):
		return "Passwords only work on protected uploads.", true
	case errors.Is(err, protect.ErrEmptyFile):
		return "That file is empty.", true
	case errors.Is(err, protect.ErrGrantUsed):
		return "That download was already used. Please pick the file again.", true
	case errors.Is(err, protect.NotFound):
		return "That file does not exist anymore.", true
	}
	return genericErrorMessage, false
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// resourceLine is one entry of the listing, e.g. "`#3` mod.zip (1.2) 🔒 · 5 downloads".
func resourceLine(r *models.Resource) string {
	var b strings.Builder
	fmt.Fprintf(&b, "`#%d` %s (%s)", r.ID, r.Filename, r.Version)
	if r.HasPassword() {
		b.WriteString(" 🔒")
	}
	if r.IsProtected() {
		fmt.Fprintf(&b, " · %d downloads", r.DownloadCount)
	}
	return b.String()
}

func resourceLines(resources []*models.Resource) string {
	if len(resources) == 0 {
		return "None"
	}
	lines := make([]string, len(resources))
	for i, r := range resources {
		lines[i] = resourceLine(r)
	}
	return utils.Truncate(strings.Join(lines, "\n"), 1000, "\n…")
}

// resourceListing renders a thread's resources with a menu to pick one.
func resourceListing(thread *models.Thread, list *store.ResourceList) ([]Embed, []Component) {
	embed := Embed{
		Title: "Downloads",
		Color: embedColor,
		Fields: []EmbedField{
			{Name: "Files in this thread", Value: resourceLines(list.Normal)},
			{Name: "Protected files", Value: resourceLines(list.Protected)},
		},
		Footer: &EmbedFooter{Text: "Pick a file below. Links expire, so come back here for a fresh one."},
	}
	if thread.ReactionRequired {
		wall := "React to the first post of this thread to unlock protected files."
		if thread.RequiredEmoji != nil {
			wall = fmt.Sprintf("React to the first post of this thread with %s to unlock protected files.", *thread.RequiredEmoji)
		}
		embed.Description = wall
	}

	var options []SelectOption
	for _, r := range append(append([]*models.Resource{}, list.Normal...), list.Protected...) {
		if len(options) == maxSelectOptions {
			break
		}
		desc := r.Version
		if r.IsProtected() {
			desc = fmt.Sprintf("%s · protected", r.Version)
		}
		options = append(options, SelectOption{
			Label:       utils.Truncate(fmt.Sprintf("#%d %s", r.ID, r.Filename), maxSelectLabelLength-1, "…"),
			Value:       strconv.Itoa(r.ID),
			Description: utils.Truncate(desc, maxSelectLabelLength-1, "…"),
		})
	}
	if len(options) == 0 {
		return []Embed{embed}, nil
	}

	return []Embed{embed}, []Component{
		ActionRow(Component{
			Type:        ComponentTypeStringMenu,
			CustomID:    CustomIDDownloadSelect,
			Placeholder: "Choose a file to download",
			Options:     options,
		}),
	}
}

func linkMessage(link *protect.Link) string {
	if !link.IsAttachment {
		return fmt.Sprintf("**%s** is a message rather than a file: %s", link.Resource.Filename, link.URL)
	}
	return fmt.Sprintf("Here is **%s** (%s): %s\nThis link expires. Pick the file again for a new one.",
		link.Resource.Filename, link.Resource.Version, link.URL)
}

func uploadedMessage(r *models.Resource) string {
	kind := "a normal file"
	if r.IsProtected() {
		kind = "a protected file"
	}
	msg := fmt.Sprintf("Added **%s** (%s) as %s, number `#%d`.", r.Filename, r.Version, kind, r.ID)
	if r.HasPassword() {
		msg += " It is password protected."
	}
	return msg
}

// matchesPanelKeyword reports whether content is exactly one of the keywords,
// ignoring case and surrounding whitespace.
func matchesPanelKeyword(content string, keywords []string) bool {
	content = strings.ToLower(strings.TrimSpace(content))
	if content == "" {
		return false
	}
	for _, kw := range keywords {
		if strings.ToLower(strings.TrimSpace(kw)) == content {
			return true
		}
	}
	return false
}

func passwordModal(resourceID int) InteractionResponse {
	return InteractionResponse{
		Type: InteractionCallbackTypeModal,
		Data: &InteractionCallbackData{
			CustomID: CustomIDPasswordModal + strconv.Itoa(resourceID),
			Title:    "Password required",
			Components: []Component{
				ActionRow(Component{
					Type:      ComponentTypeTextInput,
					CustomID:  CustomIDPasswordInput,
					Label:     "Password",
					Style:     int(TextInputStyleShort),
					Required:  true,
					MaxLength: utils.P(maxPasswordLength),
				}),
			},
		},
	}
}

// parseCustomIDValue returns the value after prefix in a custom id.
func parseCustomIDValue(customID, prefix string) (int, bool) {
	if !strings.HasPrefix(customID, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(customID, prefix))
	return n, err == nil
}

// wallMessage describes the wall after /manage wall. Leaving out the emoji
// replaces any earlier one, so the reply says so.
func wallMessage(thread *models.Thread) string {
	switch {
	case !thread.ReactionRequired:
		return "The reaction wall is off."
	case thread.RequiredEmoji != nil:
		return fmt.Sprintf("Protected files now need a %s reaction on the first post.", *thread.RequiredEmoji)
	default:
		return "Protected files now need any reaction on the first post. Any emoji set before was cleared."
	}
}
