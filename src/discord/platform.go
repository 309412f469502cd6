package discord

import (
	"context"
	"errors"

	"github.com/odysseia/protect/src/oops"
	"github.com/odysseia/protect/src/protect"
	"github.com/odysseia/protect/src/utils"
)

// Archive threads auto-archive after a week of inactivity. Archived threads
// still serve their attachments.
const archiveThreadAutoArchiveMinutes = 10080

// Platform implements protect.Platform on top of the Discord REST API.
type Platform struct {
	client  *Client
	guildID string
}

var _ protect.Platform = (*Platform)(nil)

func NewPlatform(client *Client) *Platform {
	return &Platform{client: client, guildID: client.GuildID}
}

func platformError(err error) error {
	if errors.Is(err, NotFound) {
		return oops.New(protect.ErrPlatformNotFound, "%v", err)
	}
	return err
}

func (p *Platform) CreateMessageWithFile(ctx context.Context, threadID string, file protect.File) (string, error) {
	msg, err := p.client.CreateMessageWithFile(ctx, threadID, CreateMessageRequest{AllowedMentions: NoMentions}, FileUpload{
		Name:        file.Name,
		ContentType: file.ContentType,
		Data:        file.Data,
	})
	if err != nil {
		return "", platformError(err)
	}
	return msg.ID, nil
}

func (p *Platform) DeleteMessage(ctx context.Context, threadID, messageID string) error {
	return platformError(p.client.DeleteMessage(ctx, threadID, messageID))
}

// GetFreshURL re-reads the message so the attachment URL carries a new
// signature.
func (p *Platform) GetFreshURL(ctx context.Context, threadID, messageID string) (string, error) {
	msg, err := p.client.GetChannelMessage(ctx, threadID, messageID)
	if err != nil {
		return "", platformError(err)
	}
	if len(msg.Attachments) == 0 {
		return "", protect.ErrNoAttachment
	}
	return msg.Attachments[0].Url, nil
}

func (p *Platform) GetReactions(ctx context.Context, threadID, messageID string) ([]protect.Reaction, error) {
	msg, err := p.client.GetChannelMessage(ctx, threadID, messageID)
	if err != nil {
		return nil, platformError(err)
	}

	var reactions []protect.Reaction
	for _, r := range msg.Reactions {
		after := ""
		for {
			users, err := p.client.GetReactions(ctx, threadID, messageID, r.Emoji, after)
			if err != nil {
				return nil, platformError(err)
			}
			for _, u := range users {
				reactions = append(reactions, protect.Reaction{UserID: u.ID, Emoji: r.Emoji.String()})
			}
			if len(users) < MaxReactionsPage {
				break
			}
			after = users[len(users)-1].ID
		}
	}
	return reactions, nil
}

func (p *Platform) CreateArchiveThread(ctx context.Context, warehouseChannelID, title string) (string, error) {
	thread, err := p.client.StartThreadWithoutMessage(ctx, warehouseChannelID, StartThreadRequest{
		Name:                title,
		Type:                ChannelTypeGuildPrivateThread,
		AutoArchiveDuration: archiveThreadAutoArchiveMinutes,
		Invitable:           utils.P(false),
	})
	if err != nil {
		return "", platformError(err)
	}
	return thread.ID, nil
}

func (p *Platform) GetMessage(ctx context.Context, channelID, messageID string) (*protect.PlatformMessage, error) {
	msg, err := p.client.GetChannelMessage(ctx, channelID, messageID)
	if err != nil {
		return nil, platformError(err)
	}
	if msg.GuildID == nil && p.guildID != "" {
		msg.GuildID = &p.guildID
	}
	return toPlatformMessage(msg), nil
}

func (p *Platform) DownloadAttachment(ctx context.Context, url string, maxBytes int64) ([]byte, error) {
	data, err := p.client.DownloadAttachment(ctx, url, maxBytes)
	if errors.Is(err, ErrTooLarge) {
		return nil, protect.ErrFileTooLarge
	}
	if err != nil {
		return nil, platformError(err)
	}
	return data, nil
}

func toPlatformMessage(msg *Message) *protect.PlatformMessage {
	res := &protect.PlatformMessage{
		ID:        msg.ID,
		ChannelID: msg.ChannelID,
		Content:   msg.Content,
		JumpURL:   msg.JumpURL(),
	}
	if msg.Author != nil {
		res.AuthorID = msg.Author.ID
	}
	for _, a := range msg.Attachments {
		res.Attachments = append(res.Attachments, toPlatformAttachment(&a))
	}
	return res
}

func toPlatformAttachment(a *Attachment) protect.PlatformAttachment {
	return protect.PlatformAttachment{
		Filename:    a.Filename,
		URL:         a.Url,
		ContentType: utils.Deref(a.ContentType),
		Size:        a.Size,
	}
}
