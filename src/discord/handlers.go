package discord

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/odysseia/protect/src/logging"
	"github.com/odysseia/protect/src/oops"
	"github.com/odysseia/protect/src/perf"
	"github.com/odysseia/protect/src/protect"
	"github.com/odysseia/protect/src/utils"
)

const (
	slowInteractionThreshold = 2 * time.Second
	panelLifetime            = 60 * time.Second
)

func (b *Bot) handleInteraction(ctx context.Context, i *Interaction) {
	invoker := i.Invoker()
	if invoker == nil {
		return
	}

	log := logging.ExtractLogger(ctx).With().
		Str("interaction", i.ID).
		Str("user", invoker.ID).
		Str("channel", i.ChannelID).
		Logger()
	defer logging.LogPanics(&log)
	ctx = logging.AttachLoggerToContext(&log, ctx)

	p := perf.MakeNewRequestPerf("Discord interaction")
	ctx = perf.AttachPerf(ctx, p)
	defer func() {
		p.EndRequest()
		p.LogIfSlow(&log, slowInteractionThreshold)
	}()

	switch i.Type {
	case InteractionTypeApplicationCommand:
		switch i.Data.Type {
		case ApplicationCommandTypeMessage:
			b.handleMessageCommand(ctx, i, invoker)
		default:
			b.handleSlashCommand(ctx, i, invoker)
		}
	case InteractionTypeMessageComponent:
		b.handleComponent(ctx, i, invoker)
	case InteractionTypeModalSubmit:
		b.handleModalSubmit(ctx, i, invoker)
	}
}

func (b *Bot) handleSlashCommand(ctx context.Context, i *Interaction, invoker *User) {
	opts := Options(i.Data.Options)
	switch i.Data.Name {
	case SlashCommandUpload:
		b.handleUpload(ctx, i, invoker, opts)
	case SlashCommandDownload:
		b.handleDownloadCommand(ctx, i)
	case SlashCommandManage:
		b.handleManage(ctx, i, invoker, opts)
	case SlashCommandPrivacy:
		b.respondData(ctx, i, b.privacyPrompt())
	case SlashCommandHelp:
		b.respondData(ctx, i, InteractionCallbackData{
			Embeds: []Embed{{Title: "How to use this bot", Description: manualText, Color: embedColor}},
		})
	default:
		logging.ExtractLogger(ctx).Warn().Str("command", i.Data.Name).Msg("Unknown slash command")
	}
}

type threadInfo struct {
	ID      string
	OwnerID string
	Title   string
}

// interactionThread returns the thread the interaction happened in, or nil
// if it happened anywhere else.
func (b *Bot) interactionThread(ctx context.Context, i *Interaction) (*threadInfo, error) {
	channel := i.Channel
	if channel == nil || channel.Type == 0 {
		var err error
		channel, err = b.Client.GetChannel(ctx, i.ChannelID)
		if err != nil {
			return nil, oops.New(err, "failed to look up interaction channel")
		}
	}
	if !channel.Type.IsThread() {
		return nil, nil
	}
	return &threadInfo{ID: channel.ID, OwnerID: channel.OwnerID, Title: channel.Name}, nil
}

func (b *Bot) requireThread(ctx context.Context, i *Interaction) *threadInfo {
	thread, err := b.interactionThread(ctx, i)
	if err != nil {
		b.respondError(ctx, i, err)
		return nil
	}
	if thread == nil {
		b.respond(ctx, i, notInThreadMessage)
		return nil
	}
	return thread
}

func (b *Bot) handleUpload(ctx context.Context, i *Interaction, invoker *User, opts Options) {
	thread := b.requireThread(ctx, i)
	if thread == nil {
		return
	}

	version := opts.String(SharedOptionVersion)
	switch opts.String(UploadOptionMode) {
	case uploadModeProtected:
		attachment := i.Data.Resolved.Attachments[opts.String(UploadOptionFile)]
		if attachment == nil {
			b.respond(ctx, i, "Attach a file to make a protected upload.")
			return
		}
		if !b.deferResponse(ctx, i) {
			return
		}
		resource, err := b.Service.UploadProtected(ctx, protect.UploadProtectedRequest{
			RequesterID:    invoker.ID,
			PublicThreadID: thread.ID,
			ThreadTitle:    thread.Title,
			ThreadOwnerID:  thread.OwnerID,
			Attachment:     toPlatformAttachment(attachment),
			Version:        version,
			Password:       opts.String(SharedOptionPassword),
		})
		if err != nil {
			b.editError(ctx, i, err)
			return
		}
		b.edit(ctx, i, InteractionCallbackData{Content: uploadedMessage(resource)})
	case uploadModeNormal:
		link := opts.String(UploadOptionLink)
		if link == "" {
			b.respond(ctx, i, "Give a link to the message you want to list.")
			return
		}
		if opts.String(SharedOptionPassword) != "" {
			b.respond(ctx, i, "Passwords only work on protected uploads.")
			return
		}
		resource, err := b.Service.UploadNormal(ctx, protect.UploadNormalRequest{
			RequesterID:    invoker.ID,
			PublicThreadID: thread.ID,
			ThreadOwnerID:  thread.OwnerID,
			MessageLink:    link,
			Version:        version,
		})
		if err != nil {
			b.respondError(ctx, i, err)
			return
		}
		b.respond(ctx, i, uploadedMessage(resource))
	default:
		b.respond(ctx, i, "Pick either the normal or the protected mode.")
	}
}

func (b *Bot) handleDownloadCommand(ctx context.Context, i *Interaction) {
	thread := b.requireThread(ctx, i)
	if thread == nil {
		return
	}

	indexed, list, err := b.Service.ListResources(ctx, thread.ID)
	if errors.Is(err, protect.NotFound) || (err == nil && list.Len() == 0) {
		b.respond(ctx, i, noResourcesMessage)
		return
	} else if err != nil {
		b.respondError(ctx, i, err)
		return
	}

	embeds, components := resourceListing(indexed, list)
	b.respondData(ctx, i, InteractionCallbackData{Embeds: embeds, Components: components})
}

func (b *Bot) handleManage(ctx context.Context, i *Interaction, invoker *User, opts Options) {
	thread := b.requireThread(ctx, i)
	if thread == nil {
		return
	}

	sub, subOpts := opts.Subcommand()
	switch sub {
	case ManageSubcommandEdit:
		resourceID, _ := subOpts.Int(ManageOptionResource)
		req := protect.UpdateResourceRequest{
			RequesterID: invoker.ID,
			ResourceID:  resourceID,
			Version:     subOpts.StringP(SharedOptionVersion),
			Password:    subOpts.StringP(SharedOptionPassword),
		}
		if clearPassword, _ := subOpts.Bool(ManageOptionClearPassword); clearPassword {
			req.Password = utils.P("")
		}
		if req.Version == nil && req.Password == nil {
			b.respond(ctx, i, "Nothing to change. Give a new version, a new password, or clear the password.")
			return
		}
		resource, err := b.Service.UpdateResource(ctx, req)
		if err != nil {
			b.respondError(ctx, i, err)
			return
		}
		b.respond(ctx, i, fmt.Sprintf("Updated %s.", resourceLine(resource)))
	case ManageSubcommandDelete:
		resourceID, _ := subOpts.Int(ManageOptionResource)
		resource, err := b.Service.DeleteResource(ctx, invoker.ID, resourceID)
		if err != nil {
			b.respondError(ctx, i, err)
			return
		}
		b.respond(ctx, i, fmt.Sprintf("Removed **%s** (%s).", resource.Filename, resource.Version))
	case ManageSubcommandWall:
		enabled, _ := subOpts.Bool(ManageOptionEnabled)
		updated, err := b.Service.SetReactionWall(ctx, invoker.ID, thread.ID, enabled, subOpts.String(ManageOptionEmoji))
		if err != nil {
			b.respondError(ctx, i, err)
			return
		}
		b.respond(ctx, i, wallMessage(updated))
	case ManageSubcommandQuickMode:
		enabled, _ := subOpts.Bool(ManageOptionEnabled)
		if _, err := b.Service.SetQuickMode(ctx, invoker.ID, thread.ID, enabled); err != nil {
			b.respondError(ctx, i, err)
			return
		}
		if enabled {
			b.respond(ctx, i, "Quick mode is on. Archived messages will be deleted from the thread.")
		} else {
			b.respond(ctx, i, "Quick mode is off.")
		}
	default:
		logging.ExtractLogger(ctx).Warn().Str("subcommand", sub).Msg("Unknown manage subcommand")
	}
}

func (b *Bot) handleMessageCommand(ctx context.Context, i *Interaction, invoker *User) {
	thread := b.requireThread(ctx, i)
	if thread == nil {
		return
	}
	targetID := i.Data.TargetID

	switch i.Data.Name {
	case MessageCommandArchive:
		if !b.deferResponse(ctx, i) {
			return
		}
		res, err := b.Service.ArchiveMessage(ctx, protect.ArchiveMessageRequest{
			RequesterID:    invoker.ID,
			PublicThreadID: thread.ID,
			ThreadTitle:    thread.Title,
			ThreadOwnerID:  thread.OwnerID,
			MessageID:      targetID,
		})
		if err != nil {
			b.editError(ctx, i, err)
			return
		}
		msg := uploadedMessage(res.Resource)
		if res.OriginalDeleted {
			msg += " The original message was removed."
		}
		b.edit(ctx, i, InteractionCallbackData{Content: msg})
	case MessageCommandUploadNormal:
		guildID := i.GuildID
		if guildID == "" {
			guildID = "@me"
		}
		resource, err := b.Service.UploadNormal(ctx, protect.UploadNormalRequest{
			RequesterID:    invoker.ID,
			PublicThreadID: thread.ID,
			ThreadOwnerID:  thread.OwnerID,
			MessageLink:    fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, i.ChannelID, targetID),
		})
		if err != nil {
			b.respondError(ctx, i, err)
			return
		}
		b.respond(ctx, i, uploadedMessage(resource))
	default:
		logging.ExtractLogger(ctx).Warn().Str("command", i.Data.Name).Msg("Unknown message command")
	}
}

func (b *Bot) handleComponent(ctx context.Context, i *Interaction, invoker *User) {
	switch i.Data.CustomID {
	case CustomIDPrivacyAccept:
		if err := b.Service.AcceptPrivacyPolicy(ctx, invoker.ID); err != nil {
			b.respondError(ctx, i, err)
			return
		}
		b.respond(ctx, i, "Thanks! You can upload files now. Run your command again.")
	case CustomIDDownloadSelect:
		if len(i.Data.Values) == 0 {
			return
		}
		resourceID, err := strconv.Atoi(i.Data.Values[0])
		if err != nil {
			b.respondError(ctx, i, oops.New(err, "bad download selection %q", i.Data.Values[0]))
			return
		}
		link, err := b.Service.Download(ctx, protect.DownloadRequest{RequesterID: invoker.ID, ResourceID: resourceID})
		if protect.IsDenied(err, protect.ReasonPasswordRequired) {
			// A modal has to be the first response, so the gate runs before anything is sent.
			if err := b.Client.CreateInteractionResponse(ctx, i.ID, i.Token, passwordModal(resourceID)); err != nil {
				logging.ExtractLogger(ctx).Error().Err(err).Msg("Failed to open password modal")
			}
			return
		} else if err != nil {
			b.respondError(ctx, i, err)
			return
		}
		b.respond(ctx, i, linkMessage(link))
	default:
		logging.ExtractLogger(ctx).Warn().Str("customID", i.Data.CustomID).Msg("Unknown component")
	}
}

func (b *Bot) handleModalSubmit(ctx context.Context, i *Interaction, invoker *User) {
	resourceID, ok := parseCustomIDValue(i.Data.CustomID, CustomIDPasswordModal)
	if !ok {
		logging.ExtractLogger(ctx).Warn().Str("customID", i.Data.CustomID).Msg("Unknown modal")
		return
	}
	password, _ := i.Data.TextInputValue(CustomIDPasswordInput)
	link, err := b.Service.Download(ctx, protect.DownloadRequest{
		RequesterID: invoker.ID,
		ResourceID:  resourceID,
		Password:    &password,
	})
	if err != nil {
		b.respondError(ctx, i, err)
		return
	}
	b.respond(ctx, i, linkMessage(link))
}

// handlePanelKeyword answers a keyword message in an indexed thread with the
// download listing, and removes the answer again after a while.
func (b *Bot) handlePanelKeyword(ctx context.Context, msg *Message) {
	if !matchesPanelKeyword(msg.Content, b.Config.PanelKeywords) {
		return
	}

	log := logging.ExtractLogger(ctx).With().Str("channel", msg.ChannelID).Str("message", msg.ID).Logger()
	defer logging.LogPanics(&log)

	thread, list, err := b.Service.ListResources(ctx, msg.ChannelID)
	if errors.Is(err, protect.NotFound) {
		return
	} else if err != nil {
		log.Error().Err(err).Msg("Failed to list resources for download panel")
		return
	}
	if list.Len() == 0 {
		return
	}

	embeds, components := resourceListing(thread, list)
	panel, err := b.Client.CreateMessage(ctx, msg.ChannelID, CreateMessageRequest{
		Embeds:          embeds,
		Components:      components,
		AllowedMentions: NoMentions,
		Reference:       &MessageReferenceObject{MessageID: msg.ID},
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to post download panel")
		return
	}

	if err := utils.SleepContext(ctx, panelLifetime); err != nil {
		return
	}
	if err := b.Client.DeleteMessage(ctx, msg.ChannelID, panel.ID); err != nil && !errors.Is(err, NotFound) {
		log.Warn().Err(err).Msg("Failed to remove download panel")
	}
}

func (b *Bot) privacyPrompt() InteractionCallbackData {
	return InteractionCallbackData{
		Embeds: []Embed{{Title: "Privacy policy", Description: b.PrivacyPolicyText, Color: embedColor}},
		Components: []Component{
			ActionRow(Component{
				Type:     ComponentTypeButton,
				Style:    int(ButtonStyleSuccess),
				Label:    "I accept",
				CustomID: CustomIDPrivacyAccept,
			}),
		},
	}
}

func (b *Bot) respond(ctx context.Context, i *Interaction, content string) {
	b.respondData(ctx, i, InteractionCallbackData{Content: content})
}

// respondData sends an ephemeral reply as the first response.
func (b *Bot) respondData(ctx context.Context, i *Interaction, data InteractionCallbackData) {
	data.Flags |= FlagEphemeral
	if data.AllowedMentions == nil {
		data.AllowedMentions = NoMentions
	}
	err := b.Client.CreateInteractionResponse(ctx, i.ID, i.Token, InteractionResponse{
		Type: InteractionCallbackTypeChannelMessageWithSource,
		Data: &data,
	})
	if err != nil {
		logging.ExtractLogger(ctx).Error().Err(err).Msg("Failed to respond to interaction")
	}
}

// deferResponse acknowledges the interaction so the real answer can come
// later through edit. It reports whether the acknowledgement went through.
func (b *Bot) deferResponse(ctx context.Context, i *Interaction) bool {
	err := b.Client.CreateInteractionResponse(ctx, i.ID, i.Token, InteractionResponse{
		Type: InteractionCallbackTypeDeferredChannelMessageWithSource,
		Data: &InteractionCallbackData{Flags: FlagEphemeral},
	})
	if err != nil {
		logging.ExtractLogger(ctx).Error().Err(err).Msg("Failed to defer interaction response")
		return false
	}
	return true
}

func (b *Bot) edit(ctx context.Context, i *Interaction, data InteractionCallbackData) {
	if data.AllowedMentions == nil {
		data.AllowedMentions = NoMentions
	}
	// Interaction tokens outlive a canceled bot context by a few seconds.
	if err := b.Client.EditOriginalInteractionResponse(context.WithoutCancel(ctx), i.Token, data); err != nil {
		logging.ExtractLogger(ctx).Error().Err(err).Msg("Failed to edit interaction response")
	}
}

func (b *Bot) errorData(ctx context.Context, err error) InteractionCallbackData {
	if errors.Is(err, protect.ErrConsentRequired) {
		return b.privacyPrompt()
	}
	msg, ok := userMessage(err, b.Service.MaxUploadBytes)
	if !ok {
		logging.ExtractLogger(ctx).Error().Err(err).Msg("Interaction failed")
	} else {
		logging.ExtractLogger(ctx).Debug().Err(err).Msg("Interaction refused")
	}
	return InteractionCallbackData{Content: msg}
}

func (b *Bot) respondError(ctx context.Context, i *Interaction, err error) {
	b.respondData(ctx, i, b.errorData(ctx, err))
}

func (b *Bot) editError(ctx context.Context, i *Interaction, err error) {
	b.edit(ctx, i, b.errorData(ctx, err))
}
