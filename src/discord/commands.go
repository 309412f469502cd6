package discord

import (
	"context"

	"github.com/odysseia/protect/src/logging"
	"github.com/odysseia/protect/src/oops"
)

// Slash command names and options
const (
	SlashCommandUpload = "upload"
	UploadOptionMode   = "mode"
	UploadOptionFile   = "file"
	UploadOptionLink   = "message_link"

	SlashCommandDownload = "download"

	SlashCommandManage        = "manage"
	ManageSubcommandEdit      = "edit"
	ManageSubcommandDelete    = "delete"
	ManageSubcommandWall      = "wall"
	ManageSubcommandQuickMode = "quickmode"
	ManageOptionResource      = "resource"
	ManageOptionClearPassword = "clear_password"
	ManageOptionEnabled       = "enabled"
	ManageOptionEmoji         = "emoji"

	SharedOptionVersion  = "version"
	SharedOptionPassword = "password"

	SlashCommandPrivacy = "privacy"
	SlashCommandHelp    = "help"
)

const (
	uploadModeNormal    = "normal"
	uploadModeProtected = "protected"

	maxVersionLength  = 100
	maxPasswordLength = 100
)

// Message command names
const (
	MessageCommandArchive      = "Archive to warehouse"
	MessageCommandUploadNormal = "Upload as normal file"
)

// Component custom ids. Ids that carry a value append it after the prefix.
const (
	CustomIDPrivacyAccept  = "privacy:accept"
	CustomIDDownloadSelect = "download:select"
	CustomIDPasswordModal  = "download:password:"
	CustomIDPasswordInput  = "password"
)

func applicationCommands() []ApplicationCommand {
	versionOption := ApplicationCommandOption{
		Type:        ApplicationCommandOptionTypeString,
		Name:        SharedOptionVersion,
		Description: "Version label for this file",
		MaxLength:   maxVersionLength,
	}
	passwordOption := ApplicationCommandOption{
		Type:        ApplicationCommandOptionTypeString,
		Name:        SharedOptionPassword,
		Description: "Password downloaders must enter",
		MaxLength:   maxPasswordLength,
	}
	resourceOption := ApplicationCommandOption{
		Type:        ApplicationCommandOptionTypeInteger,
		Name:        ManageOptionResource,
		Description: "Resource number, as shown by /download",
		Required:    true,
	}

	return []ApplicationCommand{
		{
			Type:        ApplicationCommandTypeChatInput,
			Name:        SlashCommandUpload,
			Description: "Add a file to this thread",
			Options: []ApplicationCommandOption{
				{
					Type:        ApplicationCommandOptionTypeString,
					Name:        UploadOptionMode,
					Description: "How the file is stored",
					Required:    true,
					Choices: []ApplicationCommandOptionChoice{
						{Name: "Normal (link to a message in this thread)", Value: uploadModeNormal},
						{Name: "Protected (stored by the bot)", Value: uploadModeProtected},
					},
				},
				{
					Type:        ApplicationCommandOptionTypeAttachment,
					Name:        UploadOptionFile,
					Description: "The file, for protected uploads",
				},
				{
					Type:        ApplicationCommandOptionTypeString,
					Name:        UploadOptionLink,
					Description: "Link to the message, for normal uploads",
				},
				versionOption,
				passwordOption,
			},
		},
		{
			Type:        ApplicationCommandTypeChatInput,
			Name:        SlashCommandDownload,
			Description: "List the files in this thread",
		},
		{
			Type:        ApplicationCommandTypeChatInput,
			Name:        SlashCommandManage,
			Description: "Manage the files you uploaded to this thread",
			Options: []ApplicationCommandOption{
				{
					Type:        ApplicationCommandOptionTypeSubCommand,
					Name:        ManageSubcommandEdit,
					Description: "Change a file's version label or password",
					Options: []ApplicationCommandOption{
						resourceOption,
						versionOption,
						passwordOption,
						{
							Type:        ApplicationCommandOptionTypeBoolean,
							Name:        ManageOptionClearPassword,
							Description: "Remove the password",
						},
					},
				},
				{
					Type:        ApplicationCommandOptionTypeSubCommand,
					Name:        ManageSubcommandDelete,
					Description: "Remove a file",
					Options:     []ApplicationCommandOption{resourceOption},
				},
				{
					Type:        ApplicationCommandOptionTypeSubCommand,
					Name:        ManageSubcommandWall,
					Description: "Require a reaction on the first post before downloading",
					Options: []ApplicationCommandOption{
						{
							Type:        ApplicationCommandOptionTypeBoolean,
							Name:        ManageOptionEnabled,
							Description: "Turn the reaction wall on or off",
							Required:    true,
						},
						{
							Type:        ApplicationCommandOptionTypeString,
							Name:        ManageOptionEmoji,
							Description: "Only count this emoji (default: any)",
						},
					},
				},
				{
					Type:        ApplicationCommandOptionTypeSubCommand,
					Name:        ManageSubcommandQuickMode,
					Description: "Delete originals after archiving them to the warehouse",
					Options: []ApplicationCommandOption{
						{
							Type:        ApplicationCommandOptionTypeBoolean,
							Name:        ManageOptionEnabled,
							Description: "Turn quick mode on or off",
							Required:    true,
						},
					},
				},
			},
		},
		{
			Type:        ApplicationCommandTypeChatInput,
			Name:        SlashCommandPrivacy,
			Description: "Read and accept the privacy policy",
		},
		{
			Type:        ApplicationCommandTypeChatInput,
			Name:        SlashCommandHelp,
			Description: "Show how to use this bot",
		},
		{
			Type: ApplicationCommandTypeMessage,
			Name: MessageCommandArchive,
		},
		{
			Type: ApplicationCommandTypeMessage,
			Name: MessageCommandUploadNormal,
		},
	}
}

// RegisterCommands replaces the bot's application commands with the current set.
func (b *Bot) RegisterCommands(ctx context.Context) error {
	if b.Client.ApplicationID == "" {
		return oops.New(nil, "no Discord application id is configured")
	}
	return b.Client.BulkOverwriteApplicationCommands(ctx, b.Config.GuildID, applicationCommands())
}

func (b *Bot) registerCommandsAndLog(ctx context.Context) {
	if err := b.RegisterCommands(ctx); err != nil {
		logging.ExtractLogger(ctx).Warn().Err(err).Msg("Failed to register Discord application commands")
		return
	}
	logging.ExtractLogger(ctx).Info().Msg("Registered Discord application commands")
}
