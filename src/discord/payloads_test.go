package discord

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unmarshalPayload(t *testing.T, payload string) interface{} {
	t.Helper()
	var m interface{}
	require.Nil(t, json.Unmarshal([]byte(payload), &m))
	return m
}

func TestMessageFromMap(t *testing.T) {
	t.Run("create", func(t *testing.T) {
		message := MessageFromMap(unmarshalPayload(t, testMessageCreate), "")
		assert.Equal(t, "files", message.Content)
		assert.Equal(t, "1180000000000000001", message.ChannelID)
		require.NotNil(t, message.Author)
		assert.Equal(t, "modder", message.Author.Username)
		assert.Equal(t, "Modder", message.Author.DisplayName())
		assert.False(t, message.Author.IsBot)
		assert.Equal(t, "https://discord.com/channels/1170000000000000000/1180000000000000001/1180000000000000099", message.JumpURL())
	})
	t.Run("attachment and reactions", func(t *testing.T) {
		message := MessageFromMap(unmarshalPayload(t, testMessageCreate_Attachment), "")
		require.Len(t, message.Attachments, 1)
		assert.Equal(t, "mod.zip", message.Attachments[0].Filename)
		assert.Equal(t, 2048, message.Attachments[0].Size)
		assert.Contains(t, message.Attachments[0].Url, "?ex=")

		require.Len(t, message.Reactions, 2)
		assert.Equal(t, "❤️", message.Reactions[0].Emoji.String())
		assert.Equal(t, 3, message.Reactions[0].Count)
		assert.Equal(t, "<:pog:1170000000000000777>", message.Reactions[1].Emoji.String())
		assert.Equal(t, "pog:1170000000000000777", message.Reactions[1].Emoji.URLParam())
	})
	t.Run("missing id", func(t *testing.T) {
		defer func() {
			r := recover()
			err, ok := r.(*PayloadError)
			require.True(t, ok, "expected a PayloadError, got %v", r)
			assert.Equal(t, "d.id", err.Path)
		}()
		MessageFromMap(map[string]interface{}{"channel_id": "1"}, "d")
	})
}

func TestInteractionFromMap(t *testing.T) {
	t.Run("slash command with attachment", func(t *testing.T) {
		i := InteractionFromMap(unmarshalPayload(t, testInteractionCreate_Upload), "")
		assert.Equal(t, InteractionTypeApplicationCommand, i.Type)
		assert.Equal(t, "1170000000000000500", i.ApplicationID)
		assert.Equal(t, SlashCommandUpload, i.Data.Name)

		require.NotNil(t, i.Channel)
		assert.True(t, i.Channel.Type.IsThread())
		assert.Equal(t, "1180000000000000002", i.Channel.OwnerID)
		assert.Equal(t, "1180000000000000002", i.Invoker().ID)

		opts := Options(i.Data.Options)
		assert.Equal(t, uploadModeProtected, opts.String(UploadOptionMode))
		assert.Nil(t, opts.StringP(SharedOptionPassword))
		assert.Equal(t, "1.2", *opts.StringP(SharedOptionVersion))

		attachment := i.Data.Resolved.Attachments[opts.String(UploadOptionFile)]
		require.NotNil(t, attachment)
		assert.Equal(t, "mod.zip", attachment.Filename)
	})
	t.Run("manage subcommand", func(t *testing.T) {
		i := InteractionFromMap(unmarshalPayload(t, testInteractionCreate_Manage), "")
		sub, opts := Options(i.Data.Options).Subcommand()
		assert.Equal(t, ManageSubcommandEdit, sub)

		id, ok := opts.Int(ManageOptionResource)
		assert.True(t, ok)
		assert.Equal(t, 7, id)

		clearPassword, ok := opts.Bool(ManageOptionClearPassword)
		assert.True(t, ok)
		assert.True(t, clearPassword)

		_, ok = opts.Bool(ManageOptionEnabled)
		assert.False(t, ok)
	})
	t.Run("message command", func(t *testing.T) {
		i := InteractionFromMap(unmarshalPayload(t, testInteractionCreate_MessageCommand), "")
		assert.Equal(t, ApplicationCommandTypeMessage, i.Data.Type)
		assert.Equal(t, MessageCommandArchive, i.Data.Name)
		assert.Equal(t, "1180000000000000099", i.Data.TargetID)
		target := i.Data.Resolved.Messages[i.Data.TargetID]
		require.NotNil(t, target)
		require.Len(t, target.Attachments, 1)
		assert.Equal(t, "1180000000000000002", i.Data.Resolved.Members["1180000000000000002"].User.ID)
	})
	t.Run("select menu", func(t *testing.T) {
		i := InteractionFromMap(unmarshalPayload(t, testInteractionCreate_Select), "")
		assert.Equal(t, InteractionTypeMessageComponent, i.Type)
		assert.Equal(t, CustomIDDownloadSelect, i.Data.CustomID)
		assert.Equal(t, []string{"7"}, i.Data.Values)
		assert.Nil(t, i.Member)
		assert.Equal(t, "1180000000000000003", i.Invoker().ID)
	})
	t.Run("modal submit", func(t *testing.T) {
		i := InteractionFromMap(unmarshalPayload(t, testInteractionCreate_Modal), "")
		assert.Equal(t, InteractionTypeModalSubmit, i.Type)

		id, ok := parseCustomIDValue(i.Data.CustomID, CustomIDPasswordModal)
		assert.True(t, ok)
		assert.Equal(t, 7, id)

		password, ok := i.Data.TextInputValue(CustomIDPasswordInput)
		assert.True(t, ok)
		assert.Equal(t, "hunter2 ", password)

		_, ok = i.Data.TextInputValue("nope")
		assert.False(t, ok)
	})
}

func TestReadyFromMap(t *testing.T) {
	ready := ReadyFromMap(unmarshalPayload(t, `{
		"v": 10,
		"user": {"id": "1170000000000000500", "username": "protect", "bot": true},
		"session_id": "abc",
		"resume_gateway_url": "wss://gateway-us-east1-b.discord.gg"
	}`), "d")
	assert.Equal(t, 10, ready.GatewayVersion)
	assert.True(t, ready.User.IsBot)
	assert.Equal(t, "abc", ready.SessionID)
	assert.Equal(t, "wss://gateway-us-east1-b.discord.gg", ready.ResumeGatewayURL)
}

const testMessageCreate = `{
	"attachments": [],
	"author": {
		"avatar": null,
		"discriminator": "0",
		"global_name": "Modder",
		"id": "1180000000000000002",
		"public_flags": 0,
		"username": "modder"
	},
	"channel_id": "1180000000000000001",
	"components": [],
	"content": "files",
	"edited_timestamp": null,
	"embeds": [],
	"flags": 0,
	"guild_id": "1170000000000000000",
	"id": "1180000000000000099",
	"mention_everyone": false,
	"mentions": [],
	"pinned": false,
	"timestamp": "2024-09-27T01:55:44.637000+00:00",
	"tts": false,
	"type": 0
}`

const testMessageCreate_Attachment = `{
	"attachments": [
		{
			"content_type": "application/zip",
			"filename": "mod.zip",
			"id": "1180000000000000200",
			"proxy_url": "https://media.discordapp.net/attachments/1180000000000000001/1180000000000000200/mod.zip?ex=66f6a1b2&is=66f55032&hm=ab",
			"size": 2048,
			"url": "https://cdn.discordapp.com/attachments/1180000000000000001/1180000000000000200/mod.zip?ex=66f6a1b2&is=66f55032&hm=ab"
		}
	],
	"author": {
		"id": "1180000000000000002",
		"username": "modder"
	},
	"channel_id": "1180000000000000001",
	"content": "",
	"guild_id": "1170000000000000000",
	"id": "1180000000000000099",
	"reactions": [
		{"count": 3, "me": false, "emoji": {"id": null, "name": "❤️"}},
		{"count": 1, "me": true, "emoji": {"id": "1170000000000000777", "name": "pog", "animated": false}}
	],
	"timestamp": "2024-09-27T01:55:44.637000+00:00",
	"type": 0
}`

const testInteractionCreate_Upload = `{
	"application_id": "1170000000000000500",
	"channel": {
		"guild_id": "1170000000000000000",
		"id": "1180000000000000001",
		"name": "My mod",
		"owner_id": "1180000000000000002",
		"parent_id": "1170000000000000010",
		"type": 11
	},
	"channel_id": "1180000000000000001",
	"data": {
		"id": "1170000000000000600",
		"name": "upload",
		"options": [
			{"name": "mode", "type": 3, "value": "protected"},
			{"name": "file", "type": 11, "value": "1180000000000000300"},
			{"name": "version", "type": 3, "value": "1.2"}
		],
		"resolved": {
			"attachments": {
				"1180000000000000300": {
					"content_type": "application/zip",
					"filename": "mod.zip",
					"id": "1180000000000000300",
					"proxy_url": "https://media.discordapp.net/ephemeral-attachments/1/2/mod.zip",
					"size": 2048,
					"url": "https://cdn.discordapp.com/ephemeral-attachments/1/2/mod.zip"
				}
			}
		},
		"type": 1
	},
	"guild_id": "1170000000000000000",
	"id": "1180000000000000400",
	"member": {
		"nick": null,
		"roles": [],
		"user": {
			"global_name": "Modder",
			"id": "1180000000000000002",
			"username": "modder"
		}
	},
	"token": "token",
	"type": 2,
	"version": 1
}`

const testInteractionCreate_Manage = `{
	"application_id": "1170000000000000500",
	"channel_id": "1180000000000000001",
	"data": {
		"id": "1170000000000000601",
		"name": "manage",
		"options": [
			{
				"name": "edit",
				"type": 1,
				"options": [
					{"name": "resource", "type": 4, "value": 7},
					{"name": "clear_password", "type": 5, "value": true}
				]
			}
		],
		"type": 1
	},
	"guild_id": "1170000000000000000",
	"id": "1180000000000000401",
	"member": {"user": {"id": "1180000000000000002", "username": "modder"}},
	"token": "token",
	"type": 2
}`

const testInteractionCreate_MessageCommand = `{
	"application_id": "1170000000000000500",
	"channel_id": "1180000000000000001",
	"data": {
		"id": "1170000000000000602",
		"name": "Archive to warehouse",
		"resolved": {
			"members": {
				"1180000000000000002": {"nick": null, "roles": []}
			},
			"messages": {
				"1180000000000000099": {
					"attachments": [
						{"filename": "mod.zip", "id": "1180000000000000200", "size": 2048, "url": "https://cdn.discordapp.com/attachments/1/2/mod.zip"}
					],
					"author": {"id": "1180000000000000002", "username": "modder"},
					"channel_id": "1180000000000000001",
					"content": "",
					"id": "1180000000000000099",
					"type": 0
				}
			},
			"users": {
				"1180000000000000002": {"id": "1180000000000000002", "username": "modder"}
			}
		},
		"target_id": "1180000000000000099",
		"type": 3
	},
	"guild_id": "1170000000000000000",
	"id": "1180000000000000402",
	"member": {"user": {"id": "1180000000000000002", "username": "modder"}},
	"token": "token",
	"type": 2
}`

const testInteractionCreate_Select = `{
	"application_id": "1170000000000000500",
	"channel_id": "1180000000000000001",
	"data": {
		"component_type": 3,
		"custom_id": "download:select",
		"values": ["7"]
	},
	"id": "1180000000000000403",
	"token": "token",
	"type": 3,
	"user": {"id": "1180000000000000003", "username": "downloader"}
}`

const testInteractionCreate_Modal = `{
	"application_id": "1170000000000000500",
	"channel_id": "1180000000000000001",
	"data": {
		"custom_id": "download:password:7",
		"components": [
			{
				"type": 1,
				"components": [
					{"type": 4, "custom_id": "password", "value": "hunter2 "}
				]
			}
		]
	},
	"guild_id": "1170000000000000000",
	"id": "1180000000000000404",
	"member": {"user": {"id": "1180000000000000003", "username": "downloader"}},
	"token": "token",
	"type": 5
}`
