package cmd

import (
	"context"
	"os"

	"github.com/odysseia/protect/src/bot"
	"github.com/odysseia/protect/src/config"
	"github.com/odysseia/protect/src/discord"
	"github.com/odysseia/protect/src/logging"
	"github.com/spf13/cobra"
)

func init() {
	rootCommand := &cobra.Command{
		Use:   "discord",
		Short: "Commands for interacting with Discord",
	}
	bot.BotCommand.AddCommand(rootCommand)

	registerCommand := &cobra.Command{
		Use:   "register-commands",
		Short: "Register the bot's slash and message commands",
		Long:  "Register the bot's slash and message commands on the configured guild, or globally if no guild is set. The bot also does this when it joins a guild.",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			client := discord.NewClient(config.Config.Discord)
			b := discord.NewBot(client, nil, config.Config.Discord, config.Config.PrivacyPolicyText)
			if err := b.RegisterCommands(ctx); err != nil {
				logging.Error().Err(err).Msg("Failed to register commands")
				os.Exit(1)
			}
			logging.Info().Str("guild", config.Config.Discord.GuildID).Msg("Registered commands")
		},
	}
	rootCommand.AddCommand(registerCommand)
}
