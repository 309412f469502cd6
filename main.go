package main

import (
	_ "github.com/odysseia/protect/src/admintools"
	"github.com/odysseia/protect/src/bot"
	_ "github.com/odysseia/protect/src/discord/cmd"
	_ "github.com/odysseia/protect/src/migration"
)

func main() {
	bot.BotCommand.Execute()
}
