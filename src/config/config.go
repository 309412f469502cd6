package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/tracelog"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

var Config ProtectConfig

func init() {
	// A missing .env is fine; the real environment always wins.
	_ = godotenv.Load(envFile())
	Config = FromEnv(os.Getenv)
}

func envFile() string {
	if path := os.Getenv("PROTECT_ENV_FILE"); path != "" {
		return path
	}
	return ".env"
}

// FromEnv builds the config from a variable lookup. Unset or malformed values
// fall back to the defaults.
func FromEnv(getenv func(string) string) ProtectConfig {
	e := env(getenv)

	return ProtectConfig{
		Env:         Environment(e.str("PROTECT_ENV", string(Dev))),
		LogLevel:    e.logLevel("LOG_LEVEL", zerolog.InfoLevel),
		MetricsAddr: e.str("METRICS_ADDR", ":9180"),
		Database:    DatabaseDriver(strings.ToLower(e.str("DATABASE_DRIVER", string(DriverSqlite)))),
		Postgres: PostgresConfig{
			User:     e.str("POSTGRES_USER", "protect"),
			Password: e.str("POSTGRES_PASSWORD", "password"),
			Hostname: e.str("POSTGRES_HOST", "localhost"),
			Port:     e.int("POSTGRES_PORT", 5432),
			DbName:   e.str("POSTGRES_DB", "protect"),
			LogLevel: e.pgLogLevel("POSTGRES_LOG_LEVEL", tracelog.LogLevelWarn),
			MinConn:  int32(e.int("POSTGRES_MIN_CONN", 2)),
			MaxConn:  int32(e.int("POSTGRES_MAX_CONN", 10)),
		},
		Sqlite: SqliteConfig{
			Path: e.str("SQLITE_PATH", "protect.db"),
		},
		Discord: DiscordConfig{
			BotToken:           e.str("DISCORD_BOT_TOKEN", ""),
			BotUserID:          e.str("DISCORD_BOT_USER_ID", ""),
			ApplicationID:      e.str("DISCORD_APPLICATION_ID", ""),
			GuildID:            e.str("DISCORD_GUILD_ID", ""),
			WarehouseChannelID: e.str("WAREHOUSE_CHANNEL_ID", ""),
			PanelKeywords:      e.list("PANEL_KEYWORDS", []string{"download", "下载"}),
			MaxUploadBytes:     int64(e.int("MAX_UPLOAD_BYTES", 25*1024*1024)),
		},
		PrivacyPolicyText: e.str("PRIVACY_POLICY_TEXT", defaultPrivacyPolicy),
	}
}

const defaultPrivacyPolicy = "Protected uploads are copied into a private archive thread that only the bot can read. " +
	"We store your user id, the thread you uploaded to, and the resource details you provide. " +
	"Resource passwords are stored as given, so do not reuse a password you care about."

type env func(string) string

func (e env) str(name, def string) string {
	if v := strings.TrimSpace(e(name)); v != "" {
		return v
	}
	return def
}

func (e env) int(name string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(e(name)))
	if err != nil {
		return def
	}
	return v
}

func (e env) list(name string, def []string) []string {
	raw := strings.TrimSpace(e(name))
	if raw == "" {
		return def
	}
	var res []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			res = append(res, item)
		}
	}
	return res
}

func (e env) logLevel(name string, def zerolog.Level) zerolog.Level {
	raw := strings.TrimSpace(e(name))
	if raw == "" {
		return def
	}
	level, err := zerolog.ParseLevel(strings.ToLower(raw))
	if err != nil {
		return def
	}
	return level
}

func (e env) pgLogLevel(name string, def tracelog.LogLevel) tracelog.LogLevel {
	raw := strings.TrimSpace(e(name))
	if raw == "" {
		return def
	}
	level, err := tracelog.LogLevelFromString(strings.ToLower(raw))
	if err != nil {
		return def
	}
	return level
}
