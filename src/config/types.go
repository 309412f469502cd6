package config

import (
	"fmt"

	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"
)

type Environment string

const (
	Live Environment = "live"
	Beta Environment = "beta"
	Dev  Environment = "dev"
)

type DatabaseDriver string

const (
	DriverPostgres DatabaseDriver = "postgres"
	DriverSqlite   DatabaseDriver = "sqlite"
)

type ProtectConfig struct {
	Env         Environment
	LogLevel    zerolog.Level
	MetricsAddr string
	Database    DatabaseDriver
	Postgres    PostgresConfig
	Sqlite      SqliteConfig
	Discord     DiscordConfig

	// Shown to users before their first upload.
	PrivacyPolicyText string
}

type PostgresConfig struct {
	User     string
	Password string
	Hostname string
	Port     int
	DbName   string
	LogLevel tracelog.LogLevel
	MinConn  int32
	MaxConn  int32
}

func (info PostgresConfig) DSN() string {
	return fmt.Sprintf("user=%s password=%s host=%s port=%d dbname=%s", info.User, info.Password, info.Hostname, info.Port, info.DbName)
}

type SqliteConfig struct {
	Path string
}

type DiscordConfig struct {
	BotToken      string
	BotUserID     string
	ApplicationID string

	// When set, application commands are registered on this guild only.
	GuildID string

	// Text channel whose private threads hold the archive copies, one per public thread.
	WarehouseChannelID string

	// Messages matching one of these (case-insensitive) get a download panel.
	PanelKeywords []string

	MaxUploadBytes int64
}

func (c DiscordConfig) Enabled() bool {
	return c.BotToken != ""
}
