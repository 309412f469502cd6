package migration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/odysseia/protect/src/bot"
	"github.com/odysseia/protect/src/db"
	"github.com/odysseia/protect/src/logging"
	"github.com/odysseia/protect/src/migration/migrations"
	"github.com/odysseia/protect/src/migration/types"
	"github.com/odysseia/protect/src/oops"
	"github.com/spf13/cobra"
)

var listMigrations bool

func init() {
	migrateCommand := &cobra.Command{
		Use:   "migrate [target migration id]",
		Short: "Run Postgres database migrations",
		Long:  "Run Postgres database migrations. The SQLite index creates its own tables and does not need this.",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			if listMigrations {
				ListMigrations(ctx)
				return
			}

			targetVersion := time.Time{}
			if len(args) > 0 {
				var err error
				targetVersion, err = time.Parse(time.RFC3339, args[0])
				if err != nil {
					fmt.Printf("ERROR: bad version string: %v\n", err)
					os.Exit(1)
				}
			}
			if err := Migrate(ctx, types.MigrationVersion(targetVersion)); err != nil {
				logging.Error().Err(err).Msg("Migration failed")
				os.Exit(1)
			}
		},
	}
	migrateCommand.Flags().BoolVar(&listMigrations, "list", false, "List available migrations")

	makeMigrationCommand := &cobra.Command{
		Use:   "makemigration <name> <description>...",
		Short: "Create a new database migration file",
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) < 2 {
				fmt.Printf("You must provide a name and a description.\n\n")
				cmd.Usage()
				os.Exit(1)
			}

			path, err := MakeMigration(args[0], strings.Join(args[1:], " "), time.Now())
			if err != nil {
				logging.Error().Err(err).Msg("Failed to create migration")
				os.Exit(1)
			}
			fmt.Println("Successfully created migration file:")
			fmt.Println(path)
		},
	}

	bot.BotCommand.AddCommand(migrateCommand)
	bot.BotCommand.AddCommand(makeMigrationCommand)
}

func getSortedMigrationVersions() []types.MigrationVersion {
	var allVersions []types.MigrationVersion
	for migrationTime := range migrations.All {
		allVersions = append(allVersions, migrationTime)
	}
	sort.Slice(allVersions, func(i, j int) bool {
		return allVersions[i].Before(allVersions[j])
	})

	return allVersions
}

func getCurrentVersion(ctx context.Context, conn *pgx.Conn) (types.MigrationVersion, error) {
	var currentVersion time.Time
	err := conn.QueryRow(ctx, "SELECT version FROM protect_migration").Scan(&currentVersion)
	if err != nil {
		return types.MigrationVersion{}, err
	}
	return types.MigrationVersion(currentVersion.UTC()), nil
}

func ListMigrations(ctx context.Context) {
	var currentVersion types.MigrationVersion
	if conn, err := db.NewConn(ctx); err == nil {
		currentVersion, _ = getCurrentVersion(ctx, conn)
		conn.Close(ctx)
	}

	for _, version := range getSortedMigrationVersions() {
		migration := migrations.All[version]
		indicator := "  "
		if version.Equal(currentVersion) {
			indicator = "✔ "
		}
		fmt.Printf("%s%v (%s: %s)\n", indicator, version, migration.Name(), migration.Description())
	}
}

// Migrate moves the database forward or back to targetVersion, one
// transaction per migration. A zero target means the latest migration.
func Migrate(ctx context.Context, targetVersion types.MigrationVersion) error {
	conn, err := db.NewConn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	_, err = conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS protect_migration (
			version TIMESTAMP WITH TIME ZONE
		)
	`)
	if err != nil {
		return oops.New(err, "failed to create migration table")
	}

	var numRows int
	if err := conn.QueryRow(ctx, "SELECT COUNT(*) FROM protect_migration").Scan(&numRows); err != nil {
		return oops.New(err, "failed to count migration rows")
	}
	if numRows < 1 {
		_, err := conn.Exec(ctx, "INSERT INTO protect_migration (version) VALUES ($1)", time.Time{})
		if err != nil {
			return oops.New(err, "failed to insert initial migration row")
		}
	}

	currentVersion, err := getCurrentVersion(ctx, conn)
	if err != nil {
		return oops.New(err, "failed to get current version")
	}
	if currentVersion.IsZero() {
		fmt.Println("This is the first time you have run database migrations.")
	} else {
		fmt.Printf("Current version: %s\n", currentVersion.String())
	}

	allVersions := getSortedMigrationVersions()
	if targetVersion.IsZero() {
		targetVersion = allVersions[len(allVersions)-1]
	}

	currentIndex, targetIndex := -1, -1
	for i, version := range allVersions {
		if currentVersion.Equal(version) {
			currentIndex = i
		}
		if targetVersion.Equal(version) {
			targetIndex = i
		}
	}
	if targetIndex < 0 {
		return oops.New(nil, "could not find migration with version %v", targetVersion)
	}

	switch {
	case currentIndex < targetIndex:
		for i := currentIndex + 1; i <= targetIndex; i++ {
			version := allVersions[i]
			migration := migrations.All[version]
			fmt.Printf("Applying migration %v (%v)\n", version, migration.Name())
			if err := applyStep(ctx, conn, migration.Up, version); err != nil {
				return oops.New(err, "migration %v failed", version)
			}
		}
	case currentIndex > targetIndex:
		for i := currentIndex; i > targetIndex; i-- {
			version := allVersions[i]
			previousVersion := types.MigrationVersion{}
			if i > 0 {
				previousVersion = allVersions[i-1]
			}
			fmt.Printf("Rolling back migration %v\n", version)
			if err := applyStep(ctx, conn, migrations.All[version].Down, previousVersion); err != nil {
				return oops.New(err, "rollback of %v failed", version)
			}
		}
	default:
		fmt.Println("Already migrated; nothing to do.")
	}
	return nil
}

func applyStep(ctx context.Context, conn *pgx.Conn, step func(context.Context, pgx.Tx) error, newVersion types.MigrationVersion) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return oops.New(err, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	if err := step(ctx, tx); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "UPDATE protect_migration SET version = $1", time.Time(newVersion)); err != nil {
		return oops.New(err, "failed to update version in migrations table")
	}
	return tx.Commit(ctx)
}

const migrationTemplate = `package migrations

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/odysseia/protect/src/migration/types"
)

func init() {
	registerMigration(%NAME%{})
}

type %NAME% struct{}

func (m %NAME%) Version() types.MigrationVersion {
	return types.MigrationVersion(%DATE%)
}

func (m %NAME%) Name() string {
	return "%NAME%"
}

func (m %NAME%) Description() string {
	return %DESCRIPTION%
}

func (m %NAME%) Up(ctx context.Context, tx pgx.Tx) error {
	panic("Implement me")
}

func (m %NAME%) Down(ctx context.Context, tx pgx.Tx) error {
	panic("Implement me")
}
`

// MakeMigration writes a new migration stub into src/migration/migrations and
// returns its path.
func MakeMigration(name, description string, now time.Time) (string, error) {
	now = now.UTC()
	return writeMigration(filepath.Join("src", "migration", "migrations"), renderMigration(name, description, now), name, now)
}

func renderMigration(name, description string, now time.Time) string {
	result := migrationTemplate
	result = strings.ReplaceAll(result, "%NAME%", name)
	result = strings.ReplaceAll(result, "%DESCRIPTION%", fmt.Sprintf("%#v", description))
	nowConstructor := fmt.Sprintf("time.Date(%d, %d, %d, %d, %d, %d, 0, time.UTC)", now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute(), now.Second())
	return strings.ReplaceAll(result, "%DATE%", nowConstructor)
}

func writeMigration(dir, contents, name string, now time.Time) (string, error) {
	safeVersion := strings.ReplaceAll(types.MigrationVersion(now).String(), ":", "")
	path := filepath.Join(dir, fmt.Sprintf("%v_%v.go", safeVersion, name))
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		return "", oops.New(err, "failed to write migration file")
	}
	return path, nil
}
