package bootstrap

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/guregu/null/v6"
	"github.com/krobus00/composite-order-service/internal/config"
	"github.com/krobus00/composite-order-service/internal/util"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
)

const migrationRoot = "migration/postgresql"

func StartMigrate(cmd *cobra.Command, args []string) {
	databaseName, _ := cmd.Flags().GetString("databaseName")
	actionType, _ := cmd.Flags().GetString("action")
	migrationName, _ := cmd.Flags().GetString("name")
	version, _ := cmd.Flags().GetInt64("version")

	dbCfg, ok := config.Env.Database[databaseName]
	if !ok {
		util.ContinueOrFatal(fmt.Errorf("database %q is not configured", databaseName))
	}

	migrationDir := filepath.Join(migrationRoot, databaseName)

	db, err := sql.Open("postgres", dbCfg.DSN)
	util.ContinueOrFatal(err)
	defer db.Close()

	err = goose.SetDialect("postgres")
	util.ContinueOrFatal(err)

	util.ContinueOrFatal(runMigration(db, migrationDir, actionType, migrationName, null.IntFrom(version)))
}

func runMigration(db *sql.DB, migrationDir, actionType, migrationName string, version null.Int) error {
	switch actionType {
	case "create":
		if migrationName == "" {
			return errors.New("migration name is required")
		}
		return goose.Create(db, migrationDir, migrationName, "sql")
	case "up":
		return goose.Up(db, migrationDir, goose.WithAllowMissing())
	case "up-by-one":
		return goose.UpByOne(db, migrationDir, goose.WithAllowMissing())
	case "up-to":
		return goose.UpTo(db, migrationDir, version.Int64, goose.WithAllowMissing())
	case "down":
		return goose.Down(db, migrationDir, goose.WithAllowMissing())
	case "down-to":
		return goose.DownTo(db, migrationDir, version.Int64, goose.WithAllowMissing())
	case "status":
		return goose.Status(db, migrationDir)
	case "reset":
		if err := goose.Reset(db, migrationDir, goose.WithAllowMissing()); err != nil {
			return err
		}
		return goose.Up(db, migrationDir, goose.WithAllowMissing())
	default:
		return fmt.Errorf("invalid migration action %q", actionType)
	}
}
