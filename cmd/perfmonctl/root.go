package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/perfmon-backend/internal/config"
	"github.com/tbourn/perfmon-backend/internal/repo"
	"github.com/tbourn/perfmon-backend/internal/sysutil"
)

type rootOptions struct {
	DBPath string
	Actor  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "perfmonctl",
		Short:         "Administer the perfmon database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "SQLite path (default: DB_PATH)")
	cmd.PersistentFlags().StringVar(&opts.Actor, "actor", "cli", "actor recorded on audit rows")

	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newImportCmd(opts))
	cmd.AddCommand(newTemplateCmd())
	cmd.AddCommand(newRecomputeCmd(opts))
	cmd.AddCommand(newDQCmd(opts))
	return cmd
}

// load reads the configuration, sets up logging and opens the migrated
// database.
func (o *rootOptions) load() (config.Config, *gorm.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, err
	}
	sysutil.SetupLogger(cfg.LogLevel, true, nil, "perfmonctl")
	cfg.DBPath = sysutil.FirstNonEmpty(o.DBPath, cfg.DBPath)
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return cfg, nil, err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return cfg, nil, err
	}
	return cfg, db, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
