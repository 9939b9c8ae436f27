package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/config"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/store"
)

// migrateCmd applies the store's schema to data_dir/subtrans.db, creating
// the file if absent. store.Open runs every CREATE TABLE/INDEX statement
// with IF NOT EXISTS, so this is also the safe way to bring an existing
// database up to date after an upgrade.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "create or update the sqlite database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()

		cfg, err := config.LoadSettings()
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("creating data dir: %w", err)
		}

		dbPath := filepath.Join(cfg.DataDir, "subtrans.db")
		if _, err := store.Open(dbPath, log); err != nil {
			return fmt.Errorf("opening/migrating store: %w", err)
		}
		log.Info().Str("path", dbPath).Msg("schema is up to date")
		return nil
	},
}
