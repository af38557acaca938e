package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/firechair/knowledge-console/db"
	"github.com/firechair/knowledge-console/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		if err := db.Migrate(cfg.ConnURL()); err != nil {
			return err
		}
		newLogger().Info("migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
