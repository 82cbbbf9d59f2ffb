package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nao1215/ecohome/internal/config"
	"github.com/nao1215/ecohome/internal/database"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "データベースのマイグレーションを適用する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			db, err := database.Open(cmd.Context(), cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := database.Migrate(cmd.Context(), db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d件のマイグレーションを適用しました: %s\n", applied, cfg.DatabasePath)
			return nil
		},
	}
}
