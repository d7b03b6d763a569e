package main

import (
	"creditledger/internal/infrastructure/database"

	"github.com/spf13/cobra"
)

func migrateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "自动迁移表结构",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, log, db, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if err := database.Migrate(db); err != nil {
				return err
			}
			log.Info("表结构迁移完成")
			return nil
		},
	}
}
