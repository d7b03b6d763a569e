package main

import (
	"fmt"
	"os"

	"creditledger/internal/config"
	"creditledger/internal/infrastructure/database"
	"creditledger/internal/infrastructure/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:          "creditledger",
		Short:        "Credit ledger and admin audit service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "配置文件路径")

	root.AddCommand(
		serveCommand(&configPath),
		migrateCommand(&configPath),
		adminCommand(&configPath),
		creditsCommand(&configPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap 加载配置、日志、数据库，所有子命令共用
func bootstrap(configPath string) (*config.Config, *zap.Logger, *gorm.DB, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		return nil, nil, nil, err
	}

	db, err := database.Open(&cfg.Database, log)
	if err != nil {
		return nil, nil, nil, err
	}

	return cfg, log, db, nil
}
