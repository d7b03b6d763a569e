package main

import (
	"errors"
	"fmt"
	"os"

	"creditledger/internal/infrastructure/metrics"
	"creditledger/internal/service"
	"creditledger/pkg/idgen"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func adminCommand(configPath *string) *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "管理员账号",
	}

	var username, pwd string
	create := &cobra.Command{
		Use:   "create",
		Short: "创建管理员账号",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if pwd == "" {
				pwd = os.Getenv("CREDITLEDGER_ADMIN_PASSWORD")
			}

			cfg, log, db, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			// 建账号不需要会话存储和审计
			sessions := service.NewSessionService(db, nil, nil, cfg, log, metrics.New())
			created, err := sessions.CreateAdmin(cmd.Context(), username, pwd)
			if err != nil {
				return err
			}

			log.Info("管理员已创建", zap.Int64("id", created.ID), zap.String("username", created.Username))
			return nil
		},
	}
	create.Flags().StringVarP(&username, "username", "u", "", "管理员用户名")
	create.Flags().StringVarP(&pwd, "password", "p", "", "密码，也可通过 CREDITLEDGER_ADMIN_PASSWORD 传入")
	_ = create.MarkFlagRequired("username")

	admin.AddCommand(create)
	return admin
}

func creditsCommand(configPath *string) *cobra.Command {
	credits := &cobra.Command{
		Use:   "credits",
		Short: "积分运维",
	}

	var (
		userID    int64
		amount    int64
		requestID string
		reason    string
	)
	grant := &cobra.Command{
		Use:   "grant",
		Short: "给用户发放积分（如注册奖励补发）",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID <= 0 || amount <= 0 {
				return errors.New("--user 和 --amount 必须为正数")
			}

			cfg, log, db, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if err := idgen.Init(int64(cfg.Server.WorkerID)); err != nil {
				return err
			}

			m := metrics.New()
			ledger := service.NewLedgerService(db, nil, service.NewAuditService(db, cfg, log), cfg, log, m)
			if _, err := ledger.EnsureBalance(cmd.Context(), userID, 0); err != nil {
				return err
			}
			result, err := ledger.Credit(cmd.Context(), service.CreditRequest{
				RequestID: requestID,
				UserID:    userID,
				Amount:    amount,
				Reason:    reason,
				Operator:  "cli",
			})
			if err != nil {
				return err
			}

			fmt.Printf("%s user=%d %d -> %d\n", result.TransactionNo, result.UserID, result.BalanceBefore, result.BalanceAfter)
			return nil
		},
	}
	grant.Flags().Int64Var(&userID, "user", 0, "用户ID")
	grant.Flags().Int64Var(&amount, "amount", 0, "发放积分")
	grant.Flags().StringVar(&requestID, "request-id", "", "幂等ID，重复执行不会重复发放")
	grant.Flags().StringVar(&reason, "reason", "运营发放", "原因")

	credits.AddCommand(grant)
	return credits
}
