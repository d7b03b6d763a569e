package service

import (
	"context"
	"encoding/json"
	"testing"

	"creditledger/internal/apperr"
	"creditledger/internal/model"
	"creditledger/internal/reqctx"
	"creditledger/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newAuditFixture(t *testing.T) (*AuditService, *gorm.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	return NewAuditService(db, testutil.Config(), zap.NewNop()), db
}

func recordAdjust(t *testing.T, svc *AuditService, amount int64) {
	t.Helper()
	userID := int64(1)
	require.NoError(t, svc.Record(context.Background(), &model.AdminOperationLog{
		OperationType: model.OperationAdjustCredits,
		AdminUsername: "root",
		TargetUserID:  &userID,
		CreditAmount:  amount,
		BeforeBalance: 10_000,
		AfterBalance:  10_000 + amount,
	}))
}

func alertAmounts(alerts []*model.AuditAlert) []int64 {
	out := make([]int64, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, a.CreditAmount)
	}
	return out
}

func TestListAlertsOrderedByMagnitude(t *testing.T) {
	svc, _ := newAuditFixture(t)
	for _, amount := range []int64{5, 100, 20} {
		recordAdjust(t, svc, amount)
	}

	page, err := svc.ListAlerts(context.Background(), AlertQuery{})
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 20, 5}, alertAmounts(page.Alerts))
	assert.Equal(t, model.RiskLevelMedium, page.Alerts[0].RiskLevel)
	assert.Equal(t, model.RiskLevelLow, page.Alerts[2].RiskLevel)
	assert.Equal(t, Pagination{Page: 1, Limit: 20, Total: 3, TotalPages: 1}, page.Pagination)
}

func TestListAlertsRiskFilterUsesMagnitude(t *testing.T) {
	svc, _ := newAuditFixture(t)
	for _, amount := range []int64{-5000, 1000, 999, -150, 99} {
		recordAdjust(t, svc, amount)
	}

	high, err := svc.ListAlerts(context.Background(), AlertQuery{RiskLevel: "HIGH"})
	require.NoError(t, err)
	assert.Equal(t, []int64{-5000, 1000}, alertAmounts(high.Alerts))

	medium, err := svc.ListAlerts(context.Background(), AlertQuery{RiskLevel: "medium"})
	require.NoError(t, err)
	assert.Equal(t, []int64{999, -150}, alertAmounts(medium.Alerts))

	low, err := svc.ListAlerts(context.Background(), AlertQuery{RiskLevel: "LOW"})
	require.NoError(t, err)
	assert.Equal(t, []int64{99}, alertAmounts(low.Alerts))
	assert.Equal(t, int64(1), low.Pagination.Total)

	_, err = svc.ListAlerts(context.Background(), AlertQuery{RiskLevel: "CRITICAL"})
	require.Error(t, err)
	assert.Equal(t, "INVALID_RISK_LEVEL", apperr.From(err).Code)
}

func TestListAlertsPagination(t *testing.T) {
	svc, _ := newAuditFixture(t)
	for i := int64(1); i <= 5; i++ {
		recordAdjust(t, svc, i*10)
	}

	page, err := svc.ListAlerts(context.Background(), AlertQuery{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{30, 20}, alertAmounts(page.Alerts))
	assert.Equal(t, Pagination{Page: 2, Limit: 2, Total: 5, TotalPages: 3, HasNext: true, HasPrev: true}, page.Pagination)

	last, err := svc.ListAlerts(context.Background(), AlertQuery{Page: 3, Limit: 2})
	require.NoError(t, err)
	assert.False(t, last.Pagination.HasNext)
	assert.True(t, last.Pagination.HasPrev)

	capped, err := svc.ListAlerts(context.Background(), AlertQuery{Page: 0, Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, 1, capped.Pagination.Page)
	assert.Equal(t, 100, capped.Pagination.Limit)
}

func TestListAlertsIgnoresNonAdjustments(t *testing.T) {
	svc, _ := newAuditFixture(t)
	require.NoError(t, svc.RecordLogin(context.Background(), "root"))
	recordAdjust(t, svc, 50)

	page, err := svc.ListAlerts(context.Background(), AlertQuery{})
	require.NoError(t, err)
	assert.Len(t, page.Alerts, 1)
}

func TestRecordCapturesClientInfo(t *testing.T) {
	svc, db := newAuditFixture(t)

	ctx := reqctx.WithClientInfo(context.Background(), "10.0.0.8", "curl/8.0")
	require.NoError(t, svc.RecordLogin(ctx, "root"))
	require.NoError(t, svc.RecordLogout(context.Background(), "root"))

	var logs []model.AdminOperationLog
	require.NoError(t, db.Order("id ASC").Find(&logs).Error)
	require.Len(t, logs, 2)
	assert.Equal(t, model.OperationLogin, logs[0].OperationType)
	assert.Equal(t, "10.0.0.8", logs[0].IPAddress)
	assert.Equal(t, "curl/8.0", logs[0].UserAgent)
	assert.Zero(t, logs[0].CreditAmount)
	assert.Equal(t, "unknown", logs[1].IPAddress)
	assert.Equal(t, "unknown", logs[1].UserAgent)
}

func TestRecordRejectsInconsistentAdjustment(t *testing.T) {
	svc, _ := newAuditFixture(t)

	err := svc.Record(context.Background(), &model.AdminOperationLog{
		OperationType: model.OperationAdjustCredits,
		AdminUsername: "root",
		CreditAmount:  10,
		BeforeBalance: 0,
		AfterBalance:  20,
	})
	assert.Error(t, err)

	err = svc.Record(context.Background(), &model.AdminOperationLog{OperationType: "delete_member"})
	assert.Equal(t, "INVALID_OPERATION_TYPE", apperr.From(err).Code)
}

func TestRecordDuplicateReferenceIsIdempotent(t *testing.T) {
	svc, db := newAuditFixture(t)

	ref := "TXN-1"
	entry := func() *model.AdminOperationLog {
		r := ref
		return &model.AdminOperationLog{
			OperationType: model.OperationAdjustCredits,
			AdminUsername: "root",
			CreditAmount:  5,
			AfterBalance:  5,
			ReferenceNo:   &r,
		}
	}
	require.NoError(t, svc.Record(context.Background(), entry()))
	require.NoError(t, svc.Record(context.Background(), entry()))

	var count int64
	require.NoError(t, db.Model(&model.AdminOperationLog{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRecordWriteFailure(t *testing.T) {
	svc, db := newAuditFixture(t)
	require.NoError(t, db.Migrator().DropTable(&model.AdminOperationLog{}))

	err := svc.RecordLogin(context.Background(), "root")
	require.Error(t, err)
	assert.Equal(t, "AUDIT_WRITE_FAILED", apperr.From(err).Code)
}

func TestHighRiskAdjustmentQueuesAlert(t *testing.T) {
	db := testutil.NewDB(t)
	cfg := testutil.Config()
	cfg.Kafka.Enabled = true
	svc := NewAuditService(db, cfg, zap.NewNop())

	recordAdjust(t, svc, 50)
	recordAdjust(t, svc, -2000)

	var messages []model.OutboxMessage
	require.NoError(t, db.Find(&messages).Error)
	require.Len(t, messages, 1)
	assert.Equal(t, cfg.Kafka.Topic.AuditAlerts, messages[0].Topic)

	var event model.AuditAlertEvent
	require.NoError(t, json.Unmarshal([]byte(messages[0].Payload), &event))
	assert.Equal(t, int64(-2000), event.CreditAmount)
	assert.Equal(t, model.RiskLevelHigh, event.RiskLevel)
}

func TestListLogsFilters(t *testing.T) {
	svc, _ := newAuditFixture(t)
	require.NoError(t, svc.RecordLogin(context.Background(), "root"))
	require.NoError(t, svc.RecordLogin(context.Background(), "ops"))
	recordAdjust(t, svc, 10)

	page, err := svc.ListLogs(context.Background(), LogQuery{OperationType: model.OperationLogin})
	require.NoError(t, err)
	assert.Len(t, page.Logs, 2)

	page, err = svc.ListLogs(context.Background(), LogQuery{AdminUsername: "ops"})
	require.NoError(t, err)
	require.Len(t, page.Logs, 1)
	assert.Equal(t, "ops", page.Logs[0].AdminUsername)

	_, err = svc.ListLogs(context.Background(), LogQuery{OperationType: "bogus"})
	assert.Error(t, err)
}
