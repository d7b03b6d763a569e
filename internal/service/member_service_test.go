package service

import (
	"context"
	"errors"
	"testing"

	"creditledger/internal/apperr"
	"creditledger/internal/infrastructure/metrics"
	"creditledger/internal/model"
	"creditledger/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newMemberFixture(t *testing.T) (*MemberService, *gorm.DB) {
	t.Helper()

	db := testutil.NewDB(t)
	_, rdb := testutil.NewRedis(t)
	cfg := testutil.Config()

	audit := NewAuditService(db, cfg, zap.NewNop())
	ledger := NewLedgerService(db, rdb, audit, cfg, zap.NewNop(), metrics.New())
	return NewMemberService(db, ledger, audit, cfg, zap.NewNop()), db
}

func TestCreateMemberGrantsAndAudits(t *testing.T) {
	svc, db := newMemberFixture(t)

	member, err := svc.CreateMember(context.Background(), adminSession(), CreateMemberRequest{
		Email:          "alice@example.com",
		Nickname:       "alice",
		InitialCredits: 200,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(200), member.Balance)

	var balance model.CreditBalance
	require.NoError(t, db.Where("user_id = ?", member.User.ID).First(&balance).Error)
	assert.Equal(t, int64(200), balance.Balance)

	var trans model.CreditTransaction
	require.NoError(t, db.Where("user_id = ?", member.User.ID).First(&trans).Error)
	assert.Equal(t, model.TransactionTypeInitialGrant, trans.Type)
	assert.Equal(t, model.AuditStatusRecorded, trans.AuditStatus)

	var entry model.AdminOperationLog
	require.NoError(t, db.Where("operation_type = ?", model.OperationCreateMember).First(&entry).Error)
	assert.Equal(t, "alice@example.com", entry.TargetEmail)
	assert.Equal(t, int64(200), entry.CreditAmount)
	assert.Equal(t, int64(0), entry.BeforeBalance)
	assert.Equal(t, int64(200), entry.AfterBalance)
}

func TestCreateMemberWithoutCredits(t *testing.T) {
	svc, db := newMemberFixture(t)

	member, err := svc.CreateMember(context.Background(), adminSession(), CreateMemberRequest{Phone: "13800000000"})
	require.NoError(t, err)

	// 0 额 INITIAL_GRANT 作为审计对账标记
	var trans model.CreditTransaction
	require.NoError(t, db.Where("user_id = ?", member.User.ID).First(&trans).Error)
	assert.Equal(t, model.TransactionTypeInitialGrant, trans.Type)
	assert.Zero(t, trans.Amount)
	assert.Equal(t, model.AuditStatusRecorded, trans.AuditStatus)

	got, err := svc.GetMember(context.Background(), member.User.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Balance)
}

func TestCreateMemberValidation(t *testing.T) {
	svc, _ := newMemberFixture(t)
	ctx := context.Background()

	_, err := svc.CreateMember(ctx, adminSession(), CreateMemberRequest{})
	assert.Equal(t, apperr.TypeValidation, apperr.From(err).Type)

	_, err = svc.CreateMember(ctx, adminSession(), CreateMemberRequest{Email: "a@b.c", InitialCredits: -1})
	assert.True(t, errors.Is(err, apperr.ErrInvalidAmount))

	_, err = svc.CreateMember(ctx, adminSession(), CreateMemberRequest{Email: "a@b.c"})
	require.NoError(t, err)
	_, err = svc.CreateMember(ctx, adminSession(), CreateMemberRequest{Email: "a@b.c"})
	assert.True(t, errors.Is(err, apperr.ErrMemberExists))
}

func TestSetDisabled(t *testing.T) {
	svc, db := newMemberFixture(t)
	ctx := context.Background()

	member, err := svc.CreateMember(ctx, adminSession(), CreateMemberRequest{Email: "bob@example.com"})
	require.NoError(t, err)

	require.NoError(t, svc.SetDisabled(ctx, adminSession(), member.User.ID, true))

	var user model.User
	require.NoError(t, db.First(&user, member.User.ID).Error)
	assert.True(t, user.Disabled)

	// 重复设置同一个值不报错
	require.NoError(t, svc.SetDisabled(ctx, adminSession(), member.User.ID, true))

	err = svc.SetDisabled(ctx, adminSession(), 9999, true)
	assert.True(t, errors.Is(err, apperr.ErrUserNotFound))
}

func TestSearchMembers(t *testing.T) {
	svc, _ := newMemberFixture(t)
	ctx := context.Background()

	for _, email := range []string{"carol@example.com", "dave@example.com", "carl@test.org"} {
		_, err := svc.CreateMember(ctx, adminSession(), CreateMemberRequest{Email: email})
		require.NoError(t, err)
	}

	users, err := svc.Search(ctx, "car", 0)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	users, err = svc.Search(ctx, "example", 1)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	_, err = svc.Search(ctx, "c", 10)
	require.Error(t, err)
	assert.Equal(t, "QUERY_TOO_SHORT", apperr.From(err).Code)
}
