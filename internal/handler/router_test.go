package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"creditledger/internal/config"
	"creditledger/internal/infrastructure/metrics"
	"creditledger/internal/model"
	"creditledger/internal/service"
	"creditledger/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type routerFixture struct {
	router *gin.Engine
	db     *gorm.DB
	mr     *miniredis.Miniredis
	cfg    *config.Config
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	db := testutil.NewDB(t)
	mr, rdb := testutil.NewRedis(t)
	cfg := testutil.Config()
	log := zap.NewNop()

	admins := service.NewSessionService(db, nil, nil, cfg, log, metrics.New())
	_, err := admins.CreateAdmin(context.Background(), "root", "correct-horse")
	require.NoError(t, err)

	return &routerFixture{
		router: SetupRouter(db, rdb, cfg, log, metrics.New()),
		db:     db,
		mr:     mr,
		cfg:    cfg,
	}
}

func (f *routerFixture) do(method, path string, body interface{}, cookie *http.Cookie) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *routerFixture) login(t *testing.T) *http.Cookie {
	t.Helper()
	w := f.do(http.MethodPost, "/admin/auth/login", gin.H{"username": "root", "password": "correct-horse"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return sessionCookie(t, w, f.cfg.Session.CookieName)
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("cookie %s not set", name)
	return nil
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestLoginRejectsBadInput(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(http.MethodPost, "/admin/auth/login", gin.H{"username": "root"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "MISSING_CREDENTIALS", decode(t, w)["code"])

	w = f.do(http.MethodPost, "/admin/auth/login", gin.H{"username": "root", "password": "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", decode(t, w)["code"])
	assert.Empty(t, w.Result().Cookies())
}

func TestLoginSessionLogout(t *testing.T) {
	f := newRouterFixture(t)

	cookie := f.login(t)
	assert.NotEmpty(t, cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.Equal(t, int(f.cfg.Session.TTL.Seconds()), cookie.MaxAge)

	w := f.do(http.MethodGet, "/admin/auth/session", nil, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "root", data["username"])

	w = f.do(http.MethodPost, "/admin/auth/logout", nil, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	cleared := sessionCookie(t, w, f.cfg.Session.CookieName)
	assert.Empty(t, cleared.Value)
	assert.Negative(t, cleared.MaxAge)

	// 登出后旧 token 失效
	w = f.do(http.MethodGet, "/admin/audit/alerts", nil, cookie)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var count int64
	require.NoError(t, f.db.Model(&model.AdminOperationLog{}).
		Where("operation_type IN ?", []string{model.OperationLogin, model.OperationLogout}).
		Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestAdminRoutesRequireSession(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(http.MethodGet, "/admin/audit/alerts", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "NOT_AUTHENTICATED", decode(t, w)["code"])

	w = f.do(http.MethodGet, "/admin/audit/alerts", nil, &http.Cookie{Name: f.cfg.Session.CookieName, Value: "forged"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdjustAndAlerts(t *testing.T) {
	f := newRouterFixture(t)
	cookie := f.login(t)

	require.NoError(t, f.db.Create(&model.CreditBalance{UserID: 3, Balance: 10}).Error)

	w := f.do(http.MethodPost, "/admin/members/credits", gin.H{"user_id": 3, "amount": -10, "description": "清零"}, cookie)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, float64(10), data["before_balance"])
	assert.Equal(t, float64(0), data["after_balance"])

	w = f.do(http.MethodPost, "/admin/members/credits", gin.H{"user_id": 3, "amount": -1}, cookie)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "INVALID_ADJUSTMENT", decode(t, w)["code"])

	w = f.do(http.MethodGet, "/admin/audit/alerts?risk_level=low", nil, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	alerts := body["alerts"].([]interface{})
	require.Len(t, alerts, 1)
	assert.Equal(t, float64(-10), alerts[0].(map[string]interface{})["credit_amount"])

	w = f.do(http.MethodGet, "/admin/audit/alerts?page=abc", nil, cookie)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDisableMemberValidation(t *testing.T) {
	f := newRouterFixture(t)
	cookie := f.login(t)

	w := f.do(http.MethodPost, "/admin/members/disable", gin.H{"user_id": 1}, cookie)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_PARAMS", decode(t, w)["code"])

	w = f.do(http.MethodPost, "/admin/members/disable", gin.H{"user_id": 404, "disabled": true}, cookie)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "USER_NOT_FOUND", decode(t, w)["code"])
}

func TestRatesFallBackToDefaults(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(http.MethodGet, "/credits/deduction-rate", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(5), body["deduction_rate"])

	w = f.do(http.MethodGet, "/credits/image-generation-rate", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(50), decode(t, w)["rate"])
}

func TestDeductIsRateLimited(t *testing.T) {
	f := newRouterFixture(t)
	require.NoError(t, f.db.Create(&model.CreditBalance{UserID: 9, Balance: 1000}).Error)

	limit := int(f.cfg.RateLimit.MaxRequests)
	for i := 0; i < limit; i++ {
		w := f.do(http.MethodPost, "/credits/deduct", gin.H{
			"request_id":  fmt.Sprintf("req-%d", i),
			"user_id":     9,
			"action_type": service.ActionTextGeneration,
		}, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w := f.do(http.MethodPost, "/credits/deduct", gin.H{
		"request_id":  "req-over",
		"user_id":     9,
		"action_type": service.ActionTextGeneration,
	}, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", decode(t, w)["code"])

	var balance model.CreditBalance
	require.NoError(t, f.db.Where("user_id = ?", 9).First(&balance).Error)
	assert.Equal(t, int64(1000-5*limit), balance.Balance)
}

func TestRateLimitWindowAlwaysExpires(t *testing.T) {
	f := newRouterFixture(t)
	key := "ratelimit:/credits/deduct:192.0.2.1"
	body := gin.H{"request_id": "req-1", "user_id": 9, "action_type": service.ActionTextGeneration}

	f.do(http.MethodPost, "/credits/deduct", body, nil)
	assert.Equal(t, f.cfg.RateLimit.Window, f.mr.TTL(key))

	// 计数 key 残留且没有过期时间，下一次请求补上窗口
	f.mr.Del(key)
	require.NoError(t, f.mr.Set(key, fmt.Sprintf("%d", f.cfg.RateLimit.MaxRequests)))
	require.Zero(t, f.mr.TTL(key))

	w := f.do(http.MethodPost, "/credits/deduct", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, f.cfg.RateLimit.Window, f.mr.TTL(key))

	f.mr.FastForward(f.cfg.RateLimit.Window)
	w = f.do(http.MethodPost, "/credits/deduct", body, nil)
	assert.NotEqual(t, http.StatusTooManyRequests, w.Code)
}
