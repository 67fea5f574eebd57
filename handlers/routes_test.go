package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"club-tournament-backend/models"
	"club-tournament-backend/payment"
	"club-tournament-backend/services"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type stubProvider struct{}

func (*stubProvider) Simulated() bool { return false }

func (*stubProvider) Prepay(context.Context, payment.PrepayRequest) (*payment.Params, error) {
	return nil, fmt.Errorf("not scripted")
}

func (*stubProvider) QueryOrder(context.Context, string) (payment.OrderState, error) {
	return payment.OrderStateNotPay, nil
}

func (*stubProvider) ParseNotify(context.Context, *http.Request) (*payment.Notification, error) {
	return nil, fmt.Errorf("signature verification failed")
}

func (*stubProvider) Refund(context.Context, payment.RefundRequest) error { return nil }

func (*stubProvider) QueryRefund(context.Context, string) (payment.RefundState, error) {
	return payment.RefundStateProcessing, nil
}

// newTestApp wires every route group in the same order as main.go, so
// middleware scoping bugs between handler files show up here.
func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	dsn := fmt.Sprintf("file:routes_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Player{},
		&models.AdminUser{},
		&models.Tournament{},
		&models.TournamentResult{},
		&models.Application{},
		&models.AuditLog{},
		&models.Order{},
		&models.MatchGame{},
	))

	provider := &stubProvider{}
	app := fiber.New()
	SetupAuthRoutes(app, services.NewAuthService(db))
	SetupAdminRoutes(app, services.NewAdminService(db))
	SetupTournamentRoutes(app, services.NewTournamentService(db))
	SetupApplicationRoutes(app, services.NewRegistrationService(db, provider))
	SetupOrderRoutes(app, services.NewOrderService(db, provider))
	SetupGameRoutes(app, services.NewGameService(db))
	return app
}

func jsonRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// The payment provider authenticates by message signature, not by JWT, and
// retries on anything but 200. The webhook must answer 200 with no token even
// when verification rejects the payload.
func TestPaymentWebhookNeedsNoToken(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/orders/notify"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"SUCCESS"`)
}

func TestPublicReadsNeedNoToken(t *testing.T) {
	app := newTestApp(t)
	paths := []string{
		"/api/tournaments",
		"/api/rankings",
		"/api/tournaments/some-id/games",
		"/api/tournaments/some-id/participants",
	}
	for _, path := range paths {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestLoginRoutesNeedNoToken(t *testing.T) {
	app := newTestApp(t)

	// Empty bodies reach the handlers and fail validation there, which proves
	// no auth middleware intercepted the request first.
	for _, path := range []string{"/api/auth/login", "/api/admin/login"} {
		resp, err := app.Test(jsonRequest(http.MethodPost, path))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
	}
}

func TestSecuredRoutesRejectMissingToken(t *testing.T) {
	app := newTestApp(t)
	cases := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/application/submit"},
		{http.MethodGet, "/api/applications/mine"},
		{http.MethodPost, "/api/orders/create"},
		{http.MethodPost, "/api/orders/pay"},
		{http.MethodGet, "/api/orders/any/status"},
		{http.MethodPost, "/api/players/avatar"},
		{http.MethodGet, "/api/players/search"},
		{http.MethodGet, "/api/admin/audit-logs"},
		{http.MethodPost, "/api/admin/users"},
		{http.MethodPost, "/api/admin/games"},
		{http.MethodPut, "/api/games/some-id/score"},
	}
	for _, tc := range cases {
		resp, err := app.Test(jsonRequest(tc.method, tc.path))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "%s %s", tc.method, tc.path)
	}
}
