package services

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"club-tournament-backend/models"
	"club-tournament-backend/payment"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens an isolated in-memory database with the same schema and
// partial unique index as production.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:testdb_%s?mode=memory&cache=shared", uuid.NewString())
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
	require.NoError(t, db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS udx_applications_active
		 ON applications (player_id, tournament_id)
		 WHERE status IN ('PENDING', 'APPROVED', 'WAITLIST')`,
	).Error)
	return db
}

// stubProvider lets each test script the provider's behavior per call.
type stubProvider struct {
	simulated   bool
	prepay      func(payment.PrepayRequest) (*payment.Params, error)
	queryOrder  func(string) (payment.OrderState, error)
	refund      func(payment.RefundRequest) error
	queryRefund func(string) (payment.RefundState, error)
}

func (s *stubProvider) Simulated() bool { return s.simulated }

func (s *stubProvider) Prepay(_ context.Context, req payment.PrepayRequest) (*payment.Params, error) {
	if s.prepay != nil {
		return s.prepay(req)
	}
	return &payment.Params{Package: "prepay_id=stub"}, nil
}

func (s *stubProvider) QueryOrder(_ context.Context, outTradeNo string) (payment.OrderState, error) {
	if s.queryOrder != nil {
		return s.queryOrder(outTradeNo)
	}
	return payment.OrderStateNotPay, nil
}

func (s *stubProvider) ParseNotify(context.Context, *http.Request) (*payment.Notification, error) {
	return nil, fmt.Errorf("stub provider does not parse notifications")
}

func (s *stubProvider) Refund(_ context.Context, req payment.RefundRequest) error {
	if s.refund != nil {
		return s.refund(req)
	}
	return nil
}

func (s *stubProvider) QueryRefund(_ context.Context, outRefundNo string) (payment.RefundState, error) {
	if s.queryRefund != nil {
		return s.queryRefund(outRefundNo)
	}
	return payment.RefundStateSuccess, nil
}

func seedPlayer(t *testing.T, db *gorm.DB, name string) *models.Player {
	t.Helper()
	p := &models.Player{
		ID:     uuid.NewString(),
		OpenID: "openid-" + uuid.NewString(),
		Name:   name,
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

func seedTournament(t *testing.T, db *gorm.DB, drawSize int, fee float64, startsIn time.Duration) *models.Tournament {
	t.Helper()
	tt := &models.Tournament{
		ID:        uuid.NewString(),
		Name:      "Spring Open",
		StartTime: time.Now().Add(startsIn),
		DrawSize:  drawSize,
		Fee:       fee,
		Status:    models.TournamentPending,
	}
	require.NoError(t, db.Create(tt).Error)
	return tt
}

func seedPaidOrder(t *testing.T, db *gorm.DB, playerID, tournamentID string, amount float64) *models.Order {
	t.Helper()
	now := time.Now()
	o := &models.Order{
		ID:           uuid.NewString(),
		OrderNo:      fmt.Sprintf("T%d%04d", now.UnixNano(), len(playerID)),
		PlayerID:     playerID,
		TournamentID: tournamentID,
		Amount:       amount,
		Status:       models.OrderPaid,
		RefundStatus: models.RefundNone,
		PaidAt:       &now,
	}
	require.NoError(t, db.Create(o).Error)
	return o
}

func appStatus(t *testing.T, db *gorm.DB, playerID, tournamentID string) string {
	t.Helper()
	var app models.Application
	err := db.Where("player_id = ? AND tournament_id = ?", playerID, tournamentID).
		Order("queued_at DESC").
		First(&app).Error
	require.NoError(t, err)
	return app.Status
}
