package workers

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"club-tournament-backend/models"
	"club-tournament-backend/payment"
	"club-tournament-backend/services"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type stubProvider struct {
	queryOrder  func(string) (payment.OrderState, error)
	queryRefund func(string) (payment.RefundState, error)
}

func (s *stubProvider) Simulated() bool { return false }

func (s *stubProvider) Prepay(context.Context, payment.PrepayRequest) (*payment.Params, error) {
	return nil, fmt.Errorf("not scripted")
}

func (s *stubProvider) QueryOrder(_ context.Context, outTradeNo string) (payment.OrderState, error) {
	if s.queryOrder != nil {
		return s.queryOrder(outTradeNo)
	}
	return payment.OrderStateNotPay, nil
}

func (s *stubProvider) ParseNotify(context.Context, *http.Request) (*payment.Notification, error) {
	return nil, fmt.Errorf("not scripted")
}

func (s *stubProvider) Refund(context.Context, payment.RefundRequest) error { return nil }

func (s *stubProvider) QueryRefund(_ context.Context, outRefundNo string) (payment.RefundState, error) {
	if s.queryRefund != nil {
		return s.queryRefund(outRefundNo)
	}
	return payment.RefundStateProcessing, nil
}

func newReconciler(t *testing.T, provider payment.Provider) *Reconciler {
	t.Helper()
	dsn := fmt.Sprintf("file:reconcile_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Player{},
		&models.Tournament{},
		&models.Application{},
		&models.Order{},
	))
	reg := services.NewRegistrationService(db, provider)
	ord := services.NewOrderService(db, provider)
	return NewReconciler(db, provider, reg, ord)
}

func seedInDoubtRefund(t *testing.T, db *gorm.DB, age time.Duration) (*models.Order, *models.Application, *models.Tournament) {
	t.Helper()
	tt := &models.Tournament{
		ID:        uuid.NewString(),
		Name:      "Autumn Cup",
		StartTime: time.Now().Add(72 * time.Hour),
		DrawSize:  1,
		Fee:       50,
	}
	require.NoError(t, db.Create(tt).Error)

	playerID := uuid.NewString()
	require.NoError(t, db.Create(&models.Player{
		ID: playerID, OpenID: "openid-" + playerID, Name: "Alice",
	}).Error)

	requestedAt := time.Now().Add(-age)
	paidAt := time.Now().Add(-time.Hour)
	order := &models.Order{
		ID:                uuid.NewString(),
		OrderNo:           "T" + uuid.NewString(),
		PlayerID:          playerID,
		TournamentID:      tt.ID,
		Amount:            50,
		Status:            models.OrderPaid,
		RefundNo:          "R" + uuid.NewString(),
		RefundStatus:      models.RefundRequested,
		RefundRequestedAt: &requestedAt,
		PaidAt:            &paidAt,
	}
	require.NoError(t, db.Create(order).Error)

	app := &models.Application{
		ID:           uuid.NewString(),
		PlayerID:     playerID,
		TournamentID: tt.ID,
		Status:       models.ApplicationApproved,
		QueuedAt:     time.Now().Add(-time.Hour),
	}
	require.NoError(t, db.Create(app).Error)
	return order, app, tt
}

func TestSettleInDoubtRefundCompletesCancellation(t *testing.T) {
	provider := &stubProvider{queryRefund: func(string) (payment.RefundState, error) {
		return payment.RefundStateSuccess, nil
	}}
	r := newReconciler(t, provider)
	order, app, tt := seedInDoubtRefund(t, r.DB, time.Hour)

	// A waitlisted entrant should inherit the freed seat.
	waiterID := uuid.NewString()
	require.NoError(t, r.DB.Create(&models.Player{
		ID: waiterID, OpenID: "openid-" + waiterID, Name: "Bob",
	}).Error)
	require.NoError(t, r.DB.Create(&models.Application{
		ID:           uuid.NewString(),
		PlayerID:     waiterID,
		TournamentID: tt.ID,
		Status:       models.ApplicationWaitlist,
		QueuedAt:     time.Now().Add(-30 * time.Minute),
	}).Error)

	r.SettleInDoubtRefunds(context.Background())

	var gotOrder models.Order
	require.NoError(t, r.DB.First(&gotOrder, "id = ?", order.ID).Error)
	assert.Equal(t, models.OrderRefunded, gotOrder.Status)
	assert.Equal(t, models.RefundSucceeded, gotOrder.RefundStatus)

	var gotApp models.Application
	require.NoError(t, r.DB.First(&gotApp, "id = ?", app.ID).Error)
	assert.Equal(t, models.ApplicationCancelled, gotApp.Status)

	var promoted models.Application
	require.NoError(t, r.DB.First(&promoted, "player_id = ?", waiterID).Error)
	assert.Equal(t, models.ApplicationApproved, promoted.Status)
}

func TestSettleInDoubtRefundAbnormalMarksFailed(t *testing.T) {
	provider := &stubProvider{queryRefund: func(string) (payment.RefundState, error) {
		return payment.RefundStateAbnormal, nil
	}}
	r := newReconciler(t, provider)
	order, app, _ := seedInDoubtRefund(t, r.DB, time.Hour)

	r.SettleInDoubtRefunds(context.Background())

	var gotOrder models.Order
	require.NoError(t, r.DB.First(&gotOrder, "id = ?", order.ID).Error)
	assert.Equal(t, models.OrderPaid, gotOrder.Status)
	assert.Equal(t, models.RefundFailed, gotOrder.RefundStatus)

	// The player keeps the seat until an operator sorts it out.
	var gotApp models.Application
	require.NoError(t, r.DB.First(&gotApp, "id = ?", app.ID).Error)
	assert.Equal(t, models.ApplicationApproved, gotApp.Status)
}

func TestSettleInDoubtRefundProcessingWaits(t *testing.T) {
	provider := &stubProvider{queryRefund: func(string) (payment.RefundState, error) {
		return payment.RefundStateProcessing, nil
	}}
	r := newReconciler(t, provider)
	order, _, _ := seedInDoubtRefund(t, r.DB, time.Hour)

	r.SettleInDoubtRefunds(context.Background())

	var gotOrder models.Order
	require.NoError(t, r.DB.First(&gotOrder, "id = ?", order.ID).Error)
	assert.Equal(t, models.RefundRequested, gotOrder.RefundStatus)
}

func TestSettleInDoubtRefundsSkipsRecentIntents(t *testing.T) {
	queried := 0
	provider := &stubProvider{queryRefund: func(string) (payment.RefundState, error) {
		queried++
		return payment.RefundStateSuccess, nil
	}}
	r := newReconciler(t, provider)
	seedInDoubtRefund(t, r.DB, 10*time.Second) // inside the grace period

	r.SettleInDoubtRefunds(context.Background())
	assert.Zero(t, queried)
}

func TestSettleStaleOrders(t *testing.T) {
	provider := &stubProvider{queryOrder: func(outTradeNo string) (payment.OrderState, error) {
		if outTradeNo == "T-paid-upstream" {
			return payment.OrderStateSuccess, nil
		}
		return payment.OrderStateClosed, nil
	}}
	r := newReconciler(t, provider)

	tt := &models.Tournament{
		ID:        uuid.NewString(),
		Name:      "Winter Masters",
		StartTime: time.Now().Add(72 * time.Hour),
		Fee:       50,
	}
	require.NoError(t, r.DB.Create(tt).Error)
	playerID := uuid.NewString()
	require.NoError(t, r.DB.Create(&models.Player{
		ID: playerID, OpenID: "openid-" + playerID, Name: "Alice",
	}).Error)

	old := time.Now().Add(-25 * time.Hour)
	paidUpstream := &models.Order{
		ID: uuid.NewString(), OrderNo: "T-paid-upstream",
		PlayerID: playerID, TournamentID: tt.ID, Amount: 50,
		Status: models.OrderPending, CreatedAt: old,
	}
	abandoned := &models.Order{
		ID: uuid.NewString(), OrderNo: "T-abandoned",
		PlayerID: uuid.NewString(), TournamentID: tt.ID, Amount: 50,
		Status: models.OrderPending, CreatedAt: old,
	}
	fresh := &models.Order{
		ID: uuid.NewString(), OrderNo: "T-fresh",
		PlayerID: uuid.NewString(), TournamentID: tt.ID, Amount: 50,
		Status: models.OrderPending,
	}
	require.NoError(t, r.DB.Create(&[]*models.Order{paidUpstream, abandoned, fresh}).Error)

	r.SettleStaleOrders(context.Background())

	// Fresh destination per lookup: a reused struct would feed its primary
	// key back into the next WHERE clause.
	var reconciled models.Order
	require.NoError(t, r.DB.First(&reconciled, "order_no = ?", "T-paid-upstream").Error)
	assert.Equal(t, models.OrderPaid, reconciled.Status)

	var cancelled models.Order
	require.NoError(t, r.DB.First(&cancelled, "order_no = ?", "T-abandoned").Error)
	assert.Equal(t, models.OrderCancelled, cancelled.Status)

	var untouched models.Order
	require.NoError(t, r.DB.First(&untouched, "order_no = ?", "T-fresh").Error)
	assert.Equal(t, models.OrderPending, untouched.Status)
}
