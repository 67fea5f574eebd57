package services

import (
	"context"
	"testing"
	"time"

	"club-tournament-backend/models"
	"club-tournament-backend/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrderService(t *testing.T, provider payment.Provider) *OrderService {
	t.Helper()
	if provider == nil {
		provider = &stubProvider{}
	}
	return NewOrderService(newTestDB(t), provider)
}

func TestCreateOrderFreeTournament(t *testing.T) {
	svc := newOrderService(t, nil)
	p := seedPlayer(t, svc.DB, "Alice")
	tt := seedTournament(t, svc.DB, 0, 0, 48*time.Hour)

	_, err := svc.createOrder(context.Background(), p.ID, tt.ID)
	assert.ErrorIs(t, err, ErrNotApplicable)
}

func TestCreateOrderReusesOpenOrder(t *testing.T) {
	svc := newOrderService(t, nil)
	p := seedPlayer(t, svc.DB, "Alice")
	tt := seedTournament(t, svc.DB, 0, 50, 48*time.Hour)

	first, err := svc.createOrder(context.Background(), p.ID, tt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, first.Status)
	assert.Equal(t, 50.0, first.Amount)

	second, err := svc.createOrder(context.Background(), p.ID, tt.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	svc.DB.Model(&models.Order{}).
		Where("player_id = ? AND tournament_id = ?", p.ID, tt.ID).
		Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestApplyPaymentSuccessCreatesApplication(t *testing.T) {
	svc := newOrderService(t, nil)
	p := seedPlayer(t, svc.DB, "Alice")
	tt := seedTournament(t, svc.DB, 0, 50, 48*time.Hour)
	order, err := svc.createOrder(context.Background(), p.ID, tt.ID)
	require.NoError(t, err)

	got, err := svc.ApplyPaymentSuccess(context.Background(), order.OrderNo)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, got.Status)
	assert.NotNil(t, got.PaidAt)
	assert.Equal(t, models.ApplicationApproved, appStatus(t, svc.DB, p.ID, tt.ID))
}

func TestApplyPaymentSuccessIdempotent(t *testing.T) {
	svc := newOrderService(t, nil)
	p := seedPlayer(t, svc.DB, "Alice")
	tt := seedTournament(t, svc.DB, 0, 50, 48*time.Hour)
	order, err := svc.createOrder(context.Background(), p.ID, tt.ID)
	require.NoError(t, err)

	_, err = svc.ApplyPaymentSuccess(context.Background(), order.OrderNo)
	require.NoError(t, err)
	first := appStatus(t, svc.DB, p.ID, tt.ID)

	// Duplicate webhook delivery converges on the same end state.
	_, err = svc.ApplyPaymentSuccess(context.Background(), order.OrderNo)
	require.NoError(t, err)

	var apps int64
	svc.DB.Model(&models.Application{}).
		Where("player_id = ? AND tournament_id = ?", p.ID, tt.ID).
		Count(&apps)
	assert.EqualValues(t, 1, apps)
	assert.Equal(t, first, appStatus(t, svc.DB, p.ID, tt.ID))
}

func TestApplyPaymentSuccessHonorsCapacity(t *testing.T) {
	svc := newOrderService(t, nil)
	tt := seedTournament(t, svc.DB, 1, 50, 48*time.Hour)

	a := seedPlayer(t, svc.DB, "A")
	require.NoError(t, svc.DB.Create(&models.Application{
		ID: "app-a", PlayerID: a.ID, TournamentID: tt.ID,
		Status: models.ApplicationApproved, QueuedAt: time.Now(),
	}).Error)

	b := seedPlayer(t, svc.DB, "B")
	order, err := svc.createOrder(context.Background(), b.ID, tt.ID)
	require.NoError(t, err)
	_, err = svc.ApplyPaymentSuccess(context.Background(), order.OrderNo)
	require.NoError(t, err)

	assert.Equal(t, models.ApplicationWaitlist, appStatus(t, svc.DB, b.ID, tt.ID))
}

func TestSimulatedPaymentShortCircuits(t *testing.T) {
	svc := newOrderService(t, &stubProvider{simulated: true})
	p := seedPlayer(t, svc.DB, "Alice")
	tt := seedTournament(t, svc.DB, 0, 50, 48*time.Hour)
	order, err := svc.createOrder(context.Background(), p.ID, tt.ID)
	require.NoError(t, err)

	res, err := svc.initiatePayment(context.Background(), p.ID, order.OrderNo)
	require.NoError(t, err)
	assert.True(t, res.IsSimulation)
	assert.True(t, res.AlreadyPaid)
	assert.Nil(t, res.PayParams)
	assert.Equal(t, models.OrderPaid, res.Order.Status)
	assert.Equal(t, models.ApplicationApproved, appStatus(t, svc.DB, p.ID, tt.ID))
}

func TestInitiatePaymentOwnership(t *testing.T) {
	svc := newOrderService(t, nil)
	p := seedPlayer(t, svc.DB, "Alice")
	other := seedPlayer(t, svc.DB, "Mallory")
	tt := seedTournament(t, svc.DB, 0, 50, 48*time.Hour)
	order, err := svc.createOrder(context.Background(), p.ID, tt.ID)
	require.NoError(t, err)

	_, err = svc.initiatePayment(context.Background(), other.ID, order.OrderNo)
	assert.ErrorIs(t, err, ErrNotYourOrder)
}

func TestPrepayConflictRegeneratesOrderNo(t *testing.T) {
	calls := 0
	provider := &stubProvider{prepay: func(req payment.PrepayRequest) (*payment.Params, error) {
		calls++
		if calls == 1 {
			return nil, payment.ErrOrderConflict
		}
		return &payment.Params{Package: "prepay_id=" + req.OutTradeNo}, nil
	}}
	svc := newOrderService(t, provider)
	p := seedPlayer(t, svc.DB, "Alice")
	tt := seedTournament(t, svc.DB, 0, 50, 48*time.Hour)
	order, err := svc.createOrder(context.Background(), p.ID, tt.ID)
	require.NoError(t, err)
	originalNo := order.OrderNo

	res, err := svc.initiatePayment(context.Background(), p.ID, order.OrderNo)
	require.NoError(t, err)
	require.NotNil(t, res.PayParams)
	assert.Equal(t, 2, calls)
	assert.NotEqual(t, originalNo, res.Order.OrderNo)

	// Same order row, new number persisted.
	var got models.Order
	require.NoError(t, svc.DB.First(&got, "id = ?", order.ID).Error)
	assert.Equal(t, res.Order.OrderNo, got.OrderNo)
}

func TestPrepayAlreadyPaidReconciles(t *testing.T) {
	provider := &stubProvider{prepay: func(payment.PrepayRequest) (*payment.Params, error) {
		return nil, payment.ErrOrderAlreadyPaid
	}}
	svc := newOrderService(t, provider)
	p := seedPlayer(t, svc.DB, "Alice")
	tt := seedTournament(t, svc.DB, 0, 50, 48*time.Hour)
	order, err := svc.createOrder(context.Background(), p.ID, tt.ID)
	require.NoError(t, err)

	res, err := svc.initiatePayment(context.Background(), p.ID, order.OrderNo)
	require.NoError(t, err)
	assert.True(t, res.AlreadyPaid)
	assert.Equal(t, models.OrderPaid, res.Order.Status)
	assert.Equal(t, models.ApplicationApproved, appStatus(t, svc.DB, p.ID, tt.ID))
}

func TestCheckStatusReconcilesMissedWebhook(t *testing.T) {
	provider := &stubProvider{queryOrder: func(string) (payment.OrderState, error) {
		return payment.OrderStateSuccess, nil
	}}
	svc := newOrderService(t, provider)
	p := seedPlayer(t, svc.DB, "Alice")
	tt := seedTournament(t, svc.DB, 0, 50, 48*time.Hour)
	order, err := svc.createOrder(context.Background(), p.ID, tt.ID)
	require.NoError(t, err)

	got, err := svc.checkStatus(context.Background(), p.ID, order.OrderNo)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, got.Status)
	assert.Equal(t, models.ApplicationApproved, appStatus(t, svc.DB, p.ID, tt.ID))
}

func TestCheckStatusOwnership(t *testing.T) {
	svc := newOrderService(t, nil)
	p := seedPlayer(t, svc.DB, "Alice")
	other := seedPlayer(t, svc.DB, "Mallory")
	tt := seedTournament(t, svc.DB, 0, 50, 48*time.Hour)
	order, err := svc.createOrder(context.Background(), p.ID, tt.ID)
	require.NoError(t, err)

	_, err = svc.checkStatus(context.Background(), other.ID, order.OrderNo)
	assert.ErrorIs(t, err, ErrNotYourOrder)
}

func TestCheckStatusQueryFailureIsBestEffort(t *testing.T) {
	provider := &stubProvider{queryOrder: func(string) (payment.OrderState, error) {
		return payment.OrderStateUnknown, assert.AnError
	}}
	svc := newOrderService(t, provider)
	p := seedPlayer(t, svc.DB, "Alice")
	tt := seedTournament(t, svc.DB, 0, 50, 48*time.Hour)
	order, err := svc.createOrder(context.Background(), p.ID, tt.ID)
	require.NoError(t, err)

	got, err := svc.checkStatus(context.Background(), p.ID, order.OrderNo)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, got.Status)
}

func TestCancelOrderOnlyWhilePending(t *testing.T) {
	svc := newOrderService(t, nil)
	p := seedPlayer(t, svc.DB, "Alice")
	tt := seedTournament(t, svc.DB, 0, 50, 48*time.Hour)
	order, err := svc.createOrder(context.Background(), p.ID, tt.ID)
	require.NoError(t, err)

	got, err := svc.cancelOrder(context.Background(), p.ID, order.OrderNo)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, got.Status)

	paid := seedPaidOrder(t, svc.DB, p.ID, tt.ID, 50)
	_, err = svc.cancelOrder(context.Background(), p.ID, paid.OrderNo)
	assert.ErrorIs(t, err, ErrOrderNotPending)
}
