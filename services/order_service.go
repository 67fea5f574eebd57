package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"club-tournament-backend/models"
	"club-tournament-backend/payment"
	"club-tournament-backend/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type OrderService struct {
	DB       *gorm.DB
	Provider payment.Provider
}

func NewOrderService(db *gorm.DB, provider payment.Provider) *OrderService {
	return &OrderService{DB: db, Provider: provider}
}

type createOrderRequest struct {
	TournamentID string `json:"tournamentId" validate:"required"`
}

// CreateOrder handles POST /api/orders/create.
func (s *OrderService) CreateOrder(c *fiber.Ctx) error {
	var req createOrderRequest
	if err := utils.ParseAndValidate(c, &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"code": "VALIDATION", "error": err.Error()})
	}
	order, err := s.createOrder(c.UserContext(), callerID(c), req.TournamentID)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(order)
}

// createOrder returns the player's reusable PENDING (or already PAID) order
// for the tournament, creating a fresh one only when none is open.
func (s *OrderService) createOrder(ctx context.Context, playerID, tournamentID string) (*models.Order, error) {
	var t models.Tournament
	if err := s.DB.WithContext(ctx).First(&t, "id = ?", tournamentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTournamentNotFound
		}
		return nil, err
	}
	if !t.HasFee() {
		return nil, ErrNotApplicable
	}

	var existing models.Order
	err := s.DB.WithContext(ctx).
		Where("player_id = ? AND tournament_id = ? AND status IN ?",
			playerID, tournamentID, []string{models.OrderPending, models.OrderPaid}).
		First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	order := &models.Order{
		ID:           uuid.NewString(),
		OrderNo:      utils.GenerateOrderNo(),
		PlayerID:     playerID,
		TournamentID: tournamentID,
		Amount:       t.Fee,
		Status:       models.OrderPending,
		RefundStatus: models.RefundNone,
	}
	if err := s.DB.WithContext(ctx).Create(order).Error; err != nil {
		return nil, err
	}
	return order, nil
}

type payOrderRequest struct {
	OrderNo string `json:"orderNo" validate:"required"`
}

// payResult is the response of POST /api/orders/pay. Exactly one of
// PayParams / AlreadyPaid / IsSimulation describes how to proceed.
type payResult struct {
	Order        *models.Order   `json:"order"`
	PayParams    *payment.Params `json:"payParams,omitempty"`
	AlreadyPaid  bool            `json:"alreadyPaid"`
	IsSimulation bool            `json:"isSimulation"`
}

// InitiatePayment handles POST /api/orders/pay.
func (s *OrderService) InitiatePayment(c *fiber.Ctx) error {
	var req payOrderRequest
	if err := utils.ParseAndValidate(c, &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"code": "VALIDATION", "error": err.Error()})
	}
	res, err := s.initiatePayment(c.UserContext(), callerID(c), req.OrderNo)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

func (s *OrderService) initiatePayment(ctx context.Context, playerID, orderNo string) (*payResult, error) {
	order, err := s.findOrder(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if order.PlayerID != playerID {
		return nil, ErrNotYourOrder
	}
	if order.Status == models.OrderPaid {
		return &payResult{Order: order, AlreadyPaid: true}, nil
	}
	if order.Status != models.OrderPending {
		return nil, ErrOrderNotPending
	}

	if s.Provider.Simulated() {
		order, err = s.ApplyPaymentSuccess(ctx, order.OrderNo)
		if err != nil {
			return nil, err
		}
		log.Printf("[PAYMENT] simulated payment for order %s", order.OrderNo)
		return &payResult{Order: order, AlreadyPaid: true, IsSimulation: true}, nil
	}

	var player models.Player
	if err := s.DB.WithContext(ctx).First(&player, "id = ?", playerID).Error; err != nil {
		return nil, err
	}
	var t models.Tournament
	if err := s.DB.WithContext(ctx).First(&t, "id = ?", order.TournamentID).Error; err != nil {
		return nil, err
	}

	params, err := s.prepayWithRetry(ctx, order, &player, &t)
	if errors.Is(err, payment.ErrOrderAlreadyPaid) {
		// Missed or delayed callback: the provider is authoritative.
		order, err = s.ApplyPaymentSuccess(ctx, order.OrderNo)
		if err != nil {
			return nil, err
		}
		return &payResult{Order: order, AlreadyPaid: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("request payment parameters: %w", err)
	}
	return &payResult{Order: order, PayParams: params}, nil
}

// prepayWithRetry requests payment parameters, regenerating the order number
// in place and retrying once when the provider holds conflicting in-flight
// state for the current number.
func (s *OrderService) prepayWithRetry(ctx context.Context, order *models.Order, player *models.Player, t *models.Tournament) (*payment.Params, error) {
	req := payment.PrepayRequest{
		OutTradeNo:  order.OrderNo,
		Description: t.Name,
		AmountYuan:  order.Amount,
		OpenID:      player.OpenID,
	}
	params, err := s.Provider.Prepay(ctx, req)
	if !errors.Is(err, payment.ErrOrderConflict) {
		return params, err
	}

	fresh := utils.GenerateOrderNo()
	log.Printf("[PAYMENT] order number conflict on %s, regenerating as %s", order.OrderNo, fresh)
	if uerr := s.DB.WithContext(ctx).Model(order).Update("order_no", fresh).Error; uerr != nil {
		return nil, uerr
	}
	order.OrderNo = fresh
	req.OutTradeNo = fresh
	return s.Provider.Prepay(ctx, req)
}

// CheckOrderStatus handles GET /api/orders/:orderNo/status. A PENDING order
// triggers a provider query first, so a missed webhook is reconciled on the
// client's poll.
func (s *OrderService) CheckOrderStatus(c *fiber.Ctx) error {
	order, err := s.checkStatus(c.UserContext(), callerID(c), c.Params("orderNo"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"orderNo": order.OrderNo, "status": order.Status})
}

func (s *OrderService) checkStatus(ctx context.Context, playerID, orderNo string) (*models.Order, error) {
	order, err := s.findOrder(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if order.PlayerID != playerID {
		return nil, ErrNotYourOrder
	}
	if order.Status != models.OrderPending || s.Provider.Simulated() {
		return order, nil
	}

	state, err := s.Provider.QueryOrder(ctx, order.OrderNo)
	if err != nil {
		log.Printf("[PAYMENT] status query failed for order %s: %v", order.OrderNo, err)
		return order, nil // poll stays best-effort; the webhook will catch up
	}
	if state == payment.OrderStateSuccess {
		return s.ApplyPaymentSuccess(ctx, order.OrderNo)
	}
	return order, nil
}

// CancelOrder handles POST /api/orders/:orderNo/cancel. Only a PENDING order
// may be abandoned here; a paid one must go through application cancellation
// so the refund path runs.
func (s *OrderService) CancelOrder(c *fiber.Ctx) error {
	order, err := s.cancelOrder(c.UserContext(), callerID(c), c.Params("orderNo"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(order)
}

func (s *OrderService) cancelOrder(ctx context.Context, playerID, orderNo string) (*models.Order, error) {
	order, err := s.findOrder(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if order.PlayerID != playerID {
		return nil, ErrNotYourOrder
	}
	if order.Status != models.OrderPending {
		return nil, ErrOrderNotPending
	}
	if err := s.DB.WithContext(ctx).Model(order).Update("status", models.OrderCancelled).Error; err != nil {
		return nil, err
	}
	order.Status = models.OrderCancelled
	return order, nil
}

// HandleNotify handles POST /api/orders/notify, the provider webhook. The
// provider is always acknowledged with 200 regardless of internal outcome to
// stop retry storms; internal failures are logged for reconciliation.
func (s *OrderService) HandleNotify(c *fiber.Ctx) error {
	ack := func() error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"code": "SUCCESS", "message": "OK"})
	}

	httpReq, err := adaptor.ConvertRequest(c, false)
	if err != nil {
		log.Printf("[PAYMENT] notify: request conversion failed: %v", err)
		return ack()
	}
	n, err := s.Provider.ParseNotify(c.UserContext(), httpReq)
	if err != nil {
		log.Printf("[PAYMENT] notify: verification failed: %v", err)
		return ack()
	}
	if n.TradeState != payment.OrderStateSuccess {
		log.Printf("[PAYMENT] notify: order %s in state %s, ignoring", n.OutTradeNo, n.TradeState)
		return ack()
	}
	if _, err := s.ApplyPaymentSuccess(c.UserContext(), n.OutTradeNo); err != nil {
		log.Printf("[PAYMENT] notify: reconciliation failed for order %s: %v", n.OutTradeNo, err)
	}
	return ack()
}

// ApplyPaymentSuccess is the shared reconciliation trigger: webhook, poll,
// prepay already-paid shortcut and the stale-order job all funnel through it.
// Idempotent: a paid order is left paid and an active application untouched,
// so duplicate webhooks and webhook/poll races converge on one end state.
func (s *OrderService) ApplyPaymentSuccess(ctx context.Context, orderNo string) (*models.Order, error) {
	var order models.Order
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).First(&order, "order_no = ?", orderNo).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return err
		}
		if order.Status != models.OrderPaid {
			if order.Status != models.OrderPending {
				log.Printf("[PAYMENT] order %s paid upstream while locally %s", order.OrderNo, order.Status)
			}
			now := time.Now()
			err := tx.Model(&order).Updates(map[string]interface{}{
				"status":  models.OrderPaid,
				"paid_at": now,
			}).Error
			if err != nil {
				return err
			}
		}
		return s.ensureApplication(tx, &order)
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ensureApplication guarantees a successful payment ends with exactly one
// active application, whether or not the client's own submit call ever
// arrives. Admission uses the same locked capacity rule as a submission.
func (s *OrderService) ensureApplication(tx *gorm.DB, order *models.Order) error {
	t, err := lockTournament(tx, order.TournamentID)
	if err != nil {
		return err
	}

	var app models.Application
	err = tx.Where("player_id = ? AND tournament_id = ?", order.PlayerID, order.TournamentID).
		Order("queued_at DESC").
		First(&app).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if err == nil && app.IsActive() {
		return nil
	}

	target, aerr := admissionStatus(tx, t)
	if aerr != nil {
		return aerr
	}
	now := time.Now()
	if err == nil {
		return tx.Model(&app).Updates(map[string]interface{}{
			"status":    target,
			"queued_at": now,
		}).Error
	}
	return tx.Create(&models.Application{
		ID:           uuid.NewString(),
		PlayerID:     order.PlayerID,
		TournamentID: order.TournamentID,
		Status:       target,
		QueuedAt:     now,
	}).Error
}

func (s *OrderService) findOrder(ctx context.Context, orderNo string) (*models.Order, error) {
	if orderNo == "" {
		return nil, ErrOrderNotFound
	}
	var order models.Order
	if err := s.DB.WithContext(ctx).First(&order, "order_no = ?", orderNo).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}
