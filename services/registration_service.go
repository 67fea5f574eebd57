package services

import (
	"context"
	"errors"
	"time"

	"club-tournament-backend/models"
	"club-tournament-backend/payment"
	"club-tournament-backend/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// cancellationWindow is how long before the start time self-cancellation
// stays open.
const cancellationWindow = 24 * time.Hour

type RegistrationService struct {
	DB       *gorm.DB
	Provider payment.Provider
}

func NewRegistrationService(db *gorm.DB, provider payment.Provider) *RegistrationService {
	return &RegistrationService{DB: db, Provider: provider}
}

type submitApplicationRequest struct {
	TournamentID string  `json:"tournamentId" validate:"required"`
	PartnerID    *string `json:"partnerId,omitempty"`
	RealName     string  `json:"realName,omitempty" validate:"omitempty,max=64"`
	Phone        string  `json:"phone,omitempty" validate:"omitempty,max=20"`
	IDCard       string  `json:"idCard,omitempty" validate:"omitempty,len=18"`
}

// SubmitApplication handles POST /api/application/submit.
func (s *RegistrationService) SubmitApplication(c *fiber.Ctx) error {
	var req submitApplicationRequest
	if err := utils.ParseAndValidate(c, &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"code": "VALIDATION", "error": err.Error()})
	}
	app, err := s.submit(c.UserContext(), callerID(c), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(app)
}

// submit creates or revives the caller's application for a tournament.
// Admission (APPROVED vs WAITLIST) and the duplicate guard both run inside
// one transaction holding the tournament row, so two concurrent submissions
// cannot both observe a free seat; the partial unique index on active
// applications backstops the duplicate check.
func (s *RegistrationService) submit(ctx context.Context, playerID string, req submitApplicationRequest) (*models.Application, error) {
	var result *models.Application
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := lockTournament(tx, req.TournamentID)
		if err != nil {
			return err
		}
		now := time.Now()
		if t.RegistrationStart != nil && now.Before(*t.RegistrationStart) {
			return ErrRegistrationClosed
		}
		if t.RegistrationEnd != nil && now.After(*t.RegistrationEnd) {
			return ErrRegistrationClosed
		}

		if t.HasFee() {
			var paid int64
			err := tx.Model(&models.Order{}).
				Where("player_id = ? AND tournament_id = ? AND status = ?",
					playerID, t.ID, models.OrderPaid).
				Count(&paid).Error
			if err != nil {
				return err
			}
			if paid == 0 {
				return &PaymentRequiredError{Fee: t.Fee}
			}
		}

		var existing models.Application
		err = tx.Where("player_id = ? AND tournament_id = ?", playerID, t.ID).
			Order("queued_at DESC").
			First(&existing).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err == nil && existing.IsActive() {
			return ErrAlreadyApplied
		}

		target, aerr := admissionStatus(tx, t)
		if aerr != nil {
			return aerr
		}

		if err == nil {
			// Revive the old row in place. Resetting QueuedAt sends a
			// re-applicant to the back of the current waitlist.
			updates := map[string]interface{}{
				"status":     target,
				"queued_at":  now,
				"partner_id": req.PartnerID,
			}
			if req.RealName != "" {
				updates["real_name"] = req.RealName
			}
			if req.Phone != "" {
				updates["phone"] = req.Phone
			}
			if req.IDCard != "" {
				updates["id_card"] = req.IDCard
			}
			if err := tx.Model(&existing).Updates(updates).Error; err != nil {
				return translateDuplicate(err)
			}
			result = &existing
			return nil
		}

		app := &models.Application{
			ID:           uuid.NewString(),
			PlayerID:     playerID,
			TournamentID: t.ID,
			PartnerID:    req.PartnerID,
			Status:       target,
			RealName:     req.RealName,
			Phone:        req.Phone,
			IDCard:       req.IDCard,
			QueuedAt:     now,
		}
		if err := tx.Create(app).Error; err != nil {
			return translateDuplicate(err)
		}
		result = app
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CancelApplication handles POST /api/application/:tournamentId/cancel.
func (s *RegistrationService) CancelApplication(c *fiber.Ctx) error {
	tournamentID := c.Params("tournamentId")
	if tournamentID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"code": "VALIDATION", "error": "tournamentId required"})
	}
	if err := s.cancel(c.UserContext(), callerID(c), tournamentID); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "application cancelled"})
}

// cancel withdraws the caller's active application. When a paid order backs
// the registration the refund runs in two phases: the intent (stable refund
// number) is persisted before the provider call, so a crash or timeout leaves
// a REQUESTED marker the reconcile worker can settle, and a retry reuses the
// same refund number instead of double-refunding.
func (s *RegistrationService) cancel(ctx context.Context, playerID, tournamentID string) error {
	var t models.Tournament
	if err := s.DB.WithContext(ctx).First(&t, "id = ?", tournamentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTournamentNotFound
		}
		return err
	}
	if time.Until(t.StartTime) < cancellationWindow {
		return ErrCancellationWindowClosed
	}

	var app models.Application
	err := s.DB.WithContext(ctx).
		Where("player_id = ? AND tournament_id = ? AND status IN ?",
			playerID, tournamentID,
			[]string{models.ApplicationApproved, models.ApplicationWaitlist}).
		First(&app).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNoActiveApplication
	}
	if err != nil {
		return err
	}

	var order models.Order
	err = s.DB.WithContext(ctx).
		Where("player_id = ? AND tournament_id = ? AND status = ?",
			playerID, tournamentID, models.OrderPaid).
		First(&order).Error
	hasPaidOrder := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	if hasPaidOrder {
		if err := s.refundPaidOrder(ctx, &order, &t); err != nil {
			return err
		}
	}

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return finishCancellation(tx, &order, &app, hasPaidOrder)
	})
}

// refundPaidOrder runs the provider round trip of the two-phase refund.
// On a definitive decline the intent is marked FAILED and the cancellation
// aborts (fail-closed: the player keeps the seat rather than losing both seat
// and money). On an in-doubt outcome the intent stays REQUESTED for the
// reconcile worker.
func (s *RegistrationService) refundPaidOrder(ctx context.Context, order *models.Order, t *models.Tournament) error {
	if order.RefundNo == "" {
		order.RefundNo = "R" + uuid.NewString()
	}
	now := time.Now()
	err := s.DB.WithContext(ctx).Model(order).Updates(map[string]interface{}{
		"refund_no":           order.RefundNo,
		"refund_status":       models.RefundRequested,
		"refund_requested_at": now,
	}).Error
	if err != nil {
		return err
	}

	err = s.Provider.Refund(ctx, payment.RefundRequest{
		OutTradeNo:  order.OrderNo,
		OutRefundNo: order.RefundNo,
		AmountYuan:  order.Amount,
		Reason:      "registration cancelled: " + t.Name,
	})
	if errors.Is(err, payment.ErrRefundDeclined) {
		_ = s.DB.WithContext(ctx).Model(order).
			Update("refund_status", models.RefundFailed).Error
		return ErrRefundFailed
	}
	if err != nil {
		// Outcome unknown: leave the intent REQUESTED for the worker.
		return ErrRefundFailed
	}
	return nil
}

// finishCancellation commits the local half of a cancellation: order
// refunded, application cancelled, and one FIFO waitlist promotion if the
// cancelled application held a seat. Shared with the reconcile worker, which
// calls it after settling an in-doubt refund.
//
// The application is re-read under lock: its status was observed before this
// transaction started, and a concurrent cancellation that already committed
// must not trigger a second promotion for the same freed seat.
func finishCancellation(tx *gorm.DB, order *models.Order, app *models.Application, hasPaidOrder bool) error {
	if err := forUpdate(tx).First(app, "id = ?", app.ID).Error; err != nil {
		return err
	}
	switch app.Status {
	case models.ApplicationApproved, models.ApplicationWaitlist:
	default:
		return ErrNoActiveApplication
	}

	if hasPaidOrder {
		err := tx.Model(order).Updates(map[string]interface{}{
			"status":        models.OrderRefunded,
			"refund_status": models.RefundSucceeded,
		}).Error
		if err != nil {
			return err
		}
	}

	wasApproved := app.Status == models.ApplicationApproved
	if err := tx.Model(app).Update("status", models.ApplicationCancelled).Error; err != nil {
		return err
	}

	if wasApproved {
		t, err := lockTournament(tx, app.TournamentID)
		if err != nil {
			return err
		}
		if t.HasDraw() {
			return promoteNextWaitlisted(tx, t.ID)
		}
	}
	return nil
}

// FinalizeRefund completes a cancellation whose refund was in doubt and has
// now been confirmed by the provider. Invoked by the reconcile worker only.
func (s *RegistrationService) FinalizeRefund(ctx context.Context, order *models.Order) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var app models.Application
		err := tx.Where("player_id = ? AND tournament_id = ? AND status IN ?",
			order.PlayerID, order.TournamentID,
			[]string{models.ApplicationApproved, models.ApplicationWaitlist}).
			First(&app).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Application already gone; just settle the order.
			return tx.Model(order).Updates(map[string]interface{}{
				"status":        models.OrderRefunded,
				"refund_status": models.RefundSucceeded,
			}).Error
		}
		if err != nil {
			return err
		}
		return finishCancellation(tx, order, &app, true)
	})
}

// MyApplications handles GET /api/applications/mine.
func (s *RegistrationService) MyApplications(c *fiber.Ctx) error {
	var apps []models.Application
	err := s.DB.WithContext(c.UserContext()).
		Where("player_id = ?", callerID(c)).
		Order("queued_at DESC").
		Find(&apps).Error
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(apps)
}

// ListApplications handles GET /api/applications (admin).
func (s *RegistrationService) ListApplications(c *fiber.Ctx) error {
	var apps []models.Application
	q := s.DB.WithContext(c.UserContext()).
		Preload("Player").
		Preload("Tournament").
		Order("created_at DESC")
	if tid := c.Query("tournamentId"); tid != "" {
		q = q.Where("tournament_id = ?", tid)
	}
	if err := q.Find(&apps).Error; err != nil {
		return respondError(c, err)
	}
	return c.JSON(apps)
}

type auditApplicationRequest struct {
	Status  string `json:"status" validate:"required,oneof=APPROVED REJECTED"`
	Comment string `json:"comment,omitempty" validate:"omitempty,max=500"`
}

// AuditApplication handles POST /api/applications/:id/audit (admin).
func (s *RegistrationService) AuditApplication(c *fiber.Ctx) error {
	var req auditApplicationRequest
	if err := utils.ParseAndValidate(c, &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"code": "VALIDATION", "error": err.Error()})
	}
	app, err := s.audit(c.UserContext(), callerID(c), c.Params("id"), req.Status, req.Comment)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(app)
}

// audit applies an admin decision. Approval goes through the same locked
// capacity check as a submission; rejecting a seated application frees the
// seat and promotes the waitlist head.
func (s *RegistrationService) audit(ctx context.Context, adminID, applicationID, status, comment string) (*models.Application, error) {
	var app models.Application
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).First(&app, "id = ?", applicationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrApplicationNotFound
			}
			return err
		}
		t, err := lockTournament(tx, app.TournamentID)
		if err != nil {
			return err
		}

		wasApproved := app.Status == models.ApplicationApproved
		if status == models.ApplicationApproved && !wasApproved {
			target, aerr := admissionStatus(tx, t)
			if aerr != nil {
				return aerr
			}
			if target != models.ApplicationApproved {
				return ErrTournamentFull
			}
		}
		if err := tx.Model(&app).Update("status", status).Error; err != nil {
			return err
		}
		if status == models.ApplicationRejected && wasApproved && t.HasDraw() {
			if err := promoteNextWaitlisted(tx, t.ID); err != nil {
				return err
			}
		}

		return tx.Create(&models.AuditLog{
			ID:            uuid.NewString(),
			AdminID:       adminID,
			ApplicationID: app.ID,
			Action:        status,
			Comment:       comment,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// translateDuplicate converts a unique-index violation on the active
// application index into the business conflict it represents.
func translateDuplicate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrAlreadyApplied
	}
	return err
}
