package services

import (
	"errors"
	"log"

	"club-tournament-backend/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// respondError maps service errors to HTTP responses. Every body carries a
// machine-checkable code plus a human message; internals are logged, never
// returned.
func respondError(c *fiber.Ctx, err error) error {
	var payReq *PaymentRequiredError
	if errors.As(err, &payReq) {
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
			"code":  "PAYMENT_REQUIRED",
			"error": payReq.Error(),
			"fee":   payReq.Fee,
		})
	}

	type mapping struct {
		status int
		code   string
	}
	m := map[error]mapping{
		ErrTournamentNotFound:       {fiber.StatusNotFound, "TOURNAMENT_NOT_FOUND"},
		ErrPlayerNotFound:           {fiber.StatusNotFound, "PLAYER_NOT_FOUND"},
		ErrApplicationNotFound:      {fiber.StatusNotFound, "APPLICATION_NOT_FOUND"},
		ErrOrderNotFound:            {fiber.StatusNotFound, "ORDER_NOT_FOUND"},
		ErrGameNotFound:             {fiber.StatusNotFound, "GAME_NOT_FOUND"},
		ErrAlreadyApplied:           {fiber.StatusConflict, "ALREADY_APPLIED"},
		ErrRegistrationClosed:       {fiber.StatusBadRequest, "REGISTRATION_CLOSED"},
		ErrTournamentFull:           {fiber.StatusBadRequest, "TOURNAMENT_FULL"},
		ErrNoActiveApplication:      {fiber.StatusBadRequest, "NO_ACTIVE_APPLICATION"},
		ErrCancellationWindowClosed: {fiber.StatusBadRequest, "CANCELLATION_WINDOW_CLOSED"},
		ErrNotApplicable:            {fiber.StatusBadRequest, "NOT_APPLICABLE"},
		ErrNotYourOrder:             {fiber.StatusForbidden, "NOT_YOUR_ORDER"},
		ErrOrderNotPending:          {fiber.StatusBadRequest, "ORDER_NOT_PENDING"},
		ErrRefundFailed:             {fiber.StatusBadRequest, "REFUND_FAILED"},
		ErrInvalidCredentials:       {fiber.StatusBadRequest, "INVALID_CREDENTIALS"},
		ErrIDCardConflict:           {fiber.StatusConflict, "ID_CARD_CONFLICT"},
		ErrForbidden:                {fiber.StatusForbidden, "FORBIDDEN"},
	}
	for sentinel, mp := range m {
		if errors.Is(err, sentinel) {
			return c.Status(mp.status).JSON(fiber.Map{"code": mp.code, "error": sentinel.Error()})
		}
	}

	log.Printf("[ERROR] %s %s: %v", c.Method(), c.Path(), err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"code":  "INTERNAL",
		"error": "internal server error",
	})
}

// callerID returns the authenticated player/admin id set by the auth
// middleware.
func callerID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}

func callerRole(c *fiber.Ctx) string {
	role, _ := c.Locals("role").(string)
	return role
}

// forUpdate adds a row lock inside a transaction. SQLite (used by the test
// suite) takes a database-level write lock instead and rejects FOR UPDATE
// syntax, so the clause is skipped there.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// lockTournament fetches the tournament row under a write lock so capacity
// decisions made against it hold until the transaction commits.
func lockTournament(tx *gorm.DB, id string) (*models.Tournament, error) {
	var t models.Tournament
	if err := forUpdate(tx).First(&t, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTournamentNotFound
		}
		return nil, err
	}
	return &t, nil
}

// admissionStatus resolves APPROVED vs WAITLIST for one more entrant. Must be
// called with the tournament row locked: the count below is only trustworthy
// until the enclosing transaction commits.
func admissionStatus(tx *gorm.DB, t *models.Tournament) (string, error) {
	if !t.HasDraw() {
		return models.ApplicationApproved, nil
	}
	var approved int64
	err := tx.Model(&models.Application{}).
		Where("tournament_id = ? AND status = ?", t.ID, models.ApplicationApproved).
		Count(&approved).Error
	if err != nil {
		return "", err
	}
	if approved >= int64(t.DrawSize) {
		return models.ApplicationWaitlist, nil
	}
	return models.ApplicationApproved, nil
}

// promoteNextWaitlisted moves the oldest waitlisted application (minimum
// queued_at) to APPROVED. At most one promotion per freed seat; no cascading.
func promoteNextWaitlisted(tx *gorm.DB, tournamentID string) error {
	var next models.Application
	err := forUpdate(tx).
		Where("tournament_id = ? AND status = ?", tournamentID, models.ApplicationWaitlist).
		Order("queued_at ASC").
		First(&next).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := tx.Model(&next).Update("status", models.ApplicationApproved).Error; err != nil {
		return err
	}
	log.Printf("[WAITLIST] promoted application %s (player %s) in tournament %s",
		next.ID, next.PlayerID, tournamentID)
	return nil
}
