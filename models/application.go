package models

import (
	"time"
)

// Application statuses. PENDING, APPROVED and WAITLIST count as active:
// a player may hold at most one active application per tournament (enforced
// by a partial unique index, see EnsureIndexes in main).
const (
	ApplicationPending        = "PENDING"
	ApplicationApproved       = "APPROVED"
	ApplicationWaitlist       = "WAITLIST"
	ApplicationCancelled      = "CANCELLED"
	ApplicationRejected       = "REJECTED"
	ApplicationPendingPayment = "PENDING_PAYMENT"
)

// ActiveApplicationStatuses are the states blocking a re-application.
var ActiveApplicationStatuses = []string{
	ApplicationPending,
	ApplicationApproved,
	ApplicationWaitlist,
}

// Application links one player (optionally with a doubles partner) to one
// tournament.
//
// QueuedAt is the FIFO ranking key for the waitlist. It is reset to "now"
// whenever the row re-enters an active status, so a re-applicant joins the
// back of the current queue. CreatedAt stays untouched as audit time.
type Application struct {
	ID           string  `json:"id" gorm:"primaryKey"`
	PlayerID     string  `json:"player_id" gorm:"not null;index:idx_applications_player_tournament"`
	TournamentID string  `json:"tournament_id" gorm:"not null;index:idx_applications_player_tournament;index"`
	PartnerID    *string `json:"partner_id,omitempty"`
	Status       string  `json:"status" gorm:"default:'PENDING'"`

	RealName string `json:"real_name,omitempty"`
	Phone    string `json:"phone,omitempty"`
	IDCard   string `json:"id_card,omitempty" gorm:"column:id_card"`

	QueuedAt  time.Time `json:"queued_at" gorm:"index;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	Player     Player     `json:"player,omitempty" gorm:"foreignKey:PlayerID"`
	Tournament Tournament `json:"tournament,omitempty" gorm:"foreignKey:TournamentID"`
}

// IsActive reports whether the application blocks another submission.
func (a *Application) IsActive() bool {
	switch a.Status {
	case ApplicationPending, ApplicationApproved, ApplicationWaitlist:
		return true
	}
	return false
}

// AuditLog is an append-only record of admin decisions on applications.
type AuditLog struct {
	ID            string `json:"id" gorm:"primaryKey"`
	AdminID       string `json:"admin_id" gorm:"not null;index"`
	ApplicationID string `json:"application_id" gorm:"not null;index"`
	Action        string `json:"action"` // APPROVED / REJECTED
	Comment       string `json:"comment,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`

	Application Application `json:"application,omitempty" gorm:"foreignKey:ApplicationID"`
}
