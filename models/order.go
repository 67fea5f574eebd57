package models

import (
	"time"
)

const (
	OrderPending   = "PENDING"
	OrderPaid      = "PAID"
	OrderCancelled = "CANCELLED"
	OrderRefunded  = "REFUNDED"
)

// Refund intent states for the two-phase refund flow. The intent row is
// written before the provider is called so a crash in between leaves a
// REQUESTED marker the reconcile worker can pick up. Retries reuse RefundNo,
// which WeChat Pay deduplicates on.
const (
	RefundNone      = "NONE"
	RefundRequested = "REQUESTED"
	RefundSucceeded = "SUCCEEDED"
	RefundFailed    = "FAILED"
)

// Order is one payment attempt for a (player, tournament) pair. OrderNo is
// the out-trade-no sent to the provider; it is regenerated in place when the
// provider reports a reentry conflict for the same number.
type Order struct {
	ID           string  `json:"id" gorm:"primaryKey"`
	OrderNo      string  `json:"order_no" gorm:"uniqueIndex;not null"`
	PlayerID     string  `json:"player_id" gorm:"not null;index"`
	TournamentID string  `json:"tournament_id" gorm:"not null;index"`
	Amount       float64 `json:"amount"` // yuan
	Status       string  `json:"status" gorm:"default:'PENDING'"`

	RefundNo          string     `json:"refund_no,omitempty"`
	RefundStatus      string     `json:"refund_status" gorm:"default:'NONE'"`
	RefundRequestedAt *time.Time `json:"refund_requested_at,omitempty"`

	PaidAt    *time.Time `json:"paid_at,omitempty"`
	CreatedAt time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time  `json:"updated_at" gorm:"autoUpdateTime"`

	Player     Player     `json:"player,omitempty" gorm:"foreignKey:PlayerID"`
	Tournament Tournament `json:"tournament,omitempty" gorm:"foreignKey:TournamentID"`
}
