package models

import (
	"time"
)

const (
	TournamentPending   = "PENDING"
	TournamentCompleted = "COMPLETED"
	TournamentCancelled = "CANCELLED"
)

// Tournament is a single club event players register for.
// DrawSize 0 means unlimited; Fee 0 means free entry.
type Tournament struct {
	ID                string     `json:"id" gorm:"primaryKey"`
	Name              string     `json:"name" gorm:"not null"`
	Slug              string     `json:"slug" gorm:"index"`
	Location          string     `json:"location"`
	Description       string     `json:"description" gorm:"type:text"`
	Rules             string     `json:"rules" gorm:"type:text"`
	MatchType         string     `json:"match_type"` // e.g. "SINGLES", "DOUBLES", "MIXED"
	StartTime         time.Time  `json:"start_time" gorm:"not null"`
	RegistrationStart *time.Time `json:"registration_start,omitempty"`
	RegistrationEnd   *time.Time `json:"registration_end,omitempty"`
	DrawSize          int        `json:"draw_size" gorm:"default:0"`
	Fee               float64    `json:"fee" gorm:"default:0"` // yuan
	Status            string     `json:"status" gorm:"default:'PENDING'"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	Results []TournamentResult `json:"results,omitempty" gorm:"foreignKey:TournamentID"`

	// Calculated fields (not stored in DB)
	ApprovedCount int64 `json:"approved_count,omitempty" gorm:"-"`
}

// HasFee reports whether registration requires a paid order first.
func (t *Tournament) HasFee() bool {
	return t.Fee > 0
}

// HasDraw reports whether approved registrations are capacity-limited.
func (t *Tournament) HasDraw() bool {
	return t.DrawSize > 0
}

// TournamentResult records one player's final rank and awarded points.
// Upserted when an admin submits results; drives Player.Points increments.
type TournamentResult struct {
	ID           string `json:"id" gorm:"primaryKey"`
	TournamentID string `json:"tournament_id" gorm:"not null;uniqueIndex:udx_results_tournament_player"`
	PlayerID     string `json:"player_id" gorm:"not null;uniqueIndex:udx_results_tournament_player"`
	Rank         int    `json:"rank"`
	PointsChange int    `json:"points_change"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	Player Player `json:"player,omitempty" gorm:"foreignKey:PlayerID"`
}
