package models

import (
	"time"
)

const (
	GamePending   = "PENDING"
	GameCompleted = "COMPLETED"
)

// MatchGame is one manually entered game of a tournament draw.
// Scores are free-form strings ("21:15 18:21 21:19") recorded by a referee.
type MatchGame struct {
	ID           string `json:"id" gorm:"primaryKey"`
	TournamentID string `json:"tournament_id" gorm:"not null;index"`
	Player1ID    string `json:"player1_id" gorm:"not null"`
	Player2ID    string `json:"player2_id" gorm:"not null"`
	Score1       string `json:"score1,omitempty"`
	Score2       string `json:"score2,omitempty"`
	Status       string `json:"status" gorm:"default:'PENDING'"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	Player1 Player `json:"player1,omitempty" gorm:"foreignKey:Player1ID"`
	Player2 Player `json:"player2,omitempty" gorm:"foreignKey:Player2ID"`
}
