package services

import (
	"errors"
	"log"

	"club-tournament-backend/models"
	"club-tournament-backend/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type GameService struct {
	DB *gorm.DB
}

func NewGameService(db *gorm.DB) *GameService {
	return &GameService{DB: db}
}

type createGameRequest struct {
	TournamentID string `json:"tournament_id" validate:"required"`
	Player1ID    string `json:"player1_id" validate:"required"`
	Player2ID    string `json:"player2_id" validate:"required,nefield=Player1ID"`
}

// Create handles POST /api/admin/games.
func (s *GameService) Create(c *fiber.Ctx) error {
	var req createGameRequest
	if err := utils.ParseAndValidate(c, &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"code": "VALIDATION", "error": err.Error()})
	}

	var count int64
	if err := s.DB.Model(&models.Tournament{}).Where("id = ?", req.TournamentID).Count(&count).Error; err != nil {
		return respondError(c, err)
	}
	if count == 0 {
		return respondError(c, ErrTournamentNotFound)
	}

	game := models.MatchGame{
		ID:           uuid.NewString(),
		TournamentID: req.TournamentID,
		Player1ID:    req.Player1ID,
		Player2ID:    req.Player2ID,
		Status:       models.GamePending,
	}
	if err := s.DB.WithContext(c.UserContext()).Create(&game).Error; err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(game)
}

// List handles GET /api/tournaments/:id/games.
func (s *GameService) List(c *fiber.Ctx) error {
	var games []models.MatchGame
	err := s.DB.WithContext(c.UserContext()).
		Preload("Player1").
		Preload("Player2").
		Where("tournament_id = ?", c.Params("id")).
		Order("created_at ASC").
		Find(&games).Error
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(games)
}

type scoreRequest struct {
	Score1 string `json:"score1" validate:"required,max=64"`
	Score2 string `json:"score2" validate:"required,max=64"`
}

// UpdateScore handles PUT /api/games/:id/score (referee or admin). Recording
// a score completes the game.
func (s *GameService) UpdateScore(c *fiber.Ctx) error {
	var req scoreRequest
	if err := utils.ParseAndValidate(c, &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"code": "VALIDATION", "error": err.Error()})
	}

	var game models.MatchGame
	err := s.DB.WithContext(c.UserContext()).First(&game, "id = ?", c.Params("id")).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return respondError(c, ErrGameNotFound)
	}
	if err != nil {
		return respondError(c, err)
	}

	err = s.DB.WithContext(c.UserContext()).Model(&game).Updates(map[string]interface{}{
		"score1": req.Score1,
		"score2": req.Score2,
		"status": models.GameCompleted,
	}).Error
	if err != nil {
		return respondError(c, err)
	}
	log.Printf("[GAME] %s scored %s / %s by %s", game.ID, req.Score1, req.Score2, callerID(c))
	return c.JSON(game)
}
