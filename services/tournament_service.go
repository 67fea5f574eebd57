package services

import (
	"context"
	"errors"
	"log"
	"time"

	"club-tournament-backend/models"
	"club-tournament-backend/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

type TournamentService struct {
	DB *gorm.DB
}

func NewTournamentService(db *gorm.DB) *TournamentService {
	return &TournamentService{DB: db}
}

// List handles GET /api/tournaments, newest start time first.
func (s *TournamentService) List(c *fiber.Ctx) error {
	var tournaments []models.Tournament
	q := s.DB.WithContext(c.UserContext()).Order("start_time DESC")
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&tournaments).Error; err != nil {
		return respondError(c, err)
	}
	counts, err := s.approvedCounts(c.UserContext(), tournaments)
	if err != nil {
		return respondError(c, err)
	}
	for i := range tournaments {
		tournaments[i].ApprovedCount = counts[tournaments[i].ID]
	}
	return c.JSON(tournaments)
}

// approvedCounts resolves the approved-entrant count for a page of
// tournaments in one grouped query.
func (s *TournamentService) approvedCounts(ctx context.Context, tournaments []models.Tournament) (map[string]int64, error) {
	if len(tournaments) == 0 {
		return map[string]int64{}, nil
	}
	ids := make([]string, len(tournaments))
	for i, t := range tournaments {
		ids[i] = t.ID
	}

	var rows []struct {
		TournamentID string
		Total        int64
	}
	err := s.DB.WithContext(ctx).Model(&models.Application{}).
		Select("tournament_id, COUNT(*) AS total").
		Where("tournament_id IN ? AND status = ?", ids, models.ApplicationApproved).
		Group("tournament_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.TournamentID] = r.Total
	}
	return counts, nil
}

// Get handles GET /api/tournaments/:id with results preloaded.
func (s *TournamentService) Get(c *fiber.Ctx) error {
	var t models.Tournament
	err := s.DB.WithContext(c.UserContext()).
		Preload("Results.Player").
		First(&t, "id = ?", c.Params("id")).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return respondError(c, ErrTournamentNotFound)
	}
	if err != nil {
		return respondError(c, err)
	}
	err = s.DB.WithContext(c.UserContext()).Model(&models.Application{}).
		Where("tournament_id = ? AND status = ?", t.ID, models.ApplicationApproved).
		Count(&t.ApprovedCount).Error
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(t)
}

type tournamentRequest struct {
	Name              string     `json:"name" validate:"required,max=128"`
	Location          string     `json:"location" validate:"max=256"`
	Description       string     `json:"description"`
	Rules             string     `json:"rules"`
	MatchType         string     `json:"match_type" validate:"omitempty,oneof=SINGLES DOUBLES MIXED"`
	StartTime         time.Time  `json:"start_time" validate:"required"`
	RegistrationStart *time.Time `json:"registration_start,omitempty"`
	RegistrationEnd   *time.Time `json:"registration_end,omitempty"`
	DrawSize          int        `json:"draw_size" validate:"gte=0"`
	Fee               float64    `json:"fee" validate:"gte=0"`
}

// Create handles POST /api/admin/tournaments.
func (s *TournamentService) Create(c *fiber.Ctx) error {
	var req tournamentRequest
	if err := utils.ParseAndValidate(c, &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"code": "VALIDATION", "error": err.Error()})
	}

	t := models.Tournament{
		ID:                uuid.NewString(),
		Name:              req.Name,
		Slug:              slug.Make(req.Name),
		Location:          req.Location,
		Description:       req.Description,
		Rules:             req.Rules,
		MatchType:         req.MatchType,
		StartTime:         req.StartTime,
		RegistrationStart: req.RegistrationStart,
		RegistrationEnd:   req.RegistrationEnd,
		DrawSize:          req.DrawSize,
		Fee:               req.Fee,
		Status:            models.TournamentPending,
	}
	if err := s.DB.WithContext(c.UserContext()).Create(&t).Error; err != nil {
		return respondError(c, err)
	}
	log.Printf("[TOURNAMENT] created %s (%s) by admin %s", t.Name, t.ID, callerID(c))
	return c.Status(fiber.StatusCreated).JSON(t)
}

// Update handles PUT /api/admin/tournaments/:id.
func (s *TournamentService) Update(c *fiber.Ctx) error {
	var req tournamentRequest
	if err := utils.ParseAndValidate(c, &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"code": "VALIDATION", "error": err.Error()})
	}

	var t models.Tournament
	err := s.DB.WithContext(c.UserContext()).First(&t, "id = ?", c.Params("id")).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return respondError(c, ErrTournamentNotFound)
	}
	if err != nil {
		return respondError(c, err)
	}

	updates := map[string]interface{}{
		"name":               req.Name,
		"slug":               slug.Make(req.Name),
		"location":           req.Location,
		"description":        req.Description,
		"rules":              req.Rules,
		"match_type":         req.MatchType,
		"start_time":         req.StartTime,
		"registration_start": req.RegistrationStart,
		"registration_end":   req.RegistrationEnd,
		"draw_size":          req.DrawSize,
		"fee":                req.Fee,
	}
	if err := s.DB.WithContext(c.UserContext()).Model(&t).Updates(updates).Error; err != nil {
		return respondError(c, err)
	}
	return c.JSON(t)
}

type resultEntry struct {
	PlayerID string `json:"player_id" validate:"required"`
	Rank     int    `json:"rank" validate:"required,gte=1"`
	Bonus    *int   `json:"bonus,omitempty"`
}

type submitResultsRequest struct {
	Results []resultEntry `json:"results" validate:"required,min=1,dive"`
}

// pointsFor awards bonus when the admin supplies one, else a rank-based
// default: champion 10, runner-up 5, everyone else 1 for showing up.
func pointsFor(e resultEntry) int {
	if e.Bonus != nil {
		return *e.Bonus
	}
	switch e.Rank {
	case 1:
		return 10
	case 2:
		return 5
	default:
		return 1
	}
}

// SubmitResults handles POST /api/admin/tournaments/:id/results.
func (s *TournamentService) SubmitResults(c *fiber.Ctx) error {
	var req submitResultsRequest
	if err := utils.ParseAndValidate(c, &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"code": "VALIDATION", "error": err.Error()})
	}
	if err := s.submitResults(c.UserContext(), c.Params("id"), req.Results); err != nil {
		return respondError(c, err)
	}
	log.Printf("[TOURNAMENT] results submitted for %s by admin %s (%d entries)",
		c.Params("id"), callerID(c), len(req.Results))
	return c.JSON(fiber.Map{"status": models.TournamentCompleted, "entries": len(req.Results)})
}

// submitResults upserts per-player results, applies point deltas and
// completes the tournament, all in one transaction. Resubmitting replaces a
// player's entry and re-applies the difference rather than double-counting.
func (s *TournamentService) submitResults(ctx context.Context, tournamentID string, entries []resultEntry) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := lockTournament(tx, tournamentID)
		if err != nil {
			return err
		}

		for _, entry := range entries {
			points := pointsFor(entry)

			var existing models.TournamentResult
			err := tx.Where("tournament_id = ? AND player_id = ?", t.ID, entry.PlayerID).
				First(&existing).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				result := models.TournamentResult{
					ID:           uuid.NewString(),
					TournamentID: t.ID,
					PlayerID:     entry.PlayerID,
					Rank:         entry.Rank,
					PointsChange: points,
				}
				if err := tx.Create(&result).Error; err != nil {
					return err
				}
			case err != nil:
				return err
			default:
				// Resubmission: back out the old delta before applying the new one.
				previous := existing.PointsChange
				if err := tx.Model(&existing).Updates(map[string]interface{}{
					"rank":          entry.Rank,
					"points_change": points,
				}).Error; err != nil {
					return err
				}
				points -= previous
			}

			if points != 0 {
				err = tx.Model(&models.Player{}).
					Where("id = ?", entry.PlayerID).
					Update("points", gorm.Expr("points + ?", points)).Error
				if err != nil {
					return err
				}
			}
		}

		return tx.Model(t).Update("status", models.TournamentCompleted).Error
	})
}

// Rankings handles GET /api/rankings: top 50 players by points.
func (s *TournamentService) Rankings(c *fiber.Ctx) error {
	var players []models.Player
	err := s.DB.WithContext(c.UserContext()).
		Select("id", "name", "avatar", "gender", "region", "points").
		Order("points DESC").
		Limit(50).
		Find(&players).Error
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(players)
}

// Participants handles GET /api/tournaments/:id/participants: the approved
// entrants, in admission order.
func (s *TournamentService) Participants(c *fiber.Ctx) error {
	var apps []models.Application
	err := s.DB.WithContext(c.UserContext()).
		Preload("Player").
		Where("tournament_id = ? AND status = ?", c.Params("id"), models.ApplicationApproved).
		Order("queued_at ASC").
		Find(&apps).Error
	if err != nil {
		return respondError(c, err)
	}

	type participant struct {
		PlayerID string `json:"player_id"`
		Name     string `json:"name"`
		Avatar   string `json:"avatar"`
	}
	out := make([]participant, 0, len(apps))
	for _, a := range apps {
		name := a.Player.Name
		if a.RealName != "" {
			name = a.RealName
		}
		out = append(out, participant{PlayerID: a.PlayerID, Name: name, Avatar: a.Player.Avatar})
	}
	return c.JSON(out)
}
