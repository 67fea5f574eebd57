package services

import (
	"errors"
	"log"
	"time"

	"club-tournament-backend/middleware"
	"club-tournament-backend/models"
	"club-tournament-backend/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const adminTokenTTL = 24 * time.Hour

type AdminService struct {
	DB *gorm.DB
}

func NewAdminService(db *gorm.DB) *AdminService {
	return &AdminService{DB: db}
}

type adminLoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Login handles POST /api/admin/login.
func (s *AdminService) Login(c *fiber.Ctx) error {
	var req adminLoginRequest
	if err := utils.ParseAndValidate(c, &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"code": "VALIDATION", "error": err.Error()})
	}

	var admin models.AdminUser
	err := s.DB.WithContext(c.UserContext()).Where("username = ?", req.Username).First(&admin).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return respondError(c, ErrInvalidCredentials)
	}
	if err != nil {
		return respondError(c, err)
	}
	if bcrypt.CompareHashAndPassword([]byte(admin.Password), []byte(req.Password)) != nil {
		return respondError(c, ErrInvalidCredentials)
	}

	token, err := middleware.GenerateToken(admin.ID, admin.Role, "", adminTokenTTL)
	if err != nil {
		return respondError(c, err)
	}
	log.Printf("[ADMIN] %s logged in", admin.Username)
	return c.JSON(fiber.Map{
		"token": token,
		"admin": fiber.Map{"id": admin.ID, "username": admin.Username, "role": admin.Role},
	})
}

type createAdminRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"omitempty,oneof=ADMIN SUPER_ADMIN"`
}

// CreateAdmin handles POST /api/admin/users (super admin only).
func (s *AdminService) CreateAdmin(c *fiber.Ctx) error {
	var req createAdminRequest
	if err := utils.ParseAndValidate(c, &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"code": "VALIDATION", "error": err.Error()})
	}
	if req.Role == "" {
		req.Role = models.RoleAdmin
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return respondError(c, err)
	}
	admin := models.AdminUser{
		ID:       uuid.NewString(),
		Username: req.Username,
		Password: string(hash),
		Role:     req.Role,
	}
	if err := s.DB.WithContext(c.UserContext()).Create(&admin).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"code": "USERNAME_TAKEN", "error": "username is already taken",
			})
		}
		return respondError(c, err)
	}
	log.Printf("[ADMIN] account %s (%s) created by %s", admin.Username, admin.Role, callerID(c))
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id": admin.ID, "username": admin.Username, "role": admin.Role,
	})
}

type setRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=USER REFEREE ADMIN"`
}

// SetPlayerRole handles PUT /api/admin/players/:id/role (super admin only).
// Used mainly to grant or revoke the REFEREE role.
func (s *AdminService) SetPlayerRole(c *fiber.Ctx) error {
	var req setRoleRequest
	if err := utils.ParseAndValidate(c, &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"code": "VALIDATION", "error": err.Error()})
	}

	res := s.DB.WithContext(c.UserContext()).
		Model(&models.Player{}).Where("id = ?", c.Params("id")).
		Update("role", req.Role)
	if res.Error != nil {
		return respondError(c, res.Error)
	}
	if res.RowsAffected == 0 {
		return respondError(c, ErrPlayerNotFound)
	}
	log.Printf("[ADMIN] player %s role set to %s by %s", c.Params("id"), req.Role, callerID(c))
	return c.JSON(fiber.Map{"id": c.Params("id"), "role": req.Role})
}

// AuditLogs handles GET /api/admin/audit-logs, most recent first.
func (s *AdminService) AuditLogs(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var logs []models.AuditLog
	q := s.DB.WithContext(c.UserContext()).
		Preload("Application").
		Order("created_at DESC").
		Limit(limit)
	if appID := c.Query("application_id"); appID != "" {
		q = q.Where("application_id = ?", appID)
	}
	if err := q.Find(&logs).Error; err != nil {
		return respondError(c, err)
	}
	return c.JSON(logs)
}
