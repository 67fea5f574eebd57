package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"club-tournament-backend/middleware"
	"club-tournament-backend/models"
	"club-tournament-backend/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const playerTokenTTL = 7 * 24 * time.Hour

type AuthService struct {
	DB         *gorm.DB
	AppID      string
	AppSecret  string
	HTTPClient *http.Client
}

func NewAuthService(db *gorm.DB) *AuthService {
	return &AuthService{
		DB:         db,
		AppID:      os.Getenv("WX_APP_ID"),
		AppSecret:  os.Getenv("WX_APP_SECRET"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type loginRequest struct {
	Code string `json:"code,omitempty"`
}

// Login handles POST /api/auth/login. The openid comes from the WeChat Cloud
// Hosting header when present (most reliable in production), else from a
// jscode2session exchange with the client's login code. The player row is
// created on first login.
func (s *AuthService) Login(c *fiber.Ctx) error {
	var req loginRequest
	_ = c.BodyParser(&req) // body is optional when the header is present

	openID := c.Get("X-WX-Openid")
	if openID == "" && req.Code != "" {
		var err error
		openID, err = s.exchangeCode(c.UserContext(), req.Code)
		if err != nil {
			log.Printf("[AUTH] jscode2session failed: %v", err)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"code": "WECHAT_LOGIN_FAILED", "error": "failed to resolve openid",
			})
		}
	}
	if openID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"code": "VALIDATION", "error": "missing code or openid",
		})
	}

	var player models.Player
	err := s.DB.WithContext(c.UserContext()).Where("openid = ?", openID).First(&player).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		player = models.Player{
			ID:     uuid.NewString(),
			OpenID: openID,
			Name:   "User_" + shortID(openID),
			Role:   models.RoleUser,
		}
		if err := s.DB.WithContext(c.UserContext()).Create(&player).Error; err != nil {
			return respondError(c, err)
		}
	} else if err != nil {
		return respondError(c, err)
	}

	token, err := middleware.GenerateToken(player.ID, player.Role, player.OpenID, playerTokenTTL)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"token": token, "player": player})
}

// exchangeCode resolves a mini-program login code to an openid.
func (s *AuthService) exchangeCode(ctx context.Context, code string) (string, error) {
	if s.AppID == "" || s.AppSecret == "" {
		return "", fmt.Errorf("WX_APP_ID / WX_APP_SECRET not configured")
	}
	u := fmt.Sprintf(
		"https://api.weixin.qq.com/sns/jscode2session?appid=%s&secret=%s&js_code=%s&grant_type=authorization_code",
		url.QueryEscape(s.AppID), url.QueryEscape(s.AppSecret), url.QueryEscape(code),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var body struct {
		OpenID  string `json:"openid"`
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if body.OpenID == "" {
		return "", fmt.Errorf("wechat error %d: %s", body.ErrCode, body.ErrMsg)
	}
	return body.OpenID, nil
}

type phoneRequest struct {
	Code string `json:"code" validate:"required"`
}

// GetPhoneNumber handles POST /api/auth/phone: exchanges the phone-number
// code via the WeChat business API and stores the number on the caller.
func (s *AuthService) GetPhoneNumber(c *fiber.Ctx) error {
	var req phoneRequest
	if err := utils.ParseAndValidate(c, &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"code": "VALIDATION", "error": err.Error()})
	}

	phone, err := s.fetchPhoneNumber(c.UserContext(), req.Code)
	if err != nil {
		log.Printf("[AUTH] phone number exchange failed: %v", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"code": "WECHAT_API_FAILED", "error": "failed to fetch phone number",
		})
	}

	if id := callerID(c); id != "" {
		if err := s.DB.WithContext(c.UserContext()).
			Model(&models.Player{}).Where("id = ?", id).
			Update("phone", phone).Error; err != nil {
			return respondError(c, err)
		}
	}
	return c.JSON(fiber.Map{"phone": phone})
}

func (s *AuthService) fetchPhoneNumber(ctx context.Context, code string) (string, error) {
	if s.AppID == "" || s.AppSecret == "" {
		return "", fmt.Errorf("WX_APP_ID / WX_APP_SECRET not configured")
	}

	tokenURL := fmt.Sprintf(
		"https://api.weixin.qq.com/cgi-bin/token?grant_type=client_credential&appid=%s&secret=%s",
		url.QueryEscape(s.AppID), url.QueryEscape(s.AppSecret),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var tokenBody struct {
		AccessToken string `json:"access_token"`
		ErrMsg      string `json:"errmsg"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenBody); err != nil {
		return "", err
	}
	if tokenBody.AccessToken == "" {
		return "", fmt.Errorf("no access token: %s", tokenBody.ErrMsg)
	}

	phoneURL := "https://api.weixin.qq.com/wxa/business/getuserphonenumber?access_token=" +
		url.QueryEscape(tokenBody.AccessToken)
	payload := strings.NewReader(fmt.Sprintf(`{"code":%q}`, code))
	preq, err := http.NewRequestWithContext(ctx, http.MethodPost, phoneURL, payload)
	if err != nil {
		return "", err
	}
	preq.Header.Set("Content-Type", "application/json")
	presp, err := s.HTTPClient.Do(preq)
	if err != nil {
		return "", err
	}
	defer presp.Body.Close()

	var phoneBody struct {
		ErrCode   int    `json:"errcode"`
		ErrMsg    string `json:"errmsg"`
		PhoneInfo *struct {
			PhoneNumber string `json:"phoneNumber"`
		} `json:"phone_info"`
	}
	if err := json.NewDecoder(presp.Body).Decode(&phoneBody); err != nil {
		return "", err
	}
	if phoneBody.ErrCode != 0 || phoneBody.PhoneInfo == nil {
		return "", fmt.Errorf("wechat error %d: %s", phoneBody.ErrCode, phoneBody.ErrMsg)
	}
	return phoneBody.PhoneInfo.PhoneNumber, nil
}

type updateProfileRequest struct {
	Name     *string `json:"name,omitempty" validate:"omitempty,max=64"`
	Avatar   *string `json:"avatar,omitempty" validate:"omitempty,url"`
	Gender   *string `json:"gender,omitempty" validate:"omitempty,oneof=MALE FEMALE"`
	Birthday *string `json:"birthday,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Region   *string `json:"region,omitempty" validate:"omitempty,max=64"`
	RealName *string `json:"realName,omitempty" validate:"omitempty,max=64"`
	IDCard   *string `json:"idCard,omitempty" validate:"omitempty,len=18"`
	Phone    *string `json:"phone,omitempty" validate:"omitempty,max=20"`
}

// UpdateProfile handles PUT /api/players/:id (self or admin).
func (s *AuthService) UpdateProfile(c *fiber.Ctx) error {
	id := c.Params("id")
	if id != callerID(c) && callerRole(c) != models.RoleAdmin && callerRole(c) != models.RoleSuperAdmin {
		return respondError(c, ErrForbidden)
	}

	var req updateProfileRequest
	if err := utils.ParseAndValidate(c, &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"code": "VALIDATION", "error": err.Error()})
	}

	updates := map[string]interface{}{}
	setIf(updates, "name", req.Name)
	setIf(updates, "avatar", req.Avatar)
	setIf(updates, "gender", req.Gender)
	setIf(updates, "region", req.Region)
	setIf(updates, "real_name", req.RealName)
	setIf(updates, "id_card", req.IDCard)
	setIf(updates, "phone", req.Phone)
	if req.Birthday != nil {
		day, _ := time.Parse("2006-01-02", *req.Birthday)
		updates["birthday"] = day
	}
	if len(updates) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"code": "VALIDATION", "error": "no fields to update"})
	}

	var player models.Player
	if err := s.DB.WithContext(c.UserContext()).First(&player, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return respondError(c, ErrPlayerNotFound)
		}
		return respondError(c, err)
	}
	if err := s.DB.WithContext(c.UserContext()).Model(&player).Updates(updates).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return respondError(c, ErrIDCardConflict)
		}
		return respondError(c, err)
	}
	return c.JSON(player)
}

// SearchPlayers handles GET /api/players/search?query= (name, real name or
// phone; first 10 matches).
func (s *AuthService) SearchPlayers(c *fiber.Ctx) error {
	query := c.Query("query")
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"code": "VALIDATION", "error": "query parameter is required"})
	}
	like := "%" + query + "%"
	var players []models.Player
	err := s.DB.WithContext(c.UserContext()).
		Select("id", "name", "real_name", "avatar", "gender").
		Where("name LIKE ? OR real_name LIKE ? OR phone LIKE ?", like, like, like).
		Limit(10).
		Find(&players).Error
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(players)
}

// UploadAvatar handles POST /api/players/avatar (multipart "avatar" field).
func (s *AuthService) UploadAvatar(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("avatar")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"code": "VALIDATION", "error": "avatar file is required"})
	}
	ext := filepath.Ext(fileHeader.Filename)
	if ext == "" {
		ext = ".jpg"
	}
	key := "avatars/" + uuid.NewString() + ext
	avatarURL, err := utils.UploadFileToR2(fileHeader, key)
	if err != nil {
		log.Printf("[UPLOAD] avatar upload failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"code": "UPLOAD_FAILED", "error": "failed to upload avatar"})
	}

	err = s.DB.WithContext(c.UserContext()).
		Model(&models.Player{}).Where("id = ?", callerID(c)).
		Update("avatar", avatarURL).Error
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"avatar": avatarURL})
}

func setIf(updates map[string]interface{}, column string, v *string) {
	if v != nil {
		updates[column] = *v
	}
}

func shortID(openID string) string {
	if len(openID) > 6 {
		return openID[:6]
	}
	return openID
}
