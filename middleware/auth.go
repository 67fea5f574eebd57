package middleware

import (
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
)

const (
	roleUser       = "USER"
	roleReferee    = "REFEREE"
	roleAdmin      = "ADMIN"
	roleSuperAdmin = "SUPER_ADMIN"
)

// Claims carries the caller's identity. Player tokens include the WeChat
// openid; backoffice admin tokens do not.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	OpenID string `json:"openid,omitempty"`
	jwt.RegisteredClaims
}

func jwtSecret() []byte {
	if s := os.Getenv("JWT_SECRET"); s != "" {
		return []byte(s)
	}
	return []byte("dev-secret-change-me")
}

// GenerateToken issues a signed token for a player or admin.
func GenerateToken(userID, role, openID string, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID: userID,
		Role:   role,
		OpenID: openID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret())
}

// RequireAuth verifies the Bearer token and attaches the caller's identity to
// the request context.
func RequireAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing bearer token"})
		}

		claims := &Claims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			return jwtSecret(), nil
		})
		if err != nil || !parsed.Valid {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "invalid or expired token"})
		}

		c.Locals("user_id", claims.UserID)
		c.Locals("role", claims.Role)
		c.Locals("openid", claims.OpenID)
		return c.Next()
	}
}

// RequireAdmin allows ADMIN and SUPER_ADMIN callers.
func RequireAdmin() fiber.Handler {
	return requireRoles(roleAdmin, roleSuperAdmin)
}

// RequireSuperAdmin allows SUPER_ADMIN callers only.
func RequireSuperAdmin() fiber.Handler {
	return requireRoles(roleSuperAdmin)
}

// RequireReferee allows referees and above to record scores.
func RequireReferee() fiber.Handler {
	return requireRoles(roleReferee, roleAdmin, roleSuperAdmin)
}

func requireRoles(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, _ := c.Locals("role").(string)
		for _, r := range roles {
			if role == r {
				return c.Next()
			}
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "insufficient role"})
	}
}
