package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/gema-chat/internal/models"
	"github.com/noah-isme/gema-chat/internal/utils"
)

const (
	// IdentityLocal is the fiber locals key holding the resolved models.Identity.
	IdentityLocal    = "identity"
	defaultGuestName = "Guest"
	maxNameLength    = 64
)

// Identity resolves the viewer of a request. A bearer token (header, or the
// "token" query parameter for websocket upgrades) yields a stable identity;
// without one the viewer is a guest named by the "name" query parameter.
// Presented tokens must be valid.
func Identity(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := bearerToken(c)
		if tokenString == "" {
			c.Locals(IdentityLocal, models.Identity{DisplayName: guestName(c.Query("name"))})
			return c.Next()
		}

		if secret == "" {
			return utils.Fail(c, fiber.StatusUnauthorized, "token authentication is disabled", nil)
		}

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method")
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			return utils.Fail(c, fiber.StatusUnauthorized, "invalid token", nil)
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return utils.Fail(c, fiber.StatusUnauthorized, "invalid token claims", nil)
		}

		identity, ok := identityFromClaims(claims)
		if !ok {
			return utils.Fail(c, fiber.StatusUnauthorized, "token has no subject", nil)
		}

		c.Locals(IdentityLocal, identity)
		c.Locals("user_id", identity.StableID)
		return c.Next()
	}
}

// CurrentIdentity returns the viewer resolved by Identity, or an anonymous guest.
func CurrentIdentity(c *fiber.Ctx) models.Identity {
	if value, ok := c.Locals(IdentityLocal).(models.Identity); ok {
		return value
	}
	return models.Identity{DisplayName: defaultGuestName}
}

func bearerToken(c *fiber.Ctx) string {
	authorization := strings.TrimSpace(c.Get("Authorization"))
	const bearer = "bearer "
	if len(authorization) > len(bearer) && strings.EqualFold(authorization[:len(bearer)], bearer) {
		return strings.TrimSpace(authorization[len(bearer):])
	}
	return strings.TrimSpace(c.Query("token"))
}

func identityFromClaims(claims jwt.MapClaims) (models.Identity, bool) {
	subject, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(subject) == "" {
		return models.Identity{}, false
	}

	name := ""
	for _, key := range []string{"name", "email"} {
		if value, ok := claims[key].(string); ok && strings.TrimSpace(value) != "" {
			name = strings.TrimSpace(value)
			break
		}
	}
	if name == "" {
		name = subject
	}

	return models.Identity{StableID: strings.TrimSpace(subject), DisplayName: truncate(name)}, true
}

func guestName(raw string) string {
	name := strings.TrimSpace(raw)
	if name == "" {
		return defaultGuestName
	}
	return truncate(name)
}

func truncate(name string) string {
	runes := []rune(name)
	if len(runes) > maxNameLength {
		return string(runes[:maxNameLength])
	}
	return name
}
