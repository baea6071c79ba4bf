package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"golang.org/x/crypto/bcrypt"

	"github.com/ManuelReschke/DuesFox/internal/pkg/env"
)

// AdminCredentials hold the operator login for the admin API. PasswordHash is
// a bcrypt hash.
type AdminCredentials struct {
	User         string
	PasswordHash string
}

// AdminCredentialsFromEnv reads ADMIN_USER and ADMIN_PASSWORD_HASH.
func AdminCredentialsFromEnv() AdminCredentials {
	return AdminCredentials{
		User:         strings.TrimSpace(env.GetEnv("ADMIN_USER", "admin")),
		PasswordHash: strings.TrimSpace(env.GetEnv("ADMIN_PASSWORD_HASH", "")),
	}
}

// HashPassword returns the bcrypt hash to put into ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// RequireAdmin protects a route group with HTTP basic auth. Without a
// configured hash every request is rejected.
func RequireAdmin(creds AdminCredentials) fiber.Handler {
	if creds.PasswordHash == "" {
		log.Warn("[Auth] ADMIN_PASSWORD_HASH is empty, admin API is locked")
	}
	return basicauth.New(basicauth.Config{
		Realm: "DuesFox Admin",
		Authorizer: func(user, pass string) bool {
			if creds.PasswordHash == "" {
				return false
			}
			if subtle.ConstantTimeCompare([]byte(user), []byte(creds.User)) != 1 {
				return false
			}
			return bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(pass)) == nil
		},
		Unauthorized: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderWWWAuthenticate, `Basic realm="DuesFox Admin"`)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "login required",
			})
		},
	})
}
