// middleware/auth.go
package middleware

import (
	"crypto/subtle"
	"log"

	"github.com/gofiber/fiber/v2"
)

const AdminTokenHeader = "X-Admin-Token"

// AdminAuthMiddleware guards event administration routes.
func AdminAuthMiddleware(adminToken string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		got := c.Get(AdminTokenHeader)
		if adminToken == "" || subtle.ConstantTimeCompare([]byte(got), []byte(adminToken)) != 1 {
			log.Printf("❌ [ADMIN_AUTH] Rejected %s %s from %s", c.Method(), c.Path(), c.IP())
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":   "permission_denied",
				"message": "admin token required",
			})
		}
		c.Locals("admin", true)
		return c.Next()
	}
}
