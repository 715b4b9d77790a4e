package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func newApp() *fiber.App {
	app := fiber.New()
	app.Use(GatewayAuthMiddleware("gw-token", "/healthz"))
	app.Get("/healthz", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/data", func(c *fiber.Ctx) error { return c.SendString("data") })
	admin := app.Group("/admin", AdminAuthMiddleware("adm-token"))
	admin.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })
	return app
}

func TestGatewayAuth(t *testing.T) {
	app := newApp()

	cases := []struct {
		name   string
		path   string
		header string
		status int
	}{
		{"health is open", "/healthz", "", fiber.StatusOK},
		{"missing token", "/data", "", fiber.StatusUnauthorized},
		{"wrong token", "/data", "Bearer nope", fiber.StatusUnauthorized},
		{"bearer token", "/data", "Bearer gw-token", fiber.StatusOK},
		{"raw token", "/data", "gw-token", fiber.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestAdminAuth(t *testing.T) {
	app := newApp()

	req := httptest.NewRequest("GET", "/admin/ping", nil)
	req.Header.Set("Authorization", "Bearer gw-token")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	req.Header.Set(AdminTokenHeader, "adm-token")
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestAdminAuthWithoutConfiguredToken(t *testing.T) {
	app := fiber.New()
	app.Get("/x", AdminAuthMiddleware(""), func(c *fiber.Ctx) error { return nil })

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set(AdminTokenHeader, "")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}
