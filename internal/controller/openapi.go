package controller

import (
	_ "embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/labstack/echo/v4"

	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/models"
)

//go:embed openapi.yaml
var openapiSpec []byte

// GetSwagger parses and validates the embedded OpenAPI document.
func GetSwagger() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	swagger, err := loader.LoadFromData(openapiSpec)
	if err != nil {
		return nil, fmt.Errorf("load openapi: %w", err)
	}
	if err := swagger.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("validate openapi: %w", err)
	}
	return swagger, nil
}

// Middlewares groups what RegisterHandlers needs from the api package.
type Middlewares struct {
	Bearer      echo.MiddlewareFunc
	Courtesy    echo.MiddlewareFunc
	RateLimiter echo.MiddlewareFunc
}

// RegisterHandlers wires every operation of openapi.yaml.
func RegisterHandlers(e *echo.Echo, c *Controller, mw Middlewares) {
	e.GET("/api/ping", c.CheckServer)
	e.GET(models.ProfilePath, c.Me, mw.Bearer, mw.Courtesy)

	e.POST(models.SignInPath, c.SignIn, mw.RateLimiter)
	e.POST(models.RefreshPath, c.RefreshToken, mw.RateLimiter)
	e.POST(models.LogoutPath, c.Logout, mw.Bearer)
	e.GET(models.HeartbeatPath, c.Heartbeat, mw.Bearer, mw.Courtesy)
	e.POST(models.SetPasswordPath, c.SetPassword, mw.Bearer)

	e.POST("/admin/accounts/:id/deactivate", c.DeactivateAccount, mw.Bearer, mw.Courtesy)
}
