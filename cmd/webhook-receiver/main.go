package main

import (
	"net/http"
	"os"

	"github.com/labstack/echo/v4"

	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/models"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/util"
)

// Dev receiver for security events posted by the auth service.
func main() {
	logger := util.NewZapLogger()
	defer func() { _ = logger.Sync() }()

	addr := os.Getenv("WEBHOOK_RECEIVER_ADDRESS")
	if addr == "" {
		addr = ":9090"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.POST("/*", func(c echo.Context) error {
		var event models.SecurityEvent
		if err := c.Bind(&event); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid security event")
		}

		logger.Infow("security event received",
			"type", event.Type,
			"account_id", event.AccountID,
			"session_id", event.SessionID,
			"old_ip", event.OldIP,
			"new_ip", event.NewIP,
			"user_agent", event.UserAgent,
			"occurred_at", event.OccurredAt,
		)
		return c.NoContent(http.StatusOK)
	})

	logger.Infow("webhook receiver listening", "address", addr)
	if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("webhook receiver stopped: %v", err)
	}
}
