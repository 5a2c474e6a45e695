package controller

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/models"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/service"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/util"
)

type Controller struct {
	zapLogger   *zap.SugaredLogger
	authService *service.AuthService
}

func NewController(logger *zap.SugaredLogger, authService *service.AuthService) *Controller {
	return &Controller{
		zapLogger:   logger,
		authService: authService,
	}
}

// (GET /api/ping).
func (c *Controller) CheckServer(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, "ok")
}

// (POST /auth/signin).
func (c *Controller) SignIn(ctx echo.Context) error {
	var req models.SignInRequest
	if err := bindAndValidate(ctx, &req); err != nil {
		return err
	}

	resp, err := c.authService.SignIn(ctx.Request().Context(), req, DeviceFromRequest(ctx))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, resp)
}

// (POST /auth/refresh-token).
// The refresh token travels in X-Refresh-Token, never in Authorization.
func (c *Controller) RefreshToken(ctx echo.Context) error {
	token := ctx.Request().Header.Get(models.RefreshTokenHeader)
	if token == "" {
		return util.NewBadRequest("%s header is required", models.RefreshTokenHeader)
	}

	device := DeviceFromRequest(ctx)
	resp, err := c.authService.Refresh(ctx.Request().Context(), token, &device)
	if err != nil {
		var stale *service.StaleRotationError
		if errors.As(err, &stale) {
			SetRotationHeaders(ctx, stale.Pair)
		}
		return err
	}
	return ctx.JSON(http.StatusOK, resp)
}

// (POST /auth/logout).
func (c *Controller) Logout(ctx echo.Context) error {
	claims, err := ClaimsFrom(ctx)
	if err != nil {
		return err
	}

	all, _ := strconv.ParseBool(ctx.QueryParam("all"))
	if err := c.authService.Logout(ctx.Request().Context(), claims, all); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

// (GET /auth/heartbeat).
func (c *Controller) Heartbeat(ctx echo.Context) error {
	claims, err := ClaimsFrom(ctx)
	if err != nil {
		return err
	}

	device := DeviceFromRequest(ctx)
	resp, err := c.authService.Heartbeat(ctx.Request().Context(), claims, &device)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, resp)
}

// (POST /auth/set-password).
func (c *Controller) SetPassword(ctx echo.Context) error {
	claims, err := ClaimsFrom(ctx)
	if err != nil {
		return err
	}

	var req models.SetPasswordRequest
	if err := bindAndValidate(ctx, &req); err != nil {
		return err
	}

	resp, err := c.authService.SetPassword(ctx.Request().Context(), claims, req, DeviceFromRequest(ctx))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, resp)
}

// (POST /admin/accounts/{id}/deactivate).
func (c *Controller) DeactivateAccount(ctx echo.Context) error {
	claims, err := ClaimsFrom(ctx)
	if err != nil {
		return err
	}

	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return util.NewBadRequest("invalid account id")
	}

	revoked, err := c.authService.DeactivateAccount(ctx.Request().Context(), claims, id)
	if err != nil {
		return err
	}
	c.zapLogger.Infow("Account deactivated", "accountID", id, "by", claims.AccountID, "revokedSessions", revoked)
	return ctx.JSON(http.StatusOK, models.DeactivateResponse{AccountID: id, RevokedSessions: revoked})
}

// (GET /api/me).
func (c *Controller) Me(ctx echo.Context) error {
	claims, err := ClaimsFrom(ctx)
	if err != nil {
		return err
	}

	account, err := c.authService.Profile(ctx.Request().Context(), claims)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, account)
}

func bindAndValidate(ctx echo.Context, req interface{}) error {
	if err := ctx.Bind(req); err != nil {
		return util.NewBadRequest("invalid request body")
	}
	if err := ctx.Validate(req); err != nil {
		return util.NewBadRequest("%v", err)
	}
	return nil
}

// ClaimsFrom returns the access claims stored by the bearer middleware.
func ClaimsFrom(ctx echo.Context) (*service.AccessClaims, error) {
	claims, ok := ctx.Get(models.MwClaimsKey).(*service.AccessClaims)
	if !ok || claims == nil {
		return nil, service.ErrTokenMalformed
	}
	return claims, nil
}

// DeviceFromRequest collects the connection metadata a client reports.
func DeviceFromRequest(ctx echo.Context) models.DeviceMeta {
	req := ctx.Request()
	device := models.DeviceMeta{
		UserAgent:         req.UserAgent(),
		IPAddress:         ctx.RealIP(),
		ConnectionQuality: models.ParseConnectionQuality(req.Header.Get(models.ConnectionQualityHeader)),
	}
	if ms, err := strconv.ParseInt(req.Header.Get(models.ClientRTTHeader), 10, 64); err == nil && ms >= 0 {
		device.RTT = time.Duration(ms) * time.Millisecond
	}
	return device
}

func SetRotationHeaders(ctx echo.Context, pair models.TokenPair) {
	h := ctx.Response().Header()
	h.Set(models.NewAccessTokenHeader, pair.AccessToken)
	h.Set(models.NewRefreshTokenHeader, pair.RefreshToken)
}
