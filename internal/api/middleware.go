package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/controller"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/models"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/service"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/storage"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/util"
)

const bearerPrefix = "Bearer "

// APIKeyAuthMiddleware rejects requests whose X-API-Key is not one of the known client keys.
func APIKeyAuthMiddleware(apiKeyRepo storage.APIKeyRepository) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			apiKey := c.Request().Header.Get(models.APIKeyHeader)
			if apiKey == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "API key is missing")
			}

			ok, err := apiKeyRepo.IsValidAPIKey(c.Request().Context(), apiKey)
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "Error validating API key")
			}
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid API key")
			}

			return next(c)
		}
	}
}

// BearerAuthMiddleware verifies the access token and stores its claims in the context.
func BearerAuthMiddleware(auth *service.AuthService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(header, bearerPrefix) {
				return service.ErrTokenMalformed
			}

			claims, err := auth.Authenticate(strings.TrimPrefix(header, bearerPrefix))
			if err != nil {
				return err
			}

			c.Set(models.MwClaimsKey, claims)
			return next(c)
		}
	}
}

// CourtesyRotationMiddleware confirms a previously pushed pair when its access
// token comes back, and rotates the session when the access token is close
// to expiry and the client attached its refresh token. The new pair is
// returned in X-New-Access-Token / X-New-Refresh-Token; failures never fail
// the request itself.
func CourtesyRotationMiddleware(auth *service.AuthService, log *zap.SugaredLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, err := controller.ClaimsFrom(c)
			if err != nil {
				return next(c)
			}
			if err := auth.ConfirmRotation(c.Request().Context(), claims); err != nil {
				log.Warnw("rotation confirmation failed", "sessionID", claims.SessionID, "error", err)
			}

			refresh := c.Request().Header.Get(models.RefreshTokenHeader)
			if refresh == "" {
				return next(c)
			}

			device := controller.DeviceFromRequest(c)
			pair, err := auth.CourtesyRotate(c.Request().Context(), claims, refresh, &device)
			if err != nil {
				log.Infow("courtesy rotation skipped", "sessionID", claims.SessionID, "error", err)
			} else if pair != nil {
				controller.SetRotationHeaders(c, *pair)
			}
			return next(c)
		}
	}
}

// RateLimiterMiddleware throttles sign-in and refresh per client IP.
func RateLimiterMiddleware(cfg *util.RateLimiterConfig) echo.MiddlewareFunc {
	perSecond := rate.Limit(float64(cfg.Limit) / cfg.Interval.Seconds())
	store := echomiddleware.NewRateLimiterMemoryStoreWithConfig(echomiddleware.RateLimiterMemoryStoreConfig{
		Rate:      perSecond,
		Burst:     cfg.Limit,
		ExpiresIn: cfg.BlockTime,
	})
	return echomiddleware.RateLimiterWithConfig(echomiddleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		},
	})
}

func GetLoggerMiddlewareConfig(a *API) echomiddleware.RequestLoggerConfig {
	return echomiddleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogError:    true,
		LogLatency:  true,
		HandleError: true,

		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := []interface{}{
				"method", c.Request().Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
				a.log.Errorw("Request", fields...)
			} else {
				a.log.Infow("Request", fields...)
			}
			return nil
		},
	}
}
