package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/models"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/service"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/storage"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/util"
)

// ErrorHandler turns handler errors into {"reason": ...} bodies. Session and
// token rejections become 401 with a machine-readable reason code.
func ErrorHandler(log *zap.SugaredLogger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, reason := classify(err)
		if status >= http.StatusInternalServerError {
			log.Errorw("unhandled error", "error", err, "uri", c.Request().RequestURI)
		} else if status == http.StatusUnauthorized {
			log.Debugw("request rejected", "reason", reason, "uri", c.Request().RequestURI)
		}

		if werr := c.JSON(status, models.ErrorResponse{Reason: reason}); werr != nil {
			log.Errorw("failed to write json response", "error", werr)
		}
	}
}

func classify(err error) (int, string) {
	if reason, ok := service.Rejection(err); ok {
		return http.StatusUnauthorized, reason
	}

	switch {
	case errors.Is(err, service.ErrAccountInactive):
		return http.StatusForbidden, "account_inactive"
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, service.ErrPasswordPolicy):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, storage.ErrAccountNotFound):
		return http.StatusNotFound, "account not found"
	}

	var customErr util.MyResponseError
	if errors.As(err, &customErr) {
		return customErr.Status, customErr.Msg
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, ok := he.Message.(string)
		if !ok {
			msg = fmt.Sprint(he.Message)
		}
		return he.Code, msg
	}

	return http.StatusInternalServerError, "internal server error"
}
