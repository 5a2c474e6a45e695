package api

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	middleware "github.com/oapi-codegen/echo-middleware"
	"go.uber.org/zap"

	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/controller"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/service"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/storage"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/util"
)

const (
	shutdownTimeout = 5 * time.Second
)

type API struct {
	server           *echo.Echo
	controller       *controller.Controller
	authService      *service.AuthService
	log              *zap.SugaredLogger
	gracefulTimeout  time.Duration
	apiKeyRepository storage.APIKeyRepository
	rateLimiter      *util.RateLimiterConfig
	cleanupFuncs     []func()
}

func NewAPI(
	c *controller.Controller,
	authService *service.AuthService,
	apiKeyRepository storage.APIKeyRepository,
	sc *util.ServerConfig,
	rl *util.RateLimiterConfig,
	l *zap.SugaredLogger,
	cleanupFuncs []func(),
) *API {
	e := echo.New()
	e.HideBanner = true

	e.Server.Addr = sc.ServerAddr
	e.Server.WriteTimeout = sc.WriteTimeout
	e.Server.ReadTimeout = sc.ReadTimeout
	e.Server.IdleTimeout = sc.IdleTimeout
	e.HTTPErrorHandler = ErrorHandler(l)
	e.Validator = NewRequestValidator()

	return &API{
		server:           e,
		controller:       c,
		authService:      authService,
		log:              l,
		gracefulTimeout:  sc.GracefulTimeout,
		apiKeyRepository: apiKeyRepository,
		rateLimiter:      rl,
		cleanupFuncs:     cleanupFuncs,
	}
}

// Setup installs middleware and routes. Run calls it; tests use it with Handler.
func (a *API) Setup() error {
	swagger, err := controller.GetSwagger()
	if err != nil {
		return err
	}
	swagger.Servers = nil

	a.server.Use(echomiddleware.Recover())
	a.server.Use(echomiddleware.RequestLoggerWithConfig(GetLoggerMiddlewareConfig(a)))
	a.server.Use(APIKeyAuthMiddleware(a.apiKeyRepository))
	a.server.Use(middleware.OapiRequestValidatorWithOptions(swagger, &middleware.Options{
		Options: openapi3filter.Options{
			// X-API-Key and bearer tokens are checked by our own middleware.
			AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
		},
	}))

	controller.RegisterHandlers(a.server, a.controller, controller.Middlewares{
		Bearer:      BearerAuthMiddleware(a.authService),
		Courtesy:    CourtesyRotationMiddleware(a.authService, a.log),
		RateLimiter: RateLimiterMiddleware(a.rateLimiter),
	})
	return nil
}

func (a *API) Handler() http.Handler {
	return a.server
}

func (a *API) Run(ctxBackground context.Context) {
	ctx, stop := signal.NotifyContext(ctxBackground, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Setup(); err != nil {
		a.log.Fatalf("Failed to load OpenAPI specification: %v", err)
	}

	a.ListenGracefulShutdown(ctx)
}

func (a *API) ListenGracefulShutdown(ctx context.Context) {
	go func() {
		err := a.server.Start(a.server.Server.Addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()
	a.log.Infof("Listening on: %s", a.server.Server.Addr)

	<-ctx.Done()
	a.log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Errorf("shutdown: %v", err)
	}

	for _, cleanup := range a.cleanupFuncs {
		cleanup()
	}

	longShutdown := make(chan struct{}, 1)

	go func() {
		time.Sleep(a.gracefulTimeout)
		longShutdown <- struct{}{}
	}()

	select {
	case <-shutdownCtx.Done():
		if errors.Is(shutdownCtx.Err(), context.Canceled) {
			a.log.Info("server shutdown completed")
		} else {
			a.log.Errorf("server shutdown: %v", shutdownCtx.Err())
		}
	case <-longShutdown:
		a.log.Infof("finished")
	}
}
