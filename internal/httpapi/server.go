// Package httpapi is the public HTTP surface of the gateway: the
// download routes plus a health endpoint.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"tgfilestream/internal/transfer"
	"tgfilestream/internal/upstream"
)

// Server is the Echo application.
type Server struct {
	echo     *echo.Echo
	log      *zap.Logger
	client   upstream.Client
	transfer *transfer.Transferrer

	trustForwardHeaders bool
}

// New constructs an Echo app with the download + health routes.
func New(client upstream.Client, tr *transfer.Transferrer, trustForwardHeaders bool, log *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:                e,
		log:                 log,
		client:              client,
		transfer:            tr,
		trustForwardHeaders: trustForwardHeaders,
	}
	e.Use(s.requestLogger())
	s.registerRoutes()
	return s
}

// requestLogger returns Echo middleware that logs each HTTP request.
func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			s.log.Debug("http request",
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Int("status", c.Response().Status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
			return nil
		}
	}
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/:id/:name", s.handleGet)
	s.echo.HEAD("/:id/:name", s.handleHead)
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.log.Info("shutting down http server")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		s.log.Info("http server stopped")
		return nil
	}
}

type healthResponse struct {
	Status        string      `json:"status"`
	ActiveStreams int         `json:"active_streams"`
	Connections   map[int]int `json:"connections"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:        "ok",
		ActiveStreams: s.transfer.ActiveStreams(),
		Connections:   s.transfer.PoolSizes(),
	})
}
