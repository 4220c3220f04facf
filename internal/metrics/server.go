package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	echo "github.com/labstack/echo/v4"
)

// Server exposes the process counters and a health probe over HTTP.
type Server struct {
	echo *echo.Echo
}

func NewServer() *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{echo: e}
	srv.configureRoutes()

	return srv
}

// Start starts the HTTP server.
func (srv *Server) Start(address string) error {
	return srv.echo.Start(address)
}

// Shutdown shuts down the HTTP server.
func (srv *Server) Shutdown(ctx context.Context) error {
	return srv.echo.Shutdown(ctx)
}

func (srv *Server) Health(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func (srv *Server) configureRoutes() {
	srv.echo.GET("/healthz", srv.Health)
	srv.echo.GET("/", srv.Health)
	srv.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}
