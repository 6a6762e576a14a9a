// Package transport serves local media and pushes engine events to UI
// clients over a websocket.
package transport

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type Server struct {
	echo *echo.Echo
	hub  *Hub
	addr string
	log  zerolog.Logger
}

// NewServer wires the routes:
//
//	GET /ws        event stream and transport commands
//	GET /video/*   local media files, by absolute path
//	GET /healthz   liveness
//	GET /*         frontend build, when frontendDir is set
func NewServer(addr, frontendDir string, hub *Hub, log zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, hub: hub, addr: addr, log: log}

	e.GET("/ws", func(c echo.Context) error {
		return hub.ServeWS(c.Response(), c.Request())
	})
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"status": "ok", "clients": hub.Clients()})
	})
	e.GET("/video/*", s.serveMedia)

	if frontendDir != "" {
		e.Static("/", frontendDir)
	}
	return s
}

// serveMedia maps /video/C:/Path/To/File.mp4 to the file on disk.
func (s *Server) serveMedia(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderAccessControlAllowOrigin, "*")

	raw := c.Param("*")
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid path encoding")
	}
	path := filepath.FromSlash(decoded)
	if !filepath.IsAbs(path) {
		path = string(filepath.Separator) + path
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		s.log.Debug().Str("path", path).Msg("media not found")
		return echo.NewHTTPError(http.StatusNotFound, "media not found")
	}
	return c.File(path)
}

// Handler exposes the router, e.g. for the desktop asset server.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.addr).Msg("media server listening")
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "media server")
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.echo.Shutdown(ctx)
}
