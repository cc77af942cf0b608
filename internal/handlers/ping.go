package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Banner is the plain text served on the root path.
const Banner = "🤖 Bot de Películas y Series - Descargas ilimitadas ✅"

type PingHandler struct{}

func NewPingHandler() *PingHandler {
	return &PingHandler{}
}

func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/", h.Root)
	e.GET("/ping", h.Ping)
}

func (h *PingHandler) Root(c echo.Context) error {
	return c.String(http.StatusOK, Banner)
}

func (h *PingHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}
