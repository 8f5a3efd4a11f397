// Package httpapi wires the gin router: room CRUD plus the websocket
// endpoint. Request validation stays here; lifecycle logic lives in app.
package httpapi

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/coedit/coedit/internal/adapters/ws"
	"github.com/coedit/coedit/internal/config"
)

// ClientTokenMiddleware pins a per-browser token used as the connection ID.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, ctl *ws.Controller, h *Handlers) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(ClientTokenMiddleware())

	api := r.Group("/api")

	api.POST("/rooms", h.CreateRoom)
	api.GET("/rooms/:id", h.GetRoom)
	api.GET("/rooms/:id/files", h.ListFiles)

	api.GET("/rooms/:id/ws", func(c *gin.Context) {
		log.Info().Str("module", "adapters.httpapi").Str("room", c.Param("id")).Str("conn", c.GetString("client_token")).Msg("ws endpoint hit")
		ctl.HandleRoom(ctx, c)
	})

	return r
}
