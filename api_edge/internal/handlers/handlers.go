// Package handlers exposes the edge's websocket entrypoint and its
// operational endpoints.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"roomdeck/api_edge/internal/clients"
	"roomdeck/pkg/logging"
)

// EdgeHandlers contains the HTTP handlers for the edge service.
type EdgeHandlers struct {
	manager   *clients.ClientManager
	logger    logging.Logger
	startTime time.Time
}

func NewEdgeHandlers(manager *clients.ClientManager, logger logging.Logger) *EdgeHandlers {
	return &EdgeHandlers{
		manager:   manager,
		logger:    logger,
		startTime: time.Now(),
	}
}

// RegisterRoutes attaches the edge routes to the router.
func (h *EdgeHandlers) RegisterRoutes(router *gin.Engine) {
	router.GET("/api/room/:name", h.HandleRoomSocket)
	router.GET("/api/status", h.HandleStatus)
}

// HandleRoomSocket serves the websocket connection for one room.
func (h *EdgeHandlers) HandleRoomSocket(c *gin.Context) {
	h.manager.ServeWS(c.Writer, c.Request, c.Param("name"))
}

// HandleStatus reports connection statistics.
func (h *EdgeHandlers) HandleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"uptime":     time.Since(h.startTime).String(),
		"websockets": h.manager.GetStats(),
	})
}
