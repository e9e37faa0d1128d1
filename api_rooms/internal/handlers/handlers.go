// Package handlers exposes the room service HTTP API: room lifecycle,
// the public directory, announcements, and metadata resolution.
package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"roomdeck/api_rooms/internal/resolver"
	"roomdeck/api_rooms/internal/rooms"
	"roomdeck/pkg/auth"
	"roomdeck/pkg/logging"
	"roomdeck/pkg/models"
)

// RoomHandlers contains the HTTP handlers for the room service.
type RoomHandlers struct {
	manager   *rooms.Manager
	configs   rooms.ConfigStore
	resolver  resolver.Resolver
	jwtSecret []byte
	logger    logging.Logger
}

func NewRoomHandlers(manager *rooms.Manager, configs rooms.ConfigStore, res resolver.Resolver, jwtSecret []byte, logger logging.Logger) *RoomHandlers {
	return &RoomHandlers{
		manager:   manager,
		configs:   configs,
		resolver:  res,
		jwtSecret: jwtSecret,
		logger:    logger,
	}
}

// RegisterRoutes attaches the API routes to the router.
func (h *RoomHandlers) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.POST("/room/create", h.HandleCreateRoom)
		api.GET("/room/list", h.HandleListRooms)
		api.GET("/room/:name", h.HandleGetRoom)
		api.DELETE("/room/:name", h.HandleDeleteRoom)
		api.POST("/room/:name/announce", h.HandleAnnounce)
		api.GET("/data/resolve", h.HandleResolve)
		api.POST("/auth/grant", h.HandleGrantToken)
	}
}

type createRoomRequest struct {
	Name        string `json:"name" binding:"required"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Visibility  string `json:"visibility"`
	QueueMode   string `json:"queueMode"`
	IsTemporary bool   `json:"isTemporary"`
}

// HandleCreateRoom creates and loads a new room. The creator becomes the
// owner when the request carries a logged-in session token.
func (h *RoomHandlers) HandleCreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	opts := models.RoomOptions{
		Name:        req.Name,
		Title:       req.Title,
		Description: req.Description,
		Visibility:  models.Visibility(req.Visibility),
		QueueMode:   models.QueueMode(req.QueueMode),
		IsTemporary: req.IsTemporary,
	}
	if claims := h.sessionClaims(c); claims != nil && claims.LoggedIn {
		opts.Owner = claims.UserID
	}

	room, err := h.manager.CreateRoom(c.Request.Context(), opts)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrRoomNameTaken):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"name": room.Name()})
}

// HandleListRooms returns the public room directory.
func (h *RoomHandlers) HandleListRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.manager.List()})
}

// HandleGetRoom returns the live state of one room, loading it on demand.
func (h *RoomHandlers) HandleGetRoom(c *gin.Context) {
	room, err := h.manager.GetRoom(c.Request.Context(), c.Param("name"), false)
	if err != nil {
		if errors.Is(err, models.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		h.logger.WithError(err).Error("Failed to load room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load room"})
		return
	}
	c.JSON(http.StatusOK, room.FullSync())
}

// HandleDeleteRoom unloads a room and removes its saved configuration.
func (h *RoomHandlers) HandleDeleteRoom(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Param("name")

	unloadErr := h.manager.UnloadRoom(ctx, name, rooms.UnloadReasonAdmin, false)
	configErr := h.configs.DeleteRoom(ctx, name)
	if errors.Is(unloadErr, models.ErrRoomNotFound) && errors.Is(configErr, models.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	if unloadErr != nil && !errors.Is(unloadErr, models.ErrRoomNotFound) {
		h.logger.WithError(unloadErr).Error("Failed to unload room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to unload room"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

type announceRequest struct {
	Text string `json:"text" binding:"required"`
}

// HandleAnnounce broadcasts an operator announcement to one room.
func (h *RoomHandlers) HandleAnnounce(c *gin.Context) {
	var req announceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "announcement text is required"})
		return
	}
	if err := h.manager.Announce(c.Request.Context(), c.Param("name"), req.Text); err != nil {
		h.logger.WithError(err).Error("Failed to publish announcement")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to publish announcement"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": true})
}

// HandleResolve fetches playable metadata for a (service, id) pair.
func (h *RoomHandlers) HandleResolve(c *gin.Context) {
	service := c.Query("service")
	id := c.Query("id")
	if service == "" || id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "service and id are required"})
		return
	}

	video, err := h.resolver.Resolve(c.Request.Context(), service, id)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUnsupportedService):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, models.ErrInvalidVideoID):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, models.ErrFeatureDisabled):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		case errors.Is(err, models.ErrQuotaExhausted):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		case errors.Is(err, models.ErrVideoNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			h.logger.WithError(err).Error("Metadata resolution failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "resolution failed"})
		}
		return
	}
	c.JSON(http.StatusOK, video)
}

type grantTokenRequest struct {
	UserID   string `json:"userId" binding:"required"`
	Username string `json:"username" binding:"required"`
	LoggedIn bool   `json:"loggedIn"`
}

// HandleGrantToken mints a session token. Edges require one before any
// socket traffic is accepted.
func (h *RoomHandlers) HandleGrantToken(c *gin.Context) {
	var req grantTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId and username are required"})
		return
	}
	token, err := auth.GenerateToken(req.UserID, req.Username, req.LoggedIn, h.jwtSecret, 24*time.Hour)
	if err != nil {
		h.logger.WithError(err).Error("Failed to mint session token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mint token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// sessionClaims extracts the bearer token's claims, or nil when the request
// is anonymous or the token is invalid.
func (h *RoomHandlers) sessionClaims(c *gin.Context) *auth.Claims {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil
	}
	claims, err := auth.ValidateToken(strings.TrimPrefix(header, "Bearer "), h.jwtSecret)
	if err != nil {
		return nil
	}
	return claims
}
