package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/coedit/coedit/internal/core"
	"github.com/coedit/coedit/internal/domain"
)

type Handlers struct {
	rooms        core.RoomStore
	files        core.FileStore
	storeTimeout time.Duration
}

func NewHandlers(rooms core.RoomStore, files core.FileStore, storeTimeout time.Duration) *Handlers {
	return &Handlers{rooms: rooms, files: files, storeTimeout: storeTimeout}
}

type createRoomRequest struct {
	ID       string `json:"id"`
	Username string `json:"username" binding:"required"`
}

// CreateRoom claims a room for its creator. This is the only way a record
// comes into existence; sessions never materialize rooms on their own.
func (h *Handlers) CreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid username"})
		return
	}

	user, err := domain.NewUser(req.Username)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	rec := &domain.RoomRecord{
		ID:           domain.RoomID(id),
		LastActivity: time.Now(),
		Users:        map[string]string{string(user.ID): user.Username},
		IsEditable:   true,
		EditorMode:   domain.EditorModePlain,
		CreatorID:    string(user.ID),
	}

	ctx, cancel := h.ctx(c)
	defer cancel()
	if err := h.rooms.CreateRoom(ctx, rec); err != nil {
		log.Error().Err(err).Str("module", "adapters.httpapi").Str("room", id).Msg("room create failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "room create failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"room_id": id, "creator_id": user.ID})
}

func (h *Handlers) GetRoom(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()

	rec, err := h.rooms.FindRoom(ctx, domain.RoomID(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handlers) ListFiles(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()

	files, err := h.files.ListFiles(ctx, domain.RoomID(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

func (h *Handlers) ctx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.storeTimeout)
}
