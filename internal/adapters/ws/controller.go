package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/coedit/coedit/internal/app"
	"github.com/coedit/coedit/internal/core"
	"github.com/coedit/coedit/internal/domain"
)

type Controller struct {
	cache        *app.SessionCache
	rooms        core.RoomStore
	readLimit    int64
	storeTimeout time.Duration
	upgrader     websocket.Upgrader
}

func NewController(cache *app.SessionCache, rooms core.RoomStore, readLimit int64, storeTimeout time.Duration) *Controller {
	return &Controller{
		cache:        cache,
		rooms:        rooms,
		readLimit:    readLimit,
		storeTimeout: storeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// HandleRoom upgrades the request and attaches the connection to the room's
// session. The session must exist in the record store before anyone connects.
func (ctl *Controller) HandleRoom(ctx context.Context, c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))

	session, err := ctl.cache.Acquire(c.Request.Context(), roomID)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		log.Error().Err(err).Str("module", "adapters.ws").Str("room", string(roomID)).Msg("session acquire failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session unavailable"})
		return
	}

	raw, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.ws").Str("room", string(roomID)).Msg("upgrade failed")
		return
	}
	raw.SetReadLimit(ctl.readLimit)

	// The connection ID is minted per upgrade, not taken from the browser
	// cookie: two tabs sharing one cookie are two independent subscribers.
	connID := core.ConnID(uuid.NewString())
	conn := NewConn(connID, raw)
	log.Info().Str("module", "adapters.ws").Str("room", string(roomID)).Str("conn", string(connID)).Str("client", c.GetString("client_token")).Msg("client connected")

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	conn.StartWriteLoop(connCtx)

	if _, err := ctl.cache.Attach(c.Request.Context(), roomID, conn); err != nil {
		conn.Close()
		return
	}
	defer func() {
		ctl.cache.Release(roomID, connID)
		conn.Close()
	}()

	ctl.sendJSON(conn, Envelope{
		Type:  TypeLoad,
		Text:  session.Doc.Text(),
		State: session.Doc.EncodeState(),
	})

	ctl.readPump(connCtx, roomID, conn)
}

func (ctl *Controller) readPump(ctx context.Context, roomID domain.RoomID, conn *Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := conn.conn.ReadMessage()
			if err != nil {
				return
			}
			ctl.handleFrame(roomID, conn, data)
		}
	}
}

func (ctl *Controller) handleFrame(roomID domain.RoomID, conn *Conn, data []byte) {
	var env Envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "adapters.ws").Str("room", string(roomID)).Msg("bad frame")
		return
	}

	switch env.Type {
	case TypeUpdate:
		ctl.handleUpdate(roomID, conn, env)
	case TypeChat:
		ctl.handleChat(roomID, conn, env)
	case TypeEditable:
		ctl.handleEditable(roomID, conn, env)
	case TypeJoin:
		ctl.handleJoin(roomID, conn, env)
	case TypePing:
		ctl.sendJSON(conn, Envelope{Type: TypePong})
	default:
		log.Warn().Str("module", "adapters.ws").Str("type", env.Type).Msg("unknown frame type")
	}
}

func (ctl *Controller) handleUpdate(roomID domain.RoomID, conn *Conn, env Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), ctl.storeTimeout)
	defer cancel()

	session, err := ctl.cache.ApplyIncomingUpdate(ctx, roomID, env.Update)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			conn.NotifyRoomDeleted()
			return
		}
		log.Error().Err(err).Str("module", "adapters.ws").Str("room", string(roomID)).Msg("update rejected")
		return
	}
	ctl.broadcastJSON(session, conn.ID(), Envelope{Type: TypeUpdate, Update: env.Update})
}

func (ctl *Controller) handleChat(roomID domain.RoomID, conn *Conn, env Envelope) {
	msg := domain.ChatMessage{
		UserID:   env.UserID,
		Username: env.Username,
		Body:     env.Body,
		SentAt:   time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctl.storeTimeout)
	defer cancel()
	if err := ctl.rooms.AppendMessage(ctx, roomID, msg); err != nil {
		log.Warn().Err(err).Str("module", "adapters.ws").Str("room", string(roomID)).Msg("chat append failed")
		return
	}
	ctl.touchRoom(ctx, roomID)

	if session, err := ctl.cache.Acquire(ctx, roomID); err == nil {
		ctl.broadcastJSON(session, conn.ID(), env)
	}
}

func (ctl *Controller) handleEditable(roomID domain.RoomID, conn *Conn, env Envelope) {
	if env.Editable == nil {
		return
	}
	mode := domain.EditorMode(env.Mode)
	if mode == "" {
		mode = domain.EditorModePlain
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctl.storeTimeout)
	defer cancel()
	if err := ctl.rooms.SetEditable(ctx, roomID, *env.Editable, mode); err != nil {
		log.Warn().Err(err).Str("module", "adapters.ws").Str("room", string(roomID)).Msg("editable toggle failed")
		return
	}
	ctl.touchRoom(ctx, roomID)

	if session, err := ctl.cache.Acquire(ctx, roomID); err == nil {
		ctl.broadcastJSON(session, conn.ID(), env)
	}
}

func (ctl *Controller) handleJoin(roomID domain.RoomID, conn *Conn, env Envelope) {
	user, err := domain.NewUser(env.Username)
	if err != nil {
		ctl.sendJSON(conn, Envelope{Type: TypeError, Body: err.Error()})
		return
	}
	if env.UserID != "" {
		user.ID = domain.UserID(env.UserID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctl.storeTimeout)
	defer cancel()
	if err := ctl.rooms.AddUser(ctx, roomID, string(user.ID), user.Username); err != nil {
		log.Warn().Err(err).Str("module", "adapters.ws").Str("room", string(roomID)).Msg("join failed")
		return
	}
	ctl.touchRoom(ctx, roomID)

	if session, err := ctl.cache.Acquire(ctx, roomID); err == nil {
		ctl.broadcastJSON(session, conn.ID(), Envelope{Type: TypeJoin, UserID: string(user.ID), Username: user.Username})
	}
}

// touchRoom refreshes activity in both places the sweep paths read it from:
// the durable record (reaper cutoff) and the live session (idle sweeper).
func (ctl *Controller) touchRoom(ctx context.Context, roomID domain.RoomID) {
	if err := ctl.rooms.TouchActivity(ctx, roomID); err != nil {
		log.Warn().Err(err).Str("module", "adapters.ws").Str("room", string(roomID)).Msg("activity touch failed")
	}
	ctl.cache.Touch(roomID)
}

func (ctl *Controller) sendJSON(conn *Conn, v Envelope) {
	data, err := sonic.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.ws").Msg("sendJSON marshal")
		return
	}
	_ = conn.TrySend(core.Frame(data))
}

func (ctl *Controller) broadcastJSON(session *app.Session, from core.ConnID, v Envelope) {
	data, err := sonic.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.ws").Msg("broadcast marshal")
		return
	}
	session.Broadcast(from, core.Frame(data))
}
