package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/coedit/coedit/internal/core"
	"github.com/coedit/coedit/internal/domain"
)

// Reaper permanently deletes rooms inactive beyond the room TTL, cascading to
// file payloads and the state log. The TTL is deliberately much longer than
// the session cache's idle TTL: memory eviction and storage retention are two
// different lifecycles.
type Reaper struct {
	rooms   core.RoomStore
	states  core.UpdateLog
	files   core.FileStore
	roomTTL time.Duration
	timeout time.Duration

	listeners []core.DeletionListener
	cron      *cron.Cron
}

func NewReaper(rooms core.RoomStore, states core.UpdateLog, files core.FileStore, roomTTL, timeout time.Duration, listeners ...core.DeletionListener) *Reaper {
	return &Reaper{
		rooms:     rooms,
		states:    states,
		files:     files,
		roomTTL:   roomTTL,
		timeout:   timeout,
		listeners: listeners,
		cron:      cron.New(),
	}
}

// Start schedules the sweep. spec is a cron expression, "@hourly" by default.
func (r *Reaper) Start(spec string) error {
	if _, err := r.cron.AddFunc(spec, func() {
		r.Sweep(context.Background())
	}); err != nil {
		return err
	}
	r.cron.Start()
	log.Info().Str("module", "app.reaper").Str("schedule", spec).Dur("room_ttl", r.roomTTL).Msg("room reaper started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (r *Reaper) Stop() {
	<-r.cron.Stop().Done()
	log.Info().Str("module", "app.reaper").Msg("room reaper stopped")
}

// Sweep deletes every room whose last activity predates the cutoff. Files and
// the state log go first, the room record last: a crash mid-cleanup leaves an
// orphaned-but-visible room, never a file-less phantom record. Listeners are
// notified after the record is gone so they invalidate instead of flushing.
func (r *Reaper) Sweep(ctx context.Context) {
	lctx, cancel := context.WithTimeout(ctx, r.timeout)
	expired, err := r.rooms.ListExpired(lctx, time.Now().Add(-r.roomTTL))
	cancel()
	if err != nil {
		log.Error().Err(err).Str("module", "app.reaper").Msg("expired room listing failed, retrying next sweep")
		return
	}

	reaped := 0
	for _, id := range expired {
		if r.reapRoom(ctx, id) {
			reaped++
		}
	}
	if reaped > 0 {
		log.Info().Str("module", "app.reaper").Int("reaped", reaped).Msg("reaper sweep done")
	}
}

func (r *Reaper) reapRoom(ctx context.Context, id domain.RoomID) bool {
	dctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.files.DeleteRoomFiles(dctx, id); err != nil {
		log.Warn().Err(err).Str("module", "app.reaper").Str("room", string(id)).Msg("file cleanup failed, room kept until next sweep")
		return false
	}
	if err := r.states.DeleteStates(dctx, id); err != nil {
		log.Warn().Err(err).Str("module", "app.reaper").Str("room", string(id)).Msg("state log cleanup failed, room kept until next sweep")
		return false
	}
	if err := r.rooms.DeleteRoom(dctx, id); err != nil {
		log.Warn().Err(err).Str("module", "app.reaper").Str("room", string(id)).Msg("record delete failed, retrying next sweep")
		return false
	}

	for _, l := range r.listeners {
		l.OnRoomDeleted(id)
	}
	log.Info().Str("module", "app.reaper").Str("room", string(id)).Msg("room reaped")
	return true
}
