package session

import (
	"context"
	"time"

	"github.com/watchroom/client/internal/directory"
	"github.com/watchroom/client/internal/message"
	"github.com/watchroom/client/internal/player"
)

const directoryWriteTimeout = 3 * time.Second

var changeActions = map[player.Change]message.Action{
	player.ChangePlay:   message.ActionPlay,
	player.ChangePause:  message.ActionPause,
	player.ChangeSeeked: message.ActionSeek,
}

// handleLocalEvent turns host-originated player changes into control
// broadcasts. Reconciliation-caused events are filtered by their cause
// tag, which is what breaks the host/viewer echo loop.
func (s *Session) handleLocalEvent(ctx context.Context, ev player.Event) {
	if ev.Cause == player.CauseSync {
		return
	}
	if s.cfg.Role != RoleHost {
		return
	}

	action, ok := changeActions[ev.Change]
	if !ok {
		return
	}

	env := message.Envelope{
		Kind:      message.KindControl,
		Action:    action,
		Time:      ev.Time,
		Origin:    s.cfg.Participant,
		Timestamp: time.Now().UnixMilli(),
	}
	if err := s.cfg.Relay.Publish(ctx, "control", &env); err != nil {
		// dropped, not queued; the next position push covers it
		s.logger.WarnContext(ctx, "control message dropped", "action", action, "error", err)
	}

	switch ev.Change {
	case player.ChangePlay:
		s.writeState(ctx, ev.Time, s.cfg.Directory.Play)
	case player.ChangePause:
		s.writeState(ctx, ev.Time, s.cfg.Directory.Pause)
	}
}

type stateWrite func(ctx context.Context, roomID string, params *directory.StateChangeParams) error

// writeState mirrors a host play/pause into the directory service so a
// participant who missed the broadcast still converges. Asynchronous:
// the actor keeps processing while the write is outstanding.
func (s *Session) writeState(ctx context.Context, seconds float64, write stateWrite) {
	params := directory.StateChangeParams{
		Username:   s.cfg.Participant,
		PositionMs: int64(seconds * 1000),
	}

	go func() {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), directoryWriteTimeout)
		defer cancel()

		if err := write(wctx, s.cfg.RoomID, &params); err != nil {
			s.logger.WarnContext(ctx, "failed to write host state", "error", err)
		}
	}()
}

// publishPosition runs on the fixed publisher tick. Only a playing host
// pushes; the write is fire-and-forget.
func (s *Session) publishPosition(ctx context.Context) {
	if s.cfg.Role != RoleHost {
		return
	}
	if !s.cfg.Adapter.IsPlaying() {
		return
	}

	positionMs := int64(s.cfg.Adapter.CurrentTime() * 1000)

	go func() {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), directoryWriteTimeout)
		defer cancel()

		if err := s.cfg.Directory.PushPosition(wctx, s.cfg.RoomID, positionMs); err != nil {
			s.logger.WarnContext(ctx, "failed to push position", "error", err)
		}
	}()
}
