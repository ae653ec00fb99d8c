package session

import (
	"context"
	"math"

	"github.com/watchroom/client/internal/message"
)

// reconcile applies an accepted control broadcast to the local player
// (passive sync). Only messages from the recognized host are
// authoritative, and only viewers apply them; a host applying its own
// broadcasts would fight its own actions.
func (s *Session) reconcile(ctx context.Context, env *message.Envelope) {
	if s.cfg.Role != RoleViewer {
		return
	}
	if env.Origin != s.cfg.HostID {
		s.logger.DebugContext(ctx, "ignoring control from non-host", "origin", env.Origin)
		return
	}

	sync := s.cfg.Adapter.Sync()

	var err error
	switch env.Action {
	case message.ActionPlay:
		if s.cfg.Adapter.IsPlaying() {
			return
		}
		err = sync.Play()
	case message.ActionPause:
		if !s.cfg.Adapter.IsPlaying() {
			return
		}
		err = sync.Pause()
	case message.ActionSeek:
		if math.Abs(s.cfg.Adapter.CurrentTime()-env.Time) <= s.cfg.SeekTolerance {
			return
		}
		err = sync.SeekTo(env.Time)
	default:
		s.logger.DebugContext(ctx, "unknown control action", "action", env.Action)
		return
	}

	// engine faults abandon this step without killing the session
	if err != nil {
		s.logger.WarnContext(ctx, "failed to apply control", "action", env.Action, "error", err)
		s.notify(Notice{Kind: NoticeError, Text: "could not apply host action"})
	}
}
