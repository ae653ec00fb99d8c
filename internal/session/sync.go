package session

import (
	"context"
	"time"

	"github.com/watchroom/client/internal/directory"
)

// Active sync walks Idle -> Fetching -> Seeking -> MatchingState ->
// Idle; any failure short-circuits back to Idle with a notice and is
// never retried automatically.
type syncPhase string

const (
	phaseIdle     syncPhase = "idle"
	phaseFetching syncPhase = "fetching"
	phaseSeeking  syncPhase = "seeking"
	phaseMatching syncPhase = "matching_state"
)

type syncResult struct {
	pos directory.Position
	err error
}

const syncFetchTimeout = 5 * time.Second

// SyncToHost pulls the authoritative position and reconciles local
// playback to it (active sync). Single-flight: a call while a sync is
// in progress returns ErrSyncInProgress and does nothing. Safe to call
// from any goroutine.
func (s *Session) SyncToHost(ctx context.Context) error {
	if s.cfg.Role != RoleViewer {
		return ErrNotViewer
	}
	if s.isClosed() {
		return ErrClosed
	}
	if !s.syncFlight.CompareAndSwap(false, true) {
		return ErrSyncInProgress
	}

	go s.fetch(ctx)

	return nil
}

// fetch is the suspension window: the actor keeps processing while the
// directory pull is outstanding, and the result is applied back on the
// actor loop.
func (s *Session) fetch(ctx context.Context) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), syncFetchTimeout)
	defer cancel()

	pos, err := s.cfg.Directory.GetPosition(fctx, s.cfg.RoomID)

	select {
	case s.syncResults <- syncResult{pos: pos, err: err}:
	case <-s.closedCh:
		// session torn down while the pull was in flight, discard
		s.syncFlight.Store(false)
	}
}

func (s *Session) handleSyncResult(ctx context.Context, res syncResult) {
	s.syncPhase = phaseFetching

	if res.err != nil {
		s.logger.WarnContext(ctx, "active sync failed", "phase", string(s.syncPhase), "error", res.err)
		s.notify(Notice{Kind: NoticeSyncFailed, Text: res.err.Error()})
		s.abortSync()
		return
	}

	s.syncPhase = phaseSeeking
	target := float64(res.pos.PositionMs) / 1000

	if err := s.cfg.Adapter.Sync().SeekTo(target); err != nil {
		s.logger.WarnContext(ctx, "active sync seek failed", "phase", string(s.syncPhase), "error", err)
		s.notify(Notice{Kind: NoticeSyncFailed, Text: err.Error()})
		s.abortSync()
		return
	}

	// let the engine settle on the new position before matching the
	// play/pause state
	s.syncPhase = phaseMatching
	go func() {
		select {
		case <-time.After(s.cfg.SettleDelay):
		case <-s.closedCh:
			s.syncFlight.Store(false)
			return
		}

		select {
		case s.syncMatch <- res.pos:
		case <-s.closedCh:
			s.syncFlight.Store(false)
		}
	}()
}

func (s *Session) finishSync(ctx context.Context, pos directory.Position) {
	sync := s.cfg.Adapter.Sync()

	var err error
	switch {
	case pos.PlaybackState == directory.StatePlaying && !s.cfg.Adapter.IsPlaying():
		err = sync.Play()
	case pos.PlaybackState == directory.StatePaused && s.cfg.Adapter.IsPlaying():
		err = sync.Pause()
	}
	if err != nil {
		s.logger.WarnContext(ctx, "active sync state match failed", "phase", string(s.syncPhase), "error", err)
		s.notify(Notice{Kind: NoticeSyncFailed, Text: err.Error()})
		s.abortSync()
		return
	}

	s.mu.Lock()
	s.lastSyncAt = time.Now()
	s.mu.Unlock()

	s.syncPhase = phaseIdle
	s.syncFlight.Store(false)

	s.notify(Notice{
		Kind:    NoticeSyncSuccess,
		Time:    s.cfg.Adapter.CurrentTime(),
		Playing: s.cfg.Adapter.IsPlaying(),
	})
}

func (s *Session) abortSync() {
	s.syncPhase = phaseIdle
	s.syncFlight.Store(false)
}
