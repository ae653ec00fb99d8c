package player

import (
	"fmt"
)

type Change string

const (
	ChangePlay   Change = "play"
	ChangePause  Change = "pause"
	ChangeSeeked Change = "seeked"
)

type Cause string

const (
	// CauseUser marks a change initiated locally by the participant.
	CauseUser Cause = "user"
	// CauseSync marks a change made by the reconciliation engine.
	// Subscribers must not rebroadcast these.
	CauseSync Cause = "sync"
)

type Event struct {
	Change Change
	Time   float64
	Cause  Cause
}

// Adapter wraps the media engine with intent-level operations and
// change events. Every state change emits an event tagged with its
// cause, so the session can tell a user action from a reconciliation
// apply. Not goroutine-safe: owned by one session.
type Adapter struct {
	engine   Engine
	handlers []func(Event)
}

func NewAdapter(engine Engine) *Adapter {
	return &Adapter{engine: engine}
}

// OnChange registers a change listener. Listeners run synchronously on
// the caller of the triggering operation.
func (a *Adapter) OnChange(fn func(Event)) {
	a.handlers = append(a.handlers, fn)
}

func (a *Adapter) emit(change Change, cause Cause) {
	ev := Event{Change: change, Time: a.engine.CurrentTime(), Cause: cause}
	for _, fn := range a.handlers {
		fn(ev)
	}
}

func (a *Adapter) Play() error { return a.play(CauseUser) }
func (a *Adapter) Pause() error { return a.pause(CauseUser) }

func (a *Adapter) SeekTo(seconds float64) error { return a.seekTo(seconds, CauseUser) }

func (a *Adapter) play(cause Cause) error {
	if err := a.engine.Play(); err != nil {
		return fmt.Errorf("failed to play: %w", err)
	}
	a.emit(ChangePlay, cause)

	return nil
}

func (a *Adapter) pause(cause Cause) error {
	if err := a.engine.Pause(); err != nil {
		return fmt.Errorf("failed to pause: %w", err)
	}
	a.emit(ChangePause, cause)

	return nil
}

func (a *Adapter) seekTo(seconds float64, cause Cause) error {
	if seconds < 0 {
		seconds = 0
	}
	if d := a.engine.Duration(); d > 0 && seconds > d {
		seconds = d
	}

	if err := a.engine.Seek(seconds); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	a.emit(ChangeSeeked, cause)

	return nil
}

func (a *Adapter) SetRate(rate float64) error {
	if err := a.engine.SetRate(rate); err != nil {
		return fmt.Errorf("failed to set rate: %w", err)
	}

	return nil
}

func (a *Adapter) SetQuality(level int) error {
	if level < 0 || level >= len(a.engine.Levels()) {
		return fmt.Errorf("quality level %d out of range", level)
	}
	if err := a.engine.SetQuality(level); err != nil {
		return fmt.Errorf("failed to set quality: %w", err)
	}

	return nil
}

func (a *Adapter) CurrentTime() float64 { return a.engine.CurrentTime() }
func (a *Adapter) Duration() float64 { return a.engine.Duration() }
func (a *Adapter) IsPlaying() bool { return !a.engine.IsPaused() }
func (a *Adapter) Levels() []Level { return a.engine.Levels() }

// SyncControls is the reconciliation engine's handle on the adapter.
// It calls the engine primitives directly with CauseSync tagging,
// bypassing the user intent surface, which is what keeps reconciled
// changes from echoing back out as new control broadcasts.
type SyncControls struct {
	a *Adapter
}

func (a *Adapter) Sync() SyncControls { return SyncControls{a: a} }

func (s SyncControls) Play() error { return s.a.play(CauseSync) }
func (s SyncControls) Pause() error { return s.a.pause(CauseSync) }
func (s SyncControls) SeekTo(sec float64) error { return s.a.seekTo(sec, CauseSync) }
