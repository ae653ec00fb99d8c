package player

import (
	"errors"
	"sync"
	"time"
)

var ErrPastEnd = errors.New("seek past end of stream")

// SimEngine is an in-process Engine whose position advances with wall
// time while playing. It backs the headless participant binary and the
// package tests; a browser or TV app would supply the real engine.
type SimEngine struct {
	mu       sync.Mutex
	duration float64
	rate     float64
	paused   bool
	position float64
	playedAt time.Time
	levels   []Level

	now func() time.Time
}

func NewSimEngine(duration float64) *SimEngine {
	return &SimEngine{
		duration: duration,
		rate:     1.0,
		paused:   true,
		levels: []Level{
			{Height: 360, Bitrate: 800_000},
			{Height: 720, Bitrate: 2_800_000},
			{Height: 1080, Bitrate: 5_000_000},
		},
		now: time.Now,
	}
}

// position at the current instant, callers must hold mu.
func (e *SimEngine) locked() float64 {
	if e.paused {
		return e.position
	}

	p := e.position + e.now().Sub(e.playedAt).Seconds()*e.rate
	if e.duration > 0 && p > e.duration {
		return e.duration
	}

	return p
}

func (e *SimEngine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.paused {
		return nil
	}
	e.paused = false
	e.playedAt = e.now()

	return nil
}

func (e *SimEngine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.paused {
		return nil
	}
	e.position = e.locked()
	e.paused = true

	return nil
}

func (e *SimEngine) Seek(seconds float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.duration > 0 && seconds > e.duration {
		return ErrPastEnd
	}
	e.position = seconds
	e.playedAt = e.now()

	return nil
}

func (e *SimEngine) SetRate(rate float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.position = e.locked()
	e.playedAt = e.now()
	e.rate = rate

	return nil
}

func (e *SimEngine) SetQuality(level int) error {
	return nil
}

func (e *SimEngine) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.locked()
}

func (e *SimEngine) Duration() float64 { return e.duration }

func (e *SimEngine) IsPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.paused
}

func (e *SimEngine) Levels() []Level { return e.levels }
