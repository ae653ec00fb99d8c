package player

// Level describes one quality level of the loaded stream.
type Level struct {
	Height  int `json:"height"`
	Bitrate int `json:"bitrate"`
}

// Engine is the media playback engine. The real implementation lives
// outside this module; the coordination core only drives it through
// this surface.
type Engine interface {
	Play() error
	Pause() error
	Seek(seconds float64) error
	SetRate(rate float64) error
	SetQuality(level int) error

	CurrentTime() float64
	Duration() float64
	IsPaused() bool
	Levels() []Level
}
