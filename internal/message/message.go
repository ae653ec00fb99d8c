package message

import (
	"fmt"
	"strconv"
)

type Kind string

const (
	KindControl       Kind = "control"
	KindGlobalControl Kind = "global_control"
	KindChat          Kind = "chat"
	KindSystemNotice  Kind = "system"
	KindError         Kind = "error"
	KindUserJoin      Kind = "user_join"
	KindLeave         Kind = "leave"
)

type Action string

const (
	ActionPlay  Action = "play"
	ActionPause Action = "pause"
	ActionSeek  Action = "seek"
)

// Envelope is the wire shape shared by every room message. Control
// messages carry Action and Time, chat messages carry Content, and
// global controls from the directory service may carry PositionMs.
type Envelope struct {
	Kind       Kind    `json:"type" validate:"required"`
	Action     Action  `json:"action,omitempty"`
	Time       float64 `json:"time,omitempty"`
	Origin     string  `json:"username" validate:"required,max=64"`
	Timestamp  int64   `json:"timestamp"`
	Content    string  `json:"message,omitempty" validate:"max=500"`
	PositionMs *int64  `json:"currentPosition,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// IdentityKey is deterministic over the (kind, timestamp, origin,
// payload) tuple. Two envelopes with the same key are the same message,
// however many times the relay delivers them.
func IdentityKey(e *Envelope) string {
	var payload string
	switch e.Kind {
	case KindControl, KindGlobalControl:
		payload = string(e.Action) + "@" + strconv.FormatFloat(e.Time, 'f', 3, 64)
	case KindChat:
		payload = e.Content
	case KindError:
		payload = e.Error
	default:
		payload = e.Content
	}

	return fmt.Sprintf("%s:%d:%s:%s", e.Kind, e.Timestamp, e.Origin, payload)
}

// IsControl reports whether the envelope carries a playback action.
func (e *Envelope) IsControl() bool {
	return e.Kind == KindControl || e.Kind == KindGlobalControl
}
