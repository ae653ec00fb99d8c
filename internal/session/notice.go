package session

import "time"

type NoticeKind string

const (
	NoticeSyncSuccess NoticeKind = "sync_success"
	NoticeSyncFailed  NoticeKind = "sync_failed"
	NoticeAutoSync    NoticeKind = "auto_sync"
	NoticeChat        NoticeKind = "chat"
	NoticeUserJoin    NoticeKind = "user_join"
	NoticeUserLeft    NoticeKind = "user_left"
	NoticeError       NoticeKind = "error"
)

// Notice is the session's surface toward the UI layer. Time carries the
// playback position a sync landed on, when there is one.
type Notice struct {
	Kind    NoticeKind
	Origin  string
	Text    string
	Time    float64
	Playing bool
	At      time.Time
}

// Notices delivers user-visible events. The channel is closed on
// session Close.
func (s *Session) Notices() <-chan Notice {
	return s.notices
}

// notify never blocks the actor; when the UI is not draining, older
// notices are simply lost.
func (s *Session) notify(n Notice) {
	n.At = time.Now()
	select {
	case s.notices <- n:
	default:
	}
}
