package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchroom/client/internal/directory"
	"github.com/watchroom/client/internal/message"
	"github.com/watchroom/client/internal/player"
)

type publishedMsg struct {
	suffix string
	env    message.Envelope
}

type fakeRelay struct {
	inbound chan message.Envelope

	mu        sync.Mutex
	published []publishedMsg
	closed    bool
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{inbound: make(chan message.Envelope, 16)}
}

func (r *fakeRelay) Inbound() <-chan message.Envelope { return r.inbound }

func (r *fakeRelay) Publish(_ context.Context, suffix string, env *message.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, publishedMsg{suffix: suffix, env: *env})
	return nil
}

func (r *fakeRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeRelay) publishedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.published)
}

type fakeDirectory struct {
	mu        sync.Mutex
	pos       directory.Position
	posErr    error
	getDelay  time.Duration
	getCalls  int
	pushCalls int
	plays     int
	pauses    int
}

func (d *fakeDirectory) GetPosition(ctx context.Context, roomID string) (directory.Position, error) {
	d.mu.Lock()
	d.getCalls++
	delay, pos, err := d.getDelay, d.pos, d.posErr
	d.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return directory.Position{}, ctx.Err()
		}
	}

	return pos, err
}

func (d *fakeDirectory) PushPosition(_ context.Context, _ string, _ int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pushCalls++
	return nil
}

func (d *fakeDirectory) Play(_ context.Context, _ string, _ *directory.StateChangeParams) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.plays++
	return nil
}

func (d *fakeDirectory) Pause(_ context.Context, _ string, _ *directory.StateChangeParams) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pauses++
	return nil
}

func (d *fakeDirectory) counts() (gets, pushes, plays, pauses int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.getCalls, d.pushCalls, d.plays, d.pauses
}

type fixture struct {
	session *Session
	adapter *player.Adapter
	engine  *player.SimEngine
	relay   *fakeRelay
	dir     *fakeDirectory
}

func newFixture(t *testing.T, role Role, mutate func(*Config)) *fixture {
	t.Helper()

	engine := player.NewSimEngine(3600)
	adapter := player.NewAdapter(engine)
	relay := newFakeRelay()
	dir := &fakeDirectory{pos: directory.Position{PositionMs: 90000, PlaybackState: directory.StatePlaying}}

	cfg := Config{
		RoomID:          "r1",
		Participant:     "me",
		HostID:          "host",
		Role:            role,
		Adapter:         adapter,
		Relay:           relay,
		Directory:       dir,
		PublishInterval: 20 * time.Millisecond,
		SettleDelay:     10 * time.Millisecond,
		SeekTolerance:   1.0,
	}
	if role == RoleHost {
		cfg.HostID = "me"
	}
	if mutate != nil {
		mutate(&cfg)
	}

	s := New(cfg)
	s.Start(context.Background())
	t.Cleanup(func() { s.Close() })

	return &fixture{session: s, adapter: adapter, engine: engine, relay: relay, dir: dir}
}

func hostControl(action message.Action, at float64, ts int64) message.Envelope {
	return message.Envelope{
		Kind:      message.KindControl,
		Action:    action,
		Time:      at,
		Origin:    "host",
		Timestamp: ts,
	}
}

func waitNotice(t *testing.T, f *fixture, kind NoticeKind) Notice {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case n := <-f.session.Notices():
			if n.Kind == kind {
				return n
			}
		case <-deadline:
			t.Fatalf("notice %s never arrived", kind)
		}
	}
}

func TestRoleFor(t *testing.T) {
	room := directory.Room{ID: "r1", CreatedBy: "alice"}
	assert.Equal(t, RoleHost, RoleFor(&room, "alice"))
	assert.Equal(t, RoleViewer, RoleFor(&room, "bob"))
}

func TestActiveSyncConvergence(t *testing.T) {
	f := newFixture(t, RoleViewer, nil)

	require.NoError(t, f.session.SyncToHost(context.Background()))

	n := waitNotice(t, f, NoticeSyncSuccess)
	assert.InDelta(t, 90, n.Time, 0.5)
	assert.True(t, n.Playing)

	assert.InDelta(t, 90, f.adapter.CurrentTime(), 0.5)
	assert.True(t, f.adapter.IsPlaying())
	assert.False(t, f.session.LastSyncAt().IsZero())
}

func TestActiveSyncSingleFlight(t *testing.T) {
	f := newFixture(t, RoleViewer, func(cfg *Config) {})
	f.dir.getDelay = 100 * time.Millisecond

	require.NoError(t, f.session.SyncToHost(context.Background()))
	err := f.session.SyncToHost(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)

	waitNotice(t, f, NoticeSyncSuccess)

	gets, _, _, _ := f.dir.counts()
	assert.Equal(t, 1, gets)

	// the guard is released once the sync completes
	require.NoError(t, f.session.SyncToHost(context.Background()))
}

func TestActiveSyncFailureLeavesPlaybackUntouched(t *testing.T) {
	f := newFixture(t, RoleViewer, nil)
	f.dir.posErr = errors.New("directory unreachable")

	require.NoError(t, f.adapter.SeekTo(10))
	require.NoError(t, f.session.SyncToHost(context.Background()))

	n := waitNotice(t, f, NoticeSyncFailed)
	assert.Contains(t, n.Text, "unreachable")

	assert.InDelta(t, 10, f.adapter.CurrentTime(), 0.5)
	assert.False(t, f.adapter.IsPlaying())
	assert.True(t, f.session.LastSyncAt().IsZero())

	// no automatic retry, but a fresh manual sync is allowed
	require.NoError(t, f.session.SyncToHost(context.Background()))
}

type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler { return h }

func (h *recordingHandler) attr(msg, key string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, r := range h.records {
		if r.Message != msg {
			continue
		}
		var val string
		var found bool
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == key {
				val, found = a.Value.String(), true
				return false
			}
			return true
		})
		if found {
			return val, true
		}
	}

	return "", false
}

func TestActiveSyncFailureReportsPhase(t *testing.T) {
	h := &recordingHandler{}
	f := newFixture(t, RoleViewer, func(cfg *Config) {
		cfg.Logger = slog.New(h)
	})
	f.dir.posErr = errors.New("directory unreachable")

	require.NoError(t, f.session.SyncToHost(context.Background()))
	waitNotice(t, f, NoticeSyncFailed)

	phase, ok := h.attr("active sync failed", "phase")
	require.True(t, ok, "failure log must carry the sync phase")
	assert.Equal(t, "fetching", phase)
}

func TestSyncToHostRejectedForHost(t *testing.T) {
	f := newFixture(t, RoleHost, nil)
	assert.ErrorIs(t, f.session.SyncToHost(context.Background()), ErrNotViewer)
}

func TestPassiveSyncAppliesHostControl(t *testing.T) {
	f := newFixture(t, RoleViewer, nil)

	f.relay.inbound <- hostControl(message.ActionSeek, 120, 1)
	f.relay.inbound <- hostControl(message.ActionPlay, 120, 2)

	require.Eventually(t, func() bool {
		return f.adapter.IsPlaying()
	}, time.Second, 5*time.Millisecond)
	assert.InDelta(t, 120, f.adapter.CurrentTime(), 0.5)
}

func TestPassiveSyncIdempotence(t *testing.T) {
	f := newFixture(t, RoleViewer, nil)

	var syncEvents int
	var mu sync.Mutex
	f.adapter.OnChange(func(ev player.Event) {
		if ev.Cause == player.CauseSync {
			mu.Lock()
			syncEvents++
			mu.Unlock()
		}
	})

	env := hostControl(message.ActionPlay, 0, 100)
	f.relay.inbound <- env
	f.relay.inbound <- env // transport redelivery, same identity key

	require.Eventually(t, func() bool {
		return f.adapter.IsPlaying()
	}, time.Second, 5*time.Millisecond)

	// a later play with a fresh identity is accepted but the guard
	// skips the already-playing engine
	f.relay.inbound <- hostControl(message.ActionPlay, 0, 101)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, syncEvents)
}

func TestPassiveSyncIgnoresNonHost(t *testing.T) {
	f := newFixture(t, RoleViewer, nil)

	env := hostControl(message.ActionPlay, 0, 1)
	env.Origin = "mallory"
	f.relay.inbound <- env

	time.Sleep(50 * time.Millisecond)
	assert.False(t, f.adapter.IsPlaying())
}

func TestNoSelfEcho(t *testing.T) {
	f := newFixture(t, RoleViewer, nil)

	f.relay.inbound <- hostControl(message.ActionPlay, 5, 1)
	require.Eventually(t, func() bool {
		return f.adapter.IsPlaying()
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, f.relay.publishedCount(), "reconciliation must not publish controls")
}

func TestHostBroadcastsLocalActions(t *testing.T) {
	f := newFixture(t, RoleHost, nil)

	require.NoError(t, f.adapter.Play())

	require.Eventually(t, func() bool {
		return f.relay.publishedCount() >= 1
	}, time.Second, 5*time.Millisecond)

	f.relay.mu.Lock()
	first := f.relay.published[0]
	f.relay.mu.Unlock()
	assert.Equal(t, "control", first.suffix)
	assert.Equal(t, message.ActionPlay, first.env.Action)
	assert.Equal(t, "me", first.env.Origin)

	require.Eventually(t, func() bool {
		_, _, plays, _ := f.dir.counts()
		return plays == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHostPublishesPositionWhilePlaying(t *testing.T) {
	f := newFixture(t, RoleHost, nil)

	require.NoError(t, f.adapter.Play())

	require.Eventually(t, func() bool {
		_, pushes, _, _ := f.dir.counts()
		return pushes >= 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, f.adapter.Pause())
	time.Sleep(30 * time.Millisecond) // drain any tick already in flight
	_, before, _, _ := f.dir.counts()
	time.Sleep(100 * time.Millisecond)
	_, after, _, _ := f.dir.counts()
	assert.LessOrEqual(t, after-before, 1, "publisher must stop while paused")
}

func TestViewerNeverPushesPosition(t *testing.T) {
	f := newFixture(t, RoleViewer, nil)

	require.NoError(t, f.adapter.Play())
	time.Sleep(100 * time.Millisecond)

	_, pushes, _, _ := f.dir.counts()
	assert.Zero(t, pushes)
	assert.Zero(t, f.relay.publishedCount(), "viewer actions are not broadcast")
}

func TestAutoSyncOnJoin(t *testing.T) {
	f := newFixture(t, RoleViewer, func(cfg *Config) {
		cfg.AutoSync = true
	})

	waitNotice(t, f, NoticeAutoSync)
	n := waitNotice(t, f, NoticeSyncSuccess)
	assert.InDelta(t, 90, n.Time, 0.5)
}

func TestCloseDiscardsInFlightSync(t *testing.T) {
	engine := player.NewSimEngine(3600)
	adapter := player.NewAdapter(engine)
	relay := newFakeRelay()
	dir := &fakeDirectory{
		pos:      directory.Position{PositionMs: 90000, PlaybackState: directory.StatePlaying},
		getDelay: 200 * time.Millisecond,
	}

	s := New(Config{
		RoomID:      "r1",
		Participant: "me",
		HostID:      "host",
		Role:        RoleViewer,
		Adapter:     adapter,
		Relay:       relay,
		Directory:   dir,
	})
	s.Start(context.Background())

	require.NoError(t, s.SyncToHost(context.Background()))
	require.NoError(t, s.Close())

	// the pull resolves after teardown; its result must not be applied
	time.Sleep(300 * time.Millisecond)
	assert.InDelta(t, 0, adapter.CurrentTime(), 0.5)
	assert.False(t, adapter.IsPlaying())

	relay.mu.Lock()
	defer relay.mu.Unlock()
	assert.True(t, relay.closed)

	assert.ErrorIs(t, s.SyncToHost(context.Background()), ErrClosed)
}

func TestChatDoesNotTouchPlayback(t *testing.T) {
	f := newFixture(t, RoleViewer, nil)

	f.relay.inbound <- message.Envelope{
		Kind:      message.KindChat,
		Origin:    "host",
		Content:   "hello",
		Timestamp: 1,
	}

	n := waitNotice(t, f, NoticeChat)
	assert.Equal(t, "hello", n.Text)
	assert.Equal(t, "host", n.Origin)
	assert.False(t, f.adapter.IsPlaying())

	require.NoError(t, f.session.SendChat(context.Background(), "hi back"))
	require.Eventually(t, func() bool {
		return f.relay.publishedCount() == 1
	}, time.Second, 5*time.Millisecond)
	f.relay.mu.Lock()
	defer f.relay.mu.Unlock()
	assert.Equal(t, "chat", f.relay.published[0].suffix)
}
