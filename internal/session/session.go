package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/watchroom/client/internal/directory"
	"github.com/watchroom/client/internal/message"
	"github.com/watchroom/client/internal/player"
	"github.com/watchroom/client/pkg/ctxlogger"
)

var (
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrNotViewer      = errors.New("session is not a viewer")
	ErrClosed         = errors.New("session closed")
)

const (
	defaultPublishInterval = 2 * time.Second
	defaultSettleDelay     = 300 * time.Millisecond
	defaultSeekTolerance   = 1.0 // seconds
)

type iRelay interface {
	Inbound() <-chan message.Envelope
	Publish(ctx context.Context, suffix string, env *message.Envelope) error
	Close() error
}

type iDirectory interface {
	GetPosition(ctx context.Context, roomID string) (directory.Position, error)
	PushPosition(ctx context.Context, roomID string, positionMs int64) error
	Play(ctx context.Context, roomID string, params *directory.StateChangeParams) error
	Pause(ctx context.Context, roomID string, params *directory.StateChangeParams) error
}

type Config struct {
	RoomID      string
	Participant string
	// HostID is the recognized host's identity; only its control
	// messages are authoritative.
	HostID string
	Role   Role

	Adapter   *player.Adapter
	Relay     iRelay
	Directory iDirectory
	Logger    *slog.Logger

	PublishInterval time.Duration
	SettleDelay     time.Duration
	SeekTolerance   float64
	// AutoSync runs one active sync when a viewer session starts.
	AutoSync bool
}

// Session is the room-session actor. Inbound relay messages, publisher
// ticks, local player events and sync results are all serialized onto
// its run loop, so none of the session state needs locking beyond the
// single-flight guard.
type Session struct {
	cfg    Config
	logger *slog.Logger

	dedup   *message.DedupCache
	notices chan Notice

	localEvents chan player.Event
	syncResults chan syncResult
	syncMatch   chan directory.Position
	syncFlight  atomic.Bool
	syncPhase   syncPhase

	mu         sync.Mutex
	lastSyncAt time.Time
	closed     bool

	closedCh chan struct{}
	doneCh   chan struct{}
}

func New(cfg Config) *Session {
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = defaultPublishInterval
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	if cfg.SeekTolerance <= 0 {
		cfg.SeekTolerance = defaultSeekTolerance
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		cfg:         cfg,
		logger:      logger,
		dedup:       message.NewDedupCache(message.DefaultDedupCapacity),
		notices:     make(chan Notice, 32),
		localEvents: make(chan player.Event, 16),
		syncResults: make(chan syncResult, 1),
		syncMatch:   make(chan directory.Position, 1),
		closedCh:    make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

func (s *Session) Role() Role { return s.cfg.Role }

func (s *Session) LastSyncAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastSyncAt
}

// Start wires the adapter's change events into the actor and runs the
// loop. For viewers with AutoSync set it also kicks off the join-time
// sync.
func (s *Session) Start(ctx context.Context) {
	ctx = ctxlogger.AppendCtx(ctx,
		slog.String("room_id", s.cfg.RoomID),
		slog.String("participant", s.cfg.Participant),
		slog.String("role", string(s.cfg.Role)),
	)

	s.cfg.Adapter.OnChange(func(ev player.Event) {
		select {
		case s.localEvents <- ev:
		case <-s.closedCh:
		}
	})

	go s.run(ctx)
}

func (s *Session) run(ctx context.Context) {
	defer close(s.doneCh)

	if s.cfg.Role == RoleViewer && s.cfg.AutoSync {
		s.notify(Notice{Kind: NoticeAutoSync, Text: "syncing to host"})
		if err := s.SyncToHost(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
			s.logger.WarnContext(ctx, "auto-sync failed to start", "error", err)
		}
	}

	ticker := time.NewTicker(s.cfg.PublishInterval)
	defer ticker.Stop()

	inbound := s.cfg.Relay.Inbound()

	for {
		select {
		case env, ok := <-inbound:
			if !ok {
				inbound = nil
				continue
			}
			s.handleInbound(ctx, &env)
		case ev := <-s.localEvents:
			s.handleLocalEvent(ctx, ev)
		case <-ticker.C:
			s.publishPosition(ctx)
		case res := <-s.syncResults:
			s.handleSyncResult(ctx, res)
		case pos := <-s.syncMatch:
			s.finishSync(ctx, pos)
		case <-s.closedCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) handleInbound(ctx context.Context, env *message.Envelope) {
	if !s.dedup.ShouldApply(env) {
		s.logger.DebugContext(ctx, "duplicate message suppressed", "key", message.IdentityKey(env))
		return
	}

	switch env.Kind {
	case message.KindControl, message.KindGlobalControl:
		s.reconcile(ctx, env)
	case message.KindChat:
		s.notify(Notice{Kind: NoticeChat, Origin: env.Origin, Text: env.Content})
	case message.KindUserJoin:
		s.notify(Notice{Kind: NoticeUserJoin, Origin: env.Origin})
	case message.KindLeave:
		s.notify(Notice{Kind: NoticeUserLeft, Origin: env.Origin})
	case message.KindError:
		s.notify(Notice{Kind: NoticeError, Origin: env.Origin, Text: env.Error})
	default:
		s.logger.DebugContext(ctx, "unknown message kind", "kind", env.Kind)
	}
}

// SendChat publishes a chat message to the room. Chat shares the relay
// but never touches playback.
func (s *Session) SendChat(ctx context.Context, text string) error {
	return s.cfg.Relay.Publish(ctx, "chat", &message.Envelope{
		Kind:      message.KindChat,
		Origin:    s.cfg.Participant,
		Content:   text,
		Timestamp: time.Now().UnixMilli(),
	})
}

// Close tears the session down: the publisher stops, any in-flight sync
// result is discarded, and the relay sends its Leave notice. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.closedCh)
	<-s.doneCh
	close(s.notices)

	return s.cfg.Relay.Close()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}
