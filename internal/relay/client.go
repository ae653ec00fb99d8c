package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/watchroom/client/internal/message"
)

var (
	ErrNotConnected = errors.New("relay not connected")
	ErrClosed       = errors.New("relay client closed")
)

const (
	defaultBackoff = 5 * time.Second
	inboundBuffer  = 64
	writeWait      = 5 * time.Second
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Subscribed
	Joined
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Subscribed:
		return "subscribed"
	case Joined:
		return "joined"
	default:
		return "disconnected"
	}
}

// frame is the relay wire protocol: a client subscribes to a room topic
// and publishes to per-room destinations; the relay fans inbound
// publishes back out as "message" frames to every subscriber.
type frame struct {
	Op    string          `json:"op"`
	Topic string          `json:"topic"`
	Body  json.RawMessage `json:"body,omitempty"`
}

const (
	opSubscribe = "subscribe"
	opPublish   = "publish"
	opMessage   = "message"
)

type Config struct {
	URL         string
	RoomID      string
	Participant string
	Backoff     time.Duration
	Logger      *slog.Logger
}

// Client owns one relay connection for one room. It reconnects with a
// fixed backoff after transport errors; the Join announcement is sent
// exactly once per client lifetime, so reconnects do not replay it.
type Client struct {
	cfg     Config
	backoff time.Duration
	logger  *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	state     State
	hasJoined bool
	closed    bool

	inbound chan message.Envelope
	done    chan struct{}
}

func NewClient(cfg Config) *Client {
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:     cfg,
		backoff: backoff,
		logger:  logger,
		inbound: make(chan message.Envelope, inboundBuffer),
		done:    make(chan struct{}),
	}
}

// Inbound delivers every envelope fanned out on the room topic. The
// channel is closed when the client is closed.
func (c *Client) Inbound() <-chan message.Envelope {
	return c.inbound
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Dial establishes the first connection, subscribes, announces the join
// and starts the read/reconnect loop. The first dial failing is an
// error; later transport faults are recovered internally.
func (c *Client) Dial(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		return err
	}

	go c.run(ctx)

	return nil
}

func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.state = Connecting
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("failed to dial relay: %w", err)
	}

	c.mu.Lock()
	// Close may have landed while the dial was outstanding; a conn
	// installed now would never be torn down
	if c.closed {
		c.state = Disconnected
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.state = Connected
	c.mu.Unlock()

	if err := c.writeFrame(frame{Op: opSubscribe, Topic: c.topic()}); err != nil {
		conn.Close()
		c.setState(Disconnected)
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	c.setState(Subscribed)

	c.mu.Lock()
	join := !c.hasJoined
	c.hasJoined = true
	c.mu.Unlock()

	if join {
		if err := c.publish("join", &message.Envelope{
			Kind:      message.KindUserJoin,
			Origin:    c.cfg.Participant,
			Timestamp: time.Now().UnixMilli(),
		}); err != nil {
			c.logger.WarnContext(ctx, "failed to announce join", "error", err)
		}
	}
	c.setState(Joined)

	return nil
}

func (c *Client) run(ctx context.Context) {
	defer close(c.inbound)

	for {
		err := c.readPump(ctx)

		c.mu.Lock()
		closed := c.closed
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.state = Disconnected
		c.mu.Unlock()

		if closed || ctx.Err() != nil {
			return
		}

		c.logger.WarnContext(ctx, "relay connection lost, reconnecting",
			"error", err,
			"backoff", c.backoff.String(),
		)

		select {
		case <-time.After(c.backoff):
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}

		if err := c.connect(ctx); err != nil {
			if errors.Is(err, ErrClosed) {
				return
			}
			c.logger.WarnContext(ctx, "relay reconnect failed", "error", err)
		}
	}
}

func (c *Client) readPump(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}
		if f.Op != opMessage {
			continue
		}

		var env message.Envelope
		if err := json.Unmarshal(f.Body, &env); err != nil {
			c.logger.WarnContext(ctx, "failed to decode envelope", "error", err)
			continue
		}

		select {
		case c.inbound <- env:
		default:
			c.logger.WarnContext(ctx, "inbound buffer full, dropping message", "kind", env.Kind)
		}
	}
}

func (c *Client) topic() string {
	return "room/" + c.cfg.RoomID
}

func (c *Client) writeFrame(f frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	return c.conn.WriteJSON(f)
}

func (c *Client) publish(suffix string, env *message.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	return c.writeFrame(frame{Op: opPublish, Topic: c.topic() + "/" + suffix, Body: body})
}

// Publish sends an envelope to a per-room destination ("control",
// "chat", "join", "leave"). Messages sent while disconnected are
// dropped, not queued; the caller decides whether that matters.
func (c *Client) Publish(ctx context.Context, suffix string, env *message.Envelope) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state < Subscribed {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.mu.Unlock()

	if err := c.publish(suffix, env); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", suffix, err)
	}

	return nil
}

// Close publishes a best-effort Leave notice and tears the connection
// down. The client cannot be reused afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	joined := c.hasJoined && c.state >= Subscribed
	c.mu.Unlock()

	if joined {
		// best effort, the connection may already be gone
		_ = c.publish("leave", &message.Envelope{
			Kind:      message.KindLeave,
			Origin:    c.cfg.Participant,
			Timestamp: time.Now().UnixMilli(),
		})
	}

	close(c.done)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.conn.Close()
		c.conn = nil
	}
	c.state = Disconnected

	return nil
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
