package dirserver

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/watchroom/client/internal/message"
)

// frame mirrors the relay client wire protocol: subscribe to a room
// topic, publish to per-room destinations, receive "message" fan-outs.
type frame struct {
	Op    string          `json:"op"`
	Topic string          `json:"topic"`
	Body  json.RawMessage `json:"body,omitempty"`
}

const (
	opSubscribe  = "subscribe"
	opPublish    = "publish"
	opMessage    = "message"
	opSubscribed = "subscribed"

	topicPrefix = "room/"
)

func (c *Controller) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.ErrorContext(r.Context(), "failed to upgrade connection", "error", err)
		return
	}

	ctx := r.Context()
	subscriptions := make(map[string]struct{})
	defer func() {
		for roomID := range subscriptions {
			c.hub.unsubscribe(roomID, conn)
		}
		conn.Close()
	}()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.DebugContext(ctx, "relay connection closed", "error", err)
			}
			return
		}

		switch f.Op {
		case opSubscribe:
			roomID, ok := strings.CutPrefix(f.Topic, topicPrefix)
			if !ok || roomID == "" || strings.Contains(roomID, "/") {
				c.logger.WarnContext(ctx, "invalid subscribe topic", "topic", f.Topic)
				continue
			}
			if _, already := subscriptions[roomID]; already {
				continue
			}
			subscriptions[roomID] = struct{}{}
			c.hub.subscribe(roomID, conn)
			// receipt; clients that do not care skip non-message ops
			c.hub.send(conn, &frame{Op: opSubscribed, Topic: f.Topic})
		case opPublish:
			c.handlePublish(r, f)
		default:
			c.logger.WarnContext(ctx, "unknown frame op", "op", f.Op)
		}
	}
}

// kindForDestination pins the envelope kind to the destination it was
// published on, so a client cannot spoof a join notice on the chat
// destination or vice versa.
func kindForDestination(dest string, kind message.Kind) (message.Kind, bool) {
	switch dest {
	case "control":
		if kind == message.KindGlobalControl {
			return kind, true
		}
		return message.KindControl, true
	case "chat":
		return message.KindChat, true
	case "join":
		return message.KindUserJoin, true
	case "leave":
		return message.KindLeave, true
	default:
		return "", false
	}
}

func (c *Controller) handlePublish(r *http.Request, f frame) {
	ctx := r.Context()

	roomID, ok := strings.CutPrefix(f.Topic, topicPrefix)
	if !ok {
		c.logger.WarnContext(ctx, "invalid publish topic", "topic", f.Topic)
		return
	}
	roomID, dest, ok := strings.Cut(roomID, "/")
	if !ok || roomID == "" {
		c.logger.WarnContext(ctx, "invalid publish topic", "topic", f.Topic)
		return
	}

	var env message.Envelope
	if err := json.Unmarshal(f.Body, &env); err != nil {
		c.logger.WarnContext(ctx, "failed to decode published envelope", "error", err)
		return
	}

	kind, ok := kindForDestination(dest, env.Kind)
	if !ok {
		c.logger.WarnContext(ctx, "unknown publish destination", "destination", dest)
		return
	}
	env.Kind = kind
	// timestamps are server-stamped so dedup keys agree across clients
	env.Timestamp = c.now().UnixMilli()

	if verrs, valid := c.validate.Validate(env); !valid {
		c.logger.WarnContext(ctx, "rejecting invalid envelope",
			"field", verrs[0].Field,
			"reason", verrs[0].Message,
		)
		return
	}

	body, err := json.Marshal(env)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to marshal envelope", "error", err)
		return
	}

	c.hub.broadcast(ctx, roomID, &frame{
		Op:    opMessage,
		Topic: topicPrefix + roomID,
		Body:  body,
	})
}
