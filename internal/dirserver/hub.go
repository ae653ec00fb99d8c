package dirserver

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const hubWriteWait = 5 * time.Second

// hub fans published frames out to every subscriber of a room topic,
// sender included. Delivery is best effort: a conn that cannot be
// written to is dropped from the topic.
type hub struct {
	logger *slog.Logger

	mu    sync.Mutex
	rooms map[string]map[*websocket.Conn]struct{}
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		logger: logger,
		rooms:  make(map[string]map[*websocket.Conn]struct{}),
	}
}

func (h *hub) subscribe(roomID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*websocket.Conn]struct{})
	}
	h.rooms[roomID][conn] = struct{}{}
}

func (h *hub) unsubscribe(roomID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.rooms[roomID], conn)
	if len(h.rooms[roomID]) == 0 {
		delete(h.rooms, roomID)
	}
}

// send writes one frame to one conn under the hub lock, so it cannot
// interleave with a broadcast to the same conn.
func (h *hub) send(conn *websocket.Conn, f *frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
	if err := conn.WriteJSON(f); err != nil {
		h.logger.Warn("failed to write frame", "error", err)
	}
}

// broadcast serializes all writes under the hub lock: gorilla conns
// allow only one concurrent writer.
func (h *hub) broadcast(ctx context.Context, roomID string, f *frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.rooms[roomID] {
		conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
		if err := conn.WriteJSON(f); err != nil {
			h.logger.WarnContext(ctx, "failed to deliver, dropping subscriber",
				"room_id", roomID,
				"error", err,
			)
			delete(h.rooms[roomID], conn)
			conn.Close()
		}
	}
	if len(h.rooms[roomID]) == 0 {
		delete(h.rooms, roomID)
	}
}
