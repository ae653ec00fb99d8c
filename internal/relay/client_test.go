package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchroom/client/internal/message"
)

// testRelay is a minimal in-process relay: it records subscribes and
// fans every publish back to the publisher as a message frame.
type testRelay struct {
	upgrader websocket.Upgrader

	mu         sync.Mutex
	subscribes []string
	published  []frame
	dropAfter  int // close the conn after this many frames, 0 = never
}

func (tr *testRelay) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := tr.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	seen := 0
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		seen++

		tr.mu.Lock()
		switch f.Op {
		case opSubscribe:
			tr.subscribes = append(tr.subscribes, f.Topic)
		case opPublish:
			tr.published = append(tr.published, f)
		}
		drop := tr.dropAfter > 0 && seen >= tr.dropAfter
		tr.mu.Unlock()

		if f.Op == opPublish {
			conn.WriteJSON(frame{Op: opMessage, Topic: f.Topic, Body: f.Body})
		}
		if drop {
			return
		}
	}
}

func (tr *testRelay) publishedKinds(t *testing.T) []message.Kind {
	t.Helper()
	tr.mu.Lock()
	defer tr.mu.Unlock()

	kinds := make([]message.Kind, 0, len(tr.published))
	for _, f := range tr.published {
		var env message.Envelope
		require.NoError(t, json.Unmarshal(f.Body, &env))
		kinds = append(kinds, env.Kind)
	}

	return kinds
}

func startRelay(t *testing.T, tr *testRelay) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(tr.handler))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDialSubscribesAndJoins(t *testing.T) {
	tr := &testRelay{}
	url := startRelay(t, tr)

	c := NewClient(Config{URL: url, RoomID: "r1", Participant: "alice"})
	require.NoError(t, c.Dial(context.Background()))
	defer c.Close()

	require.Eventually(t, func() bool {
		return c.State() == Joined
	}, time.Second, 10*time.Millisecond)

	tr.mu.Lock()
	subs := append([]string(nil), tr.subscribes...)
	tr.mu.Unlock()
	require.Equal(t, []string{"room/r1"}, subs)

	assert.Equal(t, []message.Kind{message.KindUserJoin}, tr.publishedKinds(t))
}

func TestPublishRoundTrip(t *testing.T) {
	tr := &testRelay{}
	url := startRelay(t, tr)

	c := NewClient(Config{URL: url, RoomID: "r1", Participant: "alice"})
	require.NoError(t, c.Dial(context.Background()))
	defer c.Close()

	env := message.Envelope{
		Kind:      message.KindControl,
		Action:    message.ActionSeek,
		Time:      42.5,
		Origin:    "alice",
		Timestamp: time.Now().UnixMilli(),
	}
	require.NoError(t, c.Publish(context.Background(), "control", &env))

	// the fake relay echoes publishes back; the join echo may arrive first
	deadline := time.After(time.Second)
	for {
		select {
		case got := <-c.Inbound():
			if got.Kind != message.KindControl {
				continue
			}
			assert.Equal(t, message.ActionSeek, got.Action)
			assert.InDelta(t, 42.5, got.Time, 0.001)
			return
		case <-deadline:
			t.Fatal("control message never delivered")
		}
	}
}

func TestReconnectDoesNotRejoin(t *testing.T) {
	tr := &testRelay{dropAfter: 2} // subscribe + join, then hang up
	url := startRelay(t, tr)

	c := NewClient(Config{
		URL:         url,
		RoomID:      "r1",
		Participant: "alice",
		Backoff:     20 * time.Millisecond,
	})
	require.NoError(t, c.Dial(context.Background()))
	defer c.Close()

	// wait for at least one reconnect cycle to complete
	require.Eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return len(tr.subscribes) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	// subscribed twice, joined once
	assert.Equal(t, []message.Kind{message.KindUserJoin}, tr.publishedKinds(t))
}

func TestCloseDuringReconnectDial(t *testing.T) {
	var (
		mu             sync.Mutex
		conns          int
		lateSubscribes int
	)
	reconnecting := make(chan struct{})
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		conns++
		n := conns
		mu.Unlock()

		if n == 2 {
			// hold the reconnect dial open until Close has returned
			close(reconnecting)
			<-release
		}

		up := websocket.Upgrader{}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			if n == 1 {
				// drop the first conn right away to force a reconnect
				return
			}
			if f.Op == opSubscribe {
				mu.Lock()
				lateSubscribes++
				mu.Unlock()
			}
		}
	}))
	t.Cleanup(srv.Close)

	c := NewClient(Config{
		URL:         "ws" + strings.TrimPrefix(srv.URL, "http"),
		RoomID:      "r1",
		Participant: "alice",
		Backoff:     10 * time.Millisecond,
	})
	require.NoError(t, c.Dial(context.Background()))

	select {
	case <-reconnecting:
	case <-time.After(2 * time.Second):
		t.Fatal("client never attempted to reconnect")
	}

	require.NoError(t, c.Close())
	close(release)

	// the dial resolves after teardown; the client must stay down
	require.Eventually(t, func() bool {
		return c.State() == Disconnected
	}, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, Disconnected, c.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, lateSubscribes, "closed client must not resubscribe")
}

func TestPublishWhileDisconnectedDrops(t *testing.T) {
	c := NewClient(Config{URL: "ws://127.0.0.1:1", RoomID: "r1", Participant: "alice"})

	err := c.Publish(context.Background(), "control", &message.Envelope{Kind: message.KindControl})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestDialFirstFailureIsError(t *testing.T) {
	c := NewClient(Config{URL: "ws://127.0.0.1:1", RoomID: "r1", Participant: "alice"})
	assert.Error(t, c.Dial(context.Background()))
}

func TestCloseIsIdempotentAndStopsClient(t *testing.T) {
	tr := &testRelay{}
	url := startRelay(t, tr)

	c := NewClient(Config{URL: url, RoomID: "r1", Participant: "alice"})
	require.NoError(t, c.Dial(context.Background()))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	err := c.Publish(context.Background(), "chat", &message.Envelope{Kind: message.KindChat})
	assert.ErrorIs(t, err, ErrClosed)
}
