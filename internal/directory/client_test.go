package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPosition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/rooms/r1/position", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"success":       true,
			"positionMs":    90000,
			"playbackState": "playing",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	pos, err := c.GetPosition(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(90000), pos.PositionMs)
	assert.Equal(t, StatePlaying, pos.PlaybackState)
}

func TestPushPositionBody(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	require.NoError(t, c.PushPosition(context.Background(), "r1", 1998))

	assert.Equal(t, float64(1998), got["positionMs"])
	assert.Equal(t, true, got["isHost"])
}

func TestGetRoomNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.GetRoom(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRejectedResponseSurfacesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"error":   "only the host can control playback",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	err := c.Play(context.Background(), "r1", &StateChangeParams{Username: "viewer", PositionMs: 0})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "only the host")
}

func TestUnreachableServiceFails(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	_, err := c.GetPosition(context.Background(), "r1")
	assert.Error(t, err)
}
