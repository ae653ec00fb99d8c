package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRejected     = errors.New("request rejected by directory service")
)

const defaultTimeout = 5 * time.Second

// Client talks to the room directory service over plain request/response
// HTTP. All calls are bounded by the http client timeout.
type Client struct {
	baseURL string
	hc      *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: defaultTimeout},
	}
}

type apiResponse struct {
	Success       bool          `json:"success"`
	Error         string        `json:"error,omitempty"`
	PositionMs    int64         `json:"positionMs"`
	PlaybackState PlaybackState `json:"playbackState"`
	Room          *Room         `json:"room,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, body any, out *apiResponse) error {
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call directory service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrRoomNotFound
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode >= 400 || !out.Success {
		if out.Error != "" {
			return fmt.Errorf("%w: %s", ErrRejected, out.Error)
		}
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	return nil
}

type CreateRoomParams struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	MovieID  string `json:"movieId"`
}

func (c *Client) CreateRoom(ctx context.Context, params *CreateRoomParams) (Room, error) {
	var out apiResponse
	if err := c.do(ctx, http.MethodPost, "/rooms", params, &out); err != nil {
		return Room{}, fmt.Errorf("failed to create room: %w", err)
	}
	if out.Room == nil {
		return Room{}, fmt.Errorf("%w: missing room in response", ErrRejected)
	}

	return *out.Room, nil
}

func (c *Client) GetRoom(ctx context.Context, roomID string) (Room, error) {
	var out apiResponse
	if err := c.do(ctx, http.MethodGet, "/rooms/"+roomID, nil, &out); err != nil {
		return Room{}, fmt.Errorf("failed to get room: %w", err)
	}
	if out.Room == nil {
		return Room{}, fmt.Errorf("%w: missing room in response", ErrRejected)
	}

	return *out.Room, nil
}

// GetPosition pulls the authoritative position snapshot. Used by active
// sync and by join-time auto-sync.
func (c *Client) GetPosition(ctx context.Context, roomID string) (Position, error) {
	var out apiResponse
	if err := c.do(ctx, http.MethodGet, "/rooms/"+roomID+"/position", nil, &out); err != nil {
		return Position{}, fmt.Errorf("failed to get position: %w", err)
	}

	return Position{PositionMs: out.PositionMs, PlaybackState: out.PlaybackState}, nil
}

type pushPositionBody struct {
	PositionMs int64 `json:"positionMs"`
	IsHost     bool  `json:"isHost"`
}

// PushPosition writes the host's position snapshot. Callers treat it as
// fire-and-forget: a failed push is logged and superseded by the next
// tick.
func (c *Client) PushPosition(ctx context.Context, roomID string, positionMs int64) error {
	var out apiResponse
	if err := c.do(ctx, http.MethodPost, "/rooms/"+roomID+"/position", &pushPositionBody{
		PositionMs: positionMs,
		IsHost:     true,
	}, &out); err != nil {
		return fmt.Errorf("failed to push position: %w", err)
	}

	return nil
}

type StateChangeParams struct {
	Username   string `json:"username"`
	PositionMs int64  `json:"positionMs"`
}

func (c *Client) Play(ctx context.Context, roomID string, params *StateChangeParams) error {
	var out apiResponse
	if err := c.do(ctx, http.MethodPost, "/rooms/"+roomID+"/play", params, &out); err != nil {
		return fmt.Errorf("failed to post play: %w", err)
	}

	return nil
}

func (c *Client) Pause(ctx context.Context, roomID string, params *StateChangeParams) error {
	var out apiResponse
	if err := c.do(ctx, http.MethodPost, "/rooms/"+roomID+"/pause", params, &out); err != nil {
		return fmt.Errorf("failed to post pause: %w", err)
	}

	return nil
}
