package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrRoomNotFound = errors.New("room not found")

type Repo struct {
	rc  *redis.Client
	ttl time.Duration
}

func NewRepo(rc *redis.Client, ttl time.Duration) *Repo {
	return &Repo{rc: rc, ttl: ttl}
}

func roomKey(roomID string) string {
	return "room:" + roomID
}

type Room struct {
	Name          string `redis:"name"`
	MovieID       string `redis:"movie_id"`
	CreatedBy     string `redis:"created_by"`
	CreatedAt     int64  `redis:"created_at"`
	PositionMs    int64  `redis:"position_ms"`
	PlaybackState string `redis:"playback_state"`
	UpdatedAt     int64  `redis:"updated_at"`
}

type CreateRoomParams struct {
	RoomID        string
	Name          string
	MovieID       string
	CreatedBy     string
	CreatedAt     int64
	PlaybackState string
}

func (r *Repo) CreateRoom(ctx context.Context, params *CreateRoomParams) error {
	key := roomKey(params.RoomID)

	pipe := r.rc.TxPipeline()
	pipe.HSet(ctx, key, Room{
		Name:          params.Name,
		MovieID:       params.MovieID,
		CreatedBy:     params.CreatedBy,
		CreatedAt:     params.CreatedAt,
		PositionMs:    0,
		PlaybackState: params.PlaybackState,
		UpdatedAt:     params.CreatedAt,
	})
	pipe.Expire(ctx, key, r.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to create room: %w", err)
	}

	return nil
}

func (r *Repo) GetRoom(ctx context.Context, roomID string) (Room, error) {
	key := roomKey(roomID)

	exists, err := r.rc.Exists(ctx, key).Result()
	if err != nil {
		return Room{}, fmt.Errorf("failed to check room: %w", err)
	}
	if exists == 0 {
		return Room{}, ErrRoomNotFound
	}

	var room Room
	if err := r.rc.HGetAll(ctx, key).Scan(&room); err != nil {
		return Room{}, fmt.Errorf("failed to get room: %w", err)
	}

	return room, nil
}

type SetPositionParams struct {
	RoomID     string
	PositionMs int64
	UpdatedAt  int64
}

func (r *Repo) SetPosition(ctx context.Context, params *SetPositionParams) error {
	key := roomKey(params.RoomID)

	exists, err := r.rc.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check room: %w", err)
	}
	if exists == 0 {
		return ErrRoomNotFound
	}

	if err := r.rc.HSet(ctx, key,
		"position_ms", params.PositionMs,
		"updated_at", params.UpdatedAt,
	).Err(); err != nil {
		return fmt.Errorf("failed to set position: %w", err)
	}

	return nil
}

type SetPlaybackStateParams struct {
	RoomID        string
	PlaybackState string
	PositionMs    int64
	UpdatedAt     int64
}

func (r *Repo) SetPlaybackState(ctx context.Context, params *SetPlaybackStateParams) error {
	key := roomKey(params.RoomID)

	exists, err := r.rc.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check room: %w", err)
	}
	if exists == 0 {
		return ErrRoomNotFound
	}

	if err := r.rc.HSet(ctx, key,
		"playback_state", params.PlaybackState,
		"position_ms", params.PositionMs,
		"updated_at", params.UpdatedAt,
	).Err(); err != nil {
		return fmt.Errorf("failed to set playback state: %w", err)
	}

	return nil
}
