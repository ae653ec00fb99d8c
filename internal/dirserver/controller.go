package dirserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	redisrepo "github.com/watchroom/client/internal/dirserver/redis"
	"github.com/watchroom/client/pkg/ctxlogger"
	"github.com/watchroom/client/pkg/validator"
)

const (
	statePlaying = "playing"
	statePaused  = "paused"
)

// Controller is the reference room directory + relay service. It backs
// local development and the integration tests; a production deployment
// would swap in the real directory service behind the same endpoints.
type Controller struct {
	repo     *redisrepo.Repo
	hub      *hub
	upgrader websocket.Upgrader
	validate *validator.Validator
	logger   *slog.Logger

	now func() time.Time
}

func NewController(repo *redisrepo.Repo, logger *slog.Logger) *Controller {
	return &Controller{
		repo: repo,
		hub:  newHub(logger),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		validate: validator.NewValidator(),
		logger:   logger,
		now:      time.Now,
	}
}

func (c *Controller) Mux() http.Handler {
	r := chi.NewRouter()

	r.Use(c.requestIDMw)
	r.Use(c.requestLoggingMw)

	r.Post("/rooms", c.createRoom)
	r.Get("/rooms/{roomID}", c.getRoom)
	r.Get("/rooms/{roomID}/position", c.getPosition)
	r.Post("/rooms/{roomID}/position", c.pushPosition)
	r.Post("/rooms/{roomID}/play", c.play)
	r.Post("/rooms/{roomID}/pause", c.pause)
	r.HandleFunc("/ws", c.serveWS)

	return r
}

func (c *Controller) requestIDMw(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := ctxlogger.AppendCtx(r.Context(), slog.String("request_id", uuid.NewString()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (c *Controller) requestLoggingMw(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.logger.DebugContext(r.Context(), "request",
			"method", r.Method,
			"url", r.URL.String(),
			"remote_addr", r.RemoteAddr,
		)
		next.ServeHTTP(w, r)
	})
}

type roomPayload struct {
	RoomID    string `json:"room_id"`
	Name      string `json:"name"`
	MovieID   string `json:"movie_id"`
	CreatedBy string `json:"created_by"`
	CreatedAt int64  `json:"created_at"`
}

type apiResponse struct {
	Success       bool         `json:"success"`
	Error         string       `json:"error,omitempty"`
	PositionMs    int64        `json:"positionMs"`
	PlaybackState string       `json:"playbackState,omitempty"`
	Room          *roomPayload `json:"room,omitempty"`
}

func (c *Controller) writeJSON(w http.ResponseWriter, status int, resp *apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func (c *Controller) writeError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, redisrepo.ErrRoomNotFound) {
		c.writeJSON(w, http.StatusNotFound, &apiResponse{Error: "room not found"})
		return
	}
	if msg == "" {
		msg = "internal error"
	}
	c.writeJSON(w, http.StatusInternalServerError, &apiResponse{Error: msg})
}

type createRoomInput struct {
	Name     string `json:"name" validate:"required,max=128"`
	Username string `json:"username" validate:"required,max=64"`
	MovieID  string `json:"movieId" validate:"required"`
}

func (c *Controller) createRoom(w http.ResponseWriter, r *http.Request) {
	var input createRoomInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		c.writeJSON(w, http.StatusBadRequest, &apiResponse{Error: "invalid request body"})
		return
	}
	if verrs, ok := c.validate.Validate(input); !ok {
		c.writeJSON(w, http.StatusBadRequest, &apiResponse{Error: verrs[0].Message})
		return
	}

	roomID := uuid.NewString()
	createdAt := c.now().UnixMilli()
	if err := c.repo.CreateRoom(r.Context(), &redisrepo.CreateRoomParams{
		RoomID:        roomID,
		Name:          input.Name,
		MovieID:       input.MovieID,
		CreatedBy:     input.Username,
		CreatedAt:     createdAt,
		PlaybackState: statePaused,
	}); err != nil {
		c.logger.ErrorContext(r.Context(), "failed to create room", "error", err)
		c.writeError(w, err, "")
		return
	}

	c.writeJSON(w, http.StatusOK, &apiResponse{
		Success: true,
		Room: &roomPayload{
			RoomID:    roomID,
			Name:      input.Name,
			MovieID:   input.MovieID,
			CreatedBy: input.Username,
			CreatedAt: createdAt,
		},
	})
}

func (c *Controller) getRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	room, err := c.repo.GetRoom(r.Context(), roomID)
	if err != nil {
		c.writeError(w, err, "")
		return
	}

	c.writeJSON(w, http.StatusOK, &apiResponse{
		Success: true,
		Room: &roomPayload{
			RoomID:    roomID,
			Name:      room.Name,
			MovieID:   room.MovieID,
			CreatedBy: room.CreatedBy,
			CreatedAt: room.CreatedAt,
		},
	})
}

// currentPosition interpolates the stored snapshot: while playing, the
// room timeline keeps advancing between host pushes.
func currentPosition(room *redisrepo.Room, nowMs int64) int64 {
	if room.PlaybackState != statePlaying {
		return room.PositionMs
	}

	pos := room.PositionMs + (nowMs - room.UpdatedAt)
	if pos < 0 {
		pos = 0
	}

	return pos
}

func (c *Controller) getPosition(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	room, err := c.repo.GetRoom(r.Context(), roomID)
	if err != nil {
		c.writeError(w, err, "")
		return
	}

	c.writeJSON(w, http.StatusOK, &apiResponse{
		Success:       true,
		PositionMs:    currentPosition(&room, c.now().UnixMilli()),
		PlaybackState: room.PlaybackState,
	})
}

type pushPositionInput struct {
	PositionMs int64 `json:"positionMs"`
	IsHost     bool  `json:"isHost"`
}

func (c *Controller) pushPosition(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	var input pushPositionInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		c.writeJSON(w, http.StatusBadRequest, &apiResponse{Error: "invalid request body"})
		return
	}
	if !input.IsHost {
		c.writeJSON(w, http.StatusBadRequest, &apiResponse{Error: "position writes require the host role"})
		return
	}

	if err := c.repo.SetPosition(r.Context(), &redisrepo.SetPositionParams{
		RoomID:     roomID,
		PositionMs: input.PositionMs,
		UpdatedAt:  c.now().UnixMilli(),
	}); err != nil {
		c.writeError(w, err, "")
		return
	}

	c.writeJSON(w, http.StatusOK, &apiResponse{Success: true})
}

type stateChangeInput struct {
	Username   string `json:"username" validate:"required"`
	PositionMs int64  `json:"positionMs"`
}

func (c *Controller) play(w http.ResponseWriter, r *http.Request) {
	c.changeState(w, r, statePlaying)
}

func (c *Controller) pause(w http.ResponseWriter, r *http.Request) {
	c.changeState(w, r, statePaused)
}

func (c *Controller) changeState(w http.ResponseWriter, r *http.Request, state string) {
	roomID := chi.URLParam(r, "roomID")

	var input stateChangeInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		c.writeJSON(w, http.StatusBadRequest, &apiResponse{Error: "invalid request body"})
		return
	}
	if verrs, ok := c.validate.Validate(input); !ok {
		c.writeJSON(w, http.StatusBadRequest, &apiResponse{Error: verrs[0].Message})
		return
	}

	room, err := c.repo.GetRoom(r.Context(), roomID)
	if err != nil {
		c.writeError(w, err, "")
		return
	}
	if room.CreatedBy != input.Username {
		c.writeJSON(w, http.StatusBadRequest, &apiResponse{Error: "only the room creator can control playback"})
		return
	}

	if err := c.repo.SetPlaybackState(r.Context(), &redisrepo.SetPlaybackStateParams{
		RoomID:        roomID,
		PlaybackState: state,
		PositionMs:    input.PositionMs,
		UpdatedAt:     c.now().UnixMilli(),
	}); err != nil {
		c.writeError(w, err, "")
		return
	}

	c.writeJSON(w, http.StatusOK, &apiResponse{Success: true})
}
