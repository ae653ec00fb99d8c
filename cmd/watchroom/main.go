package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/watchroom/client/internal/directory"
	"github.com/watchroom/client/internal/player"
	"github.com/watchroom/client/internal/relay"
	"github.com/watchroom/client/internal/session"
	"github.com/watchroom/client/pkg/ctxlogger"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
}

var (
	serverURL = configVar[string]{
		envKey:       "WATCHROOM_SERVER_URL",
		flagKey:      "server-url",
		defaultValue: "http://localhost:8080",
	}
	wsURL = configVar[string]{
		envKey:       "WATCHROOM_WS_URL",
		flagKey:      "ws-url",
		defaultValue: "ws://localhost:8080/ws",
	}
	roomID = configVar[string]{
		envKey:       "WATCHROOM_ROOM",
		flagKey:      "room",
		defaultValue: "",
	}
	username = configVar[string]{
		envKey:       "WATCHROOM_USERNAME",
		flagKey:      "username",
		defaultValue: "",
	}
	createRoom = configVar[bool]{
		envKey:       "WATCHROOM_CREATE",
		flagKey:      "create",
		defaultValue: false,
	}
	roomName = configVar[string]{
		envKey:       "WATCHROOM_ROOM_NAME",
		flagKey:      "room-name",
		defaultValue: "movie night",
	}
	movieID = configVar[string]{
		envKey:       "WATCHROOM_MOVIE_ID",
		flagKey:      "movie-id",
		defaultValue: "",
	}
	movieLength = configVar[float64]{
		envKey:       "WATCHROOM_MOVIE_LENGTH",
		flagKey:      "movie-length",
		defaultValue: 2 * 60 * 60,
	}
	logLevel = configVar[string]{
		envKey:       "WATCHROOM_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "WARN",
	}
)

type cliConfig struct {
	ServerURL   string
	WsURL       string
	RoomID      string
	Username    string
	CreateRoom  bool
	RoomName    string
	MovieID     string
	MovieLength float64
	LogLevel    string
}

func loadCliConfig() *cliConfig {
	pflag.String(serverURL.flagKey, serverURL.defaultValue, "Directory service base URL")
	pflag.String(wsURL.flagKey, wsURL.defaultValue, "Relay websocket URL")
	pflag.String(roomID.flagKey, roomID.defaultValue, "Room to join")
	pflag.String(username.flagKey, username.defaultValue, "Participant name")
	pflag.Bool(createRoom.flagKey, createRoom.defaultValue, "Create a new room instead of joining")
	pflag.String(roomName.flagKey, roomName.defaultValue, "Name for the created room")
	pflag.String(movieID.flagKey, movieID.defaultValue, "Movie for the created room")
	pflag.Float64(movieLength.flagKey, movieLength.defaultValue, "Simulated movie length in seconds")
	pflag.String(logLevel.flagKey, logLevel.defaultValue, "Logging level")
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	viper.BindEnv(serverURL.flagKey, serverURL.envKey)
	viper.BindEnv(wsURL.flagKey, wsURL.envKey)
	viper.BindEnv(roomID.flagKey, roomID.envKey)
	viper.BindEnv(username.flagKey, username.envKey)
	viper.BindEnv(createRoom.flagKey, createRoom.envKey)
	viper.BindEnv(roomName.flagKey, roomName.envKey)
	viper.BindEnv(movieID.flagKey, movieID.envKey)
	viper.BindEnv(movieLength.flagKey, movieLength.envKey)
	viper.BindEnv(logLevel.flagKey, logLevel.envKey)

	return &cliConfig{
		ServerURL:   viper.GetString(serverURL.flagKey),
		WsURL:       viper.GetString(wsURL.flagKey),
		RoomID:      viper.GetString(roomID.flagKey),
		Username:    viper.GetString(username.flagKey),
		CreateRoom:  viper.GetBool(createRoom.flagKey),
		RoomName:    viper.GetString(roomName.flagKey),
		MovieID:     viper.GetString(movieID.flagKey),
		MovieLength: viper.GetFloat64(movieLength.flagKey),
		LogLevel:    viper.GetString(logLevel.flagKey),
	}
}

func main() {
	cfg := loadCliConfig()
	if cfg.Username == "" {
		log.Fatal("--username is required")
	}

	level := slog.LevelWarn
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		log.Fatal(err)
	}
	logger := slog.New(&ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := directory.NewClient(cfg.ServerURL)

	var room directory.Room
	var err error
	if cfg.CreateRoom {
		if cfg.MovieID == "" {
			log.Fatal("--movie-id is required with --create")
		}
		room, err = dir.CreateRoom(ctx, &directory.CreateRoomParams{
			Name:     cfg.RoomName,
			Username: cfg.Username,
			MovieID:  cfg.MovieID,
		})
		if err != nil {
			log.Fatalf("failed to create room: %v", err)
		}
		fmt.Printf("created room %s\n", room.ID)
	} else {
		if cfg.RoomID == "" {
			log.Fatal("--room is required")
		}
		room, err = dir.GetRoom(ctx, cfg.RoomID)
		if err != nil {
			log.Fatalf("failed to get room: %v", err)
		}
	}

	role := session.RoleFor(&room, cfg.Username)
	fmt.Printf("joined %q as %s\n", room.Name, role)

	engine := player.NewSimEngine(cfg.MovieLength)
	adapter := player.NewAdapter(engine)

	rl := relay.NewClient(relay.Config{
		URL:         cfg.WsURL,
		RoomID:      room.ID,
		Participant: cfg.Username,
		Logger:      logger,
	})
	if err := rl.Dial(ctx); err != nil {
		log.Fatalf("failed to connect to relay: %v", err)
	}

	sess := session.New(session.Config{
		RoomID:      room.ID,
		Participant: cfg.Username,
		HostID:      room.CreatedBy,
		Role:        role,
		Adapter:     adapter,
		Relay:       rl,
		Directory:   dir,
		Logger:      logger,
		AutoSync:    role == session.RoleViewer,
	})
	sess.Start(ctx)

	go printNotices(sess)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
		os.Stdin.Close()
	}()

	repl(ctx, sess, adapter)

	if err := sess.Close(); err != nil {
		logger.Warn("failed to close session", "error", err)
	}
}

func printNotices(sess *session.Session) {
	for n := range sess.Notices() {
		switch n.Kind {
		case session.NoticeChat:
			fmt.Printf("[%s] %s\n", n.Origin, n.Text)
		case session.NoticeUserJoin:
			fmt.Printf("* %s joined\n", n.Origin)
		case session.NoticeUserLeft:
			fmt.Printf("* %s left\n", n.Origin)
		case session.NoticeSyncSuccess:
			state := "paused"
			if n.Playing {
				state = "playing"
			}
			fmt.Printf("* synced to %.1fs (%s)\n", n.Time, state)
		case session.NoticeSyncFailed:
			fmt.Printf("* sync failed: %s\n", n.Text)
		case session.NoticeAutoSync:
			fmt.Printf("* %s\n", n.Text)
		case session.NoticeError:
			fmt.Printf("! %s\n", n.Text)
		}
	}
}

// repl reads commands from stdin: /play, /pause, /seek <seconds>,
// /sync, /pos; anything else is sent as chat.
func repl(ctx context.Context, sess *session.Session, adapter *player.Adapter) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		cmd, arg, _ := strings.Cut(line, " ")
		var err error
		switch cmd {
		case "/play":
			err = adapter.Play()
		case "/pause":
			err = adapter.Pause()
		case "/seek":
			var seconds float64
			seconds, err = strconv.ParseFloat(arg, 64)
			if err == nil {
				err = adapter.SeekTo(seconds)
			}
		case "/sync":
			err = sess.SyncToHost(ctx)
		case "/pos":
			state := "paused"
			if adapter.IsPlaying() {
				state = "playing"
			}
			fmt.Printf("%.1fs / %.1fs (%s)\n", adapter.CurrentTime(), adapter.Duration(), state)
		default:
			err = sess.SendChat(ctx, line)
		}
		if err != nil {
			fmt.Printf("! %v\n", err)
		}
	}
}
