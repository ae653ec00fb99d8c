package directory

type PlaybackState string

const (
	StatePlaying PlaybackState = "playing"
	StatePaused  PlaybackState = "paused"
)

// Room is the directory service's metadata record. CreatedBy identifies
// the participant whose session holds the host role.
type Room struct {
	ID        string `json:"room_id"`
	Name      string `json:"name"`
	MovieID   string `json:"movie_id"`
	CreatedBy string `json:"created_by"`
	CreatedAt int64  `json:"created_at"`
}

// Position is the authoritative playback snapshot for a room. It is
// the single source of truth for the room timeline; only the host
// writes it.
type Position struct {
	PositionMs    int64         `json:"positionMs"`
	PlaybackState PlaybackState `json:"playbackState"`
}
