package session

import "github.com/watchroom/client/internal/directory"

type Role string

const (
	// RoleHost owns the room timeline: it is the only session that
	// publishes position snapshots or originates control broadcasts.
	RoleHost Role = "host"
	// RoleViewer reconciles to the host and never writes the
	// authoritative position.
	RoleViewer Role = "viewer"
)

// RoleFor computes the participant's role from room metadata once, at
// join time. The role is immutable for the session's lifetime; a role
// change requires a fresh session.
func RoleFor(room *directory.Room, participant string) Role {
	if room.CreatedBy == participant {
		return RoleHost
	}

	return RoleViewer
}
