package models

import "time"

// User represents an account within the Blip platform.
type User struct {
	ID          string
	Username    string
	Email       string
	DisplayName string
	AvatarURL   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Profile holds the public fields of a user shown next to a connection.
type Profile struct {
	Username    string
	DisplayName string
	AvatarURL   string
}

// Profile returns the public projection of the user.
func (u User) Profile() Profile {
	return Profile{Username: u.Username, DisplayName: u.DisplayName, AvatarURL: u.AvatarURL}
}

// ConnectionStatus is the state of a directed connection edge.
type ConnectionStatus string

const (
	ConnectionPending  ConnectionStatus = "pending"
	ConnectionAccepted ConnectionStatus = "accepted"
)

// Valid reports whether s is a known status.
func (s ConnectionStatus) Valid() bool {
	return s == ConnectionPending || s == ConnectionAccepted
}

// Connection is one directed edge from OwnerID to PeerID.
//
// A pending connection is a friend request sent by the owner. An accepted
// relationship between two users is stored as two accepted edges, one in each
// direction.
type Connection struct {
	ID        int64
	OwnerID   string
	PeerID    string
	Status    ConnectionStatus
	CreatedAt time.Time
}

// Mirror reports whether c is the reverse edge of other.
func (c Connection) Mirror(other Connection) bool {
	return c.OwnerID == other.PeerID && c.PeerID == other.OwnerID
}

// ConnectionWithProfile pairs a connection with the other user's public profile.
type ConnectionWithProfile struct {
	Connection
	Profile Profile
}
