package channelclient

import "time"

// ConnectionState is the derived view of the channel's connectivity
type ConnectionState string

const (
	StateConnected             ConnectionState = "connected"
	StateAwaitingAuthorization ConnectionState = "awaiting_authorization"
	StateDisconnected          ConnectionState = "disconnected"
)

// State is an immutable snapshot of the channel as of the last poll
type State struct {
	Connected  bool
	QRCode     string // Pending authorization artifact, empty when none
	LastPollAt time.Time
	LastError  string
}

// ConnectionState derives the connectivity from the snapshot.
// A cached QR code means the channel is waiting for someone to scan it.
func (s State) ConnectionState() ConnectionState {
	switch {
	case s.Connected:
		return StateConnected
	case s.QRCode != "":
		return StateAwaitingAuthorization
	default:
		return StateDisconnected
	}
}
