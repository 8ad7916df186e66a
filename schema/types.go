package schema

// TabID identifies a tab in the tab manager.
type TabID string

// TabName is the user-facing name of a tab.
type TabName string

// SessionID identifies a terminal session and the actor that serves it.
type SessionID string

// TabKind is the closed set of tab variants.
type TabKind int

const (
	// TabWelcome is the landing tab shown before any connection exists.
	TabWelcome TabKind = iota
	// TabTerminal hosts one terminal session.
	TabTerminal
)

func (k TabKind) String() string {
	switch k {
	case TabWelcome:
		return "welcome"
	case TabTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// SessionStatus is the connection state of a session.
type SessionStatus int

const (
	// StatusConnecting means the actor is dialing and authenticating.
	StatusConnecting SessionStatus = iota
	// StatusConnected means the remote shell is live.
	StatusConnected
	// StatusDisconnected means the connection ended after being established.
	StatusDisconnected
	// StatusFailed means the connection could not be established.
	StatusFailed
)

func (s SessionStatus) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s SessionStatus) Terminal() bool {
	return s == StatusDisconnected || s == StatusFailed
}

// TabSnapshot is a read-only view of a tab.
type TabSnapshot struct {
	ID      TabID
	Name    TabName
	Kind    TabKind
	Session SessionID
	Status  SessionStatus
	Active  bool
}
