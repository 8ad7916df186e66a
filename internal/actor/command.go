package actor

import (
	"context"
	"io"
	"time"

	"pkt.systems/termdeck/schema"
)

// Command is an instruction for an actor's inbox.
type Command interface {
	command()
}

// SendBytes writes Data to the remote shell.
type SendBytes struct {
	Data []byte
}

// Resize sends a window-change request.
type Resize struct {
	Cols int
	Rows int
}

// Disconnect closes the channel and terminates the actor.
type Disconnect struct{}

func (SendBytes) command()  {}
func (Resize) command()     {}
func (Disconnect) command() {}

// Chunk is output read from the remote shell, stamped when it arrived.
// Reads that pile up while the receiver is busy are coalesced into one Chunk.
type Chunk struct {
	Data []byte
	At   time.Time
}

// Channel is a live interactive shell channel.
type Channel interface {
	io.Reader
	io.Writer
	Resize(cols, rows int) error
	Close() error
}

// Dialer opens channels.
type Dialer interface {
	Dial(ctx context.Context, cfg schema.ConnectionConfig) (Channel, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, cfg schema.ConnectionConfig) (Channel, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, cfg schema.ConnectionConfig) (Channel, error) {
	return f(ctx, cfg)
}

type envelope struct {
	cmd   Command
	reply chan error
}

type readEvent struct {
	data []byte
	at   time.Time
	err  error
}
