// Package actor runs one goroutine per remote shell channel. The goroutine is
// the only code that touches the channel; everything else talks to it through
// its inbox and receives output from Chunks.
package actor

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/termdeck/internal/transport"
	"pkt.systems/termdeck/schema"
)

const (
	// DefaultInboxDepth is the number of commands that may queue per actor.
	DefaultInboxDepth = 64
	// DefaultMaxPendingBytes caps undelivered output before reads stop.
	DefaultMaxPendingBytes = 1 << 20
	// DefaultReadBufferSize is the size of each channel read.
	DefaultReadBufferSize = 4096
)

// Options configures actors.
type Options struct {
	Dialer          Dialer
	InboxDepth      int
	MaxPendingBytes int
	ReadBufferSize  int
	Logger          pslog.Logger
	Now             func() time.Time
}

func (o Options) withDefaults() Options {
	if o.InboxDepth <= 0 {
		o.InboxDepth = DefaultInboxDepth
	}
	if o.MaxPendingBytes <= 0 {
		o.MaxPendingBytes = DefaultMaxPendingBytes
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = DefaultReadBufferSize
	}
	if o.Logger == nil {
		o.Logger = pslog.Ctx(context.Background())
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Dialer == nil {
		o.Dialer = SSHDialer(transport.Options{Logger: o.Logger})
	}
	return o
}

// SSHDialer returns a Dialer backed by the SSH transport.
func SSHDialer(opts transport.Options) Dialer {
	return DialerFunc(func(ctx context.Context, cfg schema.ConnectionConfig) (Channel, error) {
		ch, err := transport.Dial(ctx, cfg, opts)
		if err != nil {
			return nil, err
		}
		return ch, nil
	})
}

// Actor owns one channel.
type Actor struct {
	ch      Channel
	inbox   chan envelope
	chunks  chan Chunk
	done    chan struct{}
	release chan struct{}
	once    sync.Once

	mu  sync.Mutex
	err error

	maxPending int
	readSize   int
	now        func() time.Time
	log        pslog.Logger
}

// Open dials cfg and starts an actor on the resulting channel. Dial failures
// are returned as they come from the Dialer (AuthError, NetworkError or
// ProtocolError for the SSH dialer).
func Open(ctx context.Context, cfg schema.ConnectionConfig, opts Options) (*Actor, error) {
	opts = opts.withDefaults()
	ch, err := opts.Dialer.Dial(ctx, cfg)
	if err != nil {
		opts.Logger.Warn("actor open failed", "host", cfg.Host, "user", cfg.Username, "err", err)
		return nil, err
	}
	opts.Logger.Info("actor opened", "host", cfg.Host, "port", cfg.Port, "user", cfg.Username)
	return Start(ch, opts), nil
}

// Start runs an actor on an already open channel.
func Start(ch Channel, opts Options) *Actor {
	opts = opts.withDefaults()
	a := &Actor{
		ch:         ch,
		inbox:      make(chan envelope, opts.InboxDepth),
		chunks:     make(chan Chunk),
		done:       make(chan struct{}),
		release:    make(chan struct{}),
		maxPending: opts.MaxPendingBytes,
		readSize:   opts.ReadBufferSize,
		now:        opts.Now,
		log:        opts.Logger,
	}
	reads := make(chan readEvent)
	quit := make(chan struct{})
	go a.pump(reads, quit)
	go a.run(reads, quit)
	return a
}

// Chunks delivers output in arrival order. It is closed after the actor
// terminates and any pending output was delivered.
func (a *Actor) Chunks() <-chan Chunk {
	return a.chunks
}

// Done is closed when the actor terminates.
func (a *Actor) Done() <-chan struct{} {
	return a.done
}

// Err returns why the actor terminated: nil after Disconnect, a NetworkError
// after the remote side went away.
func (a *Actor) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Alive reports whether the actor still accepts commands.
func (a *Actor) Alive() bool {
	select {
	case <-a.done:
		return false
	default:
		return true
	}
}

// Submit queues cmd and waits for it to be applied. It fails with
// schema.ErrDisconnected once the actor terminated.
func (a *Actor) Submit(ctx context.Context, cmd Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !a.Alive() {
		return schema.ErrDisconnected
	}
	env := envelope{cmd: cmd, reply: make(chan error, 1)}
	select {
	case a.inbox <- env:
	case <-a.done:
		return schema.ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-env.reply:
		return err
	case <-a.done:
		select {
		case err := <-env.reply:
			return err
		default:
			return schema.ErrDisconnected
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit queues cmd without waiting. It fails with schema.ErrInboxFull
// when the inbox is full.
func (a *Actor) TrySubmit(cmd Command) error {
	if !a.Alive() {
		return schema.ErrDisconnected
	}
	env := envelope{cmd: cmd, reply: make(chan error, 1)}
	select {
	case a.inbox <- env:
		return nil
	default:
		return schema.ErrInboxFull
	}
}

// Close disconnects the actor and stops holding undelivered output for the
// receiver. Closing a terminated actor is a no-op.
func (a *Actor) Close(ctx context.Context) error {
	err := a.Submit(ctx, Disconnect{})
	a.once.Do(func() { close(a.release) })
	if err == schema.ErrDisconnected {
		return nil
	}
	return err
}

func (a *Actor) pump(reads chan<- readEvent, quit <-chan struct{}) {
	for {
		buf := make([]byte, a.readSize)
		n, err := a.ch.Read(buf)
		if n > 0 {
			select {
			case reads <- readEvent{data: buf[:n], at: a.now()}:
			case <-quit:
				return
			}
		}
		if err != nil {
			select {
			case reads <- readEvent{err: err}:
			case <-quit:
			}
			return
		}
	}
}

func (a *Actor) run(reads <-chan readEvent, quit chan struct{}) {
	var (
		pending   []byte
		pendingAt time.Time
	)
	for {
		var in <-chan readEvent
		if len(pending) < a.maxPending {
			in = reads
		}
		var out chan<- Chunk
		if len(pending) > 0 {
			out = a.chunks
		}
		select {
		case env := <-a.inbox:
			if _, ok := env.cmd.(Disconnect); ok {
				if err := a.ch.Close(); err != nil {
					a.log.Debug("actor channel close", "err", err)
				}
				env.reply <- nil
				close(quit)
				a.terminate(nil, pending, pendingAt)
				return
			}
			env.reply <- a.apply(env.cmd)
		case ev := <-in:
			if ev.err != nil {
				close(quit)
				_ = a.ch.Close()
				a.terminate(schema.NetworkError("read", ev.err), pending, pendingAt)
				return
			}
			if len(pending) == 0 {
				pendingAt = ev.at
			}
			pending = append(pending, ev.data...)
		case out <- Chunk{Data: pending, At: pendingAt}:
			pending = nil
		}
	}
}

func (a *Actor) apply(cmd Command) error {
	switch c := cmd.(type) {
	case SendBytes:
		if err := writeFull(a.ch, c.Data); err != nil {
			a.log.Warn("actor write failed", "bytes", len(c.Data), "err", err)
			return schema.NetworkError("write", err)
		}
		return nil
	case Resize:
		if c.Cols <= 0 || c.Rows <= 0 {
			return fmt.Errorf("%w: %dx%d", schema.ErrInvalidSize, c.Cols, c.Rows)
		}
		if err := a.ch.Resize(c.Cols, c.Rows); err != nil {
			a.log.Warn("actor resize failed", "cols", c.Cols, "rows", c.Rows, "err", err)
			return schema.NetworkError("window change", err)
		}
		return nil
	}
	return fmt.Errorf("unsupported command %T", cmd)
}

func (a *Actor) terminate(err error, pending []byte, at time.Time) {
	a.mu.Lock()
	a.err = err
	a.mu.Unlock()
	close(a.done)
	if err != nil {
		a.log.Info("actor terminated", "err", err)
	} else {
		a.log.Debug("actor disconnected")
	}
	if len(pending) > 0 {
		select {
		case a.chunks <- Chunk{Data: pending, At: at}:
		case <-a.release:
		}
	}
	close(a.chunks)
}

func writeFull(w io.Writer, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		data = data[n:]
	}
	return nil
}
