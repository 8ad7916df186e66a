package actor

import (
	"context"
	"errors"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/termdeck/internal/logx"
	"pkt.systems/termdeck/schema"
)

// abandonTimeout bounds closing an actor whose session went away mid-open.
const abandonTimeout = 5 * time.Second

type entry struct {
	actor *Actor
}

// Registry indexes actors by session id. At most one live actor exists per id.
type Registry struct {
	mu      sync.Mutex
	entries map[schema.SessionID]*entry
	opts    Options
	log     pslog.Logger
}

// NewRegistry constructs a Registry whose actors use opts.
func NewRegistry(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = pslog.Ctx(context.Background())
	}
	return &Registry{
		entries: make(map[schema.SessionID]*entry),
		opts:    opts,
		log:     opts.Logger,
	}
}

// Spawn opens an actor for id. The id is reserved before dialing so a
// concurrent Spawn fails with schema.ErrAlreadyExists. A terminated actor
// registered under id is replaced.
func (r *Registry) Spawn(ctx context.Context, id schema.SessionID, cfg schema.ConnectionConfig) (*Actor, error) {
	r.mu.Lock()
	var stale *Actor
	if e, ok := r.entries[id]; ok {
		if e.actor == nil || e.actor.Alive() {
			r.mu.Unlock()
			return nil, schema.ErrAlreadyExists
		}
		stale = e.actor
	}
	reserved := &entry{}
	r.entries[id] = reserved
	r.mu.Unlock()

	if stale != nil {
		_ = stale.Close(ctx)
	}

	opts := r.opts
	opts.Logger = logx.SessionLogger(ctx, r.log, id)
	a, err := Open(ctx, cfg, opts)

	r.mu.Lock()
	if r.entries[id] != reserved {
		r.mu.Unlock()
		if err != nil {
			return nil, err
		}
		closeCtx, cancel := context.WithTimeout(context.Background(), abandonTimeout)
		defer cancel()
		_ = a.Close(closeCtx)
		r.log.Debug("actor abandoned", "session", id)
		return nil, schema.ErrDisconnected
	}
	if err != nil {
		delete(r.entries, id)
		r.mu.Unlock()
		return nil, err
	}
	reserved.actor = a
	r.mu.Unlock()
	r.log.Debug("actor spawned", "session", id)
	return a, nil
}

// Get returns the actor registered under id.
func (r *Registry) Get(id schema.SessionID) (*Actor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.actor == nil {
		return nil, false
	}
	return e.actor, true
}

// Dispatch submits cmd to the actor for id.
func (r *Registry) Dispatch(ctx context.Context, id schema.SessionID, cmd Command) error {
	a, ok := r.Get(id)
	if !ok {
		return schema.ErrSessionNotFound
	}
	return a.Submit(ctx, cmd)
}

// TryDispatch queues cmd for id without waiting.
func (r *Registry) TryDispatch(id schema.SessionID, cmd Command) error {
	a, ok := r.Get(id)
	if !ok {
		return schema.ErrSessionNotFound
	}
	return a.TrySubmit(cmd)
}

// Despawn disconnects and forgets the actor for id. Unknown ids are a no-op.
func (r *Registry) Despawn(ctx context.Context, id schema.SessionID) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()
	if !ok || e.actor == nil {
		return nil
	}
	r.log.Debug("actor despawn", "session", id)
	return e.actor.Close(ctx)
}

// Len returns the number of registered ids, including reservations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close despawns every actor.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	ids := make([]schema.SessionID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	var errs []error
	for _, id := range ids {
		if err := r.Despawn(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
