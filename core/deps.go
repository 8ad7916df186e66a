package core

import (
	"context"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/termdeck/internal/actor"
	"pkt.systems/termdeck/schema"
)

// Registry spawns and routes commands to connection actors.
// *actor.Registry implements it.
type Registry interface {
	Spawn(ctx context.Context, id schema.SessionID, cfg schema.ConnectionConfig) (*actor.Actor, error)
	Dispatch(ctx context.Context, id schema.SessionID, cmd actor.Command) error
	TryDispatch(id schema.SessionID, cmd actor.Command) error
	Despawn(ctx context.Context, id schema.SessionID) error
}

// ManagerDeps captures dependencies for the tab manager.
type ManagerDeps struct {
	Registry  Registry
	EventSink EventSink
	Logger    pslog.Logger
	Now       func() time.Time
}
