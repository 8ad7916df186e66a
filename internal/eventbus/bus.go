package eventbus

import (
	"context"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/termdeck/schema"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventTab carries tab lifecycle updates.
	EventTab EventType = "tab"
	// EventSession carries per-tick session deltas.
	EventSession EventType = "session"
)

// DefaultDepth is the queue length of each subscriber.
const DefaultDepth = 256

// Event represents a display-facing event emitted by the tab manager.
type Event struct {
	Type    EventType
	Tab     schema.TabEvent
	Session schema.SessionEvent
}

// TabID returns the tab the event concerns.
func (e Event) TabID() schema.TabID {
	if e.Type == EventSession {
		return e.Session.Tab
	}
	return e.Tab.Tab
}

// AllTabs subscribes to events of every tab.
const AllTabs schema.TabID = ""

// Bus fans events out to per-tab subscribers. Publishing never blocks; a full
// subscriber queue drops the event.
type Bus struct {
	mu      sync.Mutex
	subs    map[schema.TabID]map[chan Event]struct{}
	log     pslog.Logger
	depth   int
	dropped uint64
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[schema.TabID]map[chan Event]struct{}),
		log:   logger,
		depth: DefaultDepth,
	}
}

// Subscribe registers a subscriber for the tab (AllTabs for every tab) and
// returns a channel + cancel.
func (b *Bus) Subscribe(tabID schema.TabID) (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	tabSubs := b.subs[tabID]
	if tabSubs == nil {
		tabSubs = make(map[chan Event]struct{})
		b.subs[tabID] = tabSubs
	}
	tabSubs[ch] = struct{}{}
	count := len(tabSubs)
	b.mu.Unlock()
	if b.log != nil {
		b.log.With("tab", tabID).Debug("eventbus subscribe", "subs", count)
	}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if subs := b.subs[tabID]; subs != nil {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(b.subs, tabID)
				}
			}
			b.mu.Unlock()
			close(ch)
			if b.log != nil {
				b.log.With("tab", tabID).Debug("eventbus unsubscribe")
			}
		})
	}
}

// OnTabEvent publishes a tab event.
func (b *Bus) OnTabEvent(event schema.TabEvent) {
	b.publish(Event{Type: EventTab, Tab: event})
}

// OnSessionEvent publishes a session event.
func (b *Bus) OnSessionEvent(event schema.SessionEvent) {
	b.publish(Event{Type: EventSession, Session: event})
}

// Dropped returns the number of events dropped on full queues.
func (b *Bus) Dropped() uint64 {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *Bus) publish(event Event) {
	if b == nil {
		return
	}
	tabID := event.TabID()
	b.mu.Lock()
	subs := make([]chan Event, 0, len(b.subs[tabID])+len(b.subs[AllTabs]))
	for sub := range b.subs[tabID] {
		subs = append(subs, sub)
	}
	if tabID != AllTabs {
		for sub := range b.subs[AllTabs] {
			subs = append(subs, sub)
		}
	}
	dropped := 0
	for _, sub := range subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	b.dropped += uint64(dropped)
	b.mu.Unlock()
	if dropped > 0 && b.log != nil {
		b.log.With("tab", tabID).Trace("eventbus dropped", "count", dropped)
	}
}

// Drain returns every event queued on ch without blocking.
func Drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}
