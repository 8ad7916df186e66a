package core

import "pkt.systems/termdeck/schema"

// EventSink receives tab and session events from the tab manager.
type EventSink interface {
	OnTabEvent(event schema.TabEvent)
	OnSessionEvent(event schema.SessionEvent)
}

type nopSink struct{}

func (nopSink) OnTabEvent(schema.TabEvent)         {}
func (nopSink) OnSessionEvent(schema.SessionEvent) {}
