package core

import (
	"github.com/google/uuid"

	"pkt.systems/termdeck/schema"
)

func newTabID() schema.TabID {
	return schema.TabID(uuid.NewString())
}

func newSessionID() schema.SessionID {
	return schema.SessionID(uuid.NewString())
}
