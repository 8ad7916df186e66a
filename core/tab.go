package core

import (
	"strings"
	"unicode/utf8"

	"pkt.systems/termdeck/schema"
)

const (
	welcomeTabName = "welcome"
	tabNameMax     = 24
	tabNameSuffix  = "…"
)

// tab is one entry in the tab list. Terminal tabs own a session.
type tab struct {
	ID      schema.TabID
	Name    schema.TabName
	Kind    schema.TabKind
	session *Session
}

// Snapshot returns a display-friendly view of the tab.
func (t *tab) Snapshot(active bool) schema.TabSnapshot {
	snap := schema.TabSnapshot{
		ID:     t.ID,
		Name:   t.Name,
		Kind:   t.Kind,
		Active: active,
	}
	if t.session != nil {
		snap.Session = t.session.ID()
		snap.Status, _ = t.session.Status()
	}
	return snap
}

func formatTabName(name string) schema.TabName {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) <= tabNameMax {
		return schema.TabName(name)
	}
	runes := []rune(name)
	keep := tabNameMax - utf8.RuneCountInString(tabNameSuffix)
	return schema.TabName(string(runes[:keep]) + tabNameSuffix)
}
