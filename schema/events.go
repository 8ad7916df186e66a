package schema

// TabEventType describes a tab lifecycle change.
type TabEventType string

const (
	// TabEventCreated indicates a tab was opened.
	TabEventCreated TabEventType = "created"
	// TabEventClosed indicates a tab was closed.
	TabEventClosed TabEventType = "closed"
	// TabEventActivated indicates the active tab changed.
	TabEventActivated TabEventType = "activated"
	// TabEventRenamed indicates a tab was renamed.
	TabEventRenamed TabEventType = "renamed"
)

// TabEvent carries a tab lifecycle update.
type TabEvent struct {
	Type TabEventType
	Tab  TabID
	Kind TabKind
	Name TabName
}

// SessionEvent carries the render-state deltas of one tick.
type SessionEvent struct {
	Tab      TabID
	Session  SessionID
	Status   SessionStatus
	Reason   string
	Title    string
	Prompt   string
	Lines    []string
	Commands []string

	StatusChanged bool
	TitleChanged  bool
	PromptChanged bool
}

// Empty reports whether the event carries no change.
func (e SessionEvent) Empty() bool {
	return !e.StatusChanged && !e.TitleChanged && !e.PromptChanged && len(e.Lines) == 0 && len(e.Commands) == 0
}
