// Package session tracks per-conversation transient state: the
// finite-state machine behind multi-turn task creation and
// confirmation prompts. Sessions live in memory only; nothing here
// survives a restart.
package session

import "time"

// PendingAction names the state of a conversation's FSM
type PendingAction string

const (
	// PendingNone means no multi-turn flow is open.
	PendingNone PendingAction = "none"
	// PendingTaskName means the next turn supplies the draft task's name.
	PendingTaskName PendingAction = "awaiting_task_name"
	// PendingTaskCommand means the next turn supplies the draft task's command.
	PendingTaskCommand PendingAction = "awaiting_task_command"
	// PendingConfirmation means a destructive action awaits an
	// affirmative reply; anything else abandons it.
	PendingConfirmation PendingAction = "awaiting_confirmation"
)

// Draft is a partially specified task definition accumulated across turns
type Draft struct {
	Name        string
	Command     string
	Description string
}

// ConfirmAction names the destructive action a confirmation guards
type ConfirmAction string

const (
	ConfirmOverwrite ConfirmAction = "overwrite"
	ConfirmDelete    ConfirmAction = "delete"
)

// Confirmation holds the action to run when the operator says yes
type Confirmation struct {
	Action ConfirmAction
	Draft  Draft
}

// Session is one conversation's FSM. At most one pending flow exists
// at a time: Draft is set exactly while a name/command is awaited, and
// Confirm exactly while a confirmation is awaited.
type Session struct {
	ConversationID string
	Pending        PendingAction
	Draft          *Draft
	Confirm        *Confirmation
	LastActivity   time.Time
}

func newSession(conversationID string) *Session {
	return &Session{
		ConversationID: conversationID,
		Pending:        PendingNone,
	}
}

// Idle reports whether no multi-turn flow is open
func (s *Session) Idle() bool {
	return s.Pending == PendingNone
}

// BeginTaskFlow opens a task-creation flow for the given partial
// draft, awaiting whichever required field is still missing. The name
// is asked for first.
func (s *Session) BeginTaskFlow(draft Draft) {
	s.Reset()
	copied := draft
	s.Draft = &copied
	if draft.Name == "" {
		s.Pending = PendingTaskName
	} else {
		s.Pending = PendingTaskCommand
	}
}

// AwaitConfirmation parks a destructive action until the operator confirms
func (s *Session) AwaitConfirmation(c Confirmation) {
	s.Reset()
	copied := c
	s.Confirm = &copied
	s.Pending = PendingConfirmation
}

// Reset returns the session to Idle, discarding any draft or pending
// confirmation. Explicit cancel, inactivity expiry, and unrelated
// instructions all land here.
func (s *Session) Reset() {
	s.Pending = PendingNone
	s.Draft = nil
	s.Confirm = nil
}
