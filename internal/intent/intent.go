// Package intent classifies operator instructions into a closed set of
// actionable variants. The resolver never executes anything; it only
// classifies.
package intent

// Kind tags an Intent variant
type Kind string

const (
	// KindRunRawCommand executes an ad-hoc shell command.
	KindRunRawCommand Kind = "run_raw_command"
	// KindRunNamedTask executes a saved task by name.
	KindRunNamedTask Kind = "run_named_task"
	// KindCreateOrUpdateTask creates or updates a task; fields may be
	// incomplete, in which case the session enters a multi-turn flow.
	KindCreateOrUpdateTask Kind = "create_or_update_task"
	// KindDeleteTask removes a saved task (confirmation-gated).
	KindDeleteTask Kind = "delete_task"
	// KindShowTask describes a saved task.
	KindShowTask Kind = "show_task"
	// KindListTasks lists saved tasks.
	KindListTasks Kind = "list_tasks"
	// KindCancelFlow abandons whatever multi-turn flow is pending.
	KindCancelFlow Kind = "cancel_flow"
	// KindStopExecution terminates the conversation's in-flight command.
	KindStopExecution Kind = "stop_execution"
	// KindConfirm is an affirmative reply while a confirmation is pending.
	KindConfirm Kind = "confirm"
	// KindDeny is any non-affirmative reply while a confirmation is pending.
	KindDeny Kind = "deny"
	// KindHelp shows the welcome/usage text.
	KindHelp Kind = "help"
	// KindUnclear is the fallback for anything unclassifiable.
	KindUnclear Kind = "unclear"
)

// Intent is the structured classification of one operator instruction
type Intent struct {
	Kind        Kind
	Name        string
	Command     string
	Description string
	// Reason explains an unclear classification: the provider's
	// clarification question, or the failure that forced the fallback.
	Reason string
	// Continuation is set when the intent was produced by consuming a
	// pending-flow turn, so the flow must not be treated as abandoned.
	Continuation bool
}

// TopLevel reports whether the intent starts a fresh instruction, as
// opposed to feeding a pending flow. A top-level intent arriving
// mid-flow cancels the flow.
func (i Intent) TopLevel() bool {
	if i.Continuation {
		return false
	}
	switch i.Kind {
	case KindConfirm, KindDeny:
		return false
	default:
		return true
	}
}
