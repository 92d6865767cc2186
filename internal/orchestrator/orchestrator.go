// Package orchestrator coordinates one inbound operator message end to
// end: authentication, session state, intent resolution, dispatch to
// the task store or command executor, and response formatting. Every
// failure becomes operator-visible text at this boundary; nothing is
// swallowed.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pablomarino/teleops/internal/executor"
	"github.com/pablomarino/teleops/internal/history"
	"github.com/pablomarino/teleops/internal/intent"
	"github.com/pablomarino/teleops/internal/nlu"
	"github.com/pablomarino/teleops/internal/session"
	"github.com/pablomarino/teleops/internal/task"
	"github.com/pablomarino/teleops/internal/transcribe"
	"github.com/pablomarino/teleops/internal/transport"
)

const deniedText = "You are not authorized to use this agent."

const welcomeText = `Hi! I'm your remote-control agent. Tell me what to run, in plain words or as a command.

You can:
- Run ad-hoc commands: "show disk usage" or "run df -h"
- Save them as named tasks and run them by name
- Send voice messages; I'll transcribe them first

Commands: /tasks, /task <name>, /run <name>, /delete <name>, /stop, /cancel, /help`

// Deps carries everything the orchestrator is constructed from. The
// authorized principal is an immutable configuration value, not a
// process-wide singleton.
type Deps struct {
	PrincipalID    string
	Sessions       *session.Manager
	Store          *task.Store
	Executor       *executor.Executor
	Resolver       *intent.Resolver
	Transcriber    transcribe.Transcriber
	Transcripts    *history.Log
	DefaultTimeout time.Duration
	HistoryTurns   int
	MaxAudioBytes  int
	Logger         *slog.Logger
}

// Orchestrator handles inbound messages for a single authorized operator
type Orchestrator struct {
	deps Deps
}

// New creates an orchestrator
func New(deps Deps) *Orchestrator {
	return &Orchestrator{deps: deps}
}

// HandleMessage processes one inbound event and always produces an
// outbound reply for the same conversation.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg transport.InboundMessage) transport.OutboundMessage {
	reply := func(text string) transport.OutboundMessage {
		return transport.OutboundMessage{ConversationID: msg.ConversationID, Text: text}
	}

	// Authorization happens before any state is touched: a rejected
	// message creates no session, no transcript entry, no execution.
	if msg.PrincipalID != o.deps.PrincipalID {
		o.deps.Logger.Warn("rejected message from unauthorized principal",
			"principal_id", msg.PrincipalID,
			"conversation_id", msg.ConversationID)
		return reply(deniedText)
	}

	text := msg.Text
	if len(msg.Voice) > 0 {
		if o.deps.MaxAudioBytes > 0 && len(msg.Voice) > o.deps.MaxAudioBytes {
			return reply(fmt.Sprintf("Audio is too big: %d bytes (limit %d). Send a shorter message.", len(msg.Voice), o.deps.MaxAudioBytes))
		}
		transcribed, err := o.deps.Transcriber.Transcribe(ctx, msg.Voice, msg.VoiceName)
		if err != nil {
			o.deps.Logger.Warn("transcription failed", "conversation_id", msg.ConversationID, "error", err)
			return reply(fmt.Sprintf("Could not transcribe the audio: %v", err))
		}
		text = transcribed
	}

	// /stop is handled before the session lock: the lock is held for
	// the duration of a running command, and a stop that queued behind
	// it could never cancel anything. Only the slash form is diverted;
	// bare "stop" stays available as a pending-flow answer.
	if isStopInstruction(text) {
		if o.deps.Executor.Cancel(msg.ConversationID) {
			return reply("Stop signal sent to the running command.")
		}
		return reply("No command is running for this conversation.")
	}

	return reply(o.handle(ctx, msg.ConversationID, text))
}

func isStopInstruction(text string) bool {
	return strings.ToLower(strings.TrimSpace(text)) == "/stop"
}

// handle resolves and dispatches one turn while holding the
// conversation's session lock, which serializes handling per
// conversation and keeps responses in request order.
func (o *Orchestrator) handle(ctx context.Context, conversationID, text string) string {
	sess, release := o.deps.Sessions.Acquire(conversationID)
	defer release()

	turns := o.recentTurns(conversationID)
	resolved := o.deps.Resolver.Resolve(ctx, text, sess, turns)

	o.appendTranscript(conversationID, history.RoleUser, text)

	o.deps.Logger.Info("resolved intent",
		"conversation_id", conversationID,
		"kind", resolved.Kind,
		"pending", sess.Pending)

	// An unrelated top-level instruction abandons the pending flow,
	// and the operator is told so.
	var notice string
	if !sess.Idle() && resolved.TopLevel() && resolved.Kind != intent.KindCancelFlow {
		notice = o.cancelNotice(sess) + "\n\n"
		sess.Reset()
	}

	response := o.dispatch(ctx, conversationID, sess, resolved)

	full := notice + response
	o.appendTranscript(conversationID, history.RoleAssistant, full)
	return full
}

func (o *Orchestrator) dispatch(ctx context.Context, conversationID string, sess *session.Session, resolved intent.Intent) string {
	switch resolved.Kind {
	case intent.KindHelp:
		return welcomeText

	case intent.KindListTasks:
		return o.listTasks()

	case intent.KindShowTask:
		return o.showTask(resolved.Name)

	case intent.KindRunRawCommand:
		return o.runCommand(ctx, conversationID, resolved.Command)

	case intent.KindRunNamedTask:
		return o.runNamedTask(ctx, conversationID, resolved.Name)

	case intent.KindCreateOrUpdateTask:
		return o.saveTask(sess, session.Draft{
			Name:        resolved.Name,
			Command:     resolved.Command,
			Description: resolved.Description,
		})

	case intent.KindDeleteTask:
		return o.requestDelete(sess, resolved.Name)

	case intent.KindConfirm:
		return o.confirm(sess)

	case intent.KindDeny:
		sess.Reset()
		return "Okay, nothing was changed."

	case intent.KindCancelFlow:
		if sess.Idle() {
			return "Nothing to cancel."
		}
		notice := o.cancelNotice(sess)
		sess.Reset()
		return notice

	case intent.KindStopExecution:
		if o.deps.Executor.Cancel(conversationID) {
			return "Stop signal sent to the running command."
		}
		return "No command is running for this conversation."

	default: // intent.KindUnclear
		reason := resolved.Reason
		if reason == "" {
			reason = "could not classify the instruction"
		}
		return fmt.Sprintf("I couldn't act on that: %s\nAsk me to run a command, or try /help.", reason)
	}
}

// cancelNotice names what is being abandoned, so a flow is never
// silently discarded.
func (o *Orchestrator) cancelNotice(sess *session.Session) string {
	switch sess.Pending {
	case session.PendingTaskName, session.PendingTaskCommand:
		name := sess.Draft.Name
		if name == "" {
			return "Abandoned the task being created."
		}
		return fmt.Sprintf("Abandoned the draft of task %q.", name)
	case session.PendingConfirmation:
		return "Abandoned the pending confirmation."
	default:
		return "Abandoned the pending flow."
	}
}

func (o *Orchestrator) listTasks() string {
	defs, err := o.deps.Store.List()
	if err != nil {
		return fmt.Sprintf("Could not list tasks: %v", err)
	}
	if len(defs) == 0 {
		return "No tasks saved yet. Ask me to create one, e.g. \"save a task named check_disk that runs df -h\"."
	}

	var b strings.Builder
	b.WriteString("Saved tasks:\n")
	for _, def := range defs {
		if def.Description != "" {
			fmt.Fprintf(&b, "- %s: %s\n", def.Name, def.Description)
		} else {
			fmt.Fprintf(&b, "- %s: `%s`\n", def.Name, def.Command)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (o *Orchestrator) showTask(name string) string {
	def, err := o.deps.Store.Get(name)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			return fmt.Sprintf("Task %q not found. Use /tasks to see what's saved.", name)
		}
		return fmt.Sprintf("Could not read task %q: %v", name, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Task %s\n", def.Name)
	if def.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", def.Description)
	}
	fmt.Fprintf(&b, "Command: %s\n", def.Command)
	fmt.Fprintf(&b, "Created: %s\n", def.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Updated: %s", def.UpdatedAt.Format(time.RFC3339))
	return b.String()
}

func (o *Orchestrator) runCommand(ctx context.Context, conversationID, command string) string {
	result := o.deps.Executor.Run(ctx, conversationID, command, o.deps.DefaultTimeout)
	return formatResult(result, o.deps.DefaultTimeout)
}

func (o *Orchestrator) runNamedTask(ctx context.Context, conversationID, name string) string {
	def, err := o.deps.Store.Get(name)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			return fmt.Sprintf("Task %q not found. Use /tasks to see what's saved.", name)
		}
		return fmt.Sprintf("Could not read task %q: %v", name, err)
	}

	result := o.deps.Executor.Run(ctx, conversationID, def.Command, o.deps.DefaultTimeout)
	return fmt.Sprintf("Task %s:\n%s", def.Name, formatResult(result, o.deps.DefaultTimeout))
}

// saveTask drives the create/update flow. Incomplete drafts open a
// multi-turn flow; a complete draft over an existing name asks for
// overwrite confirmation; only a confirmed or brand-new complete draft
// reaches the store.
func (o *Orchestrator) saveTask(sess *session.Session, draft session.Draft) string {
	if draft.Name == "" {
		sess.BeginTaskFlow(draft)
		return "What should the task be called?"
	}

	if err := task.ValidateName(draft.Name); err != nil {
		draft.Name = ""
		sess.BeginTaskFlow(draft)
		return fmt.Sprintf("That name won't work: %v\nPick another name.", err)
	}

	if draft.Command == "" {
		sess.BeginTaskFlow(draft)
		return fmt.Sprintf("What command should task %q run?", draft.Name)
	}

	existing, err := o.deps.Store.Get(draft.Name)
	switch {
	case err == nil:
		sess.AwaitConfirmation(session.Confirmation{Action: session.ConfirmOverwrite, Draft: draft})
		return fmt.Sprintf("Task %q already exists and runs `%s`. Overwrite it with `%s`? (yes/no)", existing.Name, existing.Command, draft.Command)
	case errors.Is(err, task.ErrNotFound):
		return o.putTask(sess, draft)
	default:
		return fmt.Sprintf("Could not check task %q: %v", draft.Name, err)
	}
}

func (o *Orchestrator) putTask(sess *session.Session, draft session.Draft) string {
	def := task.Definition{
		Name:        draft.Name,
		Command:     draft.Command,
		Description: draft.Description,
	}
	if err := o.deps.Store.Put(&def); err != nil {
		// Durability failure: the task was not recorded, say so
		return fmt.Sprintf("Could not save task %q: %v", draft.Name, err)
	}
	sess.Reset()
	return fmt.Sprintf("Saved task %q: `%s`. Run it with /run %s.", def.Name, def.Command, def.Name)
}

func (o *Orchestrator) requestDelete(sess *session.Session, name string) string {
	def, err := o.deps.Store.Get(name)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			return fmt.Sprintf("Task %q not found. Use /tasks to see what's saved.", name)
		}
		return fmt.Sprintf("Could not read task %q: %v", name, err)
	}

	sess.AwaitConfirmation(session.Confirmation{
		Action: session.ConfirmDelete,
		Draft:  session.Draft{Name: def.Name, Command: def.Command},
	})
	return fmt.Sprintf("Delete task %q (`%s`)? (yes/no)", def.Name, def.Command)
}

func (o *Orchestrator) confirm(sess *session.Session) string {
	if sess.Confirm == nil {
		return "Nothing is awaiting confirmation."
	}
	pending := *sess.Confirm
	sess.Reset()

	switch pending.Action {
	case session.ConfirmOverwrite:
		return o.putTask(sess, pending.Draft)
	case session.ConfirmDelete:
		if err := o.deps.Store.Delete(pending.Draft.Name); err != nil {
			return fmt.Sprintf("Could not delete task %q: %v", pending.Draft.Name, err)
		}
		return fmt.Sprintf("Deleted task %q.", pending.Draft.Name)
	default:
		return "Nothing is awaiting confirmation."
	}
}

func (o *Orchestrator) recentTurns(conversationID string) []nlu.Turn {
	entries, err := o.deps.Transcripts.Recent(conversationID, o.deps.HistoryTurns)
	if err != nil {
		o.deps.Logger.Warn("failed to read transcript", "conversation_id", conversationID, "error", err)
		return nil
	}
	turns := make([]nlu.Turn, 0, len(entries))
	for _, entry := range entries {
		turns = append(turns, nlu.Turn{Role: entry.Role, Text: entry.Text})
	}
	return turns
}

func (o *Orchestrator) appendTranscript(conversationID, role, text string) {
	if err := o.deps.Transcripts.Append(conversationID, role, text); err != nil {
		// The transcript is best-effort context, not state
		o.deps.Logger.Warn("failed to append transcript", "conversation_id", conversationID, "error", err)
	}
}
