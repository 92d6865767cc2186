package intent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pablomarino/teleops/internal/nlu"
	"github.com/pablomarino/teleops/internal/session"
)

// Resolver maps operator text onto an Intent. Deterministic inputs
// (slash commands, cancel words, pending-flow answers) are resolved
// locally; everything else is delegated to the NLU provider and
// validated on the way back in. Provider failures and malformed
// classifications degrade to KindUnclear, never an error.
type Resolver struct {
	classifier nlu.Classifier
	logger     *slog.Logger
}

// NewResolver creates a resolver over the given classifier
func NewResolver(classifier nlu.Classifier, logger *slog.Logger) *Resolver {
	return &Resolver{classifier: classifier, logger: logger}
}

var cancelWords = map[string]bool{
	"cancel":     true,
	"nevermind":  true,
	"never mind": true,
	"forget it":  true,
	"abort":      true,
}

var affirmativeWords = map[string]bool{
	"y":        true,
	"yes":      true,
	"yep":      true,
	"yeah":     true,
	"ok":       true,
	"okay":     true,
	"sure":     true,
	"confirm":  true,
	"do it":    true,
	"go ahead": true,
	"proceed":  true,
}

// Resolve classifies one turn of operator text given the current
// session state and recent transcript context.
func (r *Resolver) Resolve(ctx context.Context, text string, sess *session.Session, history []nlu.Turn) Intent {
	text = strings.TrimSpace(text)
	if text == "" {
		return Intent{Kind: KindUnclear, Reason: "empty message"}
	}

	lower := strings.ToLower(text)
	if cancelWords[lower] {
		return Intent{Kind: KindCancelFlow}
	}

	if strings.HasPrefix(text, "/") {
		return r.resolveSlash(text)
	}

	// A pending flow consumes the turn as the awaited field instead of
	// re-classifying from scratch.
	switch sess.Pending {
	case session.PendingTaskName:
		return Intent{
			Kind:         KindCreateOrUpdateTask,
			Name:         stripFieldPrefix(text, "name"),
			Command:      sess.Draft.Command,
			Description:  sess.Draft.Description,
			Continuation: true,
		}
	case session.PendingTaskCommand:
		return Intent{
			Kind:         KindCreateOrUpdateTask,
			Name:         sess.Draft.Name,
			Command:      stripFieldPrefix(text, "command"),
			Description:  sess.Draft.Description,
			Continuation: true,
		}
	case session.PendingConfirmation:
		if affirmativeWords[lower] {
			return Intent{Kind: KindConfirm}
		}
		return Intent{Kind: KindDeny}
	}

	return r.classify(ctx, text, history)
}

func (r *Resolver) resolveSlash(text string) Intent {
	fields := strings.Fields(text)
	command := strings.ToLower(fields[0])
	arg := ""
	if len(fields) > 1 {
		arg = strings.Join(fields[1:], " ")
	}

	switch command {
	case "/start", "/help":
		return Intent{Kind: KindHelp}
	case "/tasks":
		return Intent{Kind: KindListTasks}
	case "/task":
		if arg == "" {
			return Intent{Kind: KindUnclear, Reason: "usage: /task <name>"}
		}
		return Intent{Kind: KindShowTask, Name: arg}
	case "/run":
		if arg == "" {
			return Intent{Kind: KindUnclear, Reason: "usage: /run <name>"}
		}
		return Intent{Kind: KindRunNamedTask, Name: arg}
	case "/delete":
		if arg == "" {
			return Intent{Kind: KindUnclear, Reason: "usage: /delete <name>"}
		}
		return Intent{Kind: KindDeleteTask, Name: arg}
	case "/cancel":
		return Intent{Kind: KindCancelFlow}
	case "/stop":
		return Intent{Kind: KindStopExecution}
	default:
		return Intent{Kind: KindUnclear, Reason: "unknown command " + command}
	}
}

// classify delegates to the NLU provider and validates the result
// against the closed variant set.
func (r *Resolver) classify(ctx context.Context, text string, history []nlu.Turn) Intent {
	classification, err := r.classifier.Classify(ctx, text, history)
	if err != nil {
		r.logger.Warn("classification failed", "error", err)
		return Intent{Kind: KindUnclear, Reason: err.Error()}
	}

	switch classification.Action {
	case "run_command":
		if strings.TrimSpace(classification.Command) == "" {
			return Intent{Kind: KindUnclear, Reason: "provider omitted the command to run"}
		}
		return Intent{Kind: KindRunRawCommand, Command: classification.Command}

	case "run_task":
		if strings.TrimSpace(classification.Name) == "" {
			return Intent{Kind: KindUnclear, Reason: "provider omitted the task name"}
		}
		return Intent{Kind: KindRunNamedTask, Name: classification.Name}

	case "save_task":
		return Intent{
			Kind:        KindCreateOrUpdateTask,
			Name:        strings.TrimSpace(classification.Name),
			Command:     strings.TrimSpace(classification.Command),
			Description: strings.TrimSpace(classification.Description),
		}

	case "delete_task":
		if strings.TrimSpace(classification.Name) == "" {
			return Intent{Kind: KindUnclear, Reason: "provider omitted the task name"}
		}
		return Intent{Kind: KindDeleteTask, Name: classification.Name}

	case "show_task":
		if strings.TrimSpace(classification.Name) == "" {
			return Intent{Kind: KindUnclear, Reason: "provider omitted the task name"}
		}
		return Intent{Kind: KindShowTask, Name: classification.Name}

	case "list_tasks":
		return Intent{Kind: KindListTasks}

	case "unclear":
		reason := classification.Reply
		if reason == "" {
			reason = "could not classify the instruction"
		}
		return Intent{Kind: KindUnclear, Reason: reason}

	default:
		r.logger.Warn("provider returned unknown action", "action", classification.Action)
		return Intent{Kind: KindUnclear, Reason: "could not classify the instruction"}
	}
}

// stripFieldPrefix drops a leading "<field>:" label so answers like
// "name: check_disk" and bare "check_disk" read the same.
func stripFieldPrefix(text, field string) string {
	lower := strings.ToLower(text)
	if strings.HasPrefix(lower, field+":") {
		return strings.TrimSpace(text[len(field)+1:])
	}
	return text
}
