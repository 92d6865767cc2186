package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pablomarino/teleops/internal/executor"
	"github.com/pablomarino/teleops/internal/history"
	"github.com/pablomarino/teleops/internal/intent"
	"github.com/pablomarino/teleops/internal/nlu"
	"github.com/pablomarino/teleops/internal/session"
	"github.com/pablomarino/teleops/internal/task"
	"github.com/pablomarino/teleops/internal/transport"
)

type stubClassifier struct {
	calls int32
	fn    func(text string) (*nlu.Classification, error)
}

func (s *stubClassifier) Classify(_ context.Context, text string, _ []nlu.Turn) (*nlu.Classification, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.fn == nil {
		return &nlu.Classification{Action: "unclear", Reply: "no stub behavior"}, nil
	}
	return s.fn(text)
}

type stubTranscriber struct {
	text string
	err  error
}

func (s *stubTranscriber) Transcribe(_ context.Context, _ []byte, _ string) (string, error) {
	return s.text, s.err
}

type fixture struct {
	orch       *Orchestrator
	store      *task.Store
	classifier *stubClassifier
	tasksDir   string
	historyDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tasksDir := filepath.Join(t.TempDir(), "tasks")
	store, err := task.NewStore(tasksDir, logger)
	require.NoError(t, err)

	historyDir := filepath.Join(t.TempDir(), "history")
	transcripts, err := history.NewLog(historyDir, logger)
	require.NoError(t, err)

	classifier := &stubClassifier{}

	orch := New(Deps{
		PrincipalID:    "op-1",
		Sessions:       session.NewManager(15*time.Minute, logger),
		Store:          store,
		Executor:       executor.New([]string{"/bin/sh", "-c"}, 2, 65536, logger),
		Resolver:       intent.NewResolver(classifier, logger),
		Transcriber:    &stubTranscriber{},
		Transcripts:    transcripts,
		DefaultTimeout: 5 * time.Second,
		HistoryTurns:   10,
		MaxAudioBytes:  1024,
		Logger:         logger,
	})
	return &fixture{orch: orch, store: store, classifier: classifier, tasksDir: tasksDir, historyDir: historyDir}
}

func (f *fixture) send(t *testing.T, text string) string {
	t.Helper()
	out := f.orch.HandleMessage(context.Background(), transport.InboundMessage{
		PrincipalID:    "op-1",
		ConversationID: "conv-1",
		Text:           text,
	})
	return out.Text
}

func TestUnauthorizedPrincipalHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	f.classifier.fn = func(string) (*nlu.Classification, error) {
		t.Fatal("classifier must not be reached for unauthorized messages")
		return nil, nil
	}

	out := f.orch.HandleMessage(context.Background(), transport.InboundMessage{
		PrincipalID:    "stranger",
		ConversationID: "conv-x",
		Text:           "run rm -rf /",
	})
	assert.Equal(t, deniedText, out.Text)

	entries, err := os.ReadDir(f.tasksDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no task files may be created")

	entries, err = os.ReadDir(f.historyDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no transcript may be written")
}

func TestRunRawCommand(t *testing.T) {
	f := newFixture(t)
	f.classifier.fn = func(string) (*nlu.Classification, error) {
		return &nlu.Classification{Action: "run_command", Command: "echo hello"}, nil
	}

	reply := f.send(t, "print hello for me")
	assert.Contains(t, reply, "$ echo hello")
	assert.Contains(t, reply, "exit 0")
	assert.Contains(t, reply, "hello")
}

func TestCommandFailureReportsExitStatus(t *testing.T) {
	f := newFixture(t)
	f.classifier.fn = func(string) (*nlu.Classification, error) {
		return &nlu.Classification{Action: "run_command", Command: "echo oops >&2; exit 3"}, nil
	}

	reply := f.send(t, "do the failing thing")
	assert.Contains(t, reply, "exit 3")
	assert.Contains(t, reply, "stderr:")
	assert.Contains(t, reply, "oops")
}

func TestThreeTurnCreateFlow(t *testing.T) {
	f := newFixture(t)
	f.classifier.fn = func(string) (*nlu.Classification, error) {
		return &nlu.Classification{Action: "save_task"}, nil
	}

	reply := f.send(t, "create a task")
	assert.Contains(t, reply, "What should the task be called?")

	reply = f.send(t, "name: check_disk")
	assert.Contains(t, reply, "check_disk")
	assert.Contains(t, reply, "What command")

	reply = f.send(t, "command: df -h")
	assert.Contains(t, reply, "Saved task")

	// Only the classifier's first turn should have run; the follow-ups
	// are consumed by the pending flow.
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.classifier.calls))

	def, err := f.store.Get("check_disk")
	require.NoError(t, err)
	assert.Equal(t, "df -h", def.Command)

	files, err := os.ReadDir(f.tasksDir)
	require.NoError(t, err)
	assert.Len(t, files, 1, "exactly one task record")

	// Session is idle again: nothing pending to cancel.
	assert.Equal(t, "Nothing to cancel.", f.send(t, "/cancel"))
}

func TestUnrelatedInstructionAbandonsDraft(t *testing.T) {
	f := newFixture(t)
	f.classifier.fn = func(string) (*nlu.Classification, error) {
		return &nlu.Classification{Action: "save_task", Name: "backup"}, nil
	}

	reply := f.send(t, "save a task named backup")
	assert.Contains(t, reply, "What command")

	// A slash command is top-level: the draft is dropped with a notice
	// and the new instruction handled from a clean session.
	reply = f.send(t, "/tasks")
	assert.Contains(t, reply, "Abandoned the draft of task \"backup\"")
	assert.Contains(t, reply, "No tasks saved yet")

	_, err := f.store.Get("backup")
	assert.ErrorIs(t, err, task.ErrNotFound)
}

func TestInvalidTaskNameReprompts(t *testing.T) {
	f := newFixture(t)
	f.classifier.fn = func(string) (*nlu.Classification, error) {
		return &nlu.Classification{Action: "save_task", Name: "../escape", Command: "ls"}, nil
	}

	reply := f.send(t, "save it")
	assert.Contains(t, reply, "That name won't work")
	assert.Contains(t, reply, "Pick another name")

	// The flow stays open awaiting a valid name; supplying one
	// completes the save with the original command.
	reply = f.send(t, "lister")
	assert.Contains(t, reply, "Saved task \"lister\"")

	def, err := f.store.Get("lister")
	require.NoError(t, err)
	assert.Equal(t, "ls", def.Command)
}

func TestOverwriteRequiresConfirmation(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Put(&task.Definition{Name: "deploy", Command: "make deploy"}))

	f.classifier.fn = func(string) (*nlu.Classification, error) {
		return &nlu.Classification{Action: "save_task", Name: "deploy", Command: "make ship"}, nil
	}

	reply := f.send(t, "save deploy as make ship")
	assert.Contains(t, reply, "already exists")
	assert.Contains(t, reply, "(yes/no)")

	// Deny leaves the stored definition untouched.
	reply = f.send(t, "no")
	assert.Contains(t, reply, "nothing was changed")
	def, err := f.store.Get("deploy")
	require.NoError(t, err)
	assert.Equal(t, "make deploy", def.Command)

	// Ask again and confirm.
	f.send(t, "save deploy as make ship")
	reply = f.send(t, "yes")
	assert.Contains(t, reply, "Saved task \"deploy\"")
	def, err = f.store.Get("deploy")
	require.NoError(t, err)
	assert.Equal(t, "make ship", def.Command)
}

func TestDeleteRequiresConfirmation(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Put(&task.Definition{Name: "cleanup", Command: "rm -r /tmp/scratch"}))

	reply := f.send(t, "/delete cleanup")
	assert.Contains(t, reply, "Delete task \"cleanup\"")

	reply = f.send(t, "yes")
	assert.Contains(t, reply, "Deleted task \"cleanup\"")

	_, err := f.store.Get("cleanup")
	assert.ErrorIs(t, err, task.ErrNotFound)
}

func TestDeleteUnknownTask(t *testing.T) {
	f := newFixture(t)
	reply := f.send(t, "/delete ghost")
	assert.Contains(t, reply, "not found")
}

func TestRunNamedTask(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Put(&task.Definition{Name: "greet", Command: "echo hi there"}))

	reply := f.send(t, "/run greet")
	assert.Contains(t, reply, "Task greet:")
	assert.Contains(t, reply, "hi there")
	assert.Contains(t, reply, "exit 0")
}

func TestRunUnknownTask(t *testing.T) {
	f := newFixture(t)
	reply := f.send(t, "/run ghost")
	assert.Contains(t, reply, "Task \"ghost\" not found")
}

func TestShowAndListTasks(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Put(&task.Definition{Name: "disk", Command: "df -h", Description: "disk usage"}))
	require.NoError(t, f.store.Put(&task.Definition{Name: "uptime", Command: "uptime"}))

	reply := f.send(t, "/tasks")
	assert.Contains(t, reply, "disk: disk usage")
	assert.Contains(t, reply, "uptime: `uptime`")

	reply = f.send(t, "/task disk")
	assert.Contains(t, reply, "Task disk")
	assert.Contains(t, reply, "Command: df -h")
}

func TestStopWithNothingRunning(t *testing.T) {
	f := newFixture(t)
	assert.Contains(t, f.send(t, "/stop"), "No command is running")
}

func TestBareStopIsAPendingFlowAnswer(t *testing.T) {
	f := newFixture(t)
	f.classifier.fn = func(string) (*nlu.Classification, error) {
		return &nlu.Classification{Action: "save_task", Name: "halter"}, nil
	}

	reply := f.send(t, "save a task named halter")
	assert.Contains(t, reply, "What command")

	// Only /stop short-circuits; the bare word is consumed as the
	// awaited command like any other text.
	reply = f.send(t, "stop")
	assert.Contains(t, reply, "Saved task \"halter\"")

	def, err := f.store.Get("halter")
	require.NoError(t, err)
	assert.Equal(t, "stop", def.Command)
}

func TestBareStopDeniesPendingConfirmation(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Put(&task.Definition{Name: "doomed", Command: "true"}))

	f.send(t, "/delete doomed")
	reply := f.send(t, "stop")
	assert.Contains(t, reply, "nothing was changed")

	_, err := f.store.Get("doomed")
	require.NoError(t, err, "a non-affirmative reply must not delete")
}

func TestClassifierFailureDegradesToUnclear(t *testing.T) {
	f := newFixture(t)
	f.classifier.fn = func(string) (*nlu.Classification, error) {
		return nil, errors.New("provider exploded")
	}

	reply := f.send(t, "do something vague")
	assert.Contains(t, reply, "I couldn't act on that")
	assert.Contains(t, reply, "/help")
}

func TestVoiceMessageIsTranscribedFirst(t *testing.T) {
	f := newFixture(t)
	f.orch.deps.Transcriber = &stubTranscriber{text: "/tasks"}

	out := f.orch.HandleMessage(context.Background(), transport.InboundMessage{
		PrincipalID:    "op-1",
		ConversationID: "conv-1",
		Voice:          []byte("fake-ogg-bytes"),
		VoiceName:      "voice.ogg",
	})
	assert.Contains(t, out.Text, "No tasks saved yet")
}

func TestOversizedVoiceRejected(t *testing.T) {
	f := newFixture(t)
	out := f.orch.HandleMessage(context.Background(), transport.InboundMessage{
		PrincipalID:    "op-1",
		ConversationID: "conv-1",
		Voice:          make([]byte, 4096),
	})
	assert.Contains(t, out.Text, "Audio is too big")
}

func TestTranscriptionFailureReported(t *testing.T) {
	f := newFixture(t)
	f.orch.deps.Transcriber = &stubTranscriber{err: errors.New("no speech detected")}

	out := f.orch.HandleMessage(context.Background(), transport.InboundMessage{
		PrincipalID:    "op-1",
		ConversationID: "conv-1",
		Voice:          []byte("bytes"),
	})
	assert.Contains(t, out.Text, "Could not transcribe")
	assert.Contains(t, out.Text, "no speech detected")
}

func TestTranscriptRecordsBothSides(t *testing.T) {
	f := newFixture(t)
	f.classifier.fn = func(string) (*nlu.Classification, error) {
		return &nlu.Classification{Action: "unclear", Reply: "noted"}, nil
	}
	f.send(t, "first message")
	f.send(t, "second message")

	entries, err := f.orch.deps.Transcripts.Recent("conv-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, history.RoleUser, entries[0].Role)
	assert.Equal(t, "first message", entries[0].Text)
	assert.Equal(t, history.RoleAssistant, entries[1].Role)
}

func TestTruncatedOutputFlagged(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := newFixture(t)
	f.orch.deps.Executor = executor.New([]string{"/bin/sh", "-c"}, 2, 32, logger)
	f.classifier.fn = func(string) (*nlu.Classification, error) {
		return &nlu.Classification{Action: "run_command", Command: "seq 1 100"}, nil
	}

	reply := f.send(t, "count to a hundred")
	assert.Contains(t, reply, "(output truncated)")
}

func TestHelp(t *testing.T) {
	f := newFixture(t)
	reply := f.send(t, "/help")
	assert.Contains(t, reply, "remote-control agent")
	assert.True(t, strings.Contains(reply, "/tasks"))
}
