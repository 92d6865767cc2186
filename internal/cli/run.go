package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/pablomarino/teleops/internal/config"
	"github.com/pablomarino/teleops/internal/executor"
	"github.com/pablomarino/teleops/internal/history"
	"github.com/pablomarino/teleops/internal/intent"
	"github.com/pablomarino/teleops/internal/logging"
	"github.com/pablomarino/teleops/internal/nlu"
	"github.com/pablomarino/teleops/internal/orchestrator"
	"github.com/pablomarino/teleops/internal/session"
	"github.com/pablomarino/teleops/internal/task"
	"github.com/pablomarino/teleops/internal/transcribe"
	"github.com/pablomarino/teleops/internal/transport"
)

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true)

	replyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// consoleConversationID identifies the single local console session.
const consoleConversationID = "console"

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the interactive operator console",
	Long: `Start the interactive console. Each line you type is handled the way
an inbound chat message would be: classified, dispatched, and answered.`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, configPath, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := logging.NewLogger(os.Stderr, level)
	logger.Info("loaded configuration", "path", configPath)

	orch, store, err := buildOrchestrator(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Keep the store cache honest while the console is open: edits to
	// the tasks directory from outside the process are picked up.
	go func() {
		if err := store.Watch(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("task directory watch stopped", "error", err)
		}
	}()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, dimStyle.Render("teleops console. Type /help for usage, /quit to leave."))

	return consoleLoop(ctx, cmd.InOrStdin(), out, orch, cfg.PrincipalID)
}

func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", fmt.Errorf("config %s not found; run 'teleops init' first", configPath)
		}
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, configPath, nil
}

// buildOrchestrator assembles the message-handling pipeline from
// configuration. The store is returned separately so the caller can run
// its directory watcher.
func buildOrchestrator(cfg *config.Config, logger *slog.Logger) (*orchestrator.Orchestrator, *task.Store, error) {
	store, err := task.NewStore(cfg.TasksDir, logger)
	if err != nil {
		return nil, nil, err
	}

	transcripts, err := history.NewLog(cfg.HistoryDir, logger)
	if err != nil {
		return nil, nil, err
	}

	classifier := nlu.NewClient(
		cfg.NLU.BaseURL,
		cfg.NLU.Model,
		apiKeyFrom(cfg.NLU.APIKeyEnv),
		providerTimeout(cfg.NLU.TimeoutS, 60),
	)

	transcriber := transcribe.NewWhisperClient(
		cfg.Transcription.BaseURL,
		cfg.Transcription.Model,
		apiKeyFrom(cfg.Transcription.APIKeyEnv),
		providerTimeout(cfg.Transcription.TimeoutS, 120),
	)

	orch := orchestrator.New(orchestrator.Deps{
		PrincipalID:    cfg.PrincipalID,
		Sessions:       session.NewManager(cfg.InactivityTimeout(), logger),
		Store:          store,
		Executor:       executor.New(cfg.Executor.Shell, cfg.Executor.MaxConcurrent, cfg.Executor.MaxOutputBytes, logger),
		Resolver:       intent.NewResolver(classifier, logger),
		Transcriber:    transcriber,
		Transcripts:    transcripts,
		DefaultTimeout: cfg.DefaultTimeout(),
		HistoryTurns:   cfg.Sessions.HistoryTurns,
		MaxAudioBytes:  cfg.Transcription.MaxAudioBytes,
		Logger:         logger,
	})
	return orch, store, nil
}

// consoleLoop reads operator lines and feeds them through the same path
// an inbound chat message takes. The console user is the configured
// principal.
func consoleLoop(ctx context.Context, in io.Reader, out io.Writer, orch *orchestrator.Orchestrator, principalID string) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(out, promptStyle.Render("you>")+" ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			fmt.Fprintln(out, dimStyle.Render("bye"))
			return nil
		}

		reply := orch.HandleMessage(ctx, transport.InboundMessage{
			PrincipalID:    principalID,
			ConversationID: consoleConversationID,
			Text:           line,
		})
		fmt.Fprintln(out, replyStyle.Render(reply.Text))
	}
}

func apiKeyFrom(env string) string {
	if env == "" {
		return ""
	}
	return os.Getenv(env)
}

func providerTimeout(seconds, fallback int) time.Duration {
	if seconds <= 0 {
		seconds = fallback
	}
	return time.Duration(seconds) * time.Second
}
