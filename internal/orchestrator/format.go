package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/pablomarino/teleops/internal/executor"
)

// formatResult renders an execution result for the operator. The exit
// status is always present, even when there is no output, so a silent
// failure is never mistaken for success.
func formatResult(result executor.Result, timeout time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "$ %s\n", result.Command)

	switch {
	case result.LaunchFailed():
		fmt.Fprintf(&b, "failed to launch: %s", result.Stderr)
		return b.String()
	case result.TimedOut():
		fmt.Fprintf(&b, "timed out after %s\n", timeout)
	case result.Cancelled():
		b.WriteString("cancelled by operator\n")
	default:
		fmt.Fprintf(&b, "exit %d (%s)\n", result.ExitCode, result.Duration.Round(time.Millisecond))
	}

	if out := strings.TrimRight(result.Stdout, "\n"); out != "" {
		b.WriteString(out)
		b.WriteString("\n")
	}
	if errOut := strings.TrimRight(result.Stderr, "\n"); errOut != "" {
		b.WriteString("stderr:\n")
		b.WriteString(errOut)
		b.WriteString("\n")
	}
	if result.Truncated {
		b.WriteString("(output truncated)\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
