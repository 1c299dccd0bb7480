package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/inkwellhq/relay/go/pkg/stream"
	"github.com/inkwellhq/relay/go/pkg/viewer"
)

var (
	flagTailServer   string
	flagTailAttempts int
	flagTailBackoff  time.Duration
)

var (
	styleOK   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f"))
	styleErr  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff5f5f"))
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681"))
	styleWarn = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#e3b341"))
)

var tailCmd = &cobra.Command{
	Use:   "tail <stream-id>",
	Short: "Follow a stream's text to stdout",
	Long: `Follow a stream: text is printed incrementally as chunks arrive,
reconnecting on transport failures with the configured retry budget.
The text survives server restarts and mid-stream attachment; what is
printed is always a prefix of the final result.

Example:
  relay tail 2f1c9c4e-8c1d-4f6e-9a1b-3d2e1f0a9b8c`,
	Args: cobra.ExactArgs(1),
	RunE: runTail,
}

func init() {
	tailCmd.Flags().StringVar(&flagTailServer, "server", "", "server base URL (default http://127.0.0.1 + config addr)")
	tailCmd.Flags().IntVar(&flagTailAttempts, "attempts", -1, "reconnect attempts (overrides config)")
	tailCmd.Flags().DurationVar(&flagTailBackoff, "backoff", 0, "initial reconnect backoff (overrides config)")
	rootCmd.AddCommand(tailCmd)
}

func runTail(cmd *cobra.Command, args []string) error {
	streamID := args[0]

	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	base, err := serverURL(flagTailServer)
	if err != nil {
		return err
	}
	attempts := cfg.Reconnect.Attempts
	if flagTailAttempts >= 0 {
		attempts = flagTailAttempts
	}
	backoff := cfg.Reconnect.Backoff()
	if flagTailBackoff > 0 {
		backoff = flagTailBackoff
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	rs := viewer.NewReassembler()
	v := viewer.New(base, streamID, rs, viewer.Config{
		Attempts: attempts,
		Backoff:  backoff,
	})

	runErr := make(chan error, 1)
	go func() { runErr <- v.Run(ctx) }()

	// Print the growing contiguous prefix as it extends.
	var printed string
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	var vErr error
loop:
	for {
		select {
		case vErr = <-runErr:
			break loop
		case <-ticker.C:
			printed = printDelta(rs.Text(), printed)
		}
	}
	printed = printDelta(rs.Text(), printed)
	if printed != "" {
		fmt.Println()
	}

	switch {
	case vErr != nil:
		fmt.Fprintln(os.Stderr, styleWarn.Render("▲ disconnected"), styleDim.Render(vErr.Error()))
		return vErr
	case rs.Status() == stream.StatusError:
		fmt.Fprintln(os.Stderr, styleErr.Render("✗ error"), styleDim.Render(rs.ErrMessage()))
	default:
		fmt.Fprintln(os.Stderr, styleOK.Render("✓ complete"), styleDim.Render(fmt.Sprintf("%d bytes", len(rs.Text()))))
	}
	return nil
}

// printDelta writes the unseen suffix of text and returns the new printed
// text. If text no longer extends what was printed (the authoritative final
// replaced a holed reconstruction) the full text is reprinted.
func printDelta(text, printed string) string {
	if !strings.HasPrefix(text, printed) {
		fmt.Print("\n" + text)
		return text
	}
	fmt.Print(text[len(printed):])
	return text
}
