package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/orco-dev/orco/internal/queue"
)

var (
	statusFollow   bool
	statusInterval float64
)

func init() {
	statusCmd.Flags().String("queue", "tasks.json", "path to the task queue JSON file")
	statusCmd.Flags().BoolVarP(&statusFollow, "follow", "f", false, "live-update status (like watch)")
	statusCmd.Flags().Float64VarP(&statusInterval, "interval", "n", 2.0, "seconds between updates (with --follow)")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of each task in the queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("queue")
		if statusFollow {
			return followStatus(path)
		}
		return renderStatus(os.Stdout, path)
	},
}

func followStatus(path string) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	interval := time.Duration(statusInterval * float64(time.Second))
	var lastOutput string

	for {
		var buf bytes.Buffer
		if err := renderStatus(&buf, path); err != nil {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		output := buf.String()

		if output != lastOutput {
			fmt.Print("\033[H\033[2J")
			fmt.Printf("Every %.1fs: orco status\n\n", statusInterval)
			fmt.Print(output)
			lastOutput = output
		}

		select {
		case <-sigCh:
			fmt.Println()
			return nil
		case <-time.After(interval):
		}
	}
}

// renderStatus prints one table row per task, with a status symbol colored
// to match the teacher's concern-status rendering.
func renderStatus(w io.Writer, queuePath string) error {
	q, err := queue.Load(queuePath)
	if err != nil {
		return err
	}

	useColor := isatty.IsTerminal(os.Stdout.Fd())

	fmt.Fprintln(w, "Task Status")
	fmt.Fprintln(w, "──────────────────────────────────────")
	for _, t := range q.Tasks {
		symbol, color := statusDisplay(t.Status)
		detail := t.Status
		switch t.Status {
		case queue.StatusBlocked:
			if len(t.Blockers) > 0 {
				detail = fmt.Sprintf("blocked: %s", t.Blockers[0])
			}
		case queue.StatusInProgress:
			if t.StartedAt != "" {
				detail = fmt.Sprintf("in_progress (since %s)", t.StartedAt)
			}
		}
		fmt.Fprintf(w, "  %s  %-20s  %s\n", colorize(useColor, color, symbol), t.ID, detail)
	}
	return nil
}
