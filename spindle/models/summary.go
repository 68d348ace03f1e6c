package models

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Summary writes the user-visible report of a run: each job's terminal
// status and, for failed jobs, the failing step with its output.
func (r *RunResult) Summary(w io.Writer) error {
	var b strings.Builder

	fmt.Fprintf(&b, "workflow %s: %s (%s)\n", r.Workflow, r.Status, humanizeDuration(r.FinishedAt.Sub(r.StartedAt)))

	for _, j := range r.Jobs {
		fmt.Fprintf(&b, "  job %s: %s", j.Name, j.Status)
		if j.Status != StatusKindSkipped {
			fmt.Fprintf(&b, " (%s)", humanizeDuration(j.Duration))
		}
		if j.Cancelled {
			b.WriteString(" [cancelled]")
		}
		b.WriteString("\n")

		if j.ConfigError != "" {
			fmt.Fprintf(&b, "    configuration error: %s\n", j.ConfigError)
		}

		failed, ok := j.Failure()
		if !ok {
			continue
		}

		fmt.Fprintf(&b, "    failed step %s (%s)", failed.StepId, failed.Name)
		switch {
		case failed.TimedOut:
			b.WriteString(": timed out")
		case failed.Cancelled:
			b.WriteString(": cancelled")
		case failed.Error != "":
			fmt.Fprintf(&b, ": %s", failed.Error)
		}
		b.WriteString("\n")

		if failed.Output != "" {
			for _, line := range strings.Split(strings.TrimRight(failed.Output, "\n"), "\n") {
				fmt.Fprintf(&b, "      | %s\n", line)
			}
		}
		if failed.Truncated {
			fmt.Fprintf(&b, "      (output truncated at %s)\n", humanize.IBytes(uint64(len(failed.Output))))
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func humanizeDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
