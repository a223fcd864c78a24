package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/evactor/internal/ir"
	"github.com/roach88/evactor/internal/runtime"
)

// TimelineOptions holds flags for the timeline command.
type TimelineOptions struct {
	*RootOptions
	After string
	Since string
	Batch int
}

// TimelineFrame is one NDJSON record of the timeline command.
type TimelineFrame struct {
	Events []ir.Message `json:"events"`
	State  ir.Record    `json:"state"`
}

// NewTimelineCommand creates the timeline command.
func NewTimelineCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TimelineOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "timeline <type> <id>",
		Short: "Replay the history of an actor",
		Long: `Replay the history of an actor instance.

Starting from a fresh state, or from the snapshot at --after / --since,
the actor's own and aggregated events are folded in id order. Each frame
prints the events of one batch and the state after folding them. Nothing
is persisted.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTimeline(opts, args[0], args[1], cmd)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.After, "after", "", "start from the snapshot that ends at this event id")
	flags.StringVar(&opts.Since, "since", "", "start from the last snapshot before this RFC 3339 time")
	flags.IntVar(&opts.Batch, "batch", 1, "events folded per frame")

	return cmd
}

func runTimeline(opts *TimelineOptions, actorType, id string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	since, err := parseSince(opts.Since)
	if err != nil {
		_ = formatter.Error(ErrCodeBadInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid --since", err)
	}
	if opts.Batch < 1 {
		_ = formatter.Error(ErrCodeBadInput, "--batch must be positive", nil)
		return NewExitError(ExitCommandError, "--batch must be positive")
	}

	ctx, stop := signalContext(commandContext(cmd))
	defer stop()

	e, err := openEnv(ctx, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	frames := e.runtime.ActorStream(ctx, actorType, id, runtime.ActorStreamOptions{
		AfterID:   opts.After,
		Since:     since,
		BatchSize: opts.Batch,
	})
	n := 0
	for frame, err := range frames {
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			_ = formatter.Error(ErrCodeRuntime, err.Error(), nil)
			return WrapExitError(ExitFailure, "timeline failed", err)
		}
		n++
		out := TimelineFrame{Events: frame.Events, State: frame.State}
		if err := formatter.Line(out, frameText(n, out)); err != nil {
			return err
		}
	}
	if n == 0 && opts.Format != "json" {
		fmt.Fprintf(formatter.Writer, "no history for %s/%s\n", actorType, id)
	}
	return nil
}

func frameText(n int, f TimelineFrame) string {
	text := fmt.Sprintf("#%d %s", n, summary(f.State))
	for _, evt := range f.Events {
		text += "\n  " + eventLine(evt)
	}
	return text
}
