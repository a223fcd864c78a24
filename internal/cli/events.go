package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/evactor/internal/runtime"
)

// EventsOptions holds flags for the events command.
type EventsOptions struct {
	*RootOptions
	Type       string
	ID         string
	Types      []string
	After      string
	Since      string
	EventTypes []string
	Follow     bool
	Poll       time.Duration
	Limit      int
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print events in id order",
		Long: `Print persisted events in ascending id order.

With --type and --id the feed is one actor's log. Otherwise the logs of
every type in --types (default: all registered types) are merged into a
single feed ordered by event id. --follow keeps polling for new events
until interrupted.

Examples:
  evactor events --types account,vehicle --after 0190...
  evactor events --type account --id a1 --event-type account.deposited
  evactor events --follow --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(opts, cmd)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.Type, "type", "", "actor type of a single log (with --id)")
	flags.StringVar(&opts.ID, "id", "", "actor id of a single log (with --type)")
	flags.StringSliceVar(&opts.Types, "types", nil, "actor types merged into the feed")
	flags.StringVar(&opts.After, "after", "", "start after this event id")
	flags.StringVar(&opts.Since, "since", "", "skip events created before this RFC 3339 time")
	flags.StringSliceVar(&opts.EventTypes, "event-type", nil, "only events of these types")
	flags.BoolVar(&opts.Follow, "follow", false, "keep polling for new events")
	flags.DurationVar(&opts.Poll, "poll", time.Second, "poll interval with --follow")
	flags.IntVar(&opts.Limit, "limit", 0, "stop after this many events (0 = no limit)")

	return cmd
}

func runEvents(opts *EventsOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	if (opts.Type == "") != (opts.ID == "") {
		_ = formatter.Error(ErrCodeBadInput, "--type and --id must be given together", nil)
		return NewExitError(ExitCommandError, "--type and --id must be given together")
	}
	since, err := parseSince(opts.Since)
	if err != nil {
		_ = formatter.Error(ErrCodeBadInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid --since", err)
	}

	ctx, stop := signalContext(commandContext(cmd))
	defer stop()

	e, err := openEnv(ctx, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	feed := e.runtime.EventStream(ctx, runtime.EventStreamOptions{
		ActorType:    opts.Type,
		ID:           opts.ID,
		Types:        opts.Types,
		AfterID:      opts.After,
		Since:        since,
		EventTypes:   opts.EventTypes,
		Follow:       opts.Follow,
		PollInterval: opts.Poll,
	})

	n := 0
	for evt, err := range feed {
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			_ = formatter.Error(ErrCodeRuntime, err.Error(), nil)
			return WrapExitError(ExitFailure, "event stream failed", err)
		}
		if err := formatter.Line(evt, eventLine(evt)); err != nil {
			return err
		}
		n++
		if opts.Limit > 0 && n >= opts.Limit {
			break
		}
	}
	formatter.VerboseLog("%d event(s)", n)
	return nil
}

// parseSince parses an optional RFC 3339 time.
func parseSince(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("since: %w", err)
	}
	return t, nil
}
