package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/evactor/internal/engine"
	"github.com/roach88/evactor/internal/ir"
)

// HandleOptions holds flags for the handle command.
type HandleOptions struct {
	*RootOptions
	Data string // JSON payload
	ID   string // message id; generated when empty
}

// HandleResult is the JSON output of the handle command.
type HandleResult struct {
	Topic   string         `json:"topic"`
	Results []ActorOutcome `json:"results"`
}

// ActorOutcome reports what one subscribed actor did with a message.
type ActorOutcome struct {
	ActorType string       `json:"actor_type"`
	ActorID   string       `json:"actor_id"`
	SystemID  string       `json:"system_id,omitempty"`
	Rejected  bool         `json:"rejected,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	Events    []ir.Message `json:"events,omitempty"`
	State     ir.Record    `json:"state"`
}

// NewHandleCommand creates the handle command.
func NewHandleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HandleOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "handle <identity> <topic>",
		Short: "Send a command or event to the actors subscribed to a topic",
		Long: `Send a message to every actor type subscribed to a topic.

Each subscribed type handles the message on its instance addressed by
<identity>. Produced events are persisted before the command returns.

Examples:
  evactor handle a1 account.open --data '{"owner":"ann","initialDeposit":100}'
  evactor handle a1 account.withdraw --data '{"amount":30}' --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHandle(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Data, "data", "{}", "message payload as a JSON object")
	cmd.Flags().StringVar(&opts.ID, "id", "", "message id (generated when empty)")

	return cmd
}

func runHandle(opts *HandleOptions, identity, topic string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	if _, err := ir.ParseTopic(topic); err != nil {
		_ = formatter.Error(ErrCodeBadInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid topic", err)
	}
	data, err := ir.DecodeRecord([]byte(opts.Data))
	if err != nil {
		_ = formatter.Error(ErrCodeBadInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid --data", err)
	}

	ctx := commandContext(cmd)
	e, err := openEnv(ctx, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	msg := ir.Message{ID: opts.ID, Type: topic, Data: data}
	results, err := e.runtime.Handle(ctx, identity, topic, msg)
	if err != nil {
		_ = formatter.Error(ErrCodeRuntime, err.Error(), nil)
		return WrapExitError(ExitFailure, "handle failed", err)
	}
	if len(results) == 0 {
		_ = formatter.Error(ErrCodeNoRoute, fmt.Sprintf("no actor handles %s", topic), nil)
		return NewExitError(ExitFailure, fmt.Sprintf("%s: no actor handles %s", ErrCodeNoRoute, topic))
	}

	out := HandleResult{Topic: topic, Results: outcomes(results)}
	if err := formatter.Success(out, handleText(out)...); err != nil {
		return err
	}

	for _, r := range results {
		if !r.Rejected {
			return nil
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%s: %s rejected: %s", ErrCodeRejected, topic, results[0].ReasonText()))
}

func outcomes(results []engine.Result) []ActorOutcome {
	out := make([]ActorOutcome, len(results))
	for i, r := range results {
		out[i] = ActorOutcome{
			ActorType: r.ActorType,
			ActorID:   r.ActorID,
			SystemID:  r.SystemID,
			Rejected:  r.Rejected,
			Reason:    r.ReasonText(),
			Events:    r.Events,
			State:     r.State,
		}
	}
	return out
}

func handleText(res HandleResult) []string {
	var lines []string
	for _, o := range res.Results {
		if o.Rejected {
			lines = append(lines, fmt.Sprintf("✗ %s/%s rejected %s: %s", o.ActorType, o.ActorID, res.Topic, o.Reason))
			continue
		}
		lines = append(lines, fmt.Sprintf("✓ %s/%s handled %s (%d event(s))", o.ActorType, o.ActorID, res.Topic, len(o.Events)))
		for _, evt := range o.Events {
			lines = append(lines, "  "+eventLine(evt))
		}
	}
	return lines
}

// eventLine renders one event as "<id> <type> <data>".
func eventLine(evt ir.Message) string {
	data, err := ir.MarshalCanonical(evt.Data)
	if err != nil || len(evt.Data) == 0 {
		data = []byte("{}")
	}
	return fmt.Sprintf("%s %s %s", evt.ID, evt.Type, data)
}
