package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/evactor/internal/ir"
	"github.com/roach88/evactor/internal/queryir"
)

// FindOptions holds flags for the find command.
type FindOptions struct {
	*RootOptions
	Criteria string // JSON criteria object
}

// FindResult is the JSON output of the find command.
type FindResult struct {
	ActorType string      `json:"actor_type"`
	Count     int         `json:"count"`
	Actors    []ir.Record `json:"actors"`
}

// NewFindCommand creates the find command.
func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FindOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "find <type>",
		Short: "Find actors by indexed fields",
		Long: `Find the actors of a type whose indexed search fields match criteria.

Criteria map a field path to a value (equality) or to an operator object:
  {"state": "open"}
  {"balance": [100, 1000]}
  {"balance": {"gte": 100, "lt": 1000}}
  {"state": {"in": ["open", "new"]}}
  {"owner": {"match": "^a"}}

Matches are printed in id order with their current state.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFind(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Criteria, "criteria", "{}", "criteria as a JSON object")

	return cmd
}

func runFind(opts *FindOptions, actorType string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	rec, err := ir.DecodeRecord([]byte(opts.Criteria))
	if err != nil {
		_ = formatter.Error(ErrCodeBadInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid --criteria", err)
	}
	criteria := queryir.Criteria(rec)
	if _, err := queryir.Parse(criteria); err != nil {
		_ = formatter.Error(ErrCodeBadInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid --criteria", err)
	}

	ctx := commandContext(cmd)
	e, err := openEnv(ctx, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	instances, err := e.runtime.Find(ctx, actorType, criteria)
	if err != nil {
		_ = formatter.Error(ErrCodeRuntime, err.Error(), nil)
		return WrapExitError(ExitFailure, "find failed", err)
	}

	out := FindResult{ActorType: actorType, Count: len(instances), Actors: make([]ir.Record, len(instances))}
	lines := make([]string, 0, len(instances)+1)
	for i, inst := range instances {
		out.Actors[i] = inst.State
		lines = append(lines, fmt.Sprintf("%s %s", inst.ID(), summary(inst.State)))
	}
	lines = append(lines, fmt.Sprintf("%d %s actor(s) found", len(instances), actorType))
	return formatter.Success(out, lines...)
}

// summary renders the domain fields of state, leaving out bookkeeping
// fields.
func summary(state ir.Record) string {
	domain := make(ir.Record, len(state))
	for k, v := range state {
		if ir.IsReserved(k) {
			continue
		}
		domain[k] = v
	}
	data, err := ir.MarshalCanonical(domain)
	if err != nil {
		return fmt.Sprintf("%v", map[string]any(domain))
	}
	return string(data)
}
