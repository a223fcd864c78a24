package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/roach88/evactor/internal/actor"
	"github.com/roach88/evactor/internal/actors"
	"github.com/roach88/evactor/internal/cache"
	"github.com/roach88/evactor/internal/engine"
	"github.com/roach88/evactor/internal/ir"
	"github.com/roach88/evactor/internal/runtime"
	"github.com/roach88/evactor/internal/store"
	"github.com/roach88/evactor/internal/testutil"
)

// Epoch is the deterministic clock start of every scenario run.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness executes scenario steps against one runtime.
type Harness struct {
	rt     *runtime.Runtime
	logger *slog.Logger

	// addressed records every (type, id) a step touched, for final states.
	addressed map[string][2]string
}

// Run executes a scenario in a fresh in-memory store and returns its
// result. An error means the scenario could not run at all; failed
// expectations are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	defs, err := actors.LoadFiles(scenario.Actors...)
	if err != nil {
		return nil, fmt.Errorf("failed to load actors: %w", err)
	}
	reg, err := actor.NewRegistry(defs...)
	if err != nil {
		return nil, fmt.Errorf("failed to register actors: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewDeterministicClockAt(Epoch, time.Second)

	st, err := store.Open(":memory:", store.WithClock(clock.Now), store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	c, err := cache.OpenInMemory()
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory cache: %w", err)
	}
	defer c.Close()

	h := &Harness{
		rt: runtime.New(reg, st, st,
			runtime.WithActorCache(c),
			runtime.WithEventCache(c),
			runtime.WithSearch(st),
			runtime.WithIDGenerator(testutil.NewSequenceIDs("")),
			runtime.WithClock(clock.Now),
			runtime.WithNodeID("harness"),
			runtime.WithLogger(logger),
		),
		logger:    logger,
		addressed: make(map[string][2]string),
	}

	ctx := context.Background()
	result := NewResult()

	if err := h.executeSetup(ctx, scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}
	h.rt.Wait()

	if err := h.collectState(ctx, result); err != nil {
		return nil, err
	}

	actx := &AssertionContext{Runtime: h.rt, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// executeSetup runs setup steps without tracing them.
func (h *Harness) executeSetup(ctx context.Context, setup []Step) error {
	for i, step := range setup {
		results, err := h.dispatch(ctx, step)
		if err != nil {
			return fmt.Errorf("setup step %d: %w", i, err)
		}
		for _, res := range results {
			if res.Rejected {
				return fmt.Errorf("setup step %d: %s rejected: %s", i, step.Handle, res.ReasonText())
			}
		}
	}
	return nil
}

// executeFlow runs flow steps, tracing every command, event and rejection
// and checking each expect clause.
func (h *Harness) executeFlow(ctx context.Context, flow []Step, result *Result) error {
	for i, step := range flow {
		data := stepData(step)
		result.AddCommandTrace(step.Handle, step.ID, data)

		results, err := h.dispatch(ctx, step)
		if err != nil {
			return fmt.Errorf("flow step %d: %w", i, err)
		}
		if len(results) == 0 {
			result.AddError(fmt.Sprintf("flow[%d]: no actor handled %s", i, step.Handle))
			continue
		}

		for _, res := range results {
			if res.Rejected {
				result.AddRejectionTrace(step.Handle, res.ActorType, res.ActorID, res.ReasonText())
				continue
			}
			for _, evt := range res.Events {
				result.AddEventTrace(evt, res.ActorID)
			}
		}

		if step.Expect != nil {
			for _, msg := range checkExpect(step.Expect, results) {
				result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Handle, msg))
			}
		}

		h.logger.Info("flow step completed",
			"step", i,
			"topic", step.Handle,
			"actor_id", step.ID,
			"results", len(results),
		)
	}
	return nil
}

func (h *Harness) dispatch(ctx context.Context, step Step) ([]engine.Result, error) {
	topic, err := ir.ParseTopic(step.Handle)
	if err != nil {
		return nil, err
	}
	h.addressed[topic.Owner+"/"+step.ID] = [2]string{topic.Owner, step.ID}
	return h.rt.Handle(ctx, step.ID, step.Handle, ir.Message{Data: stepData(step)})
}

// collectState fetches the final state of every addressed actor.
func (h *Harness) collectState(ctx context.Context, result *Result) error {
	keys := make([]string, 0, len(h.addressed))
	for k := range h.addressed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		addr := h.addressed[k]
		if _, ok := h.rt.Definition(addr[0]); !ok {
			continue
		}
		inst, err := h.rt.Fetch(ctx, addr[0], addr[1], true)
		if err != nil {
			return fmt.Errorf("failed to fetch final state of %s: %w", k, err)
		}
		result.State[k] = inst.State
	}
	return nil
}

func checkExpect(expect *ExpectClause, results []engine.Result) []string {
	var (
		errs     []string
		rejected bool
		reasons  []string
		events   []string
	)
	for _, res := range results {
		if res.Rejected {
			rejected = true
			reasons = append(reasons, res.ReasonText())
			continue
		}
		for _, evt := range res.Events {
			events = append(events, evt.Type)
		}
	}

	if rejected != expect.Rejected {
		errs = append(errs, fmt.Sprintf("expected rejected=%t, got rejected=%t %v", expect.Rejected, rejected, reasons))
	}
	if expect.Reason != "" && !strings.Contains(strings.Join(reasons, "\n"), expect.Reason) {
		errs = append(errs, fmt.Sprintf("expected reason containing %q, got %v", expect.Reason, reasons))
	}
	if expect.Events != nil && !slices.Equal(events, expect.Events) {
		errs = append(errs, fmt.Sprintf("expected events %v, got %v", expect.Events, events))
	}
	if len(expect.State) > 0 {
		state := results[len(results)-1].State
		if diff := diffSubset(state, expect.State); diff != "" {
			errs = append(errs, "state: "+diff)
		}
	}
	return errs
}

func stepData(step Step) ir.Record {
	if step.Data == nil {
		return ir.Record{}
	}
	return ir.Normalize(step.Data).(ir.Record)
}
