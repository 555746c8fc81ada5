// Package hooks implements the extensible hook pipeline: PRE/POST/ERROR
// phase handlers run in priority-then-registration order, bounded by a
// per-phase timeout budget, and graceful degradation keeps a failing or
// slow hook from affecting the surrounding task.
package hooks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/superdisco-agents/moai-flow-sub006/pkg/errors"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/log"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/metrics"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/types"
)

// Registry holds registered hooks and dispatches invocations against them.
type Registry struct {
	mu                  sync.RWMutex
	hooks               map[string]*types.Hook
	nextRegistration    int
	TimeoutMs           int
	GracefulDegradation bool
}

// NewRegistry builds a Registry with the given per-phase timeout budget.
// gracefulDegradation must be true for hook failures to stay non-fatal to
// the surrounding task (spec-mandated config invariant).
func NewRegistry(timeoutMs int, gracefulDegradation bool) *Registry {
	return &Registry{
		hooks:               make(map[string]*types.Hook),
		TimeoutMs:           timeoutMs,
		GracefulDegradation: gracefulDegradation,
	}
}

// Register adds a hook. Returns CodeDuplicateHook if the name is already
// registered.
func (r *Registry) Register(hook *types.Hook) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.hooks[hook.Name]; exists {
		return errors.New(errors.CodeDuplicateHook, "hook already registered: "+hook.Name)
	}

	r.nextRegistration++
	hook.SetRegistrationOrder(r.nextRegistration)
	r.hooks[hook.Name] = hook
	return nil
}

// Unregister removes a hook by name. Returns CodeUnknownHook if absent.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.hooks[name]; !exists {
		return errors.New(errors.CodeUnknownHook, "no such hook: "+name)
	}
	delete(r.hooks, name)
	return nil
}

// matching returns hooks for (phase, eventType) in priority order, then
// registration order as the tiebreak.
func (r *Registry) matching(phase types.HookPhase, eventType string) []*types.Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.Hook, 0, len(r.hooks))
	for _, h := range r.hooks {
		if h.Phase == phase && (h.EventType == eventType || h.EventType == "") {
			out = append(out, h)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].RegistrationOrder() < out[j].RegistrationOrder()
	})
	return out
}

// Invoke runs every hook matching (phase, eventType) in priority-then-
// registration order, bounded overall by r.TimeoutMs. Hooks still running
// once the budget expires are abandoned, not killed: their goroutine keeps
// running in the background but their HookResult is reported as timed out
// and the next hook proceeds immediately (subject to GracefulDegradation
// below).
//
// GracefulDegradation gates what a failing or timed-out hook does to the
// rest of the phase: true (the spec-mandated default) lets every matching
// hook run regardless of earlier failures. false makes a failure or
// timeout fatal to the phase — the remaining hooks are skipped entirely
// rather than invoked.
func (r *Registry) Invoke(phase types.HookPhase, eventType string, hookCtx map[string]any) []types.HookResult {
	hooks := r.matching(phase, eventType)
	results := make([]types.HookResult, 0, len(hooks))

	deadline := time.Now().Add(time.Duration(r.TimeoutMs) * time.Millisecond)

	for _, hook := range hooks {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			results = append(results, types.HookResult{
				HookName: hook.Name,
				Success:  false,
				TimedOut: true,
			})
			metrics.HookResultsTotal.WithLabelValues("timeout").Inc()
			if !r.GracefulDegradation {
				break
			}
			continue
		}

		result := r.runOne(hook, hookCtx, remaining)
		results = append(results, result)

		outcome := "success"
		if result.TimedOut {
			outcome = "timeout"
		} else if !result.Success {
			outcome = "failure"
		}
		metrics.HookResultsTotal.WithLabelValues(outcome).Inc()

		if !r.GracefulDegradation && !result.Success {
			break
		}
	}

	return results
}

func (r *Registry) runOne(hook *types.Hook, hookCtx map[string]any, budget time.Duration) types.HookResult {
	timer := metrics.NewTimer()
	defer func() {
		metrics.HookInvocationDuration.WithLabelValues(string(hook.Phase), hook.EventType).Observe(timer.Duration().Seconds())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	type outcome struct {
		result types.HookResult
	}
	done := make(chan outcome, 1)

	go func() {
		result := r.invokeGuarded(hook, hookCtx)
		done <- outcome{result: result}
	}()

	select {
	case o := <-done:
		return o.result
	case <-ctx.Done():
		log.WithComponent("hooks").Warn().
			Str("hook", hook.Name).
			Str("phase", string(hook.Phase)).
			Msg("hook invocation abandoned: timeout budget exceeded")
		return types.HookResult{
			HookName: hook.Name,
			Success:  false,
			TimedOut: true,
		}
	}
}

// invokeGuarded runs hook.Handler and converts a panic into a failed
// HookResult instead of propagating it — a hook raising an error must
// never take down the phase's remaining hooks (graceful degradation).
func (r *Registry) invokeGuarded(hook *types.Hook, hookCtx map[string]any) (result types.HookResult) {
	start := time.Now()
	defer func() {
		result.Duration = time.Since(start)
		if rec := recover(); rec != nil {
			result = types.HookResult{
				HookName: hook.Name,
				Success:  false,
				Error:    panicMessage(rec),
				Duration: time.Since(start),
			}
		}
	}()

	result = hook.Handler(hookCtx)
	result.HookName = hook.Name
	return result
}

func panicMessage(rec any) string {
	if err, ok := rec.(error); ok {
		return err.Error()
	}
	if s, ok := rec.(string); ok {
		return s
	}
	return "hook panicked"
}
