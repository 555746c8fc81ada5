package coordinator

import (
	"strings"

	"github.com/superdisco-agents/moai-flow-sub006/pkg/patterns"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/types"
)

// parsePriority maps a config priority string ("HIGH"/"NORMAL"/"LOW") to its
// HookPriority, defaulting to NORMAL for anything else.
func parsePriority(s string) types.HookPriority {
	switch strings.ToUpper(s) {
	case "HIGH":
		return types.HookPriorityHigh
	case "LOW":
		return types.HookPriorityLow
	default:
		return types.HookPriorityNormal
	}
}

// registerBuiltinHooks wires the two pattern-collection hooks config
// defines: hooks.post_task.pattern_collection and
// hooks.on_error.pattern_collection. Each is registered with an empty
// EventType so it fires for every task type the coordinator runs, rather
// than once per operation. A nil patternCollector (patterns.enabled =
// false) or a disabled slot skips registration entirely.
func (c *Coordinator) registerBuiltinHooks() {
	if c.patternCollector == nil {
		return
	}

	if c.cfg.Hooks.PostTaskPattern.Enabled {
		_ = c.hookRegistry.Register(&types.Hook{
			Name:     "post_task_pattern_collection",
			Phase:    types.HookPhasePost,
			Priority: parsePriority(c.cfg.Hooks.PostTaskPattern.Priority),
			Handler:  c.postTaskPatternHook,
		})
	}
	if c.cfg.Hooks.OnErrorPattern.Enabled {
		_ = c.hookRegistry.Register(&types.Hook{
			Name:     "on_error_pattern_collection",
			Phase:    types.HookPhaseError,
			Priority: parsePriority(c.cfg.Hooks.OnErrorPattern.Priority),
			Handler:  c.errorPatternHook,
		})
	}
}

// postTaskPatternHook is the hooks.post_task.pattern_collection handler. It
// reads the generic task-completion shape runPostTaskHooks populates and
// persists it through the pattern collector.
func (c *Coordinator) postTaskPatternHook(ctx map[string]any) types.HookResult {
	if !c.cfg.Patterns.Collect.TaskCompletion {
		return types.HookResult{Success: true}
	}
	taskType, _ := ctx["task_type"].(string)
	agent, _ := ctx["agent"].(string)
	durationMs, _ := ctx["duration_ms"].(int64)
	success, _ := ctx["success"].(bool)
	taskCtx, _ := ctx["context"].(map[string]any)

	if _, err := c.patternCollector.CollectTaskCompletion(taskType, agent, durationMs, success, taskCtx); err != nil {
		return types.HookResult{Success: false, Error: err.Error()}
	}
	return types.HookResult{Success: true}
}

// errorPatternHook is the hooks.on_error.pattern_collection handler.
func (c *Coordinator) errorPatternHook(ctx map[string]any) types.HookResult {
	if !c.cfg.Patterns.Collect.ErrorOccurrence {
		return types.HookResult{Success: true}
	}
	errorType, _ := ctx["error_type"].(string)
	errorMessage, _ := ctx["error_message"].(string)
	resolution, _ := ctx["resolution"].(string)
	errCtx, _ := ctx["context"].(map[string]any)

	if _, err := c.patternCollector.CollectErrorOccurrence(errorType, errorMessage, errCtx, resolution); err != nil {
		return types.HookResult{Success: false, Error: err.Error()}
	}
	return types.HookResult{Success: true}
}

// runPostTaskHooks fires the POST phase for a finished coordinator
// operation. Every hook failure is logged and otherwise ignored: pattern
// collection must never affect the outcome of the task that produced it.
func (c *Coordinator) runPostTaskHooks(taskType, agent string, durationMs int64, success bool, taskCtx map[string]any) {
	results := c.hookRegistry.Invoke(types.HookPhasePost, taskType, map[string]any{
		"task_type":   taskType,
		"agent":       agent,
		"duration_ms": durationMs,
		"success":     success,
		"context":     taskCtx,
	})
	c.logHookFailures(results)
}

// runErrorHooks fires the ERROR phase for a surfaced coordinator failure.
func (c *Coordinator) runErrorHooks(errorType, errorMessage, resolution string, errCtx map[string]any) {
	results := c.hookRegistry.Invoke(types.HookPhaseError, errorType, map[string]any{
		"error_type":    errorType,
		"error_message": errorMessage,
		"resolution":    resolution,
		"context":       errCtx,
	})
	c.logHookFailures(results)
}

func (c *Coordinator) logHookFailures(results []types.HookResult) {
	for _, r := range results {
		if !r.Success {
			c.logger.Warn().
				Str("hook", r.HookName).
				Bool("timed_out", r.TimedOut).
				Str("error", r.Error).
				Msg("hook invocation failed")
		}
	}
}

// PatternStatistics returns a snapshot of collected pattern counts, or nil
// if pattern collection is disabled.
func (c *Coordinator) PatternStatistics() (*patterns.Statistics, error) {
	if c.patternCollector == nil {
		return nil, nil
	}
	return c.patternCollector.GetStatistics()
}
