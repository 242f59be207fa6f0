// Package engine implements the Run Engine: the state machine that drives one
// AgentRun from Planning through to Completed or Failed, alternating calls to
// the Planner Client and Sandbox Executor.
//
// The engine itself holds no state between calls. Per this port's design
// (fully re-deriving the resumption point from persisted status on every
// call, rather than running the whole loop in one long-lived goroutine), a
// caller advances a run one iteration at a time via Step and persists the
// returned Run before calling Step again. A crashed or restarted controller
// picks a run back up exactly where its status says it left off.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/thamizhelango/adk-controller/internal/planner"
	"github.com/thamizhelango/adk-controller/internal/registry"
	"github.com/thamizhelango/adk-controller/internal/sandbox"
)

const (
	PhasePlanning  = "Planning"
	PhaseExecuting = "Executing"
	PhaseCompleted = "Completed"
	PhaseFailed    = "Failed"
)

// toolResultOutputCap mirrors the planner replay truncation: history entries
// never store more than this many bytes of tool output.
const toolResultOutputCap = 5000

// HistoryRecord is one append-only entry the caller stores onto an AgentRun's
// status.history, in the CRD's step/type/data shape.
type HistoryRecord struct {
	Step int32
	Type string // "plan", "tool_result", "error"
	Data map[string]any
}

// Result is the terminal payload of a run that reached Completed.
type Result struct {
	Success    bool   `json:"success"`
	Output     string `json:"output"`
	StepsTaken int32  `json:"steps_taken"`
}

// Resources tracks the monotonic consumption counters for one run.
type Resources struct {
	LLMTokens       int64
	ToolExecutions  int32
	WallTimeSeconds int64
}

// Run is the full state the engine advances one step at a time. Every field
// is re-derived by the caller from the AgentRun's persisted status (and the
// referenced Agent's spec) before calling Step.
type Run struct {
	Goal           string
	SystemPrompt   string
	Context        map[string]any
	AllowedTools   []string
	MaxSteps       int32
	TimeoutSeconds int32

	StartTime   time.Time
	CurrentStep int32
	History     []planner.HistoryEntry
	Resources   Resources

	Phase  string
	Result *Result
	Error  string
}

// Deps bundles the Run Engine's two suspension-point collaborators plus the
// tool catalog it reads to build the planner's tool view.
type Deps struct {
	Planner  planner.Planner
	Sandbox  *sandbox.Executor
	Registry *registry.Registry
}

// Step advances run by exactly one Planning iteration (and, on a tool_call
// decision, the matching Executing step) and returns the updated run plus any
// history records the caller should append to status.history.
//
// Step returns a non-nil error only when ctx is already canceled; the caller
// should requeue without mutating status in that case. Every other failure
// mode — planner error, step exhaustion, timeout — is
// encoded as run.Phase == PhaseFailed with run.Error set, so a terminal status
// is always recorded before the failure is surfaced.
func Step(ctx context.Context, deps Deps, run Run) (Run, []HistoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return run, nil, err
	}

	run.CurrentStep++
	elapsed := time.Since(run.StartTime)
	run.Resources.WallTimeSeconds = int64(elapsed.Seconds())

	if run.CurrentStep > run.MaxSteps {
		run.Phase = PhaseFailed
		run.Error = fmt.Sprintf("Reached maximum steps (%d) without completing", run.MaxSteps)
		return run, nil, nil
	}
	if elapsed > time.Duration(run.TimeoutSeconds)*time.Second {
		run.Phase = PhaseFailed
		run.Error = fmt.Sprintf("Run exceeded timeout of %ds", run.TimeoutSeconds)
		return run, nil, nil
	}

	tools := deps.Registry.ViewFor(run.AllowedTools)
	decision, err := deps.Planner.Plan(ctx, run.Goal, run.SystemPrompt, run.History, tools, run.Context)
	if err != nil {
		run.Phase = PhaseFailed
		run.Error = err.Error()
		rec := HistoryRecord{
			Step: run.CurrentStep,
			Type: "error",
			Data: map[string]any{"error": err.Error(), "source": "planner"},
		}
		return run, []HistoryRecord{rec}, nil
	}
	run.Resources.LLMTokens += decision.TokensUsed

	planRec := HistoryRecord{
		Step: run.CurrentStep,
		Type: "plan",
		Data: map[string]any{
			"action":  string(decision.Action),
			"thought": decision.Thought,
			"tool":    decision.ToolName,
			"args":    decision.ToolArgs,
		},
	}
	run.History = append(run.History, planner.HistoryEntry{
		Role:    "assistant",
		Action:  decision.Action,
		Content: decision.Thought,
		Tool:    decision.ToolName,
		Args:    decision.ToolArgs,
	})

	if decision.Action == planner.ActionFinish {
		run.Phase = PhaseCompleted
		run.Result = &Result{Success: true, Output: decision.FinalAnswer, StepsTaken: run.CurrentStep}
		return run, []HistoryRecord{planRec}, nil
	}

	run.Phase = PhaseExecuting
	toolTimeout := remainingToolBudget(run.TimeoutSeconds, time.Since(run.StartTime))

	result, panicErr := executeRecovering(ctx, deps.Sandbox, decision.ToolName, decision.ToolArgs, toolTimeout)
	run.Resources.ToolExecutions++

	if panicErr != nil {
		// A panic crossing the sandbox boundary is treated as a sandbox
		// exception: recorded distinctly from an ordinary tool_result
		// failure, but the run still continues — only a planner error is
		// fatal.
		run.Phase = PhasePlanning
		run.History = append(run.History, planner.HistoryEntry{
			Role: "tool", Tool: decision.ToolName, Success: false, Error: panicErr.Error(),
		})
		rec := HistoryRecord{
			Step: run.CurrentStep,
			Type: "error",
			Data: map[string]any{"error": panicErr.Error(), "source": "sandbox", "tool": decision.ToolName},
		}
		return run, []HistoryRecord{planRec, rec}, nil
	}

	output := result.Output
	if len(output) > toolResultOutputCap {
		output = output[:toolResultOutputCap]
	}
	run.History = append(run.History, planner.HistoryEntry{
		Role: "tool", Tool: decision.ToolName, Success: result.Success,
		Output: result.Output, Error: result.Error,
	})
	toolRec := HistoryRecord{
		Step: run.CurrentStep,
		Type: "tool_result",
		Data: map[string]any{
			"tool":    decision.ToolName,
			"success": result.Success,
			"output":  output,
			"error":   result.Error,
		},
	}
	run.Phase = PhasePlanning
	return run, []HistoryRecord{planRec, toolRec}, nil
}

// remainingToolBudget caps the tool call's own timeout at 60s and floors it
// at 0 once the run's overall wall-clock budget is nearly exhausted.
func remainingToolBudget(timeoutSeconds int32, elapsed time.Duration) int {
	remaining := time.Duration(timeoutSeconds)*time.Second - elapsed
	if remaining > 60*time.Second {
		return 60
	}
	if remaining < 0 {
		return 0
	}
	return int(remaining.Seconds())
}

func executeRecovering(ctx context.Context, sb *sandbox.Executor, tool string, args map[string]any, timeoutSeconds int) (result sandbox.Result, panicErr error) {
	defer func() {
		if r := recover(); r != nil {
			panicErr = fmt.Errorf("%v", r)
		}
	}()
	result = sb.Execute(ctx, tool, args, timeoutSeconds)
	return result, nil
}

// ApplyAgentOutcome computes the Agent aggregate-counter deltas for a
// terminal run. The caller applies these to the Agent's status in a
// best-effort patch that must not affect the run's own terminal status.
func ApplyAgentOutcome(success bool) (totalDelta, successDelta, failedDelta int64) {
	if success {
		return 1, 1, 0
	}
	return 1, 0, 1
}
