package controller

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-logr/logr"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/util/retry"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	adkv1alpha1 "github.com/thamizhelango/adk-controller/api/v1alpha1"
	"github.com/thamizhelango/adk-controller/internal/config"
	"github.com/thamizhelango/adk-controller/internal/engine"
	"github.com/thamizhelango/adk-controller/internal/identity"
	"github.com/thamizhelango/adk-controller/internal/planner"
	"github.com/thamizhelango/adk-controller/internal/registry"
	"github.com/thamizhelango/adk-controller/internal/sandbox"
)

const agentRunFinalizer = "ai.adk.io/agentrun-finalizer"

// AgentRunReconciler drives one AgentRun's state machine to a terminal phase.
// Unlike a Job-spawning reconciler, it IS the execution engine: every
// Reconcile call runs exactly one engine.Step and persists the result, so a
// restarted or failed-over controller resumes a run from whatever its status
// last recorded rather than losing it.
type AgentRunReconciler struct {
	client.Client
	Scheme *runtime.Scheme
	Log    logr.Logger

	Config   config.Config
	Registry *registry.Registry
	Sandbox  *sandbox.Executor
	Identity *identity.Provider
}

// +kubebuilder:rbac:groups=ai.adk.io,resources=agentruns,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=ai.adk.io,resources=agentruns/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=ai.adk.io,resources=agentruns/finalizers,verbs=update
// +kubebuilder:rbac:groups=ai.adk.io,resources=agents,verbs=get;list;watch
// +kubebuilder:rbac:groups=ai.adk.io,resources=agents/status,verbs=get;update;patch

// Reconcile handles one AgentRun reconciliation pass.
func (r *AgentRunReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	log := r.Log.WithValues("agentrun", req.NamespacedName)

	run := &adkv1alpha1.AgentRun{}
	if err := r.Get(ctx, req.NamespacedName, run); err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}

	if !run.DeletionTimestamp.IsZero() {
		// Best-effort cancellation: any in-flight planner/sandbox call made by
		// this reconcile already ran to completion before we got here, since
		// nothing in this design holds state across calls. Dropping the
		// finalizer is enough to let deletion proceed without another step.
		controllerutil.RemoveFinalizer(run, agentRunFinalizer)
		return ctrl.Result{}, r.Update(ctx, run)
	}

	if !controllerutil.ContainsFinalizer(run, agentRunFinalizer) {
		controllerutil.AddFinalizer(run, agentRunFinalizer)
		if err := r.Update(ctx, run); err != nil {
			return ctrl.Result{}, err
		}
	}

	switch run.Status.Phase {
	case engine.PhaseCompleted, engine.PhaseFailed:
		// Terminal phases are absorbing.
		return ctrl.Result{}, nil
	case "":
		return r.reconcileInit(ctx, log, run)
	default:
		return r.reconcileStep(ctx, log, run)
	}
}

// reconcileInit resolves the referenced Agent and seeds status for the first
// planning iteration.
func (r *AgentRunReconciler) reconcileInit(ctx context.Context, log logr.Logger, run *adkv1alpha1.AgentRun) (ctrl.Result, error) {
	agent := &adkv1alpha1.Agent{}
	err := r.Get(ctx, client.ObjectKey{Namespace: run.Namespace, Name: run.Spec.AgentRef}, agent)
	if apierrors.IsNotFound(err) {
		return ctrl.Result{}, r.failRun(ctx, run, fmt.Sprintf("Agent '%s' not found", run.Spec.AgentRef))
	}
	if err != nil {
		return ctrl.Result{}, err
	}

	log.Info("initializing AgentRun")
	now := metav1.Now()
	run.Status.Phase = engine.PhasePlanning
	run.Status.CurrentStep = 0
	run.Status.History = nil
	run.Status.StartTime = &now
	run.Status.ResourcesUsed = adkv1alpha1.ResourcesUsed{}
	if err := r.Status().Update(ctx, run); err != nil {
		return ctrl.Result{}, err
	}
	return ctrl.Result{Requeue: true}, nil
}

// reconcileStep re-derives in-memory run state from status, advances it by
// one engine.Step, and persists the result.
func (r *AgentRunReconciler) reconcileStep(ctx context.Context, log logr.Logger, run *adkv1alpha1.AgentRun) (ctrl.Result, error) {
	agent := &adkv1alpha1.Agent{}
	if err := r.Get(ctx, client.ObjectKey{Namespace: run.Namespace, Name: run.Spec.AgentRef}, agent); err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, r.failRun(ctx, run, fmt.Sprintf("Agent '%s' not found", run.Spec.AgentRef))
		}
		return ctrl.Result{}, err
	}

	maxSteps := run.Spec.MaxSteps
	if maxSteps == 0 {
		maxSteps = agent.Spec.MaxSteps
	}
	timeout := run.Spec.Timeout
	if timeout == 0 {
		timeout = agent.Spec.Timeout
	}

	state := engine.Run{
		Goal:           run.Spec.Goal,
		SystemPrompt:   agent.Spec.SystemPrompt,
		Context:        decodeJSONObject(run.Spec.Context),
		AllowedTools:   agent.Spec.Tools,
		MaxSteps:       maxSteps,
		TimeoutSeconds: timeout,
		CurrentStep:    run.Status.CurrentStep,
		History:        replayHistory(run.Status.History),
		Phase:          run.Status.Phase,
	}
	if run.Status.StartTime != nil {
		state.StartTime = run.Status.StartTime.Time
	}
	state.Resources = engine.Resources{
		LLMTokens:       run.Status.ResourcesUsed.LLMTokens,
		ToolExecutions:  run.Status.ResourcesUsed.ToolExecutions,
		WallTimeSeconds: run.Status.ResourcesUsed.WallTimeSeconds,
	}

	deps := engine.Deps{
		Planner:  planner.New(r.Config.VLLMEndpoint, firstNonEmpty(agent.Spec.Model, r.Config.DefaultModel), r.Identity),
		Sandbox:  r.Sandbox,
		Registry: r.Registry,
	}

	next, records, err := engine.Step(ctx, deps, state)
	if err != nil {
		// Context canceled (shutdown or deletion mid-flight): requeue without
		// mutating status, per the best-effort cancellation contract.
		return ctrl.Result{Requeue: true}, nil
	}

	log.Info("advanced AgentRun", "step", next.CurrentStep, "phase", next.Phase)

	terminal := next.Phase == engine.PhaseCompleted || next.Phase == engine.PhaseFailed

	// The history append is a read-modify-write against the full array, so a
	// concurrent writer (another reconcile of the same object, racing status
	// subresource updates) must be retried rather than silently lost.
	notFound := false
	err = retry.RetryOnConflict(retry.DefaultRetry, func() error {
		latest := &adkv1alpha1.AgentRun{}
		if getErr := r.Get(ctx, client.ObjectKey{Namespace: run.Namespace, Name: run.Name}, latest); getErr != nil {
			if apierrors.IsNotFound(getErr) {
				notFound = true
				return nil
			}
			return getErr
		}

		latest.Status.Phase = next.Phase
		latest.Status.CurrentStep = next.CurrentStep
		latest.Status.History = append(latest.Status.History, toCRDHistory(records)...)
		latest.Status.ResourcesUsed = adkv1alpha1.ResourcesUsed{
			LLMTokens:       next.Resources.LLMTokens,
			ToolExecutions:  next.Resources.ToolExecutions,
			WallTimeSeconds: next.Resources.WallTimeSeconds,
		}
		if terminal {
			now := metav1.Now()
			latest.Status.CompletionTime = &now
			if next.Result != nil {
				raw, _ := json.Marshal(next.Result)
				latest.Status.Result = &apiextensionsv1.JSON{Raw: raw}
			}
			latest.Status.Error = next.Error
		}
		return r.Status().Update(ctx, latest)
	})
	if err != nil {
		return ctrl.Result{}, err
	}
	if notFound {
		return ctrl.Result{}, nil
	}

	if terminal {
		r.updateAgentStats(ctx, log, run.Namespace, run.Spec.AgentRef, next.Phase == engine.PhaseCompleted)
		return ctrl.Result{}, nil
	}
	return ctrl.Result{Requeue: true}, nil
}

// failRun terminates run immediately with a non-retryable error, used when
// the referenced Agent cannot be resolved.
func (r *AgentRunReconciler) failRun(ctx context.Context, run *adkv1alpha1.AgentRun, reason string) error {
	now := metav1.Now()
	run.Status.Phase = engine.PhaseFailed
	run.Status.Error = reason
	run.Status.CompletionTime = &now
	return r.Status().Update(ctx, run)
}

// updateAgentStats applies the terminal-run counter deltas to the owning
// Agent. Failure is logged and swallowed — it must never corrupt the run's
// own terminal status.
func (r *AgentRunReconciler) updateAgentStats(ctx context.Context, log logr.Logger, namespace, agentName string, success bool) {
	agent := &adkv1alpha1.Agent{}
	if err := r.Get(ctx, client.ObjectKey{Namespace: namespace, Name: agentName}, agent); err != nil {
		log.Error(err, "failed to update agent stats: agent not found")
		return
	}
	total, ok, failed := engine.ApplyAgentOutcome(success)
	now := metav1.Now()
	agent.Status.TotalRuns += total
	agent.Status.SuccessfulRuns += ok
	agent.Status.FailedRuns += failed
	agent.Status.LastRunTime = &now
	if err := r.Status().Update(ctx, agent); err != nil {
		log.Error(err, "failed to update agent stats")
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func decodeJSONObject(raw apiextensionsv1.JSON) map[string]any {
	if len(raw.Raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw.Raw, &m); err != nil {
		return nil
	}
	return m
}

// toCRDHistory converts engine history records into the CRD's append-only
// storage shape.
func toCRDHistory(records []engine.HistoryRecord) []adkv1alpha1.HistoryEntry {
	now := metav1.Now()
	out := make([]adkv1alpha1.HistoryEntry, 0, len(records))
	for _, rec := range records {
		raw, _ := json.Marshal(rec.Data)
		out = append(out, adkv1alpha1.HistoryEntry{
			Step:      rec.Step,
			Type:      rec.Type,
			Data:      apiextensionsv1.JSON{Raw: raw},
			Timestamp: now,
		})
	}
	return out
}

// replayHistory reconstructs the planner-facing replay history from the
// CRD's persisted audit trail. "plan" entries become assistant turns,
// "tool_result" entries and sandbox-sourced "error" entries become tool
// turns; planner-sourced "error" entries are omitted since the run they
// belong to always terminates without a further planning call.
func replayHistory(entries []adkv1alpha1.HistoryEntry) []planner.HistoryEntry {
	out := make([]planner.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		var data map[string]any
		if err := json.Unmarshal(e.Data.Raw, &data); err != nil {
			continue
		}
		switch e.Type {
		case "plan":
			action, _ := data["action"].(string)
			thought, _ := data["thought"].(string)
			tool, _ := data["tool"].(string)
			args, _ := data["args"].(map[string]any)
			out = append(out, planner.HistoryEntry{
				Role: "assistant", Action: planner.Action(action), Content: thought, Tool: tool, Args: args,
			})
		case "tool_result":
			tool, _ := data["tool"].(string)
			success, _ := data["success"].(bool)
			output, _ := data["output"].(string)
			errMsg, _ := data["error"].(string)
			out = append(out, planner.HistoryEntry{Role: "tool", Tool: tool, Success: success, Output: output, Error: errMsg})
		case "error":
			if data["source"] != "sandbox" {
				continue
			}
			tool, _ := data["tool"].(string)
			errMsg, _ := data["error"].(string)
			out = append(out, planner.HistoryEntry{Role: "tool", Tool: tool, Success: false, Error: errMsg})
		}
	}
	return out
}

// SetupWithManager registers the controller.
func (r *AgentRunReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&adkv1alpha1.AgentRun{}).
		Complete(r)
}
