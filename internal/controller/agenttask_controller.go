package controller

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	adkv1alpha1 "github.com/thamizhelango/adk-controller/api/v1alpha1"
	"github.com/thamizhelango/adk-controller/internal/engine"
)

// AgentTaskReconciler materializes an AgentTask as a sequence of AgentRuns
// and surfaces the final outcome, retrying failed attempts up to
// spec.maxRetries.
type AgentTaskReconciler struct {
	client.Client
	Scheme *runtime.Scheme
	Log    logr.Logger
}

// +kubebuilder:rbac:groups=ai.adk.io,resources=agenttasks,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=ai.adk.io,resources=agenttasks/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=ai.adk.io,resources=agents,verbs=get;list;watch
// +kubebuilder:rbac:groups=ai.adk.io,resources=agentruns,verbs=get;list;watch;create

// Reconcile handles one AgentTask reconciliation pass.
func (r *AgentTaskReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	log := r.Log.WithValues("agenttask", req.NamespacedName)

	task := &adkv1alpha1.AgentTask{}
	if err := r.Get(ctx, req.NamespacedName, task); err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}

	switch task.Status.Phase {
	case "Completed", "Failed":
		return ctrl.Result{}, nil
	case "":
		return r.reconcileCreate(ctx, log, task)
	default:
		return r.reconcileRunning(ctx, log, task)
	}
}

// reconcileCreate validates the task and spawns its first AgentRun.
func (r *AgentTaskReconciler) reconcileCreate(ctx context.Context, log logr.Logger, task *adkv1alpha1.AgentTask) (ctrl.Result, error) {
	if task.Spec.AgentRef == "" || task.Spec.Goal == "" {
		return ctrl.Result{}, r.terminateTask(ctx, task, "Failed", "agentRef and goal are both required")
	}

	agent := &adkv1alpha1.Agent{}
	if err := r.Get(ctx, client.ObjectKey{Namespace: task.Namespace, Name: task.Spec.AgentRef}, agent); err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, r.terminateTask(ctx, task, "Failed", fmt.Sprintf("Agent '%s' not found", task.Spec.AgentRef))
		}
		return ctrl.Result{}, err
	}

	runName := task.Name + "-run-1"
	log.Info("creating first AgentRun", "run", runName)
	if err := r.createRun(ctx, task, agent.Name, agent.Spec.MaxSteps, agent.Spec.Timeout, runName); err != nil && !apierrors.IsAlreadyExists(err) {
		return ctrl.Result{}, fmt.Errorf("creating AgentRun %s: %w", runName, err)
	}

	now := metav1.Now()
	task.Status.Phase = "Running"
	task.Status.CurrentRun = runName
	task.Status.RetryCount = 0
	task.Status.StartTime = &now
	return ctrl.Result{}, r.Status().Update(ctx, task)
}

// reconcileRunning inspects the task's current AgentRun and either surfaces
// its terminal outcome or creates a retry.
func (r *AgentTaskReconciler) reconcileRunning(ctx context.Context, log logr.Logger, task *adkv1alpha1.AgentTask) (ctrl.Result, error) {
	run := &adkv1alpha1.AgentRun{}
	if err := r.Get(ctx, client.ObjectKey{Namespace: task.Namespace, Name: task.Status.CurrentRun}, run); err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}

	switch run.Status.Phase {
	case engine.PhaseCompleted:
		log.Info("run completed, finishing task", "run", run.Name)
		task.Status.Phase = "Completed"
		task.Status.Result = run.Status.Result
		now := metav1.Now()
		task.Status.CompletionTime = &now
		return ctrl.Result{}, r.Status().Update(ctx, task)

	case engine.PhaseFailed:
		if task.Status.RetryCount < task.Spec.MaxRetries {
			runName := fmt.Sprintf("%s-run-%d", task.Name, task.Status.RetryCount+2)
			log.Info("run failed, retrying", "run", runName, "retryCount", task.Status.RetryCount+1)
			// Copy maxSteps/timeout from the failed run's own spec rather than
			// re-reading the Agent, so a retry is unaffected by Agent edits
			// made after the run it is retrying was created.
			if err := r.createRun(ctx, task, run.Spec.AgentRef, run.Spec.MaxSteps, run.Spec.Timeout, runName); err != nil && !apierrors.IsAlreadyExists(err) {
				return ctrl.Result{}, fmt.Errorf("creating retry AgentRun %s: %w", runName, err)
			}
			task.Status.CurrentRun = runName
			task.Status.RetryCount++
			return ctrl.Result{}, r.Status().Update(ctx, task)
		}

		log.Info("run failed, retries exhausted", "run", run.Name)
		task.Status.Phase = "Failed"
		task.Status.Error = run.Status.Error
		now := metav1.Now()
		task.Status.CompletionTime = &now
		return ctrl.Result{}, r.Status().Update(ctx, task)

	default:
		// Planning/Executing are intermediate phases; nothing to do until
		// the run reaches a terminal phase triggers another reconcile via Owns.
		return ctrl.Result{}, nil
	}
}

// createRun builds and creates a child AgentRun, copying the task's goal,
// context, and the given maxSteps/timeout budget.
func (r *AgentTaskReconciler) createRun(ctx context.Context, task *adkv1alpha1.AgentTask, agentName string, maxSteps, timeout int32, name string) error {
	run := &adkv1alpha1.AgentRun{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: task.Namespace,
			Labels: map[string]string{
				"ai.adk.io/agent": agentName,
				"ai.adk.io/task":  task.Name,
			},
		},
		Spec: adkv1alpha1.AgentRunSpec{
			AgentRef: task.Spec.AgentRef,
			TaskRef:  task.Name,
			Goal:     task.Spec.Goal,
			Context:  task.Spec.Context,
			MaxSteps: maxSteps,
			Timeout:  timeout,
		},
	}
	if err := controllerutil.SetControllerReference(task, run, r.Scheme); err != nil {
		return fmt.Errorf("setting owner reference: %w", err)
	}
	return r.Create(ctx, run)
}

// terminateTask patches task directly to a terminal phase without creating
// any AgentRun, used for validation failures discovered before the first run
// is ever spawned.
func (r *AgentTaskReconciler) terminateTask(ctx context.Context, task *adkv1alpha1.AgentTask, phase, reason string) error {
	now := metav1.Now()
	task.Status.Phase = phase
	task.Status.Error = reason
	task.Status.StartTime = &now
	task.Status.CompletionTime = &now
	return r.Status().Update(ctx, task)
}

// SetupWithManager registers the controller.
func (r *AgentTaskReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&adkv1alpha1.AgentTask{}).
		Owns(&adkv1alpha1.AgentRun{}).
		Complete(r)
}
