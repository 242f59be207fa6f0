package controller

import (
	"context"

	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	adkv1alpha1 "github.com/thamizhelango/adk-controller/api/v1alpha1"
)

// AgentReconciler keeps an Agent's status.phase at Active once observed.
// Agents are a behavioral template, not a workload: there is nothing else
// for this controller to drive — AgentRun reconciliation owns the aggregate
// run counters directly so there is only ever one writer of Agent status.
type AgentReconciler struct {
	client.Client
	Scheme *runtime.Scheme
	Log    logr.Logger
}

// +kubebuilder:rbac:groups=ai.adk.io,resources=agents,verbs=get;list;watch;update;patch
// +kubebuilder:rbac:groups=ai.adk.io,resources=agents/status,verbs=get;update;patch

// Reconcile handles Agent create/update events.
func (r *AgentReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	agent := &adkv1alpha1.Agent{}
	if err := r.Get(ctx, req.NamespacedName, agent); err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}

	if agent.Status.Phase == "Active" {
		return ctrl.Result{}, nil
	}

	agent.Status.Phase = "Active"
	if err := r.Status().Update(ctx, agent); err != nil {
		return ctrl.Result{}, err
	}
	return ctrl.Result{}, nil
}

// SetupWithManager registers the controller.
func (r *AgentReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&adkv1alpha1.Agent{}).
		Complete(r)
}
