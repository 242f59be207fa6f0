package controller

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	adkv1alpha1 "github.com/thamizhelango/adk-controller/api/v1alpha1"
	"github.com/thamizhelango/adk-controller/internal/config"
	"github.com/thamizhelango/adk-controller/internal/engine"
	"github.com/thamizhelango/adk-controller/internal/registry"
	"github.com/thamizhelango/adk-controller/internal/sandbox"
)

func newScheme(t *testing.T) *runtime.Scheme {
	t.Helper()
	scheme := runtime.NewScheme()
	if err := adkv1alpha1.AddToScheme(scheme); err != nil {
		t.Fatalf("adding scheme: %v", err)
	}
	return scheme
}

func newReconciler(t *testing.T, objs ...client.Object) *AgentRunReconciler {
	t.Helper()
	scheme := newScheme(t)
	builder := fake.NewClientBuilder().
		WithScheme(scheme).
		WithStatusSubresource(&adkv1alpha1.AgentRun{}, &adkv1alpha1.Agent{}).
		WithObjects(objs...)

	reg := registry.New()
	if err := registry.SeedBuiltins(reg); err != nil {
		t.Fatalf("seeding builtins: %v", err)
	}
	return &AgentRunReconciler{
		Client:   builder.Build(),
		Scheme:   scheme,
		Log:      logr.Discard(),
		Config:   config.Config{VLLMEndpoint: "http://vllm-service:8000/v1"},
		Registry: reg,
		Sandbox:  sandbox.New(config.Config{}, reg, nil, nil, logr.Discard()),
	}
}

func namespacedName(obj metav1.Object) types.NamespacedName {
	return types.NamespacedName{Namespace: obj.GetNamespace(), Name: obj.GetName()}
}

func TestReconcile_MissingAgentFailsRunImmediately(t *testing.T) {
	run := &adkv1alpha1.AgentRun{
		ObjectMeta: metav1.ObjectMeta{Name: "run-1", Namespace: "default"},
		Spec:       adkv1alpha1.AgentRunSpec{AgentRef: "ghost", Goal: "do a thing", MaxSteps: 5, Timeout: 60},
	}
	r := newReconciler(t, run)

	_, err := r.Reconcile(context.Background(), ctrl.Request{NamespacedName: namespacedName(run)})
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}

	got := &adkv1alpha1.AgentRun{}
	if err := r.Get(context.Background(), namespacedName(run), got); err != nil {
		t.Fatalf("fetching run: %v", err)
	}
	if got.Status.Phase != engine.PhaseFailed {
		t.Fatalf("expected phase Failed, got %s", got.Status.Phase)
	}
	if got.Status.Error != "Agent 'ghost' not found" {
		t.Errorf("expected \"Agent 'ghost' not found\", got %q", got.Status.Error)
	}
}

func TestReconcile_InitSeedsPlanningPhase(t *testing.T) {
	agent := &adkv1alpha1.Agent{
		ObjectMeta: metav1.ObjectMeta{Name: "demo", Namespace: "default"},
		Spec:       adkv1alpha1.AgentSpec{Model: "demo-model", SystemPrompt: "You help.", MaxSteps: 10, Timeout: 300},
	}
	run := &adkv1alpha1.AgentRun{
		ObjectMeta: metav1.ObjectMeta{Name: "run-1", Namespace: "default"},
		Spec:       adkv1alpha1.AgentRunSpec{AgentRef: "demo", Goal: "do a thing", MaxSteps: 10, Timeout: 300},
	}
	r := newReconciler(t, agent, run)

	res, err := r.Reconcile(context.Background(), ctrl.Request{NamespacedName: namespacedName(run)})
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if !res.Requeue {
		t.Errorf("expected requeue after init, got %+v", res)
	}

	got := &adkv1alpha1.AgentRun{}
	if err := r.Get(context.Background(), namespacedName(run), got); err != nil {
		t.Fatalf("fetching run: %v", err)
	}
	if got.Status.Phase != engine.PhasePlanning {
		t.Fatalf("expected phase Planning, got %s", got.Status.Phase)
	}
	if got.Status.StartTime == nil {
		t.Error("expected startTime to be set")
	}
}
