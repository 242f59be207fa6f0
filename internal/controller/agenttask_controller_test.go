package controller

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	adkv1alpha1 "github.com/thamizhelango/adk-controller/api/v1alpha1"
	"github.com/thamizhelango/adk-controller/internal/engine"
)

func newTaskReconciler(t *testing.T, objs ...client.Object) *AgentTaskReconciler {
	t.Helper()
	scheme := newScheme(t)
	builder := fake.NewClientBuilder().WithScheme(scheme).
		WithStatusSubresource(&adkv1alpha1.AgentTask{}, &adkv1alpha1.AgentRun{}).
		WithObjects(objs...)
	return &AgentTaskReconciler{Client: builder.Build(), Scheme: scheme, Log: logr.Discard()}
}

func TestAgentTask_MissingAgentFailsImmediately(t *testing.T) {
	task := &adkv1alpha1.AgentTask{
		ObjectMeta: metav1.ObjectMeta{Name: "task-1", Namespace: "default"},
		Spec:       adkv1alpha1.AgentTaskSpec{AgentRef: "ghost", Goal: "do it", MaxRetries: 3},
	}
	r := newTaskReconciler(t, task)

	_, err := r.Reconcile(context.Background(), ctrl.Request{NamespacedName: namespacedName(task)})
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}

	got := &adkv1alpha1.AgentTask{}
	if err := r.Get(context.Background(), namespacedName(task), got); err != nil {
		t.Fatalf("fetching task: %v", err)
	}
	if got.Status.Phase != "Failed" {
		t.Fatalf("expected phase Failed, got %s", got.Status.Phase)
	}
	if got.Status.Error != "Agent 'ghost' not found" {
		t.Errorf("expected \"Agent 'ghost' not found\", got %q", got.Status.Error)
	}
}

func TestAgentTask_MissingRequiredFieldsFailsImmediately(t *testing.T) {
	task := &adkv1alpha1.AgentTask{
		ObjectMeta: metav1.ObjectMeta{Name: "task-2", Namespace: "default"},
		Spec:       adkv1alpha1.AgentTaskSpec{Goal: "do it"},
	}
	r := newTaskReconciler(t, task)

	_, err := r.Reconcile(context.Background(), ctrl.Request{NamespacedName: namespacedName(task)})
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}

	got := &adkv1alpha1.AgentTask{}
	if err := r.Get(context.Background(), namespacedName(task), got); err != nil {
		t.Fatalf("fetching task: %v", err)
	}
	if got.Status.Phase != "Failed" {
		t.Fatalf("expected phase Failed, got %s", got.Status.Phase)
	}
}

func TestAgentTask_CreatesFirstRunWithOwnerReference(t *testing.T) {
	agent := &adkv1alpha1.Agent{
		ObjectMeta: metav1.ObjectMeta{Name: "demo", Namespace: "default"},
		Spec:       adkv1alpha1.AgentSpec{Model: "demo-model", MaxSteps: 10, Timeout: 300},
	}
	task := &adkv1alpha1.AgentTask{
		ObjectMeta: metav1.ObjectMeta{Name: "task-3", Namespace: "default"},
		Spec:       adkv1alpha1.AgentTaskSpec{AgentRef: "demo", Goal: "do it", MaxRetries: 3},
	}
	r := newTaskReconciler(t, agent, task)

	_, err := r.Reconcile(context.Background(), ctrl.Request{NamespacedName: namespacedName(task)})
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}

	gotTask := &adkv1alpha1.AgentTask{}
	if err := r.Get(context.Background(), namespacedName(task), gotTask); err != nil {
		t.Fatalf("fetching task: %v", err)
	}
	if gotTask.Status.Phase != "Running" || gotTask.Status.CurrentRun != "task-3-run-1" {
		t.Fatalf("expected Running/task-3-run-1, got %s/%s", gotTask.Status.Phase, gotTask.Status.CurrentRun)
	}

	run := &adkv1alpha1.AgentRun{}
	if err := r.Get(context.Background(), namespacedName(&metav1.ObjectMeta{Name: "task-3-run-1", Namespace: "default"}), run); err != nil {
		t.Fatalf("fetching run: %v", err)
	}
	if len(run.OwnerReferences) != 1 || run.OwnerReferences[0].Name != "task-3" {
		t.Errorf("expected owner reference to task-3, got %+v", run.OwnerReferences)
	}
}

func TestAgentTask_RetryCopiesFailedRunSpecNotCurrentAgentDefaults(t *testing.T) {
	agent := &adkv1alpha1.Agent{
		ObjectMeta: metav1.ObjectMeta{Name: "demo", Namespace: "default"},
		Spec:       adkv1alpha1.AgentSpec{Model: "demo-model", MaxSteps: 10, Timeout: 300},
	}
	task := &adkv1alpha1.AgentTask{
		ObjectMeta: metav1.ObjectMeta{Name: "task-4", Namespace: "default"},
		Spec:       adkv1alpha1.AgentTaskSpec{AgentRef: "demo", Goal: "do it", MaxRetries: 3},
		Status: adkv1alpha1.AgentTaskStatus{
			Phase:      "Running",
			CurrentRun: "task-4-run-1",
			RetryCount: 0,
		},
	}
	failedRun := &adkv1alpha1.AgentRun{
		ObjectMeta: metav1.ObjectMeta{Name: "task-4-run-1", Namespace: "default"},
		Spec:       adkv1alpha1.AgentRunSpec{AgentRef: "demo", TaskRef: "task-4", Goal: "do it", MaxSteps: 5, Timeout: 120},
		Status:     adkv1alpha1.AgentRunStatus{Phase: engine.PhaseFailed, Error: "boom"},
	}
	r := newTaskReconciler(t, agent, task, failedRun)

	// The Agent's own defaults have since changed; the retry must still use
	// the failed run's spec values, not these.
	agent.Spec.MaxSteps = 99
	agent.Spec.Timeout = 999
	if err := r.Update(context.Background(), agent); err != nil {
		t.Fatalf("updating agent: %v", err)
	}

	_, err := r.Reconcile(context.Background(), ctrl.Request{NamespacedName: namespacedName(task)})
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}

	retry := &adkv1alpha1.AgentRun{}
	if err := r.Get(context.Background(), namespacedName(&metav1.ObjectMeta{Name: "task-4-run-2", Namespace: "default"}), retry); err != nil {
		t.Fatalf("fetching retry run: %v", err)
	}
	if retry.Spec.MaxSteps != 5 || retry.Spec.Timeout != 120 {
		t.Errorf("expected retry to copy failed run's spec (maxSteps=5, timeout=120), got maxSteps=%d timeout=%d",
			retry.Spec.MaxSteps, retry.Spec.Timeout)
	}
}
