package v1alpha1

import (
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// AgentRunSpec is one execution attempt of an AgentTask's goal.
type AgentRunSpec struct {
	// AgentRef is the name of the Agent driving this run.
	AgentRef string `json:"agentRef"`

	// TaskRef is the name of the owning AgentTask.
	TaskRef string `json:"taskRef"`

	// Goal is the objective copied from the owning AgentTask at creation time.
	Goal string `json:"goal"`

	// Context is the key/value mapping copied from the owning AgentTask.
	// +optional
	Context apiextensionsv1.JSON `json:"context,omitempty"`

	// MaxSteps bounds the number of planning iterations.
	// +kubebuilder:validation:Minimum=1
	// +kubebuilder:default=10
	// +optional
	MaxSteps int32 `json:"maxSteps,omitempty"`

	// Timeout is the wall-clock budget for this run, in seconds.
	// +kubebuilder:validation:Minimum=1
	// +kubebuilder:default=300
	// +optional
	Timeout int32 `json:"timeout,omitempty"`
}

// HistoryEntry is one append-only record in an AgentRun's history. Step
// records are never rewritten once stored.
type HistoryEntry struct {
	// Step is the 1-based step number this entry belongs to.
	Step int32 `json:"step"`

	// Type is one of plan, tool_result, error.
	Type string `json:"type"`

	// Data is the type-discriminated payload for this entry.
	Data apiextensionsv1.JSON `json:"data"`

	// Timestamp is when this entry was appended, in ISO-8601 UTC.
	Timestamp metav1.Time `json:"timestamp"`
}

// ResourcesUsed tracks monotonic consumption counters for one run.
type ResourcesUsed struct {
	// LLMTokens is the cumulative token usage reported by the planner.
	// +optional
	LLMTokens int64 `json:"llmTokens,omitempty"`

	// ToolExecutions counts completed sandbox invocations.
	// +optional
	ToolExecutions int32 `json:"toolExecutions,omitempty"`

	// WallTimeSeconds is the elapsed time since the run's startTime.
	// +optional
	WallTimeSeconds int64 `json:"wallTimeSeconds,omitempty"`
}

// AgentRunStatus is the observed state of an AgentRun's state machine.
type AgentRunStatus struct {
	// Phase is one of Planning, Executing, Completed, Failed.
	// +optional
	Phase string `json:"phase,omitempty"`

	// CurrentStep is the number of planning iterations taken so far.
	// +optional
	CurrentStep int32 `json:"currentStep,omitempty"`

	// History is the ordered, append-only record of this run's steps.
	// +optional
	History []HistoryEntry `json:"history,omitempty"`

	// Result carries the final answer, once Completed.
	// +optional
	Result *apiextensionsv1.JSON `json:"result,omitempty"`

	// Error carries the terminal failure reason, once Failed.
	// +optional
	Error string `json:"error,omitempty"`

	// StartTime is when the engine began driving this run.
	// +optional
	StartTime *metav1.Time `json:"startTime,omitempty"`

	// CompletionTime is when the run reached a terminal phase.
	// +optional
	CompletionTime *metav1.Time `json:"completionTime,omitempty"`

	// ResourcesUsed tracks token, tool-execution, and wall-time consumption.
	// +optional
	ResourcesUsed ResourcesUsed `json:"resourcesUsed,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Agent",type="string",JSONPath=".spec.agentRef"
// +kubebuilder:printcolumn:name="Task",type="string",JSONPath=".spec.taskRef"
// +kubebuilder:printcolumn:name="Phase",type="string",JSONPath=".status.phase"
// +kubebuilder:printcolumn:name="Step",type="integer",JSONPath=".status.currentStep"
// +kubebuilder:printcolumn:name="Age",type="date",JSONPath=".metadata.creationTimestamp"

// AgentRun is the Schema for the agentruns API.
type AgentRun struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   AgentRunSpec   `json:"spec,omitempty"`
	Status AgentRunStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// AgentRunList contains a list of AgentRun.
type AgentRunList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []AgentRun `json:"items"`
}

func init() {
	SchemeBuilder.Register(&AgentRun{}, &AgentRunList{})
}
