package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// AgentSpec defines the behavioral template for an Agent: which model it
// talks to, what it is told to do, and which tools it may reach for.
type AgentSpec struct {
	// Model is the LLM identifier sent to the planner's chat-completions call.
	Model string `json:"model"`

	// SystemPrompt seeds every planner call for runs of this Agent.
	SystemPrompt string `json:"systemPrompt"`

	// Tools restricts the tool catalog exposed to the planner. An empty set
	// means every registered tool is offered.
	// +optional
	Tools []string `json:"tools,omitempty"`

	// MaxSteps is the default step budget for runs of this Agent.
	// +kubebuilder:validation:Minimum=1
	// +kubebuilder:default=10
	// +optional
	MaxSteps int32 `json:"maxSteps,omitempty"`

	// Timeout is the default wall-clock budget, in seconds, for runs of this Agent.
	// +kubebuilder:validation:Minimum=1
	// +kubebuilder:default=300
	// +optional
	Timeout int32 `json:"timeout,omitempty"`
}

// AgentStatus holds aggregate counters updated by every terminal AgentRun.
type AgentStatus struct {
	// Phase is Active once the Agent has been observed by the controller.
	// +optional
	Phase string `json:"phase,omitempty"`

	// TotalRuns counts every AgentRun that has reached a terminal phase.
	// +optional
	TotalRuns int64 `json:"totalRuns,omitempty"`

	// SuccessfulRuns counts terminal runs that reached Completed.
	// +optional
	SuccessfulRuns int64 `json:"successfulRuns,omitempty"`

	// FailedRuns counts terminal runs that reached Failed.
	// +optional
	FailedRuns int64 `json:"failedRuns,omitempty"`

	// LastRunTime is when the most recent run reached a terminal phase.
	// +optional
	LastRunTime *metav1.Time `json:"lastRunTime,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Model",type="string",JSONPath=".spec.model"
// +kubebuilder:printcolumn:name="Phase",type="string",JSONPath=".status.phase"
// +kubebuilder:printcolumn:name="Total Runs",type="integer",JSONPath=".status.totalRuns"
// +kubebuilder:printcolumn:name="Age",type="date",JSONPath=".metadata.creationTimestamp"

// Agent is the Schema for the agents API. It is a behavioral template:
// AgentTasks reference an Agent by name to describe how their goal should
// be pursued.
type Agent struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   AgentSpec   `json:"spec,omitempty"`
	Status AgentStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// AgentList contains a list of Agent.
type AgentList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Agent `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Agent{}, &AgentList{})
}
