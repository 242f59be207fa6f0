package v1alpha1

import (
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// AgentTaskSpec is a user request to accomplish a goal using a named Agent.
type AgentTaskSpec struct {
	// AgentRef is the name of the Agent, in the same namespace, to execute this task.
	AgentRef string `json:"agentRef"`

	// Goal is the natural-language objective handed to the planner.
	Goal string `json:"goal"`

	// Context is an arbitrary key/value mapping made available to the
	// planner as a labeled JSON block ahead of the goal message.
	// +optional
	Context apiextensionsv1.JSON `json:"context,omitempty"`

	// MaxRetries bounds how many replacement AgentRuns are created after a
	// failed attempt.
	// +kubebuilder:validation:Minimum=0
	// +kubebuilder:default=3
	// +optional
	MaxRetries int32 `json:"maxRetries,omitempty"`
}

// AgentTaskStatus is the observed state of an AgentTask.
type AgentTaskStatus struct {
	// Phase is one of Running, Completed, Failed.
	// +optional
	Phase string `json:"phase,omitempty"`

	// CurrentRun names the AgentRun currently pursuing this task's goal.
	// +optional
	CurrentRun string `json:"currentRun,omitempty"`

	// RetryCount is the number of replacement runs created after the first attempt failed.
	// +optional
	RetryCount int32 `json:"retryCount,omitempty"`

	// Result carries the completed run's result, once Completed.
	// +optional
	Result *apiextensionsv1.JSON `json:"result,omitempty"`

	// Error carries the failing run's error, once Failed.
	// +optional
	Error string `json:"error,omitempty"`

	// StartTime is when the task was created and its first run issued.
	// +optional
	StartTime *metav1.Time `json:"startTime,omitempty"`

	// CompletionTime is when the task reached a terminal phase.
	// +optional
	CompletionTime *metav1.Time `json:"completionTime,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Agent",type="string",JSONPath=".spec.agentRef"
// +kubebuilder:printcolumn:name="Phase",type="string",JSONPath=".status.phase"
// +kubebuilder:printcolumn:name="Current Run",type="string",JSONPath=".status.currentRun"
// +kubebuilder:printcolumn:name="Retries",type="integer",JSONPath=".status.retryCount"
// +kubebuilder:printcolumn:name="Age",type="date",JSONPath=".metadata.creationTimestamp"

// AgentTask is the Schema for the agenttasks API.
type AgentTask struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   AgentTaskSpec   `json:"spec,omitempty"`
	Status AgentTaskStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// AgentTaskList contains a list of AgentTask.
type AgentTaskList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []AgentTask `json:"items"`
}

func init() {
	SchemeBuilder.Register(&AgentTask{}, &AgentTaskList{})
}
