package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// AddonOverride pins a managed add-on to an explicit version
type AddonOverride struct {
	// Name is the EKS add-on name (e.g., "coredns", "vpc-cni")
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	Name string `json:"name"`

	// Version is the add-on version to apply (e.g., "v1.11.3-eksbuild.1")
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	Version string `json:"version"`
}

// NotifySpec configures lifecycle webhook notifications
type NotifySpec struct {
	// WebhookURL receives a JSON payload per lifecycle event
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:Pattern=`^https?://.+$`
	WebhookURL string `json:"webhookURL"`

	// Events selects which lifecycle events to send. Empty means all.
	// +optional
	Events []LifecycleEvent `json:"events,omitempty"`
}

// LifecycleEvent names an upgrade lifecycle notification
// +kubebuilder:validation:Enum=Started;Completed;Failed
type LifecycleEvent string

const (
	EventStarted   LifecycleEvent = "Started"
	EventCompleted LifecycleEvent = "Completed"
	EventFailed    LifecycleEvent = "Failed"
)

// TimeoutSpec overrides the per-step wait limits
type TimeoutSpec struct {
	// ControlPlane bounds each control plane version step (default 40m)
	// +kubebuilder:validation:Type=string
	// +kubebuilder:validation:Pattern=`^([0-9]+[smh])+$`
	// +optional
	ControlPlane *metav1.Duration `json:"controlPlane,omitempty"`

	// Addon bounds each add-on update (default 20m)
	// +kubebuilder:validation:Type=string
	// +kubebuilder:validation:Pattern=`^([0-9]+[smh])+$`
	// +optional
	Addon *metav1.Duration `json:"addon,omitempty"`

	// NodeGroup bounds each node group rolling update (default 60m)
	// +kubebuilder:validation:Type=string
	// +kubebuilder:validation:Pattern=`^([0-9]+[smh])+$`
	// +optional
	NodeGroup *metav1.Duration `json:"nodeGroup,omitempty"`
}

// PreflightSpec configures the readiness gates run before any mutation
type PreflightSpec struct {
	// Force proceeds past preflight blockers. Warnings are always non-blocking.
	// +optional
	Force bool `json:"force,omitempty"`

	// SkipInsights disables the EKS upgrade-insights scan
	// +optional
	SkipInsights bool `json:"skipInsights,omitempty"`

	// Checks are CEL expressions evaluated against cluster objects
	// +optional
	Checks []CheckSpec `json:"checks,omitempty"`
}

// CheckSpec defines a CEL-based readiness check
type CheckSpec struct {
	// APIVersion of the resource to check
	// +kubebuilder:validation:Required
	APIVersion string `json:"apiVersion"`

	// Kind of the resource to check
	// +kubebuilder:validation:Required
	Kind string `json:"kind"`

	// Name of the specific resource (optional, if empty checks all resources of this kind)
	// +optional
	Name string `json:"name,omitempty"`

	// Namespace of the resource (optional, for namespaced resources)
	// +optional
	Namespace string `json:"namespace,omitempty"`

	// CEL expression that must evaluate to true for the check to pass.
	// The resource object is available as 'object' and status as 'status'.
	// +kubebuilder:validation:Required
	Expr string `json:"expr"`

	// Timeout for this check
	// +kubebuilder:validation:Type=string
	// +kubebuilder:validation:Pattern=`^([0-9]+[smh])+$`
	// +kubebuilder:validation:MinLength=2
	// +optional
	Timeout *metav1.Duration `json:"timeout,omitempty"`

	// Description of what this check validates (for status/logging)
	// +optional
	Description string `json:"description,omitempty"`
}

type MaintenanceSpec struct {
	// +optional
	// +kubebuilder:validation:MinItems=1
	Windows []WindowSpec `json:"windows,omitempty"`
}

type WindowSpec struct {
	// Cron expression (5-field): minute hour day-of-month month day-of-week
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=9
	Start string `json:"start"`

	// How long the window stays open (e.g., "4h", "2h30m")
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:Type=string
	// +kubebuilder:validation:Pattern=`^([0-9]+[smh])+$`
	Duration metav1.Duration `json:"duration"`

	// IANA timezone (e.g., "UTC", "Asia/Seoul")
	// +kubebuilder:default="UTC"
	// +optional
	Timezone string `json:"timezone,omitempty"`
}
