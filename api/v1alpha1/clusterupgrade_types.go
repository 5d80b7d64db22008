package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ClusterUpgradeSpec defines the desired state of ClusterUpgrade
type ClusterUpgradeSpec struct {
	// ClusterName is the name of the EKS cluster to upgrade
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	// +kubebuilder:validation:MaxLength=100
	ClusterName string `json:"clusterName"`

	// Region is the AWS region hosting the cluster (e.g., "ap-northeast-2")
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:Pattern=`^[a-z]{2}(-[a-z]+)+-[0-9]$`
	Region string `json:"region"`

	// RoleARN is an optional IAM role to assume for cross-account upgrades
	// +kubebuilder:validation:Pattern=`^arn:aws[a-zA-Z-]*:iam::[0-9]{12}:role/.+$`
	// +optional
	RoleARN string `json:"roleARN,omitempty"`

	// TargetVersion is the Kubernetes minor version to upgrade to (e.g., "1.34").
	// The control plane is stepped through every intermediate minor version.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:Pattern=`^[0-9]+\.[0-9]+$`
	TargetVersion string `json:"targetVersion"`

	// Addons pins specific managed add-ons to explicit versions. Add-ons not
	// listed here are upgraded to the default version for the target cluster
	// version as reported by EKS.
	// +optional
	Addons []AddonOverride `json:"addons,omitempty"`

	// NodeGroups restricts the node group phase to the named managed node
	// groups. Empty means every node group of the cluster.
	// +optional
	NodeGroups []string `json:"nodeGroups,omitempty"`

	// DryRun plans and preflights the upgrade without mutating anything
	// +optional
	DryRun bool `json:"dryRun,omitempty"`

	// Notify configures lifecycle webhook notifications
	// +optional
	Notify *NotifySpec `json:"notify,omitempty"`

	// Timeouts overrides the per-step wait limits
	// +optional
	Timeouts *TimeoutSpec `json:"timeouts,omitempty"`

	// Preflight configures the readiness gates evaluated before any mutation
	// +optional
	Preflight *PreflightSpec `json:"preflight,omitempty"`

	// Maintenance restricts when a new upgrade may start. An upgrade already
	// past Pending is never interrupted by a closing window.
	// +optional
	Maintenance *MaintenanceSpec `json:"maintenance,omitempty"`
}

// ClusterUpgradeStatus defines the observed state of ClusterUpgrade
type ClusterUpgradeStatus struct {
	// Phase is the current stage of the upgrade sequence
	// +kubebuilder:validation:Enum=Pending;Planning;PreflightChecking;UpgradingControlPlane;UpgradingAddons;UpgradingNodeGroups;Completed;Failed
	// +optional
	Phase UpgradePhase `json:"phase,omitempty"`

	// ObservedGeneration reflects the generation of the most recently observed spec
	// +optional
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`

	// LastUpdated timestamp of last status update
	// +optional
	LastUpdated metav1.Time `json:"lastUpdated,omitempty"`

	// CurrentVersion is the control plane version detected at planning time
	// +optional
	CurrentVersion string `json:"currentVersion,omitempty"`

	// StartedAt is when the upgrade left Pending
	// +optional
	StartedAt *metav1.Time `json:"startedAt,omitempty"`

	// CompletedAt is when the upgrade reached a terminal phase
	// +optional
	CompletedAt *metav1.Time `json:"completedAt,omitempty"`

	// Message provides details about the current state
	// +optional
	Message string `json:"message,omitempty"`

	// Identity is the verified AWS caller identity, cached once per generation
	// +optional
	Identity *AWSIdentity `json:"identity,omitempty"`

	// UpgradePath is the ordered list of minor versions the control plane
	// steps through, computed during Planning
	// +optional
	UpgradePath []string `json:"upgradePath,omitempty"`

	// ControlPlane tracks the in-flight control plane step
	// +optional
	ControlPlane *ControlPlaneStatus `json:"controlPlane,omitempty"`

	// Addons tracks the in-flight add-on upgrade
	// +optional
	Addons *AddonsStatus `json:"addons,omitempty"`

	// NodeGroups tracks the in-flight node group upgrade
	// +optional
	NodeGroups *NodeGroupsStatus `json:"nodeGroups,omitempty"`

	// Conditions describe the request for external observers
	// +optional
	// +listType=map
	// +listMapKey=type
	Conditions []metav1.Condition `json:"conditions,omitempty"`

	// Notified lists the lifecycle events already dispatched, so restarts
	// never duplicate a notification
	// +optional
	Notified []LifecycleEvent `json:"notified,omitempty"`

	// NextMaintenanceWindow reflects the next time an upgrade can start
	// +optional
	NextMaintenanceWindow *metav1.Time `json:"nextMaintenanceWindow,omitempty"`
}

// AWSIdentity is the result of an STS GetCallerIdentity verification
type AWSIdentity struct {
	// Account is the AWS account ID
	// +optional
	Account string `json:"account,omitempty"`

	// ARN is the caller ARN
	// +optional
	ARN string `json:"arn,omitempty"`

	// UserID is the caller's unique ID
	// +optional
	UserID string `json:"userID,omitempty"`

	// Generation is the spec generation this identity was verified for
	// +optional
	Generation int64 `json:"generation,omitempty"`
}

// ControlPlaneStatus tracks control plane version stepping
type ControlPlaneStatus struct {
	// StepVersion is the minor version currently being applied
	// +optional
	StepVersion string `json:"stepVersion,omitempty"`

	// UpdateID is the EKS update handle being polled. Non-empty means a
	// mutation is outstanding and must be resumed, never re-initiated.
	// +optional
	UpdateID string `json:"updateID,omitempty"`

	// StepStartedAt is when the current step's update was initiated
	// +optional
	StepStartedAt *metav1.Time `json:"stepStartedAt,omitempty"`

	// CompletedSteps lists the minor versions already applied
	// +optional
	CompletedSteps []string `json:"completedSteps,omitempty"`
}

// AddonsStatus tracks managed add-on upgrades, one add-on at a time
type AddonsStatus struct {
	// Name is the add-on currently being upgraded
	// +optional
	Name string `json:"name,omitempty"`

	// Version is the version being applied to the current add-on
	// +optional
	Version string `json:"version,omitempty"`

	// UpdateID is the EKS update handle being polled
	// +optional
	UpdateID string `json:"updateID,omitempty"`

	// StepStartedAt is when the current add-on update was initiated
	// +optional
	StepStartedAt *metav1.Time `json:"stepStartedAt,omitempty"`

	// Completed lists add-ons already upgraded (or skipped as up to date)
	// +optional
	Completed []string `json:"completed,omitempty"`
}

// NodeGroupsStatus tracks managed node group rolling updates
type NodeGroupsStatus struct {
	// Name is the node group currently being upgraded
	// +optional
	Name string `json:"name,omitempty"`

	// UpdateID is the EKS update handle being polled
	// +optional
	UpdateID string `json:"updateID,omitempty"`

	// StepStartedAt is when the current node group update was initiated
	// +optional
	StepStartedAt *metav1.Time `json:"stepStartedAt,omitempty"`

	// ReadyNodes is the healthy instance count of the backing scaling group,
	// reported for display only
	// +optional
	ReadyNodes int32 `json:"readyNodes,omitempty"`

	// DesiredNodes is the desired instance count of the backing scaling group
	// +optional
	DesiredNodes int32 `json:"desiredNodes,omitempty"`

	// Completed lists node groups already upgraded
	// +optional
	Completed []string `json:"completed,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:scope=Cluster
// +kubebuilder:printcolumn:name="Phase",type="string",JSONPath=".status.phase"
// +kubebuilder:printcolumn:name="Cluster",type="string",JSONPath=".spec.clusterName"
// +kubebuilder:printcolumn:name="Current",type="string",JSONPath=".status.currentVersion"
// +kubebuilder:printcolumn:name="Target",type="string",JSONPath=".spec.targetVersion"
// +kubebuilder:printcolumn:name="Started",type="date",JSONPath=".status.startedAt",priority=1
// +kubebuilder:printcolumn:name="Age",type="date",JSONPath=".metadata.creationTimestamp"

// ClusterUpgrade is the Schema for the clusterupgrades API
type ClusterUpgrade struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   ClusterUpgradeSpec   `json:"spec,omitempty"`
	Status ClusterUpgradeStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// ClusterUpgradeList contains a list of ClusterUpgrade
type ClusterUpgradeList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []ClusterUpgrade `json:"items"`
}

func init() {
	SchemeBuilder.Register(&ClusterUpgrade{}, &ClusterUpgradeList{})
}
