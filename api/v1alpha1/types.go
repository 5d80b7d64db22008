package v1alpha1

// UpgradePhase represents the current stage of a cluster upgrade
// +kubebuilder:validation:Enum=Pending;Planning;PreflightChecking;UpgradingControlPlane;UpgradingAddons;UpgradingNodeGroups;Completed;Failed
type UpgradePhase string

const (
	PhasePending               UpgradePhase = "Pending"
	PhasePlanning              UpgradePhase = "Planning"
	PhasePreflightChecking     UpgradePhase = "PreflightChecking"
	PhaseUpgradingControlPlane UpgradePhase = "UpgradingControlPlane"
	PhaseUpgradingAddons       UpgradePhase = "UpgradingAddons"
	PhaseUpgradingNodeGroups   UpgradePhase = "UpgradingNodeGroups"
	PhaseCompleted             UpgradePhase = "Completed"
	PhaseFailed                UpgradePhase = "Failed"
)

// Phases lists every phase in sequence order, for metrics and display.
var Phases = []UpgradePhase{
	PhasePending,
	PhasePlanning,
	PhasePreflightChecking,
	PhaseUpgradingControlPlane,
	PhaseUpgradingAddons,
	PhaseUpgradingNodeGroups,
	PhaseCompleted,
	PhaseFailed,
}

// IsTerminal returns true once the upgrade can make no further progress
func (p UpgradePhase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// IsActive returns true while the upgrade is past Pending and not terminal
func (p UpgradePhase) IsActive() bool {
	return p != "" && p != PhasePending && !p.IsTerminal()
}

// IsMutating returns true for phases that issue cloud mutations
func (p UpgradePhase) IsMutating() bool {
	switch p {
	case PhaseUpgradingControlPlane, PhaseUpgradingAddons, PhaseUpgradingNodeGroups:
		return true
	}
	return false
}

// Condition types recorded on ClusterUpgrade status.
const (
	ConditionAWSAuthenticated = "AWSAuthenticated"
	ConditionReady            = "Ready"
)

// Condition reasons.
const (
	ReasonVerified       = "IdentityVerified"
	ReasonAuthFailed     = "AuthenticationFailed"
	ReasonTransientError = "TransientError"
	ReasonReconciling    = "Reconciling"
	ReasonCompleted      = "UpgradeCompleted"
	ReasonFailed         = "UpgradeFailed"
)
