package constants

import "time"

// Annotation keys
const (
	ResetAnnotation   = "eksup.younsl.dev/reset"
	SuspendAnnotation = "eksup.younsl.dev/suspend"
)

// Finalizer added to every ClusterUpgrade so metrics are cleaned up on deletion.
const ClusterUpgradeFinalizer = "eksup.younsl.dev/finalizer"

// Default per-step waiter timeouts. EKS control plane updates usually land
// within 25 minutes; node group rolling updates scale with group size.
const (
	DefaultControlPlaneTimeout = 40 * time.Minute
	DefaultAddonTimeout        = 20 * time.Minute
	DefaultNodeGroupTimeout    = 60 * time.Minute

	DefaultPollInterval = 30 * time.Second
)

// Requeue intervals used by the reconciler. Terminal phases do not requeue
// at all; the next reconcile comes from an external change.
const (
	// RequeueNow chains straight into the next phase on the next tick.
	RequeueNow = time.Millisecond

	RequeueTransient = 30 * time.Second
	RequeueAuth      = 60 * time.Second
	RequeueSuspended = 30 * time.Minute
)

// MinFreeSubnetIPs is the number of free IP addresses EKS requires in each
// cluster subnet before a control plane update is accepted.
const MinFreeSubnetIPs = 5
