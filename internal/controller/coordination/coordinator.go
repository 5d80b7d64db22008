package coordination

import (
	"context"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/younsl/eksup/api/v1alpha1"
)

// IsAnotherUpgradeActive reports whether a different ClusterUpgrade for the
// same EKS cluster blocks this one, and if so why.
// Rules:
//  1. Block while any other upgrade of the cluster is active; EKS rejects
//     concurrent updates anyway, this keeps the queue orderly.
//  2. Among Pending upgrades of the cluster, the oldest proceeds first
//     (creation time, then name).
func IsAnotherUpgradeActive(ctx context.Context, c client.Client, current *v1alpha1.ClusterUpgrade) (bool, string, error) {
	upgrades := &v1alpha1.ClusterUpgradeList{}
	if err := c.List(ctx, upgrades); err != nil {
		return false, "", fmt.Errorf("failed to list ClusterUpgrade resources: %w", err)
	}

	currentQueued := !current.Status.Phase.IsActive()

	for i := range upgrades.Items {
		other := &upgrades.Items[i]
		if other.Name == current.Name || !sameCluster(other, current) {
			continue
		}

		if other.Status.Phase.IsActive() {
			return true, fmt.Sprintf("Waiting for ClusterUpgrade '%s' on cluster '%s' to complete", other.Name, current.Spec.ClusterName), nil
		}

		if currentQueued && !other.Status.Phase.IsTerminal() && precedes(other, current) {
			return true, fmt.Sprintf("Waiting for older ClusterUpgrade '%s' on cluster '%s'", other.Name, current.Spec.ClusterName), nil
		}
	}

	return false, "", nil
}

func sameCluster(a, b *v1alpha1.ClusterUpgrade) bool {
	return a.Spec.ClusterName == b.Spec.ClusterName && a.Spec.Region == b.Spec.Region
}

// precedes orders queued upgrades by age then name, so two Pending requests
// never deadlock waiting on each other.
func precedes(a, b *v1alpha1.ClusterUpgrade) bool {
	if !a.CreationTimestamp.Equal(&b.CreationTimestamp) {
		return a.CreationTimestamp.Before(&b.CreationTimestamp)
	}
	return a.Name < b.Name
}
