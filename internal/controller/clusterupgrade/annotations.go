package clusterupgrade

import (
	"context"
	"fmt"
	"maps"

	"sigs.k8s.io/controller-runtime/pkg/log"

	eksupv1alpha1 "github.com/younsl/eksup/api/v1alpha1"
	"github.com/younsl/eksup/internal/constants"
)

func (r *Reconciler) handleSuspendAnnotation(ctx context.Context, upgrade *eksupv1alpha1.ClusterUpgrade) (bool, error) {
	if upgrade.Annotations == nil {
		return false, nil
	}

	suspendValue, isSuspended := upgrade.Annotations[constants.SuspendAnnotation]
	if !isSuspended {
		return false, nil
	}

	logger := log.FromContext(ctx)
	logger.Info("Suspend annotation found, controller is suspended",
		"suspendValue", suspendValue,
		"clusterupgrade", upgrade.Name)

	message := fmt.Sprintf("Controller suspended via annotation (value: %s) - remove annotation to resume", suspendValue)
	if upgrade.Status.Message != message {
		if err := r.updateStatus(ctx, upgrade, map[string]any{
			"phase":   eksupv1alpha1.PhasePending,
			"message": message,
		}); err != nil {
			logger.Error(err, "Failed to update phase for suspension")
			return true, err
		}
	}

	return true, nil
}

func (r *Reconciler) handleResetAnnotation(ctx context.Context, upgrade *eksupv1alpha1.ClusterUpgrade) (bool, error) {
	if upgrade.Annotations == nil {
		return false, nil
	}

	resetValue, hasReset := upgrade.Annotations[constants.ResetAnnotation]
	if !hasReset {
		return false, nil
	}

	logger := log.FromContext(ctx)
	logger.Info("Reset annotation found, clearing upgrade state", "resetValue", resetValue)

	newAnnotations := maps.Clone(upgrade.Annotations)
	maps.DeleteFunc(newAnnotations, func(k, v string) bool {
		return k == constants.ResetAnnotation
	})

	upgrade.Annotations = newAnnotations
	if err := r.Update(ctx, upgrade); err != nil {
		logger.Error(err, "Failed to remove reset annotation")
		return false, err
	}

	if err := r.updateStatus(ctx, upgrade, resetStatusUpdates("Reset requested via annotation")); err != nil {
		logger.Error(err, "Failed to reset status after annotation")
		return false, err
	}

	return true, nil
}

func (r *Reconciler) handleGenerationChange(ctx context.Context, upgrade *eksupv1alpha1.ClusterUpgrade) (bool, error) {
	if upgrade.Status.Phase == "" || upgrade.Status.ObservedGeneration >= upgrade.Generation {
		return false, nil
	}

	logger := log.FromContext(ctx)
	logger.Info("Spec changed, restarting upgrade from a fresh plan",
		"generation", upgrade.Generation,
		"observed", upgrade.Status.ObservedGeneration)

	return true, r.updateStatus(ctx, upgrade, resetStatusUpdates("Spec updated, restarting upgrade process"))
}

// resetStatusUpdates clears everything a previous run accumulated. Explicit
// nulls are required so the merge patch removes the keys.
func resetStatusUpdates(message string) map[string]any {
	return map[string]any{
		"phase":          eksupv1alpha1.PhasePending,
		"message":        message,
		"currentVersion": nil,
		"startedAt":      nil,
		"completedAt":    nil,
		"identity":       nil,
		"upgradePath":    nil,
		"controlPlane":   nil,
		"addons":         nil,
		"nodeGroups":     nil,
		"notified":       nil,
		"conditions":     nil,
	}
}
