// Package webhook validates ClusterUpgrade resources at admission time, so
// malformed or conflicting upgrade requests never reach the reconciler.
package webhook

import (
	"context"
	"fmt"
	"reflect"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"

	eksupv1alpha1 "github.com/younsl/eksup/api/v1alpha1"
	"github.com/younsl/eksup/internal/constants"
	"github.com/younsl/eksup/internal/controller/maintenance"
	"github.com/younsl/eksup/internal/preflight"
	"github.com/younsl/eksup/internal/version"
)

// log is for logging in this package.
var clusterupgradelog = logf.Log.WithName("clusterupgrade-resource")

// ClusterUpgradeValidator validates ClusterUpgrade resources
type ClusterUpgradeValidator struct {
	Client client.Client
}

// +kubebuilder:webhook:path=/validate-eksup-younsl-dev-v1alpha1-clusterupgrade,mutating=false,failurePolicy=fail,sideEffects=None,groups=eksup.younsl.dev,resources=clusterupgrades,verbs=create;update,versions=v1alpha1,name=vclusterupgrade.kb.io,admissionReviewVersions=v1
// +kubebuilder:rbac:groups=eksup.younsl.dev,resources=clusterupgrades,verbs=get;list;watch

var _ admission.Validator[*eksupv1alpha1.ClusterUpgrade] = &ClusterUpgradeValidator{}

// ValidateCreate implements admission.Validator so a webhook will be registered for the type
func (v *ClusterUpgradeValidator) ValidateCreate(ctx context.Context, upgrade *eksupv1alpha1.ClusterUpgrade) (admission.Warnings, error) {
	clusterupgradelog.Info("validate create", "name", upgrade.Name, "cluster", upgrade.Spec.ClusterName, "targetVersion", upgrade.Spec.TargetVersion)

	return v.validateClusterUpgrade(ctx, upgrade)
}

// ValidateUpdate implements admission.Validator so a webhook will be registered for the type
func (v *ClusterUpgradeValidator) ValidateUpdate(ctx context.Context, oldUpgrade, upgrade *eksupv1alpha1.ClusterUpgrade) (admission.Warnings, error) {
	clusterupgradelog.Info("validate update", "name", upgrade.Name, "targetVersion", upgrade.Spec.TargetVersion)

	// Prevent ANY spec updates while the upgrade is running
	if oldUpgrade.Status.Phase.IsActive() {
		if !reflect.DeepEqual(upgrade.Spec, oldUpgrade.Spec) {
			return nil, fmt.Errorf("cannot update spec while upgrade is in progress (current phase: %s). Wait for the upgrade to finish or reset it using the %s annotation",
				oldUpgrade.Status.Phase, constants.ResetAnnotation)
		}
	}

	// A target below the version the cluster already reached is a downgrade
	// even if the spec looks self-consistent
	if current := oldUpgrade.Status.CurrentVersion; current != "" {
		if _, err := version.Plan(current, upgrade.Spec.TargetVersion); err != nil {
			return nil, fmt.Errorf("spec.targetVersion validation failed against cluster version %s: %w", current, err)
		}
	}

	return v.validateClusterUpgrade(ctx, upgrade)
}

// ValidateDelete implements admission.Validator so a webhook will be registered for the type
func (v *ClusterUpgradeValidator) ValidateDelete(ctx context.Context, upgrade *eksupv1alpha1.ClusterUpgrade) (admission.Warnings, error) {
	if upgrade.Status.Phase.IsActive() {
		return []string{
			fmt.Sprintf("Deleting ClusterUpgrade '%s' while the upgrade is in progress. An in-flight EKS update keeps running and must be watched manually.", upgrade.Name),
		}, nil
	}

	return nil, nil
}

func (v *ClusterUpgradeValidator) validateClusterUpgrade(ctx context.Context, upgrade *eksupv1alpha1.ClusterUpgrade) (admission.Warnings, error) {
	var warnings admission.Warnings

	if err := v.validateSpec(upgrade); err != nil {
		return warnings, fmt.Errorf("spec validation failed: %w", err)
	}

	if err := v.validateNoDuplicateUpgrade(ctx, upgrade); err != nil {
		return warnings, err
	}

	if mwWarnings, err := maintenance.ValidateWindows(upgrade.Spec.Maintenance); err != nil {
		return warnings, fmt.Errorf("spec.maintenance validation failed: %w", err)
	} else {
		warnings = append(warnings, mwWarnings...)
	}

	if upgrade.Spec.Preflight != nil {
		if err := preflight.ValidateChecks(upgrade.Spec.Preflight.Checks); err != nil {
			return warnings, fmt.Errorf("spec.preflight.checks validation failed: %w", err)
		}
	}

	warnings = append(warnings, v.generateWarnings(upgrade)...)

	clusterupgradelog.Info("cluster upgrade validation successful", "name", upgrade.Name, "targetVersion", upgrade.Spec.TargetVersion)
	return warnings, nil
}

func (v *ClusterUpgradeValidator) validateSpec(upgrade *eksupv1alpha1.ClusterUpgrade) error {
	if upgrade.Spec.ClusterName == "" {
		return fmt.Errorf("spec.clusterName cannot be empty")
	}
	if upgrade.Spec.Region == "" {
		return fmt.Errorf("spec.region cannot be empty")
	}

	if _, err := version.Parse(upgrade.Spec.TargetVersion); err != nil {
		return fmt.Errorf("spec.targetVersion: %w", err)
	}

	for i, addon := range upgrade.Spec.Addons {
		if addon.Name == "" {
			return fmt.Errorf("spec.addons[%d]: name cannot be empty", i)
		}
		if addon.Version == "" {
			return fmt.Errorf("spec.addons[%d]: version cannot be empty", i)
		}
	}

	if upgrade.Spec.Timeouts != nil {
		for field, d := range map[string]*metav1.Duration{
			"controlPlane": upgrade.Spec.Timeouts.ControlPlane,
			"addon":        upgrade.Spec.Timeouts.Addon,
			"nodeGroup":    upgrade.Spec.Timeouts.NodeGroup,
		} {
			if d != nil && d.Duration <= 0 {
				return fmt.Errorf("spec.timeouts.%s must be positive", field)
			}
		}
	}

	if upgrade.Spec.Notify != nil && upgrade.Spec.Notify.WebhookURL == "" {
		return fmt.Errorf("spec.notify.webhookURL cannot be empty when notify is set")
	}

	return nil
}

// validateNoDuplicateUpgrade rejects a second non-terminal ClusterUpgrade for
// the same EKS cluster. EKS would refuse the concurrent updates anyway; the
// reconciler's coordination only queues requests that already got admitted.
func (v *ClusterUpgradeValidator) validateNoDuplicateUpgrade(ctx context.Context, upgrade *eksupv1alpha1.ClusterUpgrade) error {
	existingList := &eksupv1alpha1.ClusterUpgradeList{}
	if err := v.Client.List(ctx, existingList); err != nil {
		return fmt.Errorf("failed to check for existing ClusterUpgrade resources: %w", err)
	}

	for _, existing := range existingList.Items {
		if existing.Name == upgrade.Name {
			continue
		}
		if existing.Spec.ClusterName != upgrade.Spec.ClusterName || existing.Spec.Region != upgrade.Spec.Region {
			continue
		}
		if existing.Status.Phase.IsTerminal() {
			continue
		}

		clusterupgradelog.Info("rejecting due to existing ClusterUpgrade for the same cluster",
			"existing", existing.Name,
			"attempted", upgrade.Name)

		return fmt.Errorf("ClusterUpgrade '%s' already targets cluster '%s' in %s (phase: %s). Delete it or wait for it to finish before creating another upgrade for the same cluster",
			existing.Name, upgrade.Spec.ClusterName, upgrade.Spec.Region, existing.Status.Phase)
	}

	return nil
}

func (v *ClusterUpgradeValidator) generateWarnings(upgrade *eksupv1alpha1.ClusterUpgrade) admission.Warnings {
	var warnings admission.Warnings

	if upgrade.Spec.DryRun {
		warnings = append(warnings, "dryRun is set: the upgrade will be planned and preflighted but nothing will be mutated")
	}

	if upgrade.Spec.Preflight != nil && upgrade.Spec.Preflight.Force {
		warnings = append(warnings, "preflight.force is set: upgrade readiness blockers will be ignored")
	}

	if current := upgrade.Status.CurrentVersion; current != "" {
		if path, err := version.Plan(current, upgrade.Spec.TargetVersion); err == nil && len(path) > 2 {
			warnings = append(warnings, fmt.Sprintf("Upgrade spans %d minor versions (%s -> %s); each step is a separate control plane update and the whole run may take hours", len(path), current, upgrade.Spec.TargetVersion))
		}
	}

	if upgrade.Spec.Notify == nil {
		warnings = append(warnings, "No notify webhook configured; upgrade lifecycle events will only appear in logs and Kubernetes events")
	}

	return warnings
}

func (v *ClusterUpgradeValidator) SetupWebhookWithManager(mgr ctrl.Manager) error {
	return ctrl.NewWebhookManagedBy(mgr, &eksupv1alpha1.ClusterUpgrade{}).
		WithValidator(v).
		Complete()
}
