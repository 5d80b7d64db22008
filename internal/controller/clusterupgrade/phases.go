package clusterupgrade

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/log"

	eksupv1alpha1 "github.com/younsl/eksup/api/v1alpha1"
	"github.com/younsl/eksup/internal/awsclient"
	"github.com/younsl/eksup/internal/constants"
	"github.com/younsl/eksup/internal/preflight"
	"github.com/younsl/eksup/internal/upgrade"
	"github.com/younsl/eksup/internal/version"
	"github.com/younsl/eksup/internal/waiter"
)

// outcome is the in-memory result of executing one phase: a set of status
// updates plus a requeue directive. A nil requeue means the upgrade reached a
// terminal phase and waits for an external change; a zero requeue chains
// straight into the next phase without waiting for another tick.
type outcome struct {
	updates map[string]any
	requeue *time.Duration
	event   eksupv1alpha1.LifecycleEvent
}

func requeueNow() *time.Duration {
	d := time.Duration(0)
	return &d
}

func requeueAfter(d time.Duration) *time.Duration {
	return &d
}

// stepTimeouts resolves the per-step wait limits, spec overrides first.
func stepTimeouts(spec *eksupv1alpha1.TimeoutSpec) (controlPlane, addon, nodeGroup time.Duration) {
	controlPlane = constants.DefaultControlPlaneTimeout
	addon = constants.DefaultAddonTimeout
	nodeGroup = constants.DefaultNodeGroupTimeout
	if spec == nil {
		return
	}
	if spec.ControlPlane != nil {
		controlPlane = spec.ControlPlane.Duration
	}
	if spec.Addon != nil {
		addon = spec.Addon.Duration
	}
	if spec.NodeGroup != nil {
		nodeGroup = spec.NodeGroup.Duration
	}
	return
}

func (r *Reconciler) pollInterval() time.Duration {
	if r.PollInterval > 0 {
		return r.PollInterval
	}
	return constants.DefaultPollInterval
}

// runPending starts the upgrade: stamps startedAt and hands over to Planning
// in the same trigger cycle.
func (r *Reconciler) runPending(ctx context.Context, cu *eksupv1alpha1.ClusterUpgrade) (*outcome, error) {
	now := metav1.NewTime(r.Now.Now())
	return &outcome{
		updates: map[string]any{
			"phase":     eksupv1alpha1.PhasePlanning,
			"startedAt": now,
			"message":   fmt.Sprintf("Upgrade of cluster %s to %s started", cu.Spec.ClusterName, cu.Spec.TargetVersion),
		},
		requeue: requeueNow(),
		event:   eksupv1alpha1.EventStarted,
	}, nil
}

// runPlanning reads the cluster's current version and computes the minor
// version path to the target. Policy violations surface as permanent errors.
func (r *Reconciler) runPlanning(ctx context.Context, cu *eksupv1alpha1.ClusterUpgrade, exec *upgrade.Executor) (*outcome, error) {
	logger := log.FromContext(ctx)

	cluster, err := exec.DescribeCluster(ctx)
	if err != nil {
		return nil, err
	}

	current, err := version.MajorMinor(aws.ToString(cluster.Version))
	if err != nil {
		return nil, err
	}

	path, err := version.Plan(current, cu.Spec.TargetVersion)
	if err != nil {
		return nil, err
	}

	message := fmt.Sprintf("Planned upgrade path %s -> %s: [%s]", current, cu.Spec.TargetVersion, strings.Join(path, ", "))
	if len(path) == 0 {
		message = fmt.Sprintf("Control plane already at %s, syncing add-ons and node groups", current)
	}
	logger.Info("Upgrade path planned", "current", current, "target", cu.Spec.TargetVersion, "path", path)

	updates := map[string]any{
		"phase":          eksupv1alpha1.PhasePreflightChecking,
		"currentVersion": current,
		"message":        message,
	}
	if len(path) > 0 {
		updates["upgradePath"] = path
	} else {
		updates["upgradePath"] = nil
	}
	return &outcome{updates: updates, requeue: requeueNow()}, nil
}

// runPreflight evaluates the readiness gates. Blockers fail the upgrade
// unless spec.preflight.force is set; unready findings are retried until the
// wait budget runs out.
func (r *Reconciler) runPreflight(ctx context.Context, cu *eksupv1alpha1.ClusterUpgrade, clients *awsclient.Clients, exec *upgrade.Executor) (*outcome, error) {
	logger := log.FromContext(ctx)

	cluster, err := exec.DescribeCluster(ctx)
	if err != nil {
		return nil, err
	}

	nodeGroups, err := r.describeTargetNodeGroups(ctx, cu, exec)
	if err != nil {
		return nil, err
	}

	result, err := r.Preflight.Run(ctx, cu.Spec.Preflight, clients, cluster, nodeGroups, cu.Spec.TargetVersion)
	if err != nil {
		return nil, err
	}

	for _, warning := range result.Warnings {
		logger.Info("Preflight warning", "warning", warning)
	}

	force := cu.Spec.Preflight != nil && cu.Spec.Preflight.Force
	if result.Blocked() {
		if !force {
			return nil, &upgrade.PreflightBlockedError{Blockers: result.Blockers}
		}
		logger.Info("Preflight blockers overridden by spec.preflight.force", "blockers", result.Blockers)
	}

	if len(result.Unready) > 0 && !force {
		budget := preflight.WaitBudget(cu.Spec.Preflight)
		if cu.Status.StartedAt != nil && r.Now.Now().Sub(cu.Status.StartedAt.Time) > budget {
			return nil, &upgrade.PreflightBlockedError{Blockers: result.Unready}
		}
		return nil, upgrade.Transient(fmt.Errorf("preflight checks not yet satisfied: %s", strings.Join(result.Unready, "; ")))
	}

	if cu.Spec.DryRun {
		steps := len(cu.Status.UpgradePath)
		return &outcome{
			updates: map[string]any{
				"phase":       eksupv1alpha1.PhaseCompleted,
				"completedAt": metav1.NewTime(r.Now.Now()),
				"message": fmt.Sprintf("Dry run complete: %d control plane step(s) to %s would be applied, %d warning(s)",
					steps, cu.Spec.TargetVersion, len(result.Warnings)),
			},
			requeue: nil,
			event:   eksupv1alpha1.EventCompleted,
		}, nil
	}

	return &outcome{
		updates: map[string]any{
			"phase":   eksupv1alpha1.PhaseUpgradingControlPlane,
			"message": fmt.Sprintf("Preflight passed with %d warning(s)", len(result.Warnings)),
		},
		requeue: requeueNow(),
	}, nil
}

func (r *Reconciler) describeTargetNodeGroups(ctx context.Context, cu *eksupv1alpha1.ClusterUpgrade, exec *upgrade.Executor) ([]ekstypes.Nodegroup, error) {
	names := cu.Spec.NodeGroups
	if len(names) == 0 {
		listed, err := exec.ListNodeGroups(ctx)
		if err != nil {
			return nil, err
		}
		names = listed
	}

	nodeGroups := make([]ekstypes.Nodegroup, 0, len(names))
	for _, name := range names {
		ng, err := exec.NodeGroup(ctx, name)
		if err != nil {
			return nil, err
		}
		nodeGroups = append(nodeGroups, *ng)
	}
	return nodeGroups, nil
}

// runControlPlane walks the planned path one minor version at a time. A
// recorded updateID is always resumed by polling, never re-initiated, so a
// restart mid-step cannot trigger a duplicate version update.
func (r *Reconciler) runControlPlane(ctx context.Context, cu *eksupv1alpha1.ClusterUpgrade, exec *upgrade.Executor) (*outcome, error) {
	cpTimeout, _, _ := stepTimeouts(cu.Spec.Timeouts)
	cp := cu.Status.ControlPlane

	if cp != nil && cp.UpdateID != "" {
		status, err := exec.PollUpdate(ctx, upgrade.UpdateRef{UpdateID: cp.UpdateID})
		if err != nil {
			return nil, err
		}
		operation := fmt.Sprintf("control plane %s", cp.StepVersion)

		switch status.State {
		case waiter.StateSucceeded:
			completed := append(slices.Clone(cp.CompletedSteps), cp.StepVersion)
			return &outcome{
				updates: map[string]any{
					"currentVersion": cp.StepVersion,
					"message":        fmt.Sprintf("Control plane upgraded to %s", cp.StepVersion),
					"controlPlane": map[string]any{
						"stepVersion":    nil,
						"updateID":       nil,
						"stepStartedAt":  nil,
						"completedSteps": completed,
					},
				},
				requeue: requeueNow(),
			}, nil
		case waiter.StateFailed, waiter.StateCancelled:
			return nil, &waiter.StepFailedError{Operation: operation, State: status.State, Messages: status.Errors}
		}

		if cp.StepStartedAt != nil {
			if elapsed := r.Now.Now().Sub(cp.StepStartedAt.Time); elapsed > cpTimeout {
				return nil, &waiter.StepTimeoutError{Operation: operation, Elapsed: elapsed, Limit: cpTimeout}
			}
		}
		return &outcome{
			updates: map[string]any{
				"message": fmt.Sprintf("Control plane update to %s in progress (update %s)", cp.StepVersion, cp.UpdateID),
			},
			requeue: requeueAfter(r.pollInterval()),
		}, nil
	}

	next := nextControlPlaneStep(cu)
	if next == "" {
		return &outcome{
			updates: map[string]any{
				"phase":   eksupv1alpha1.PhaseUpgradingAddons,
				"message": "Control plane at target version, upgrading add-ons",
			},
			requeue: requeueNow(),
		}, nil
	}

	updateID, err := exec.InitiateControlPlaneUpdate(ctx, next)
	if err != nil {
		return nil, err
	}

	var completed []string
	if cp != nil {
		completed = cp.CompletedSteps
	}
	return &outcome{
		updates: map[string]any{
			"message": fmt.Sprintf("Control plane update to %s initiated (update %s)", next, updateID),
			"controlPlane": map[string]any{
				"stepVersion":    next,
				"updateID":       updateID,
				"stepStartedAt":  metav1.NewTime(r.Now.Now()),
				"completedSteps": completed,
			},
		},
		requeue: requeueAfter(r.pollInterval()),
	}, nil
}

func nextControlPlaneStep(cu *eksupv1alpha1.ClusterUpgrade) string {
	var completed []string
	if cu.Status.ControlPlane != nil {
		completed = cu.Status.ControlPlane.CompletedSteps
	}
	for _, step := range cu.Status.UpgradePath {
		if !slices.Contains(completed, step) {
			return step
		}
	}
	return ""
}

// runAddons upgrades the cluster's managed add-ons one at a time: spec
// overrides pin versions, everything else goes to the EKS default for the new
// cluster version. Add-ons already at the desired version are skipped.
func (r *Reconciler) runAddons(ctx context.Context, cu *eksupv1alpha1.ClusterUpgrade, exec *upgrade.Executor) (*outcome, error) {
	_, addonTimeout, _ := stepTimeouts(cu.Spec.Timeouts)
	st := cu.Status.Addons

	if st != nil && st.UpdateID != "" {
		status, err := exec.PollUpdate(ctx, upgrade.UpdateRef{UpdateID: st.UpdateID, AddonName: st.Name})
		if err != nil {
			return nil, err
		}
		operation := fmt.Sprintf("addon %s %s", st.Name, st.Version)

		switch status.State {
		case waiter.StateSucceeded:
			completed := append(slices.Clone(st.Completed), st.Name)
			return &outcome{
				updates: map[string]any{
					"message": fmt.Sprintf("Add-on %s upgraded to %s", st.Name, st.Version),
					"addons": map[string]any{
						"name":          nil,
						"version":       nil,
						"updateID":      nil,
						"stepStartedAt": nil,
						"completed":     completed,
					},
				},
				requeue: requeueNow(),
			}, nil
		case waiter.StateFailed, waiter.StateCancelled:
			return nil, &waiter.StepFailedError{Operation: operation, State: status.State, Messages: status.Errors}
		}

		if st.StepStartedAt != nil {
			if elapsed := r.Now.Now().Sub(st.StepStartedAt.Time); elapsed > addonTimeout {
				return nil, &waiter.StepTimeoutError{Operation: operation, Elapsed: elapsed, Limit: addonTimeout}
			}
		}
		return &outcome{
			updates: map[string]any{
				"message": fmt.Sprintf("Add-on %s update to %s in progress (update %s)", st.Name, st.Version, st.UpdateID),
			},
			requeue: requeueAfter(r.pollInterval()),
		}, nil
	}

	installed, err := exec.ListAddons(ctx)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(installed, func(a, b upgrade.AddonInfo) int {
		return strings.Compare(a.Name, b.Name)
	})

	overrides := make(map[string]string, len(cu.Spec.Addons))
	for _, override := range cu.Spec.Addons {
		overrides[override.Name] = override.Version
	}

	var completed []string
	if st != nil {
		completed = slices.Clone(st.Completed)
	}

	for _, addon := range installed {
		if slices.Contains(completed, addon.Name) {
			continue
		}

		desired, ok := overrides[addon.Name]
		if !ok {
			desired, err = exec.ResolveAddonVersion(ctx, addon.Name, cu.Spec.TargetVersion)
			if err != nil {
				return nil, err
			}
		}

		if desired == addon.Version {
			completed = append(completed, addon.Name)
			continue
		}

		updateID, err := exec.InitiateAddonUpdate(ctx, addon.Name, desired)
		if err != nil {
			return nil, err
		}
		return &outcome{
			updates: map[string]any{
				"message": fmt.Sprintf("Add-on %s update to %s initiated (%d/%d done)", addon.Name, desired, len(completed), len(installed)),
				"addons": map[string]any{
					"name":          addon.Name,
					"version":       desired,
					"updateID":      updateID,
					"stepStartedAt": metav1.NewTime(r.Now.Now()),
					"completed":     completed,
				},
			},
			requeue: requeueAfter(r.pollInterval()),
		}, nil
	}

	return &outcome{
		updates: map[string]any{
			"phase":   eksupv1alpha1.PhaseUpgradingNodeGroups,
			"message": fmt.Sprintf("%d add-on(s) at target versions, upgrading node groups", len(installed)),
			"addons": map[string]any{
				"name":          nil,
				"version":       nil,
				"updateID":      nil,
				"stepStartedAt": nil,
				"completed":     completed,
			},
		},
		requeue: requeueNow(),
	}, nil
}

// runNodeGroups rolls the managed node groups to the target version, one
// group at a time. The backing scaling group's in-service count is surfaced
// for display only; the terminal decision always comes from the update status.
func (r *Reconciler) runNodeGroups(ctx context.Context, cu *eksupv1alpha1.ClusterUpgrade, exec *upgrade.Executor) (*outcome, error) {
	_, _, ngTimeout := stepTimeouts(cu.Spec.Timeouts)
	st := cu.Status.NodeGroups

	if st != nil && st.UpdateID != "" {
		status, err := exec.PollUpdate(ctx, upgrade.UpdateRef{UpdateID: st.UpdateID, NodeGroupName: st.Name})
		if err != nil {
			return nil, err
		}
		operation := fmt.Sprintf("node group %s", st.Name)

		switch status.State {
		case waiter.StateSucceeded:
			completed := append(slices.Clone(st.Completed), st.Name)
			return &outcome{
				updates: map[string]any{
					"message": fmt.Sprintf("Node group %s upgraded to %s", st.Name, cu.Spec.TargetVersion),
					"nodeGroups": map[string]any{
						"name":          nil,
						"updateID":      nil,
						"stepStartedAt": nil,
						"readyNodes":    nil,
						"desiredNodes":  nil,
						"completed":     completed,
					},
				},
				requeue: requeueNow(),
			}, nil
		case waiter.StateFailed, waiter.StateCancelled:
			return nil, &waiter.StepFailedError{Operation: operation, State: status.State, Messages: status.Errors}
		}

		if st.StepStartedAt != nil {
			if elapsed := r.Now.Now().Sub(st.StepStartedAt.Time); elapsed > ngTimeout {
				return nil, &waiter.StepTimeoutError{Operation: operation, Elapsed: elapsed, Limit: ngTimeout}
			}
		}

		updates := map[string]any{
			"message": fmt.Sprintf("Node group %s rolling update in progress (update %s)", st.Name, st.UpdateID),
		}
		if progress, perr := exec.NodeGroupProgress(ctx, st.Name); perr == nil {
			r.MetricsReporter.RecordNodeGroupNodes(cu.Name, st.Name, progress.Ready, progress.Desired)
			updates["message"] = fmt.Sprintf("Node group %s rolling update in progress: %s", st.Name, progress.Detail)
			updates["nodeGroups"] = map[string]any{
				"readyNodes":   progress.Ready,
				"desiredNodes": progress.Desired,
			}
		}
		return &outcome{updates: updates, requeue: requeueAfter(r.pollInterval())}, nil
	}

	names := cu.Spec.NodeGroups
	if len(names) == 0 {
		listed, err := exec.ListNodeGroups(ctx)
		if err != nil {
			return nil, err
		}
		names = listed
	}
	slices.Sort(names)

	var completed []string
	if st != nil {
		completed = slices.Clone(st.Completed)
	}

	for _, name := range names {
		if slices.Contains(completed, name) {
			continue
		}

		ng, err := exec.NodeGroup(ctx, name)
		if err != nil {
			return nil, err
		}
		if ngVersion, err := version.MajorMinor(aws.ToString(ng.Version)); err == nil && ngVersion == cu.Spec.TargetVersion {
			completed = append(completed, name)
			continue
		}

		updateID, err := exec.InitiateNodeGroupUpdate(ctx, name, cu.Spec.TargetVersion)
		if err != nil {
			return nil, err
		}
		return &outcome{
			updates: map[string]any{
				"message": fmt.Sprintf("Node group %s update to %s initiated (%d/%d done)", name, cu.Spec.TargetVersion, len(completed), len(names)),
				"nodeGroups": map[string]any{
					"name":          name,
					"updateID":      updateID,
					"stepStartedAt": metav1.NewTime(r.Now.Now()),
					"completed":     completed,
				},
			},
			requeue: requeueAfter(r.pollInterval()),
		}, nil
	}

	return &outcome{
		updates: map[string]any{
			"phase":       eksupv1alpha1.PhaseCompleted,
			"completedAt": metav1.NewTime(r.Now.Now()),
			"message":     fmt.Sprintf("Cluster %s upgraded to %s", cu.Spec.ClusterName, cu.Spec.TargetVersion),
			"nodeGroups": map[string]any{
				"name":          nil,
				"updateID":      nil,
				"stepStartedAt": nil,
				"readyNodes":    nil,
				"desiredNodes":  nil,
				"completed":     completed,
			},
		},
		requeue: nil,
		event:   eksupv1alpha1.EventCompleted,
	}, nil
}
