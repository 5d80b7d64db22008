// Package upgrade implements the EKS-side operations of a cluster upgrade:
// initiating control plane, addon and node group updates, polling them to
// completion, and classifying the failures they produce.
package upgrade

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	autoscalingtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"
	"github.com/google/uuid"

	"github.com/younsl/eksup/internal/awsclient"
	"github.com/younsl/eksup/internal/waiter"
)

// Executor drives the upgrade operations for a single EKS cluster. Methods
// are safe to call repeatedly: initiations carry an idempotency token and
// polls are read-only.
type Executor struct {
	clients *awsclient.Clients
	cluster string
}

func NewExecutor(clients *awsclient.Clients, cluster string) *Executor {
	return &Executor{clients: clients, cluster: cluster}
}

// UpdateRef locates an in-flight EKS update. AddonName and NodeGroupName
// scope the lookup for addon and node group updates respectively.
type UpdateRef struct {
	UpdateID      string
	AddonName     string
	NodeGroupName string
}

// AddonInfo is an installed addon and its current version.
type AddonInfo struct {
	Name    string
	Version string
}

// DescribeCluster returns the cluster's current state, including version and
// lifecycle status.
func (e *Executor) DescribeCluster(ctx context.Context) (*ekstypes.Cluster, error) {
	var out *eks.DescribeClusterOutput
	err := awsclient.WithRetry(ctx, func() error {
		var err error
		out, err = e.clients.EKS.DescribeCluster(ctx, &eks.DescribeClusterInput{
			Name: aws.String(e.cluster),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe cluster %s: %w", e.cluster, err)
	}
	if out.Cluster == nil {
		return nil, fmt.Errorf("cluster %s not found", e.cluster)
	}
	return out.Cluster, nil
}

// InitiateControlPlaneUpdate starts a control plane version update and
// returns the EKS update id. Retries reuse one request token so EKS
// collapses them into a single update.
func (e *Executor) InitiateControlPlaneUpdate(ctx context.Context, targetVersion string) (string, error) {
	token := uuid.NewString()
	var out *eks.UpdateClusterVersionOutput
	err := awsclient.WithRetry(ctx, func() error {
		var err error
		out, err = e.clients.EKS.UpdateClusterVersion(ctx, &eks.UpdateClusterVersionInput{
			Name:               aws.String(e.cluster),
			Version:            aws.String(targetVersion),
			ClientRequestToken: aws.String(token),
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to initiate control plane update to %s: %w", targetVersion, err)
	}
	if out.Update == nil || out.Update.Id == nil {
		return "", fmt.Errorf("control plane update to %s returned no update id", targetVersion)
	}
	return aws.ToString(out.Update.Id), nil
}

// InitiateAddonUpdate starts an addon version update. Existing configuration
// values are preserved over the addon's defaults.
func (e *Executor) InitiateAddonUpdate(ctx context.Context, addonName, addonVersion string) (string, error) {
	token := uuid.NewString()
	var out *eks.UpdateAddonOutput
	err := awsclient.WithRetry(ctx, func() error {
		var err error
		out, err = e.clients.EKS.UpdateAddon(ctx, &eks.UpdateAddonInput{
			ClusterName:        aws.String(e.cluster),
			AddonName:          aws.String(addonName),
			AddonVersion:       aws.String(addonVersion),
			ResolveConflicts:   ekstypes.ResolveConflictsPreserve,
			ClientRequestToken: aws.String(token),
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to initiate update of addon %s to %s: %w", addonName, addonVersion, err)
	}
	if out.Update == nil || out.Update.Id == nil {
		return "", fmt.Errorf("addon %s update returned no update id", addonName)
	}
	return aws.ToString(out.Update.Id), nil
}

// InitiateNodeGroupUpdate starts a rolling version update of a managed node
// group. The rollout respects pod disruption budgets.
func (e *Executor) InitiateNodeGroupUpdate(ctx context.Context, nodeGroup, targetVersion string) (string, error) {
	token := uuid.NewString()
	var out *eks.UpdateNodegroupVersionOutput
	err := awsclient.WithRetry(ctx, func() error {
		var err error
		out, err = e.clients.EKS.UpdateNodegroupVersion(ctx, &eks.UpdateNodegroupVersionInput{
			ClusterName:        aws.String(e.cluster),
			NodegroupName:      aws.String(nodeGroup),
			Version:            aws.String(targetVersion),
			ClientRequestToken: aws.String(token),
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to initiate update of node group %s to %s: %w", nodeGroup, targetVersion, err)
	}
	if out.Update == nil || out.Update.Id == nil {
		return "", fmt.Errorf("node group %s update returned no update id", nodeGroup)
	}
	return aws.ToString(out.Update.Id), nil
}

// PollUpdate reads the current state of an in-flight update. It never
// mutates anything, so callers may poll the same ref from multiple processes.
func (e *Executor) PollUpdate(ctx context.Context, ref UpdateRef) (waiter.Status, error) {
	input := &eks.DescribeUpdateInput{
		Name:     aws.String(e.cluster),
		UpdateId: aws.String(ref.UpdateID),
	}
	if ref.AddonName != "" {
		input.AddonName = aws.String(ref.AddonName)
	}
	if ref.NodeGroupName != "" {
		input.NodegroupName = aws.String(ref.NodeGroupName)
	}

	var out *eks.DescribeUpdateOutput
	err := awsclient.WithRetry(ctx, func() error {
		var err error
		out, err = e.clients.EKS.DescribeUpdate(ctx, input)
		return err
	})
	if err != nil {
		return waiter.Status{}, fmt.Errorf("failed to describe update %s: %w", ref.UpdateID, err)
	}
	if out.Update == nil {
		return waiter.Status{}, fmt.Errorf("update %s not found", ref.UpdateID)
	}
	return statusFromUpdate(out.Update), nil
}

// ListAddons returns the cluster's installed addons with their current
// versions.
func (e *Executor) ListAddons(ctx context.Context) ([]AddonInfo, error) {
	var names []string
	var nextToken *string
	for {
		var out *eks.ListAddonsOutput
		err := awsclient.WithRetry(ctx, func() error {
			var err error
			out, err = e.clients.EKS.ListAddons(ctx, &eks.ListAddonsInput{
				ClusterName: aws.String(e.cluster),
				NextToken:   nextToken,
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list addons: %w", err)
		}
		names = append(names, out.Addons...)
		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}

	addons := make([]AddonInfo, 0, len(names))
	for _, name := range names {
		var out *eks.DescribeAddonOutput
		err := awsclient.WithRetry(ctx, func() error {
			var err error
			out, err = e.clients.EKS.DescribeAddon(ctx, &eks.DescribeAddonInput{
				ClusterName: aws.String(e.cluster),
				AddonName:   aws.String(name),
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to describe addon %s: %w", name, err)
		}
		if out.Addon == nil {
			continue
		}
		addons = append(addons, AddonInfo{
			Name:    name,
			Version: aws.ToString(out.Addon.AddonVersion),
		})
	}
	return addons, nil
}

// ResolveAddonVersion returns the version of an addon to install for the
// given Kubernetes version: the version EKS marks as default, or the newest
// compatible one when no default exists.
func (e *Executor) ResolveAddonVersion(ctx context.Context, addonName, kubernetesVersion string) (string, error) {
	var out *eks.DescribeAddonVersionsOutput
	err := awsclient.WithRetry(ctx, func() error {
		var err error
		out, err = e.clients.EKS.DescribeAddonVersions(ctx, &eks.DescribeAddonVersionsInput{
			AddonName:         aws.String(addonName),
			KubernetesVersion: aws.String(kubernetesVersion),
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to describe versions of addon %s: %w", addonName, err)
	}

	for _, info := range out.Addons {
		for _, v := range info.AddonVersions {
			for _, compat := range v.Compatibilities {
				if compat.DefaultVersion {
					return aws.ToString(v.AddonVersion), nil
				}
			}
		}
	}
	// Versions come newest first.
	for _, info := range out.Addons {
		if len(info.AddonVersions) > 0 {
			return aws.ToString(info.AddonVersions[0].AddonVersion), nil
		}
	}
	return "", fmt.Errorf("no version of addon %s is compatible with Kubernetes %s", addonName, kubernetesVersion)
}

// ListNodeGroups returns the names of the cluster's managed node groups.
func (e *Executor) ListNodeGroups(ctx context.Context) ([]string, error) {
	var names []string
	var nextToken *string
	for {
		var out *eks.ListNodegroupsOutput
		err := awsclient.WithRetry(ctx, func() error {
			var err error
			out, err = e.clients.EKS.ListNodegroups(ctx, &eks.ListNodegroupsInput{
				ClusterName: aws.String(e.cluster),
				NextToken:   nextToken,
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list node groups: %w", err)
		}
		names = append(names, out.Nodegroups...)
		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}
	return names, nil
}

// NodeGroup returns the current state of one managed node group.
func (e *Executor) NodeGroup(ctx context.Context, name string) (*ekstypes.Nodegroup, error) {
	var out *eks.DescribeNodegroupOutput
	err := awsclient.WithRetry(ctx, func() error {
		var err error
		out, err = e.clients.EKS.DescribeNodegroup(ctx, &eks.DescribeNodegroupInput{
			ClusterName:   aws.String(e.cluster),
			NodegroupName: aws.String(name),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe node group %s: %w", name, err)
	}
	if out.Nodegroup == nil {
		return nil, fmt.Errorf("node group %s not found", name)
	}
	return out.Nodegroup, nil
}

// NodeGroupProgress reports how many of the node group's instances are in
// service against its desired size. During a rolling update the ready count
// dips as old nodes drain.
func (e *Executor) NodeGroupProgress(ctx context.Context, name string) (waiter.Progress, error) {
	ng, err := e.NodeGroup(ctx, name)
	if err != nil {
		return waiter.Progress{}, err
	}

	var desired int32
	if ng.ScalingConfig != nil {
		desired = aws.ToInt32(ng.ScalingConfig.DesiredSize)
	}

	var asgNames []string
	if ng.Resources != nil {
		for _, group := range ng.Resources.AutoScalingGroups {
			if group.Name != nil {
				asgNames = append(asgNames, *group.Name)
			}
		}
	}
	if len(asgNames) == 0 {
		return waiter.Progress{Desired: desired}, nil
	}

	var out *autoscaling.DescribeAutoScalingGroupsOutput
	err = awsclient.WithRetry(ctx, func() error {
		var err error
		out, err = e.clients.AutoScaling.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
			AutoScalingGroupNames: asgNames,
		})
		return err
	})
	if err != nil {
		return waiter.Progress{}, fmt.Errorf("failed to describe scaling groups for node group %s: %w", name, err)
	}

	var ready int32
	for _, group := range out.AutoScalingGroups {
		for _, instance := range group.Instances {
			if instance.LifecycleState == autoscalingtypes.LifecycleStateInService {
				ready++
			}
		}
	}
	return waiter.Progress{
		Ready:   ready,
		Desired: desired,
		Detail:  fmt.Sprintf("%d/%d nodes in service", ready, desired),
	}, nil
}

// ControlPlaneStep wraps a control plane update as a blocking step.
func (e *Executor) ControlPlaneStep(targetVersion string, timeout, interval time.Duration) waiter.Step {
	return waiter.Step{
		Name: fmt.Sprintf("control plane %s", targetVersion),
		Initiate: func(ctx context.Context) (string, error) {
			return e.InitiateControlPlaneUpdate(ctx, targetVersion)
		},
		Poll: func(ctx context.Context, handle string) (waiter.Status, error) {
			return e.PollUpdate(ctx, UpdateRef{UpdateID: handle})
		},
		Timeout:  timeout,
		Interval: interval,
	}
}

// AddonStep wraps an addon update as a blocking step.
func (e *Executor) AddonStep(addonName, addonVersion string, timeout, interval time.Duration) waiter.Step {
	return waiter.Step{
		Name: fmt.Sprintf("addon %s %s", addonName, addonVersion),
		Initiate: func(ctx context.Context) (string, error) {
			return e.InitiateAddonUpdate(ctx, addonName, addonVersion)
		},
		Poll: func(ctx context.Context, handle string) (waiter.Status, error) {
			return e.PollUpdate(ctx, UpdateRef{UpdateID: handle, AddonName: addonName})
		},
		Timeout:  timeout,
		Interval: interval,
	}
}

// NodeGroupStep wraps a node group rollout as a blocking step. Polls attach
// in-service counts; a failed progress read never fails the poll.
func (e *Executor) NodeGroupStep(nodeGroup, targetVersion string, timeout, interval time.Duration) waiter.Step {
	return waiter.Step{
		Name: fmt.Sprintf("node group %s %s", nodeGroup, targetVersion),
		Initiate: func(ctx context.Context) (string, error) {
			return e.InitiateNodeGroupUpdate(ctx, nodeGroup, targetVersion)
		},
		Poll: func(ctx context.Context, handle string) (waiter.Status, error) {
			status, err := e.PollUpdate(ctx, UpdateRef{UpdateID: handle, NodeGroupName: nodeGroup})
			if err != nil {
				return status, err
			}
			if progress, perr := e.NodeGroupProgress(ctx, nodeGroup); perr == nil {
				status.Progress = progress
			}
			return status, nil
		},
		Timeout:  timeout,
		Interval: interval,
	}
}

func statusFromUpdate(update *ekstypes.Update) waiter.Status {
	status := waiter.Status{}
	switch update.Status {
	case ekstypes.UpdateStatusSuccessful:
		status.State = waiter.StateSucceeded
	case ekstypes.UpdateStatusFailed:
		status.State = waiter.StateFailed
	case ekstypes.UpdateStatusCancelled:
		status.State = waiter.StateCancelled
	default:
		status.State = waiter.StateInProgress
	}
	for _, detail := range update.Errors {
		status.Errors = append(status.Errors, fmt.Sprintf("%s: %s", detail.ErrorCode, aws.ToString(detail.ErrorMessage)))
	}
	return status
}
