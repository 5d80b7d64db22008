package cli

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"
	"github.com/spf13/cobra"

	eksupv1alpha1 "github.com/younsl/eksup/api/v1alpha1"
	"github.com/younsl/eksup/internal/awsclient"
	"github.com/younsl/eksup/internal/constants"
	"github.com/younsl/eksup/internal/preflight"
	"github.com/younsl/eksup/internal/upgrade"
	"github.com/younsl/eksup/internal/version"
	"github.com/younsl/eksup/internal/waiter"
)

type upgradeOptions struct {
	cluster      string
	region       string
	roleARN      string
	target       string
	addons       []string
	nodeGroups   []string
	dryRun       bool
	force        bool
	skipInsights bool

	controlPlaneTimeout time.Duration
	addonTimeout        time.Duration
	nodeGroupTimeout    time.Duration
	pollInterval        time.Duration
}

func newUpgradeCommand() *cobra.Command {
	opts := &upgradeOptions{}

	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Upgrade an EKS cluster to the target Kubernetes version",
		Long: `Upgrade an EKS cluster to the target Kubernetes version.

The control plane is stepped through every intermediate minor version, then
every managed add-on is brought to its default version for the new cluster
version (or the pinned override), then every managed node group is rolled.
Each step blocks until the EKS update reaches a terminal state.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpgrade(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.cluster, "cluster", "", "EKS cluster name (required)")
	cmd.Flags().StringVar(&opts.region, "region", "", "AWS region (required)")
	cmd.Flags().StringVar(&opts.roleARN, "role-arn", "", "IAM role to assume for cross-account upgrades")
	cmd.Flags().StringVar(&opts.target, "target", "", "Target Kubernetes minor version, e.g. 1.34 (required)")
	cmd.Flags().StringArrayVar(&opts.addons, "addon", nil, "Pin an add-on version as name=version (repeatable)")
	cmd.Flags().StringSliceVar(&opts.nodeGroups, "node-groups", nil, "Restrict the node group phase to these names (default: all)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Plan and preflight only, mutate nothing")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Proceed past preflight blockers")
	cmd.Flags().BoolVar(&opts.skipInsights, "skip-insights", false, "Skip the EKS upgrade-insights scan")
	cmd.Flags().DurationVar(&opts.controlPlaneTimeout, "control-plane-timeout", constants.DefaultControlPlaneTimeout, "Wait limit per control plane step")
	cmd.Flags().DurationVar(&opts.addonTimeout, "addon-timeout", constants.DefaultAddonTimeout, "Wait limit per add-on update")
	cmd.Flags().DurationVar(&opts.nodeGroupTimeout, "node-group-timeout", constants.DefaultNodeGroupTimeout, "Wait limit per node group rolling update")
	cmd.Flags().DurationVar(&opts.pollInterval, "poll-interval", constants.DefaultPollInterval, "Interval between status polls")

	for _, required := range []string{"cluster", "region", "target"} {
		_ = cmd.MarkFlagRequired(required)
	}

	return cmd
}

func runUpgrade(cmd *cobra.Command, opts *upgradeOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	overrides, err := parseAddonOverrides(opts.addons)
	if err != nil {
		return err
	}

	clients, err := awsclient.NewFactory().NewClients(ctx, opts.region, opts.roleARN)
	if err != nil {
		return err
	}
	identity, err := clients.VerifyIdentity(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Authenticated as %s (account %s)\n", identity.ARN, identity.Account)

	exec := upgrade.NewExecutor(clients, opts.cluster)

	cluster, err := exec.DescribeCluster(ctx)
	if err != nil {
		return err
	}
	current, err := version.MajorMinor(aws.ToString(cluster.Version))
	if err != nil {
		return err
	}
	path, err := version.Plan(current, opts.target)
	if err != nil {
		return err
	}

	if len(path) == 0 {
		fmt.Fprintf(out, "Control plane already at %s, syncing add-ons and node groups\n", current)
	} else {
		fmt.Fprintf(out, "Upgrade path %s -> %s: %s\n", current, opts.target, strings.Join(path, " -> "))
	}

	if err := runPreflightPhase(ctx, cmd, opts, clients, exec); err != nil {
		return err
	}

	if opts.dryRun {
		fmt.Fprintf(out, "Dry run: %d control plane step(s) would be applied, nothing was mutated\n", len(path))
		return nil
	}

	for _, step := range path {
		fmt.Fprintf(out, "Upgrading control plane to %s (this can take a while)...\n", step)
		if err := waiter.Run(ctx, exec.ControlPlaneStep(step, opts.controlPlaneTimeout, opts.pollInterval)); err != nil {
			return err
		}
		fmt.Fprintf(out, "Control plane at %s\n", step)
	}

	if err := runAddonPhase(ctx, cmd, opts, exec, overrides); err != nil {
		return err
	}

	if err := runNodeGroupPhase(ctx, cmd, opts, exec); err != nil {
		return err
	}

	fmt.Fprintf(out, "Cluster %s upgraded to %s\n", opts.cluster, opts.target)
	return nil
}

func runPreflightPhase(ctx context.Context, cmd *cobra.Command, opts *upgradeOptions, clients *awsclient.Clients, exec *upgrade.Executor) error {
	out := cmd.OutOrStdout()

	cluster, err := exec.DescribeCluster(ctx)
	if err != nil {
		return err
	}

	names := opts.nodeGroups
	if len(names) == 0 {
		if names, err = exec.ListNodeGroups(ctx); err != nil {
			return err
		}
	}
	nodeGroups := make([]ekstypes.Nodegroup, 0, len(names))
	for _, name := range names {
		ng, err := exec.NodeGroup(ctx, name)
		if err != nil {
			return err
		}
		nodeGroups = append(nodeGroups, *ng)
	}

	// CEL checks need a Kubernetes API client; the CLI only runs the
	// AWS-side gates.
	spec := &eksupv1alpha1.PreflightSpec{
		Force:        opts.force,
		SkipInsights: opts.skipInsights,
	}
	result, err := preflight.NewChecker(nil).Run(ctx, spec, clients, cluster, nodeGroups, opts.target)
	if err != nil {
		return err
	}

	for _, warning := range result.Warnings {
		fmt.Fprintf(out, "preflight warning: %s\n", warning)
	}
	if result.Blocked() {
		for _, blocker := range result.Blockers {
			fmt.Fprintf(cmd.ErrOrStderr(), "preflight blocker: %s\n", blocker)
		}
		if !opts.force {
			return fmt.Errorf("preflight blocked by %d finding(s); rerun with --force to override", len(result.Blockers))
		}
		fmt.Fprintln(out, "preflight blockers overridden by --force")
	}
	fmt.Fprintln(out, "Preflight passed")
	return nil
}

func runAddonPhase(ctx context.Context, cmd *cobra.Command, opts *upgradeOptions, exec *upgrade.Executor, overrides map[string]string) error {
	out := cmd.OutOrStdout()

	installed, err := exec.ListAddons(ctx)
	if err != nil {
		return err
	}
	slices.SortFunc(installed, func(a, b upgrade.AddonInfo) int {
		return strings.Compare(a.Name, b.Name)
	})

	for _, addon := range installed {
		desired, ok := overrides[addon.Name]
		if !ok {
			if desired, err = exec.ResolveAddonVersion(ctx, addon.Name, opts.target); err != nil {
				return err
			}
		}
		if desired == addon.Version {
			fmt.Fprintf(out, "Add-on %s already at %s, skipping\n", addon.Name, desired)
			continue
		}

		fmt.Fprintf(out, "Upgrading add-on %s %s -> %s...\n", addon.Name, addon.Version, desired)
		if err := waiter.Run(ctx, exec.AddonStep(addon.Name, desired, opts.addonTimeout, opts.pollInterval)); err != nil {
			return err
		}
		fmt.Fprintf(out, "Add-on %s at %s\n", addon.Name, desired)
	}
	return nil
}

func runNodeGroupPhase(ctx context.Context, cmd *cobra.Command, opts *upgradeOptions, exec *upgrade.Executor) error {
	out := cmd.OutOrStdout()

	names := opts.nodeGroups
	if len(names) == 0 {
		var err error
		if names, err = exec.ListNodeGroups(ctx); err != nil {
			return err
		}
	}
	slices.Sort(names)

	for _, name := range names {
		ng, err := exec.NodeGroup(ctx, name)
		if err != nil {
			return err
		}
		if ngVersion, err := version.MajorMinor(aws.ToString(ng.Version)); err == nil && ngVersion == opts.target {
			fmt.Fprintf(out, "Node group %s already at %s, skipping\n", name, opts.target)
			continue
		}

		fmt.Fprintf(out, "Rolling node group %s to %s...\n", name, opts.target)
		step := exec.NodeGroupStep(name, opts.target, opts.nodeGroupTimeout, opts.pollInterval)
		step.OnProgress = func(progress waiter.Progress) {
			if progress.Detail != "" {
				fmt.Fprintf(out, "  %s: %s\n", name, progress.Detail)
			}
		}
		if err := waiter.Run(ctx, step); err != nil {
			return err
		}
		fmt.Fprintf(out, "Node group %s at %s\n", name, opts.target)
	}
	return nil
}

// parseAddonOverrides turns repeated name=version flags into a lookup map.
func parseAddonOverrides(pairs []string) (map[string]string, error) {
	overrides := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, addonVersion, found := strings.Cut(pair, "=")
		if !found || name == "" || addonVersion == "" {
			return nil, fmt.Errorf("invalid --addon %q, expected name=version", pair)
		}
		overrides[name] = addonVersion
	}
	return overrides, nil
}
