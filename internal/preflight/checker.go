// Package preflight evaluates upgrade readiness before any mutation starts:
// EKS upgrade insights, subnet capacity, node group drift, and operator
// supplied CEL checks against cluster objects.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	eksupv1alpha1 "github.com/younsl/eksup/api/v1alpha1"
	"github.com/younsl/eksup/internal/awsclient"
	"github.com/younsl/eksup/internal/constants"
)

const DefaultWaitTimeout = 10 * time.Minute

// Result aggregates one evaluation pass. Blockers stop the upgrade outright,
// Warnings are logged and carried on, Unready entries are conditions that may
// clear on their own and are retried until the wait budget runs out.
type Result struct {
	Blockers []string
	Warnings []string
	Unready  []string
}

func (r *Result) Blocked() bool {
	return len(r.Blockers) > 0
}

// WaitBudget returns how long unready checks may be retried before they are
// treated as blockers.
func WaitBudget(spec *eksupv1alpha1.PreflightSpec) time.Duration {
	budget := DefaultWaitTimeout
	if spec == nil {
		return budget
	}
	for _, check := range spec.Checks {
		if check.Timeout != nil && check.Timeout.Duration > budget {
			budget = check.Timeout.Duration
		}
	}
	return budget
}

type Checker struct {
	client.Client
}

func NewChecker(c client.Client) *Checker {
	return &Checker{Client: c}
}

// Run evaluates every gate once. Cloud API failures surface as errors;
// readiness findings land in the result.
func (pc *Checker) Run(ctx context.Context, spec *eksupv1alpha1.PreflightSpec, clients *awsclient.Clients, cluster *ekstypes.Cluster, nodeGroups []ekstypes.Nodegroup, targetVersion string) (*Result, error) {
	logger := log.FromContext(ctx)
	result := &Result{}

	skipInsights := spec != nil && spec.SkipInsights
	if !skipInsights {
		if err := pc.scanInsights(ctx, clients, aws.ToString(cluster.Name), targetVersion, result); err != nil {
			return nil, err
		}
	}

	if err := pc.checkSubnets(ctx, clients, cluster, result); err != nil {
		return nil, err
	}

	noteNodeGroupDrift(cluster, nodeGroups, result)

	if spec != nil && len(spec.Checks) > 0 {
		if err := pc.evaluateChecks(ctx, spec.Checks, result); err != nil {
			return nil, err
		}
	}

	logger.V(1).Info("Preflight pass finished",
		"blockers", len(result.Blockers),
		"warnings", len(result.Warnings),
		"unready", len(result.Unready),
	)
	return result, nil
}

func (pc *Checker) scanInsights(ctx context.Context, clients *awsclient.Clients, clusterName, targetVersion string, result *Result) error {
	var nextToken *string
	for {
		var out *eks.ListInsightsOutput
		err := awsclient.WithRetry(ctx, func() error {
			var err error
			out, err = clients.EKS.ListInsights(ctx, &eks.ListInsightsInput{
				ClusterName: aws.String(clusterName),
				Filter: &ekstypes.InsightsFilter{
					Categories:         []ekstypes.Category{ekstypes.CategoryUpgradeReadiness},
					KubernetesVersions: []string{targetVersion},
				},
				NextToken: nextToken,
			})
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to list upgrade insights: %w", err)
		}

		for _, insight := range out.Insights {
			if insight.InsightStatus == nil {
				continue
			}
			name := aws.ToString(insight.Name)
			reason := aws.ToString(insight.InsightStatus.Reason)
			switch insight.InsightStatus.Status {
			case ekstypes.InsightStatusValueError:
				result.Blockers = append(result.Blockers, fmt.Sprintf("insight ERROR: %s: %s", name, reason))
			case ekstypes.InsightStatusValueWarning:
				result.Warnings = append(result.Warnings, fmt.Sprintf("insight WARNING: %s: %s", name, reason))
			}
		}

		if out.NextToken == nil {
			return nil
		}
		nextToken = out.NextToken
	}
}

func (pc *Checker) checkSubnets(ctx context.Context, clients *awsclient.Clients, cluster *ekstypes.Cluster, result *Result) error {
	if cluster.ResourcesVpcConfig == nil || len(cluster.ResourcesVpcConfig.SubnetIds) == 0 {
		return nil
	}

	var out *ec2.DescribeSubnetsOutput
	err := awsclient.WithRetry(ctx, func() error {
		var err error
		out, err = clients.EC2.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{
			SubnetIds: cluster.ResourcesVpcConfig.SubnetIds,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to describe cluster subnets: %w", err)
	}

	for _, subnet := range out.Subnets {
		free := aws.ToInt32(subnet.AvailableIpAddressCount)
		if free < constants.MinFreeSubnetIPs {
			result.Blockers = append(result.Blockers, fmt.Sprintf("subnet %s has %d free IPs, need at least %d", aws.ToString(subnet.SubnetId), free, constants.MinFreeSubnetIPs))
		}
	}
	return nil
}

func noteNodeGroupDrift(cluster *ekstypes.Cluster, nodeGroups []ekstypes.Nodegroup, result *Result) {
	current := aws.ToString(cluster.Version)
	for _, ng := range nodeGroups {
		ngVersion := aws.ToString(ng.Version)
		if ngVersion != "" && ngVersion != current {
			result.Warnings = append(result.Warnings, fmt.Sprintf("node group %s is at %s while the control plane is at %s", aws.ToString(ng.NodegroupName), ngVersion, current))
		}
	}
}

func (pc *Checker) evaluateChecks(ctx context.Context, checks []eksupv1alpha1.CheckSpec, result *Result) error {
	programs, err := CompileChecks(checks)
	if err != nil {
		return err
	}

	for i, check := range checks {
		passed, err := pc.evaluateExpression(ctx, check, programs[i])
		if err != nil {
			// Missing objects and evaluation hiccups may clear on a later
			// pass; they only block once the wait budget is exhausted.
			result.Unready = append(result.Unready, fmt.Sprintf("check %d (%s): %v", i, describeCheck(check), err))
			continue
		}
		if !passed {
			result.Unready = append(result.Unready, fmt.Sprintf("check %d (%s) not satisfied", i, describeCheck(check)))
		}
	}
	return nil
}

func describeCheck(check eksupv1alpha1.CheckSpec) string {
	if check.Description != "" {
		return check.Description
	}
	return check.APIVersion + "/" + check.Kind
}

func newCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("object", cel.DynType),
		cel.Variable("status", cel.DynType),
	)
}

// CompileChecks compiles every check expression, one program per check.
func CompileChecks(checks []eksupv1alpha1.CheckSpec) ([]cel.Program, error) {
	programs := make([]cel.Program, len(checks))
	for i, check := range checks {
		env, err := newCELEnv()
		if err != nil {
			return nil, fmt.Errorf("failed to create CEL environment for check %d: %w", i, err)
		}

		ast, issues := env.Compile(check.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("failed to compile CEL expression for check %d: %w", i, issues.Err())
		}

		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("failed to create CEL program for check %d: %w", i, err)
		}
		programs[i] = program
	}
	return programs, nil
}

// ValidateChecks reports structural and expression problems in one pass, for
// admission-time validation.
func ValidateChecks(checks []eksupv1alpha1.CheckSpec) error {
	var validationErrors []error

	for i, check := range checks {
		if check.APIVersion == "" {
			validationErrors = append(validationErrors, fmt.Errorf("check %d: apiVersion is required", i))
		}
		if check.Kind == "" {
			validationErrors = append(validationErrors, fmt.Errorf("check %d: kind is required", i))
		}
		if check.Expr == "" {
			validationErrors = append(validationErrors, fmt.Errorf("check %d: expr expression is required", i))
		}

		env, err := newCELEnv()
		if err == nil && check.Expr != "" {
			if _, issues := env.Compile(check.Expr); issues != nil && issues.Err() != nil {
				validationErrors = append(validationErrors, fmt.Errorf("check %d: invalid CEL expression '%s': %w", i, check.Expr, issues.Err()))
			}
		}
	}

	if len(validationErrors) > 0 {
		return errors.Join(validationErrors...)
	}
	return nil
}

func (pc *Checker) evaluateExpression(ctx context.Context, check eksupv1alpha1.CheckSpec, program cel.Program) (bool, error) {
	gvk := schema.FromAPIVersionAndKind(check.APIVersion, check.Kind)

	if check.Name != "" {
		return pc.evaluateSpecificResource(ctx, check, program, gvk)
	}
	return pc.evaluateAllResources(ctx, check, program, gvk)
}

func (pc *Checker) evaluateSpecificResource(ctx context.Context, check eksupv1alpha1.CheckSpec, program cel.Program, gvk schema.GroupVersionKind) (bool, error) {
	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(gvk)

	key := client.ObjectKey{Name: check.Name}
	if check.Namespace != "" {
		key.Namespace = check.Namespace
	}

	if err := pc.Get(ctx, key, obj); err != nil {
		return false, fmt.Errorf("failed to get resource: %w", err)
	}

	return runCELExpression(program, obj.Object)
}

func (pc *Checker) evaluateAllResources(ctx context.Context, check eksupv1alpha1.CheckSpec, program cel.Program, gvk schema.GroupVersionKind) (bool, error) {
	list := &unstructured.UnstructuredList{}
	list.SetGroupVersionKind(gvk)

	listOpts := []client.ListOption{}
	if check.Namespace != "" {
		listOpts = append(listOpts, client.InNamespace(check.Namespace))
	}

	if err := pc.List(ctx, list, listOpts...); err != nil {
		return false, fmt.Errorf("failed to list resources: %w", err)
	}

	for _, item := range list.Items {
		passed, err := runCELExpression(program, item.Object)
		if err != nil {
			return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
		}
		if !passed {
			return false, nil
		}
	}

	return true, nil
}

func runCELExpression(program cel.Program, resourceData map[string]any) (bool, error) {
	safeData := maps.Clone(resourceData)

	statusData := make(map[string]any)
	if status, exists := safeData["status"]; exists {
		if statusMap, ok := status.(map[string]any); ok {
			statusData = statusMap
		}
	}

	out, _, err := program.Eval(map[string]any{
		"object": safeData,
		"status": statusData,
	})
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error: %w", err)
	}

	if out.Type() != types.BoolType {
		return false, fmt.Errorf("CEL expression must return a boolean, got %s", out.Type())
	}

	return out.Value().(bool), nil
}
