// Package awsclient builds the AWS service clients a cluster upgrade needs
// and verifies the caller identity before any mutation is issued.
package awsclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/siderolabs/go-retry/retry"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// EKSAPI is the subset of the EKS client the upgrade drives.
type EKSAPI interface {
	DescribeCluster(ctx context.Context, params *eks.DescribeClusterInput, optFns ...func(*eks.Options)) (*eks.DescribeClusterOutput, error)
	UpdateClusterVersion(ctx context.Context, params *eks.UpdateClusterVersionInput, optFns ...func(*eks.Options)) (*eks.UpdateClusterVersionOutput, error)
	DescribeUpdate(ctx context.Context, params *eks.DescribeUpdateInput, optFns ...func(*eks.Options)) (*eks.DescribeUpdateOutput, error)
	ListAddons(ctx context.Context, params *eks.ListAddonsInput, optFns ...func(*eks.Options)) (*eks.ListAddonsOutput, error)
	DescribeAddon(ctx context.Context, params *eks.DescribeAddonInput, optFns ...func(*eks.Options)) (*eks.DescribeAddonOutput, error)
	DescribeAddonVersions(ctx context.Context, params *eks.DescribeAddonVersionsInput, optFns ...func(*eks.Options)) (*eks.DescribeAddonVersionsOutput, error)
	UpdateAddon(ctx context.Context, params *eks.UpdateAddonInput, optFns ...func(*eks.Options)) (*eks.UpdateAddonOutput, error)
	ListNodegroups(ctx context.Context, params *eks.ListNodegroupsInput, optFns ...func(*eks.Options)) (*eks.ListNodegroupsOutput, error)
	DescribeNodegroup(ctx context.Context, params *eks.DescribeNodegroupInput, optFns ...func(*eks.Options)) (*eks.DescribeNodegroupOutput, error)
	UpdateNodegroupVersion(ctx context.Context, params *eks.UpdateNodegroupVersionInput, optFns ...func(*eks.Options)) (*eks.UpdateNodegroupVersionOutput, error)
	ListInsights(ctx context.Context, params *eks.ListInsightsInput, optFns ...func(*eks.Options)) (*eks.ListInsightsOutput, error)
}

// STSAPI verifies the caller identity.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// AutoScalingAPI reads the scaling groups backing managed node groups.
type AutoScalingAPI interface {
	DescribeAutoScalingGroups(ctx context.Context, params *autoscaling.DescribeAutoScalingGroupsInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error)
}

// EC2API reads the cluster subnets for capacity preflights.
type EC2API interface {
	DescribeSubnets(ctx context.Context, params *ec2.DescribeSubnetsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error)
}

// Clients bundles the service clients for one cluster's region and role.
type Clients struct {
	EKS         EKSAPI
	STS         STSAPI
	AutoScaling AutoScalingAPI
	EC2         EC2API
	Region      string
}

// Identity is the verified caller identity from STS.
type Identity struct {
	Account string
	ARN     string
	UserID  string
}

// AuthError marks credential construction and identity verification
// failures. Credentials do not self-heal without operator action, but IAM
// changes can take a moment to propagate, so callers requeue these at a
// longer interval instead of failing outright.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("aws auth: %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Factory creates Clients for a region, optionally assuming a role first.
type Factory struct {
	loadConfig func(ctx context.Context, region, roleARN string) (aws.Config, error)
}

type FactoryOption func(*Factory)

// WithLoadConfigFunc replaces the AWS configuration loader, for tests.
func WithLoadConfigFunc(fn func(ctx context.Context, region, roleARN string) (aws.Config, error)) FactoryOption {
	return func(f *Factory) {
		f.loadConfig = fn
	}
}

func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		loadConfig: defaultLoadConfig,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewClients resolves credentials for region and roleARN and returns the
// service clients. Configuration failures surface as AuthError.
func (f *Factory) NewClients(ctx context.Context, region, roleARN string) (*Clients, error) {
	logger := log.FromContext(ctx)
	logger.V(1).Info("Creating AWS clients", "region", region, "roleARN", roleARN)

	cfg, err := f.loadConfig(ctx, region, roleARN)
	if err != nil {
		return nil, &AuthError{Op: "load configuration", Err: err}
	}

	return &Clients{
		EKS:         eks.NewFromConfig(cfg),
		STS:         sts.NewFromConfig(cfg),
		AutoScaling: autoscaling.NewFromConfig(cfg),
		EC2:         ec2.NewFromConfig(cfg),
		Region:      region,
	}, nil
}

func defaultLoadConfig(ctx context.Context, region, roleARN string) (aws.Config, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return aws.Config{}, err
	}

	if roleARN != "" {
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(cfg), roleARN)
		cfg.Credentials = aws.NewCredentialsCache(provider)
	}
	return cfg, nil
}

// VerifyIdentity confirms the resolved credentials actually work by calling
// STS GetCallerIdentity. The result is cached by the caller per generation,
// so this is issued once per spec edit rather than every tick.
func (c *Clients) VerifyIdentity(ctx context.Context) (*Identity, error) {
	var out *sts.GetCallerIdentityOutput

	err := WithRetry(ctx, func() error {
		var err error
		out, err = c.STS.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
		return err
	})
	if err != nil {
		return nil, &AuthError{Op: "verify caller identity", Err: err}
	}

	return &Identity{
		Account: aws.ToString(out.Account),
		ARN:     aws.ToString(out.Arn),
		UserID:  aws.ToString(out.UserId),
	}, nil
}

// WithRetry runs operation, absorbing throttles, server faults and network
// timeouts for a short window. Anything else fails immediately.
func WithRetry(ctx context.Context, operation func() error) error {
	return retry.Constant(15*time.Second, retry.WithUnits(500*time.Millisecond)).Retry(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := operation(); err != nil {
			if isRetryable(err) {
				return retry.ExpectedError(err)
			}
			return err
		}
		return nil
	})
}

func isRetryable(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException", "RequestLimitExceeded", "ServiceUnavailableException":
			return true
		}
		return apiErr.ErrorFault() == smithy.FaultServer
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
