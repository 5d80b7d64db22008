package upgrade

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"
	"github.com/aws/smithy-go"
	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/younsl/eksup/internal/awsclient"
	"github.com/younsl/eksup/internal/version"
	"github.com/younsl/eksup/internal/waiter"
)

// Severity decides how the reconciler reacts to a failure: Transient errors
// requeue with the phase unchanged, Permanent errors freeze the upgrade in
// the Failed phase until the request is reset or recreated.
type Severity string

const (
	SeverityTransient Severity = "Transient"
	SeverityPermanent Severity = "Permanent"
)

// PreflightBlockedError reports readiness findings severe enough to stop the
// upgrade before any mutation.
type PreflightBlockedError struct {
	Blockers []string
}

func (e *PreflightBlockedError) Error() string {
	return fmt.Sprintf("preflight blocked: %s", strings.Join(e.Blockers, "; "))
}

// StoreError wraps a status patch failure. The phase never changes on a
// store failure; the reconciler logs it and lets the next tick retry.
type StoreError struct {
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("status store: %v", e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

type taggedTransient struct {
	err error
}

func (e *taggedTransient) Error() string {
	return e.err.Error()
}

func (e *taggedTransient) Unwrap() error {
	return e.err
}

// Transient tags err as retryable regardless of its underlying type.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &taggedTransient{err: err}
}

// Classify maps a non-nil upgrade failure to its severity. It is a pure
// lookup: no I/O, no side effects.
func Classify(err error) Severity {
	var tagged *taggedTransient
	if errors.As(err, &tagged) {
		return SeverityTransient
	}

	var store *StoreError
	if errors.As(err, &store) {
		return SeverityTransient
	}

	if errors.Is(err, version.ErrInvalidVersion) || errors.Is(err, version.ErrUpgradeNotPossible) {
		return SeverityPermanent
	}

	// The wait gave up but the cloud operation may still finish, so
	// re-polling the same handle on a later tick is safe and cheap.
	var timeout *waiter.StepTimeoutError
	if errors.As(err, &timeout) {
		return SeverityTransient
	}

	var failed *waiter.StepFailedError
	if errors.As(err, &failed) {
		return SeverityPermanent
	}

	var blocked *PreflightBlockedError
	if errors.As(err, &blocked) {
		return SeverityPermanent
	}

	// Permanent, though the reconciler requeues these at a longer interval
	// instead of failing the first attempt: IAM changes propagate slowly.
	var auth *awsclient.AuthError
	if errors.As(err, &auth) {
		return SeverityPermanent
	}

	if isTransientAPI(err) {
		return SeverityTransient
	}

	return SeverityPermanent
}

func isTransientAPI(err error) bool {
	var inUse *ekstypes.ResourceInUseException
	if errors.As(err, &inUse) {
		return true
	}
	var server *ekstypes.ServerException
	if errors.As(err, &server) {
		return true
	}
	var unavailable *ekstypes.ServiceUnavailableException
	if errors.As(err, &unavailable) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException", "RequestLimitExceeded":
			return true
		}
		return apiErr.ErrorFault() == smithy.FaultServer
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return apierrors.IsConflict(err) ||
		apierrors.IsServerTimeout(err) ||
		apierrors.IsTimeout(err) ||
		apierrors.IsTooManyRequests(err) ||
		apierrors.IsServiceUnavailable(err)
}
