// Package waiter implements the initiate-then-poll loop every asynchronous
// EKS mutation goes through: start the update, poll its handle at a fixed
// interval, stop on a terminal state or when the wait limit is reached.
package waiter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

// State is the disposition reported by a single poll.
type State string

const (
	StateInProgress State = "InProgress"
	StateSucceeded  State = "Succeeded"
	StateFailed     State = "Failed"
	StateCancelled  State = "Cancelled"
)

// Terminal returns true when no further polling can change the outcome.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Progress carries sub-progress of a long-running step, such as the ready and
// desired instance counts of a node group's scaling group. It is display-only
// and never influences the terminal-state decision.
type Progress struct {
	Ready   int32
	Desired int32
	Detail  string
}

// Status is one poll observation.
type Status struct {
	State    State
	Progress Progress
	Errors   []string
}

// Step describes one asynchronous cloud mutation.
type Step struct {
	// Name identifies the step in logs and errors.
	Name string

	// Initiate starts the mutation and returns its operation handle. It is
	// called at most once per Run and skipped entirely when Handle is set.
	Initiate func(ctx context.Context) (string, error)

	// Poll observes the operation named by handle.
	Poll func(ctx context.Context, handle string) (Status, error)

	// Handle, when non-empty, resumes polling a previously initiated
	// operation instead of starting a new one.
	Handle string

	// Timeout bounds the total wall time spent waiting. It does not cancel
	// the underlying cloud operation.
	Timeout time.Duration

	// Interval is the sleep between non-terminal polls.
	Interval time.Duration

	// OnProgress, when set, receives every non-terminal observation.
	OnProgress func(Progress)
}

// StepTimeoutError reports a wait that outlived its limit. The cloud
// operation keeps running; cleaning it up is the operator's responsibility.
type StepTimeoutError struct {
	Operation string
	Elapsed   time.Duration
	Limit     time.Duration
}

func (e *StepTimeoutError) Error() string {
	return fmt.Sprintf("%s: wait timed out after %s (limit %s), the cloud operation may still be running",
		e.Operation, e.Elapsed.Round(time.Second), e.Limit)
}

// StepFailedError reports an operation that reached a terminal Failed or
// Cancelled state.
type StepFailedError struct {
	Operation string
	State     State
	Messages  []string
}

func (e *StepFailedError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("%s: operation %s", e.Operation, strings.ToLower(string(e.State)))
	}
	return fmt.Sprintf("%s: operation %s: %s", e.Operation, strings.ToLower(string(e.State)), strings.Join(e.Messages, "; "))
}

// Run drives step to completion. The elapsed time is checked against
// Timeout before each poll and the interval sleep happens after each
// non-terminal poll, so Run returns no later than Timeout+Interval after it
// started.
func Run(ctx context.Context, step Step) error {
	logger := log.FromContext(ctx).WithValues("step", step.Name)

	handle := step.Handle
	if handle == "" {
		h, err := step.Initiate(ctx)
		if err != nil {
			return fmt.Errorf("%s: initiate: %w", step.Name, err)
		}
		handle = h
		logger.Info("Initiated operation", "handle", handle)
	} else {
		logger.Info("Resuming operation", "handle", handle)
	}

	start := time.Now()
	for {
		if elapsed := time.Since(start); elapsed > step.Timeout {
			return &StepTimeoutError{Operation: step.Name, Elapsed: elapsed, Limit: step.Timeout}
		}

		status, err := step.Poll(ctx, handle)
		if err != nil {
			return fmt.Errorf("%s: poll %s: %w", step.Name, handle, err)
		}

		switch status.State {
		case StateSucceeded:
			logger.Info("Operation succeeded", "handle", handle)
			return nil
		case StateFailed, StateCancelled:
			return &StepFailedError{Operation: step.Name, State: status.State, Messages: status.Errors}
		}

		if step.OnProgress != nil {
			step.OnProgress(status.Progress)
		}
		logger.V(1).Info("Operation in progress",
			"handle", handle,
			"ready", status.Progress.Ready,
			"desired", status.Progress.Desired,
			"detail", status.Progress.Detail)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(step.Interval):
		}
	}
}
