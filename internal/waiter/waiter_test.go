package waiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Run", func() {
	var (
		ctx           context.Context
		initiateCalls int
		pollCalls     int
	)

	BeforeEach(func() {
		ctx = context.Background()
		initiateCalls = 0
		pollCalls = 0
	})

	newStep := func(states ...State) Step {
		return Step{
			Name: "control plane to 1.33",
			Initiate: func(ctx context.Context) (string, error) {
				initiateCalls++
				return "upd-1", nil
			},
			Poll: func(ctx context.Context, handle string) (Status, error) {
				pollCalls++
				if pollCalls > len(states) {
					return Status{State: states[len(states)-1]}, nil
				}
				return Status{State: states[pollCalls-1]}, nil
			},
			Timeout:  time.Second,
			Interval: 5 * time.Millisecond,
		}
	}

	It("initiates once and polls until success", func() {
		err := Run(ctx, newStep(StateInProgress, StateInProgress, StateSucceeded))

		Expect(err).NotTo(HaveOccurred())
		Expect(initiateCalls).To(Equal(1))
		Expect(pollCalls).To(Equal(3))
	})

	It("resumes an existing handle without re-initiating", func() {
		step := newStep(StateSucceeded)
		step.Handle = "upd-42"

		var polledHandle string
		step.Poll = func(ctx context.Context, handle string) (Status, error) {
			polledHandle = handle
			return Status{State: StateSucceeded}, nil
		}

		Expect(Run(ctx, step)).To(Succeed())
		Expect(initiateCalls).To(BeZero(), "resume must never start a second mutation")
		Expect(polledHandle).To(Equal("upd-42"))
	})

	It("surfaces a failed operation with its error details", func() {
		step := newStep(StateInProgress, StateFailed)
		step.Poll = func(ctx context.Context, handle string) (Status, error) {
			pollCalls++
			if pollCalls == 1 {
				return Status{State: StateInProgress}, nil
			}
			return Status{State: StateFailed, Errors: []string{"Addons have replaced fields", "InsufficientFreeAddresses"}}, nil
		}

		err := Run(ctx, step)

		var failed *StepFailedError
		Expect(errors.As(err, &failed)).To(BeTrue(), "expected StepFailedError, got %v", err)
		Expect(failed.State).To(Equal(StateFailed))
		Expect(failed.Operation).To(Equal("control plane to 1.33"))
		Expect(failed.Messages).To(ContainElement("InsufficientFreeAddresses"))
	})

	It("treats a cancelled operation as a step failure", func() {
		err := Run(ctx, newStep(StateCancelled))

		var failed *StepFailedError
		Expect(errors.As(err, &failed)).To(BeTrue())
		Expect(failed.State).To(Equal(StateCancelled))
	})

	It("times out without exceeding timeout plus one interval", func() {
		step := newStep(StateInProgress)
		step.Timeout = 30 * time.Millisecond
		step.Interval = 10 * time.Millisecond

		start := time.Now()
		err := Run(ctx, step)
		elapsed := time.Since(start)

		var timeout *StepTimeoutError
		Expect(errors.As(err, &timeout)).To(BeTrue(), "expected StepTimeoutError, got %v", err)
		Expect(timeout.Limit).To(Equal(30 * time.Millisecond))
		Expect(timeout.Elapsed).To(BeNumerically(">", step.Timeout))
		Expect(elapsed).To(BeNumerically("<", step.Timeout+step.Interval+100*time.Millisecond))
	})

	It("reports progress for display without affecting the outcome", func() {
		var seen []Progress
		step := Step{
			Name:     "node group workers",
			Handle:   "upd-7",
			Timeout:  time.Second,
			Interval: time.Millisecond,
			OnProgress: func(p Progress) {
				seen = append(seen, p)
			},
		}
		observations := []Status{
			{State: StateInProgress, Progress: Progress{Ready: 1, Desired: 4}},
			{State: StateInProgress, Progress: Progress{Ready: 3, Desired: 4}},
			{State: StateSucceeded, Progress: Progress{Ready: 4, Desired: 4}},
		}
		step.Poll = func(ctx context.Context, handle string) (Status, error) {
			obs := observations[pollCalls]
			pollCalls++
			return obs, nil
		}

		Expect(Run(ctx, step)).To(Succeed())
		Expect(seen).To(Equal([]Progress{
			{Ready: 1, Desired: 4},
			{Ready: 3, Desired: 4},
		}), "terminal observations do not produce progress callbacks")
	})

	It("propagates initiate failures", func() {
		step := newStep(StateSucceeded)
		step.Initiate = func(ctx context.Context) (string, error) {
			return "", fmt.Errorf("ResourceInUseException: another update is in progress")
		}

		err := Run(ctx, step)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("initiate"))
		Expect(err.Error()).To(ContainSubstring("ResourceInUseException"))
	})

	It("propagates poll failures with the handle", func() {
		step := newStep(StateSucceeded)
		step.Poll = func(ctx context.Context, handle string) (Status, error) {
			return Status{}, fmt.Errorf("throttled")
		}

		err := Run(ctx, step)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("upd-1"))
	})

	It("stops sleeping when the context is cancelled", func() {
		cancelCtx, cancel := context.WithCancel(ctx)
		step := newStep(StateInProgress)
		step.Interval = time.Minute
		step.Poll = func(ctx context.Context, handle string) (Status, error) {
			cancel()
			return Status{State: StateInProgress}, nil
		}

		start := time.Now()
		err := Run(cancelCtx, step)

		Expect(err).To(MatchError(context.Canceled))
		Expect(time.Since(start)).To(BeNumerically("<", time.Second))
	})
})

var _ = Describe("State", func() {
	It("only treats succeeded, failed and cancelled as terminal", func() {
		Expect(StateSucceeded.Terminal()).To(BeTrue())
		Expect(StateFailed.Terminal()).To(BeTrue())
		Expect(StateCancelled.Terminal()).To(BeTrue())
		Expect(StateInProgress.Terminal()).To(BeFalse())
	})
})
