package clusterupgrade

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	apimeta "k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	"k8s.io/utils/ptr"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	eksupv1alpha1 "github.com/younsl/eksup/api/v1alpha1"
	"github.com/younsl/eksup/internal/awsclient"
	"github.com/younsl/eksup/internal/constants"
	"github.com/younsl/eksup/internal/metrics"
	"github.com/younsl/eksup/internal/notifier"
	"github.com/younsl/eksup/internal/preflight"
)

type fakeEKS struct {
	describeCluster   func(*eks.DescribeClusterInput) (*eks.DescribeClusterOutput, error)
	updateCluster     func(*eks.UpdateClusterVersionInput) (*eks.UpdateClusterVersionOutput, error)
	describeUpdate    func(*eks.DescribeUpdateInput) (*eks.DescribeUpdateOutput, error)
	listAddons        func(*eks.ListAddonsInput) (*eks.ListAddonsOutput, error)
	describeAddon     func(*eks.DescribeAddonInput) (*eks.DescribeAddonOutput, error)
	describeAddonVers func(*eks.DescribeAddonVersionsInput) (*eks.DescribeAddonVersionsOutput, error)
	updateAddon       func(*eks.UpdateAddonInput) (*eks.UpdateAddonOutput, error)
	listNodegroups    func(*eks.ListNodegroupsInput) (*eks.ListNodegroupsOutput, error)
	describeNodegroup func(*eks.DescribeNodegroupInput) (*eks.DescribeNodegroupOutput, error)
	updateNodegroup   func(*eks.UpdateNodegroupVersionInput) (*eks.UpdateNodegroupVersionOutput, error)
	listInsights      func(*eks.ListInsightsInput) (*eks.ListInsightsOutput, error)
}

func (f *fakeEKS) DescribeCluster(ctx context.Context, params *eks.DescribeClusterInput, optFns ...func(*eks.Options)) (*eks.DescribeClusterOutput, error) {
	return f.describeCluster(params)
}

func (f *fakeEKS) UpdateClusterVersion(ctx context.Context, params *eks.UpdateClusterVersionInput, optFns ...func(*eks.Options)) (*eks.UpdateClusterVersionOutput, error) {
	return f.updateCluster(params)
}

func (f *fakeEKS) DescribeUpdate(ctx context.Context, params *eks.DescribeUpdateInput, optFns ...func(*eks.Options)) (*eks.DescribeUpdateOutput, error) {
	return f.describeUpdate(params)
}

func (f *fakeEKS) ListAddons(ctx context.Context, params *eks.ListAddonsInput, optFns ...func(*eks.Options)) (*eks.ListAddonsOutput, error) {
	return f.listAddons(params)
}

func (f *fakeEKS) DescribeAddon(ctx context.Context, params *eks.DescribeAddonInput, optFns ...func(*eks.Options)) (*eks.DescribeAddonOutput, error) {
	return f.describeAddon(params)
}

func (f *fakeEKS) DescribeAddonVersions(ctx context.Context, params *eks.DescribeAddonVersionsInput, optFns ...func(*eks.Options)) (*eks.DescribeAddonVersionsOutput, error) {
	return f.describeAddonVers(params)
}

func (f *fakeEKS) UpdateAddon(ctx context.Context, params *eks.UpdateAddonInput, optFns ...func(*eks.Options)) (*eks.UpdateAddonOutput, error) {
	return f.updateAddon(params)
}

func (f *fakeEKS) ListNodegroups(ctx context.Context, params *eks.ListNodegroupsInput, optFns ...func(*eks.Options)) (*eks.ListNodegroupsOutput, error) {
	return f.listNodegroups(params)
}

func (f *fakeEKS) DescribeNodegroup(ctx context.Context, params *eks.DescribeNodegroupInput, optFns ...func(*eks.Options)) (*eks.DescribeNodegroupOutput, error) {
	return f.describeNodegroup(params)
}

func (f *fakeEKS) UpdateNodegroupVersion(ctx context.Context, params *eks.UpdateNodegroupVersionInput, optFns ...func(*eks.Options)) (*eks.UpdateNodegroupVersionOutput, error) {
	return f.updateNodegroup(params)
}

func (f *fakeEKS) ListInsights(ctx context.Context, params *eks.ListInsightsInput, optFns ...func(*eks.Options)) (*eks.ListInsightsOutput, error) {
	return f.listInsights(params)
}

type fakeSTS struct {
	getCallerIdentity func(*sts.GetCallerIdentityInput) (*sts.GetCallerIdentityOutput, error)
}

func (f *fakeSTS) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	return f.getCallerIdentity(params)
}

type stubFactory struct {
	clients *awsclient.Clients
	err     error
}

func (s *stubFactory) NewClients(ctx context.Context, region, roleARN string) (*awsclient.Clients, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.clients, nil
}

type stubPreflight struct {
	result *preflight.Result
	err    error
}

func (s *stubPreflight) Run(ctx context.Context, spec *eksupv1alpha1.PreflightSpec, clients *awsclient.Clients, cluster *ekstypes.Cluster, nodeGroups []ekstypes.Nodegroup, targetVersion string) (*preflight.Result, error) {
	return s.result, s.err
}

type recordingNotifier struct {
	events []notifier.Event
}

func (n *recordingNotifier) Dispatch(ctx context.Context, url string, event notifier.Event) {
	n.events = append(n.events, event)
}

func (n *recordingNotifier) kinds() []eksupv1alpha1.LifecycleEvent {
	var kinds []eksupv1alpha1.LifecycleEvent
	for _, event := range n.events {
		kinds = append(kinds, event.Kind)
	}
	return kinds
}

type fixedClock struct {
	t time.Time
}

func (f *fixedClock) Now() time.Time {
	return f.t
}

func newTestScheme() *runtime.Scheme {
	s := runtime.NewScheme()
	_ = eksupv1alpha1.AddToScheme(s)
	return s
}

func newClusterUpgrade(name string, opts ...func(*eksupv1alpha1.ClusterUpgrade)) *eksupv1alpha1.ClusterUpgrade {
	cu := &eksupv1alpha1.ClusterUpgrade{
		ObjectMeta: metav1.ObjectMeta{
			Name:       name,
			Generation: 1,
		},
		Spec: eksupv1alpha1.ClusterUpgradeSpec{
			ClusterName:   "prod",
			Region:        "us-east-1",
			TargetVersion: "1.34",
			Notify: &eksupv1alpha1.NotifySpec{
				WebhookURL: "http://hooks.internal/eksup",
			},
		},
	}
	for _, opt := range opts {
		opt(cu)
	}
	return cu
}

func withFinalizer(cu *eksupv1alpha1.ClusterUpgrade) {
	controllerutil.AddFinalizer(cu, constants.ClusterUpgradeFinalizer)
}

func withPhase(phase eksupv1alpha1.UpgradePhase) func(*eksupv1alpha1.ClusterUpgrade) {
	return func(cu *eksupv1alpha1.ClusterUpgrade) {
		cu.Status.Phase = phase
		cu.Status.ObservedGeneration = cu.Generation
	}
}

func withIdentity(cu *eksupv1alpha1.ClusterUpgrade) {
	cu.Status.Identity = &eksupv1alpha1.AWSIdentity{
		Account:    "111122223333",
		ARN:        "arn:aws:iam::111122223333:role/eksup",
		Generation: cu.Generation,
	}
}

func withAnnotation(key, value string) func(*eksupv1alpha1.ClusterUpgrade) {
	return func(cu *eksupv1alpha1.ClusterUpgrade) {
		if cu.Annotations == nil {
			cu.Annotations = map[string]string{}
		}
		cu.Annotations[key] = value
	}
}

func withGeneration(gen, observed int64) func(*eksupv1alpha1.ClusterUpgrade) {
	return func(cu *eksupv1alpha1.ClusterUpgrade) {
		cu.Generation = gen
		cu.Status.ObservedGeneration = observed
	}
}

func withStatus(mutate func(*eksupv1alpha1.ClusterUpgradeStatus)) func(*eksupv1alpha1.ClusterUpgrade) {
	return func(cu *eksupv1alpha1.ClusterUpgrade) {
		mutate(&cu.Status)
	}
}

func withSpec(mutate func(*eksupv1alpha1.ClusterUpgradeSpec)) func(*eksupv1alpha1.ClusterUpgrade) {
	return func(cu *eksupv1alpha1.ClusterUpgrade) {
		mutate(&cu.Spec)
	}
}

func newTestClient(objs ...client.Object) client.Client {
	builder := fake.NewClientBuilder().WithScheme(newTestScheme())
	for _, obj := range objs {
		builder = builder.WithObjects(obj).WithStatusSubresource(obj)
	}
	return builder.Build()
}

func newTestReconciler(cl client.Client, eksAPI *fakeEKS) *Reconciler {
	return &Reconciler{
		Client:          cl,
		Scheme:          newTestScheme(),
		Recorder:        record.NewFakeRecorder(32),
		MetricsReporter: metrics.NewReporter(),
		ClientFactory: &stubFactory{clients: &awsclient.Clients{
			EKS:    eksAPI,
			Region: "us-east-1",
		}},
		Preflight: &stubPreflight{result: &preflight.Result{}},
		Notifier:  &recordingNotifier{},
		Now:       &fixedClock{t: time.Now()},
	}
}

func getUpgrade(t *testing.T, cl client.Client, name string) *eksupv1alpha1.ClusterUpgrade { //nolint:unparam
	t.Helper()
	var cu eksupv1alpha1.ClusterUpgrade
	if err := cl.Get(context.Background(), types.NamespacedName{Name: name}, &cu); err != nil {
		t.Fatalf("failed to get ClusterUpgrade %q: %v", name, err)
	}
	return &cu
}

func reconcileUpgrade(t *testing.T, r *Reconciler, name string) ctrl.Result { //nolint:unparam
	t.Helper()
	result, err := r.Reconcile(context.Background(), reconcile.Request{
		NamespacedName: types.NamespacedName{Name: name},
	})
	if err != nil {
		t.Fatalf("Reconcile() returned unexpected error: %v", err)
	}
	return result
}

func sentEvents(t *testing.T, r *Reconciler) *recordingNotifier {
	t.Helper()
	n, ok := r.Notifier.(*recordingNotifier)
	if !ok {
		t.Fatalf("reconciler notifier is %T, want *recordingNotifier", r.Notifier)
	}
	return n
}

func clusterOutput(version string) *eks.DescribeClusterOutput {
	return &eks.DescribeClusterOutput{
		Cluster: &ekstypes.Cluster{
			Name:    aws.String("prod"),
			Version: aws.String(version),
			Status:  ekstypes.ClusterStatusActive,
		},
	}
}

func updateOutput(status ekstypes.UpdateStatus) *eks.DescribeUpdateOutput {
	return &eks.DescribeUpdateOutput{
		Update: &ekstypes.Update{
			Id:     aws.String("upd-1"),
			Status: status,
		},
	}
}

func TestReconcile_AddsFinalizer(t *testing.T) {
	cu := newClusterUpgrade("prod-upgrade")
	cl := newTestClient(cu)
	r := newTestReconciler(cl, &fakeEKS{})

	reconcileUpgrade(t, r, "prod-upgrade")

	updated := getUpgrade(t, cl, "prod-upgrade")
	if !controllerutil.ContainsFinalizer(updated, constants.ClusterUpgradeFinalizer) {
		t.Fatal("expected finalizer to be added")
	}
}

func TestReconcile_PendingStartsUpgrade(t *testing.T) {
	cu := newClusterUpgrade("prod-upgrade", withFinalizer)
	cl := newTestClient(cu)
	r := newTestReconciler(cl, &fakeEKS{})

	result := reconcileUpgrade(t, r, "prod-upgrade")
	if result.RequeueAfter != constants.RequeueNow {
		t.Fatalf("expected immediate requeue into Planning, got: %+v", result)
	}

	updated := getUpgrade(t, cl, "prod-upgrade")
	if updated.Status.Phase != eksupv1alpha1.PhasePlanning {
		t.Fatalf("expected phase Planning, got: %s", updated.Status.Phase)
	}
	if updated.Status.StartedAt == nil {
		t.Fatal("expected startedAt to be stamped")
	}
	if !slices.Contains(updated.Status.Notified, eksupv1alpha1.EventStarted) {
		t.Fatalf("expected Started in notified guard, got: %v", updated.Status.Notified)
	}

	events := sentEvents(t, r)
	if kinds := events.kinds(); len(kinds) != 1 || kinds[0] != eksupv1alpha1.EventStarted {
		t.Fatalf("expected exactly one Started notification, got: %v", kinds)
	}
}

func TestReconcile_PlanningComputesUpgradePath(t *testing.T) {
	cu := newClusterUpgrade("prod-upgrade",
		withFinalizer,
		withPhase(eksupv1alpha1.PhasePlanning),
		withIdentity,
	)
	cl := newTestClient(cu)
	r := newTestReconciler(cl, &fakeEKS{
		describeCluster: func(*eks.DescribeClusterInput) (*eks.DescribeClusterOutput, error) {
			return clusterOutput("1.32"), nil
		},
	})

	result := reconcileUpgrade(t, r, "prod-upgrade")
	if result.RequeueAfter != constants.RequeueNow {
		t.Fatalf("expected immediate requeue into PreflightChecking, got: %+v", result)
	}

	updated := getUpgrade(t, cl, "prod-upgrade")
	if updated.Status.Phase != eksupv1alpha1.PhasePreflightChecking {
		t.Fatalf("expected phase PreflightChecking, got: %s", updated.Status.Phase)
	}
	if updated.Status.CurrentVersion != "1.32" {
		t.Fatalf("expected currentVersion 1.32, got: %s", updated.Status.CurrentVersion)
	}
	if want := []string{"1.33", "1.34"}; !slices.Equal(updated.Status.UpgradePath, want) {
		t.Fatalf("upgradePath = %v, want %v", updated.Status.UpgradePath, want)
	}
}

func TestReconcile_VerifiesIdentityOncePerGeneration(t *testing.T) {
	cu := newClusterUpgrade("prod-upgrade",
		withFinalizer,
		withPhase(eksupv1alpha1.PhasePlanning),
	)
	cl := newTestClient(cu)

	stsCalls := 0
	eksAPI := &fakeEKS{
		describeCluster: func(*eks.DescribeClusterInput) (*eks.DescribeClusterOutput, error) {
			return clusterOutput("1.33"), nil
		},
		listNodegroups: func(*eks.ListNodegroupsInput) (*eks.ListNodegroupsOutput, error) {
			return &eks.ListNodegroupsOutput{}, nil
		},
	}
	r := newTestReconciler(cl, eksAPI)
	r.ClientFactory = &stubFactory{clients: &awsclient.Clients{
		EKS: eksAPI,
		STS: &fakeSTS{
			getCallerIdentity: func(*sts.GetCallerIdentityInput) (*sts.GetCallerIdentityOutput, error) {
				stsCalls++
				return &sts.GetCallerIdentityOutput{
					Account: aws.String("111122223333"),
					Arn:     aws.String("arn:aws:iam::111122223333:role/eksup"),
					UserId:  aws.String("AROAEXAMPLE"),
				}, nil
			},
		},
		Region: "us-east-1",
	}}

	// Planning, then PreflightChecking: the identity must only be verified on
	// the first tick of the generation.
	reconcileUpgrade(t, r, "prod-upgrade")
	reconcileUpgrade(t, r, "prod-upgrade")

	if stsCalls != 1 {
		t.Fatalf("expected exactly one GetCallerIdentity call, got %d", stsCalls)
	}

	updated := getUpgrade(t, cl, "prod-upgrade")
	if updated.Status.Identity == nil || updated.Status.Identity.Account != "111122223333" {
		t.Fatalf("expected verified identity in status, got: %+v", updated.Status.Identity)
	}
	cond := apimeta.FindStatusCondition(updated.Status.Conditions, eksupv1alpha1.ConditionAWSAuthenticated)
	if cond == nil || cond.Status != metav1.ConditionTrue {
		t.Fatalf("expected AWSAuthenticated=True condition, got: %+v", cond)
	}
}

func TestReconcile_PreflightUnreadyRetries(t *testing.T) {
	now := time.Now()
	cu := newClusterUpgrade("prod-upgrade",
		withFinalizer,
		withPhase(eksupv1alpha1.PhasePreflightChecking),
		withIdentity,
		withStatus(func(st *eksupv1alpha1.ClusterUpgradeStatus) {
			st.StartedAt = ptr.To(metav1.NewTime(now))
			st.UpgradePath = []string{"1.33", "1.34"}
		}),
	)
	cl := newTestClient(cu)
	r := newTestReconciler(cl, &fakeEKS{
		describeCluster: func(*eks.DescribeClusterInput) (*eks.DescribeClusterOutput, error) {
			return clusterOutput("1.32"), nil
		},
		listNodegroups: func(*eks.ListNodegroupsInput) (*eks.ListNodegroupsOutput, error) {
			return &eks.ListNodegroupsOutput{}, nil
		},
	})
	r.Now = &fixedClock{t: now}
	r.Preflight = &stubPreflight{result: &preflight.Result{
		Unready: []string{"check 'workload-ready': deployment rollout incomplete"},
	}}

	result := reconcileUpgrade(t, r, "prod-upgrade")
	if result.RequeueAfter != constants.RequeueTransient {
		t.Fatalf("expected %v requeue while unready, got: %v", constants.RequeueTransient, result.RequeueAfter)
	}

	updated := getUpgrade(t, cl, "prod-upgrade")
	if updated.Status.Phase != eksupv1alpha1.PhasePreflightChecking {
		t.Fatalf("expected phase to stay PreflightChecking, got: %s", updated.Status.Phase)
	}
}

func TestReconcile_PreflightBlockedFailsUpgrade(t *testing.T) {
	cu := newClusterUpgrade("prod-upgrade",
		withFinalizer,
		withPhase(eksupv1alpha1.PhasePreflightChecking),
		withIdentity,
	)
	cl := newTestClient(cu)
	r := newTestReconciler(cl, &fakeEKS{
		describeCluster: func(*eks.DescribeClusterInput) (*eks.DescribeClusterOutput, error) {
			return clusterOutput("1.32"), nil
		},
		listNodegroups: func(*eks.ListNodegroupsInput) (*eks.ListNodegroupsOutput, error) {
			return &eks.ListNodegroupsOutput{}, nil
		},
	})
	r.Preflight = &stubPreflight{result: &preflight.Result{
		Blockers: []string{"upgrade insight 'Deprecated APIs' is ERROR"},
	}}

	result := reconcileUpgrade(t, r, "prod-upgrade")
	if !result.IsZero() {
		t.Fatalf("expected no requeue after permanent failure, got: %+v", result)
	}

	updated := getUpgrade(t, cl, "prod-upgrade")
	if updated.Status.Phase != eksupv1alpha1.PhaseFailed {
		t.Fatalf("expected phase Failed, got: %s", updated.Status.Phase)
	}
	if !strings.Contains(updated.Status.Message, "Deprecated APIs") {
		t.Fatalf("expected blocker detail in message, got: %s", updated.Status.Message)
	}
}

func TestReconcile_DryRunCompletesWithoutMutation(t *testing.T) {
	cu := newClusterUpgrade("prod-upgrade",
		withFinalizer,
		withPhase(eksupv1alpha1.PhasePreflightChecking),
		withIdentity,
		withSpec(func(spec *eksupv1alpha1.ClusterUpgradeSpec) {
			spec.DryRun = true
		}),
		withStatus(func(st *eksupv1alpha1.ClusterUpgradeStatus) {
			st.UpgradePath = []string{"1.33", "1.34"}
		}),
	)
	cl := newTestClient(cu)
	r := newTestReconciler(cl, &fakeEKS{
		describeCluster: func(*eks.DescribeClusterInput) (*eks.DescribeClusterOutput, error) {
			return clusterOutput("1.32"), nil
		},
		listNodegroups: func(*eks.ListNodegroupsInput) (*eks.ListNodegroupsOutput, error) {
			return &eks.ListNodegroupsOutput{}, nil
		},
	})

	result := reconcileUpgrade(t, r, "prod-upgrade")
	if !result.IsZero() {
		t.Fatalf("expected no requeue after dry run completion, got: %+v", result)
	}

	updated := getUpgrade(t, cl, "prod-upgrade")
	if updated.Status.Phase != eksupv1alpha1.PhaseCompleted {
		t.Fatalf("expected phase Completed, got: %s", updated.Status.Phase)
	}
	if !strings.Contains(updated.Status.Message, "Dry run") {
		t.Fatalf("expected dry run message, got: %s", updated.Status.Message)
	}

	events := sentEvents(t, r)
	if len(events.events) != 1 || !events.events[0].DryRun {
		t.Fatalf("expected one dry-run Completed notification, got: %+v", events.events)
	}
}

func TestReconcile_ControlPlaneResumePollsExistingUpdate(t *testing.T) {
	now := time.Now()
	cu := newClusterUpgrade("prod-upgrade",
		withFinalizer,
		withPhase(eksupv1alpha1.PhaseUpgradingControlPlane),
		withIdentity,
		withStatus(func(st *eksupv1alpha1.ClusterUpgradeStatus) {
			st.UpgradePath = []string{"1.33"}
			st.ControlPlane = &eksupv1alpha1.ControlPlaneStatus{
				StepVersion:   "1.33",
				UpdateID:      "upd-1",
				StepStartedAt: ptr.To(metav1.NewTime(now)),
			}
		}),
	)
	cl := newTestClient(cu)

	initiations := 0
	r := newTestReconciler(cl, &fakeEKS{
		describeUpdate: func(params *eks.DescribeUpdateInput) (*eks.DescribeUpdateOutput, error) {
			if got := aws.ToString(params.UpdateId); got != "upd-1" {
				t.Errorf("polled update %q, want upd-1", got)
			}
			return updateOutput(ekstypes.UpdateStatusInProgress), nil
		},
		updateCluster: func(*eks.UpdateClusterVersionInput) (*eks.UpdateClusterVersionOutput, error) {
			initiations++
			return nil, errors.New("must not re-initiate while an update is outstanding")
		},
	})
	r.Now = &fixedClock{t: now}

	result := reconcileUpgrade(t, r, "prod-upgrade")
	if result.RequeueAfter != constants.DefaultPollInterval {
		t.Fatalf("expected poll interval requeue, got: %v", result.RequeueAfter)
	}
	if initiations != 0 {
		t.Fatalf("recorded updateID must be polled, never re-initiated; got %d initiations", initiations)
	}

	updated := getUpgrade(t, cl, "prod-upgrade")
	if updated.Status.Phase != eksupv1alpha1.PhaseUpgradingControlPlane {
		t.Fatalf("expected phase unchanged, got: %s", updated.Status.Phase)
	}
	if updated.Status.ControlPlane.UpdateID != "upd-1" {
		t.Fatalf("expected updateID preserved, got: %q", updated.Status.ControlPlane.UpdateID)
	}
}

func TestReconcile_ControlPlaneStepCompletionClearsUpdateID(t *testing.T) {
	now := time.Now()
	cu := newClusterUpgrade("prod-upgrade",
		withFinalizer,
		withPhase(eksupv1alpha1.PhaseUpgradingControlPlane),
		withIdentity,
		withStatus(func(st *eksupv1alpha1.ClusterUpgradeStatus) {
			st.UpgradePath = []string{"1.33", "1.34"}
			st.ControlPlane = &eksupv1alpha1.ControlPlaneStatus{
				StepVersion:   "1.33",
				UpdateID:      "upd-1",
				StepStartedAt: ptr.To(metav1.NewTime(now)),
			}
		}),
	)
	cl := newTestClient(cu)
	r := newTestReconciler(cl, &fakeEKS{
		describeUpdate: func(*eks.DescribeUpdateInput) (*eks.DescribeUpdateOutput, error) {
			return updateOutput(ekstypes.UpdateStatusSuccessful), nil
		},
	})

	result := reconcileUpgrade(t, r, "prod-upgrade")
	if result.RequeueAfter != constants.RequeueNow {
		t.Fatalf("expected immediate requeue into the next step, got: %+v", result)
	}

	updated := getUpgrade(t, cl, "prod-upgrade")
	if updated.Status.CurrentVersion != "1.33" {
		t.Fatalf("expected currentVersion 1.33 after the step, got: %s", updated.Status.CurrentVersion)
	}
	cp := updated.Status.ControlPlane
	if cp == nil {
		t.Fatal("expected controlPlane status to survive")
	}
	if cp.UpdateID != "" || cp.StepVersion != "" || cp.StepStartedAt != nil {
		t.Fatalf("expected step state cleared by the merge patch, got: %+v", cp)
	}
	if want := []string{"1.33"}; !slices.Equal(cp.CompletedSteps, want) {
		t.Fatalf("completedSteps = %v, want %v", cp.CompletedSteps, want)
	}
}

func TestReconcile_ControlPlaneDoneMovesToAddons(t *testing.T) {
	cu := newClusterUpgrade("prod-upgrade",
		withFinalizer,
		withPhase(eksupv1alpha1.PhaseUpgradingControlPlane),
		withIdentity,
		withStatus(func(st *eksupv1alpha1.ClusterUpgradeStatus) {
			st.UpgradePath = []string{"1.33", "1.34"}
			st.CurrentVersion = "1.34"
			st.ControlPlane = &eksupv1alpha1.ControlPlaneStatus{
				CompletedSteps: []string{"1.33", "1.34"},
			}
		}),
	)
	cl := newTestClient(cu)
	r := newTestReconciler(cl, &fakeEKS{})

	result := reconcileUpgrade(t, r, "prod-upgrade")
	if result.RequeueAfter != constants.RequeueNow {
		t.Fatalf("expected immediate requeue into UpgradingAddons, got: %+v", result)
	}

	updated := getUpgrade(t, cl, "prod-upgrade")
	if updated.Status.Phase != eksupv1alpha1.PhaseUpgradingAddons {
		t.Fatalf("expected phase UpgradingAddons, got: %s", updated.Status.Phase)
	}
}

func TestReconcile_AddonUpdateInitiated(t *testing.T) {
	cu := newClusterUpgrade("prod-upgrade",
		withFinalizer,
		withPhase(eksupv1alpha1.PhaseUpgradingAddons),
		withIdentity,
	)
	cl := newTestClient(cu)
	r := newTestReconciler(cl, &fakeEKS{
		listAddons: func(*eks.ListAddonsInput) (*eks.ListAddonsOutput, error) {
			return &eks.ListAddonsOutput{Addons: []string{"coredns"}}, nil
		},
		describeAddon: func(*eks.DescribeAddonInput) (*eks.DescribeAddonOutput, error) {
			return &eks.DescribeAddonOutput{Addon: &ekstypes.Addon{
				AddonName:    aws.String("coredns"),
				AddonVersion: aws.String("v1.11.1-eksbuild.4"),
			}}, nil
		},
		describeAddonVers: func(*eks.DescribeAddonVersionsInput) (*eks.DescribeAddonVersionsOutput, error) {
			return &eks.DescribeAddonVersionsOutput{Addons: []ekstypes.AddonInfo{{
				AddonVersions: []ekstypes.AddonVersionInfo{{
					AddonVersion:    aws.String("v1.11.4-eksbuild.1"),
					Compatibilities: []ekstypes.Compatibility{{DefaultVersion: true}},
				}},
			}}}, nil
		},
		updateAddon: func(params *eks.UpdateAddonInput) (*eks.UpdateAddonOutput, error) {
			if got := aws.ToString(params.AddonVersion); got != "v1.11.4-eksbuild.1" {
				t.Errorf("addon version = %q, want the EKS default for the target", got)
			}
			return &eks.UpdateAddonOutput{Update: &ekstypes.Update{Id: aws.String("upd-addon-1")}}, nil
		},
	})

	result := reconcileUpgrade(t, r, "prod-upgrade")
	if result.RequeueAfter != constants.DefaultPollInterval {
		t.Fatalf("expected poll interval requeue, got: %v", result.RequeueAfter)
	}

	updated := getUpgrade(t, cl, "prod-upgrade")
	st := updated.Status.Addons
	if st == nil || st.Name != "coredns" || st.UpdateID != "upd-addon-1" {
		t.Fatalf("expected addon step state recorded, got: %+v", st)
	}
	if st.Version != "v1.11.4-eksbuild.1" {
		t.Fatalf("expected resolved addon version in status, got: %s", st.Version)
	}
}

func TestReconcile_NodeGroupsAtTargetCompletesUpgrade(t *testing.T) {
	cu := newClusterUpgrade("prod-upgrade",
		withFinalizer,
		withPhase(eksupv1alpha1.PhaseUpgradingNodeGroups),
		withIdentity,
		withSpec(func(spec *eksupv1alpha1.ClusterUpgradeSpec) {
			spec.NodeGroups = []string{"workers"}
		}),
		withStatus(func(st *eksupv1alpha1.ClusterUpgradeStatus) {
			st.CurrentVersion = "1.34"
			st.UpgradePath = []string{"1.33", "1.34"}
		}),
	)
	cl := newTestClient(cu)
	r := newTestReconciler(cl, &fakeEKS{
		describeNodegroup: func(*eks.DescribeNodegroupInput) (*eks.DescribeNodegroupOutput, error) {
			return &eks.DescribeNodegroupOutput{Nodegroup: &ekstypes.Nodegroup{
				NodegroupName: aws.String("workers"),
				Version:       aws.String("1.34"),
			}}, nil
		},
	})

	result := reconcileUpgrade(t, r, "prod-upgrade")
	if !result.IsZero() {
		t.Fatalf("expected no requeue after completion, got: %+v", result)
	}

	updated := getUpgrade(t, cl, "prod-upgrade")
	if updated.Status.Phase != eksupv1alpha1.PhaseCompleted {
		t.Fatalf("expected phase Completed, got: %s", updated.Status.Phase)
	}
	if updated.Status.CompletedAt == nil {
		t.Fatal("expected completedAt to be stamped")
	}
	cond := apimeta.FindStatusCondition(updated.Status.Conditions, eksupv1alpha1.ConditionReady)
	if cond == nil || cond.Status != metav1.ConditionTrue {
		t.Fatalf("expected Ready=True condition, got: %+v", cond)
	}
	if !slices.Contains(updated.Status.Notified, eksupv1alpha1.EventCompleted) {
		t.Fatalf("expected Completed in notified guard, got: %v", updated.Status.Notified)
	}
}

func TestReconcile_DowngradeFailsPermanently(t *testing.T) {
	cu := newClusterUpgrade("prod-upgrade",
		withFinalizer,
		withPhase(eksupv1alpha1.PhasePlanning),
		withIdentity,
	)
	cl := newTestClient(cu)
	r := newTestReconciler(cl, &fakeEKS{
		describeCluster: func(*eks.DescribeClusterInput) (*eks.DescribeClusterOutput, error) {
			return clusterOutput("1.36"), nil
		},
	})

	result := reconcileUpgrade(t, r, "prod-upgrade")
	if !result.IsZero() {
		t.Fatalf("expected no requeue after permanent failure, got: %+v", result)
	}

	updated := getUpgrade(t, cl, "prod-upgrade")
	if updated.Status.Phase != eksupv1alpha1.PhaseFailed {
		t.Fatalf("expected phase Failed, got: %s", updated.Status.Phase)
	}
	if !strings.Contains(updated.Status.Message, "downgrade") {
		t.Fatalf("expected the causing error verbatim in message, got: %s", updated.Status.Message)
	}
	cond := apimeta.FindStatusCondition(updated.Status.Conditions, eksupv1alpha1.ConditionReady)
	if cond == nil || cond.Status != metav1.ConditionFalse || cond.Reason != eksupv1alpha1.ReasonFailed {
		t.Fatalf("expected Ready=False/UpgradeFailed condition, got: %+v", cond)
	}

	// A second tick on the terminal phase must not touch AWS or notify again.
	result = reconcileUpgrade(t, r, "prod-upgrade")
	if !result.IsZero() {
		t.Fatalf("expected terminal phase to stay frozen, got: %+v", result)
	}

	events := sentEvents(t, r)
	if kinds := events.kinds(); len(kinds) != 1 || kinds[0] != eksupv1alpha1.EventFailed {
		t.Fatalf("expected exactly one Failed notification, got: %v", kinds)
	}
}

func TestReconcile_TransientAWSErrorKeepsPhase(t *testing.T) {
	cu := newClusterUpgrade("prod-upgrade",
		withFinalizer,
		withPhase(eksupv1alpha1.PhasePlanning),
		withIdentity,
	)
	cl := newTestClient(cu)
	r := newTestReconciler(cl, &fakeEKS{
		describeCluster: func(*eks.DescribeClusterInput) (*eks.DescribeClusterOutput, error) {
			return nil, &ekstypes.ResourceInUseException{Message: aws.String("another update is in progress")}
		},
	})

	result := reconcileUpgrade(t, r, "prod-upgrade")
	if result.RequeueAfter != constants.RequeueTransient {
		t.Fatalf("expected %v requeue, got: %v", constants.RequeueTransient, result.RequeueAfter)
	}

	updated := getUpgrade(t, cl, "prod-upgrade")
	if updated.Status.Phase != eksupv1alpha1.PhasePlanning {
		t.Fatalf("expected phase unchanged on transient error, got: %s", updated.Status.Phase)
	}
	cond := apimeta.FindStatusCondition(updated.Status.Conditions, eksupv1alpha1.ConditionReady)
	if cond == nil || cond.Status != metav1.ConditionFalse || cond.Reason != eksupv1alpha1.ReasonTransientError {
		t.Fatalf("expected Ready=False/TransientError condition, got: %+v", cond)
	}
}

func TestReconcile_StepTimeoutIsRetried(t *testing.T) {
	now := time.Now()
	cu := newClusterUpgrade("prod-upgrade",
		withFinalizer,
		withPhase(eksupv1alpha1.PhaseUpgradingControlPlane),
		withIdentity,
		withStatus(func(st *eksupv1alpha1.ClusterUpgradeStatus) {
			st.UpgradePath = []string{"1.33"}
			st.ControlPlane = &eksupv1alpha1.ControlPlaneStatus{
				StepVersion:   "1.33",
				UpdateID:      "upd-1",
				StepStartedAt: ptr.To(metav1.NewTime(now.Add(-2 * time.Hour))),
			}
		}),
	)
	cl := newTestClient(cu)
	r := newTestReconciler(cl, &fakeEKS{
		describeUpdate: func(*eks.DescribeUpdateInput) (*eks.DescribeUpdateOutput, error) {
			return updateOutput(ekstypes.UpdateStatusInProgress), nil
		},
	})
	r.Now = &fixedClock{t: now}

	// The wait limit is exceeded but the cloud update may still land, so the
	// handle keeps being polled instead of failing the upgrade.
	result := reconcileUpgrade(t, r, "prod-upgrade")
	if result.RequeueAfter != constants.RequeueTransient {
		t.Fatalf("expected %v requeue, got: %v", constants.RequeueTransient, result.RequeueAfter)
	}

	updated := getUpgrade(t, cl, "prod-upgrade")
	if updated.Status.Phase != eksupv1alpha1.PhaseUpgradingControlPlane {
		t.Fatalf("expected phase unchanged, got: %s", updated.Status.Phase)
	}
	if updated.Status.ControlPlane.UpdateID != "upd-1" {
		t.Fatalf("expected update handle preserved, got: %q", updated.Status.ControlPlane.UpdateID)
	}
}

func TestReconcile_FailedUpdateFreezesUpgrade(t *testing.T) {
	now := time.Now()
	cu := newClusterUpgrade("prod-upgrade",
		withFinalizer,
		withPhase(eksupv1alpha1.PhaseUpgradingControlPlane),
		withIdentity,
		withStatus(func(st *eksupv1alpha1.ClusterUpgradeStatus) {
			st.UpgradePath = []string{"1.33"}
			st.ControlPlane = &eksupv1alpha1.ControlPlaneStatus{
				StepVersion:   "1.33",
				UpdateID:      "upd-1",
				StepStartedAt: ptr.To(metav1.NewTime(now)),
			}
		}),
	)
	cl := newTestClient(cu)
	r := newTestReconciler(cl, &fakeEKS{
		describeUpdate: func(*eks.DescribeUpdateInput) (*eks.DescribeUpdateOutput, error) {
			return &eks.DescribeUpdateOutput{Update: &ekstypes.Update{
				Id:     aws.String("upd-1"),
				Status: ekstypes.UpdateStatusFailed,
				Errors: []ekstypes.ErrorDetail{{
					ErrorCode:    ekstypes.ErrorCodeIpNotAvailable,
					ErrorMessage: aws.String("insufficient free IP addresses"),
				}},
			}}, nil
		},
	})

	result := reconcileUpgrade(t, r, "prod-upgrade")
	if !result.IsZero() {
		t.Fatalf("expected no requeue after permanent failure, got: %+v", result)
	}

	updated := getUpgrade(t, cl, "prod-upgrade")
	if updated.Status.Phase != eksupv1alpha1.PhaseFailed {
		t.Fatalf("expected phase Failed, got: %s", updated.Status.Phase)
	}
	if !strings.Contains(updated.Status.Message, "insufficient free IP addresses") {
		t.Fatalf("expected EKS error detail in message, got: %s", updated.Status.Message)
	}
}

func TestReconcile_AuthErrorRequeuesLonger(t *testing.T) {
	cu := newClusterUpgrade("prod-upgrade",
		withFinalizer,
		withPhase(eksupv1alpha1.PhasePlanning),
	)
	cl := newTestClient(cu)
	r := newTestReconciler(cl, &fakeEKS{})
	r.ClientFactory = &stubFactory{err: &awsclient.AuthError{
		Op:  "load configuration",
		Err: errors.New("no credential providers configured"),
	}}

	result := reconcileUpgrade(t, r, "prod-upgrade")
	if result.RequeueAfter != constants.RequeueAuth {
		t.Fatalf("expected %v requeue for auth failure, got: %v", constants.RequeueAuth, result.RequeueAfter)
	}

	updated := getUpgrade(t, cl, "prod-upgrade")
	if updated.Status.Phase != eksupv1alpha1.PhasePlanning {
		t.Fatalf("expected phase unchanged, got: %s", updated.Status.Phase)
	}
	cond := apimeta.FindStatusCondition(updated.Status.Conditions, eksupv1alpha1.ConditionAWSAuthenticated)
	if cond == nil || cond.Status != metav1.ConditionFalse {
		t.Fatalf("expected AWSAuthenticated=False condition, got: %+v", cond)
	}
}

func TestReconcile_SuspendAnnotation(t *testing.T) {
	cu := newClusterUpgrade("prod-upgrade",
		withFinalizer,
		withAnnotation(constants.SuspendAnnotation, "maintenance"),
	)
	cl := newTestClient(cu)
	r := newTestReconciler(cl, &fakeEKS{})

	result := reconcileUpgrade(t, r, "prod-upgrade")
	if result.RequeueAfter != constants.RequeueSuspended {
		t.Fatalf("expected %v requeue, got: %v", constants.RequeueSuspended, result.RequeueAfter)
	}

	updated := getUpgrade(t, cl, "prod-upgrade")
	if updated.Status.Phase != eksupv1alpha1.PhasePending {
		t.Fatalf("expected phase Pending while suspended, got: %s", updated.Status.Phase)
	}
	if !strings.Contains(updated.Status.Message, "suspended") {
		t.Fatalf("expected suspension message, got: %s", updated.Status.Message)
	}
}

func TestReconcile_ResetAnnotation(t *testing.T) {
	cu := newClusterUpgrade("prod-upgrade",
		withFinalizer,
		withPhase(eksupv1alpha1.PhaseFailed),
		withIdentity,
		withAnnotation(constants.ResetAnnotation, "true"),
		withStatus(func(st *eksupv1alpha1.ClusterUpgradeStatus) {
			st.UpgradePath = []string{"1.33", "1.34"}
			st.Notified = []eksupv1alpha1.LifecycleEvent{eksupv1alpha1.EventStarted, eksupv1alpha1.EventFailed}
			st.Message = "upgrade not possible"
		}),
	)
	cl := newTestClient(cu)
	r := newTestReconciler(cl, &fakeEKS{})

	result := reconcileUpgrade(t, r, "prod-upgrade")
	if result.RequeueAfter != constants.RequeueTransient {
		t.Fatalf("expected %v requeue, got: %v", constants.RequeueTransient, result.RequeueAfter)
	}

	updated := getUpgrade(t, cl, "prod-upgrade")
	if _, exists := updated.Annotations[constants.ResetAnnotation]; exists {
		t.Fatal("expected reset annotation to be removed")
	}
	if updated.Status.Phase != eksupv1alpha1.PhasePending {
		t.Fatalf("expected phase reset to Pending, got: %s", updated.Status.Phase)
	}
	if updated.Status.UpgradePath != nil || updated.Status.Notified != nil || updated.Status.Identity != nil {
		t.Fatalf("expected accumulated state cleared, got: %+v", updated.Status)
	}
}

func TestReconcile_GenerationChangeRestartsUpgrade(t *testing.T) {
	cu := newClusterUpgrade("prod-upgrade",
		withFinalizer,
		withPhase(eksupv1alpha1.PhaseUpgradingControlPlane),
		withGeneration(2, 1),
		withStatus(func(st *eksupv1alpha1.ClusterUpgradeStatus) {
			st.UpgradePath = []string{"1.33"}
			st.ControlPlane = &eksupv1alpha1.ControlPlaneStatus{CompletedSteps: []string{"1.33"}}
		}),
	)
	cl := newTestClient(cu)
	r := newTestReconciler(cl, &fakeEKS{})

	result := reconcileUpgrade(t, r, "prod-upgrade")
	if result.RequeueAfter != constants.RequeueTransient {
		t.Fatalf("expected %v requeue, got: %v", constants.RequeueTransient, result.RequeueAfter)
	}

	updated := getUpgrade(t, cl, "prod-upgrade")
	if updated.Status.Phase != eksupv1alpha1.PhasePending {
		t.Fatalf("expected phase reset to Pending, got: %s", updated.Status.Phase)
	}
	if updated.Status.ObservedGeneration != 2 {
		t.Fatalf("expected observedGeneration=2, got: %d", updated.Status.ObservedGeneration)
	}
	if updated.Status.ControlPlane != nil {
		t.Fatalf("expected control plane state cleared, got: %+v", updated.Status.ControlPlane)
	}
}

func TestReconcile_TerminalPhaseFrozenOnSpecChange(t *testing.T) {
	cu := newClusterUpgrade("prod-upgrade",
		withFinalizer,
		withPhase(eksupv1alpha1.PhaseCompleted),
		withGeneration(2, 1),
	)
	cl := newTestClient(cu)
	r := newTestReconciler(cl, &fakeEKS{})

	result := reconcileUpgrade(t, r, "prod-upgrade")
	if !result.IsZero() {
		t.Fatalf("expected terminal phase to return an empty result, got: %+v", result)
	}

	updated := getUpgrade(t, cl, "prod-upgrade")
	if updated.Status.Phase != eksupv1alpha1.PhaseCompleted {
		t.Fatalf("expected phase to stay Completed, got: %s", updated.Status.Phase)
	}
	if !updated.Status.LastUpdated.IsZero() {
		t.Fatal("expected no status write on a frozen terminal phase")
	}
}

func TestReconcile_MaintenanceWindowParksUpgrade(t *testing.T) {
	cu := newClusterUpgrade("prod-upgrade",
		withFinalizer,
		withSpec(func(spec *eksupv1alpha1.ClusterUpgradeSpec) {
			// Fires on Feb 29 only, so the window is effectively always closed.
			spec.Maintenance = &eksupv1alpha1.MaintenanceSpec{
				Windows: []eksupv1alpha1.WindowSpec{{
					Start:    "0 0 29 2 *",
					Duration: metav1.Duration{Duration: time.Hour},
					Timezone: "UTC",
				}},
			}
		}),
	)
	cl := newTestClient(cu)
	r := newTestReconciler(cl, &fakeEKS{})

	result := reconcileUpgrade(t, r, "prod-upgrade")
	if result.RequeueAfter != 5*time.Minute {
		t.Fatalf("expected requeue capped at 5m, got: %v", result.RequeueAfter)
	}

	updated := getUpgrade(t, cl, "prod-upgrade")
	if updated.Status.Phase != eksupv1alpha1.PhasePending {
		t.Fatalf("expected phase Pending outside the window, got: %s", updated.Status.Phase)
	}
	if updated.Status.NextMaintenanceWindow == nil {
		t.Fatal("expected nextMaintenanceWindow in status")
	}
}

func TestReconcile_BlockedByActiveUpgradeOnSameCluster(t *testing.T) {
	cu := newClusterUpgrade("prod-upgrade", withFinalizer)
	other := newClusterUpgrade("prod-upgrade-old",
		withFinalizer,
		withPhase(eksupv1alpha1.PhaseUpgradingControlPlane),
	)
	cl := newTestClient(cu, other)
	r := newTestReconciler(cl, &fakeEKS{})

	result := reconcileUpgrade(t, r, "prod-upgrade")
	if result.RequeueAfter != 2*time.Minute {
		t.Fatalf("expected 2m requeue while queued, got: %v", result.RequeueAfter)
	}

	updated := getUpgrade(t, cl, "prod-upgrade")
	if updated.Status.Phase != eksupv1alpha1.PhasePending {
		t.Fatalf("expected phase Pending while blocked, got: %s", updated.Status.Phase)
	}
	if !strings.Contains(updated.Status.Message, "prod-upgrade-old") {
		t.Fatalf("expected blocking upgrade named in message, got: %s", updated.Status.Message)
	}
}

func TestReconcile_DeletionRemovesFinalizer(t *testing.T) {
	cu := newClusterUpgrade("prod-upgrade", withFinalizer)
	cl := newTestClient(cu)
	r := newTestReconciler(cl, &fakeEKS{})

	if err := cl.Delete(context.Background(), cu); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}

	reconcileUpgrade(t, r, "prod-upgrade")

	var gone eksupv1alpha1.ClusterUpgrade
	err := cl.Get(context.Background(), types.NamespacedName{Name: "prod-upgrade"}, &gone)
	if err == nil {
		t.Fatal("expected object to be gone after finalizer removal")
	}
}

// TestReconcile_FullUpgradeWalk drives a 1.32 cluster to 1.34 tick by tick:
// two control plane steps, one add-on, one node group. Every EKS update
// succeeds on its first poll.
func TestReconcile_FullUpgradeWalk(t *testing.T) {
	cu := newClusterUpgrade("prod-upgrade", withFinalizer)
	cl := newTestClient(cu)

	clusterVersion := "1.32"
	addonVersion := "v1.10.1-eksbuild.2"
	nodeGroupVersion := "1.32"
	var cpUpdates, addonUpdates, nodeGroupUpdates, stsCalls int

	eksAPI := &fakeEKS{
		describeCluster: func(*eks.DescribeClusterInput) (*eks.DescribeClusterOutput, error) {
			return clusterOutput(clusterVersion), nil
		},
		updateCluster: func(params *eks.UpdateClusterVersionInput) (*eks.UpdateClusterVersionOutput, error) {
			cpUpdates++
			clusterVersion = aws.ToString(params.Version)
			return &eks.UpdateClusterVersionOutput{Update: &ekstypes.Update{Id: aws.String("upd-cp")}}, nil
		},
		describeUpdate: func(*eks.DescribeUpdateInput) (*eks.DescribeUpdateOutput, error) {
			return updateOutput(ekstypes.UpdateStatusSuccessful), nil
		},
		listAddons: func(*eks.ListAddonsInput) (*eks.ListAddonsOutput, error) {
			return &eks.ListAddonsOutput{Addons: []string{"coredns"}}, nil
		},
		describeAddon: func(*eks.DescribeAddonInput) (*eks.DescribeAddonOutput, error) {
			return &eks.DescribeAddonOutput{Addon: &ekstypes.Addon{
				AddonName:    aws.String("coredns"),
				AddonVersion: aws.String(addonVersion),
			}}, nil
		},
		describeAddonVers: func(*eks.DescribeAddonVersionsInput) (*eks.DescribeAddonVersionsOutput, error) {
			return &eks.DescribeAddonVersionsOutput{Addons: []ekstypes.AddonInfo{{
				AddonVersions: []ekstypes.AddonVersionInfo{{
					AddonVersion:    aws.String("v1.12.0-eksbuild.1"),
					Compatibilities: []ekstypes.Compatibility{{DefaultVersion: true}},
				}},
			}}}, nil
		},
		updateAddon: func(params *eks.UpdateAddonInput) (*eks.UpdateAddonOutput, error) {
			addonUpdates++
			addonVersion = aws.ToString(params.AddonVersion)
			return &eks.UpdateAddonOutput{Update: &ekstypes.Update{Id: aws.String("upd-addon")}}, nil
		},
		listNodegroups: func(*eks.ListNodegroupsInput) (*eks.ListNodegroupsOutput, error) {
			return &eks.ListNodegroupsOutput{Nodegroups: []string{"workers"}}, nil
		},
		describeNodegroup: func(*eks.DescribeNodegroupInput) (*eks.DescribeNodegroupOutput, error) {
			return &eks.DescribeNodegroupOutput{Nodegroup: &ekstypes.Nodegroup{
				NodegroupName: aws.String("workers"),
				Version:       aws.String(nodeGroupVersion),
			}}, nil
		},
		updateNodegroup: func(params *eks.UpdateNodegroupVersionInput) (*eks.UpdateNodegroupVersionOutput, error) {
			nodeGroupUpdates++
			nodeGroupVersion = aws.ToString(params.Version)
			return &eks.UpdateNodegroupVersionOutput{Update: &ekstypes.Update{Id: aws.String("upd-ng")}}, nil
		},
	}

	r := newTestReconciler(cl, eksAPI)
	r.ClientFactory = &stubFactory{clients: &awsclient.Clients{
		EKS: eksAPI,
		STS: &fakeSTS{
			getCallerIdentity: func(*sts.GetCallerIdentityInput) (*sts.GetCallerIdentityOutput, error) {
				stsCalls++
				return &sts.GetCallerIdentityOutput{
					Account: aws.String("111122223333"),
					Arn:     aws.String("arn:aws:iam::111122223333:role/eksup"),
					UserId:  aws.String("AROAEXAMPLE"),
				}, nil
			},
		},
		Region: "us-east-1",
	}}

	var phasesSeen []eksupv1alpha1.UpgradePhase
	for tick := 0; tick < 25; tick++ {
		result := reconcileUpgrade(t, r, "prod-upgrade")

		current := getUpgrade(t, cl, "prod-upgrade")
		if len(phasesSeen) == 0 || phasesSeen[len(phasesSeen)-1] != current.Status.Phase {
			phasesSeen = append(phasesSeen, current.Status.Phase)
		}
		if current.Status.Phase.IsTerminal() && result.IsZero() {
			break
		}
	}

	wantPhases := []eksupv1alpha1.UpgradePhase{
		eksupv1alpha1.PhasePlanning,
		eksupv1alpha1.PhasePreflightChecking,
		eksupv1alpha1.PhaseUpgradingControlPlane,
		eksupv1alpha1.PhaseUpgradingAddons,
		eksupv1alpha1.PhaseUpgradingNodeGroups,
		eksupv1alpha1.PhaseCompleted,
	}
	if !slices.Equal(phasesSeen, wantPhases) {
		t.Fatalf("phase sequence = %v, want %v", phasesSeen, wantPhases)
	}

	if cpUpdates != 2 {
		t.Errorf("control plane updates = %d, want 2 (1.33 then 1.34)", cpUpdates)
	}
	if addonUpdates != 1 {
		t.Errorf("addon updates = %d, want 1", addonUpdates)
	}
	if nodeGroupUpdates != 1 {
		t.Errorf("node group updates = %d, want 1", nodeGroupUpdates)
	}
	if stsCalls != 1 {
		t.Errorf("GetCallerIdentity calls = %d, want 1", stsCalls)
	}

	final := getUpgrade(t, cl, "prod-upgrade")
	if final.Status.CurrentVersion != "1.34" {
		t.Errorf("currentVersion = %s, want 1.34", final.Status.CurrentVersion)
	}
	if final.Status.ObservedGeneration != final.Generation {
		t.Errorf("observedGeneration = %d, want %d", final.Status.ObservedGeneration, final.Generation)
	}
	if want := []string{"1.33", "1.34"}; !slices.Equal(final.Status.ControlPlane.CompletedSteps, want) {
		t.Errorf("completedSteps = %v, want %v", final.Status.ControlPlane.CompletedSteps, want)
	}

	events := sentEvents(t, r)
	wantKinds := []eksupv1alpha1.LifecycleEvent{eksupv1alpha1.EventStarted, eksupv1alpha1.EventCompleted}
	if kinds := events.kinds(); !slices.Equal(kinds, wantKinds) {
		t.Fatalf("notifications = %v, want %v", kinds, wantKinds)
	}
	if !slices.Equal(final.Status.Notified, wantKinds) {
		t.Fatalf("notified guard = %v, want %v", final.Status.Notified, wantKinds)
	}
}
