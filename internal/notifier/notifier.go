// Package notifier delivers upgrade lifecycle events to an operator-supplied
// webhook. Delivery is fire and forget: a failed post is logged and dropped,
// never retried, and never affects the upgrade itself.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	eksupv1alpha1 "github.com/younsl/eksup/api/v1alpha1"
)

const deliveryTimeout = 10 * time.Second

// Event is the payload posted to the webhook.
type Event struct {
	Kind        eksupv1alpha1.LifecycleEvent `json:"event"`
	Upgrade     string                       `json:"upgrade"`
	Cluster     string                       `json:"cluster"`
	Region      string                       `json:"region"`
	FromVersion string                       `json:"fromVersion,omitempty"`
	ToVersion   string                       `json:"toVersion,omitempty"`
	UpgradePath []string                     `json:"upgradePath,omitempty"`
	DryRun      bool                         `json:"dryRun,omitempty"`
	Phase       string                       `json:"phase,omitempty"`
	Message     string                       `json:"message,omitempty"`
	Timestamp   time.Time                    `json:"timestamp"`
}

// ShouldNotify reports whether the notification policy selects an event
// kind. An empty event list selects everything.
func ShouldNotify(spec *eksupv1alpha1.NotifySpec, kind eksupv1alpha1.LifecycleEvent) bool {
	if spec == nil || spec.WebhookURL == "" {
		return false
	}
	if len(spec.Events) == 0 {
		return true
	}
	return slices.Contains(spec.Events, kind)
}

type Dispatcher struct {
	client *http.Client
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		client: &http.Client{Timeout: deliveryTimeout},
	}
}

// Dispatch posts the event to url in the background. The post runs on its
// own deadline so a requeued reconcile cannot cancel an in-flight delivery.
func (d *Dispatcher) Dispatch(ctx context.Context, url string, event Event) {
	logger := log.FromContext(ctx)

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	body, err := json.Marshal(event)
	if err != nil {
		logger.Error(err, "Failed to encode notification", "event", event.Kind)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			logger.Error(err, "Failed to build notification request", "event", event.Kind)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			logger.Error(err, "Failed to deliver notification", "event", event.Kind, "upgrade", event.Upgrade)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			logger.Error(fmt.Errorf("webhook returned %s", resp.Status), "Notification rejected", "event", event.Kind, "upgrade", event.Upgrade)
			return
		}
		logger.V(1).Info("Notification delivered", "event", event.Kind, "upgrade", event.Upgrade)
	}()
}
