/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package controller

import (
	"context"
	"fmt"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	smcv1alpha1 "secret-manager-operator/api/v1alpha1"
)

var (
	fluxAlertGVK = schema.GroupVersionKind{
		Group:   "notification.toolkit.fluxcd.io",
		Version: "v1beta3",
		Kind:    "Alert",
	}
	argoApplicationGVK = schema.GroupVersionKind{
		Group:   "argoproj.io",
		Version: "v1alpha1",
		Kind:    "Application",
	}
)

const (
	// driftTrigger names the event drift subscriptions listen for.
	driftTrigger = "drift-detected"

	argoSubscribePrefix = "notifications.argoproj.io/subscribe."

	managedByLabel = "app.kubernetes.io/managed-by"
	managedByValue = "secret-manager-operator"
)

// DriftNotifier fires external notifications when backend state diverges
// from the desired state. Every method is best effort: failures come back as
// *NotificationError for logging and never affect the reconcile outcome.
type DriftNotifier struct {
	client client.Client
}

// NewDriftNotifier returns a notifier writing through c.
func NewDriftNotifier(c client.Client) *DriftNotifier {
	return &DriftNotifier{client: c}
}

// NotifyDrift creates or refreshes the notification surfaces for smc: a
// per-resource alert object, and drift subscriptions decorated onto the
// referenced Application when the source is ArgoCD.
func (n *DriftNotifier) NotifyDrift(ctx context.Context, smc *smcv1alpha1.SecretManagerConfig, drifted []string) error {
	cfg := smc.Spec.Notifications
	if cfg == nil {
		return nil
	}

	if cfg.Alert {
		if err := n.ensureAlert(ctx, smc, drifted); err != nil {
			return &NotificationError{Target: "alert/" + alertName(smc), Err: err}
		}
	}
	if len(cfg.Subscriptions) > 0 && smc.Spec.SourceRef.Kind == smcv1alpha1.SourceKindApplication {
		if err := n.decorateApplication(ctx, smc); err != nil {
			return &NotificationError{Target: "application/" + smc.Spec.SourceRef.Name, Err: err}
		}
	}
	return nil
}

// ResolveDrift removes the notification surfaces once the backend is back in
// sync.
func (n *DriftNotifier) ResolveDrift(ctx context.Context, smc *smcv1alpha1.SecretManagerConfig) error {
	if err := n.removeAlert(ctx, smc); err != nil {
		return &NotificationError{Target: "alert/" + alertName(smc), Err: err}
	}
	if smc.Spec.SourceRef.Kind == smcv1alpha1.SourceKindApplication {
		if err := n.stripApplication(ctx, smc); err != nil {
			return &NotificationError{Target: "application/" + smc.Spec.SourceRef.Name, Err: err}
		}
	}
	return nil
}

func alertName(smc *smcv1alpha1.SecretManagerConfig) string {
	return smc.Name + "-drift"
}

func (n *DriftNotifier) ensureAlert(ctx context.Context, smc *smcv1alpha1.SecretManagerConfig, drifted []string) error {
	summary := fmt.Sprintf("secret drift on %s/%s: %s", smc.Namespace, smc.Name, strings.Join(drifted, ", "))

	alert := &unstructured.Unstructured{}
	alert.SetGroupVersionKind(fluxAlertGVK)
	err := n.client.Get(ctx, types.NamespacedName{Namespace: smc.Namespace, Name: alertName(smc)}, alert)
	if err != nil && !apierrors.IsNotFound(err) {
		return err
	}

	spec := map[string]any{
		"providerRef": map[string]any{"name": "default"},
		"eventSources": []any{
			map[string]any{
				"kind":      "SecretManagerConfig",
				"name":      smc.Name,
				"namespace": smc.Namespace,
			},
		},
		"summary": summary,
	}

	if apierrors.IsNotFound(err) {
		alert.SetName(alertName(smc))
		alert.SetNamespace(smc.Namespace)
		alert.SetLabels(map[string]string{managedByLabel: managedByValue})
		alert.Object["spec"] = spec
		return n.client.Create(ctx, alert)
	}

	alert.Object["spec"] = spec
	return n.client.Update(ctx, alert)
}

func (n *DriftNotifier) removeAlert(ctx context.Context, smc *smcv1alpha1.SecretManagerConfig) error {
	alert := &unstructured.Unstructured{}
	alert.SetGroupVersionKind(fluxAlertGVK)
	alert.SetName(alertName(smc))
	alert.SetNamespace(smc.Namespace)
	if err := n.client.Delete(ctx, alert); err != nil && !apierrors.IsNotFound(err) {
		return err
	}
	return nil
}

// decorateApplication adds one subscription annotation per configured drift
// subscription to the referenced Application.
func (n *DriftNotifier) decorateApplication(ctx context.Context, smc *smcv1alpha1.SecretManagerConfig) error {
	app, err := n.getApplication(ctx, smc)
	if err != nil {
		return err
	}

	patch := client.MergeFrom(app.DeepCopy())
	annotations := app.GetAnnotations()
	if annotations == nil {
		annotations = map[string]string{}
	}
	changed := false
	for _, sub := range smc.Spec.Notifications.Subscriptions {
		if sub.Trigger != driftTrigger {
			continue
		}
		key := argoSubscribePrefix + sub.Trigger + "." + sub.Service
		if annotations[key] != sub.Channel {
			annotations[key] = sub.Channel
			changed = true
		}
	}
	if !changed {
		return nil
	}
	app.SetAnnotations(annotations)
	return n.client.Patch(ctx, app, patch)
}

// stripApplication removes the drift subscription annotations, leaving any
// other subscriptions untouched.
func (n *DriftNotifier) stripApplication(ctx context.Context, smc *smcv1alpha1.SecretManagerConfig) error {
	app, err := n.getApplication(ctx, smc)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return err
	}

	patch := client.MergeFrom(app.DeepCopy())
	annotations := app.GetAnnotations()
	changed := false
	for key := range annotations {
		if strings.HasPrefix(key, argoSubscribePrefix+driftTrigger+".") {
			delete(annotations, key)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	app.SetAnnotations(annotations)
	return n.client.Patch(ctx, app, patch)
}

func (n *DriftNotifier) getApplication(ctx context.Context, smc *smcv1alpha1.SecretManagerConfig) (*unstructured.Unstructured, error) {
	app := &unstructured.Unstructured{}
	app.SetGroupVersionKind(argoApplicationGVK)
	err := n.client.Get(ctx, types.NamespacedName{
		Namespace: smc.Spec.SourceRef.Namespace,
		Name:      smc.Spec.SourceRef.Name,
	}, app)
	return app, err
}
