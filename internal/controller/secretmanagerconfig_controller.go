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
	"path/filepath"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/event"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/predicate"

	smcv1alpha1 "secret-manager-operator/api/v1alpha1"
	"secret-manager-operator/internal/provider"
)

// StoreBuilder constructs the secret store for one resource. Injected in
// tests; production wiring goes through BuildStore.
type StoreBuilder func(ctx context.Context, smc *smcv1alpha1.SecretManagerConfig) (provider.Store, error)

// SecretManagerConfigReconciler syncs declarative secret state from GitOps
// checkouts to cloud secret backends.
type SecretManagerConfigReconciler struct {
	client.Client
	Scheme                  *runtime.Scheme
	Status                  *StatusManager
	Notifier                *DriftNotifier
	Sources                 SourceResolver
	BuildStore              StoreBuilder
	Recorder                record.EventRecorder
	Decryptor               Decryptor
	MaxConcurrentReconciles int
}

// +kubebuilder:rbac:groups=secret-manager.in-cloud.io,resources=secretmanagerconfigs,verbs=get;list;watch;update;patch
// +kubebuilder:rbac:groups=secret-manager.in-cloud.io,resources=secretmanagerconfigs/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=source.toolkit.fluxcd.io,resources=gitrepositories,verbs=get;list;watch
// +kubebuilder:rbac:groups=argoproj.io,resources=applications,verbs=get;list;watch;patch
// +kubebuilder:rbac:groups=notification.toolkit.fluxcd.io,resources=alerts,verbs=get;list;watch;create;update;delete

func (r *SecretManagerConfigReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx)
	started := time.Now()

	smc := &smcv1alpha1.SecretManagerConfig{}
	if err := r.Get(ctx, req.NamespacedName, smc); err != nil {
		if errors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}

	if smc.Spec.Suspend {
		logger.Info("Resource is suspended, skipping")
		return ctrl.Result{}, r.Status.MarkSuspended(ctx, smc)
	}

	if ShouldManualTrigger(smc) {
		logger.Info("Manual trigger annotation found")
		if err := r.Status.ConsumeManualTrigger(ctx, smc); err != nil {
			return ctrl.Result{}, err
		}
	}

	if err := r.Status.SetPhase(ctx, smc, smcv1alpha1.PhaseValidating, "validating spec"); err != nil {
		return ctrl.Result{}, err
	}
	if err := ValidateSpec(smc); err != nil {
		logger.Error(nil, "Invalid spec", "reason", err.Error())
		syncTotal.WithLabelValues(req.Namespace, req.Name, "invalid").Inc()
		r.event(smc, corev1.EventTypeWarning, "InvalidSpec", err.Error())
		return ctrl.Result{}, r.Status.MarkError(ctx, smc, err)
	}

	interval := DefaultReconcileInterval
	if smc.Spec.ReconcileInterval != "" {
		interval, _ = ParseInterval(smc.Spec.ReconcileInterval)
	}

	if err := r.Status.SetPhase(ctx, smc, smcv1alpha1.PhaseParsing, "computing desired state"); err != nil {
		return ctrl.Result{}, err
	}
	desired, err := r.computeDesiredState(ctx, smc)
	if err != nil {
		logger.Error(err, "Failed to compute desired state")
		syncTotal.WithLabelValues(req.Namespace, req.Name, "parse-failed").Inc()
		r.event(smc, corev1.EventTypeWarning, "ParsingFailed", err.Error())
		delay, perr := r.Status.MarkParsingDegraded(ctx, smc, err)
		if perr != nil {
			return ctrl.Result{}, perr
		}
		logger.Info("Scheduling retry", "delay", delay)
		return ctrl.Result{RequeueAfter: delay}, nil
	}

	if err := r.Status.SetPhase(ctx, smc, smcv1alpha1.PhaseSyncing, "applying desired state"); err != nil {
		return ctrl.Result{}, err
	}
	synced, drifted, err := r.sync(ctx, smc, desired)
	if err != nil {
		logger.Error(err, "Sync failed")
		syncTotal.WithLabelValues(req.Namespace, req.Name, "sync-failed").Inc()
		r.event(smc, corev1.EventTypeWarning, "SyncFailed", err.Error())
		delay, serr := r.Status.MarkSyncDegraded(ctx, smc, err)
		if serr != nil {
			return ctrl.Result{}, serr
		}
		logger.Info("Scheduling retry", "delay", delay)
		return ctrl.Result{RequeueAfter: delay}, nil
	}

	r.reportDrift(ctx, smc, drifted)

	if err := r.Status.MarkReady(ctx, smc, synced, desired.Shadowed, interval); err != nil {
		return ctrl.Result{}, err
	}

	logger.Info("Sync complete",
		"synced", synced,
		"drifted", len(drifted),
		"shadowed", len(desired.Shadowed),
		"nextRun", interval,
	)
	syncTotal.WithLabelValues(req.Namespace, req.Name, "success").Inc()
	syncedSecrets.WithLabelValues(req.Namespace, req.Name).Set(float64(synced))
	syncDuration.WithLabelValues(req.Namespace, req.Name).Observe(time.Since(started).Seconds())
	r.event(smc, corev1.EventTypeNormal, "Synced", fmt.Sprintf("synced %d keys", synced))

	return ctrl.Result{RequeueAfter: interval}, nil
}

// event records a Kubernetes Event when a recorder is wired.
func (r *SecretManagerConfigReconciler) event(smc *smcv1alpha1.SecretManagerConfig, eventType, reason, message string) {
	if r.Recorder == nil {
		return
	}
	r.Recorder.Event(smc, eventType, reason, message)
}

// computeDesiredState resolves the source checkout and extracts the desired
// key set from it, either through a Kustomize overlay or the raw
// per-environment files of every discovered service.
func (r *SecretManagerConfigReconciler) computeDesiredState(ctx context.Context, smc *smcv1alpha1.SecretManagerConfig) (*DesiredState, error) {
	dir, cleanup, err := r.Sources.Resolve(ctx, smc)
	if err != nil {
		return nil, &ParseError{File: smc.Spec.SourceRef.Name, Err: err}
	}
	defer cleanup()

	root := dir
	if smc.Spec.Secrets.BasePath != "" {
		root = filepath.Join(dir, smc.Spec.Secrets.BasePath)
	}

	if smc.Spec.Secrets.KustomizePath != "" {
		manifest, err := RenderKustomize(ctx, filepath.Join(root, smc.Spec.Secrets.KustomizePath))
		if err != nil {
			return nil, err
		}
		entries, err := ExtractKustomizeEntries(manifest)
		if err != nil {
			return nil, err
		}
		desired := NewDesiredState()
		if err := addAll(desired, entries, r.Decryptor); err != nil {
			return nil, err
		}
		return desired, nil
	}

	services, err := DiscoverApplicationFiles(root, smc.Spec.Secrets.Environment)
	if err != nil {
		return nil, err
	}

	desired := NewDesiredState()
	for _, files := range services {
		if !files.HasAnyFiles() {
			continue
		}
		serviceState, err := ExtractDesiredState(files, r.Decryptor)
		if err != nil {
			return nil, err
		}
		for _, key := range serviceState.Keys() {
			entry, _ := serviceState.Get(key)
			if files.ServiceName != "" {
				entry.Key = files.ServiceName + "/" + entry.Key
			}
			desired.add(entry)
		}
		desired.Shadowed = append(desired.Shadowed, serviceState.Shadowed...)
	}
	return desired, nil
}

// sync applies the desired state to the backend within the provider timeout
// and returns the number of keys in sync plus any drifted keys.
func (r *SecretManagerConfigReconciler) sync(ctx context.Context, smc *smcv1alpha1.SecretManagerConfig, desired *DesiredState) (int, []string, error) {
	ctx, cancel := context.WithTimeout(ctx, ProviderTimeout)
	defer cancel()

	store, err := r.BuildStore(ctx, smc)
	if err != nil {
		return 0, nil, err
	}

	actual, err := store.ReadState(ctx)
	if err != nil {
		return 0, nil, err
	}

	plan := BuildPlan(desired, actual)
	policy, _ := ParsePrunePolicy(smc.Spec.PrunePolicy)
	if _, err := ApplyPlan(ctx, store, plan, policy); err != nil {
		return 0, nil, err
	}

	synced := len(plan.Creates) + len(plan.Updates) + plan.InSync
	drifted := plan.Drift
	if policy == PruneDelete {
		drifted = nil
	}

	if smc.Spec.Configs != nil && smc.Spec.Configs.Enabled {
		params, ok := store.(provider.ParameterStore)
		if !ok {
			return 0, nil, fmt.Errorf("provider does not support parameter sync")
		}
		if _, err := SyncParameters(ctx, params, desired); err != nil {
			return 0, nil, err
		}
	}

	return synced, drifted, nil
}

// reportDrift maintains the drift condition and the external notification
// surfaces. Notification failures are logged and swallowed.
func (r *SecretManagerConfigReconciler) reportDrift(ctx context.Context, smc *smcv1alpha1.SecretManagerConfig, drifted []string) {
	logger := log.FromContext(ctx)

	if err := r.Status.SetDriftCondition(ctx, smc, drifted); err != nil {
		logger.Error(err, "Failed to record drift condition")
	}

	if len(drifted) > 0 {
		driftDetected.WithLabelValues(smc.Namespace, smc.Name).Set(float64(len(drifted)))
		r.event(smc, corev1.EventTypeWarning, "DriftDetected", fmt.Sprintf("%d unmanaged keys: %s", len(drifted), strings.Join(drifted, ", ")))
		if err := r.Notifier.NotifyDrift(ctx, smc, drifted); err != nil {
			logger.Error(err, "Drift notification failed")
		}
		return
	}

	driftDetected.WithLabelValues(smc.Namespace, smc.Name).Set(0)
	if err := r.Notifier.ResolveDrift(ctx, smc); err != nil {
		logger.Error(err, "Drift resolution notification failed")
	}
}

// specOrTriggerChanged returns true when the spec generation moved or the
// manual-trigger annotation appeared. Status and counter updates are
// filtered out to prevent reconcile loops.
func specOrTriggerChanged(oldObj, newObj client.Object) bool {
	if oldObj.GetGeneration() != newObj.GetGeneration() {
		return true
	}
	_, hadTrigger := oldObj.GetAnnotations()[AnnotationReconcile]
	_, hasTrigger := newObj.GetAnnotations()[AnnotationReconcile]
	return hasTrigger && !hadTrigger
}

// SetupWithManager sets up the controller with the Manager
func (r *SecretManagerConfigReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&smcv1alpha1.SecretManagerConfig{}).
		WithOptions(controller.Options{
			MaxConcurrentReconciles: r.MaxConcurrentReconciles,
		}).
		WithEventFilter(predicate.Funcs{
			UpdateFunc: func(e event.UpdateEvent) bool {
				return specOrTriggerChanged(e.ObjectOld, e.ObjectNew)
			},
			DeleteFunc: func(e event.DeleteEvent) bool {
				return false
			},
		}).
		Complete(r)
}
