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
	"errors"
	"fmt"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	smcv1alpha1 "secret-manager-operator/api/v1alpha1"
)

// StatusManager is the only component that writes resource status. Each
// reconcile pass ends in exactly one of its Mark calls, so a pass either
// lands all its success fields together or only the failure-path fields.
type StatusManager struct {
	client client.Client
}

// NewStatusManager returns a manager writing through c.
func NewStatusManager(c client.Client) *StatusManager {
	return &StatusManager{client: c}
}

// ShouldManualTrigger reports whether the manual-trigger annotation is set.
func ShouldManualTrigger(smc *smcv1alpha1.SecretManagerConfig) bool {
	_, ok := smc.GetAnnotations()[AnnotationReconcile]
	return ok
}

// ConsumeManualTrigger removes the manual-trigger annotation so one
// annotation causes exactly one out-of-band pass.
func (m *StatusManager) ConsumeManualTrigger(ctx context.Context, smc *smcv1alpha1.SecretManagerConfig) error {
	if !ShouldManualTrigger(smc) {
		return nil
	}
	patch := client.MergeFrom(smc.DeepCopy())
	annotations := smc.GetAnnotations()
	delete(annotations, AnnotationReconcile)
	smc.SetAnnotations(annotations)
	return m.client.Patch(ctx, smc, patch)
}

// SetPhase records an intermediate phase transition without touching
// counters or conditions.
func (m *StatusManager) SetPhase(ctx context.Context, smc *smcv1alpha1.SecretManagerConfig, phase smcv1alpha1.SyncPhase, message string) error {
	patch := client.MergeFrom(smc.DeepCopy())
	smc.Status.Phase = phase
	smc.Status.Message = message
	return m.client.Status().Patch(ctx, smc, patch)
}

// MarkSuspended records that reconciliation is paused. Phase and counters
// stay untouched so resuming picks up where the resource left off.
func (m *StatusManager) MarkSuspended(ctx context.Context, smc *smcv1alpha1.SecretManagerConfig) error {
	patch := client.MergeFrom(smc.DeepCopy())
	smc.Status.Message = "reconciliation suspended"
	meta.SetStatusCondition(&smc.Status.Conditions, metav1.Condition{
		Type:               smcv1alpha1.ConditionReady,
		Status:             metav1.ConditionFalse,
		Reason:             "Suspended",
		Message:            "reconciliation suspended",
		ObservedGeneration: smc.Generation,
	})
	return m.client.Status().Patch(ctx, smc, patch)
}

// MarkReady records a fully successful pass: phase Ready, counters cleared,
// sync timestamps updated, shadowed-key diagnostics refreshed.
func (m *StatusManager) MarkReady(ctx context.Context, smc *smcv1alpha1.SecretManagerConfig, synced int, shadowed []ShadowedEntry, nextSync time.Duration) error {
	if err := m.patchAnnotations(ctx, smc, func() {
		setErrorCountAnnotation(smc, AnnotationParsingErrorCount, 0)
		setErrorCountAnnotation(smc, AnnotationSyncErrorCount, 0)
	}); err != nil {
		return err
	}

	patch := client.MergeFrom(smc.DeepCopy())
	now := metav1.Now()
	next := metav1.NewTime(now.Add(nextSync))

	smc.Status.Phase = smcv1alpha1.PhaseReady
	smc.Status.Message = fmt.Sprintf("%d secrets in sync", synced)
	smc.Status.SecretsSynced = int32(synced)
	smc.Status.ParsingErrorCount = 0
	smc.Status.SyncErrorCount = 0
	smc.Status.LastSyncTime = &now
	smc.Status.NextSyncTime = &next
	smc.Status.ObservedGeneration = smc.Generation
	smc.Status.DecryptionReady = true

	meta.SetStatusCondition(&smc.Status.Conditions, metav1.Condition{
		Type:               smcv1alpha1.ConditionReady,
		Status:             metav1.ConditionTrue,
		Reason:             "SyncSucceeded",
		Message:            smc.Status.Message,
		ObservedGeneration: smc.Generation,
	})
	m.setShadowedCondition(smc, shadowed)

	return m.client.Status().Patch(ctx, smc, patch)
}

// MarkParsingDegraded records a parse failure: phase Degraded, parsing
// counter incremented, and returns the backoff delay for the new count.
func (m *StatusManager) MarkParsingDegraded(ctx context.Context, smc *smcv1alpha1.SecretManagerConfig, cause error) (time.Duration, error) {
	count := errorCountFromAnnotation(smc, AnnotationParsingErrorCount) + 1
	if err := m.patchAnnotations(ctx, smc, func() {
		setErrorCountAnnotation(smc, AnnotationParsingErrorCount, count)
	}); err != nil {
		return 0, err
	}

	patch := client.MergeFrom(smc.DeepCopy())
	smc.Status.Phase = smcv1alpha1.PhaseDegraded
	smc.Status.Message = cause.Error()
	smc.Status.ParsingErrorCount = int32(count)
	if isDecryptionFailure(cause) {
		smc.Status.DecryptionReady = false
	}
	meta.SetStatusCondition(&smc.Status.Conditions, metav1.Condition{
		Type:               smcv1alpha1.ConditionReady,
		Status:             metav1.ConditionFalse,
		Reason:             "ParsingFailed",
		Message:            cause.Error(),
		ObservedGeneration: smc.Generation,
	})

	return BackoffFor(count), m.client.Status().Patch(ctx, smc, patch)
}

// MarkSyncDegraded records a provider failure: phase Degraded, sync counter
// incremented, and returns the backoff delay for the new count. Permanent
// provider failures get a distinguishing reason.
func (m *StatusManager) MarkSyncDegraded(ctx context.Context, smc *smcv1alpha1.SecretManagerConfig, cause error) (time.Duration, error) {
	count := errorCountFromAnnotation(smc, AnnotationSyncErrorCount) + 1
	if err := m.patchAnnotations(ctx, smc, func() {
		setErrorCountAnnotation(smc, AnnotationSyncErrorCount, count)
	}); err != nil {
		return 0, err
	}

	reason := "ProviderUnavailable"
	if !IsTransient(cause) {
		reason = "ProviderRejected"
	}

	patch := client.MergeFrom(smc.DeepCopy())
	smc.Status.Phase = smcv1alpha1.PhaseDegraded
	smc.Status.Message = cause.Error()
	smc.Status.SyncErrorCount = int32(count)
	meta.SetStatusCondition(&smc.Status.Conditions, metav1.Condition{
		Type:               smcv1alpha1.ConditionReady,
		Status:             metav1.ConditionFalse,
		Reason:             reason,
		Message:            cause.Error(),
		ObservedGeneration: smc.Generation,
	})

	return BackoffFor(count), m.client.Status().Patch(ctx, smc, patch)
}

// MarkError parks the resource in the Error phase. It is not requeued; a
// spec edit re-triggers reconciliation.
func (m *StatusManager) MarkError(ctx context.Context, smc *smcv1alpha1.SecretManagerConfig, cause error) error {
	patch := client.MergeFrom(smc.DeepCopy())
	smc.Status.Phase = smcv1alpha1.PhaseError
	smc.Status.Message = cause.Error()
	smc.Status.ObservedGeneration = smc.Generation
	meta.SetStatusCondition(&smc.Status.Conditions, metav1.Condition{
		Type:               smcv1alpha1.ConditionReady,
		Status:             metav1.ConditionFalse,
		Reason:             "InvalidSpec",
		Message:            cause.Error(),
		ObservedGeneration: smc.Generation,
	})
	return m.client.Status().Patch(ctx, smc, patch)
}

// SetDriftCondition records or clears the drift condition for the given
// stray keys. Values never appear here, only key names.
func (m *StatusManager) SetDriftCondition(ctx context.Context, smc *smcv1alpha1.SecretManagerConfig, drifted []string) error {
	patch := client.MergeFrom(smc.DeepCopy())
	if len(drifted) > 0 {
		meta.SetStatusCondition(&smc.Status.Conditions, metav1.Condition{
			Type:               smcv1alpha1.ConditionDriftDetected,
			Status:             metav1.ConditionTrue,
			Reason:             "StrayKeys",
			Message:            fmt.Sprintf("keys absent from source: %s", strings.Join(drifted, ", ")),
			ObservedGeneration: smc.Generation,
		})
	} else {
		meta.SetStatusCondition(&smc.Status.Conditions, metav1.Condition{
			Type:               smcv1alpha1.ConditionDriftDetected,
			Status:             metav1.ConditionFalse,
			Reason:             "InSync",
			Message:            "backend matches desired state",
			ObservedGeneration: smc.Generation,
		})
	}
	return m.client.Status().Patch(ctx, smc, patch)
}

func (m *StatusManager) setShadowedCondition(smc *smcv1alpha1.SecretManagerConfig, shadowed []ShadowedEntry) {
	if len(shadowed) == 0 {
		meta.SetStatusCondition(&smc.Status.Conditions, metav1.Condition{
			Type:               smcv1alpha1.ConditionShadowedKeys,
			Status:             metav1.ConditionFalse,
			Reason:             "NoCollisions",
			Message:            "no key defined by more than one file",
			ObservedGeneration: smc.Generation,
		})
		return
	}

	keys := make([]string, 0, len(shadowed))
	for _, s := range shadowed {
		keys = append(keys, fmt.Sprintf("%s (%s over %s)", s.Key, s.Winner, s.Loser))
	}
	meta.SetStatusCondition(&smc.Status.Conditions, metav1.Condition{
		Type:               smcv1alpha1.ConditionShadowedKeys,
		Status:             metav1.ConditionTrue,
		Reason:             "PrecedenceApplied",
		Message:            strings.Join(keys, "; "),
		ObservedGeneration: smc.Generation,
	})
}

func (m *StatusManager) patchAnnotations(ctx context.Context, smc *smcv1alpha1.SecretManagerConfig, mutate func()) error {
	patch := client.MergeFrom(smc.DeepCopy())
	mutate()
	return m.client.Patch(ctx, smc, patch)
}

func isDecryptionFailure(err error) bool {
	var derr *DecryptionError
	return errors.As(err, &derr)
}
