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
	"sort"

	"github.com/go-logr/logr"

	"secret-manager-operator/internal/provider"
)

// PlannedWrite is one key the backend must receive a new version for.
type PlannedWrite struct {
	Key   string
	Value string
}

// SyncPlan is the pure outcome of diffing desired state against the backend.
// Creates and Updates preserve desired-key order; Drift is sorted.
type SyncPlan struct {
	// Creates are keys absent from the backend.
	Creates []PlannedWrite

	// Updates are keys whose current value differs from the desired one.
	Updates []PlannedWrite

	// Drift are keys present in the backend but absent from the desired
	// state. They are only mutated under the delete prune policy.
	Drift []string

	// InSync counts keys that already agree; replaying the plan writes
	// nothing for them.
	InSync int
}

// Empty reports whether applying the plan would perform no writes.
func (p *SyncPlan) Empty() bool {
	return len(p.Creates) == 0 && len(p.Updates) == 0
}

// BuildPlan diffs the desired secret entries against the observed backend
// state. It is pure: identical inputs always produce an identical plan, and
// it never touches the backend.
func BuildPlan(desired *DesiredState, actual map[string]provider.KeyState) *SyncPlan {
	plan := &SyncPlan{}

	seen := map[string]bool{}
	for _, key := range desired.Keys() {
		entry, _ := desired.Get(key)
		if !entry.IsSecret() {
			continue
		}
		seen[key] = true

		state, exists := actual[key]
		switch {
		case !exists:
			plan.Creates = append(plan.Creates, PlannedWrite{Key: key, Value: entry.Value})
		case state.CurrentValue != entry.Value:
			plan.Updates = append(plan.Updates, PlannedWrite{Key: key, Value: entry.Value})
		default:
			plan.InSync++
		}
	}

	for key := range actual {
		if !seen[key] {
			plan.Drift = append(plan.Drift, key)
		}
	}
	sort.Strings(plan.Drift)

	return plan
}

// ApplyPlan executes the plan against the store. For every write the version
// is created before the primary label is moved, so the label always resolves
// to a durable version. The first failure aborts the pass; already-applied
// writes are safe to replay because the next diff will see them as in sync.
func ApplyPlan(ctx context.Context, store provider.Store, plan *SyncPlan, policy PrunePolicy) (int, error) {
	logger := logr.FromContextOrDiscard(ctx)
	applied := 0

	for _, write := range plan.Creates {
		logger.V(1).Info("Creating secret", "key", write.Key, "value", provider.Masked(write.Value))
		if err := store.EnsureSecret(ctx, write.Key); err != nil {
			return applied, err
		}
		versionID, err := store.PutVersion(ctx, write.Key, write.Value)
		if err != nil {
			return applied, err
		}
		if err := store.MoveLabel(ctx, write.Key, provider.PrimaryLabel, versionID); err != nil {
			return applied, err
		}
		applied++
	}

	for _, write := range plan.Updates {
		logger.V(1).Info("Updating secret", "key", write.Key, "value", provider.Masked(write.Value))
		versionID, err := store.PutVersion(ctx, write.Key, write.Value)
		if err != nil {
			return applied, err
		}
		if err := store.MoveLabel(ctx, write.Key, provider.PrimaryLabel, versionID); err != nil {
			return applied, err
		}
		applied++
	}

	if policy == PruneDelete {
		for _, key := range plan.Drift {
			if err := store.DeleteSecret(ctx, key); err != nil {
				return applied, err
			}
			applied++
		}
	}

	return applied, nil
}

// SyncParameters writes the desired property entries to the parameter store,
// skipping values that already match. Returns the number written.
func SyncParameters(ctx context.Context, params provider.ParameterStore, desired *DesiredState) (int, error) {
	existing, err := params.ReadParameters(ctx)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, key := range desired.Keys() {
		entry, _ := desired.Get(key)
		if entry.IsSecret() {
			continue
		}
		if existing[key] == entry.Value {
			continue
		}
		if err := params.PutParameter(ctx, key, entry.Value); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}
