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
	"strconv"
	"time"

	smcv1alpha1 "secret-manager-operator/api/v1alpha1"
)

// Requeue delays in minutes, indexed by the consecutive error count. Counts
// past the end of the table reuse the last entry.
var backoffMinutes = []int{1, 1, 2, 3, 5, 8, 13, 21, 34, 55, 89, 144, 233, 377, 610, 987, 1597, 2584, 4181, 6765}

// BackoffFor returns the requeue delay after errorCount consecutive
// failures, capped at MaxBackoff. It is pure and monotonically
// non-decreasing in errorCount up to the cap.
func BackoffFor(errorCount int) time.Duration {
	idx := errorCount
	if idx < 0 {
		idx = 0
	}
	if idx >= len(backoffMinutes) {
		idx = len(backoffMinutes) - 1
	}
	d := time.Duration(backoffMinutes[idx]) * time.Minute
	if d > MaxBackoff {
		return MaxBackoff
	}
	return d
}

// errorCountFromAnnotation reads a consecutive error count persisted on the
// resource. Missing or malformed values count as zero.
func errorCountFromAnnotation(smc *smcv1alpha1.SecretManagerConfig, key string) int {
	raw, ok := smc.GetAnnotations()[key]
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// setErrorCountAnnotation writes the count back, or removes the annotation
// when the count has been reset to zero.
func setErrorCountAnnotation(smc *smcv1alpha1.SecretManagerConfig, key string, count int) {
	annotations := smc.GetAnnotations()
	if count <= 0 {
		if annotations != nil {
			delete(annotations, key)
			smc.SetAnnotations(annotations)
		}
		return
	}
	if annotations == nil {
		annotations = map[string]string{}
	}
	annotations[key] = strconv.Itoa(count)
	smc.SetAnnotations(annotations)
}
