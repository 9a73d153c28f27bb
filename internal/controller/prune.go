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

import "fmt"

// PrunePolicy defines the behavior for keys present in the backend but
// absent from the desired state
type PrunePolicy string

const (
	// PruneReport leaves stray keys in place and reports them as drift
	// (default)
	PruneReport PrunePolicy = "report"
	// PruneDelete removes stray keys from the backend
	PruneDelete PrunePolicy = "delete"
)

// ParsePrunePolicy parses and validates the prune policy from the spec.
// Returns PruneReport if value is empty.
func ParsePrunePolicy(value string) (PrunePolicy, error) {
	if value == "" {
		return PruneReport, nil
	}
	p := PrunePolicy(value)
	if p != PruneReport && p != PruneDelete {
		return "", fmt.Errorf("invalid prune policy %q, expected %q or %q", value, PruneReport, PruneDelete)
	}
	return p, nil
}
