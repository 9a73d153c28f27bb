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

// Package provider implements the secret-store capability against AWS
// Secrets Manager, GCP Secret Manager and Azure Key Vault, plus parameter
// sync against AWS Parameter Store.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// PrimaryLabel is the staging label that marks the live version of every
// stored secret. Backends map it onto their native staging notion.
const PrimaryLabel = "current"

// KeyState is the observed backend state for one key: which version each
// staging label points at and the value behind the primary label.
type KeyState struct {
	Labels       map[string]string
	CurrentValue string
}

// Store is the uniform secret-store capability. All operations are bounded
// by their context and report failures as *Error with a transience
// classification.
type Store interface {
	// ReadState returns every key in the store's scope with its label to
	// version mapping and current value.
	ReadState(ctx context.Context) (map[string]KeyState, error)

	// EnsureSecret creates the container for key if it does not exist.
	// Idempotent.
	EnsureSecret(ctx context.Context, key string) error

	// PutVersion stores value as a new version of key and returns the
	// backend's identifier for that version.
	PutVersion(ctx context.Context, key, value string) (string, error)

	// MoveLabel points label at versionID, atomically detaching it from
	// whatever version held it before. Fails with ErrLabelTargetMissing
	// when versionID does not exist.
	MoveLabel(ctx context.Context, key, label, versionID string) error

	// DeleteSecret removes key with all its versions and labels. Only
	// called under an explicit destructive prune policy.
	DeleteSecret(ctx context.Context, key string) error
}

// ParameterStore syncs non-secret configuration values. Only the AWS
// implementation supports it.
type ParameterStore interface {
	// ReadParameters returns the parameters under the configured path,
	// keyed by their final path segment.
	ReadParameters(ctx context.Context) (map[string]string, error)

	// PutParameter writes one parameter under the configured path.
	PutParameter(ctx context.Context, name, value string) error
}

// ErrLabelTargetMissing is returned by MoveLabel when the target version
// does not exist.
var ErrLabelTargetMissing = errors.New("label target version does not exist")

// Error wraps a backend failure with enough context to classify it. A
// transient error is retried with backoff; a permanent one surfaces
// immediately in the resource status.
type Error struct {
	Provider  string
	Op        string
	Key       string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s %q: %v", e.Provider, e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether the operation is worth retrying.
func (e *Error) IsTransient() bool { return e.Transient }

func transientErr(provider, op, key string, err error) *Error {
	return &Error{Provider: provider, Op: op, Key: key, Transient: true, Err: err}
}

func permanentErr(provider, op, key string, err error) *Error {
	return &Error{Provider: provider, Op: op, Key: key, Transient: false, Err: err}
}

// Masked renders a secret value safe for logs: short values collapse to
// asterisks, longer values keep only the first and last four characters.
func Masked(value string) string {
	if len(value) <= 8 {
		n := len(value)
		if n > 4 {
			n = 4
		}
		masked := make([]byte, n)
		for i := range masked {
			masked[i] = '*'
		}
		return string(masked)
	}
	return value[:4] + "..." + value[len(value)-4:]
}

func stringPtr(s string) *string { return &s }
