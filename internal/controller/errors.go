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
	"errors"
	"fmt"
)

// ValidationError reports an invalid field in the resource spec. It is
// permanent: reconciliation will not succeed until the spec changes, so the
// controller parks the resource in the Error phase instead of retrying.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for the given spec field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ParseError reports a malformed line in a discovered configuration file.
// Line is 1-based; it is zero when the error is not tied to a single line
// (for example an unreadable file).
type ParseError struct {
	File string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse %s:%d: %v", e.File, e.Line, e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.File, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// DecryptionError reports that a value marked as encrypted could not be
// decrypted. The key name is recorded but never the value.
type DecryptionError struct {
	Key string
	Err error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("decrypt %s: %v", e.Key, e.Err)
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// NotificationError reports a failed delivery of a drift notification.
// Notifications are best effort, so this never fails a reconcile pass; it is
// surfaced through the resource status instead.
type NotificationError struct {
	Target string
	Err    error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notify %s: %v", e.Target, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried with backoff. Provider
// errors carry their own classification; everything else that is not a
// permanent validation or parse failure is treated as transient.
func IsTransient(err error) bool {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return false
	}
	var perr *ParseError
	if errors.As(err, &perr) {
		return false
	}
	var derr *DecryptionError
	if errors.As(err, &derr) {
		return false
	}
	type transienter interface{ IsTransient() bool }
	var terr transienter
	if errors.As(err, &terr) {
		return terr.IsTransient()
	}
	return true
}
