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

import "time"

const (
	// AnnotationReconcile triggers an immediate reconcile of the resource.
	// The controller removes it after acting on it, so a single annotation
	// causes exactly one out-of-band pass.
	AnnotationReconcile = "secret-manager.in-cloud.io/reconcile"

	// AnnotationParsingErrorCount carries the consecutive parse failure
	// count across reconcile passes.
	AnnotationParsingErrorCount = "secret-manager.in-cloud.io/parsing-error-count"

	// AnnotationSyncErrorCount carries the consecutive provider failure
	// count across reconcile passes.
	AnnotationSyncErrorCount = "secret-manager.in-cloud.io/sync-error-count"
)

const (
	// DefaultReconcileInterval is used when the spec does not set one.
	DefaultReconcileInterval = 5 * time.Minute

	// MaxBackoff caps the requeue delay computed from the error count.
	MaxBackoff = 60 * time.Minute

	// ProviderTimeout bounds all provider calls made in one reconcile pass.
	ProviderTimeout = 2 * time.Minute

	// PrimaryLabel is the staging label that marks the live version of a
	// stored secret. It always points at a version.
	PrimaryLabel = "current"

	// PreviousLabel marks the version that was live before the last write.
	PreviousLabel = "previous"
)

const (
	// ConfigDirName is the directory, directly under the checkout root or a
	// service directory, that holds per-environment configuration.
	ConfigDirName = "deployment-configuration"

	// ProfilesDirName optionally nests environments one level deeper.
	ProfilesDirName = "profiles"

	// EnvFileName holds KEY=VALUE secrets, highest precedence.
	EnvFileName = "application.secrets.env"

	// YAMLFileName holds nested secrets, flattened with dot separators.
	YAMLFileName = "application.secrets.yaml"

	// PropertiesFileName holds non-secret configuration values.
	PropertiesFileName = "application.properties"
)
