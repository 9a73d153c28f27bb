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
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	smcv1alpha1 "secret-manager-operator/api/v1alpha1"
)

var (
	durationRe      = regexp.MustCompile(`^(\d+)([smhd])$`)
	rfc1123Re       = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)
	labelRe         = regexp.MustCompile(`^[a-zA-Z0-9]([-a-zA-Z0-9_.]*[a-zA-Z0-9])?$`)
	parameterPathRe = regexp.MustCompile(`^/[a-zA-Z0-9._-]+(/[a-zA-Z0-9._-]+)*$`)
)

// ParseInterval parses a human-friendly duration such as "30s", "5m", "2h" or
// "1d". Input is trimmed and lowercased first. The value must be a positive
// integer followed by exactly one unit suffix.
func ParseInterval(raw string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return 0, NewValidationError("reconcileInterval", "duration is empty")
	}
	m := durationRe.FindStringSubmatch(s)
	if m == nil {
		return 0, NewValidationError("reconcileInterval", "%q is not of the form <number><s|m|h|d>", raw)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, NewValidationError("reconcileInterval", "%q overflows", raw)
	}
	if n <= 0 {
		return 0, NewValidationError("reconcileInterval", "duration must be positive, got %q", raw)
	}
	var unit time.Duration
	switch m[2] {
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	}
	return time.Duration(n) * unit, nil
}

// ValidateResourceName checks an RFC 1123 subdomain name of at most 253
// characters, the shape Kubernetes requires of object names.
func ValidateResourceName(field, name string) error {
	if name == "" {
		return NewValidationError(field, "name is empty")
	}
	if len(name) > 253 {
		return NewValidationError(field, "name exceeds 253 characters")
	}
	for _, part := range strings.Split(name, ".") {
		if !rfc1123Re.MatchString(part) {
			return NewValidationError(field, "%q is not a valid RFC 1123 subdomain", name)
		}
	}
	return nil
}

// ValidateNamespace checks an RFC 1123 label of at most 63 characters.
func ValidateNamespace(field, ns string) error {
	if ns == "" {
		return NewValidationError(field, "namespace is empty")
	}
	if len(ns) > 63 {
		return NewValidationError(field, "namespace exceeds 63 characters")
	}
	if !rfc1123Re.MatchString(ns) {
		return NewValidationError(field, "%q is not a valid RFC 1123 label", ns)
	}
	return nil
}

// ValidateEnvironment checks the environment selector used to pick the
// per-environment directory inside the checkout.
func ValidateEnvironment(env string) error {
	if env == "" {
		return NewValidationError("secrets.environment", "environment is empty")
	}
	if len(env) > 63 {
		return NewValidationError("secrets.environment", "environment exceeds 63 characters")
	}
	if !labelRe.MatchString(env) {
		return NewValidationError("secrets.environment", "%q contains invalid characters", env)
	}
	return nil
}

// ValidateRelativePath rejects absolute paths and parent traversal so a spec
// cannot escape the source checkout.
func ValidateRelativePath(field, p string) error {
	if p == "" {
		return nil
	}
	if strings.HasPrefix(p, "/") {
		return NewValidationError(field, "path must be relative, got %q", p)
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return NewValidationError(field, "path %q must not traverse outside the source", p)
		}
	}
	return nil
}

// ValidateParameterPath checks a Parameter Store path: absolute, slash
// separated, each segment limited to alphanumerics, dots, underscores and
// hyphens.
func ValidateParameterPath(p string) error {
	if p == "" {
		return NewValidationError("configs.parameterPath", "parameterPath is empty")
	}
	if !parameterPathRe.MatchString(p) {
		return NewValidationError("configs.parameterPath", "%q is not a valid parameter path", p)
	}
	return nil
}

// ValidateSpec checks every user-settable field that can be rejected before
// talking to the source or the provider. It returns the first problem found.
func ValidateSpec(smc *smcv1alpha1.SecretManagerConfig) error {
	spec := &smc.Spec

	switch spec.SourceRef.Kind {
	case "", smcv1alpha1.SourceKindGitRepository, smcv1alpha1.SourceKindApplication:
	default:
		return NewValidationError("sourceRef.kind", "unsupported kind %q", spec.SourceRef.Kind)
	}
	if err := ValidateResourceName("sourceRef.name", spec.SourceRef.Name); err != nil {
		return err
	}
	if err := ValidateNamespace("sourceRef.namespace", spec.SourceRef.Namespace); err != nil {
		return err
	}

	if err := ValidateEnvironment(spec.Secrets.Environment); err != nil {
		return err
	}
	if err := ValidateRelativePath("secrets.kustomizePath", spec.Secrets.KustomizePath); err != nil {
		return err
	}
	if err := ValidateRelativePath("secrets.basePath", spec.Secrets.BasePath); err != nil {
		return err
	}

	if err := validateProvider(&spec.Provider); err != nil {
		return err
	}

	if spec.ReconcileInterval != "" {
		if _, err := ParseInterval(spec.ReconcileInterval); err != nil {
			return err
		}
	}

	switch spec.PrunePolicy {
	case "", smcv1alpha1.PrunePolicyReport, smcv1alpha1.PrunePolicyDelete:
	default:
		return NewValidationError("prunePolicy", "must be %q or %q, got %q",
			smcv1alpha1.PrunePolicyReport, smcv1alpha1.PrunePolicyDelete, spec.PrunePolicy)
	}

	if spec.Configs != nil && spec.Configs.Enabled {
		if err := ValidateParameterPath(spec.Configs.ParameterPath); err != nil {
			return err
		}
		if spec.Provider.AWS == nil {
			return NewValidationError("configs", "parameter sync requires an AWS provider")
		}
	}

	if spec.Notifications != nil {
		for i, sub := range spec.Notifications.Subscriptions {
			field := fmt.Sprintf("notifications.subscriptions[%d]", i)
			if sub.Trigger == "" || sub.Service == "" {
				return NewValidationError(field, "trigger and service are required")
			}
		}
	}

	return nil
}

func validateProvider(p *smcv1alpha1.ProviderSpec) error {
	configured := 0
	if p.AWS != nil {
		configured++
		if p.AWS.Region == "" {
			return NewValidationError("provider.aws.region", "region is empty")
		}
	}
	if p.GCP != nil {
		configured++
		if p.GCP.ProjectID == "" {
			return NewValidationError("provider.gcp.projectId", "projectId is empty")
		}
	}
	if p.Azure != nil {
		configured++
		if p.Azure.VaultURL == "" {
			return NewValidationError("provider.azure.vaultUrl", "vaultUrl is empty")
		}
		if !strings.HasPrefix(p.Azure.VaultURL, "https://") {
			return NewValidationError("provider.azure.vaultUrl", "vault URL must use https, got %q", p.Azure.VaultURL)
		}
	}
	if configured == 0 {
		return NewValidationError("provider", "exactly one of aws, gcp or azure must be set")
	}
	if configured > 1 {
		return NewValidationError("provider", "only one provider may be configured, found %d", configured)
	}
	return nil
}
