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

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// SecretManagerConfigSpec declares what to sync and where.
// The source reference points at a checked-out repository (FluxCD
// GitRepository or ArgoCD Application); application files found under it are
// parsed into a desired secret set and driven into exactly one cloud
// provider backend.
type SecretManagerConfigSpec struct {
	// SourceRef identifies the GitOps source holding the application files.
	//
	// +required
	SourceRef SourceRef `json:"sourceRef"`

	// Secrets configures file discovery and secret naming.
	//
	// +required
	Secrets SecretsSpec `json:"secrets"`

	// Provider selects and configures the cloud backend.
	// Exactly one of aws, gcp, azure must be set.
	//
	// +required
	Provider ProviderSpec `json:"provider"`

	// Configs optionally routes application.properties values into the
	// provider's config store (e.g. AWS Parameter Store) instead of the
	// secret store.
	//
	// +optional
	Configs *ConfigsSpec `json:"configs,omitempty"`

	// ReconcileInterval is the periodic sync interval, in the form
	// <number><unit> with unit one of s, m, h, d. Example: "5m".
	//
	// +kubebuilder:default="5m"
	// +optional
	ReconcileInterval string `json:"reconcileInterval,omitempty"`

	// Suspend stops reconciliation entirely while true, including manual
	// triggers. Useful during migrations or incident response.
	//
	// +optional
	Suspend bool `json:"suspend,omitempty"`

	// PrunePolicy determines what happens to backend keys that are no
	// longer present in the desired state:
	//   - "report" (default): never delete, surface as drift
	//   - "delete": remove the key and all its versions from the backend
	//
	// +kubebuilder:validation:Enum=report;delete
	// +kubebuilder:default=report
	// +optional
	PrunePolicy string `json:"prunePolicy,omitempty"`

	// Notifications configures drift alerting through GitOps tooling.
	//
	// +optional
	Notifications *NotificationsSpec `json:"notifications,omitempty"`
}

// Supported sourceRef kinds.
const (
	SourceKindGitRepository = "GitRepository"
	SourceKindApplication   = "Application"
)

// Supported prune policies.
const (
	PrunePolicyReport = "report"
	PrunePolicyDelete = "delete"
)

// SourceRef points at the GitOps object whose artifact contains the
// application files.
type SourceRef struct {
	// Kind is "GitRepository" (FluxCD) or "Application" (ArgoCD).
	//
	// +kubebuilder:validation:Enum=GitRepository;Application
	// +kubebuilder:default=GitRepository
	// +optional
	Kind string `json:"kind,omitempty"`

	// +required
	Name string `json:"name"`

	// +required
	Namespace string `json:"namespace"`
}

// SecretsSpec configures application file discovery and key naming.
type SecretsSpec struct {
	// Environment is the profile directory to sync, e.g. "dev" or "prod".
	//
	// +required
	Environment string `json:"environment"`

	// KustomizePath, when set, switches to kustomize build mode: the
	// controller renders the overlay at this path (relative to the
	// artifact root) and extracts secrets from the generated manifests.
	//
	// +optional
	KustomizePath string `json:"kustomizePath,omitempty"`

	// BasePath restricts file discovery to a subtree of the artifact.
	// Empty or "." means the artifact root.
	//
	// +optional
	BasePath string `json:"basePath,omitempty"`

	// Prefix is prepended to every backend key name, separated by "-".
	//
	// +optional
	Prefix string `json:"prefix,omitempty"`

	// Suffix is appended to every backend key name, separated by "-".
	//
	// +optional
	Suffix string `json:"suffix,omitempty"`
}

// ProviderSpec selects the cloud backend. Exactly one member is set; the
// provider set is fixed and known at compile time.
type ProviderSpec struct {
	// +optional
	AWS *AWSProviderSpec `json:"aws,omitempty"`
	// +optional
	GCP *GCPProviderSpec `json:"gcp,omitempty"`
	// +optional
	Azure *AzureProviderSpec `json:"azure,omitempty"`
}

// AWSProviderSpec configures AWS Secrets Manager (and Parameter Store when
// configs routing is enabled).
type AWSProviderSpec struct {
	// +required
	Region string `json:"region"`

	// RoleARN is informational for IRSA setups; credentials come from the
	// pod's service account through the SDK default chain.
	//
	// +optional
	RoleARN string `json:"roleArn,omitempty"`

	// Endpoint overrides the API endpoint, for LocalStack-style testing.
	//
	// +optional
	Endpoint string `json:"endpoint,omitempty"`
}

// GCPProviderSpec configures Google Secret Manager.
type GCPProviderSpec struct {
	// +required
	ProjectID string `json:"projectId"`

	// ServiceAccountEmail is used with Workload Identity impersonation.
	//
	// +optional
	ServiceAccountEmail string `json:"serviceAccountEmail,omitempty"`
}

// AzureProviderSpec configures Azure Key Vault.
type AzureProviderSpec struct {
	// VaultURL is the Key Vault endpoint, e.g. https://my-vault.vault.azure.net/
	//
	// +required
	VaultURL string `json:"vaultUrl"`

	// +optional
	TenantID string `json:"tenantId,omitempty"`
}

// ConfigsSpec routes application.properties to a config store.
type ConfigsSpec struct {
	// +optional
	Enabled bool `json:"enabled,omitempty"`

	// ParameterPath is the AWS Parameter Store path prefix. Must start
	// with "/". Defaults to /{prefix}/{environment}.
	//
	// +optional
	ParameterPath string `json:"parameterPath,omitempty"`
}

// NotificationsSpec configures drift notifications.
type NotificationsSpec struct {
	// Alert enables creation of a Flux notification Alert object per
	// resource while drift is present.
	//
	// +optional
	Alert bool `json:"alert,omitempty"`

	// Subscriptions are ArgoCD notification subscriptions to decorate on
	// the source Application when drift is detected.
	//
	// +optional
	Subscriptions []NotificationSubscription `json:"subscriptions,omitempty"`
}

// NotificationSubscription maps to an ArgoCD notifications annotation
// notifications.argoproj.io/subscribe.<trigger>.<service>: <channel>.
type NotificationSubscription struct {
	// +required
	Trigger string `json:"trigger"`
	// +required
	Service string `json:"service"`
	// +required
	Channel string `json:"channel"`
}

// SyncPhase is the coarse-grained reconciliation state exposed in status.
type SyncPhase string

const (
	// PhasePending means the resource is waiting for its first or next pass.
	PhasePending SyncPhase = "Pending"
	// PhaseValidating means the spec is being validated.
	PhaseValidating SyncPhase = "Validating"
	// PhaseParsing means application files are being located and parsed.
	PhaseParsing SyncPhase = "Parsing"
	// PhaseSyncing means the computed plan is being applied to the backend.
	PhaseSyncing SyncPhase = "Syncing"
	// PhaseReady means the last pass converged the backend to desired state.
	PhaseReady SyncPhase = "Ready"
	// PhaseDegraded means a retryable failure occurred; the pass is
	// requeued with progressive backoff.
	PhaseDegraded SyncPhase = "Degraded"
	// PhaseError means the spec is invalid; no retry until the spec changes.
	PhaseError SyncPhase = "Error"
)

// Condition types surfaced in status.conditions.
const (
	// ConditionReady tracks overall reconciliation outcome.
	ConditionReady = "Ready"
	// ConditionDriftDetected is True while backend state diverges from the
	// last applied desired state.
	ConditionDriftDetected = "DriftDetected"
	// ConditionShadowedKeys is True when multiple source files define the
	// same key; the message lists the losing entries.
	ConditionShadowedKeys = "ShadowedKeys"
)

// SecretManagerConfigStatus is written only by the controller's status
// manager; provider adapters never read it.
type SecretManagerConfigStatus struct {
	// +optional
	Phase SyncPhase `json:"phase,omitempty"`

	// Message is a human-readable description of the current phase.
	//
	// +optional
	Message string `json:"message,omitempty"`

	// +optional
	Conditions []metav1.Condition `json:"conditions,omitempty"`

	// +optional
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`

	// +optional
	LastSyncTime *metav1.Time `json:"lastSyncTime,omitempty"`

	// +optional
	NextSyncTime *metav1.Time `json:"nextSyncTime,omitempty"`

	// SecretsSynced is the number of keys applied by the last
	// successful pass.
	//
	// +optional
	SecretsSynced int32 `json:"secretsSynced,omitempty"`

	// ParsingErrorCount grows on every parse failure and is cleared on the
	// first successful parse. It indexes the backoff schedule.
	//
	// +optional
	ParsingErrorCount int32 `json:"parsingErrorCount,omitempty"`

	// SyncErrorCount grows on every provider failure and is cleared on the
	// first fully applied plan. Tracked separately from parsing errors.
	//
	// +optional
	SyncErrorCount int32 `json:"syncErrorCount,omitempty"`

	// DecryptionReady reports whether encrypted source files can currently
	// be decrypted.
	//
	// +optional
	DecryptionReady bool `json:"decryptionReady,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=smc
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`
// +kubebuilder:printcolumn:name="Synced",type=integer,JSONPath=`.status.secretsSynced`
// +kubebuilder:printcolumn:name="Last Sync",type=date,JSONPath=`.status.lastSyncTime`

// SecretManagerConfig is the Schema for the secretmanagerconfigs API.
type SecretManagerConfig struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   SecretManagerConfigSpec   `json:"spec,omitempty"`
	Status SecretManagerConfigStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// SecretManagerConfigList contains a list of SecretManagerConfig.
type SecretManagerConfigList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []SecretManagerConfig `json:"items"`
}

func init() {
	SchemeBuilder.Register(&SecretManagerConfig{}, &SecretManagerConfigList{})
}
