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
	"encoding/json"
	"fmt"

	smcv1alpha1 "secret-manager-operator/api/v1alpha1"
	"secret-manager-operator/internal/provider"
)

// StoreScope derives the backend naming scope for a resource: the optional
// prefix and suffix wrapped around the environment name.
func StoreScope(smc *smcv1alpha1.SecretManagerConfig) string {
	scope := smc.Spec.Secrets.Environment
	if prefix := smc.Spec.Secrets.Prefix; prefix != "" {
		scope = prefix + "-" + scope
	}
	if suffix := smc.Spec.Secrets.Suffix; suffix != "" {
		scope = scope + "-" + suffix
	}
	return scope
}

// NewStoreBuilder returns the production StoreBuilder. Stores are cached per
// resource and rebuilt when the provider configuration changes.
func NewStoreBuilder(cache *provider.StoreCache) StoreBuilder {
	return func(ctx context.Context, smc *smcv1alpha1.SecretManagerConfig) (provider.Store, error) {
		raw, err := json.Marshal(struct {
			Provider smcv1alpha1.ProviderSpec `json:"provider"`
			Configs  *smcv1alpha1.ConfigsSpec `json:"configs"`
			Scope    string                   `json:"scope"`
		}{smc.Spec.Provider, smc.Spec.Configs, StoreScope(smc)})
		if err != nil {
			return nil, err
		}

		key := smc.Namespace + "/" + smc.Name
		return cache.Get(key, provider.HashConfig(raw), func() (provider.Store, error) {
			return buildStore(ctx, smc)
		})
	}
}

func buildStore(ctx context.Context, smc *smcv1alpha1.SecretManagerConfig) (provider.Store, error) {
	scope := StoreScope(smc)
	p := smc.Spec.Provider

	switch {
	case p.AWS != nil:
		cfg := provider.AWSConfig{
			Region:   p.AWS.Region,
			RoleARN:  p.AWS.RoleARN,
			Endpoint: p.AWS.Endpoint,
			Scope:    scope,
		}
		if smc.Spec.Configs != nil && smc.Spec.Configs.Enabled {
			cfg.ParameterPath = smc.Spec.Configs.ParameterPath
		}
		return provider.NewAWSStore(ctx, cfg)
	case p.GCP != nil:
		return provider.NewGCPStore(ctx, provider.GCPConfig{
			ProjectID:           p.GCP.ProjectID,
			ServiceAccountEmail: p.GCP.ServiceAccountEmail,
			Scope:               scope,
		})
	case p.Azure != nil:
		return provider.NewAzureStore(provider.AzureConfig{
			VaultURL: p.Azure.VaultURL,
			TenantID: p.Azure.TenantID,
			Scope:    scope,
		})
	}
	return nil, fmt.Errorf("no provider configured")
}
