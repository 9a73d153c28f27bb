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

package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

const azureProviderName = "azure-keyvault"

// labelTagPrefix namespaces the tags that back staging labels. Key Vault has
// no native staging notion, so labels are tags on the newest version of each
// secret, holding the version they point at.
const labelTagPrefix = "staging-label-"

// AzureSecretsClientAPI defines the interface for Azure Key Vault
// operations. This allows for mocking in tests.
// Note: NewListSecretPropertiesPager is excluded from the interface for now.
type AzureSecretsClientAPI interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
	SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error)
	UpdateSecretProperties(ctx context.Context, name string, version string, parameters azsecrets.UpdateSecretPropertiesParameters, options *azsecrets.UpdateSecretPropertiesOptions) (azsecrets.UpdateSecretPropertiesResponse, error)
	DeleteSecret(ctx context.Context, name string, options *azsecrets.DeleteSecretOptions) (azsecrets.DeleteSecretResponse, error)
}

// AzureConfig carries everything needed to build an Azure store.
type AzureConfig struct {
	VaultURL string
	TenantID string

	// Scope prefixes every secret name. Key Vault names cannot contain
	// '/', so scope separators are flattened to '-'.
	Scope string
}

// AzureStore implements Store on Azure Key Vault.
type AzureStore struct {
	client AzureSecretsClientAPI
	cfg    AzureConfig
}

// AzureOption is a functional option for configuring the Azure store.
type AzureOption func(*AzureStore)

// WithAzureSecretsClient sets a custom Key Vault client (for testing).
func WithAzureSecretsClient(client AzureSecretsClientAPI) AzureOption {
	return func(s *AzureStore) {
		s.client = client
	}
}

// NewAzureStore builds a store for one resource using the default Azure
// credential chain.
func NewAzureStore(cfg AzureConfig, opts ...AzureOption) (*AzureStore, error) {
	s := &AzureStore{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.client != nil {
		return s, nil
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, permanentErr(azureProviderName, "credentials", "", err)
	}
	client, err := azsecrets.NewClient(cfg.VaultURL, cred, nil)
	if err != nil {
		return nil, permanentErr(azureProviderName, "create client", "", err)
	}
	s.client = client
	return s, nil
}

func (s *AzureStore) scopePrefix() string {
	return strings.ReplaceAll(s.cfg.Scope, "/", "-") + "-"
}

// Key Vault secret names are limited to alphanumerics and hyphens, so both
// underscores and service separators are flattened. The source-key tag keeps
// the original name recoverable.
var azureNameFlattener = strings.NewReplacer("_", "-", "/", "-")

func (s *AzureStore) secretName(key string) string {
	return s.scopePrefix() + azureNameFlattener.Replace(key)
}

// keyTag holds the original key name, which cannot always be recovered from
// the flattened secret name.
const keyTag = "source-key"

// ReadState lists every secret under the scope and resolves labels from the
// newest version's tags. Listing requires the real client; injected test
// clients that cannot list see an empty store.
func (s *AzureStore) ReadState(ctx context.Context) (map[string]KeyState, error) {
	state := map[string]KeyState{}

	realClient, ok := s.client.(*azsecrets.Client)
	if !ok {
		return state, nil
	}

	pager := realClient.NewListSecretPropertiesPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, s.classify("list secrets", "", err)
		}
		for _, props := range page.Value {
			if props.ID == nil {
				continue
			}
			name := props.ID.Name()
			if !strings.HasPrefix(name, s.scopePrefix()) {
				continue
			}
			key, ks, err := s.readKeyState(ctx, name)
			if err != nil {
				return nil, err
			}
			state[key] = ks
		}
	}
	return state, nil
}

func (s *AzureStore) readKeyState(ctx context.Context, name string) (string, KeyState, error) {
	latest, err := s.client.GetSecret(ctx, name, "", nil)
	if err != nil {
		return "", KeyState{}, s.classify("get secret", name, err)
	}

	key := strings.TrimPrefix(name, s.scopePrefix())
	labels := map[string]string{}
	for tag, value := range latest.Tags {
		if value == nil {
			continue
		}
		if tag == keyTag {
			key = *value
			continue
		}
		if label, ok := strings.CutPrefix(tag, labelTagPrefix); ok {
			labels[label] = *value
		}
	}

	ks := KeyState{Labels: labels}
	if versionID, ok := labels[PrimaryLabel]; ok {
		current, err := s.client.GetSecret(ctx, name, versionID, nil)
		if err != nil {
			return "", KeyState{}, s.classify("get secret", name, err)
		}
		if current.Value != nil {
			ks.CurrentValue = *current.Value
		}
	}
	return key, ks, nil
}

// EnsureSecret is a no-op on Key Vault: the container appears with the first
// version written by PutVersion.
func (s *AzureStore) EnsureSecret(ctx context.Context, key string) error {
	return nil
}

// PutVersion stores value as a new version of key and returns its version id.
func (s *AzureStore) PutVersion(ctx context.Context, key, value string) (string, error) {
	resp, err := s.client.SetSecret(ctx, s.secretName(key), azsecrets.SetSecretParameters{
		Value: stringPtr(value),
		Tags:  map[string]*string{keyTag: stringPtr(key)},
	}, nil)
	if err != nil {
		return "", s.classify("set secret", key, err)
	}
	if resp.ID == nil {
		return "", permanentErr(azureProviderName, "set secret", key, errors.New("no version id returned"))
	}
	return resp.ID.Version(), nil
}

// MoveLabel records label -> versionID in the newest version's tags after
// confirming the target version exists.
func (s *AzureStore) MoveLabel(ctx context.Context, key, label, versionID string) error {
	name := s.secretName(key)

	if _, err := s.client.GetSecret(ctx, name, versionID, nil); err != nil {
		if isAzureNotFound(err) {
			return fmt.Errorf("%s move label %q on %q: %w", azureProviderName, label, key, ErrLabelTargetMissing)
		}
		return s.classify("get secret", key, err)
	}

	latest, err := s.client.GetSecret(ctx, name, "", nil)
	if err != nil {
		return s.classify("get secret", key, err)
	}
	tags := latest.Tags
	if tags == nil {
		tags = map[string]*string{}
	}
	tags[labelTagPrefix+label] = stringPtr(versionID)
	tags[keyTag] = stringPtr(key)

	_, err = s.client.UpdateSecretProperties(ctx, name, "", azsecrets.UpdateSecretPropertiesParameters{
		Tags: tags,
	}, nil)
	if err != nil {
		return s.classify("update secret", key, err)
	}
	return nil
}

// DeleteSecret removes the secret with all versions.
func (s *AzureStore) DeleteSecret(ctx context.Context, key string) error {
	_, err := s.client.DeleteSecret(ctx, s.secretName(key), nil)
	if err != nil && !isAzureNotFound(err) {
		return s.classify("delete secret", key, err)
	}
	return nil
}

// classify maps Key Vault HTTP failures onto the transient/permanent split.
func (s *AzureStore) classify(op, key string, err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch {
		case respErr.StatusCode == 401 || respErr.StatusCode == 403 || respErr.StatusCode == 400 || respErr.StatusCode == 404 || respErr.StatusCode == 409:
			return permanentErr(azureProviderName, op, key, err)
		case respErr.StatusCode == 429 || respErr.StatusCode >= 500:
			return transientErr(azureProviderName, op, key, err)
		}
	}
	return transientErr(azureProviderName, op, key, err)
}

func isAzureNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 404
}
