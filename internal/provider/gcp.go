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

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/impersonate"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/fieldmaskpb"
)

const gcpProviderName = "gcp-secretmanager"

// GCPConfig carries everything needed to build a GCP store.
type GCPConfig struct {
	ProjectID string

	// ServiceAccountEmail, when set, is impersonated instead of using the
	// ambient credentials directly.
	ServiceAccountEmail string

	// Scope prefixes every secret id. GCP secret ids cannot contain '/',
	// so scope separators are flattened to '-'.
	Scope string
}

// GCPStore implements Store on GCP Secret Manager. Staging labels map onto
// secret version aliases.
type GCPStore struct {
	client *secretmanager.Client
	cfg    GCPConfig
}

// NewGCPStore builds a store for one resource.
func NewGCPStore(ctx context.Context, cfg GCPConfig) (*GCPStore, error) {
	var clientOptions []option.ClientOption
	if cfg.ServiceAccountEmail != "" {
		ts, err := impersonate.CredentialsTokenSource(ctx, impersonate.CredentialsConfig{
			TargetPrincipal: cfg.ServiceAccountEmail,
			Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
		})
		if err != nil {
			return nil, permanentErr(gcpProviderName, "impersonate", "", err)
		}
		clientOptions = append(clientOptions, option.WithTokenSource(ts))
	}

	client, err := secretmanager.NewClient(ctx, clientOptions...)
	if err != nil {
		return nil, permanentErr(gcpProviderName, "create client", "", err)
	}
	return &GCPStore{client: client, cfg: cfg}, nil
}

// Close releases the underlying gRPC connection.
func (s *GCPStore) Close() error {
	return s.client.Close()
}

// sourceKeyAnnotation holds the original key name on secrets whose ID had
// to be flattened.
const sourceKeyAnnotation = "source-key"

func (s *GCPStore) scopePrefix() string {
	return strings.ReplaceAll(s.cfg.Scope, "/", "-") + "-"
}

// secretID flattens the key: GCP secret IDs cannot contain '/', so
// service-qualified keys lose their separator. The original key is kept in
// an annotation so ReadState can recover it.
func (s *GCPStore) secretID(key string) string {
	return s.scopePrefix() + strings.ReplaceAll(key, "/", "-")
}

func (s *GCPStore) secretName(key string) string {
	return fmt.Sprintf("projects/%s/secrets/%s", s.cfg.ProjectID, s.secretID(key))
}

// ReadState lists every secret under the scope and resolves version aliases
// and the current value.
func (s *GCPStore) ReadState(ctx context.Context) (map[string]KeyState, error) {
	state := map[string]KeyState{}

	it := s.client.ListSecrets(ctx, &secretmanagerpb.ListSecretsRequest{
		Parent: "projects/" + s.cfg.ProjectID,
	})
	for {
		secret, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, s.classify("list secrets", "", err)
		}

		id := secret.GetName()[strings.LastIndex(secret.GetName(), "/")+1:]
		key, ok := strings.CutPrefix(id, s.scopePrefix())
		if !ok {
			continue
		}
		if original, ok := secret.GetAnnotations()[sourceKeyAnnotation]; ok {
			key = original
		}

		labels := map[string]string{}
		for alias, version := range secret.GetVersionAliases() {
			labels[alias] = fmt.Sprintf("%d", version)
		}

		ks := KeyState{Labels: labels}
		if _, hasPrimary := labels[PrimaryLabel]; hasPrimary {
			value, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
				Name: secret.GetName() + "/versions/" + PrimaryLabel,
			})
			if err != nil {
				return nil, s.classify("access secret version", key, err)
			}
			if value.GetPayload() != nil {
				ks.CurrentValue = string(value.GetPayload().GetData())
			}
		}
		state[key] = ks
	}
	return state, nil
}

// EnsureSecret creates the secret container if it does not already exist.
func (s *GCPStore) EnsureSecret(ctx context.Context, key string) error {
	_, err := s.client.GetSecret(ctx, &secretmanagerpb.GetSecretRequest{
		Name: s.secretName(key),
	})
	if err == nil {
		return nil
	}
	if status.Code(err) != codes.NotFound {
		return s.classify("get secret", key, err)
	}

	_, err = s.client.CreateSecret(ctx, &secretmanagerpb.CreateSecretRequest{
		Parent:   "projects/" + s.cfg.ProjectID,
		SecretId: s.secretID(key),
		Secret: &secretmanagerpb.Secret{
			Replication: &secretmanagerpb.Replication{
				Replication: &secretmanagerpb.Replication_Automatic_{
					Automatic: &secretmanagerpb.Replication_Automatic{},
				},
			},
			Annotations: map[string]string{sourceKeyAnnotation: key},
		},
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return s.classify("create secret", key, err)
	}
	return nil
}

// PutVersion adds a new version of key and returns its version number.
func (s *GCPStore) PutVersion(ctx context.Context, key, value string) (string, error) {
	version, err := s.client.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
		Parent:  s.secretName(key),
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	})
	if err != nil {
		return "", s.classify("add secret version", key, err)
	}
	name := version.GetName()
	return name[strings.LastIndex(name, "/")+1:], nil
}

// MoveLabel points the version alias label at versionID by patching the
// secret's alias map.
func (s *GCPStore) MoveLabel(ctx context.Context, key, label, versionID string) error {
	name := s.secretName(key)

	// The alias map only accepts existing, enabled versions; confirm the
	// target before patching.
	_, err := s.client.GetSecretVersion(ctx, &secretmanagerpb.GetSecretVersionRequest{
		Name: name + "/versions/" + versionID,
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%s move label %q on %q: %w", gcpProviderName, label, key, ErrLabelTargetMissing)
		}
		return s.classify("get secret version", key, err)
	}

	secret, err := s.client.GetSecret(ctx, &secretmanagerpb.GetSecretRequest{Name: name})
	if err != nil {
		return s.classify("get secret", key, err)
	}

	aliases := secret.GetVersionAliases()
	if aliases == nil {
		aliases = map[string]int64{}
	}
	var versionNumber int64
	if _, err := fmt.Sscanf(versionID, "%d", &versionNumber); err != nil {
		return permanentErr(gcpProviderName, "move label", key, fmt.Errorf("version id %q is not numeric", versionID))
	}
	aliases[label] = versionNumber

	_, err = s.client.UpdateSecret(ctx, &secretmanagerpb.UpdateSecretRequest{
		Secret: &secretmanagerpb.Secret{
			Name:           name,
			VersionAliases: aliases,
		},
		UpdateMask: &fieldmaskpb.FieldMask{Paths: []string{"version_aliases"}},
	})
	if err != nil {
		return s.classify("update secret", key, err)
	}
	return nil
}

// DeleteSecret removes the secret with all versions and aliases.
func (s *GCPStore) DeleteSecret(ctx context.Context, key string) error {
	err := s.client.DeleteSecret(ctx, &secretmanagerpb.DeleteSecretRequest{
		Name: s.secretName(key),
	})
	if err != nil && status.Code(err) != codes.NotFound {
		return s.classify("delete secret", key, err)
	}
	return nil
}

// classify maps gRPC status codes onto the transient/permanent split.
func (s *GCPStore) classify(op, key string, err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return transientErr(gcpProviderName, op, key, err)
	case codes.PermissionDenied, codes.Unauthenticated, codes.InvalidArgument, codes.FailedPrecondition, codes.NotFound:
		return permanentErr(gcpProviderName, op, key, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return transientErr(gcpProviderName, op, key, err)
	}
	return transientErr(gcpProviderName, op, key, err)
}
