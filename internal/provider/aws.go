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

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

const awsProviderName = "aws-secretsmanager"

// awsPrimaryStage is the native staging label AWS keeps pointed at the live
// version.
const awsPrimaryStage = "AWSCURRENT"

// SecretsManagerClientAPI defines the interface for AWS Secrets Manager
// operations. This allows for mocking in tests.
type SecretsManagerClientAPI interface {
	ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error)
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	UpdateSecretVersionStage(ctx context.Context, params *secretsmanager.UpdateSecretVersionStageInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.UpdateSecretVersionStageOutput, error)
	DeleteSecret(ctx context.Context, params *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error)
}

// SSMClientAPI defines the interface for AWS Parameter Store operations.
type SSMClientAPI interface {
	GetParametersByPath(ctx context.Context, params *ssm.GetParametersByPathInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

// AWSConfig carries everything needed to build an AWS store.
type AWSConfig struct {
	Region   string
	RoleARN  string
	Endpoint string

	// Scope prefixes every secret name, keeping one store's keys separate
	// from its neighbours'.
	Scope string

	// ParameterPath is the Parameter Store path parameters are written
	// under. Empty disables parameter sync.
	ParameterPath string
}

// AWSStore implements Store on AWS Secrets Manager and ParameterStore on
// AWS Systems Manager Parameter Store.
type AWSStore struct {
	client    SecretsManagerClientAPI
	ssmClient SSMClientAPI
	cfg       AWSConfig
}

// AWSOption is a functional option for configuring the AWS store.
type AWSOption func(*AWSStore)

// WithSecretsManagerClient sets a custom Secrets Manager client (for testing).
func WithSecretsManagerClient(client SecretsManagerClientAPI) AWSOption {
	return func(s *AWSStore) {
		s.client = client
	}
}

// WithSSMClient sets a custom Parameter Store client (for testing).
func WithSSMClient(client SSMClientAPI) AWSOption {
	return func(s *AWSStore) {
		s.ssmClient = client
	}
}

// NewAWSStore builds a store for one resource. Without injected clients it
// loads the ambient AWS configuration, assuming cfg.RoleARN when set.
func NewAWSStore(ctx context.Context, cfg AWSConfig, opts ...AWSOption) (*AWSStore, error) {
	s := &AWSStore{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.client != nil && (s.ssmClient != nil || cfg.ParameterPath == "") {
		return s, nil
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithRetryer(func() aws.Retryer {
			return retry.AddWithMaxAttempts(retry.NewStandard(), 3)
		}),
	)
	if err != nil {
		return nil, permanentErr(awsProviderName, "load config", "", err)
	}
	if cfg.RoleARN != "" {
		stsClient := sts.NewFromConfig(awsCfg)
		awsCfg.Credentials = aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(stsClient, cfg.RoleARN))
	}

	var clientOpts []func(*secretsmanager.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
			o.BaseEndpoint = stringPtr(cfg.Endpoint)
		})
	}
	if s.client == nil {
		s.client = secretsmanager.NewFromConfig(awsCfg, clientOpts...)
	}
	if s.ssmClient == nil && cfg.ParameterPath != "" {
		var ssmOpts []func(*ssm.Options)
		if cfg.Endpoint != "" {
			ssmOpts = append(ssmOpts, func(o *ssm.Options) {
				o.BaseEndpoint = stringPtr(cfg.Endpoint)
			})
		}
		s.ssmClient = ssm.NewFromConfig(awsCfg, ssmOpts...)
	}
	return s, nil
}

func (s *AWSStore) secretName(key string) string {
	return s.cfg.Scope + "/" + key
}

func (s *AWSStore) keyFromName(name string) (string, bool) {
	return strings.CutPrefix(name, s.cfg.Scope+"/")
}

// ReadState lists every secret under the scope and resolves each one's
// staging labels and current value.
func (s *AWSStore) ReadState(ctx context.Context) (map[string]KeyState, error) {
	state := map[string]KeyState{}

	input := &secretsmanager.ListSecretsInput{
		Filters: []smtypes.Filter{{
			Key:    smtypes.FilterNameStringTypeName,
			Values: []string{s.cfg.Scope + "/"},
		}},
	}
	for {
		page, err := s.client.ListSecrets(ctx, input)
		if err != nil {
			return nil, s.classify("list secrets", "", err)
		}
		for _, entry := range page.SecretList {
			if entry.Name == nil {
				continue
			}
			key, ok := s.keyFromName(*entry.Name)
			if !ok {
				continue
			}
			ks, err := s.readKeyState(ctx, *entry.Name, key)
			if err != nil {
				return nil, err
			}
			state[key] = ks
		}
		if page.NextToken == nil {
			break
		}
		input.NextToken = page.NextToken
	}
	return state, nil
}

func (s *AWSStore) readKeyState(ctx context.Context, name, key string) (KeyState, error) {
	desc, err := s.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: stringPtr(name),
	})
	if err != nil {
		return KeyState{}, s.classify("describe secret", key, err)
	}

	labels := map[string]string{}
	for versionID, stages := range desc.VersionIdsToStages {
		for _, stage := range stages {
			labels[stageToLabel(stage)] = versionID
		}
	}

	ks := KeyState{Labels: labels}
	if _, ok := labels[PrimaryLabel]; ok {
		value, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
			SecretId:     stringPtr(name),
			VersionStage: stringPtr(awsPrimaryStage),
		})
		if err != nil {
			return KeyState{}, s.classify("get secret value", key, err)
		}
		if value.SecretString != nil {
			ks.CurrentValue = *value.SecretString
		} else if value.SecretBinary != nil {
			ks.CurrentValue = string(value.SecretBinary)
		}
	}
	return ks, nil
}

// EnsureSecret creates the secret container if it does not already exist.
func (s *AWSStore) EnsureSecret(ctx context.Context, key string) error {
	name := s.secretName(key)
	_, err := s.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: stringPtr(name),
	})
	if err == nil {
		return nil
	}
	if !isAWSNotFound(err) {
		return s.classify("describe secret", key, err)
	}

	_, err = s.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name: stringPtr(name),
	})
	if err != nil {
		var exists *smtypes.ResourceExistsException
		if errors.As(err, &exists) {
			return nil
		}
		return s.classify("create secret", key, err)
	}
	return nil
}

// PutVersion stores value as a new version of key and returns its version id.
func (s *AWSStore) PutVersion(ctx context.Context, key, value string) (string, error) {
	out, err := s.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     stringPtr(s.secretName(key)),
		SecretString: stringPtr(value),
	})
	if err != nil {
		return "", s.classify("put secret value", key, err)
	}
	if out.VersionId == nil {
		return "", permanentErr(awsProviderName, "put secret value", key, errors.New("no version id returned"))
	}
	return *out.VersionId, nil
}

// MoveLabel points label at versionID. AWS moves stages atomically, so the
// label is detached from its previous version in the same call.
func (s *AWSStore) MoveLabel(ctx context.Context, key, label, versionID string) error {
	_, err := s.client.UpdateSecretVersionStage(ctx, &secretsmanager.UpdateSecretVersionStageInput{
		SecretId:        stringPtr(s.secretName(key)),
		VersionStage:    stringPtr(labelToStage(label)),
		MoveToVersionId: stringPtr(versionID),
	})
	if err != nil {
		var invalid *smtypes.InvalidParameterException
		if isAWSNotFound(err) || errors.As(err, &invalid) {
			return fmt.Errorf("%s move label %q on %q: %w", awsProviderName, label, key, ErrLabelTargetMissing)
		}
		return s.classify("move label", key, err)
	}
	return nil
}

// DeleteSecret removes the secret with all versions, skipping the recovery
// window so the name can be reused immediately.
func (s *AWSStore) DeleteSecret(ctx context.Context, key string) error {
	_, err := s.client.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:                   stringPtr(s.secretName(key)),
		ForceDeleteWithoutRecovery: boolPtr(true),
	})
	if err != nil && !isAWSNotFound(err) {
		return s.classify("delete secret", key, err)
	}
	return nil
}

// ReadParameters returns the parameters under the configured path, keyed by
// their final path segment.
func (s *AWSStore) ReadParameters(ctx context.Context) (map[string]string, error) {
	if s.ssmClient == nil {
		return nil, permanentErr(awsProviderName, "read parameters", "", errors.New("parameter sync is not configured"))
	}

	params := map[string]string{}
	input := &ssm.GetParametersByPathInput{
		Path:           stringPtr(s.cfg.ParameterPath),
		WithDecryption: boolPtr(true),
	}
	for {
		page, err := s.ssmClient.GetParametersByPath(ctx, input)
		if err != nil {
			return nil, s.classify("get parameters", "", err)
		}
		for _, p := range page.Parameters {
			if p.Name == nil || p.Value == nil {
				continue
			}
			name := *p.Name
			if idx := strings.LastIndex(name, "/"); idx >= 0 {
				name = name[idx+1:]
			}
			params[name] = *p.Value
		}
		if page.NextToken == nil {
			break
		}
		input.NextToken = page.NextToken
	}
	return params, nil
}

// PutParameter writes one parameter under the configured path, overwriting
// any previous value.
func (s *AWSStore) PutParameter(ctx context.Context, name, value string) error {
	if s.ssmClient == nil {
		return permanentErr(awsProviderName, "put parameter", name, errors.New("parameter sync is not configured"))
	}
	_, err := s.ssmClient.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      stringPtr(s.cfg.ParameterPath + "/" + name),
		Value:     stringPtr(value),
		Type:      ssmtypes.ParameterTypeString,
		Overwrite: boolPtr(true),
	})
	if err != nil {
		return s.classify("put parameter", name, err)
	}
	return nil
}

// classify converts an SDK error into a transience-tagged provider error.
func (s *AWSStore) classify(op, key string, err error) error {
	if isAWSAuthError(err) {
		return permanentErr(awsProviderName, op, key, err)
	}
	var invalid *smtypes.InvalidRequestException
	if errors.As(err, &invalid) {
		return permanentErr(awsProviderName, op, key, err)
	}
	return transientErr(awsProviderName, op, key, err)
}

func stageToLabel(stage string) string {
	if stage == awsPrimaryStage {
		return PrimaryLabel
	}
	return strings.ToLower(strings.TrimPrefix(stage, "AWS"))
}

func labelToStage(label string) string {
	if label == PrimaryLabel {
		return awsPrimaryStage
	}
	return label
}

func isAWSNotFound(err error) bool {
	var smNotFound *smtypes.ResourceNotFoundException
	if errors.As(err, &smNotFound) {
		return true
	}
	var ssmNotFound *ssmtypes.ParameterNotFound
	return errors.As(err, &ssmNotFound)
}

func isAWSAuthError(err error) bool {
	errStr := err.Error()
	return strings.Contains(errStr, "AccessDenied") ||
		strings.Contains(errStr, "UnauthorizedOperation") ||
		strings.Contains(errStr, "InvalidUserID") ||
		strings.Contains(errStr, "Forbidden")
}

func boolPtr(b bool) *bool { return &b }
