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

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// fakeSecretsManager is an in-memory SecretsManagerClientAPI mirroring the
// staging-stage semantics the store depends on.
type fakeSecretsManager struct {
	secrets map[string]*fakeAWSSecret
	nextID  int

	// failWith, when set, makes every call fail with the given error.
	failWith error
}

type fakeAWSSecret struct {
	versions map[string]string
	stages   map[string]string // stage -> versionID
}

func newFakeSecretsManager() *fakeSecretsManager {
	return &fakeSecretsManager{secrets: map[string]*fakeAWSSecret{}}
}

func (f *fakeSecretsManager) ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	prefix := ""
	if len(params.Filters) > 0 && len(params.Filters[0].Values) > 0 {
		prefix = params.Filters[0].Values[0]
	}
	out := &secretsmanager.ListSecretsOutput{}
	for name := range f.secrets {
		if strings.HasPrefix(name, prefix) {
			out.SecretList = append(out.SecretList, smtypes.SecretListEntry{Name: stringPtr(name)})
		}
	}
	return out, nil
}

func (f *fakeSecretsManager) DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	sec, ok := f.secrets[*params.SecretId]
	if !ok {
		return nil, &smtypes.ResourceNotFoundException{}
	}
	stages := map[string][]string{}
	for stage, versionID := range sec.stages {
		stages[versionID] = append(stages[versionID], stage)
	}
	return &secretsmanager.DescribeSecretOutput{
		Name:               params.SecretId,
		VersionIdsToStages: stages,
	}, nil
}

func (f *fakeSecretsManager) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	sec, ok := f.secrets[*params.SecretId]
	if !ok {
		return nil, &smtypes.ResourceNotFoundException{}
	}
	versionID, ok := sec.stages[*params.VersionStage]
	if !ok {
		return nil, &smtypes.ResourceNotFoundException{}
	}
	return &secretsmanager.GetSecretValueOutput{
		SecretString: stringPtr(sec.versions[versionID]),
		VersionId:    stringPtr(versionID),
	}, nil
}

func (f *fakeSecretsManager) CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	if _, ok := f.secrets[*params.Name]; ok {
		return nil, &smtypes.ResourceExistsException{}
	}
	f.secrets[*params.Name] = &fakeAWSSecret{
		versions: map[string]string{},
		stages:   map[string]string{},
	}
	return &secretsmanager.CreateSecretOutput{Name: params.Name}, nil
}

func (f *fakeSecretsManager) PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	sec, ok := f.secrets[*params.SecretId]
	if !ok {
		return nil, &smtypes.ResourceNotFoundException{}
	}
	f.nextID++
	versionID := fmt.Sprintf("ver-%d", f.nextID)
	sec.versions[versionID] = *params.SecretString
	return &secretsmanager.PutSecretValueOutput{VersionId: stringPtr(versionID)}, nil
}

func (f *fakeSecretsManager) UpdateSecretVersionStage(ctx context.Context, params *secretsmanager.UpdateSecretVersionStageInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.UpdateSecretVersionStageOutput, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	sec, ok := f.secrets[*params.SecretId]
	if !ok {
		return nil, &smtypes.ResourceNotFoundException{}
	}
	if _, ok := sec.versions[*params.MoveToVersionId]; !ok {
		return nil, &smtypes.InvalidParameterException{}
	}
	sec.stages[*params.VersionStage] = *params.MoveToVersionId
	return &secretsmanager.UpdateSecretVersionStageOutput{}, nil
}

func (f *fakeSecretsManager) DeleteSecret(ctx context.Context, params *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	delete(f.secrets, *params.SecretId)
	return &secretsmanager.DeleteSecretOutput{}, nil
}

// fakeSSM is an in-memory SSMClientAPI.
type fakeSSM struct {
	parameters map[string]string
}

func newFakeSSM() *fakeSSM {
	return &fakeSSM{parameters: map[string]string{}}
}

func (f *fakeSSM) GetParametersByPath(ctx context.Context, params *ssm.GetParametersByPathInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error) {
	out := &ssm.GetParametersByPathOutput{}
	for name, value := range f.parameters {
		if strings.HasPrefix(name, *params.Path+"/") {
			out.Parameters = append(out.Parameters, ssmtypes.Parameter{
				Name:  stringPtr(name),
				Value: stringPtr(value),
			})
		}
	}
	return out, nil
}

func (f *fakeSSM) PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	f.parameters[*params.Name] = *params.Value
	return &ssm.PutParameterOutput{}, nil
}

var _ = Describe("AWSStore", func() {
	var (
		ctx      context.Context
		smClient *fakeSecretsManager
		store    *AWSStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		smClient = newFakeSecretsManager()

		var err error
		store, err = NewAWSStore(ctx, AWSConfig{
			Region: "eu-west-1",
			Scope:  "myapp/prod",
		}, WithSecretsManagerClient(smClient))
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("EnsureSecret", func() {
		It("should create the secret under the scoped name", func() {
			Expect(store.EnsureSecret(ctx, "DB_PASSWORD")).To(Succeed())
			Expect(smClient.secrets).To(HaveKey("myapp/prod/DB_PASSWORD"))
		})

		It("should be idempotent", func() {
			Expect(store.EnsureSecret(ctx, "K")).To(Succeed())
			Expect(store.EnsureSecret(ctx, "K")).To(Succeed())
			Expect(smClient.secrets).To(HaveLen(1))
		})
	})

	Describe("PutVersion and MoveLabel", func() {
		BeforeEach(func() {
			Expect(store.EnsureSecret(ctx, "K")).To(Succeed())
		})

		It("should return the new version id", func() {
			versionID, err := store.PutVersion(ctx, "K", "v1-value")
			Expect(err).NotTo(HaveOccurred())
			Expect(versionID).NotTo(BeEmpty())
		})

		It("should map the primary label onto AWSCURRENT", func() {
			versionID, err := store.PutVersion(ctx, "K", "value")
			Expect(err).NotTo(HaveOccurred())
			Expect(store.MoveLabel(ctx, "K", PrimaryLabel, versionID)).To(Succeed())

			sec := smClient.secrets["myapp/prod/K"]
			Expect(sec.stages).To(HaveKeyWithValue("AWSCURRENT", versionID))
		})

		It("should fail with ErrLabelTargetMissing for an unknown version", func() {
			err := store.MoveLabel(ctx, "K", PrimaryLabel, "no-such-version")
			Expect(errors.Is(err, ErrLabelTargetMissing)).To(BeTrue())
		})
	})

	Describe("ReadState", func() {
		It("should see only keys under the scope", func() {
			Expect(store.EnsureSecret(ctx, "MINE")).To(Succeed())
			versionID, _ := store.PutVersion(ctx, "MINE", "val")
			Expect(store.MoveLabel(ctx, "MINE", PrimaryLabel, versionID)).To(Succeed())

			// A neighbour outside the scope.
			smClient.secrets["otherapp/prod/THEIRS"] = &fakeAWSSecret{
				versions: map[string]string{"x": "y"},
				stages:   map[string]string{"AWSCURRENT": "x"},
			}

			state, err := store.ReadState(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(HaveLen(1))
			Expect(state["MINE"].CurrentValue).To(Equal("val"))
			Expect(state["MINE"].Labels).To(HaveKeyWithValue(PrimaryLabel, versionID))
		})

		It("should report a key without a primary label as empty-valued", func() {
			Expect(store.EnsureSecret(ctx, "BARE")).To(Succeed())
			_, err := store.PutVersion(ctx, "BARE", "val")
			Expect(err).NotTo(HaveOccurred())

			state, err := store.ReadState(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(state["BARE"].CurrentValue).To(Equal(""))
		})
	})

	Describe("DeleteSecret", func() {
		It("should remove the secret", func() {
			Expect(store.EnsureSecret(ctx, "K")).To(Succeed())
			Expect(store.DeleteSecret(ctx, "K")).To(Succeed())
			Expect(smClient.secrets).To(BeEmpty())
		})

		It("should tolerate a missing secret", func() {
			Expect(store.DeleteSecret(ctx, "GONE")).To(Succeed())
		})
	})

	Describe("error classification", func() {
		It("should classify authorization failures as permanent", func() {
			smClient.failWith = errors.New("AccessDeniedException: not allowed")

			_, err := store.ReadState(ctx)
			Expect(err).To(HaveOccurred())

			var perr *Error
			Expect(errors.As(err, &perr)).To(BeTrue())
			Expect(perr.IsTransient()).To(BeFalse())
		})

		It("should classify other failures as transient", func() {
			smClient.failWith = errors.New("connection reset by peer")

			_, err := store.ReadState(ctx)
			var perr *Error
			Expect(errors.As(err, &perr)).To(BeTrue())
			Expect(perr.IsTransient()).To(BeTrue())
		})
	})

	Describe("parameter sync", func() {
		var ssmClient *fakeSSM

		BeforeEach(func() {
			ssmClient = newFakeSSM()

			var err error
			store, err = NewAWSStore(ctx, AWSConfig{
				Region:        "eu-west-1",
				Scope:         "myapp/prod",
				ParameterPath: "/myapp/prod",
			}, WithSecretsManagerClient(smClient), WithSSMClient(ssmClient))
			Expect(err).NotTo(HaveOccurred())
		})

		It("should write parameters under the configured path", func() {
			Expect(store.PutParameter(ctx, "server.port", "8080")).To(Succeed())
			Expect(ssmClient.parameters).To(HaveKeyWithValue("/myapp/prod/server.port", "8080"))
		})

		It("should key read parameters by their final segment", func() {
			ssmClient.parameters["/myapp/prod/log.level"] = "debug"

			params, err := store.ReadParameters(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(params).To(HaveKeyWithValue("log.level", "debug"))
		})

		It("should refuse parameter calls when sync is not configured", func() {
			bare, err := NewAWSStore(ctx, AWSConfig{Region: "eu-west-1", Scope: "s"},
				WithSecretsManagerClient(smClient))
			Expect(err).NotTo(HaveOccurred())

			_, err = bare.ReadParameters(ctx)
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("stage mapping", func() {
	It("should translate the primary label both ways", func() {
		Expect(labelToStage(PrimaryLabel)).To(Equal("AWSCURRENT"))
		Expect(stageToLabel("AWSCURRENT")).To(Equal(PrimaryLabel))
	})

	It("should lowercase other AWS stages", func() {
		Expect(stageToLabel("AWSPREVIOUS")).To(Equal("previous"))
	})

	It("should pass custom labels through", func() {
		Expect(labelToStage("canary")).To(Equal("canary"))
		Expect(stageToLabel("canary")).To(Equal("canary"))
	})
})
