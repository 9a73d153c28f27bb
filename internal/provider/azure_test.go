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

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

// fakeKeyVault is an in-memory AzureSecretsClientAPI. Tags live on the
// newest version of each secret, matching how the store uses them.
type fakeKeyVault struct {
	secrets map[string]*fakeVaultSecret
	nextID  int

	failWith error
}

type fakeVaultSecret struct {
	versions map[string]string
	latest   string
	tags     map[string]*string
}

func newFakeKeyVault() *fakeKeyVault {
	return &fakeKeyVault{secrets: map[string]*fakeVaultSecret{}}
}

func azureNotFoundErr() error {
	return &azcore.ResponseError{StatusCode: 404}
}

func (f *fakeKeyVault) secretID(name, version string) *azsecrets.ID {
	id := azsecrets.ID(fmt.Sprintf("https://vault.example.net/secrets/%s/%s", name, version))
	return &id
}

func (f *fakeKeyVault) GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error) {
	if f.failWith != nil {
		return azsecrets.GetSecretResponse{}, f.failWith
	}
	sec, ok := f.secrets[name]
	if !ok {
		return azsecrets.GetSecretResponse{}, azureNotFoundErr()
	}
	if version == "" {
		version = sec.latest
	}
	value, ok := sec.versions[version]
	if !ok {
		return azsecrets.GetSecretResponse{}, azureNotFoundErr()
	}
	resp := azsecrets.GetSecretResponse{}
	resp.ID = f.secretID(name, version)
	resp.Value = stringPtr(value)
	if version == sec.latest {
		resp.Tags = sec.tags
	}
	return resp, nil
}

func (f *fakeKeyVault) SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error) {
	if f.failWith != nil {
		return azsecrets.SetSecretResponse{}, f.failWith
	}
	sec, ok := f.secrets[name]
	if !ok {
		sec = &fakeVaultSecret{versions: map[string]string{}}
		f.secrets[name] = sec
	}
	f.nextID++
	version := fmt.Sprintf("azver%d", f.nextID)
	sec.versions[version] = *parameters.Value
	sec.latest = version
	sec.tags = parameters.Tags

	resp := azsecrets.SetSecretResponse{}
	resp.ID = f.secretID(name, version)
	resp.Value = parameters.Value
	return resp, nil
}

func (f *fakeKeyVault) UpdateSecretProperties(ctx context.Context, name string, version string, parameters azsecrets.UpdateSecretPropertiesParameters, options *azsecrets.UpdateSecretPropertiesOptions) (azsecrets.UpdateSecretPropertiesResponse, error) {
	if f.failWith != nil {
		return azsecrets.UpdateSecretPropertiesResponse{}, f.failWith
	}
	sec, ok := f.secrets[name]
	if !ok {
		return azsecrets.UpdateSecretPropertiesResponse{}, azureNotFoundErr()
	}
	sec.tags = parameters.Tags

	resp := azsecrets.UpdateSecretPropertiesResponse{}
	resp.ID = f.secretID(name, sec.latest)
	return resp, nil
}

func (f *fakeKeyVault) DeleteSecret(ctx context.Context, name string, options *azsecrets.DeleteSecretOptions) (azsecrets.DeleteSecretResponse, error) {
	if f.failWith != nil {
		return azsecrets.DeleteSecretResponse{}, f.failWith
	}
	if _, ok := f.secrets[name]; !ok {
		return azsecrets.DeleteSecretResponse{}, azureNotFoundErr()
	}
	delete(f.secrets, name)
	return azsecrets.DeleteSecretResponse{}, nil
}

var _ = Describe("AzureStore", func() {
	var (
		ctx   context.Context
		vault *fakeKeyVault
		store *AzureStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		vault = newFakeKeyVault()

		var err error
		store, err = NewAzureStore(AzureConfig{
			VaultURL: "https://vault.example.net",
			Scope:    "myapp/prod",
		}, WithAzureSecretsClient(vault))
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("secret naming", func() {
		It("should flatten underscores and scope separators to hyphens", func() {
			_, err := store.PutVersion(ctx, "DB_PASSWORD", "v")
			Expect(err).NotTo(HaveOccurred())
			Expect(vault.secrets).To(HaveKey("myapp-prod-DB-PASSWORD"))
		})

		It("should flatten service-qualified keys", func() {
			_, err := store.PutVersion(ctx, "billing/TOKEN", "v")
			Expect(err).NotTo(HaveOccurred())
			Expect(vault.secrets).To(HaveKey("myapp-prod-billing-TOKEN"))
		})
	})

	Describe("EnsureSecret", func() {
		It("should be a no-op", func() {
			Expect(store.EnsureSecret(ctx, "K")).To(Succeed())
			Expect(vault.secrets).To(BeEmpty())
		})
	})

	Describe("PutVersion", func() {
		It("should return the new version id", func() {
			versionID, err := store.PutVersion(ctx, "K", "value")
			Expect(err).NotTo(HaveOccurred())
			Expect(versionID).To(Equal("azver1"))
		})

		It("should record the original key in a tag", func() {
			_, err := store.PutVersion(ctx, "billing/TOKEN", "value")
			Expect(err).NotTo(HaveOccurred())

			tags := vault.secrets["myapp-prod-billing-TOKEN"].tags
			Expect(tags).To(HaveKey("source-key"))
			Expect(*tags["source-key"]).To(Equal("billing/TOKEN"))
		})
	})

	Describe("MoveLabel", func() {
		It("should tag the newest version with the label target", func() {
			versionID, err := store.PutVersion(ctx, "K", "value")
			Expect(err).NotTo(HaveOccurred())
			Expect(store.MoveLabel(ctx, "K", PrimaryLabel, versionID)).To(Succeed())

			tags := vault.secrets["myapp-prod-K"].tags
			Expect(tags).To(HaveKey("staging-label-" + PrimaryLabel))
			Expect(*tags["staging-label-"+PrimaryLabel]).To(Equal(versionID))
		})

		It("should keep the label tag on the newest version across updates", func() {
			v1, err := store.PutVersion(ctx, "K", "one")
			Expect(err).NotTo(HaveOccurred())
			Expect(store.MoveLabel(ctx, "K", PrimaryLabel, v1)).To(Succeed())

			v2, err := store.PutVersion(ctx, "K", "two")
			Expect(err).NotTo(HaveOccurred())
			Expect(store.MoveLabel(ctx, "K", PrimaryLabel, v2)).To(Succeed())

			tags := vault.secrets["myapp-prod-K"].tags
			Expect(*tags["staging-label-"+PrimaryLabel]).To(Equal(v2))
			Expect(vault.secrets["myapp-prod-K"].versions).To(HaveLen(2))
		})

		It("should fail with ErrLabelTargetMissing for an unknown version", func() {
			_, err := store.PutVersion(ctx, "K", "value")
			Expect(err).NotTo(HaveOccurred())

			err = store.MoveLabel(ctx, "K", PrimaryLabel, "no-such-version")
			Expect(errors.Is(err, ErrLabelTargetMissing)).To(BeTrue())
		})

		It("should fail with ErrLabelTargetMissing for an unknown secret", func() {
			err := store.MoveLabel(ctx, "GONE", PrimaryLabel, "azver1")
			Expect(errors.Is(err, ErrLabelTargetMissing)).To(BeTrue())
		})
	})

	Describe("ReadState", func() {
		It("should return an empty state with an injected client", func() {
			_, err := store.PutVersion(ctx, "K", "value")
			Expect(err).NotTo(HaveOccurred())

			state, err := store.ReadState(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(BeEmpty())
		})
	})

	Describe("DeleteSecret", func() {
		It("should remove the secret", func() {
			_, err := store.PutVersion(ctx, "K", "value")
			Expect(err).NotTo(HaveOccurred())
			Expect(store.DeleteSecret(ctx, "K")).To(Succeed())
			Expect(vault.secrets).To(BeEmpty())
		})

		It("should tolerate a missing secret", func() {
			Expect(store.DeleteSecret(ctx, "GONE")).To(Succeed())
		})
	})

	Describe("error classification", func() {
		put := func() error {
			_, err := store.PutVersion(ctx, "K", "value")
			return err
		}

		It("should classify authorization failures as permanent", func() {
			vault.failWith = &azcore.ResponseError{StatusCode: 403}

			var perr *Error
			Expect(errors.As(put(), &perr)).To(BeTrue())
			Expect(perr.IsTransient()).To(BeFalse())
		})

		It("should classify service outages as transient", func() {
			vault.failWith = &azcore.ResponseError{StatusCode: 503}

			var perr *Error
			Expect(errors.As(put(), &perr)).To(BeTrue())
			Expect(perr.IsTransient()).To(BeTrue())
		})

		It("should default unknown failures to transient", func() {
			vault.failWith = errors.New("dial tcp: timeout")

			var perr *Error
			Expect(errors.As(put(), &perr)).To(BeTrue())
			Expect(perr.IsTransient()).To(BeTrue())
		})
	})
})
