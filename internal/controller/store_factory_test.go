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
	ginkgo "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = ginkgo.Describe("StoreScope", func() {
	ginkgo.It("should use the environment alone by default", func() {
		smc := newTestConfig()
		smc.Spec.Secrets.Environment = "prod"

		Expect(StoreScope(smc)).To(Equal("prod"))
	})

	ginkgo.It("should wrap the environment with prefix and suffix", func() {
		smc := newTestConfig()
		smc.Spec.Secrets.Environment = "prod"
		smc.Spec.Secrets.Prefix = "acme"
		smc.Spec.Secrets.Suffix = "eu"

		Expect(StoreScope(smc)).To(Equal("acme-prod-eu"))
	})

	ginkgo.It("should apply prefix and suffix independently", func() {
		smc := newTestConfig()
		smc.Spec.Secrets.Environment = "staging"
		smc.Spec.Secrets.Prefix = "acme"

		Expect(StoreScope(smc)).To(Equal("acme-staging"))

		smc.Spec.Secrets.Prefix = ""
		smc.Spec.Secrets.Suffix = "eu"
		Expect(StoreScope(smc)).To(Equal("staging-eu"))
	})
})
