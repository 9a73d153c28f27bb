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

var _ = ginkgo.Describe("ExtractKustomizeEntries", func() {
	ginkgo.It("should decode Secret data from base64", func() {
		manifest := []byte(`apiVersion: v1
kind: Secret
metadata:
  name: app-secrets
data:
  DB_PASSWORD: czNjcmV0
`)
		entries, err := ExtractKustomizeEntries(manifest)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Key).To(Equal("DB_PASSWORD"))
		Expect(entries[0].Value).To(Equal("s3cret"))
		Expect(entries[0].Source).To(Equal(SourceKustomize))
		Expect(entries[0].File).To(Equal("secret/app-secrets"))
	})

	ginkgo.It("should take stringData verbatim", func() {
		manifest := []byte(`apiVersion: v1
kind: Secret
metadata:
  name: app-secrets
stringData:
  API_KEY: plain-value
`)
		entries, err := ExtractKustomizeEntries(manifest)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Value).To(Equal("plain-value"))
	})

	ginkgo.It("should turn ConfigMap data into property entries", func() {
		manifest := []byte(`apiVersion: v1
kind: ConfigMap
metadata:
  name: app-config
data:
  server.port: "8080"
  log.level: debug
`)
		entries, err := ExtractKustomizeEntries(manifest)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(2))
		// ConfigMap keys come out sorted.
		Expect(entries[0].Key).To(Equal("log.level"))
		Expect(entries[1].Key).To(Equal("server.port"))
		Expect(entries[0].IsSecret()).To(BeFalse())
	})

	ginkgo.It("should ignore other kinds in the stream", func() {
		manifest := []byte(`apiVersion: apps/v1
kind: Deployment
metadata:
  name: app
---
apiVersion: v1
kind: Secret
metadata:
  name: app-secrets
stringData:
  K: v
`)
		entries, err := ExtractKustomizeEntries(manifest)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
	})

	ginkgo.It("should fail on invalid base64 in Secret data", func() {
		manifest := []byte(`apiVersion: v1
kind: Secret
metadata:
  name: bad
data:
  K: "not base64!!"
`)
		_, err := ExtractKustomizeEntries(manifest)
		Expect(err).To(HaveOccurred())
	})

	ginkgo.It("should return nothing for an empty stream", func() {
		entries, err := ExtractKustomizeEntries(nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(BeEmpty())
	})

	ginkgo.It("should win over env entries when combined", func() {
		desired := NewDesiredState()
		desired.add(Entry{Key: "K", Value: "from-env", Source: SourceEnv})
		desired.add(Entry{Key: "K", Value: "from-kustomize", Source: SourceKustomize})

		entry, _ := desired.Get("K")
		Expect(entry.Value).To(Equal("from-kustomize"))
	})
})
