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
	"time"

	ginkgo "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	smcv1alpha1 "secret-manager-operator/api/v1alpha1"
)

var _ = ginkgo.Describe("BackoffFor", func() {
	ginkgo.It("should return 1 minute for the first failure", func() {
		Expect(BackoffFor(0)).To(Equal(1 * time.Minute))
		Expect(BackoffFor(1)).To(Equal(1 * time.Minute))
	})

	ginkgo.It("should follow the table for small counts", func() {
		Expect(BackoffFor(2)).To(Equal(2 * time.Minute))
		Expect(BackoffFor(3)).To(Equal(3 * time.Minute))
		Expect(BackoffFor(4)).To(Equal(5 * time.Minute))
		Expect(BackoffFor(5)).To(Equal(8 * time.Minute))
	})

	ginkgo.It("should return 55 minutes at count 9", func() {
		Expect(BackoffFor(9)).To(Equal(55 * time.Minute))
	})

	ginkgo.It("should cap at 60 minutes from count 10 onward", func() {
		Expect(BackoffFor(10)).To(Equal(60 * time.Minute))
		Expect(BackoffFor(19)).To(Equal(60 * time.Minute))
		Expect(BackoffFor(100)).To(Equal(60 * time.Minute))
	})

	ginkgo.It("should treat negative counts as zero", func() {
		Expect(BackoffFor(-5)).To(Equal(1 * time.Minute))
	})

	ginkgo.It("should be monotonically non-decreasing", func() {
		prev := time.Duration(0)
		for count := 0; count < 50; count++ {
			d := BackoffFor(count)
			Expect(d).To(BeNumerically(">=", prev), "count %d", count)
			Expect(d).To(BeNumerically("<=", MaxBackoff), "count %d", count)
			prev = d
		}
	})
})

var _ = ginkgo.Describe("error count annotations", func() {
	var smc *smcv1alpha1.SecretManagerConfig

	ginkgo.BeforeEach(func() {
		smc = &smcv1alpha1.SecretManagerConfig{}
	})

	ginkgo.It("should return 0 for missing annotations", func() {
		Expect(errorCountFromAnnotation(smc, AnnotationSyncErrorCount)).To(Equal(0))
	})

	ginkgo.It("should return 0 for malformed values", func() {
		smc.SetAnnotations(map[string]string{AnnotationSyncErrorCount: "banana"})
		Expect(errorCountFromAnnotation(smc, AnnotationSyncErrorCount)).To(Equal(0))
	})

	ginkgo.It("should return 0 for negative values", func() {
		smc.SetAnnotations(map[string]string{AnnotationSyncErrorCount: "-3"})
		Expect(errorCountFromAnnotation(smc, AnnotationSyncErrorCount)).To(Equal(0))
	})

	ginkgo.It("should round-trip a count", func() {
		setErrorCountAnnotation(smc, AnnotationParsingErrorCount, 7)
		Expect(errorCountFromAnnotation(smc, AnnotationParsingErrorCount)).To(Equal(7))
	})

	ginkgo.It("should remove the annotation when reset to zero", func() {
		setErrorCountAnnotation(smc, AnnotationParsingErrorCount, 3)
		setErrorCountAnnotation(smc, AnnotationParsingErrorCount, 0)
		Expect(smc.GetAnnotations()).NotTo(HaveKey(AnnotationParsingErrorCount))
	})

	ginkgo.It("should keep unrelated annotations intact", func() {
		smc.SetAnnotations(map[string]string{"other": "keep"})
		setErrorCountAnnotation(smc, AnnotationSyncErrorCount, 2)
		setErrorCountAnnotation(smc, AnnotationSyncErrorCount, 0)
		Expect(smc.GetAnnotations()).To(HaveKeyWithValue("other", "keep"))
	})
})
