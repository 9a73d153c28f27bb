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
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// closableStore wraps a FakeStore to track Close calls.
type closableStore struct {
	*FakeStore
	closed int
}

func (c *closableStore) Close() error {
	c.closed++
	return nil
}

var _ = Describe("StoreCache", func() {
	var (
		cache  *StoreCache
		builds int
	)

	build := func() (Store, error) {
		builds++
		return NewFakeStore(), nil
	}

	BeforeEach(func() {
		cache = NewStoreCache(time.Hour)
		builds = 0
	})

	Describe("Get", func() {
		It("should build once and reuse the cached store", func() {
			first, err := cache.Get("default/payments", "hash-a", build)
			Expect(err).NotTo(HaveOccurred())

			second, err := cache.Get("default/payments", "hash-a", build)
			Expect(err).NotTo(HaveOccurred())

			Expect(builds).To(Equal(1))
			Expect(second).To(BeIdenticalTo(first))
		})

		It("should rebuild when the config hash changes", func() {
			first, err := cache.Get("default/payments", "hash-a", build)
			Expect(err).NotTo(HaveOccurred())

			second, err := cache.Get("default/payments", "hash-b", build)
			Expect(err).NotTo(HaveOccurred())

			Expect(builds).To(Equal(2))
			Expect(second).NotTo(BeIdenticalTo(first))
			Expect(cache.Len()).To(Equal(1))
		})

		It("should rebuild after the TTL elapses", func() {
			cache = NewStoreCache(time.Millisecond)

			_, err := cache.Get("default/payments", "hash-a", build)
			Expect(err).NotTo(HaveOccurred())

			time.Sleep(5 * time.Millisecond)

			_, err = cache.Get("default/payments", "hash-a", build)
			Expect(err).NotTo(HaveOccurred())
			Expect(builds).To(Equal(2))
		})

		It("should keep entries for different resources apart", func() {
			_, err := cache.Get("default/payments", "hash-a", build)
			Expect(err).NotTo(HaveOccurred())
			_, err = cache.Get("default/billing", "hash-a", build)
			Expect(err).NotTo(HaveOccurred())

			Expect(builds).To(Equal(2))
			Expect(cache.Len()).To(Equal(2))
		})

		It("should not cache a failed build", func() {
			_, err := cache.Get("default/payments", "hash-a", func() (Store, error) {
				return nil, errors.New("credentials expired")
			})
			Expect(err).To(HaveOccurred())
			Expect(cache.Len()).To(BeZero())

			_, err = cache.Get("default/payments", "hash-a", build)
			Expect(err).NotTo(HaveOccurred())
			Expect(builds).To(Equal(1))
		})

		It("should close a replaced store when it holds a connection", func() {
			replaced := &closableStore{FakeStore: NewFakeStore()}
			_, err := cache.Get("default/payments", "hash-a", func() (Store, error) {
				return replaced, nil
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = cache.Get("default/payments", "hash-b", build)
			Expect(err).NotTo(HaveOccurred())
			Expect(replaced.closed).To(Equal(1))
		})
	})

	Describe("Invalidate", func() {
		It("should drop and close the cached store", func() {
			store := &closableStore{FakeStore: NewFakeStore()}
			_, err := cache.Get("default/payments", "hash-a", func() (Store, error) {
				return store, nil
			})
			Expect(err).NotTo(HaveOccurred())

			cache.Invalidate("default/payments")
			Expect(cache.Len()).To(BeZero())
			Expect(store.closed).To(Equal(1))
		})

		It("should tolerate unknown keys", func() {
			cache.Invalidate("default/unknown")
			Expect(cache.Len()).To(BeZero())
		})
	})
})

var _ = Describe("HashConfig", func() {
	It("should be stable for identical input", func() {
		Expect(HashConfig([]byte("region: eu-west-1"))).To(Equal(HashConfig([]byte("region: eu-west-1"))))
	})

	It("should differ for different input", func() {
		Expect(HashConfig([]byte("region: eu-west-1"))).NotTo(Equal(HashConfig([]byte("region: us-east-1"))))
	})
})
