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
	"fmt"
	"sync"
)

type fakeSecret struct {
	versions map[string]string
	labels   map[string]string
	nextID   int
}

// FakeStore is an in-memory Store and ParameterStore for tests. It enforces
// the same label integrity rules as the real backends.
type FakeStore struct {
	mu         sync.Mutex
	secrets    map[string]*fakeSecret
	parameters map[string]string

	// FailNext, when set, makes the next operation fail with the given
	// error and resets itself.
	FailNext error

	// Ops records every mutating operation in order, for assertions on
	// idempotence and call ordering.
	Ops []string
}

// NewFakeStore returns an empty in-memory store.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		secrets:    map[string]*fakeSecret{},
		parameters: map[string]string{},
	}
}

func (f *FakeStore) takeFailure() error {
	err := f.FailNext
	f.FailNext = nil
	return err
}

// Seed installs a key with a single version holding value, labelled with the
// primary label, bypassing the op log.
func (f *FakeStore) Seed(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sec := &fakeSecret{
		versions: map[string]string{"v1": value},
		labels:   map[string]string{PrimaryLabel: "v1"},
		nextID:   1,
	}
	f.secrets[key] = sec
}

func (f *FakeStore) ReadState(ctx context.Context) (map[string]KeyState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return nil, err
	}

	state := map[string]KeyState{}
	for key, sec := range f.secrets {
		labels := map[string]string{}
		for label, versionID := range sec.labels {
			labels[label] = versionID
		}
		ks := KeyState{Labels: labels}
		if versionID, ok := labels[PrimaryLabel]; ok {
			ks.CurrentValue = sec.versions[versionID]
		}
		state[key] = ks
	}
	return state, nil
}

func (f *FakeStore) EnsureSecret(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}
	f.Ops = append(f.Ops, "ensure "+key)
	if _, ok := f.secrets[key]; !ok {
		f.secrets[key] = &fakeSecret{versions: map[string]string{}, labels: map[string]string{}}
	}
	return nil
}

func (f *FakeStore) PutVersion(ctx context.Context, key, value string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return "", err
	}
	sec, ok := f.secrets[key]
	if !ok {
		return "", permanentErr("fake", "put version", key, fmt.Errorf("secret does not exist"))
	}
	sec.nextID++
	versionID := fmt.Sprintf("v%d", sec.nextID)
	sec.versions[versionID] = value
	f.Ops = append(f.Ops, "put "+key)
	return versionID, nil
}

func (f *FakeStore) MoveLabel(ctx context.Context, key, label, versionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}
	sec, ok := f.secrets[key]
	if !ok {
		return permanentErr("fake", "move label", key, fmt.Errorf("secret does not exist"))
	}
	if _, ok := sec.versions[versionID]; !ok {
		return fmt.Errorf("fake move label %q on %q: %w", label, key, ErrLabelTargetMissing)
	}
	sec.labels[label] = versionID
	f.Ops = append(f.Ops, "move "+key)
	return nil
}

func (f *FakeStore) DeleteSecret(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}
	delete(f.secrets, key)
	f.Ops = append(f.Ops, "delete "+key)
	return nil
}

func (f *FakeStore) ReadParameters(ctx context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	params := map[string]string{}
	for name, value := range f.parameters {
		params[name] = value
	}
	return params, nil
}

func (f *FakeStore) PutParameter(ctx context.Context, name, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}
	f.parameters[name] = value
	f.Ops = append(f.Ops, "param "+name)
	return nil
}

// VersionCount returns how many versions key holds.
func (f *FakeStore) VersionCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sec, ok := f.secrets[key]; ok {
		return len(sec.versions)
	}
	return 0
}

// CheckLabelIntegrity reports the first label that does not resolve to an
// existing version, or an empty string when every label is intact.
func (f *FakeStore) CheckLabelIntegrity() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, sec := range f.secrets {
		for label, versionID := range sec.labels {
			if _, ok := sec.versions[versionID]; !ok {
				return fmt.Sprintf("%s: label %q points at missing version %q", key, label, versionID)
			}
		}
	}
	return ""
}
