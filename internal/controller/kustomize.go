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
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os/exec"
	"sort"

	"sigs.k8s.io/kustomize/kyaml/kio"
	kyaml "sigs.k8s.io/kustomize/kyaml/yaml"
)

// RenderKustomize runs `kustomize build` on dir and returns the rendered
// manifest stream. The binary must be on PATH; build failures carry the
// kustomize stderr output.
func RenderKustomize(ctx context.Context, dir string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "kustomize", "build", dir)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, &ParseError{File: dir, Err: fmt.Errorf("kustomize build: %v: %s", err, bytes.TrimSpace(stderr.Bytes()))}
	}
	return stdout.Bytes(), nil
}

// ExtractKustomizeEntries pulls desired entries out of a rendered manifest
// stream: Secret data (base64 decoded) and stringData become secret entries,
// ConfigMap data becomes property entries. Other kinds are ignored.
func ExtractKustomizeEntries(manifest []byte) ([]Entry, error) {
	nodes, err := kio.FromBytes(manifest)
	if err != nil {
		return nil, &ParseError{File: "kustomize output", Err: err}
	}

	var entries []Entry
	for _, node := range nodes {
		switch node.GetKind() {
		case "Secret":
			secretEntries, err := secretEntries(node)
			if err != nil {
				return nil, err
			}
			entries = append(entries, secretEntries...)
		case "ConfigMap":
			entries = append(entries, configMapEntries(node)...)
		}
	}
	return entries, nil
}

func secretEntries(node *kyaml.RNode) ([]Entry, error) {
	source := "secret/" + node.GetName()
	var entries []Entry

	if data := node.Field("data"); data != nil {
		err := data.Value.VisitFields(func(field *kyaml.MapNode) error {
			raw, err := base64.StdEncoding.DecodeString(kyaml.GetValue(field.Value))
			if err != nil {
				return &ParseError{File: source, Err: fmt.Errorf("decode %s: %w", kyaml.GetValue(field.Key), err)}
			}
			entries = append(entries, Entry{
				Key:    kyaml.GetValue(field.Key),
				Value:  string(raw),
				Source: SourceKustomize,
				File:   source,
			})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if stringData := node.Field("stringData"); stringData != nil {
		err := stringData.Value.VisitFields(func(field *kyaml.MapNode) error {
			entries = append(entries, Entry{
				Key:    kyaml.GetValue(field.Key),
				Value:  kyaml.GetValue(field.Value),
				Source: SourceKustomize,
				File:   source,
			})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return entries, nil
}

func configMapEntries(node *kyaml.RNode) []Entry {
	source := "configmap/" + node.GetName()
	data := node.GetDataMap()
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		entries = append(entries, Entry{Key: key, Value: data[key], Source: SourceProperties, File: source})
	}
	return entries
}
