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
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SourceKind identifies which file kind produced an entry. Higher precedence
// kinds win key collisions.
type SourceKind string

const (
	SourceEnv        SourceKind = "secrets-env"
	SourceYAML       SourceKind = "secrets-yaml"
	SourceProperties SourceKind = "properties"
	SourceKustomize  SourceKind = "kustomize"
)

var sourcePrecedence = map[SourceKind]int{
	SourceKustomize:  4,
	SourceEnv:        3,
	SourceYAML:       2,
	SourceProperties: 1,
}

// Entry is one desired key with its value and provenance.
type Entry struct {
	Key    string
	Value  string
	Source SourceKind
	File   string
}

// IsSecret reports whether the entry belongs in the secret store rather than
// the parameter store.
func (e Entry) IsSecret() bool {
	return e.Source != SourceProperties
}

// ShadowedEntry records a key collision resolved by precedence. It is
// surfaced through a status condition, never silently dropped.
type ShadowedEntry struct {
	Key    string
	Winner SourceKind
	Loser  SourceKind
}

// DesiredState is the canonical desired key set for one service: an ordered
// key to entry mapping plus the collisions precedence resolved. Extraction
// is pure, so identical files always produce an identical DesiredState.
type DesiredState struct {
	order    []string
	entries  map[string]Entry
	Shadowed []ShadowedEntry
}

// NewDesiredState returns an empty desired state.
func NewDesiredState() *DesiredState {
	return &DesiredState{entries: map[string]Entry{}}
}

// Keys returns the keys in first-seen order.
func (d *DesiredState) Keys() []string { return d.order }

// Get returns the winning entry for key.
func (d *DesiredState) Get(key string) (Entry, bool) {
	e, ok := d.entries[key]
	return e, ok
}

// Len returns the number of distinct keys.
func (d *DesiredState) Len() int { return len(d.order) }

func (d *DesiredState) add(e Entry) {
	existing, ok := d.entries[e.Key]
	if !ok {
		d.order = append(d.order, e.Key)
		d.entries[e.Key] = e
		return
	}
	if sourcePrecedence[e.Source] > sourcePrecedence[existing.Source] {
		d.entries[e.Key] = e
		d.Shadowed = append(d.Shadowed, ShadowedEntry{Key: e.Key, Winner: e.Source, Loser: existing.Source})
		return
	}
	d.Shadowed = append(d.Shadowed, ShadowedEntry{Key: e.Key, Winner: existing.Source, Loser: e.Source})
}

// Decryptor decrypts values that arrive encrypted in the source checkout.
// Implementations must never log plaintext.
type Decryptor interface {
	Decrypt(ciphertext string) (string, error)
}

const encryptedPrefix = "ENC["

func isEncrypted(value string) bool {
	return strings.HasPrefix(value, encryptedPrefix) && strings.HasSuffix(value, "]")
}

// ExtractDesiredState parses every file present in files into one desired
// state, resolving collisions by precedence (secrets-env over secrets-yaml
// over properties). Encrypted secret values are passed through dec; a nil
// dec with encrypted input is a DecryptionError.
func ExtractDesiredState(files ApplicationFiles, dec Decryptor) (*DesiredState, error) {
	desired := NewDesiredState()

	if files.EnvFile != "" {
		entries, err := ParseEnvFile(files.EnvFile)
		if err != nil {
			return nil, err
		}
		if err := addAll(desired, entries, dec); err != nil {
			return nil, err
		}
	}
	if files.YAMLFile != "" {
		entries, err := ParseYAMLFile(files.YAMLFile)
		if err != nil {
			return nil, err
		}
		if err := addAll(desired, entries, dec); err != nil {
			return nil, err
		}
	}
	if files.PropertiesFile != "" {
		entries, err := ParsePropertiesFile(files.PropertiesFile)
		if err != nil {
			return nil, err
		}
		if err := addAll(desired, entries, dec); err != nil {
			return nil, err
		}
	}

	return desired, nil
}

func addAll(desired *DesiredState, entries []Entry, dec Decryptor) error {
	for _, e := range entries {
		if e.IsSecret() && isEncrypted(e.Value) {
			if dec == nil {
				return &DecryptionError{Key: e.Key, Err: errors.New("no decryptor configured")}
			}
			plain, err := dec.Decrypt(e.Value)
			if err != nil {
				return &DecryptionError{Key: e.Key, Err: err}
			}
			e.Value = plain
		}
		desired.add(e)
	}
	return nil
}

// ParseEnvFile parses line-oriented KEY=VALUE content. Blank lines and lines
// starting with '#' are skipped. A line without '=' or with an empty key is
// a ParseError carrying the 1-based line number.
func ParseEnvFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{File: path, Err: err}
	}

	var entries []Entry
	for i, line := range strings.Split(string(data), "\n") {
		lineno := i + 1
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		key, value, ok := strings.Cut(trimmed, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, &ParseError{File: path, Line: lineno, Err: fmt.Errorf("expected KEY=VALUE, got %q", trimmed)}
		}
		entries = append(entries, Entry{
			Key:    key,
			Value:  unquote(strings.TrimSpace(value)),
			Source: SourceEnv,
			File:   path,
		})
	}
	return entries, nil
}

// ParseYAMLFile parses a nested mapping and flattens it: nested map keys are
// joined with '.', sequence elements get a "[i]" suffix, scalars keep their
// source text so stringification is deterministic.
func ParseYAMLFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{File: path, Err: err}
	}
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &ParseError{File: path, Err: err}
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		return nil, nil
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, &ParseError{File: path, Line: doc.Line, Err: errors.New("top level must be a mapping")}
	}

	var entries []Entry
	if err := flattenYAML(path, "", doc, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func flattenYAML(path, prefix string, node *yaml.Node, out *[]Entry) error {
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			if prefix != "" {
				key = prefix + "." + key
			}
			if err := flattenYAML(path, key, node.Content[i+1], out); err != nil {
				return err
			}
		}
	case yaml.SequenceNode:
		for i, item := range node.Content {
			if err := flattenYAML(path, fmt.Sprintf("%s[%d]", prefix, i), item, out); err != nil {
				return err
			}
		}
	case yaml.ScalarNode:
		value := node.Value
		if node.Tag == "!!null" {
			value = ""
		}
		*out = append(*out, Entry{Key: prefix, Value: value, Source: SourceYAML, File: path})
	case yaml.AliasNode:
		return flattenYAML(path, prefix, node.Alias, out)
	default:
		return &ParseError{File: path, Line: node.Line, Err: fmt.Errorf("unsupported node under %q", prefix)}
	}
	return nil
}

// ParsePropertiesFile parses key=value and "key: value" lines. A trailing
// backslash continues the value on the next line. Comments start with '#' or
// '!'.
func ParsePropertiesFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{File: path, Err: err}
	}

	var entries []Entry
	lines := strings.Split(string(data), "\n")
	for i := 0; i < len(lines); i++ {
		lineno := i + 1
		line := strings.TrimRight(lines[i], "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "!") {
			continue
		}

		for strings.HasSuffix(trimmed, "\\") && i+1 < len(lines) {
			i++
			next := strings.TrimSpace(strings.TrimRight(lines[i], "\r"))
			trimmed = strings.TrimSuffix(trimmed, "\\") + next
		}

		key, value, ok := splitProperty(trimmed)
		if !ok {
			return nil, &ParseError{File: path, Line: lineno, Err: fmt.Errorf("expected key=value or key: value, got %q", trimmed)}
		}
		entries = append(entries, Entry{Key: key, Value: value, Source: SourceProperties, File: path})
	}
	return entries, nil
}

func splitProperty(line string) (string, string, bool) {
	eq := strings.Index(line, "=")
	colon := strings.Index(line, ":")
	sep := eq
	if sep < 0 || (colon >= 0 && colon < sep) {
		sep = colon
	}
	if sep <= 0 {
		return "", "", false
	}
	key := strings.TrimSpace(line[:sep])
	value := strings.TrimSpace(line[sep+1:])
	if key == "" {
		return "", "", false
	}
	return key, value, true
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
