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
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// ApplicationFiles holds the discovered configuration files for one service
// in one environment. Any of the three file paths may be empty.
type ApplicationFiles struct {
	// ServiceName identifies the service the files belong to. Empty for a
	// single-service checkout where the configuration sits at the root; the
	// caller substitutes the resource name.
	ServiceName string

	// BasePath is the environment directory the files were found in.
	BasePath string

	EnvFile        string
	YAMLFile       string
	PropertiesFile string
}

// HasAnyFiles reports whether at least one recognized file was found. A
// result without any files is a valid empty sync, not an error.
func (a ApplicationFiles) HasAnyFiles() bool {
	return a.EnvFile != "" || a.YAMLFile != "" || a.PropertiesFile != ""
}

// DiscoverApplicationFiles walks root looking for per-environment
// configuration directories and returns one entry per service that has one
// for the given environment. Recognized layouts, relative to a service
// directory (or the checkout root for single-service repositories):
//
//	deployment-configuration/<environment>/
//	deployment-configuration/profiles/<environment>/
//
// Results are sorted by service name so repeated discovery over the same
// tree is deterministic.
func DiscoverApplicationFiles(root, environment string) ([]ApplicationFiles, error) {
	var found []ApplicationFiles

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return &ParseError{File: path, Err: err}
		}
		if !d.IsDir() || d.Name() != ConfigDirName {
			return nil
		}

		envDir := filepath.Join(path, environment)
		if !dirExists(envDir) {
			envDir = filepath.Join(path, ProfilesDirName, environment)
		}
		if dirExists(envDir) {
			service := ""
			if parent := filepath.Dir(path); parent != filepath.Clean(root) {
				service = filepath.Base(parent)
			}
			found = append(found, locateFiles(service, envDir))
		}

		// Environment directories never nest further configuration.
		return filepath.SkipDir
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(found, func(i, j int) bool { return found[i].ServiceName < found[j].ServiceName })
	return found, nil
}

func locateFiles(service, envDir string) ApplicationFiles {
	files := ApplicationFiles{ServiceName: service, BasePath: envDir}
	if p := filepath.Join(envDir, EnvFileName); fileExists(p) {
		files.EnvFile = p
	}
	if p := filepath.Join(envDir, YAMLFileName); fileExists(p) {
		files.YAMLFile = p
	}
	if p := filepath.Join(envDir, PropertiesFileName); fileExists(p) {
		files.PropertiesFile = p
	}
	return files
}

func dirExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
