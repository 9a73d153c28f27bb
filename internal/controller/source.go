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
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	smcv1alpha1 "secret-manager-operator/api/v1alpha1"
)

var fluxGitRepositoryGVK = schema.GroupVersionKind{
	Group:   "source.toolkit.fluxcd.io",
	Version: "v1",
	Kind:    "GitRepository",
}

// SourceResolver materializes the referenced GitOps source as a local
// directory. The cleanup function removes the checkout and is safe to call
// exactly once.
type SourceResolver interface {
	Resolve(ctx context.Context, smc *smcv1alpha1.SecretManagerConfig) (dir string, cleanup func(), err error)
}

// GitOpsSourceResolver resolves FluxCD GitRepository artifacts by
// downloading the archived tarball the source-controller publishes, and
// ArgoCD Applications by a shallow clone of their tracked revision.
type GitOpsSourceResolver struct {
	Client client.Client

	// HTTPClient fetches Flux artifacts. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

func (r *GitOpsSourceResolver) Resolve(ctx context.Context, smc *smcv1alpha1.SecretManagerConfig) (string, func(), error) {
	switch smc.Spec.SourceRef.Kind {
	case smcv1alpha1.SourceKindApplication:
		return r.resolveApplication(ctx, smc)
	default:
		return r.resolveGitRepository(ctx, smc)
	}
}

func (r *GitOpsSourceResolver) resolveGitRepository(ctx context.Context, smc *smcv1alpha1.SecretManagerConfig) (string, func(), error) {
	repo := &unstructured.Unstructured{}
	repo.SetGroupVersionKind(fluxGitRepositoryGVK)
	if err := r.Client.Get(ctx, types.NamespacedName{
		Namespace: smc.Spec.SourceRef.Namespace,
		Name:      smc.Spec.SourceRef.Name,
	}, repo); err != nil {
		return "", nil, fmt.Errorf("get GitRepository: %w", err)
	}

	url, found, err := unstructured.NestedString(repo.Object, "status", "artifact", "url")
	if err != nil || !found || url == "" {
		return "", nil, errors.New("GitRepository has no ready artifact")
	}

	dir, err := os.MkdirTemp("", "source-artifact-")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	if err := r.downloadArtifact(ctx, url, dir); err != nil {
		cleanup()
		return "", nil, err
	}
	logr.FromContextOrDiscard(ctx).V(1).Info("Unpacked source artifact", "url", url, "dir", dir)
	return dir, cleanup, nil
}

func (r *GitOpsSourceResolver) downloadArtifact(ctx context.Context, url, dir string) error {
	httpClient := r.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch artifact: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch artifact: unexpected status %s", resp.Status)
	}

	return untar(resp.Body, dir)
}

func (r *GitOpsSourceResolver) resolveApplication(ctx context.Context, smc *smcv1alpha1.SecretManagerConfig) (string, func(), error) {
	app := &unstructured.Unstructured{}
	app.SetGroupVersionKind(argoApplicationGVK)
	if err := r.Client.Get(ctx, types.NamespacedName{
		Namespace: smc.Spec.SourceRef.Namespace,
		Name:      smc.Spec.SourceRef.Name,
	}, app); err != nil {
		return "", nil, fmt.Errorf("get Application: %w", err)
	}

	repoURL, _, _ := unstructured.NestedString(app.Object, "spec", "source", "repoURL")
	if repoURL == "" {
		return "", nil, errors.New("Application has no source repoURL")
	}
	revision, _, _ := unstructured.NestedString(app.Object, "spec", "source", "targetRevision")
	if revision == "" {
		revision = "HEAD"
	}

	dir, err := os.MkdirTemp("", "source-clone-")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	args := []string{"clone", "--depth", "1"}
	if revision != "HEAD" {
		args = append(args, "--branch", revision)
	}
	args = append(args, repoURL, dir)

	cmd := exec.CommandContext(ctx, "git", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("git clone %s@%s: %v: %s", repoURL, revision, err, strings.TrimSpace(string(out)))
	}
	logr.FromContextOrDiscard(ctx).V(1).Info("Cloned source repository", "repoURL", repoURL, "revision", revision)
	return dir, cleanup, nil
}

// untar unpacks a gzipped tarball into dir, refusing entries that would
// escape it.
func untar(r io.Reader, dir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read artifact: %w", err)
		}

		target := filepath.Join(dir, filepath.Clean(header.Name))
		if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) && target != filepath.Clean(dir) {
			return fmt.Errorf("artifact entry %q escapes the target directory", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode)&0o777)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		}
	}
}
