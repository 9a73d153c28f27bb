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

package utils

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	. "github.com/onsi/ginkgo/v2" // nolint:revive,staticcheck
)

const (
	certmanagerVersion = "v1.19.1"
	certmanagerURLTmpl = "https://github.com/cert-manager/cert-manager/releases/download/%s/cert-manager.yaml"

	defaultKindBinary  = "kind"
	defaultKindCluster = "kind"
)

func warnError(err error) {
	_, _ = fmt.Fprintf(GinkgoWriter, "warning: %v\n", err)
}

// Run executes the provided command within this context
func Run(cmd *exec.Cmd) (string, error) {
	dir, _ := GetProjectDir()
	cmd.Dir = dir

	if err := os.Chdir(cmd.Dir); err != nil {
		_, _ = fmt.Fprintf(GinkgoWriter, "chdir dir: %q\n", err)
	}

	cmd.Env = append(os.Environ(), "GO111MODULE=on")
	command := strings.Join(cmd.Args, " ")
	_, _ = fmt.Fprintf(GinkgoWriter, "running: %q\n", command)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("%q failed with error %q: %w", command, string(output), err)
	}

	return string(output), nil
}

// UninstallCertManager uninstalls the cert manager
func UninstallCertManager() {
	url := fmt.Sprintf(certmanagerURLTmpl, certmanagerVersion)
	cmd := exec.Command("kubectl", "delete", "-f", url)
	if _, err := Run(cmd); err != nil {
		warnError(err)
	}

	// Delete leftover leases in kube-system (not cleaned by default)
	kubeSystemLeases := []string{
		"cert-manager-cainjector-leader-election",
		"cert-manager-controller",
	}
	for _, lease := range kubeSystemLeases {
		cmd = exec.Command("kubectl", "delete", "lease", lease,
			"-n", "kube-system", "--ignore-not-found", "--force", "--grace-period=0")
		if _, err := Run(cmd); err != nil {
			warnError(err)
		}
	}
}

// InstallCertManager installs the cert manager bundle.
func InstallCertManager() error {
	url := fmt.Sprintf(certmanagerURLTmpl, certmanagerVersion)
	cmd := exec.Command("kubectl", "apply", "-f", url)
	if _, err := Run(cmd); err != nil {
		return err
	}
	// Wait for cert-manager-webhook to be ready, which can take time if cert-manager
	// was re-installed after uninstalling on a cluster.
	cmd = exec.Command("kubectl", "wait", "deployment.apps/cert-manager-webhook",
		"--for", "condition=Available",
		"--namespace", "cert-manager",
		"--timeout", "5m",
	)

	_, err := Run(cmd)
	return err
}

// LoadImageToKindClusterWithName loads a local docker image to the kind cluster
func LoadImageToKindClusterWithName(name string) error {
	cluster := defaultKindCluster
	if v, ok := os.LookupEnv("KIND_CLUSTER"); ok {
		cluster = v
	}
	kindOptions := []string{"load", "docker-image", name, "--name", cluster}
	kindBinary := defaultKindBinary
	if v, ok := os.LookupEnv("KIND"); ok {
		kindBinary = v
	}
	cmd := exec.Command(kindBinary, kindOptions...)
	_, err := Run(cmd)
	return err
}

// GetNonEmptyLines converts given command output string into individual objects
// according to line breakers, and ignores the empty elements in it.
func GetNonEmptyLines(output string) []string {
	var res []string
	elements := strings.Split(output, "\n")
	for _, element := range elements {
		if element != "" {
			res = append(res, element)
		}
	}

	return res
}

// GetProjectDir will return the directory where the project is
func GetProjectDir() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return wd, fmt.Errorf("failed to get current working directory: %w", err)
	}
	wd = strings.ReplaceAll(wd, "/test/e2e", "")
	return wd, nil
}

// CreateNamespace creates a namespace, tolerating one that already exists.
func CreateNamespace(namespace string) error {
	cmd := exec.Command("kubectl", "create", "ns", namespace)
	_, err := Run(cmd)
	if err != nil && strings.Contains(err.Error(), "already exists") {
		return nil
	}
	return err
}

// ApplyManifest applies a manifest file from the project directory.
func ApplyManifest(path string) error {
	cmd := exec.Command("kubectl", "apply", "-f", path)
	_, err := Run(cmd)
	return err
}

// GetConfigPhase returns status.phase of a SecretManagerConfig.
func GetConfigPhase(namespace, name string) (string, error) {
	cmd := exec.Command("kubectl", "get", "secretmanagerconfig", name,
		"-n", namespace, "-o", "jsonpath={.status.phase}")
	output, err := Run(cmd)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(output), nil
}

// GetConfigConditionStatus returns the status of the named condition on a
// SecretManagerConfig, or "" when the condition is absent.
func GetConfigConditionStatus(namespace, name, conditionType string) (string, error) {
	template := fmt.Sprintf(`{{range .status.conditions}}{{if eq .type "%s"}}{{.status}}{{end}}{{end}}`, conditionType)
	cmd := exec.Command("kubectl", "get", "secretmanagerconfig", name,
		"-n", namespace, "-o", "go-template="+template)
	output, err := Run(cmd)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(output), nil
}

// GetConfigSyncedCount returns status.secretsSynced of a SecretManagerConfig.
func GetConfigSyncedCount(namespace, name string) (string, error) {
	cmd := exec.Command("kubectl", "get", "secretmanagerconfig", name,
		"-n", namespace, "-o", "jsonpath={.status.secretsSynced}")
	output, err := Run(cmd)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(output), nil
}

// TriggerReconcile sets the manual-trigger annotation on a
// SecretManagerConfig so the operator runs an out-of-band pass.
func TriggerReconcile(namespace, name string) error {
	stamp := fmt.Sprintf("secret-manager.in-cloud.io/reconcile=%d", GinkgoRandomSeed())
	cmd := exec.Command("kubectl", "annotate", "secretmanagerconfig", name,
		"-n", namespace, stamp, "--overwrite")
	_, err := Run(cmd)
	return err
}

// SuspendConfig toggles spec.suspend on a SecretManagerConfig.
func SuspendConfig(namespace, name string, suspend bool) error {
	patch := fmt.Sprintf(`{"spec":{"suspend":%t}}`, suspend)
	cmd := exec.Command("kubectl", "patch", "secretmanagerconfig", name,
		"-n", namespace, "--type=merge", "-p", patch)
	_, err := Run(cmd)
	return err
}

// DeleteConfig removes a SecretManagerConfig, tolerating a missing one.
func DeleteConfig(namespace, name string) error {
	cmd := exec.Command("kubectl", "delete", "secretmanagerconfig", name,
		"-n", namespace, "--ignore-not-found")
	_, err := Run(cmd)
	return err
}
