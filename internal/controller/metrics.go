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
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	syncTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "secret_manager_sync_total",
		Help: "Completed sync passes per resource and outcome.",
	}, []string{"namespace", "name", "outcome"})

	syncedSecrets = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "secret_manager_synced_secrets",
		Help: "Secrets currently in sync per resource.",
	}, []string{"namespace", "name"})

	driftDetected = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "secret_manager_drift_keys",
		Help: "Backend keys absent from the desired state per resource.",
	}, []string{"namespace", "name"})

	syncDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "secret_manager_sync_duration_seconds",
		Help:    "Wall time of one reconcile pass.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"namespace", "name"})
)

func init() {
	metrics.Registry.MustRegister(syncTotal, syncedSecrets, driftDetected, syncDuration)
}
