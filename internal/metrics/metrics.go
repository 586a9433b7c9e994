/*
Copyright The CloudNativePG Contributors

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

// Package metrics exposes the host manager's own operational state (not
// the target database's) as Prometheus gauges and counters: backup
// freshness, WAL archiving throughput, replication slot health, and
// retention-policy outcomes, one label set per configured server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "barman"

// Metrics holds every collector the exporter registers. Fields are
// exported so a caller (the diagnose/cron commands) can set values
// directly without a setter per metric.
type Metrics struct {
	LastBackupSuccess          *prometheus.GaugeVec
	LastBackupTimestamp        *prometheus.GaugeVec
	LastBackupSize             *prometheus.GaugeVec
	FirstRecoverabilityPoint   *prometheus.GaugeVec
	BackupsTotal               *prometheus.CounterVec
	WALArchivedTotal           *prometheus.CounterVec
	WALArchiveFailedTotal      *prometheus.CounterVec
	ReplicationSlotActive      *prometheus.GaugeVec
	RetentionObsoleteBackups   *prometheus.GaugeVec
	RetentionMinimumRedundancy *prometheus.GaugeVec
}

// Exporter wraps Metrics with the registry it was registered against.
type Exporter struct {
	Metrics  *Metrics
	registry *prometheus.Registry
}

// NewExporter builds an Exporter with a fresh registry and every collector
// registered, ready for an HTTP handler to serve via
// promhttp.HandlerFor(exporter.Registry(), ...).
func NewExporter() *Exporter {
	serverLabel := []string{"server"}

	m := &Metrics{
		LastBackupSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_backup_success",
			Help: "1 if the most recent backup for this server completed successfully, 0 otherwise.",
		}, serverLabel),
		LastBackupTimestamp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_backup_timestamp_seconds",
			Help: "Unix timestamp of the end_time of the most recent DONE backup.",
		}, serverLabel),
		LastBackupSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_backup_size_bytes",
			Help: "Size in bytes of the most recent DONE backup.",
		}, serverLabel),
		FirstRecoverabilityPoint: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "first_recoverability_point_timestamp_seconds",
			Help: "Unix timestamp of the earliest point in time recovery is possible to.",
		}, serverLabel),
		BackupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "backups_total",
			Help: "Total backups attempted, partitioned by outcome.",
		}, []string{"server", "status"}),
		WALArchivedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "wal_archived_total",
			Help: "Total WAL segments successfully archived.",
		}, serverLabel),
		WALArchiveFailedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "wal_archive_failed_total",
			Help: "Total WAL segments that exceeded the archive retry budget and were quarantined.",
		}, serverLabel),
		ReplicationSlotActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "replication_slot_active",
			Help: "1 if the server's configured replication slot exists, 0 otherwise.",
		}, serverLabel),
		RetentionObsoleteBackups: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "retention_obsolete_backups",
			Help: "Number of backups the current retention policy marks obsolete but not yet deleted.",
		}, serverLabel),
		RetentionMinimumRedundancy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "retention_minimum_redundancy_violated",
			Help: "1 if deleting the obsolete set would breach minimum_redundancy, 0 otherwise.",
		}, serverLabel),
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		m.LastBackupSuccess,
		m.LastBackupTimestamp,
		m.LastBackupSize,
		m.FirstRecoverabilityPoint,
		m.BackupsTotal,
		m.WALArchivedTotal,
		m.WALArchiveFailedTotal,
		m.ReplicationSlotActive,
		m.RetentionObsoleteBackups,
		m.RetentionMinimumRedundancy,
	)

	return &Exporter{Metrics: m, registry: registry}
}

// Registry returns the registry every collector was registered against.
func (e *Exporter) Registry() *prometheus.Registry { return e.registry }

// ObserveBackupOutcome records a finished backup's outcome for server,
// updating the freshness gauges when it succeeded.
func (e *Exporter) ObserveBackupOutcome(server string, success bool, endTime time.Time, size int64) {
	status := "failed"
	successValue := 0.0
	if success {
		status = "done"
		successValue = 1.0
		e.Metrics.LastBackupTimestamp.WithLabelValues(server).Set(float64(endTime.Unix()))
		e.Metrics.LastBackupSize.WithLabelValues(server).Set(float64(size))
	}
	e.Metrics.LastBackupSuccess.WithLabelValues(server).Set(successValue)
	e.Metrics.BackupsTotal.WithLabelValues(server, status).Inc()
}

// ObserveFirstRecoverabilityPoint sets the gauge for server, or clears it
// to zero when t is nil (no recoverable backup exists).
func (e *Exporter) ObserveFirstRecoverabilityPoint(server string, t *time.Time) {
	if t == nil {
		e.Metrics.FirstRecoverabilityPoint.WithLabelValues(server).Set(0)
		return
	}
	e.Metrics.FirstRecoverabilityPoint.WithLabelValues(server).Set(float64(t.Unix()))
}

// ObserveWALArchived increments server's archived-segment counter by n.
func (e *Exporter) ObserveWALArchived(server string, n int) {
	e.Metrics.WALArchivedTotal.WithLabelValues(server).Add(float64(n))
}

// ObserveWALArchiveFailed increments server's quarantined-segment counter
// by n.
func (e *Exporter) ObserveWALArchiveFailed(server string, n int) {
	e.Metrics.WALArchiveFailedTotal.WithLabelValues(server).Add(float64(n))
}

// ObserveReplicationSlot records whether server's replication slot exists.
func (e *Exporter) ObserveReplicationSlot(server string, active bool) {
	value := 0.0
	if active {
		value = 1.0
	}
	e.Metrics.ReplicationSlotActive.WithLabelValues(server).Set(value)
}

// ObserveRetentionPlan records the size of the obsolete-backup set and
// whether minimum_redundancy was violated for server.
func (e *Exporter) ObserveRetentionPlan(server string, obsoleteCount int, minimumRedundancyViolated bool) {
	e.Metrics.RetentionObsoleteBackups.WithLabelValues(server).Set(float64(obsoleteCount))
	violated := 0.0
	if minimumRedundancyViolated {
		violated = 1.0
	}
	e.Metrics.RetentionMinimumRedundancy.WithLabelValues(server).Set(violated)
}
