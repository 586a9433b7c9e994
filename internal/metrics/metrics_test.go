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

package metrics

import (
	"time"

	dto "github.com/prometheus/client_model/go"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func gaugeValue(families []*dto.MetricFamily, name string) float64 {
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		return f.GetMetric()[0].GetGauge().GetValue()
	}
	return -1
}

func counterValue(families []*dto.MetricFamily, name string) float64 {
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		return f.GetMetric()[0].GetCounter().GetValue()
	}
	return -1
}

var _ = Describe("Exporter", func() {
	It("reports a successful backup's freshness and size", func() {
		e := NewExporter()
		end := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		e.ObserveBackupOutcome("main", true, end, 4096)

		families, err := e.Registry().Gather()
		Expect(err).ToNot(HaveOccurred())
		Expect(gaugeValue(families, "barman_last_backup_success")).To(Equal(1.0))
		Expect(gaugeValue(families, "barman_last_backup_timestamp_seconds")).To(Equal(float64(end.Unix())))
		Expect(gaugeValue(families, "barman_last_backup_size_bytes")).To(Equal(4096.0))
		Expect(counterValue(families, "barman_backups_total")).To(Equal(1.0))
	})

	It("reports a failed backup without touching the freshness gauges", func() {
		e := NewExporter()
		e.ObserveBackupOutcome("main", false, time.Time{}, 0)

		families, err := e.Registry().Gather()
		Expect(err).ToNot(HaveOccurred())
		Expect(gaugeValue(families, "barman_last_backup_success")).To(Equal(0.0))
		// The timestamp gauge was never set, so Gather omits it entirely.
		Expect(gaugeValue(families, "barman_last_backup_timestamp_seconds")).To(Equal(-1.0))
	})

	It("clears the recoverability point gauge when no backup is recoverable", func() {
		e := NewExporter()
		e.ObserveFirstRecoverabilityPoint("main", nil)

		families, err := e.Registry().Gather()
		Expect(err).ToNot(HaveOccurred())
		Expect(gaugeValue(families, "barman_first_recoverability_point_timestamp_seconds")).To(Equal(0.0))
	})

	It("reports replication slot health as a 0/1 gauge", func() {
		e := NewExporter()
		e.ObserveReplicationSlot("main", true)

		families, err := e.Registry().Gather()
		Expect(err).ToNot(HaveOccurred())
		Expect(gaugeValue(families, "barman_replication_slot_active")).To(Equal(1.0))
	})

	It("reports the retention plan's obsolete count and minimum_redundancy violation flag", func() {
		e := NewExporter()
		e.ObserveRetentionPlan("main", 3, true)

		families, err := e.Registry().Gather()
		Expect(err).ToNot(HaveOccurred())
		Expect(gaugeValue(families, "barman_retention_obsolete_backups")).To(Equal(3.0))
		Expect(gaugeValue(families, "barman_retention_minimum_redundancy_violated")).To(Equal(1.0))
	})

	It("accumulates archived and failed WAL counters independently", func() {
		e := NewExporter()
		e.ObserveWALArchived("main", 5)
		e.ObserveWALArchived("main", 2)
		e.ObserveWALArchiveFailed("main", 1)

		families, err := e.Registry().Gather()
		Expect(err).ToNot(HaveOccurred())
		Expect(counterValue(families, "barman_wal_archived_total")).To(Equal(7.0))
		Expect(counterValue(families, "barman_wal_archive_failed_total")).To(Equal(1.0))
	})
})
