// Copyright 2024 Acnodal Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package membership

import "github.com/prometheus/client_golang/prometheus"

const (
	metricsNamespace = "groupmesh"
	subsystem        = "membership"
)

var (
	// groupCount tracks the number of group records currently held
	// across all vifs.
	groupCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: subsystem,
		Name:      "group_count",
		Help:      "Current number of group records held across all vifs",
	})

	// queriesSent counts General/Group-Specific/Group-and-Source-Specific
	// queries sent, labeled by vif.
	queriesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: subsystem,
		Name:      "queries_sent_total",
		Help:      "Total number of membership queries sent",
	}, []string{"vif"})

	// reportsReceived counts inbound reports processed, labeled by vif.
	reportsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: subsystem,
		Name:      "reports_received_total",
		Help:      "Total number of membership reports processed",
	}, []string{"vif"})

	// packetErrors counts rejected inbound packets, labeled by vif and
	// error kind.
	packetErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: subsystem,
		Name:      "packet_errors_total",
		Help:      "Total number of rejected inbound IGMP/MLD packets",
	}, []string{"vif", "kind"})

	// querierTransitions counts querier-state changes, labeled by vif.
	querierTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: subsystem,
		Name:      "querier_transitions_total",
		Help:      "Total number of querier election state transitions",
	}, []string{"vif"})
)

func init() {
	prometheus.MustRegister(groupCount)
	prometheus.MustRegister(queriesSent)
	prometheus.MustRegister(reportsReceived)
	prometheus.MustRegister(packetErrors)
	prometheus.MustRegister(querierTransitions)
}

// RecordGroupCount sets the current group-record count.
func RecordGroupCount(count int) {
	groupCount.Set(float64(count))
}

// RecordQuerySent increments the per-vif query counter.
func RecordQuerySent(vif string) {
	queriesSent.WithLabelValues(vif).Inc()
}

// RecordReportReceived increments the per-vif report counter.
func RecordReportReceived(vif string) {
	reportsReceived.WithLabelValues(vif).Inc()
}

// RecordPacketError increments the per-vif, per-kind reject counter.
func RecordPacketError(vif string, kind PacketErrorKind) {
	packetErrors.WithLabelValues(vif, kind.String()).Inc()
}

// RecordQuerierTransition increments the per-vif election-transition counter.
func RecordQuerierTransition(vif string) {
	querierTransitions.WithLabelValues(vif).Inc()
}
