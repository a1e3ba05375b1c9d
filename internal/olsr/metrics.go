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

package olsr

import "github.com/prometheus/client_golang/prometheus"

const (
	metricsNamespace = "groupmesh"
	subsystem        = "olsr"
)

var (
	// neighborCount tracks the number of symmetric one-hop neighbors.
	neighborCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: subsystem,
		Name:      "neighbor_count",
		Help:      "Current number of symmetric one-hop neighbors",
	})

	// mprCount tracks the number of neighbors currently selected as MPR.
	mprCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: subsystem,
		Name:      "mpr_count",
		Help:      "Current number of one-hop neighbors selected as MPR",
	})

	// helloSent/tcSent count originated messages, labeled by face.
	helloSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: subsystem,
		Name:      "hello_sent_total",
		Help:      "Total number of HELLO messages originated",
	}, []string{"face"})

	tcSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: subsystem,
		Name:      "tc_sent_total",
		Help:      "Total number of TC messages originated",
	}, []string{"face"})

	// messagesForwarded counts messages relayed under the default
	// forwarding rule, labeled by face.
	messagesForwarded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: subsystem,
		Name:      "messages_forwarded_total",
		Help:      "Total number of OLSR messages relayed via the default forwarding rule",
	}, []string{"face"})

	// protoErrors counts rejected inbound packets, labeled by face.
	protoErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: subsystem,
		Name:      "proto_errors_total",
		Help:      "Total number of rejected inbound OLSR packets",
	}, []string{"face"})

	// topologyEdges tracks the size of the edge set last pushed to the
	// route manager.
	topologyEdges = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: subsystem,
		Name:      "topology_edges",
		Help:      "Number of edges in the last topology push to the route manager",
	})
)

func init() {
	prometheus.MustRegister(neighborCount)
	prometheus.MustRegister(mprCount)
	prometheus.MustRegister(helloSent)
	prometheus.MustRegister(tcSent)
	prometheus.MustRegister(messagesForwarded)
	prometheus.MustRegister(protoErrors)
	prometheus.MustRegister(topologyEdges)
}

// RecordNeighborCount sets the current symmetric-neighbor count.
func RecordNeighborCount(n int) { neighborCount.Set(float64(n)) }

// RecordMPRCount sets the current MPR-selection count.
func RecordMPRCount(n int) { mprCount.Set(float64(n)) }

// RecordHelloSent increments the per-face HELLO counter.
func RecordHelloSent(face string) { helloSent.WithLabelValues(face).Inc() }

// RecordTCSent increments the per-face TC counter.
func RecordTCSent(face string) { tcSent.WithLabelValues(face).Inc() }

// RecordMessageForwarded increments the per-face forwarding counter.
func RecordMessageForwarded(face string) { messagesForwarded.WithLabelValues(face).Inc() }

// RecordProtoError increments the per-face reject counter.
func RecordProtoError(face string) { protoErrors.WithLabelValues(face).Inc() }

// RecordTopologyEdges sets the size of the last edge push.
func RecordTopologyEdges(n int) { topologyEdges.Set(float64(n)) }
