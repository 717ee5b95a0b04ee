// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// Copyright (c) 2022-2024 HexInfra Co., Ltd.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// Prometheus-backed instrumentation. A single *Registry satisfies every
// component's narrow Metrics interface (rotator.Metrics, remotekey.Metrics,
// ipc.Metrics, lifecycle.Metrics, workerpool.Metrics) so the process
// orchestrator can wire one object everywhere instead of building five.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry collects every gauge/counter this module exposes.
type Registry struct {
	ticketKeySetSize   prometheus.Gauge
	ticketRotations    *prometheus.CounterVec
	ticketFetches      *prometheus.CounterVec
	keyFileReloads     *prometheus.CounterVec
	connections        *prometheus.GaugeVec
	acceptedTotal      prometheus.Counter
	lifecycleTransitns *prometheus.CounterVec
	ipcEvents          *prometheus.CounterVec
}

// New constructs a Registry and registers its collectors against reg.
// instanceID is attached to every collector as a constant "instance" label
// (see uuid.New in internal/process.New) so metrics scraped from several worker
// processes on the same host can be told apart without relying on scrape
// target address alone. Pass prometheus.NewRegistry() for an isolated
// registry (as tests do) or prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer, instanceID string) *Registry {
	labels := prometheus.Labels{"instance": instanceID}
	r := &Registry{
		ticketKeySetSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "nghttpx_worker_ticket_key_set_size",
			Help:        "Number of TLS session ticket keys currently held, active key included.",
			ConstLabels: labels,
		}),
		ticketRotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "nghttpx_worker_ticket_rotations_total",
			Help:        "Local ticket-key rotations, partitioned by result.",
			ConstLabels: labels,
		}, []string{"result"}),
		ticketFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "nghttpx_worker_ticket_fetches_total",
			Help:        "Remote ticket-key fetches, partitioned by result.",
			ConstLabels: labels,
		}, []string{"result"}),
		keyFileReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "nghttpx_worker_ticket_keyfile_reloads_total",
			Help:        "tls_ticket_key_files hot reloads, partitioned by result.",
			ConstLabels: labels,
		}, []string{"result"}),
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "nghttpx_worker_connections",
			Help:        "In-flight connections per worker.",
			ConstLabels: labels,
		}, []string{"worker"}),
		acceptedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "nghttpx_worker_accepted_total",
			Help:        "Connections handed off from an acceptor to the worker pool.",
			ConstLabels: labels,
		}),
		lifecycleTransitns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "nghttpx_worker_lifecycle_transitions_total",
			Help:        "Lifecycle state transitions, partitioned by destination state.",
			ConstLabels: labels,
		}, []string{"to"}),
		ipcEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "nghttpx_worker_ipc_events_total",
			Help:        "IPC opcodes received from the parent, partitioned by opcode.",
			ConstLabels: labels,
		}, []string{"opcode"}),
	}
	reg.MustRegister(
		r.ticketKeySetSize,
		r.ticketRotations,
		r.ticketFetches,
		r.keyFileReloads,
		r.connections,
		r.acceptedTotal,
		r.lifecycleTransitns,
		r.ipcEvents,
	)
	return r
}

// SetTicketKeySetSize records the size of the current ticket-key set.
// Neither rotator nor remotekey calls it directly: internal/process wraps
// their Publisher so that every set C3 or C4 publishes updates the gauge,
// and sets it once after the initial tls_ticket_key_files load.
func (r *Registry) SetTicketKeySetSize(n int) { r.ticketKeySetSize.Set(float64(n)) }

// ObserveTicketRotation implements rotator.Metrics.
func (r *Registry) ObserveTicketRotation(ok bool) {
	r.ticketRotations.WithLabelValues(resultLabel(ok)).Inc()
}

// ObserveTicketFetch implements remotekey.Metrics.
func (r *Registry) ObserveTicketFetch(outcome string) {
	r.ticketFetches.WithLabelValues(outcome).Inc()
}

// ObserveKeyFileReload implements keyfile.Metrics.
func (r *Registry) ObserveKeyFileReload(ok bool) {
	r.keyFileReloads.WithLabelValues(resultLabel(ok)).Inc()
}

// SetConnections implements workerpool.Metrics.
func (r *Registry) SetConnections(workerID int, n int) {
	r.connections.WithLabelValues(strconv.Itoa(workerID)).Set(float64(n))
}

// ObserveAccepted implements workerpool.Metrics.
func (r *Registry) ObserveAccepted() { r.acceptedTotal.Inc() }

// ObserveLifecycleTransition implements lifecycle.Metrics.
func (r *Registry) ObserveLifecycleTransition(to string) {
	r.lifecycleTransitns.WithLabelValues(to).Inc()
}

// ObserveIPCEvent implements ipc.Metrics.
func (r *Registry) ObserveIPCEvent(name string) {
	r.ipcEvents.WithLabelValues(name).Inc()
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
