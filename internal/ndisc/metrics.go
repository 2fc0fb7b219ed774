/*
Copyright 2026 jr42.

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

package ndisc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports engine counters. Solicitations sent and failed are
// tracked separately: a failed send does not consume the retry budget, so
// both counters are needed to observe a persistently failing transport.
type Metrics struct {
	rasReceived       prometheus.Counter
	raTimeouts        prometheus.Counter
	rssSent           prometheus.Counter
	rsSendFailures    prometheus.Counter
	dadFailures       prometheus.Counter
	dadRetries        prometheus.Counter
	addressesAtCap    prometheus.Counter
	synthesisFailures prometheus.Counter
}

// NewMetrics registers the engine's counters with reg. The interface name
// becomes a constant label so one process can run several engines.
func NewMetrics(reg prometheus.Registerer, ifname string) *Metrics {
	labels := prometheus.Labels{"interface": ifname}
	factory := promauto.With(reg)
	return &Metrics{
		rasReceived: factory.NewCounter(prometheus.CounterOpts{
			Name:        "slaac_router_advertisements_received_total",
			Help:        "Router Advertisements ingested by the engine.",
			ConstLabels: labels,
		}),
		raTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name:        "slaac_router_advertisement_timeouts_total",
			Help:        "Solicitation windows that elapsed without any Router Advertisement.",
			ConstLabels: labels,
		}),
		rssSent: factory.NewCounter(prometheus.CounterOpts{
			Name:        "slaac_router_solicitations_sent_total",
			Help:        "Router Solicitations successfully handed to the transport.",
			ConstLabels: labels,
		}),
		rsSendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name:        "slaac_router_solicitation_send_failures_total",
			Help:        "Router Solicitation sends the transport reported as failed.",
			ConstLabels: labels,
		}),
		dadFailures: factory.NewCounter(prometheus.CounterOpts{
			Name:        "slaac_duplicate_address_failures_total",
			Help:        "Duplicate address detection failures reported by the platform.",
			ConstLabels: labels,
		}),
		dadRetries: factory.NewCounter(prometheus.CounterOpts{
			Name:        "slaac_duplicate_address_retries_total",
			Help:        "Stable-privacy addresses regenerated after a DAD failure.",
			ConstLabels: labels,
		}),
		addressesAtCap: factory.NewCounter(prometheus.CounterOpts{
			Name:        "slaac_addresses_dropped_at_cap_total",
			Help:        "Prefix-derived addresses dropped because the collection was full.",
			ConstLabels: labels,
		}),
		synthesisFailures: factory.NewCounter(prometheus.CounterOpts{
			Name:        "slaac_address_synthesis_failures_total",
			Help:        "Addresses dropped because host bits could not be derived.",
			ConstLabels: labels,
		}),
	}
}

// The engine calls these through a possibly-nil receiver; metrics are
// entirely optional.

func (m *Metrics) raReceived() {
	if m != nil {
		m.rasReceived.Inc()
	}
}

func (m *Metrics) raTimeout() {
	if m != nil {
		m.raTimeouts.Inc()
	}
}

func (m *Metrics) rsSent() {
	if m != nil {
		m.rssSent.Inc()
	}
}

func (m *Metrics) rsSendFailure() {
	if m != nil {
		m.rsSendFailures.Inc()
	}
}

func (m *Metrics) dadFailure() {
	if m != nil {
		m.dadFailures.Inc()
	}
}

func (m *Metrics) dadRetry() {
	if m != nil {
		m.dadRetries.Inc()
	}
}

func (m *Metrics) addressDroppedAtCap() {
	if m != nil {
		m.addressesAtCap.Inc()
	}
}

func (m *Metrics) synthesisFailure() {
	if m != nil {
		m.synthesisFailures.Inc()
	}
}
