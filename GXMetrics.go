package gxpressure

// --------------------------------------------------------------------------
//
//	Gurux Ltd
//
// Filename:        $HeadURL$
//
// Version:         $Revision$,
//
//	$Date$
//	$Author$
//
// # Copyright (c) Gurux Ltd
//
// ---------------------------------------------------------------------------
//
//	DESCRIPTION
//
// This file is a part of Gurux Device Framework.
//
// Gurux Device Framework is Open Source software; you can redistribute it
// and/or modify it under the terms of the GNU General Public License
// as published by the Free Software Foundation; version 2 of the License.
// Gurux Device Framework is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU General Public License for more details.
//
// More information of Gurux products: https://www.gurux.org
//
// This code is licensed under the GNU General Public License v2.
// Full text may be retrieved at http://www.gnu.org/licenses/gpl-2.0.txt
// ---------------------------------------------------------------------------

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports the statistics of a Session as Prometheus metrics.
type Collector struct {
	session   *Session
	commands  *prometheus.Desc
	retries   *prometheus.Desc
	timeouts  *prometheus.Desc
	faults    *prometheus.Desc
	sent      *prometheus.Desc
	received  *prometheus.Desc
	state     *prometheus.Desc
	connected *prometheus.Desc
}

// NewCollector returns a collector for the session. The model of the
// session grammar is added as the model label.
//
// Example:
//
//	prometheus.MustRegister(gxpressure.NewCollector(s, prometheus.Labels{"instrument": "pcs1"}))
func NewCollector(s *Session, constLabels prometheus.Labels) *Collector {
	labels := prometheus.Labels{"model": s.Grammar().Model}
	for k, v := range constLabels {
		labels[k] = v
	}
	desc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("gxpressure", "session", name), help, variable, labels)
	}
	return &Collector{
		session:   s,
		commands:  desc("commands_total", "Number of executed requests."),
		retries:   desc("retries_total", "Number of repeated round trips."),
		timeouts:  desc("timeouts_total", "Number of round trips without reply."),
		faults:    desc("instrument_faults_total", "Number of faults read from the error queue."),
		sent:      desc("bytes_sent_total", "Number of sent bytes."),
		received:  desc("bytes_received_total", "Number of received bytes."),
		state:     desc("state", "Current protocol state.", "state"),
		connected: desc("usable", "1 if the session accepts requests."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.commands
	ch <- c.retries
	ch <- c.timeouts
	ch <- c.faults
	ch <- c.sent
	ch <- c.received
	ch <- c.state
	ch <- c.connected
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.session.Statistics()
	ch <- prometheus.MustNewConstMetric(c.commands, prometheus.CounterValue, float64(st.Commands))
	ch <- prometheus.MustNewConstMetric(c.retries, prometheus.CounterValue, float64(st.Retries))
	ch <- prometheus.MustNewConstMetric(c.timeouts, prometheus.CounterValue, float64(st.Timeouts))
	ch <- prometheus.MustNewConstMetric(c.faults, prometheus.CounterValue, float64(st.Faults))
	ch <- prometheus.MustNewConstMetric(c.sent, prometheus.CounterValue, float64(st.BytesSent))
	ch <- prometheus.MustNewConstMetric(c.received, prometheus.CounterValue, float64(st.BytesReceived))
	current := c.session.State()
	for _, state := range []SessionState{StateIdle, StateAwaitingReply, StateDraining, StateFaulted, StateClosed} {
		v := 0.0
		if state == current {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, v, state.String())
	}
	usable := 1.0
	if current == StateFaulted || current == StateClosed {
		usable = 0
	}
	ch <- prometheus.MustNewConstMetric(c.connected, prometheus.GaugeValue, usable)
}
