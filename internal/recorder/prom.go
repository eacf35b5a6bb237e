// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package recorder

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics — global only, no per-server label cardinality so
// the series count stays flat as the fleet grows or shrinks.
var (
	reserveCountGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "capctl_reserve_servers",
		Help: "Number of servers currently assigned the reserve role",
	})
	poweredOnGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "capctl_powered_on_servers",
		Help: "Number of servers currently powered on (always-on plus active reserves)",
	})
	arrivalRateGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "capctl_arrival_rate",
		Help: "Most recently measured request arrival rate, in requests/sec",
	})
	reserveStateGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "capctl_reserve_state",
		Help: "Current reserve pool state: 0=off, 1=powering_on, 2=on",
	})
	costPerTickGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "capctl_cost_per_tick",
		Help: "Cost incurred on the most recently completed tick",
	})
	totalCostGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "capctl_total_cost",
		Help: "Cumulative cost accrued since the controller started",
	})
	reconfigurationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "capctl_reconfigurations_total",
		Help: "Total number of times the controller re-solved its threshold policy",
	})
	commitErrorsTotalGauge = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "capctl_billing_commit_errors_total",
		Help: "Total number of failed billing ledger commit batches",
	})
)

func init() {
	prometheus.MustRegister(
		reserveCountGauge,
		poweredOnGauge,
		arrivalRateGauge,
		reserveStateGauge,
		costPerTickGauge,
		totalCostGauge,
		reconfigurationsTotal,
		commitErrorsTotalGauge,
	)
}

// ObserveTick updates the live gauges from one completed controller tick.
func ObserveTick(reserveCount, poweredOn int, arrivalRate float64, state int, tickCost, totalCost float64) {
	reserveCountGauge.Set(float64(reserveCount))
	poweredOnGauge.Set(float64(poweredOn))
	arrivalRateGauge.Set(arrivalRate)
	reserveStateGauge.Set(float64(state))
	costPerTickGauge.Set(tickCost)
	totalCostGauge.Set(totalCost)
}

// ObserveReconfiguration records that the threshold policy was re-solved.
func ObserveReconfiguration() { reconfigurationsTotal.Inc() }

// ObserveCommitError records a failed billing ledger commit batch.
func ObserveCommitError() { commitErrorsTotalGauge.Inc() }

// StartMetricsEndpoint exposes /metrics on addr in a background goroutine.
func StartMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = server.ListenAndServe()
	}()
	return server
}
