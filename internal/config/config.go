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

// Package config parses capctld's command-line flags and keeps a
// sorted snapshot of the effective configuration for the shutdown
// summary, mirroring the rate limiter demo's threshold-registry idiom.
package config

import (
	"flag"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Flags holds every knob capctld accepts, named after the original
// monitor's single-letter flags where one exists (mu/m/D/U/c1/c2/p/
// mon/r/co/o/t) plus the ambient ones this port adds (socket path,
// backend name, metrics directory, billing adapter).
type Flags struct {
	ServiceRate      float64 // -mu
	Reserves         int     // -m
	LowerThreshold   int     // -D
	UpperThreshold   int     // -U
	HoldingCost      float64 // -c1
	ServerCost       float64 // -c2
	PowerUpSeconds   float64 // -p: avg seconds to power up reserves
	PollInterval     time.Duration
	ReconfigInterval time.Duration
	Cores            int    // -co
	OracleTrace      string // -o
	ThresholdsOn     bool   // -t

	AdminSocket string
	Backend     string
	MetricsDir  string

	BillingAdapter string
	RedisAddr      string
	PostgresDSN    string
	KafkaTopic     string

	PrometheusAddr string
}

// Parse parses args (typically os.Args[1:]) into a Flags value.
func Parse(args []string) (Flags, error) {
	fs := flag.NewFlagSet("capctld", flag.ContinueOnError)

	mu := fs.Float64("mu", 4.35, "service rate per server")
	m := fs.Int("m", 0, "number of reserve servers")
	d := fs.Int("D", 0, "lower (power-down) threshold")
	u := fs.Int("U", 0, "upper (power-up) threshold")
	c1 := fs.Float64("c1", 1.2, "holding cost per job per second")
	c2 := fs.Float64("c2", 1.0, "cost per powered-on server per second")
	p := fs.Float64("p", 60.0, "average seconds required to power up reserves")
	mon := fs.Int("mon", 1, "monitoring interval, in seconds")
	r := fs.Int("r", 3600, "reconfiguration interval, in seconds (0 disables)")
	co := fs.Int("co", 2, "cores per server")
	o := fs.String("o", "", "file with an arrival rate trace (oracle mode); logged and shown in the summary, the controller does not load it")
	t := fs.Bool("t", true, "D/U threshold switch; shown in the summary, the controller checks the D/U thresholds on every tick regardless")

	sock := fs.String("socket", "/var/run/haproxy/admin.sock", "HAProxy admin socket path")
	backend := fs.String("backend", "web", "HAProxy backend name carrying the servers")
	metricsDir := fs.String("metrics_dir", ".", "directory for cost.csv / arr_rate.csv / haproxy.csv")

	billingAdapter := fs.String("billing", "", "billing ledger adapter: \"\", \"redis\", or \"postgres\"")
	redisAddr := fs.String("redis_addr", "", "redis address for the billing ledger")
	postgresDSN := fs.String("postgres_dsn", "", "postgres DSN for the billing ledger (capctld itself opens no database with it)")
	kafkaTopic := fs.String("kafka_topic", "", "kafka topic for the billing ledger (requires a caller-supplied producer)")

	prometheusAddr := fs.String("metrics_addr", "", "if non-empty, expose Prometheus /metrics on this address")

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	return Flags{
		ServiceRate:      *mu,
		Reserves:         *m,
		LowerThreshold:   *d,
		UpperThreshold:   *u,
		HoldingCost:      *c1,
		ServerCost:       *c2,
		PowerUpSeconds:   *p,
		PollInterval:     time.Duration(*mon) * time.Second,
		ReconfigInterval: time.Duration(*r) * time.Second,
		Cores:            *co,
		OracleTrace:      *o,
		ThresholdsOn:     *t,
		AdminSocket:      *sock,
		Backend:          *backend,
		MetricsDir:       *metricsDir,
		BillingAdapter:   *billingAdapter,
		RedisAddr:        *redisAddr,
		PostgresDSN:      *postgresDSN,
		KafkaTopic:       *kafkaTopic,
		PrometheusAddr:   *prometheusAddr,
	}, nil
}

// PowerUpRate returns the exponential distribution's rate parameter ν
// implied by PowerUpSeconds (its mean). A non-positive PowerUpSeconds
// collapses to an immediate (zero-delay) power-up.
func (f Flags) PowerUpRate() float64 {
	if f.PowerUpSeconds <= 0 {
		return 0
	}
	return 1.0 / f.PowerUpSeconds
}

// Snapshot renders the effective configuration as a sorted key/value
// map, for the shutdown summary.
func (f Flags) Snapshot() map[string]string {
	return map[string]string{
		"mu":          fmt.Sprintf("%.3f", f.ServiceRate),
		"m":           fmt.Sprintf("%d", f.Reserves),
		"D":           fmt.Sprintf("%d", f.LowerThreshold),
		"U":           fmt.Sprintf("%d", f.UpperThreshold),
		"c1":          fmt.Sprintf("%.3f", f.HoldingCost),
		"c2":          fmt.Sprintf("%.3f", f.ServerCost),
		"p":           fmt.Sprintf("%.1f", f.PowerUpSeconds),
		"mon":         f.PollInterval.String(),
		"r":           f.ReconfigInterval.String(),
		"co":          fmt.Sprintf("%d", f.Cores),
		"o":           f.OracleTrace,
		"t":           fmt.Sprintf("%t", f.ThresholdsOn),
		"socket":      f.AdminSocket,
		"backend":     f.Backend,
		"billing":     f.BillingAdapter,
		"metrics_dir": f.MetricsDir,
	}
}

// PrintSummary prints the effective configuration in the sorted,
// columnar style the teacher's final-metrics summary uses.
func (f Flags) PrintSummary() {
	snap := f.Snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sep := strings.Repeat("-", 60)
	fmt.Println("Effective configuration")
	fmt.Println(sep)
	fmt.Printf("%-18s %40s\n", "Name", "Value")
	fmt.Println(sep)
	for _, k := range keys {
		fmt.Printf("%-18s %40s\n", k, snap[k])
	}
	fmt.Println(sep)
}
