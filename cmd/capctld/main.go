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

// Package main provides the entry point for capctld, the autonomic
// HAProxy reserve-capacity controller.
//
// This binary polls a running HAProxy instance's admin socket, tracks
// cost and arrival-rate telemetry, periodically re-solves the optimal
// reserve threshold policy (m, D, U) for the measured load, and powers
// the reserve block of backend servers up or down as that load crosses
// the D/U thresholds — all while billing the cost it accrues to a
// pluggable ledger (Redis, Postgres, or Kafka).
//
// 1. Parse flags into a config.Flags (these double as production knobs).
// 2. Build the fleet, the admin client, the billing ledger, and the
//    policy searcher.
// 3. Start the controller; it runs its own recovery procedure before
//    entering the tick loop.
// 4. Block on SIGINT/SIGTERM, then stop the controller and print a
//    final configuration summary.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"capctl/internal/billing"
	"capctl/internal/config"
	"capctl/internal/controller"
	"capctl/internal/fleet"
	"capctl/internal/proxyadmin"
	"capctl/internal/statparser"
	"capctl/pkg/capacity"
	"capctl/pkg/capacity/policy"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		log.Fatalf("capctld: parsing flags: %v", err)
	}

	if cfg.ReconfigInterval == 0 {
		log.Println("capctld: reconfiguration disabled")
	} else {
		log.Printf("capctld: reconfiguration interval %s", cfg.ReconfigInterval)
	}
	if cfg.OracleTrace != "" {
		log.Printf("capctld: oracle trace %s given; reconfiguration uses the measured arrival rate", cfg.OracleTrace)
	}
	log.Printf("capctld: power-up delay %.0f sec, thresholds enabled: %t", cfg.PowerUpSeconds, cfg.ThresholdsOn)

	// 1. Admin connection and fleet.
	admin := proxyadmin.NewClient(cfg.AdminSocket)
	if err := admin.Connect(); err != nil {
		log.Fatalf("capctld: connecting to %s: %v", cfg.AdminSocket, err)
	}
	defer admin.Close()

	fl, err := buildFleetFromStats(admin, cfg)
	if err != nil {
		log.Fatalf("capctld: discovering fleet: %v", err)
	}

	// 2. Billing ledger.
	ledger, err := buildLedger(cfg)
	if err != nil {
		log.Fatalf("capctld: building billing ledger: %v", err)
	}

	// 3. Policy searcher: the heuristic is cheap enough to run on every
	// reconfiguration; swap in policy.NewExhaustive for small fleets
	// where optimality matters more than reconfiguration latency.
	costs := capacity.Costs{Holding: cfg.HoldingCost, Server: cfg.ServerCost}
	heuristic := policy.NewHeuristic(fl.Size(), cfg.ServiceRate, costs, cfg.Cores)
	search := controller.Searcher(heuristic.Solve)

	ctl, err := controller.New(controller.Config{
		Backend:          cfg.Backend,
		ServiceRate:      cfg.ServiceRate,
		PollInterval:     cfg.PollInterval,
		ReconfigInterval: cfg.ReconfigInterval,
		PowerUpRate:      cfg.PowerUpRate(),
		MetricsDir:       cfg.MetricsDir,
		CostHolding:      cfg.HoldingCost,
		CostServer:       cfg.ServerCost,
		PrometheusAddr:   cfg.PrometheusAddr,
	}, admin, fl, search, ledger)
	if err != nil {
		log.Fatalf("capctld: constructing controller: %v", err)
	}

	if err := ctl.Start(); err != nil {
		log.Fatalf("capctld: starting controller: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	fmt.Println("\ncapctld: shutting down")
	ctl.Stop()
	cfg.PrintSummary()
	fmt.Println("capctld: stopped")
}

// buildFleetFromStats seeds the fleet from the backend's current
// server list (sorted by server name), assigning the last
// cfg.Reserves servers to the reserve pool and the rest to always-on.
// A real deployment would instead read role tags from its own
// inventory (the original used an EC2 tag for this); this reproduces
// that split without an EC2 dependency.
func buildFleetFromStats(admin *proxyadmin.Client, cfg config.Flags) (*fleet.Fleet, error) {
	lines, err := admin.ShowStat(nil)
	if err != nil {
		return nil, fmt.Errorf("reading initial stats: %w", err)
	}
	snap, err := statparser.Parse(lines)
	if err != nil {
		return nil, fmt.Errorf("parsing initial stats: %w", err)
	}

	var servers []statparser.ServiceStat
	for _, proxy := range snap.Proxies {
		for _, svc := range proxy {
			if svc.Pxname == cfg.Backend && svc.Type == statparser.TypeServer {
				servers = append(servers, svc)
			}
		}
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].Svname < servers[j].Svname })

	fl := fleet.New()
	reserveStart := len(servers) - cfg.Reserves
	if reserveStart < 0 {
		reserveStart = 0
	}
	for i, svc := range servers {
		role := fleet.AlwaysOn
		if i >= reserveStart {
			role = fleet.Reserve
		}
		if err := fl.Add(svc.Svname, svc.Svname, role); err != nil {
			return nil, err
		}
	}
	return fl, nil
}

// buildLedger constructs the billing ledger named by cfg.BillingAdapter.
//
// The redis adapter is fully self-contained here (go-redis is already
// a module dependency). The postgres adapter is deliberately left
// unopened: internal/billing/postgres.go takes a caller-supplied
// *sql.DB without importing a concrete driver, the same restraint
// internal/billing/kafka.go applies to its Producer, so a deployment
// that wants -billing postgres links its own driver (pgx, lib/pq) in a
// small wrapper main that opens the *sql.DB and calls
// billing.NewPostgresLedger directly; BuildLedger surfaces that as an
// explicit error rather than silently falling back to no-op billing.
func buildLedger(cfg config.Flags) (billing.Ledger, error) {
	return billing.BuildLedger(cfg.BillingAdapter, billing.Options{
		RedisAddr:  cfg.RedisAddr,
		KafkaTopic: cfg.KafkaTopic,
	})
}
