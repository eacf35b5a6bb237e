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

// policybench compares the heuristic, exhaustive, hill-climbing, and
// simulated-annealing reserve-policy searches offline, across a sweep
// of arrival rates, reporting cost-optimality and search latency for
// each. Useful for deciding whether a deployment's reconfiguration
// interval can afford the exhaustive search or needs the O(1)
// heuristic.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	_ "net/http/pprof"
	"strings"
	"time"

	"capctl/pkg/capacity"
	"capctl/pkg/capacity/policy"
)

type result struct {
	lambda  float64
	variant string
	cost    float64
	elapsed time.Duration
}

func main() {
	var (
		n          = flag.Int("n", 10, "total servers in the fleet")
		mu         = flag.Float64("mu", 4.35, "per-server service rate")
		nu         = flag.Float64("nu", 1.0/60, "reserve power-up rate")
		holding    = flag.Float64("c1", 1.2, "holding cost per job per second")
		serverCost = flag.Float64("c2", 1.0, "cost per powered-on server per second")
		cores      = flag.Int("co", 1, "core multiplier for the heuristic/SA")
		lambdaLo   = flag.Float64("lambda_lo", 1, "sweep start (arrival rate)")
		lambdaHi   = flag.Float64("lambda_hi", 30, "sweep end (arrival rate)")
		lambdaStep = flag.Float64("lambda_step", 1, "sweep step")
		variants   = flag.String("variants", "heuristic,exhaustive,hillclimb,anneal", "comma-separated searches to run")
		seed       = flag.Int64("seed", 1, "PRNG seed for the annealing search")
		pprofOn    = flag.Bool("pprof", false, "enable pprof on localhost:6060")
	)
	flag.Parse()

	if *pprofOn {
		go func() { _ = http.ListenAndServe("localhost:6060", nil) }()
	}

	costs := capacity.Costs{Holding: *holding, Server: *serverCost}
	wanted := map[string]bool{}
	for _, v := range strings.Split(*variants, ",") {
		wanted[strings.TrimSpace(v)] = true
	}

	heuristic := policy.NewHeuristic(*n, *nu, costs, *cores)
	exhaustive := policy.NewExhaustive(*n, *nu, costs)
	hillclimb := policy.NewHillClimbing(*n, *nu, costs)
	anneal := policy.NewSimulatedAnnealing(*n, *nu, costs, *cores)
	anneal.Rand = rand.New(rand.NewSource(*seed))

	var results []result
	for lambda := *lambdaLo; lambda <= *lambdaHi; lambda += *lambdaStep {
		l := capacity.Load{Lambda: lambda, Mu: *mu}

		if wanted["heuristic"] {
			start := time.Now()
			sol, err := heuristic.Solve(l)
			results = append(results, record("heuristic", lambda, sol, time.Since(start), err))
		}
		if wanted["exhaustive"] {
			start := time.Now()
			sol, err := exhaustive.Search(l)
			results = append(results, record("exhaustive", lambda, sol, time.Since(start), err))
		}
		if wanted["hillclimb"] {
			seedConf := capacity.Reserves{M: *n / 2, D: 1, U: *n}
			start := time.Now()
			sol, err := hillclimb.Climb(seedConf, l)
			results = append(results, record("hillclimb", lambda, sol, time.Since(start), err))
		}
		if wanted["anneal"] {
			start := time.Now()
			sol, err := anneal.Search(l, nil)
			results = append(results, record("anneal", lambda, sol, time.Since(start), err))
		}
	}

	printReport(results)
}

func record(variant string, lambda float64, sol capacity.Solution, elapsed time.Duration, err error) result {
	if err != nil {
		return result{lambda: lambda, variant: variant, cost: -1, elapsed: elapsed}
	}
	return result{lambda: lambda, variant: variant, cost: sol.Cost, elapsed: elapsed}
}

func printReport(results []result) {
	fmt.Printf("%-10s %-12s %-14s %-12s\n", "lambda", "variant", "cost", "search_time")
	fmt.Println(strings.Repeat("-", 52))

	best := map[float64]float64{}
	for _, r := range results {
		if r.cost < 0 {
			continue
		}
		if b, ok := best[r.lambda]; !ok || r.cost < b {
			best[r.lambda] = r.cost
		}
	}

	totals := map[string]time.Duration{}
	regret := map[string]float64{}
	counts := map[string]int{}

	for _, r := range results {
		costStr := "error"
		if r.cost >= 0 {
			costStr = fmt.Sprintf("%.4f", r.cost)
		}
		fmt.Printf("%-10.2f %-12s %-14s %-12s\n", r.lambda, r.variant, costStr, r.elapsed.Round(time.Microsecond))
		totals[r.variant] += r.elapsed
		counts[r.variant]++
		if r.cost >= 0 {
			regret[r.variant] += r.cost - best[r.lambda]
		}
	}

	fmt.Println(strings.Repeat("-", 52))
	fmt.Println("Summary (lower total_regret is closer to optimal across the sweep):")
	for variant, total := range totals {
		avg := total / time.Duration(counts[variant])
		fmt.Printf("  %-12s avg_search_time=%-12s total_regret=%.4f\n", variant, avg.Round(time.Microsecond), regret[variant])
	}
}
