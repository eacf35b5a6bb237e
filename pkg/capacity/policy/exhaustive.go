// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: July 2026
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

package policy

import (
	"math"

	"capctl/pkg/capacity"
)

// Exhaustive is the optimal-policy baseline: brute-force search over the
// feasible (m, D, U) space.
type Exhaustive struct {
	N     int
	Nu    float64
	Costs capacity.Costs
}

// NewExhaustive constructs an Exhaustive searcher for N total servers.
func NewExhaustive(n int, nu float64, costs capacity.Costs) Exhaustive {
	return Exhaustive{N: n, Nu: nu, Costs: costs}
}

// Search evaluates every feasible (m, D, U) triple for m in [0, N), U in
// [floor(rho), 80), D in [0, U), and returns the minimum-cost Solution.
// D=U is skipped unless U < N-m-1 (the degenerate boundary), matching the
// exhaustive search's redundancy-avoidance rule.
func (x Exhaustive) Search(l capacity.Load) (capacity.Solution, error) {
	e := capacity.NewEvaluator(x.N, x.Nu, x.Costs)
	rho := l.Offered()
	minU := int(math.Floor(rho))

	best, err := e.Cost(capacity.Reserves{M: 0, D: 0, U: 0}, l)
	if err != nil {
		return capacity.Solution{}, err
	}

	for m := 0; m < x.N; m++ {
		n := x.N - m
		for u := minU; u < 80; u++ {
			for d := 0; d < u; d++ {
				if d == u && u < n-1 {
					continue
				}
				r, err := capacity.NewReserves(m, d, u)
				if err != nil {
					continue
				}
				sol, err := e.Cost(r, l)
				if err != nil {
					continue
				}
				if sol.Less(best) {
					best = sol
				}
			}
		}
	}
	return best, nil
}
