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

import "capctl/pkg/capacity"

// HillClimbing performs local search from a seed configuration. It is
// likely to get stuck in a local minimum and is not used in steady-state
// controller operation; it is kept for offline analysis only.
type HillClimbing struct {
	N     int
	Nu    float64
	Costs capacity.Costs
}

// NewHillClimbing constructs a HillClimbing searcher for N total servers.
func NewHillClimbing(n int, nu float64, costs capacity.Costs) HillClimbing {
	return HillClimbing{N: n, Nu: nu, Costs: costs}
}

// Climb repeatedly evaluates up to eight unit-step neighbours of the seed
// configuration, accepting any strictly-non-worse move, and terminates at
// a local minimum.
func (h HillClimbing) Climb(seed capacity.Reserves, l capacity.Load) (capacity.Solution, error) {
	e := capacity.NewEvaluator(h.N, h.Nu, h.Costs)

	bestConf := seed
	bestSol, err := e.Cost(bestConf, l)
	if err != nil {
		return capacity.Solution{}, err
	}

	for {
		improved := false
		tmp := bestConf

		candidates := make([]capacity.Reserves, 0, 8)
		if tmp.M > 0 {
			candidates = append(candidates, capacity.Reserves{M: tmp.M - 1, D: tmp.D, U: tmp.U})
		}
		if tmp.M < h.N {
			candidates = append(candidates, capacity.Reserves{M: tmp.M + 1, D: tmp.D, U: tmp.U})
		}
		if tmp.D > 0 {
			candidates = append(candidates, capacity.Reserves{M: tmp.M, D: tmp.D - 1, U: tmp.U})
		}
		if tmp.D < tmp.U {
			candidates = append(candidates, capacity.Reserves{M: tmp.M, D: tmp.D + 1, U: tmp.U})
		}
		if tmp.U > tmp.D {
			candidates = append(candidates, capacity.Reserves{M: tmp.M, D: tmp.D, U: tmp.U - 1})
		}
		candidates = append(candidates, capacity.Reserves{M: tmp.M, D: tmp.D, U: tmp.U + 1})
		candidates = append(candidates, capacity.Reserves{M: tmp.M, D: tmp.D + 1, U: tmp.U + 1})
		if tmp.D > 0 {
			candidates = append(candidates, capacity.Reserves{M: tmp.M, D: tmp.D - 1, U: tmp.U - 1})
		}

		for _, conf := range candidates {
			r, err := capacity.NewReserves(conf.M, conf.D, conf.U)
			if err != nil {
				continue
			}
			sol, err := e.Cost(r, l)
			if err != nil {
				continue
			}
			if sol.Cost <= bestSol.Cost {
				improved = true
				bestSol = sol
				bestConf = sol.Reserves
			}
		}

		if !improved {
			break
		}
	}
	return bestSol, nil
}
