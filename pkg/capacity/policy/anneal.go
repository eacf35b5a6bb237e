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
	"math/rand"

	"capctl/pkg/capacity"
)

const (
	annealMaxIter    = 25000
	annealMaxTemp    = 10000.0
	annealTempChange = 0.999
)

// SimulatedAnnealing refines a reserve configuration by sampling feasible
// neighbours and accepting worsening moves with a temperature-decaying
// probability, retaining the best-seen solution throughout.
type SimulatedAnnealing struct {
	N     int
	Nu    float64
	Costs capacity.Costs
	Cores int

	// Rand, when nil, is set on first use to a source with the fixed
	// seed 1, so unseeded searches repeat exactly. Tests and
	// tools/policybench inject their own *rand.Rand.
	Rand *rand.Rand

	iterations int
}

// NewSimulatedAnnealing constructs a SimulatedAnnealing searcher.
func NewSimulatedAnnealing(n int, nu float64, costs capacity.Costs, cores int) *SimulatedAnnealing {
	if cores < 1 {
		cores = 1
	}
	return &SimulatedAnnealing{N: n, Nu: nu, Costs: costs, Cores: cores}
}

// Iterations returns the number of iterations performed by the last Search call.
func (s *SimulatedAnnealing) Iterations() int { return s.iterations }

func (s *SimulatedAnnealing) rng() *rand.Rand {
	if s.Rand == nil {
		s.Rand = rand.New(rand.NewSource(1))
	}
	return s.Rand
}

func (s *SimulatedAnnealing) evaluator() capacity.Evaluator {
	return capacity.NewEvaluator(s.N, s.Nu, s.Costs)
}

// defaultSolution builds the initial solution. The ANOR heuristic is
// deliberately not used here because it tends to choose very large upper
// thresholds that can overflow the general-case recurrence.
func (s *SimulatedAnnealing) defaultSolution(l capacity.Load) (capacity.Solution, error) {
	n := int(math.Round(l.Offered() + 0.5))
	if n%s.Cores != 0 {
		n += n % s.Cores
	}
	if n > s.N {
		n -= s.Cores
	}
	u := s.N
	d := n - 1
	r, err := capacity.NewReserves(s.N-n, d, u)
	if err != nil {
		return capacity.Solution{}, err
	}
	return s.evaluator().Cost(r, l)
}

// createNeighbor samples one of up to ten feasible moves from the
// current state, mirroring the original move generator exactly.
func (s *SimulatedAnnealing) createNeighbor(cur capacity.Solution, l capacity.Load) (capacity.Solution, error) {
	m, d, u := cur.Reserves.M, cur.Reserves.D, cur.Reserves.U
	maxU := s.N * 3

	var candidates []capacity.Reserves
	if m > s.Cores && u >= s.N-(m-s.Cores)-1 {
		candidates = append(candidates, capacity.Reserves{M: m - s.Cores, D: d, U: u})
	}
	if m < s.N-s.Cores && u >= s.N-(m+s.Cores)-1 {
		candidates = append(candidates, capacity.Reserves{M: m + s.Cores, D: d, U: u})
	}
	if d > 0 {
		candidates = append(candidates, capacity.Reserves{M: m, D: d - 1, U: u})
	}
	if d > 0 && u >= s.N-m-2 {
		candidates = append(candidates, capacity.Reserves{M: m, D: d - 1, U: u - 1})
	}
	if d < u {
		candidates = append(candidates, capacity.Reserves{M: m, D: d + 1, U: u})
	}
	if u >= s.N-m-2 && u-1 >= d {
		candidates = append(candidates, capacity.Reserves{M: m, D: d, U: u - 1})
	}
	if u < maxU {
		candidates = append(candidates, capacity.Reserves{M: m, D: d, U: u + 1})
		candidates = append(candidates, capacity.Reserves{M: m, D: d + 1, U: u + 1})
	}
	if m > s.Cores && d > 0 {
		candidates = append(candidates, capacity.Reserves{M: m - s.Cores, D: d - 1, U: u})
	}
	if u-1 >= d && u-1 >= s.N-(m+s.Cores)-1 && m+s.Cores < s.N {
		candidates = append(candidates, capacity.Reserves{M: m + s.Cores, D: d, U: u - 1})
	}

	// Filter to feasible (non-negative, D<=U) candidates before sampling;
	// the original relies on its invariants holding by construction, but
	// guards here avoid panics on malformed seeds.
	feasible := candidates[:0:0]
	for _, c := range candidates {
		if c.M >= 0 && c.D >= 0 && c.U >= c.D {
			feasible = append(feasible, c)
		}
	}
	if len(feasible) == 0 {
		return capacity.Solution{}, &capacity.InvalidConfig{Reserves: cur.Reserves, Reason: "no feasible neighbour"}
	}

	selected := feasible[s.rng().Intn(len(feasible))]
	r, err := capacity.NewReserves(selected.M, selected.D, selected.U)
	if err != nil {
		return capacity.Solution{}, err
	}
	return s.evaluator().Cost(r, l)
}

// Search runs the simulated-annealing refinement. If initial is nil, a
// default solution is built from the load. The D==U gate is evaluated by
// value equality, per the documented reading of the original's intended
// predicate (DESIGN.md Open Question i).
func (s *SimulatedAnnealing) Search(l capacity.Load, initial *capacity.Solution) (capacity.Solution, error) {
	s.iterations = 0
	temp := annealMaxTemp

	var cur capacity.Solution
	if initial != nil {
		cur = *initial
	} else {
		def, err := s.defaultSolution(l)
		if err != nil {
			return capacity.Solution{}, err
		}
		if def.Reserves.M%s.Cores != 0 {
			return capacity.Solution{}, &capacity.InvalidConfig{Reserves: def.Reserves, Reason: "initial m not a multiple of the core multiplier"}
		}
		cur = def
	}

	best := cur

	for s.iterations < annealMaxIter && cur.Cost > 0.0 {
		next, err := s.createNeighbor(cur, l)
		if err != nil {
			s.iterations++
			continue
		}

		if next.Reserves.D == next.Reserves.U {
			if next.Reserves.U >= s.N-next.Reserves.M-1 {
				temp *= annealTempChange
				delta := math.Exp(cur.Cost-next.Cost) / temp
				if delta > s.rng().Float64() {
					cur = next
				}
				if next.Cost < best.Cost {
					best = next
				}
			}
		} else {
			temp *= annealTempChange
			delta := math.Exp(cur.Cost-next.Cost) / temp
			if delta > s.rng().Float64() {
				cur = next
			}
			if next.Cost < best.Cost {
				best = next
			}
		}

		s.iterations++
	}

	return best, nil
}
