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

// Package policy searches for a near-optimal reserve configuration (m, D, U)
// given an arrival rate, wrapping the pure cost evaluator in pkg/capacity.
package policy

import (
	"fmt"
	"math"

	"capctl/pkg/capacity"
)

// Heuristic produces an O(1) reserve configuration from an M/M/1
// approximation, optionally rounding the reserve count to a multiple of a
// configured core multiplier.
type Heuristic struct {
	N     int
	Nu    float64
	Costs capacity.Costs
	Cores int // core multiplier; 1 disables rounding
}

// NewHeuristic constructs a Heuristic for N total servers.
func NewHeuristic(n int, nu float64, costs capacity.Costs, cores int) Heuristic {
	if cores < 1 {
		cores = 1
	}
	return Heuristic{N: n, Nu: nu, Costs: costs, Cores: cores}
}

func (h Heuristic) evaluator() capacity.Evaluator {
	return capacity.NewEvaluator(h.N, h.Nu, h.Costs)
}

// ComputeN implements eq. 45: the number of servers that should be always
// on under an M/M/1 approximation.
func (h Heuristic) ComputeN(l capacity.Load) int {
	rho := l.Offered()
	return int(math.Floor(rho + 0.5*(1.0+math.Sqrt(1.0+4.0*rho*(h.Costs.Holding/h.Costs.Server)))))
}

// ComputeL implements eq. 44: the M/M/1 approximation of the mean number
// of jobs in the system for n always-on servers.
func (h Heuristic) ComputeL(l capacity.Load, n int) float64 {
	rho := l.Offered()
	return rho / (float64(n) - rho)
}

// RefineUpperThreshold implements eq. 47, a tighter closed-form upper
// threshold than the default U=N. Not used by the live controller (which
// keeps U=N per the default heuristic), but exposed for offline analysis
// and for callers that want the original's sharper estimate.
func (h Heuristic) RefineUpperThreshold(l capacity.Load, n int) int {
	u1 := (float64(n)*l.Mu - l.Lambda) / h.Nu
	u2 := (float64(h.N)*l.Mu - l.Lambda) / h.Nu
	u3 := h.Costs.Server * (float64(n)*l.Mu - l.Lambda) / (h.Costs.Holding * l.Mu)

	tmp1 := n - 1
	tmp2 := int(math.Ceil(u1 + u3*(1.0+math.Sqrt(1.0+2.0*u2/u3))))
	if tmp1 > tmp2 {
		return tmp1
	}
	return tmp2
}

// computeQueueThresholds mirrors compute_queue_thresholds: the live
// heuristic uses the simple D=N-m-1, U=N pair rather than the refined U.
func (h Heuristic) computeQueueThresholds(m int) (d, u int) {
	return h.N - m - 1, h.N
}

func (h Heuristic) solve(r capacity.Reserves, l capacity.Load) (capacity.Solution, error) {
	return h.evaluator().Cost(r, l)
}

// Solve produces the heuristic policy for the given load: the M/M/1
// always-on count, rounded to a multiple of Cores by comparing both
// candidate roundings via the cost evaluator and keeping the cheaper one.
func (h Heuristic) Solve(l capacity.Load) (capacity.Solution, error) {
	n := h.ComputeN(l)
	m := h.N - n
	if m < 0 {
		m = 0
	}
	diff := m % h.Cores

	if diff == 0 {
		d, u := h.computeQueueThresholds(m)
		r, err := capacity.NewReserves(m, d, u)
		if err != nil {
			return capacity.Solution{}, err
		}
		return h.solve(r, l)
	}

	n1 := n + diff
	n2 := n - (h.Cores - diff)

	var sol1, sol2 *capacity.Solution

	if n2 > 0 {
		m2 := h.N - n2
		if m2 < 0 {
			m2 = 0
		}
		d, u := h.computeQueueThresholds(m2)
		r, err := capacity.NewReserves(m2, d, u)
		if err == nil {
			if s, err := h.solve(r, l); err == nil {
				sol1 = &s
			}
		}
	}
	if n1 < h.N {
		m1 := h.N - n1
		if m1 < 0 {
			m1 = 0
		}
		d, u := h.computeQueueThresholds(m1)
		r, err := capacity.NewReserves(m1, d, u)
		if err == nil {
			if s, err := h.solve(r, l); err == nil {
				sol2 = &s
			}
		}
	}

	switch {
	case sol1 == nil && sol2 == nil:
		return capacity.Solution{}, fmt.Errorf("heuristic: unable to find a solution")
	case sol1 == nil:
		return *sol2, nil
	case sol2 == nil:
		return *sol1, nil
	default:
		if sol1.Less(*sol2) {
			return *sol1, nil
		}
		return *sol2, nil
	}
}
