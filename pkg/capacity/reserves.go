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

package capacity

import "fmt"

// Reserves is a candidate configuration: m reserve servers gated by a
// lower threshold D (power down at or below it) and an upper threshold U
// (power up above it). D == U collapses to the single-threshold case.
type Reserves struct {
	M int
	D int
	U int
}

// NewReserves validates and constructs a Reserves triple. It rejects D > U
// eagerly rather than silently coercing it; the source this was distilled
// from leaves that case undefined (see DESIGN.md Open Question iii).
func NewReserves(m, d, u int) (Reserves, error) {
	r := Reserves{M: m, D: d, U: u}
	if m < 0 {
		return r, &InvalidConfig{Reserves: r, Reason: "m cannot be negative"}
	}
	if d < 0 {
		return r, &InvalidConfig{Reserves: r, Reason: "D cannot be negative"}
	}
	if u < d {
		return r, &InvalidConfig{Reserves: r, Reason: "U cannot be smaller than D"}
	}
	return r, nil
}

func (r Reserves) String() string {
	return fmt.Sprintf("m=%d, D=%d, U=%d", r.M, r.D, r.U)
}

// Equal compares by the (m, D, U) tuple.
func (r Reserves) Equal(other Reserves) bool {
	return r.M == other.M && r.D == other.D && r.U == other.U
}

// Less orders by (m, U, D) lexicographically.
func (r Reserves) Less(other Reserves) bool {
	if r.M != other.M {
		return r.M < other.M
	}
	if r.U != other.U {
		return r.U < other.U
	}
	return r.D < other.D
}

// Solution pairs an evaluated cost with the Reserves that produced it.
// Solutions order by cost alone.
type Solution struct {
	Cost     float64
	Reserves Reserves
}

// Less orders solutions by cost alone.
func (s Solution) Less(other Solution) bool {
	return s.Cost < other.Cost
}

func (s Solution) String() string {
	return fmt.Sprintf("Cost %s, cost %.10f", s.Reserves, s.Cost)
}
