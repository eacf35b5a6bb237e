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

// Package capacity evaluates the steady-state cost of an M/M/N queue with
// a powered-down reserve block, and searches for a near-optimal reserve
// configuration given an arrival rate.
package capacity

// Load is the arrival rate and per-server service rate driving the queue.
type Load struct {
	Lambda float64 // arrival rate
	Mu     float64 // per-server service rate
}

// Offered returns the offered load rho = lambda/mu.
func (l Load) Offered() float64 {
	return l.Lambda / l.Mu
}
