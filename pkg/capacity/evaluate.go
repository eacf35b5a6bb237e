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

import "math"

// Evaluator computes the steady-state cost of a Reserves configuration
// under a fixed total server count N and power-up rate Nu. It is a pure
// function of its inputs and holds no mutable state, so a single Evaluator
// may be shared across concurrent policy-search callers.
type Evaluator struct {
	N     int
	Nu    float64
	Costs Costs
}

// NewEvaluator constructs an Evaluator for N total servers, power-up rate
// nu, and the given holding/server costs.
func NewEvaluator(n int, nu float64, costs Costs) Evaluator {
	return Evaluator{N: n, Nu: nu, Costs: costs}
}

// Cost dispatches to one of the three regimes described in the cost
// evaluator's design: m=0 (classical M/M/N), D=U (single threshold), or
// the general 0<D<U recurrence.
func (e Evaluator) Cost(r Reserves, l Load) (Solution, error) {
	if r.U < r.D {
		return Solution{}, &InvalidConfig{Reserves: r, Reason: "U cannot be smaller than D"}
	}
	if float64(e.N)*l.Mu <= l.Lambda {
		return Solution{}, &NumericError{Reserves: r, Reason: "N*mu <= lambda: pool cannot serve the offered load"}
	}
	if r.M == 0 {
		return e.cost0(l)
	}
	if r.D == r.U {
		return e.cost1(r.M, r.U, l)
	}
	return e.costGeneral(r, l)
}

// cost0 evaluates the classical M/M/N queue (regime a, no reserves).
func (e Evaluator) cost0(l Load) (Solution, error) {
	rho := l.Offered()
	p := 1.0
	s := 1.0
	mean := 0.0
	for j := 1; j <= e.N; j++ {
		p = p * rho / float64(j)
		s += p
		mean += float64(j) * p
	}
	h1 := rho / (float64(e.N) - rho)
	g1 := p * h1
	norm := s + g1
	if norm == 0 || math.IsInf(norm, 0) {
		return Solution{}, &NumericError{Reason: "cost0: normalization collapsed to zero or infinity"}
	}
	g1 /= norm
	mean /= norm
	mean += g1 * (float64(e.N) + 1 + h1)
	c := mean*e.Costs.Holding + float64(e.N)*e.Costs.Server
	return Solution{Cost: c, Reserves: Reserves{M: 0, D: 0, U: 0}}, nil
}

// cost1 evaluates the degenerate single-threshold case D=U=K with m
// reserves (regime b).
func (e Evaluator) cost1(m, k int, l Load) (Solution, error) {
	rho := l.Offered()
	n := e.N - m
	p := 1.0
	norm := 1.0
	mean := 0.0
	for j := 1; j <= k; j++ {
		if j < n {
			p = p * rho / float64(j)
		} else {
			p = p * rho / float64(n)
		}
		norm += p
		mean += float64(j) * p
	}

	b := l.Lambda + float64(n)*l.Mu + e.Nu
	disc := b*b - 4*float64(n)*l.Lambda*l.Mu
	if disc < 0 {
		return Solution{}, &NumericError{Reason: "cost1: negative discriminant"}
	}
	z2 := (b + math.Sqrt(disc)) / (2 * l.Lambda)
	zj := 1.0
	h1 := 1 / (z2 - 1)
	h2 := 1 / (float64(e.N)*l.Mu - l.Lambda)
	if math.IsInf(h2, 0) {
		return Solution{}, &NumericError{Reason: "cost1: h2 is infinite"}
	}
	m1 := 1 / l.Mu
	g1 := p * h1
	g1p := g1 * (float64(k) + 1 + h1)

	var g2, g2p float64
	if k+1 >= e.N {
		g2 = g1 * e.Nu * z2 * h1 * h2
		g2p = h2 * (l.Lambda*g2 + e.Nu*z2*h1*g1p)
	} else {
		p2 := e.Nu * g1 * m1 / float64(k+1)
		g2 = p2
		mean += float64(k+1) * p2
		for j := 2; j < e.N-k; j++ {
			zj /= z2
			p2 = (l.Lambda*p2 + e.Nu*zj*g1) * m1 / float64(k+j)
			g2 += p2
			mean += float64(k+j) * p2
		}
		g22 := h2 * (l.Lambda*p2 + e.Nu*g1*zj*h1)
		g2 += g22
		g2p = h2 * (l.Lambda*g22 + float64(e.N)*l.Lambda*p2 + e.Nu*zj*h1*(float64(e.N-k-1)*g1+g1p))
	}

	norm += g1 + g2
	mean += g1p + g2p
	if norm == 0 {
		return Solution{}, &NumericError{Reason: "cost1: normalization collapsed to zero"}
	}
	g1 /= norm
	g2 /= norm
	mean /= norm
	c := mean*e.Costs.Holding + (float64(e.N)-float64(m)*(1-g1-g2))*e.Costs.Server
	return Solution{Cost: c, Reserves: Reserves{M: m, D: k, U: k}}, nil
}

// costGeneral evaluates the general 0<D<U case (regime c).
func (e Evaluator) costGeneral(r Reserves, l Load) (Solution, error) {
	u, d, m := r.U, r.D, r.M
	rho := l.Offered()
	n := e.N - m
	p := 1.0
	p0 := 1.0
	mean := 0.0

	for j := 1; j <= d; j++ {
		p = p * rho / float64(min(j, n))
		p0 += p
		mean += float64(j) * p
	}

	b := l.Lambda + float64(n)*l.Mu + e.Nu
	disc := b*b - 4*float64(n)*l.Lambda*l.Mu
	if disc < 0 {
		return Solution{}, &NumericError{Reserves: r, Reason: "negative discriminant"}
	}
	sq := math.Sqrt(disc)
	z1 := (b - sq) / (2 * l.Lambda)
	z2 := (b + sq) / (2 * l.Lambda)
	h1 := 1 / (z2 - 1)
	h2 := 1 / (float64(e.N)*l.Mu - l.Lambda)
	m1 := 1 / l.Mu
	if math.IsInf(h2, 0) {
		return Solution{}, &NumericError{Reserves: r, Reason: "h2 is infinite"}
	}

	// r[j], j=0..U-D-1
	rc := make([]float64, u-d)
	rc[0] = 1 + l.Mu*float64(min(u, n))/l.Lambda
	for j := 1; j < u-d; j++ {
		rc[j] = 1 + rc[j-1]*l.Mu*float64(min(u+1-(j+1), n))/l.Lambda
		if math.IsInf(rc[j], 0) || math.IsNaN(rc[j]) {
			return Solution{}, &NumericError{Reserves: r, Reason: "overflow constructing r[j]"}
		}
	}

	p0U := p / rc[u-d-1]
	p0 += p0U
	mean += float64(u) * p0U

	for j := 0; j < u-d-1; j++ {
		p = rc[j] * p0U
		p0 += p
		mean += float64(u-(j+1)) * p
	}

	norm := p0
	p1j := make([]float64, u-d)
	bj := make([]float64, u-d)
	for j := 0; j < u-d; j++ {
		bj[j] = l.Lambda + e.Nu + float64(min(d+(j+1), n))*l.Mu
	}

	a := 0.0
	aj := make([]float64, max(u-d-1, 0))
	if d < u-1 {
		aj[0] = float64(min(d+2, n)) * l.Mu / bj[0]
		for j := 1; j < u-d-1; j++ {
			aj[j] = float64(min(d+(j+1)+1, n)) * l.Mu / (bj[j] - l.Lambda*aj[j-1])
		}
		a = aj[u-d-2]
	}

	p1j[u-d-1] = p0U * l.Lambda * z1 / (bj[u-d-1] - l.Lambda*a - l.Lambda*z1)
	norm += p1j[u-d-1]
	mean += float64(u) * p1j[u-d-1]

	for j := u - d - 2; j >= 0; j-- {
		p1j[j] = aj[j] * p1j[j+1]
		norm += p1j[j]
		mean += float64(d+(j+1)) * p1j[j]
	}

	p1 := make([]float64, u-d)
	p1[u-d-1] = p1j[u-d-1]
	for j := u - d - 2; j >= 0; j-- {
		p1[j] = p1[j+1] + p1j[j]
	}

	g1 := (p0U + p1j[u-d-1]) * h1
	g1p := g1 * (float64(u) + 1 + h1)
	p2 := (p1[0] + g1) * e.Nu * m1 / float64(min(d+1, e.N))
	norm += p2
	mean += float64(d+1) * p2

	for j := d + 2; j <= u; j++ {
		p2 = ((p1[j-d-1]+g1)*e.Nu + p2*l.Lambda) * m1 / float64(min(j, e.N))
		norm += p2
		mean += float64(j) * p2
	}

	var g2, g2p float64
	if u+1 < e.N {
		zj := 1.0
		for j := u + 1; j < e.N; j++ {
			p2 = (g1*e.Nu*zj + p2*l.Lambda) * m1 / float64(j)
			norm += p2
			mean += float64(j) * p2
			if j < e.N-1 {
				zj /= z2
			}
		}
		g2 = (l.Lambda*p2 + e.Nu*g1*zj*h1) * h2
		g2p = (l.Lambda*(g2+float64(e.N)*p2) + e.Nu*g1*zj*h1*(float64(e.N)+h1)) * h2
	} else {
		g2 = (l.Lambda*p2 + e.Nu*g1*z2*h1) * h2
		g2p = (l.Lambda*(g2+float64(u+1)*p2) + e.Nu*g1*z2*h1*(float64(u+1)+h1)) * h2
	}

	norm += g1 + g2
	mean += g1p + g2p

	if norm == 0 || math.IsNaN(norm) {
		return Solution{}, &NumericError{Reserves: r, Reason: "normalization collapsed"}
	}
	p0 /= norm
	mean /= norm
	c := mean*e.Costs.Holding + (float64(e.N)-float64(m)*p0)*e.Costs.Server
	return Solution{Cost: c, Reserves: r}, nil
}
