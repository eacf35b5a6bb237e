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

package recorder

import (
	"fmt"
	"math"
	"time"

	"capctl/pkg/capacity"
)

// portionLen is how many ticks make up one confidence-interval portion.
const portionLen = 360

// tQuantile95 is the two-sided 95% Student's t critical value for 10
// degrees of freedom; the same constant is used whatever the number of
// portions accumulated.
const tQuantile95 = 2.2281389

// CostRecorder logs the holding+server cost incurred at each tick and
// tracks running totals plus confidence-interval portions.
type CostRecorder struct {
	file *csvFileRecorder

	holdingCost float64
	serverCost  float64

	totalCost float64
	avgCost   float64
	lastTick  time.Time

	portions []float64
}

// NewCostRecorder opens (or appends to) the cost log at path.
func NewCostRecorder(path string, holdingCost, serverCost float64) (*CostRecorder, error) {
	f, err := newCSVFileRecorder(path,
		[]string{
			fmt.Sprintf("Cost function, created on %s", time.Now().Format(time.RFC3339)),
			fmt.Sprintf("c1 = %.3f, c2 = %.3f", holdingCost, serverCost),
		},
		[]string{"event", "time", "req_rate", "jobs", "servers_on", "servers_run", "cost", "avg_cost", "tot_cost", "m", "D", "U"},
	)
	if err != nil {
		return nil, err
	}
	return &CostRecorder{file: f, holdingCost: holdingCost, serverCost: serverCost, lastTick: time.Now()}, nil
}

// Update records one tick's cost. poweredOnServers includes servers
// still in the POWERING_ON state, so poweredOnServers >= activeServers
// must always hold.
func (c *CostRecorder) Update(jobs, poweredOnServers, activeServers int, tick time.Time, arrRate float64, reserves capacity.Reserves) error {
	if activeServers > poweredOnServers {
		return fmt.Errorf("recorder: active servers %d exceeds powered-on servers %d", activeServers, poweredOnServers)
	}

	delta := tick.Sub(c.lastTick).Seconds()
	c.lastTick = tick

	if jobs > 0 || poweredOnServers > 0 {
		cost := delta * (float64(jobs)*c.holdingCost + float64(poweredOnServers)*c.serverCost)
		c.totalCost += cost
		if elapsed := c.file.elapsed(tick); elapsed > 0 {
			c.avgCost = c.totalCost / elapsed
		}

		row := []string{
			fmt.Sprintf("%d", c.file.counter+1),
			fmt.Sprintf("%.2f", c.file.elapsed(tick)),
			fmt.Sprintf("%.3f", arrRate),
			fmt.Sprintf("%d", jobs),
			fmt.Sprintf("%d", poweredOnServers),
			fmt.Sprintf("%d", activeServers),
			fmt.Sprintf("%.3f", cost),
			fmt.Sprintf("%.3f", c.avgCost),
			fmt.Sprintf("%.1f", c.totalCost),
			fmt.Sprintf("%d", reserves.M),
			fmt.Sprintf("%d", reserves.D),
			fmt.Sprintf("%d", reserves.U),
		}
		if err := c.file.writeRow(row); err != nil {
			return err
		}
	} else {
		c.file.mu.Lock()
		c.file.counter++
		c.file.mu.Unlock()
	}

	if c.file.counter%portionLen == 0 {
		c.portions = append(c.portions, c.totalCost)
	}
	return nil
}

// TotalCost returns the cumulative cost recorded so far.
func (c *CostRecorder) TotalCost() float64 { return c.totalCost }

// AvgCost returns the running average cost per second.
func (c *CostRecorder) AvgCost() float64 { return c.avgCost }

// ComputeConfInt returns the half-width of a 95% confidence interval
// over the per-portion cost rate, or 0 if fewer than 8 portions have
// accumulated.
func (c *CostRecorder) ComputeConfInt() float64 {
	portions := len(c.portions)
	if portions < 8 {
		return 0.0
	}

	rates := make([]float64, portions)
	copy(rates, c.portions)
	for i := portions - 1; i > 0; i-- {
		rates[i] -= rates[i-1]
	}
	for i := range rates {
		rates[i] /= portionLen
	}

	avg := c.avgCost
	sd := 0.0
	for _, r := range rates {
		sd += (r - avg) * (r - avg)
	}
	sd = math.Sqrt(sd / float64(portions-1))

	return tQuantile95 * sd / math.Sqrt(float64(portions-1))
}

// Close writes the closing summary comment and closes the underlying file.
func (c *CostRecorder) Close() error {
	delta := time.Since(c.file.created).Seconds()
	if c.totalCost > 0.0 && delta > 0.0 {
		ci := c.ComputeConfInt()
		if err := c.file.writeComment("total cost %.3f $, avg. cost %.3f $/sec", c.totalCost, c.avgCost); err != nil {
			return err
		}
		if err := c.file.writeComment("0.95 conf. int. %.3f", ci); err != nil {
			return err
		}
	}
	return c.file.close()
}
