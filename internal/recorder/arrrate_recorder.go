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
	"time"
)

// ArrRateRecorder logs the measured request arrival rate at each tick,
// derived from the delta of total requests served between polls.
type ArrRateRecorder struct {
	file *csvFileRecorder

	lastStot int64
	lastTick time.Time
	started  bool
}

// NewArrRateRecorder opens (or appends to) the arrival-rate log at path.
func NewArrRateRecorder(path string) (*ArrRateRecorder, error) {
	f, err := newCSVFileRecorder(path,
		[]string{fmt.Sprintf("Arrival rate, created on %s", time.Now().Format(time.RFC3339))},
		[]string{"event", "time", "stot", "rate"},
	)
	if err != nil {
		return nil, err
	}
	return &ArrRateRecorder{file: f}, nil
}

// Update feeds in the cumulative total-sessions counter (stot, summed
// across all frontends) observed at tick, and returns the instantaneous
// rate computed from the delta since the previous call.
//
// Only ticks where the computed rate exceeds 1.0 request/sec are logged;
// quieter ticks still advance the row counter so later events keep a
// stable event index, but are not written out.
func (a *ArrRateRecorder) Update(stot int64, tick time.Time) (float64, error) {
	if !a.started {
		a.lastStot = stot
		a.lastTick = tick
		a.started = true
		return 0.0, nil
	}

	delta := tick.Sub(a.lastTick).Seconds()
	dstot := stot - a.lastStot
	a.lastStot = stot
	a.lastTick = tick

	if dstot < 0 {
		// a proxy reload reset the counter; treat this tick as a
		// fresh baseline rather than reporting a negative rate.
		return 0.0, nil
	}

	rate := 0.0
	if delta > 0 {
		rate = float64(dstot) / delta
	}

	if rate > 1.0 {
		row := []string{
			fmt.Sprintf("%d", a.file.counter+1),
			fmt.Sprintf("%.2f", a.file.elapsed(tick)),
			fmt.Sprintf("%d", stot),
			fmt.Sprintf("%.3f", rate),
		}
		if err := a.file.writeRow(row); err != nil {
			return rate, err
		}
	} else {
		a.file.mu.Lock()
		a.file.counter++
		a.file.mu.Unlock()
	}

	return rate, nil
}

// Close closes the underlying file.
func (a *ArrRateRecorder) Close() error { return a.file.close() }
