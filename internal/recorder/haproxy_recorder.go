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

	"capctl/internal/statparser"
)

// HAProxyRecorder logs a fixed subset of a backend's per-server stats
// on every poll, one row per server.
type HAProxyRecorder struct {
	file *csvFileRecorder
}

// NewHAProxyRecorder opens (or appends to) the proxy stats log at path.
func NewHAProxyRecorder(path string) (*HAProxyRecorder, error) {
	f, err := newCSVFileRecorder(path,
		[]string{fmt.Sprintf("HAProxy backend stats, created on %s", time.Now().Format(time.RFC3339))},
		[]string{"event", "time", "svname", "status", "scur", "smax", "qcur", "stot", "act", "bck", "chkfail", "downtime"},
	)
	if err != nil {
		return nil, err
	}
	return &HAProxyRecorder{file: f}, nil
}

// Update logs one row per server in the given backend snapshot.
func (h *HAProxyRecorder) Update(backend map[string]statparser.ServiceStat, tick time.Time) error {
	for _, svc := range backend {
		if svc.Type != statparser.TypeServer {
			continue
		}
		row := []string{
			fmt.Sprintf("%d", h.file.counter+1),
			fmt.Sprintf("%.2f", h.file.elapsed(tick)),
			svc.Svname,
			svc.Status,
			fmt.Sprintf("%d", svc.Scur),
			fmt.Sprintf("%d", svc.Smax),
			fmt.Sprintf("%d", svc.Qcur),
			fmt.Sprintf("%d", svc.Stot),
			fmt.Sprintf("%d", svc.Act),
			fmt.Sprintf("%d", svc.Bck),
			fmt.Sprintf("%d", svc.Chkfail),
			fmt.Sprintf("%d", svc.Downtime),
		}
		if err := h.file.writeRow(row); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying file.
func (h *HAProxyRecorder) Close() error { return h.file.close() }
