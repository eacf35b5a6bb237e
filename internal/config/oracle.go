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

package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadOracleTrace reads a whitespace-separated arrival-rate trace file,
// one sample per line, first column only, '#'-prefixed lines ignored as
// comments. capctld does not call it: the controller's reconfiguration
// always uses the arrival rate measured from HAProxy's counters, and
// the -o path is only logged and shown in the configuration summary.
//
// The original loader scaled every sample by 1.5x, a deliberate
// headroom margin baked into the recorded traces it shipped with; that
// quirk is preserved here rather than silently dropped, since it
// changes which reserve configuration the policy search converges on.
func LoadOracleTrace(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: opening oracle trace: %w", err)
	}
	defer f.Close()

	const scaleUp = 1.5

	var lambdas []float64
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		v, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("config: oracle trace: %q is not a number: %w", fields[0], err)
		}
		lambdas = append(lambdas, v*scaleUp)
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("config: reading oracle trace: %w", err)
	}
	return lambdas, nil
}
