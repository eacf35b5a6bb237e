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

// NumericError reports an overflow, a zero divisor, or an offered load that
// the configured server pool cannot serve, encountered while evaluating the
// cost of a candidate Reserves configuration.
type NumericError struct {
	Reserves Reserves
	Reason   string
	Cause    error
}

func (e *NumericError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("numeric error for %s: %s: %v", e.Reserves, e.Reason, e.Cause)
	}
	return fmt.Sprintf("numeric error for %s: %s", e.Reserves, e.Reason)
}

func (e *NumericError) Unwrap() error { return e.Cause }

// InvalidConfig reports a Reserves triple that violates the evaluator's
// invariants (e.g. D > U; D = U is the single-threshold regime).
type InvalidConfig struct {
	Reserves Reserves
	Reason   string
}

func (e *InvalidConfig) Error() string {
	return fmt.Sprintf("invalid reserves %s: %s", e.Reserves, e.Reason)
}
