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

// Package fleet tracks the backend servers behind the proxy and which
// of them currently belong to the always-on pool versus the reserve
// pool, plus the reserve block's own power state.
package fleet

import (
	"fmt"
	"sync"
)

// Role is a fleet member's current pool membership.
type Role int

const (
	AlwaysOn Role = iota
	Reserve
)

func (r Role) String() string {
	if r == AlwaysOn {
		return "always-on"
	}
	return "reserve"
}

// Member is one backend server.
type Member struct {
	ID      string
	Address string
	Role    Role
}

// Fleet is the ordered list of backend servers. Order is insertion
// order and is preserved across Rebalance, so that reconfiguration
// always walks the same members in the same sequence; only a member's
// Role changes, never its identity or position.
type Fleet struct {
	mu      sync.Mutex
	order   []string
	members map[string]*Member
}

// New constructs an empty Fleet.
func New() *Fleet {
	return &Fleet{members: make(map[string]*Member)}
}

// Add appends a member in the given role. It is an error to add the
// same ID twice.
func (f *Fleet) Add(id, address string, role Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.members[id]; ok {
		return fmt.Errorf("fleet: member %q already present", id)
	}
	f.members[id] = &Member{ID: id, Address: address, Role: role}
	f.order = append(f.order, id)
	return nil
}

// Size returns the total number of members, regardless of role.
func (f *Fleet) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.order)
}

// Members returns a snapshot of all members in insertion order.
func (f *Fleet) Members() []Member {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Member, len(f.order))
	for i, id := range f.order {
		out[i] = *f.members[id]
	}
	return out
}

// AlwaysOnIDs returns the IDs currently in the always-on pool, in
// insertion order.
func (f *Fleet) AlwaysOnIDs() []string {
	return f.idsWithRole(AlwaysOn)
}

// ReserveIDs returns the IDs currently in the reserve pool, in
// insertion order.
func (f *Fleet) ReserveIDs() []string {
	return f.idsWithRole(Reserve)
}

func (f *Fleet) idsWithRole(role Role) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, id := range f.order {
		if f.members[id].Role == role {
			out = append(out, id)
		}
	}
	return out
}

// ReserveCount returns how many members currently sit in the reserve pool.
func (f *Fleet) ReserveCount() int {
	return len(f.ReserveIDs())
}

// Rebalance moves members between the always-on and reserve pools so
// that exactly targetReserves end up in Reserve, preferring to leave
// members that are already in the desired pool untouched. It returns
// the IDs that ended up always-on and reserve after the move, mirroring
// the two output lists a recovery command needs.
func (f *Fleet) Rebalance(targetReserves int) (alwaysOn, reserves []string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if targetReserves < 0 || targetReserves > len(f.order) {
		return nil, nil, fmt.Errorf("fleet: target reserve count %d out of range [0,%d]", targetReserves, len(f.order))
	}

	cur := 0
	for _, id := range f.order {
		if f.members[id].Role == Reserve {
			cur++
		}
	}
	diff := cur - targetReserves

	if diff > 0 {
		// move `diff` reserves into always-on
		for _, id := range f.order {
			m := f.members[id]
			switch {
			case m.Role == AlwaysOn:
				alwaysOn = append(alwaysOn, id)
			case m.Role == Reserve && diff > 0:
				m.Role = AlwaysOn
				diff--
				alwaysOn = append(alwaysOn, id)
			default:
				reserves = append(reserves, id)
			}
		}
	} else {
		// move `-diff` always-on members into reserve
		for _, id := range f.order {
			m := f.members[id]
			switch {
			case m.Role == Reserve:
				reserves = append(reserves, id)
			case m.Role == AlwaysOn && diff < 0:
				m.Role = Reserve
				diff++
				reserves = append(reserves, id)
			default:
				alwaysOn = append(alwaysOn, id)
			}
		}
	}

	return alwaysOn, reserves, nil
}

// State is the reserve block's power state.
type State int

const (
	Off State = iota
	PoweringOn
	On
)

func (s State) String() string {
	switch s {
	case Off:
		return "OFF"
	case PoweringOn:
		return "POWERING_ON"
	case On:
		return "ON"
	default:
		return "UNKNOWN"
	}
}

// ReserveState is a small guarded state machine: transitions happen
// both from the controller's own tick loop and from the power-up
// timer's callback, so access is synchronized.
type ReserveState struct {
	mu    sync.Mutex
	state State
}

// Get returns the current state.
func (r *ReserveState) Get() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Set transitions to the given state.
func (r *ReserveState) Set(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
}

// CompareAndSet transitions to next only if the current state is want,
// returning whether the transition happened.
func (r *ReserveState) CompareAndSet(want, next State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != want {
		return false
	}
	r.state = next
	return true
}
