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

package controller

import (
	"fmt"
	"log"

	"capctl/internal/fleet"
	"capctl/internal/proxyadmin"
	"capctl/internal/statparser"
)

// recover reconciles the fleet's in-memory role assignment with
// HAProxy's actual admin-socket state after a (re)start: every
// always-on server is force-enabled, every reserve server is
// enabled or disabled according to the reserve block's current power
// state, and the resulting active server count is double-checked
// against what HAProxy reports. A mismatch means the socket and the
// fleet have disagreed about reality, which this controller cannot
// safely paper over, so it is treated as a fatal startup error rather
// than limped through.
func (c *Controller) recover() error {
	log.Println("controller: running recovery")

	if info, err := c.admin.ShowInfo(); err != nil {
		log.Printf("controller: show info unavailable during recovery: %v", err)
	} else {
		log.Printf("controller: connected to %s %s (node=%s pid=%d uptime=%s)",
			info.SoftwareName, info.SoftwareVersion, info.Node, info.Pid, info.Uptime)
	}

	for _, id := range c.fleet.AlwaysOnIDs() {
		if err := c.admin.EnableServer(c.cfg.Backend, id); err != nil {
			return fmt.Errorf("recovery: enabling always-on server %s: %w", id, err)
		}
	}

	if c.reserve.Get() == fleet.Off {
		c.disableReserves()
	} else {
		c.enableReserves()
	}

	wantActive := len(c.fleet.AlwaysOnIDs())
	if c.reserve.Get() != fleet.Off {
		wantActive += c.fleet.ReserveCount()
	}

	lines, err := c.admin.ShowStat(nil)
	if err != nil {
		return fmt.Errorf("recovery: reading stats: %w", err)
	}
	gotActive, err := countActiveServers(lines, c.cfg.Backend)
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	if gotActive != wantActive {
		return fmt.Errorf("recovery: active server count mismatch: fleet expects %d, haproxy reports %d", wantActive, gotActive)
	}

	log.Printf("controller: recovery complete, %d active servers", gotActive)
	return nil
}

// verifyActiveCount re-polls the admin socket and checks that the
// number of active servers HAProxy reports still agrees with the
// fleet's own idea of which servers should be active. Used after a
// reconfiguration reclassifies servers, the same check recover runs at
// startup.
func (c *Controller) verifyActiveCount() error {
	lines, err := c.admin.ShowStat(nil)
	if err != nil {
		return fmt.Errorf("reading stats: %w", err)
	}
	gotActive, err := countActiveServers(lines, c.cfg.Backend)
	if err != nil {
		return err
	}
	wantActive := len(c.fleet.AlwaysOnIDs())
	if c.reserve.Get() != fleet.Off {
		wantActive += c.fleet.ReserveCount()
	}
	if gotActive != wantActive {
		return fmt.Errorf("active server count mismatch: fleet expects %d, haproxy reports %d", wantActive, gotActive)
	}
	return nil
}

func countActiveServers(lines []string, backend string) (int, error) {
	snap, err := statparser.Parse(lines)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, proxy := range snap.Proxies {
		for _, svc := range proxy {
			if svc.Pxname != backend || svc.Type != statparser.TypeServer {
				continue
			}
			if svc.Status == "UP" {
				n++
			}
		}
	}
	return n, nil
}
