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
	"bufio"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"capctl/internal/fleet"
	"capctl/internal/proxyadmin"
	"capctl/internal/recorder"
	"capctl/pkg/capacity"
)

// statparserNumFields mirrors statparser.NumFields without importing the
// package's unexported details; kept local to the test.
const statparserNumFields = 51

// statLineSID hands every statLine row its own sid, as a real dump
// numbers each server of a backend uniquely; the parser keys server
// rows by sid, so rows sharing one would collapse into a single entry.
var statLineSID int

// statLine builds a minimal "show stat" CSV line for one service, with
// the trailing comma a real stat line always ends in.
func statLine(pxname, svname string, typ, scur int, status string) string {
	fields := make([]string, statparserNumFields)
	fields[0] = pxname
	fields[1] = svname
	fields[17] = status
	fields[32] = fmt.Sprintf("%d", typ)
	for i, f := range fields {
		if f == "" {
			fields[i] = "0"
		}
	}
	fields[4] = fmt.Sprintf("%d", scur)
	statLineSID++
	fields[28] = fmt.Sprintf("%d", statLineSID)
	return strings.Join(fields, ",") + ","
}

// backendAggregateLine builds the synthetic "BACKEND" row a real stat
// dump carries alongside its per-server rows, the row the controller
// now reads scur/act from directly.
func backendAggregateLine(pxname string, scur, act int) string {
	fields := make([]string, statparserNumFields)
	fields[0] = pxname
	fields[1] = "BACKEND"
	fields[17] = "UP"
	fields[32] = "1"
	for i, f := range fields {
		if f == "" {
			fields[i] = "0"
		}
	}
	fields[4] = fmt.Sprintf("%d", scur)
	fields[19] = fmt.Sprintf("%d", act)
	return strings.Join(fields, ",") + ","
}

const fakeShowInfoResponse = "Name: fake\nVersion: 1.0\nRelease_date: 2026/01/01\n" +
	"Nbproc: 1\nProcess_num: 1\nPid: 1\nUptime: 0d 0h00m00s\nMaxconn: 1\n" +
	"CurrConns: 0\nMaxpipes: 0\nPipesUsed: 0\nTasks: 0\nRun_queue: 0\nnode: fake\n"

// fakeAdminSocket starts a UNIX-socket admin server that plays along
// with Connect's handshake and echoes the prompt after every command,
// optionally serving a canned "show stat" response. Every command line
// received is also recorded on cmds, in order, so a test can assert on
// exactly which enable/disable server commands were issued.
func fakeAdminSocket(t *testing.T, statResponse string) (string, *commandLog) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "admin.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	cmds := &commandLog{}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				r := bufio.NewReader(c)
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					cmd := strings.TrimSpace(line)
					cmds.record(cmd)
					switch {
					case strings.HasPrefix(cmd, "show stat"):
						c.Write([]byte(statResponse))
					case cmd == "show info":
						c.Write([]byte(fakeShowInfoResponse))
					}
					c.Write([]byte(proxyadmin.Prompt))
				}
			}(conn)
		}
	}()
	return path, cmds
}

// commandLog records every command line a fakeAdminSocket receives.
type commandLog struct {
	mu   sync.Mutex
	cmds []string
}

func (l *commandLog) record(cmd string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cmds = append(l.cmds, cmd)
}

func (l *commandLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.cmds))
	copy(out, l.cmds)
	return out
}

func (l *commandLog) countPrefix(prefix string) int {
	n := 0
	for _, c := range l.snapshot() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func connectedClient(t *testing.T, statResponse string) (*proxyadmin.Client, *commandLog) {
	t.Helper()
	path, cmds := fakeAdminSocket(t, statResponse)
	c := proxyadmin.NewClient(path)
	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(c.Close)
	return c, cmds
}

func buildFleet(t *testing.T) *fleet.Fleet {
	t.Helper()
	fl := fleet.New()
	if err := fl.Add("web-1", "10.0.0.1", fleet.AlwaysOn); err != nil {
		t.Fatal(err)
	}
	if err := fl.Add("web-2", "10.0.0.2", fleet.Reserve); err != nil {
		t.Fatal(err)
	}
	return fl
}

// TestRecoverMatchesActiveCount exercises the happy path: both fleet
// servers are reported UP and recover succeeds.
func TestRecoverMatchesActiveCount(t *testing.T) {
	resp := "# pxname,svname,qcur\n" +
		statLine("web", "web-1", 2, 0, "UP") +
		"\n" +
		statLine("web", "web-2", 2, 0, "UP") +
		"\n"

	admin, _ := connectedClient(t, resp)
	fl := buildFleet(t)

	c := &Controller{
		cfg:      Config{Backend: "web"},
		admin:    admin,
		fleet:    fl,
		stopChan: make(chan struct{}),
	}
	c.reserve.Set(fleet.On)

	if err := c.recover(); err != nil {
		t.Fatalf("recover: %v", err)
	}
}

// TestRecoverFailsOnMismatch checks that a disagreement between the
// fleet's expectation and HAProxy's reality is surfaced as an error
// rather than silently accepted.
func TestRecoverFailsOnMismatch(t *testing.T) {
	resp := "# pxname,svname,qcur\n" +
		statLine("web", "web-1", 2, 0, "UP") +
		"\n" +
		statLine("web", "web-2", 2, 0, "MAINT") +
		"\n"

	admin, _ := connectedClient(t, resp)
	fl := buildFleet(t)

	c := &Controller{
		cfg:      Config{Backend: "web"},
		admin:    admin,
		fleet:    fl,
		stopChan: make(chan struct{}),
	}
	c.reserve.Set(fleet.On) // expects both servers active; only one is

	if err := c.recover(); err == nil {
		t.Fatal("expected a mismatch error")
	}
}

// TestCheckThresholdsPowersUpAndDown drives the reserve state machine
// through a full off->powering_on->on->off cycle. The fake admin
// socket serves no stat rows, so onPowerUpFired's re-check falls back
// to the jobs count captured at arm time.
func TestCheckThresholdsPowersUpAndDown(t *testing.T) {
	admin, _ := connectedClient(t, "")
	fl := buildFleet(t)

	c := &Controller{
		cfg:      Config{Backend: "web", PowerUpRate: 1000}, // fast power-up for the test
		admin:    admin,
		fleet:    fl,
		reserves: capacity.Reserves{M: 1, D: 2, U: 5},
		stopChan: make(chan struct{}),
	}

	c.checkThresholds(10) // above U: should arm the power-up timer
	if c.reserve.Get() != fleet.PoweringOn {
		t.Fatalf("expected PoweringOn, got %v", c.reserve.Get())
	}

	deadline := time.Now().Add(2 * time.Second)
	for c.reserve.Get() != fleet.On && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if c.reserve.Get() != fleet.On {
		t.Fatalf("expected power-up to complete, got %v", c.reserve.Get())
	}

	c.checkThresholds(1) // at/below D: should power down
	if c.reserve.Get() != fleet.Off {
		t.Fatalf("expected Off after dropping below D, got %v", c.reserve.Get())
	}
}

// TestCheckThresholdsCancelsSurge checks the PoweringOn->Off cancellation
// path when the surge subsides before the timer fires.
func TestCheckThresholdsCancelsSurge(t *testing.T) {
	admin, _ := connectedClient(t, "")
	fl := buildFleet(t)

	c := &Controller{
		cfg:      Config{Backend: "web", PowerUpRate: 0.001}, // slow power-up, won't fire in this test
		admin:    admin,
		fleet:    fl,
		reserves: capacity.Reserves{M: 1, D: 2, U: 5},
		stopChan: make(chan struct{}),
	}

	c.checkThresholds(10)
	if c.reserve.Get() != fleet.PoweringOn {
		t.Fatalf("expected PoweringOn, got %v", c.reserve.Get())
	}

	c.checkThresholds(1)
	if c.reserve.Get() != fleet.Off {
		t.Fatalf("expected the surge cancellation to land on Off, got %v", c.reserve.Get())
	}
}

// TestOnPowerUpFiredCompletesWhenSurgePersists is concrete Scenario D:
// the timer re-check sees scur still above D and commits to ON,
// enabling the reserve.
func TestOnPowerUpFiredCompletesWhenSurgePersists(t *testing.T) {
	resp := "# pxname,svname,qcur\n" + backendAggregateLine("web", 50, 8) + "\n"
	admin, cmds := connectedClient(t, resp)
	fl := buildFleet(t)

	c := &Controller{
		cfg:      Config{Backend: "web"},
		admin:    admin,
		fleet:    fl,
		reserves: capacity.Reserves{M: 1, D: 10, U: 40},
		stopChan: make(chan struct{}),
	}
	c.reserve.Set(fleet.PoweringOn)

	c.onPowerUpFired(45) // stale arm-time jobs; re-check uses scur=50 from the fake stat

	if c.reserve.Get() != fleet.On {
		t.Fatalf("expected On, got %v", c.reserve.Get())
	}
	if got := cmds.countPrefix("enable server web/web-2"); got != 1 {
		t.Fatalf("expected exactly 1 enable server command for the reserve, got %d", got)
	}
}

// TestOnPowerUpFiredCancelsWhenSurgeSubsided is concrete Scenario E: at
// timer expiry scur has already fallen to D or below, so the
// controller collapses straight back to OFF without ever enabling the
// reserve.
func TestOnPowerUpFiredCancelsWhenSurgeSubsided(t *testing.T) {
	resp := "# pxname,svname,qcur\n" + backendAggregateLine("web", 5, 8) + "\n"
	admin, cmds := connectedClient(t, resp)
	fl := buildFleet(t)

	c := &Controller{
		cfg:      Config{Backend: "web"},
		admin:    admin,
		fleet:    fl,
		reserves: capacity.Reserves{M: 1, D: 10, U: 40},
		stopChan: make(chan struct{}),
	}
	c.reserve.Set(fleet.PoweringOn)

	c.onPowerUpFired(45) // stale arm-time jobs; re-check uses scur=5 from the fake stat

	if c.reserve.Get() != fleet.Off {
		t.Fatalf("expected Off, got %v", c.reserve.Get())
	}
	if got := cmds.countPrefix("enable server"); got != 0 {
		t.Fatalf("expected no enable server command once the surge subsided, got %d", got)
	}
}

// TestTickReadsLoadFromBackendAggregateRow checks that jobs and
// powered-on/active counts come from the backend's own BACKEND row
// rather than being re-derived from the per-server rows, so a server
// down from a failed health check is never silently billed as active.
func TestTickReadsLoadFromBackendAggregateRow(t *testing.T) {
	resp := "# pxname,svname,qcur\n" +
		statLine("web", "web-1", 2, 30, "UP") +
		"\n" +
		statLine("web", "web-2", 2, 0, "MAINT") +
		"\n" +
		backendAggregateLine("web", 12, 1) + // only 1 of 2 servers is act, scur=12
		"\n"

	admin, _ := connectedClient(t, resp)
	fl := buildFleet(t)

	c := &Controller{
		cfg:      Config{Backend: "web", MetricsDir: t.TempDir()},
		admin:    admin,
		fleet:    fl,
		// The aggregate scur=12 stays at or below U=20; the web-1 row's
		// scur=30 alone would cross it and arm a power-up.
		reserves: capacity.Reserves{M: 1, D: 5, U: 20},
		stopChan: make(chan struct{}),
	}
	dir := t.TempDir()
	var err error
	c.cost, err = recorder.NewCostRecorder(dir+"/cost.csv", 1.0, 1.0)
	if err != nil {
		t.Fatal(err)
	}
	defer c.cost.Close()
	c.arrRate, err = recorder.NewArrRateRecorder(dir + "/arr_rate.csv")
	if err != nil {
		t.Fatal(err)
	}
	defer c.arrRate.Close()
	c.haproxy, err = recorder.NewHAProxyRecorder(dir + "/haproxy.csv")
	if err != nil {
		t.Fatal(err)
	}
	defer c.haproxy.Close()
	c.nextReconfigAt = time.Now().Add(time.Hour) // don't trigger reconfigure this tick

	c.tick()

	if c.reserve.Get() != fleet.Off {
		t.Fatalf("jobs=12 from the BACKEND row is not above U=20, expected Off, got %v", c.reserve.Get())
	}
}

// TestReconfigureIssuesEnableDisableForReclassifiedServers is concrete
// Scenario F: a policy search that decreases the reserve count from 4
// to 2 must issue exactly one enable server command per server
// promoted from reserve to always-on, and no disable server commands
// for servers that stay in (or move into) reserve while the reserve
// block itself is already Off.
func TestReconfigureIssuesEnableDisableForReclassifiedServers(t *testing.T) {
	// Post-reconfigure, 4 servers should read active (web-1..4) and 2
	// reserve (web-5..6), matching what verifyActiveCount re-polls for.
	resp := "# pxname,svname,qcur\n" +
		statLine("web", "web-1", 2, 1, "UP") +
		"\n" + statLine("web", "web-2", 2, 1, "UP") +
		"\n" + statLine("web", "web-3", 2, 1, "UP") +
		"\n" + statLine("web", "web-4", 2, 1, "UP") +
		"\n" + statLine("web", "web-5", 2, 0, "MAINT") +
		"\n" + statLine("web", "web-6", 2, 0, "MAINT") +
		"\n" + backendAggregateLine("web", 5, 4) + "\n"
	admin, cmds := connectedClient(t, resp)

	fl := fleet.New()
	roles := []fleet.Role{fleet.AlwaysOn, fleet.AlwaysOn, fleet.Reserve, fleet.Reserve, fleet.Reserve, fleet.Reserve}
	for i, id := range []string{"web-1", "web-2", "web-3", "web-4", "web-5", "web-6"} {
		if err := fl.Add(id, "10.0.0.1", roles[i]); err != nil {
			t.Fatal(err)
		}
	}

	c := &Controller{
		cfg:   Config{Backend: "web"},
		admin: admin,
		fleet: fl,
		search: func(capacity.Load) (capacity.Solution, error) {
			return capacity.Solution{Reserves: capacity.Reserves{M: 2, D: 1, U: 8}}, nil
		},
		stopChan: make(chan struct{}),
	}
	c.reserve.Set(fleet.Off)

	c.reconfigure(3.0)

	if got := cmds.countPrefix("enable server"); got != 2 {
		t.Fatalf("expected exactly 2 enable server commands for the 2 servers promoted to always-on, got %d: %v", got, cmds.snapshot())
	}
	if got := cmds.countPrefix("disable server"); got != 0 {
		t.Fatalf("expected no disable server commands: reserve is already Off and the demoted servers were never enabled, got %d: %v", got, cmds.snapshot())
	}
}

// TestExpDeviateZeroRateIsImmediate checks the rate<=0 escape hatch.
func TestExpDeviateZeroRateIsImmediate(t *testing.T) {
	if d := expDeviate(0); d != 0 {
		t.Fatalf("expected 0 delay for rate 0, got %v", d)
	}
}
