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

// Package controller runs the autonomic capacity control loop: it polls
// HAProxy's stats socket, accrues cost and arrival-rate telemetry,
// periodically re-solves the reserve threshold policy, and powers the
// reserve block up or down as load crosses its D/U thresholds.
package controller

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"capctl/internal/billing"
	"capctl/internal/fleet"
	"capctl/internal/proxyadmin"
	"capctl/internal/recorder"
	"capctl/internal/statparser"
	"capctl/pkg/capacity"
)

// Searcher re-solves a reserve configuration for an offered load. The
// three search strategies in pkg/capacity/policy (Heuristic.Solve,
// Exhaustive.Search, SimulatedAnnealing bound to an initial seed) are all
// adaptable to this shape by the caller wiring them up.
type Searcher func(l capacity.Load) (capacity.Solution, error)

// Config bundles everything the controller needs to run one fleet.
type Config struct {
	Backend          string // HAProxy backend name carrying the servers
	ServiceRate      float64
	PollInterval     time.Duration
	ReconfigInterval time.Duration
	PowerUpRate      float64 // nu: rate parameter of the exponential power-up delay
	MetricsDir       string  // directory for cost.csv / arr_rate.csv / haproxy.csv
	CostHolding      float64
	CostServer       float64
	PrometheusAddr   string // empty disables the standalone /metrics server
}

// Controller owns one HAProxy backend's admin connection, its server
// fleet, and the telemetry/billing plumbing driven off every tick.
type Controller struct {
	cfg     Config
	admin   *proxyadmin.Client
	fleet   *fleet.Fleet
	reserve fleet.ReserveState
	search  Searcher
	ledger  billing.Ledger

	cost     *recorder.CostRecorder
	arrRate  *recorder.ArrRateRecorder
	haproxy  *recorder.HAProxyRecorder

	reserves        capacity.Reserves
	nextReconfigAt  time.Time
	prevSnapshot    statparser.Snapshot
	haveSnapshot    bool

	powerTimerMu sync.Mutex
	powerTimer   *time.Timer

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopped  uint32
}

// New constructs a Controller. The fleet must already be populated with
// its initial always-on/reserve assignment before Start is called.
func New(cfg Config, admin *proxyadmin.Client, fl *fleet.Fleet, search Searcher, ledger billing.Ledger) (*Controller, error) {
	cost, err := recorder.NewCostRecorder(cfg.MetricsDir+"/cost.csv", cfg.CostHolding, cfg.CostServer)
	if err != nil {
		return nil, fmt.Errorf("controller: cost recorder: %w", err)
	}
	arr, err := recorder.NewArrRateRecorder(cfg.MetricsDir + "/arr_rate.csv")
	if err != nil {
		return nil, fmt.Errorf("controller: arrival rate recorder: %w", err)
	}
	ha, err := recorder.NewHAProxyRecorder(cfg.MetricsDir + "/haproxy.csv")
	if err != nil {
		return nil, fmt.Errorf("controller: haproxy recorder: %w", err)
	}
	if cfg.PrometheusAddr != "" {
		recorder.StartMetricsEndpoint(cfg.PrometheusAddr)
	}
	return &Controller{
		cfg:      cfg,
		admin:    admin,
		fleet:    fl,
		search:   search,
		ledger:   ledger,
		cost:     cost,
		arrRate:  arr,
		haproxy:  ha,
		stopChan: make(chan struct{}),
	}, nil
}

// Start runs the recovery procedure and launches the tick loop.
func (c *Controller) Start() error {
	log.Printf("controller: starting, backend=%s", c.cfg.Backend)
	if err := c.recover(); err != nil {
		return fmt.Errorf("controller: recovery failed: %w", err)
	}
	c.nextReconfigAt = time.Now().Add(c.cfg.ReconfigInterval)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.tickLoop()
	}()
	return nil
}

// Stop halts the tick loop, cancels any in-flight power-up timer, and
// flushes the telemetry recorders.
func (c *Controller) Stop() {
	if !atomic.CompareAndSwapUint32(&c.stopped, 0, 1) {
		return
	}
	log.Println("controller: stopping")
	close(c.stopChan)
	c.wg.Wait()

	c.powerTimerMu.Lock()
	if c.powerTimer != nil {
		c.powerTimer.Stop()
	}
	c.powerTimerMu.Unlock()

	if err := c.cost.Close(); err != nil {
		log.Printf("controller: closing cost recorder: %v", err)
	}
	if err := c.arrRate.Close(); err != nil {
		log.Printf("controller: closing arrival rate recorder: %v", err)
	}
	if err := c.haproxy.Close(); err != nil {
		log.Printf("controller: closing haproxy recorder: %v", err)
	}
}

func (c *Controller) tickLoop() {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.tick()
		case <-c.stopChan:
			return
		}
	}
}

// poll fetches and decodes one "show stat" response, reconnecting and
// retrying once on a socket-level failure, mirroring the original's
// "drop the socket and redial".
func (c *Controller) poll() (statparser.Snapshot, error) {
	lines, err := c.admin.ShowStat(nil)
	if err != nil {
		log.Printf("controller: poll failed, reconnecting: %v", err)
		if rerr := c.admin.Reconnect(); rerr != nil {
			return statparser.Snapshot{}, fmt.Errorf("reconnect failed: %w", rerr)
		}
		lines, err = c.admin.ShowStat(nil)
		if err != nil {
			return statparser.Snapshot{}, fmt.Errorf("poll failed after reconnect: %w", err)
		}
	}
	snap, err := statparser.Parse(lines)
	if err != nil {
		return statparser.Snapshot{}, fmt.Errorf("malformed stats: %w", err)
	}
	return snap, nil
}

// tick runs one iteration of the poll/parse/account/reconfigure/threshold
// cycle. Errors are logged, not fatal — a single bad poll should not take
// the controller down.
func (c *Controller) tick() {
	now := time.Now()

	snap, err := c.poll()
	if err != nil {
		log.Printf("controller: %v, skipping tick", err)
		return
	}

	if c.haveSnapshot {
		if drift := statparser.DetectDrift(c.prevSnapshot, snap); drift != nil {
			log.Printf("controller: config drift detected: %v", drift)
		}
	}
	c.prevSnapshot = snap
	c.haveSnapshot = true

	backend, ok := snap.Proxies[backendIID(snap, c.cfg.Backend)]
	if !ok {
		log.Printf("controller: backend %q not found in stats, skipping tick", c.cfg.Backend)
		return
	}
	aggregate, ok := backend["BACKEND"]
	if !ok {
		log.Printf("controller: backend %q has no BACKEND aggregate row, skipping tick", c.cfg.Backend)
		return
	}

	var stotSum int64
	for _, proxy := range snap.Proxies {
		for _, svc := range proxy {
			if svc.Type == statparser.TypeFrontend {
				stotSum += int64(svc.Stot)
			}
		}
	}

	// jobs and activeServers are read straight off the backend's own
	// aggregate row (scur, act) rather than re-derived from the
	// individual server rows, so a server down from a failed health
	// check is never silently counted as active or billed as powered
	// on. While a power-up is in flight the warming reserves already
	// draw power, so powered_on_servers reports the full fleet size
	// instead of the not-yet-enabled act.
	jobs := aggregate.Scur
	activeServers := aggregate.Act
	poweredOnServers := activeServers
	if c.reserve.Get() == fleet.PoweringOn {
		poweredOnServers = c.fleet.Size()
	}

	rate, err := c.arrRate.Update(stotSum, now)
	if err != nil {
		log.Printf("controller: arrival rate recorder: %v", err)
	}

	if err := c.haproxy.Update(backend, now); err != nil {
		log.Printf("controller: haproxy recorder: %v", err)
	}

	costBefore := c.cost.TotalCost()
	if err := c.cost.Update(jobs, poweredOnServers, activeServers, now, rate, c.reserves); err != nil {
		log.Printf("controller: cost recorder: %v", err)
	}
	tickCost := c.cost.TotalCost() - costBefore

	if c.cfg.ReconfigInterval > 0 && !c.nextReconfigAt.After(now) {
		c.reconfigure(rate)
	}

	c.checkThresholds(jobs)

	recorder.ObserveTick(c.fleet.ReserveCount(), poweredOnServers, rate, int(c.reserve.Get()), tickCost, c.cost.TotalCost())

	if c.ledger != nil {
		entry := billing.Entry{Key: c.cfg.Backend, MicroCost: int64(tickCost * 1e6), CommitID: billing.NewCommitID()}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := c.ledger.CommitBatch(ctx, []billing.Entry{entry})
		cancel()
		if err != nil {
			log.Printf("controller: billing commit failed: %v", err)
			recorder.ObserveCommitError()
		}
	}
}

// backendIID resolves the proxy-id (iid) of the named backend within a
// freshly parsed snapshot. HAProxy's iid is stable across polls as long
// as the configuration isn't reloaded, but we re-resolve it every tick
// since a reload can renumber proxies — exactly the event DetectDrift
// flags above.
func backendIID(snap statparser.Snapshot, name string) int {
	for iid, proxy := range snap.Proxies {
		for _, svc := range proxy {
			if svc.Pxname == name {
				return iid
			}
		}
	}
	return -1
}

// reconfigure re-solves the reserve threshold policy for the measured
// arrival rate and rebalances the fleet to match the new reserve count,
// issuing one enable/disable server command per server whose role
// actually changed and verifying the proxy's resulting active count
// agrees with the fleet's new idea of reality.
func (c *Controller) reconfigure(rate float64) {
	load := capacity.Load{Lambda: rate, Mu: c.cfg.ServiceRate}
	sol, err := c.search(load)
	if err != nil {
		log.Printf("controller: policy search failed, keeping current reserves: %v", err)
		c.nextReconfigAt = time.Now().Add(c.cfg.ReconfigInterval)
		return
	}

	prevRoles := make(map[string]fleet.Role, c.fleet.Size())
	for _, m := range c.fleet.Members() {
		prevRoles[m.ID] = m.Role
	}

	alwaysOn, reserves, err := c.fleet.Rebalance(sol.Reserves.M)
	if err != nil {
		log.Printf("controller: rebalance failed: %v", err)
		recorder.ObserveReconfiguration()
		c.nextReconfigAt = time.Now().Add(c.cfg.ReconfigInterval)
		return
	}
	c.reserves = sol.Reserves

	reclassified := 0
	for _, id := range alwaysOn {
		if prevRoles[id] != fleet.Reserve {
			continue
		}
		// A newly always-on server must always be enabled, regardless
		// of the reserve block's power state.
		if err := c.admin.EnableServer(c.cfg.Backend, id); err != nil {
			log.Printf("controller: enabling reclassified always-on server %s: %v", id, err)
		}
		reclassified++
	}
	reserveState := c.reserve.Get()
	for _, id := range reserves {
		if prevRoles[id] != fleet.AlwaysOn {
			continue
		}
		// A newly demoted reserve adopts whatever state the rest of
		// the reserve block is already in.
		if reserveState == fleet.Off {
			if err := c.admin.DisableServer(c.cfg.Backend, id); err != nil {
				log.Printf("controller: disabling reclassified reserve server %s: %v", id, err)
			}
		}
		reclassified++
	}

	log.Printf("controller: reconfigured to %s (rate=%.3f), %d server(s) reclassified", sol.Reserves, rate, reclassified)

	if reclassified > 0 {
		if err := c.verifyActiveCount(); err != nil {
			log.Printf("controller: post-reconfigure verification failed, running recovery: %v", err)
			if rerr := c.recover(); rerr != nil {
				log.Printf("controller: recovery after reconfigure mismatch failed: %v", rerr)
			}
		}
	}

	recorder.ObserveReconfiguration()
	c.nextReconfigAt = time.Now().Add(c.cfg.ReconfigInterval)
}

// checkThresholds drives the reserve power state machine off the
// current number of jobs in the backend, mirroring the three
// transitions the original tick loop makes: power up past U, cancel a
// pending power-up if the surge subsides before the timer fires, and
// power down at or below D.
func (c *Controller) checkThresholds(jobs int) {
	switch c.reserve.Get() {
	case fleet.Off:
		if jobs > c.reserves.U {
			if c.reserve.CompareAndSet(fleet.Off, fleet.PoweringOn) {
				c.armPowerUpTimer(jobs)
			}
		}
	case fleet.PoweringOn:
		if jobs <= c.reserves.D {
			c.cancelPowerUpTimer()
			c.reserve.Set(fleet.Off)
			log.Println("controller: surge gone before power-up completed, cancelling")
		}
	case fleet.On:
		if jobs <= c.reserves.D {
			c.disableReserves()
			c.reserve.Set(fleet.Off)
		}
	}
}

// armPowerUpTimer schedules the reserve pool's power-up after an
// exponentially distributed delay, the discrete-event analogue of the
// original's one-shot SIGALRM. jobs is captured so the fired callback
// can re-check whether the surge that triggered it is still present.
func (c *Controller) armPowerUpTimer(jobs int) {
	delay := expDeviate(c.cfg.PowerUpRate)
	c.powerTimerMu.Lock()
	c.powerTimer = time.AfterFunc(delay, func() { c.onPowerUpFired(jobs) })
	c.powerTimerMu.Unlock()
	log.Printf("controller: arming power-up in %s", delay)
}

func (c *Controller) cancelPowerUpTimer() {
	c.powerTimerMu.Lock()
	if c.powerTimer != nil {
		c.powerTimer.Stop()
		c.powerTimer = nil
	}
	c.powerTimerMu.Unlock()
}

// onPowerUpFired re-reads scur before committing to the power-up: if
// the surge has already subsided to D or below, the reserves are
// never enabled and the state collapses straight back to Off.
func (c *Controller) onPowerUpFired(jobsAtArm int) {
	if c.reserve.Get() != fleet.PoweringOn {
		// already cancelled or raced with a concurrent transition
		return
	}

	jobs := jobsAtArm
	if snap, err := c.poll(); err != nil {
		log.Printf("controller: power-up re-check poll failed, using jobs=%d from arm time: %v", jobsAtArm, err)
	} else if backend, ok := snap.Proxies[backendIID(snap, c.cfg.Backend)]; !ok {
		log.Printf("controller: power-up re-check: backend %q not found, using jobs=%d from arm time", c.cfg.Backend, jobsAtArm)
	} else if aggregate, ok := backend["BACKEND"]; ok {
		jobs = aggregate.Scur
	}

	if jobs <= c.reserves.D {
		if c.reserve.CompareAndSet(fleet.PoweringOn, fleet.Off) {
			log.Printf("controller: surge gone before power-up timer fired (scur=%d <= D=%d), staying off", jobs, c.reserves.D)
		}
		return
	}

	if !c.reserve.CompareAndSet(fleet.PoweringOn, fleet.On) {
		// already cancelled or raced with a concurrent transition
		return
	}
	c.enableReserves()
	log.Println("controller: reserve pool powered on")
}

// expDeviate draws a delay from Exp(rate); rate<=0 collapses to an
// immediate (zero-delay) power-up.
func expDeviate(rate float64) time.Duration {
	if rate <= 0 {
		return 0
	}
	u := rand.Float64()
	for u == 0 {
		u = rand.Float64()
	}
	seconds := -1.0 / rate * math.Log(u)
	return time.Duration(seconds * float64(time.Second))
}

func (c *Controller) enableReserves() {
	for _, id := range c.fleet.ReserveIDs() {
		if err := c.admin.EnableServer(c.cfg.Backend, id); err != nil {
			log.Printf("controller: enabling reserve %s: %v", id, err)
		}
	}
}

func (c *Controller) disableReserves() {
	for _, id := range c.fleet.ReserveIDs() {
		if err := c.admin.DisableServer(c.cfg.Backend, id); err != nil {
			log.Printf("controller: disabling reserve %s: %v", id, err)
		}
	}
}
