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

// Package statparser decodes the CSV lines a proxy's admin socket
// returns from "show stat" into typed service records, and flags
// configuration drift (proxies or services appearing/disappearing
// between polls without a controller-initiated reconfiguration).
package statparser

import (
	"fmt"
	"strconv"
	"strings"
)

// NumFields is the number of ordered CSV columns a stat line carries, as
// documented by the proxy's own configuration manual section on the
// stats socket.
const NumFields = 51

// maxServices bounds how many service records get fully parsed per
// poll; once exceeded, remaining lines are only scanned for their
// iid/sid so pxcount/svcount stay accurate without the allocation cost
// of parsing every field.
const maxServices = 100

const commentPrefix = "#"

// ProxyType enumerates the "type" column.
type ProxyType int

const (
	TypeFrontend ProxyType = 0
	TypeBackend  ProxyType = 1
	TypeServer   ProxyType = 2
	TypeSocket   ProxyType = 3
)

// ServiceStat is one decoded row of "show stat" output: a frontend,
// backend, server, or listening socket.
type ServiceStat struct {
	Pxname string
	Svname string

	Qcur, Qmax             int
	Scur, Smax, Slim, Stot int
	Bin, Bout              int
	Dreq, Dresp            int
	Ereq, Econ, Eresp      int
	Wretr, Wredis          int

	Status string

	Weight, Act, Bck int

	Chkfail, Chkdown     int
	Lastchg, Downtime    int
	Qlimit               int
	Pid, Iid, Sid        int
	Throttle, Lbtot      int
	Tracked              string
	Type                 ProxyType
	Rate, RateLim, RateMax int

	CheckStatus    string
	CheckCode      int
	CheckDuration  int

	Hrsp1xx, Hrsp2xx, Hrsp3xx, Hrsp4xx, Hrsp5xx, HrspOther int
	Hanafail                                               string

	ReqRate, ReqRateMax, ReqTot int
	CliAbrt, SrvAbrt            int
}

// ID returns the key used to index a service within its proxy: the
// service name for frontends/backends, the numeric service id otherwise.
func (s ServiceStat) ID() string {
	if s.Type == TypeFrontend || s.Type == TypeBackend {
		return s.Svname
	}
	return strconv.Itoa(s.Sid)
}

// MalformedStats reports a stat line whose iid/sid or typed fields
// could not be parsed.
type MalformedStats struct {
	Field  string
	Value  string
	Reason string
}

func (e *MalformedStats) Error() string {
	return fmt.Sprintf("statparser: garbage field %s=%q: %s", e.Field, e.Value, e.Reason)
}

// ConfigDrift reports that the number of proxies or services changed
// between two polls without an expected reconfiguration, i.e. the
// running proxy's configuration was reloaded out from under the
// controller.
type ConfigDrift struct {
	ProxyDelta   int
	ServiceDelta int
}

func (e *ConfigDrift) Error() string {
	return fmt.Sprintf("statparser: config drift detected: proxies %+d, services %+d", e.ProxyDelta, e.ServiceDelta)
}

// Snapshot is the full decoded "show stat" response: every service,
// indexed by proxy id then service key, plus the proxy/service counts
// used for drift detection.
type Snapshot struct {
	Proxies   map[int]map[string]ServiceStat
	PxCount   int
	SvCount   int
}

// Parse decodes the CSV lines returned by "show stat". Lines that are
// blank, comments, or short are skipped; a line with unparsable
// iid/sid beyond maxServices aborts with MalformedStats since even the
// cheap count-only path requires them.
func Parse(lines []string) (Snapshot, error) {
	snap := Snapshot{Proxies: make(map[int]map[string]ServiceStat)}
	countOnlyIIDs := make(map[int]bool)

	for _, line := range lines {
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, commentPrefix) {
			continue
		}
		// HAProxy terminates every stat line with a trailing comma; split
		// on NumFields+1 so the last real field (srv_abrt) doesn't absorb
		// it as part of its value.
		fields := strings.SplitN(line, ",", NumFields+1)
		if len(fields) < NumFields {
			continue
		}

		if snap.SvCount > maxServices {
			iid, err := strconv.Atoi(fields[idxIID])
			if err != nil {
				return Snapshot{}, &MalformedStats{Field: "iid", Value: fields[idxIID], Reason: "not an integer"}
			}
			sid, err := strconv.Atoi(fields[idxSID])
			if err != nil {
				return Snapshot{}, &MalformedStats{Field: "sid", Value: fields[idxSID], Reason: "not an integer"}
			}
			if _, ok := snap.Proxies[iid]; !ok {
				if !countOnlyIIDs[iid] {
					countOnlyIIDs[iid] = true
					snap.PxCount++
				}
				snap.SvCount++
			} else if _, ok := svByID(snap.Proxies[iid], sid, fields); !ok {
				snap.SvCount++
			}
			continue
		}

		svc, err := parseRow(fields)
		if err != nil {
			return Snapshot{}, err
		}

		if _, ok := snap.Proxies[svc.Iid]; !ok {
			snap.Proxies[svc.Iid] = make(map[string]ServiceStat)
			snap.PxCount++
		}
		snap.Proxies[svc.Iid][svc.ID()] = svc
		snap.SvCount++
	}

	return snap, nil
}

// svByID is a helper for the count-only fast path, which never
// constructs a full ServiceStat so it can't call svc.ID(); it derives
// the same key from the raw fields instead.
func svByID(byID map[string]ServiceStat, sid int, fields []string) (ServiceStat, bool) {
	ptype := fields[idxType]
	key := fields[idxSvname]
	if ptype != "0" && ptype != "1" {
		key = strconv.Itoa(sid)
	}
	svc, ok := byID[key]
	return svc, ok
}

const (
	idxPxname = iota
	idxSvname
	idxQcur
	idxQmax
	idxScur
	idxSmax
	idxSlim
	idxStot
	idxBin
	idxBout
	idxDreq
	idxDresp
	idxEreq
	idxEcon
	idxEresp
	idxWretr
	idxWredis
	idxStatus
	idxWeight
	idxAct
	idxBck
	idxChkfail
	idxChkdown
	idxLastchg
	idxDowntime
	idxQlimit
	idxPid
	idxIID
	idxSID
	idxThrottle
	idxLbtot
	idxTracked
	idxType
	idxRate
	idxRateLim
	idxRateMax
	idxCheckStatus
	idxCheckCode
	idxCheckDuration
	idxHrsp1xx
	idxHrsp2xx
	idxHrsp3xx
	idxHrsp4xx
	idxHrsp5xx
	idxHrspOther
	idxHanafail
	idxReqRate
	idxReqRateMax
	idxReqTot
	idxCliAbrt
	idxSrvAbrt
)

func atoi(fields []string, idx int, name string) (int, error) {
	v := fields[idx]
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &MalformedStats{Field: name, Value: v, Reason: "not an integer"}
	}
	return n, nil
}

func parseRow(fields []string) (ServiceStat, error) {
	var s ServiceStat
	var err error

	s.Pxname = fields[idxPxname]
	s.Svname = fields[idxSvname]

	if s.Qcur, err = atoi(fields, idxQcur, "qcur"); err != nil {
		return s, err
	}
	if s.Qmax, err = atoi(fields, idxQmax, "qmax"); err != nil {
		return s, err
	}
	if s.Scur, err = atoi(fields, idxScur, "scur"); err != nil {
		return s, err
	}
	if s.Smax, err = atoi(fields, idxSmax, "smax"); err != nil {
		return s, err
	}
	if s.Slim, err = atoi(fields, idxSlim, "slim"); err != nil {
		return s, err
	}
	if s.Stot, err = atoi(fields, idxStot, "stot"); err != nil {
		return s, err
	}
	if s.Bin, err = atoi(fields, idxBin, "bin"); err != nil {
		return s, err
	}
	if s.Bout, err = atoi(fields, idxBout, "bout"); err != nil {
		return s, err
	}
	if s.Dreq, err = atoi(fields, idxDreq, "dreq"); err != nil {
		return s, err
	}
	if s.Dresp, err = atoi(fields, idxDresp, "dresp"); err != nil {
		return s, err
	}
	if s.Ereq, err = atoi(fields, idxEreq, "ereq"); err != nil {
		return s, err
	}
	if s.Econ, err = atoi(fields, idxEcon, "econ"); err != nil {
		return s, err
	}
	if s.Eresp, err = atoi(fields, idxEresp, "eresp"); err != nil {
		return s, err
	}
	if s.Wretr, err = atoi(fields, idxWretr, "wretr"); err != nil {
		return s, err
	}
	if s.Wredis, err = atoi(fields, idxWredis, "wredis"); err != nil {
		return s, err
	}

	s.Status = fields[idxStatus]
	if s.Status == "no check" {
		s.Status = "-"
	}

	if s.Weight, err = atoi(fields, idxWeight, "weight"); err != nil {
		return s, err
	}
	if s.Act, err = atoi(fields, idxAct, "act"); err != nil {
		return s, err
	}
	if s.Bck, err = atoi(fields, idxBck, "bck"); err != nil {
		return s, err
	}
	if s.Chkfail, err = atoi(fields, idxChkfail, "chkfail"); err != nil {
		return s, err
	}
	if s.Chkdown, err = atoi(fields, idxChkdown, "chkdown"); err != nil {
		return s, err
	}
	if s.Lastchg, err = atoi(fields, idxLastchg, "lastchg"); err != nil {
		return s, err
	}
	if s.Downtime, err = atoi(fields, idxDowntime, "downtime"); err != nil {
		return s, err
	}
	if s.Qlimit, err = atoi(fields, idxQlimit, "qlimit"); err != nil {
		return s, err
	}
	if s.Pid, err = atoi(fields, idxPid, "pid"); err != nil {
		return s, err
	}
	if s.Iid, err = atoi(fields, idxIID, "iid"); err != nil {
		return s, err
	}
	if s.Sid, err = atoi(fields, idxSID, "sid"); err != nil {
		return s, err
	}
	if s.Throttle, err = atoi(fields, idxThrottle, "throttle"); err != nil {
		return s, err
	}
	if s.Lbtot, err = atoi(fields, idxLbtot, "lbtot"); err != nil {
		return s, err
	}

	s.Tracked = fields[idxTracked]

	ptype, err := atoi(fields, idxType, "type")
	if err != nil {
		return s, err
	}
	s.Type = ProxyType(ptype)

	if s.Rate, err = atoi(fields, idxRate, "rate"); err != nil {
		return s, err
	}
	if s.RateLim, err = atoi(fields, idxRateLim, "rate_lim"); err != nil {
		return s, err
	}
	if s.RateMax, err = atoi(fields, idxRateMax, "rate_max"); err != nil {
		return s, err
	}

	s.CheckStatus = fields[idxCheckStatus]
	if s.Status == "-" {
		s.CheckStatus = "none"
	}

	if s.CheckCode, err = atoi(fields, idxCheckCode, "check_code"); err != nil {
		return s, err
	}
	if s.CheckDuration, err = atoi(fields, idxCheckDuration, "check_duration"); err != nil {
		return s, err
	}
	if s.Hrsp1xx, err = atoi(fields, idxHrsp1xx, "hrsp_1xx"); err != nil {
		return s, err
	}
	if s.Hrsp2xx, err = atoi(fields, idxHrsp2xx, "hrsp_2xx"); err != nil {
		return s, err
	}
	if s.Hrsp3xx, err = atoi(fields, idxHrsp3xx, "hrsp_3xx"); err != nil {
		return s, err
	}
	if s.Hrsp4xx, err = atoi(fields, idxHrsp4xx, "hrsp_4xx"); err != nil {
		return s, err
	}
	if s.Hrsp5xx, err = atoi(fields, idxHrsp5xx, "hrsp_5xx"); err != nil {
		return s, err
	}
	if s.HrspOther, err = atoi(fields, idxHrspOther, "hrsp_other"); err != nil {
		return s, err
	}

	s.Hanafail = fields[idxHanafail]

	if s.ReqRate, err = atoi(fields, idxReqRate, "req_rate"); err != nil {
		return s, err
	}
	if s.ReqRateMax, err = atoi(fields, idxReqRateMax, "req_rate_max"); err != nil {
		return s, err
	}
	if s.ReqTot, err = atoi(fields, idxReqTot, "req_tot"); err != nil {
		return s, err
	}
	if s.CliAbrt, err = atoi(fields, idxCliAbrt, "cli_abrt"); err != nil {
		return s, err
	}
	if s.SrvAbrt, err = atoi(fields, idxSrvAbrt, "srv_abrt"); err != nil {
		return s, err
	}

	return s, nil
}

// DetectDrift compares the proxy/service counts of two successive
// snapshots and reports ConfigDrift if either changed, matching the
// asymmetric rule of the original: a rising count only counts as drift
// once a prior non-zero baseline exists, since the very first poll
// always starts from zero.
func DetectDrift(prev, cur Snapshot) *ConfigDrift {
	var pxDiff, svDiff int

	if cur.PxCount < prev.PxCount {
		pxDiff -= prev.PxCount - cur.PxCount
	}
	if prev.PxCount > 0 && cur.PxCount > prev.PxCount {
		pxDiff += cur.PxCount - prev.PxCount
	}
	if cur.SvCount < prev.SvCount {
		svDiff -= prev.SvCount - cur.SvCount
	}
	if prev.SvCount > 0 && cur.SvCount > prev.SvCount {
		svDiff += cur.SvCount - prev.SvCount
	}

	if pxDiff == 0 && svDiff == 0 {
		return nil
	}
	return &ConfigDrift{ProxyDelta: pxDiff, ServiceDelta: svDiff}
}
