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

package proxyadmin

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Info is the parsed response of "show info": process identity plus
// connection, pipe, task and run-queue counters. The controller logs
// the identity fields during recovery.
type Info struct {
	SoftwareName    string
	SoftwareVersion string
	SoftwareRelease string
	Nproc           int
	Procn           int
	Pid             int
	Uptime          string
	MaxConn         int
	CurConn         int
	MaxPipes        int
	CurPipes        int
	Tasks           int
	RunQueue        int
	Node            string
}

var infoFieldRE = map[string]*regexp.Regexp{
	"software_name":    regexp.MustCompile(`^Name:\s*(\S+)`),
	"software_version": regexp.MustCompile(`^Version:\s*(\S+)`),
	"software_release": regexp.MustCompile(`^Release_date:\s*(\S+)`),
	"nproc":            regexp.MustCompile(`^Nbproc:\s*(\d+)`),
	"procn":            regexp.MustCompile(`^Process_num:\s*(\d+)`),
	"pid":              regexp.MustCompile(`^Pid:\s*(\d+)`),
	"uptime":           regexp.MustCompile(`^Uptime:\s*([\S ]+)$`),
	"maxconn":          regexp.MustCompile(`^Maxconn:\s*(\d+)`),
	"curconn":          regexp.MustCompile(`^CurrConns:\s*(\d+)`),
	"maxpipes":         regexp.MustCompile(`^Maxpipes:\s*(\d+)`),
	"curpipes":         regexp.MustCompile(`^PipesUsed:\s*(\d+)`),
	"tasks":            regexp.MustCompile(`^Tasks:\s*(\d+)`),
	"runqueue":         regexp.MustCompile(`^Run_queue:\s*(\d+)`),
	"node":             regexp.MustCompile(`^node:\s*(\S+)`),
}

// ShowInfo issues "show info" and parses the response.
func (c *Client) ShowInfo() (Info, error) {
	if err := c.Send("show info"); err != nil {
		return Info{}, err
	}
	lines, err := c.Recv()
	if err != nil {
		return Info{}, err
	}
	return parseInfo(lines)
}

// parseInfo matches every line against the known "Key: value" patterns
// and fails if any expected field never showed up in the response, mirroring
// the strictness of the original parser.
func parseInfo(lines []string) (Info, error) {
	found := make(map[string]string, len(infoFieldRE))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for key, re := range infoFieldRE {
			if _, ok := found[key]; ok {
				continue
			}
			if m := re.FindStringSubmatch(line); m != nil {
				found[key] = m[1]
				break
			}
		}
	}

	for key := range infoFieldRE {
		if _, ok := found[key]; !ok {
			return Info{}, &MalformedStats{Reason: fmt.Sprintf("missing %q in show info response", key)}
		}
	}

	return Info{
		SoftwareName:    found["software_name"],
		SoftwareVersion: found["software_version"],
		SoftwareRelease: found["software_release"],
		Nproc:           atoiOr(found["nproc"], 0),
		Procn:           atoiOr(found["procn"], 0),
		Pid:             atoiOr(found["pid"], 0),
		Uptime:          found["uptime"],
		MaxConn:         atoiOr(found["maxconn"], 0),
		CurConn:         atoiOr(found["curconn"], 0),
		MaxPipes:        atoiOr(found["maxpipes"], 0),
		CurPipes:        atoiOr(found["curpipes"], 0),
		Tasks:           atoiOr(found["tasks"], 0),
		RunQueue:        atoiOr(found["runqueue"], 0),
		Node:            found["node"],
	}, nil
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
