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
	"net"
	"testing"
	"time"
)

// fakeServer writes resp to the pipe as soon as it sees anything land on
// its end, simulating the proxy's "echo the prompt after every command"
// behaviour without a real admin socket.
func fakeServer(t *testing.T, srv net.Conn, resp string) {
	t.Helper()
	go func() {
		buf := make([]byte, 4096)
		for {
			_, err := srv.Read(buf)
			if err != nil {
				return
			}
			if _, err := srv.Write([]byte(resp)); err != nil {
				return
			}
		}
	}()
}

// TestWaitConsumesUntilPrompt checks that Wait() blocks until the prompt
// sentinel arrives, even when it is split across multiple reads.
func TestWaitConsumesUntilPrompt(t *testing.T) {
	client, srv := net.Pipe()
	defer client.Close()
	defer srv.Close()

	c := &Client{conn: client}

	done := make(chan error, 1)
	go func() { done <- c.Wait() }()

	go func() {
		srv.Write([]byte("some banner text\n"))
		time.Sleep(5 * time.Millisecond)
		srv.Write([]byte(Prompt))
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after prompt arrived")
	}
}

// TestRecvSplitsLines checks that Recv() splits the response into lines
// and stops at the prompt, excluding the prompt itself from the result.
func TestRecvSplitsLines(t *testing.T) {
	client, srv := net.Pipe()
	defer client.Close()
	defer srv.Close()

	c := &Client{conn: client}

	done := make(chan struct {
		lines []string
		err   error
	}, 1)
	go func() {
		lines, err := c.Recv()
		done <- struct {
			lines []string
			err   error
		}{lines, err}
	}()

	go func() {
		srv.Write([]byte("# pxname,svname,qcur\nfe1,FRONTEND,0\n"))
		time.Sleep(5 * time.Millisecond)
		srv.Write([]byte(Prompt))
	}()

	select {
	case result := <-done:
		if result.err != nil {
			t.Fatalf("Recv returned error: %v", result.err)
		}
		if len(result.lines) != 2 {
			t.Fatalf("expected 2 lines, got %d: %v", len(result.lines), result.lines)
		}
		if result.lines[0] != "# pxname,svname,qcur" {
			t.Fatalf("unexpected first line: %q", result.lines[0])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Recv did not return")
	}
}

// TestParseInfo checks that "Key: Value" lines are matched against the
// known field patterns and coerced to the right types.
func TestParseInfo(t *testing.T) {
	lines := []string{
		"Name: HAProxy",
		"Version: 2.6.0",
		"Release_date: 2022/05/25",
		"Nbproc: 1",
		"Process_num: 1",
		"Pid: 1234",
		"Uptime: 0d 1h02m03s",
		"Maxconn: 2000",
		"CurrConns: 7",
		"Maxpipes: 0",
		"PipesUsed: 0",
		"Tasks: 42",
		"Run_queue: 0",
		"node: fleet-01",
	}
	info, err := parseInfo(lines)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Pid != 1234 {
		t.Fatalf("Pid: got %d", info.Pid)
	}
	if info.CurConn != 7 || info.MaxConn != 2000 || info.Tasks != 42 {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.SoftwareVersion != "2.6.0" {
		t.Fatalf("SoftwareVersion: got %q", info.SoftwareVersion)
	}
}

// TestParseInfoMissingFieldErrors checks that a response missing one of
// the required fields is rejected rather than silently zero-filled.
func TestParseInfoMissingFieldErrors(t *testing.T) {
	_, err := parseInfo([]string{"Pid: 1234"})
	if err == nil {
		t.Fatal("expected an error for a response missing most fields")
	}
}
