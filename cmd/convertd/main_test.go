package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"convertd/internal/api"
	"convertd/internal/testsupport"
)

func writeTrack(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "ride.gpx")
	if err := os.WriteFile(path, testsupport.ThreePointTrack(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)), 0o644); err != nil {
		t.Fatalf("write track: %v", err)
	}
	return path
}

func TestToolsCommandListsBuiltins(t *testing.T) {
	env := setupCLITestEnv(t, false)

	out, err := env.run(t, "tools")
	if err != nil {
		t.Fatalf("tools: %v", err)
	}
	if !strings.Contains(out, "gpx-speed") {
		t.Fatalf("expected gpx-speed in output:\n%s", out)
	}

	out, err = env.run(t, "tools", "--json")
	if err != nil {
		t.Fatalf("tools --json: %v", err)
	}
	var resp api.ToolListResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode tools json: %v\n%s", err, out)
	}
	found := false
	for _, tool := range resp.Tools {
		if tool.Name == "gpx-speed" {
			found = true
			if tool.OutputExtension != "gpx" {
				t.Fatalf("unexpected output extension %q", tool.OutputExtension)
			}
		}
	}
	if !found {
		t.Fatalf("gpx-speed missing from %+v", resp.Tools)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	target := filepath.Join(home, "cfg", "convertd.toml")

	out, err := runCLI(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, target) {
		t.Fatalf("expected target path in output: %s", out)
	}
	if _, err := runCLI(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected second init without --overwrite to fail")
	}

	out, err = runCLI(t, "--config", target, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if !strings.Contains(out, "Configuration valid") {
		t.Fatalf("unexpected validate output: %s", out)
	}
}

func TestSubmitWaitDownloadAndList(t *testing.T) {
	env := setupCLITestEnv(t, true)
	dir := t.TempDir()
	input := writeTrack(t, dir)
	outDir := filepath.Join(dir, "out") + string(os.PathSeparator)

	out, err := env.run(t, "submit", "gpx-speed", input, "--param", "speed_multiplier=2", "--output", outDir, "--poll-interval", "20ms")
	if err != nil {
		t.Fatalf("submit: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Saved") {
		t.Fatalf("expected download confirmation: %s", out)
	}
	entries, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatalf("read output dir: %v", err)
	}
	if len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), ".gpx") {
		t.Fatalf("unexpected output entries: %v", entries)
	}

	out, err = env.run(t, "executions", "list", "--json")
	if err != nil {
		t.Fatalf("executions list: %v", err)
	}
	var list api.ExecutionListResponse
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("decode list: %v\n%s", err, out)
	}
	if len(list.Executions) != 1 || list.Executions[0].Status != "completed" {
		t.Fatalf("unexpected executions: %+v", list.Executions)
	}
	id := list.Executions[0].ID

	out, err = env.run(t, "status", id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "completed") {
		t.Fatalf("unexpected status output: %s", out)
	}

	out, err = env.run(t, "download", id, "-o", filepath.Join(dir, "again.gpx"), "--delete")
	if err != nil {
		t.Fatalf("download: %v\n%s", err, out)
	}
	if _, err := os.Stat(filepath.Join(dir, "again.gpx")); err != nil {
		t.Fatalf("expected downloaded file: %v", err)
	}
	if _, err := env.run(t, "status", id); err == nil {
		t.Fatal("expected status of deleted execution to fail")
	}
}

func TestSubmitRejectsInvalidParameter(t *testing.T) {
	env := setupCLITestEnv(t, true)
	input := writeTrack(t, t.TempDir())

	_, err := env.run(t, "submit", "gpx-speed", input, "--param", "speed_multiplier=50")
	if err == nil {
		t.Fatal("expected out-of-range multiplier to be rejected")
	}
	if !strings.Contains(err.Error(), "400") && !strings.Contains(err.Error(), "speed_multiplier") {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := env.run(t, "submit", "gpx-speed", input, "--param", "novalue"); err == nil {
		t.Fatal("expected malformed --param to be rejected")
	}
}

func TestStatusUnknownExecution(t *testing.T) {
	env := setupCLITestEnv(t, true)

	out, err := env.run(t, "status", "does-not-exist")
	if err == nil {
		t.Fatal("expected error for unknown execution")
	}
	if !strings.Contains(out, "not found") {
		t.Fatalf("expected not found line: %s", out)
	}
}

func TestReapCommandRunsSweep(t *testing.T) {
	env := setupCLITestEnv(t, false)

	out, err := env.run(t, "reap")
	if err != nil {
		t.Fatalf("reap: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Reaped") {
		t.Fatalf("expected sweep table: %s", out)
	}
}

func TestPreflightCommand(t *testing.T) {
	env := setupCLITestEnv(t, false)

	// The free space check depends on the host; only rendering is asserted.
	out, _ := env.run(t, "preflight")
	if !strings.Contains(out, "Data directory") || !strings.Contains(out, "Blob directory") {
		t.Fatalf("unexpected preflight output: %s", out)
	}
}

func TestServerURLFromBind(t *testing.T) {
	cases := map[string]string{
		"127.0.0.1:7600": "http://127.0.0.1:7600",
		"0.0.0.0:7600":   "http://127.0.0.1:7600",
		":7600":          "http://127.0.0.1:7600",
		"[::]:7600":      "http://127.0.0.1:7600",
	}
	for bind, want := range cases {
		if got := serverURLFromBind(bind); got != want {
			t.Fatalf("serverURLFromBind(%q) = %q, want %q", bind, got, want)
		}
	}
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"speed_multiplier=1.5", "note=a=b"})
	if err != nil {
		t.Fatalf("parseParams: %v", err)
	}
	if params["speed_multiplier"] != "1.5" || params["note"] != "a=b" {
		t.Fatalf("unexpected params: %v", params)
	}
	if _, err := parseParams([]string{"=x"}); err == nil {
		t.Fatal("expected empty key to fail")
	}
}
