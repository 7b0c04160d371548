package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRun_ArchiveSimulated(t *testing.T) {
	out := t.TempDir()
	path := writeConfig(t, `
device:
  simulate: true
  simulator:
    readings: 12
    interval: 60s
    page_size: 5
export:
  output_dir: "`+out+`"
  formats: [csv]
logging:
  level: error
`)

	var stdout bytes.Buffer
	if err := run([]string{"-config", path, "archive"}, &stdout); err != nil {
		t.Fatalf("run() failed: %v", err)
	}

	if !strings.Contains(stdout.String(), "Aranet4 Simulator: 12 records") {
		t.Errorf("stdout = %q", stdout.String())
	}
	files, _ := filepath.Glob(filepath.Join(out, "*_history.csv"))
	if len(files) != 1 {
		t.Errorf("csv files = %v, want 1", files)
	}
}

func TestRun_Current(t *testing.T) {
	path := writeConfig(t, `
device:
  simulate: true
export:
  output_dir: "`+t.TempDir()+`"
logging:
  level: error
`)

	var stdout bytes.Buffer
	if err := run([]string{"-config", path, "current"}, &stdout); err != nil {
		t.Fatalf("run() failed: %v", err)
	}
	if !strings.HasPrefix(stdout.String(), "Aranet4 Simulator\n") {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestRun_Errors(t *testing.T) {
	simulated := writeConfig(t, "device:\n  simulate: true\nlogging:\n  level: error\n")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown command", []string{"-config", simulated, "explode"}, "unknown command"},
		{"extra args", []string{"-config", simulated, "archive", "now"}, "unexpected arguments"},
		{"missing config", []string{"-config", filepath.Join(t.TempDir(), "nope.yaml")}, "read config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(tt.args, &bytes.Buffer{})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("run(%v) = %v, want error containing %q", tt.args, err, tt.want)
			}
		})
	}
}
