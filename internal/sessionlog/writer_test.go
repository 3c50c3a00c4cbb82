package sessionlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Payhn/CustomTools/internal/bulk"
)

func TestNew(t *testing.T) {
	t.Run("default root", func(t *testing.T) {
		w := New("")
		if w.Root() != DefaultRoot {
			t.Errorf("Root() = %q, want %q", w.Root(), DefaultRoot)
		}
	})

	t.Run("custom root", func(t *testing.T) {
		w := New("/var/log/customtools")
		if w.Root() != "/var/log/customtools" {
			t.Errorf("Root() = %q, want /var/log/customtools", w.Root())
		}
	})

	t.Run("nil logger ignored", func(t *testing.T) {
		w := New("", WithLogger(nil))
		if w.logger == nil {
			t.Error("logger should fall back to default")
		}
	})
}

func TestWriter_Write_FullSession(t *testing.T) {
	root := t.TempDir()
	w := New(root)

	start := time.Date(2025, 3, 5, 14, 30, 0, 0, time.UTC)
	rec := &bulk.SessionRecord{
		Target:    "10.10.1.1",
		StartTime: start,
		EndTime:   start.Add(35 * time.Second),
		Results: []bulk.ExecutionResult{
			{
				Command:   "show version",
				Output:    "ExtremeXOS version 22.7.1.2\n",
				StartedAt: start.Add(1 * time.Second),
				Duration:  520 * time.Millisecond,
				Status:    bulk.StatusSuccess,
			},
			{
				Command:   "show tech",
				Output:    "partial dump",
				ErrorText: "command execution timed out",
				StartedAt: start.Add(2 * time.Second),
				Duration:  30 * time.Second,
				Status:    bulk.StatusTimeout,
			},
			{
				Command:   "show system",
				Output:    "SysName: edge-sw-01\n",
				StartedAt: start.Add(33 * time.Second),
				Duration:  1490 * time.Millisecond,
				Status:    bulk.StatusSuccess,
			},
		},
	}

	path, err := w.Write(rec)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	wantDir := filepath.Join(root, "10.10.1.1")
	if filepath.Dir(path) != wantDir {
		t.Errorf("artifact dir = %q, want %q", filepath.Dir(path), wantDir)
	}
	if !strings.HasSuffix(path, ".txt") {
		t.Errorf("artifact path = %q, want .txt suffix", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading artifact: %v", err)
	}

	want := `================================================================================
BulkCommands Session Log
Switch: 10.10.1.1
Session Start: 2025-03-05 14:30:00
================================================================================

[14:30:01] Executing: show version
--------------------------------------------------------------------------------
ExtremeXOS version 22.7.1.2

--------------------------------------------------------------------------------
Execution Time: 0.52s
Status: Success

[14:30:02] Executing: show tech
--------------------------------------------------------------------------------
partial dump
ERROR: command execution timed out
--------------------------------------------------------------------------------
Execution Time: 30.00s
Status: Timeout

[14:30:33] Executing: show system
--------------------------------------------------------------------------------
SysName: edge-sw-01

--------------------------------------------------------------------------------
Execution Time: 1.49s
Status: Success

================================================================================
Session End: 2025-03-05 14:30:35
Total Commands: 3 | Successful: 2 | Errors: 1
================================================================================
`

	if string(data) != want {
		t.Errorf("artifact content mismatch\n--- got ---\n%s\n--- want ---\n%s", data, want)
	}
}

func TestWriter_Write_ConnectFailure(t *testing.T) {
	root := t.TempDir()
	w := New(root)

	start := time.Date(2025, 3, 5, 9, 15, 42, 0, time.UTC)
	rec := &bulk.SessionRecord{
		Target:       "10.10.1.7",
		StartTime:    start,
		EndTime:      start.Add(10 * time.Second),
		ConnectError: "connect failed: dial tcp 10.10.1.7:22: i/o timeout",
	}

	path, err := w.Write(rec)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading artifact: %v", err)
	}
	content := string(data)

	wantParts := []string{
		"Switch: 10.10.1.7",
		"Connection Error: connect failed: dial tcp 10.10.1.7:22: i/o timeout",
		"Total Commands: 0 | Successful: 0 | Errors: 0",
	}
	for _, want := range wantParts {
		if !strings.Contains(content, want) {
			t.Errorf("artifact missing %q:\n%s", want, content)
		}
	}
	if strings.Contains(content, "Executing:") {
		t.Error("connect-failure artifact should not contain command blocks")
	}
}

func TestWriter_Write_EmptyCommandSession(t *testing.T) {
	root := t.TempDir()
	w := New(root)

	start := time.Date(2025, 3, 5, 9, 0, 0, 0, time.UTC)
	rec := &bulk.SessionRecord{
		Target:    "10.10.1.2",
		StartTime: start,
		EndTime:   start,
	}

	path, err := w.Write(rec)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading artifact: %v", err)
	}
	content := string(data)

	if !strings.Contains(content, "Total Commands: 0 | Successful: 0 | Errors: 0") {
		t.Errorf("footer should report zero commands:\n%s", content)
	}
	if strings.Contains(content, "Executing:") {
		t.Error("empty session artifact should not contain command blocks")
	}
	if strings.Contains(content, "Connection Error:") {
		t.Error("empty session artifact should not contain a connection error")
	}
}

func TestWriter_Write_CollisionSuffix(t *testing.T) {
	root := t.TempDir()
	w := New(root)

	// Pin the clock so both writes claim the same filename.
	fixed := time.Date(2025, 3, 5, 8, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	rec := &bulk.SessionRecord{
		Target:    "10.10.1.1",
		StartTime: fixed,
		EndTime:   fixed,
	}

	first, err := w.Write(rec)
	if err != nil {
		t.Fatalf("first Write() error = %v", err)
	}
	second, err := w.Write(rec)
	if err != nil {
		t.Fatalf("second Write() error = %v", err)
	}

	if first == second {
		t.Fatalf("both writes produced %q, want distinct artifacts", first)
	}
	if !strings.HasSuffix(first, "20250305_080000.txt") {
		t.Errorf("first artifact = %q, want plain timestamp name", first)
	}
	if !strings.HasSuffix(second, "20250305_080000_2.txt") {
		t.Errorf("second artifact = %q, want _2 suffix", second)
	}
}

func TestWriter_Write_NameUsesSessionStart(t *testing.T) {
	root := t.TempDir()
	w := New(root)

	// The record is written well after the session began; the filename must
	// carry the start stamp, not the write-time clock.
	start := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return start.Add(42 * time.Second) }

	rec := &bulk.SessionRecord{
		Target:    "10.10.1.1",
		StartTime: start,
		EndTime:   start.Add(42 * time.Second),
	}

	path, err := w.Write(rec)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := filepath.Base(path); got != "20260826_100000.txt" {
		t.Errorf("artifact name = %q, want 20260826_100000.txt", got)
	}
}

func TestWriter_Write_ZeroStartFallsBackToClock(t *testing.T) {
	root := t.TempDir()
	w := New(root)

	fixed := time.Date(2026, 8, 26, 11, 30, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	path, err := w.Write(&bulk.SessionRecord{Target: "10.10.1.2"})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := filepath.Base(path); got != "20260826_113000.txt" {
		t.Errorf("artifact name = %q, want 20260826_113000.txt", got)
	}
}

func TestWriter_Write_SanitizesTarget(t *testing.T) {
	root := t.TempDir()
	w := New(root)

	rec := &bulk.SessionRecord{
		Target:    `edge/sw:1\b`,
		StartTime: time.Now(),
		EndTime:   time.Now(),
	}

	path, err := w.Write(rec)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	wantDir := filepath.Join(root, "edge_sw_1_b")
	if filepath.Dir(path) != wantDir {
		t.Errorf("artifact dir = %q, want %q", filepath.Dir(path), wantDir)
	}
}

func TestSanitizeTarget(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"10.10.1.1", "10.10.1.1"},
		{"edge/sw1", "edge_sw1"},
		{`core\sw2`, "core_sw2"},
		{"sw:mgmt", "sw_mgmt"},
		{`a/b\c:d`, "a_b_c_d"},
	}

	for _, tt := range tests {
		if got := sanitizeTarget(tt.in); got != tt.want {
			t.Errorf("sanitizeTarget(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
