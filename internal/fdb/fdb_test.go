package fdb

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizeMAC(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"colon notation", "D4:3D:7E:12:34:56", "d43d7e123456"},
		{"hyphen notation", "d4-3d-7e-12-34-56", "d43d7e123456"},
		{"dotted notation", "d43d.7e12.3456", "d43d7e123456"},
		{"bare", "d43d7e123456", "d43d7e123456"},
		{"surrounding space", "  d4:3d:7e:12:34:56 ", "d43d7e123456"},
		{"prefix only", "D4:3D:7E", "d43d7e"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeMAC(tt.in); got != tt.want {
				t.Errorf("NormalizeMAC(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestIsMACCandidate(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"d4:3d:7e:12:34:56", true},
		{"D43D.7E12.3456", true},
		{"0123456789ab", true},
		{"vlan0010", false},
		{"d4:3d:7e:12:34", false},
		{"d4:3d:7e:12:34:5g", false},
		{"1:23", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := isMACCandidate(tt.in); got != tt.want {
			t.Errorf("isMACCandidate(%q) = %t, want %t", tt.in, got, tt.want)
		}
	}
}

func writeOUIFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "macdatabase.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing oui file: %v", err)
	}
	return path
}

func TestLoadOUIDatabase(t *testing.T) {
	path := writeOUIFile(t, `D4:3D:7E Axis Communications
00-11-22 Vendor Two

x short-prefix-line
D4:3D:7E Duplicate Loses
`)

	db, err := LoadOUIDatabase(path)
	if err != nil {
		t.Fatalf("LoadOUIDatabase() error = %v", err)
	}

	if db.Len() != 2 {
		t.Errorf("Len() = %d, want 2", db.Len())
	}

	line, ok := db.Lookup("d4-3d-7e-99-99-99")
	if !ok {
		t.Fatal("Lookup() ok = false, want match")
	}
	if line != "D4:3D:7E Axis Communications" {
		t.Errorf("Lookup() = %q, want first matching line", line)
	}

	if _, ok := db.Lookup("aa:bb:cc:00:00:00"); ok {
		t.Error("Lookup() unknown prefix ok = true, want false")
	}
	if _, ok := db.Lookup("d43d"); ok {
		t.Error("Lookup() short mac ok = true, want false")
	}
}

func TestLoadOUIDatabase_MissingFile(t *testing.T) {
	_, err := LoadOUIDatabase(filepath.Join(t.TempDir(), "absent.txt"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("LoadOUIDatabase() error = %v, want os.ErrNotExist", err)
	}
}
