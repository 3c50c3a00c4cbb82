// Package inventory loads device and command lists from CSV files.
//
// The files are operator-edited: a header row naming the column, one value
// per line. Blank rows are skipped so trailing newlines and spacing never
// matter.
package inventory

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Default file and column names for bulk run input.
const (
	DevicesFile  = "switches.csv"
	CommandsFile = "commands.csv"

	DeviceColumn  = "hostname"
	CommandColumn = "command"
)

// ErrNoItems is returned when a CSV parses cleanly but holds no values.
var ErrNoItems = errors.New("no items found")

const (
	devicesTemplate  = "hostname\n10.10.1.1\n10.10.1.2\n"
	commandsTemplate = "command\nshow version\nshow system\n"
)

// LoadDevices reads the hostname column from a switches CSV.
func LoadDevices(path string) ([]string, error) {
	return LoadColumn(path, DeviceColumn)
}

// LoadCommands reads the command column from a commands CSV.
func LoadCommands(path string) ([]string, error) {
	return LoadColumn(path, CommandColumn)
}

// LoadColumn reads one named column from a CSV file. Values are trimmed and
// blank rows skipped; row order is preserved.
func LoadColumn(path, column string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	// Operators sometimes leave stray columns behind; only the named one counts.
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("column %q not found in %s", column, path)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	col := -1
	for i, name := range header {
		if strings.TrimSpace(name) == column {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("column %q not found in %s", column, path)
	}

	var items []string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		if col >= len(row) {
			continue
		}
		if value := strings.TrimSpace(row[col]); value != "" {
			items = append(items, value)
		}
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoItems, path)
	}

	return items, nil
}

// EnsureFiles creates template CSVs under dir for any that are missing and
// returns the names it created. Existing files are never touched.
func EnsureFiles(dir string) ([]string, error) {
	templates := []struct {
		name    string
		content string
	}{
		{DevicesFile, devicesTemplate},
		{CommandsFile, commandsTemplate},
	}

	var created []string
	for _, tpl := range templates {
		path := filepath.Join(dir, tpl.name)

		if _, err := os.Stat(path); err == nil {
			continue
		} else if !errors.Is(err, os.ErrNotExist) {
			return created, fmt.Errorf("checking %s: %w", path, err)
		}

		if err := os.WriteFile(path, []byte(tpl.content), 0o644); err != nil {
			return created, fmt.Errorf("creating template %s: %w", path, err)
		}
		created = append(created, tpl.name)
	}

	return created, nil
}
