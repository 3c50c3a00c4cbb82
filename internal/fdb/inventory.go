package fdb

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrNoHeader is returned when an inventory sheet has no row with a MAC
// address column.
var ErrNoHeader = errors.New("no header row with a mac column")

// Device is one row of the operator's inventory sheet.
type Device struct {
	Name  string
	IP    string
	Model string
	MAC   string
	Port  string
}

// Inventory maps MAC addresses to inventory sheet rows so a forwarding-table
// hit can name the device behind it.
type Inventory struct {
	devices []Device
}

// inventoryColumns locates the sheet's columns by header keyword. Exported
// sheets carry preamble rows and extra columns, so positions cannot be
// trusted; names can.
type inventoryColumns struct {
	name, ip, model, mac, port int
}

// LoadInventory reads an inventory sheet exported to CSV. The header row is
// found dynamically as the first row naming a MAC column; columns are
// matched by keyword. Rows without a MAC value are skipped. An empty sheet
// is not an error.
func LoadInventory(path string) (*Inventory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening inventory %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	cols, err := findHeader(reader)
	if err != nil {
		return nil, fmt.Errorf("%w in %s", err, path)
	}

	inv := &Inventory{}
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing inventory %s: %w", path, err)
		}

		mac := cell(row, cols.mac)
		if mac == "" {
			continue
		}

		inv.devices = append(inv.devices, Device{
			Name:  cell(row, cols.name),
			IP:    cell(row, cols.ip),
			Model: cell(row, cols.model),
			MAC:   mac,
			Port:  cell(row, cols.port),
		})
	}

	return inv, nil
}

// Len returns the number of inventory rows.
func (inv *Inventory) Len() int {
	return len(inv.devices)
}

// FindByMAC returns the inventory row for a MAC address, compared in
// normalized form.
func (inv *Inventory) FindByMAC(mac string) (Device, bool) {
	norm := NormalizeMAC(mac)
	if norm == "" {
		return Device{}, false
	}

	for _, d := range inv.devices {
		if NormalizeMAC(d.MAC) == norm {
			return d, true
		}
	}
	return Device{}, false
}

// findHeader consumes rows up to and including the header row and returns
// the located columns.
func findHeader(reader *csv.Reader) (inventoryColumns, error) {
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return inventoryColumns{}, ErrNoHeader
		}
		if err != nil {
			return inventoryColumns{}, fmt.Errorf("parsing inventory: %w", err)
		}

		cols, ok := matchHeader(row)
		if ok {
			return cols, nil
		}
	}
}

// matchHeader maps header cells to columns by keyword. Keywords match whole
// words so "Port Description" never claims the IP column through the "ip" in
// "description". A row counts as the header only when it names a MAC column.
func matchHeader(row []string) (inventoryColumns, bool) {
	cols := inventoryColumns{name: -1, ip: -1, model: -1, mac: -1, port: -1}

	for i, raw := range row {
		words := headerWords(raw)
		switch {
		case len(words) == 0:
		case words["mac"]:
			if cols.mac < 0 {
				cols.mac = i
			}
		case words["ip"]:
			if cols.ip < 0 {
				cols.ip = i
			}
		case words["model"]:
			if cols.model < 0 {
				cols.model = i
			}
		case words["port"]:
			if cols.port < 0 {
				cols.port = i
			}
		case words["device"]:
			cols.name = i
		case words["name"]:
			// A generic name column loses to an explicit device column.
			if cols.name < 0 {
				cols.name = i
			}
		}
	}

	return cols, cols.mac >= 0
}

func headerWords(cell string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(cell), func(r rune) bool {
		return r == ' ' || r == '_' || r == '-' || r == '/'
	})

	words := make(map[string]bool, len(fields))
	for _, f := range fields {
		words[f] = true
	}
	return words
}

func cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}
