package fdb

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// DefaultOUIFile is the vendor prefix database consulted before a search.
const DefaultOUIFile = "macdatabase.txt"

// ouiPrefixLen is the number of hex digits in a vendor prefix, the first
// three octets of a MAC address.
const ouiPrefixLen = 6

// OUIDatabase holds known MAC vendor prefixes loaded from a text file. Each
// line starts with a prefix in any separator notation; the rest of the line
// is free-form vendor description.
type OUIDatabase struct {
	entries map[string]string
}

// LoadOUIDatabase reads the prefix database at path. Blank lines are
// skipped; when the same prefix appears twice the first line wins.
func LoadOUIDatabase(path string) (*OUIDatabase, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening OUI database %s: %w", path, err)
	}
	defer f.Close()

	db := &OUIDatabase{entries: make(map[string]string)}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		prefix := NormalizeMAC(fields[0])
		if len(prefix) < ouiPrefixLen {
			continue
		}
		prefix = prefix[:ouiPrefixLen]

		if _, ok := db.entries[prefix]; !ok {
			db.entries[prefix] = line
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading OUI database %s: %w", path, err)
	}

	return db, nil
}

// Len returns the number of known vendor prefixes.
func (db *OUIDatabase) Len() int {
	return len(db.entries)
}

// Lookup returns the database line whose vendor prefix matches the first
// three octets of mac. A MAC shorter than three octets never matches.
func (db *OUIDatabase) Lookup(mac string) (string, bool) {
	norm := NormalizeMAC(mac)
	if len(norm) < ouiPrefixLen {
		return "", false
	}

	line, ok := db.entries[norm[:ouiPrefixLen]]
	return line, ok
}
