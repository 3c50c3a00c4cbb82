// Package fdb locates devices by MAC address across switch forwarding
// tables. A search checks the MAC's vendor prefix against a local OUI
// database, scans the switch's fdb output for the address, and on a hit
// pulls port details over the same pooled connection. Forwarding tables are
// cached per switch so repeated searches do not hammer the devices.
package fdb

import (
	"errors"
	"strings"
)

// ErrNotFound is returned when a MAC address is absent from a switch's
// forwarding table.
var ErrNotFound = errors.New("mac address not found in fdb")

// macSeparators covers the colon, hyphen, and dotted notations devices and
// operators use interchangeably.
var macSeparators = strings.NewReplacer(":", "", "-", "", ".", "")

// NormalizeMAC lowercases a MAC address and strips separator characters so
// addresses compare equal regardless of notation. The input is not required
// to be a complete address; prefixes normalize the same way.
func NormalizeMAC(mac string) string {
	return strings.ToLower(macSeparators.Replace(strings.TrimSpace(mac)))
}

// isMACCandidate reports whether a forwarding-table field looks like a full
// MAC address.
func isMACCandidate(field string) bool {
	norm := NormalizeMAC(field)
	if len(norm) != 12 {
		return false
	}
	for _, r := range norm {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
