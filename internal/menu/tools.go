package menu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Payhn/CustomTools/internal/bulk"
	"github.com/Payhn/CustomTools/internal/fdb"
	"github.com/Payhn/CustomTools/internal/inventory"
	"github.com/Payhn/CustomTools/internal/lookup"
	"github.com/Payhn/CustomTools/internal/matcher"
)

// runFDBSearch drives the two FDB search modes until the operator backs out.
func (m *Menu) runFDBSearch(ctx context.Context) {
	divider := strings.Repeat("=", 50)

	for {
		fmt.Fprintf(m.out, "\n%s\n", divider)
		fmt.Fprintln(m.out, "FDB Search - Mode Selection")
		fmt.Fprintln(m.out, divider)
		fmt.Fprintln(m.out, "1. Start with a MAC address, find the switch port")
		fmt.Fprintln(m.out, "2. Start with a switch port, identify the devices")
		fmt.Fprintln(m.out, "3. Back to main menu")
		fmt.Fprintln(m.out, divider)

		choice, ok := m.prompt(ctx, "Select mode (1/2/3): ")
		if !ok {
			return
		}

		switch choice {
		case "1":
			m.searchByMAC(ctx)
		case "2":
			m.searchByPort(ctx)
		case "3", "":
			return
		default:
			fmt.Fprintln(m.out, "Invalid choice. Please select 1, 2, or 3.")
		}
	}
}

func (m *Menu) searchByMAC(ctx context.Context) {
	for {
		mac, ok := m.prompt(ctx, "\nMAC address: ")
		if !ok || mac == "" {
			return
		}

		if m.oui != nil {
			entry, found := m.oui.Lookup(mac)
			if !found {
				fmt.Fprintln(m.out, "No match found in the OUI database.")
				if !m.confirm(ctx, "Check another MAC address (y/n)? ") {
					return
				}
				continue
			}
			fmt.Fprintf(m.out, "Database match: %s\n", entry)
		}

		if m.inventory != nil {
			if dev, found := m.inventory.FindByMAC(mac); found {
				fmt.Fprintln(m.out, "\nFound in inventory:")
				fmt.Fprintf(m.out, "  Device Name: %s\n", dev.Name)
				fmt.Fprintf(m.out, "  IP Address:  %s\n", dev.IP)
				fmt.Fprintf(m.out, "  Model:       %s\n", dev.Model)
				fmt.Fprintf(m.out, "  Switch/Port: %s\n", dev.Port)
			} else {
				fmt.Fprintln(m.out, "Not found in the inventory file.")
			}
		}

		for {
			target, ok := m.prompt(ctx, "\nSwitch IP or hostname: ")
			if !ok || target == "" {
				break
			}

			m.searchSwitch(ctx, target, mac)

			if !m.confirm(ctx, "Try another switch for this MAC (y/n)? ") {
				break
			}
		}

		if !m.confirm(ctx, "Check another MAC address (y/n)? ") {
			return
		}
	}
}

func (m *Menu) searchSwitch(ctx context.Context, target, mac string) {
	match, err := m.searcher.Search(ctx, target, mac, m.refreshCache(ctx, target))
	if errors.Is(err, fdb.ErrNotFound) {
		fmt.Fprintln(m.out, "MAC address not found in the switch's FDB.")
		return
	}
	if err != nil {
		fmt.Fprintf(m.out, "Search failed: %v\n", err)
		return
	}

	fmt.Fprintf(m.out, "\nMatching line: %s\n", match.Line)
	fmt.Fprintf(m.out, "\nshow ports %s information\n%s\n", match.Port, match.PortInfo)
	fmt.Fprintf(m.out, "show lldp neighbors\n%s\n", match.Neighbors)
	fmt.Fprintf(m.out, "show ports %s description\n%s\n", match.Port, match.PortDescription)
}

// refreshCache asks whether to discard a still-fresh FDB snapshot before
// querying target. No snapshot means no question.
func (m *Menu) refreshCache(ctx context.Context, target string) bool {
	fetchedAt, ok := m.searcher.Cached(target)
	if !ok {
		return false
	}
	age := time.Since(fetchedAt).Round(time.Minute)
	return m.confirm(ctx, fmt.Sprintf("FDB cache for %s is %s old. Refresh from the switch (y/n)? ", target, age))
}

func (m *Menu) searchByPort(ctx context.Context) {
	for {
		target, ok := m.prompt(ctx, "\nSwitch IP or hostname: ")
		if !ok || target == "" {
			return
		}
		port, ok := m.prompt(ctx, "Port number: ")
		if !ok || port == "" {
			return
		}

		report, err := m.searcher.PortMACs(ctx, target, port, m.refreshCache(ctx, target))
		if err != nil {
			fmt.Fprintf(m.out, "Port search failed: %v\n", err)
		} else {
			m.printPortReport(report)
		}

		if !m.confirm(ctx, "\nCheck another port (y/n)? ") {
			return
		}
	}
}

func (m *Menu) printPortReport(report *fdb.PortReport) {
	if len(report.MACs) == 0 {
		fmt.Fprintf(m.out, "No MAC addresses found on port %s\n", report.Port)
		return
	}

	fmt.Fprintf(m.out, "\nFound %d MAC address(es) on port %s:\n", len(report.MACs), report.Port)
	if report.Description != "" {
		fmt.Fprintf(m.out, "\nshow ports %s description\n%s\n", report.Port, report.Description)
	}

	for _, mac := range report.MACs {
		fmt.Fprintf(m.out, "\n  MAC: %s\n", mac)
		if m.inventory == nil {
			continue
		}
		if dev, found := m.inventory.FindByMAC(mac); found {
			fmt.Fprintf(m.out, "    Device: %s\n", dev.Name)
			fmt.Fprintf(m.out, "    IP:     %s\n", dev.IP)
		} else {
			fmt.Fprintln(m.out, "    Not found in inventory")
		}
	}
}

func (m *Menu) runBackup(ctx context.Context) {
	fmt.Fprintln(m.out, "\n--- Create Backup ---")

	targets, err := inventory.LoadDevices(m.cfg.Bulk.DevicesFile)
	if err != nil {
		fmt.Fprintf(m.out, "Loading devices: %v\n", err)
		m.pause(ctx)
		return
	}
	fmt.Fprintf(m.out, "Loaded %d device(s) from %s\n", len(targets), m.cfg.Bulk.DevicesFile)

	if !m.confirm(ctx, fmt.Sprintf("Back up %d device(s) (y/n)? ", len(targets))) {
		return
	}

	summary, err := m.backup.Run(ctx, targets)
	if err != nil {
		fmt.Fprintf(m.out, "Backup run: %v\n", err)
	}
	if summary != nil {
		fmt.Fprintf(m.out, "\n%s", summary.Summary())
	}

	m.pause(ctx)
}

func (m *Menu) runBulkUpdate(ctx context.Context) {
	fmt.Fprintln(m.out, "\n--- Bulk Update ---")

	created, err := inventory.EnsureFiles(filepath.Dir(m.cfg.Bulk.DevicesFile))
	if err != nil {
		fmt.Fprintf(m.out, "Checking input files: %v\n", err)
		m.pause(ctx)
		return
	}
	if len(created) > 0 {
		fmt.Fprintf(m.out, "Template files created: %s\n", strings.Join(created, ", "))
		fmt.Fprintln(m.out, "Edit them and run the tool again.")
		m.pause(ctx)
		return
	}

	targets, err := inventory.LoadDevices(m.cfg.Bulk.DevicesFile)
	if err != nil {
		fmt.Fprintf(m.out, "Loading devices: %v\n", err)
		m.pause(ctx)
		return
	}
	commands, err := inventory.LoadCommands(m.cfg.Bulk.CommandsFile)
	if err != nil {
		fmt.Fprintf(m.out, "Loading commands: %v\n", err)
		m.pause(ctx)
		return
	}
	fmt.Fprintf(m.out, "Loaded %d device(s) and %d command(s)\n", len(targets), len(commands))

	targets, ok := m.filterTargets(ctx, targets)
	if !ok {
		m.pause(ctx)
		return
	}

	if !m.confirm(ctx, fmt.Sprintf("Run %d command(s) on %d device(s) (y/n)? ", len(commands), len(targets))) {
		return
	}

	summary, err := m.bulk.Run(ctx, targets, commands)
	if err != nil {
		fmt.Fprintf(m.out, "Bulk run: %v\n", err)
	}
	if summary != nil {
		fmt.Fprintf(m.out, "\n%s", summary.Summary())
		m.recordRun(ctx, summary)
	}

	m.pause(ctx)
}

// filterTargets applies an optional glob filter typed by the operator, e.g.
// "sw-access-* 10.20.*". ok is false when the run should not proceed.
func (m *Menu) filterTargets(ctx context.Context, targets []string) ([]string, bool) {
	pattern, ok := m.prompt(ctx, "Device filter (glob patterns, Enter for all): ")
	if !ok || pattern == "" {
		return targets, ok
	}

	filter, err := matcher.New(matcher.Config{Includes: strings.Fields(pattern)})
	if err != nil {
		fmt.Fprintf(m.out, "Bad filter: %v\n", err)
		return nil, false
	}

	filtered := filter.Apply(targets)
	fmt.Fprintf(m.out, "Filter matched %d of %d device(s)\n", len(filtered), len(targets))
	if len(filtered) == 0 {
		return nil, false
	}
	return filtered, true
}

// recordRun stores the summary when a history store is configured. The write
// survives menu-level cancellation so interrupted runs still show up.
func (m *Menu) recordRun(ctx context.Context, summary *bulk.RunSummary) {
	if m.history == nil {
		return
	}
	if err := m.history.RecordRun(context.WithoutCancel(ctx), summary); err != nil {
		m.logger.Warn("recording run history failed", slog.String("error", err.Error()))
		fmt.Fprintf(m.out, "History not recorded: %v\n", err)
	}
}

func (m *Menu) runSelfLookup(ctx context.Context) {
	fmt.Fprintln(m.out, "\n--- Self Lookup ---")

	addrs, err := m.localAddrs()
	if err != nil {
		fmt.Fprintf(m.out, "Listing local addresses: %v\n", err)
		m.pause(ctx)
		return
	}
	if len(addrs) == 0 {
		fmt.Fprintln(m.out, "No usable local addresses found.")
		m.pause(ctx)
		return
	}

	fmt.Fprintln(m.out, "Local addresses:")
	for i, addr := range addrs {
		fmt.Fprintf(m.out, "  %d. %-8s %s\n", i+1, addr.Interface, addr.CIDR)
	}

	choice, ok := m.prompt(ctx, "Reverse-lookup which address (number, Enter to skip): ")
	if !ok || choice == "" {
		return
	}

	idx, err := strconv.Atoi(choice)
	if err != nil || idx < 1 || idx > len(addrs) {
		fmt.Fprintln(m.out, "Invalid selection")
		m.pause(ctx)
		return
	}

	resolver, err := m.newResolver()
	if err != nil {
		fmt.Fprintf(m.out, "Resolver unavailable: %v\n", err)
		m.pause(ctx)
		return
	}

	ip := addrs[idx-1].IP
	names, err := resolver.Reverse(ctx, ip)
	switch {
	case errors.Is(err, lookup.ErrNoAnswer):
		fmt.Fprintf(m.out, "No PTR record for %s (resolver %s)\n", ip, resolver.Server())
	case err != nil:
		fmt.Fprintf(m.out, "Reverse lookup failed: %v\n", err)
	default:
		fmt.Fprintf(m.out, "%s resolves to:\n", ip)
		for _, name := range names {
			fmt.Fprintf(m.out, "  %s\n", name)
		}
	}

	m.pause(ctx)
}

func (m *Menu) runInteractiveSession(ctx context.Context) {
	fmt.Fprintln(m.out, "\n--- Interactive Session ---")

	if m.shell == nil {
		fmt.Fprintln(m.out, "Interactive sessions are not available.")
		m.pause(ctx)
		return
	}

	if active := m.pool.ActiveTargets(); len(active) > 0 {
		fmt.Fprintf(m.out, "Active connections: %s\n", strings.Join(active, ", "))
	}

	target, ok := m.prompt(ctx, "Host (IP or name, Enter to cancel): ")
	if !ok || target == "" {
		return
	}

	fmt.Fprintf(m.out, "Starting shell on %s. The connection stays pooled after you exit.\n", target)
	if err := m.shell(ctx, target); err != nil {
		fmt.Fprintf(m.out, "Session error: %v\n", err)
	}

	m.pause(ctx)
}

func (m *Menu) showHistory(ctx context.Context) {
	fmt.Fprintln(m.out, "\n--- Recent Runs ---")

	runs, err := m.history.Recent(ctx, 10)
	if err != nil {
		fmt.Fprintf(m.out, "Reading history: %v\n", err)
		m.pause(ctx)
		return
	}
	if len(runs) == 0 {
		fmt.Fprintln(m.out, "  No runs recorded yet")
		m.pause(ctx)
		return
	}

	for i, run := range runs {
		fmt.Fprintf(m.out, "  %d. %s  %d device(s)  %d command(s)  %d ok  %d error(s)\n",
			i+1, run.StartedAt.Format("2006-01-02 15:04"),
			run.Devices, run.Commands, run.Successes, run.Errors)
	}

	choice, ok := m.prompt(ctx, "Show sessions for run (number, Enter to skip): ")
	if !ok || choice == "" {
		return
	}

	idx, err := strconv.Atoi(choice)
	if err != nil || idx < 1 || idx > len(runs) {
		fmt.Fprintln(m.out, "Invalid selection")
		m.pause(ctx)
		return
	}

	run := runs[idx-1]
	sessions, err := m.history.Sessions(ctx, run.ID)
	if err != nil {
		fmt.Fprintf(m.out, "Reading sessions: %v\n", err)
		m.pause(ctx)
		return
	}

	fmt.Fprintf(m.out, "\nRun %s:\n", run.ID)
	for _, sess := range sessions {
		if sess.ConnectError != "" {
			fmt.Fprintf(m.out, "  %s: connection failed (%s)\n", sess.Target, sess.ConnectError)
			continue
		}
		fmt.Fprintf(m.out, "  %s: %d command(s), %d ok, %d error(s)\n",
			sess.Target, sess.Commands, sess.Successes, sess.Errors)
		if sess.Artifact != "" {
			fmt.Fprintf(m.out, "    log: %s\n", sess.Artifact)
		}
	}

	m.pause(ctx)
}
