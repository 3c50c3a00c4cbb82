// Package menu implements the interactive console that ties every tool to
// one shared SSH connection pool. Connections made by one tool stay open for
// the next, so an operator can search an FDB, push a fix, and back up the
// same switch without redialing.
package menu

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Payhn/CustomTools/internal/backup"
	"github.com/Payhn/CustomTools/internal/bulk"
	"github.com/Payhn/CustomTools/internal/config"
	"github.com/Payhn/CustomTools/internal/fdb"
	"github.com/Payhn/CustomTools/internal/history"
	"github.com/Payhn/CustomTools/internal/lookup"
	"github.com/Payhn/CustomTools/pkg/sshutil"
)

// Pool is the slice of the connection pool the menu manages directly.
// *sshutil.Pool satisfies it.
type Pool interface {
	ActiveTargets() []string
	Snapshot() []sshutil.ConnInfo
	Close(target string) error
	CloseAll() error
}

// MACSearcher answers FDB queries against one switch at a time.
// *fdb.Searcher satisfies it.
type MACSearcher interface {
	Search(ctx context.Context, target, mac string, force bool) (*fdb.Match, error)
	PortMACs(ctx context.Context, target, port string, force bool) (*fdb.PortReport, error)
	Cached(target string) (time.Time, bool)
}

// BulkRunner executes an ordered command sequence across devices.
// *bulk.Runner satisfies it.
type BulkRunner interface {
	Run(ctx context.Context, targets, commands []string) (*bulk.RunSummary, error)
}

// BackupRunner saves and downloads device configurations.
// *backup.Runner satisfies it.
type BackupRunner interface {
	Run(ctx context.Context, targets []string) (*backup.RunSummary, error)
}

// RunHistory records finished runs and lists past ones.
// *history.Store satisfies it.
type RunHistory interface {
	RecordRun(ctx context.Context, summary *bulk.RunSummary) error
	Recent(ctx context.Context, limit int) ([]history.Run, error)
	Sessions(ctx context.Context, runID string) ([]history.Session, error)
}

// Resolver answers reverse lookups for the self-lookup tool.
// *lookup.Resolver satisfies it.
type Resolver interface {
	Server() string
	Reverse(ctx context.Context, ip net.IP) ([]string, error)
}

// Shell hands the terminal to an interactive session on target and returns
// when the remote shell ends.
type Shell func(ctx context.Context, target string) error

// Deps carries the shared components the menu drives. Config, Pool,
// Searcher, Bulk, and Backup are required. History enables the run history
// view when set; Shell enables interactive sessions; OUI and Inventory
// enrich FDB searches when their files were loaded.
type Deps struct {
	Version   string
	Config    *config.Config
	Pool      Pool
	Searcher  MACSearcher
	Bulk      BulkRunner
	Backup    BackupRunner
	History   RunHistory
	Shell     Shell
	OUI       *fdb.OUIDatabase
	Inventory *fdb.Inventory

	// UpdateNotice is printed once at startup, e.g. "customtools 1.3.0 is
	// available". Empty means nothing to report.
	UpdateNotice string
}

// Menu is the interactive console loop.
type Menu struct {
	version   string
	cfg       *config.Config
	pool      Pool
	searcher  MACSearcher
	bulk      BulkRunner
	backup    BackupRunner
	history   RunHistory
	shell     Shell
	oui       *fdb.OUIDatabase
	inventory *fdb.Inventory
	notice    string

	in     io.Reader
	lines  <-chan string
	out    io.Writer
	logger *slog.Logger

	// localAddrs and newResolver are swapped by tests.
	localAddrs  func() ([]lookup.Address, error)
	newResolver func() (Resolver, error)
}

// Option is a functional option for configuring the Menu.
type Option func(*Menu)

// WithInput sets the reader operator choices come from. Defaults to stdin.
func WithInput(r io.Reader) Option {
	return func(m *Menu) {
		if r != nil {
			m.in = r
		}
	}
}

// WithOutput sets the writer console output goes to. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(m *Menu) {
		if w != nil {
			m.out = w
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Menu) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New creates a Menu from its dependencies.
func New(deps Deps, opts ...Option) (*Menu, error) {
	switch {
	case deps.Config == nil:
		return nil, errors.New("config is required")
	case deps.Pool == nil:
		return nil, errors.New("connection pool is required")
	case deps.Searcher == nil:
		return nil, errors.New("fdb searcher is required")
	case deps.Bulk == nil:
		return nil, errors.New("bulk runner is required")
	case deps.Backup == nil:
		return nil, errors.New("backup runner is required")
	}

	version := deps.Version
	if version == "" {
		version = "dev"
	}

	m := &Menu{
		version:   version,
		cfg:       deps.Config,
		pool:      deps.Pool,
		searcher:  deps.Searcher,
		bulk:      deps.Bulk,
		backup:    deps.Backup,
		history:   deps.History,
		shell:     deps.Shell,
		oui:       deps.OUI,
		inventory: deps.Inventory,
		notice:    deps.UpdateNotice,

		in:     os.Stdin,
		out:    os.Stdout,
		logger: slog.Default(),

		localAddrs: lookup.LocalAddresses,
	}
	m.newResolver = func() (Resolver, error) {
		return lookup.New(m.cfg.Lookup.Resolver, lookup.WithLogger(m.logger))
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Run drives the menu loop until the operator exits, input ends, or the
// context is canceled. All pooled connections are closed on the way out.
func (m *Menu) Run(ctx context.Context) error {
	fmt.Fprintf(m.out, "CustomTools v%s\n", m.version)
	if m.cfg.SSH.User != "" {
		fmt.Fprintf(m.out, "Logged in as: %s\n", m.cfg.SSH.User)
	}
	if m.notice != "" {
		fmt.Fprintln(m.out, m.notice)
	}

	m.lines = readLines(ctx, m.in)

	for {
		if err := ctx.Err(); err != nil {
			m.shutdown()
			return err
		}

		m.display()

		choice, ok := m.prompt(ctx, fmt.Sprintf("Select option (1-%d): ", m.exitChoice()))
		if !ok {
			// Input ended or the context was canceled mid-prompt; either
			// way the pool comes down now, not after the next keystroke.
			m.shutdown()
			return ctx.Err()
		}

		if quit := m.dispatch(ctx, choice); quit {
			return nil
		}
	}
}

// readLines pumps operator input into a channel so prompts can watch the
// context while blocked on a read. The goroutine ends with the input or the
// context, whichever goes first.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// exitChoice returns the number of the exit entry, which is always last.
func (m *Menu) exitChoice() int {
	if m.history != nil {
		return 9
	}
	return 8
}

func (m *Menu) display() {
	divider := strings.Repeat("=", 60)

	status := ""
	if active := m.pool.ActiveTargets(); len(active) > 0 {
		status = fmt.Sprintf(" [%d active]", len(active))
	}

	fmt.Fprintf(m.out, "\n%s\n", divider)
	fmt.Fprintf(m.out, "CustomTools v%s - Main Menu%s\n", m.version, status)
	fmt.Fprintln(m.out, divider)
	fmt.Fprintln(m.out, "\nAvailable Tools:")
	fmt.Fprintln(m.out, "  1. FDB Search       - Find MAC addresses on switches")
	fmt.Fprintln(m.out, "  2. Create Backup    - Back up switch configurations")
	fmt.Fprintln(m.out, "  3. Bulk Update      - Run commands on multiple switches")
	fmt.Fprintln(m.out, "  4. Self Lookup      - Find this machine on the network")
	fmt.Fprintln(m.out, "\nConnection Management:")
	fmt.Fprintln(m.out, "  5. Interactive Session   - Direct access to a switch")
	fmt.Fprintln(m.out, "  6. List Connections      - Show active connections")
	fmt.Fprintln(m.out, "  7. Close Connection      - Disconnect from a switch")
	fmt.Fprintln(m.out, "\nProgram Control:")
	if m.history != nil {
		fmt.Fprintln(m.out, "  8. Run History - Show recent bulk runs")
		fmt.Fprintln(m.out, "  9. Exit        - Close all connections and exit")
	} else {
		fmt.Fprintln(m.out, "  8. Exit - Close all connections and exit")
	}
	fmt.Fprintln(m.out, divider)
}

// dispatch runs the chosen tool and reports whether the loop should end.
func (m *Menu) dispatch(ctx context.Context, choice string) bool {
	switch choice {
	case "1":
		m.runFDBSearch(ctx)
	case "2":
		m.runBackup(ctx)
	case "3":
		m.runBulkUpdate(ctx)
	case "4":
		m.runSelfLookup(ctx)
	case "5":
		m.runInteractiveSession(ctx)
	case "6":
		m.showConnections(ctx)
	case "7":
		m.closeConnection(ctx)
	case "8":
		if m.history == nil {
			m.shutdown()
			return true
		}
		m.showHistory(ctx)
	case "9":
		if m.history != nil {
			m.shutdown()
			return true
		}
		m.invalidChoice()
	default:
		m.invalidChoice()
	}
	return false
}

func (m *Menu) invalidChoice() {
	fmt.Fprintf(m.out, "Invalid option. Please select 1-%d.\n", m.exitChoice())
}

func (m *Menu) shutdown() {
	fmt.Fprintln(m.out, "\nClosing all connections...")
	if err := m.pool.CloseAll(); err != nil {
		fmt.Fprintf(m.out, "  %v\n", err)
	}
	fmt.Fprintln(m.out, "Goodbye!")
}

// showConnections prints every pool slot, including failed ones, so the
// operator sees which devices are being retried.
func (m *Menu) showConnections(ctx context.Context) {
	fmt.Fprintln(m.out, "\n--- Active Connections ---")

	infos := m.pool.Snapshot()
	if len(infos) == 0 {
		fmt.Fprintln(m.out, "  No active connections")
	}
	for i, info := range infos {
		line := fmt.Sprintf("  %d. %s  %s", i+1, info.Target, info.State)
		if info.LastError != "" {
			line += fmt.Sprintf(" (%s)", info.LastError)
		}
		fmt.Fprintln(m.out, line)
	}

	m.pause(ctx)
}

func (m *Menu) closeConnection(ctx context.Context) {
	infos := m.pool.Snapshot()
	if len(infos) == 0 {
		fmt.Fprintln(m.out, "\nNo active connections to close")
		m.pause(ctx)
		return
	}

	fmt.Fprintln(m.out, "\n--- Close Connection ---")
	for i, info := range infos {
		fmt.Fprintf(m.out, "  %d. %s  %s\n", i+1, info.Target, info.State)
	}

	choice, ok := m.prompt(ctx, "Select connection to close (number): ")
	if !ok {
		return
	}

	idx, err := strconv.Atoi(choice)
	if err != nil || idx < 1 || idx > len(infos) {
		fmt.Fprintln(m.out, "Invalid selection")
		m.pause(ctx)
		return
	}

	target := infos[idx-1].Target
	if err := m.pool.Close(target); err != nil {
		fmt.Fprintf(m.out, "Error closing connection to %s: %v\n", target, err)
	} else {
		fmt.Fprintf(m.out, "Closed connection to %s\n", target)
	}

	m.pause(ctx)
}

// prompt writes label and reads one trimmed line. ok is false once input is
// exhausted or the context is canceled.
func (m *Menu) prompt(ctx context.Context, label string) (answer string, ok bool) {
	fmt.Fprint(m.out, label)
	select {
	case line, open := <-m.lines:
		if !open {
			return "", false
		}
		return strings.TrimSpace(line), true
	case <-ctx.Done():
		return "", false
	}
}

// confirm asks a y/n question and reports whether the operator agreed.
func (m *Menu) confirm(ctx context.Context, label string) bool {
	answer, ok := m.prompt(ctx, label)
	return ok && strings.EqualFold(answer, "y")
}

func (m *Menu) pause(ctx context.Context) {
	fmt.Fprint(m.out, "\nPress Enter to return to the menu...")
	select {
	case <-m.lines:
	case <-ctx.Done():
	}
	fmt.Fprintln(m.out)
}
