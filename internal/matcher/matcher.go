// Package matcher implements device pattern filtering for bulk runs.
// Supports glob patterns (default) and regex (opt-in).
package matcher

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Config describes which device names a Filter selects.
type Config struct {
	// Includes selects devices. Empty means every device is included.
	Includes []string

	// Excludes rejects devices and is checked before Includes.
	Excludes []string

	// UseRegex treats patterns as regular expressions instead of globs.
	// Regex patterns match case-sensitively and anchor only where the
	// pattern says so; globs always cover the whole name and ignore case.
	UseRegex bool
}

// Filter selects device names by include and exclude patterns.
type Filter struct {
	includes []*regexp.Regexp
	excludes []*regexp.Regexp
	cfg      Config
}

// New compiles the configured patterns. At least one include or exclude is
// required; a filter that selects everything is a caller bug.
func New(cfg Config) (*Filter, error) {
	if len(cfg.Includes) == 0 && len(cfg.Excludes) == 0 {
		return nil, errors.New("at least one include or exclude pattern is required")
	}

	f := &Filter{cfg: cfg}

	var err error
	if f.includes, err = compilePatterns(cfg.Includes, cfg.UseRegex); err != nil {
		return nil, fmt.Errorf("include pattern: %w", err)
	}
	if f.excludes, err = compilePatterns(cfg.Excludes, cfg.UseRegex); err != nil {
		return nil, fmt.Errorf("exclude pattern: %w", err)
	}

	return f, nil
}

// Matches reports whether a device name passes the filter. Excludes win over
// includes; with no include patterns every non-excluded name passes.
func (f *Filter) Matches(name string) bool {
	candidate := name
	if !f.cfg.UseRegex {
		candidate = strings.ToLower(name)
	}

	for _, re := range f.excludes {
		if re.MatchString(candidate) {
			return false
		}
	}

	if len(f.includes) == 0 {
		return true
	}
	for _, re := range f.includes {
		if re.MatchString(candidate) {
			return true
		}
	}
	return false
}

// Apply returns the names that pass the filter, preserving input order.
func (f *Filter) Apply(names []string) []string {
	kept := make([]string, 0, len(names))
	for _, name := range names {
		if f.Matches(name) {
			kept = append(kept, name)
		}
	}
	return kept
}

// String describes the filter for logs and run output.
func (f *Filter) String() string {
	mode := "glob"
	if f.cfg.UseRegex {
		mode = "regex"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s includes=%v", mode, f.cfg.Includes)
	if len(f.cfg.Excludes) > 0 {
		fmt.Fprintf(&sb, " excludes=%v", f.cfg.Excludes)
	}
	return sb.String()
}

func compilePatterns(patterns []string, useRegex bool) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		expr := pattern
		if !useRegex {
			expr = globToRegex(strings.ToLower(pattern))
		}

		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// globToRegex converts a glob to an anchored regular expression. `*` matches
// any run of characters including dots, `?` matches one character except a
// dot, and character classes pass through.
func globToRegex(glob string) string {
	var sb strings.Builder
	sb.WriteString("^")

	for _, r := range glob {
		switch r {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString("[^.]")
		case '[', ']':
			sb.WriteRune(r)
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}

	sb.WriteString("$")
	return sb.String()
}
