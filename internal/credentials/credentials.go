// Package credentials loads the shared device login every tool uses.
//
// The credentials file is two plain-text lines, username then password,
// kept next to the binary so one edit covers the whole fleet. Environment
// based configuration (see pkg/sshutil.LoadConfig) takes precedence in
// containerized deployments; the file exists for operators running the
// tool directly.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// DefaultFile is the credentials filename used when none is configured.
const DefaultFile = "credentials.txt"

var (
	// ErrNotFound is returned when the credentials file does not exist.
	ErrNotFound = errors.New("credentials file not found")

	// ErrInvalid is returned when the credentials file cannot be used.
	ErrInvalid = errors.New("credentials file invalid")

	// ErrTemplateCreated is returned by LoadOrCreate after writing a fresh
	// template the operator still has to fill in.
	ErrTemplateCreated = errors.New("credentials template created")
)

const fileTemplate = "username\npassword"

// Credentials holds a device login.
type Credentials struct {
	Username string
	Password string
}

// Load reads credentials from path.
//
// The file must contain at least two non-empty lines: username first,
// password second. Surrounding whitespace is ignored.
func Load(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading credentials file %s: %w", path, err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 lines (username and password)", ErrInvalid)
	}

	creds := &Credentials{
		Username: strings.TrimSpace(lines[0]),
		Password: strings.TrimSpace(lines[1]),
	}
	if creds.Username == "" || creds.Password == "" {
		return nil, fmt.Errorf("%w: username and password cannot be empty", ErrInvalid)
	}
	if creds.Username == "username" && creds.Password == "password" {
		return nil, fmt.Errorf("%w: template placeholders at %s, fill in your credentials", ErrInvalid, path)
	}

	return creds, nil
}

// EnsureFile writes a credentials template at path when none exists and
// reports whether a new template was created. Existing files are never
// touched.
func EnsureFile(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("checking credentials file %s: %w", path, err)
	}

	if err := os.WriteFile(path, []byte(fileTemplate), 0o600); err != nil {
		return false, fmt.Errorf("creating credentials template %s: %w", path, err)
	}

	return true, nil
}

// LoadOrCreate loads credentials from path, writing a template first when
// the file is missing. A freshly written template yields ErrTemplateCreated
// so callers can tell the operator to fill it in and run again.
func LoadOrCreate(path string) (*Credentials, error) {
	creds, err := Load(path)
	if errors.Is(err, ErrNotFound) {
		if _, terr := EnsureFile(path); terr != nil {
			return nil, terr
		}
		return nil, fmt.Errorf("%w at %s: fill in your credentials and run again", ErrTemplateCreated, path)
	}
	return creds, err
}
