// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads credentials from a directory of plain-text files.
// Each file is one secret: the filename is the key and the trimmed file
// contents are the value. Credentials never live in configuration files
// or source.
package secrets

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Keys read by foldeval.
const (
	SMTPUsername = "smtp-username"
	SMTPPassword = "smtp-password"
)

// Secrets is a read-only set of loaded credentials.
type Secrets struct {
	dir    string
	values map[string]string
}

// MissingError reports a secret that a component requires but the
// directory does not provide.
type MissingError struct {
	Dir string
	Key string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("secret %q not found in %s", e.Key, e.Dir)
}

// Load reads every regular, non-hidden file in dir. A missing directory is
// not an error and yields an empty set. Unreadable files are logged and
// skipped; empty files are ignored.
func Load(dir string, logger *slog.Logger) (*Secrets, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Secrets{dir: dir, values: make(map[string]string)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warn("could not read secret", "key", name, "error", err)
			continue
		}
		if value := strings.TrimSpace(string(data)); value != "" {
			s.values[name] = value
		}
	}
	return s, nil
}

// Get returns the value for key and whether it was present.
func (s *Secrets) Get(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	v, ok := s.values[key]
	return v, ok
}

// Require returns the value for key or a *MissingError.
func (s *Secrets) Require(key string) (string, error) {
	if v, ok := s.Get(key); ok {
		return v, nil
	}
	dir := ""
	if s != nil {
		dir = s.dir
	}
	return "", &MissingError{Dir: dir, Key: key}
}

// Keys lists the loaded keys in sorted order. Values are never listed.
func (s *Secrets) Keys() []string {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
