// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package fsutil writes work-directory artifacts so that readers never
// observe a partially written file.
package fsutil

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrEmpty is returned by WriteNonEmpty when the reader yields no bytes.
var ErrEmpty = errors.New("no content")

// WriteFile stores data at path through a temporary file in the same
// directory and a rename.
func WriteFile(path string, data []byte) error {
	return write(path, bytes.NewReader(data), false)
}

// WriteNonEmpty stores the contents of r at path like WriteFile, but
// leaves path untouched and returns ErrEmpty when r is empty.
func WriteNonEmpty(path string, r io.Reader) error {
	return write(path, r, true)
}

func write(path string, r io.Reader, requireContent bool) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	n, werr := io.Copy(tmp, r)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if requireContent && n == 0 {
		os.Remove(tmp.Name())
		return ErrEmpty
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("renaming %s: %w", path, err)
	}
	return nil
}
