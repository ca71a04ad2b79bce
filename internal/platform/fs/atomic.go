// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package fs

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/renameio/v2"
)

// WriteAtomic writes data to path with full durability guarantees:
// renameio creates a sibling temp file, fsyncs it and renames it into
// place, so readers never observe a partial file.
func WriteAtomic(path string, data []byte) error {
	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() {
		// Removes the temp file if not committed; a no-op after commit.
		_ = pending.Cleanup()
	}()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write pending file: %w", err)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace %s: %w", path, err)
	}
	return nil
}

// WriteAtomicJSON marshals v with indentation and writes it atomically.
// Checkpoint manifests go through here.
func WriteAtomicJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return WriteAtomic(path, data)
}

// ReadJSON reads and unmarshals one JSON file.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path) // #nosec G304 -- callers confine the path
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
