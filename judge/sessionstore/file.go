// Package sessionstore holds persistent judge.Store implementations.
package sessionstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// document is the on-disk layout: one blob per backend name.
type document struct {
	Sessions map[string]json.RawMessage `json:"sessions"`
}

// File keeps every backend session in a single JSON document.
type File struct {
	path string
	mu   sync.Mutex
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Path() string { return f.path }

func (f *File) read() (document, error) {
	doc := document{Sessions: map[string]json.RawMessage{}}
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return doc, fmt.Errorf("read session file failed: %w", err)
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("parse session file failed: %w", err)
	}
	if doc.Sessions == nil {
		doc.Sessions = map[string]json.RawMessage{}
	}
	return doc, nil
}

func (f *File) Load(_ context.Context, backend string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read()
	if err != nil {
		return nil, err
	}
	blob, ok := doc.Sessions[backend]
	if !ok {
		return nil, nil
	}
	return []byte(blob), nil
}

func (f *File) Save(_ context.Context, backend string, blob []byte) error {
	if !json.Valid(blob) {
		return fmt.Errorf("session blob for %s is not valid json", backend)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read()
	if err != nil {
		return err
	}
	doc.Sessions[backend] = json.RawMessage(blob)

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create session dir failed: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session file failed: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session file failed: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace session file failed: %w", err)
	}
	return nil
}

// Clear removes the session file.
func (f *File) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session file failed: %w", err)
	}
	return nil
}
