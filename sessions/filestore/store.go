// Package filestore keeps session records in a single JSON file keyed by
// account.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	apperrors "github.com/jrsteele09/go-connecteddrive/internal/errors"
	"github.com/jrsteele09/go-connecteddrive/sessions"
)

var _ sessions.Store = (*Store)(nil)

// Store serialises access within the process; writes replace the file
// atomically so a crash never leaves a torn file behind.
type Store struct {
	path string
	lock sync.Mutex
}

func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Get(_ context.Context, account string) (sessions.Record, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	records, err := s.readAll()
	if err != nil {
		return sessions.Record{}, err
	}
	return records[account], nil
}

func (s *Store) Update(_ context.Context, account string, fn func(rec *sessions.Record) error) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	records, err := s.readAll()
	if err != nil {
		return err
	}
	rec := records[account]
	if err := fn(&rec); err != nil {
		return err
	}
	records[account] = rec
	return s.writeAll(records)
}

func (s *Store) readAll() (map[string]sessions.Record, error) {
	records := map[string]sessions.Record{}
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) || (err == nil && len(data) == 0) {
		return records, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w: %w", s.path, apperrors.ErrStore, err)
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse %s: %w: %w", s.path, apperrors.ErrStore, err)
	}
	return records, nil
}

func (s *Store) writeAll(records map[string]sessions.Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w: %w", dir, apperrors.ErrStore, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w: %w", apperrors.ErrStore, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w: %w", apperrors.ErrStore, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w: %w", apperrors.ErrStore, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w: %w", apperrors.ErrStore, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace %s: %w: %w", s.path, apperrors.ErrStore, err)
	}
	return nil
}
