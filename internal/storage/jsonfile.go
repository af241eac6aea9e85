package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"tsundoku/internal/fileutil"
	"tsundoku/internal/logging"
)

// JSONFile keeps every key in a single JSON document that is rewritten
// atomically (temp file + rename) on each mutation.
type JSONFile struct {
	path   string
	quota  int64
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]json.RawMessage
}

// OpenJSONFile loads the document at path, creating it lazily on first write.
func OpenJSONFile(path string, quota int64, logger *slog.Logger) (*JSONFile, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("json store path is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &JSONFile{
		path:    path,
		quota:   quota,
		logger:  logging.NewComponentLogger(logger, "storage"),
		entries: make(map[string]json.RawMessage),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONFile) Get(_ context.Context, key string, dst any) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	s.mu.RLock()
	data, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return true, decodeValue(key, data, dst)
}

func (s *JSONFile) Set(_ context.Context, key string, value any) error {
	if err := validateKey(key); err != nil {
		return err
	}
	data, err := encodeValue(key, value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	previous, existed := s.entries[key]
	s.entries[key] = data
	if err := s.save(key); err != nil {
		if existed {
			s.entries[key] = previous
		} else {
			delete(s.entries, key)
		}
		return err
	}
	return nil
}

func (s *JSONFile) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous, ok := s.entries[key]
	if !ok {
		return nil
	}
	delete(s.entries, key)
	if err := s.save(key); err != nil {
		s.entries[key] = previous
		return err
	}
	return nil
}

func (s *JSONFile) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous := s.entries
	s.entries = make(map[string]json.RawMessage)
	if err := s.save(""); err != nil {
		s.entries = previous
		return err
	}
	return nil
}

func (s *JSONFile) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Size reports the size of the document on disk.
func (s *JSONFile) Size(context.Context) (int64, error) {
	info, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("stat json store: %w", err)
	}
	return info.Size(), nil
}

func (s *JSONFile) Close() error { return nil }

func (s *JSONFile) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return classifyWriteError("read", s.path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &s.entries); err != nil {
		return fmt.Errorf("parse json store %s: %w", s.path, err)
	}
	s.logger.Debug("loaded json store",
		logging.Int("key_count", len(s.entries)),
		logging.String("path", s.path))
	return nil
}

// save writes the document atomically. The caller holds the write lock.
func (s *JSONFile) save(key string) error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return classifyWriteError("marshal", key, err)
	}
	if s.quota > 0 && int64(len(data)) > s.quota {
		return quotaError(key, int64(len(data)), s.quota)
	}

	if err := fileutil.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return classifyWriteError("write", key, err)
	}
	return nil
}
