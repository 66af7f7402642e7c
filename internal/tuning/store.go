package tuning

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// entryFileExtension is the file extension used for entries.
const entryFileExtension = ".json"

// Common store errors.
var (
	ErrNotFound   = errors.New("tuning entry not found")
	ErrExpired    = errors.New("tuning entry expired")
	ErrInvalidKey = errors.New("tuning key cannot be empty")
	ErrInvalidTTL = errors.New("tuning ttl must be positive")
)

// FileStore keeps entries as JSON files in one directory.
// Safe for concurrent use.
type FileStore struct {
	directory string
	ttl       time.Duration
	now       func() time.Time

	mu sync.RWMutex
}

// NewFileStore creates the store, creating directory if needed.
func NewFileStore(directory string, ttl time.Duration) (*FileStore, error) {
	if directory == "" {
		return nil, errors.New("tuning directory cannot be empty")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidTTL, ttl)
	}
	if err := os.MkdirAll(directory, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create tuning directory: %w", err)
	}

	return &FileStore{
		directory: directory,
		ttl:       ttl,
		now:       time.Now,
	}, nil
}

// Get returns the entry stored under key.
// Returns ErrNotFound if there is none and ErrExpired if it is too old; expired
// files are removed.
func (s *FileStore) Get(key string) (*Entry, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}

	s.mu.RLock()
	filePath := s.keyToFilePath(key)
	data, err := os.ReadFile(filePath)
	s.mu.RUnlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read tuning file: %w", err)
	}

	var entry Entry
	if unmarshalErr := json.Unmarshal(data, &entry); unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal tuning entry: %w", unmarshalErr)
	}

	if entry.IsExpired(s.now()) {
		s.mu.Lock()
		_ = os.Remove(filePath)
		s.mu.Unlock()
		return nil, ErrExpired
	}

	return &entry, nil
}

// Set stores entry under entry.Key, stamping its creation and expiry times.
// An existing entry is overwritten.
func (s *FileStore) Set(entry Entry) error {
	if entry.Key == "" {
		return ErrInvalidKey
	}

	now := s.now()
	entry.CreatedAt = now
	entry.ExpiresAt = now.Add(s.ttl)

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tuning entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	filePath := s.keyToFilePath(entry.Key)

	// Write to temporary file first, then rename for atomicity
	tempPath := filePath + ".tmp"
	if writeErr := os.WriteFile(tempPath, data, 0o600); writeErr != nil {
		return fmt.Errorf("failed to write tuning file: %w", writeErr)
	}
	if renameErr := os.Rename(tempPath, filePath); renameErr != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename tuning file: %w", renameErr)
	}

	return nil
}

// Delete removes the entry stored under key. Deleting a missing entry is not an error.
func (s *FileStore) Delete(key string) error {
	if key == "" {
		return ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.keyToFilePath(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete tuning file: %w", err)
	}
	return nil
}

// Clear removes every entry.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.directory)
	if err != nil {
		return fmt.Errorf("failed to read tuning directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != entryFileExtension {
			continue
		}
		if removeErr := os.Remove(filepath.Join(s.directory, entry.Name())); removeErr != nil {
			return fmt.Errorf("failed to remove tuning file %s: %w", entry.Name(), removeErr)
		}
	}
	return nil
}

// Count returns the number of entries, including expired ones.
func (s *FileStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.directory)
	if err != nil {
		return 0, fmt.Errorf("failed to read tuning directory: %w", err)
	}

	count := 0
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == entryFileExtension {
			count++
		}
	}
	return count, nil
}

// Directory returns the store directory.
func (s *FileStore) Directory() string {
	return s.directory
}

// keyToFilePath converts a key to a file path inside the store directory.
func (s *FileStore) keyToFilePath(key string) string {
	safeKey := strings.ReplaceAll(key, "/", "_")
	safeKey = strings.ReplaceAll(safeKey, "\\", "_")
	safeKey = strings.ReplaceAll(safeKey, ":", "_")
	return filepath.Join(s.directory, safeKey+entryFileExtension)
}
