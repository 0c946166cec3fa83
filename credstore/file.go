package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"sync"
)

// document is the on-disk layout of a FileStore.
type document struct {
	Entries map[string]string `json:"entries"`
}

// FileStore keeps all entries in one JSON file. Writes are serialized in-process
// by a mutex and across processes by a lock file, and land via temp-file rename
// so readers never see a partial document.
type FileStore struct {
	path string
	mu   sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store backed by the file at path. The file is created on
// the first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get(_ context.Context, key string) (string, error) {
	doc, err := s.read()
	if err != nil {
		return "", &StoreError{Op: "get", Key: key, Err: err}
	}
	value, ok := doc.Entries[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (s *FileStore) SetMany(ctx context.Context, entries map[string]string) error {
	err := s.update(ctx, func(doc *document) {
		maps.Copy(doc.Entries, entries)
	})
	if err != nil {
		return &StoreError{Op: "set", Err: err}
	}
	return nil
}

func (s *FileStore) Remove(ctx context.Context, keys ...string) error {
	err := s.update(ctx, func(doc *document) {
		for _, key := range keys {
			delete(doc.Entries, key)
		}
	})
	if err != nil {
		return &StoreError{Op: "remove", Err: err}
	}
	return nil
}

// read loads the document. A missing file is an empty document.
func (s *FileStore) read() (*document, error) {
	doc := &document{Entries: make(map[string]string)}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to parse store file: %w", err)
	}
	if doc.Entries == nil {
		doc.Entries = make(map[string]string)
	}
	return doc, nil
}

// update applies mutate to the current document under both locks and writes the
// result back atomically.
func (s *FileStore) update(ctx context.Context, mutate func(*document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, err := acquireFileLock(ctx, s.path)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		if releaseErr := lock.release(); releaseErr != nil {
			fmt.Fprintf(os.Stderr, "failed to release lock: %v\n", releaseErr)
		}
	}()

	doc, err := s.read()
	if err != nil {
		// a corrupt file must not block logout or a fresh login
		doc = &document{Entries: make(map[string]string)}
	}

	mutate(doc)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tempFile := s.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tempFile, s.path); err != nil {
		if removeErr := os.Remove(tempFile); removeErr != nil {
			return fmt.Errorf(
				"failed to rename temp file: %v; additionally failed to remove temp file: %w",
				err,
				removeErr,
			)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}
