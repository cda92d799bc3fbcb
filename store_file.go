package sessionx

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps session values in a JSON document on disk. Every write
// replaces the whole document through a rename, so a reader sees either the
// old or the new pair, never a mix.
type FileStore struct {
	mu   sync.Mutex
	path string
	log  *slog.Logger
}

// NewFileStore returns a store persisted at path.
func NewFileStore(path string, log *slog.Logger) *FileStore {
	if log == nil {
		log = slog.Default()
	}
	return &FileStore{path: path, log: log.With(slog.String("store", "file"))}
}

// Get reads key from the session file. A missing or unreadable file holds no values.
func (s *FileStore) Get(_ context.Context, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.read()
	if err != nil {
		s.log.Warn("read session file", slog.String("key", key), errAttr(err))
		return "", false
	}
	v, ok := values[key]
	return v, ok
}

// Set writes key and replaces the file.
func (s *FileStore) Set(ctx context.Context, key, value string) {
	s.SetMany(ctx, map[string]string{key: value})
}

// SetMany writes all values in a single file replacement.
func (s *FileStore) SetMany(_ context.Context, values map[string]string) {
	s.update(func(doc map[string]string) {
		for k, v := range values {
			doc[k] = v
		}
	})
}

// Remove deletes key and replaces the file.
func (s *FileStore) Remove(ctx context.Context, key string) {
	s.RemoveMany(ctx, key)
}

// RemoveMany deletes keys in a single file replacement.
func (s *FileStore) RemoveMany(_ context.Context, keys ...string) {
	s.update(func(doc map[string]string) {
		for _, k := range keys {
			delete(doc, k)
		}
	})
}

// Clear deletes the session file.
func (s *FileStore) Clear(_ context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.log.Warn("clear session file", errAttr(err))
	}
}

func (s *FileStore) update(mutate func(map[string]string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		// a corrupt document is replaced rather than blocking every write
		s.log.Warn("read session file before write", errAttr(err))
		doc = make(map[string]string)
	}
	mutate(doc)
	if err := s.write(doc); err != nil {
		s.log.Warn("write session file", errAttr(err))
	}
}

func (s *FileStore) read() (map[string]string, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, err
	}
	doc := make(map[string]string)
	if len(raw) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *FileStore) write(doc map[string]string) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}
