package sessionstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

const (
	sessionFile = "session.json"
	queueFile   = "revoke-queue.json"
)

// FileStore keeps the session in dir/session.json with owner-only permissions.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("session directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) Dir() string { return f.dir }

func (f *FileStore) Load() (*Stored, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var s Stored
	ok, err := f.read(sessionFile, &s)
	if err != nil || !ok {
		return nil, err
	}
	if s.Session.AccessToken == "" || s.User.ID == "" {
		return nil, ErrCorrupt
	}
	return &s, nil
}

func (f *FileStore) Save(s Stored) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.write(sessionFile, s)
}

func (f *FileStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := os.Remove(filepath.Join(f.dir, sessionFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (f *FileStore) QueueRevoke(token string) error {
	if token == "" {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var queue []string
	if _, err := f.read(queueFile, &queue); err != nil {
		return err
	}
	return f.write(queueFile, appendUnique(queue, token))
}

func (f *FileStore) PendingRevokes() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var queue []string
	if _, err := f.read(queueFile, &queue); err != nil {
		return nil, err
	}
	return queue, nil
}

func (f *FileStore) AckRevoke(token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var queue []string
	ok, err := f.read(queueFile, &queue)
	if err != nil || !ok {
		return err
	}
	queue = without(queue, token)
	if len(queue) == 0 {
		err := os.Remove(filepath.Join(f.dir, queueFile))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	return f.write(queueFile, queue)
}

func (f *FileStore) read(name string, v any) (bool, error) {
	raw, err := os.ReadFile(filepath.Join(f.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrCorrupt, name, err)
	}
	return true, nil
}

// write replaces name atomically: readers see the old file or the new one, never a prefix.
func (f *FileStore) write(name string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(f.dir, name+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, filepath.Join(f.dir, name))
}
