package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"github.com/JakeFAU/leadcrawler/internal/crawler"
)

const checkpointSuffix = ".checkpoint.json"

// Backend stores checkpoint documents by run key.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Close() error
}

// Locker is implemented by backends that can fence a key to one process.
type Locker interface {
	Lock(key string) (unlock func() error, err error)
}

// Lister is implemented by backends that can enumerate their run keys.
type Lister interface {
	Keys(ctx context.Context) ([]string, error)
}

// FileConfig configures the filesystem backend.
type FileConfig struct {
	Dir string `mapstructure:"dir"`
}

// FileBackend keeps one JSON document per run key in a directory.
type FileBackend struct {
	dir string

	mu    sync.Mutex
	locks map[string]*flock.Flock
}

// NewFileBackend creates the directory if needed.
func NewFileBackend(cfg FileConfig) (*FileBackend, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("checkpoint directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	return &FileBackend{
		dir:   cfg.Dir,
		locks: make(map[string]*flock.Flock),
	}, nil
}

func (b *FileBackend) path(key string) (string, error) {
	name := storageKey(key)
	if name == "" {
		return "", fmt.Errorf("checkpoint key is required")
	}
	return filepath.Join(b.dir, name+checkpointSuffix), nil
}

// Get reads the document stored under key.
func (b *FileBackend) Get(_ context.Context, key string) ([]byte, error) {
	path, err := b.path(key)
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- path is built from a sanitized key under the configured dir.
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, crawler.ErrNotFound
		}
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}
	return data, nil
}

// Put replaces the document under key. The write goes to a temp file in the
// same directory and is renamed into place, so readers never see a partial file.
func (b *FileBackend) Put(_ context.Context, key string, data []byte) error {
	path, err := b.path(key)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(b.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpName)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// Keys lists the stored run keys in name order. A key that was rewritten to
// fit the file system is reported in its stored form, which Get accepts.
func (b *FileBackend) Keys(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("list checkpoint directory: %w", err)
	}
	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, checkpointSuffix) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, checkpointSuffix))
	}
	return keys, nil
}

// Lock takes an exclusive, non-blocking file lock for key. A second
// process (or a second orchestrator in this one) gets an error.
func (b *FileBackend) Lock(key string) (func() error, error) {
	path, err := b.path(key)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, held := b.locks[key]; held {
		return nil, fmt.Errorf("checkpoint %s already locked by this process", key)
	}
	fl := flock.New(path + ".lock")
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock checkpoint: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("checkpoint %s is locked by another process", key)
	}
	b.locks[key] = fl
	return func() error {
		b.mu.Lock()
		delete(b.locks, key)
		b.mu.Unlock()
		if err := fl.Unlock(); err != nil {
			return fmt.Errorf("unlock checkpoint: %w", err)
		}
		return nil
	}, nil
}

// Close releases any locks still held.
func (b *FileBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	for key, fl := range b.locks {
		if err := fl.Unlock(); err != nil {
			errs = append(errs, err)
		}
		delete(b.locks, key)
	}
	return errors.Join(errs...)
}
