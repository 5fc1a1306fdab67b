package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"
	"github.com/zalando/go-keyring"
)

// ServiceName is the keyring service credentials are filed under.
const ServiceName = "renewctl"

// SessionFileName is the file used by FileStorage.
const SessionFileName = "session.json"

// LockTimeout bounds how long FileStorage waits for the cross-process lock.
// Past it, the operation proceeds unlocked rather than hanging the CLI.
const LockTimeout = 100 * time.Millisecond

// ErrNotFound is returned by Storage.Load when the key holds no value.
var ErrNotFound = errors.New("credentials not found")

// Storage is a durable string key/value store.
type Storage interface {
	Load(key string) (string, error)
	Save(key, value string) error
	Remove(key string) error
}

// Storage backends accepted by NewStorage.
const (
	BackendAuto    = "auto"
	BackendKeyring = "keyring"
	BackendFile    = "file"
	BackendMemory  = "memory"
)

// NewStorage returns the storage backend named by backend.
// "auto" prefers the system keyring and falls back to a file under dir.
func NewStorage(backend, dir string) (Storage, error) {
	switch backend {
	case "", BackendAuto:
		if os.Getenv("RENEWCTL_NO_KEYRING") == "" && keyringAvailable() {
			return NewKeyringStorage(), nil
		}
		fs := NewFileStorage(dir)
		log.Warnf("system keyring unavailable, credentials stored at %s", fs.Path())
		return fs, nil
	case BackendKeyring:
		return NewKeyringStorage(), nil
	case BackendFile:
		return NewFileStorage(dir), nil
	case BackendMemory:
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q (want auto, keyring, file or memory)", backend)
	}
}

func keyringAvailable() bool {
	key := ServiceName + "::availability"
	if err := keyring.Set(ServiceName, key, "ok"); err != nil {
		return false
	}
	_ = keyring.Delete(ServiceName, key)
	return true
}

// KeyringStorage keeps values in the system keychain.
type KeyringStorage struct {
	service string
}

// NewKeyringStorage creates a keyring-backed storage.
func NewKeyringStorage() *KeyringStorage {
	return &KeyringStorage{service: ServiceName}
}

func (k *KeyringStorage) Load(key string) (string, error) {
	v, err := keyring.Get(k.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("keyring: %w", err)
	}
	return v, nil
}

func (k *KeyringStorage) Save(key, value string) error {
	if err := keyring.Set(k.service, key, value); err != nil {
		return fmt.Errorf("keyring: %w", err)
	}
	return nil
}

func (k *KeyringStorage) Remove(key string) error {
	err := keyring.Delete(k.service, key)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring: %w", err)
	}
	return nil
}

// FileStorage keeps values in a JSON map on disk, guarded by a file lock
// so concurrent renewctl processes do not clobber each other.
type FileStorage struct {
	dir string
}

// NewFileStorage creates a file-backed storage rooted at dir.
func NewFileStorage(dir string) *FileStorage {
	return &FileStorage{dir: dir}
}

// Path returns the session file path.
func (f *FileStorage) Path() string {
	return filepath.Join(f.dir, SessionFileName)
}

func (f *FileStorage) lockPath() string {
	return filepath.Join(f.dir, ".session.lock")
}

// acquireLock takes the directory lock. A nil lock with a nil error means
// the lock was busy past LockTimeout and the caller proceeds unlocked.
func (f *FileStorage) acquireLock() (*flock.Flock, error) {
	if err := os.MkdirAll(f.dir, 0700); err != nil {
		return nil, err
	}

	fl := flock.New(f.lockPath())
	ctx, cancel := context.WithTimeout(context.Background(), LockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, err
	}
	if !locked {
		return nil, nil
	}
	return fl, nil
}

func (f *FileStorage) withLock(fn func() error) error {
	fl, err := f.acquireLock()
	if err != nil {
		return fmt.Errorf("session lock: %w", err)
	}
	if fl != nil {
		defer func() { _ = fl.Unlock() }()
	}
	return fn()
}

func (f *FileStorage) Load(key string) (string, error) {
	var value string
	err := f.withLock(func() error {
		all, err := f.readAll()
		if err != nil {
			return err
		}
		v, ok := all[key]
		if !ok {
			return ErrNotFound
		}
		value = v
		return nil
	})
	return value, err
}

func (f *FileStorage) Save(key, value string) error {
	return f.withLock(func() error {
		all, err := f.readAll()
		if err != nil {
			// An unreadable file is replaced rather than blocking a fresh login.
			all = map[string]string{}
		}
		all[key] = value
		return f.writeAll(all)
	})
}

func (f *FileStorage) Remove(key string) error {
	return f.withLock(func() error {
		all, err := f.readAll()
		if err != nil {
			return os.Remove(f.Path())
		}
		if _, ok := all[key]; !ok {
			return nil
		}
		delete(all, key)
		if len(all) == 0 {
			err := os.Remove(f.Path())
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		return f.writeAll(all)
	})
}

func (f *FileStorage) readAll() (map[string]string, error) {
	data, err := os.ReadFile(f.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	all := map[string]string{}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, f.Path(), err)
	}
	return all, nil
}

func (f *FileStorage) writeAll(all map[string]string) error {
	if err := os.MkdirAll(f.dir, 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.dir, "session-*.json.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	dest := f.Path()
	if err := os.Rename(tmpPath, dest); err != nil {
		if runtime.GOOS == "windows" {
			_ = os.Remove(dest)
			return os.Rename(tmpPath, dest)
		}
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// MemoryStorage is a process-local Storage.
type MemoryStorage struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: map[string]string{}}
}

func (m *MemoryStorage) Load(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryStorage) Save(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStorage) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
