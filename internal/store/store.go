package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
)

var (
	// ErrClosed is returned by every operation on a closed Storage.
	ErrClosed = errors.New("store: closed")

	// ErrInvalidKey is returned for keys that are not portable across backends.
	ErrInvalidKey = errors.New("store: invalid key")

	// ErrUnknownBackend is returned by Open for an unrecognised backend name.
	ErrUnknownBackend = errors.New("store: unknown backend")
)

// MaxKeyLength bounds key size so keys fit every backend's limits.
const MaxKeyLength = 1024

// Storage is a flat key space of byte blobs.
type Storage interface {
	// Write stores data under key, replacing any previous value.
	Write(ctx context.Context, key string, data []byte) error

	// Read returns the value under key. found is false when the key is
	// absent; that is not an error.
	Read(ctx context.Context, key string) (data []byte, found bool, err error)

	// List returns all keys starting with prefix in ascending byte order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes key. Deleting a missing key succeeds.
	Delete(ctx context.Context, key string) error

	// Close releases the backend. Close is idempotent.
	Close() error
}

// Backend names a Storage implementation.
type Backend string

const (
	BackendSQLite Backend = "sqlite"
	BackendBolt   Backend = "bbolt"
	BackendBadger Backend = "badger"
	BackendPebble Backend = "pebble"
	BackendRedis  Backend = "redis"
	BackendFS     Backend = "fs"
	BackendMemory Backend = "memory"
)

// Backends lists every backend name Open accepts.
func Backends() []Backend {
	return []Backend{BackendSQLite, BackendBolt, BackendBadger, BackendPebble, BackendRedis, BackendFS, BackendMemory}
}

// Options selects and configures a backend for Open.
type Options struct {
	Backend Backend

	// Path is the database file (sqlite, bbolt) or directory (badger,
	// pebble, fs). Unused by redis and memory.
	Path string

	// RedisAddr is the host:port of the Redis server.
	RedisAddr string

	// RedisNamespace prefixes every Redis key. Defaults to DefaultRedisNamespace.
	RedisNamespace string
}

// Open creates or opens the backend described by opts.
// An empty Backend selects SQLite.
func Open(opts Options) (Storage, error) {
	backend := opts.Backend
	if backend == "" {
		backend = BackendSQLite
	}
	switch backend {
	case BackendMemory:
		return NewMemory(), nil
	case BackendRedis:
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("store: redis backend requires an address")
		}
		return OpenRedis(context.Background(), opts.RedisAddr, opts.RedisNamespace)
	}

	if opts.Path == "" {
		return nil, fmt.Errorf("store: %s backend requires a path", backend)
	}
	switch backend {
	case BackendSQLite:
		return OpenSQLite(opts.Path)
	case BackendBolt:
		return OpenBolt(opts.Path)
	case BackendBadger:
		return OpenBadger(opts.Path)
	case BackendPebble:
		return OpenPebble(opts.Path)
	case BackendFS:
		return OpenFS(opts.Path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// ValidateKey reports whether key is usable on every backend.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	case len(key) > MaxKeyLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidKey, MaxKeyLength)
	case strings.ContainsRune(key, 0):
		return fmt.Errorf("%w: %q contains NUL", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: %q has an empty or relative segment", ErrInvalidKey, key)
		}
	}
	return nil
}

func validatePrefix(prefix string) error {
	if strings.ContainsRune(prefix, 0) {
		return fmt.Errorf("%w: prefix %q contains NUL", ErrInvalidKey, prefix)
	}
	return nil
}

// prefixEnd returns the smallest byte string greater than every string
// with the given prefix, or nil when no such bound exists.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// guard tracks the closed state shared by every backend.
type guard struct {
	closed atomic.Bool
}

// enter reports ErrClosed or the context's error before an operation.
func (g *guard) enter(ctx context.Context) error {
	if g.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

// shut marks the guard closed. It returns false if it already was.
func (g *guard) shut() bool {
	return g.closed.CompareAndSwap(false, true)
}

// checkKey validates the preconditions shared by keyed operations.
func (g *guard) checkKey(ctx context.Context, key string) error {
	if err := g.enter(ctx); err != nil {
		return err
	}
	return ValidateKey(key)
}

// Usage returns the number of keys under prefix and their total size.
// Backends that track sizes answer directly; others are scanned.
func Usage(ctx context.Context, s Storage, prefix string) (count int, size int64, err error) {
	if u, ok := s.(interface {
		Usage(context.Context, string) (int, int64, error)
	}); ok {
		return u.Usage(ctx, prefix)
	}
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return 0, 0, err
	}
	for _, key := range keys {
		data, found, err := s.Read(ctx, key)
		if err != nil {
			return 0, 0, err
		}
		if found {
			count++
			size += int64(len(data))
		}
	}
	return count, size, nil
}
