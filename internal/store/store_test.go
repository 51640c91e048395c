package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// redisAddrEnv names the Redis server used by the Redis backend tests.
const redisAddrEnv = "DOCSYNC_REDIS_ADDR"

type backendCase struct {
	name string
	open func(t *testing.T) Storage
}

func backendCases() []backendCase {
	return []backendCase{
		{"sqlite", func(t *testing.T) Storage {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
			require.NoError(t, err)
			return s
		}},
		{"bbolt", func(t *testing.T) Storage {
			s, err := OpenBolt(filepath.Join(t.TempDir(), "test.bolt"))
			require.NoError(t, err)
			return s
		}},
		{"badger", func(t *testing.T) Storage {
			s, err := OpenBadger(t.TempDir())
			require.NoError(t, err)
			return s
		}},
		{"pebble", func(t *testing.T) Storage {
			s, err := OpenPebble(t.TempDir())
			require.NoError(t, err)
			return s
		}},
		{"fs", func(t *testing.T) Storage {
			s, err := OpenFS(t.TempDir())
			require.NoError(t, err)
			return s
		}},
		{"memory", func(t *testing.T) Storage {
			return NewMemory()
		}},
		{"redis", func(t *testing.T) Storage {
			addr := os.Getenv(redisAddrEnv)
			if addr == "" {
				t.Skipf("%s not set", redisAddrEnv)
			}
			s, err := OpenRedis(context.Background(), addr, "docsync-test:"+uuid.NewString()+":")
			require.NoError(t, err)
			t.Cleanup(func() {
				ctx := context.Background()
				keys, _ := s.List(ctx, "")
				for _, k := range keys {
					s.Delete(ctx, k)
				}
			})
			return s
		}},
	}
}

// forEachBackend runs fn against a fresh store of every backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, s Storage)) {
	for _, bc := range backendCases() {
		t.Run(bc.name, func(t *testing.T) {
			s := bc.open(t)
			t.Cleanup(func() { s.Close() })
			fn(t, s)
		})
	}
}

func TestStorage_ReadMissing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		data, found, err := s.Read(context.Background(), "nope/missing")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, data)
	})
}

func TestStorage_WriteRead(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()

		require.NoError(t, s.Write(ctx, "docs/a", []byte("first")))
		require.NoError(t, s.Write(ctx, "docs/a", []byte("second")))

		data, found, err := s.Read(ctx, "docs/a")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, []byte("second"), data)

		require.NoError(t, s.Write(ctx, "docs/empty", nil))
		data, found, err = s.Read(ctx, "docs/empty")
		require.NoError(t, err)
		assert.True(t, found, "an empty value is still present")
		assert.Empty(t, data)
	})
}

func TestStorage_WriteCopiesInput(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		buf := []byte("abc")
		require.NoError(t, s.Write(ctx, "k", buf))
		buf[0] = 'X'

		data, _, err := s.Read(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), data)
	})
}

func TestStorage_List(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		keys := []string{"doc/b/2", "doc/a/manifest", "doc/a/1", "doc/manifest", "doc2/x", "docs/doc"}
		for _, k := range keys {
			require.NoError(t, s.Write(ctx, k, []byte(k)))
		}

		tests := []struct {
			prefix string
			want   []string
		}{
			{"doc/", []string{"doc/a/1", "doc/a/manifest", "doc/b/2", "doc/manifest"}},
			{"doc/a/", []string{"doc/a/1", "doc/a/manifest"}},
			{"doc/a/m", []string{"doc/a/manifest"}},
			{"doc", []string{"doc/a/1", "doc/a/manifest", "doc/b/2", "doc/manifest", "doc2/x", "docs/doc"}},
			{"", []string{"doc/a/1", "doc/a/manifest", "doc/b/2", "doc/manifest", "doc2/x", "docs/doc"}},
			{"zzz/", nil},
		}
		for _, tt := range tests {
			got, err := s.List(ctx, tt.prefix)
			require.NoError(t, err, "prefix %q", tt.prefix)
			if tt.want == nil {
				assert.Empty(t, got, "prefix %q", tt.prefix)
				continue
			}
			assert.Equal(t, tt.want, got, "prefix %q", tt.prefix)
		}
	})
}

func TestStorage_Delete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		require.NoError(t, s.Write(ctx, "d/a/1", []byte("x")))
		require.NoError(t, s.Write(ctx, "d/b", []byte("y")))

		require.NoError(t, s.Delete(ctx, "d/a/1"))
		require.NoError(t, s.Delete(ctx, "d/a/1"), "deleting twice succeeds")

		_, found, err := s.Read(ctx, "d/a/1")
		require.NoError(t, err)
		assert.False(t, found)

		keys, err := s.List(ctx, "d/")
		require.NoError(t, err)
		assert.Equal(t, []string{"d/b"}, keys)
	})
}

func TestStorage_InvalidKeys(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		for _, key := range []string{"", "/a", "a/", "a//b", "a/../b", "./a", "a\x00b"} {
			assert.ErrorIs(t, s.Write(ctx, key, []byte("x")), ErrInvalidKey, "write %q", key)
			_, _, err := s.Read(ctx, key)
			assert.ErrorIs(t, err, ErrInvalidKey, "read %q", key)
			assert.ErrorIs(t, s.Delete(ctx, key), ErrInvalidKey, "delete %q", key)
		}
		_, err := s.List(ctx, "a\x00")
		assert.ErrorIs(t, err, ErrInvalidKey)
	})
}

func TestStorage_Closed(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		require.NoError(t, s.Close())
		require.NoError(t, s.Close(), "Close is idempotent")

		assert.ErrorIs(t, s.Write(ctx, "k", nil), ErrClosed)
		_, _, err := s.Read(ctx, "k")
		assert.ErrorIs(t, err, ErrClosed)
		_, err = s.List(ctx, "")
		assert.ErrorIs(t, err, ErrClosed)
		assert.ErrorIs(t, s.Delete(ctx, "k"), ErrClosed)
	})
}

func TestStorage_CanceledContext(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, s.Write(ctx, "k", []byte("x")), context.Canceled)
		_, _, err := s.Read(ctx, "k")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestUsage(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		require.NoError(t, s.Write(ctx, "u/a", []byte("12345")))
		require.NoError(t, s.Write(ctx, "u/b", []byte("123")))
		require.NoError(t, s.Write(ctx, "v/c", []byte("1")))

		count, size, err := Usage(ctx, s, "u/")
		require.NoError(t, err)
		assert.Equal(t, 2, count)
		assert.Equal(t, int64(8), size)
	})
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		opts Options
		want any
	}{
		{Options{Path: filepath.Join(dir, "default.db")}, &SQLite{}},
		{Options{Backend: BackendSQLite, Path: filepath.Join(dir, "a.db")}, &SQLite{}},
		{Options{Backend: BackendBolt, Path: filepath.Join(dir, "a.bolt")}, &Bolt{}},
		{Options{Backend: BackendBadger, Path: filepath.Join(dir, "badger")}, &Badger{}},
		{Options{Backend: BackendPebble, Path: filepath.Join(dir, "pebble")}, &Pebble{}},
		{Options{Backend: BackendFS, Path: filepath.Join(dir, "fs")}, &FS{}},
		{Options{Backend: BackendMemory}, &Memory{}},
	}
	for _, tt := range tests {
		t.Run(string(tt.opts.Backend), func(t *testing.T) {
			s, err := Open(tt.opts)
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			assert.IsType(t, tt.want, s)
		})
	}
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(Options{Backend: "cassandra", Path: "x"})
	assert.ErrorIs(t, err, ErrUnknownBackend)

	_, err = Open(Options{Backend: BackendBolt})
	assert.ErrorContains(t, err, "requires a path")

	_, err = Open(Options{Backend: BackendRedis})
	assert.ErrorContains(t, err, "requires an address")
}

func TestValidateKey(t *testing.T) {
	assert.NoError(t, ValidateKey("todo/client-a0000001/manifest"))
	assert.NoError(t, ValidateKey("a.b/c..d"))
	assert.ErrorIs(t, ValidateKey(string(make([]byte, MaxKeyLength+1))), ErrInvalidKey)
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, []byte("doc0"), prefixEnd([]byte("doc/")))
	assert.Equal(t, []byte("b"), prefixEnd([]byte("a\xff")))
	assert.Nil(t, prefixEnd([]byte("\xff\xff")))
	assert.Nil(t, prefixEnd(nil))
}

func TestGlobEscape(t *testing.T) {
	assert.Equal(t, `ns:a\*b\?\[c\]\\`, globEscape(`ns:a*b?[c]\`))
}
