// Package config loads docsync configuration files.
//
// A configuration file is CUE. It is unified with the embedded #Config
// schema, which closes the structure, constrains enums and sizes and
// supplies defaults, and is then decoded into Config.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/docsync/internal/store"
)

//go:embed schema.cue
var schemaCUE string

// DefaultFile is the configuration file looked up in the working directory
// when none is given.
const DefaultFile = "docsync.cue"

// Config is a decoded configuration.
type Config struct {
	Replica Replica `json:"replica"`
	Storage Storage `json:"storage"`
	Codec   string  `json:"codec"`
	Fanout  Fanout  `json:"fanout"`
}

// Replica configures the local replica.
type Replica struct {
	DataDir string `json:"dataDir"`
}

// Storage selects the local storage backend.
type Storage struct {
	Backend        string `json:"backend"`
	Path           string `json:"path"`
	RedisAddr      string `json:"redisAddr,omitempty"`
	RedisNamespace string `json:"redisNamespace,omitempty"`
}

// Fanout configures the shared folder.
type Fanout struct {
	Root         string `json:"root"`
	RedisAddr    string `json:"redisAddr,omitempty"`
	MaxPartBytes int    `json:"maxPartBytes"`
	MaxParts     int    `json:"maxParts"`
	Interval     string `json:"interval"`
}

// Error is a configuration error with the CUE source position, if known.
type Error struct {
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return e.Message
}

// Default returns the configuration of an empty file.
func Default() *Config {
	cfg, err := Parse(nil, "default.cue")
	if err != nil {
		panic(fmt.Sprintf("config: embedded schema is invalid: %v", err))
	}
	return cfg
}

// Load reads and validates the file at path. An empty path loads
// DefaultFile if it exists and the defaults otherwise.
func Load(path string) (*Config, error) {
	if path == "" {
		if _, err := os.Stat(DefaultFile); err != nil {
			return Default(), nil
		}
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, path)
}

// Parse validates CUE source against the schema and decodes it.
// filename is used in error positions.
func Parse(data []byte, filename string) (*Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	user := ctx.CompileBytes(data, cue.Filename(filename))
	if err := user.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v := def.Unify(user)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err, user)
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return nil, formatCUEError(err, user)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate checks what the schema cannot express.
func (c *Config) validate() error {
	d, err := time.ParseDuration(c.Fanout.Interval)
	if err != nil {
		return &Error{Message: fmt.Sprintf("fanout.interval: %v", err)}
	}
	if d <= 0 {
		return &Error{Message: fmt.Sprintf("fanout.interval: must be positive, got %s", c.Fanout.Interval)}
	}
	if c.Storage.Backend == string(store.BackendRedis) && c.Storage.RedisAddr == "" {
		return &Error{Message: "storage.redisAddr: required by the redis backend"}
	}
	return nil
}

// Interval returns the parsed fan-out interval.
func (c *Config) Interval() time.Duration {
	d, _ := time.ParseDuration(c.Fanout.Interval)
	return d
}

// StoreOptions returns the options for the local store.
func (c *Config) StoreOptions() store.Options {
	backend := store.Backend(c.Storage.Backend)
	path := c.Storage.Path
	if path == "" {
		path = filepath.Join(c.Replica.DataDir, defaultStoreName(backend))
	}
	return store.Options{
		Backend:        backend,
		Path:           path,
		RedisAddr:      c.Storage.RedisAddr,
		RedisNamespace: c.Storage.RedisNamespace,
	}
}

// FolderOptions returns the options for the shared fan-out folder: Redis
// when fanout.redisAddr is set, a directory otherwise.
func (c *Config) FolderOptions() store.Options {
	if c.Fanout.RedisAddr != "" {
		return store.Options{Backend: store.BackendRedis, RedisAddr: c.Fanout.RedisAddr}
	}
	root := c.Fanout.Root
	if root == "" {
		root = filepath.Join(c.Replica.DataDir, "shared")
	}
	return store.Options{Backend: store.BackendFS, Path: root}
}

func defaultStoreName(b store.Backend) string {
	switch b {
	case store.BackendSQLite:
		return "docsync.db"
	case store.BackendBolt:
		return "docsync.bolt"
	default:
		return string(b)
	}
}

// formatCUEError extracts position info from CUE errors. src is searched
// for the offending field when no error carries a position.
func formatCUEError(err error, src ...cue.Value) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Message: err.Error()}
	}
	first := errs[0]
	cfgErr := &Error{Message: first.Error(), Pos: errorPos(errs, src)}
	if len(errs) > 1 {
		cfgErr.Message = fmt.Sprintf("%s (and %d more errors)", cfgErr.Message, len(errs)-1)
	}
	return cfgErr
}

// errorPos returns the first valid position reported by errs, preferring
// the user's field over schema positions.
func errorPos(errs []cueerrors.Error, src []cue.Value) token.Pos {
	for _, e := range errs {
		path := e.Path()
		if len(path) == 0 {
			continue
		}
		sel := cue.ParsePath(strings.Join(path, "."))
		if sel.Err() != nil {
			continue
		}
		for _, v := range src {
			if pos := v.LookupPath(sel).Pos(); pos.IsValid() {
				return pos
			}
		}
	}
	for _, e := range errs {
		if pos := e.Position(); pos.IsValid() {
			return pos
		}
		for _, pos := range cueerrors.Positions(e) {
			if pos.IsValid() {
				return pos
			}
		}
	}
	return token.NoPos
}

// IsConfigError reports whether err came from configuration validation.
func IsConfigError(err error) bool {
	var cfgErr *Error
	return errors.As(err, &cfgErr)
}
