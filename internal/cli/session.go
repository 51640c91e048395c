package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/docsync/internal/codec"
	"github.com/roach88/docsync/internal/config"
	"github.com/roach88/docsync/internal/doc"
	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/path"
	"github.com/roach88/docsync/internal/store"
)

// session is what a document command needs: the loaded config, the
// local store and the configured codec.
type session struct {
	opts   *RootOptions
	cfg    *config.Config
	local  store.Storage
	codec  codec.Codec
	out    *OutputFormatter
	logger *slog.Logger
}

func newFormatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// openSession loads the config and opens the local store. Errors are
// already reported through the formatter.
func openSession(cmd *cobra.Command, opts *RootOptions) (*session, error) {
	out := newFormatter(cmd, opts)

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, out.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	c, err := codec.ByName(cfg.Codec)
	if err != nil {
		return nil, out.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}

	storeOpts := cfg.StoreOptions()
	local, err := openStorage(storeOpts)
	if err != nil {
		return nil, out.Fail(ExitCommandError, ErrCodeStore, "failed to open store", err)
	}
	out.VerboseLog("opened %s store at %s", storeOpts.Backend, storeOpts.Path)

	return &session{
		opts:   opts,
		cfg:    cfg,
		local:  local,
		codec:  c,
		out:    out,
		logger: slog.Default(),
	}, nil
}

// openStorage creates the parent directory of path-based backends first.
func openStorage(opts store.Options) (store.Storage, error) {
	if opts.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return nil, err
		}
	}
	return store.Open(opts)
}

func (s *session) Close() {
	if err := s.local.Close(); err != nil {
		s.logger.Error("error closing store", "error", err)
	}
}

func (s *session) docOptions() []doc.Option {
	return []doc.Option{doc.WithLogger(s.logger)}
}

// load returns the local replica of docID. A missing document is an error.
func (s *session) load(ctx context.Context, docID string) (*doc.Document, error) {
	d, found, err := s.find(ctx, docID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, s.out.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("document %q not found", docID), nil)
	}
	return d, nil
}

// find is load without the missing-document error.
func (s *session) find(ctx context.Context, docID string) (*doc.Document, bool, error) {
	d, found, err := store.LoadDocument(ctx, s.local, docID, s.codec, s.docOptions()...)
	switch {
	case errors.Is(err, store.ErrInvalidKey):
		return nil, false, s.out.Fail(ExitCommandError, ErrCodeInvalidInput, "invalid document id", err)
	case err != nil:
		return nil, false, s.out.Fail(ExitCommandError, ErrCodeStore, "failed to load document", err)
	}
	return d, found, nil
}

func (s *session) save(ctx context.Context, docID string, d *doc.Document) error {
	if err := store.SaveDocument(ctx, s.local, docID, d, s.codec); err != nil {
		return s.out.Fail(ExitCommandError, ErrCodeStore, "failed to save document", err)
	}
	s.logger.Debug("document saved", "doc", docID, "version", d.DocVersion())
	return nil
}

// report prints result as JSON or text as the format asks.
func (s *session) report(result any, text string) error {
	if s.opts.Format == "json" {
		return s.out.Success(result)
	}
	return s.out.Success(text)
}

func (s *session) parsePath(raw string) (path.Path, error) {
	p, err := path.Parse(raw)
	if err != nil {
		return nil, s.out.Fail(ExitCommandError, ErrCodeInvalidInput, "invalid path", err)
	}
	return p, nil
}

func (s *session) parseValues(raw ...string) ([]ir.Value, error) {
	values := make([]ir.Value, 0, len(raw))
	for _, r := range raw {
		v, err := ir.Unmarshal([]byte(r))
		if err != nil {
			return nil, s.out.Fail(ExitCommandError, ErrCodeInvalidInput, fmt.Sprintf("invalid JSON value %q", r), err)
		}
		values = append(values, v)
	}
	return values, nil
}

// editFailed reports an error returned by a document mutation.
func (s *session) editFailed(err error) error {
	if doc.IsPathError(err, doc.ErrCodeNotFound) {
		return s.out.Fail(ExitCommandError, ErrCodeNotFound, "path not found", err)
	}
	return s.out.Fail(ExitCommandError, ErrCodeInvalidInput, "edit rejected", err)
}
