package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/docsync/internal/doc"
	"github.com/roach88/docsync/internal/fanout"
	"github.com/roach88/docsync/internal/store"
	"github.com/roach88/docsync/internal/version"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Watch    bool
	Interval time.Duration // zero means the configured interval
}

// SyncReport is reported after a single sync round.
type SyncReport struct {
	Doc         string          `json:"doc"`
	Client      string          `json:"client"`
	Version     version.Version `json:"version"`
	Joined      bool            `json:"joined"`
	Clients     int             `json:"clients"`
	Merged      int             `json:"merged"`
	Part        string          `json:"part,omitempty"`
	Compacted   bool            `json:"compacted"`
	Removed     int             `json:"removed"`
	FolderKeys  int             `json:"folderKeys"`
	FolderBytes int64           `json:"folderBytes"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync <doc>",
		Short: "Sync a document through the shared folder",
		Long: `Pull the changes other replicas published to the shared folder and
publish this replica's changes.

A document that does not exist locally is joined from the newest
snapshot in the folder. With --watch, sync runs on every interval until
interrupted.

Examples:
  docsync sync todo
  docsync sync todo --watch --interval 2s`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "keep syncing until interrupted")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "time between rounds with --watch (default from config)")

	return cmd
}

func runSync(opts *SyncOptions, docID string, cmd *cobra.Command) error {
	sess, err := openSession(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer sess.Close()
	ctx := cmd.Context()

	folderOpts := sess.cfg.FolderOptions()
	folder, err := openStorage(folderOpts)
	if err != nil {
		return sess.out.Fail(ExitCommandError, ErrCodeStore, "failed to open shared folder", err)
	}
	defer func() {
		if closeErr := folder.Close(); closeErr != nil {
			sess.logger.Error("error closing shared folder", "error", closeErr)
		}
	}()
	sess.out.VerboseLog("opened %s folder %s", folderOpts.Backend, folderOpts.Path)

	d, found, err := sess.find(ctx, docID)
	if err != nil {
		return err
	}
	var state fanout.State
	joined := !found
	if joined {
		d, state, err = fanout.Join(ctx, folder, docID, sess.codec, sess.docOptions()...)
		switch {
		case errors.Is(err, fanout.ErrNoSnapshot):
			return sess.out.Fail(ExitCommandError, ErrCodeNotFound,
				fmt.Sprintf("document %q not found locally or in the shared folder", docID), err)
		case err != nil:
			return sess.out.Fail(ExitFailure, ErrCodeSync, "failed to join document", err)
		}
		if err := sess.save(ctx, docID, d); err != nil {
			return err
		}
		if err := fanout.SaveState(ctx, sess.local, docID, state); err != nil {
			return sess.out.Fail(ExitCommandError, ErrCodeStore, "failed to save sync state", err)
		}
		sess.logger.Info("joined document", "doc", docID, "client", d.ClientID())
	} else {
		state, err = fanout.LoadState(ctx, sess.local, docID)
		if err != nil {
			return sess.out.Fail(ExitCommandError, ErrCodeStore, "failed to load sync state", err)
		}
	}

	var syncer *fanout.Syncer
	syncer, err = fanout.New(folder, docID, d,
		fanout.WithCodec(sess.codec),
		fanout.WithMaxPartBytes(sess.cfg.Fanout.MaxPartBytes),
		fanout.WithMaxParts(sess.cfg.Fanout.MaxParts),
		fanout.WithLogger(sess.logger),
		fanout.WithState(state),
		fanout.WithAfterSync(func(ctx context.Context) error {
			return persist(ctx, sess, docID, d, syncer)
		}),
	)
	if err != nil {
		return sess.out.Fail(ExitCommandError, ErrCodeSync, "failed to start sync", err)
	}

	if opts.Watch {
		return watch(ctx, opts, sess, docID, syncer, cmd)
	}

	res, err := syncer.Sync(ctx)
	if err != nil {
		return sess.out.Fail(ExitFailure, ErrCodeSync, "sync failed", err)
	}
	keys, size, err := store.Usage(ctx, folder, docID+"/")
	if err != nil {
		return sess.out.Fail(ExitCommandError, ErrCodeStore, "failed to measure shared folder", err)
	}

	report := SyncReport{
		Doc:         docID,
		Client:      d.ClientID(),
		Version:     d.DocVersion(),
		Joined:      joined,
		Clients:     res.Pull.Clients,
		Merged:      res.Pull.Merged,
		Compacted:   res.Publish.Compacted,
		Removed:     res.Publish.Removed,
		FolderKeys:  keys,
		FolderBytes: size,
	}
	if !res.Publish.Skipped {
		report.Part = res.Publish.Part.ID
	}
	return sess.report(report, syncText(report))
}

// persist saves the document and the syncer bookkeeping after a round.
func persist(ctx context.Context, sess *session, docID string, d *doc.Document, syncer *fanout.Syncer) error {
	if err := store.SaveDocument(ctx, sess.local, docID, d, sess.codec); err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	if err := fanout.SaveState(ctx, sess.local, docID, syncer.State()); err != nil {
		return fmt.Errorf("save sync state: %w", err)
	}
	return nil
}

func watch(parentCtx context.Context, opts *SyncOptions, sess *session, docID string, syncer *fanout.Syncer, cmd *cobra.Command) error {
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			sess.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	interval := opts.Interval
	if interval <= 0 {
		interval = sess.cfg.Interval()
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s every %s. Press Ctrl-C to stop.\n", docID, interval)

	err := syncer.Run(ctx, interval)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return sess.out.Fail(ExitFailure, ErrCodeSync, "sync stopped", err)
	}
	sess.logger.Info("sync stopped gracefully")
	return nil
}

func syncText(r SyncReport) string {
	var b []byte
	if r.Joined {
		b = fmt.Appendf(b, "Joined %s as %s\n", r.Doc, r.Client)
	}
	b = fmt.Appendf(b, "Pulled %d change set(s) from %d client(s)\n", r.Merged, r.Clients)
	switch {
	case r.Part == "":
		b = fmt.Appendf(b, "Nothing to publish\n")
	case r.Compacted:
		b = fmt.Appendf(b, "Published snapshot part %s (removed %d old part(s))\n", r.Part, r.Removed)
	default:
		b = fmt.Appendf(b, "Published part %s\n", r.Part)
	}
	b = fmt.Appendf(b, "%s at version %s; folder holds %d key(s), %d bytes", r.Doc, r.Version, r.FolderKeys, r.FolderBytes)
	return string(b)
}
