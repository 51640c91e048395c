package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/docsync/internal/codec"
	"github.com/roach88/docsync/internal/doc"
	"github.com/roach88/docsync/internal/version"
)

// ChangesResult is reported by changes when the envelope goes to a file.
type ChangesResult struct {
	Doc      string          `json:"doc"`
	File     string          `json:"file"`
	Codec    string          `json:"codec"`
	Snapshot bool            `json:"snapshot"`
	Since    version.Version `json:"since"`
	Bytes    int             `json:"bytes"`
}

// MergeResult is reported by merge.
type MergeResult struct {
	Doc     string          `json:"doc"`
	From    string          `json:"from"`
	Created bool            `json:"created"`
	Client  string          `json:"client"`
	Version version.Version `json:"version"`
}

// NewChangesCommand creates the changes command.
func NewChangesCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		peer  string
		since string
		out   string
	)

	cmd := &cobra.Command{
		Use:   "changes <doc>",
		Short: "Export a change envelope",
		Long: `Export the changes of a document for another replica.

With --peer the envelope holds what that replica has not acknowledged.
With --since it holds every change after a document version. Without
either it is a full snapshot, which can create a new replica.

The envelope is encoded with the configured codec. It is written to
--out, or to stdout.

Examples:
  docsync changes todo --out todo.snapshot
  docsync changes todo --peer client-0Ab3x9Qz --out todo.delta
  docsync changes todo --since -----4`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			docID := args[0]
			sess, err := openSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer sess.Close()
			ctx := cmd.Context()

			if peer != "" && since != "" {
				return sess.out.Fail(ExitCommandError, ErrCodeInvalidInput, "--peer and --since are mutually exclusive", nil)
			}
			d, err := sess.load(ctx, docID)
			if err != nil {
				return err
			}

			var env *doc.Envelope
			if since != "" {
				v, err := version.Parse(since)
				if err != nil {
					return sess.out.Fail(ExitCommandError, ErrCodeInvalidInput, "invalid version", err)
				}
				env = d.GetChangesSince(v)
			} else {
				env = d.GetChanges(peer)
			}
			// Node ids handed out while diffing must survive.
			if err := sess.save(ctx, docID, d); err != nil {
				return err
			}

			data, err := sess.codec.Marshal(env)
			if err != nil {
				return sess.out.Fail(ExitCommandError, ErrCodeGeneric, "failed to encode changes", err)
			}
			sess.logger.Debug("changes exported",
				"doc", docID,
				"since", env.ChangesSince,
				"codec", sess.codec.Name(),
				"bytes", len(data))

			if out == "" {
				if sess.codec.Name() == "json" {
					return sess.out.Document(data)
				}
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return sess.out.Fail(ExitCommandError, ErrCodeGeneric, "failed to write changes", err)
			}
			res := ChangesResult{
				Doc:      docID,
				File:     out,
				Codec:    sess.codec.Name(),
				Snapshot: env.IsSnapshot(),
				Since:    env.ChangesSince,
				Bytes:    len(data),
			}
			kind := "delta"
			if res.Snapshot {
				kind = "snapshot"
			}
			return sess.report(res, fmt.Sprintf("Wrote %s of %s to %s (%d bytes)", kind, docID, out, res.Bytes))
		},
	}

	cmd.Flags().StringVar(&peer, "peer", "", "export what this client id has not acknowledged")
	cmd.Flags().StringVar(&since, "since", "", "export changes after this document version")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the envelope to a file instead of stdout")

	return cmd
}

// NewMergeCommand creates the merge command.
func NewMergeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "merge <doc> <file|->",
		Short: "Merge a change envelope",
		Long: `Merge a change envelope exported by another replica.

The codec is detected from the content, so JSON and msgpack envelopes
are both accepted. When the document does not exist locally the
envelope must be a snapshot and a new replica is created from it.
Use "-" to read from stdin.

Examples:
  docsync merge todo todo.snapshot
  docsync changes todo | docsync merge todo -`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			docID, file := args[0], args[1]
			sess, err := openSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer sess.Close()
			ctx := cmd.Context()

			var data []byte
			if file == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(file)
			}
			if err != nil {
				return sess.out.Fail(ExitCommandError, ErrCodeInvalidInput, "failed to read changes", err)
			}
			env, err := decodeEnvelope(data)
			if err != nil {
				return sess.out.Fail(ExitCommandError, ErrCodeInvalidInput, "failed to decode changes", err)
			}

			d, found, err := sess.find(ctx, docID)
			if err != nil {
				return err
			}
			created := !found
			if created {
				d, err = doc.FromSnapshot(env, sess.docOptions()...)
				if errors.Is(err, doc.ErrNotSnapshot) {
					return sess.out.Fail(ExitCommandError, ErrCodeInvalidInput,
						fmt.Sprintf("document %q not found and the changes are not a snapshot", docID), err)
				}
			} else {
				err = d.MergeChanges(env)
			}
			if err != nil {
				return sess.out.Fail(ExitCommandError, ErrCodeInvalidInput, "invalid changes", err)
			}
			if err := sess.save(ctx, docID, d); err != nil {
				return err
			}

			res := MergeResult{
				Doc:     docID,
				From:    env.SentBy,
				Created: created,
				Client:  d.ClientID(),
				Version: d.DocVersion(),
			}
			if created {
				return sess.report(res, fmt.Sprintf("Created %s from %s (client %s, version %s)", docID, res.From, res.Client, res.Version))
			}
			return sess.report(res, fmt.Sprintf("Merged changes from %s into %s (version %s)", res.From, docID, res.Version))
		},
	}
}

// decodeEnvelope picks the codec from the first byte: JSON envelopes are
// objects, msgpack maps never start with '{'.
func decodeEnvelope(data []byte) (*doc.Envelope, error) {
	name := "msgpack"
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		name = "json"
	}
	c, err := codec.ByName(name)
	if err != nil {
		return nil, err
	}
	return c.Unmarshal(data)
}
