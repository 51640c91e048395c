package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/docsync/internal/doc"
	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/store"
	"github.com/roach88/docsync/internal/version"
)

// EditResult is reported by commands that change a document.
type EditResult struct {
	Doc     string          `json:"doc"`
	Client  string          `json:"client"`
	Version version.Version `json:"version"`
}

func editResult(docID string, d *doc.Document) EditResult {
	return EditResult{Doc: docID, Client: d.ClientID(), Version: d.DocVersion()}
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "init <doc>",
		Short: "Create a new document",
		Long: `Create a new document on this replica.

The replica gets a fresh client id. Other replicas obtain the document
with "merge" (from a snapshot file) or "sync" (from the shared folder).

Examples:
  docsync init todo
  docsync init todo --data '{"title":"groceries","items":[]}'`,
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

			if _, found, err := sess.find(ctx, docID); err != nil {
				return err
			} else if found {
				return sess.out.Fail(ExitCommandError, ErrCodeExists, fmt.Sprintf("document %q already exists", docID), nil)
			}

			values, err := sess.parseValues(data)
			if err != nil {
				return err
			}
			d, err := doc.New(values[0], sess.docOptions()...)
			if err != nil {
				return sess.out.Fail(ExitCommandError, ErrCodeInvalidInput, "invalid document data", err)
			}
			if err := sess.save(ctx, docID, d); err != nil {
				return err
			}
			res := editResult(docID, d)
			return sess.report(res, fmt.Sprintf("Created %s (client %s, version %s)", docID, res.Client, res.Version))
		},
	}

	cmd.Flags().StringVar(&data, "data", "{}", "initial data, a JSON object")

	return cmd
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List local documents",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer sess.Close()

			ids, err := store.ListDocuments(cmd.Context(), sess.local)
			if err != nil {
				return sess.out.Fail(ExitCommandError, ErrCodeStore, "failed to list documents", err)
			}
			if len(ids) == 0 && rootOpts.Format != "json" {
				return sess.out.Success("No documents.")
			}
			return sess.report(ids, strings.Join(ids, "\n"))
		},
	}
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	var hash bool

	cmd := &cobra.Command{
		Use:   "get <doc> [path]",
		Short: "Print document data",
		Long: `Print the data of a document, or of the value at path, as JSON.

Paths use dot-and-bracket notation: "title", "items[0]", "a.b[2].c".

With --hash, print a content hash of the data instead. Replicas holding
equal data print equal hashes.

Examples:
  docsync get todo
  docsync get todo items[0]
  docsync get todo --hash`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer sess.Close()

			d, err := sess.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			raw := ""
			if len(args) == 2 {
				raw = args[1]
			}
			p, err := sess.parsePath(raw)
			if err != nil {
				return err
			}
			v, err := d.GetData(p)
			if err != nil {
				return sess.editFailed(err)
			}
			if hash {
				h, err := ir.SnapshotHash(v)
				if err != nil {
					return sess.out.Fail(ExitCommandError, ErrCodeGeneric, "failed to hash data", err)
				}
				return sess.out.Success(h)
			}
			data, err := ir.Marshal(v)
			if err != nil {
				return sess.out.Fail(ExitCommandError, ErrCodeGeneric, "failed to encode data", err)
			}
			return sess.out.Document(data)
		},
	}

	cmd.Flags().BoolVar(&hash, "hash", false, "print a content hash of the data")

	return cmd
}

// NewSetCommand creates the set command.
func NewSetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <doc> <path> <json>",
		Short: "Set the value at a path",
		Long: `Set the value at path to a JSON value.

On an object the last path step names a key. On an array it names an
index; the array length appends.

Examples:
  docsync set todo title '"weekend"'
  docsync set todo items[0] '{"name":"milk","done":true}'`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return editDocument(cmd, rootOpts, args[0], func(sess *session, d *doc.Document) error {
				p, err := sess.parsePath(args[1])
				if err != nil {
					return err
				}
				values, err := sess.parseValues(args[2])
				if err != nil {
					return err
				}
				if err := d.Set(p, values[0]); err != nil {
					return sess.editFailed(err)
				}
				return nil
			})
		},
	}
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <doc> <path>",
		Short: "Remove the value at a path",
		Long: `Remove an object key or an array element.

Examples:
  docsync remove todo title
  docsync remove todo items[2]`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return editDocument(cmd, rootOpts, args[0], func(sess *session, d *doc.Document) error {
				p, err := sess.parsePath(args[1])
				if err != nil {
					return err
				}
				if len(p) == 0 {
					return sess.out.Fail(ExitCommandError, ErrCodeInvalidInput, "cannot remove the document root", nil)
				}
				if err := d.Remove(p); err != nil {
					return sess.editFailed(err)
				}
				return nil
			})
		},
	}
}

// NewPushCommand creates the push command.
func NewPushCommand(rootOpts *RootOptions) *cobra.Command {
	var at int

	cmd := &cobra.Command{
		Use:   "push <doc> <path> <json>...",
		Short: "Append values to an array",
		Long: `Append JSON values to the array at path, or insert them before
index --at.

Examples:
  docsync push todo items '"milk"' '"eggs"'
  docsync push todo items '"bread"' --at 0`,
		Args:          cobra.MinimumNArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return editDocument(cmd, rootOpts, args[0], func(sess *session, d *doc.Document) error {
				p, err := sess.parsePath(args[1])
				if err != nil {
					return err
				}
				values, err := sess.parseValues(args[2:]...)
				if err != nil {
					return err
				}
				if at >= 0 {
					err = d.Insert(p, at, values...)
				} else {
					err = d.Push(p, values...)
				}
				if err != nil {
					return sess.editFailed(err)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&at, "at", -1, "insert before this index instead of appending")

	return cmd
}

// editDocument loads docID, applies edit and saves the result.
func editDocument(cmd *cobra.Command, rootOpts *RootOptions, docID string, edit func(*session, *doc.Document) error) error {
	sess, err := openSession(cmd, rootOpts)
	if err != nil {
		return err
	}
	defer sess.Close()
	ctx := cmd.Context()

	d, err := sess.load(ctx, docID)
	if err != nil {
		return err
	}
	before := d.DocVersion()
	if err := edit(sess, d); err != nil {
		return err
	}
	if err := sess.save(ctx, docID, d); err != nil {
		return err
	}
	res := editResult(docID, d)
	if res.Version == before {
		return sess.report(res, fmt.Sprintf("%s unchanged (version %s)", docID, res.Version))
	}
	return sess.report(res, fmt.Sprintf("Updated %s (version %s)", docID, res.Version))
}
