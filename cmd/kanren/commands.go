package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kanren/internal/cli"
	"github.com/hyperjump/kanren/internal/config"
	"github.com/hyperjump/kanren/internal/indexer"
	"github.com/hyperjump/kanren/internal/metadata"
	"github.com/hyperjump/kanren/internal/models"
)

// withComponents loads config, opens the index directly and runs fn. The
// context is cancelled on SIGINT/SIGTERM.
func (a *app) withComponents(fn func(ctx context.Context, c *Components) error) error {
	if err := a.setup(); err != nil {
		return err
	}
	components, err := initializeComponents(a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer components.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, components)
}

func newSyncCmd(a *app) *cobra.Command {
	var (
		keepMissing bool
		output      string
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Bring the index in line with the vault",
		Long: `Embed new and changed notes and drop entries for notes that no longer exist.
Unchanged notes are skipped. Interrupting a sync keeps the notes indexed so far.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			return a.withComponents(func(ctx context.Context, c *Components) error {
				deleteMissing := a.cfg.Indexing.DeleteMissingOrDefault() && !keepMissing
				bar := cli.NewProgressBar(cmd.ErrOrStderr(), "Syncing")
				res, err := c.Indexer.SyncVaultToIndex(ctx, indexer.SyncOptions{
					DeleteMissing: &deleteMissing,
					BatchSize:     a.cfg.Indexing.BatchSize,
					Observer:      bar,
				})
				bar.Finish()
				if err != nil {
					return fmt.Errorf("sync failed: %w", err)
				}
				return cli.WriteSyncResult(cmd.OutOrStdout(), res, format)
			})
		},
	}
	cmd.Flags().BoolVar(&keepMissing, "keep-missing", false, "keep entries for notes that no longer exist")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json or compact")
	return cmd
}

func newRebuildCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Discard the index and embed every note again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			return a.withComponents(func(ctx context.Context, c *Components) error {
				bar := cli.NewProgressBar(cmd.ErrOrStderr(), "Indexing")
				res, err := c.Indexer.RebuildVaultIndex(ctx, indexer.SyncOptions{Observer: bar})
				bar.Finish()
				if err != nil {
					return fmt.Errorf("rebuild failed: %w", err)
				}
				return cli.WriteSyncResult(cmd.OutOrStdout(), res, format)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json or compact")
	return cmd
}

// buildRelatedQuery turns arguments and flags into a query. Unset limit and
// min score come from cfg when it is loaded.
func buildRelatedQuery(cmd *cobra.Command, args []string, cfg *config.Config) (models.RelatedQuery, error) {
	var q models.RelatedQuery
	flags := cmd.Flags()
	if len(args) > 0 {
		q.NoteID = args[0]
	}
	q.Text, _ = flags.GetString("text")
	if q.NoteID == "" && q.Text == "" {
		return q, fmt.Errorf("a note id or --text is required")
	}
	q.Limit, _ = flags.GetInt("limit")
	if q.Limit == 0 && cfg != nil {
		q.Limit = cfg.Related.Limit
	}
	if flags.Changed("min-score") {
		m, _ := flags.GetFloat64("min-score")
		q.MinScore = &m
	} else if cfg != nil {
		m := cfg.Related.MinScoreOrDefault()
		q.MinScore = &m
	}
	if raw, _ := flags.GetString("filter"); raw != "" {
		filter, err := metadata.ParseFilter([]byte(raw))
		if err != nil {
			return q, fmt.Errorf("invalid --filter: %w", err)
		}
		q.Filter = filter
	}
	return q, nil
}

func newRelatedCmd(a *app) *cobra.Command {
	var output, serverURL string
	cmd := &cobra.Command{
		Use:   "related [note-id]",
		Short: "Show the notes most related to a note or a piece of text",
		Long: `Show the notes most related to a note or a piece of text.

An indexed note is compared through its stored embedding; any other note, or
--text, is embedded first. The note itself never appears in its results.

Examples:
  kanren related daily/2024-05-01.md
  kanren related --text "raised beds and companion planting" --limit 5
  kanren related projects/kanren.md --filter '{"folder": "projects"}' -o json
  kanren related daily/today.md --server http://localhost:8686`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			if serverURL != "" {
				// The server applies its own config defaults.
				q, err := buildRelatedQuery(cmd, args, nil)
				if err != nil {
					return err
				}
				resp, err := relatedViaHTTP(cmd.Context(), serverURL, &q)
				if err != nil {
					return err
				}
				return cli.WriteRelatedResults(cmd.OutOrStdout(), resp, format)
			}
			return a.withComponents(func(ctx context.Context, c *Components) error {
				q, err := buildRelatedQuery(cmd, args, a.cfg)
				if err != nil {
					return err
				}
				start := time.Now()
				notes, err := c.Indexer.GetSimilarNotes(ctx, q)
				if err != nil {
					return err
				}
				return cli.WriteRelatedResults(cmd.OutOrStdout(), &models.RelatedResponse{
					NoteID:    q.NoteID,
					Results:   notes,
					Total:     len(notes),
					QueryTime: time.Since(start).Milliseconds(),
				}, format)
			})
		},
	}
	cmd.Flags().StringP("text", "t", "", "find notes related to this text")
	cmd.Flags().IntP("limit", "n", 0, "maximum number of results (default from config)")
	cmd.Flags().Float64("min-score", models.DefaultRelatedMinScore, "minimum cosine similarity (default from config)")
	cmd.Flags().String("filter", "", `metadata filter as JSON, e.g. '{"folder": "daily"}'`)
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json or compact")
	cmd.Flags().StringVar(&serverURL, "server", "", "server URL (empty = open the index directly)")
	return cmd
}

func newIndexCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "index <note-id>",
		Short: "Index a single note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withComponents(func(ctx context.Context, c *Components) error {
				outcome, err := c.Indexer.UpsertNote(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], outcome)
				return nil
			})
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <note-id>",
		Short: "Remove a note from the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withComponents(func(ctx context.Context, c *Components) error {
				removed, err := c.Indexer.DeleteNote(ctx, args[0])
				if err != nil {
					return err
				}
				if removed {
					fmt.Fprintf(cmd.OutOrStdout(), "Note removed: %s\n", args[0])
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Note was not indexed: %s\n", args[0])
				}
				return nil
			})
		},
	}
}

func newRenameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <old-id> <new-id>",
		Short: "Move a note's index entry to a new id without re-embedding",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withComponents(func(ctx context.Context, c *Components) error {
				renamed, err := c.Indexer.RenameNote(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if renamed {
					fmt.Fprintf(cmd.OutOrStdout(), "Note renamed: %s -> %s\n", args[0], args[1])
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Note was not indexed: %s\n", args[0])
				}
				return nil
			})
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	var output, serverURL string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index and configuration status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			if serverURL != "" {
				status, err := statusViaHTTP(cmd.Context(), serverURL)
				if err != nil {
					return err
				}
				return cli.WriteStatus(cmd.OutOrStdout(), status, format)
			}
			return a.withComponents(func(ctx context.Context, c *Components) error {
				status, err := localStatus(ctx, c, a.cfg)
				if err != nil {
					return err
				}
				return cli.WriteStatus(cmd.OutOrStdout(), status, format)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json or compact")
	cmd.Flags().StringVar(&serverURL, "server", "", "server URL (empty = open the index directly)")
	return cmd
}

func localStatus(ctx context.Context, c *Components, cfg *config.Config) (*models.StatusResponse, error) {
	stats, err := c.Indexer.Stats(ctx)
	if err != nil {
		return nil, err
	}
	status := &models.StatusResponse{
		Version:       stats.Version,
		Notes:         stats.Items,
		Backend:       cfg.Storage.Backend,
		Provider:      cfg.Embedding.Provider,
		Dimensions:    c.Embedder.Dimensions(),
		VaultPath:     c.Vault.Root(),
		UpdatePending: c.Store.UpdateInProgress(),
		MinScore:      cfg.Related.MinScoreOrDefault(),
	}
	if n, err := storageOptions(cfg).DiskUsage(); err == nil {
		status.DiskUsage = n
	}
	return status, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show kanren version and build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "kanren version %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Go Version: %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
			return nil
		},
	}
}
