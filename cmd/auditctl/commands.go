package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"racing-admin/internal/audit"

	"github.com/spf13/cobra"
)

type backend struct {
	Store     audit.Store
	Retention *audit.Retention
	// Mutating is the policy's keep-list for purge-non-mutating.
	Mutating []string
	close    func()
}

func (b *backend) Close() {
	if b.close != nil {
		b.close()
	}
}

type opener func(ctx context.Context) (*backend, error)

type cli struct {
	open       opener
	jsonOutput bool
	timeout    time.Duration
}

func newRootCmd(open opener) *cobra.Command {
	c := &cli{open: open}

	root := &cobra.Command{
		Use:           "auditctl",
		Short:         "Inspect and maintain the admin audit trail",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&c.jsonOutput, "json", false, "output in JSON format")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 2*time.Minute, "overall deadline for the command")

	root.AddCommand(
		c.searchCmd(),
		c.getCmd(),
		c.purgeNonMutatingCmd(),
		c.purgeMethodsCmd(),
		c.clearCmd(),
		c.retentionCmd(),
	)
	return root
}

// with opens the backend for the duration of fn.
func (c *cli) with(cmd *cobra.Command, fn func(ctx context.Context, b *backend) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), c.timeout)
	defer cancel()

	b, err := c.open(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer b.Close()
	return fn(ctx, b)
}

func (c *cli) searchCmd() *cobra.Command {
	var page, size int
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search events, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := ""
			if len(args) == 1 {
				q = args[0]
			}
			return c.with(cmd, func(ctx context.Context, b *backend) error {
				p, err := b.Store.Search(ctx, q, page, size)
				if err != nil {
					return err
				}
				if c.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), p)
				}
				printEvents(cmd.OutOrStdout(), p.Items)
				fmt.Fprintf(cmd.OutOrStdout(), "page %d/%d, %d total\n", p.Page+1, max(p.TotalPages, 1), p.Total)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&page, "page", 0, "zero-based page")
	cmd.Flags().IntVar(&size, "size", audit.DefaultPageSize, "page size (5-100)")
	return cmd
}

func (c *cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid id %q", args[0])
			}
			return c.with(cmd, func(ctx context.Context, b *backend) error {
				e, err := b.Store.Get(ctx, id)
				if errors.Is(err, audit.ErrNotFound) {
					return fmt.Errorf("event %d not found", id)
				}
				if err != nil {
					return err
				}
				if c.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), e)
				}
				printEvents(cmd.OutOrStdout(), []audit.Event{e})
				if e.Note != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "note: %s\n", e.Note)
				}
				return nil
			})
		},
	}
}

func (c *cli) purgeNonMutatingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge-non-mutating",
		Short: "Delete events whose method is not a mutating verb",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.with(cmd, func(ctx context.Context, b *backend) error {
				keep := b.Mutating
				if len(keep) == 0 {
					keep = audit.MutatingMethods
				}
				n, err := b.Store.DeleteExceptMethods(ctx, keep)
				if err != nil {
					return err
				}
				return c.report(cmd.OutOrStdout(), "non-mutating events purged", n)
			})
		},
	}
}

// purgeMethodsCmd is a one-off cleanup after a policy change, e.g.
// "auditctl purge-methods OPTIONS" once preflights stop being audited.
func (c *cli) purgeMethodsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge-methods METHOD...",
		Short: "Delete events recorded for the given methods",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.with(cmd, func(ctx context.Context, b *backend) error {
				n, err := b.Store.DeleteByMethods(ctx, args)
				if err != nil {
					return err
				}
				return c.report(cmd.OutOrStdout(), "events purged", n)
			})
		},
	}
}

func (c *cli) clearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every audit event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear the audit trail without --yes")
			}
			return c.with(cmd, func(ctx context.Context, b *backend) error {
				n, err := b.Store.ClearAll(ctx)
				if err != nil {
					return err
				}
				return c.report(cmd.OutOrStdout(), "audit log cleared", n)
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func (c *cli) retentionCmd() *cobra.Command {
	retention := &cobra.Command{
		Use:   "retention",
		Short: "Retention maintenance",
	}
	retention.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run one retention pass now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.with(cmd, func(ctx context.Context, b *backend) error {
				res, err := b.Retention.RunOnce(ctx)
				if errors.Is(err, audit.ErrRetentionBusy) {
					return errors.New("a retention run is already in progress")
				}
				if err != nil {
					return err
				}
				if c.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cutoff %s: %d expired, %d non-mutating deleted\n",
					res.Cutoff.Format(time.RFC3339), res.ExpiredDeleted, res.MethodDeleted)
				return nil
			})
		},
	})
	return retention
}

func (c *cli) report(w io.Writer, msg string, n int64) error {
	if c.jsonOutput {
		return writeJSON(w, map[string]any{"message": msg, "deleted": n})
	}
	fmt.Fprintf(w, "%s: %d deleted\n", msg, n)
	return nil
}

func printEvents(w io.Writer, events []audit.Event) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tACTOR\tROLE\tMETHOD\tPATH\tSTATUS")
	for _, e := range events {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%d\n",
			e.ID, e.CreatedAt.Format(time.RFC3339), e.ActorEmail, e.ActorRole, e.Method, e.Path, e.Status)
	}
	_ = tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
