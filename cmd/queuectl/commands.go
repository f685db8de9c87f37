package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"qms/branch-queue/internal/app"
	"qms/branch-queue/internal/auth"
	"qms/branch-queue/internal/config"
	"qms/branch-queue/internal/queue"
	"qms/branch-queue/internal/report"
	"qms/branch-queue/internal/settings"

	"github.com/spf13/cobra"
)

// backendFunc opens the configured store; tests replace it.
type backendFunc func(ctx context.Context) (*app.Backend, error)

// A memory store lives inside one process, so the CLI would only ever see
// an empty queue of its own.
var errMemoryStore = errors.New("queuectl needs STORE_DRIVER=postgres")

func defaultBackend(ctx context.Context) (*app.Backend, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return openBackend(ctx, cfg)
}

func openBackend(ctx context.Context, cfg config.Config) (*app.Backend, error) {
	if cfg.StoreDriver == config.StoreMemory {
		return nil, errMemoryStore
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return app.Open(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(defaultBackend)
}

func newRootCmdWith(open backendFunc) *cobra.Command {
	root := &cobra.Command{
		Use:           "queuectl",
		Short:         "Administer the branch queue",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newIssueCmd(open),
		newArchiveCmd(open),
		newExportCmd(open),
		newResetCmd(open),
		newSettingsCmd(open),
		newHashPasswordCmd(),
	)
	return root
}

func withBackend(cmd *cobra.Command, open backendFunc, fn func(ctx context.Context, b *app.Backend) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	backend, err := open(ctx)
	if err != nil {
		return err
	}
	defer backend.Close()
	return fn(ctx, backend)
}

func newIssueCmd(open backendFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "issue COUNTER",
		Short: "Issue a ticket for counter A, B or C",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, open, func(ctx context.Context, b *app.Backend) error {
				issuer := queue.NewIssuer(b.Store, queue.IssuerOptions{Sequencer: b.Sequencer})
				ticket, err := issuer.Issue(ctx, strings.ToUpper(args[0]))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", ticket.TicketNumber, ticket.TicketID)
				return nil
			})
		},
	}
}

func newArchiveCmd(open backendFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "archive",
		Short: "Move completion records into reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, open, func(ctx context.Context, b *app.Backend) error {
				moved, err := queue.NewArchiver(b.Store).Archive(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "archived %d records\n", moved)
				return err
			})
		},
	}
}

func newExportCmd(open backendFunc) *cobra.Command {
	var (
		format string
		month  int
		year   int
		output string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export archived reports as xlsx or csv",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format = strings.ToLower(format)
			if format != report.FormatXLSX && format != report.FormatCSV {
				return fmt.Errorf("format must be xlsx or csv")
			}
			return withBackend(cmd, open, func(ctx context.Context, b *app.Backend) error {
				svc := report.NewService(b.Store, report.Options{Location: time.Local})
				filter := report.ReportFilter{Month: month, Year: year}
				reports, err := svc.Reports(ctx, filter)
				if err != nil {
					return err
				}
				var w io.Writer = cmd.OutOrStdout()
				if output == "" {
					output = report.FileName(format, filter)
				}
				if output != "-" {
					f, err := os.Create(output)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				if err := svc.Export(w, format, reports); err != nil {
					return err
				}
				if output != "-" {
					fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d reports to %s\n", len(reports), output)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", report.FormatXLSX, "xlsx or csv")
	cmd.Flags().IntVar(&month, "month", 0, "completion month (1-12, 0 for all)")
	cmd.Flags().IntVar(&year, "year", 0, "completion year (0 for all)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file, - for stdout")
	return cmd
}

func newResetCmd(open backendFunc) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every ticket and restart numbering",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to reset without --yes")
			}
			return withBackend(cmd, open, func(ctx context.Context, b *app.Backend) error {
				issuer := queue.NewIssuer(b.Store, queue.IssuerOptions{Sequencer: b.Sequencer})
				deleted, err := issuer.Reset(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d tickets\n", deleted)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}

func newSettingsCmd(open backendFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the outlet settings",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the current settings as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, open, func(ctx context.Context, b *app.Backend) error {
				current, err := settings.NewService(b.Store).Get(ctx)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(current)
			})
		},
	}

	var patch settings.Patch
	set := &cobra.Command{
		Use:   "set",
		Short: "Change settings given as flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := map[string]**string{
				"outlet-name":  &patch.OutletName,
				"running-text": &patch.RunningText,
				"video-url":    &patch.VideoURL,
				"audio-url":    &patch.AudioURL,
			}
			changed := false
			for name, field := range flags {
				if !cmd.Flags().Changed(name) {
					*field = nil
					continue
				}
				value, err := cmd.Flags().GetString(name)
				if err != nil {
					return err
				}
				*field = &value
				changed = true
			}
			if !changed {
				return fmt.Errorf("nothing to change")
			}
			return withBackend(cmd, open, func(ctx context.Context, b *app.Backend) error {
				updated, err := settings.NewService(b.Store).Update(ctx, patch)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(updated)
			})
		},
	}
	set.Flags().String("outlet-name", "", "outlet name shown on the display")
	set.Flags().String("running-text", "", "ticker text")
	set.Flags().String("video-url", "", "display video, YouTube links are converted to embeds")
	set.Flags().String("audio-url", "", "announcement chime")

	cmd.AddCommand(show, set)
	return cmd
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password PASSWORD",
		Short: "Print a bcrypt hash for an operators file entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
