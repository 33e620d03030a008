package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/perfmon-backend/internal/events"
	"github.com/tbourn/perfmon-backend/internal/importer"
	"github.com/tbourn/perfmon-backend/internal/services"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			log.Info().Str("db", cfg.DBPath).Msg("schema up to date")
			return nil
		},
	}
}

type importOptions struct {
	Mode              string
	ConfirmDeactivate bool
}

func newImportCmd(root *rootOptions) *cobra.Command {
	var opts importOptions
	cmd := &cobra.Command{
		Use:   "import <domain> <file>",
		Short: "Validate or commit a CSV/XLSX file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := root.load()
			if err != nil {
				return err
			}
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()

			svc := services.NewImportService(importer.New(db, cfg.BudgetYear))
			rep, err := svc.Run(cmd.Context(), services.ImportRequest{
				Domain:            args[0],
				Mode:              opts.Mode,
				Filename:          filepath.Base(args[1]),
				Body:              f,
				ConfirmDeactivate: opts.ConfirmDeactivate,
				Actor:             root.Actor,
			})
			if rep != nil {
				if werr := writeJSON(cmd.OutOrStdout(), rep); werr != nil {
					return werr
				}
			}
			var aborted *importer.CommitAbortedError
			if errors.As(err, &aborted) {
				return fmt.Errorf("%s: nothing was written", aborted.Error())
			}
			return err
		},
	}
	cmd.Flags().StringVar(&opts.Mode, "mode", string(importer.ModeDryRun), "dry-run or commit")
	cmd.Flags().BoolVar(&opts.ConfirmDeactivate, "confirm-deactivate", false, "deactivate services missing from the file")
	return cmd
}

func newTemplateCmd() *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "template <domain>",
		Short: "Write an empty import template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := services.NewImportService(nil)
			body, _, err := svc.Template(args[0], strings.ToLower(format))
			if err != nil {
				return err
			}
			if out == "" {
				out = args[0] + "-template." + strings.ToLower(format)
			}
			if err := os.WriteFile(out, body, 0o644); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", importer.FormatCSV, "csv or xlsx")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output path")
	return cmd
}

func newRecomputeCmd(opts *rootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Drain the recompute queue, or rebuild everything with --all",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, db, err := opts.load()
			if err != nil {
				return err
			}
			var pub events.Publisher = events.Nop{}
			if len(cfg.Kafka.Brokers) > 0 {
				pub = events.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.TriggerTopic)
			}
			defer pub.Close()

			settings := services.NewSettingsService(db, cfg.Engine)
			compute := services.NewComputeService(db, settings, pub, cfg.BudgetYear, cfg.BudgetScenario)
			if !all {
				sum, err := compute.Recompute(cmd.Context())
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), sum)
			}
			daily, err := compute.BudgetDaily(cmd.Context(), 0, "")
			if err != nil {
				return err
			}
			dev, err := compute.Deviations(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"budget_daily": daily, "deviations": dev})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "recompute the configured plan and all deviations")
	return cmd
}

func newDQCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dq",
		Short: "Run data-quality checks; exits non-zero when a check fails",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, db, err := opts.load()
			if err != nil {
				return err
			}
			rep, err := services.NewDQService(db, cfg.BudgetYear, cfg.ScopedAssignments()).Run(cmd.Context())
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), rep); err != nil {
				return err
			}
			if !rep.OK {
				return errors.New("data-quality checks failed")
			}
			return nil
		},
	}
}
