package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"mailroute/internal/config"
	"mailroute/internal/intake"
	"mailroute/internal/routing"
	"mailroute/pkg/cel"
	"mailroute/pkg/health"
)

const (
	outputText = "text"
	outputJSON = "json"
)

func processCmd(opts *rootOptions) *cobra.Command {
	var (
		dryRun    bool
		showStats bool
		output    string
	)

	cmd := &cobra.Command{
		Use:   "process <file|dir>...",
		Short: "Route .eml, .mbox and .json records from files or directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != outputText && output != outputJSON {
				return fmt.Errorf("unsupported output %q (want text or json)", output)
			}

			cfg, log, err := opts.load("console")
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx := cmd.Context()
			e, err := newEngine(ctx, cfg, log, engineOptions{connect: !dryRun})
			if err != nil {
				return err
			}
			defer e.Close()

			records, loadErrs := intake.LoadPaths(args, log)
			for _, loadErr := range loadErrs {
				log.Warnw("Skipping input", "error", loadErr)
			}
			if len(records) == 0 {
				return errors.New("no records found")
			}

			results := e.dispatcher.ProcessBatch(ctx, records, dryRun)

			out := cmd.OutOrStdout()
			if output == outputJSON {
				if err := writeJSON(out, results); err != nil {
					return err
				}
			} else {
				writeResults(out, results)
			}

			if showStats {
				if err := writeJSON(out, e.dispatcher.Statistics()); err != nil {
					return err
				}
			}

			failed := 0
			for _, r := range results {
				if !r.Success {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d records failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Evaluate rules without delivering")
	cmd.Flags().BoolVar(&showStats, "stats", false, "Print statistics after processing")
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "Output format: text or json")
	return cmd
}

func healthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check rule engine and queue connectivity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load("console")
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx := cmd.Context()
			e, err := newEngine(ctx, cfg, log, engineOptions{connect: true})
			if err != nil {
				return err
			}
			defer e.Close()

			h := e.dispatcher.HealthCheck(ctx)
			if err := writeJSON(cmd.OutOrStdout(), h); err != nil {
				return err
			}
			if h.Status == health.StatusUnhealthy {
				return errors.New("router is unhealthy")
			}
			return nil
		},
	}
}

func rulesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and test routing rules",
	}
	cmd.AddCommand(rulesValidateCmd(opts), rulesExportCmd(opts), rulesTestCmd(opts), rulesExamplesCmd())
	return cmd
}

func rulesValidateCmd(opts *rootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Compile every rule and report the ones that fail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var table *config.RuleFile
			if file != "" {
				var err error
				table, err = config.ReadRuleFile(file)
				if err != nil {
					return err
				}
			} else {
				cfg, log, err := opts.load("console")
				if err != nil {
					return err
				}
				defer log.Sync()
				table, err = cfg.Routing.RoutingTable()
				if err != nil {
					return err
				}
			}

			evaluator, err := cel.NewEvaluator()
			if err != nil {
				return err
			}
			rules := routing.NewRuleSet(evaluator, routing.NewContextBuilder(nil, nil), nil)
			loaded, errs := rules.LoadRules(table.Rules)

			out := cmd.OutOrStdout()
			for _, e := range errs {
				fmt.Fprintf(out, "invalid: %v\n", e)
			}
			fmt.Fprintf(out, "%d of %d rules valid\n", loaded, len(table.Rules))
			if len(errs) > 0 {
				return fmt.Errorf("%d invalid rules", len(errs))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Rule file to validate instead of the configured rules")
	return cmd
}

func rulesExportCmd(opts *rootOptions) *cobra.Command {
	var (
		format     string
		outputPath string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the loaded rules and queues as a rule file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputPath != "" && !cmd.Flags().Changed("format") {
				format = config.FormatFromPath(outputPath)
			}
			format, err := config.ParseFormat(format)
			if err != nil {
				return err
			}

			cfg, log, err := opts.load("console")
			if err != nil {
				return err
			}
			defer log.Sync()

			e, err := newEngine(cmd.Context(), cfg, log, engineOptions{})
			if err != nil {
				return err
			}

			data, err := config.EncodeRuleFile(&config.RuleFile{
				DefaultQueue: e.dispatcher.DefaultQueue(),
				Rules:        e.rules.ExportRules(),
				Queues:       e.table.Queues,
			}, format)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), outputPath, data, true)
		},
	}

	cmd.Flags().StringVar(&format, "format", config.FormatYAML, "Output format: yaml or json")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write to this file instead of stdout")
	return cmd
}

func rulesTestCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "test <condition> <file|dir>...",
		Short: "Evaluate a condition against records without routing them",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load("console")
			if err != nil {
				return err
			}
			defer log.Sync()

			e, err := newEngine(cmd.Context(), cfg, log, engineOptions{})
			if err != nil {
				return err
			}

			records, loadErrs := intake.LoadPaths(args[1:], log)
			for _, loadErr := range loadErrs {
				log.Warnw("Skipping input", "error", loadErr)
			}
			if len(records) == 0 {
				return errors.New("no records found")
			}

			report, err := e.dispatcher.TestCondition(cmd.Context(), args[0], records)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
}

func rulesExamplesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "examples",
		Short: "Print sample conditions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names := make([]string, 0, len(cel.ConditionExamples))
			for name := range cel.ConditionExamples {
				names = append(names, name)
			}
			sort.Strings(names)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, name := range names {
				fmt.Fprintf(tw, "%s\t%s\n", name, cel.ConditionExamples[name])
			}
			return tw.Flush()
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(configInitCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var (
		format     string
		outputPath string
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a sample configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputPath != "" && !cmd.Flags().Changed("format") {
				format = config.FormatFromPath(outputPath)
			}
			data, err := config.SampleConfig(format)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), outputPath, data, force)
		},
	}

	cmd.Flags().StringVar(&format, "format", config.FormatYAML, "Output format: yaml or json")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write to this file instead of stdout")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing output file")
	return cmd
}

func writeOutput(stdout io.Writer, path string, data []byte, overwrite bool) error {
	if path == "" {
		_, err := stdout.Write(data)
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Fprintf(stdout, "wrote %s\n", path)
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeResults(w io.Writer, results []routing.ProcessingResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tQUEUE\tRULES\tRECORD\tSUBJECT")
	for _, r := range results {
		status := "ok"
		if !r.Success {
			status = "failed"
		} else if r.DryRun {
			status = "dry-run"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", status, r.Queue, len(r.MatchedRules), r.RecordID, r.Subject)
		if r.Error != "" {
			fmt.Fprintf(tw, "\t\t\t\terror: %s\n", r.Error)
		}
	}
	tw.Flush()
}
