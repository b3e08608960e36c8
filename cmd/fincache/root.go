package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fincache/pkg/core/concept"
	"fincache/pkg/core/config"
	"fincache/pkg/core/edgar"
	"fincache/pkg/core/pipeline"
	"fincache/pkg/core/store"
	"fincache/pkg/core/telemetry"
	"fincache/pkg/models"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string // "text" | "json"
	Counters   bool

	// newRepository builds the filing repository; tests replace it.
	newRepository func(cfg config.Config, logger *zap.Logger) edgar.Repository
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// app is the wired service for one command invocation.
type app struct {
	svc      *pipeline.Service
	store    *store.Store
	recorder *telemetry.PromRecorder
	logger   *zap.Logger
	closed   bool
}

// NewRootCommand creates the root command for the fincache CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{newRepository: edgarRepository})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	return buildRootCommand(opts, &app{})
}

func buildRootCommand(opts *RootOptions, a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "fincache",
		Short:         "Local cache of standardized financial statements",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return eris.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if err := a.open(cmd.Context(), opts); err != nil {
				_ = a.close()
				return err
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Counters && a.recorder != nil {
				if err := writeMetrics(cmd.ErrOrStderr(), a.recorder); err != nil {
					return err
				}
			}
			return a.close()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")
	cmd.PersistentFlags().BoolVar(&opts.Counters, "counters", false, "print pipeline counters to stderr on exit")

	cmd.AddCommand(
		newFinancialsCommand(opts, a),
		newMetricCommand(opts, a),
		newCompareCommand(opts, a),
		newSearchCommand(opts, a),
		newVerifyCommand(opts, a),
		newStatusCommand(opts, a),
		newStatsCommand(opts, a),
	)
	// Cobra skips PersistentPostRunE when RunE fails.
	for _, sub := range cmd.Commands() {
		run := sub.RunE
		if run == nil {
			continue
		}
		sub.RunE = func(cmd *cobra.Command, args []string) error {
			err := run(cmd, args)
			if err != nil {
				_ = a.close()
			}
			return err
		}
	}
	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func edgarRepository(cfg config.Config, logger *zap.Logger) edgar.Repository {
	return edgar.NewClient(cfg.Identity,
		edgar.WithRateLimit(cfg.RateLimit),
		edgar.WithLogger(logger))
}

func (a *app) open(ctx context.Context, opts *RootOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	logger, err := telemetry.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	a.logger = logger
	concepts, err := concept.Load(cfg.ConceptsFile)
	if err != nil {
		return err
	}

	storeOpts := cfg.StoreOptions()
	storeOpts.Logger = logger
	st, err := store.Open(ctx, storeOpts)
	if err != nil {
		return err
	}

	a.store = st
	a.recorder = telemetry.NewPromRecorder("fincache")
	a.svc = pipeline.NewService(opts.newRepository(cfg, logger), st, concepts, a.recorder, logger)
	a.svc.SetConfig(cfg.Pipeline())
	return nil
}

// close syncs the logger and closes the store. Calls after the first are
// no-ops.
func (a *app) close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

// =============================================================================
// COMMANDS
// =============================================================================

func newFinancialsCommand(opts *RootOptions, a *app) *cobra.Command {
	var (
		periods int
		refresh bool
	)
	cmd := &cobra.Command{
		Use:   "financials <entity>",
		Short: "Show cached statements, refreshing from the filing repository when stale",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.svc.GetFinancials(cmd.Context(), args[0], periods, refresh)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			return writeFinancials(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().IntVar(&periods, "periods", 4, "number of filings to return")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "refetch even when the cache is current")
	return cmd
}

func newMetricCommand(opts *RootOptions, a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "metric <metric> <entity>",
		Short: "Resolve a semantic metric from the cache",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.svc.GetMetric(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				return writeJSON(out, res)
			}
			if res == nil {
				_, err := fmt.Fprintf(out, "%s: no cached value for %s\n", models.NormalizeEntity(args[1]), args[0])
				return err
			}
			_, err = fmt.Fprintf(out, "%s %s = %s (%s, filed %s, via %s)\n",
				res.Entity, res.Metric, formatValue(&res.Value), res.Concept, res.FilingDate, res.Source)
			return err
		},
	}
}

func newCompareCommand(opts *RootOptions, a *app) *cobra.Command {
	var metrics []string
	cmd := &cobra.Command{
		Use:   "compare <entity>...",
		Short: "Compare metrics across entities",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := a.svc.Compare(cmd.Context(), args, metrics)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), table)
			}
			return writeComparison(cmd.OutOrStdout(), args, metrics, table)
		},
	}
	cmd.Flags().StringSliceVar(&metrics, "metrics", []string{"revenue", "net_income", "total_assets", "equity"}, "metrics to compare")
	return cmd
}

func newSearchCommand(opts *RootOptions, a *app) *cobra.Command {
	var q store.Query
	var statement string
	cmd := &cobra.Command{
		Use:   "search <term>",
		Short: "Search cached line items by label or concept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q.Term = args[0]
			q.Statement = models.StatementKind(statement)
			hits, err := a.svc.Search(cmd.Context(), q)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), hits)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ENTITY\tFILED\tSTATEMENT\tLABEL\tVALUE")
			for _, h := range hits {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", h.Entity, h.FilingDate, h.Statement, h.Label, formatValue(&h.Value))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&q.Entity, "entity", "", "restrict to one entity")
	cmd.Flags().StringVar(&statement, "statement", "", "restrict to balance_sheet, income_statement or cash_flow")
	cmd.Flags().IntVar(&q.Limit, "limit", store.DefaultSearchLimit, "maximum hits")
	return cmd
}

func newVerifyCommand(opts *RootOptions, a *app) *cobra.Command {
	var html, markdown bool
	cmd := &cobra.Command{
		Use:   "verify <entity>",
		Short: "Check completeness of the latest cached filing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := a.svc.VerifyCached(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case opts.Format == "json":
				return writeJSON(out, rep)
			case html:
				doc, err := rep.HTML()
				if err != nil {
					return err
				}
				_, err = io.WriteString(out, doc)
				return err
			case markdown:
				_, err = io.WriteString(out, rep.Markdown())
				return err
			}
			_, err = io.WriteString(out, rep.String())
			return err
		},
	}
	cmd.Flags().BoolVar(&html, "html", false, "render the report as HTML")
	cmd.Flags().BoolVar(&markdown, "markdown", false, "render the report as markdown")
	cmd.MarkFlagsMutuallyExclusive("html", "markdown")
	return cmd
}

func newStatusCommand(opts *RootOptions, a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <entity>",
		Short: "Show the cache status of an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.svc.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				return writeJSON(out, st)
			}
			if !st.Cached {
				_, err = fmt.Fprintf(out, "%s: not cached\n", st.Entity)
				return err
			}
			state := "current"
			if !st.Current {
				state = "stale"
			}
			_, err = fmt.Fprintf(out, "%s: %s, %d filings, latest %s, age %d days, %s\n",
				st.Entity, state, st.FilingCount, st.LatestFilingDate, st.AgeDays, st.Standard)
			return err
		},
	}
}

func newStatsCommand(opts *RootOptions, a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.svc.Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				return writeJSON(out, st)
			}
			fmt.Fprintf(out, "Filings: %d (%d domestic, %d foreign)\n", st.TotalFilings, st.Domestic, st.Foreign)
			fmt.Fprintf(out, "Entities: %d\n", st.UniqueEntities)
			for _, kind := range models.StatementKinds {
				fmt.Fprintf(out, "%s items: %d\n", kind.Title(), st.LineItems[kind])
			}
			_, err = fmt.Fprintf(out, "Size: %d bytes\n", st.SizeBytes)
			return err
		},
	}
}

// =============================================================================
// OUTPUT
// =============================================================================

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeFinancials(w io.Writer, res *pipeline.FinancialsResult) error {
	fmt.Fprintf(w, "%s (source: %s, age: %d days)\n", res.Entity, res.Source, res.AgeDays)
	for _, f := range res.FetchFailures {
		fmt.Fprintf(w, "  warning: %v\n", f)
	}
	for _, r := range res.Reports {
		if !r.Report.Valid {
			fmt.Fprintf(w, "  warning: %s %s failed completeness: %s\n",
				r.Filing.Form, r.Filing.FilingDate, strings.Join(r.Report.Errors, "; "))
		}
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, p := range res.Periods {
		fmt.Fprintf(tw, "\n%s %s (FY%d %s)\n", p.Filing.Form, p.Filing.FilingDate, p.Filing.FiscalYear, p.Filing.FiscalPeriod)
		for _, kind := range models.StatementKinds {
			items := p.Items(kind)
			fmt.Fprintf(tw, "  %s\t%d items\n", kind.Title(), len(items))
			for _, it := range items {
				fmt.Fprintf(tw, "    %s\t%s\t%s\n", it.Label, formatValue(&it.Value), it.Unit)
			}
		}
	}
	return tw.Flush()
}

func writeComparison(w io.Writer, entities, metrics []string, table map[string]map[string]*float64) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprint(tw, "METRIC\t")
	for _, e := range entities {
		fmt.Fprintf(tw, "%s\t", models.NormalizeEntity(e))
	}
	fmt.Fprintln(tw)
	for _, m := range metrics {
		fmt.Fprintf(tw, "%s\t", m)
		for _, e := range entities {
			fmt.Fprintf(tw, "%s\t", formatValue(table[models.NormalizeEntity(e)][m]))
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}

func formatValue(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.0f", *v)
}

// writeMetrics prints every non-zero counter of the recorder's registry.
func writeMetrics(w io.Writer, r *telemetry.PromRecorder) error {
	families, err := r.Registry().Gather()
	if err != nil {
		return eris.Wrap(err, "gather metrics")
	}
	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if m.GetCounter().GetValue() == 0 {
				continue
			}
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			lines = append(lines, fmt.Sprintf("%s{%s} %g", mf.GetName(), strings.Join(labels, ","), m.GetCounter().GetValue()))
		}
	}
	sort.Strings(lines)
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}
