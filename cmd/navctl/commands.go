package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"

	"github.com/simaogato/navmetrics-backend/internal/app"
	"github.com/simaogato/navmetrics-backend/internal/config"
	"github.com/simaogato/navmetrics-backend/internal/domain"
)

var commands = []subcommands.Command{
	&migrateCmd{},
	&ingestCmd{},
	&refreshCmd{},
	&runCmd{},
	&seedCmd{},
	&cagrCmd{},
	&logCmd{},
}

// withApp loads configuration, builds the App and runs fn, closing the App afterwards
// Logs go to stderr so command output on stdout stays clean
func withApp(ctx context.Context, fn func(a *app.App) error) subcommands.ExitStatus {
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	a, err := app.New(ctx, cfg, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Close(closeCtx)
	}()

	if err := fn(a); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// exitFor maps a partial batch result to an exit status
func exitFor(succeeded, requested int) error {
	if succeeded < requested {
		return fmt.Errorf("%d of %d failed, see the ingestion log", requested-succeeded, requested)
	}
	return nil
}

type migrateCmd struct{}

func (*migrateCmd) Name() string { return "migrate" }
func (*migrateCmd) Synopsis() string {
	return "create or update the database schema"
}
func (*migrateCmd) Usage() string {
	return `navctl migrate

  Creates the instruments, valuations, metrics_snapshots and ingestion_logs
  tables if they do not exist. Safe to run repeatedly.
`
}
func (*migrateCmd) SetFlags(*flag.FlagSet) {}

func (*migrateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(a *app.App) error {
		return a.Migrate(ctx)
	})
}

type ingestCmd struct {
	delay time.Duration
}

func (*ingestCmd) Name() string { return "ingest" }
func (*ingestCmd) Synopsis() string {
	return "fetch and store the full NAV history of schemes"
}
func (*ingestCmd) Usage() string {
	return `navctl ingest [-delay <duration>] <code>...

  Replaces the stored series of each scheme code with the provider's
  current history. Codes are processed one at a time.
`
}

func (c *ingestCmd) SetFlags(f *flag.FlagSet) {
	f.DurationVar(&c.delay, "delay", 0, "Pause between provider calls (defaults to ingestion.delay from the config).")
}

func (c *ingestCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "at least one scheme code is required")
		return subcommands.ExitUsageError
	}
	return withApp(ctx, func(a *app.App) error {
		delay := c.delay
		if delay == 0 {
			delay = a.Config.Ingestion.Delay
		}
		succeeded := a.Ingestion.IngestMany(ctx, f.Args(), delay)
		fmt.Printf("Ingested %d/%d schemes\n", succeeded, f.NArg())
		return exitFor(succeeded, f.NArg())
	})
}

type refreshCmd struct{}

func (*refreshCmd) Name() string { return "refresh" }
func (*refreshCmd) Synopsis() string {
	return "recalculate metrics snapshots"
}
func (*refreshCmd) Usage() string {
	return `navctl refresh [<code>...]

  Recalculates the 1, 3 and 5 year CAGR snapshot of the given schemes,
  or of every stored scheme when no code is given.
`
}
func (*refreshCmd) SetFlags(*flag.FlagSet) {}

func (*refreshCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(a *app.App) error {
		if f.NArg() == 0 {
			refreshed := a.Metrics.RefreshAll(ctx)
			fmt.Printf("Refreshed metrics for %d schemes\n", refreshed)
			return nil
		}
		succeeded := 0
		for _, code := range f.Args() {
			if a.Metrics.RefreshOne(ctx, code) {
				succeeded++
			}
		}
		fmt.Printf("Refreshed %d/%d schemes\n", succeeded, f.NArg())
		return exitFor(succeeded, f.NArg())
	})
}

type runCmd struct{}

func (*runCmd) Name() string { return "run" }
func (*runCmd) Synopsis() string {
	return "run the daily pipeline: ingest configured schemes, then refresh metrics"
}
func (*runCmd) Usage() string {
	return `navctl run

  Ingests every scheme listed under ingestion.schemes, then refreshes the
  metrics of all stored schemes. Meant to be started by an external scheduler.
`
}
func (*runCmd) SetFlags(*flag.FlagSet) {}

func (*runCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(a *app.App) error {
		report := a.Pipeline.Run(ctx, a.Config.Ingestion.Schemes)
		fmt.Printf("Ingested %d/%d schemes, refreshed %d in %s\n",
			report.Ingested, report.Requested, report.Refreshed, report.Duration.Round(time.Millisecond))
		return ctx.Err()
	})
}

type seedCmd struct{}

func (*seedCmd) Name() string { return "seed" }
func (*seedCmd) Synopsis() string {
	return "ingest configured schemes that are not stored yet"
}
func (*seedCmd) Usage() string {
	return `navctl seed [<code>...]

  Ingests the given codes (or ingestion.schemes) that are missing from the
  database, then refreshes metrics. Already stored schemes are not fetched.
`
}
func (*seedCmd) SetFlags(*flag.FlagSet) {}

func (*seedCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(a *app.App) error {
		codes := f.Args()
		if len(codes) == 0 {
			codes = a.Config.Ingestion.Schemes
		}
		report, err := a.Pipeline.Seed(ctx, codes)
		if err != nil {
			return err
		}
		fmt.Printf("Already stored: %d\nNewly added: %d/%d\nMetrics refreshed: %d\n",
			report.AlreadyStored, report.Ingested, report.Requested-report.AlreadyStored, report.Refreshed)
		return nil
	})
}

type cagrCmd struct {
	years int
	asOf  string
}

func (*cagrCmd) Name() string { return "cagr" }
func (*cagrCmd) Synopsis() string {
	return "print the CAGR of a scheme with its data quality"
}
func (*cagrCmd) Usage() string {
	return `navctl cagr [-years <n>] [-as-of <YYYY-MM-DD>] <code>

  Computes the compound annual growth rate from stored valuations without
  writing anything. Without -years, all tenors (1, 3, 5) are printed.
`
}

func (c *cagrCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.years, "years", 0, "Tenor in years (default: 1, 3 and 5).")
	f.StringVar(&c.asOf, "as-of", "", "Reference date (defaults to today).")
}

func (c *cagrCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "exactly one scheme code is required")
		return subcommands.ExitUsageError
	}
	asOf := time.Now().UTC()
	if c.asOf != "" {
		parsed, err := time.Parse(time.DateOnly, c.asOf)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing -as-of: %v\n", err)
			return subcommands.ExitUsageError
		}
		asOf = parsed
	}
	tenors := domain.Tenors
	if c.years > 0 {
		tenors = []int{c.years}
	}

	code := f.Arg(0)
	return withApp(ctx, func(a *app.App) error {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "TENOR\tCAGR\tQUALITY\tGAP DAYS\n")
		for _, years := range tenors {
			res, err := a.Growth.CAGR(ctx, code, years, asOf)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%dY\t%.2f%%\t%s\t%d\n", years, res.Rate, res.Quality, res.GapDays)
		}
		return w.Flush()
	})
}

type logCmd struct {
	limit int
}

func (*logCmd) Name() string { return "log" }
func (*logCmd) Synopsis() string {
	return "show recent ingestion attempts of a scheme"
}
func (*logCmd) Usage() string {
	return `navctl log [-n <limit>] <code>

  Prints the ingestion audit trail of a scheme, newest first.
`
}

func (c *logCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.limit, "n", 20, "Maximum number of entries.")
}

func (c *logCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "exactly one scheme code is required")
		return subcommands.ExitUsageError
	}
	return withApp(ctx, func(a *app.App) error {
		entries, err := a.LogRepo.ListByCode(ctx, f.Arg(0), c.limit)
		if err != nil {
			return err
		}
		return printLog(os.Stdout, entries)
	})
}

func printLog(out io.Writer, entries []*domain.IngestionLog) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "STARTED\tSTATUS\tFETCHED\tSTORED\tRUN\tERROR\n")
	for _, e := range entries {
		msg := e.ErrorMessage
		if len([]rune(msg)) > 80 {
			msg = domain.TruncateMessage(msg, 77) + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			e.StartedAt.Format(time.RFC3339), e.Status, e.RecordsFetched, e.RecordsStored, e.RunID,
			strings.ReplaceAll(msg, "\n", " "))
	}
	return w.Flush()
}
