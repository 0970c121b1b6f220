// Command etlctl runs one-off loads against the configured sink.
//
// Usage:
//
//	etlctl init
//	etlctl run --year 2014 --month 8 [--no-daily] [--no-hourly] [--stations 94846,14819] [--banned 03017] [--start-line N] [--end-line N]
//	etlctl backfill --from 2014-01 --to 2014-12 [span and station flags as for run]
//	etlctl metar
//	etlctl stations
//	etlctl clear-metars
//
// Configuration comes from the same environment variables as the service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/couchcryptid/qclcd-etl-service/internal/app"
	"github.com/couchcryptid/qclcd-etl-service/internal/config"
	"github.com/couchcryptid/qclcd-etl-service/internal/domain"
	"github.com/couchcryptid/qclcd-etl-service/internal/observability"
	"github.com/couchcryptid/qclcd-etl-service/internal/pipeline"
)

const usage = `usage: etlctl <command> [flags]

commands:
  init          create the target tables
  run           load one monthly window
  backfill      load a range of monthly windows in order
  metar         ingest the live METAR feed
  stations      reload the station table
  clear-metars  drop METAR reports covered by hourly rows
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "etlctl %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "init":
		return withApp(ctx, func(a *app.App) error {
			return a.ETL.EnsureTables(ctx)
		})
	case "run":
		return runWindow(ctx, args, out)
	case "backfill":
		return backfill(ctx, args, out)
	case "metar":
		return withApp(ctx, func(a *app.App) error {
			res, err := a.Metar.Ingest(ctx)
			if err != nil {
				return err
			}
			return printJSON(out, res)
		})
	case "stations":
		return withApp(ctx, func(a *app.App) error {
			n, err := a.Stations.Refresh(ctx)
			if err != nil {
				return err
			}
			return printJSON(out, map[string]int64{"stations": n})
		})
	case "clear-metars":
		return withApp(ctx, func(a *app.App) error {
			n, err := pipeline.ClearMetars(ctx, a.Sink, slog.Default())
			if err != nil {
				return err
			}
			return printJSON(out, map[string]int64{"deleted": n})
		})
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// requestFlags registers the flags shared by run and backfill.
func requestFlags(fs *flag.FlagSet) func() domain.RunRequest {
	noDaily := fs.Bool("no-daily", false, "skip the daily span")
	noHourly := fs.Bool("no-hourly", false, "skip the hourly span")
	stations := fs.StringSlice("stations", nil, "only load these WBAN codes")
	banned := fs.StringSlice("banned", nil, "never load these WBAN codes")
	startLine := fs.Int("start-line", 0, "skip data rows up to and including this line")
	endLine := fs.Int("end-line", 0, "stop after this many data rows (0 reads to the end)")

	return func() domain.RunRequest {
		return domain.RunRequest{
			SkipDaily:      *noDaily,
			SkipHourly:     *noHourly,
			Stations:       *stations,
			BannedStations: *banned,
			StartLine:      *startLine,
			EndLine:        *endLine,
		}
	}
}

func runWindow(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	year := fs.IntP("year", "y", 0, "archive year")
	month := fs.IntP("month", "m", 0, "archive month (1-12)")
	request := requestFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *year == 0 || *month == 0 {
		fs.Usage()
		return errors.New("--year and --month are required")
	}

	req := request()
	req.Year, req.Month = *year, time.Month(*month)
	req.Source = "etlctl"

	return withApp(ctx, func(a *app.App) error {
		if err := a.ETL.EnsureTables(ctx); err != nil {
			return err
		}
		res, err := a.ETL.RunWindow(ctx, req)
		if perr := printJSON(out, res); perr != nil {
			return errors.Join(err, perr)
		}
		return err
	})
}

func backfill(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("backfill", flag.ContinueOnError)
	from := fs.StringP("from", "f", "", "first window (YYYY-MM)")
	to := fs.StringP("to", "t", "", "last window (YYYY-MM), default is the current month")
	request := requestFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *from == "" {
		fs.Usage()
		return errors.New("--from is required")
	}
	if *to == "" {
		*to = domain.Now().UTC().Format("2006-01")
	}

	fromYear, fromMonth, err := domain.ParseYearMonth(*from)
	if err != nil {
		return err
	}
	toYear, toMonth, err := domain.ParseYearMonth(*to)
	if err != nil {
		return err
	}

	template := request()
	template.Source = "etlctl"

	return withApp(ctx, func(a *app.App) error {
		if err := a.ETL.EnsureTables(ctx); err != nil {
			return err
		}
		results, err := a.ETL.Backfill(ctx, fromYear, fromMonth, toYear, toMonth, template)
		if perr := printJSON(out, results); perr != nil {
			return errors.Join(err, perr)
		}
		return err
	})
}

// withApp wires the application from the environment, runs fn and closes it.
func withApp(ctx context.Context, fn func(*app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// stdout carries the JSON results.
	logger := observability.NewLoggerTo(os.Stderr, cfg)

	a, err := app.New(ctx, cfg, logger, observability.NewMetrics())
	if err != nil {
		return err
	}
	return errors.Join(fn(a), a.Close())
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
