package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
}

func buildRoot() *cobra.Command {
	global := &GlobalFlags{}
	cmd := command{global: global}

	root := createRootCommand(global)
	root.AddCommand(
		createRunCommand(cmd, &RunFlags{}),
		createAggregateCommand(cmd, &AggregateFlags{}),
		createSuperviseCommand(cmd, &SuperviseFlags{}),
		createTelemetryCommand(cmd, &TelemetryFlags{}),
		createReportCommand(cmd, &ReportFlags{}),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "graphbench",
		Short: "Load generator and result aggregator for graph databases",
		Long: `Graphbench replays a prepared query workload against a graph database at a
fixed rate, records latency histograms and compares vendors offline.

Examples:
  graphbench run --vendor=falkordb --dataset=small --queries-file=queries.jsonl --mps=2000
  graphbench run --vendor=neo4j --simulate-ms=2 --queries-file=queries.jsonl
  graphbench aggregate --results-dir=results --out=summaries
  graphbench report --vendor=falkordb --markdown`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "override log level (debug, info, warn, error)")
	return root
}

func createRunCommand(c command, f *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a workload against one vendor",
		Long: `Run schedules every query of the queries file at --mps messages per second,
executes them with --parallel workers and writes meta.json, metrics.prom and
report.md to <results-dir>/<vendor>/.

Only falkordb is driven natively; other vendors need --simulate-ms.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(cmd, *f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.Vendor, "vendor", "", "vendor: falkordb, neo4j or memgraph")
	fl.StringVar(&f.Dataset, "dataset", "", "dataset size: small, medium or large")
	fl.StringVar(&f.QueriesFile, "queries-file", "", "prepared queries (JSON array or JSON lines)")
	fl.IntVar(&f.Parallel, "parallel", 0, "number of workers")
	fl.IntVar(&f.MPS, "mps", 0, "messages per second")
	fl.IntVar(&f.SimulateMs, "simulate-ms", 0, "sleep this many ms instead of calling the backend")
	fl.StringVar(&f.Endpoint, "endpoint", "", "address of an already running server")
	fl.StringVar(&f.ResultsDir, "results-dir", "", "results root directory")
	fl.IntVar(&f.Capacity, "capacity", 0, "scheduler to worker channel capacity")
	fl.DurationVar(&f.Timeout, "timeout", 0, "timeout of a single query")
	fl.BoolVar(&f.Restore, "restore", false, "restore the dataset snapshot before starting the backend")
	fl.StringVar(&f.Listen, "listen", "", "serve /metrics, /status and /report on this address")
	fl.IntVar(&f.PID, "pid", 0, "pid of an externally managed backend to sample")
	fl.StringVar(&f.PIDFile, "pid-file", "", "read the external backend pid from this file")
	fl.StringVar(&f.PIDMatch, "pid-match", "", "find the external backend by command line substring")
	return cmd
}

func createAggregateCommand(c command, f *AggregateFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Write <vendor>_vs_falkordb.json summaries from run results",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Aggregate(*f)
		},
	}
	cmd.Flags().StringVar(&f.ResultsDir, "results-dir", "results", "results root directory")
	cmd.Flags().StringVar(&f.OutDir, "out", "", "output directory (defaults to results dir)")
	return cmd
}

func createSuperviseCommand(c command, f *SuperviseFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "supervise",
		Short: "Run FalkorDB under the supervisor until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Supervise(*f)
		},
	}
	cmd.Flags().StringVar(&f.Listen, "listen", "", "serve /metrics and /status on this address")
	cmd.Flags().StringVar(&f.Dataset, "restore", "", "restore this dataset size before starting")
	return cmd
}

func createTelemetryCommand(c command, f *TelemetryFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "telemetry",
		Short: "Follow the FalkorDB telemetry stream and print per query averages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Telemetry(*f)
		},
	}
	cmd.Flags().StringVar(&f.Addr, "addr", "", "server address (defaults to backend.addr)")
	cmd.Flags().StringVar(&f.Stream, "stream", "", "stream key (defaults to telemetry.stream)")
	cmd.Flags().StringVar(&f.QueriesFile, "queries-file", "", "map query text to names from this file")
	cmd.Flags().DurationVar(&f.Duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	return cmd
}

func createReportCommand(c command, f *ReportFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the result of one vendor run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Report(*f)
		},
	}
	cmd.Flags().StringVar(&f.ResultsDir, "results-dir", "results", "results root directory")
	cmd.Flags().StringVar(&f.Vendor, "vendor", "falkordb", "vendor to report")
	cmd.Flags().BoolVar(&f.Markdown, "markdown", false, "print report.md instead of the summary JSON")
	return cmd
}
