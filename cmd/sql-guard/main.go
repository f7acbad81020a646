package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sql-guard/internal/auditor"
	"sql-guard/internal/config"
	"sql-guard/internal/enforce"
	"sql-guard/internal/model"
	"sql-guard/internal/parser"
	"sql-guard/internal/reporter"
	"sql-guard/internal/scanner"
)

var (
	cfgFile     string
	stmtID      string
	commandType string
	params      map[string]string
)

// errBlocking makes the process exit non-zero without printing usage.
var errBlocking = errors.New("blocking findings present")

var rootCmd = &cobra.Command{
	Use:   "sql-guard",
	Short: "Static and runtime risk analysis for SQL statements and mapper templates",
	Long: `sql-guard scans source trees for SQL literals, .sql scripts and XML mapper
templates, expands dynamic templates into their concrete variants and
validates every statement against a configurable catalog of security and
performance checkers.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan a source tree and report findings",
	RunE:  runScan,
}

var checkCmd = &cobra.Command{
	Use:   "check [SQL | -]",
	Short: "Validate a single statement the way the runtime interceptor does",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCheck,
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the checker catalog with its effective configuration",
	RunE:  runRules,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "Config file (default: ./"+config.DefaultFile+" when present)")
	pf.StringP("schema", "S", "", "Path to database schema SQL file")
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")

	f := scanCmd.Flags()
	f.StringP("src", "s", ".", "Path to source code to scan")
	f.String("signatures", "", "YAML file with mapper method signatures")
	f.StringP("report", "r", "console", "Report format (console, json)")
	f.StringP("out", "o", "", "Output file for the json report (default: stdout)")
	f.IntP("workers", "w", 0, "Number of concurrent workers (default: number of CPUs)")
	f.StringSliceP("exclude", "e", nil, "Glob patterns to exclude from scan")
	f.Bool("fail-on-block", true, "Exit non-zero when a BLOCK finding is reported")

	checkCmd.Flags().StringVar(&stmtID, "statement-id", "", "Statement id attached to the verdict")
	checkCmd.Flags().StringVar(&commandType, "command-type", "", "Command type (default: derived from the statement)")
	checkCmd.Flags().StringToStringVarP(&params, "param", "p", nil, "Bound parameter values, name=value")

	rootCmd.AddCommand(scanCmd, checkCmd, rulesCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errBlocking) && !errors.Is(err, enforce.ErrBlocked) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

// setup loads the configuration and builds the shared logger, parser and auditor.
func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, *parser.SQLParser, *auditor.Auditor, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, nil, nil, nil, err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if cfg.File != "" {
		logger.Debug("config loaded", zap.String("file", cfg.File))
	}

	sqlParser := parser.NewSQLParser()
	var schema *model.SchemaCtx
	if cfg.Schema != "" {
		schema, err = sqlParser.LoadSchema(cfg.Schema)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("failed to load schema: %w", err)
		}
		logger.Info("schema loaded", zap.String("path", cfg.Schema), zap.Int("tables", len(schema.Tables)))
	}

	a, err := auditor.NewAuditor(cfg.Rules, schema, sqlParser, logger)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return cfg, logger, sqlParser, a, nil
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, logger, sqlParser, a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if _, err := os.Stat(cfg.Src); err != nil {
		return fmt.Errorf("source path does not exist: %s", cfg.Src)
	}

	var sigs map[string]model.MethodSignature
	if cfg.Signatures != "" {
		if sigs, err = config.LoadSignatures(cfg.Signatures); err != nil {
			return err
		}
		logger.Info("signatures loaded", zap.Int("count", len(sigs)))
	}

	pipeline := scanner.NewPipeline(a, sqlParser,
		scanner.WithWorkers(cfg.Workers),
		scanner.WithExcludes(cfg.Exclude),
		scanner.WithSignatures(sigs),
		scanner.WithLogger(logger),
	)
	report, err := pipeline.Scan(cmd.Context(), cfg.Src)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	var rpt model.Reporter
	switch cfg.Report {
	case "json":
		rpt = reporter.NewJSONReporter(cmd.OutOrStdout(), cfg.Out)
	default:
		rpt = reporter.NewConsoleReporter(cmd.OutOrStdout())
	}
	if err := rpt.Report(report); err != nil {
		return fmt.Errorf("reporting failed: %w", err)
	}

	if cfg.FailOnBlock && report.Blocking() {
		return errBlocking
	}
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	_, logger, sqlParser, a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	sql, err := readStatement(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	sqlCtx := &model.SQLContext{
		SQL:            sql,
		StatementID:    stmtID,
		ExecutionLayer: model.LayerRuntime,
	}
	if commandType != "" {
		sqlCtx.CommandType = model.ParseCommandType(commandType)
	}
	if len(params) > 0 {
		sqlCtx.Params = make(map[string]any, len(params))
		for k, v := range params {
			sqlCtx.Params[k] = v
		}
	}

	res, decision, err := enforce.NewInterceptor(a, sqlParser, logger).Check(cmd.Context(), sqlCtx)
	out := cmd.OutOrStdout()
	reporter.NewConsoleReporter(out).Verdict(sql, res, decision.Block)
	if len(decision.Warnings) > 0 {
		fmt.Fprintf(out, "warnings: %s\n", strings.Join(decision.Warnings, ", "))
	}
	for _, f := range auditor.Failures(res) {
		fmt.Fprintf(out, "checker %s failed: %s\n", f.Checker, f.Error)
	}
	return err
}

// readStatement takes the statement from the first argument, or from in
// when the argument is "-" or missing.
func readStatement(in io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("read statement: %w", err)
	}
	sql := strings.TrimSpace(string(data))
	if sql == "" {
		return "", errors.New("no statement given")
	}
	return sql, nil
}

func runRules(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	effective, err := auditor.Resolve(cfg.Rules)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tENABLED\tSTRATEGY\tRISK\tDESCRIPTION")
	for _, e := range effective {
		desc := e.Description
		if e.NeedsSchema {
			desc += " (needs --schema)"
		}
		fmt.Fprintf(w, "%s\t%t\t%s\t%s\t%s\n", e.Name, e.Enabled, e.Strategy, e.Risk, desc)
	}
	return w.Flush()
}
