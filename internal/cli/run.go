package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/volleyload/volley/internal/exporter"
	"github.com/volleyload/volley/internal/load/config"
	"github.com/volleyload/volley/internal/load/engine"
	"github.com/volleyload/volley/internal/output"
	"github.com/volleyload/volley/internal/report"
)

var (
	errThresholdsFailed = errors.New("some thresholds have failed")
	errInterrupted      = errors.New("test run was interrupted")
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <config>",
		Short: "Run a load test",
		Long: `Run every scenario of a test file and evaluate its thresholds.

The target defaults to settings.baseUrl of the file, then to
http://localhost:5000. --base-url or the BASE_URL environment variable
override it verbatim.

Result files:
  volley run test.yaml --out result.json --out junit=reports/volley.xml

Live metrics for Prometheus while the test runs:
  volley run test.yaml --metrics-addr :9464`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := runOptionsFrom(v)
			if err != nil {
				return err
			}
			return runTest(cmd.Context(), args[0], opts, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.String("base-url", "", "Target base URL, overrides settings.baseUrl (env BASE_URL)")
	f.StringArrayP("out", "o", nil, "Write the result to a file: path.json, path.yaml, path.xml or format=path (repeatable)")
	f.String("report", "", "Write an HTML report to this path")
	f.String("metrics-addr", "", "Serve /metrics, /status and POST /stop on this address during the run")
	f.BoolP("quiet", "q", false, "Disable live progress, print only the verdict")
	f.Bool("no-color", false, "Disable colored output")
	bindFlags(v,
		f.Lookup("base-url"), f.Lookup("out"), f.Lookup("report"),
		f.Lookup("metrics-addr"), f.Lookup("quiet"), f.Lookup("no-color"),
	)
	if err := v.BindEnv("base-url", EnvPrefix+"_BASE_URL", "BASE_URL"); err != nil {
		panic(err)
	}
	return cmd
}

// runOptions are the resolved run flags.
type runOptions struct {
	baseURL     string
	outputs     []output.ResultFile
	reportPath  string
	metricsAddr string
	quiet       bool
	noColor     bool
}

func runOptionsFrom(v *viper.Viper) (runOptions, error) {
	opts := runOptions{
		baseURL:     v.GetString("base-url"),
		reportPath:  v.GetString("report"),
		metricsAddr: v.GetString("metrics-addr"),
		quiet:       v.GetBool("quiet"),
		noColor:     v.GetBool("no-color"),
	}
	for _, s := range v.GetStringSlice("out") {
		f, err := output.ParseResultFile(s)
		if err != nil {
			return runOptions{}, fmt.Errorf("invalid --out: %w", err)
		}
		opts.outputs = append(opts.outputs, f)
	}
	return opts, nil
}

// runTest runs the test in path and writes every requested output. A run
// whose thresholds fail returns an ExitCodeError with ExitThresholdsFailed.
func runTest(ctx context.Context, path string, opts runOptions, stdout io.Writer) error {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return err
	}

	eng, err := engine.NewEngine(cfg, engine.Options{BaseURL: opts.baseURL})
	if err != nil {
		return err
	}

	console := output.NewConsole(output.ConsoleConfig{
		Writer:  stdout,
		Quiet:   opts.quiet,
		NoColor: opts.noColor,
	})
	if err := console.PrintHeader(eng.GetConfig(), eng.BaseURL()); err != nil {
		return err
	}

	if opts.metricsAddr != "" {
		srv := exporter.NewServer(opts.metricsAddr, eng)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).Warn("metrics server did not shut down cleanly")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	watchCtx, stopWatch := context.WithCancel(ctx)
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		console.Watch(watchCtx, eng)
	}()

	result, runErr := eng.Run(ctx)
	stopWatch()
	<-watchDone

	if result == nil {
		return runErr
	}
	console.PrintSummary(result)

	var errs *multierror.Error
	if runErr != nil {
		errs = multierror.Append(errs, runErr)
	}
	for _, f := range opts.outputs {
		if err := output.WriteResultFile(result, f); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		log.WithFields(log.Fields{"format": f.Format, "path": f.Path}).Info("result written")
	}
	if opts.reportPath != "" {
		if err := report.GenerateHTML(result, opts.reportPath); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to generate HTML report: %w", err))
		} else {
			log.WithField("path", opts.reportPath).Info("report written")
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return err
	}

	switch {
	case result.ThresholdsFailed():
		return &ExitCodeError{Code: ExitThresholdsFailed, Err: errThresholdsFailed}
	case result.Interrupted:
		return &ExitCodeError{Code: ExitError, Err: errInterrupted}
	}
	return nil
}
