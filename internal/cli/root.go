// Package cli implements the volley command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Exit codes returned by Execute.
const (
	ExitOK               = 0
	ExitError            = 1
	ExitThresholdsFailed = 99
)

// EnvPrefix prefixes every environment variable bound to a flag.
const EnvPrefix = "VOLLEY"

// ExitCodeError carries a specific process exit code.
type ExitCodeError struct {
	Code int
	Err  error
}

func (e *ExitCodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit code %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitCodeError) Unwrap() error {
	return e.Err
}

// NewRootCmd builds the command tree. Flags and environment variables are
// resolved through v.
func NewRootCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "volley",
		Short: "Scenario-driven HTTP load generator",
		Long: `Volley runs HTTP load tests described in YAML or JSON.

A test declares scenarios, each driven by one executor (constant-vus,
ramping-vus, constant-arrival-rate or ramping-arrival-rate) and started at
its own offset. Thresholds on the collected metrics decide whether the run
passes; a failed threshold exits with code 99.

  volley init
  volley inspect similar-products.yaml
  BASE_URL=http://localhost:5000 volley run similar-products.yaml`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(v.GetString("log-level"), v.GetString("log-format"), cmd.ErrOrStderr())
		},
	}

	cmd.PersistentFlags().String("log-level", "warn", "Log level: trace, debug, info, warn, error")
	cmd.PersistentFlags().String("log-format", "text", "Log format: text or json")
	bindFlags(v, cmd.PersistentFlags().Lookup("log-level"), cmd.PersistentFlags().Lookup("log-format"))

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd.AddCommand(
		newRunCmd(v),
		newInspectCmd(v),
		newExecutorsCmd(),
		newInitCmd(),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the command line with the process arguments and returns the
// exit code. This is called by main.main().
func Execute() int {
	return Run(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
}

// Run executes args against a fresh command tree.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCmd(viper.New())
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}

	var exitErr *ExitCodeError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintln(stderr, exitErr.Err)
		}
		return exitErr.Code
	}
	fmt.Fprintln(stderr, "Error:", err)
	return ExitError
}

func setupLogging(level, format string, w io.Writer) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}

	switch strings.ToLower(format) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("invalid --log-format %q (want text or json)", format)
	}

	log.SetOutput(w)
	log.SetLevel(lvl)
	return nil
}

// bindFlags exposes flags through viper, so VOLLEY_<FLAG> works for each.
func bindFlags(v *viper.Viper, flags ...*pflag.Flag) {
	for _, f := range flags {
		if err := v.BindPFlag(f.Name, f); err != nil {
			// only fails on a nil flag
			panic(err)
		}
	}
}
