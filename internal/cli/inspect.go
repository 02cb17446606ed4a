package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/volleyload/volley/internal/load/config"
	"github.com/volleyload/volley/internal/output"
)

// Inspection is the static view of a test file printed by `volley inspect`.
type Inspection struct {
	Name          string              `json:"name"`
	BaseURL       string              `json:"baseUrl"`
	TotalDuration string              `json:"totalDuration"`
	Scenarios     []InspectedScenario `json:"scenarios"`
	Thresholds    []string            `json:"thresholds,omitempty"`
}

// InspectedScenario is one row of the timeline.
type InspectedScenario struct {
	Name         string `json:"name"`
	Executor     string `json:"executor"`
	Start        string `json:"start"`
	Duration     string `json:"duration"`
	GracefulStop string `json:"gracefulStop"`
	MaxVUs       int    `json:"maxVUs"`
	Description  string `json:"description"`
}

func newInspectCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <config>",
		Short: "Validate a test file and print its scenario timeline",
		Long: `Validate a test file without sending any traffic and print when each
scenario starts, how long it can run and the thresholds that will be applied.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			baseURL, _ := cmd.Flags().GetString("base-url")
			if baseURL == "" {
				baseURL = v.GetString("base-url")
			}
			return inspect(cmd.OutOrStdout(), args[0], baseURL, asJSON)
		},
	}
	cmd.Flags().Bool("json", false, "Print the timeline as JSON")
	cmd.Flags().String("base-url", "", "Target base URL to display (env BASE_URL)")
	return cmd
}

// Inspect loads, defaults and validates the test file in path.
func Inspect(path, baseURL string) (*Inspection, *config.TestConfig, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, nil, err
	}
	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	entries, err := cfg.Timeline()
	if err != nil {
		return nil, nil, err
	}

	in := &Inspection{
		Name:          cfg.Name,
		BaseURL:       config.ResolveBaseURL(baseURL, cfg.Settings.BaseURL),
		TotalDuration: config.TotalDuration(entries).String(),
	}
	for _, e := range entries {
		sc, _ := cfg.Scenarios.Get(e.Name)
		in.Scenarios = append(in.Scenarios, InspectedScenario{
			Name:         e.Name,
			Executor:     e.Executor,
			Start:        e.Start.String(),
			Duration:     e.Duration.String(),
			GracefulStop: e.GracefulStop.String(),
			MaxVUs:       e.MaxVUs,
			Description:  sc.Describe(),
		})
	}
	for _, t := range cfg.Thresholds {
		for _, r := range t.Rules {
			in.Thresholds = append(in.Thresholds, t.Metric+": "+r.Threshold)
		}
	}
	return in, cfg, nil
}

func inspect(w io.Writer, path, baseURL string, asJSON bool) error {
	in, cfg, err := Inspect(path, baseURL)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(in)
	}

	entries, err := cfg.Timeline()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s\n", in.Name)
	fmt.Fprintf(w, "Target:   %s\n", in.BaseURL)
	fmt.Fprintf(w, "Duration: up to %s\n\n", in.TotalDuration)
	fmt.Fprint(w, output.Timeline(entries, cfg.Scenarios))
	if len(in.Thresholds) > 0 {
		fmt.Fprintln(w, "\nThresholds:")
		for _, t := range in.Thresholds {
			fmt.Fprintf(w, "  %s\n", t)
		}
	}
	return nil
}
