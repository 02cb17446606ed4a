package output

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/volleyload/volley/internal/load/engine"
)

// OutputFormat represents the available result file formats
type OutputFormat string

const (
	// FormatJSON writes the full TestResult as JSON
	FormatJSON OutputFormat = "json"
	// FormatYAML writes the full TestResult as YAML
	FormatYAML OutputFormat = "yaml"
	// FormatJUnit writes thresholds and checks as JUnit XML (for CI/CD integration)
	FormatJUnit OutputFormat = "junit"
)

// ParseFormat maps a name or file extension to an OutputFormat.
func ParseFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "junit", "xml":
		return FormatJUnit, nil
	}
	return "", fmt.Errorf("unknown output format %q (want json, yaml or junit)", s)
}

// ResultFile is one requested result file.
type ResultFile struct {
	Format OutputFormat
	Path   string
}

// ParseResultFile parses "format=path" or a bare path whose extension names
// the format.
func ParseResultFile(s string) (ResultFile, error) {
	if name, path, ok := strings.Cut(s, "="); ok {
		f, err := ParseFormat(name)
		if err != nil {
			return ResultFile{}, err
		}
		return ResultFile{Format: f, Path: path}, nil
	}
	f, err := ParseFormat(filepath.Ext(s))
	if err != nil {
		return ResultFile{}, fmt.Errorf("cannot infer format of %s: %w", s, err)
	}
	return ResultFile{Format: f, Path: s}, nil
}

// WriteResult encodes result in the given format.
func WriteResult(w io.Writer, result *engine.TestResult, format OutputFormat) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(resultDocument(result)); err != nil {
			return err
		}
		return enc.Close()
	case FormatJUnit:
		out, err := xml.MarshalIndent(JUnitFromResult(result), "", "  ")
		if err != nil {
			return err
		}
		if _, err := io.WriteString(w, xml.Header); err != nil {
			return err
		}
		_, err = w.Write(append(out, '\n'))
		return err
	}
	return fmt.Errorf("unknown output format %q", format)
}

// WriteResultFile writes result to f.Path, creating parent directories.
func WriteResultFile(result *engine.TestResult, f ResultFile) error {
	if dir := filepath.Dir(f.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	file, err := os.Create(f.Path)
	if err != nil {
		return fmt.Errorf("failed to create result file: %w", err)
	}
	if err := WriteResult(file, result, f.Format); err != nil {
		file.Close()
		return fmt.Errorf("failed to write %s result: %w", f.Format, err)
	}
	return file.Close()
}

// resultDocument round-trips result through JSON so the YAML file uses the
// same field names as the JSON one.
func resultDocument(result *engine.TestResult) interface{} {
	b, err := json.Marshal(result)
	if err != nil {
		return result
	}
	var doc interface{}
	if err := json.Unmarshal(b, &doc); err != nil {
		return result
	}
	return doc
}

// JUnitTestSuites represents the root element containing all test suites
type JUnitTestSuites struct {
	XMLName    xml.Name         `xml:"testsuites"`
	Name       string           `xml:"name,attr,omitempty"`
	Tests      int              `xml:"tests,attr"`
	Failures   int              `xml:"failures,attr"`
	Time       float64          `xml:"time,attr"`
	TestSuites []JUnitTestSuite `xml:"testsuite"`
}

// JUnitTestSuite represents a JUnit test suite
type JUnitTestSuite struct {
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Errors    int             `xml:"errors,attr"`
	Time      float64         `xml:"time,attr"`
	Timestamp string          `xml:"timestamp,attr"`
	TestCases []JUnitTestCase `xml:"testcase"`
	SystemOut string          `xml:"system-out,omitempty"`
}

// JUnitTestCase represents a JUnit test case
type JUnitTestCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *JUnitFailure `xml:"failure,omitempty"`
	Skipped   *JUnitSkipped `xml:"skipped,omitempty"`
}

// JUnitFailure represents a JUnit test failure
type JUnitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Content string `xml:",chardata"`
}

// JUnitSkipped marks a test case that did not run
type JUnitSkipped struct {
	Message string `xml:"message,attr,omitempty"`
}

// JUnitFromResult maps a run to JUnit: one suite of thresholds, one suite of
// checks and one suite of scenarios. A failed threshold is a failed test case;
// checks are informational and only fail when a scenario errored.
func JUnitFromResult(r *engine.TestResult) *JUnitTestSuites {
	secs := r.Duration.Seconds()
	stamp := r.StartTime.Format(time.RFC3339)
	name := r.Name
	if name == "" {
		name = "volley"
	}

	thresholds := JUnitTestSuite{Name: name + ".thresholds", Time: secs, Timestamp: stamp}
	for _, t := range r.Thresholds {
		tc := JUnitTestCase{
			Name:      t.Metric + " " + t.Expression,
			Classname: name + ".thresholds",
		}
		if !t.Passed {
			msg := fmt.Sprintf("%s %s failed with value %g", t.Metric, t.Expression, t.Value)
			if t.Message != "" {
				msg += ": " + t.Message
			}
			tc.Failure = &JUnitFailure{Message: msg, Type: "threshold"}
			thresholds.Failures++
		}
		thresholds.TestCases = append(thresholds.TestCases, tc)
	}
	thresholds.Tests = len(thresholds.TestCases)
	if r.AbortReason != "" {
		thresholds.SystemOut = "aborted: " + r.AbortReason
	}

	checks := JUnitTestSuite{Name: name + ".checks", Time: secs, Timestamp: stamp}
	for _, c := range r.Checks {
		checks.TestCases = append(checks.TestCases, JUnitTestCase{
			Name:      fmt.Sprintf("%s (%d passed, %d failed)", c.Name, c.Passes, c.Fails),
			Classname: name + ".checks",
		})
	}
	checks.Tests = len(checks.TestCases)

	scenarios := JUnitTestSuite{Name: name + ".scenarios", Time: secs, Timestamp: stamp}
	for _, sc := range r.Scenarios {
		tc := JUnitTestCase{
			Name:      sc.Name,
			Classname: name + ".scenarios." + sc.Executor,
			Time:      sc.Duration.Seconds(),
		}
		switch {
		case sc.Error != "":
			tc.Failure = &JUnitFailure{Message: sc.Error, Type: "error"}
			scenarios.Errors++
		case sc.Skipped:
			tc.Skipped = &JUnitSkipped{Message: "scenario did not start"}
		}
		scenarios.TestCases = append(scenarios.TestCases, tc)
	}
	scenarios.Tests = len(scenarios.TestCases)

	suites := &JUnitTestSuites{
		Name:       name,
		Time:       secs,
		TestSuites: []JUnitTestSuite{thresholds, checks, scenarios},
	}
	for _, s := range suites.TestSuites {
		suites.Tests += s.Tests
		suites.Failures += s.Failures + s.Errors
	}
	return suites
}
