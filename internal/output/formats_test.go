package output

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{".json", FormatJSON, false},
		{"YAML", FormatYAML, false},
		{"yml", FormatYAML, false},
		{"junit", FormatJUnit, false},
		{".xml", FormatJUnit, false},
		{"csv", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseResultFile(t *testing.T) {
	f, err := ParseResultFile("junit=reports/volley.xml")
	if err != nil || f.Format != FormatJUnit || f.Path != "reports/volley.xml" {
		t.Errorf("ParseResultFile(junit=...) = %+v, %v", f, err)
	}

	f, err = ParseResultFile("out/result.json")
	if err != nil || f.Format != FormatJSON || f.Path != "out/result.json" {
		t.Errorf("ParseResultFile(result.json) = %+v, %v", f, err)
	}

	if _, err := ParseResultFile("result"); err == nil {
		t.Error("a path without extension or format should be rejected")
	}
}

func TestWriteResult_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteResult(&buf, sampleResult(), FormatJSON); err != nil {
		t.Fatalf("WriteResult: %v", err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if doc["name"] != "similar products" {
		t.Errorf("name = %v", doc["name"])
	}
	if _, ok := doc["LatencySample"]; ok {
		t.Error("latency sample should not be serialized")
	}
	scenarios, _ := doc["scenarios"].([]interface{})
	if len(scenarios) != 2 {
		t.Errorf("scenarios = %d, want 2", len(scenarios))
	}
}

func TestWriteResult_YAMLUsesJSONNames(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteResult(&buf, sampleResult(), FormatYAML); err != nil {
		t.Fatalf("WriteResult: %v", err)
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("invalid YAML: %v", err)
	}
	if doc["runId"] == nil || doc["baseUrl"] != "http://localhost:5000" {
		t.Errorf("YAML should carry the JSON field names, got keys %v", keys(doc))
	}
}

func keys(m map[string]interface{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestJUnitFromResult(t *testing.T) {
	suites := JUnitFromResult(sampleResult())

	if len(suites.TestSuites) != 3 {
		t.Fatalf("suites = %d, want 3", len(suites.TestSuites))
	}
	th := suites.TestSuites[0]
	if th.Tests != 2 || th.Failures != 1 {
		t.Errorf("thresholds suite tests=%d failures=%d, want 2/1", th.Tests, th.Failures)
	}
	if th.TestCases[0].Failure == nil || !strings.Contains(th.TestCases[0].Failure.Message, "rate<0.05") {
		t.Errorf("failed threshold should carry a failure: %+v", th.TestCases[0])
	}
	if th.TestCases[1].Failure != nil {
		t.Error("passing threshold should not fail")
	}

	sc := suites.TestSuites[2]
	if sc.TestCases[1].Skipped == nil {
		t.Error("skipped scenario should be marked skipped")
	}
	if suites.Tests != 5 || suites.Failures != 1 {
		t.Errorf("totals tests=%d failures=%d, want 5/1", suites.Tests, suites.Failures)
	}
}

func TestWriteResultFile_JUnit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "junit.xml")
	if err := WriteResultFile(sampleResult(), ResultFile{Format: FormatJUnit, Path: path}); err != nil {
		t.Fatalf("WriteResultFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "<?xml") {
		t.Error("JUnit file should start with the XML header")
	}
	var suites JUnitTestSuites
	if err := xml.Unmarshal(data, &suites); err != nil {
		t.Fatalf("invalid XML: %v", err)
	}
	if len(suites.TestSuites) != 3 {
		t.Errorf("suites = %d, want 3", len(suites.TestSuites))
	}
}
