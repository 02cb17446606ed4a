// Command sample-report renders the HTML report of a synthetic run, for
// working on the report template without generating load.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/volleyload/volley/internal/report"
)

func main() {
	outputPath := "sample-report.html"
	if len(os.Args) > 1 {
		outputPath = os.Args[1]
	}

	if err := report.GenerateHTML(report.SampleResult(time.Now()), outputPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Sample report generated: %s\n", outputPath)
}
