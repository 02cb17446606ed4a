package main

import (
	"os"

	"github.com/volleyload/volley/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
