// Package main is the entry point of cc-fetcher, the network-capable stage
// that runs the configured sources and writes their envelopes.
package main

import (
	"os"

	"github.com/chinacompass/cc-fetcher/cmd/cc-fetcher/app"
	"github.com/chinacompass/cc-fetcher/internal/cli"
	"github.com/chinacompass/cc-fetcher/internal/logging"
)

func main() {
	level := logging.Setup("cc-fetcher")
	os.Exit(cli.Execute(app.NewRootCmd(level)))
}
