// Package main is the entry point of cc-cdr, the air-gapped stage that
// validates staged envelopes and reconstructs clean copies of them.
package main

import (
	"os"

	"github.com/chinacompass/cc-fetcher/cmd/cc-cdr/app"
	"github.com/chinacompass/cc-fetcher/internal/cli"
	"github.com/chinacompass/cc-fetcher/internal/logging"
)

func main() {
	level := logging.Setup("cc-cdr")
	os.Exit(cli.Execute(app.NewRootCmd(level)))
}
