// Package main is the entry point of cc-promote, which moves validated clean
// batches into the final store and records each promotion as a snapshot.
package main

import (
	"os"

	"github.com/chinacompass/cc-fetcher/cmd/cc-promote/app"
	"github.com/chinacompass/cc-fetcher/internal/cli"
	"github.com/chinacompass/cc-fetcher/internal/logging"
)

func main() {
	level := logging.Setup("cc-promote")
	os.Exit(cli.Execute(app.NewRootCmd(level)))
}
