// Package main provides the entry point for the folio command.
package main

import (
	"context"
	"os"

	"github.com/listenupapp/folio/internal/cli"
)

func main() {
	if err := cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}
