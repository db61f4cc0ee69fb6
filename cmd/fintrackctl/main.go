package main

import (
	"context"
	"os"

	"github.com/smallbiznis/fintrack/internal/cli"
)

// version is set at build time via ldflags
var version = "dev"

func main() {
	cli.SetVersion(version)
	os.Exit(cli.Execute(context.Background(), os.Args[1:]))
}
