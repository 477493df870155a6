package main

import (
	"os"

	"github.com/ekaya-inc/ekaya-sqlbot/pkg/cli"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	os.Exit(cli.New(Version).Execute())
}
