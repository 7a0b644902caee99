package main

import (
	"fmt"
	"os"

	"github.com/bbockelm/StashCache/pkg/logging"
	"github.com/bbockelm/StashCache/pkg/supervisor"

	flags "github.com/jessevdk/go-flags"
)

// Version is stamped into identity records advertised to the
// registries. Overridden at build time via -ldflags.
var Version = "1.0.0-dev"

type flagOptions struct {
	Config  string `long:"config" description:"path to supervisor configuration file"`
	Debug   bool   `long:"debug" description:"enable debug logging"`
	Version bool   `long:"version" description:"print version and exit"`
}

func main() {
	var opts flagOptions
	parser := flags.NewParser(&opts, flags.HelpFlag)
	_, err := parser.ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	if opts.Version {
		fmt.Println(Version)
		return
	}

	logger, err := logging.NewZapLogger(opts.Debug)
	if err != nil {
		fmt.Printf("Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}

	logger.Infof("opts: %+v", opts)

	if err := supervisor.Run(opts.Config, Version, logger); err != nil {
		logger.Errorf("Supervisor startup failed: %v", err)
		os.Exit(1)
	}
}
