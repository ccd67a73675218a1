package main

import (
	"flag"
	"fmt"

	"github.com/MixyLabs/ducker/pkg/ducker"
)

var (
	gitCommit  string
	versionTag string
	buildType  string

	verbose    bool
	configPath string
)

func init() {
	flag.BoolVar(&verbose, "verbose", false, "log each polling cycle's ducking decision at debug level")
	flag.BoolVar(&verbose, "v", false, "shorthand for --verbose")
	flag.StringVar(&configPath, "config", ducker.DefaultConfigFilepath, "path to the YAML config file (optional)")
	flag.StringVar(&configPath, "c", ducker.DefaultConfigFilepath, "shorthand for --config")
	flag.Parse()
}

func main() {
	logger, err := ducker.NewLogger(buildType, verbose)
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}

	named := logger.Named("main")
	named.Debug("Created logger")

	named.Infow("Version info",
		"gitCommit", gitCommit,
		"versionTag", versionTag,
		"buildType", buildType)

	if verbose {
		named.Debug("Verbose flag provided, all log messages will be shown")
	}

	d, err := ducker.NewDucker(logger, configPath, verbose)
	if err != nil {
		named.Fatalw("Failed to create ducker object", "error", err)
	}

	if buildType != "" && (versionTag != "" || gitCommit != "") {
		identifier := gitCommit
		if versionTag != "" {
			identifier = versionTag
		}

		versionString := fmt.Sprintf("Version %s-%s", buildType, identifier)
		d.SetVersion(versionString)
	}

	if err = d.Initialize(); err != nil {
		named.Fatalw("Failed to initialize ducker", "error", err)
	}
}
