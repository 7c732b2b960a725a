// Package cli provides the stepguard command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to stepguard.yaml (default: look in current directory)",
		EnvVars: []string{"STEPGUARD_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "device",
		Usage:   "Device serial to run on",
		EnvVars: []string{"STEPGUARD_DEVICE"},
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Aliases: []string{"v"},
		Usage:   "Enable debug logging",
		EnvVars: []string{"STEPGUARD_VERBOSE"},
	},
	&cli.BoolFlag{
		Name:    "log-json",
		Usage:   "Emit JSON log lines instead of the console writer",
		EnvVars: []string{"STEPGUARD_LOG_JSON"},
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
}

// NewApp builds the CLI application.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "stepguard",
		Usage:   "AI-guided action execution and recovery engine for mobile UI tests",
		Version: Version,
		Description: `Stepguard executes natural-language scenario plans against an Android
device, recovering from interruptions, flaky taps and unexpected screens.

Examples:
  stepguard run plan.yaml
  stepguard run plan.yaml --max-cycles 5 --report json --report html
  stepguard serve --addr :8780
  stepguard mcp --transport stdio
  stepguard devices --boot Pixel_7_API_33
  stepguard inspect --format tree`,
		Flags: GlobalFlags,
		Commands: []*cli.Command{
			runCommand,
			serveCommand,
			mcpCommand,
			devicesCommand,
			inspectCommand,
			versionCommand,
		},
	}
}

// Execute runs the CLI.
func Execute() {
	if err := NewApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var versionCommand = &cli.Command{
	Name:  "version",
	Usage: "Print the stepguard version",
	Action: func(c *cli.Context) error {
		fmt.Printf("stepguard %s\n", Version)
		return nil
	},
}
