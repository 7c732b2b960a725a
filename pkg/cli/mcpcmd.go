package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/stepguard-dev/stepguard/pkg/core"
	"github.com/stepguard-dev/stepguard/pkg/device"
	mcpsrv "github.com/stepguard-dev/stepguard/pkg/mcp"
	"github.com/stepguard-dev/stepguard/pkg/stepexec"
)

var mcpCommand = &cli.Command{
	Name:  "mcp",
	Usage: "Serve the engine as a Model Context Protocol server",
	Description: `Expose device inspection and guarded step execution as MCP tools,
so an AI client can drive the device through the recovery loop.

Examples:
  stepguard mcp
  stepguard mcp --transport http --port 8765`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "transport",
			Usage:   "Transport to serve on: stdio or http",
			Value:   "stdio",
			EnvVars: []string{"STEPGUARD_MCP_TRANSPORT"},
		},
		&cli.IntFlag{
			Name:    "port",
			Usage:   "Listen port for the http transport",
			Value:   8765,
			EnvVars: []string{"STEPGUARD_MCP_PORT"},
		},
	},
	Action: runMCP,
}

func runMCP(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log, err := newLogger(c)
	if err != nil {
		return err
	}

	deps := mcpsrv.Deps{
		ListDevices: device.ListDevices,
		NewSession: func() (core.Session, error) {
			return openSession(cfg, log)
		},
		NewMachine: func(sess core.Session) *stepexec.Machine {
			return buildMachine(cfg, sess, log)
		},
	}
	srv := mcpsrv.New(deps, mcpsrv.Options{Version: Version, Env: cfg.Env}, log)

	transport := c.String("transport")
	switch transport {
	case "stdio", "":
		transport = "stdio"
	case "http":
		transport = "streamable-http"
	default:
		return fmt.Errorf("unknown transport %q (want stdio or http)", transport)
	}
	return srv.Serve(transport, c.Int("port"))
}
