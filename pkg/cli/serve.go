package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/stepguard-dev/stepguard/pkg/core"
	"github.com/stepguard-dev/stepguard/pkg/executor"
	"github.com/stepguard-dev/stepguard/pkg/scenario"
	"github.com/stepguard-dev/stepguard/pkg/server"
)

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Serve the HTTP API for plan submission and live progress",
	Description: `Expose POST /run, GET /runs/{id} and the SSE log stream. One run
executes at a time; the device session is opened per accepted run.

Examples:
  stepguard serve
  stepguard serve --addr :9000 --rate 10`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "addr",
			Usage:   "Listen address",
			EnvVars: []string{"STEPGUARD_ADDR"},
		},
		&cli.Float64Flag{
			Name:  "rate",
			Usage: "Request rate limit per client IP (requests/second)",
		},
	},
	Action: runServe,
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log, err := newLogger(c)
	if err != nil {
		return err
	}

	opts := cfg.ServerOptions()
	if addr := c.String("addr"); addr != "" {
		opts.Addr = addr
	}
	if rate := c.Float64("rate"); rate > 0 {
		opts.RatePerSecond = rate
	}

	// Each accepted run gets a fresh device session, closed when the
	// run finishes.
	factory := func(p server.Progress) (server.PlanRunner, error) {
		sess, err := openSession(cfg, log)
		if err != nil {
			return nil, fmt.Errorf("connect to device: %w", err)
		}
		runner := executor.New(buildMachine(cfg, sess, log), sess, executor.Config{
			Env:             cfg.Env,
			OnScenarioStart: p.OnScenarioStart,
			OnStepComplete:  p.OnStepComplete,
			OnScenarioEnd:   p.OnScenarioEnd,
		}, log)
		return &sessionClosingRunner{runner: runner, sess: sess}, nil
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("stepguard API listening on %s\n", opts.Addr)
	return server.New(factory, opts, log).Serve(ctx)
}

// sessionClosingRunner ties the device session lifetime to one run.
type sessionClosingRunner struct {
	runner *executor.Runner
	sess   core.Session
}

func (r *sessionClosingRunner) Run(ctx context.Context, plan *scenario.Plan) (*core.RunResult, error) {
	defer r.sess.Close()
	return r.runner.Run(ctx, plan)
}
