package cli

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/stepguard-dev/stepguard/pkg/artifacts"
	"github.com/stepguard-dev/stepguard/pkg/core"
	"github.com/stepguard-dev/stepguard/pkg/executor"
	"github.com/stepguard-dev/stepguard/pkg/logger"
	"github.com/stepguard-dev/stepguard/pkg/report"
	"github.com/stepguard-dev/stepguard/pkg/scenario"
)

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Execute a scenario plan on a device",
	ArgsUsage: "<plan.yaml>",
	Description: `Run every scenario in the plan sequentially against one device session.

Examples:
  stepguard run plan.yaml
  stepguard run plan.yaml --max-cycles 5 --artifacts ./out
  stepguard run plan.yaml --report json --report allure`,
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:    "max-cycles",
			Usage:   "Recovery cycle budget per step",
			EnvVars: []string{"STEPGUARD_MAX_CYCLES"},
		},
		&cli.StringFlag{
			Name:    "artifacts",
			Usage:   "Artifact root directory",
			EnvVars: []string{"STEPGUARD_ARTIFACTS"},
		},
		&cli.StringSliceFlag{
			Name:  "report",
			Usage: "Report formats to write: json, html, allure (repeatable)",
			Value: cli.NewStringSlice("json", "html", "allure"),
		},
		&cli.BoolFlag{
			Name:  "stop-on-fail",
			Usage: "Skip remaining scenarios after the first failure",
		},
	},
	Action: runPlan,
}

func runPlan(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one plan file, got %d arguments", c.NArg())
	}
	colorsEnabled = !c.Bool("no-ansi")

	plan, err := scenario.Load(c.Args().First())
	if err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if n := c.Int("max-cycles"); n > 0 {
		cfg.Execution.MaxCycles = n
	}
	artifactsDir := cfg.ArtifactsDir()
	if dir := c.String("artifacts"); dir != "" {
		artifactsDir = dir
	}

	log, err := newLogger(c)
	if err != nil {
		return err
	}

	sess, err := openSession(cfg, log)
	if err != nil {
		return fmt.Errorf("connect to device: %w", err)
	}
	defer sess.Close()

	store, err := artifacts.NewStore(artifactsDir, cfg.ArtifactConfig(), log)
	if err != nil {
		return fmt.Errorf("prepare artifact directory: %w", err)
	}

	machine := buildMachine(cfg, sess, log)
	runner := executor.New(machine, sess, executor.Config{
		StopOnFail:      c.Bool("stop-on-fail"),
		Artifacts:       store,
		Env:             cfg.Env,
		OnScenarioStart: printScenarioStart,
		OnStepComplete:  printStepComplete,
		OnScenarioEnd:   printScenarioEnd,
	}, log)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("%sGoal:%s %s\n", color(colorBold), color(colorReset), plan.Goal)
	run, err := runner.Run(ctx, plan)
	if err != nil {
		return err
	}

	printSummary(run)
	fmt.Printf("\nArtifacts: %s\n", store.RunDir())

	meta := report.Metadata{
		RunnerVersion: Version,
		DeviceSerial:  cfg.Device.Serial,
		AppPackage:    cfg.Device.AppPackage,
		OracleModel:   cfg.OracleOptions().Model,
	}
	if err := writeReports(c.StringSlice("report"), store.RunDir(), run, meta, log); err != nil {
		return err
	}

	if !run.Success() {
		return cli.Exit("", 1)
	}
	return nil
}

// writeReports emits the requested formats into the run directory. A
// writer failure is logged, not fatal: the run already happened.
func writeReports(formats []string, dir string, run *core.RunResult, meta report.Metadata, log *logger.Logger) error {
	for _, f := range formats {
		var err error
		switch strings.ToLower(strings.TrimSpace(f)) {
		case "json":
			err = report.WriteJSON(dir, run, meta)
		case "html":
			err = report.WriteHTML(dir, run, meta)
		case "allure":
			err = report.WriteAllure(dir, run, meta)
		default:
			return fmt.Errorf("unknown report format %q (want json, html or allure)", f)
		}
		if err != nil {
			log.Error(err, "report writer failed", map[string]interface{}{"format": f})
		}
	}
	return nil
}
