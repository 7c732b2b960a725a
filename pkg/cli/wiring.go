package cli

import (
	"github.com/urfave/cli/v2"

	"github.com/stepguard-dev/stepguard/pkg/config"
	"github.com/stepguard-dev/stepguard/pkg/core"
	"github.com/stepguard-dev/stepguard/pkg/device"
	"github.com/stepguard-dev/stepguard/pkg/dispatch"
	"github.com/stepguard-dev/stepguard/pkg/interrupt"
	"github.com/stepguard-dev/stepguard/pkg/logger"
	"github.com/stepguard-dev/stepguard/pkg/oracle"
	"github.com/stepguard-dev/stepguard/pkg/stepexec"
)

// loadConfig resolves the workspace config and applies global flag
// overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadFromDir(".")
	}
	if err != nil {
		return nil, err
	}

	if serial := c.String("device"); serial != "" {
		cfg.Device.Serial = serial
	}
	return cfg, nil
}

// newLogger builds the process logger from global flags.
func newLogger(c *cli.Context) (*logger.Logger, error) {
	level := "info"
	if c.Bool("verbose") {
		level = "debug"
	}
	return logger.New(logger.Options{
		Level:         level,
		HumanReadable: !c.Bool("log-json"),
	})
}

// openSession connects to the device named by the config.
func openSession(cfg *config.Config, log *logger.Logger) (core.Session, error) {
	return device.NewAndroidSession(cfg.DeviceOptions(), log)
}

// buildMachine wires the full execution stack around one session: the
// oracle client, the dispatcher, the interruption guard, and the step
// machine on top.
func buildMachine(cfg *config.Config, sess core.Session, log *logger.Logger) *stepexec.Machine {
	orc := oracle.New(cfg.OracleOptions(), log)
	disp := dispatch.New(sess, cfg.DispatchOptions(), log)
	guard := interrupt.NewGuard(sess, disp, orc, cfg.InterruptOptions(), log)
	return stepexec.New(sess, orc, disp, guard, cfg.MachineOptions(), log)
}
