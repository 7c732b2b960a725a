package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/stepguard-dev/stepguard/pkg/device"
	"github.com/stepguard-dev/stepguard/pkg/emulator"
)

var devicesCommand = &cli.Command{
	Name:  "devices",
	Usage: "List connected devices and available emulators",
	Description: `List devices visible to adb together with the AVDs the local SDK
knows about. With --boot, start the named AVD and wait for it to
finish booting.

Examples:
  stepguard devices
  stepguard devices --boot Pixel_7_API_33`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "boot",
			Usage: "Boot the named AVD and wait for it to be ready",
		},
		&cli.DurationFlag{
			Name:  "boot-timeout",
			Usage: "How long to wait for the emulator to boot",
			Value: 5 * time.Minute,
		},
	},
	Action: runDevices,
}

func runDevices(c *cli.Context) error {
	colorsEnabled = !c.Bool("no-ansi")
	log, err := newLogger(c)
	if err != nil {
		return err
	}
	mgr := emulator.NewManager(log)

	if avd := c.String("boot"); avd != "" {
		fmt.Printf("Booting %s...\n", avd)
		serial, err := mgr.Boot(avd, c.Duration("boot-timeout"))
		if err != nil {
			return fmt.Errorf("boot %s: %w", avd, err)
		}
		fmt.Printf("%s %s booted as %s\n", color(colorGreen)+"✓"+color(colorReset), avd, serial)
	}

	devices, err := device.ListDevices()
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	printDeviceTable(devices)

	avds, err := mgr.List()
	if err != nil {
		// No SDK on the machine is not an error for plain listing.
		return nil
	}
	if len(avds) > 0 {
		fmt.Println()
		printAVDTable(avds)
	}
	return nil
}

func printDeviceTable(devices []device.DeviceInfo) {
	if len(devices) == 0 {
		fmt.Println("No devices connected.")
		return
	}
	fmt.Println(color(colorBold) + "Connected devices" + color(colorReset))
	fmt.Println(strings.Repeat("─", 64))
	fmt.Printf("%-24s %-10s %-18s %s\n", "SERIAL", "STATE", "MODEL", "SDK")
	for _, d := range devices {
		serial := d.Serial
		if d.IsEmulator {
			serial += " (emu)"
		}
		fmt.Printf("%-24s %-10s %-18s %s\n", serial, d.State, d.Model, d.SDK)
	}
}

func printAVDTable(avds []emulator.AVD) {
	fmt.Println(color(colorBold) + "Available AVDs" + color(colorReset))
	fmt.Println(strings.Repeat("─", 64))
	for _, a := range avds {
		marker := " "
		if a.Running {
			marker = color(colorGreen) + "●" + color(colorReset)
		}
		fmt.Printf("%s %s\n", marker, a.Name)
	}
}
