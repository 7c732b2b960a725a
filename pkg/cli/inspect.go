package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/stepguard-dev/stepguard/pkg/core"
	"github.com/stepguard-dev/stepguard/pkg/hierarchy"
)

var inspectCommand = &cli.Command{
	Name:  "inspect",
	Usage: "Dump the current UI hierarchy of the connected device",
	Description: `Capture a UI snapshot and print it as an indented tree, a flat
element listing, or raw JSON. Optionally save a screenshot alongside.

Examples:
  stepguard inspect
  stepguard inspect --format flat
  stepguard inspect --format json --screenshot screen.png`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "format",
			Usage: "Output format: tree, flat or json",
			Value: "tree",
		},
		&cli.StringFlag{
			Name:  "screenshot",
			Usage: "Also capture a screenshot and save it at this path",
		},
	},
	Action: runInspect,
}

func runInspect(c *cli.Context) error {
	colorsEnabled = !c.Bool("no-ansi")
	cfg, err := loadConfig(c)
	if err != nil {
		return err
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

	xml, err := sess.Snapshot()
	if err != nil {
		return fmt.Errorf("capture snapshot: %w", err)
	}
	nodes, err := hierarchy.Parse(xml)
	if err != nil {
		return fmt.Errorf("parse hierarchy: %w", err)
	}

	switch c.String("format") {
	case "tree":
		fmt.Print(formatTree(nodes))
	case "flat":
		fmt.Print(formatFlat(nodes))
	case "json":
		data, err := json.MarshalIndent(nodes, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	default:
		return fmt.Errorf("unknown format %q (want tree, flat or json)", c.String("format"))
	}

	if dest := c.String("screenshot"); dest != "" {
		if err := saveScreenshot(sess, dest); err != nil {
			return fmt.Errorf("capture screenshot: %w", err)
		}
		fmt.Printf("Screenshot saved to %s\n", dest)
	}
	return nil
}

// formatTree renders nodes indented by their nesting depth.
func formatTree(nodes []core.UINode) string {
	var sb strings.Builder
	for _, n := range nodes {
		sb.WriteString(strings.Repeat("  ", n.Depth))
		sb.WriteString(nodeLabel(n))
		sb.WriteString("\n")
	}
	return sb.String()
}

// formatFlat renders one numbered line per node, interactive ones
// highlighted.
func formatFlat(nodes []core.UINode) string {
	var sb strings.Builder
	for _, n := range nodes {
		marker := " "
		if n.Clickable {
			marker = color(colorGreen) + "●" + color(colorReset)
		}
		sb.WriteString(fmt.Sprintf("%s [%3d] %s\n", marker, n.Index, nodeLabel(n)))
	}
	return sb.String()
}

func nodeLabel(n core.UINode) string {
	parts := []string{shortClass(n.Class)}
	if n.Text != "" {
		parts = append(parts, fmt.Sprintf("%q", n.Text))
	}
	if n.Desc != "" && n.Desc != n.Text {
		parts = append(parts, "desc="+fmt.Sprintf("%q", n.Desc))
	}
	if n.ResourceID != "" {
		parts = append(parts, "id="+n.ResourceID)
	}
	var attrs []string
	if n.Clickable {
		attrs = append(attrs, "clickable")
	}
	if n.Scrollable {
		attrs = append(attrs, "scrollable")
	}
	if len(attrs) > 0 {
		parts = append(parts, "["+strings.Join(attrs, ",")+"]")
	}
	b := n.Bounds
	parts = append(parts, color(colorGray)+fmt.Sprintf("(%d,%d %dx%d)", b.X, b.Y, b.Width, b.Height)+color(colorReset))
	return strings.Join(parts, " ")
}

// shortClass trims the package prefix from an Android class name.
func shortClass(class string) string {
	if class == "" {
		return "node"
	}
	if i := strings.LastIndex(class, "."); i >= 0 {
		return class[i+1:]
	}
	return class
}

// saveScreenshot captures through the session and copies the PNG to
// the requested destination.
func saveScreenshot(sess core.Session, dest string) error {
	src, err := sess.Screenshot()
	if err != nil {
		return err
	}
	in, err := os.Open(src) // #nosec G304 -- path produced by the session
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest) // #nosec G304 -- destination chosen by the operator
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
