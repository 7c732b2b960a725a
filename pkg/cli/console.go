package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/stepguard-dev/stepguard/pkg/core"
)

const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

var colorsEnabled = true

// color returns the ANSI sequence, or nothing when colors are off.
func color(c string) string {
	if !colorsEnabled {
		return ""
	}
	return c
}

func statusSymbol(s core.StepStatus) (string, string) {
	switch s {
	case core.StatusPassed:
		return "✓", colorGreen
	case core.StatusWarned:
		return "⚠", colorYellow
	case core.StatusSkipped:
		return "-", colorCyan
	default:
		return "✗", colorRed
	}
}

func printScenarioStart(idx, total int, id, title string) {
	name := title
	if name == "" {
		name = id
	}
	fmt.Printf("\n  %s[%d/%d]%s %s%s%s\n",
		color(colorCyan), idx+1, total, color(colorReset),
		color(colorBold), name, color(colorReset))
	fmt.Println("  " + strings.Repeat("─", 60))
}

func printStepComplete(_ string, res core.StepResult) {
	symbol, sc := statusSymbol(res.Status)
	fmt.Printf("    %s%s%s %s %s(%s, %d cycles)%s\n",
		color(sc), symbol, color(colorReset),
		res.Description,
		color(colorGray), formatDuration(res.Duration), res.Cycles, color(colorReset))
	if res.Flaky {
		fmt.Printf("      %s╰─ flaky: passed after %d recoveries%s\n",
			color(colorYellow), len(res.Recoveries), color(colorReset))
	}
	if !res.Status.IsSuccess() && res.Message != "" {
		fmt.Printf("      %s╰─%s %s\n", color(colorGray), color(colorReset), res.Message)
	}
}

func printScenarioEnd(res core.ScenarioResult) {
	symbol, sc := statusSymbol(res.Status)
	fmt.Printf("  %s%s %s%s %s%s%s\n",
		color(sc), symbol, strings.ToUpper(res.Status.String()), color(colorReset),
		color(colorGray), formatDuration(res.Duration), color(colorReset))
}

// printSummary renders the run totals table.
func printSummary(run *core.RunResult) {
	const tableWidth = 84

	fmt.Println()
	fmt.Println(strings.Repeat("═", tableWidth))
	fmt.Printf("  %-34s %8s %6s %6s %6s %6s %10s\n",
		"Scenario", "Status", "Steps", "Pass", "Fail", "Skip", "Duration")
	fmt.Println(strings.Repeat("─", tableWidth))

	for _, sc := range run.Scenarios {
		name := sc.Title
		if name == "" {
			name = sc.ScenarioID
		}
		if len(name) > 34 {
			name = name[:31] + "..."
		}

		symbol, col := statusSymbol(sc.Status)
		status := fmt.Sprintf("%s %s", symbol, strings.ToUpper(sc.Status.String()))

		fmt.Printf("  %-34s %s%8s%s %6d %6d %6d %6d %10s\n",
			name, color(col), status, color(colorReset),
			sc.TotalSteps, sc.PassedSteps, sc.FailedSteps, sc.SkippedSteps,
			formatDuration(sc.Duration))
	}

	fmt.Println(strings.Repeat("─", tableWidth))
	totals := fmt.Sprintf("%d/%d", run.PassedScenarios, run.TotalScenarios)
	col := colorGreen
	if run.FailedScenarios > 0 {
		col = colorRed
	}
	fmt.Printf("  %s%-34s%s %s%8s%s %34s\n",
		color(colorBold), "TOTAL", color(colorReset),
		color(col), totals, color(colorReset),
		formatDuration(run.Duration))
	fmt.Println(strings.Repeat("═", tableWidth))
}

// formatDuration renders durations the way humans read them: ms under a
// second, decimal seconds under a minute, then minutes and seconds.
func formatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	switch {
	case ms < 1000:
		return fmt.Sprintf("%dms", ms)
	case ms < 60000:
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	default:
		return fmt.Sprintf("%dm %ds", ms/60000, (ms%60000)/1000)
	}
}
