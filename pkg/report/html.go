package report

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"github.com/stepguard-dev/stepguard/pkg/core"
)

// htmlData is the template's view of a run.
type htmlData struct {
	Title       string
	GeneratedAt string
	Meta        Metadata
	Run         *core.RunResult
	Duration    string
	PassRate    float64
	Scenarios   []scenarioHTML
}

type scenarioHTML struct {
	core.ScenarioResult
	StatusClass string
	DurationStr string
	StepRows    []stepHTML
}

type stepHTML struct {
	core.StepResult
	StatusClass string
	DurationStr string
	ActionCount int
	Attachments []attachmentHTML
}

type attachmentHTML struct {
	Name string
	Href string
}

// WriteHTML writes report.html into dir. Attachment links are relative
// to dir, so the page works when the artifacts directory is opened
// as-is.
func WriteHTML(dir string, run *core.RunResult, meta Metadata) error {
	data := buildHTMLData(run, meta)

	tmpl, err := template.New("report").Parse(htmlTemplate)
	if err != nil {
		return fmt.Errorf("parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("render html: %w", err)
	}
	path := filepath.Join(dir, "report.html")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write html: %w", err)
	}
	return nil
}

func buildHTMLData(run *core.RunResult, meta Metadata) htmlData {
	scenarios := make([]scenarioHTML, 0, len(run.Scenarios))
	for _, sc := range run.Scenarios {
		rows := make([]stepHTML, 0, len(sc.Steps))
		for _, st := range sc.Steps {
			row := stepHTML{
				StepResult:  st,
				StatusClass: statusClass(st.Status),
				DurationStr: formatDuration(st.Duration),
				ActionCount: len(st.Actions),
			}
			for _, a := range st.Attachments {
				row.Attachments = append(row.Attachments, attachmentHTML{
					Name: a.Name,
					Href: filepath.ToSlash(a.Path),
				})
			}
			rows = append(rows, row)
		}
		scenarios = append(scenarios, scenarioHTML{
			ScenarioResult: sc,
			StatusClass:    statusClass(sc.Status),
			DurationStr:    formatDuration(sc.Duration),
			StepRows:       rows,
		})
	}

	var passRate float64
	if run.TotalScenarios > 0 {
		passRate = float64(run.PassedScenarios) / float64(run.TotalScenarios) * 100
	}

	return htmlData{
		Title:       "stepguard report",
		GeneratedAt: time.Now().Format("2006-01-02 15:04:05"),
		Meta:        meta,
		Run:         run,
		Duration:    formatDuration(run.Duration),
		PassRate:    passRate,
		Scenarios:   scenarios,
	}
}

func statusClass(s core.StepStatus) string {
	switch s {
	case core.StatusPassed:
		return "passed"
	case core.StatusFailed, core.StatusErrored:
		return "failed"
	case core.StatusSkipped:
		return "skipped"
	case core.StatusWarned:
		return "warned"
	default:
		return "pending"
	}
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
        :root {
            --bg: #ffffff;
            --bg-alt: #f9fafb;
            --text: #111827;
            --muted: #6b7280;
            --border: #e5e7eb;
            --passed: #22c55e;
            --failed: #ef4444;
            --skipped: #eab308;
            --warned: #f97316;
            --pending: #6b7280;
        }
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: var(--bg);
            color: var(--text);
            line-height: 1.5;
            padding: 2rem;
            max-width: 1100px;
            margin: 0 auto;
        }
        h1 { font-size: 1.4rem; margin-bottom: 0.25rem; }
        .meta { color: var(--muted); font-size: 0.85rem; margin-bottom: 1.5rem; }
        .summary {
            display: flex; gap: 1rem; margin-bottom: 2rem; flex-wrap: wrap;
        }
        .card {
            background: var(--bg-alt); border: 1px solid var(--border);
            border-radius: 8px; padding: 0.75rem 1.25rem; min-width: 110px;
        }
        .card .num { font-size: 1.5rem; font-weight: 600; }
        .card .label { color: var(--muted); font-size: 0.8rem; }
        .num.passed { color: var(--passed); }
        .num.failed { color: var(--failed); }
        .num.skipped { color: var(--skipped); }
        .scenario {
            border: 1px solid var(--border); border-radius: 8px;
            margin-bottom: 1rem; overflow: hidden;
        }
        .scenario-head {
            display: flex; justify-content: space-between; align-items: center;
            padding: 0.75rem 1rem; background: var(--bg-alt);
        }
        .scenario-head .title { font-weight: 600; }
        .badge {
            font-size: 0.75rem; font-weight: 600; text-transform: uppercase;
            padding: 0.15rem 0.6rem; border-radius: 999px; color: #fff;
        }
        .badge.passed { background: var(--passed); }
        .badge.failed { background: var(--failed); }
        .badge.skipped { background: var(--skipped); }
        .badge.warned { background: var(--warned); }
        .badge.pending { background: var(--pending); }
        table { width: 100%; border-collapse: collapse; font-size: 0.9rem; }
        th, td { text-align: left; padding: 0.5rem 1rem; border-top: 1px solid var(--border); }
        th { color: var(--muted); font-weight: 500; font-size: 0.8rem; }
        td.status { width: 90px; }
        .detail { color: var(--muted); font-size: 0.8rem; }
        .attachments a { margin-right: 0.6rem; font-size: 0.8rem; }
        .flaky { color: var(--warned); font-size: 0.75rem; margin-left: 0.4rem; }
    </style>
</head>
<body>
    <h1>{{.Title}}</h1>
    <div class="meta">
        run {{.Run.RunID}} &middot; goal: {{.Run.Goal}} &middot; generated {{.GeneratedAt}}
        {{if .Meta.DeviceSerial}}&middot; device {{.Meta.DeviceSerial}}{{end}}
        {{if .Meta.AppPackage}}&middot; app {{.Meta.AppPackage}}{{end}}
    </div>

    <div class="summary">
        <div class="card"><div class="num">{{.Run.TotalScenarios}}</div><div class="label">scenarios</div></div>
        <div class="card"><div class="num passed">{{.Run.PassedScenarios}}</div><div class="label">passed</div></div>
        <div class="card"><div class="num failed">{{.Run.FailedScenarios}}</div><div class="label">failed</div></div>
        <div class="card"><div class="num skipped">{{.Run.SkippedScenarios}}</div><div class="label">skipped</div></div>
        <div class="card"><div class="num">{{printf "%.0f%%" .PassRate}}</div><div class="label">pass rate</div></div>
        <div class="card"><div class="num">{{.Duration}}</div><div class="label">duration</div></div>
    </div>

    {{range .Scenarios}}
    <div class="scenario">
        <div class="scenario-head">
            <span class="title">{{if .Title}}{{.Title}}{{else}}{{.ScenarioID}}{{end}}</span>
            <span>
                <span class="detail">{{.PassedSteps}}/{{.TotalSteps}} steps &middot; {{.DurationStr}}</span>
                <span class="badge {{.StatusClass}}">{{.Status}}</span>
            </span>
        </div>
        {{if .Message}}<div class="detail" style="padding: 0 1rem 0.5rem">{{.Message}}</div>{{end}}
        <table>
            <tr><th>status</th><th>step</th><th>cycles</th><th>actions</th><th>duration</th><th>artifacts</th></tr>
            {{range .StepRows}}
            <tr>
                <td class="status"><span class="badge {{.StatusClass}}">{{.Status}}</span></td>
                <td>
                    {{.Description}}{{if .Flaky}}<span class="flaky">flaky</span>{{end}}
                    {{if .Message}}<div class="detail">{{.Message}}</div>{{end}}
                    {{if .Error}}<div class="detail">{{.Error}}</div>{{end}}
                </td>
                <td>{{.Cycles}}/{{.MaxCycles}}</td>
                <td>{{.ActionCount}}</td>
                <td>{{.DurationStr}}</td>
                <td class="attachments">{{range .Attachments}}<a href="{{.Href}}">{{.Name}}</a>{{end}}</td>
            </tr>
            {{end}}
        </table>
    </div>
    {{end}}
</body>
</html>
`
