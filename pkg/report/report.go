// Package report renders run results into human- and CI-consumable
// files: a JSON summary, a standalone HTML page, and Allure-compatible
// result files.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/stepguard-dev/stepguard/pkg/core"
	"github.com/stepguard-dev/stepguard/pkg/logger"
)

// Metadata carries run context that is not part of the result itself.
type Metadata struct {
	RunnerVersion string `json:"runnerVersion,omitempty"`
	DeviceSerial  string `json:"deviceSerial,omitempty"`
	AppPackage    string `json:"appPackage,omitempty"`
	OracleModel   string `json:"oracleModel,omitempty"`
}

// Summary is the JSON report document.
type Summary struct {
	GeneratedAt time.Time       `json:"generatedAt"`
	Metadata    Metadata        `json:"metadata"`
	Run         *core.RunResult `json:"run"`
}

// Generate writes every report format into dir. Report trouble is
// logged and swallowed: a finished run always survives its reporting.
func Generate(dir string, run *core.RunResult, meta Metadata, log *logger.Logger) {
	log = log.WithComponent("report")

	if err := WriteJSON(dir, run, meta); err != nil {
		log.Error(err, "json report failed", map[string]interface{}{"dir": dir})
	}
	if err := WriteHTML(dir, run, meta); err != nil {
		log.Error(err, "html report failed", map[string]interface{}{"dir": dir})
	}
	if err := WriteAllure(dir, run, meta); err != nil {
		log.Error(err, "allure report failed", map[string]interface{}{"dir": dir})
	}

	log.Info("reports written", map[string]interface{}{
		"dir": dir,
		"run": run.RunID,
	})
}

// WriteJSON writes summary.json into dir.
func WriteJSON(dir string, run *core.RunResult, meta Metadata) error {
	doc := Summary{
		GeneratedAt: time.Now(),
		Metadata:    meta,
		Run:         run,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	path := filepath.Join(dir, "summary.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

// ReadSummary loads a previously written summary.json.
func ReadSummary(dir string) (*Summary, error) {
	data, err := os.ReadFile(filepath.Join(dir, "summary.json")) //#nosec G304 -- caller-owned report dir
	if err != nil {
		return nil, err
	}
	var doc Summary
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse summary: %w", err)
	}
	return &doc, nil
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
}
