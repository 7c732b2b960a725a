package report

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/stepguard-dev/stepguard/pkg/core"
)

// Allure result schema types.

// AllureResult represents a single test result in Allure format.
type AllureResult struct {
	UUID          string              `json:"uuid"`
	HistoryID     string              `json:"historyId"`
	FullName      string              `json:"fullName"`
	Name          string              `json:"name"`
	Status        string              `json:"status"`
	Stage         string              `json:"stage"`
	Start         int64               `json:"start"`
	Stop          int64               `json:"stop"`
	Labels        []AllureLabel       `json:"labels"`
	StatusDetails AllureStatusDetails `json:"statusDetails"`
	Steps         []AllureStep        `json:"steps"`
	Attachments   []AllureAttachment  `json:"attachments"`
}

// AllureStep represents a step within a test result.
type AllureStep struct {
	Name        string             `json:"name"`
	Status      string             `json:"status"`
	Stage       string             `json:"stage"`
	Start       int64              `json:"start"`
	Stop        int64              `json:"stop"`
	Steps       []AllureStep       `json:"steps"`
	Attachments []AllureAttachment `json:"attachments"`
}

// AllureAttachment represents a file attachment.
type AllureAttachment struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Type   string `json:"type"`
}

// AllureLabel represents a label on a test result.
type AllureLabel struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// AllureStatusDetails holds failure message and trace.
type AllureStatusDetails struct {
	Message string `json:"message"`
	Trace   string `json:"trace"`
	Flaky   bool   `json:"flaky,omitempty"`
}

// AllureCategory defines a failure category with regex matching.
type AllureCategory struct {
	Name            string   `json:"name"`
	MatchedStatuses []string `json:"matchedStatuses"`
	MessageRegex    string   `json:"messageRegex"`
}

// AllureExecutor holds executor branding info.
type AllureExecutor struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	ReportName string `json:"reportName"`
}

// WriteAllure writes Allure-compatible result files into
// <dir>/allure-results/, one per scenario, plus categories, environment
// and executor metadata. Attachment files referenced by results are
// copied in flat, the layout Allure expects.
func WriteAllure(dir string, run *core.RunResult, meta Metadata) error {
	allureDir := filepath.Join(dir, "allure-results")
	if err := os.MkdirAll(allureDir, 0755); err != nil {
		return fmt.Errorf("create allure-results dir: %w", err)
	}

	for _, sc := range run.Scenarios {
		result := buildAllureResult(run, sc)

		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal allure result for %s: %w", sc.ScenarioID, err)
		}
		path := filepath.Join(allureDir, sc.ScenarioID+"-result.json")
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("write allure result %s: %w", sc.ScenarioID, err)
		}

		copyScenarioAttachments(dir, allureDir, sc)
	}

	if err := writeAllureCategories(allureDir); err != nil {
		return err
	}
	if err := writeAllureEnvironment(allureDir, run, meta); err != nil {
		return err
	}
	return writeAllureExecutor(allureDir)
}

func buildAllureResult(run *core.RunResult, sc core.ScenarioResult) AllureResult {
	start := sc.StartTime.UnixMilli()
	stop := sc.StartTime.Add(sc.Duration).UnixMilli()

	name := sc.Title
	if name == "" {
		name = sc.ScenarioID
	}

	labels := []AllureLabel{
		{Name: "suite", Value: run.Goal},
		{Name: "framework", Value: "stepguard"},
		{Name: "severity", Value: "normal"},
	}

	var details AllureStatusDetails
	if sc.Error != "" {
		details.Message = sc.Error
	} else if sc.Message != "" {
		details.Message = sc.Message
	}
	details.Flaky = sc.FlakySteps > 0

	steps := make([]AllureStep, 0, len(sc.Steps))
	var attachments []AllureAttachment
	for _, st := range sc.Steps {
		steps = append(steps, buildAllureStep(st))
		for _, a := range st.Attachments {
			attachments = append(attachments, AllureAttachment{
				Name:   a.Name,
				Source: filepath.Base(a.Path),
				Type:   a.ContentType,
			})
		}
	}

	return AllureResult{
		UUID:          uuid.NewString(),
		HistoryID:     fnv32aHash(run.Goal + ":" + sc.ScenarioID),
		FullName:      run.Goal + " / " + name,
		Name:          name,
		Status:        mapAllureStatus(sc.Status),
		Stage:         "finished",
		Start:         start,
		Stop:          stop,
		Labels:        labels,
		StatusDetails: details,
		Steps:         steps,
		Attachments:   attachments,
	}
}

func buildAllureStep(st core.StepResult) AllureStep {
	start := st.StartTime.UnixMilli()
	stop := st.StartTime.Add(st.Duration).UnixMilli()

	// Recovery cycles surface as sub-steps so the timeline shows what
	// the loop spent its budget on.
	subs := make([]AllureStep, 0, len(st.Recoveries))
	for _, rec := range st.Recoveries {
		subs = append(subs, AllureStep{
			Name:   "recovery: " + string(rec),
			Status: "passed",
			Stage:  "finished",
			Start:  start,
			Stop:   stop,
			Steps:  []AllureStep{},
		})
	}

	var attachments []AllureAttachment
	for _, a := range st.Attachments {
		attachments = append(attachments, AllureAttachment{
			Name:   a.Name,
			Source: filepath.Base(a.Path),
			Type:   a.ContentType,
		})
	}

	return AllureStep{
		Name:        st.Description,
		Status:      mapAllureStatus(st.Status),
		Stage:       "finished",
		Start:       start,
		Stop:        stop,
		Steps:       subs,
		Attachments: attachments,
	}
}

// copyScenarioAttachments copies attachment files flat into the allure
// dir, ignoring missing sources (capture-on-failure runs have none for
// passing steps).
func copyScenarioAttachments(dir, allureDir string, sc core.ScenarioResult) {
	for _, st := range sc.Steps {
		for _, a := range st.Attachments {
			src := filepath.Join(dir, a.Path)
			dst := filepath.Join(allureDir, filepath.Base(a.Path))
			copyFile(src, dst)
		}
	}
}

func copyFile(src, dst string) {
	in, err := os.Open(src) //#nosec G304 -- paths inside the report dir
	if err != nil {
		return
	}
	defer in.Close()
	out, err := os.Create(dst) //#nosec G304 -- paths inside the report dir
	if err != nil {
		return
	}
	defer out.Close()
	_, _ = io.Copy(out, in)
}

// mapAllureStatus maps a step status to the Allure status vocabulary.
// Errored runs are "broken" (infrastructure trouble, not an assertion
// failure); warned optional steps count as passed.
func mapAllureStatus(s core.StepStatus) string {
	switch s {
	case core.StatusPassed, core.StatusWarned:
		return "passed"
	case core.StatusFailed:
		return "failed"
	case core.StatusErrored:
		return "broken"
	case core.StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

func fnv32aHash(s string) string {
	h := fnv.New32a()
	h.Write([]byte(s))
	return fmt.Sprintf("%08x", h.Sum32())
}

func writeAllureCategories(allureDir string) error {
	categories := []AllureCategory{
		{Name: "Cycle Budget Exhausted", MatchedStatuses: []string{"failed"}, MessageRegex: "(?i).*no success within.*"},
		{Name: "Recovery Failed", MatchedStatuses: []string{"failed"}, MessageRegex: "(?i).*recovery.*failed.*"},
		{Name: "Abort Advised", MatchedStatuses: []string{"failed"}, MessageRegex: "(?i).*wrong screen.*|.*abort.*"},
		{Name: "Session Trouble", MatchedStatuses: []string{"broken"}, MessageRegex: "(?i).*session.*|.*connection.*|.*unreachable.*"},
		{Name: "Oracle Trouble", MatchedStatuses: []string{"broken"}, MessageRegex: "(?i).*oracle.*|.*evaluation.*"},
		{Name: "Script Error", MatchedStatuses: []string{"failed"}, MessageRegex: "(?i).*script.*"},
	}

	data, err := json.MarshalIndent(categories, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal categories: %w", err)
	}
	path := filepath.Join(allureDir, "categories.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write categories.json: %w", err)
	}
	return nil
}

func writeAllureEnvironment(allureDir string, run *core.RunResult, meta Metadata) error {
	var b strings.Builder
	b.WriteString("framework=stepguard\n")
	fmt.Fprintf(&b, "goal=%s\n", run.Goal)
	if meta.RunnerVersion != "" {
		fmt.Fprintf(&b, "runner.version=%s\n", meta.RunnerVersion)
	}
	if meta.DeviceSerial != "" {
		fmt.Fprintf(&b, "device.serial=%s\n", meta.DeviceSerial)
	}
	if meta.AppPackage != "" {
		fmt.Fprintf(&b, "app.package=%s\n", meta.AppPackage)
	}
	if meta.OracleModel != "" {
		fmt.Fprintf(&b, "oracle.model=%s\n", meta.OracleModel)
	}

	path := filepath.Join(allureDir, "environment.properties")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write environment.properties: %w", err)
	}
	return nil
}

func writeAllureExecutor(allureDir string) error {
	executor := AllureExecutor{
		Name:       "stepguard",
		Type:       "stepguard",
		ReportName: "stepguard run",
	}
	data, err := json.MarshalIndent(executor, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal executor: %w", err)
	}
	path := filepath.Join(allureDir, "executor.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write executor.json: %w", err)
	}
	return nil
}
