// Package artifacts manages per-run debug output: screenshots, UI
// snapshots, and annotated frames saved under a timestamped run
// directory.
package artifacts

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/stepguard-dev/stepguard/pkg/core"
	"github.com/stepguard-dev/stepguard/pkg/logger"
)

// Store owns one run's artifact directory.
type Store struct {
	root   string
	runDir string
	cfg    core.ArtifactConfig
	log    *logger.Logger
}

// NewStore creates the run directory under root and returns a store
// bound to it.
func NewStore(root string, cfg core.ArtifactConfig, log *logger.Logger) (*Store, error) {
	runDir := filepath.Join(root, fmt.Sprintf("run-%s-%s",
		time.Now().Format("20060102-150405"), uuid.NewString()[:8]))
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Store{
		root:   root,
		runDir: runDir,
		cfg:    cfg,
		log:    log.WithComponent("artifacts"),
	}, nil
}

// RunDir returns the absolute run directory path.
func (s *Store) RunDir() string {
	return s.runDir
}

// ScreenshotDir returns the directory device sessions should drop raw
// frames into.
func (s *Store) ScreenshotDir() string {
	dir := filepath.Join(s.runDir, "frames")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return s.runDir
	}
	return dir
}

// CaptureStep persists the step's final screen state according to the
// capture policy and appends attachments to the result. Capture
// failures are logged, never propagated: artifacts must not change a
// verdict.
func (s *Store) CaptureStep(res *core.StepResult, session core.Session) {
	if !s.cfg.ShouldCapture(res.Status) {
		return
	}

	if s.cfg.Screenshot {
		if path, err := session.Screenshot(); err == nil && path != "" {
			if kept, err := s.keepFile(path, fmt.Sprintf("%s-final.png", res.StepID)); err == nil {
				res.Attachments = append(res.Attachments, core.NewScreenshotAttachment(kept, nil))
			} else {
				s.log.Warn("cannot keep screenshot", map[string]interface{}{
					"step":  res.StepID,
					"error": err.Error(),
				})
			}
		} else if err != nil {
			s.log.Warn("cannot capture screenshot", map[string]interface{}{
				"step":  res.StepID,
				"error": err.Error(),
			})
		}
	}

	if s.cfg.Hierarchy {
		if xml, err := session.Snapshot(); err == nil && xml != "" {
			name := fmt.Sprintf("%s-hierarchy.xml", res.StepID)
			if rel, err := s.writeFile(name, []byte(xml)); err == nil {
				res.Attachments = append(res.Attachments, core.NewHierarchyAttachment(rel, nil))
			}
		} else if err != nil {
			s.log.Warn("cannot capture hierarchy", map[string]interface{}{
				"step":  res.StepID,
				"error": err.Error(),
			})
		}
	}

	if s.cfg.Annotate {
		s.annotateActions(res)
	}
}

// annotateActions draws the last dispatched point onto the step's final
// screenshot, when both exist.
func (s *Store) annotateActions(res *core.StepResult) {
	var shot string
	for _, a := range res.Attachments {
		if a.Name == core.AttachmentScreenshot {
			shot = filepath.Join(s.runDir, a.Path)
		}
	}
	if shot == "" {
		return
	}

	var last *core.ActionRecord
	for i := range res.Actions {
		if res.Actions[i].Action.Point != nil {
			last = &res.Actions[i]
		}
	}
	if last == nil {
		return
	}

	out, err := AnnotateFrame(shot, *last.Action.Point, nil, string(last.Action.Kind))
	if err != nil {
		s.log.Warn("cannot annotate frame", map[string]interface{}{
			"step":  res.StepID,
			"error": err.Error(),
		})
		return
	}
	rel, _ := filepath.Rel(s.runDir, out)
	res.Attachments = append(res.Attachments, core.NewAnnotatedAttachment(rel, nil))
}

// WriteJSON marshals v into the run directory under name.
func (s *Store) WriteJSON(name string, v interface{}) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return s.writeFile(name, data)
}

// keepFile moves a file produced elsewhere (usually the session's temp
// frame) into the run directory, falling back to copy across devices.
func (s *Store) keepFile(src, name string) (string, error) {
	dst := filepath.Join(s.runDir, name)
	if err := os.Rename(src, dst); err != nil {
		in, err := os.Open(src) //#nosec G304 -- path produced by the session
		if err != nil {
			return "", err
		}
		defer in.Close()
		out, err := os.Create(dst) //#nosec G304 -- path inside the run dir
		if err != nil {
			return "", err
		}
		defer out.Close()
		if _, err := io.Copy(out, in); err != nil {
			return "", err
		}
	}
	return name, nil
}

// writeFile writes data under the run dir and returns the relative
// path.
func (s *Store) writeFile(name string, data []byte) (string, error) {
	path := filepath.Join(s.runDir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return name, nil
}
