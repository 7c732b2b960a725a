package oracle

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/stepguard-dev/stepguard/pkg/core"
)

// LastAction describes the most recent attempt for the evaluator.
type LastAction struct {
	Action string `json:"action,omitempty"`
	Query  string `json:"query,omitempty"`
}

type evaluatePayload struct {
	BusinessGoal      string     `json:"business_goal"`
	StepDescription   string     `json:"step_description"`
	ExpectedStateHint string     `json:"expected_state_hint"`
	LastAction        LastAction `json:"last_action"`
	UIXMLExcerpt      string     `json:"ui_xml_excerpt"`
}

// The triage call caps its completion: the decision contract is a few
// lines of JSON and long answers are a failure mode.
const decideMaxTokens = 700

// ProposeAction asks the oracle for the single next device action that
// advances the intent on the current screen. Unparseable output is an
// error; the caller counts it against the step's attempt budget.
func (c *Client) ProposeAction(screenshotPath, snapshotXML, intent string) (core.ProposedAction, error) {
	img, err := encodeScreenshot(screenshotPath)
	if err != nil {
		return core.ProposedAction{}, err
	}

	parts := make([]contentPart, 0, 3)
	if img != "" {
		parts = append(parts, imagePart(img))
	}
	parts = append(parts,
		textPart("UI Hierarchy:\n"+c.trimXML(snapshotXML)),
		textPart(intent),
	)

	raw, err := c.chat([]chatMessage{
		{Role: "system", Content: []contentPart{textPart(proposeSystemPrompt)}},
		{Role: "user", Content: parts},
	}, 0.2, c.opts.MaxTokens)
	if err != nil {
		return core.ProposedAction{}, err
	}

	proposed, ok := decodeProposed(raw)
	if !ok {
		return core.ProposedAction{}, core.ErrOracleResponse.WithDetails(map[string]interface{}{
			"output": excerpt(raw, 200),
		})
	}
	c.log.Debug("action proposed", map[string]interface{}{
		"action": proposed.Name,
		"intent": intent,
	})
	return proposed, nil
}

// EvaluateOutcome asks the oracle whether the step's goal is reflected
// by the current screen, and if not, which recovery applies. Transport
// errors surface to the caller; malformed model output degrades to a
// REDO_STEP verdict.
func (c *Client) EvaluateOutcome(goal, stepDescription, expectedHint string, last LastAction, snapshotXML, screenshotPath string) (core.EvaluationVerdict, error) {
	img, err := encodeScreenshot(screenshotPath)
	if err != nil {
		return core.EvaluationVerdict{}, err
	}

	payload, err := json.Marshal(evaluatePayload{
		BusinessGoal:      goal,
		StepDescription:   stepDescription,
		ExpectedStateHint: expectedHint,
		LastAction:        last,
		UIXMLExcerpt:      c.trimXML(snapshotXML),
	})
	if err != nil {
		return core.EvaluationVerdict{}, err
	}

	parts := []contentPart{textPart(string(payload))}
	if img != "" {
		parts = append(parts, imagePart(img))
	}

	raw, err := c.chat([]chatMessage{
		{Role: "system", Content: []contentPart{textPart(evaluateSystemPrompt)}},
		{Role: "user", Content: parts},
	}, 0.1, c.opts.MaxTokens)
	if err != nil {
		return core.EvaluationVerdict{}, err
	}

	verdict := decodeEvaluation(raw)
	c.log.Debug("step evaluated", map[string]interface{}{
		"ok":         verdict.OK,
		"recovery":   string(verdict.Recovery),
		"confidence": verdict.Confidence,
	})
	return verdict, nil
}

// DecideInterruption asks the oracle how to treat a detected overlay.
// Implements the guard's Decider contract. Malformed output degrades to
// PASS_THROUGH.
func (c *Client) DecideInterruption(intr core.Interruption, goal, stepDescription, snapshotXML, screenshotPath string) (core.InterruptResolution, error) {
	img, err := encodeScreenshot(screenshotPath)
	if err != nil {
		return core.InterruptResolution{}, err
	}

	parts := make([]contentPart, 0, 3)
	if img != "" {
		parts = append(parts, imagePart(img))
	}
	parts = append(parts,
		textPart("UI XML:\n"+c.trimXML(snapshotXML)),
		textPart(decideUserPrompt(intr, goal, stepDescription)),
	)

	raw, err := c.chat([]chatMessage{
		{Role: "system", Content: []contentPart{textPart(decideSystemPrompt)}},
		{Role: "user", Content: parts},
	}, 0.2, decideMaxTokens)
	if err != nil {
		return core.InterruptResolution{}, err
	}

	res := decodeResolution(raw)
	c.log.Debug("interruption triaged", map[string]interface{}{
		"decision":  string(res.Decision),
		"rationale": res.Rationale,
		"actions":   len(res.Actions),
	})
	return res, nil
}

// Disambiguate asks the vision model which of several matching elements
// the query means, returning a zero-based index. Replies that are not a
// valid index fall back to the first candidate; a wrong-but-plausible
// pick beats a dead stop.
func (c *Client) Disambiguate(screenshotPath string, candidates []core.UINode, query string) (int, error) {
	if len(candidates) == 0 {
		return 0, core.ErrElementNotFound.WithMessage("no candidates to disambiguate")
	}

	img, err := encodeScreenshot(screenshotPath)
	if err != nil {
		return 0, err
	}

	parts := make([]contentPart, 0, 2)
	if img != "" {
		parts = append(parts, imagePart(img))
	}
	parts = append(parts, textPart(disambiguatePrompt(candidates, query)))

	raw, err := c.chat([]chatMessage{
		{Role: "user", Content: parts},
	}, 0.3, c.opts.MaxTokens)
	if err != nil {
		return 0, err
	}

	idx, convErr := strconv.Atoi(strings.TrimSpace(raw))
	if convErr != nil || idx < 1 || idx > len(candidates) {
		c.log.Warn("unusable disambiguation reply, using first candidate", map[string]interface{}{
			"reply": excerpt(raw, 80),
		})
		return 0, nil
	}
	return idx - 1, nil
}
