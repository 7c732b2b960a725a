package oracle

import (
	"fmt"
	"strings"

	"github.com/stepguard-dev/stepguard/pkg/core"
)

// Prompt text for the three structured calls plus disambiguation. The
// JSON contracts here must stay in sync with the decoders in parse.go.

const proposeSystemPrompt = `You are a mobile UI automation assistant.
You MUST respond with exactly ONE action, using exactly one of these action names: click, long_press, swipe, type, key, system_button, open, wait, terminate.
Do NOT output any thoughts, analysis, or plain text. Do NOT prefix with 'Thought:'.
Wrap the action inside <tool_call>{...}</tool_call> or output pure JSON only.

The action object uses these fields:
{"action": "<name>", "coordinate": [x, y], "coordinate2": [x, y], "text": "...", "content_desc": "...", "resource_id": "...", "button": "...", "time": seconds}
Only include the fields the action needs. Prefer a "coordinate" from the screenshot; add "text"/"content_desc"/"resource_id" selector hints when a UI element clearly matches.

For 'type' actions you MUST include a 'text' string to input.
For 'type' actions, the target field must be focused first; if the current step is about entering text, assume the field is already focused and produce the 'type' action rather than stopping at a click.
If the step or business goal implies commenting, posting, or searching, ALWAYS produce a 'type' action with a short, safe default text, e.g. 'Great picture!' when commenting, if no explicit text was given.`

const evaluateSystemPrompt = `You are a mobile UI outcome evaluator.

You get:
- business_goal (what the user ultimately wants)
- step_description (what this micro-step tries to do)
- expected_state_hint (what success looks like)
- last_action (optional, what we last tried)
- ui_xml_excerpt (current view hierarchy)
- a screenshot of the current screen

Your job:
1) Decide if the step is DONE (ok=true).
2) If not done, pick the best recovery and propose 1-3 minimal, actionable suggestions.

When deciding ok=true, point to evidence in the current UI:
- For "open comments" success: a comment panel or input field is visible (e.g. EditText, hint "Add a comment", send/submit icons).
- For "typed text": the input field contains the text and send/submit is available.
- For "share": a share sheet or recipient list is visible.
- For "liked": the like button is in the "on" state.
If evidence is ambiguous or missing, set ok=false. Use both the screenshot and the ui_xml_excerpt for verification.

Critically distinguish:
- REQUIRED GATES (login walls, account creation, OS permission dialogs like Camera/Microphone/Photos): these must be satisfied to progress when relevant to the task. Do NOT dismiss them. Return recovery "REQUIRE_AUTH" or "GRANT_PERMISSION" with concrete suggestions (e.g. "Tap 'Log in'", "Tap 'Allow while using the app'").
- DISTRACTIONS (ads, interstitials, upsells, unrelated modals): return "HANDLE_INTERRUPT" with suggestions that directly DISMISS or CLOSE the obstruction first (e.g. "Tap Close", "Tap Skip"). Do not mix in navigation actions unless a direct close action comes first.

Infer the required capability from the goal and step:
- commenting/posting/liking/sharing/following likely requires auth
- recording/taking photos/scanning likely needs camera or microphone permission
- uploading/picking photos likely needs gallery permission

Suggestions MUST be concrete tappable or typable actions, not advice. Prefer imperative forms the agent can execute directly, e.g. "Type 'Great picture!'" (not "ensure you typed"), "Tap 'Send'". If the goal implies a text field (comment/post/search) and no text is present, include a "Type ..." suggestion with a short default.

Output strictly in JSON with fields:
{
  "ok": boolean,
  "recovery": one of ["NONE","REDO_STEP","HANDLE_INTERRUPT","REQUIRE_AUTH","GRANT_PERMISSION","REPLAN","ABORT"],
  "reason": string,
  "suggestions": [string, ...],
  "gate_type": one of ["NONE","LOGIN","PERMISSION"],
  "confidence": number
}
If ok=true, set recovery="NONE" and suggestions=[].`

const decideSystemPrompt = `You are a careful mobile test interruption triager.`

// decideUserPrompt renders the decision request for one detected
// interruption.
func decideUserPrompt(intr core.Interruption, goal, stepDescription string) string {
	return fmt.Sprintf(`You are assisting a mobile UI test. Business goal: %q.
Current step: %q

We detected a possible popup/overlay (kind: %s, screen coverage: %.0f%%). Decide:
- PASS_THROUGH if it doesn't block or matter.
- DISMISS if it blocks but is irrelevant (ads, upsells, rate-app prompts).
- HANDLE if it's relevant or required to proceed (permissions needed for this step, a login wall if this step needs logged-in features).

Return STRICT JSON with fields:
- decision: PASS_THROUGH | DISMISS | HANDLE
- actions: list of action objects using only: click, long_press, swipe, type, key, wait.
  Prefer safe selectors ("text"/"content_desc"/"resource_id"). Use "coordinate" ONLY if needed.
- rationale: short sentence

Be conservative and avoid risky clicks.`,
		goal, stepDescription, intr.Kind, intr.Coverage*100)
}

// disambiguatePrompt lists candidate elements for the vision model to
// pick from. The reply contract is a single 1-based integer.
func disambiguatePrompt(candidates []core.UINode, query string) string {
	var b strings.Builder
	b.WriteString("You are a mobile UI assistant.\n")
	b.WriteString("There are multiple possible elements matching the user query.\n")
	b.WriteString("Your job: choose the BEST one.\n\n")
	fmt.Fprintf(&b, "User Query: %s\n\n", query)
	b.WriteString("Candidates:\n")
	for i, n := range candidates {
		fmt.Fprintf(&b, "%d. Bounds=%s | Text='%s' | Desc='%s' | ResID='%s'\n",
			i+1, n.Bounds.String(), n.Text, n.Desc, n.ResourceID)
	}
	fmt.Fprintf(&b, "\nRespond ONLY with a single integer ID (1..%d) indicating the correct candidate.\n", len(candidates))
	return b.String()
}
