package scenario

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepguard-dev/stepguard/pkg/core"
	"github.com/stepguard-dev/stepguard/pkg/jsengine"
	"github.com/stepguard-dev/stepguard/pkg/logger"
)

const samplePlan = `
goal: comment on the third video in the feed
env:
  COMMENT: nice video
scenarios:
  - id: feed-comment
    title: Comment flow
    steps:
      - id: open-app
        description: open the short-video app
        action: open
      - id: scroll-feed
        description: swipe to the third video
        action: swipe
      - id: open-comments
        description: tap the comment button
        query: comment_button
      - id: type-comment
        description: type "${COMMENT}" into the comment field
        action: type
        optional: true
`

func TestParseValidPlan(t *testing.T) {
	plan, err := Parse([]byte(samplePlan))
	require.NoError(t, err)

	assert.Equal(t, "comment on the third video in the feed", plan.Goal)
	require.Len(t, plan.Scenarios, 1)
	assert.Equal(t, "feed-comment", plan.Scenarios[0].ID)
	assert.Equal(t, 4, plan.StepCount())
	assert.True(t, plan.Scenarios[0].Steps[3].Optional)
	assert.Equal(t, "comment_button", plan.Scenarios[0].Steps[2].Query)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePlan), 0644))

	plan, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, plan.StepCount())
}

func TestValidateFillsMissingIDs(t *testing.T) {
	plan, err := Parse([]byte(`
goal: g
scenarios:
  - title: untitled
    steps:
      - description: do something
      - description: do something else
`))
	require.NoError(t, err)
	assert.Equal(t, "scenario-1", plan.Scenarios[0].ID)
	assert.Equal(t, "scenario-1-step-1", plan.Scenarios[0].Steps[0].ID)
	assert.Equal(t, "scenario-1-step-2", plan.Scenarios[0].Steps[1].ID)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no goal", "scenarios:\n  - steps:\n      - description: x\n"},
		{"no scenarios", "goal: g\n"},
		{"empty scenario", "goal: g\nscenarios:\n  - id: a\n"},
		{"blank description", "goal: g\nscenarios:\n  - steps:\n      - description: \"  \"\n"},
		{"unknown action", "goal: g\nscenarios:\n  - steps:\n      - description: x\n        action: teleport\n"},
		{"duplicate step ids", `
goal: g
scenarios:
  - steps:
      - id: s1
        description: a
      - id: s1
        description: b
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Equal(t, core.ErrCategoryConfig, core.CategoryOf(err))
		})
	}
}

func TestActionSynonymsAccepted(t *testing.T) {
	for _, action := range []string{"tap", "Long Press", "SCROLL", "enter_text", "sleep"} {
		plan := &Plan{
			Goal: "g",
			Scenarios: []Scenario{{
				Steps: []Step{{Description: "d", Action: action}},
			}},
		}
		assert.NoError(t, plan.Validate(), "action %q", action)
	}
}

func TestInterpolate(t *testing.T) {
	plan, err := Parse([]byte(samplePlan))
	require.NoError(t, err)

	eng := jsengine.New(logger.Nop())
	defer eng.Close()

	require.NoError(t, plan.Interpolate(eng))
	assert.Equal(t, `type "nice video" into the comment field`,
		plan.Scenarios[0].Steps[3].Description)
	// Fields without expressions are untouched.
	assert.Equal(t, "open the short-video app", plan.Scenarios[0].Steps[0].Description)
}

func TestExecConversion(t *testing.T) {
	st := Step{
		ID:            "s1",
		Description:   "tap the like button",
		Action:        "click",
		Query:         "like_button",
		ExpectedState: "like count incremented",
		Alternatives:  []string{"tap the heart icon"},
	}

	ex := st.Exec()
	assert.Equal(t, "s1", ex.ID)
	assert.Equal(t, "like_button", ex.Query)
	assert.Equal(t, "like_button", ex.Intent())
	assert.Equal(t, "like count incremented", ex.ExpectedState)
	assert.Equal(t, []string{"tap the heart icon"}, ex.Alternatives)
}
