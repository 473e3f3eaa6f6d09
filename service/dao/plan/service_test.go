package plan

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/luxera/rungate/model"
	"github.com/luxera/rungate/service/dao"
	"github.com/stretchr/testify/assert"
	"github.com/viant/afs"
	bstate "github.com/viant/bindly/state"
)

const reviewPlanYAML = `
id: review
goal: Review changed files and summarize findings
steps:
  - id: scan
    kind: tool
    parameters:
      path: ./src
      maxDepth[int](input/query): 2
  - id: summarize
    kind: llm
    parameters:
      style: terse
tools:
  - name: grep
    description: search file contents
  - name: read_file
`

func TestService_DecodeYAML(t *testing.T) {
	service := New()
	aPlan, err := service.DecodeYAML([]byte(reviewPlanYAML))
	assert.Nil(t, err)
	assert.Equal(t, "review", aPlan.ID)
	assert.Equal(t, "Review changed files and summarize findings", aPlan.Goal)

	steps := aPlan.OrderedSteps()
	if assert.Equal(t, 2, len(steps)) {
		assert.Equal(t, "scan", steps[0].ID)
		assert.Equal(t, model.StepKindTool, steps[0].Kind)
		assert.Equal(t, "summarize", steps[1].ID)
		assert.Equal(t, model.StepKindLLM, steps[1].Kind)

		path, ok := steps[0].Parameters.Get("path")
		assert.True(t, ok)
		assert.Equal(t, "./src", path.Value)

		depth, ok := steps[0].Parameters.Get("maxDepth")
		assert.True(t, ok)
		assert.Equal(t, float64(2), depth.Value)
		assert.Equal(t, "int", depth.DataType)
		assert.EqualValues(t, &bstate.Location{Kind: "input", In: "query"}, depth.Location)
	}

	tools := aPlan.ToolSet()
	if assert.Equal(t, 2, len(tools)) {
		assert.Equal(t, "grep", tools[0].Name)
		assert.Equal(t, "read_file", tools[1].Name)
	}
}

func TestService_DecodeYAML_Invalid(t *testing.T) {
	service := New()
	_, err := service.DecodeYAML([]byte("id: bad\nsteps:\n  - id: s1\n    kind: magic\n"))
	assert.NotNil(t, err)
}

func TestService_Load(t *testing.T) {
	os.Setenv("PLAN_GOAL", "Summarize the repository")
	defer os.Unsetenv("PLAN_GOAL")

	fs := afs.New()
	ctx := context.Background()
	data := "goal: ${env.PLAN_GOAL}\nsteps:\n  - id: summarize\n    kind: llm\n"
	err := fs.Upload(ctx, "mem://localhost/plans/digest.yaml", 0644, strings.NewReader(data))
	assert.Nil(t, err)

	service := New(WithFS(fs), WithBaseURL("mem://localhost/plans"))
	aPlan, err := service.Load(ctx, "digest")
	assert.Nil(t, err)
	// id falls back to the document name
	assert.Equal(t, "digest", aPlan.ID)
	assert.Equal(t, "Summarize the repository", aPlan.Goal)
	assert.Equal(t, "mem://localhost/plans/digest.yaml", aPlan.Source.URL)
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry()

	assert.Equal(t, dao.ErrNilEntity, registry.Save(ctx, nil))
	assert.Equal(t, dao.ErrInvalidID, registry.Save(ctx, &model.Plan{}))

	assert.Nil(t, registry.Save(ctx, &model.Plan{ID: "review", Goal: "review"}))
	assert.Nil(t, registry.Save(ctx, &model.Plan{ID: "digest", Goal: "digest"}))

	aPlan, err := registry.Load(ctx, "review")
	assert.Nil(t, err)
	assert.Equal(t, "review", aPlan.ID)

	_, err = registry.Load(ctx, "unknown")
	assert.ErrorIs(t, err, dao.ErrNotFound)

	plans, err := registry.List(ctx)
	assert.Nil(t, err)
	if assert.Equal(t, 2, len(plans)) {
		assert.Equal(t, "digest", plans[0].ID)
		assert.Equal(t, "review", plans[1].ID)
	}

	assert.Nil(t, registry.Delete(ctx, "digest"))
	_, err = registry.Load(ctx, "digest")
	assert.ErrorIs(t, err, dao.ErrNotFound)
}
