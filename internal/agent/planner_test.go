package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"localmind/config"
)

func newTestPlanner(p *scriptedProvider, roles ...string) *Planner {
	reg := NewRegistry()
	for _, role := range roles {
		if err := reg.Register(&fakeAgent{role: role}); err != nil {
			panic(err)
		}
	}
	return NewPlanner(p, testLLMConfig(), config.AgentsConfig{AgentTimeout: time.Minute}, reg, testTelemetry())
}

const validPlanJSON = `{
  "reasoning": "search then summarise",
  "confidence": 0.8,
  "tasks": [
    {"id": "task_1", "role": "web", "description": "find the latest release notes", "depends_on": []},
    {"id": "task_2", "role": "talk", "description": "summarise for the user", "depends_on": ["task_1"]}
  ]
}`

func TestPlannerBuildsValidPlan(t *testing.T) {
	p := &scriptedProvider{replies: []string{"Here is the plan:\n" + validPlanJSON}}
	pl := newTestPlanner(p, RoleBrowsing, RoleTalk)

	plan, err := pl.Build(context.Background(), Query{Content: "whats new in go"})
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 2)
	require.Equal(t, RoleBrowsing, plan.Tasks[0].Role)
	require.Equal(t, []string{"task_1"}, plan.Tasks[1].DependsOn)
	// planning goes through the planning model
	require.Equal(t, []string{"big"}, p.calls)
}

func TestPlannerAcceptsFencedPlan(t *testing.T) {
	p := &scriptedProvider{replies: []string{"```json\n" + validPlanJSON + "\n```"}}
	pl := newTestPlanner(p, RoleBrowsing, RoleTalk)

	plan, err := pl.Build(context.Background(), Query{Content: "whats new in go"})
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 2)
}

func TestPlannerRepairsInvalidFirstAttempt(t *testing.T) {
	p := &scriptedProvider{replies: []string{
		`{"tasks":[{"id":"task_1","role":"web","description":"a","depends_on":["ghost"]}]}`,
		validPlanJSON,
	}}
	pl := newTestPlanner(p, RoleBrowsing, RoleTalk)

	plan, err := pl.Build(context.Background(), Query{Content: "q"})
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 2)
	require.Len(t, p.calls, 2)
}

func TestPlannerGivesUpAfterRepair(t *testing.T) {
	bad := `{"tasks":[{"id":"task_1","role":"web","description":"a","depends_on":["task_1"]}]}`
	p := &scriptedProvider{replies: []string{bad, bad}}
	pl := newTestPlanner(p, RoleBrowsing, RoleTalk)

	_, err := pl.Build(context.Background(), Query{Content: "q"})
	require.Error(t, err)
}

func TestPlannerAcceptsBareArray(t *testing.T) {
	p := &scriptedProvider{replies: []string{
		`[{"id":"task_1","role":"talk","description":"answer directly"}]`,
	}}
	pl := newTestPlanner(p, RoleTalk)

	plan, err := pl.Build(context.Background(), Query{Content: "q"})
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 1)
}

func TestPlannerAppendsAggregationForLooseEnds(t *testing.T) {
	p := &scriptedProvider{replies: []string{`{"tasks":[
		{"id":"task_1","role":"web","description":"a"},
		{"id":"task_2","role":"code","description":"b"}
	]}`}}
	pl := newTestPlanner(p, RoleBrowsing, RoleCoding, RoleTalk)

	plan, err := pl.Build(context.Background(), Query{Content: "q"})
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 3)
	agg := plan.Tasks[2]
	require.Equal(t, RoleTalk, agg.Role)
	require.ElementsMatch(t, []string{"task_1", "task_2"}, agg.DependsOn)
}

func TestValidateRejections(t *testing.T) {
	pl := newTestPlanner(&scriptedProvider{}, RoleBrowsing, RoleTalk)

	require.Error(t, pl.Validate(Plan{}), "empty plan")

	require.Error(t, pl.Validate(Plan{Tasks: []Task{
		{ID: "a", Role: "mystery", Description: "x"},
	}}), "unknown role")

	require.Error(t, pl.Validate(Plan{Tasks: []Task{
		{ID: "a", Role: RoleTalk, Description: "x"},
		{ID: "a", Role: RoleTalk, Description: "y"},
	}}), "duplicate id")

	require.Error(t, pl.Validate(Plan{Tasks: []Task{
		{ID: "a", Role: RoleTalk, Description: "x", DependsOn: []string{"b"}},
		{ID: "b", Role: RoleTalk, Description: "y", DependsOn: []string{"a"}},
	}}), "cycle")

	require.NoError(t, pl.Validate(Plan{Tasks: []Task{
		{ID: "a", Role: RoleBrowsing, Description: "x"},
		{ID: "b", Role: RoleTalk, Description: "y", DependsOn: []string{"a"}},
	}}))
}

func TestParseFillsMissingIDsAndTimeouts(t *testing.T) {
	pl := newTestPlanner(&scriptedProvider{}, RoleTalk)
	plan, err := pl.parse(`{"tasks":[{"role":"talk","description":"hello"}]}`)
	require.NoError(t, err)
	require.Equal(t, "task_1", plan.Tasks[0].ID)
	require.Equal(t, time.Minute, plan.Tasks[0].Timeout)
}
