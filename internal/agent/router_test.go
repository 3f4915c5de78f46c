package agent

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"localmind/config"
)

func newTestRouter(p *scriptedProvider) *Router {
	return NewRouter(p, testLLMConfig(), config.AgentsConfig{ConfidenceThreshold: 0.5}, testTelemetry())
}

func TestRouteEmptyQueryFails(t *testing.T) {
	r := newTestRouter(&scriptedProvider{})
	_, err := r.Route(context.Background(), Query{Content: "   "})
	require.Error(t, err)
}

func TestRouteShortQueryIsTalk(t *testing.T) {
	r := newTestRouter(&scriptedProvider{})
	d, err := r.Route(context.Background(), Query{Content: "hi!"})
	require.NoError(t, err)
	require.Equal(t, RoleTalk, d.Role)
	require.Equal(t, ComplexityLow, d.Complexity)
}

func TestRouteCodingQuery(t *testing.T) {
	p := &scriptedProvider{replies: []string{`{"category":"code","confidence":0.9}`}}
	r := newTestRouter(p)
	d, err := r.Route(context.Background(), Query{Content: "Write a python script to parse a csv and debug the regex"})
	require.NoError(t, err)
	require.Equal(t, RoleCoding, d.Role)
	require.Equal(t, ComplexityLow, d.Complexity)
	// router vote goes through the router model
	require.Equal(t, []string{"small"}, p.calls)
}

func TestRouteBrowsingQuery(t *testing.T) {
	p := &scriptedProvider{replies: []string{`{"category":"web","confidence":0.8}`}}
	r := newTestRouter(p)
	d, err := r.Route(context.Background(), Query{Content: "Search the web for the latest golang release news"})
	require.NoError(t, err)
	require.Equal(t, RoleBrowsing, d.Role)
}

func TestRouteSurvivesModelVoteFailure(t *testing.T) {
	p := &scriptedProvider{errs: []error{fmt.Errorf("backend down")}}
	r := newTestRouter(p)
	d, err := r.Route(context.Background(), Query{Content: "Please locate the file named budget.xlsx in my documents folder"})
	require.NoError(t, err)
	require.Equal(t, RoleFiles, d.Role)
}

func TestRoutePipelineForcesHighComplexity(t *testing.T) {
	p := &scriptedProvider{replies: []string{`{"category":"web","confidence":0.9}`}}
	r := newTestRouter(p)
	d, err := r.Route(context.Background(), Query{Content: "Search for the best pizza dough recipe and then write it to a file"})
	require.NoError(t, err)
	require.True(t, d.Pipeline)
	require.Equal(t, ComplexityHigh, d.Complexity)
}

func TestRouteExclusionWordsDoNotTriggerPipeline(t *testing.T) {
	require.False(t, detectPipeline("is go better than python rather than javascript"))
	require.True(t, detectPipeline("download the report and then summarize it"))
}

func TestLowConfidenceMeansHighComplexity(t *testing.T) {
	p := &scriptedProvider{errs: []error{fmt.Errorf("backend down")}}
	r := newTestRouter(p)
	// no role keywords at all, no model vote: confidence is zero
	d, err := r.Route(context.Background(), Query{Content: "quantum chromodynamics lattice renormalization"})
	require.NoError(t, err)
	require.Equal(t, ComplexityHigh, d.Complexity)
}

func TestFirstSentence(t *testing.T) {
	require.Equal(t, "Find me a recipe", firstSentence("Find me a recipe. Also tell me a joke."))
	require.Equal(t, "no punctuation at all", firstSentence("no punctuation at all"))
	require.Equal(t, "line one", firstSentence("line one\nline two"))
}

func TestContainsWord(t *testing.T) {
	require.True(t, containsWord("please run the tests", "run"))
	require.False(t, containsWord("the runner is fast", "run"))
}
