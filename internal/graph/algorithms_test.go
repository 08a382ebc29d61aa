package graph

import (
	"testing"
	"tutor_backend/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildGraph(nodes []*Node, edges []Edge) *Graph {
	g := NewGraph()
	for _, n := range nodes {
		g.AddNode(n)
	}
	for _, e := range edges {
		g.AddEdge(e)
	}
	return g
}

func opNode(id string) *Node {
	return &Node{ID: id, Name: id, Subject: "math", Kind: model.NodeOperational}
}

func blocking(from, to string) Edge {
	return Edge{From: from, To: to, Dependency: model.DepBlocking}
}

func TestTopologicalOrderLinear(t *testing.T) {
	g := buildGraph(
		[]*Node{opNode("a"), opNode("b"), opNode("c")},
		[]Edge{blocking("a", "b"), blocking("b", "c")},
	)

	order, err := TopologicalOrder(g)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestTopologicalOrderIgnoresContextAndRecommended(t *testing.T) {
	ctx := &Node{ID: "ctx", Kind: model.NodeContext}
	g := buildGraph(
		[]*Node{opNode("a"), opNode("b"), ctx},
		[]Edge{
			blocking("ctx", "a"),
			{From: "b", To: "a", Dependency: model.DepRecommended},
		},
	)

	order, err := TopologicalOrder(g)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, order)
	assert.NotContains(t, order, "ctx")
}

func TestTopologicalOrderDeterministic(t *testing.T) {
	g := buildGraph(
		[]*Node{opNode("z"), opNode("m"), opNode("a")},
		nil,
	)

	for i := 0; i < 10; i++ {
		order, err := TopologicalOrder(g)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "m", "z"}, order)
	}
}

func TestTopologicalOrderCycle(t *testing.T) {
	g := buildGraph(
		[]*Node{opNode("a"), opNode("b"), opNode("c")},
		[]Edge{blocking("a", "b"), blocking("b", "a"), blocking("b", "c")},
	)

	_, err := TopologicalOrder(g)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.NotEmpty(t, cycleErr.Cycle)
}

func TestIsUnblocked(t *testing.T) {
	ctx := &Node{ID: "ctx", Kind: model.NodeContext}
	g := buildGraph(
		[]*Node{opNode("a"), opNode("b"), opNode("c"), ctx},
		[]Edge{blocking("a", "b"), blocking("ctx", "c")},
	)

	levels := map[string]model.MasteryLevel{}
	assert.True(t, IsUnblocked(g, "a", levels), "no blocking predecessors")
	assert.False(t, IsUnblocked(g, "b", levels), "prerequisite not operational")
	assert.True(t, IsUnblocked(g, "c", levels), "context predecessors never block")

	levels["a"] = model.LevelInProgress
	assert.False(t, IsUnblocked(g, "b", levels))

	levels["a"] = model.LevelOperational
	assert.True(t, IsUnblocked(g, "b", levels))

	levels["a"] = model.LevelConnected
	assert.True(t, IsUnblocked(g, "b", levels), "levels above operational satisfy")
}

func TestPlanNextNodeLinearProgression(t *testing.T) {
	g := buildGraph(
		[]*Node{opNode("a"), opNode("b"), opNode("c")},
		[]Edge{blocking("a", "b"), blocking("b", "c")},
	)

	levels := map[string]model.MasteryLevel{}
	next, err := PlanNextNode(g, levels, "")
	require.NoError(t, err)
	assert.Equal(t, "a", next)

	levels["a"] = model.LevelOperational
	next, err = PlanNextNode(g, levels, "")
	require.NoError(t, err)
	assert.Equal(t, "b", next)

	levels["b"] = model.LevelOperational
	next, err = PlanNextNode(g, levels, "")
	require.NoError(t, err)
	assert.Equal(t, "c", next)

	levels["c"] = model.LevelOperational
	next, err = PlanNextNode(g, levels, "")
	require.NoError(t, err)
	assert.Equal(t, "", next, "path complete")
}

func TestPlanNextNodeThemePreference(t *testing.T) {
	alg := opNode("algebra_1")
	alg.ThemeID = "algebra"
	geo := opNode("geometry_1")
	geo.ThemeID = "geometry"
	g := buildGraph([]*Node{alg, geo}, nil)

	next, err := PlanNextNode(g, nil, "geometry")
	require.NoError(t, err)
	assert.Equal(t, "geometry_1", next)

	// Without a current theme the topological tie-break applies.
	next, err = PlanNextNode(g, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "algebra_1", next)

	// A theme with no candidate falls back to the first candidate.
	next, err = PlanNextNode(g, nil, "calculus")
	require.NoError(t, err)
	assert.Equal(t, "algebra_1", next)
}

func TestUnlockedAfterPromotionDiamond(t *testing.T) {
	g := buildGraph(
		[]*Node{opNode("a"), opNode("b"), opNode("c"), opNode("d")},
		[]Edge{
			blocking("a", "b"), blocking("a", "c"),
			blocking("b", "d"), blocking("c", "d"),
		},
	)

	levels := map[string]model.MasteryLevel{"a": model.LevelOperational}

	// Promoting only b leaves d blocked by c.
	unlocked := UnlockedAfterPromotion(g, "b", levels)
	assert.Empty(t, unlocked)

	levels["b"] = model.LevelOperational
	unlocked = UnlockedAfterPromotion(g, "c", levels)
	assert.Equal(t, []string{"d"}, unlocked)
}

func TestUnlockedAfterPromotionSkipsCompletedAndContext(t *testing.T) {
	ctx := &Node{ID: "ctx", Kind: model.NodeContext}
	g := buildGraph(
		[]*Node{opNode("a"), opNode("b"), opNode("done"), ctx},
		[]Edge{blocking("a", "b"), blocking("a", "done"), blocking("a", "ctx")},
	)

	levels := map[string]model.MasteryLevel{"done": model.LevelOperational}
	unlocked := UnlockedAfterPromotion(g, "a", levels)
	assert.Equal(t, []string{"b"}, unlocked)
}

func TestNodeForTopicMatchesThemeFirst(t *testing.T) {
	g := buildGraph(
		[]*Node{
			{ID: "algebra_1", Name: "Equations", Subject: "math",
				Kind: model.NodeOperational, ThemeID: "algebra"},
			{ID: "percent_1", Name: "Percentages", Subject: "math",
				Kind: model.NodeOperational, ThemeID: "percentages"},
		},
		nil,
	)

	assert.Equal(t, "percent_1", NodeForTopic(g, "percentages"))
	assert.Equal(t, "algebra_1", NodeForTopic(g, "Algebra"))
}

func TestNodeForTopicFallsBackToNodeID(t *testing.T) {
	g := buildGraph(
		[]*Node{
			{ID: "algebra_1", Kind: model.NodeOperational, ThemeID: "algebra"},
			{ID: "algebra_2", Kind: model.NodeOperational, ThemeID: "algebra"},
		},
		nil,
	)

	assert.Equal(t, "algebra_2", NodeForTopic(g, "algebra_2"))
	assert.Equal(t, "", NodeForTopic(g, "geometry"))
	assert.Equal(t, "", NodeForTopic(g, "  "))
}

func TestNodeForTopicNormalizesSpaces(t *testing.T) {
	g := buildGraph(
		[]*Node{{ID: "linear_equations", Kind: model.NodeOperational, ThemeID: "first_degree"}},
		nil,
	)

	assert.Equal(t, "linear_equations", NodeForTopic(g, "Linear Equations"))
	assert.Equal(t, "linear_equations", NodeForTopic(g, "first degree"))
}
