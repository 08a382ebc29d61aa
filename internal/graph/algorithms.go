package graph

import (
	"fmt"
	"sort"
	"strings"
	"tutor_backend/internal/model"
)

// CycleError reports a dependency cycle in the blocking subgraph.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle in blocking subgraph: %s", strings.Join(e.Cycle, " -> "))
}

// TopologicalOrder orders the operational nodes of the blocking subgraph.
// Context nodes and non-blocking edges are ignored. The order is
// deterministic: Kahn's algorithm with a lexicographic tie-break.
func TopologicalOrder(g *Graph) ([]string, error) {
	inDegree := make(map[string]int)
	for id, n := range g.Nodes() {
		if n.Kind == model.NodeOperational {
			inDegree[id] = 0
		}
	}
	for id := range inDegree {
		for _, e := range g.InEdges(id) {
			if e.Dependency != model.DepBlocking {
				continue
			}
			if _, ok := inDegree[e.From]; !ok {
				continue
			}
			inDegree[id]++
		}
	}

	ready := make([]string, 0, len(inDegree))
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(inDegree))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		changed := false
		for _, e := range g.OutEdges(id) {
			if e.Dependency != model.DepBlocking {
				continue
			}
			if _, ok := inDegree[e.To]; !ok {
				continue
			}
			inDegree[e.To]--
			if inDegree[e.To] == 0 {
				ready = append(ready, e.To)
				changed = true
			}
		}
		if changed {
			sort.Strings(ready)
		}
	}

	if len(order) < len(inDegree) {
		placed := make(map[string]bool, len(order))
		for _, id := range order {
			placed[id] = true
		}
		return nil, &CycleError{Cycle: findCycle(g, placed, inDegree)}
	}
	return order, nil
}

// findCycle walks blocking edges among the unplaced nodes until a node
// repeats. Every unplaced node sits on or upstream of a cycle, so the
// walk always terminates.
func findCycle(g *Graph, placed map[string]bool, inDegree map[string]int) []string {
	var start string
	remaining := make([]string, 0)
	for id := range inDegree {
		if !placed[id] {
			remaining = append(remaining, id)
		}
	}
	sort.Strings(remaining)
	start = remaining[0]

	seen := make(map[string]int)
	path := []string{}
	cur := start
	for {
		if idx, ok := seen[cur]; ok {
			return append(path[idx:], cur)
		}
		seen[cur] = len(path)
		path = append(path, cur)

		next := ""
		for _, e := range g.OutEdges(cur) {
			if e.Dependency != model.DepBlocking || placed[e.To] {
				continue
			}
			if _, ok := inDegree[e.To]; !ok {
				continue
			}
			if next == "" || e.To < next {
				next = e.To
			}
		}
		cur = next
	}
}

// IsUnblocked reports whether nodeID has every blocking prerequisite at
// level operational or above. Context predecessors never block; a node
// with no blocking predecessors is always unblocked.
func IsUnblocked(g *Graph, nodeID string, levels map[string]model.MasteryLevel) bool {
	for _, e := range g.InEdges(nodeID) {
		if e.Dependency != model.DepBlocking {
			continue
		}
		pred := g.Node(e.From)
		if pred == nil || pred.Kind == model.NodeContext {
			continue
		}
		if !model.LevelSatisfies(levels[e.From]) {
			return false
		}
	}
	return true
}

// PlanNextNode picks the next node to work on: the first node in
// topological order that is below operational and unblocked, preferring
// a candidate in currentTheme when one exists. Returns "" when the path
// is complete.
func PlanNextNode(g *Graph, levels map[string]model.MasteryLevel, currentTheme string) (string, error) {
	order, err := TopologicalOrder(g)
	if err != nil {
		return "", err
	}

	candidates := make([]string, 0)
	for _, id := range order {
		if model.LevelSatisfies(levels[id]) {
			continue
		}
		if IsUnblocked(g, id, levels) {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return "", nil
	}

	if currentTheme != "" {
		for _, id := range candidates {
			if g.Node(id).ThemeID == currentTheme {
				return id, nil
			}
		}
	}
	return candidates[0], nil
}

// UnlockedAfterPromotion lists the direct blocking successors of
// promotedID that become workable once it is operational: operational
// kind, below operational level, and unblocked with the promotion
// applied.
func UnlockedAfterPromotion(g *Graph, promotedID string, levels map[string]model.MasteryLevel) []string {
	effective := make(map[string]model.MasteryLevel, len(levels)+1)
	for id, lvl := range levels {
		effective[id] = lvl
	}
	effective[promotedID] = model.LevelOperational

	unlocked := make([]string, 0)
	for _, e := range g.OutEdges(promotedID) {
		if e.Dependency != model.DepBlocking {
			continue
		}
		succ := g.Node(e.To)
		if succ == nil || succ.Kind != model.NodeOperational {
			continue
		}
		if model.LevelSatisfies(effective[e.To]) {
			continue
		}
		if IsUnblocked(g, e.To, effective) {
			unlocked = append(unlocked, e.To)
		}
	}
	sort.Strings(unlocked)
	return unlocked
}

// NodeForTopic resolves a free-text topic to a node id. Theme ids match
// first, node ids as fallback; case-insensitive substring with spaces
// normalized to underscores. Returns "" when nothing matches. Candidates
// are scanned in id order so equal inputs resolve to the same node.
func NodeForTopic(g *Graph, topic string) string {
	query := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(topic)), " ", "_")
	if query == "" {
		return ""
	}

	ids := make([]string, 0, len(g.Nodes()))
	for id := range g.Nodes() {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		n := g.Node(id)
		if n.Kind != model.NodeOperational || n.ThemeID == "" {
			continue
		}
		if strings.Contains(strings.ToLower(n.ThemeID), query) {
			return id
		}
	}
	for _, id := range ids {
		if strings.Contains(strings.ToLower(id), query) {
			return id
		}
	}
	return ""
}
