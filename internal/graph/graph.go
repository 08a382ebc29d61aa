package graph

import (
	"context"
	"sync"
	"tutor_backend/internal/model"
	"tutor_backend/internal/util"
	"tutor_backend/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Node is one concept in the in-memory knowledge graph.
type Node struct {
	ID      string
	Name    string
	Subject string
	Kind    model.NodeKind
	ThemeID string
}

// Edge is a directed prerequisite relation From -> To.
type Edge struct {
	From       string
	To         string
	Dependency model.DependencyKind
}

// Graph is the in-memory knowledge graph. Built once by Service.Load and
// read-only afterwards, so concurrent reads need no locking.
type Graph struct {
	nodes map[string]*Node
	out   map[string][]Edge
	in    map[string][]Edge
}

func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		out:   make(map[string][]Edge),
		in:    make(map[string][]Edge),
	}
}

func (g *Graph) AddNode(n *Node) {
	g.nodes[n.ID] = n
}

func (g *Graph) AddEdge(e Edge) {
	g.out[e.From] = append(g.out[e.From], e)
	g.in[e.To] = append(g.in[e.To], e)
}

func (g *Graph) Node(id string) *Node {
	return g.nodes[id]
}

func (g *Graph) Nodes() map[string]*Node {
	return g.nodes
}

func (g *Graph) OutEdges(id string) []Edge {
	return g.out[id]
}

func (g *Graph) InEdges(id string) []Edge {
	return g.in[id]
}

func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

func (g *Graph) EdgeCount() int {
	n := 0
	for _, edges := range g.out {
		n += len(edges)
	}
	return n
}

// Service owns the graph lifecycle: load from the relational store at
// startup, serve read access afterwards.
type Service struct {
	db *gorm.DB

	mu sync.RWMutex
	g  *Graph
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Load builds the in-memory graph from concept_nodes, node_themes and
// concept_edges. Safe to call again to replace the graph wholesale.
func (s *Service) Load(ctx context.Context) error {
	var nodes []model.ConceptNode
	if err := s.db.WithContext(ctx).Find(&nodes).Error; err != nil {
		return err
	}

	var nodeThemes []model.NodeTheme
	if err := s.db.WithContext(ctx).Order("theme_id").Find(&nodeThemes).Error; err != nil {
		return err
	}
	themeByNode := make(map[string]string, len(nodeThemes))
	for _, nt := range nodeThemes {
		if _, ok := themeByNode[nt.NodeID]; !ok {
			themeByNode[nt.NodeID] = nt.ThemeID
		}
	}

	var edges []model.ConceptEdge
	if err := s.db.WithContext(ctx).Find(&edges).Error; err != nil {
		return err
	}

	g := NewGraph()
	for i := range nodes {
		n := &nodes[i]
		g.AddNode(&Node{
			ID:      n.ID,
			Name:    n.Name,
			Subject: n.Subject,
			Kind:    n.Kind,
			ThemeID: themeByNode[n.ID],
		})
	}
	for _, e := range edges {
		g.AddEdge(Edge{From: e.FromNodeID, To: e.ToNodeID, Dependency: e.Dependency})
	}

	// Fail fast on a cyclic blocking subgraph before serving any session.
	if _, err := TopologicalOrder(g); err != nil {
		return err
	}

	s.mu.Lock()
	s.g = g
	s.mu.Unlock()

	logger.Log.Info("Knowledge graph loaded",
		zap.Int("nodes", g.NodeCount()),
		zap.Int("edges", g.EdgeCount()))
	return nil
}

func (s *Service) IsLoaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.g != nil
}

// Graph returns the loaded graph, or ErrGraphNotLoaded before Load.
func (s *Service) Graph() (*Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.g == nil {
		return nil, util.ErrGraphNotLoaded
	}
	return s.g, nil
}
