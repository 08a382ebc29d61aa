package service

import (
	"errors"
	"tutor_backend/internal/graph"
	"tutor_backend/internal/model"
	"tutor_backend/internal/repository"
	"tutor_backend/internal/util"

	"gorm.io/gorm"
)

// NodeProgress is one node of the user's path view.
type NodeProgress struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Kind    string `json:"kind"`
	ThemeID string `json:"themeId,omitempty"`

	Level              model.MasteryLevel `json:"level"`
	Presumed           bool               `json:"presumed,omitempty"`
	Unblocked          bool               `json:"unblocked"`
	ExercisesCompleted int                `json:"exercisesCompleted"`
}

// PathOverview is the read model of the user's position on the graph.
type PathOverview struct {
	Nodes       []NodeProgress `json:"nodes"`
	NextNodeID  string         `json:"nextNodeId"`
	Operational int            `json:"operational"`
	Total       int            `json:"total"`
}

// PathService answers read-only progress queries over the loaded graph.
type PathService struct {
	StateRepo *repository.UserNodeStateRepository
	NodeRepo  *repository.NodeRepository
	Graph     *graph.Service
}

func NewPathService(stateRepo *repository.UserNodeStateRepository, nodeRepo *repository.NodeRepository, graphService *graph.Service) *PathService {
	return &PathService{
		StateRepo: stateRepo,
		NodeRepo:  nodeRepo,
		Graph:     graphService,
	}
}

// Overview returns every node in deterministic topological order with the
// user's level and unlock status, plus the planned next node.
func (s *PathService) Overview(userID uint) (*PathOverview, error) {
	g, err := s.Graph.Graph()
	if err != nil {
		return nil, err
	}
	levels, err := s.StateRepo.LevelsByUser(userID)
	if err != nil {
		return nil, err
	}
	states, err := s.StateRepo.FindAllByUser(userID)
	if err != nil {
		return nil, err
	}
	byNode := make(map[string]model.UserNodeState, len(states))
	for _, st := range states {
		byNode[st.NodeID] = st
	}

	order, err := graph.TopologicalOrder(g)
	if err != nil {
		return nil, err
	}

	overview := &PathOverview{Nodes: make([]NodeProgress, 0, len(order))}
	for _, id := range order {
		n := g.Node(id)
		if n == nil {
			continue
		}
		level := levels[id]
		if level == "" {
			level = model.LevelNotStarted
		}
		np := NodeProgress{
			ID:        id,
			Name:      n.Name,
			Subject:   n.Subject,
			Kind:      string(n.Kind),
			ThemeID:   n.ThemeID,
			Level:     level,
			Unblocked: graph.IsUnblocked(g, id, levels),
		}
		if st, ok := byNode[id]; ok {
			np.Presumed = st.Presumed
			np.ExercisesCompleted = st.ExercisesCompleted
		}
		if model.LevelSatisfies(level) {
			overview.Operational++
		}
		overview.Nodes = append(overview.Nodes, np)
	}
	overview.Total = len(overview.Nodes)

	next, err := graph.PlanNextNode(g, levels, "")
	if err != nil {
		return nil, err
	}
	overview.NextNodeID = next
	return overview, nil
}

// NodeDetail returns one node's editorial content with the user's state.
func (s *PathService) NodeDetail(userID uint, nodeID string) (*model.ConceptNode, *model.UserNodeState, error) {
	node, err := s.NodeRepo.FindNodeByID(nodeID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, util.ErrNodeNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	state, err := s.StateRepo.Find(userID, nodeID)
	if err != nil {
		state = &model.UserNodeState{
			UserID: userID,
			NodeID: nodeID,
			Level:  model.LevelNotStarted,
		}
	}
	return node, state, nil
}
