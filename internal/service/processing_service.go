package service

import (
	"errors"
	"math/rand"
	"time"
	"tutor_backend/internal/graph"
	"tutor_backend/internal/llm"
	"tutor_backend/internal/model"
	"tutor_backend/internal/repository"
	"tutor_backend/pkg/logger"
	"tutor_backend/pkg/monitoring"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Difficulty bands: base 1-2, intermediate 3, advanced 4-5.
var difficultyBands = map[string][2]int{
	"base":         {1, 2},
	"intermediate": {3, 3},
	"advanced":     {4, 5},
}

const exercisesForPromotion = 3

// Promotion describes one node promoted to operational in a turn.
type Promotion struct {
	NodeID        string   `json:"nodeId"`
	NewLevel      string   `json:"newLevel"`
	UnlockedNodes []string `json:"unlockedNodes"`
}

type actionHandler func(p *ProcessingService, tx *gorm.DB, session *model.Session, userID uint, input map[string]interface{}) (map[string]interface{}, error)

type signalHandler func(p *ProcessingService, tx *gorm.DB, session *model.Session, userID uint, input map[string]interface{}) (*Promotion, error)

// ProcessingService executes actions inline during the stream and
// applies buffered signals afterwards. Handlers are registered by tool
// name; anything unregistered is logged and ignored, so inactive tools
// stay inert without special cases.
type ProcessingService struct {
	NodeRepo    *repository.NodeRepository
	StateRepo   *repository.UserNodeStateRepository
	HistoryRepo *repository.ExerciseHistoryRepository
	Graph       *graph.Service

	actions map[string]actionHandler
	signals map[string]signalHandler
}

func NewProcessingService(
	nodeRepo *repository.NodeRepository,
	stateRepo *repository.UserNodeStateRepository,
	historyRepo *repository.ExerciseHistoryRepository,
	graphService *graph.Service,
) *ProcessingService {
	p := &ProcessingService{
		NodeRepo:    nodeRepo,
		StateRepo:   stateRepo,
		HistoryRepo: historyRepo,
		Graph:       graphService,
	}

	p.actions = map[string]actionHandler{
		"propose_exercise":  (*ProcessingService).executeProposeExercise,
		"show_formula":      passThroughAction("show_formula"),
		"suggest_backtrack": passThroughAction("suggest_backtrack"),
		"close_session":     (*ProcessingService).executeCloseSession,
	}
	p.signals = map[string]signalHandler{
		"concept_explained":        (*ProcessingService).processConceptExplained,
		"exercise_answered":        (*ProcessingService).processExerciseAnswered,
		"confusion_detected":       logOnlySignal("confusion_detected"),
		"user_energy":              logOnlySignal("user_energy"),
		"recommended_next_step":    (*ProcessingService).processRecommendedNextStep,
		"suggested_starting_point": (*ProcessingService).processSuggestedStartingPoint,
	}
	return p
}

// ExecuteAction runs one action tool call and returns the SSE payload
// for the frontend. Unregistered actions are logged and echoed as stubs.
func (p *ProcessingService) ExecuteAction(tx *gorm.DB, session *model.Session, userID uint, call llm.ToolCall) (map[string]interface{}, error) {
	handler, ok := p.actions[call.Name]
	if !ok {
		logger.Log.Info("Inactive action ignored",
			zap.String("action", call.Name))
		return map[string]interface{}{
			"type":   call.Name,
			"params": call.Input,
			"stub":   true,
		}, nil
	}
	return handler(p, tx, session, userID, call.Input)
}

// ProcessSignals applies the buffered signals in stream order and
// returns the promotions they caused.
func (p *ProcessingService) ProcessSignals(tx *gorm.DB, session *model.Session, userID uint, signals []llm.ToolCall) ([]Promotion, error) {
	var promotions []Promotion
	for _, sig := range signals {
		handler, ok := p.signals[sig.Name]
		if !ok {
			logger.Log.Info("Inactive signal ignored",
				zap.String("signal", sig.Name))
			continue
		}
		promo, err := handler(p, tx, session, userID, sig.Input)
		if err != nil {
			return nil, err
		}
		if promo != nil {
			promotions = append(promotions, *promo)
		}
	}
	return promotions, nil
}

// ---------------------------------------------------------------------
// Actions
// ---------------------------------------------------------------------

func (p *ProcessingService) executeProposeExercise(tx *gorm.DB, session *model.Session, userID uint, input map[string]interface{}) (map[string]interface{}, error) {
	nodeID, _ := input["node_id"].(string)
	difficulty, _ := input["difficulty"].(string)
	if difficulty == "" {
		difficulty = "base"
	}
	avoidIDs := stringSlice(input["avoid_ids"])
	attempted, err := p.HistoryRepo.ProposedExerciseIDs(tx, userID, nodeID)
	if err != nil {
		return nil, err
	}

	band, ok := difficultyBands[difficulty]
	if !ok {
		band = difficultyBands["base"]
	}

	// Prefer exercises the user has never attempted on this node.
	exercises, err := p.NodeRepo.FindExercises(nodeID, band[0], band[1], append(avoidIDs, attempted...))
	if err != nil {
		return nil, err
	}
	if len(exercises) == 0 {
		// Any difficulty, still skipping attempted ones.
		exercises, err = p.NodeRepo.FindExercises(nodeID, 0, 0, append(avoidIDs, attempted...))
		if err != nil {
			return nil, err
		}
	}
	if len(exercises) == 0 {
		// Everything attempted already: allow repeats rather than stall.
		exercises, err = p.NodeRepo.FindExercises(nodeID, band[0], band[1], avoidIDs)
		if err != nil {
			return nil, err
		}
	}
	if len(exercises) == 0 {
		exercises, err = p.NodeRepo.FindExercises(nodeID, 0, 0, avoidIDs)
		if err != nil {
			return nil, err
		}
	}
	if len(exercises) == 0 {
		logger.Log.Warn("No exercise available",
			zap.String("node_id", nodeID),
			zap.String("difficulty", difficulty))
		return map[string]interface{}{
			"type": "propose_exercise",
			"params": map[string]interface{}{
				"node_id":               nodeID,
				"no_exercise_available": true,
			},
		}, nil
	}

	exercise := exercises[rand.Intn(len(exercises))]

	session.Orchestrator.CurrentActivity = model.ActivityExercise
	session.Orchestrator.CurrentExerciseID = exercise.ID
	session.Orchestrator.CurrentExerciseText = exercise.Text
	session.Orchestrator.CurrentExerciseSolution = exercise.Solution
	session.Orchestrator.AttemptNumber = 1
	session.Orchestrator.BacktrackAttempts = 0
	if err := tx.Save(session).Error; err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"type": "propose_exercise",
		"params": map[string]interface{}{
			"exercise_id": exercise.ID,
			"text":        exercise.Text,
			"difficulty":  exercise.Difficulty,
			"node_id":     nodeID,
		},
	}, nil
}

func (p *ProcessingService) executeCloseSession(tx *gorm.DB, session *model.Session, userID uint, input map[string]interface{}) (map[string]interface{}, error) {
	summary, _ := input["summary"].(string)

	now := time.Now()
	session.State = model.SessionCompleted
	session.Summary = summary
	session.CompletedAt = &now
	duration := int(now.Sub(session.CreatedAt).Minutes())
	session.ActualDurationMin = &duration
	if err := tx.Save(session).Error; err != nil {
		return nil, err
	}

	logger.Log.Info("Session closed by tutor",
		zap.String("session_id", session.ID))
	return map[string]interface{}{
		"type":   "close_session",
		"params": input,
	}, nil
}

// passThroughAction validates nothing beyond tool-name membership and
// forwards the parameters to the frontend unchanged.
func passThroughAction(name string) actionHandler {
	return func(p *ProcessingService, tx *gorm.DB, session *model.Session, userID uint, input map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{
			"type":   name,
			"params": input,
		}, nil
	}
}

// ---------------------------------------------------------------------
// Signals
// ---------------------------------------------------------------------

func logOnlySignal(name string) signalHandler {
	return func(p *ProcessingService, tx *gorm.DB, session *model.Session, userID uint, input map[string]interface{}) (*Promotion, error) {
		logger.Log.Info("Signal logged",
			zap.String("signal", name),
			zap.Any("params", input))
		return nil, nil
	}
}

func (p *ProcessingService) processConceptExplained(tx *gorm.DB, session *model.Session, userID uint, input map[string]interface{}) (*Promotion, error) {
	nodeID, _ := input["node_id"].(string)
	if nodeID == "" {
		return nil, nil
	}

	state, err := p.loadOrInitState(tx, userID, nodeID)
	if err != nil {
		return nil, err
	}
	state.ExplanationGiven = true
	if !model.LevelSatisfies(state.Level) {
		state.Level = model.LevelInProgress
	}
	if err := p.StateRepo.Upsert(tx, state); err != nil {
		return nil, err
	}

	logger.Log.Info("Concept explained",
		zap.String("node_id", nodeID),
		zap.Uint("user_id", userID))
	return nil, nil
}

func (p *ProcessingService) processExerciseAnswered(tx *gorm.DB, session *model.Session, userID uint, input map[string]interface{}) (*Promotion, error) {
	focalNode, _ := input["focal_node"].(string)
	if focalNode == "" {
		return nil, nil
	}
	exerciseID, _ := input["exercise_id"].(string)
	outcomeStr, _ := input["outcome"].(string)
	outcome := model.ExerciseOutcome(outcomeStr)
	switch outcome {
	case model.OutcomeFirstTry, model.OutcomeGuided, model.OutcomeUnsolved:
	default:
		outcome = model.OutcomeUnsolved
	}
	causeNode, _ := input["cause_node"].(string)
	errorKind, _ := input["error_kind"].(string)

	record := &model.ExerciseHistory{
		UserID:        userID,
		FocalNodeID:   focalNode,
		ExerciseID:    exerciseID,
		Outcome:       outcome,
		CauseNodeID:   causeNode,
		NodesInvolved: stringSlice(input["nodes_involved"]),
		ErrorKind:     errorKind,
		SessionID:     session.ID,
	}
	if err := p.HistoryRepo.Append(tx, record); err != nil {
		return nil, err
	}

	state, err := p.loadOrInitState(tx, userID, focalNode)
	if err != nil {
		return nil, err
	}
	state.ExercisesCompleted++
	if outcome == model.OutcomeFirstTry {
		state.ConsecutiveFirstTry++
	} else {
		state.ConsecutiveFirstTry = 0
	}
	if outcome == model.OutcomeUnsolved {
		state.ErrorsInProgress++
	}
	if !model.LevelSatisfies(state.Level) {
		state.Level = model.LevelInProgress
	}
	if err := p.StateRepo.Upsert(tx, state); err != nil {
		return nil, err
	}

	logger.Log.Info("Exercise answered",
		zap.String("node_id", focalNode),
		zap.String("outcome", string(outcome)),
		zap.Uint("user_id", userID))

	return p.checkPromotion(tx, userID, focalNode, state)
}

// checkPromotion promotes in_progress -> operational when the
// explanation was given, at least 3 exercises are done and the history
// holds at least one first_try.
func (p *ProcessingService) checkPromotion(tx *gorm.DB, userID uint, nodeID string, state *model.UserNodeState) (*Promotion, error) {
	if state.Level != model.LevelInProgress {
		return nil, nil
	}
	if !state.ExplanationGiven {
		return nil, nil
	}
	if state.ExercisesCompleted < exercisesForPromotion {
		return nil, nil
	}
	hasFirstTry, err := p.HistoryRepo.HasFirstTry(tx, userID, nodeID)
	if err != nil {
		return nil, err
	}
	if !hasFirstTry {
		return nil, nil
	}

	state.Level = model.LevelOperational
	if err := p.StateRepo.Upsert(tx, state); err != nil {
		return nil, err
	}

	monitoring.PromotionCounter.Inc()
	logger.Log.Info("Node promoted to operational",
		zap.String("node_id", nodeID),
		zap.Uint("user_id", userID))

	return &Promotion{
		NodeID:        nodeID,
		NewLevel:      string(model.LevelOperational),
		UnlockedNodes: p.unlockCascade(tx, userID, nodeID),
	}, nil
}

// unlockCascade is informational: it reports which nodes the promotion
// made workable, without mutating their state.
func (p *ProcessingService) unlockCascade(tx *gorm.DB, userID uint, promotedID string) []string {
	g, err := p.Graph.Graph()
	if err != nil {
		return nil
	}
	levels, err := p.levelsByUserTx(tx, userID)
	if err != nil {
		logger.Log.Warn("Unlock cascade skipped", zap.Error(err))
		return nil
	}
	unlocked := graph.UnlockedAfterPromotion(g, promotedID, levels)
	if len(unlocked) > 0 {
		logger.Log.Info("Unlock cascade",
			zap.String("promoted", promotedID),
			zap.Strings("unlocked", unlocked))
	}
	return unlocked
}

func (p *ProcessingService) processRecommendedNextStep(tx *gorm.DB, session *model.Session, userID uint, input map[string]interface{}) (*Promotion, error) {
	kind, _ := input["kind"].(string)

	activityByKind := map[string]string{
		"continue_explanation": model.ActivityExplanation,
		"exercise":             model.ActivityExercise,
		"feynman":              model.ActivityFeynman,
		"review":               model.ActivitySRReview,
		"backtrack":            model.ActivityExplanation,
	}
	if activity, ok := activityByKind[kind]; ok {
		session.Orchestrator.CurrentActivity = activity
	}
	session.Orchestrator.NextStep = input
	return nil, tx.Save(session).Error
}

func (p *ProcessingService) processSuggestedStartingPoint(tx *gorm.DB, session *model.Session, userID uint, input map[string]interface{}) (*Promotion, error) {
	themeOrConcept, _ := input["theme_or_concept"].(string)
	reason, _ := input["reason"].(string)

	session.Orchestrator.SuggestedStartingPoint = themeOrConcept
	session.Orchestrator.SuggestedStartingReason = reason

	logger.Log.Info("Starting point suggested",
		zap.String("theme_or_concept", themeOrConcept),
		zap.String("session_id", session.ID))
	return nil, tx.Save(session).Error
}

// ---------------------------------------------------------------------
// Promotion follow-up
// ---------------------------------------------------------------------

// ApplyPromotion recomputes the focal node after a promotion, using the
// promoted node's theme as tie-break, and updates the session. Returns
// the next node id, "" when the path is complete.
func (p *ProcessingService) ApplyPromotion(tx *gorm.DB, session *model.Session, userID uint, promotedID string) (string, error) {
	g, err := p.Graph.Graph()
	if err != nil {
		return "", err
	}

	levels, err := p.levelsByUserTx(tx, userID)
	if err != nil {
		return "", err
	}
	levels[promotedID] = model.LevelOperational

	theme := ""
	if n := g.Node(promotedID); n != nil {
		theme = n.ThemeID
	}

	next, err := graph.PlanNextNode(g, levels, theme)
	if err != nil {
		return "", err
	}

	session.Orchestrator.FocalNodeID = next
	if next != "" {
		session.Orchestrator.CurrentActivity = model.ActivityExplanation
	} else {
		session.Orchestrator.CurrentActivity = ""
	}

	promotedName := promotedID
	if n := g.Node(promotedID); n != nil {
		promotedName = n.Name
	}
	session.Orchestrator.PromotionJustHappened = &model.PromotionNote{
		NodeID:   promotedID,
		NodeName: promotedName,
	}

	worked := session.WorkedNodes
	found := false
	for _, id := range worked {
		if id == promotedID {
			found = true
			break
		}
	}
	if !found {
		session.WorkedNodes = append(worked, promotedID)
	}

	if err := tx.Save(session).Error; err != nil {
		return "", err
	}

	if next != "" {
		logger.Log.Info("Next node after promotion",
			zap.String("promoted", promotedID),
			zap.String("next", next))
	} else {
		logger.Log.Info("Path complete",
			zap.String("promoted", promotedID))
	}
	return next, nil
}

// ---------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------

func (p *ProcessingService) loadOrInitState(tx *gorm.DB, userID uint, nodeID string) (*model.UserNodeState, error) {
	var state model.UserNodeState
	err := tx.Where("user_id = ? AND node_id = ?", userID, nodeID).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.UserNodeState{
			UserID: userID,
			NodeID: nodeID,
			Level:  model.LevelNotStarted,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (p *ProcessingService) levelsByUserTx(tx *gorm.DB, userID uint) (map[string]model.MasteryLevel, error) {
	var states []model.UserNodeState
	if err := tx.Where("user_id = ?", userID).Find(&states).Error; err != nil {
		return nil, err
	}
	levels := make(map[string]model.MasteryLevel, len(states))
	for _, s := range states {
		levels[s.NodeID] = s.Level
	}
	return levels, nil
}

func stringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
