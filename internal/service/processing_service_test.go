package service

import (
	"testing"
	"tutor_backend/internal/graph"
	"tutor_backend/internal/llm"
	"tutor_backend/internal/model"
	"tutor_backend/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newProcessingService(db *gorm.DB, g *graph.Service) *ProcessingService {
	return NewProcessingService(
		repository.NewNodeRepository(db),
		repository.NewUserNodeStateRepository(db),
		repository.NewExerciseHistoryRepository(db),
		g,
	)
}

func exerciseAnswered(node, outcome string) llm.ToolCall {
	return llm.ToolCall{
		Name:     "exercise_answered",
		Category: llm.CategorySignal,
		Input: map[string]interface{}{
			"focal_node": node,
			"outcome":    outcome,
		},
	}
}

func conceptExplained(node string) llm.ToolCall {
	return llm.ToolCall{
		Name:     "concept_explained",
		Category: llm.CategorySignal,
		Input:    map[string]interface{}{"node_id": node},
	}
}

func TestConceptExplainedMovesNodeToInProgress(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	session := newActiveSession(t, db, user.ID, "algebra_1")
	p := newProcessingService(db, g)

	promotions, err := p.ProcessSignals(db, session, user.ID, []llm.ToolCall{conceptExplained("algebra_1")})
	require.NoError(t, err)
	assert.Empty(t, promotions)

	var state model.UserNodeState
	require.NoError(t, db.First(&state, "user_id = ? AND node_id = ?", user.ID, "algebra_1").Error)
	assert.Equal(t, model.LevelInProgress, state.Level)
	assert.True(t, state.ExplanationGiven)
}

func TestPromotionAfterThreeExercisesWithFirstTry(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	session := newActiveSession(t, db, user.ID, "algebra_1")
	p := newProcessingService(db, g)

	promotions, err := p.ProcessSignals(db, session, user.ID, []llm.ToolCall{
		conceptExplained("algebra_1"),
		exerciseAnswered("algebra_1", "guided"),
		exerciseAnswered("algebra_1", "first_try"),
		exerciseAnswered("algebra_1", "guided"),
	})
	require.NoError(t, err)
	require.Len(t, promotions, 1)
	assert.Equal(t, "algebra_1", promotions[0].NodeID)
	assert.Equal(t, string(model.LevelOperational), promotions[0].NewLevel)
	assert.Equal(t, []string{"algebra_2"}, promotions[0].UnlockedNodes)

	var state model.UserNodeState
	require.NoError(t, db.First(&state, "user_id = ? AND node_id = ?", user.ID, "algebra_1").Error)
	assert.Equal(t, model.LevelOperational, state.Level)
	assert.Equal(t, 3, state.ExercisesCompleted)
}

func TestNoPromotionWithoutFirstTry(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	session := newActiveSession(t, db, user.ID, "algebra_1")
	p := newProcessingService(db, g)

	promotions, err := p.ProcessSignals(db, session, user.ID, []llm.ToolCall{
		conceptExplained("algebra_1"),
		exerciseAnswered("algebra_1", "guided"),
		exerciseAnswered("algebra_1", "guided"),
		exerciseAnswered("algebra_1", "unsolved"),
	})
	require.NoError(t, err)
	assert.Empty(t, promotions)

	var state model.UserNodeState
	require.NoError(t, db.First(&state, "user_id = ? AND node_id = ?", user.ID, "algebra_1").Error)
	assert.Equal(t, model.LevelInProgress, state.Level)
	assert.Equal(t, 1, state.ErrorsInProgress)
}

func TestNoPromotionWithoutExplanation(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	session := newActiveSession(t, db, user.ID, "algebra_1")
	p := newProcessingService(db, g)

	promotions, err := p.ProcessSignals(db, session, user.ID, []llm.ToolCall{
		exerciseAnswered("algebra_1", "first_try"),
		exerciseAnswered("algebra_1", "first_try"),
		exerciseAnswered("algebra_1", "first_try"),
	})
	require.NoError(t, err)
	assert.Empty(t, promotions)
}

func TestFirstTryStreakResets(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	session := newActiveSession(t, db, user.ID, "algebra_1")
	p := newProcessingService(db, g)

	_, err := p.ProcessSignals(db, session, user.ID, []llm.ToolCall{
		exerciseAnswered("algebra_1", "first_try"),
		exerciseAnswered("algebra_1", "first_try"),
		exerciseAnswered("algebra_1", "guided"),
	})
	require.NoError(t, err)

	var state model.UserNodeState
	require.NoError(t, db.First(&state, "user_id = ? AND node_id = ?", user.ID, "algebra_1").Error)
	assert.Equal(t, 0, state.ConsecutiveFirstTry)
}

func TestProposeExercisePicksWithinBand(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	session := newActiveSession(t, db, user.ID, "algebra_1")
	p := newProcessingService(db, g)

	for i, diff := range []int{1, 2, 3, 4, 5} {
		require.NoError(t, db.Create(&model.Exercise{
			ID:         []string{"ex1", "ex2", "ex3", "ex4", "ex5"}[i],
			NodeID:     "algebra_1",
			Text:       "solve it",
			Difficulty: diff,
		}).Error)
	}

	payload, err := p.ExecuteAction(db, session, user.ID, llm.ToolCall{
		Name:     "propose_exercise",
		Category: llm.CategoryAction,
		Input: map[string]interface{}{
			"node_id":    "algebra_1",
			"difficulty": "advanced",
		},
	})
	require.NoError(t, err)

	params := payload["params"].(map[string]interface{})
	assert.Contains(t, []interface{}{"ex4", "ex5"}, params["exercise_id"])

	// Orchestrator state now tracks the ongoing exercise.
	var session2 model.Session
	require.NoError(t, db.First(&session2, "id = ?", session.ID).Error)
	assert.Equal(t, model.ActivityExercise, session2.Orchestrator.CurrentActivity)
	assert.Equal(t, 1, session2.Orchestrator.AttemptNumber)
	assert.Equal(t, 0, session2.Orchestrator.BacktrackAttempts)
}

func TestProposeExerciseFallsBackOutsideBand(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	session := newActiveSession(t, db, user.ID, "algebra_1")
	p := newProcessingService(db, g)

	require.NoError(t, db.Create(&model.Exercise{
		ID: "only", NodeID: "algebra_1", Text: "solve it", Difficulty: 5,
	}).Error)

	payload, err := p.ExecuteAction(db, session, user.ID, llm.ToolCall{
		Name:     "propose_exercise",
		Category: llm.CategoryAction,
		Input: map[string]interface{}{
			"node_id":    "algebra_1",
			"difficulty": "base",
		},
	})
	require.NoError(t, err)

	params := payload["params"].(map[string]interface{})
	assert.Equal(t, "only", params["exercise_id"])
}

func TestProposeExerciseSkipsAttempted(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	session := newActiveSession(t, db, user.ID, "algebra_1")
	p := newProcessingService(db, g)

	for _, id := range []string{"ex1", "ex2"} {
		require.NoError(t, db.Create(&model.Exercise{
			ID: id, NodeID: "algebra_1", Text: "solve it", Difficulty: 1,
		}).Error)
	}
	require.NoError(t, db.Create(&model.ExerciseHistory{
		UserID: user.ID, FocalNodeID: "algebra_1", ExerciseID: "ex1",
		Outcome: model.OutcomeUnsolved,
	}).Error)

	payload, err := p.ExecuteAction(db, session, user.ID, llm.ToolCall{
		Name:     "propose_exercise",
		Category: llm.CategoryAction,
		Input: map[string]interface{}{
			"node_id":    "algebra_1",
			"difficulty": "base",
		},
	})
	require.NoError(t, err)

	params := payload["params"].(map[string]interface{})
	assert.Equal(t, "ex2", params["exercise_id"])
}

func TestProposeExerciseRepeatsWhenAllAttempted(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	session := newActiveSession(t, db, user.ID, "algebra_1")
	p := newProcessingService(db, g)

	require.NoError(t, db.Create(&model.Exercise{
		ID: "ex1", NodeID: "algebra_1", Text: "solve it", Difficulty: 1,
	}).Error)
	require.NoError(t, db.Create(&model.ExerciseHistory{
		UserID: user.ID, FocalNodeID: "algebra_1", ExerciseID: "ex1",
		Outcome: model.OutcomeUnsolved,
	}).Error)

	payload, err := p.ExecuteAction(db, session, user.ID, llm.ToolCall{
		Name:     "propose_exercise",
		Category: llm.CategoryAction,
		Input:    map[string]interface{}{"node_id": "algebra_1"},
	})
	require.NoError(t, err)

	params := payload["params"].(map[string]interface{})
	assert.Equal(t, "ex1", params["exercise_id"])
}

func TestProposeExerciseNoneAvailable(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	session := newActiveSession(t, db, user.ID, "algebra_1")
	p := newProcessingService(db, g)

	payload, err := p.ExecuteAction(db, session, user.ID, llm.ToolCall{
		Name:     "propose_exercise",
		Category: llm.CategoryAction,
		Input:    map[string]interface{}{"node_id": "algebra_1"},
	})
	require.NoError(t, err)

	params := payload["params"].(map[string]interface{})
	assert.Equal(t, true, params["no_exercise_available"])
}

func TestUnregisteredActionEchoesStub(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	session := newActiveSession(t, db, user.ID, "algebra_1")
	p := newProcessingService(db, g)

	payload, err := p.ExecuteAction(db, session, user.ID, llm.ToolCall{
		Name:  "show_visualization",
		Input: map[string]interface{}{"topic": "parabola"},
	})
	require.NoError(t, err)
	assert.Equal(t, true, payload["stub"])
	assert.Equal(t, "show_visualization", payload["type"])
}

func TestUnregisteredSignalIsSkipped(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	session := newActiveSession(t, db, user.ID, "algebra_1")
	p := newProcessingService(db, g)

	promotions, err := p.ProcessSignals(db, session, user.ID, []llm.ToolCall{
		{Name: "feynman_evaluation", Input: map[string]interface{}{"score": 3.0}},
	})
	require.NoError(t, err)
	assert.Empty(t, promotions)
}

func TestApplyPromotionAdvancesFocalNode(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	session := newActiveSession(t, db, user.ID, "algebra_1")
	p := newProcessingService(db, g)

	require.NoError(t, db.Create(&model.UserNodeState{
		UserID: user.ID, NodeID: "algebra_1", Level: model.LevelOperational,
	}).Error)

	next, err := p.ApplyPromotion(db, session, user.ID, "algebra_1")
	require.NoError(t, err)
	assert.Equal(t, "algebra_2", next)
	assert.Equal(t, "algebra_2", session.Orchestrator.FocalNodeID)
	assert.Equal(t, model.ActivityExplanation, session.Orchestrator.CurrentActivity)
	require.NotNil(t, session.Orchestrator.PromotionJustHappened)
	assert.Equal(t, "algebra_1", session.Orchestrator.PromotionJustHappened.NodeID)
	assert.Equal(t, []string(session.WorkedNodes), []string{"algebra_1"})
}

func TestApplyPromotionPathComplete(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	session := newActiveSession(t, db, user.ID, "algebra_3")
	p := newProcessingService(db, g)

	for _, id := range []string{"algebra_1", "algebra_2", "algebra_3"} {
		require.NoError(t, db.Create(&model.UserNodeState{
			UserID: user.ID, NodeID: id, Level: model.LevelOperational,
		}).Error)
	}

	next, err := p.ApplyPromotion(db, session, user.ID, "algebra_3")
	require.NoError(t, err)
	assert.Equal(t, "", next)
	assert.Equal(t, "", session.Orchestrator.FocalNodeID)
	assert.Equal(t, "", session.Orchestrator.CurrentActivity)
}
