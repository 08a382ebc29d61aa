package service

import (
	"context"
	"errors"
	"testing"
	"tutor_backend/internal/graph"
	"tutor_backend/internal/llm"
	"tutor_backend/internal/model"
	"tutor_backend/internal/prompt"
	"tutor_backend/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// scriptedStreamer replays a fixed event sequence as the model stream.
type scriptedStreamer struct {
	events []llm.StreamEvent
}

func (s *scriptedStreamer) StreamCompletion(ctx context.Context, system string, messages []llm.Message, model string) <-chan llm.StreamEvent {
	out := make(chan llm.StreamEvent)
	go func() {
		defer close(out)
		for _, ev := range s.events {
			out <- ev
		}
	}()
	return out
}

func newTurnService(db *gorm.DB, g *graph.Service, streamer ModelStreamer) *TurnService {
	return &TurnService{
		DB:          db,
		Context:     newContextService(db, g),
		Processing:  newProcessingService(db, g),
		Model:       streamer,
		TurnRepo:    repository.NewTurnRepository(db),
		SessionRepo: repository.NewSessionRepository(db),
		Achievements: &AchievementService{
			AchievementRepo: repository.NewAchievementRepository(db),
			StateRepo:       repository.NewUserNodeStateRepository(db),
			HistoryRepo:     repository.NewExerciseHistoryRepository(db),
			SessionRepo:     repository.NewSessionRepository(db),
			UserRepo:        repository.NewUserRepository(db),
		},
	}
}

func collectEvents(ch <-chan TurnEvent) []TurnEvent {
	var out []TurnEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func countEvents(events []TurnEvent, name string) int {
	n := 0
	for _, ev := range events {
		if ev.Event == name {
			n++
		}
	}
	return n
}

func TestTurnHappyPath(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	session := newActiveSession(t, db, user.ID, "algebra_1")

	streamer := &scriptedStreamer{events: []llm.StreamEvent{
		{Type: llm.EventTextDelta, Text: "Hello, "},
		{Type: llm.EventTextDelta, Text: "let's begin."},
		{Type: llm.EventStop, FullText: "Hello, let's begin.", Usage: &llm.Usage{PromptTokens: 100, CompletionTokens: 20}},
	}}
	s := newTurnService(db, g, streamer)

	events := collectEvents(s.ExecuteTurn(context.Background(), session.ID, user.ID, "hi"))

	assert.Equal(t, 2, countEvents(events, TurnEventTextDelta))
	assert.Equal(t, 1, countEvents(events, TurnEventTurnComplete))
	assert.Equal(t, 0, countEvents(events, TurnEventError))
	assert.Equal(t, TurnEventTurnComplete, events[len(events)-1].Event)

	var turns []model.ConversationTurn
	require.NoError(t, db.Order("seq").Find(&turns, "session_id = ?", session.ID).Error)
	require.Len(t, turns, 2)
	assert.Equal(t, model.RoleUser, turns[0].Role)
	assert.Equal(t, "hi", turns[0].Content)
	assert.Equal(t, model.RoleAssistant, turns[1].Role)
	assert.Equal(t, "Hello, let's begin.", turns[1].Content)
	assert.Equal(t, 100, turns[1].TokensIn)
	assert.Equal(t, 20, turns[1].TokensOut)
	assert.Equal(t, "algebra_1", turns[1].FocalNodeID)
}

func TestTurnStreamErrorLeavesNoAssistantTurn(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	session := newActiveSession(t, db, user.ID, "algebra_1")

	streamer := &scriptedStreamer{events: []llm.StreamEvent{
		{Type: llm.EventTextDelta, Text: "partial"},
		{Type: llm.EventError, Err: errors.New("connection reset")},
	}}
	s := newTurnService(db, g, streamer)

	events := collectEvents(s.ExecuteTurn(context.Background(), session.ID, user.ID, "hi"))

	assert.Equal(t, 1, countEvents(events, TurnEventError))
	assert.Equal(t, 0, countEvents(events, TurnEventTurnComplete))

	// The user turn survives; nothing else was written.
	var turns []model.ConversationTurn
	require.NoError(t, db.Find(&turns, "session_id = ?", session.ID).Error)
	require.Len(t, turns, 1)
	assert.Equal(t, model.RoleUser, turns[0].Role)

	var states []model.UserNodeState
	require.NoError(t, db.Find(&states, "user_id = ?", user.ID).Error)
	assert.Empty(t, states)
}

func TestTurnMissingStopIsAnError(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	session := newActiveSession(t, db, user.ID, "algebra_1")

	streamer := &scriptedStreamer{events: []llm.StreamEvent{
		{Type: llm.EventTextDelta, Text: "partial"},
	}}
	s := newTurnService(db, g, streamer)

	events := collectEvents(s.ExecuteTurn(context.Background(), session.ID, user.ID, "hi"))

	assert.Equal(t, 1, countEvents(events, TurnEventError))
	assert.Equal(t, 0, countEvents(events, TurnEventTurnComplete))
}

func TestTurnSignalsAppliedAfterStream(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	session := newActiveSession(t, db, user.ID, "algebra_1")

	signal := llm.ToolCall{
		ID:       "call_1",
		Name:     "concept_explained",
		Category: llm.CategorySignal,
		Input:    map[string]interface{}{"node_id": "algebra_1"},
	}
	streamer := &scriptedStreamer{events: []llm.StreamEvent{
		{Type: llm.EventTextDelta, Text: "So, algebra."},
		{Type: llm.EventToolUse, Tool: &signal},
		{Type: llm.EventStop, FullText: "So, algebra.", Calls: []llm.ToolCall{signal}},
	}}
	s := newTurnService(db, g, streamer)

	events := collectEvents(s.ExecuteTurn(context.Background(), session.ID, user.ID, "teach me"))
	assert.Equal(t, 1, countEvents(events, TurnEventTurnComplete))

	var state model.UserNodeState
	require.NoError(t, db.First(&state, "user_id = ? AND node_id = ?", user.ID, "algebra_1").Error)
	assert.Equal(t, model.LevelInProgress, state.Level)
	assert.True(t, state.ExplanationGiven)

	// The raw signal is stored on the assistant turn.
	var turn model.ConversationTurn
	require.NoError(t, db.First(&turn, "session_id = ? AND role = ?", session.ID, model.RoleAssistant).Error)
	require.Len(t, turn.Signals, 1)
}

func TestTurnActionForwardedInline(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	session := newActiveSession(t, db, user.ID, "algebra_1")

	require.NoError(t, db.Create(&model.Exercise{
		ID: "ex1", NodeID: "algebra_1", Text: "solve", Difficulty: 1,
	}).Error)

	action := llm.ToolCall{
		ID:       "call_1",
		Name:     "propose_exercise",
		Category: llm.CategoryAction,
		Input:    map[string]interface{}{"node_id": "algebra_1", "difficulty": "base"},
	}
	streamer := &scriptedStreamer{events: []llm.StreamEvent{
		{Type: llm.EventTextDelta, Text: "Try this one."},
		{Type: llm.EventToolUse, Tool: &action},
		{Type: llm.EventStop, FullText: "Try this one.", Calls: []llm.ToolCall{action}},
	}}
	s := newTurnService(db, g, streamer)

	events := collectEvents(s.ExecuteTurn(context.Background(), session.ID, user.ID, "ready"))

	require.Equal(t, 1, countEvents(events, TurnEventAction))
	for _, ev := range events {
		if ev.Event != TurnEventAction {
			continue
		}
		payload := ev.Data.(map[string]interface{})
		assert.Equal(t, "propose_exercise", payload["type"])
	}
	assert.Equal(t, 1, countEvents(events, TurnEventTurnComplete))
}

func TestTurnPromotionAdvancesFocalNode(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	session := newActiveSession(t, db, user.ID, "algebra_1")

	// Two exercises and the explanation already on record: the third
	// first_try answer completes the promotion rule.
	require.NoError(t, db.Create(&model.UserNodeState{
		UserID: user.ID, NodeID: "algebra_1",
		Level: model.LevelInProgress, ExplanationGiven: true, ExercisesCompleted: 2,
	}).Error)

	signal := llm.ToolCall{
		Name:     "exercise_answered",
		Category: llm.CategorySignal,
		Input: map[string]interface{}{
			"focal_node": "algebra_1",
			"outcome":    "first_try",
		},
	}
	streamer := &scriptedStreamer{events: []llm.StreamEvent{
		{Type: llm.EventTextDelta, Text: "Correct!"},
		{Type: llm.EventToolUse, Tool: &signal},
		{Type: llm.EventStop, FullText: "Correct!", Calls: []llm.ToolCall{signal}},
	}}
	s := newTurnService(db, g, streamer)

	events := collectEvents(s.ExecuteTurn(context.Background(), session.ID, user.ID, "x = 4"))
	require.Equal(t, 1, countEvents(events, TurnEventTurnComplete))

	var reloaded model.Session
	require.NoError(t, db.First(&reloaded, "id = ?", session.ID).Error)
	assert.Equal(t, "algebra_2", reloaded.Orchestrator.FocalNodeID)
	require.NotNil(t, reloaded.Orchestrator.PromotionJustHappened)
	assert.Equal(t, "algebra_1", reloaded.Orchestrator.PromotionJustHappened.NodeID)

	var state model.UserNodeState
	require.NoError(t, db.First(&state, "user_id = ? AND node_id = ?", user.ID, "algebra_1").Error)
	assert.Equal(t, model.LevelOperational, state.Level)

	// turn_complete reports the recomputed focal node.
	last := events[len(events)-1]
	data := last.Data.(map[string]interface{})
	assert.Equal(t, "algebra_2", data["focal_node"])
}

func TestTurnConsumesPromotionNote(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	session := newActiveSession(t, db, user.ID, "algebra_2")
	session.Orchestrator.PromotionJustHappened = &model.PromotionNote{
		NodeID: "algebra_1", NodeName: "Node algebra_1",
	}
	require.NoError(t, db.Save(session).Error)

	streamer := &scriptedStreamer{events: []llm.StreamEvent{
		{Type: llm.EventTextDelta, Text: "Onwards."},
		{Type: llm.EventStop, FullText: "Onwards."},
	}}
	s := newTurnService(db, g, streamer)

	events := collectEvents(s.ExecuteTurn(context.Background(), session.ID, user.ID, "next"))
	require.Equal(t, 1, countEvents(events, TurnEventTurnComplete))

	// Acknowledged in this turn's directive, gone afterwards.
	var reloaded model.Session
	require.NoError(t, db.First(&reloaded, "id = ?", session.ID).Error)
	assert.Nil(t, reloaded.Orchestrator.PromotionJustHappened)
}

func TestTurnRejectedWhileAnotherInFlight(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	session := newActiveSession(t, db, user.ID, "algebra_1")

	release := make(chan struct{})
	streamer := &blockingStreamer{release: release}
	s := newTurnService(db, g, streamer)

	// The in-flight slot is taken before ExecuteTurn returns, so the
	// second call is rejected even though the first is still streaming.
	first := s.ExecuteTurn(context.Background(), session.ID, user.ID, "hi")

	second := collectEvents(s.ExecuteTurn(context.Background(), session.ID, user.ID, "again"))
	require.Len(t, second, 1)
	assert.Equal(t, TurnEventError, second[0].Event)

	close(release)
	events := collectEvents(first)
	assert.Equal(t, 1, countEvents(events, TurnEventTurnComplete))
}

// blockingStreamer parks the stream until released, to hold a turn open.
type blockingStreamer struct {
	release <-chan struct{}
}

func (s *blockingStreamer) StreamCompletion(ctx context.Context, system string, messages []llm.Message, model string) <-chan llm.StreamEvent {
	out := make(chan llm.StreamEvent)
	go func() {
		defer close(out)
		<-s.release
		out <- llm.StreamEvent{Type: llm.EventStop, FullText: "done"}
	}()
	return out
}

func TestOnboardingPhaseAdvances(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	s := newTurnService(db, g, &scriptedStreamer{})

	session := &model.Session{UserID: user.ID, State: model.SessionActive, Type: model.SessionTypeOnboarding}
	require.NoError(t, db.Create(session).Error)

	// No student reply yet: still the welcome phase.
	require.NoError(t, s.advanceOnboardingPhase(session))
	assert.Empty(t, session.Orchestrator.CurrentActivity)

	require.NoError(t, db.Create(&model.ConversationTurn{
		SessionID: session.ID, Seq: 1, Role: model.RoleUser, Content: "hi",
	}).Error)
	require.NoError(t, s.advanceOnboardingPhase(session))
	assert.Equal(t, prompt.OnboardingDiscovery, session.Orchestrator.CurrentActivity)

	// Discovery turns accumulate until the cap flips to conclusion.
	session.Orchestrator.OnboardingTurns = onboardingDiscoveryMaxTurns - 1
	require.NoError(t, s.advanceOnboardingPhase(session))
	assert.Equal(t, prompt.OnboardingConclusion, session.Orchestrator.CurrentActivity)

	reloaded, err := repository.NewSessionRepository(db).FindByID(session.ID)
	require.NoError(t, err)
	assert.Equal(t, prompt.OnboardingConclusion, reloaded.Orchestrator.CurrentActivity)
}

func TestOnboardingTurnMovesWelcomeToDiscovery(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)

	session := &model.Session{UserID: user.ID, State: model.SessionActive, Type: model.SessionTypeOnboarding}
	require.NoError(t, db.Create(session).Error)
	require.NoError(t, db.Create(&model.ConversationTurn{
		SessionID: session.ID, Seq: 1, Role: model.RoleUser, Content: "hello",
	}).Error)

	streamer := &scriptedStreamer{events: []llm.StreamEvent{
		{Type: llm.EventTextDelta, Text: "Tell me more."},
		{Type: llm.EventStop, FullText: "Tell me more."},
	}}
	s := newTurnService(db, g, streamer)

	events := collectEvents(s.ExecuteTurn(context.Background(), session.ID, user.ID, "I want to prepare for an exam"))
	assert.Equal(t, 1, countEvents(events, TurnEventTurnComplete))

	reloaded, err := repository.NewSessionRepository(db).FindByID(session.ID)
	require.NoError(t, err)
	assert.Equal(t, prompt.OnboardingDiscovery, reloaded.Orchestrator.CurrentActivity)
}
