package service

import (
	"context"
	"testing"
	"time"
	"tutor_backend/internal/config"
	"tutor_backend/internal/graph"
	"tutor_backend/internal/model"
	"tutor_backend/internal/repository"
	"tutor_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newSessionService(db *gorm.DB, g *graph.Service) *SessionService {
	return &SessionService{
		SessionRepo: repository.NewSessionRepository(db),
		StateRepo:   repository.NewUserNodeStateRepository(db),
		TurnRepo:    repository.NewTurnRepository(db),
		UserRepo:    repository.NewUserRepository(db),
		Graph:       g,
		Config:      config.SessionConfig{InactivityMaxSec: 300},
	}
}

func TestStartFreshSessionPicksFirstNode(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	s := newSessionService(db, g)

	result, err := s.Start(context.Background(), user.ID, "medium", nil)
	require.NoError(t, err)
	assert.False(t, result.Resumed)
	assert.Equal(t, model.SessionActive, result.Session.State)
	assert.Equal(t, "algebra_1", result.Session.Orchestrator.FocalNodeID)
	assert.Equal(t, model.ActivityExplanation, result.Session.Orchestrator.CurrentActivity)
}

func TestStartPrefersMostRecentInProgressNode(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	s := newSessionService(db, g)

	now := time.Now()
	earlier := now.Add(-time.Hour)
	require.NoError(t, db.Create(&model.UserNodeState{
		UserID: user.ID, NodeID: "algebra_1", Level: model.LevelOperational,
	}).Error)
	require.NoError(t, db.Create(&model.UserNodeState{
		UserID: user.ID, NodeID: "algebra_2", Level: model.LevelInProgress, LastInteraction: &earlier,
	}).Error)

	result, err := s.Start(context.Background(), user.ID, "medium", nil)
	require.NoError(t, err)
	assert.Equal(t, "algebra_2", result.Session.Orchestrator.FocalNodeID)
}

func TestStartConflictsWithYoungActiveSession(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	s := newSessionService(db, g)
	existing := newActiveSession(t, db, user.ID, "algebra_1")

	_, err := s.Start(context.Background(), user.ID, "medium", nil)
	var conflict *util.SessionConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, existing.ID, conflict.ActiveSessionID)
}

func TestStartAutoSuspendsStaleActiveSessionThenResumesIt(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	s := newSessionService(db, g)

	stale := newActiveSession(t, db, user.ID, "algebra_1")
	old := time.Now().Add(-10 * time.Minute)
	require.NoError(t, db.Model(stale).UpdateColumn("created_at", old).Error)

	result, err := s.Start(context.Background(), user.ID, "medium", nil)
	require.NoError(t, err)

	// The stale session was suspended and immediately resumed as the
	// most recent suspended session.
	assert.True(t, result.Resumed)
	assert.Equal(t, stale.ID, result.Session.ID)
	assert.Equal(t, model.SessionActive, result.Session.State)
	assert.True(t, result.Session.Orchestrator.Resumed)
	assert.Equal(t, model.ActivityExplanation, result.Session.Orchestrator.ActivityAtSuspension)
}

func TestStartResumesSuspendedSession(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	s := newSessionService(db, g)

	suspended := newActiveSession(t, db, user.ID, "algebra_2")
	_, err := s.Suspend(suspended.ID, user.ID)
	require.NoError(t, err)

	result, err := s.Start(context.Background(), user.ID, "medium", nil)
	require.NoError(t, err)
	assert.True(t, result.Resumed)
	assert.Equal(t, suspended.ID, result.Session.ID)
	assert.Equal(t, "algebra_2", result.Session.Orchestrator.FocalNodeID)
}

func TestSuspendOnlyFromActive(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	s := newSessionService(db, g)

	session := newActiveSession(t, db, user.ID, "algebra_1")
	suspended, err := s.Suspend(session.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionSuspended, suspended.State)
	assert.NotNil(t, suspended.ActualDurationMin)
	assert.NotEmpty(t, suspended.Orchestrator.SuspensionDetail)

	_, err = s.Suspend(session.ID, user.ID)
	var invalid *util.InvalidStateError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "suspend", invalid.Action)
}

func TestTerminateFromActiveAndSuspended(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	s := newSessionService(db, g)

	session := newActiveSession(t, db, user.ID, "algebra_1")
	done, err := s.Terminate(session.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, done.State)
	assert.NotNil(t, done.CompletedAt)

	// Terminating again is invalid.
	_, err = s.Terminate(session.ID, user.ID)
	var invalid *util.InvalidStateError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "terminate", invalid.Action)
}

func TestGetEnforcesOwnership(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	s := newSessionService(db, g)

	session := newActiveSession(t, db, user.ID, "algebra_1")

	_, err := s.Get(session.ID, user.ID+1)
	assert.ErrorIs(t, err, util.ErrSessionNotFound)

	got, err := s.Get(session.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
}

func TestClearResumedFlag(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	s := newSessionService(db, g)

	session := newActiveSession(t, db, user.ID, "algebra_1")
	session.Orchestrator.Resumed = true
	require.NoError(t, db.Save(session).Error)

	require.NoError(t, s.ClearResumedFlag(session.ID))

	var reloaded model.Session
	require.NoError(t, db.First(&reloaded, "id = ?", session.ID).Error)
	assert.False(t, reloaded.Orchestrator.Resumed)
}

func TestResumePicksMostRecentlyCreatedSuspended(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	s := newSessionService(db, g)

	now := time.Now()
	older := &model.Session{UserID: user.ID, State: model.SessionSuspended, Type: "medium"}
	older.CreatedAt = now.Add(-2 * time.Hour)
	require.NoError(t, db.Create(older).Error)
	newer := &model.Session{UserID: user.ID, State: model.SessionSuspended, Type: "medium"}
	newer.CreatedAt = now.Add(-1 * time.Hour)
	require.NoError(t, db.Create(newer).Error)

	// Touching the older session must not make it the resume target.
	older.Summary = "touched"
	require.NoError(t, db.Save(older).Error)

	result, err := s.Start(context.Background(), user.ID, "medium", nil)
	require.NoError(t, err)
	assert.True(t, result.Resumed)
	assert.Equal(t, newer.ID, result.Session.ID)
}

func newOnboardingSession(t *testing.T, db *gorm.DB, userID uint, startingPoint string) *model.Session {
	t.Helper()
	session := &model.Session{
		UserID: userID,
		State:  model.SessionActive,
		Type:   model.SessionTypeOnboarding,
	}
	session.Orchestrator.SuggestedStartingPoint = startingPoint
	require.NoError(t, db.Create(session).Error)
	return session
}

func TestCompleteOnboardingBackfillsPresumed(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	s := newSessionService(db, g)
	session := newOnboardingSession(t, db, user.ID, "algebra_2")

	result, err := s.CompleteOnboarding(session.ID, user.ID,
		model.JSONMap{"goal": "exam prep"}, model.JSONMap{"tone": "direct"})
	require.NoError(t, err)
	assert.Equal(t, "algebra_2", result.StartingNode)
	assert.Equal(t, 3, result.InitializedNodes)

	var states []model.UserNodeState
	require.NoError(t, db.Order("node_id").Find(&states, "user_id = ?", user.ID).Error)
	require.Len(t, states, 3)
	assert.Equal(t, model.LevelOperational, states[0].Level)
	assert.True(t, states[0].Presumed)
	assert.Equal(t, model.LevelNotStarted, states[1].Level)
	assert.False(t, states[1].Presumed)
	assert.Equal(t, model.LevelNotStarted, states[2].Level)

	var reloaded model.Session
	require.NoError(t, db.First(&reloaded, "id = ?", session.ID).Error)
	assert.Equal(t, model.SessionCompleted, reloaded.State)
	require.NotNil(t, reloaded.CompletedAt)

	var profile model.User
	require.NoError(t, db.First(&profile, user.ID).Error)
	assert.Equal(t, "exam prep", profile.PersonalContext["goal"])
	assert.Equal(t, "direct", profile.TutorPreferences["tone"])
}

func TestCompleteOnboardingPresumedNodesDoNotBlockPlanning(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	s := newSessionService(db, g)
	session := newOnboardingSession(t, db, user.ID, "algebra_3")

	_, err := s.CompleteOnboarding(session.ID, user.ID, nil, nil)
	require.NoError(t, err)

	// algebra_1 and algebra_2 are presumed operational: they satisfy
	// algebra_3's prerequisites without being picked again.
	result, err := s.Start(context.Background(), user.ID, "medium", nil)
	require.NoError(t, err)
	assert.Equal(t, "algebra_3", result.Session.Orchestrator.FocalNodeID)
}

func TestCompleteOnboardingKeepsExistingProgress(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	s := newSessionService(db, g)
	session := newOnboardingSession(t, db, user.ID, "algebra_2")

	require.NoError(t, db.Create(&model.UserNodeState{
		UserID: user.ID, NodeID: "algebra_1",
		Level: model.LevelInProgress, ExercisesCompleted: 2,
	}).Error)

	_, err := s.CompleteOnboarding(session.ID, user.ID, nil, nil)
	require.NoError(t, err)

	var state model.UserNodeState
	require.NoError(t, db.First(&state, "user_id = ? AND node_id = ?", user.ID, "algebra_1").Error)
	assert.Equal(t, model.LevelInProgress, state.Level)
	assert.Equal(t, 2, state.ExercisesCompleted)
	assert.False(t, state.Presumed)
}

func TestCompleteOnboardingRejectsRegularSession(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	s := newSessionService(db, g)
	session := newActiveSession(t, db, user.ID, "algebra_1")

	_, err := s.CompleteOnboarding(session.ID, user.ID, nil, nil)
	assert.ErrorIs(t, err, util.ErrSessionNotFound)
}

func TestCompleteOnboardingWithoutStartingPointPresumesNothing(t *testing.T) {
	db := newTestDB(t)
	g := seedLinearGraph(t, db)
	user := newTestUser(t, db)
	s := newSessionService(db, g)
	session := newOnboardingSession(t, db, user.ID, "")

	result, err := s.CompleteOnboarding(session.ID, user.ID, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, result.StartingNode)
	assert.Equal(t, 3, result.InitializedNodes)

	var n int64
	require.NoError(t, db.Model(&model.UserNodeState{}).
		Where("user_id = ? AND presumed = ?", user.ID, true).
		Count(&n).Error)
	assert.Zero(t, n)
}
