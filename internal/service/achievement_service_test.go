package service

import (
	"testing"
	"time"
	"tutor_backend/internal/model"
	"tutor_backend/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newAchievementService(db *gorm.DB) *AchievementService {
	return &AchievementService{
		AchievementRepo: repository.NewAchievementRepository(db),
		StateRepo:       repository.NewUserNodeStateRepository(db),
		HistoryRepo:     repository.NewExerciseHistoryRepository(db),
		SessionRepo:     repository.NewSessionRepository(db),
		UserRepo:        repository.NewUserRepository(db),
	}
}

func day(offset int) time.Time {
	now := time.Now()
	d := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return d.AddDate(0, 0, offset)
}

func TestSeedIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	s := newAchievementService(db)

	require.NoError(t, s.Seed())
	require.NoError(t, s.Seed())

	defs, err := s.AchievementRepo.FindAllDefinitions()
	require.NoError(t, err)
	assert.Len(t, defs, len(model.AchievementSeed))
}

func TestFirstNodeUnlocksOnce(t *testing.T) {
	db := newTestDB(t)
	user := newTestUser(t, db)
	s := newAchievementService(db)
	require.NoError(t, s.Seed())

	require.NoError(t, db.Create(&model.UserNodeState{
		UserID: user.ID, NodeID: "algebra_1", Level: model.LevelOperational,
	}).Error)

	unlocked := s.CheckAchievements(user.ID)
	ids := make([]string, 0, len(unlocked))
	for _, a := range unlocked {
		ids = append(ids, a.ID)
	}
	assert.Contains(t, ids, "first_node")

	// Second pass unlocks nothing new.
	assert.Empty(t, s.CheckAchievements(user.ID))
}

func TestPresumedNodesDoNotCountAsCompleted(t *testing.T) {
	db := newTestDB(t)
	user := newTestUser(t, db)
	s := newAchievementService(db)
	require.NoError(t, s.Seed())

	require.NoError(t, db.Create(&model.UserNodeState{
		UserID: user.ID, NodeID: "algebra_1", Level: model.LevelOperational, Presumed: true,
	}).Error)

	for _, a := range s.CheckAchievements(user.ID) {
		assert.NotEqual(t, "first_node", a.ID)
	}
}

func TestStreakCountsBackFromToday(t *testing.T) {
	db := newTestDB(t)
	user := newTestUser(t, db)
	s := newAchievementService(db)
	require.NoError(t, s.Seed())

	for offset := -2; offset <= 0; offset++ {
		require.NoError(t, db.Create(&model.DailyStat{
			UserID: user.ID, Date: day(offset), StudyMinutes: 30, GoalReached: true,
		}).Error)
	}

	unlocked := s.CheckAchievements(user.ID)
	ids := make([]string, 0, len(unlocked))
	for _, a := range unlocked {
		ids = append(ids, a.ID)
	}
	assert.Contains(t, ids, "streak_3")
	assert.NotContains(t, ids, "streak_7")
}

func TestStreakSurvivesTodayNotDoneYet(t *testing.T) {
	db := newTestDB(t)
	user := newTestUser(t, db)
	s := newAchievementService(db)
	require.NoError(t, s.Seed())

	// Goal reached the previous three days but not yet today.
	for offset := -3; offset <= -1; offset++ {
		require.NoError(t, db.Create(&model.DailyStat{
			UserID: user.ID, Date: day(offset), StudyMinutes: 30, GoalReached: true,
		}).Error)
	}

	unlocked := s.CheckAchievements(user.ID)
	ids := make([]string, 0, len(unlocked))
	for _, a := range unlocked {
		ids = append(ids, a.ID)
	}
	assert.Contains(t, ids, "streak_3")
}

func TestStreakBrokenByMissingDay(t *testing.T) {
	db := newTestDB(t)
	user := newTestUser(t, db)
	s := newAchievementService(db)
	require.NoError(t, s.Seed())

	for _, offset := range []int{0, -1, -3} {
		require.NoError(t, db.Create(&model.DailyStat{
			UserID: user.ID, Date: day(offset), StudyMinutes: 30, GoalReached: true,
		}).Error)
	}

	for _, a := range s.CheckAchievements(user.ID) {
		assert.NotEqual(t, "streak_3", a.ID)
	}
}

func TestFirstSessionAfterTermination(t *testing.T) {
	db := newTestDB(t)
	user := newTestUser(t, db)
	s := newAchievementService(db)
	require.NoError(t, s.Seed())

	now := time.Now()
	session := &model.Session{UserID: user.ID, State: model.SessionCompleted, CompletedAt: &now}
	require.NoError(t, db.Create(session).Error)

	unlocked := s.CheckAchievements(user.ID)
	ids := make([]string, 0, len(unlocked))
	for _, a := range unlocked {
		ids = append(ids, a.ID)
	}
	assert.Contains(t, ids, "first_session")
}

func TestRefreshDailyStatsWritesTodayRow(t *testing.T) {
	db := newTestDB(t)
	user := newTestUser(t, db)
	s := newAchievementService(db)

	duration := 25
	now := time.Now()
	require.NoError(t, db.Create(&model.Session{
		UserID: user.ID, State: model.SessionCompleted,
		ActualDurationMin: &duration, CompletedAt: &now,
	}).Error)
	require.NoError(t, db.Create(&model.ExerciseHistory{
		UserID: user.ID, FocalNodeID: "algebra_1", Outcome: model.OutcomeFirstTry,
	}).Error)

	s.RefreshDailyStats(user.ID)

	stat, err := s.AchievementRepo.FindDailyStat(user.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 25, stat.StudyMinutes)
	assert.Equal(t, 1, stat.ExercisesDone)
	assert.Equal(t, 1, stat.ExercisesCorrect)
	assert.True(t, stat.GoalReached)
}
