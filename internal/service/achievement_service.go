package service

import (
	"time"
	"tutor_backend/internal/model"
	"tutor_backend/internal/repository"
	"tutor_backend/internal/util"
	"tutor_backend/pkg/logger"

	"go.uber.org/zap"
)

// Streak lookback cap. Nobody loses a 90-day streak to a table scan.
const streakLookbackDays = 90

// AchievementService evaluates unlock conditions and keeps the daily
// stats rows fresh. Everything here is best-effort: callers fire it at
// turn or session boundaries and must never fail because of it.
type AchievementService struct {
	AchievementRepo *repository.AchievementRepository
	StateRepo       *repository.UserNodeStateRepository
	HistoryRepo     *repository.ExerciseHistoryRepository
	SessionRepo     *repository.SessionRepository
	UserRepo        *repository.UserRepository
}

// Seed writes the built-in achievement definitions, updating name, kind
// and condition on existing ids so redeploys pick up wording changes.
func (s *AchievementService) Seed() error {
	return s.AchievementRepo.SeedDefinitions(model.AchievementSeed)
}

// CheckAchievements evaluates every locked definition for the user and
// unlocks those whose condition is now met, returning the new unlocks.
// Errors are logged and swallowed.
func (s *AchievementService) CheckAchievements(userID uint) []model.Achievement {
	defs, err := s.AchievementRepo.FindAllDefinitions()
	if err != nil {
		logger.Log.Warn("Achievement check skipped", zap.Error(err))
		return nil
	}
	unlocked, err := s.AchievementRepo.UnlockedIDs(userID)
	if err != nil {
		logger.Log.Warn("Achievement check skipped", zap.Error(err))
		return nil
	}

	metrics := &metricCache{svc: s, userID: userID}
	var newOnes []model.Achievement
	for _, def := range defs {
		if unlocked[def.ID] {
			continue
		}
		met, err := s.conditionMet(def, metrics)
		if err != nil {
			logger.Log.Warn("Achievement condition failed",
				zap.String("achievement", def.ID), zap.Error(err))
			continue
		}
		if !met {
			continue
		}
		if err := s.AchievementRepo.Unlock(userID, def.ID); err != nil {
			logger.Log.Warn("Achievement unlock failed",
				zap.String("achievement", def.ID), zap.Error(err))
			continue
		}
		logger.Log.Info("Achievement unlocked",
			zap.Uint("user_id", userID),
			zap.String("achievement", def.ID))
		newOnes = append(newOnes, def)
	}
	return newOnes
}

func (s *AchievementService) conditionMet(def model.Achievement, m *metricCache) (bool, error) {
	kind, _ := def.Condition["kind"].(string)
	value := intFromJSON(def.Condition["value"])
	if value <= 0 {
		return false, nil
	}

	switch kind {
	case model.CondNodesCompleted:
		n, err := m.nodesCompleted()
		return n >= value, err
	case model.CondExercisesSolved:
		n, err := m.exercisesSolved()
		return n >= value, err
	case model.CondStreak:
		n, err := m.streak()
		return n >= value, err
	case model.CondThemesCompleted:
		n, err := m.themesCompleted()
		return n >= value, err
	case model.CondConsecutiveFirstTry:
		n, err := m.maxConsecutiveFirstTry()
		return n >= value, err
	case model.CondSessionsCompleted:
		n, err := m.sessionsCompleted()
		return n >= value, err
	default:
		logger.Log.Warn("Unknown achievement condition",
			zap.String("achievement", def.ID),
			zap.String("kind", kind))
		return false, nil
	}
}

// RefreshDailyStats recomputes today's row for the user from session
// and exercise data. Logged and swallowed on failure.
func (s *AchievementService) RefreshDailyStats(userID uint) {
	now := time.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	minutes, err := s.AchievementRepo.SumSessionMinutes(userID, dayStart, dayEnd)
	if err != nil {
		logger.Log.Warn("Daily stats refresh failed", zap.Error(err))
		return
	}
	total, correct, err := s.HistoryRepo.CountInWindow(userID, dayStart, dayEnd)
	if err != nil {
		logger.Log.Warn("Daily stats refresh failed", zap.Error(err))
		return
	}
	nodes, err := s.StateRepo.CountOperationalSince(userID, dayStart, dayEnd)
	if err != nil {
		logger.Log.Warn("Daily stats refresh failed", zap.Error(err))
		return
	}
	sessions, err := s.SessionRepo.CountCompletedInWindow(userID, dayStart, dayEnd)
	if err != nil {
		logger.Log.Warn("Daily stats refresh failed", zap.Error(err))
		return
	}

	goalMinutes := 20
	if user, uerr := s.UserRepo.FindByID(userID); uerr == nil && user.DailyGoalMinutes > 0 {
		goalMinutes = user.DailyGoalMinutes
	}

	stat := &model.DailyStat{
		UserID:            userID,
		Date:              dayStart,
		StudyMinutes:      minutes,
		ExercisesDone:     int(total),
		ExercisesCorrect:  int(correct),
		NodesCompleted:    int(nodes),
		SessionsCompleted: int(sessions),
		GoalReached:       minutes >= goalMinutes,
	}
	if err := s.AchievementRepo.SaveDailyStat(stat); err != nil {
		logger.Log.Warn("Daily stats refresh failed", zap.Error(err))
	}
}

// ListUnlocked returns the user's unlocks with definitions preloaded,
// newest first.
func (s *AchievementService) ListUnlocked(userID uint) ([]model.UserAchievement, error) {
	return s.AchievementRepo.ListByUser(userID)
}

// metricCache computes each achievement metric at most once per check
// pass, since several definitions share a metric with different values.
type metricCache struct {
	svc    *AchievementService
	userID uint

	nodes    *int
	solved   *int
	days     *int
	themes   *int
	firstTry *int
	sessions *int
}

func (m *metricCache) nodesCompleted() (int, error) {
	if m.nodes != nil {
		return *m.nodes, nil
	}
	n, err := m.svc.StateRepo.CountOperational(m.userID)
	if err != nil {
		return 0, err
	}
	v := int(n)
	m.nodes = &v
	return v, nil
}

func (m *metricCache) exercisesSolved() (int, error) {
	if m.solved != nil {
		return *m.solved, nil
	}
	n, err := m.svc.HistoryRepo.CountSolved(m.userID)
	if err != nil {
		return 0, err
	}
	v := int(n)
	m.solved = &v
	return v, nil
}

// streak counts consecutive days with the goal reached, walking the
// daily stats newest-first. The chain may start today or yesterday;
// a missing row counts as goal not reached.
func (m *metricCache) streak() (int, error) {
	if m.days != nil {
		return *m.days, nil
	}
	stats, err := m.svc.AchievementRepo.RecentDailyStats(m.userID, streakLookbackDays)
	if err != nil {
		return 0, err
	}

	byDay := make(map[string]bool, len(stats))
	for _, st := range stats {
		byDay[st.Date.Format(util.DateFormat)] = st.GoalReached
	}

	now := time.Now()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if !byDay[day.Format(util.DateFormat)] {
		// Today not done yet: an unbroken run through yesterday still counts.
		day = day.AddDate(0, 0, -1)
	}

	count := 0
	for i := 0; i < streakLookbackDays; i++ {
		if !byDay[day.Format(util.DateFormat)] {
			break
		}
		count++
		day = day.AddDate(0, 0, -1)
	}
	m.days = &count
	return count, nil
}

func (m *metricCache) themesCompleted() (int, error) {
	if m.themes != nil {
		return *m.themes, nil
	}
	n, err := m.svc.AchievementRepo.CompletedThemeCount(m.userID)
	if err != nil {
		return 0, err
	}
	m.themes = &n
	return n, nil
}

func (m *metricCache) maxConsecutiveFirstTry() (int, error) {
	if m.firstTry != nil {
		return *m.firstTry, nil
	}
	n, err := m.svc.StateRepo.MaxConsecutiveFirstTry(m.userID)
	if err != nil {
		return 0, err
	}
	m.firstTry = &n
	return n, nil
}

func (m *metricCache) sessionsCompleted() (int, error) {
	if m.sessions != nil {
		return *m.sessions, nil
	}
	n, err := m.svc.SessionRepo.CountCompleted(m.userID)
	if err != nil {
		return 0, err
	}
	v := int(n)
	m.sessions = &v
	return v, nil
}

func intFromJSON(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
