package repository

import (
	"time"
	"tutor_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AchievementRepository struct {
	DB *gorm.DB
}

func NewAchievementRepository(db *gorm.DB) *AchievementRepository {
	return &AchievementRepository{DB: db}
}

// SeedDefinitions upserts the static achievement definitions. Idempotent,
// run at startup.
func (r *AchievementRepository) SeedDefinitions(defs []model.Achievement) error {
	if len(defs) == 0 {
		return nil
	}
	return r.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "kind", "condition"}),
	}).Create(&defs).Error
}

func (r *AchievementRepository) FindAllDefinitions() ([]model.Achievement, error) {
	var defs []model.Achievement
	err := r.DB.Find(&defs).Error
	return defs, err
}

// UnlockedIDs returns the achievement ids the user already holds.
func (r *AchievementRepository) UnlockedIDs(userID uint) (map[string]bool, error) {
	var ids []string
	err := r.DB.Model(&model.UserAchievement{}).
		Where("user_id = ?", userID).
		Pluck("achievement_id", &ids).Error
	if err != nil {
		return nil, err
	}
	unlocked := make(map[string]bool, len(ids))
	for _, id := range ids {
		unlocked[id] = true
	}
	return unlocked, nil
}

func (r *AchievementRepository) Unlock(userID uint, achievementID string) error {
	return r.DB.Create(&model.UserAchievement{
		UserID:        userID,
		AchievementID: achievementID,
		UnlockedAt:    time.Now(),
	}).Error
}

func (r *AchievementRepository) ListByUser(userID uint) ([]model.UserAchievement, error) {
	var unlocked []model.UserAchievement
	err := r.DB.Preload("Achievement").
		Where("user_id = ?", userID).
		Order("unlocked_at DESC").
		Find(&unlocked).Error
	return unlocked, err
}

// Daily stats live here too: they feed the streak condition.

func (r *AchievementRepository) FindDailyStat(userID uint, day time.Time) (*model.DailyStat, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	var stat model.DailyStat
	err := r.DB.Where("user_id = ? AND date >= ? AND date < ?", userID, start, start.Add(24*time.Hour)).
		First(&stat).Error
	return &stat, err
}

func (r *AchievementRepository) SaveDailyStat(stat *model.DailyStat) error {
	return r.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "date"}},
		UpdateAll: true,
	}).Create(stat).Error
}

// RecentDailyStats returns up to limit rows, newest first.
func (r *AchievementRepository) RecentDailyStats(userID uint, limit int) ([]model.DailyStat, error) {
	var stats []model.DailyStat
	err := r.DB.Where("user_id = ?", userID).
		Order("date DESC").
		Limit(limit).
		Find(&stats).Error
	return stats, err
}

// SumSessionMinutes totals session duration for sessions created in the
// window, for the daily study-minutes stat.
func (r *AchievementRepository) SumSessionMinutes(userID uint, from, to time.Time) (int, error) {
	var minutes *int
	err := r.DB.Model(&model.Session{}).
		Where("user_id = ? AND created_at >= ? AND created_at < ?", userID, from, to).
		Select("SUM(actual_duration_min)").
		Scan(&minutes).Error
	if err != nil || minutes == nil {
		return 0, err
	}
	return *minutes, nil
}

// CompletedThemeCount counts themes where every operational node is at
// least operational for the user.
func (r *AchievementRepository) CompletedThemeCount(userID uint) (int, error) {
	type themeRow struct {
		ThemeID string
		Total   int64
	}

	var totals []themeRow
	err := r.DB.Model(&model.NodeTheme{}).
		Select("node_themes.theme_id as theme_id, COUNT(*) as total").
		Joins("JOIN concept_nodes ON concept_nodes.id = node_themes.node_id").
		Where("concept_nodes.kind <> ?", model.NodeContext).
		Group("node_themes.theme_id").
		Scan(&totals).Error
	if err != nil {
		return 0, err
	}
	if len(totals) == 0 {
		return 0, nil
	}

	var done []themeRow
	err = r.DB.Model(&model.NodeTheme{}).
		Select("node_themes.theme_id as theme_id, COUNT(*) as total").
		Joins("JOIN concept_nodes ON concept_nodes.id = node_themes.node_id").
		Joins("JOIN user_node_states ON user_node_states.node_id = concept_nodes.id AND user_node_states.user_id = ? AND user_node_states.level IN ?",
			userID, []model.MasteryLevel{model.LevelOperational, model.LevelComprehensive, model.LevelConnected}).
		Where("concept_nodes.kind <> ?", model.NodeContext).
		Group("node_themes.theme_id").
		Scan(&done).Error
	if err != nil {
		return 0, err
	}
	doneByTheme := make(map[string]int64, len(done))
	for _, row := range done {
		doneByTheme[row.ThemeID] = row.Total
	}

	completed := 0
	for _, row := range totals {
		if doneByTheme[row.ThemeID] >= row.Total {
			completed++
		}
	}
	return completed, nil
}
