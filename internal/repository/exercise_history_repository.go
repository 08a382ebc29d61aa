package repository

import (
	"time"
	"tutor_backend/internal/model"

	"gorm.io/gorm"
)

// ExerciseHistoryRepository appends and reads the immutable exercise
// history. Rows are never updated or deleted.
type ExerciseHistoryRepository struct {
	DB *gorm.DB
}

func NewExerciseHistoryRepository(db *gorm.DB) *ExerciseHistoryRepository {
	return &ExerciseHistoryRepository{DB: db}
}

func (r *ExerciseHistoryRepository) Append(tx *gorm.DB, record *model.ExerciseHistory) error {
	return tx.Create(record).Error
}

func (r *ExerciseHistoryRepository) FindByUserAndNode(userID uint, nodeID string, limit int) ([]model.ExerciseHistory, error) {
	var records []model.ExerciseHistory
	q := r.DB.Where("user_id = ? AND focal_node_id = ?", userID, nodeID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&records).Error
	return records, err
}

// HasFirstTry reports whether the user ever solved an exercise on the
// node unaided. Part of the promotion rule.
func (r *ExerciseHistoryRepository) HasFirstTry(tx *gorm.DB, userID uint, nodeID string) (bool, error) {
	var n int64
	err := tx.Model(&model.ExerciseHistory{}).
		Where("user_id = ? AND focal_node_id = ? AND outcome = ?", userID, nodeID, model.OutcomeFirstTry).
		Count(&n).Error
	return n > 0, err
}

// RecentErrorKinds returns the most recent non-empty error labels for a
// node, newest first, for the exercise directive.
func (r *ExerciseHistoryRepository) RecentErrorKinds(userID uint, nodeID string, limit int) ([]string, error) {
	var records []model.ExerciseHistory
	err := r.DB.Where("user_id = ? AND focal_node_id = ? AND error_kind <> ''", userID, nodeID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	kinds := make([]string, 0, len(records))
	for _, rec := range records {
		kinds = append(kinds, rec.ErrorKind)
	}
	return kinds, nil
}

func (r *ExerciseHistoryRepository) CountSolved(userID uint) (int64, error) {
	var n int64
	err := r.DB.Model(&model.ExerciseHistory{}).
		Where("user_id = ? AND outcome IN ?", userID,
			[]model.ExerciseOutcome{model.OutcomeFirstTry, model.OutcomeGuided}).
		Count(&n).Error
	return n, err
}

func (r *ExerciseHistoryRepository) CountInWindow(userID uint, from, to time.Time) (total, correct int64, err error) {
	err = r.DB.Model(&model.ExerciseHistory{}).
		Where("user_id = ? AND created_at >= ? AND created_at < ?", userID, from, to).
		Count(&total).Error
	if err != nil {
		return 0, 0, err
	}
	err = r.DB.Model(&model.ExerciseHistory{}).
		Where("user_id = ? AND created_at >= ? AND created_at < ? AND outcome IN ?",
			userID, from, to,
			[]model.ExerciseOutcome{model.OutcomeFirstTry, model.OutcomeGuided}).
		Count(&correct).Error
	return total, correct, err
}

// ProposedExerciseIDs lists the exercises already attempted on a node,
// used to avoid reproposing them in the same session.
func (r *ExerciseHistoryRepository) ProposedExerciseIDs(tx *gorm.DB, userID uint, nodeID string) ([]string, error) {
	var ids []string
	err := tx.Model(&model.ExerciseHistory{}).
		Where("user_id = ? AND focal_node_id = ? AND exercise_id <> ''", userID, nodeID).
		Distinct("exercise_id").
		Pluck("exercise_id", &ids).Error
	return ids, err
}
