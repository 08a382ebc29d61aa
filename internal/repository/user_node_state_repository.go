package repository

import (
	"time"
	"tutor_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserNodeStateRepository struct {
	DB *gorm.DB
}

func NewUserNodeStateRepository(db *gorm.DB) *UserNodeStateRepository {
	return &UserNodeStateRepository{DB: db}
}

func (r *UserNodeStateRepository) Find(userID uint, nodeID string) (*model.UserNodeState, error) {
	var state model.UserNodeState
	err := r.DB.Where("user_id = ? AND node_id = ?", userID, nodeID).First(&state).Error
	return &state, err
}

func (r *UserNodeStateRepository) FindAllByUser(userID uint) ([]model.UserNodeState, error) {
	var states []model.UserNodeState
	err := r.DB.Where("user_id = ?", userID).Find(&states).Error
	return states, err
}

// LevelsByUser returns node id -> mastery level for graph algorithm
// input. Nodes without a row are simply absent (not_started).
func (r *UserNodeStateRepository) LevelsByUser(userID uint) (map[string]model.MasteryLevel, error) {
	states, err := r.FindAllByUser(userID)
	if err != nil {
		return nil, err
	}
	levels := make(map[string]model.MasteryLevel, len(states))
	for _, s := range states {
		levels[s.NodeID] = s.Level
	}
	return levels, nil
}

// FindMostRecentInProgress returns the in_progress node the user touched
// last, or gorm.ErrRecordNotFound.
func (r *UserNodeStateRepository) FindMostRecentInProgress(userID uint) (*model.UserNodeState, error) {
	var state model.UserNodeState
	err := r.DB.Where("user_id = ? AND level = ?", userID, model.LevelInProgress).
		Order("last_interaction DESC").
		First(&state).Error
	return &state, err
}

// Upsert writes the full state row, creating it on first touch.
func (r *UserNodeStateRepository) Upsert(tx *gorm.DB, state *model.UserNodeState) error {
	now := time.Now()
	state.LastInteraction = &now
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "node_id"}},
		UpdateAll: true,
	}).Create(state).Error
}

// InitIfMissing inserts the row only when the user has no state for the
// node yet, leaving recorded progress untouched.
func (r *UserNodeStateRepository) InitIfMissing(state *model.UserNodeState) error {
	now := time.Now()
	state.LastInteraction = &now
	return r.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "node_id"}},
		DoNothing: true,
	}).Create(state).Error
}

func (r *UserNodeStateRepository) CountOperational(userID uint) (int64, error) {
	var n int64
	err := r.DB.Model(&model.UserNodeState{}).
		Where("user_id = ? AND level = ? AND presumed = ?", userID, model.LevelOperational, false).
		Count(&n).Error
	return n, err
}

func (r *UserNodeStateRepository) MaxConsecutiveFirstTry(userID uint) (int, error) {
	var max *int
	err := r.DB.Model(&model.UserNodeState{}).
		Where("user_id = ?", userID).
		Select("MAX(consecutive_first_try)").
		Scan(&max).Error
	if err != nil || max == nil {
		return 0, err
	}
	return *max, nil
}

// CountOperationalSince counts nodes the user completed (non presumed)
// whose last interaction falls in [from, to).
func (r *UserNodeStateRepository) CountOperationalSince(userID uint, from, to time.Time) (int64, error) {
	var n int64
	err := r.DB.Model(&model.UserNodeState{}).
		Where("user_id = ? AND level = ? AND presumed = ? AND last_interaction >= ? AND last_interaction < ?",
			userID, model.LevelOperational, false, from, to).
		Count(&n).Error
	return n, err
}
