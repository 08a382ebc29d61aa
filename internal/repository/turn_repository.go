package repository

import (
	"tutor_backend/internal/model"

	"gorm.io/gorm"
)

type TurnRepository struct {
	DB *gorm.DB
}

func NewTurnRepository(db *gorm.DB) *TurnRepository {
	return &TurnRepository{DB: db}
}

// Create persists a turn with the next sequence number for its session.
// The unique index on (session_id, seq) turns a lost race into an error
// instead of a duplicate.
func (r *TurnRepository) Create(tx *gorm.DB, turn *model.ConversationTurn) error {
	var maxSeq *int
	err := tx.Model(&model.ConversationTurn{}).
		Where("session_id = ?", turn.SessionID).
		Select("MAX(seq)").
		Scan(&maxSeq).Error
	if err != nil {
		return err
	}
	turn.Seq = 1
	if maxSeq != nil {
		turn.Seq = *maxSeq + 1
	}
	return tx.Create(turn).Error
}

// ListBySession returns every turn of a session in sequence order.
func (r *TurnRepository) ListBySession(sessionID string) ([]model.ConversationTurn, error) {
	var turns []model.ConversationTurn
	err := r.DB.Where("session_id = ?", sessionID).
		Order("seq").
		Find(&turns).Error
	return turns, err
}

// CountByRole counts the turns one side of the conversation produced.
func (r *TurnRepository) CountByRole(sessionID string, role model.TurnRole) (int64, error) {
	var n int64
	err := r.DB.Model(&model.ConversationTurn{}).
		Where("session_id = ? AND role = ?", sessionID, role).
		Count(&n).Error
	return n, err
}

func (r *TurnRepository) CountBySession(sessionID string) (int64, error) {
	var n int64
	err := r.DB.Model(&model.ConversationTurn{}).
		Where("session_id = ?", sessionID).
		Count(&n).Error
	return n, err
}
