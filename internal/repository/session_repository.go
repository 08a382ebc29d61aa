package repository

import (
	"errors"
	"time"
	"tutor_backend/internal/model"

	"gorm.io/gorm"
)

type SessionRepository struct {
	DB *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{DB: db}
}

func (r *SessionRepository) Create(session *model.Session) error {
	return r.DB.Create(session).Error
}

func (r *SessionRepository) FindByID(id string) (*model.Session, error) {
	var session model.Session
	err := r.DB.First(&session, "id = ?", id).Error
	return &session, err
}

// FindActiveByUser returns the user's active session, or nil when there
// is none.
func (r *SessionRepository) FindActiveByUser(userID uint) (*model.Session, error) {
	var session model.Session
	err := r.DB.Where("user_id = ? AND state = ?", userID, model.SessionActive).
		Order("created_at DESC").
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// FindMostRecentSuspended returns the most recently created suspended
// session, or nil. Creation order decides which session a resume picks,
// not which was last touched.
func (r *SessionRepository) FindMostRecentSuspended(userID uint) (*model.Session, error) {
	var session model.Session
	err := r.DB.Where("user_id = ? AND state = ?", userID, model.SessionSuspended).
		Order("created_at DESC").
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *SessionRepository) Save(session *model.Session) error {
	return r.DB.Save(session).Error
}

func (r *SessionRepository) SaveTx(tx *gorm.DB, session *model.Session) error {
	return tx.Save(session).Error
}

func (r *SessionRepository) ListByUser(userID uint, page, limit int) ([]model.Session, int64, error) {
	var sessions []model.Session
	var total int64

	q := r.DB.Model(&model.Session{}).Where("user_id = ?", userID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := q.Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&sessions).Error
	return sessions, total, err
}

func (r *SessionRepository) CountCompleted(userID uint) (int64, error) {
	var n int64
	err := r.DB.Model(&model.Session{}).
		Where("user_id = ? AND state = ?", userID, model.SessionCompleted).
		Count(&n).Error
	return n, err
}

func (r *SessionRepository) CountCompletedInWindow(userID uint, from, to time.Time) (int64, error) {
	var n int64
	err := r.DB.Model(&model.Session{}).
		Where("user_id = ? AND state = ? AND completed_at >= ? AND completed_at < ?",
			userID, model.SessionCompleted, from, to).
		Count(&n).Error
	return n, err
}
