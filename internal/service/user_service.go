package service

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"path/filepath"
	"tutor_backend/internal/model"
	"tutor_backend/internal/repository"
	"tutor_backend/internal/util"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProfileUpdate carries the self-editable profile fields. Pointers
// distinguish "not sent" from "clear".
type ProfileUpdate struct {
	Name             *string           `json:"name"`
	Language         *string           `json:"language"`
	DailyGoalMinutes *int              `json:"dailyGoalMinutes"`
	TutorPreferences *model.JSONMap    `json:"tutorPreferences"`
	PersonalContext  *model.JSONMap    `json:"personalContext"`
	ActiveSubjects   *model.StringList `json:"activeSubjects"`
}

type UserService struct {
	UserRepo *repository.UserRepository
	Storage  StorageProvider
}

func NewUserService(userRepo *repository.UserRepository, storage StorageProvider) *UserService {
	return &UserService{
		UserRepo: userRepo,
		Storage:  storage,
	}
}

func (s *UserService) GetProfile(userID uint) (*model.User, error) {
	user, err := s.UserRepo.FindByID(userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrUserNotFound
	}
	return user, err
}

func (s *UserService) UpdateProfile(userID uint, update ProfileUpdate) (*model.User, error) {
	user, err := s.GetProfile(userID)
	if err != nil {
		return nil, err
	}

	if update.Name != nil {
		user.Name = *update.Name
	}
	if update.Language != nil {
		user.Language = *update.Language
	}
	if update.DailyGoalMinutes != nil && *update.DailyGoalMinutes > 0 {
		user.DailyGoalMinutes = *update.DailyGoalMinutes
	}
	if update.TutorPreferences != nil {
		user.TutorPreferences = *update.TutorPreferences
	}
	if update.PersonalContext != nil {
		user.PersonalContext = *update.PersonalContext
	}
	if update.ActiveSubjects != nil {
		user.ActiveSubjects = *update.ActiveSubjects
	}

	if err := s.UserRepo.Update(user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *UserService) UploadAvatar(ctx context.Context, userID uint, file *multipart.FileHeader) (string, error) {
	user, err := s.GetProfile(userID)
	if err != nil {
		return "", err
	}

	src, err := file.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	filename := fmt.Sprintf("avatars/%d/%s%s", userID, uuid.NewString(), filepath.Ext(file.Filename))
	url, err := s.Storage.Upload(ctx, filename, src, file.Size, file.Header.Get("Content-Type"))
	if err != nil {
		return "", err
	}

	user.Avatar = url
	if err := s.UserRepo.Update(user); err != nil {
		return "", err
	}
	return url, nil
}

