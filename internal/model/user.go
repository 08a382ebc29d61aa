package model

import (
	"time"
)

type UserRole string

const (
	Student UserRole = "student"
	Admin   UserRole = "admin"
)

type User struct {
	BaseModel
	Name     string   `gorm:"size:100;not null" json:"name"`
	Email    string   `gorm:"size:100;unique;not null" json:"email"`
	Password string   `gorm:"size:100;not null" json:"-"`
	Role     UserRole `gorm:"type:varchar(20);default:'student'" json:"role"`
	Avatar   string   `gorm:"size:255" json:"avatar"`
	Language string   `gorm:"size:10;default:'en'" json:"language"`
	Disabled bool     `gorm:"default:false" json:"disabled"`

	// Profile blocks consumed by the context assembler.
	TutorPreferences    JSONMap `gorm:"type:json" json:"tutorPreferences"`
	PersonalContext     JSONMap `gorm:"type:json" json:"personalContext"`
	SynthesizedProfile  JSONMap `gorm:"type:json" json:"synthesizedProfile"`
	DailyGoalMinutes    int     `gorm:"default:20" json:"dailyGoalMinutes"`
	ActiveSubjects      StringList `gorm:"type:json" json:"activeSubjects"`

	LastLogin time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"lastLogin"`
	LastSeen  time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"lastSeen"`
}

func (User) TableName() string {
	return "users"
}
