package model

import (
	"time"
)

// AchievementKind groups achievements for display.
type AchievementKind string

const (
	AchievementSeal          AchievementKind = "seal"
	AchievementMedal         AchievementKind = "medal"
	AchievementConstellation AchievementKind = "constellation"
)

// Achievement condition kinds, matched against user metrics after a turn.
const (
	CondNodesCompleted      = "nodes_completed"
	CondExercisesSolved     = "exercises_solved"
	CondStreak              = "streak"
	CondThemesCompleted     = "themes_completed"
	CondConsecutiveFirstTry = "consecutive_first_try"
	CondSessionsCompleted   = "sessions_completed"
)

// Achievement is a static achievement definition, seeded at startup.
type Achievement struct {
	ID        string          `gorm:"primaryKey;type:varchar(50)" json:"id"`
	Name      string          `gorm:"type:varchar(100);not null" json:"name"`
	Kind      AchievementKind `gorm:"type:varchar(20);not null" json:"kind"`
	Condition JSONMap         `gorm:"type:json" json:"condition"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// UserAchievement records one unlocked achievement for one user.
type UserAchievement struct {
	BaseModel
	UserID        uint      `gorm:"not null;uniqueIndex:ux_user_achievement" json:"userId"`
	AchievementID string    `gorm:"type:varchar(50);not null;uniqueIndex:ux_user_achievement" json:"achievementId"`
	UnlockedAt    time.Time `json:"unlockedAt"`

	Achievement Achievement `gorm:"foreignKey:AchievementID" json:"achievement,omitempty"`
}

// DailyStat aggregates one user's activity for one calendar day.
// A missing row counts as goal not reached when computing streaks.
type DailyStat struct {
	BaseModel
	UserID uint      `gorm:"not null;uniqueIndex:ux_daily_stats_user_date" json:"userId"`
	Date   time.Time `gorm:"type:date;not null;uniqueIndex:ux_daily_stats_user_date" json:"date"`

	StudyMinutes      int  `gorm:"default:0" json:"studyMinutes"`
	ExercisesDone     int  `gorm:"default:0" json:"exercisesDone"`
	ExercisesCorrect  int  `gorm:"default:0" json:"exercisesCorrect"`
	NodesCompleted    int  `gorm:"default:0" json:"nodesCompleted"`
	SessionsCompleted int  `gorm:"default:0" json:"sessionsCompleted"`
	GoalReached       bool `gorm:"default:false" json:"goalReached"`
}

// AchievementSeed holds the initial achievement definitions, upserted
// idempotently on startup.
var AchievementSeed = []Achievement{
	{ID: "first_node", Name: "First step!", Kind: AchievementSeal,
		Condition: JSONMap{"kind": CondNodesCompleted, "value": 1}},
	{ID: "five_nodes", Name: "Five for five", Kind: AchievementSeal,
		Condition: JSONMap{"kind": CondNodesCompleted, "value": 5}},
	{ID: "ten_exercises", Name: "Steady practice", Kind: AchievementSeal,
		Condition: JSONMap{"kind": CondExercisesSolved, "value": 10}},
	{ID: "streak_3", Name: "Three days!", Kind: AchievementMedal,
		Condition: JSONMap{"kind": CondStreak, "value": 3}},
	{ID: "streak_7", Name: "A whole week!", Kind: AchievementMedal,
		Condition: JSONMap{"kind": CondStreak, "value": 7}},
	{ID: "first_theme", Name: "Theme complete", Kind: AchievementConstellation,
		Condition: JSONMap{"kind": CondThemesCompleted, "value": 1}},
	{ID: "perfect_5", Name: "Five in a row!", Kind: AchievementMedal,
		Condition: JSONMap{"kind": CondConsecutiveFirstTry, "value": 5}},
	{ID: "first_session", Name: "Here we go!", Kind: AchievementSeal,
		Condition: JSONMap{"kind": CondSessionsCompleted, "value": 1}},
}
