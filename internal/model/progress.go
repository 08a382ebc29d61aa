package model

import (
	"time"
)

// MasteryLevel is the ordered per-user level of one concept node.
type MasteryLevel string

const (
	LevelNotStarted    MasteryLevel = "not_started"
	LevelInProgress    MasteryLevel = "in_progress"
	LevelOperational   MasteryLevel = "operational"
	LevelComprehensive MasteryLevel = "comprehensive"
	LevelConnected     MasteryLevel = "connected"
)

// LevelSatisfies reports whether a level counts as completed for
// prerequisite purposes (operational or above).
func LevelSatisfies(level MasteryLevel) bool {
	switch level {
	case LevelOperational, LevelComprehensive, LevelConnected:
		return true
	}
	return false
}

// ExerciseOutcome classifies one evaluated exercise answer.
type ExerciseOutcome string

const (
	OutcomeFirstTry ExerciseOutcome = "first_try"
	OutcomeGuided   ExerciseOutcome = "guided"
	OutcomeUnsolved ExerciseOutcome = "unsolved"
)

// UserNodeState tracks one user's mastery of one concept node.
// Created lazily on the first signal touching the node, never deleted.
type UserNodeState struct {
	UserID uint   `gorm:"primaryKey" json:"userId"`
	NodeID string `gorm:"primaryKey;type:varchar(100)" json:"nodeId"`

	Level    MasteryLevel `gorm:"type:varchar(20);default:'not_started';index:ix_user_node_states_level" json:"level"`
	Presumed bool         `gorm:"default:false" json:"presumed"`

	ExplanationGiven    bool    `gorm:"default:false" json:"explanationGiven"`
	ExercisesCompleted  int     `gorm:"default:0" json:"exercisesCompleted"`
	ConsecutiveFirstTry int     `gorm:"default:0" json:"consecutiveFirstTry"`
	ErrorsInProgress    int     `gorm:"default:0" json:"errorsInProgress"`
	SuspensionContext   JSONMap `gorm:"type:json" json:"suspensionContext"`

	// Spaced repetition placeholders (Loop 2, not active).
	SRNextReview   *time.Time `json:"srNextReview"`
	SRIntervalDays *float64   `json:"srIntervalDays"`
	SREase         float64    `gorm:"default:2.5" json:"srEase"`
	SRRepetitions  *int       `json:"srRepetitions"`

	// Multi-signal promotion placeholders (Loop 3, not active).
	FeynmanPassed *bool      `json:"feynmanPassed"`
	FeynmanAt     *time.Time `json:"feynmanAt"`

	LastInteraction *time.Time `json:"lastInteraction"`
}

func (UserNodeState) TableName() string {
	return "user_node_states"
}

// ExerciseHistory is an immutable record of one evaluated answer.
type ExerciseHistory struct {
	ID          uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      uint            `gorm:"not null;index:ix_exercise_history_user_node" json:"userId"`
	FocalNodeID string          `gorm:"type:varchar(100);not null;index:ix_exercise_history_user_node" json:"focalNodeId"`
	ExerciseID  string          `gorm:"type:varchar(100)" json:"exerciseId"`
	Outcome     ExerciseOutcome `gorm:"type:varchar(20);not null" json:"outcome"`

	CauseNodeID     string     `gorm:"type:varchar(100)" json:"causeNodeId"`
	NodesInvolved   StringList `gorm:"type:json" json:"nodesInvolved"`
	ErrorKind       string     `gorm:"size:100" json:"errorKind"`
	ResponseTimeSec *int       `json:"responseTimeSec"`
	SessionID       string     `gorm:"type:varchar(36)" json:"sessionId"`

	CreatedAt time.Time `json:"createdAt"`
}

func (ExerciseHistory) TableName() string {
	return "exercise_history"
}
