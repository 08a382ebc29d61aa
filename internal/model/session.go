package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// SessionState is the lifecycle state: active <-> suspended -> completed.
type SessionState string

const (
	SessionActive    SessionState = "active"
	SessionSuspended SessionState = "suspended"
	SessionCompleted SessionState = "completed"
)

// SessionTypeOnboarding marks the initial profiling conversation. Its
// turns run through the onboarding directive instead of node work.
const SessionTypeOnboarding = "onboarding"

// Activity kinds tracked in the orchestrator state.
const (
	ActivityExplanation = "explanation"
	ActivityExercise    = "exercise"
	ActivityFeynman     = "feynman"
	ActivitySRReview    = "sr_review"
)

// PromotionNote is stored after a promotion so the next directive can
// acknowledge the student's progress, then consumed.
type PromotionNote struct {
	NodeID   string `json:"nodeId"`
	NodeName string `json:"nodeName"`
}

// OrchestratorState is the per-session scratch state of the turn
// orchestrator, persisted as one JSON blob.
type OrchestratorState struct {
	FocalNodeID     string `json:"focalNodeId,omitempty"`
	CurrentActivity string `json:"currentActivity,omitempty"`

	Resumed              bool   `json:"resumed,omitempty"`
	ActivityAtSuspension string `json:"activityAtSuspension,omitempty"`
	SuspensionDetail     string `json:"suspensionDetail,omitempty"`

	CurrentExerciseID       string  `json:"currentExerciseId,omitempty"`
	CurrentExerciseText     string  `json:"currentExerciseText,omitempty"`
	CurrentExerciseSolution JSONMap `json:"currentExerciseSolution,omitempty"`
	AttemptNumber           int     `json:"attemptNumber,omitempty"`
	BacktrackAttempts       int     `json:"backtrackAttempts,omitempty"`

	OnboardingTurns int `json:"onboardingTurns,omitempty"`

	NextStep                JSONMap        `json:"nextStep,omitempty"`
	SuggestedStartingPoint  string         `json:"suggestedStartingPoint,omitempty"`
	SuggestedStartingReason string         `json:"suggestedStartingReason,omitempty"`
	PromotionJustHappened   *PromotionNote `json:"promotionJustHappened,omitempty"`
}

func (s OrchestratorState) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *OrchestratorState) Scan(value interface{}) error {
	if value == nil {
		*s = OrchestratorState{}
		return nil
	}
	b, err := jsonBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, s)
}

// Session is one tutoring session. At most one active session per user
// at any time, enforced at start time.
type Session struct {
	UUIDBase
	UserID uint         `gorm:"not null;index:ix_sessions_user_state" json:"userId"`
	State  SessionState `gorm:"type:varchar(20);default:'active';index:ix_sessions_user_state" json:"state"`
	Type   string       `gorm:"size:20;default:'medium'" json:"type"`

	PlannedDurationMin *int `json:"plannedDurationMin"`
	ActualDurationMin  *int `json:"actualDurationMin"`

	Orchestrator OrchestratorState `gorm:"type:json" json:"orchestrator"`
	WorkedNodes  StringList        `gorm:"type:json" json:"workedNodes"`
	Summary      string            `gorm:"type:text" json:"summary"`

	CompletedAt *time.Time `json:"completedAt"`
}

func (Session) TableName() string {
	return "sessions"
}

// TurnRole distinguishes who produced a conversation turn.
type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
)

// ConversationTurn is one exchange in a session. Content holds visible
// text only; actions and signals live in separate JSON columns and are
// never replayed into model-visible history.
type ConversationTurn struct {
	ID        uint     `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string   `gorm:"type:varchar(36);not null;uniqueIndex:ux_turns_session_seq" json:"sessionId"`
	Seq       int      `gorm:"not null;uniqueIndex:ux_turns_session_seq" json:"seq"`
	Role      TurnRole `gorm:"type:varchar(20);not null" json:"role"`
	Content   string   `gorm:"type:text" json:"content"`

	Actions JSONList `gorm:"type:json" json:"actions"`
	Signals JSONList `gorm:"type:json" json:"signals"`

	FocalNodeID string  `gorm:"type:varchar(100)" json:"focalNodeId"`
	Model       string  `gorm:"size:100" json:"model"`
	TokensIn    int     `json:"tokensIn"`
	TokensOut   int     `json:"tokensOut"`
	CostUSD     float64 `json:"costUsd"`

	CreatedAt time.Time `json:"createdAt"`
}

func (ConversationTurn) TableName() string {
	return "conversation_turns"
}
