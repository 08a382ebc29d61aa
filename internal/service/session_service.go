package service

import (
	"context"
	"errors"
	"fmt"
	"time"
	"tutor_backend/internal/config"
	"tutor_backend/internal/graph"
	"tutor_backend/internal/model"
	"tutor_backend/internal/repository"
	"tutor_backend/internal/util"
	"tutor_backend/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SessionService owns the session state machine:
// active <-> suspended -> completed.
type SessionService struct {
	SessionRepo *repository.SessionRepository
	StateRepo   *repository.UserNodeStateRepository
	TurnRepo    *repository.TurnRepository
	UserRepo    *repository.UserRepository
	Graph       *graph.Service
	Redis       *redis.Client
	Config      config.SessionConfig
}

// StartResult reports how Start satisfied the request.
type StartResult struct {
	Session *model.Session
	Resumed bool
}

// Start opens a session for the user.
//
// An active session younger than the inactivity threshold is a
// *util.SessionConflictError; an older one is auto-suspended first.
// The most recent suspended session is resumed when one exists,
// otherwise a fresh session is created and a focal node picked.
// The check-then-act window is serialized with a per-user redis lock.
func (s *SessionService) Start(ctx context.Context, userID uint, sessionType string, plannedMin *int) (*StartResult, error) {
	lockKey := fmt.Sprintf("session:start:%d", userID)
	if s.Redis != nil {
		ok, err := s.Redis.SetNX(ctx, lockKey, "1", 10*time.Second).Result()
		if err == nil && !ok {
			active, ferr := s.SessionRepo.FindActiveByUser(userID)
			if ferr == nil && active != nil {
				return nil, &util.SessionConflictError{ActiveSessionID: active.ID}
			}
			return nil, errors.New("session start already in progress")
		}
		if err != nil {
			logger.Log.Warn("Session start lock unavailable, proceeding unguarded", zap.Error(err))
		} else {
			defer s.Redis.Del(ctx, lockKey)
		}
	}

	active, err := s.SessionRepo.FindActiveByUser(userID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		// Inactivity is measured from CreatedAt: LastSeen tracking per
		// session is not recorded yet, session age is the proxy.
		threshold := time.Duration(s.Config.InactivityMaxSec) * time.Second
		if time.Since(active.CreatedAt) < threshold {
			return nil, &util.SessionConflictError{ActiveSessionID: active.ID}
		}
		if _, err := s.suspend(active, "auto-suspended for inactivity"); err != nil {
			return nil, err
		}
		logger.Log.Info("Stale active session auto-suspended",
			zap.String("session_id", active.ID))
	}

	suspended, err := s.SessionRepo.FindMostRecentSuspended(userID)
	if err != nil {
		return nil, err
	}
	if suspended != nil {
		suspended.State = model.SessionActive
		suspended.Orchestrator.Resumed = true
		if err := s.SessionRepo.Save(suspended); err != nil {
			return nil, err
		}
		logger.Log.Info("Session resumed",
			zap.String("session_id", suspended.ID),
			zap.Uint("user_id", userID))
		return &StartResult{Session: suspended, Resumed: true}, nil
	}

	session := &model.Session{
		UserID:             userID,
		State:              model.SessionActive,
		Type:               sessionType,
		PlannedDurationMin: plannedMin,
		WorkedNodes:        model.StringList{},
	}

	focal, err := s.pickFocalNode(userID)
	if err != nil {
		return nil, err
	}
	session.Orchestrator.FocalNodeID = focal
	if focal != "" {
		session.Orchestrator.CurrentActivity = model.ActivityExplanation
	}
	if sessionType == model.SessionTypeOnboarding {
		session.Orchestrator.CurrentActivity = ""
	}

	if err := s.SessionRepo.Create(session); err != nil {
		return nil, err
	}
	logger.Log.Info("Session created",
		zap.String("session_id", session.ID),
		zap.Uint("user_id", userID),
		zap.String("focal_node", focal))
	return &StartResult{Session: session}, nil
}

// pickFocalNode chooses where to work: the in_progress node touched most
// recently, else the path planner's next node. "" means path complete.
func (s *SessionService) pickFocalNode(userID uint) (string, error) {
	inProgress, err := s.StateRepo.FindMostRecentInProgress(userID)
	if err == nil {
		return inProgress.NodeID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	g, err := s.Graph.Graph()
	if err != nil {
		return "", err
	}
	levels, err := s.StateRepo.LevelsByUser(userID)
	if err != nil {
		return "", err
	}
	return graph.PlanNextNode(g, levels, "")
}

// Suspend moves an active session to suspended, remembering what was
// going on so the resume directive can pick it back up.
func (s *SessionService) Suspend(sessionID string, userID uint) (*model.Session, error) {
	session, err := s.owned(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session.State != model.SessionActive {
		return nil, &util.InvalidStateError{
			SessionID: sessionID, From: string(session.State), Action: "suspend",
		}
	}
	return s.suspend(session, "suspended by the student")
}

func (s *SessionService) suspend(session *model.Session, detail string) (*model.Session, error) {
	duration := int(time.Since(session.CreatedAt).Minutes())
	session.State = model.SessionSuspended
	session.ActualDurationMin = &duration
	session.Orchestrator.ActivityAtSuspension = session.Orchestrator.CurrentActivity
	session.Orchestrator.SuspensionDetail = fmt.Sprintf(
		"%s after %d minutes.", detail, duration)
	if err := s.SessionRepo.Save(session); err != nil {
		return nil, err
	}
	return session, nil
}

// Terminate completes a session from active or suspended. Terminating a
// completed session is invalid; a close_session action racing with this
// endpoint resolves last-write-wins.
func (s *SessionService) Terminate(sessionID string, userID uint) (*model.Session, error) {
	session, err := s.owned(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session.State == model.SessionCompleted {
		return nil, &util.InvalidStateError{
			SessionID: sessionID, From: string(session.State), Action: "terminate",
		}
	}

	now := time.Now()
	duration := int(now.Sub(session.CreatedAt).Minutes())
	session.State = model.SessionCompleted
	session.ActualDurationMin = &duration
	session.CompletedAt = &now
	if err := s.SessionRepo.Save(session); err != nil {
		return nil, err
	}
	logger.Log.Info("Session terminated",
		zap.String("session_id", sessionID),
		zap.Int("duration_min", duration))
	return session, nil
}

// OnboardingResult reports what completing onboarding set up.
type OnboardingResult struct {
	StartingNode     string `json:"startingNode,omitempty"`
	InitializedNodes int    `json:"initializedNodes"`
}

// CompleteOnboarding finalizes an onboarding session: saves the profile
// collected during the conversation, closes the session, and initializes
// per-node state for the whole path. When the conversation suggested a
// starting point, every operational node before it in topological order
// is marked operational with presumed set, so planning starts from the
// suggested node instead of the beginning.
func (s *SessionService) CompleteOnboarding(sessionID string, userID uint, personalContext, tutorPrefs model.JSONMap) (*OnboardingResult, error) {
	session, err := s.owned(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session.Type != model.SessionTypeOnboarding {
		return nil, util.ErrSessionNotFound
	}

	if len(personalContext) > 0 || len(tutorPrefs) > 0 {
		user, uerr := s.UserRepo.FindByID(userID)
		if uerr != nil {
			return nil, uerr
		}
		if len(personalContext) > 0 {
			user.PersonalContext = personalContext
		}
		if len(tutorPrefs) > 0 {
			user.TutorPreferences = tutorPrefs
		}
		if uerr := s.UserRepo.Update(user); uerr != nil {
			return nil, uerr
		}
	}

	if session.State != model.SessionCompleted {
		now := time.Now()
		duration := int(now.Sub(session.CreatedAt).Minutes())
		session.State = model.SessionCompleted
		session.ActualDurationMin = &duration
		session.CompletedAt = &now
		if err := s.SessionRepo.Save(session); err != nil {
			return nil, err
		}
	}

	g, err := s.Graph.Graph()
	if err != nil {
		return nil, err
	}
	starting := ""
	if topic := session.Orchestrator.SuggestedStartingPoint; topic != "" {
		starting = graph.NodeForTopic(g, topic)
	}

	initialized, err := s.initNodeStates(g, userID, starting)
	if err != nil {
		return nil, err
	}

	logger.Log.Info("Onboarding completed",
		zap.String("session_id", sessionID),
		zap.Uint("user_id", userID),
		zap.String("starting_node", starting),
		zap.Int("initialized_nodes", initialized))
	return &OnboardingResult{StartingNode: starting, InitializedNodes: initialized}, nil
}

// initNodeStates creates a state row for every operational node. Nodes
// before startingNode in topological order are presumed operational;
// existing rows are never overwritten.
func (s *SessionService) initNodeStates(g *graph.Graph, userID uint, startingNode string) (int, error) {
	order, err := graph.TopologicalOrder(g)
	if err != nil {
		return 0, err
	}

	// Nodes strictly before the starting point; empty when the starting
	// node is unknown or not in the order.
	before := make(map[string]bool, len(order))
	for i, id := range order {
		if id == startingNode {
			for _, prior := range order[:i] {
				before[prior] = true
			}
			break
		}
	}

	for _, id := range order {
		state := &model.UserNodeState{
			UserID: userID,
			NodeID: id,
			Level:  model.LevelNotStarted,
		}
		if before[id] {
			state.Level = model.LevelOperational
			state.Presumed = true
		}
		if err := s.StateRepo.InitIfMissing(state); err != nil {
			return 0, err
		}
	}
	return len(order), nil
}

// Get returns a session after an ownership check.
func (s *SessionService) Get(sessionID string, userID uint) (*model.Session, error) {
	return s.owned(sessionID, userID)
}

func (s *SessionService) List(userID uint, page, limit int) ([]model.Session, int64, error) {
	return s.SessionRepo.ListByUser(userID, page, limit)
}

// Turns returns the conversation of an owned session in order.
func (s *SessionService) Turns(sessionID string, userID uint) ([]model.ConversationTurn, error) {
	if _, err := s.owned(sessionID, userID); err != nil {
		return nil, err
	}
	return s.TurnRepo.ListBySession(sessionID)
}

// ClearResumedFlag drops the resume marker after the first turn of a
// resumed session. Reloads the row so orchestrator state written by that
// turn is not overwritten.
func (s *SessionService) ClearResumedFlag(sessionID string) error {
	session, err := s.SessionRepo.FindByID(sessionID)
	if err != nil {
		return err
	}
	if !session.Orchestrator.Resumed {
		return nil
	}
	session.Orchestrator.Resumed = false
	return s.SessionRepo.Save(session)
}

func (s *SessionService) owned(sessionID string, userID uint) (*model.Session, error) {
	session, err := s.SessionRepo.FindByID(sessionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, util.ErrSessionNotFound
	}
	return session, nil
}
