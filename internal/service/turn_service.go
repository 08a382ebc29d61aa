package service

import (
	"context"
	"fmt"
	"sync"
	"tutor_backend/internal/llm"
	"tutor_backend/internal/model"
	"tutor_backend/internal/prompt"
	"tutor_backend/internal/repository"
	"tutor_backend/internal/util"
	"tutor_backend/pkg/logger"
	"tutor_backend/pkg/monitoring"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Rough per-million-token prices used for the cost column. Good enough
// for dashboards, not for billing.
const (
	costPerMTokIn  = 3.0
	costPerMTokOut = 15.0
)

// Discovery turns before onboarding moves to its conclusion.
const onboardingDiscoveryMaxTurns = 8

// TurnEvent is one SSE event of a turn stream.
type TurnEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Event names emitted during a turn.
const (
	TurnEventTextDelta    = "text_delta"
	TurnEventAction       = "action"
	TurnEventAchievement  = "achievement"
	TurnEventTurnComplete = "turn_complete"
	TurnEventError        = "error"
)

// ModelStreamer is the single-call streaming surface of the llm client.
type ModelStreamer interface {
	StreamCompletion(ctx context.Context, system string, messages []llm.Message, model string) <-chan llm.StreamEvent
}

// TurnService runs one conversation turn in three phases: persist the
// user turn and assemble context, make exactly one streaming model call,
// then commit everything the stream produced in a single transaction.
type TurnService struct {
	DB           *gorm.DB
	Context      *ContextService
	Processing   *ProcessingService
	Model        ModelStreamer
	TurnRepo     *repository.TurnRepository
	SessionRepo  *repository.SessionRepository
	Achievements *AchievementService

	// One in-flight turn per session.
	inFlight sync.Map
}

// ExecuteTurn streams the events of one turn over the returned channel.
// The channel closes after the terminal event: turn_complete on success,
// error otherwise. A session with a turn already in flight gets an
// immediate error event. A failed stream leaves no assistant turn and no
// mastery changes behind; the persisted user turn survives so nothing
// the student wrote is lost.
func (s *TurnService) ExecuteTurn(ctx context.Context, sessionID string, userID uint, userMessage string) <-chan TurnEvent {
	out := make(chan TurnEvent)

	if _, busy := s.inFlight.LoadOrStore(sessionID, struct{}{}); busy {
		go func() {
			defer close(out)
			s.fail(out, "start turn", util.ErrTurnInFlight)
		}()
		return out
	}

	go func() {
		defer close(out)
		defer s.inFlight.Delete(sessionID)

		session, err := s.SessionRepo.FindByID(sessionID)
		if err != nil {
			s.fail(out, "load session", err)
			return
		}

		// Onboarding phases advance at the start of the turn so the
		// directive built below already reflects the new phase.
		if session.Type == model.SessionTypeOnboarding {
			if err := s.advanceOnboardingPhase(session); err != nil {
				s.fail(out, "advance onboarding phase", err)
				return
			}
		}

		// Phase 1: durable user turn, then context.
		if userMessage != "" {
			userTurn := &model.ConversationTurn{
				SessionID: sessionID,
				Role:      model.RoleUser,
				Content:   userMessage,
			}
			err := s.DB.Transaction(func(tx *gorm.DB) error {
				return s.TurnRepo.Create(tx, userTurn)
			})
			if err != nil {
				s.fail(out, "persist user turn", err)
				return
			}
		}

		pkg, err := s.Context.Assemble(sessionID, userID)
		if err != nil {
			s.fail(out, "assemble context", err)
			return
		}

		// The directive above already acknowledged any pending promotion
		// note; consume it so the next turn does not repeat it. A promotion
		// during this turn sets a fresh note before the commit below.
		session.Orchestrator.PromotionJustHappened = nil

		// Phase 2: one model call. Actions run inline and stream to the
		// frontend; signals wait for the transaction.
		var (
			fullText string
			actions  []llm.ToolCall
			signals  []llm.ToolCall
			usage    *llm.Usage
			stopped  bool
		)

		for ev := range s.Model.StreamCompletion(ctx, pkg.System, pkg.Messages, pkg.Model) {
			switch ev.Type {
			case llm.EventTextDelta:
				out <- TurnEvent{Event: TurnEventTextDelta, Data: ev.Text}

			case llm.EventToolUse:
				call := *ev.Tool
				switch call.Category {
				case llm.CategoryAction:
					actions = append(actions, call)
					payload, aerr := s.Processing.ExecuteAction(s.DB, session, userID, call)
					if aerr != nil {
						logger.Log.Error("Action execution failed",
							zap.String("action", call.Name), zap.Error(aerr))
						continue
					}
					out <- TurnEvent{Event: TurnEventAction, Data: payload}
				case llm.CategorySignal:
					signals = append(signals, call)
				default:
					logger.Log.Info("Unknown tool ignored",
						zap.String("tool", call.Name))
				}

			case llm.EventStop:
				fullText = ev.FullText
				usage = ev.Usage
				stopped = true

			case llm.EventError:
				monitoring.StreamErrorCounter.Inc()
				s.fail(out, "model stream", &util.ModelStreamError{Err: ev.Err})
				return
			}
		}

		if !stopped {
			monitoring.StreamErrorCounter.Inc()
			s.fail(out, "model stream",
				&util.ModelStreamError{Err: fmt.Errorf("stream closed without completing")})
			return
		}

		// Phase 3: one transaction for the assistant turn, the signals
		// and the session state they produce.
		assistantTurn := &model.ConversationTurn{
			SessionID:   sessionID,
			Role:        model.RoleAssistant,
			Content:     fullText,
			Actions:     toolCallList(actions),
			Signals:     toolCallList(signals),
			FocalNodeID: session.Orchestrator.FocalNodeID,
			Model:       pkg.Model,
		}
		if usage != nil {
			assistantTurn.TokensIn = usage.PromptTokens
			assistantTurn.TokensOut = usage.CompletionTokens
			assistantTurn.CostUSD = float64(usage.PromptTokens)/1e6*costPerMTokIn +
				float64(usage.CompletionTokens)/1e6*costPerMTokOut
		}

		err = s.DB.Transaction(func(tx *gorm.DB) error {
			if terr := s.TurnRepo.Create(tx, assistantTurn); terr != nil {
				return terr
			}

			promotions, perr := s.Processing.ProcessSignals(tx, session, userID, signals)
			if perr != nil {
				return perr
			}
			for _, promo := range promotions {
				if _, aerr := s.Processing.ApplyPromotion(tx, session, userID, promo.NodeID); aerr != nil {
					return aerr
				}
			}

			// Persists any directive-consumed promotion note and the
			// activity changes the signals made.
			return s.SessionRepo.SaveTx(tx, session)
		})
		if err != nil {
			s.fail(out, "commit turn", err)
			return
		}

		monitoring.TurnCounter.WithLabelValues("ok").Inc()
		if usage != nil {
			monitoring.TurnTokens.WithLabelValues("in").Add(float64(usage.PromptTokens))
			monitoring.TurnTokens.WithLabelValues("out").Add(float64(usage.CompletionTokens))
			monitoring.TurnCost.Add(assistantTurn.CostUSD)
		}

		// Gamification is best-effort: a failure here never fails a turn.
		s.Achievements.RefreshDailyStats(userID)
		for _, unlocked := range s.Achievements.CheckAchievements(userID) {
			out <- TurnEvent{Event: TurnEventAchievement, Data: unlocked}
		}

		logger.Log.Info("Turn completed",
			zap.String("session_id", sessionID),
			zap.Uint("turn_id", assistantTurn.ID),
			zap.String("focal_node", session.Orchestrator.FocalNodeID),
			zap.Int("actions", len(actions)),
			zap.Int("signals", len(signals)))

		out <- TurnEvent{Event: TurnEventTurnComplete, Data: map[string]interface{}{
			"turn_id":    assistantTurn.ID,
			"focal_node": session.Orchestrator.FocalNodeID,
		}}
	}()

	return out
}

// advanceOnboardingPhase moves an onboarding session through
// welcome -> discovery -> conclusion. Discovery starts once the student
// has replied at least once; conclusion after enough discovery turns.
// The phase is persisted immediately so the directive and any later
// turn see it even when this turn's stream fails.
func (s *TurnService) advanceOnboardingPhase(session *model.Session) error {
	switch session.Orchestrator.CurrentActivity {
	case "", prompt.OnboardingWelcome:
		replies, err := s.TurnRepo.CountByRole(session.ID, model.RoleUser)
		if err != nil {
			return err
		}
		if replies < 1 {
			return nil
		}
		session.Orchestrator.CurrentActivity = prompt.OnboardingDiscovery
		session.Orchestrator.OnboardingTurns = 0

	case prompt.OnboardingDiscovery:
		session.Orchestrator.OnboardingTurns++
		if session.Orchestrator.OnboardingTurns >= onboardingDiscoveryMaxTurns {
			session.Orchestrator.CurrentActivity = prompt.OnboardingConclusion
		}

	default:
		return nil
	}
	return s.SessionRepo.Save(session)
}

func (s *TurnService) fail(out chan<- TurnEvent, stage string, err error) {
	monitoring.TurnCounter.WithLabelValues("error").Inc()
	logger.Log.Error("Turn failed",
		zap.String("stage", stage),
		zap.Error(err))
	out <- TurnEvent{Event: TurnEventError, Data: map[string]interface{}{
		"stage":   stage,
		"message": err.Error(),
	}}
}

func toolCallList(calls []llm.ToolCall) model.JSONList {
	if len(calls) == 0 {
		return nil
	}
	list := make(model.JSONList, 0, len(calls))
	for _, c := range calls {
		list = append(list, map[string]interface{}{
			"id":    c.ID,
			"name":  c.Name,
			"input": c.Input,
		})
	}
	return list
}
