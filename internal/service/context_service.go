package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"tutor_backend/internal/config"
	"tutor_backend/internal/graph"
	"tutor_backend/internal/llm"
	"tutor_backend/internal/model"
	"tutor_backend/internal/prompt"
	"tutor_backend/internal/repository"
	"tutor_backend/internal/util"
	"tutor_backend/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// History truncation thresholds.
const (
	historyThreshold = 50
	historyHead      = 2
	historyTail      = 20
)

// ContextPackage is everything one model call needs.
type ContextPackage struct {
	System   string
	Messages []llm.Message
	Model    string
}

// ContextService assembles the model context for a turn: system prompt
// blocks plus the text-only conversation history.
type ContextService struct {
	UserRepo    *repository.UserRepository
	SessionRepo *repository.SessionRepository
	NodeRepo    *repository.NodeRepository
	StateRepo   *repository.UserNodeStateRepository
	HistoryRepo *repository.ExerciseHistoryRepository
	TurnRepo    *repository.TurnRepository
	Graph       *graph.Service
	LLMConfig   config.LLMConfig
}

// Assemble builds the full context package for a session turn. A missing
// user or session is a *util.ContextError: the turn aborts before any
// model call.
func (s *ContextService) Assemble(sessionID string, userID uint) (*ContextPackage, error) {
	user, err := s.UserRepo.FindByID(userID)
	if err != nil {
		return nil, &util.ContextError{Stage: "load user", Err: err}
	}

	session, err := s.SessionRepo.FindByID(sessionID)
	if err != nil {
		return nil, &util.ContextError{Stage: "load session", Err: err}
	}

	state := session.Orchestrator
	var node *model.ConceptNode
	var exercises []model.Exercise
	var errorHistory []model.ExerciseHistory
	supportStates := map[string]model.UserNodeState{}
	var prereqIDs []string

	if state.FocalNodeID != "" {
		node, err = s.NodeRepo.FindNodeByID(state.FocalNodeID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			node = nil
		} else if err != nil {
			return nil, &util.ContextError{Stage: "load focal node", Err: err}
		}
	}

	if node != nil {
		exercises, err = s.NodeRepo.FindExercises(node.ID, 0, 0, nil)
		if err != nil {
			return nil, &util.ContextError{Stage: "load exercises", Err: err}
		}
		errorHistory, err = s.HistoryRepo.FindByUserAndNode(userID, node.ID, 10)
		if err != nil {
			return nil, &util.ContextError{Stage: "load error history", Err: err}
		}

		prereqIDs = s.blockingPrerequisites(node.ID)
		for _, id := range prereqIDs {
			st, err := s.StateRepo.Find(userID, id)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			if err != nil {
				return nil, &util.ContextError{Stage: "load support states", Err: err}
			}
			supportStates[id] = *st
		}
	}

	directive := s.buildDirective(session, user, node, errorHistory, supportStates)

	blocks := []string{
		"<system_prompt>\n" + prompt.SystemPrompt + "\n</system_prompt>",
		"<directive>\n" + directive + "\n</directive>",
		profileBlock(user),
	}
	if node != nil {
		blocks = append(blocks, activeContextBlock(node, exercises, errorHistory, supportStates))
	}
	// Relevant-memory retrieval is a later loop; the block stays so the
	// prompt shape does not change when it lands.
	blocks = append(blocks, "<relevant_memory>\n</relevant_memory>")

	turns, err := s.TurnRepo.ListBySession(sessionID)
	if err != nil {
		return nil, &util.ContextError{Stage: "load conversation", Err: err}
	}
	messages := TruncateHistory(historyMessages(turns))
	if len(messages) == 0 {
		messages = []llm.Message{{Role: "user", Content: "[Begin the conversation]"}}
	}

	pkg := &ContextPackage{
		System:   strings.Join(blocks, "\n\n"),
		Messages: messages,
		Model:    s.LLMConfig.Model,
	}

	logger.Log.Info("Context package assembled",
		zap.String("session_id", sessionID),
		zap.String("focal_node", state.FocalNodeID),
		zap.Int("messages", len(messages)),
		zap.Int("system_chars", len(pkg.System)))
	return pkg, nil
}

// blockingPrerequisites reads direct blocking predecessors from the
// loaded graph. An unloaded graph degrades to no support nodes.
func (s *ContextService) blockingPrerequisites(nodeID string) []string {
	g, err := s.Graph.Graph()
	if err != nil {
		return nil
	}
	var ids []string
	for _, e := range g.InEdges(nodeID) {
		if e.Dependency == model.DepBlocking {
			ids = append(ids, e.From)
		}
	}
	return ids
}

func (s *ContextService) buildDirective(
	session *model.Session,
	user *model.User,
	node *model.ConceptNode,
	errorHistory []model.ExerciseHistory,
	supportStates map[string]model.UserNodeState,
) string {
	state := session.Orchestrator

	// Promotion note is consumed here: acknowledged once, then cleared
	// by the caller persisting the session.
	promotion := state.PromotionJustHappened
	if promotion != nil {
		session.Orchestrator.PromotionJustHappened = nil
	}

	if session.Type == model.SessionTypeOnboarding {
		phase := state.CurrentActivity
		if phase == "" {
			phase = prompt.OnboardingWelcome
		}
		info := ""
		if user.SynthesizedProfile != nil {
			if b, err := json.Marshal(user.SynthesizedProfile); err == nil {
				info = string(b)
			}
		}
		return prompt.OnboardingDirective(phase, info)
	}

	if state.Resumed {
		nodeName := "(unknown)"
		if node != nil {
			nodeName = node.Name
		}
		activity := state.ActivityAtSuspension
		if activity == "" {
			activity = "studying"
		}
		return prompt.ResumeDirective(nodeName, activity, state.SuspensionDetail)
	}

	if node == nil {
		return "ACTIVITY: Waiting\nINSTRUCTIONS: The system is determining the next node."
	}

	if state.CurrentActivity == model.ActivityExercise {
		history := make([]string, 0, len(errorHistory))
		for _, h := range errorHistory {
			kind := h.ErrorKind
			if kind == "" {
				kind = "?"
			}
			history = append(history, fmt.Sprintf("%s (%s)", h.Outcome, kind))
		}
		return prompt.ExerciseDirective(prompt.ExerciseInput{
			NodeName:          node.Name,
			ExerciseText:      state.CurrentExerciseText,
			Solution:          state.CurrentExerciseSolution,
			ExpectedErrors:    node.CommonErrors,
			AttemptNumber:     state.AttemptNumber,
			BacktrackAttempts: state.BacktrackAttempts,
			ErrorHistory:      history,
		})
	}

	var completedPrereqs []string
	for id, st := range supportStates {
		if model.LevelSatisfies(st.Level) {
			completedPrereqs = append(completedPrereqs, id)
		}
	}

	minutesLeft := 0
	if session.PlannedDurationMin != nil {
		elapsed := int(time.Since(session.CreatedAt).Minutes())
		if left := *session.PlannedDurationMin - elapsed; left > 0 {
			minutesLeft = left
		}
	}

	style, _ := user.TutorPreferences["cognitive_style"].(string)
	examples, _ := user.TutorPreferences["preferred_examples"].(string)

	directive := prompt.ExplanationDirective(prompt.ExplanationInput{
		NodeName:               node.Name,
		NodeID:                 node.ID,
		CompletedPrerequisites: completedPrereqs,
		SubjectLevel:           "to be determined",
		FormalDefinitions:      node.FormalDefinitions,
		Formulas:               node.Formulas,
		CommonErrors:           node.CommonErrors,
		CognitiveStyle:         style,
		PreferredExamples:      examples,
		MinutesLeft:            minutesLeft,
	})

	if promotion != nil {
		directive = prompt.PromotionDirective(promotion.NodeName, node.Name) + "\n\n" + directive
	}
	return directive
}

// TruncateHistory caps long conversations: above the threshold only the
// first 2 and last 20 messages survive, bridged by a synthetic marker so
// the model knows turns were dropped.
func TruncateHistory(messages []llm.Message) []llm.Message {
	if len(messages) <= historyThreshold {
		return messages
	}

	omitted := len(messages) - historyHead - historyTail
	bridge := llm.Message{
		Role: "user",
		Content: fmt.Sprintf(
			"[System note: %d turns omitted for brevity. The conversation continued normally.]",
			omitted),
	}

	out := make([]llm.Message, 0, historyHead+1+historyTail)
	out = append(out, messages[:historyHead]...)
	out = append(out, bridge)
	out = append(out, messages[len(messages)-historyTail:]...)
	return out
}

// historyMessages maps stored turns to model messages: visible text
// only, actions and signals never replayed.
func historyMessages(turns []model.ConversationTurn) []llm.Message {
	messages := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		if t.Content == "" {
			continue
		}
		role := "assistant"
		if t.Role == model.RoleUser {
			role = "user"
		}
		messages = append(messages, llm.Message{Role: role, Content: t.Content})
	}
	return messages
}

func profileBlock(user *model.User) string {
	var parts []string
	if len(user.TutorPreferences) > 0 {
		if b, err := json.Marshal(user.TutorPreferences); err == nil {
			parts = append(parts, "Tutor preferences: "+string(b))
		}
	}
	if len(user.PersonalContext) > 0 {
		if b, err := json.Marshal(user.PersonalContext); err == nil {
			parts = append(parts, "Personal context: "+string(b))
		}
	}
	if len(user.SynthesizedProfile) > 0 {
		if b, err := json.Marshal(user.SynthesizedProfile); err == nil {
			parts = append(parts, "Synthesized profile: "+string(b))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "(no profile information available)")
	}
	return "<user_profile>\n" + strings.Join(parts, "\n") + "\n</user_profile>"
}

func activeContextBlock(
	node *model.ConceptNode,
	exercises []model.Exercise,
	errorHistory []model.ExerciseHistory,
	supportStates map[string]model.UserNodeState,
) string {
	parts := []string{
		"ID: " + node.ID,
		"Name: " + node.Name,
	}
	if len(node.FormalDefinitions) > 0 {
		if b, err := json.Marshal(node.FormalDefinitions); err == nil {
			parts = append(parts, "Formal definitions: "+string(b))
		}
	}
	if len(node.Formulas) > 0 {
		if b, err := json.Marshal(node.Formulas); err == nil {
			parts = append(parts, "Formulas and properties: "+string(b))
		}
	}
	if len(node.CommonErrors) > 0 {
		if b, err := json.Marshal(node.CommonErrors); err == nil {
			parts = append(parts, "Common errors: "+string(b))
		}
	}
	if len(node.Examples) > 0 {
		if b, err := json.Marshal(node.Examples); err == nil {
			parts = append(parts, "Examples: "+string(b))
		}
	}

	if len(exercises) > 0 {
		lines := make([]string, 0, len(exercises))
		for _, ex := range exercises {
			text := ex.Text
			// Rune-based so the cut never splits a multi-byte character.
			if runes := []rune(text); len(runes) > 200 {
				text = string(runes[:200])
			}
			lines = append(lines, fmt.Sprintf("  - [%s] (diff=%d) %s", ex.ID, ex.Difficulty, text))
		}
		parts = append(parts, "Available exercises:\n"+strings.Join(lines, "\n"))
	}

	if len(errorHistory) > 0 {
		entries := make([]map[string]string, 0, len(errorHistory))
		for _, h := range errorHistory {
			entries = append(entries, map[string]string{
				"outcome":    string(h.Outcome),
				"error_kind": h.ErrorKind,
				"date":       h.CreatedAt.Format(util.TimeFormat),
			})
		}
		if b, err := json.Marshal(entries); err == nil {
			parts = append(parts, "User error history: "+string(b))
		}
	}

	support := "(no prerequisites)"
	if len(supportStates) > 0 {
		ids := make([]string, 0, len(supportStates))
		for id := range supportStates {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		lines := make([]string, 0, len(ids))
		for _, id := range ids {
			st := supportStates[id]
			lines = append(lines, fmt.Sprintf("  - %s: level=%s, exercises=%d, recent_errors=%d",
				id, st.Level, st.ExercisesCompleted, st.ErrorsInProgress))
		}
		support = strings.Join(lines, "\n")
	}

	return "<active_context>\n" +
		"  <focal_node>\n" + strings.Join(parts, "\n") + "\n  </focal_node>\n" +
		"  <support_nodes>\n" + support + "\n  </support_nodes>\n" +
		"</active_context>"
}
