package prompt

import (
	"encoding/json"
	"fmt"
	"strings"
)

func formatJSON(data interface{}) string {
	if data == nil {
		return "(not available)"
	}
	if s, ok := data.(string); ok {
		return s
	}
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "(not available)"
	}
	return string(b)
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = "- " + item
	}
	return strings.Join(lines, "\n")
}

// ExplanationInput feeds the directive for explaining a new concept.
type ExplanationInput struct {
	NodeName               string
	NodeID                 string
	CompletedPrerequisites []string
	SubjectLevel           string
	FormalDefinitions      interface{}
	Formulas               interface{}
	CommonErrors           interface{}
	CognitiveStyle         string
	PreferredExamples      string
	MinutesLeft            int
}

func ExplanationDirective(in ExplanationInput) string {
	prereq := "none"
	if len(in.CompletedPrerequisites) > 0 {
		prereq = strings.Join(in.CompletedPrerequisites, ", ")
	}
	style := in.CognitiveStyle
	if style == "" {
		style = "not specified"
	}
	examples := in.PreferredExamples
	if examples == "" {
		examples = "not specified"
	}

	lines := []string{
		"ACTIVITY: New concept explanation",
		fmt.Sprintf("NODE: %s (%s)", in.NodeName, in.NodeID),
		fmt.Sprintf("STUDENT STATE: Has completed prerequisites %s. Overall level: %s.", prereq, in.SubjectLevel),
		"",
		"FORMAL CONTENT:",
		formatJSON(in.FormalDefinitions),
		formatJSON(in.Formulas),
		"",
		"COMMON ERRORS TO PREVENT:",
		formatJSON(in.CommonErrors),
		"",
		fmt.Sprintf("STUDENT PREFERENCES: %s. Prefers examples from: %s.", style, examples),
		"",
		"INSTRUCTIONS:\n" +
			"- This is the FIRST turn: open with a concrete real-life example (2-3 sentences) and close with a question to engage the student.\n" +
			"- Do NOT explain everything at once. The Concrete -> Problem -> Formal flow spans SEVERAL turns.\n" +
			"- At most 4-5 lines this turn. The student must reply before you continue.\n" +
			"- At the end of the path (not now), propose an exercise.",
	}

	if in.MinutesLeft > 0 {
		lines = append(lines, fmt.Sprintf("\nTIME LEFT: %d minutes.", in.MinutesLeft))
	}
	return strings.Join(lines, "\n")
}

// ExerciseInput feeds the directive for an exercise in progress.
type ExerciseInput struct {
	NodeName             string
	ExerciseText         string
	Solution             map[string]interface{}
	ExpectedErrors       interface{}
	StudentAnswer        string
	AttemptNumber        int
	BacktrackAttempts    int
	ErrorHistory         []string
	WeakPrerequisite     string
}

func ExerciseDirective(in ExerciseInput) string {
	lines := []string{
		"ACTIVITY: Exercise",
		"FOCAL NODE: " + in.NodeName,
		"EXERCISE: " + in.ExerciseText,
		"",
	}

	if in.Solution != nil && in.Solution["final_answer"] != nil {
		lines = append(lines, fmt.Sprintf("CORRECT SOLUTION (CAS-verified): %v", in.Solution["final_answer"]))
		if steps, ok := in.Solution["steps"]; ok && steps != nil {
			lines = append(lines, "STEPS: "+formatJSON(steps))
		}
	} else {
		lines = append(lines,
			"PRE-COMPUTED SOLUTION: not available.",
			"Solve the exercise yourself and grade the student's answer.",
			"If unsure, say so and verify it together step by step.",
		)
	}

	answer := in.StudentAnswer
	if answer == "" {
		answer = "(pending)"
	}

	lines = append(lines,
		"",
		"EXPECTED COMMON ERRORS: "+formatJSON(in.ExpectedErrors),
		"",
		"STATE:",
		"- Student answer: "+answer,
		fmt.Sprintf("- Attempt: %d", in.AttemptNumber),
		fmt.Sprintf("- Previous guided attempts: %d", in.BacktrackAttempts),
		"",
		"STUDENT ERROR HISTORY ON THIS NODE: "+formatList(in.ErrorHistory),
		"",
		"INSTRUCTIONS:",
		"- If correct: confirm, celebrate briefly, emit an exercise_answered signal with outcome=first_try",
		"- On the first mistake: do NOT give the answer. Ask a question at the breaking point.",
		"- On the 2nd-3rd guided attempt: more explicit hints",
	)

	if in.WeakPrerequisite != "" {
		lines = append(lines, "- After 3 attempts: explain the error, propose a backtrack to "+in.WeakPrerequisite)
	} else {
		lines = append(lines, "- After 3 attempts: explain the error, propose a step back if appropriate")
	}
	lines = append(lines, "- ALWAYS close with a success or a takeaway")

	return strings.Join(lines, "\n")
}

// Onboarding phases.
const (
	OnboardingWelcome    = "welcome"
	OnboardingDiscovery  = "discovery"
	OnboardingConclusion = "conclusion"
)

func OnboardingDirective(phase, infoCollected string) string {
	if infoCollected == "" {
		infoCollected = "(none)"
	}
	switch phase {
	case OnboardingWelcome:
		return "ACTIVITY: Onboarding - Welcome\n" +
			"PHASE: welcome\n\n" +
			"ABSOLUTE CONSTRAINT, READ CAREFULLY:\n" +
			"You MUST call the onboarding_question tool EVERY turn.\n" +
			"NEVER write questions in the text. Questions go ONLY in the tool. " +
			"Text is for short comments (max 2 sentences).\n" +
			"A turn without the tool call counts as FAILED.\n\n" +
			"MANDATORY TURN FORMAT:\n" +
			"1. Text: 1-2 SHORT introduction sentences (NO questions, NO lists, NO elaborate formatting)\n" +
			"2. Tool call: onboarding_question with ONE question\n\n" +
			"INPUT KIND RULE:\n" +
			"- ALWAYS prefer single_choice. Add 'Other' as the last option when a free answer might fit.\n" +
			"- Use scale only to measure confidence/level numerically.\n" +
			"- Use free_text ONLY when nothing else works (e.g. 'What is your name?').\n\n" +
			"CHECKLIST (things to discover):\n" +
			"- Who they are: student, worker, adult returning to study?\n" +
			"- Subject: mathematics, physics, chemistry (or several)\n" +
			"- Current level: where are they? last topic?\n" +
			"- Confidence: how do they feel about the subject?\n" +
			"- Urgency: exam coming up? curiosity? a goal?\n" +
			"- Style: theory first, straight to exercises, or a mix?\n" +
			"- Starting point: where do they want to begin?\n\n" +
			"Target: 5-8 turns. If one answer covers several points, skip ahead.\n\n" +
			"NOW: Introduce yourself briefly (2 sentences), then call onboarding_question " +
			"with input_kind='single_choice', question='How would you describe yourself?', " +
			"options=['I am a student', 'I want to learn on my own', 'I am picking it up after a long time']."
	case OnboardingDiscovery:
		return "ACTIVITY: Onboarding - Discovery\n" +
			"PHASE: discovery\n\n" +
			"INFO COLLECTED SO FAR: " + infoCollected + "\n\n" +
			"ABSOLUTE CONSTRAINT:\n" +
			"You MUST call the onboarding_question tool this turn.\n" +
			"Do not write questions in the text. Only in the tool.\n\n" +
			"MANDATORY TURN FORMAT:\n" +
			"1. Text: comment on the answer (1-2 SHORT sentences, genuine interest, NO lists, NO elaborate formatting)\n" +
			"2. Tool call: onboarding_question with the next question\n\n" +
			"INPUT KIND RULE:\n" +
			"- ALWAYS prefer single_choice. Add 'Other' as the last option when free answers are useful.\n" +
			"- Use scale only to measure confidence/level (1-5).\n" +
			"- Use free_text ONLY as a last resort.\n\n" +
			"CHECKLIST (discover what you do not know yet):\n" +
			"- Who they are: student, worker, adult returning to study?\n" +
			"- Subject: mathematics, physics, chemistry?\n" +
			"- Current level: last topic studied/understood?\n" +
			"- Confidence: how do they feel (use a 1-5 scale)\n" +
			"- Urgency/goal: exam, competition, curiosity, catch-up?\n" +
			"- Style: theory-then-practice, straight-to-exercises, mix?\n" +
			"- Starting point: where do they want to begin?\n\n" +
			"RULES:\n" +
			"- ONE question per turn, NEVER more\n" +
			"- If an answer covers several points, skip the covered questions\n" +
			"- Adapt the language: to a student 'what are you doing in class?', " +
			"to an adult 'what is the last thing you remember well?'"
	case OnboardingConclusion:
		return "ACTIVITY: Onboarding - Conclusion\n" +
			"PHASE: conclusion\n\n" +
			"INFO COLLECTED: " + infoCollected + "\n\n" +
			"INSTRUCTIONS:\n" +
			"1. Briefly recap (2-3 lines) what you understood about them\n" +
			"2. Tell them the path starts from the first concept and moves at their pace\n" +
			"3. Do NOT use onboarding_question, this is the conclusion\n" +
			"4. Close with enthusiasm, without overdoing it"
	}
	return fmt.Sprintf("ACTIVITY: Onboarding\nPHASE: %s\n(unrecognized phase)", phase)
}

// ResumeDirective greets a student returning to a suspended session.
func ResumeDirective(nodeName, previousActivity, detail string) string {
	return "ACTIVITY: Session resume\n" +
		"NODE: " + nodeName + "\n" +
		"PREVIOUS ACTIVITY: " + previousActivity + "\n" +
		"CONTEXT: The student had suspended the session. " + detail + "\n\n" +
		"INSTRUCTIONS: Welcome them back briefly (\"Welcome back! We were working on...\"). " +
		"Pick up where you left off without repeating explanations already given. " +
		"If the activity was an exercise, repropose the same exercise."
}

// PromotionDirective celebrates a node just promoted to operational.
func PromotionDirective(promotedName, nextName string) string {
	next := "The path is complete, celebrate accordingly."
	if nextName != "" {
		next = "The next node is " + nextName + "."
	}
	return "NOTE: The student just reached operational level on " + promotedName + ". " +
		"Celebrate briefly before moving on. " + next
}
