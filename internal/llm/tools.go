package llm

// Tool calls split into two categories: actions are visible to the
// student and forwarded over SSE, signals are internal and buffered for
// post-processing after the stream ends.

type ToolCategory string

const (
	CategoryAction  ToolCategory = "action"
	CategorySignal  ToolCategory = "signal"
	CategoryUnknown ToolCategory = "unknown"
)

// ToolDef is one tool definition in OpenAI function-call format.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

var actionDefs = []ToolDef{
	{
		Name: "propose_exercise",
		Description: "Propose an exercise to the student from the exercise bank. " +
			"The backend selects it by node and difficulty. " +
			"NEVER invent exercises, always use this action.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"node_id": map[string]interface{}{
					"type":        "string",
					"description": "Focal node id the exercise should target.",
				},
				"difficulty": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"base", "intermediate", "advanced"},
					"description": "Desired difficulty band.",
				},
				"avoid_ids": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Exercise ids already proposed, to skip.",
				},
			},
			"required": []string{"node_id"},
		},
	},
	{
		Name:        "show_formula",
		Description: "Show a mathematical formula to the student (LaTeX rendering in the frontend).",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"latex": map[string]interface{}{
					"type":        "string",
					"description": "LaTeX expression to display.",
				},
				"label": map[string]interface{}{
					"type":        "string",
					"description": "Optional label for the formula.",
				},
			},
			"required": []string{"latex"},
		},
	},
	{
		Name:        "suggest_backtrack",
		Description: "Suggest the student go back and review a prerequisite concept.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"node_id": map[string]interface{}{
					"type":        "string",
					"description": "Node to go back to.",
				},
				"reason": map[string]interface{}{
					"type":        "string",
					"description": "Why the student should revisit this concept.",
				},
			},
			"required": []string{"node_id", "reason"},
		},
	},
	{
		Name:        "close_session",
		Description: "Close the current study session.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"summary": map[string]interface{}{
					"type":        "string",
					"description": "Summary of what was done in the session.",
				},
				"next_steps": map[string]interface{}{
					"type":        "string",
					"description": "Suggestions for the next session.",
				},
			},
			"required": []string{"summary"},
		},
	},
	{
		Name: "onboarding_question",
		Description: "ONBOARDING ONLY. Present a question to the student with a " +
			"specific UI format. Use this action for EVERY onboarding question. " +
			"Descriptive text goes in the message, the structured question goes here.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"input_kind": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"single_choice", "free_text", "scale"},
					"description": "UI kind: single_choice (clickable cards), free_text (open field), scale (numeric with labels).",
				},
				"question": map[string]interface{}{
					"type":        "string",
					"description": "Question text to display.",
				},
				"options": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Options for single_choice (2-5).",
				},
				"placeholder": map[string]interface{}{
					"type":        "string",
					"description": "Placeholder for free_text.",
				},
				"scale_min": map[string]interface{}{"type": "integer"},
				"scale_max": map[string]interface{}{"type": "integer"},
				"scale_labels": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Labels for the two ends [min_label, max_label].",
				},
			},
			"required": []string{"input_kind", "question"},
		},
	},
	{
		Name:        "show_visualization",
		Description: "[NOT YET ACTIVE] Show an interactive visualization (plot, cartesian plane, ...).",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"kind": map[string]interface{}{
					"type": "string",
					"enum": []string{"function_plotter", "cartesian_plane", "bar_chart", "venn_diagram"},
				},
				"params":       map[string]interface{}{"type": "object"},
				"instructions": map[string]interface{}{"type": "string"},
			},
			"required": []string{"kind"},
		},
	},
	{
		Name:        "start_feynman",
		Description: "[NOT YET ACTIVE] Start a Feynman check: the student explains the concept as if teaching it.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"node_id": map[string]interface{}{"type": "string"},
				"key_points": map[string]interface{}{
					"type":  "array",
					"items": map[string]interface{}{"type": "string"},
				},
			},
			"required": []string{"node_id", "key_points"},
		},
	},
	{
		Name:        "show_connection",
		Description: "[NOT YET ACTIVE] Show a connection between two concepts.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"node_a": map[string]interface{}{"type": "string"},
				"node_b": map[string]interface{}{"type": "string"},
				"connection_kind": map[string]interface{}{
					"type": "string",
					"enum": []string{"application", "evolution", "analogy", "foundation"},
				},
				"explanation": map[string]interface{}{"type": "string"},
			},
			"required": []string{"node_a", "node_b"},
		},
	},
	{
		Name:        "show_path",
		Description: "[NOT YET ACTIVE] Show a map of the learning path.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"nodes": map[string]interface{}{
					"type":  "array",
					"items": map[string]interface{}{"type": "string"},
				},
				"goal":          map[string]interface{}{"type": "string"},
				"time_estimate": map[string]interface{}{"type": "string"},
			},
			"required": []string{"nodes", "goal"},
		},
	},
}

var signalDefs = []ToolDef{
	{
		Name: "concept_explained",
		Description: "INTERNAL SIGNAL (invisible to the student). Emit when you have " +
			"finished explaining a concept. The system updates the node state.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"node_id": map[string]interface{}{
					"type":        "string",
					"description": "Node that was explained.",
				},
				"points_covered": map[string]interface{}{
					"type":  "array",
					"items": map[string]interface{}{"type": "string"},
				},
				"detail_level": map[string]interface{}{
					"type": "string",
					"enum": []string{"introductory", "complete", "in_depth"},
				},
			},
			"required": []string{"node_id", "points_covered"},
		},
	},
	{
		Name: "exercise_answered",
		Description: "INTERNAL SIGNAL (invisible to the student). Emit after " +
			"evaluating the student's answer to an exercise.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"exercise_id": map[string]interface{}{
					"type":        "string",
					"description": "Exercise that was evaluated.",
				},
				"focal_node": map[string]interface{}{
					"type":        "string",
					"description": "Focal node of the exercise.",
				},
				"outcome": map[string]interface{}{
					"type": "string",
					"enum": []string{"first_try", "guided", "unsolved"},
				},
				"nodes_involved": map[string]interface{}{
					"type":  "array",
					"items": map[string]interface{}{"type": "string"},
				},
				"cause_node": map[string]interface{}{
					"type":        "string",
					"description": "Node that caused the error, when identifiable.",
				},
				"error_kind": map[string]interface{}{
					"type":        "string",
					"description": "Kind of error the student made.",
				},
			},
			"required": []string{"exercise_id", "focal_node", "outcome"},
		},
	},
	{
		Name:        "confusion_detected",
		Description: "INTERNAL SIGNAL. Emit when you detect the student is confused about a concept.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"node_id": map[string]interface{}{"type": "string"},
				"nodes_involved": map[string]interface{}{
					"type":  "array",
					"items": map[string]interface{}{"type": "string"},
				},
				"description": map[string]interface{}{"type": "string"},
				"severity": map[string]interface{}{
					"type": "string",
					"enum": []string{"mild", "moderate", "significant"},
				},
			},
			"required": []string{"node_id", "description"},
		},
	},
	{
		Name:        "user_energy",
		Description: "INTERNAL SIGNAL. Emit to report the student's energy/motivation level.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"level": map[string]interface{}{
					"type": "string",
					"enum": []string{"high", "normal", "low", "frustration"},
				},
				"cues": map[string]interface{}{
					"type":  "array",
					"items": map[string]interface{}{"type": "string"},
				},
				"suggestion": map[string]interface{}{
					"type":        "string",
					"description": "Suggested action (break, activity change, ...).",
				},
			},
			"required": []string{"level"},
		},
	},
	{
		Name:        "recommended_next_step",
		Description: "INTERNAL SIGNAL. Emit to recommend what to do in the next turn.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"kind": map[string]interface{}{
					"type": "string",
					"enum": []string{
						"continue_explanation", "exercise", "feynman", "review",
						"backtrack", "break", "close_session", "subject_change",
					},
				},
				"node_id": map[string]interface{}{"type": "string"},
				"reason":  map[string]interface{}{"type": "string"},
			},
			"required": []string{"kind"},
		},
	},
	{
		Name: "suggested_starting_point",
		Description: "INTERNAL SIGNAL (onboarding only). Emit when the student says " +
			"where they want to start. The backend maps it to the closest theme or node.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"theme_or_concept": map[string]interface{}{"type": "string"},
				"reason":           map[string]interface{}{"type": "string"},
			},
			"required": []string{"theme_or_concept"},
		},
	},
	{
		Name:        "feynman_evaluation",
		Description: "INTERNAL SIGNAL [NOT YET ACTIVE]. Emit after evaluating a Feynman explanation.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"node_id": map[string]interface{}{"type": "string"},
				"outcome": map[string]interface{}{
					"type": "string",
					"enum": []string{"positive", "partial", "insufficient"},
				},
				"points_covered": map[string]interface{}{
					"type":  "array",
					"items": map[string]interface{}{"type": "string"},
				},
				"gaps": map[string]interface{}{
					"type":  "array",
					"items": map[string]interface{}{"type": "string"},
				},
				"notes": map[string]interface{}{"type": "string"},
			},
			"required": []string{"node_id", "outcome"},
		},
	},
	{
		Name:        "connection_seeded",
		Description: "INTERNAL SIGNAL [NOT YET ACTIVE]. Emit when you seed a connection between concepts.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"node_a": map[string]interface{}{"type": "string"},
				"node_b": map[string]interface{}{"type": "string"},
				"kind": map[string]interface{}{
					"type": "string",
					"enum": []string{"application", "evolution", "analogy", "foundation"},
				},
				"student_reaction": map[string]interface{}{
					"type": "string",
					"enum": []string{"interested", "neutral", "missed"},
				},
			},
			"required": []string{"node_a", "node_b"},
		},
	},
}

var (
	actionNames = make(map[string]struct{}, len(actionDefs))
	signalNames = make(map[string]struct{}, len(signalDefs))
)

func init() {
	for _, d := range actionDefs {
		actionNames[d.Name] = struct{}{}
	}
	for _, d := range signalDefs {
		signalNames[d.Name] = struct{}{}
	}
}

func IsAction(name string) bool {
	_, ok := actionNames[name]
	return ok
}

func IsSignal(name string) bool {
	_, ok := signalNames[name]
	return ok
}

func Categorize(name string) ToolCategory {
	switch {
	case IsAction(name):
		return CategoryAction
	case IsSignal(name):
		return CategorySignal
	}
	return CategoryUnknown
}

// ToolSchemas returns every tool definition in the wire format of the
// chat-completions API.
func ToolSchemas() []map[string]interface{} {
	defs := make([]map[string]interface{}, 0, len(actionDefs)+len(signalDefs))
	for _, d := range append(append([]ToolDef{}, actionDefs...), signalDefs...) {
		defs = append(defs, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        d.Name,
				"description": d.Description,
				"parameters":  d.Parameters,
			},
		})
	}
	return defs
}
