package models

import "time"

// IntentType is the classified category of an utterance
type IntentType string

const (
	IntentCreate     IntentType = "create"
	IntentModify     IntentType = "modify"
	IntentDelete     IntentType = "delete"
	IntentSearch     IntentType = "search"
	IntentExplain    IntentType = "explain"
	IntentAnalyze    IntentType = "analyze"
	IntentTest       IntentType = "test"
	IntentDeploy     IntentType = "deploy"
	IntentNavigate   IntentType = "navigate"
	IntentHelp       IntentType = "help"
	IntentSetContext IntentType = "set_context"
	IntentRemember   IntentType = "remember"
)

// AllIntents lists every intent category in rule order
var AllIntents = []IntentType{
	IntentHelp, IntentRemember, IntentSetContext, IntentDelete, IntentDeploy,
	IntentCreate, IntentTest, IntentModify, IntentExplain, IntentAnalyze,
	IntentSearch, IntentNavigate,
}

// Category groups intents for topic tracking and response shaping
func (t IntentType) Category() string {
	switch t {
	case IntentCreate, IntentModify, IntentDelete, IntentTest, IntentDeploy:
		return "action"
	case IntentSearch, IntentExplain, IntentAnalyze, IntentNavigate:
		return "query"
	default:
		return "meta"
	}
}

// Destructive reports whether commands of this type need explicit confirmation
func (t IntentType) Destructive() bool {
	return t == IntentDelete || t == IntentDeploy
}

// Intent is the result of classifying one utterance
type Intent struct {
	Type         IntentType `json:"type"`
	Confidence   float64    `json:"confidence"`
	MatchedText  string     `json:"matched_text"`
	CapturedSpan string     `json:"captured_span"`
	Category     string     `json:"category"`
	Fallback     bool       `json:"fallback,omitempty"` // set when no rule matched
}

// Target is the thing a command acts on
type Target struct {
	Type    string `json:"type"` // file, function, class, component, module, variable, text
	Name    string `json:"name"`
	RawText string `json:"raw_text"`
}

// ReferenceKind distinguishes pronouns from demonstrative phrases
type ReferenceKind string

const (
	ReferencePronoun       ReferenceKind = "pronoun"
	ReferenceDemonstrative ReferenceKind = "demonstrative"
)

// Reference is a pronoun or demonstrative found in an utterance
type Reference struct {
	Text       string        `json:"text"`
	Kind       ReferenceKind `json:"kind"`
	Position   int           `json:"position"`
	ResolvedTo string        `json:"resolved_to,omitempty"`
}

// Entities holds the structured pieces extracted from an utterance
type Entities struct {
	Target     *Target                `json:"target,omitempty"`
	Action     string                 `json:"action"`
	Parameters map[string]interface{} `json:"parameters"`
	References []Reference            `json:"references"`
}

// Param returns a string parameter or ""
func (e *Entities) Param(key string) string {
	if e == nil || e.Parameters == nil {
		return ""
	}
	s, _ := e.Parameters[key].(string)
	return s
}

// WorkflowStep is a single step of a multi-step command
type WorkflowStep struct {
	Name     string `json:"name"`
	Optional bool   `json:"optional,omitempty"`
}

// Workflow is an ephemeral multi-step procedure attached to one command
type Workflow struct {
	Name          string         `json:"name"`
	Steps         []WorkflowStep `json:"steps"`
	Cursor        int            `json:"cursor"`
	OriginContext string         `json:"origin_context"`
}

// StepNames returns the ordered step names
func (w *Workflow) StepNames() []string {
	names := make([]string, len(w.Steps))
	for i, s := range w.Steps {
		names[i] = s.Name
	}
	return names
}

// HandlerResponse is what an intent handler returns
type HandlerResponse struct {
	Success              bool                   `json:"success"`
	Action               string                 `json:"action"`
	Target               string                 `json:"target"`
	Message              string                 `json:"message"`
	Parameters           map[string]interface{} `json:"parameters,omitempty"`
	RequiresConfirmation bool                   `json:"requires_confirmation,omitempty"`
	Warning              string                 `json:"warning,omitempty"`
	Error                string                 `json:"error,omitempty"`
}

// ToolCallSpec is one templated tool invocation inside a pattern
type ToolCallSpec struct {
	Tool       string            `json:"tool"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// ActionSequence is the reusable part of a learned pattern
type ActionSequence struct {
	Tools    []ToolCallSpec `json:"tools,omitempty"`
	Paths    []string       `json:"paths,omitempty"`
	Template string         `json:"template,omitempty"`
}

// Pattern is a learned trigger -> action-sequence association
type Pattern struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Intent           IntentType     `json:"intent"`
	TriggerText      string         `json:"trigger_text"`
	TriggerEmbedding []float32      `json:"trigger_embedding"`
	Actions          ActionSequence `json:"actions"`
	OccurrenceCount  int            `json:"occurrence_count"`
	SuccessRate      float64        `json:"success_rate"`
	LastUsed         time.Time      `json:"last_used"`
	CreatedAt        time.Time      `json:"created_at"`
	AutoApply        bool           `json:"auto_apply"`
}

// MistakeCorrection records a response the user corrected
type MistakeCorrection struct {
	ID                string     `json:"id"`
	Timestamp         time.Time  `json:"timestamp"`
	UserID            string     `json:"user_id,omitempty"`
	CommandText       string     `json:"command_text"`
	Intent            IntentType `json:"intent"`
	IncorrectResponse string     `json:"incorrect_response"`
	Correction        string     `json:"correction"`
	Learned           bool       `json:"learned"`
}

// TimePattern records when a user issued a given intent
type TimePattern struct {
	Hour   int          `json:"hour"`
	Day    time.Weekday `json:"day"`
	Intent IntentType   `json:"intent"`
}

// FeedbackRecord is one entry in a user's bounded feedback history
type FeedbackRecord struct {
	Timestamp time.Time  `json:"timestamp"`
	Intent    IntentType `json:"intent"`
	Positive  bool       `json:"positive"`
	Type      string     `json:"type,omitempty"`
}

// BehaviorModel holds per-user usage statistics
type BehaviorModel struct {
	UserID             string                                   `json:"user_id"`
	CommandFrequency   map[IntentType]int                       `json:"command_frequency"`
	WorkflowPreference map[string]int                           `json:"workflow_preference"`
	TimePatterns       []TimePattern                            `json:"time_patterns"`
	ContextPreference  map[string]int                           `json:"context_preference"`
	ParameterFrequency map[IntentType]map[string]map[string]int `json:"parameter_frequency"`
	FeedbackHistory    []FeedbackRecord                         `json:"feedback_history"`
	UpdatedAt          time.Time                                `json:"updated_at"`
}

// NewBehaviorModel returns an empty model for a user
func NewBehaviorModel(userID string) *BehaviorModel {
	return &BehaviorModel{
		UserID:             userID,
		CommandFrequency:   make(map[IntentType]int),
		WorkflowPreference: make(map[string]int),
		ContextPreference:  make(map[string]int),
		ParameterFrequency: make(map[IntentType]map[string]map[string]int),
	}
}

// Feedback is user feedback on a previous response
type Feedback struct {
	ResponseID  string            `json:"response_id"`
	Positive    bool              `json:"positive"`
	Type        string            `json:"type,omitempty"`
	Correction  string            `json:"correction,omitempty"`
	Preferences map[string]string `json:"preferences,omitempty"`
}
