package models

import "time"

// ConversationState is the lifecycle state of a conversation
type ConversationState string

const (
	ConversationActive ConversationState = "active"
	ConversationEnded  ConversationState = "ended"
)

// ResponseType classifies a turn's response
type ResponseType string

const (
	ResponseResult       ResponseType = "result"
	ResponseConfirmation ResponseType = "confirmation"
	ResponseError        ResponseType = "error"
)

// ContextEntity is an entity mentioned in a conversation
type ContextEntity struct {
	Name          string    `json:"name"`
	Type          string    `json:"type"`
	Display       string    `json:"display"` // e.g. "the file auth.js"
	LastMentioned time.Time `json:"last_mentioned"`
	Turn          int       `json:"turn"`
}

// ConversationContext is the live context carried between turns
type ConversationContext struct {
	Entities   map[string]*ContextEntity `json:"entities"`
	Topics     []string                  `json:"topics"`
	References map[string]string         `json:"references"`
}

// TurnInput holds what the user said and what it resolved to
type TurnInput struct {
	Original string    `json:"original"`
	Resolved string    `json:"resolved"`
	Intent   *Intent   `json:"intent,omitempty"`
	Entities *Entities `json:"entities,omitempty"`
}

// TurnResponse is the core's answer to one turn
type TurnResponse struct {
	ID             string                 `json:"id"`
	Type           ResponseType           `json:"type"`
	Success        bool                   `json:"success"`
	Message        string                 `json:"message"`
	Data           map[string]interface{} `json:"data,omitempty"`
	ConfirmationID string                 `json:"confirmation_id,omitempty"`
	Suggestion     string                 `json:"suggestion,omitempty"`
}

// ContextSnapshot captures context state at the moment a turn was recorded
type ContextSnapshot struct {
	Entities []string `json:"entities"`
	Topics   []string `json:"topics"`
}

// Turn is one user utterance plus the core's response
type Turn struct {
	ID              string          `json:"id"`
	Number          int             `json:"number"`
	Timestamp       time.Time       `json:"timestamp"`
	Input           TurnInput       `json:"input"`
	Response        TurnResponse    `json:"response"`
	ContextSnapshot ContextSnapshot `json:"context_snapshot"`
}

// TurnSummary is the compressed form of a turn that left the live window
type TurnSummary struct {
	TurnID    string     `json:"turn_id"`
	Number    int        `json:"number"`
	Timestamp time.Time  `json:"timestamp"`
	Intent    IntentType `json:"intent,omitempty"`
	Target    string     `json:"target,omitempty"`
	Success   bool       `json:"success"`
}

// Conversation is owned by exactly one session; it is not safe for concurrent use
type Conversation struct {
	ID                string              `json:"id"`
	UserID            string              `json:"user_id"`
	Turns             []*Turn             `json:"turns"`
	CompressedHistory []TurnSummary       `json:"compressed_history"`
	Context           ConversationContext `json:"context"`
	State             ConversationState   `json:"state"`
	TurnCount         int                 `json:"turn_count"`
	StartedAt         time.Time           `json:"started_at"`
	EndedAt           *time.Time          `json:"ended_at,omitempty"`
}

// LastTurn returns the most recent live turn, or nil
func (c *Conversation) LastTurn() *Turn {
	if len(c.Turns) == 0 {
		return nil
	}
	return c.Turns[len(c.Turns)-1]
}

// FindTurnByResponse locates a live turn by its response ID
func (c *Conversation) FindTurnByResponse(responseID string) *Turn {
	for _, t := range c.Turns {
		if t.Response.ID == responseID {
			return t
		}
	}
	return nil
}
