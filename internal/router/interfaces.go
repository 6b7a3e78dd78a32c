package router

import (
	"context"

	"github.com/quantumflow/assistcore/internal/models"
)

// Handler serves one intent category
type Handler interface {
	Intent() models.IntentType
	Handle(ctx context.Context, hctx *HandlerContext) (*models.HandlerResponse, error)
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc struct {
	Type models.IntentType
	Fn   func(ctx context.Context, hctx *HandlerContext) (*models.HandlerResponse, error)
}

// Intent implements Handler.
func (f HandlerFunc) Intent() models.IntentType { return f.Type }

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, hctx *HandlerContext) (*models.HandlerResponse, error) {
	return f.Fn(ctx, hctx)
}

// Command is one routed utterance
type Command struct {
	ID             string
	Text           string
	Intent         *models.Intent
	Entities       *models.Entities
	Workflow       *models.Workflow
	UserID         string
	ConversationID string
}

// HandlerContext is what a handler sees for one invocation
type HandlerContext struct {
	Command   *Command
	Step      string // empty outside a workflow
	StepIndex int
	Confirmed bool
}

// Entities returns the command entities, never nil
func (c *HandlerContext) Entities() *models.Entities {
	if c.Command == nil || c.Command.Entities == nil {
		return &models.Entities{Parameters: map[string]interface{}{}}
	}
	return c.Command.Entities
}

// TargetName returns the target name or ""
func (c *HandlerContext) TargetName() string {
	if t := c.Entities().Target; t != nil {
		return t.Name
	}
	return ""
}

// StepResult is the outcome of one workflow step
type StepResult struct {
	Step     string                  `json:"step"`
	Index    int                     `json:"index"`
	Optional bool                    `json:"optional,omitempty"`
	Response *models.HandlerResponse `json:"response,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

// CommandResult is the router's answer for one command
type CommandResult struct {
	CommandID            string                  `json:"command_id"`
	Intent               models.IntentType       `json:"intent"`
	Success              bool                    `json:"success"`
	Response             *models.HandlerResponse `json:"response,omitempty"`
	Workflow             *models.Workflow        `json:"workflow,omitempty"`
	CompletedSteps       int                     `json:"completed_steps"`
	StepResults          []StepResult            `json:"step_results,omitempty"`
	RequiresConfirmation bool                    `json:"requires_confirmation,omitempty"`
	ConfirmationID       string                  `json:"confirmation_id,omitempty"`
	Error                string                  `json:"error,omitempty"`
	ErrorKind            models.ErrorKind        `json:"error_kind,omitempty"`
	Suggestion           string                  `json:"suggestion,omitempty"`

	// set when a learned pattern is ready to run for this command
	PatternID        string                `json:"pattern_id,omitempty"`
	SuggestedActions []models.ToolCallSpec `json:"suggested_actions,omitempty"`
}

// Message returns the most relevant user-facing text of the result
func (r *CommandResult) Message() string {
	switch {
	case r.Response != nil && r.Response.Message != "":
		return r.Response.Message
	case r.Error != "":
		return r.Error
	default:
		return ""
	}
}
