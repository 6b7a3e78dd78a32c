package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantumflow/assistcore/internal/logging"
	"github.com/quantumflow/assistcore/internal/memory"
	"github.com/quantumflow/assistcore/internal/models"
)

// ErrNoPending is returned by Confirm for an unknown or expired confirmation id
var ErrNoPending = errors.New("no pending confirmation")

const (
	defaultSuggestion = "Try rephrasing the command"
	pendingTTL        = 15 * time.Minute
)

// pendingCommand is a destructive command waiting for confirmation
type pendingCommand struct {
	cmd       *Command
	handler   Handler
	results   []StepResult
	createdAt time.Time
}

// Router dispatches commands to per-intent handlers and runs their workflows
type Router struct {
	handlers map[models.IntentType]Handler
	history  memory.SearchStore
	log      *logging.Logger

	mu      sync.RWMutex
	pending map[string]*pendingCommand
	now     func() time.Time
}

// NewRouter creates a router. history is used to suggest a past successful
// command when a handler fails, and may be nil.
func NewRouter(history memory.SearchStore, log *logging.Logger) *Router {
	return &Router{
		handlers: make(map[models.IntentType]Handler),
		history:  history,
		log:      logging.OrNop(log).Named("router"),
		pending:  make(map[string]*pendingCommand),
		now:      time.Now,
	}
}

// Register adds a handler for its intent
func (r *Router) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("cannot register nil handler")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	intentType := h.Intent()
	if !knownIntent(intentType) {
		return fmt.Errorf("unknown intent type %q", intentType)
	}
	if _, exists := r.handlers[intentType]; exists {
		return fmt.Errorf("handler for %s already registered", intentType)
	}

	r.handlers[intentType] = h
	return nil
}

func knownIntent(t models.IntentType) bool {
	for _, known := range models.AllIntents {
		if known == t {
			return true
		}
	}
	return false
}

// Handlers returns the intents that have a registered handler
func (r *Router) Handlers() []models.IntentType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.IntentType, 0, len(r.handlers))
	for _, t := range models.AllIntents {
		if _, ok := r.handlers[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Route runs cmd through its handler. Failures of the handler or of a
// workflow step are reported in the result; the returned error is reserved
// for malformed commands.
func (r *Router) Route(ctx context.Context, cmd *Command) (*CommandResult, error) {
	if cmd == nil || cmd.Intent == nil {
		return nil, fmt.Errorf("command has no intent")
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	r.mu.RLock()
	h, ok := r.handlers[cmd.Intent.Type]
	r.mu.RUnlock()
	if !ok {
		return &CommandResult{
			CommandID:  cmd.ID,
			Intent:     cmd.Intent.Type,
			Error:      fmt.Sprintf("no handler registered for %s", cmd.Intent.Type),
			Suggestion: defaultSuggestion,
		}, nil
	}

	return r.execute(ctx, h, cmd, nil, false), nil
}

// Confirm resumes a command that was waiting for confirmation
func (r *Router) Confirm(ctx context.Context, id string) (*CommandResult, error) {
	r.mu.Lock()
	p, ok := r.pending[id]
	delete(r.pending, id)
	r.mu.Unlock()

	if !ok || r.now().Sub(p.createdAt) > pendingTTL {
		return nil, fmt.Errorf("confirmation %s: %w", id, ErrNoPending)
	}

	return r.execute(ctx, p.handler, p.cmd, p.results, true), nil
}

// Cancel discards a pending confirmation
func (r *Router) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.pending[id]
	delete(r.pending, id)
	return ok
}

// PendingCount returns the number of commands waiting for confirmation
func (r *Router) PendingCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pending)
}

// execute runs a single invocation, or the workflow steps from its cursor
func (r *Router) execute(ctx context.Context, h Handler, cmd *Command, prior []StepResult, confirmed bool) *CommandResult {
	result := &CommandResult{
		CommandID:   cmd.ID,
		Intent:      cmd.Intent.Type,
		Workflow:    cmd.Workflow,
		StepResults: prior,
	}

	wf := cmd.Workflow
	if wf == nil {
		resp, err := r.invoke(ctx, h, &HandlerContext{Command: cmd, Confirmed: confirmed})
		if err != nil {
			r.handlerFailed(ctx, cmd, result, err)
			return result
		}
		result.Response = resp
		if resp.RequiresConfirmation && !confirmed {
			r.awaitConfirmation(cmd, h, result)
			return result
		}
		result.Success = resp.Success
		if !resp.Success {
			result.Error = resp.Error
		}
		return result
	}

	for i := wf.Cursor; i < len(wf.Steps); i++ {
		step := wf.Steps[i]
		resp, err := r.invoke(ctx, h, &HandlerContext{
			Command:   cmd,
			Step:      step.Name,
			StepIndex: i,
			Confirmed: confirmed,
		})

		sr := StepResult{Step: step.Name, Index: i, Optional: step.Optional, Response: resp}
		if err != nil {
			sr.Error = err.Error()
			result.StepResults = append(result.StepResults, sr)
			result.CompletedSteps = wf.Cursor
			r.handlerFailed(ctx, cmd, result, err)
			return result
		}
		result.Response = resp

		if resp.RequiresConfirmation && !confirmed {
			result.CompletedSteps = wf.Cursor
			r.awaitConfirmation(cmd, h, result)
			return result
		}

		if !resp.Success {
			sr.Error = resp.Error
			result.StepResults = append(result.StepResults, sr)
			if step.Optional {
				r.log.Debug("optional step failed", "workflow", wf.Name, "step", step.Name, "error", resp.Error)
				wf.Cursor++
				continue
			}

			stepErr := models.NewStepFailure(wf.Name, step.Name, i, resp.Error)
			r.log.Warn("workflow step failed", "workflow", wf.Name, "step", step.Name, "index", i, "error", resp.Error)
			result.CompletedSteps = wf.Cursor
			result.Error = stepErr.Error()
			result.ErrorKind = stepErr.Kind
			return result
		}

		result.StepResults = append(result.StepResults, sr)
		wf.Cursor++
	}

	result.CompletedSteps = wf.Cursor
	result.Success = true
	return result
}

// invoke calls the handler, converting panics and empty responses into errors
func (r *Router) invoke(ctx context.Context, h Handler, hctx *HandlerContext) (resp *models.HandlerResponse, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			resp = nil
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()

	resp, err = h.Handle(ctx, hctx)
	if err == nil && resp == nil {
		err = errors.New("handler returned no response")
	}
	return resp, err
}

func (r *Router) awaitConfirmation(cmd *Command, h Handler, result *CommandResult) {
	id := uuid.NewString()
	now := r.now()

	r.mu.Lock()
	for key, p := range r.pending {
		if now.Sub(p.createdAt) > pendingTTL {
			delete(r.pending, key)
		}
	}
	r.pending[id] = &pendingCommand{
		cmd:       cmd,
		handler:   h,
		results:   result.StepResults,
		createdAt: now,
	}
	r.mu.Unlock()

	result.RequiresConfirmation = true
	result.ConfirmationID = id
}

func (r *Router) handlerFailed(ctx context.Context, cmd *Command, result *CommandResult, err error) {
	hErr := models.NewHandlerException(cmd.Intent.Type, err)
	r.log.Error("handler failed", "intent", cmd.Intent.Type, "command", cmd.Text, "error", err)

	result.Success = false
	result.Error = hErr.Error()
	result.ErrorKind = hErr.Kind
	result.Suggestion = r.suggest(ctx, cmd)
}

// suggest looks for the closest past command that succeeded
func (r *Router) suggest(ctx context.Context, cmd *Command) string {
	if r.history == nil || cmd.Text == "" {
		return defaultSuggestion
	}

	results, err := r.history.Search(ctx, cmd.Text, memory.SearchOptions{
		Limit: 1,
		Filter: map[string]string{
			memory.MetaKind:    memory.KindCommand,
			memory.MetaSuccess: "true",
		},
	})
	if err != nil || len(results) == 0 {
		return defaultSuggestion
	}
	return fmt.Sprintf("A similar command worked before: %q", results[0].Content)
}
