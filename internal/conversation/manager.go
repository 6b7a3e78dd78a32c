package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/quantumflow/assistcore/internal/config"
	"github.com/quantumflow/assistcore/internal/intent"
	"github.com/quantumflow/assistcore/internal/learning"
	"github.com/quantumflow/assistcore/internal/logging"
	"github.com/quantumflow/assistcore/internal/memory"
	"github.com/quantumflow/assistcore/internal/models"
	"github.com/quantumflow/assistcore/internal/router"
)

const rephraseSuggestion = "Try rephrasing the command"

// Deps are the collaborators a Manager drives. Matcher, Engine and Graph are optional.
type Deps struct {
	Recognizer *intent.Recognizer
	Workflows  *router.WorkflowIdentifier
	Router     *router.Router
	Matcher    *learning.Matcher
	Engine     *learning.Engine
	Graph      memory.EntityGraph
}

// TurnResult is everything produced while handling one utterance
type TurnResult struct {
	Turn        *models.Turn          `json:"turn"`
	Resolution  *Resolution           `json:"resolution,omitempty"`
	Command     *router.CommandResult `json:"command,omitempty"`
	Application *learning.Application `json:"application,omitempty"`
	Learning    *learning.Outcome     `json:"learning,omitempty"`
	Suggestions []learning.Adaptation `json:"suggestions,omitempty"`
}

// Manager owns the turn loop: resolve, recognize, route, learn.
// A Conversation must only be used by the session that started it.
type Manager struct {
	recognizer *intent.Recognizer
	workflows  *router.WorkflowIdentifier
	router     *router.Router
	matcher    *learning.Matcher
	engine     *learning.Engine
	graph      memory.EntityGraph
	resolver   *Resolver
	cfg        config.ConversationConfig
	log        *logging.Logger
	now        func() time.Time
}

// NewManager creates a conversation manager
func NewManager(deps Deps, cfg config.ConversationConfig, log *logging.Logger) (*Manager, error) {
	if deps.Recognizer == nil {
		return nil, fmt.Errorf("conversation manager needs a recognizer")
	}
	if deps.Router == nil {
		return nil, fmt.Errorf("conversation manager needs a router")
	}
	if deps.Workflows == nil {
		deps.Workflows = router.NewWorkflowIdentifier(nil)
	}

	defaults := config.DefaultConfig().Conversation
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = defaults.WindowSize
	}
	if cfg.EntityTTL <= 0 {
		cfg.EntityTTL = defaults.EntityTTL
	}
	if cfg.TopicLimit <= 0 {
		cfg.TopicLimit = defaults.TopicLimit
	}

	log = logging.OrNop(log).Named("conversation")
	return &Manager{
		recognizer: deps.Recognizer,
		workflows:  deps.Workflows,
		router:     deps.Router,
		matcher:    deps.Matcher,
		engine:     deps.Engine,
		graph:      deps.Graph,
		resolver:   NewResolver(cfg, log),
		cfg:        cfg,
		log:        log,
		now:        time.Now,
	}, nil
}

// Start opens a conversation for a user
func (m *Manager) Start(userID string) *models.Conversation {
	return &models.Conversation{
		ID:     uuid.NewString(),
		UserID: userID,
		Turns:  []*models.Turn{},
		Context: models.ConversationContext{
			Entities:   map[string]*models.ContextEntity{},
			Topics:     []string{},
			References: map[string]string{},
		},
		CompressedHistory: []models.TurnSummary{},
		State:             models.ConversationActive,
		StartedAt:         m.now(),
	}
}

// End closes a conversation; later input is rejected
func (m *Manager) End(conv *models.Conversation) {
	if conv == nil || conv.State == models.ConversationEnded {
		return
	}
	at := m.now()
	conv.State = models.ConversationEnded
	conv.EndedAt = &at
}

func checkActive(conv *models.Conversation) error {
	if conv == nil {
		return fmt.Errorf("no conversation")
	}
	if conv.State != models.ConversationActive {
		return fmt.Errorf("conversation %s has ended", conv.ID)
	}
	return nil
}

// ProcessInput handles one utterance. Failures of the stores or the
// embedding service do not escape as errors: the turn is recorded with an
// error response carrying the cause and a rephrase suggestion, and the
// conversation context is left as it was before the turn.
func (m *Manager) ProcessInput(ctx context.Context, conv *models.Conversation, text string) (*TurnResult, error) {
	if err := checkActive(conv); err != nil {
		return nil, err
	}

	now := m.now()
	m.evictExpired(conv, now)

	// Resolve references against recent context
	resolution := m.resolver.Resolve(text, conv)

	// Classify and extract entities
	rec, err := m.recognizer.Process(ctx, resolution.Text)
	if err != nil {
		return m.failTurn(conv, text, resolution, nil, err), nil
	}
	rec.Entities.References = resolution.References
	if rec.Intent.Fallback {
		m.log.Debug("recognition fell back", "text", resolution.Text, "intent", rec.Intent.Type, "confidence", rec.Intent.Confidence)
	}

	cmd := &router.Command{
		Text:           resolution.Text,
		Intent:         rec.Intent,
		Entities:       rec.Entities,
		Workflow:       m.workflows.Identify(rec.Intent, rec.Entities),
		UserID:         conv.UserID,
		ConversationID: conv.ID,
	}

	// Look for a learned pattern ready to run
	app := m.autoApply(ctx, resolution.Text, rec)

	// Dispatch to the handler
	result, err := m.router.Route(ctx, cmd)
	if err != nil {
		return m.failTurn(conv, text, resolution, rec, err), nil
	}
	if app != nil {
		result.PatternID = app.PatternID
		result.SuggestedActions = app.Actions
	}

	// pending commands are recorded once confirmed
	if !result.RequiresConfirmation {
		if err := m.recognizer.RecordCommand(ctx, resolution.Text, rec.Intent, result.Success, conv.UserID); err != nil {
			return m.failTurn(conv, text, resolution, rec, err), nil
		}
	}

	turn := m.recordTurn(conv, now, text, resolution, rec, responseFor(result))
	m.updateContext(ctx, conv, turn, resolution)

	out := &TurnResult{Turn: turn, Resolution: resolution, Command: result, Application: app}
	out.Learning, out.Suggestions = m.learn(ctx, conv, &learning.Interaction{
		UserID:   conv.UserID,
		Text:     resolution.Text,
		Intent:   rec.Intent,
		Entities: rec.Entities,
		Result:   result,
		At:       now,
	})
	return out, nil
}

// autoApply expands the best matching pattern when it may run unprompted
func (m *Manager) autoApply(ctx context.Context, text string, rec *intent.Recognition) *learning.Application {
	if m.matcher == nil {
		return nil
	}

	matches, err := m.matcher.Match(ctx, text)
	if err != nil {
		m.log.Warn("pattern matching failed", "error", err)
		return nil
	}
	if len(matches) == 0 {
		return nil
	}

	best := matches[0]
	if best.Pattern.Intent != rec.Intent.Type || !m.matcher.AutoApplicable(best) {
		return nil
	}

	app, err := m.matcher.Apply(ctx, best.Pattern, learning.VarsFor(rec.Intent, rec.Entities))
	if err != nil {
		m.log.Warn("pattern application failed", "pattern", best.Pattern.ID, "error", err)
		return nil
	}
	return app
}

func (m *Manager) learn(ctx context.Context, conv *models.Conversation, in *learning.Interaction) (*learning.Outcome, []learning.Adaptation) {
	if m.engine == nil {
		return nil, nil
	}

	outcome, err := m.engine.LearnFromInteraction(ctx, in)
	if err != nil {
		m.log.Error("learning failed", "conversation", conv.ID, "error", err)
	}
	return outcome, m.engine.Suggest(conv.UserID, in.Intent.Type)
}

// responseFor turns a command result into the turn's response
func responseFor(result *router.CommandResult) models.TurnResponse {
	resp := models.TurnResponse{
		ID:             uuid.NewString(),
		Type:           models.ResponseResult,
		Success:        result.Success,
		Message:        result.Message(),
		ConfirmationID: result.ConfirmationID,
		Suggestion:     result.Suggestion,
		Data: map[string]interface{}{
			"intent": string(result.Intent),
		},
	}

	switch {
	case result.RequiresConfirmation:
		resp.Type = models.ResponseConfirmation
	case result.ErrorKind == models.ErrHandlerException:
		resp.Type = models.ResponseError
	}

	if result.Workflow != nil {
		resp.Data["workflow"] = result.Workflow.Name
		resp.Data["completed_steps"] = result.CompletedSteps
		resp.Data["total_steps"] = len(result.Workflow.Steps)
	}
	if result.Response != nil {
		for k, v := range result.Response.Parameters {
			resp.Data[k] = v
		}
		if result.Response.Warning != "" {
			resp.Data["warning"] = result.Response.Warning
		}
	}
	if len(result.SuggestedActions) > 0 {
		resp.Data["suggested_actions"] = result.SuggestedActions
	}
	return resp
}

// failTurn records a turn whose processing hit an unexpected error
func (m *Manager) failTurn(conv *models.Conversation, text string, resolution *Resolution, rec *intent.Recognition, cause error) *TurnResult {
	err := models.NewError(models.ErrUnexpected, "turn processing failed", cause)
	m.log.Error("turn failed", "conversation", conv.ID, "error", err)

	resp := models.TurnResponse{
		ID:         uuid.NewString(),
		Type:       models.ResponseError,
		Message:    fmt.Sprintf("Something went wrong: %v", cause),
		Suggestion: rephraseSuggestion,
	}
	turn := m.recordTurn(conv, m.now(), text, resolution, rec, resp)
	return &TurnResult{Turn: turn, Resolution: resolution}
}

func (m *Manager) recordTurn(conv *models.Conversation, at time.Time, text string, resolution *Resolution, rec *intent.Recognition, resp models.TurnResponse) *models.Turn {
	conv.TurnCount++
	turn := &models.Turn{
		ID:        uuid.NewString(),
		Number:    conv.TurnCount,
		Timestamp: at,
		Input: models.TurnInput{
			Original: text,
			Resolved: resolution.Text,
		},
		Response: resp,
	}
	if rec != nil {
		turn.Input.Intent = rec.Intent
		turn.Input.Entities = rec.Entities
	}

	conv.Turns = append(conv.Turns, turn)
	m.compress(conv)
	return turn
}

// compress summarizes turns that fell out of the live window
func (m *Manager) compress(conv *models.Conversation) {
	over := len(conv.Turns) - m.cfg.WindowSize
	if over <= 0 {
		return
	}

	for _, t := range conv.Turns[:over] {
		conv.CompressedHistory = append(conv.CompressedHistory, summarize(t))
	}
	conv.Turns = append([]*models.Turn(nil), conv.Turns[over:]...)
}

func summarize(t *models.Turn) models.TurnSummary {
	s := models.TurnSummary{
		TurnID:    t.ID,
		Number:    t.Number,
		Timestamp: t.Timestamp,
		Success:   t.Response.Success,
	}
	if t.Input.Intent != nil {
		s.Intent = t.Input.Intent.Type
	}
	if e := t.Input.Entities; e != nil && e.Target != nil {
		s.Target = e.Target.Name
	}
	return s
}

// evictExpired drops entities not mentioned within the TTL
func (m *Manager) evictExpired(conv *models.Conversation, now time.Time) {
	for name, e := range conv.Context.Entities {
		if now.Sub(e.LastMentioned) > m.cfg.EntityTTL {
			delete(conv.Context.Entities, name)
		}
	}
}

// updateContext records the turn's entities, topic and resolutions, then
// snapshots the context onto the turn
func (m *Manager) updateContext(ctx context.Context, conv *models.Conversation, turn *models.Turn, resolution *Resolution) {
	cctx := &conv.Context
	e := turn.Input.Entities
	in := turn.Input.Intent

	var mentioned []*models.ContextEntity
	mention := func(name, entityType, display string) {
		if name == "" {
			return
		}
		ce := &models.ContextEntity{
			Name:          name,
			Type:          entityType,
			Display:       display,
			LastMentioned: turn.Timestamp,
			Turn:          turn.Number,
		}
		cctx.Entities[name] = ce
		mentioned = append(mentioned, ce)
	}

	if e != nil {
		if t := e.Target; t != nil && t.Type != "text" {
			mention(t.Name, t.Type, Display(t))
		}
		if in != nil && in.Type == models.IntentSetContext {
			if lang := e.Param("language"); lang != "" {
				mention(lang, "language", "the language "+lang)
			}
			if project := e.Param("project"); project != "" {
				mention(project, "project", "the project "+project)
			}
		}
	}

	if in != nil {
		topic := string(in.Type)
		if e != nil && e.Target != nil && e.Target.Type != "" {
			topic += ":" + e.Target.Type
		}
		cctx.Topics = pushTopic(cctx.Topics, topic, m.cfg.TopicLimit)
	}

	for k, v := range resolution.Resolved {
		cctx.References[k] = v
	}

	turn.ContextSnapshot = snapshot(cctx)
	m.mirror(ctx, conv, mentioned, resolution)
}

// pushTopic puts topic first, deduplicated and bounded
func pushTopic(topics []string, topic string, limit int) []string {
	out := make([]string, 0, limit)
	out = append(out, topic)
	for _, t := range topics {
		if t != topic && len(out) < limit {
			out = append(out, t)
		}
	}
	return out
}

func snapshot(cctx *models.ConversationContext) models.ContextSnapshot {
	names := make([]string, 0, len(cctx.Entities))
	for name := range cctx.Entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return models.ContextSnapshot{
		Entities: names,
		Topics:   append([]string(nil), cctx.Topics...),
	}
}

// mirror copies mentions into the entity graph. Graph errors are logged only.
func (m *Manager) mirror(ctx context.Context, conv *models.Conversation, mentioned []*models.ContextEntity, resolution *Resolution) {
	if m.graph == nil || len(mentioned) == 0 {
		return
	}

	for _, ce := range mentioned {
		err := m.graph.UpsertEntity(ctx, &memory.GraphEntity{
			Name:          ce.Name,
			Type:          ce.Type,
			UserID:        conv.UserID,
			LastMentioned: ce.LastMentioned,
		})
		if err != nil {
			m.log.Warn("entity graph upsert failed", "entity", ce.Name, "error", err)
			return
		}
	}

	for i := 1; i < len(mentioned); i++ {
		if err := m.graph.Relate(ctx, mentioned[0].Name, mentioned[i].Name, "co_mentioned"); err != nil {
			m.log.Warn("entity graph relate failed", "error", err)
		}
	}

	// a reference that resolved to another entity links it to this turn's target
	for _, ref := range resolution.References {
		if ref.ResolvedTo == "" {
			continue
		}
		for name, ce := range conv.Context.Entities {
			if ce.Display == ref.ResolvedTo && name != mentioned[0].Name {
				if err := m.graph.Relate(ctx, mentioned[0].Name, name, "referenced"); err != nil && !errors.Is(err, memory.ErrNotFound) {
					m.log.Warn("entity graph relate failed", "error", err)
				}
			}
		}
	}
}

// Feedback applies user feedback to the turn that produced responseID
func (m *Manager) Feedback(ctx context.Context, conv *models.Conversation, fb models.Feedback) error {
	if conv == nil {
		return fmt.Errorf("no conversation")
	}
	turn := conv.FindTurnByResponse(fb.ResponseID)
	if turn == nil {
		return fmt.Errorf("no turn with response %s in conversation %s", fb.ResponseID, conv.ID)
	}
	if m.engine == nil || turn.Input.Intent == nil {
		return nil
	}

	_, err := m.engine.LearnFromFeedback(ctx, &learning.Interaction{
		UserID:   conv.UserID,
		Text:     turn.Input.Resolved,
		Intent:   turn.Input.Intent,
		Entities: turn.Input.Entities,
		Result: &router.CommandResult{
			Intent:   turn.Input.Intent.Type,
			Success:  turn.Response.Success,
			Response: &models.HandlerResponse{Success: turn.Response.Success, Message: turn.Response.Message},
		},
		Feedback: &fb,
		At:       m.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to learn from feedback: %w", err)
	}
	return nil
}

// Confirm runs a command that was waiting for confirmation and records it as a new turn
func (m *Manager) Confirm(ctx context.Context, conv *models.Conversation, confirmationID string) (*TurnResult, error) {
	if err := checkActive(conv); err != nil {
		return nil, err
	}

	var origin *models.Turn
	for _, t := range conv.Turns {
		if t.Response.ConfirmationID == confirmationID {
			origin = t
		}
	}

	result, err := m.router.Confirm(ctx, confirmationID)
	if err != nil {
		return nil, fmt.Errorf("confirm %s: %w", confirmationID, err)
	}

	now := m.now()
	text := "confirm " + confirmationID
	resolution := &Resolution{Original: text, Text: text, References: []models.Reference{}, Resolved: map[string]string{}}
	var rec *intent.Recognition
	if origin != nil {
		resolution.Text = origin.Input.Resolved
		rec = &intent.Recognition{Text: origin.Input.Resolved, Intent: origin.Input.Intent, Entities: origin.Input.Entities}
		if err := m.recognizer.RecordCommand(ctx, rec.Text, rec.Intent, result.Success, conv.UserID); err != nil {
			m.log.Warn("failed to record confirmed command", "error", err)
		}
	}

	turn := m.recordTurn(conv, now, text, resolution, rec, responseFor(result))
	m.updateContext(ctx, conv, turn, resolution)

	out := &TurnResult{Turn: turn, Resolution: resolution, Command: result}
	if rec != nil && rec.Intent != nil {
		out.Learning, out.Suggestions = m.learn(ctx, conv, &learning.Interaction{
			UserID:   conv.UserID,
			Text:     rec.Text,
			Intent:   rec.Intent,
			Entities: rec.Entities,
			Result:   result,
			At:       now,
		})
	}
	return out, nil
}

// Cancel discards a pending confirmation
func (m *Manager) Cancel(confirmationID string) bool {
	return m.router.Cancel(confirmationID)
}

// IsNoPending reports whether err came from confirming an unknown or expired command
func IsNoPending(err error) bool {
	return errors.Is(err, router.ErrNoPending)
}
