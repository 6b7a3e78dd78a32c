// Package assistant wires the command-understanding core together.
package assistant

import (
	"context"
	"errors"
	"fmt"

	"github.com/quantumflow/assistcore/internal/codeanalysis"
	"github.com/quantumflow/assistcore/internal/config"
	"github.com/quantumflow/assistcore/internal/conversation"
	"github.com/quantumflow/assistcore/internal/intent"
	"github.com/quantumflow/assistcore/internal/learning"
	"github.com/quantumflow/assistcore/internal/logging"
	"github.com/quantumflow/assistcore/internal/memory"
	"github.com/quantumflow/assistcore/internal/router"
)

// Assistant owns every component of the core and their lifecycle
type Assistant struct {
	Config        *config.Config
	Stores        *memory.Stores
	Analyzer      *codeanalysis.Analyzer
	Recognizer    *intent.Recognizer
	Workflows     *router.WorkflowIdentifier
	Router        *router.Router
	Matcher       *learning.Matcher
	Engine        *learning.Engine
	Conversations *conversation.Manager

	log *logging.Logger
}

// New builds the core from cfg. A nil cfg selects the defaults.
func New(ctx context.Context, cfg *config.Config, log *logging.Logger) (*Assistant, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	log = logging.OrNop(log)

	stores, err := memory.Open(ctx, cfg.Memory, log.Named("memory"))
	if err != nil {
		return nil, fmt.Errorf("failed to open memory stores: %w", err)
	}

	a := &Assistant{
		Config:     cfg,
		Stores:     stores,
		Analyzer:   codeanalysis.NewAnalyzer(cfg.Code, log),
		Recognizer: intent.NewRecognizer(stores.Search, cfg.Recognition, log),
		Workflows:  router.NewWorkflowIdentifier(nil),
		Router:     router.NewRouter(stores.Search, log),
		log:        log,
	}

	for _, h := range router.DefaultHandlers(a.Analyzer, stores.Search) {
		if err := a.Router.Register(h); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to register %s handler: %w", h.Intent(), err)
		}
	}

	a.Matcher = learning.NewMatcher(stores.Patterns, stores.Embedder, cfg.Patterns, nil, log)
	a.Engine = learning.NewEngine(stores.Patterns, stores.Corrections, stores.Embedder, a.Matcher, cfg.Learning, log)
	if err := a.Engine.Restore(ctx); err != nil {
		log.Warn("could not restore learned corrections", "error", err)
	}

	a.Conversations, err = conversation.NewManager(conversation.Deps{
		Recognizer: a.Recognizer,
		Workflows:  a.Workflows,
		Router:     a.Router,
		Matcher:    a.Matcher,
		Engine:     a.Engine,
		Graph:      stores.Graph,
	}, cfg.Conversation, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

// Close stops background work and closes the stores
func (a *Assistant) Close() error {
	var errs []error

	if a.Recognizer != nil {
		a.Recognizer.Close()
	}
	if a.Stores != nil {
		if err := a.Stores.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
