package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/quantumflow/assistcore/internal/assistant"
	"github.com/quantumflow/assistcore/internal/conversation"
	"github.com/quantumflow/assistcore/internal/models"
)

// session is one interactive REPL over a single conversation
type session struct {
	core *assistant.Assistant
	conv *models.Conversation
	last *conversation.TurnResult
}

func runInteractive(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printBanner()

	core, err := assistant.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := core.Close(); err != nil {
			logger.Warn("shutdown incomplete", "error", err)
		}
	}()

	fmt.Printf("✓ Memory: %s search | %s patterns | embeddings: %s\n\n",
		cfg.Memory.SearchBackend, cfg.Memory.PatternBackend, cfg.Memory.EmbeddingProvider)

	s := &session{core: core, conv: core.Conversations.Start(userID)}
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Print("You: ")

		var input string
		select {
		case <-ctx.Done():
			fmt.Println("\n\nShutting down...")
			s.end()
			return nil
		case line, ok := <-lines:
			if !ok {
				s.end()
				return nil
			}
			input = strings.TrimSpace(line)
		}

		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if !s.handleCommand(ctx, input) {
				return nil
			}
			continue
		}

		res, err := core.Conversations.ProcessInput(ctx, s.conv, input)
		if err != nil {
			fmt.Printf("❌ Error: %v\n\n", err)
			continue
		}
		s.last = res
		printTurn(res)
	}
}

func (s *session) end() {
	s.core.Conversations.End(s.conv)
}

// handleCommand runs a slash command. It returns false when the session should end.
func (s *session) handleCommand(ctx context.Context, input string) bool {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return true
	}

	switch parts[0] {
	case "/help":
		fmt.Println("\nCommands: /help /history /stats /suggest /clear /exit")
		fmt.Println("Feedback: /feedback <+|-> [correction]")
		fmt.Println("Confirmation: /confirm <id> /cancel <id>")
		fmt.Println()
	case "/clear", "/new":
		s.end()
		s.conv = s.core.Conversations.Start(userID)
		s.last = nil
		fmt.Println("✓ Conversation cleared")
		fmt.Println()
	case "/history":
		if len(s.conv.Turns) == 0 && len(s.conv.CompressedHistory) == 0 {
			fmt.Println("\nNo history")
			fmt.Println()
			return true
		}
		fmt.Println("\n=== History ===")
		for _, sum := range s.conv.CompressedHistory {
			fmt.Printf("%d. [%s] %s %s\n", sum.Number, sum.Intent, sum.Target, status(sum.Success))
		}
		for _, t := range s.conv.Turns {
			fmt.Printf("%d. %s -> %s\n", t.Number, truncate(t.Input.Resolved, 40), truncate(t.Response.Message, 60))
		}
		fmt.Println()
	case "/stats":
		s.printStats()
	case "/suggest":
		s.printSuggestions()
	case "/feedback":
		s.feedback(ctx, parts[1:])
	case "/confirm":
		if len(parts) < 2 {
			fmt.Println("\nUsage: /confirm <id>")
			fmt.Println()
			return true
		}
		res, err := s.core.Conversations.Confirm(ctx, s.conv, parts[1])
		if err != nil {
			if conversation.IsNoPending(err) {
				fmt.Println("\n⚠️  Nothing is waiting for that confirmation (it may have expired)")
				fmt.Println()
				return true
			}
			fmt.Printf("\n❌ Confirmation failed: %v\n\n", err)
			return true
		}
		s.last = res
		printTurn(res)
	case "/cancel":
		if len(parts) < 2 {
			fmt.Println("\nUsage: /cancel <id>")
			fmt.Println()
			return true
		}
		if s.core.Conversations.Cancel(parts[1]) {
			fmt.Println("✓ Cancelled")
		} else {
			fmt.Println("⚠️  Nothing to cancel")
		}
		fmt.Println()
	case "/exit", "/quit":
		s.end()
		fmt.Println("Goodbye! 👋")
		return false
	default:
		fmt.Printf("\nUnknown command %s (try /help)\n\n", parts[0])
	}
	return true
}

// feedback rates the last turn. Negative feedback may carry the corrected command.
func (s *session) feedback(ctx context.Context, args []string) {
	if len(args) == 0 || (args[0] != "+" && args[0] != "-") {
		fmt.Println("\nUsage: /feedback <+|-> [correction]")
		fmt.Println("Example: /feedback - create a component called Header")
		fmt.Println()
		return
	}
	if s.last == nil || s.last.Turn == nil {
		fmt.Println("\n⚠️  No turn to rate yet")
		fmt.Println()
		return
	}

	fb := models.Feedback{
		ResponseID: s.last.Turn.Response.ID,
		Positive:   args[0] == "+",
		Correction: strings.Join(args[1:], " "),
	}
	if err := s.core.Conversations.Feedback(ctx, s.conv, fb); err != nil {
		fmt.Printf("\n❌ Feedback failed: %v\n\n", err)
		return
	}
	fmt.Println("✓ Thanks, noted")
	fmt.Println()
}

func (s *session) printStats() {
	th := s.core.Engine.Thresholds()
	fmt.Printf("\nTurns: %d (%d live, %d compressed)\n", s.conv.TurnCount, len(s.conv.Turns), len(s.conv.CompressedHistory))
	fmt.Printf("Pattern confidence threshold: %.3f\n", th.PatternConfidence)
	fmt.Printf("Learning rate: %.3f\n", th.LearningRate)
	fmt.Printf("Learned corrections: %d\n", th.LearnedCorrections)

	if bm := s.core.Engine.Behavior(userID); bm != nil {
		intents := make([]string, 0, len(bm.CommandFrequency))
		for in := range bm.CommandFrequency {
			intents = append(intents, string(in))
		}
		sort.Strings(intents)
		for _, in := range intents {
			fmt.Printf("  • %-12s %d\n", in, bm.CommandFrequency[models.IntentType(in)])
		}
	}
	if len(s.conv.Context.Topics) > 0 {
		fmt.Printf("Topics: %s\n", strings.Join(s.conv.Context.Topics, ", "))
	}
	fmt.Println()
}

func (s *session) printSuggestions() {
	if s.last == nil || s.last.Turn == nil || s.last.Turn.Input.Intent == nil {
		fmt.Println("\nNo suggestions yet")
		fmt.Println()
		return
	}

	adaptations := s.core.Engine.Suggest(userID, s.last.Turn.Input.Intent.Type)
	if len(adaptations) == 0 {
		fmt.Println("\nNo suggestions yet")
		fmt.Println()
		return
	}
	fmt.Println("\n💡 Suggestions:")
	for _, a := range adaptations {
		fmt.Printf("  • %s\n", a.Message)
	}
	fmt.Println()
}

func printTurn(res *conversation.TurnResult) {
	if res == nil || res.Turn == nil {
		return
	}
	turn := res.Turn

	if turn.Input.Resolved != turn.Input.Original {
		fmt.Printf("↪ %s\n", turn.Input.Resolved)
	}
	if in := turn.Input.Intent; in != nil {
		fmt.Printf("🧭 %s (%.2f)\n", in.Type, in.Confidence)
	}

	switch turn.Response.Type {
	case models.ResponseError:
		fmt.Printf("❌ %s\n", turn.Response.Message)
	case models.ResponseConfirmation:
		fmt.Printf("⚠️  %s\n", turn.Response.Message)
		fmt.Printf("▶️  Confirm with: /confirm %s\n", turn.Response.ConfirmationID)
	default:
		fmt.Printf("%s %s\n", status(turn.Response.Success), turn.Response.Message)
	}
	if turn.Response.Suggestion != "" {
		fmt.Printf("💡 %s\n", turn.Response.Suggestion)
	}

	if app := res.Application; app != nil && len(app.Actions) > 0 {
		fmt.Printf("🔁 Learned pattern ready (%d actions)\n", len(app.Actions))
		for _, a := range app.Actions {
			fmt.Printf("   • %s\n", a.Tool)
		}
	}
	for _, a := range res.Suggestions {
		fmt.Printf("💡 %s\n", a.Message)
	}
	fmt.Println()
}

func status(ok bool) string {
	if ok {
		return "✓"
	}
	return "✗"
}

func printBanner() {
	fmt.Printf(`
╔═════════════════════════════════════════════════════════╗
║              assistcore %-12s                    ║
║        adaptive command understanding for devs          ║
╚═════════════════════════════════════════════════════════╝

`, version)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
