package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"loom/internal/logging"
	"loom/internal/services"
	"loom/internal/tools"
)

// ResearchAgent gathers research notes for a prompt. Prompts carrying the
// flaky marker route through the search tool's retry path instead of the
// generation backend.
type ResearchAgent struct {
	generator Generator
	search    *tools.SearchTool
	retry     tools.RetryPolicy
	logger    *slog.Logger
}

// NewResearchAgent constructs a research agent backed by the given generator.
func NewResearchAgent(generator Generator, logger *slog.Logger) *ResearchAgent {
	return &ResearchAgent{
		generator: generator,
		search:    tools.NewSearchTool(),
		retry:     tools.RetryPolicy{MaxAttempts: 2},
		logger:    logging.NewComponentLogger(logger, "research-agent"),
	}
}

// Name identifies the agent in durable task logs.
func (a *ResearchAgent) Name() string { return "ResearchAgent" }

// Run produces research notes for the input.
func (a *ResearchAgent) Run(ctx context.Context, input, taskID string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("research: %w", ErrEmptyInput)
	}

	logger := a.logger.With(
		logging.String(logging.FieldAgent, a.Name()),
		logging.String(logging.FieldTaskID, taskID),
	)
	logger.Info("research started")

	output, err := a.gather(ctx, logger, input)
	if err != nil {
		logger.Error("research failed", logging.Error(err))
		return "", err
	}

	logger.Info("research completed", logging.Int("output_bytes", len(output)))
	return output, nil
}

func (a *ResearchAgent) gather(ctx context.Context, logger *slog.Logger, input string) (string, error) {
	if strings.Contains(input, tools.FlakyMarker) {
		logger.Info("invoking search tool", logging.String("tool", a.search.Name()))
		output, err := tools.CallWithRetry(ctx, logger, a.search.Name(), a.retry,
			func(ctx context.Context) (string, error) {
				return a.search.Search(ctx, input)
			})
		if err != nil {
			return "", services.Wrap(services.ErrTransient, "research", "search", "search tool exhausted retries", err)
		}
		if strings.TrimSpace(output) == "" {
			return "", fmt.Errorf("research: %w", ErrEmptyOutput)
		}
		return output, nil
	}

	output, err := a.generator.Generate(ctx, researchPrompt(input))
	if err != nil {
		return "", services.Wrap(services.ErrExternalService, "research", "generate", "generation request failed", err)
	}
	if strings.TrimSpace(output) == "" {
		return "", fmt.Errorf("research: %w", ErrEmptyOutput)
	}
	return output, nil
}
