package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"loom/internal/logging"
	"loom/internal/services"
)

// WritingAgent converts research notes into a technical comparison draft.
type WritingAgent struct {
	generator Generator
	logger    *slog.Logger
}

// NewWritingAgent constructs a writing agent backed by the given generator.
func NewWritingAgent(generator Generator, logger *slog.Logger) *WritingAgent {
	return &WritingAgent{
		generator: generator,
		logger:    logging.NewComponentLogger(logger, "writing-agent"),
	}
}

// Name identifies the agent in durable task logs.
func (a *WritingAgent) Name() string { return "WritingAgent" }

// Run produces a draft summary from research notes.
func (a *WritingAgent) Run(ctx context.Context, research, taskID string) (string, error) {
	research = strings.TrimSpace(research)
	if research == "" {
		return "", fmt.Errorf("writing: %w", ErrEmptyInput)
	}

	logger := a.logger.With(
		logging.String(logging.FieldAgent, a.Name()),
		logging.String(logging.FieldTaskID, taskID),
	)
	logger.Info("writing started")

	output, err := a.generator.Generate(ctx, writingPrompt(research))
	if err != nil {
		wrapped := services.Wrap(services.ErrExternalService, "writing", "generate", "generation request failed", err)
		logger.Error("writing failed", logging.Error(wrapped))
		return "", wrapped
	}
	if strings.TrimSpace(output) == "" {
		err := fmt.Errorf("writing: %w", ErrEmptyOutput)
		logger.Error("writing failed", logging.Error(err))
		return "", err
	}

	logger.Info("writing completed", logging.Int("output_bytes", len(output)))
	return output, nil
}
