package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"loom/internal/services"
)

// FlakyMarker in a query makes the search tool fail its first attempt for
// that query and succeed on the next one. It exists to exercise the retry
// path end to end without an unreliable external dependency.
const FlakyMarker = "__FLAKY_TEST__"

// SearchTool simulates a web search backend. Results are deterministic so
// the research stage stays reproducible in tests and offline runs.
type SearchTool struct {
	mu       sync.Mutex
	attempts map[string]int
}

// NewSearchTool returns a ready search tool.
func NewSearchTool() *SearchTool {
	return &SearchTool{attempts: make(map[string]int)}
}

// Name identifies the tool in logs.
func (t *SearchTool) Name() string { return "web_search" }

// Search returns simulated results for the query. Queries carrying
// FlakyMarker fail once per distinct query before succeeding.
func (t *SearchTool) Search(ctx context.Context, query string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("%w: search query required", services.ErrValidation)
	}

	if strings.Contains(query, FlakyMarker) && t.failFirstAttempt(query) {
		return "", fmt.Errorf("%w: simulated transient search failure", services.ErrTransient)
	}

	cleaned := strings.TrimSpace(strings.ReplaceAll(query, FlakyMarker, ""))
	if cleaned == "" {
		cleaned = "general research"
	}
	return fmt.Sprintf("Search results for %q:\n"+
		"1. Overview and recent developments related to %s.\n"+
		"2. Comparative analysis highlighting strengths and trade-offs.\n"+
		"3. Practitioner reports describing real-world adoption.",
		cleaned, cleaned), nil
}

func (t *SearchTool) failFirstAttempt(query string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts[query]++
	return t.attempts[query] == 1
}
