package agents

import (
	"fmt"

	"loom/internal/services"
)

// ErrEmptyInput marks an agent invoked without usable input. It is a
// validation failure, so the dispatch layer will not retry it.
var ErrEmptyInput = fmt.Errorf("%w: agent received empty input", services.ErrValidation)

// ErrEmptyOutput marks a generation backend that produced no content. It is
// treated as transient because a retried request may succeed.
var ErrEmptyOutput = fmt.Errorf("%w: agent produced empty output", services.ErrTransient)
