package broadcast

import (
	"fmt"

	"github.com/samsaffron/grok-mind/internal/llm"
)

// FormatCompletion renders the output payload for a successful query.
func FormatCompletion(c *llm.Completion) string {
	return fmt.Sprintf("Grok Response:\n%s\n\nModel: %s", c.Content, c.Model)
}

// FormatError renders the output payload for a failed query.
func FormatError(err error) string {
	return "Error: " + err.Error()
}
