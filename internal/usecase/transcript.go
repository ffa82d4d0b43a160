package usecase

import (
	"context"
	"fmt"
	"strings"

	"support-inbox-ai/internal/domain"
)

const defaultMessageWindow = 20

// MessageLoader returns up to limit of the most recent messages of a
// conversation in chronological order.
type MessageLoader interface {
	LoadMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
}

// BuildTranscript renders the latest window messages as "ROLE: content"
// lines, oldest first. A conversation without messages yields "".
func BuildTranscript(ctx context.Context, loader MessageLoader, conversationID string, window int) (string, error) {
	if window <= 0 {
		window = defaultMessageWindow
	}
	msgs, err := loader.LoadMessages(ctx, conversationID, window)
	if err != nil {
		return "", fmt.Errorf("usecase: load messages: %w", err)
	}
	if len(msgs) > window {
		msgs = msgs[len(msgs)-window:]
	}

	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, strings.ToUpper(string(m.SenderRole))+": "+m.Content)
	}
	return strings.Join(lines, "\n"), nil
}
