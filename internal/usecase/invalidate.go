package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"support-inbox-ai/internal/bus"
	"support-inbox-ai/internal/cache"
	"support-inbox-ai/internal/domain"
)

type InboxAnalyzer interface {
	AnalyzeInbox(ctx context.Context, conversationID string) (InboxEnvelope, error)
}

// Invalidator clears cached analyses when new conversation content arrives.
type Invalidator struct {
	cache  cache.Store
	inbox  InboxAnalyzer
	logger *slog.Logger
}

type InvalidatorOption func(*Invalidator)

// WithPrewarm re-runs the inbox analysis after a customer message clears the
// triage entries. Its failures are logged, never returned.
func WithPrewarm(inbox InboxAnalyzer) InvalidatorOption {
	return func(i *Invalidator) {
		i.inbox = inbox
	}
}

func WithInvalidatorLogger(l *slog.Logger) InvalidatorOption {
	return func(i *Invalidator) {
		if l != nil {
			i.logger = l
		}
	}
}

func NewInvalidator(store cache.Store, opts ...InvalidatorOption) (*Invalidator, error) {
	if store == nil {
		return nil, errors.New("usecase: cache store must not be nil")
	}
	i := &Invalidator{cache: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// KindsToInvalidate lists the cache entries a new message from role clears.
// Agent replies do not change how the customer's problem is triaged.
func KindsToInvalidate(role domain.SenderRole) []domain.Kind {
	if role == domain.SenderCustomer {
		return []domain.Kind{domain.KindSummary, domain.KindIssue, domain.KindSentiment, domain.KindPriority}
	}
	return []domain.Kind{domain.KindSummary}
}

// HandleMessageCreated satisfies bus.HandlerFunc.
func (i *Invalidator) HandleMessageCreated(ctx context.Context, evt bus.MessageCreated) error {
	if err := evt.Validate(); err != nil {
		return err
	}

	var errs []error
	for _, kind := range KindsToInvalidate(evt.SenderRole) {
		if err := i.cache.Forget(ctx, evt.ConversationID, kind); err != nil {
			errs = append(errs, fmt.Errorf("usecase: forget %s: %w", kind, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if evt.SenderRole != domain.SenderCustomer || i.inbox == nil {
		return nil
	}
	if _, err := i.inbox.AnalyzeInbox(ctx, evt.ConversationID); err != nil {
		i.logger.Warn("failed to pre-warm inbox analysis",
			"conversation_id", evt.ConversationID,
			"err", err,
		)
	}
	return nil
}
