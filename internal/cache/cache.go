// Package cache stores analysis results per (conversation, kind) with a TTL.
package cache

import (
	"context"
	"time"

	"support-inbox-ai/internal/domain"
)

const (
	// Namespace prefixes every cache key.
	Namespace = "ai"
	// DefaultTTL is how long a written result stays live.
	DefaultTTL = 3600 * time.Second
)

// Store is the result cache contract. Entries expire passively: an expired
// entry is reported as absent on read.
type Store interface {
	Has(ctx context.Context, conversationID string, kind domain.Kind) (bool, error)
	Get(ctx context.Context, conversationID string, kind domain.Kind) (domain.Result, bool, error)
	Put(ctx context.Context, conversationID string, kind domain.Kind, result domain.Result, ttl time.Duration) error
	Forget(ctx context.Context, conversationID string, kind domain.Kind) error
}

// Key returns the storage key "ai:{conversationID}:{kind}". Other writers of
// the same store rely on this exact shape.
func Key(conversationID string, kind domain.Kind) string {
	return Namespace + ":" + conversationID + ":" + string(kind)
}
