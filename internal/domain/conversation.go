package domain

import "time"

// SenderRole identifies who authored a conversation message.
type SenderRole string

const (
	SenderCustomer SenderRole = "customer"
	SenderAgent    SenderRole = "agent"
)

// Valid reports whether r is a known sender role.
func (r SenderRole) Valid() bool {
	return r == SenderCustomer || r == SenderAgent
}

// Message is a single persisted conversation turn.
type Message struct {
	ConversationID string
	MessageID      string
	SenderRole     SenderRole
	Content        string
	CreatedAt      time.Time
}

// ConversationFields are the denormalized analysis fields kept on a
// conversation record. Nil fields are left untouched on write.
type ConversationFields struct {
	IssueCategory  *string
	Sentiment      *string
	SentimentScore *float64
	Priority       *string
}

// Empty reports whether no field is set.
func (f ConversationFields) Empty() bool {
	return f.IssueCategory == nil && f.Sentiment == nil && f.SentimentScore == nil && f.Priority == nil
}

// Insight is the per-conversation summary record.
type Insight struct {
	ConversationID string
	Summary        string
	AnalyzedAt     time.Time
}
