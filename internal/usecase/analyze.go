package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"support-inbox-ai/internal/analysis"
	"support-inbox-ai/internal/cache"
	"support-inbox-ai/internal/domain"
)

const (
	labelNegative   = "negative"
	priorityHigh    = "high"
	fieldLabel      = "label"
	fieldConfidence = "confidence"
	fieldCategory   = "category"
	fieldPriority   = "priority"
	fieldSummary    = "summary"
)

type HandlerLookup interface {
	Lookup(kind domain.Kind) (analysis.Handler, bool)
}

type ConversationStore interface {
	MessageLoader
	UpdateConversationFields(ctx context.Context, conversationID string, fields domain.ConversationFields) error
}

type InsightStore interface {
	UpsertInsight(ctx context.Context, insight domain.Insight) error
}

// KindPolicy controls the cache and persistence side effects of a single-kind
// analysis.
type KindPolicy struct {
	Cacheable bool
	Persist   bool
}

// DefaultPolicies caches every kind except reply and persists every kind
// except reply.
func DefaultPolicies() map[domain.Kind]KindPolicy {
	return map[domain.Kind]KindPolicy{
		domain.KindSentiment: {Cacheable: true, Persist: true},
		domain.KindSummary:   {Cacheable: true, Persist: true},
		domain.KindIssue:     {Cacheable: true, Persist: true},
		domain.KindPriority:  {Cacheable: true, Persist: true},
		domain.KindReply:     {Cacheable: false, Persist: false},
	}
}

// Envelope is the uniform single-kind response.
type Envelope struct {
	Data     domain.Result `json:"data"`
	Cached   bool          `json:"cached"`
	Fallback bool          `json:"fallback"`
}

// Status is the cache/fallback provenance of one inbox sub-analysis.
type Status struct {
	Cached   bool `json:"cached"`
	Fallback bool `json:"fallback"`
}

// InboxData holds the combined inbox fields. A nil field means the
// sub-analysis produced no value for it.
type InboxData struct {
	IssueCategory  *string  `json:"issue_category"`
	Sentiment      *string  `json:"sentiment"`
	SentimentScore *float64 `json:"sentiment_score"`
	Priority       *string  `json:"priority"`
}

type InboxMeta struct {
	Issue     Status `json:"issue"`
	Sentiment Status `json:"sentiment"`
	Priority  Status `json:"priority"`
}

type InboxEnvelope struct {
	Data InboxData `json:"data"`
	Meta InboxMeta `json:"meta"`
}

type AnalysisService struct {
	handlers      HandlerLookup
	cache         cache.Store
	conversations ConversationStore
	insights      InsightStore
	policies      map[domain.Kind]KindPolicy
	ttl           time.Duration
	window        int
	logger        *slog.Logger
	now           func() time.Time
	flight        singleflight.Group
}

type ServiceOption func(*AnalysisService)

func WithPolicy(kind domain.Kind, p KindPolicy) ServiceOption {
	return func(s *AnalysisService) {
		s.policies[kind] = p
	}
}

func WithCacheTTL(ttl time.Duration) ServiceOption {
	return func(s *AnalysisService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithMessageWindow(n int) ServiceOption {
	return func(s *AnalysisService) {
		if n > 0 {
			s.window = n
		}
	}
}

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *AnalysisService) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewAnalysisService(handlers HandlerLookup, store cache.Store, conversations ConversationStore, insights InsightStore, opts ...ServiceOption) (*AnalysisService, error) {
	if handlers == nil {
		return nil, errors.New("usecase: handler lookup must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: cache store must not be nil")
	}
	if conversations == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if insights == nil {
		return nil, errors.New("usecase: insight store must not be nil")
	}
	s := &AnalysisService{
		handlers:      handlers,
		cache:         store,
		conversations: conversations,
		insights:      insights,
		policies:      DefaultPolicies(),
		ttl:           cache.DefaultTTL,
		window:        defaultMessageWindow,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Analyze runs one analysis kind for a conversation. Handler failures never
// surface as errors; they produce the handler's fallback with Fallback set.
// An error is returned only for invalid input or when the conversation's
// messages cannot be loaded.
func (s *AnalysisService) Analyze(ctx context.Context, conversationID string, kind domain.Kind) (Envelope, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return Envelope{}, newError(ErrorInvalidInput, ReasonMissingConversation, nil)
	}
	if !kind.Valid() {
		return Envelope{}, newError(ErrorInvalidInput, ReasonUnknownKind, nil)
	}
	return s.resolve(ctx, conversationID, kind, s.policy(kind), s.transcriptOnce(conversationID))
}

// Summary returns the cached or freshly computed conversation summary.
func (s *AnalysisService) Summary(ctx context.Context, conversationID string) (Envelope, error) {
	return s.Analyze(ctx, conversationID, domain.KindSummary)
}

// SuggestReply drafts an agent reply.
func (s *AnalysisService) SuggestReply(ctx context.Context, conversationID string) (Envelope, error) {
	return s.Analyze(ctx, conversationID, domain.KindReply)
}

// AnalyzeInbox runs issue, sentiment and priority concurrently, applies the
// escalation rule once all three are done and writes the combined fields to
// the conversation.
func (s *AnalysisService) AnalyzeInbox(ctx context.Context, conversationID string) (InboxEnvelope, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return InboxEnvelope{}, newError(ErrorInvalidInput, ReasonMissingConversation, nil)
	}

	transcript := s.transcriptOnce(conversationID)
	kinds := domain.InboxKinds()
	results := make([]Envelope, len(kinds))

	var g errgroup.Group
	for i, kind := range kinds {
		policy := s.policy(kind)
		policy.Persist = false
		g.Go(func() error {
			env, err := s.resolve(ctx, conversationID, kind, policy, transcript)
			results[i] = env
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return InboxEnvelope{}, err
	}
	issue, sentiment, priority := results[0], results[1], results[2]

	persistCtx := context.WithoutCancel(ctx)
	priorityData := priority.Data.Clone()
	if sentiment.Data.String(fieldLabel) == labelNegative {
		priorityData[fieldPriority] = priorityHigh
		// A fallback priority was never cached; only a real entry is rewritten.
		if s.policy(domain.KindPriority).Cacheable && !priority.Fallback {
			if err := s.cache.Put(persistCtx, conversationID, domain.KindPriority, priorityData, s.ttl); err != nil {
				s.logger.Warn("failed to cache escalated priority",
					"conversation_id", conversationID,
					"err", err,
				)
			}
		}
	}

	data := InboxData{
		IssueCategory:  optString(issue.Data, fieldCategory),
		Sentiment:      optString(sentiment.Data, fieldLabel),
		SentimentScore: optFloat(sentiment.Data, fieldConfidence),
		Priority:       optString(priorityData, fieldPriority),
	}
	fields := domain.ConversationFields{
		IssueCategory:  data.IssueCategory,
		Sentiment:      data.Sentiment,
		SentimentScore: data.SentimentScore,
		Priority:       data.Priority,
	}
	if !fields.Empty() {
		if err := s.conversations.UpdateConversationFields(persistCtx, conversationID, fields); err != nil {
			s.logger.Error("failed to persist inbox analysis",
				"conversation_id", conversationID,
				"err", err,
			)
		}
	}

	return InboxEnvelope{
		Data: data,
		Meta: InboxMeta{
			Issue:     Status{Cached: issue.Cached, Fallback: issue.Fallback},
			Sentiment: Status{Cached: sentiment.Cached, Fallback: sentiment.Fallback},
			Priority:  Status{Cached: priority.Cached, Fallback: priority.Fallback},
		},
	}, nil
}

func (s *AnalysisService) policy(kind domain.Kind) KindPolicy {
	if p, ok := s.policies[kind]; ok {
		return p
	}
	return KindPolicy{Cacheable: true}
}

// transcriptOnce loads the transcript at most once, and only if a handler
// actually needs it.
func (s *AnalysisService) transcriptOnce(conversationID string) func(context.Context) (string, error) {
	var (
		once sync.Once
		text string
		err  error
	)
	return func(ctx context.Context) (string, error) {
		once.Do(func() {
			text, err = BuildTranscript(ctx, s.conversations, conversationID, s.window)
		})
		return text, err
	}
}

func (s *AnalysisService) resolve(ctx context.Context, conversationID string, kind domain.Kind, policy KindPolicy, transcript func(context.Context) (string, error)) (Envelope, error) {
	if policy.Cacheable {
		cached, ok, err := s.cache.Get(ctx, conversationID, kind)
		if err != nil {
			s.logger.Warn("cache read failed, recomputing",
				"type", kind,
				"conversation_id", conversationID,
				"err", err,
			)
		} else if ok {
			return Envelope{Data: cached, Cached: true}, nil
		}
	}

	h, ok := s.handlers.Lookup(kind)
	if !ok {
		s.logger.Warn("no handler registered for kind",
			"type", kind,
			"conversation_id", conversationID,
		)
		return Envelope{Data: domain.Result{}, Fallback: true}, nil
	}

	text, err := transcript(ctx)
	if err != nil {
		return Envelope{}, newError(ErrorInternal, ReasonMessageLoad, err)
	}

	key := cache.Key(conversationID, kind)
	if policy.Persist {
		key += "#persist"
	}
	v, _, _ := s.flight.Do(key, func() (any, error) {
		return s.invoke(ctx, conversationID, h, text, policy), nil
	})
	env := v.(Envelope)
	env.Data = env.Data.Clone()
	return env, nil
}

// invoke calls the handler detached from caller cancellation so an abandoned
// request still fills the cache. The handler applies its own timeout.
func (s *AnalysisService) invoke(ctx context.Context, conversationID string, h analysis.Handler, transcript string, policy KindPolicy) Envelope {
	ctx = context.WithoutCancel(ctx)
	kind := h.Kind()
	started := s.now()

	data, err := h.Handle(ctx, transcript)
	elapsed := s.now().Sub(started).Milliseconds()
	if err != nil {
		s.logger.Warn("analysis failed, returning fallback",
			"type", kind,
			"conversation_id", conversationID,
			"err", err,
			"execution_ms", elapsed,
		)
		return Envelope{Data: h.Fallback(), Fallback: true}
	}

	if policy.Cacheable {
		if err := s.cache.Put(ctx, conversationID, kind, data, s.ttl); err != nil {
			s.logger.Warn("failed to cache analysis result",
				"type", kind,
				"conversation_id", conversationID,
				"err", err,
			)
		}
	}
	if policy.Persist {
		if err := s.persist(ctx, conversationID, kind, data); err != nil {
			s.logger.Error("failed to persist analysis result",
				"type", kind,
				"conversation_id", conversationID,
				"err", err,
			)
		}
	}

	s.logger.Info("analysis completed",
		"type", kind,
		"conversation_id", conversationID,
		"execution_ms", elapsed,
	)
	return Envelope{Data: data}
}

func (s *AnalysisService) persist(ctx context.Context, conversationID string, kind domain.Kind, data domain.Result) error {
	switch kind {
	case domain.KindSummary:
		return s.insights.UpsertInsight(ctx, domain.Insight{
			ConversationID: conversationID,
			Summary:        data.String(fieldSummary),
			AnalyzedAt:     s.now().UTC(),
		})
	case domain.KindSentiment:
		return s.conversations.UpdateConversationFields(ctx, conversationID, domain.ConversationFields{
			Sentiment:      optString(data, fieldLabel),
			SentimentScore: optFloat(data, fieldConfidence),
		})
	case domain.KindIssue:
		return s.conversations.UpdateConversationFields(ctx, conversationID, domain.ConversationFields{
			IssueCategory: optString(data, fieldCategory),
		})
	case domain.KindPriority:
		return s.conversations.UpdateConversationFields(ctx, conversationID, domain.ConversationFields{
			Priority: optString(data, fieldPriority),
		})
	}
	return nil
}

func optString(r domain.Result, key string) *string {
	s, ok := r[key].(string)
	if !ok {
		return nil
	}
	return &s
}

func optFloat(r domain.Result, key string) *float64 {
	f, ok := r.Float(key)
	if !ok {
		return nil
	}
	return &f
}
