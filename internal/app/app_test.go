package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"support-inbox-ai/internal/bus"
	"support-inbox-ai/internal/cache"
	"support-inbox-ai/internal/config"
	"support-inbox-ai/internal/domain"
	"support-inbox-ai/internal/usecase"
)

type memStore struct {
	mu       sync.Mutex
	messages []domain.Message
	fields   map[string]domain.ConversationFields
	insights map[string]domain.Insight
}

func newMemStore() *memStore {
	return &memStore{
		fields:   map[string]domain.ConversationFields{},
		insights: map[string]domain.Insight{},
	}
}

func (m *memStore) LoadMessages(_ context.Context, conversationID string, limit int) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memStore) WriteMessage(_ context.Context, msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *memStore) UpdateConversationFields(_ context.Context, conversationID string, fields domain.ConversationFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fields[conversationID] = fields
	return nil
}

func (m *memStore) UpsertInsight(_ context.Context, insight domain.Insight) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insights[insight.ConversationID] = insight
	return nil
}

func (m *memStore) GetConversationFields(_ context.Context, conversationID string) (domain.ConversationFields, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fields[conversationID], nil
}

func (m *memStore) GetInsight(_ context.Context, conversationID string) (domain.Insight, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.insights[conversationID]
	return in, ok, nil
}

type fakeLLM struct{}

func (fakeLLM) Complete(context.Context, string) (string, error) {
	return `{"summary":"Customer cannot log in."}`, nil
}

type recordingPublisher struct {
	events []bus.MessageCreated
}

func (r *recordingPublisher) Publish(_ context.Context, evt bus.MessageCreated) error {
	r.events = append(r.events, evt)
	return nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.ParamPrefix = "/support-inbox"
	cfg.Store.StateTable = "inbox-state"
	cfg.LLM.Timeout = time.Second
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAssemble_RequiresDependencies(t *testing.T) {
	_, err := Assemble(testConfig(), nil, Deps{Cache: cache.NewMemory(), LLM: fakeLLM{}})
	require.Error(t, err)
}

func TestAssemble_RegistersEveryKind(t *testing.T) {
	a, err := Assemble(testConfig(), quietLogger(), Deps{Store: newMemStore(), Cache: cache.NewMemory(), LLM: fakeLLM{}})
	require.NoError(t, err)
	require.ElementsMatch(t, domain.Kinds(), a.Registry.Kinds())
	require.NoError(t, a.Close())
}

func TestAssemble_RecordedMessageInvalidatesAndFansOut(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	mem := cache.NewMemory()
	remote := &recordingPublisher{}

	a, err := Assemble(testConfig(), quietLogger(), Deps{Store: store, Cache: mem, LLM: fakeLLM{}, Remote: remote})
	require.NoError(t, err)

	for _, kind := range []domain.Kind{domain.KindSummary, domain.KindSentiment} {
		require.NoError(t, mem.Put(ctx, "c1", kind, domain.Result{"x": "y"}, time.Hour))
	}

	msg, err := a.Messages.Record(ctx, usecase.RecordMessageInput{
		ConversationID: "c1",
		SenderRole:     "agent",
		Content:        "Try resetting your password.",
	})
	require.NoError(t, err)
	require.Len(t, store.messages, 1)

	require.Len(t, remote.events, 1)
	require.Equal(t, msg.MessageID, remote.events[0].MessageID)

	ok, err := mem.Has(ctx, "c1", domain.KindSummary)
	require.NoError(t, err)
	require.False(t, ok, "agent message clears the summary")
	ok, err = mem.Has(ctx, "c1", domain.KindSentiment)
	require.NoError(t, err)
	require.True(t, ok, "agent message keeps triage entries")
}

func TestApp_NewConsumerRequiresBrokers(t *testing.T) {
	a, err := Assemble(testConfig(), quietLogger(), Deps{Store: newMemStore(), Cache: cache.NewMemory(), LLM: fakeLLM{}})
	require.NoError(t, err)
	_, err = a.NewConsumer()
	require.ErrorContains(t, err, "kafka")
}

type staticParams map[string]string

func (p staticParams) GetParameter(_ context.Context, name string) (string, error) {
	v, ok := p[name]
	if !ok {
		return "", errors.New("parameter not found")
	}
	return v, nil
}

func TestNewCompleter_SelectsProvider(t *testing.T) {
	cfg := testConfig()
	params := staticParams{}

	llm, err := NewCompleter(cfg, params)
	require.NoError(t, err)
	require.Contains(t, typeName(llm), "openai")

	cfg.LLM.Provider = config.ProviderGemini
	llm, err = NewCompleter(cfg, params)
	require.NoError(t, err)
	require.Contains(t, typeName(llm), "gemini")

	cfg.LLM.Provider = "anthropic"
	_, err = NewCompleter(cfg, params)
	require.Error(t, err)
}

func typeName(v any) string {
	return strings.ToLower(fmt.Sprintf("%T", v))
}
