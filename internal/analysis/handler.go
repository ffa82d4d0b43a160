// Package analysis turns a conversation transcript into one kind of AI
// annotation. Every kind shares the same base: build a prompt, call the
// text-completion collaborator once, pull a JSON object out of the raw
// response, normalize field aliases and validate.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"support-inbox-ai/internal/domain"
)

// DefaultTimeout bounds a single completion call.
const DefaultTimeout = 20 * time.Second

// Completer is the external text-completion collaborator.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Handler produces one analysis kind.
type Handler interface {
	Kind() domain.Kind
	Handle(ctx context.Context, transcript string) (domain.Result, error)
	Fallback() domain.Result
}

// Option configures a handler.
type Option func(*handler)

// WithTimeout overrides DefaultTimeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(h *handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// rules is what distinguishes one kind from another.
type rules struct {
	kind      domain.Kind
	task      string
	contract  any
	normalize func(payload map[string]any) domain.Result
	validate  func(r domain.Result) error
	fallback  func() domain.Result
}

type handler struct {
	llm     Completer
	timeout time.Duration
	rules   rules
	schema  string
}

func newHandler(llm Completer, r rules, opts ...Option) (Handler, error) {
	if llm == nil {
		return nil, errors.New("analysis: completer must not be nil")
	}
	h := &handler{
		llm:     llm,
		timeout: DefaultTimeout,
		rules:   r,
		schema:  contractSchema(r.contract),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *handler) Kind() domain.Kind {
	return h.rules.kind
}

func (h *handler) Fallback() domain.Result {
	return h.rules.fallback()
}

func (h *handler) Handle(ctx context.Context, transcript string) (domain.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	raw, err := h.llm.Complete(ctx, h.prompt(transcript))
	if err != nil {
		return nil, &Failure{Kind: h.rules.kind, Stage: StageComplete, Err: err}
	}

	payload, err := ParseObject(raw)
	if err != nil {
		return nil, &Failure{Kind: h.rules.kind, Stage: StageParse, Err: err}
	}

	result := h.rules.normalize(payload)
	if err := h.rules.validate(result); err != nil {
		return nil, &Failure{Kind: h.rules.kind, Stage: StageValidate, Err: err}
	}
	return result, nil
}

func (h *handler) prompt(transcript string) string {
	var b strings.Builder
	b.WriteString(h.rules.task)
	b.WriteString("\n")
	if h.schema != "" {
		b.WriteString("Return ONLY valid JSON matching this schema:\n")
		b.WriteString(h.schema)
	} else {
		b.WriteString("Return ONLY valid JSON.")
	}
	b.WriteString("\n\nConversation:\n")
	b.WriteString(transcript)
	return b.String()
}

// Validate applies the validity predicate of kind to r.
func Validate(kind domain.Kind, r domain.Result) error {
	rl, ok := rulesByKind[kind]
	if !ok {
		return fmt.Errorf("analysis: no rules for kind %q", kind)
	}
	return rl.validate(r)
}
