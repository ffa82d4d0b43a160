package analysis

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"support-inbox-ai/internal/domain"
)

type fakeCompleter struct {
	raw     string
	err     error
	prompts []string
	block   bool
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.raw, f.err
}

func mustHandler(t *testing.T, ctor func(Completer, ...Option) (Handler, error), llm Completer, opts ...Option) Handler {
	t.Helper()
	h, err := ctor(llm, opts...)
	require.NoError(t, err)
	return h
}

func requireFailure(t *testing.T, err error, stage Stage) *Failure {
	t.Helper()
	var failure *Failure
	require.ErrorAs(t, err, &failure)
	require.Equal(t, stage, failure.Stage)
	return failure
}

func TestNewHandler_NilCompleter(t *testing.T) {
	_, err := NewSentimentHandler(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestFallbacksAreValid(t *testing.T) {
	handlers, err := DefaultHandlers(&fakeCompleter{})
	require.NoError(t, err)
	require.Len(t, handlers, len(domain.Kinds()))

	for _, h := range handlers {
		fb := h.Fallback()
		switch h.Kind() {
		case domain.KindSummary, domain.KindReply:
			// Text fallbacks stay empty; Validate still rejects empty model output.
			require.Equal(t, "", fb.String(string(h.Kind())))
			require.ErrorIs(t, Validate(h.Kind(), fb), ErrInvalidResult)
		default:
			require.NoError(t, Validate(h.Kind(), fb), "kind=%s", h.Kind())
		}
	}
}

func TestSentimentHandler_Aliases(t *testing.T) {
	llm := &fakeCompleter{raw: `{"sentiment":" Negative ","sentiment_score":"0.9"}`}
	h := mustHandler(t, NewSentimentHandler, llm)

	out, err := h.Handle(context.Background(), "CUSTOMER: I can't log in")
	require.NoError(t, err)
	require.Equal(t, domain.Result{"label": "negative", "confidence": 0.9}, out)
	require.Len(t, llm.prompts, 1)
	require.Contains(t, llm.prompts[0], "Conversation:\nCUSTOMER: I can't log in")
	require.Contains(t, llm.prompts[0], `"label"`)
}

func TestSentimentHandler_RejectsUnknownLabel(t *testing.T) {
	h := mustHandler(t, NewSentimentHandler, &fakeCompleter{raw: `{"label":"angry","confidence":0.4}`})
	_, err := h.Handle(context.Background(), "x")
	requireFailure(t, err, StageValidate)
	require.ErrorIs(t, err, ErrInvalidResult)
}

func TestSentimentHandler_RejectsConfidenceOutOfRange(t *testing.T) {
	h := mustHandler(t, NewSentimentHandler, &fakeCompleter{raw: `{"label":"positive","confidence":1.5}`})
	_, err := h.Handle(context.Background(), "x")
	requireFailure(t, err, StageValidate)
}

func TestHandlers_RejectNonFiniteConfidence(t *testing.T) {
	cases := map[string]struct {
		ctor func(Completer, ...Option) (Handler, error)
		raw  string
	}{
		"sentiment NaN":      {NewSentimentHandler, `{"label":"negative","confidence":"NaN"}`},
		"sentiment nan":      {NewSentimentHandler, `{"label":"negative","sentiment_score":"nan"}`},
		"issue Inf":          {NewIssueHandler, `{"category":"login","confidence":"+Inf"}`},
		"priority -Infinity": {NewPriorityHandler, `{"priority":"low","confidence":"-Infinity"}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			h := mustHandler(t, tc.ctor, &fakeCompleter{raw: tc.raw})
			_, err := h.Handle(context.Background(), "x")
			requireFailure(t, err, StageValidate)
		})
	}
}

func TestValidate_RejectsNaNConfidence(t *testing.T) {
	err := Validate(domain.KindSentiment, domain.Result{"label": "neutral", "confidence": math.NaN()})
	require.ErrorIs(t, err, ErrInvalidResult)
}

func TestIssueHandler(t *testing.T) {
	h := mustHandler(t, NewIssueHandler, &fakeCompleter{raw: "```json\n{\"issue_category\":\" login \",\"confidence\":0.7}\n```"})
	out, err := h.Handle(context.Background(), "x")
	require.NoError(t, err)
	require.Equal(t, "login", out.String("category"))

	h = mustHandler(t, NewIssueHandler, &fakeCompleter{raw: `{"category":"","confidence":0.7}`})
	_, err = h.Handle(context.Background(), "x")
	requireFailure(t, err, StageValidate)

	h = mustHandler(t, NewIssueHandler, &fakeCompleter{raw: `{"category":"billing"}`})
	_, err = h.Handle(context.Background(), "x")
	requireFailure(t, err, StageValidate)
}

func TestPriorityHandler(t *testing.T) {
	h := mustHandler(t, NewPriorityHandler, &fakeCompleter{raw: `{"priority":"HIGH","confidence":0.8}`})
	out, err := h.Handle(context.Background(), "x")
	require.NoError(t, err)
	require.Equal(t, "high", out.String("priority"))

	h = mustHandler(t, NewPriorityHandler, &fakeCompleter{raw: `{"priority":"urgent","confidence":0.8}`})
	_, err = h.Handle(context.Background(), "x")
	requireFailure(t, err, StageValidate)
}

func TestSummaryAndReplyHandlers(t *testing.T) {
	h := mustHandler(t, NewSummaryHandler, &fakeCompleter{raw: `{"summary":"  Customer cannot log in. "}`})
	out, err := h.Handle(context.Background(), "x")
	require.NoError(t, err)
	require.Equal(t, domain.Result{"summary": "Customer cannot log in."}, out)

	h = mustHandler(t, NewReplyHandler, &fakeCompleter{raw: `{"suggested_reply":"Please reset your password."}`})
	out, err = h.Handle(context.Background(), "x")
	require.NoError(t, err)
	require.Equal(t, domain.Result{"reply": "Please reset your password."}, out)

	h = mustHandler(t, NewReplyHandler, &fakeCompleter{raw: `{"reply":"   "}`})
	_, err = h.Handle(context.Background(), "x")
	requireFailure(t, err, StageValidate)
}

func TestHandle_EmptyTranscriptFailsParse(t *testing.T) {
	h := mustHandler(t, NewSummaryHandler, &fakeCompleter{raw: ""})
	_, err := h.Handle(context.Background(), "")
	failure := requireFailure(t, err, StageParse)
	require.Equal(t, domain.KindSummary, failure.Kind)
	require.ErrorIs(t, err, ErrEmptyResponse)
}

func TestHandle_CompletionError(t *testing.T) {
	upstream := errors.New("upstream 503")
	h := mustHandler(t, NewSummaryHandler, &fakeCompleter{err: upstream})
	_, err := h.Handle(context.Background(), "x")
	requireFailure(t, err, StageComplete)
	require.ErrorIs(t, err, upstream)
}

func TestHandle_TimeoutIsACompletionFailure(t *testing.T) {
	h := mustHandler(t, NewPriorityHandler, &fakeCompleter{block: true}, WithTimeout(10*time.Millisecond))
	_, err := h.Handle(context.Background(), "x")
	requireFailure(t, err, StageComplete)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestValidate_UnknownKind(t *testing.T) {
	require.Error(t, Validate(domain.Kind("mood"), domain.Result{}))
}
