package analysis

import (
	"math"
	"strconv"
	"strings"

	"support-inbox-ai/internal/domain"
)

var rulesByKind = map[domain.Kind]rules{
	domain.KindSentiment: {
		kind:     domain.KindSentiment,
		task:     "You are an assistant for customer support analytics. Classify the customer's sentiment.",
		contract: sentimentContract{},
		normalize: func(p map[string]any) domain.Result {
			out := domain.Result{}
			if label, ok := firstString(p, "label", "sentiment"); ok {
				out["label"] = strings.ToLower(label)
			}
			if c, ok := firstNumber(p, "confidence", "sentiment_score"); ok {
				out["confidence"] = c
			}
			return out
		},
		validate: func(r domain.Result) error {
			if err := requireOneOf(r, "label", "positive", "neutral", "negative"); err != nil {
				return err
			}
			return requireConfidence(r)
		},
		fallback: func() domain.Result {
			return domain.Result{"label": "neutral", "confidence": 0.0}
		},
	},
	domain.KindIssue: {
		kind:     domain.KindIssue,
		task:     "Classify the customer's main issue.",
		contract: issueContract{},
		normalize: func(p map[string]any) domain.Result {
			out := domain.Result{}
			if category, ok := firstString(p, "category", "issue_category"); ok {
				out["category"] = category
			}
			if c, ok := firstNumber(p, "confidence"); ok {
				out["confidence"] = c
			}
			return out
		},
		validate: func(r domain.Result) error {
			if err := requireText(r, "category"); err != nil {
				return err
			}
			return requireConfidence(r)
		},
		fallback: func() domain.Result {
			return domain.Result{"category": "unknown", "confidence": 0.0}
		},
	},
	domain.KindPriority: {
		kind:     domain.KindPriority,
		task:     "Determine the urgency for customer support triage.",
		contract: priorityContract{},
		normalize: func(p map[string]any) domain.Result {
			out := domain.Result{}
			if priority, ok := firstString(p, "priority"); ok {
				out["priority"] = strings.ToLower(priority)
			}
			if c, ok := firstNumber(p, "confidence"); ok {
				out["confidence"] = c
			}
			return out
		},
		validate: func(r domain.Result) error {
			if err := requireOneOf(r, "priority", "low", "medium", "high"); err != nil {
				return err
			}
			return requireConfidence(r)
		},
		fallback: func() domain.Result {
			return domain.Result{"priority": "medium", "confidence": 0.0}
		},
	},
	domain.KindSummary: {
		kind:     domain.KindSummary,
		task:     "Summarize the conversation for customer support.",
		contract: summaryContract{},
		normalize: func(p map[string]any) domain.Result {
			out := domain.Result{}
			if summary, ok := firstString(p, "summary"); ok {
				out["summary"] = summary
			}
			return out
		},
		validate: func(r domain.Result) error {
			return requireText(r, "summary")
		},
		fallback: func() domain.Result {
			return domain.Result{"summary": ""}
		},
	},
	domain.KindReply: {
		kind:     domain.KindReply,
		task:     "Draft a helpful agent reply for the customer.",
		contract: replyContract{},
		normalize: func(p map[string]any) domain.Result {
			out := domain.Result{}
			if reply, ok := firstString(p, "reply", "suggested_reply"); ok {
				out["reply"] = reply
			}
			return out
		},
		validate: func(r domain.Result) error {
			return requireText(r, "reply")
		},
		fallback: func() domain.Result {
			return domain.Result{"reply": ""}
		},
	},
}

func NewSentimentHandler(llm Completer, opts ...Option) (Handler, error) {
	return newHandler(llm, rulesByKind[domain.KindSentiment], opts...)
}

func NewIssueHandler(llm Completer, opts ...Option) (Handler, error) {
	return newHandler(llm, rulesByKind[domain.KindIssue], opts...)
}

func NewPriorityHandler(llm Completer, opts ...Option) (Handler, error) {
	return newHandler(llm, rulesByKind[domain.KindPriority], opts...)
}

func NewSummaryHandler(llm Completer, opts ...Option) (Handler, error) {
	return newHandler(llm, rulesByKind[domain.KindSummary], opts...)
}

func NewReplyHandler(llm Completer, opts ...Option) (Handler, error) {
	return newHandler(llm, rulesByKind[domain.KindReply], opts...)
}

// DefaultHandlers builds one handler per kind, all sharing llm.
func DefaultHandlers(llm Completer, opts ...Option) ([]Handler, error) {
	ctors := []func(Completer, ...Option) (Handler, error){
		NewSentimentHandler,
		NewSummaryHandler,
		NewIssueHandler,
		NewReplyHandler,
		NewPriorityHandler,
	}
	out := make([]Handler, 0, len(ctors))
	for _, ctor := range ctors {
		h, err := ctor(llm, opts...)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

// firstString returns the first key holding a string, trimmed.
func firstString(p map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := p[k].(string); ok {
			return strings.TrimSpace(s), true
		}
	}
	return "", false
}

// firstNumber returns the first key holding a finite number or numeric
// string. ParseFloat accepts "NaN" and "Inf", which are not numbers here.
func firstNumber(p map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch v := p[k].(type) {
		case float64:
			if finite(v) {
				return v, true
			}
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err == nil && finite(f) {
				return f, true
			}
		}
	}
	return 0, false
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func requireText(r domain.Result, key string) error {
	s, ok := r[key].(string)
	if !ok {
		return invalid("%s missing", key)
	}
	if s == "" {
		return invalid("%s empty", key)
	}
	return nil
}

func requireOneOf(r domain.Result, key string, allowed ...string) error {
	s, ok := r[key].(string)
	if !ok {
		return invalid("%s missing", key)
	}
	for _, a := range allowed {
		if s == a {
			return nil
		}
	}
	return invalid("%s %q not one of %s", key, s, strings.Join(allowed, "|"))
}

func requireConfidence(r domain.Result) error {
	c, ok := r["confidence"].(float64)
	if !ok {
		return invalid("confidence missing")
	}
	if !finite(c) || c < 0 || c > 1 {
		return invalid("confidence %v out of [0,1]", c)
	}
	return nil
}
