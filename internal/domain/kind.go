package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies one category of AI-derived conversation annotation.
type Kind string

const (
	KindSentiment Kind = "sentiment"
	KindSummary   Kind = "summary"
	KindIssue     Kind = "issue"
	KindReply     Kind = "reply"
	KindPriority  Kind = "priority"
)

// ErrUnknownKind is returned by ParseKind for strings outside the closed set.
var ErrUnknownKind = errors.New("domain: unknown analysis kind")

var kindAliases = map[string]Kind{
	"issue_classification": KindIssue,
	"suggested_reply":      KindReply,
}

// Kinds returns every analysis kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindSentiment, KindSummary, KindIssue, KindReply, KindPriority}
}

// InboxKinds are the kinds combined by the inbox analysis.
func InboxKinds() []Kind {
	return []Kind{KindIssue, KindSentiment, KindPriority}
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindSentiment, KindSummary, KindIssue, KindReply, KindPriority:
		return true
	}
	return false
}

func (k Kind) String() string {
	return string(k)
}

// ParseKind normalizes a caller-supplied kind string, resolving aliases.
func ParseKind(s string) (Kind, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if alias, ok := kindAliases[v]; ok {
		return alias, nil
	}
	k := Kind(v)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}
