package moderation

import (
	"context"
	"strings"
)

var defaultBlocklist = []string{
	"child abuse",
	"csam",
	"beheading",
	"terrorist attack",
	"suicide instructions",
	"nude minor",
}

// KeywordGate 大小写不敏感的关键词黑名单
type KeywordGate struct {
	terms []string
}

// NewKeywordGate terms 为空时使用内置黑名单
func NewKeywordGate(terms []string) *KeywordGate {
	if len(terms) == 0 {
		terms = defaultBlocklist
	}
	normalized := make([]string, 0, len(terms))
	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		normalized = append(normalized, term)
	}
	return &KeywordGate{terms: normalized}
}

func (g *KeywordGate) Moderate(_ context.Context, prompt string) (Result, error) {
	lower := strings.ToLower(prompt)
	for _, term := range g.terms {
		if strings.Contains(lower, term) {
			return Reject("prompt contains blocked term: " + term), nil
		}
	}
	return Allow(), nil
}
