package quality

import (
	"strings"

	"smartsales/internal/records"
)

// DefaultPlaceholders are the sentinel tokens treated as "no value". Matching
// is case-insensitive after trimming, so " " and "N/A" are covered too.
var DefaultPlaceholders = []string{"", " ", "n/a", "null", "none", "unknown"}

// PlaceholderNormalizer rewrites placeholder tokens to records.Missing.
type PlaceholderNormalizer struct {
	tokens map[string]struct{}
}

// NewPlaceholderNormalizer builds a normalizer for tokens, or for
// DefaultPlaceholders when none are given.
func NewPlaceholderNormalizer(tokens ...string) PlaceholderNormalizer {
	if len(tokens) == 0 {
		tokens = DefaultPlaceholders
	}
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	return PlaceholderNormalizer{tokens: m}
}

// IsPlaceholder reports whether s is one of the configured tokens.
func (p PlaceholderNormalizer) IsPlaceholder(s string) bool {
	_, ok := p.tokens[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// Normalize returns a copy of rec with placeholder strings replaced by
// records.Missing. The input record is never modified.
func (p PlaceholderNormalizer) Normalize(rec records.Record) records.Record {
	out := rec.Clone()
	for name, v := range out.Fields {
		s, ok := v.Str()
		if !ok {
			continue
		}
		if p.IsPlaceholder(s) {
			out.Fields[name] = records.Missing()
		}
	}
	return out
}
