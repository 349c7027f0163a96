// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0

package guardrails

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ContentCategory names a kind of project the generator refuses to build.
type ContentCategory string

const (
	CategoryPhishing     ContentCategory = "phishing"
	CategoryMalware      ContentCategory = "malware"
	CategoryCryptomining ContentCategory = "cryptomining"
)

var categoryPatterns = map[ContentCategory][]string{
	CategoryPhishing: {
		`(?i)phishing\s+(page|site|website|email|form|kit)`,
		`(?i)(clone|copy|replica\s+of|fake)\s+(the\s+)?(paypal|google|microsoft|apple|facebook|instagram|bank)\s+(login|sign[- ]?in)`,
		`(?i)(steal|harvest|capture|exfiltrate)\s+(the\s+)?(user'?s?\s+)?(passwords?|credentials|card\s+numbers?)`,
	},
	CategoryMalware: {
		`(?i)\b(keylogger|ransomware|rootkit|botnet)\b`,
		`(?i)(write|create|build)\s+(a\s+)?(virus|trojan|worm)\b`,
		`(?i)drive[- ]by\s+download`,
	},
	CategoryCryptomining: {
		`(?i)(crypto|monero|bitcoin)\s*-?\s*miner`,
		`(?i)mine\s+(crypto|monero|bitcoin)\s+in\s+the\s+(browser|background)`,
	},
}

// Categories lists the known content categories.
func Categories() []ContentCategory {
	return []ContentCategory{CategoryPhishing, CategoryMalware, CategoryCryptomining}
}

// ParseCategory resolves a configured category name.
func ParseCategory(name string) (ContentCategory, error) {
	c := ContentCategory(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := categoryPatterns[c]; !ok {
		return "", fmt.Errorf("unknown content category %q", name)
	}
	return c, nil
}

type categoryRules struct {
	category ContentCategory
	patterns []*regexp.Regexp
}

// ContentFilter blocks prompts asking for disallowed kinds of project and
// prompts containing configured terms.
type ContentFilter struct {
	rules []categoryRules
	terms []string
}

// ContentFilterOption configures the content filter.
type ContentFilterOption func(*ContentFilter)

// NewContentFilter creates a filter for categories. Unknown categories are
// ignored.
func NewContentFilter(categories []ContentCategory, opts ...ContentFilterOption) *ContentFilter {
	f := &ContentFilter{}
	for _, cat := range categories {
		patterns, ok := categoryPatterns[cat]
		if !ok {
			continue
		}
		rules := categoryRules{category: cat}
		for _, p := range patterns {
			rules.patterns = append(rules.patterns, regexp.MustCompile(p))
		}
		f.rules = append(f.rules, rules)
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// WithBlockedTerms blocks prompts containing any of terms, ignoring case.
func WithBlockedTerms(terms ...string) ContentFilterOption {
	return func(f *ContentFilter) {
		for _, t := range terms {
			if t = strings.TrimSpace(t); t != "" {
				f.terms = append(f.terms, strings.ToLower(t))
			}
		}
	}
}

// ID returns the guardrail identifier.
func (f *ContentFilter) ID() string {
	return "content-filter"
}

// CheckInput analyzes the prompt for disallowed content.
func (f *ContentFilter) CheckInput(ctx context.Context, input string) CheckResult {
	if input == "" {
		return CheckResult{}
	}

	for _, r := range f.rules {
		if ctx.Err() != nil {
			return CheckResult{}
		}
		for _, pattern := range r.patterns {
			if pattern.MatchString(input) {
				return CheckResult{
					Blocked:     true,
					Reason:      "content policy violation: " + string(r.category),
					GuardrailID: f.ID(),
					Confidence:  0.9,
					Metadata: map[string]any{
						"category": string(r.category),
						"type":     "pattern",
					},
				}
			}
		}
	}

	normalized := strings.ToLower(input)
	for _, term := range f.terms {
		if strings.Contains(normalized, term) {
			return CheckResult{
				Blocked:     true,
				Reason:      "content policy violation: blocked term",
				GuardrailID: f.ID(),
				Confidence:  0.8,
				Metadata: map[string]any{
					"type": "term",
					"term": term,
				},
			}
		}
	}
	return CheckResult{}
}

// WithContentFilter adds content filtering for categories.
func WithContentFilter(categories []ContentCategory, opts ...ContentFilterOption) Option {
	return WithInputChecker(NewContentFilter(categories, opts...))
}

// LengthLimit blocks prompts longer than Max characters.
type LengthLimit struct {
	Max int
}

// ID returns the guardrail identifier.
func (l LengthLimit) ID() string {
	return "length-limit"
}

// CheckInput counts runes, not bytes.
func (l LengthLimit) CheckInput(_ context.Context, input string) CheckResult {
	if l.Max <= 0 {
		return CheckResult{}
	}
	if n := utf8.RuneCountInString(input); n > l.Max {
		return CheckResult{
			Blocked:     true,
			Reason:      fmt.Sprintf("prompt is %d characters long, the limit is %d", n, l.Max),
			GuardrailID: l.ID(),
			Confidence:  1.0,
			Metadata:    map[string]any{"length": n, "max": l.Max},
		}
	}
	return CheckResult{}
}

// WithLengthLimit blocks prompts longer than max characters. Zero disables
// the limit.
func WithLengthLimit(max int) Option {
	return WithInputChecker(LengthLimit{Max: max})
}
