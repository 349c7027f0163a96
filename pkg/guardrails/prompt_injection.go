// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0

package guardrails

import (
	"context"
	"regexp"
)

// PromptInjectionDetector looks for attempts to override the generation
// instructions or extract them.
type PromptInjectionDetector struct {
	patterns  []*regexp.Regexp
	threshold float64
}

// PromptInjectionOption configures the prompt injection detector.
type PromptInjectionOption func(*PromptInjectionDetector)

// Requests for a dark mode, a debug panel or a base64 converter are normal UI
// prompts, so only phrasing aimed at the model itself is listed.
var defaultInjectionPatterns = []string{
	// Instruction override
	`(?i)(ignore|disregard|forget|override)\s+(all\s+)?(the\s+)?(previous|prior|above|system)\s+(instructions?|prompts?|rules?)`,
	`(?i)you\s+are\s+now\s+(a|an)\s+`,
	`(?i)from\s+now\s+on\s+you\s+(are|will)\s+`,

	// Instruction extraction
	`(?i)(what\s+(is|are)|show\s+me|reveal|print|repeat)\s+your\s+(system\s+)?(prompt|instructions?)`,

	// Jailbreaks
	`(?i)do\s+anything\s+now`,
	`(?i)\bDAN\s+mode\b`,
	`(?i)\bjailbreak\b`,
	`(?i)bypass\s+(your\s+)?(safety|content)\s+(filters?|rules?)`,

	// Chat template delimiters
	`(?i)\]\]\s*system\s*:`,
	`<\|[a-z_]+\|>`,
	`(?i)\[/?INST\]`,
	`(?i)<</?SYS>>`,
}

// NewPromptInjectionDetector creates a detector with the default patterns.
func NewPromptInjectionDetector(opts ...PromptInjectionOption) *PromptInjectionDetector {
	d := &PromptInjectionDetector{
		patterns: make([]*regexp.Regexp, 0, len(defaultInjectionPatterns)),
	}
	for _, pattern := range defaultInjectionPatterns {
		d.patterns = append(d.patterns, regexp.MustCompile(pattern))
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// WithInjectionPatterns adds patterns to detect. Patterns that do not compile
// are skipped; use CompilePatterns to report them.
func WithInjectionPatterns(patterns ...string) PromptInjectionOption {
	return func(d *PromptInjectionDetector) {
		for _, pattern := range patterns {
			if re, err := regexp.Compile(pattern); err == nil {
				d.patterns = append(d.patterns, re)
			}
		}
	}
}

// WithInjectionThreshold sets the confidence a match must reach to block.
func WithInjectionThreshold(threshold float64) PromptInjectionOption {
	return func(d *PromptInjectionDetector) {
		if threshold >= 0 && threshold <= 1 {
			d.threshold = threshold
		}
	}
}

// CompilePatterns returns the first pattern that does not compile.
func CompilePatterns(patterns []string) error {
	for _, p := range patterns {
		if _, err := regexp.Compile(p); err != nil {
			return err
		}
	}
	return nil
}

// ID returns the guardrail identifier.
func (d *PromptInjectionDetector) ID() string {
	return "prompt-injection"
}

// CheckInput counts pattern matches. One match gives a confidence of 0.7
// and each further match adds 0.1.
func (d *PromptInjectionDetector) CheckInput(ctx context.Context, input string) CheckResult {
	if input == "" {
		return CheckResult{}
	}

	var matched []string
	for _, pattern := range d.patterns {
		if ctx.Err() != nil {
			return CheckResult{}
		}
		if pattern.MatchString(input) {
			matched = append(matched, pattern.String())
		}
	}
	if len(matched) == 0 {
		return CheckResult{}
	}

	confidence := min(0.7+float64(len(matched)-1)*0.1, 1.0)
	if confidence < d.threshold {
		return CheckResult{Confidence: confidence}
	}
	return CheckResult{
		Blocked:     true,
		Reason:      "potential prompt injection detected",
		GuardrailID: d.ID(),
		Confidence:  confidence,
		Metadata: map[string]any{
			"matched_patterns": matched,
			"match_count":      len(matched),
		},
	}
}

// WithPromptInjectionDetector adds prompt injection detection.
func WithPromptInjectionDetector(opts ...PromptInjectionOption) Option {
	return WithInputChecker(NewPromptInjectionDetector(opts...))
}
