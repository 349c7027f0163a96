// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
package verify

import (
	"regexp"
	"strings"
)

// Vote is the verdict of one judge round.
type Vote int

const (
	VoteUnparseable Vote = iota
	VoteValid
	VoteInvalid
)

func (v Vote) String() string {
	switch v {
	case VoteValid:
		return "VALID"
	case VoteInvalid:
		return "INVALID"
	default:
		return "UNPARSEABLE"
	}
}

var (
	invalidRe = regexp.MustCompile(`(?i)\b(?:INVALID|NOT\s+VALID)\b`)
	validRe   = regexp.MustCompile(`(?i)\bVALID\b`)
)

// ParseVerdict extracts the vote from a judge reply. The first non-empty
// line decides when it carries exactly one kind of token. Otherwise the whole
// reply is searched and a rejection token anywhere wins over an acceptance
// token. A reply with neither is VoteUnparseable.
func ParseVerdict(reply string) Vote {
	head := firstLine(reply)
	rejects := invalidRe.MatchString(head)
	accepts := validRe.MatchString(invalidRe.ReplaceAllString(head, " "))
	if rejects != accepts {
		if rejects {
			return VoteInvalid
		}
		return VoteValid
	}

	switch {
	case invalidRe.MatchString(reply):
		return VoteInvalid
	case validRe.MatchString(reply):
		return VoteValid
	default:
		return VoteUnparseable
	}
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
