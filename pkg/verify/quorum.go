// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
// Package verify runs independent judge rounds over a manifest and decides
// acceptance by majority vote.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jllopis/artifacts/pkg/errors"
	"github.com/jllopis/artifacts/pkg/llm"
	"github.com/jllopis/artifacts/pkg/manifest"
	"github.com/jllopis/artifacts/pkg/prompts"
	"github.com/jllopis/artifacts/pkg/resilience"
	"github.com/jllopis/artifacts/pkg/telemetry"
)

// Decision is the outcome of a quorum.
type Decision string

const (
	Accept Decision = "ACCEPT"
	Reject Decision = "REJECT"
)

// Round is the record of one judge call.
type Round struct {
	Index     int
	Vote      Vote
	Rationale string
	Err       error
	Duration  time.Duration
}

// Tally counts votes of a quorum.
type Tally struct {
	Rounds      int
	Threshold   int
	Valid       int
	Invalid     int
	Unparseable int
}

func (t Tally) String() string {
	return fmt.Sprintf("%d of %d judges voted VALID (threshold %d); %d INVALID, %d unparseable",
		t.Valid, t.Rounds, t.Threshold, t.Invalid, t.Unparseable)
}

// Result is the outcome of Verify.
type Result struct {
	Votes    []Vote
	Rounds   []Round
	Tally    Tally
	Decision Decision
}

// Accepted reports whether the quorum accepted the manifest.
func (r *Result) Accepted() bool {
	return r != nil && r.Decision == Accept
}

// Feedback summarises a rejection for the repair engine: the tally followed
// by the rationale of every non-VALID round.
func (r *Result) Feedback() string {
	var sb strings.Builder
	sb.WriteString("The verification quorum rejected the project: ")
	sb.WriteString(r.Tally.String())
	sb.WriteString(".")
	for _, round := range r.Rounds {
		if round.Vote == VoteValid {
			continue
		}
		switch {
		case round.Rationale != "":
			fmt.Fprintf(&sb, "\nJudge %d (%s): %s", round.Index, round.Vote, round.Rationale)
		case round.Err != nil:
			fmt.Fprintf(&sb, "\nJudge %d gave no verdict.", round.Index)
		}
	}
	return sb.String()
}

const maxRationale = 600

// Quorum asks a judge completer for independent verdicts.
type Quorum struct {
	judge   llm.Completer
	catalog *prompts.Catalog
	timeout time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer
}

// Option configures a Quorum.
type Option func(*Quorum)

// WithCatalog sets the prompt catalog.
func WithCatalog(c *prompts.Catalog) Option {
	return func(q *Quorum) {
		q.catalog = c
	}
}

// WithRoundTimeout bounds every judge call. A round that times out votes
// VoteUnparseable.
func WithRoundTimeout(d time.Duration) Option {
	return func(q *Quorum) {
		q.timeout = d
	}
}

// WithLogger sets the fallback logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Quorum) {
		q.logger = l
	}
}

// NewQuorum returns a Quorum backed by judge.
func NewQuorum(judge llm.Completer, opts ...Option) *Quorum {
	q := &Quorum{
		judge:   judge,
		timeout: 60 * time.Second,
		tracer:  otel.Tracer("artifacts/verify"),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.catalog == nil {
		q.catalog = prompts.Default()
	}
	return q
}

// Verify runs rounds judge calls concurrently and accepts m when at least
// threshold of them vote VALID. Judge failures count as VoteUnparseable; only
// cancellation of ctx aborts the quorum.
func (q *Quorum) Verify(ctx context.Context, m *manifest.Manifest, rounds, threshold int) (*Result, error) {
	if rounds < 1 || threshold < 1 || threshold > rounds {
		return nil, errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("invalid quorum %d of %d", threshold, rounds), nil)
	}
	if m == nil {
		return nil, errors.New(errors.CodeInvalidInput, "nil manifest", nil)
	}

	user, err := q.catalog.Judging(m)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "render judge prompt", err)
	}
	req := llm.CompletionRequest{System: q.catalog.Judge.System, User: user}
	logger := telemetry.LoggerFrom(ctx, q.logger)

	results := make([]Round, rounds)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < rounds; i++ {
		g.Go(func() error {
			results[i] = q.round(gctx, i+1, req)
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.New(errors.CodeCanceled, "verification canceled", err)
	}

	res := &Result{
		Votes:  make([]Vote, rounds),
		Rounds: results,
		Tally:  Tally{Rounds: rounds, Threshold: threshold},
	}
	for i, r := range results {
		res.Votes[i] = r.Vote
		switch r.Vote {
		case VoteValid:
			res.Tally.Valid++
		case VoteInvalid:
			res.Tally.Invalid++
		default:
			res.Tally.Unparseable++
		}
	}
	res.Decision = Reject
	if res.Tally.Valid >= threshold {
		res.Decision = Accept
	}

	logger.Info("verification quorum decided",
		"decision", string(res.Decision),
		"valid", res.Tally.Valid,
		"invalid", res.Tally.Invalid,
		"unparseable", res.Tally.Unparseable)
	return res, nil
}

func (q *Quorum) round(ctx context.Context, index int, req llm.CompletionRequest) Round {
	ctx, span := q.tracer.Start(ctx, "artifacts.verify.round",
		trace.WithAttributes(attribute.Int(telemetry.AttrVerifyRound, index)))
	defer span.End()

	start := time.Now()
	reply, err := resilience.WithTimeoutResult(ctx, q.timeout, func(ctx context.Context) (string, error) {
		return q.judge.Complete(ctx, req)
	})
	r := Round{Index: index, Duration: time.Since(start)}
	if err != nil {
		r.Vote = VoteUnparseable
		r.Err = err
		span.RecordError(err)
		telemetry.LoggerFrom(ctx, q.logger).Warn("judge round failed",
			"round", index, "error", err)
	} else {
		r.Vote = ParseVerdict(reply)
		r.Rationale = excerpt(reply)
	}
	span.SetAttributes(attribute.String(telemetry.AttrVerifyVote, r.Vote.String()))
	return r
}

func excerpt(reply string) string {
	s := strings.Join(strings.Fields(reply), " ")
	if len(s) > maxRationale {
		cut := maxRationale
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "…"
	}
	return s
}
