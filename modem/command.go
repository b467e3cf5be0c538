package modem

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ResponseShape describes how much output follows a command before its
// final result token, and therefore how the transaction engine assembles
// the input handed to the command's parser.
type ResponseShape int

const (
	// ShapeNone expects no intermediate output, only the final token.
	ShapeNone ResponseShape = iota
	// ShapeSinglePrefixed expects exactly one line starting with the
	// command's Prefix.
	ShapeSinglePrefixed
	// ShapeMultiUnprefixed expects a variable number of lines with no
	// fixed prefix (one row per record).
	ShapeMultiUnprefixed
	// ShapeMultiBinaryWithPrefix expects a length-prefixed binary frame
	// extracted by the frame-aware splitter.
	ShapeMultiBinaryWithPrefix
)

// Command is an immutable descriptor of one AT transaction. A Command is
// built fresh per call; descriptors are not reused across transactions with
// different output targets.
type Command struct {
	// Text is the full command line without the trailing CR.
	Text string
	// Shape selects how response lines are assembled.
	Shape ResponseShape
	// Prefix is the expected response prefix for ShapeSinglePrefixed.
	Prefix string
	// Parse consumes the assembled response on success. It writes its
	// typed result through the closure that built the Command. A nil
	// Parse discards the response body.
	Parse func(resp Response) error
	// Timeout overrides the modem's default transaction timeout.
	Timeout time.Duration
}

// Response is the assembled output of a successful transaction: the
// intermediate lines (or the raw binary frame token) received before the
// final success token.
type Response struct {
	Lines []string
}

// First returns the first raw line carrying the given prefix.
func (r Response) First(prefix string) (string, bool) {
	for _, l := range r.Lines {
		if strings.HasPrefix(strings.TrimSpace(l), prefix) {
			return l, true
		}
	}
	return "", false
}

// RetryPolicy bounds the retry loop of executeWithRetry and setWithRetry.
//
// Attempts are issued on a quadratic schedule: attempt k runs at
// BackoffBase×(k−1)² after the first, so with MaxAttempts=4 and a base of
// one second a permanently failing command is attempted at roughly t=0s,
// 1s, 4s and 9s.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// Timeout applies to each individual attempt.
	Timeout time.Duration
	// BackoffBase scales the quadratic backoff between attempts.
	BackoffBase time.Duration
}

// backoff returns the cooperative sleep inserted before the given 1-based
// attempt number, growing the cumulative wait quadratically.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	k := attempt - 1
	return p.BackoffBase * time.Duration(k*k-(k-1)*(k-1))
}

// executeWithRetry repeatedly executes cmd under the policy, stopping at the
// first success. Each attempt uses the policy's per-attempt timeout. The
// engine always retries on failure; callers must only wrap idempotent or
// safely repeatable commands.
func (m *Modem) executeWithRetry(ctx context.Context, cmd Command, policy RetryPolicy) error {
	if cmd.Text == "" || policy.MaxAttempts <= 0 {
		return fmt.Errorf("%w: empty command or zero attempts", ErrInvalidArgument)
	}
	cmd.Timeout = policy.Timeout

	var err error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if wait := policy.backoff(attempt); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return fmt.Errorf("retry aborted: %w", ctx.Err())
			}
		}
		if err = m.execute(ctx, cmd); err == nil {
			return nil
		}
		m.logger.Debug("command attempt failed",
			"command", cmd.Text, "attempt", attempt, "error", err)
	}
	return fmt.Errorf("%s failed after %d attempts: %w", cmd.Text, policy.MaxAttempts, err)
}

// setWithRetry retries an entire "set" operation composed of building a
// command string and sending it, rather than a single raw command. Used for
// multi-parameter writes whose construction depends on freshly read state.
func (m *Modem) setWithRetry(ctx context.Context, policy RetryPolicy, set func(ctx context.Context) error) error {
	if set == nil || policy.MaxAttempts <= 0 {
		return fmt.Errorf("%w: nil setter or zero attempts", ErrInvalidArgument)
	}

	var err error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if wait := policy.backoff(attempt); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return fmt.Errorf("retry aborted: %w", ctx.Err())
			}
		}
		if err = set(ctx); err == nil {
			return nil
		}
		m.logger.Debug("setter attempt failed", "attempt", attempt, "error", err)
	}
	return fmt.Errorf("setter failed after %d attempts: %w", policy.MaxAttempts, err)
}
