package workflow

import (
	"fmt"
	"time"
)

// RetryClass is a category of transient handler failure that may be retried.
type RetryClass string

const (
	RetryTimeout     RetryClass = "timeout"
	RetryRateLimited RetryClass = "429"
	RetryServerError RetryClass = "5xx"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoffMs   = 1000

	minMaxAttempts = 1
	maxMaxAttempts = 10
	minBackoffMs   = 100
	maxBackoffMs   = 60000
)

// RetryPolicy bounds automatic retries of a failed node.
type RetryPolicy struct {
	MaxAttempts int          `json:"maxAttempts"`
	BackoffMs   int64        `json:"backoffMs"`
	RetryOn     []RetryClass `json:"retryOn,omitempty"`
}

// DefaultRetryPolicy is applied to nodes without an explicit policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BackoffMs:   DefaultBackoffMs,
		RetryOn:     []RetryClass{RetryTimeout, RetryRateLimited, RetryServerError},
	}
}

// PolicyFor returns the node's retry policy with zero fields filled by defaults.
func (n DagNode) PolicyFor() RetryPolicy {
	p := DefaultRetryPolicy()
	if n.Retry == nil {
		return p
	}
	if n.Retry.MaxAttempts != 0 {
		p.MaxAttempts = n.Retry.MaxAttempts
	}
	if n.Retry.BackoffMs != 0 {
		p.BackoffMs = n.Retry.BackoffMs
	}
	if n.Retry.RetryOn != nil {
		p.RetryOn = n.Retry.RetryOn
	}
	return p
}

// Problems lists every range violation in p. Zero values mean "use default"
// and are accepted.
func (p RetryPolicy) Problems() []string {
	var out []string
	if p.MaxAttempts != 0 && (p.MaxAttempts < minMaxAttempts || p.MaxAttempts > maxMaxAttempts) {
		out = append(out, fmt.Sprintf("maxAttempts %d out of range [%d,%d]", p.MaxAttempts, minMaxAttempts, maxMaxAttempts))
	}
	if p.BackoffMs != 0 && (p.BackoffMs < minBackoffMs || p.BackoffMs > maxBackoffMs) {
		out = append(out, fmt.Sprintf("backoffMs %d out of range [%d,%d]", p.BackoffMs, minBackoffMs, maxBackoffMs))
	}
	for _, c := range p.RetryOn {
		switch c {
		case RetryTimeout, RetryRateLimited, RetryServerError:
		default:
			out = append(out, fmt.Sprintf("unknown retryOn class %q", c))
		}
	}
	return out
}

// Retries reports whether failures of class c are retried under p.
func (p RetryPolicy) Retries(c RetryClass) bool {
	for _, rc := range p.RetryOn {
		if rc == c {
			return true
		}
	}
	return false
}

// Backoff returns the delay before the retry that follows the given attempt:
// backoffMs * 2^(attempts-1), capped at the largest permitted backoff.
func (p RetryPolicy) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	ms := p.BackoffMs
	for i := 1; i < attempts && ms < maxBackoffMs; i++ {
		ms *= 2
	}
	if ms > maxBackoffMs {
		ms = maxBackoffMs
	}
	return time.Duration(ms) * time.Millisecond
}

// ClassifyError maps a handler error code to its retry class.
// The second result is false for codes that are never retried.
func ClassifyError(code string) (RetryClass, bool) {
	switch {
	case code == string(RetryTimeout):
		return RetryTimeout, true
	case code == string(RetryRateLimited):
		return RetryRateLimited, true
	case code == string(RetryServerError):
		return RetryServerError, true
	case len(code) == 3 && code[0] == '5' && isDigit(code[1]) && isDigit(code[2]):
		return RetryServerError, true
	}
	return "", false
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
