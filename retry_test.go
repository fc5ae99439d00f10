package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{BackoffMs: 1000}
	assert.Equal(t, 1*time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 60*time.Second, p.Backoff(10))
	assert.Equal(t, 1*time.Second, p.Backoff(0))
}

func TestPolicyFor_FillsDefaults(t *testing.T) {
	assert.Equal(t, DefaultRetryPolicy(), DagNode{}.PolicyFor())

	p := DagNode{Retry: &RetryPolicy{MaxAttempts: 5}}.PolicyFor()
	assert.Equal(t, 5, p.MaxAttempts)
	assert.EqualValues(t, DefaultBackoffMs, p.BackoffMs)
	assert.True(t, p.Retries(RetryTimeout))

	none := DagNode{Retry: &RetryPolicy{RetryOn: []RetryClass{}}}.PolicyFor()
	assert.False(t, none.Retries(RetryServerError))
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		code  string
		class RetryClass
		ok    bool
	}{
		{"timeout", RetryTimeout, true},
		{"429", RetryRateLimited, true},
		{"5xx", RetryServerError, true},
		{"503", RetryServerError, true},
		{"500", RetryServerError, true},
		{"404", "", false},
		{"5000", "", false},
		{"handler_not_found", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			c, ok := ClassifyError(tt.code)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.class, c)
		})
	}
}

func TestRetryPolicy_Problems(t *testing.T) {
	assert.Empty(t, RetryPolicy{}.Problems())
	assert.Empty(t, RetryPolicy{MaxAttempts: 10, BackoffMs: 60000}.Problems())
	assert.Len(t, RetryPolicy{MaxAttempts: -1, RetryOn: []RetryClass{"404"}}.Problems(), 2)
}
