package inference

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// DefaultTransientErrors are matched against case-folded error text.
var DefaultTransientErrors = []string{"reset", "connection", "timeout"}

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// Classifier decides whether an error is worth retrying.
type Classifier struct {
	substrings []string
}

// NewClassifier matches any of substrings, case-insensitively. With no
// arguments it uses DefaultTransientErrors.
func NewClassifier(substrings ...string) *Classifier {
	if len(substrings) == 0 {
		substrings = DefaultTransientErrors
	}

	c := &Classifier{}
	for _, s := range substrings {
		s = strings.TrimSpace(lower(s))
		if s != "" {
			c.substrings = append(c.substrings, s)
		}
	}
	return c
}

// IsTransient reports whether err looks like a connectivity hiccup.
func (c *Classifier) IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := lower(err.Error())
	for _, s := range c.substrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Casers keep state, so one is built per call.
func lower(s string) string {
	return cases.Fold().String(s)
}

// Policy bounds the retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Classifier  *Classifier
}

// DefaultPolicy is three attempts with a one second linear step.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Classifier:  NewClassifier(),
	}
}

// Delay is the pause after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	return time.Duration(attempt) * p.BaseDelay
}

// ShouldRetry reports whether another attempt follows a failure of the given
// attempt.
func (p Policy) ShouldRetry(attempt int, err error) bool {
	if attempt >= p.maxAttempts() {
		return false
	}
	c := p.Classifier
	if c == nil {
		c = NewClassifier()
	}
	return c.IsTransient(err)
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}
