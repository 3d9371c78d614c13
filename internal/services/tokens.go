package services

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "cl100k_base"

// TokenEstimator counts tokens for providers that do not report usage.
// The encoding is loaded on first use; if it cannot be loaded the
// estimate falls back to four characters per token.
type TokenEstimator struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
}

// NewTokenEstimator creates an estimator. An empty encoding uses cl100k_base.
func NewTokenEstimator(encoding string) *TokenEstimator {
	if encoding == "" {
		encoding = defaultEncoding
	}
	return &TokenEstimator{encoding: encoding}
}

// Count returns the token count of text.
func (t *TokenEstimator) Count(text string) int {
	if text == "" {
		return 0
	}
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err == nil {
			t.enc = enc
		}
	})
	if t.enc == nil {
		return (len(text) + 3) / 4
	}
	return len(t.enc.Encode(text, nil, nil))
}
