package memory

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Counter measures text against a budget.
type Counter interface {
	Count(text string) int
}

// CharCounter counts Unicode code points.
type CharCounter struct{}

// Count implements Counter.
func (CharCounter) Count(text string) int { return utf8.RuneCountInString(text) }

// TiktokenCounter counts BPE tokens.
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named encoding, e.g. "cl100k_base". The first
// call may download the BPE ranks.
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	tkm, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &TiktokenCounter{encoding: tkm}, nil
}

// Count implements Counter.
func (t *TiktokenCounter) Count(text string) int {
	return len(t.encoding.Encode(text, nil, nil))
}
