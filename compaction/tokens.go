package compaction

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/hupe1980/agentrun/core"
)

// TokenCounter estimates the token footprint of text for budget decisions.
type TokenCounter interface {
	CountTokens(text string) (int, error)
}

// TiktokenCounter counts tokens with the tiktoken BPE vocabularies. The
// encoding is resolved from the model name, falling back to cl100k_base for
// models tiktoken does not know.
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenCounter resolves the encoding for modelName.
func NewTiktokenCounter(modelName string) (*TiktokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(modelName)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("resolve token encoding: %w", err)
		}
	}
	return &TiktokenCounter{encoding: enc}, nil
}

// CountTokens implements TokenCounter.
func (c *TiktokenCounter) CountTokens(text string) (int, error) {
	return len(c.encoding.Encode(text, nil, nil)), nil
}

// CountEventTokens sums the token counts of all text-bearing events.
func CountEventTokens(counter TokenCounter, events []core.Event) (int, error) {
	total := 0
	for _, ev := range events {
		text := ev.Content.Text()
		if text == "" {
			continue
		}
		n, err := counter.CountTokens(text)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
