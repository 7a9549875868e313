// internal/context/tokens.go
package context

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"
)

// Counter estimates the token size of a piece of text.
type Counter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// HeuristicCounter approximates one token per four characters.
type HeuristicCounter struct{}

func (HeuristicCounter) Count(text string) int {
	return (len(text) + 3) / 4
}

// NewCounter returns a tokenizer-backed counter for model. Unknown models use
// cl100k_base; if no encoding can be loaded the heuristic counter is used.
func NewCounter(model string) Counter {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("tokenizer unavailable, estimating tokens from length", "model", model, "error", err)
			return HeuristicCounter{}
		}
	}
	return tiktokenCounter{enc: enc}
}
