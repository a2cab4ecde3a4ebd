package relay

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts tokens in a piece of text.
type Tokenizer interface {
	CountTokens(text string) int
}

type tiktokenCounter struct {
	*tiktoken.Tiktoken
}

func (t *tiktokenCounter) CountTokens(text string) int {
	return len(t.Encode(text, nil, nil))
}

// fallbackEncoding is used for deployment names tiktoken does not know,
// which is the common case on Azure.
const fallbackEncoding = "cl100k_base"

// NewTokenCounter returns a tiktoken-backed Tokenizer for model.
func NewTokenCounter(model string) (Tokenizer, error) {
	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding for model %s: %w", model, err)
		}
	}
	return &tiktokenCounter{encoding}, nil
}
