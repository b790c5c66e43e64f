package ratelimit

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

const (
	// DefaultCompletionBudget is charged when a request does not cap its output.
	DefaultCompletionBudget = 1000

	perMessageOverhead = 4
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

func loadCodec() tokenizer.Codec {
	codecOnce.Do(func() {
		c, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err == nil {
			codec = c
		}
	})
	return codec
}

// EstimateTokens approximates the budget a request will consume: the prompt
// counted with the cl100k encoding plus the completion cap. Counts are only
// used for admission, so non-OpenAI models sharing the encoding is fine.
func EstimateTokens(texts []string, maxTokens int) int {
	if maxTokens <= 0 {
		maxTokens = DefaultCompletionBudget
	}

	c := loadCodec()
	total := 0
	for _, text := range texts {
		total += perMessageOverhead
		if c != nil {
			if ids, _, err := c.Encode(text); err == nil {
				total += len(ids)
				continue
			}
		}
		// roughly four bytes per token for English text
		total += (len(text) + 3) / 4
	}
	return total + maxTokens
}
