package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Tiktoken adapts tiktoken-go encodings for OpenAI-family models.
// Encoding data loads lazily on first use; if loading fails, callers should
// fall back to an Estimator.
type Tiktoken struct {
	model     string
	encoding  string
	maxTokens int

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// modelEncodings maps model name prefixes to tiktoken encoding and context size.
var modelEncodings = map[string]struct {
	encoding  string
	maxTokens int
}{
	"gpt-4o":        {encoding: "o200k_base", maxTokens: 128000},
	"gpt-4":         {encoding: "cl100k_base", maxTokens: 8192},
	"gpt-3.5-turbo": {encoding: "cl100k_base", maxTokens: 16385},
}

// NewTiktoken creates a tiktoken-backed Counter for the given model.
// Unknown models default to the cl100k_base encoding.
func NewTiktoken(model string) *Tiktoken {
	info, ok := modelEncodings[model]
	if !ok {
		// Longest matching prefix wins: gpt-4o-mini is gpt-4o, not gpt-4.
		best := ""
		for prefix, i := range modelEncodings {
			if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
				info, ok, best = i, true, prefix
			}
		}
	}
	if !ok {
		info.encoding = "cl100k_base"
		info.maxTokens = 8192
	}
	return &Tiktoken{model: model, encoding: info.encoding, maxTokens: info.maxTokens}
}

func (t *Tiktoken) init() {
	t.enc, t.initErr = tiktoken.GetEncoding(t.encoding)
}

func (t *Tiktoken) CountTokens(text string) (int, error) {
	t.once.Do(t.init)
	if t.initErr != nil {
		return 0, fmt.Errorf("tiktoken encoding %s: %w", t.encoding, t.initErr)
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *Tiktoken) MaxTokens() int { return t.maxTokens }

// ForModel returns the best Counter for model: a tiktoken Counter for models
// with a known encoding, the heuristic Estimator otherwise.
func ForModel(model string) Counter {
	tk := NewTiktoken(model)
	if _, err := tk.CountTokens(""); err != nil {
		return NewEstimator(tk.maxTokens)
	}
	return tk
}
