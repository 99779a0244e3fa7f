// Package tokenizer provides token counting for budget-aware prompt logging.
package tokenizer

// Counter counts tokens for a specific model family.
type Counter interface {
	// CountTokens returns the token count for the given text.
	CountTokens(text string) (int, error)

	// MaxTokens returns the model's context window size in tokens.
	MaxTokens() int
}

// Estimator is a dependency-free fallback Counter using the common
// four-characters-per-token heuristic.
type Estimator struct {
	maxTokens int
}

// NewEstimator creates an estimator with the given context window size.
func NewEstimator(maxTokens int) *Estimator {
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &Estimator{maxTokens: maxTokens}
}

func (e *Estimator) CountTokens(text string) (int, error) {
	if len(text) == 0 {
		return 0, nil
	}
	n := (len(text) + 3) / 4
	return n, nil
}

func (e *Estimator) MaxTokens() int { return e.maxTokens }
