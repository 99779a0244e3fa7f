package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimatorCountTokens(t *testing.T) {
	e := NewEstimator(0)
	assert.Equal(t, 8192, e.MaxTokens())

	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
	}
	for _, tt := range tests {
		n, err := e.CountTokens(tt.text)
		require.NoError(t, err)
		assert.Equal(t, tt.want, n, "text %q", tt.text)
	}
}

func TestNewTiktokenModelMapping(t *testing.T) {
	assert.Equal(t, 128000, NewTiktoken("gpt-4o-mini").MaxTokens())
	assert.Equal(t, 16385, NewTiktoken("gpt-3.5-turbo-0125").MaxTokens())
	// unknown models fall back to cl100k_base defaults
	assert.Equal(t, 8192, NewTiktoken("llama-3-70b").MaxTokens())
}

func TestForModelNeverNil(t *testing.T) {
	c := ForModel("some-unknown-model")
	require.NotNil(t, c)
	n, err := c.CountTokens("hello world")
	require.NoError(t, err)
	assert.Greater(t, n, 0)
}
