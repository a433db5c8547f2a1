package olmo

import (
	"fmt"

	"github.com/daulet/tokenizers"
)

// TokenizerConfig identifies the tokenizer a model is trained against. Only
// the identity and sizing matter here; encoding/decoding belongs to the
// data pipeline.
type TokenizerConfig struct {
	Identifier string
	VocabSize  int
	EOSTokenID int
	PadTokenID int
}

// NewGPT2TokenizerConfig returns the GPT-2 tokenizer identity.
func NewGPT2TokenizerConfig() *TokenizerConfig {
	return &TokenizerConfig{
		Identifier: "gpt2",
		VocabSize:  50257,
		EOSTokenID: 50256,
		PadTokenID: 50256,
	}
}

// LoadTokenizerConfig reads the vocabulary size from a HuggingFace
// tokenizer.json file.
func LoadTokenizerConfig(path string) (*TokenizerConfig, error) {
	tk, err := tokenizers.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer %s: %w", path, err)
	}
	defer tk.Close()

	return &TokenizerConfig{
		Identifier: path,
		VocabSize:  int(tk.VocabSize()),
	}, nil
}

// PaddedVocabSize rounds the vocabulary size up to a multiple of 128.
// Embedding tables a little bigger than the actual vocabulary keep matmul
// shapes friendly; the extra rows are never produced by the tokenizer.
func (c *TokenizerConfig) PaddedVocabSize() int {
	return c.PaddedVocabSizeMultipleOf(128)
}

// PaddedVocabSizeMultipleOf rounds the vocabulary size up to a multiple of
// the given value.
func (c *TokenizerConfig) PaddedVocabSizeMultipleOf(multiple int) int {
	return multiple * ((c.VocabSize + multiple - 1) / multiple)
}
