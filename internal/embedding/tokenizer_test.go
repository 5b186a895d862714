package embedding

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTokenizer(t *testing.T) *Tokenizer {
	t.Helper()
	tok, err := NewTokenizer([]string{
		"[PAD]", "[UNK]", "[CLS]", "[SEP]",
		"the", "fox", "jump", "##s", "##ed", "cafe", ".", "中",
	}, true)
	require.NoError(t, err)
	return tok
}

func TestNewTokenizer_RequiresSpecialTokens(t *testing.T) {
	_, err := NewTokenizer([]string{"[CLS]", "[SEP]", "hello"}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[UNK]")
}

func TestTokenizer_Tokens(t *testing.T) {
	tok := testTokenizer(t)

	tests := []struct {
		name string
		text string
		want []string
	}{
		{"whole words", "the fox", []string{"the", "fox"}},
		{"word pieces", "The fox jumps", []string{"the", "fox", "jump", "##s"}},
		{"punctuation splits", "fox.", []string{"fox", "."}},
		{"accents stripped", "Café", []string{"cafe"}},
		{"unknown word", "zebra", []string{"[UNK]"}},
		{"cjk characters", "中中", []string{"中", "中"}},
		{"control characters dropped", "fo\x00x", []string{"fox"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tok.Tokens(tt.text))
		})
	}
}

func TestTokenizer_EncodeFramesWithSpecialTokens(t *testing.T) {
	tok := testTokenizer(t)

	ids, truncated := tok.Encode("the fox", 16)
	assert.False(t, truncated)
	assert.Equal(t, []int{2, 4, 5, 3}, ids)
}

func TestTokenizer_EncodeTruncates(t *testing.T) {
	tok := testTokenizer(t)

	ids, truncated := tok.Encode(strings.Repeat("fox ", 20), 5)
	assert.True(t, truncated)
	require.Len(t, ids, 5)
	assert.Equal(t, 2, ids[0])
	assert.Equal(t, 3, ids[4])
}

func TestTokenizer_LongWordIsUnknown(t *testing.T) {
	tok := testTokenizer(t)

	assert.Equal(t, []string{"[UNK]"}, tok.Tokens(strings.Repeat("f", maxWordChars+1)))
}

func TestFloat16ToFloat32(t *testing.T) {
	tests := []struct {
		bits uint16
		want float32
	}{
		{0x0000, 0},
		{0x3c00, 1},
		{0xc000, -2},
		{0x3800, 0.5},
		{0x0001, 5.9604645e-08},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, float16ToFloat32(tt.bits), "bits %#04x", tt.bits)
	}
}
